package deepgram

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/MrWong99/dizai/pkg/provider/stt"
)

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.Options{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "host", "api.deepgram.com", u.Host)
	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "pt-BR", q.Get("language"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
	assertEqual(t, "utterances", "", q.Get("utterances"))
}

func TestBuildURL_OptionsOverride(t *testing.T) {
	p, err := New("key", WithModel("base"), WithLanguage("pt-PT"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.Options{Language: "en", Verbose: true})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	q := u.Query()

	assertEqual(t, "model", "base", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "utterances", "true", q.Get("utterances"))
}

// ---- response parsing ----

func TestParseDeepgramResponse(t *testing.T) {
	body := []byte(`{
		"metadata": {"duration": 2.5},
		"results": {
			"channels": [{
				"detected_language": "pt",
				"alternatives": [{"transcript": "bom dia", "confidence": 0.93}]
			}],
			"utterances": [{"start": 0.1, "end": 1.4, "transcript": "bom dia"}]
		}
	}`)

	tr, err := parseDeepgramResponse(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	assertEqual(t, "text", "bom dia", tr.Text)
	assertEqual(t, "language", "pt", tr.Language)
	if tr.Confidence != 0.93 {
		t.Errorf("Confidence = %v, want 0.93", tr.Confidence)
	}
	if tr.Duration != 2500*time.Millisecond {
		t.Errorf("Duration = %v, want 2.5s", tr.Duration)
	}
	if len(tr.Segments) != 1 || tr.Segments[0].End != 1400*time.Millisecond {
		t.Errorf("Segments = %+v", tr.Segments)
	}
}

func TestParseDeepgramResponse_NoAlternatives(t *testing.T) {
	for name, body := range map[string]string{
		"no channels":     `{"results":{"channels":[]}}`,
		"no alternatives": `{"results":{"channels":[{"alternatives":[]}]}}`,
		"invalid json":    `{`,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := parseDeepgramResponse([]byte(body)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

// ---- end-to-end against a fake endpoint ----

func TestTranscribe_PostsRawAudio(t *testing.T) {
	var gotAuth, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = io.WriteString(w, `{"results":{"channels":[{"alternatives":[{"transcript":"obrigado"}]}]}}`)
	}))
	defer srv.Close()

	p, _ := New("secret", WithEndpoint(srv.URL+"/v1/listen"))
	tr, err := p.Transcribe(context.Background(), stt.Audio{
		Data:        []byte("ogg-bytes"),
		ContentType: "audio/ogg",
	}, stt.Options{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	assertEqual(t, "text", "obrigado", tr.Text)
	assertEqual(t, "authorization", "Token secret", gotAuth)
	assertEqual(t, "content-type", "audio/ogg", gotType)
	assertEqual(t, "body", "ogg-bytes", string(gotBody))
}

func TestTranscribe_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"err_code":"INVALID_AUTH"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, _ := New("bad", WithEndpoint(srv.URL))
	if _, err := p.Transcribe(context.Background(), stt.Audio{Data: []byte("x")}, stt.Options{}); err == nil {
		t.Fatal("expected error for HTTP 401")
	}
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	p, _ := New("key")
	_, err := p.Transcribe(context.Background(), stt.Audio{}, stt.Options{})
	if !errors.Is(err, stt.ErrEmptyAudio) {
		t.Fatalf("err = %v, want ErrEmptyAudio", err)
	}
}

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

// ---- helpers ----

func assertEqual(t *testing.T, field, want, got string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: want %q, got %q", field, want, got)
	}
}
