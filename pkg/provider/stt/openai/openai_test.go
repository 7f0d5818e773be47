package openai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/dizai/pkg/provider/stt"
)

func TestIsoLanguage(t *testing.T) {
	tests := map[string]string{
		"":      "",
		"pt":    "pt",
		"pt-BR": "pt",
		"EN-us": "en",
	}
	for in, want := range tests {
		if got := isoLanguage(in); got != want {
			t.Errorf("isoLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestApplyVerbose(t *testing.T) {
	tr := &stt.Transcript{Text: "bom dia", Language: "pt-BR"}
	applyVerbose(tr, `{
		"text": "bom dia",
		"language": "portuguese",
		"duration": 1.5,
		"segments": [{"start": 0.0, "end": 1.2, "text": " bom dia"}]
	}`)

	if tr.Language != "portuguese" {
		t.Errorf("Language = %q, want portuguese", tr.Language)
	}
	if tr.Duration != 1500*time.Millisecond {
		t.Errorf("Duration = %v, want 1.5s", tr.Duration)
	}
	if len(tr.Segments) != 1 || tr.Segments[0].Text != "bom dia" {
		t.Errorf("Segments = %+v", tr.Segments)
	}
}

func TestApplyVerbose_MalformedIgnored(t *testing.T) {
	tr := &stt.Transcript{Text: "x", Language: "pt"}
	applyVerbose(tr, "not json")
	if tr.Language != "pt" || tr.Segments != nil {
		t.Errorf("transcript modified by malformed input: %+v", tr)
	}
}

func TestTranscribe_RoundTrip(t *testing.T) {
	var gotModel, gotLang, gotFilename string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotModel = r.FormValue("model")
		gotLang = r.FormValue("language")
		if _, hdr, err := r.FormFile("file"); err == nil {
			gotFilename = hdr.Filename
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":" Uma mesa, por favor. "}`)
	}))
	defer srv.Close()

	p, err := New("sk-test", WithBaseURL(srv.URL+"/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tr, err := p.Transcribe(context.Background(), stt.Audio{
		Data:        []byte("webm"),
		Filename:    "attempt.webm",
		ContentType: "audio/webm",
	}, stt.Options{Language: "pt-BR"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "Uma mesa, por favor." {
		t.Errorf("Text = %q", tr.Text)
	}
	if gotModel != "whisper-1" {
		t.Errorf("model = %q, want whisper-1", gotModel)
	}
	if gotLang != "pt" {
		t.Errorf("language = %q, want pt", gotLang)
	}
	if gotFilename != "attempt.webm" {
		t.Errorf("filename = %q, want attempt.webm", gotFilename)
	}
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	p, _ := New("sk-test")
	_, err := p.Transcribe(context.Background(), stt.Audio{}, stt.Options{})
	if !errors.Is(err, stt.ErrEmptyAudio) {
		t.Fatalf("err = %v, want ErrEmptyAudio", err)
	}
}

func TestNew_MissingAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}
