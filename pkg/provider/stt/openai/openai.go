// Package openai provides an STT provider backed by the OpenAI audio
// transcription API (Whisper).
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/dizai/pkg/provider/stt"
)

const defaultModel = "whisper-1"

// Provider implements stt.Provider using the OpenAI transcription endpoint.
type Provider struct {
	client oai.Client
	model  string
}

var _ stt.Provider = (*Provider)(nil)

type config struct {
	baseURL string
	model   string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithModel selects the transcription model. Defaults to "whisper-1".
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI STT Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai stt: apiKey must not be empty")
	}

	cfg := &config{model: defaultModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: cfg.model}, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, audio stt.Audio, opts stt.Options) (*stt.Transcript, error) {
	if audio.Empty() {
		return nil, fmt.Errorf("openai stt: %w", stt.ErrEmptyAudio)
	}

	filename := audio.Filename
	if filename == "" {
		filename = "audio.webm"
	}
	ct := audio.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(audio.Data), filename, ct),
		Model: oai.AudioModel(p.model),
	}
	if lang := isoLanguage(opts.Language); lang != "" {
		params.Language = oai.String(lang)
	}
	if opts.Verbose {
		params.ResponseFormat = oai.AudioResponseFormatVerboseJSON
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai stt: transcription: %w", err)
	}

	t := &stt.Transcript{Text: strings.TrimSpace(resp.Text), Language: opts.Language}
	if opts.Verbose {
		applyVerbose(t, resp.RawJSON())
	}
	return t, nil
}

// isoLanguage reduces a BCP-47 tag to the ISO-639-1 code the API accepts.
func isoLanguage(tag string) string {
	lang, _, _ := strings.Cut(tag, "-")
	return strings.ToLower(lang)
}

// verboseResponse holds the extra fields of the verbose_json format.
type verboseResponse struct {
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// applyVerbose copies language, duration and segments from raw into t.
// Missing or malformed fields are ignored.
func applyVerbose(t *stt.Transcript, raw string) {
	var v verboseResponse
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return
	}
	if v.Language != "" {
		t.Language = v.Language
	}
	t.Duration = time.Duration(v.Duration * float64(time.Second))
	for _, s := range v.Segments {
		t.Segments = append(t.Segments, stt.Segment{
			Text:  strings.TrimSpace(s.Text),
			Start: time.Duration(s.Start * float64(time.Second)),
			End:   time.Duration(s.End * float64(time.Second)),
		})
	}
}
