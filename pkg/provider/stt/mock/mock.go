// Package mock provides a test double for the stt.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Transcript: &stt.Transcript{Text: "bom dia"}}
//	tr, _ := p.Transcribe(ctx, audio, stt.Options{Language: "pt"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/dizai/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Audio is the recording passed to Transcribe.
	Audio stt.Audio
	// Opts is the Options value passed to Transcribe.
	Opts stt.Options
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Transcript is returned by Transcribe when TranscribeFunc is nil.
	Transcript *stt.Transcript

	// TranscribeErr, if non-nil, is returned as the error from Transcribe.
	TranscribeErr error

	// TranscribeFunc, if set, takes precedence over Transcript and
	// TranscribeErr. It is called without the mock's lock held.
	TranscribeFunc func(ctx context.Context, audio stt.Audio, opts stt.Options) (*stt.Transcript, error)

	// TranscribeCalls records every call to Transcribe.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns Transcript, TranscribeErr.
func (p *Provider) Transcribe(ctx context.Context, audio stt.Audio, opts stt.Options) (*stt.Transcript, error) {
	p.mu.Lock()
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Ctx: ctx, Audio: audio, Opts: opts})
	fn := p.TranscribeFunc
	tr, err := p.Transcript, p.TranscribeErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, audio, opts)
	}
	return tr, err
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.TranscribeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
