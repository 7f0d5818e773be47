package resilience

import (
	"context"

	"github.com/MrWong99/dizai/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with automatic failover across multiple
// STT backends. Each backend has its own circuit breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Group exposes the underlying group for health reporting.
func (f *STTFallback) Group() *FallbackGroup[stt.Provider] { return f.group }

// Transcribe sends the recording to the first healthy provider. Empty audio
// is rejected by every backend alike, so it is returned without failing over.
func (f *STTFallback) Transcribe(ctx context.Context, audio stt.Audio, opts stt.Options) (*stt.Transcript, error) {
	if audio.Empty() {
		return nil, stt.ErrEmptyAudio
	}
	return ExecuteWithResult(f.group, func(p stt.Provider) (*stt.Transcript, error) {
		return p.Transcribe(ctx, audio, opts)
	})
}
