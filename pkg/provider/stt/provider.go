// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription service (e.g., the OpenAI Whisper API,
// Deepgram, or a local whisper.cpp server) and exposes a single blocking call:
// one complete recording in, one transcript out. DizAí transcribes short
// practice clips, so there is no streaming session here.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrEmptyAudio is returned by providers when Audio.Data has no bytes.
var ErrEmptyAudio = errors.New("stt: empty audio")

// Audio is one complete recording as uploaded by a client.
type Audio struct {
	// Data is the encoded audio file (webm, ogg, wav, mp3, ...).
	Data []byte

	// Filename is the client-supplied file name. Providers that sniff the
	// container format from the extension rely on it.
	Filename string

	// ContentType is the MIME type reported by the client. May be empty.
	ContentType string
}

// Empty reports whether the recording carries no bytes.
func (a Audio) Empty() bool { return len(a.Data) == 0 }

// Options carries recognition hints for a single Transcribe call.
type Options struct {
	// Language is an ISO-639-1 or BCP-47 language hint (e.g., "pt", "pt-BR").
	// An empty string lets the provider auto-detect the language, if supported.
	Language string

	// Verbose asks for segment-level detail when the backend supports it.
	Verbose bool
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe converts audio to text. It returns an error if the backend
	// rejects the request, the audio is empty, or ctx is cancelled.
	Transcribe(ctx context.Context, audio Audio, opts Options) (*Transcript, error)
}
