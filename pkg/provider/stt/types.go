package stt

import "time"

// Transcript represents a speech-to-text result from an STT provider.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// Language is the language the provider detected or was told to use.
	Language string

	// Confidence is the overall confidence score (0.0–1.0). May be zero if the provider
	// does not report confidence.
	Confidence float64

	// Duration is the length of the recording as reported by the provider.
	Duration time.Duration

	// Segments contains time-aligned spans when the provider reports them.
	Segments []Segment
}

// Segment is a time-aligned span of a transcript.
type Segment struct {
	Text  string
	Start time.Duration
	End   time.Duration
}
