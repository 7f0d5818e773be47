// Package feedback records analyzed pronunciation attempts.
//
// A [Record] is created once per analyzed attempt and handed to a [Sink].
// Records are write-once: no sink in this package updates or deletes one.
// Sinks may be combined with [Multi] and decoupled from the request path
// with [Async], which never blocks and never fails the caller.
package feedback

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Severity grades a single deviation.
type Severity string

const (
	SeverityMinor Severity = "minor"
	SeverityMajor Severity = "major"
)

// Status is the overall verdict for an attempt.
type Status string

const (
	StatusPerfect  Status = "perfect"
	StatusAlmost   Status = "almost"
	StatusTryAgain Status = "tryagain"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPerfect, StatusAlmost, StatusTryAgain:
		return true
	}
	return false
}

// Deviation is a flagged difference between the reference and the attempt.
// Word is empty for phrase-level notes.
type Deviation struct {
	Word     string   `json:"word,omitempty"`
	Severity Severity `json:"severity"`
	Note     string   `json:"note"`
}

// Record is one analyzed attempt.
type Record struct {
	ID             string      `json:"id"`
	Profile        string      `json:"profile"`
	ExerciseSetID  string      `json:"exerciseSetId"`
	ExerciseID     string      `json:"exerciseId"`
	Phrase         string      `json:"phrase"`
	IPA            string      `json:"ipa"`
	Phonetic       string      `json:"phonetic"`
	UserTranscript string      `json:"userTranscript"`
	RefTranscript  string      `json:"refTranscript"`
	Deviations     []Deviation `json:"deviations"`
	Status         Status      `json:"status"`
	Comment        string      `json:"comment,omitempty"`
	Similarity     float64     `json:"similarity"`
	ConversationID string      `json:"conversationId,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
}

// NewRecord returns a Record with a fresh id and the current UTC time.
func NewRecord() Record {
	return Record{
		ID:         uuid.NewString(),
		Deviations: []Deviation{},
		Timestamp:  time.Now().UTC(),
	}
}

// Sink accepts feedback records.
type Sink interface {
	Append(ctx context.Context, rec Record) error
}

// sinkName returns the metric label for s.
func sinkName(s Sink) string {
	if n, ok := s.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "sink"
}
