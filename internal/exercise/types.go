// Package exercise generates, caches and looks up themed pronunciation
// exercise sets.
//
// A [Generator] asks a hosted assistant for a new set, recovers the JSON from
// its reply, repairs missing exercise ids and stores the result in a [State].
// The State doubles as a per-key lock table: at most one generation runs per
// (profile, theme) at any time, and callers that arrive while one is running
// get the last cached set instead of waiting.
package exercise

import (
	"encoding/json"
	"errors"
	"strings"
)

var (
	// ErrConfiguration is returned when no assistant identifier is configured.
	ErrConfiguration = errors.New("exercise: assistant id not configured")

	// ErrGenerationTimeout is returned when a run does not complete within the
	// poll budget or the generation deadline.
	ErrGenerationTimeout = errors.New("exercise: generation timed out")

	// ErrInvalidSet is returned when the assistant reply parses as JSON but
	// lacks an exerciseSetId or any exercises.
	ErrInvalidSet = errors.New("exercise: invalid exercise set")

	// ErrRunFailed is returned when the assistant run ends in a terminal state
	// other than completed.
	ErrRunFailed = errors.New("exercise: assistant run failed")
)

// keySeparator joins profile and theme in a cache key.
const keySeparator = "::"

// Exercise is a single phrase to practise.
type Exercise struct {
	ExerciseID string `json:"exerciseId"`
	Phrase     string `json:"phrase"`
	IPA        string `json:"ipa"`
	Phonetic   string `json:"phonetic"`
}

// ExerciseSet is an ordered collection of exercises generated in one run.
// The zero value is the empty set.
type ExerciseSet struct {
	ExerciseSetID string     `json:"exerciseSetId"`
	Exercises     []Exercise `json:"exercises"`
}

// EmptySet returns the set handed out when nothing could be generated.
func EmptySet() ExerciseSet {
	return ExerciseSet{Exercises: []Exercise{}}
}

// IsEmpty reports whether s carries no exercises.
func (s ExerciseSet) IsEmpty() bool {
	return s.ExerciseSetID == "" || len(s.Exercises) == 0
}

// Exercise returns the exercise with the given id.
func (s ExerciseSet) Exercise(id string) (Exercise, bool) {
	for _, e := range s.Exercises {
		if e.ExerciseID == id {
			return e, true
		}
	}
	return Exercise{}, false
}

// MarshalJSON encodes an empty id as null and a nil exercise list as [].
func (s ExerciseSet) MarshalJSON() ([]byte, error) {
	type wire struct {
		ExerciseSetID *string    `json:"exerciseSetId"`
		Exercises     []Exercise `json:"exercises"`
	}
	w := wire{Exercises: s.Exercises}
	if s.ExerciseSetID != "" {
		id := s.ExerciseSetID
		w.ExerciseSetID = &id
	}
	if w.Exercises == nil {
		w.Exercises = []Exercise{}
	}
	return json.Marshal(w)
}

// CacheKey serializes (profile, theme) as "profile::theme".
func CacheKey(profile, theme string) string {
	return profile + keySeparator + theme
}

// ValidProfile reports whether profile can be used in a [CacheKey] without
// colliding with another profile's keys.
func ValidProfile(profile string) bool {
	return !strings.Contains(profile, keySeparator)
}

// ThemeFromSetID derives the theme an exercise set was generated for. Set ids
// are the theme followed by a dash and a suffix ("restaurant-1" → "restaurant").
// An id without a dash is returned unchanged.
func ThemeFromSetID(setID string) string {
	if i := strings.LastIndex(setID, "-"); i > 0 {
		return setID[:i]
	}
	return setID
}
