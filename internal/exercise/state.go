package exercise

import (
	"encoding/json"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"
)

var (
	// ErrSetNotFound is returned by [State.AddResponse] when no cached set has
	// the id, or the set belongs to another profile.
	ErrSetNotFound = errors.New("exercise: set not found")

	// ErrExerciseNotFound is returned by [State.AddResponse] when the set has
	// no exercise with the id.
	ErrExerciseNotFound = errors.New("exercise: exercise not found")
)

// Entry is a cached exercise set together with the conversation it was
// generated in.
type Entry struct {
	Set            ExerciseSet
	Profile        string
	ConversationID string
	GeneratedAt    time.Time

	// Responses holds client-submitted feedback keyed by exercise id. The map
	// is replaced, never written in place, once the entry is cached.
	Responses map[string]json.RawMessage
}

// clone returns a copy of e that shares no slice with it.
func (e Entry) clone() Entry {
	e.Set.Exercises = slices.Clone(e.Set.Exercises)
	e.Responses = maps.Clone(e.Responses)
	return e
}

// State holds the process-wide exercise cache and the generation lock table.
// Create one per process and inject it; tests create one per case.
//
// Each cache key moves UNLOCKED → LOCKED → UNLOCKED. A second TryLock while
// LOCKED fails immediately; there is no queue.
//
// All methods are safe for concurrent use.
type State struct {
	mu    sync.Mutex
	cache map[string]Entry
	locks map[string]struct{}
}

// NewState returns an empty State.
func NewState() *State {
	return &State{
		cache: make(map[string]Entry),
		locks: make(map[string]struct{}),
	}
}

// TryLock acquires the generation lock for key. It returns false without
// blocking if the lock is already held.
func (s *State) TryLock(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.locks[key]; held {
		return false
	}
	s.locks[key] = struct{}{}
	return true
}

// Unlock releases the generation lock for key. Unlocking a free key is a no-op.
func (s *State) Unlock(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, key)
}

// Locked reports whether a generation currently holds key.
func (s *State) Locked(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, held := s.locks[key]
	return held
}

// Get returns a copy of the cached entry for key.
func (s *State) Get(key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.cache[key]
	return e.clone(), ok
}

// Put replaces the cached entry for key with a copy of e.
func (s *State) Put(key string, e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[key] = e.clone()
}

// FindExercise resolves an exercise for profile. It first looks at the entry
// for the theme derived from setID, then scans every set cached for profile.
// The returned Entry is a copy of the one containing the exercise. Entries
// stamped with a different [Entry.Profile] never match.
func (s *State) FindExercise(profile, setID, exerciseID string) (Exercise, Entry, bool) {
	if setID == "" || exerciseID == "" {
		return Exercise{}, Entry{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	owned := func(e Entry) bool {
		return e.Set.ExerciseSetID == setID && (e.Profile == "" || e.Profile == profile)
	}

	if e, ok := s.cache[CacheKey(profile, ThemeFromSetID(setID))]; ok && owned(e) {
		if ex, ok := e.Set.Exercise(exerciseID); ok {
			return ex, e.clone(), true
		}
	}

	for _, e := range s.cache {
		if e.Profile != profile || !owned(e) {
			continue
		}
		if ex, ok := e.Set.Exercise(exerciseID); ok {
			return ex, e.clone(), true
		}
	}
	return Exercise{}, Entry{}, false
}

// FindSet returns the cached entry whose set has the given id, across all
// profiles.
func (s *State) FindSet(setID string) (Entry, bool) {
	if setID == "" {
		return Entry{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.cache {
		if e.Set.ExerciseSetID == setID {
			return e.clone(), true
		}
	}
	return Entry{}, false
}

// AddResponse records feedback submitted by profile for one exercise of the
// cached set setID, replacing any earlier response for that exercise.
func (s *State) AddResponse(setID, profile, exerciseID string, feedback json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.cache {
		if setID == "" || e.Set.ExerciseSetID != setID {
			continue
		}
		if e.Profile != profile {
			return ErrSetNotFound
		}
		if _, ok := e.Set.Exercise(exerciseID); !ok {
			return ErrExerciseNotFound
		}
		responses := maps.Clone(e.Responses)
		if responses == nil {
			responses = make(map[string]json.RawMessage, 1)
		}
		responses[exerciseID] = slices.Clone(feedback)
		e.Responses = responses
		s.cache[key] = e
		return nil
	}
	return ErrSetNotFound
}
