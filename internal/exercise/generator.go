package exercise

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/dizai/internal/jsonextract"
	"github.com/MrWong99/dizai/internal/observe"
	"github.com/MrWong99/dizai/pkg/provider/conversation"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultMaxPolls     = 240
	defaultTimeout      = 3 * time.Minute
)

// errRunPending marks a poll that saw a non-terminal run status.
var errRunPending = errors.New("exercise: run still pending")

// Option is a functional option for [Generator].
type Option func(*Generator)

// WithPollInterval sets the delay between run status polls. Defaults to 500 ms.
func WithPollInterval(d time.Duration) Option {
	return func(g *Generator) {
		if d > 0 {
			g.pollInterval = d
		}
	}
}

// WithMaxPolls caps the number of run status polls per generation.
// Defaults to 240.
func WithMaxPolls(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxPolls = n
		}
	}
}

// WithTimeout sets the overall deadline for one generation, covering every
// conversation call. Defaults to 3 minutes.
func WithTimeout(d time.Duration) Option {
	return func(g *Generator) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithMetrics overrides the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Generator) {
		g.metrics = m
	}
}

// Generator produces exercise sets through a hosted assistant and caches them
// in a [State].
type Generator struct {
	conv        conversation.Service
	assistantID string
	state       *State

	pollInterval time.Duration
	maxPolls     int
	timeout      time.Duration
	metrics      *observe.Metrics
}

// NewGenerator returns a Generator that runs assistantID on conv and caches
// results in state. It fails with [ErrConfiguration] if assistantID is empty.
func NewGenerator(conv conversation.Service, assistantID string, state *State, opts ...Option) (*Generator, error) {
	if strings.TrimSpace(assistantID) == "" {
		return nil, ErrConfiguration
	}
	if conv == nil || state == nil {
		return nil, fmt.Errorf("exercise: conversation service and state are required")
	}
	g := &Generator{
		conv:         conv,
		assistantID:  assistantID,
		state:        state,
		pollInterval: defaultPollInterval,
		maxPolls:     defaultMaxPolls,
		timeout:      defaultTimeout,
	}
	for _, o := range opts {
		o(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	return g, nil
}

// State returns the cache the generator writes to.
func (g *Generator) State() *State { return g.state }

// Generate returns an exercise set for (profile, theme).
//
// If another generation for the same key is in flight, Generate returns the
// currently cached set (or the empty set) at once. Otherwise it runs a new
// generation, caches the result and returns it. Every generation failure is
// logged and yields the empty set with a nil error; the cache is left
// untouched in that case. The only error returned is [ErrConfiguration].
func (g *Generator) Generate(ctx context.Context, profile, theme string) (ExerciseSet, error) {
	if g.assistantID == "" {
		return EmptySet(), ErrConfiguration
	}

	key := CacheKey(profile, theme)
	log := observe.Logger(ctx).With("profile", profile, "theme", theme)
	start := time.Now()

	if !g.state.TryLock(key) {
		log.Debug("generation in progress, serving cached set")
		g.metrics.RecordGeneration(ctx, "contended", time.Since(start))
		if e, ok := g.state.Get(key); ok {
			return e.Set, nil
		}
		return EmptySet(), nil
	}
	defer g.state.Unlock(key)

	g.metrics.ActiveGenerations.Add(ctx, 1)
	defer g.metrics.ActiveGenerations.Add(ctx, -1)

	ctx, span := observe.StartSpan(ctx, "exercise.Generate", trace.WithAttributes(
		observe.AttrProfile.String(profile),
		observe.AttrTheme.String(theme),
	))
	defer span.End()

	set, conversationID, err := g.generate(ctx, profile, theme)
	if err != nil {
		observe.FailSpan(span, outcome(err), err)
		g.metrics.RecordGeneration(ctx, outcome(err), time.Since(start))
		log.Warn("exercise generation failed", "err", err)
		return EmptySet(), nil
	}

	g.state.Put(key, Entry{Set: set, Profile: profile, ConversationID: conversationID, GeneratedAt: time.Now()})
	span.SetAttributes(observe.AttrExerciseSetID.String(set.ExerciseSetID), observe.AttrOutcome.String("ok"))
	g.metrics.RecordGeneration(ctx, "ok", time.Since(start))
	log.Info("exercise set generated",
		"exercise_set_id", set.ExerciseSetID,
		"exercises", len(set.Exercises),
		"duration", time.Since(start),
	)
	return set, nil
}

// generate performs one full assistant round trip.
func (g *Generator) generate(ctx context.Context, profile, theme string) (ExerciseSet, string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	conversationID, err := g.conv.CreateConversation(ctx)
	if err != nil {
		return ExerciseSet{}, "", fmt.Errorf("exercise: create conversation: %w", err)
	}
	if err := g.conv.PostMessage(ctx, conversationID, conversation.RoleUser, Instruction(profile, theme)); err != nil {
		return ExerciseSet{}, conversationID, fmt.Errorf("exercise: post instruction: %w", err)
	}
	runID, err := g.conv.StartRun(ctx, conversationID, g.assistantID)
	if err != nil {
		return ExerciseSet{}, conversationID, fmt.Errorf("exercise: start run: %w", err)
	}
	if err := g.waitForRun(ctx, conversationID, runID); err != nil {
		return ExerciseSet{}, conversationID, err
	}

	msgs, err := g.conv.ListMessages(ctx, conversationID)
	if err != nil {
		return ExerciseSet{}, conversationID, fmt.Errorf("exercise: list messages: %w", err)
	}
	reply, ok := conversation.LatestFrom(msgs, conversation.RoleAssistant)
	if !ok {
		return ExerciseSet{}, conversationID, fmt.Errorf("%w: no assistant reply in %s", ErrInvalidSet, conversationID)
	}

	set, err := ParseSet(reply.Content)
	if err != nil {
		return ExerciseSet{}, conversationID, err
	}
	return set, conversationID, nil
}

// waitForRun polls the run at a fixed interval until it completes, fails, or
// the poll budget or context deadline is exhausted.
func (g *Generator) waitForRun(ctx context.Context, conversationID, runID string) error {
	var last conversation.RunStatus
	poll := func() error {
		status, err := g.conv.PollRun(ctx, conversationID, runID)
		if err != nil {
			return err
		}
		last = status
		switch {
		case status == conversation.RunCompleted:
			return nil
		case status.Done():
			return backoff.Permanent(fmt.Errorf("%w: run %s ended as %q", ErrRunFailed, runID, status))
		default:
			return errRunPending
		}
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(g.pollInterval), uint64(g.maxPolls-1)),
		ctx,
	)
	err := backoff.Retry(poll, b)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrRunFailed):
		return err
	case errors.Is(err, errRunPending), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: run %s last seen as %q", ErrGenerationTimeout, runID, last)
	default:
		return fmt.Errorf("exercise: poll run %s: %w", runID, err)
	}
}

// ParseSet extracts an exercise set from assistant output, validates it and
// repairs exercise ids.
func ParseSet(text string) (ExerciseSet, error) {
	var set ExerciseSet
	if err := jsonextract.Decode(text, &set); err != nil {
		return ExerciseSet{}, err
	}
	set.ExerciseSetID = strings.TrimSpace(set.ExerciseSetID)
	if set.ExerciseSetID == "" {
		return ExerciseSet{}, fmt.Errorf("%w: missing exerciseSetId", ErrInvalidSet)
	}
	if len(set.Exercises) == 0 {
		return ExerciseSet{}, fmt.Errorf("%w: no exercises in %s", ErrInvalidSet, set.ExerciseSetID)
	}
	RepairIDs(&set)
	return set, nil
}

// RepairIDs gives every exercise a non-empty id that is unique within the
// set. Missing or repeated ids become "<exerciseSetId>--<index>".
func RepairIDs(set *ExerciseSet) {
	seen := make(map[string]struct{}, len(set.Exercises))
	for i := range set.Exercises {
		id := strings.TrimSpace(set.Exercises[i].ExerciseID)
		if _, dup := seen[id]; id == "" || dup {
			id = fmt.Sprintf("%s--%d", set.ExerciseSetID, i)
			for n := 1; ; n++ {
				if _, taken := seen[id]; !taken {
					break
				}
				id = fmt.Sprintf("%s--%d-%d", set.ExerciseSetID, i, n)
			}
		}
		seen[id] = struct{}{}
		set.Exercises[i].ExerciseID = id
	}
}

// outcome maps a generation error to a metric label.
func outcome(err error) string {
	switch {
	case errors.Is(err, ErrGenerationTimeout):
		return "timeout"
	case errors.Is(err, jsonextract.ErrMalformedResponse), errors.Is(err, ErrInvalidSet):
		return "malformed"
	default:
		return "error"
	}
}
