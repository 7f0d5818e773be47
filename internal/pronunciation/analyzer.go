// Package pronunciation evaluates a learner's recorded attempt at an exercise
// phrase.
//
// An [Analyzer] transcribes the learner's recording and a reference recording
// in parallel, asks a language model to compare them against the exercise's
// phrase, IPA and phonetic spelling, and turns the model's JSON answer into a
// [feedback.Record]. Apart from invalid input, every failure is reported in
// the returned [Result] rather than as an error, so callers always have
// something to render.
package pronunciation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/dizai/internal/exercise"
	"github.com/MrWong99/dizai/internal/feedback"
	"github.com/MrWong99/dizai/internal/jsonextract"
	"github.com/MrWong99/dizai/internal/observe"
	"github.com/MrWong99/dizai/pkg/provider/llm"
	"github.com/MrWong99/dizai/pkg/provider/stt"
)

var (
	// ErrInvalidInput is returned when either recording is missing.
	ErrInvalidInput = errors.New("pronunciation: invalid input")

	// ErrTranscriptionFailed is reported when speech-to-text fails after all
	// retries.
	ErrTranscriptionFailed = errors.New("pronunciation: transcription failed")

	// ErrEvaluationFailed is reported when the language model call fails.
	ErrEvaluationFailed = errors.New("pronunciation: evaluation failed")
)

const (
	defaultLanguage         = "pt"
	defaultAttempts         = 3
	defaultRetryInterval    = 500 * time.Millisecond
	defaultTimeout          = 2 * time.Minute
	defaultTemperature      = 0.2
	defaultEvaluationTokens = 1024
)

// Request identifies the exercise and carries both recordings.
type Request struct {
	Profile       string
	ExerciseID    string
	ExerciseSetID string
	UserAudio     stt.Audio
	RefAudio      stt.Audio
}

// Feedback is the evaluation returned to the client.
type Feedback struct {
	Native     string               `json:"native"`
	Attempt    string               `json:"attempt"`
	Deviations []feedback.Deviation `json:"deviations"`
	Status     feedback.Status      `json:"status"`
	Comment    string               `json:"comment,omitempty"`
	Similarity float64              `json:"similarity"`
	Highlight  []int                `json:"highlight"`

	// Error is set instead of every other field when analysis failed.
	Error string `json:"error,omitempty"`
}

// MarshalJSON encodes a failed evaluation as {"error": "..."} only.
func (f Feedback) MarshalJSON() ([]byte, error) {
	if f.Error != "" {
		return json.Marshal(struct {
			Error string `json:"error"`
		}{f.Error})
	}
	type plain Feedback
	p := plain(f)
	if p.Deviations == nil {
		p.Deviations = []feedback.Deviation{}
	}
	if p.Highlight == nil {
		p.Highlight = []int{}
	}
	return json.Marshal(p)
}

// Result is the outcome of one analysis.
type Result struct {
	Transcript string   `json:"transcript"`
	Feedback   Feedback `json:"feedback"`

	// Err is the failure behind Feedback.Error, for callers that want to
	// inspect it with errors.Is.
	Err error `json:"-"`
}

// failed builds the result returned for a failure after input validation.
func failed(err error) *Result {
	return &Result{Feedback: Feedback{Error: err.Error()}, Err: err}
}

// evaluation is the JSON object the model is asked to return.
type evaluation struct {
	Native     string               `json:"native"`
	Attempt    string               `json:"attempt"`
	Deviations []feedback.Deviation `json:"deviations"`
	Status     string               `json:"status"`
	Comment    string               `json:"comment"`
}

// Option is a functional option for [Analyzer].
type Option func(*Analyzer)

// WithLanguage sets the transcription language hint. Defaults to "pt".
func WithLanguage(lang string) Option {
	return func(a *Analyzer) { a.language = lang }
}

// WithTranscribeAttempts sets how many times each recording is sent to the
// speech-to-text provider before giving up. Defaults to 3.
func WithTranscribeAttempts(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.attempts = n
		}
	}
}

// WithRetryInterval sets the first delay of the exponential retry schedule.
// Defaults to 500 ms.
func WithRetryInterval(d time.Duration) Option {
	return func(a *Analyzer) {
		if d > 0 {
			a.retryInterval = d
		}
	}
}

// WithTimeout bounds one whole analysis. Defaults to 2 minutes.
func WithTimeout(d time.Duration) Option {
	return func(a *Analyzer) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithProviderNames sets the provider labels used in metrics. Empty names
// keep the defaults "stt" and "llm".
func WithProviderNames(sttName, llmName string) Option {
	return func(a *Analyzer) {
		if sttName != "" {
			a.sttName = sttName
		}
		if llmName != "" {
			a.llmName = llmName
		}
	}
}

// WithMetrics overrides the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

// Analyzer runs the transcription and evaluation pipeline.
type Analyzer struct {
	stt   stt.Provider
	llm   llm.Provider
	state *exercise.State
	sink  feedback.Sink

	language      string
	attempts      int
	retryInterval time.Duration
	timeout       time.Duration
	sttName       string
	llmName       string
	metrics       *observe.Metrics
}

// NewAnalyzer returns an Analyzer. state is read to resolve exercise
// metadata; sink receives every successful analysis and may be nil.
func NewAnalyzer(sttp stt.Provider, llmp llm.Provider, state *exercise.State, sink feedback.Sink, opts ...Option) (*Analyzer, error) {
	if sttp == nil || llmp == nil {
		return nil, errors.New("pronunciation: stt and llm providers are required")
	}
	if state == nil {
		state = exercise.NewState()
	}
	a := &Analyzer{
		stt:           sttp,
		llm:           llmp,
		state:         state,
		sink:          sink,
		language:      defaultLanguage,
		attempts:      defaultAttempts,
		retryInterval: defaultRetryInterval,
		timeout:       defaultTimeout,
		sttName:       "stt",
		llmName:       "llm",
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a, nil
}

// Analyze evaluates one attempt. The only error it returns wraps
// [ErrInvalidInput], and it does so before contacting any provider. Every
// later failure yields a Result whose Feedback carries only an error message.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (*Result, error) {
	if req.UserAudio.Empty() {
		return nil, fmt.Errorf("%w: missing user audio", ErrInvalidInput)
	}
	if req.RefAudio.Empty() {
		return nil, fmt.Errorf("%w: missing reference audio", ErrInvalidInput)
	}

	ctx, span := observe.StartSpan(ctx, "pronunciation.Analyze", trace.WithAttributes(
		observe.AttrProfile.String(req.Profile),
		observe.AttrExerciseSetID.String(req.ExerciseSetID),
		observe.AttrExerciseID.String(req.ExerciseID),
	))
	defer span.End()
	log := observe.Logger(ctx).With(
		"profile", req.Profile,
		"exercise_set_id", req.ExerciseSetID,
		"exercise_id", req.ExerciseID,
	)

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	ex, entry, found := a.state.FindExercise(req.Profile, req.ExerciseSetID, req.ExerciseID)
	if !found {
		log.Warn("exercise not in cache, analysing without reference metadata")
	}

	userText, refText, err := a.transcribeBoth(ctx, req)
	if err != nil {
		log.Warn("transcription failed", "err", err)
		observe.FailSpan(span, "transcription", err)
		a.metrics.RecordAnalysis(ctx, "error")
		return failed(err), nil
	}

	eval, err := a.evaluate(ctx, ex, userText, refText)
	if err != nil {
		log.Warn("evaluation failed", "err", err)
		observe.FailSpan(span, "evaluation", err)
		a.metrics.RecordAnalysis(ctx, "error")
		return failed(err), nil
	}

	fb := Feedback{
		Native:     eval.Native,
		Attempt:    eval.Attempt,
		Deviations: eval.Deviations,
		Status:     DeriveStatus(eval.Status, eval.Deviations),
		Comment:    strings.TrimSpace(eval.Comment),
		Highlight:  []int{},
	}
	if ex.Phrase != "" {
		sim := Compare(ex.Phrase, userText)
		fb.Similarity = sim.Score
		fb.Highlight = sim.Highlight
	}

	rec := feedback.NewRecord()
	rec.Profile = req.Profile
	rec.ExerciseSetID = req.ExerciseSetID
	rec.ExerciseID = req.ExerciseID
	rec.Phrase = ex.Phrase
	rec.IPA = ex.IPA
	rec.Phonetic = ex.Phonetic
	rec.UserTranscript = userText
	rec.RefTranscript = refText
	rec.Deviations = fb.Deviations
	rec.Status = fb.Status
	rec.Comment = fb.Comment
	rec.Similarity = fb.Similarity
	rec.ConversationID = entry.ConversationID
	a.record(ctx, rec)

	a.metrics.RecordAnalysis(ctx, string(fb.Status))
	span.SetAttributes(observe.AttrOutcome.String(string(fb.Status)))
	log.Info("attempt analysed", "status", fb.Status, "deviations", len(fb.Deviations))
	return &Result{Transcript: userText, Feedback: fb}, nil
}

// record hands rec to the sink. Sink failures are logged only.
func (a *Analyzer) record(ctx context.Context, rec feedback.Record) {
	if a.sink == nil {
		return
	}
	if err := a.sink.Append(context.WithoutCancel(ctx), rec); err != nil {
		observe.Logger(ctx).Warn("feedback sink append failed", "id", rec.ID, "err", err)
	}
}

// transcribeBoth transcribes the user and reference recordings concurrently.
func (a *Analyzer) transcribeBoth(ctx context.Context, req Request) (userText, refText string, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := a.transcribe(gctx, req.UserAudio)
		if err != nil {
			return fmt.Errorf("%w: user audio: %w", ErrTranscriptionFailed, err)
		}
		userText = t
		return nil
	})
	g.Go(func() error {
		t, err := a.transcribe(gctx, req.RefAudio)
		if err != nil {
			return fmt.Errorf("%w: reference audio: %w", ErrTranscriptionFailed, err)
		}
		refText = t
		return nil
	})
	if err := g.Wait(); err != nil {
		return "", "", err
	}
	return userText, refText, nil
}

// transcribe sends audio to the provider with bounded exponential retry.
func (a *Analyzer) transcribe(ctx context.Context, audio stt.Audio) (string, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = a.retryInterval
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(a.attempts-1)), ctx)

	opts := stt.Options{Language: a.language, Verbose: true}
	var text string
	op := func() error {
		start := time.Now()
		tr, err := a.stt.Transcribe(ctx, audio, opts)
		a.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			a.metrics.RecordProviderRequest(ctx, a.sttName, "stt", "error")
			a.metrics.RecordProviderError(ctx, a.sttName, "stt")
			if errors.Is(err, stt.ErrEmptyAudio) {
				return backoff.Permanent(err)
			}
			return err
		}
		a.metrics.RecordProviderRequest(ctx, a.sttName, "stt", "ok")
		text = strings.TrimSpace(tr.Text)
		return nil
	}
	notify := func(err error, wait time.Duration) {
		observe.Logger(ctx).Debug("retrying transcription", "err", err, "wait", wait)
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return "", err
	}
	return text, nil
}

// evaluate asks the language model to compare the attempt with the target.
func (a *Analyzer) evaluate(ctx context.Context, ex exercise.Exercise, userText, refText string) (evaluation, error) {
	req := llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: userPrompt(ex.Phrase, ex.IPA, ex.Phonetic, userText, refText)},
		},
		Temperature: defaultTemperature,
		MaxTokens:   defaultEvaluationTokens,
		JSONMode:    true,
	}

	start := time.Now()
	resp, err := a.llm.Complete(ctx, req)
	a.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		a.metrics.RecordProviderRequest(ctx, a.llmName, "llm", "error")
		a.metrics.RecordProviderError(ctx, a.llmName, "llm")
		return evaluation{}, fmt.Errorf("%w: %w", ErrEvaluationFailed, err)
	}
	a.metrics.RecordProviderRequest(ctx, a.llmName, "llm", "ok")

	var eval evaluation
	if err := jsonextract.Decode(resp.Content, &eval); err != nil {
		return evaluation{}, err
	}
	devs := make([]feedback.Deviation, 0, len(eval.Deviations))
	for _, d := range eval.Deviations {
		d.Word = strings.TrimSpace(d.Word)
		d.Note = strings.TrimSpace(d.Note)
		d.Severity = normalizeSeverity(d.Severity)
		devs = append(devs, d)
	}
	eval.Deviations = devs
	return eval, nil
}
