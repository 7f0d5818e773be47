package feedback

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/dizai/internal/observe"
)

// Multi fans a record out to several sinks. Every sink is attempted even if
// an earlier one fails; the failures are joined.
type Multi struct {
	sinks   []Sink
	metrics *observe.Metrics
}

var _ Sink = (*Multi)(nil)

// NewMulti returns a Multi writing to sinks in order. A nil metrics uses
// [observe.DefaultMetrics].
func NewMulti(metrics *observe.Metrics, sinks ...Sink) *Multi {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Multi{sinks: sinks, metrics: metrics}
}

// Name implements the optional naming interface used for metric labels.
func (m *Multi) Name() string { return "multi" }

// Len returns the number of sinks.
func (m *Multi) Len() int { return len(m.sinks) }

// Append writes rec to every sink.
func (m *Multi) Append(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m.sinks {
		name := sinkName(s)
		if err := s.Append(ctx, rec); err != nil {
			m.metrics.RecordFeedbackAppend(ctx, name, "error")
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		m.metrics.RecordFeedbackAppend(ctx, name, "ok")
	}
	return errors.Join(errs...)
}
