package reconcile

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/globe-tracker/internal/logging"
	"github.com/signalsfoundry/globe-tracker/kb"
	"github.com/signalsfoundry/globe-tracker/timectrl"
)

const (
	defaultName     = "default"
	defaultInterval = 2 * time.Second
)

// Cycle outcomes reported to metrics recorders.
const (
	OutcomeOK         = "ok"
	OutcomeFetchError = "fetch_error"
	OutcomeDiscarded  = "discarded"
)

// Config controls a reconciler.
type Config struct {
	// Name labels logs, spans and metrics for this source.
	Name string
	// Interval is the delay between the end of one cycle and the start of
	// the next.
	Interval time.Duration
	// StartHidden creates entities hidden until SetVisible(true).
	StartHidden bool
}

// ApplyDefaults fills in zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = defaultName
	}
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
}

// CycleReport summarises one reconciliation cycle.
type CycleReport struct {
	Source   string
	CycleID  string
	Outcome  string
	Created  int
	Updated  int
	Removed  int
	Skipped  int
	Tracked  int
	Duration time.Duration
	Err      error
}

// MetricsRecorder observes completed cycles.
type MetricsRecorder interface {
	RecordCycle(CycleReport)
}

// Option configures optional collaborators on a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the base logger.
func WithLogger(log logging.Logger) Option {
	return func(r *Reconciler) { r.log = log }
}

// WithMetrics registers cycle observers. Nil recorders are ignored.
func WithMetrics(recorders ...MetricsRecorder) Option {
	return func(r *Reconciler) {
		for _, rec := range recorders {
			if rec != nil {
				r.recorders = append(r.recorders, rec)
			}
		}
	}
}

// WithClock replaces the wall clock, typically with a timectrl.ManualClock.
func WithClock(c timectrl.Clock) Option {
	return func(r *Reconciler) { r.clock = c }
}

// WithKnowledgeBase makes the reconciler maintain an existing store.
func WithKnowledgeBase(store *kb.KnowledgeBase) Option {
	return func(r *Reconciler) { r.store = store }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(r *Reconciler) { r.tracer = t }
}

// WithEntityOptions applies opts to every entity the reconciler creates.
func WithEntityOptions(opts ...kb.EntityOption) Option {
	return func(r *Reconciler) { r.entityOpts = append(r.entityOpts, opts...) }
}
