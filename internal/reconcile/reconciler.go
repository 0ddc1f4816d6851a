// Package reconcile keeps a locally tracked set of entities in step with an
// external snapshot source by periodically fetching, diffing and applying
// minimal create, update and remove operations.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/globe-tracker/geom"
	"github.com/signalsfoundry/globe-tracker/internal/logging"
	"github.com/signalsfoundry/globe-tracker/kb"
	"github.com/signalsfoundry/globe-tracker/model"
	"github.com/signalsfoundry/globe-tracker/timectrl"
)

const tracerName = "github.com/signalsfoundry/globe-tracker/internal/reconcile"

// ErrClosed is returned by cycles that complete after Shutdown.
var ErrClosed = errors.New("reconciler closed")

// Source produces a full snapshot of the entities that currently exist.
type Source interface {
	Fetch(ctx context.Context) ([]model.Record, error)
}

// Sink is the render collaborator that owns the visual side of entities.
type Sink interface {
	Create(kind model.Kind, pos model.Position, rot model.Rotation, visible bool) model.Handle
	Update(h model.Handle, pos model.Position, rot model.Rotation)
	Destroy(h model.Handle)
	SetVisible(h model.Handle, visible bool)
}

// Reconciler drives one source into one knowledge base and sink.
type Reconciler struct {
	cfg        Config
	src        Source
	sink       Sink
	store      *kb.KnowledgeBase
	clock      timectrl.Clock
	log        logging.Logger
	tracer     trace.Tracer
	recorders  []MetricsRecorder
	entityOpts []kb.EntityOption

	task *timectrl.Task

	// life is cancelled by Shutdown and aborts any in-flight fetch.
	life       context.Context
	cancelLife context.CancelFunc

	// cycleMu serialises apply phases with SetVisible, Remove and Shutdown.
	cycleMu sync.Mutex

	stateMu sync.Mutex
	visible bool
	closed  bool
	started bool
	runCtx  context.Context
}

// New constructs a reconciler. It does not start polling until Start.
func New(cfg Config, src Source, sink Sink, opts ...Option) (*Reconciler, error) {
	if src == nil {
		return nil, fmt.Errorf("reconcile: source is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("reconcile: sink is required")
	}
	cfg.ApplyDefaults()

	r := &Reconciler{
		cfg:     cfg,
		src:     src,
		sink:    sink,
		visible: !cfg.StartHidden,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.store == nil {
		r.store = kb.NewKnowledgeBase()
	}
	if r.clock == nil {
		r.clock = timectrl.RealClock{}
	}
	if r.log == nil {
		r.log = logging.Noop()
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer(tracerName)
	}
	r.log = r.log.With(logging.String("source", cfg.Name))
	r.life, r.cancelLife = context.WithCancel(context.Background())
	r.task = timectrl.NewTask(r.clock, r.scheduledCycle)
	return r, nil
}

// Start kicks off the first cycle immediately and keeps polling every
// Interval until ctx is done or Shutdown is called. Calling Start more than
// once has no effect.
func (r *Reconciler) Start(ctx context.Context) {
	r.stateMu.Lock()
	if r.started || r.closed {
		r.stateMu.Unlock()
		return
	}
	r.started = true
	r.runCtx = ctx
	r.stateMu.Unlock()

	r.log.Info(ctx, "reconciler started", logging.String("interval", r.cfg.Interval.String()))
	r.task.Arm(0)
}

func (r *Reconciler) scheduledCycle() {
	r.stateMu.Lock()
	ctx := r.runCtx
	r.stateMu.Unlock()
	_ = r.cycle(ctx, true)
}

// RunOnce runs a single synchronous cycle without scheduling another. It
// returns the fetch error, if any, or ErrClosed after Shutdown.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	return r.cycle(ctx, false)
}

// NextDeadline reports when the next cycle is due. ok is false when nothing
// is scheduled.
func (r *Reconciler) NextDeadline() (time.Time, bool) {
	return r.task.Next()
}

func (r *Reconciler) cycle(ctx context.Context, reschedule bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	start := r.clock.Now()
	ctx, log := logging.WithCycleLogger(ctx, r.log)
	ctx, span := r.tracer.Start(ctx, "reconcile.cycle",
		trace.WithAttributes(attribute.String("source", r.cfg.Name)))
	defer span.End()

	report := CycleReport{Source: r.cfg.Name, CycleID: logging.CycleIDFromContext(ctx)}

	records, fetchErr := r.fetch(ctx)

	err := func() error {
		r.cycleMu.Lock()
		defer r.cycleMu.Unlock()

		if r.Closed() {
			report.Outcome = OutcomeDiscarded
			log.Debug(ctx, "discarding cycle result after shutdown")
			return ErrClosed
		}
		if fetchErr != nil {
			if ctx.Err() != nil {
				// The owner's context ended; this is a stop, not a failure.
				report.Outcome = OutcomeDiscarded
				log.Debug(ctx, "cycle cancelled", logging.Err(fetchErr))
				return fetchErr
			}
			report.Outcome = OutcomeFetchError
			report.Err = fetchErr
			report.Tracked = r.store.Len()
			span.RecordError(fetchErr)
			span.SetStatus(codes.Error, "fetch failed")
			log.Warn(ctx, "snapshot fetch failed; keeping current entities", logging.Err(fetchErr))
			r.rearm(ctx, reschedule)
			return fetchErr
		}

		r.apply(ctx, records, &report)
		report.Outcome = OutcomeOK
		report.Tracked = r.store.Len()
		r.rearm(ctx, reschedule)
		return nil
	}()

	report.Duration = r.clock.Now().Sub(start)
	span.SetAttributes(
		attribute.String("outcome", report.Outcome),
		attribute.Int("created", report.Created),
		attribute.Int("updated", report.Updated),
		attribute.Int("removed", report.Removed),
		attribute.Int("tracked", report.Tracked),
	)
	if report.Outcome == OutcomeOK {
		log.Debug(ctx, "cycle applied",
			logging.Int("records", len(records)),
			logging.Int("created", report.Created),
			logging.Int("updated", report.Updated),
			logging.Int("removed", report.Removed),
			logging.Int("skipped", report.Skipped),
			logging.Int("tracked", report.Tracked),
		)
	}
	r.report(report)
	return err
}

// rearm schedules the next cycle one interval from now unless the owner's
// context has ended.
func (r *Reconciler) rearm(ctx context.Context, reschedule bool) {
	if reschedule && ctx.Err() == nil {
		r.task.Arm(r.cfg.Interval)
	}
}

// fetch calls the source on its own goroutine so that Shutdown can abandon a
// fetch that ignores its context.
func (r *Reconciler) fetch(ctx context.Context) ([]model.Record, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(r.life, cancel)
	defer stop()

	type result struct {
		records []model.Record
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		recs, err := r.src.Fetch(ctx)
		ch <- result{records: recs, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("fetch snapshot: %w", res.err)
		}
		return res.records, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch snapshot: %w", ctx.Err())
	}
}

// apply diffs records against the tracked set. Must be called with cycleMu
// held.
func (r *Reconciler) apply(ctx context.Context, records []model.Record, report *CycleReport) {
	// SetVisible also holds cycleMu, so the flag cannot change until apply
	// returns and new entities never miss a visibility toggle.
	visible := r.Visible()
	touched := make(map[string]struct{}, len(records))

	_ = r.store.Batch(func(tx *kb.Tx) error {
		for _, rec := range records {
			if rec.Key == "" {
				report.Skipped++
				logging.FromContext(ctx, r.log).Warn(ctx, "skipping record without key",
					logging.String("callsign", rec.Callsign))
				continue
			}
			pos, rot := geom.Locate(rec)
			_, seen := touched[rec.Key]

			if e := tx.Get(rec.Key); e != nil {
				e.SetState(rec, pos, rot)
				r.sink.Update(e.Handle(), pos, rot)
				if !seen {
					tx.Touch(e)
					report.Updated++
				}
			} else {
				h := r.sink.Create(rec.Kind, pos, rot, visible)
				if err := tx.Add(kb.NewTrackedEntity(rec, pos, rot, h, r.entityOpts...)); err != nil {
					r.sink.Destroy(h)
					continue
				}
				report.Created++
			}
			touched[rec.Key] = struct{}{}
		}

		// The key list is an owned copy, so removing while walking it is safe.
		for _, key := range tx.Keys() {
			if _, ok := touched[key]; ok {
				continue
			}
			if e := tx.Remove(key); e != nil {
				r.sink.Destroy(e.Handle())
				report.Removed++
			}
		}
		return nil
	})
}

func (r *Reconciler) report(rep CycleReport) {
	for _, rec := range r.recorders {
		rec.RecordCycle(rep)
	}
}

// SetVisible shows or hides every tracked entity immediately and applies the
// flag to entities created later.
func (r *Reconciler) SetVisible(visible bool) {
	// cycleMu orders this against apply, which reads the flag once.
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()

	r.stateMu.Lock()
	r.visible = visible
	r.stateMu.Unlock()

	for _, e := range r.store.List() {
		r.sink.SetVisible(e.Handle(), visible)
	}
}

func (r *Reconciler) Visible() bool {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.visible
}

// Remove destroys the entity tracked under key. It reports whether anything
// was removed; removing an unknown key is a no-op.
func (r *Reconciler) Remove(key string) bool {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()

	e := r.store.Remove(key)
	if e == nil {
		return false
	}
	r.sink.Destroy(e.Handle())
	return true
}

// Shutdown stops polling, abandons any in-flight fetch, waits for a running
// apply phase and destroys every tracked entity. It is safe to call from any
// goroutine and more than once.
func (r *Reconciler) Shutdown() {
	r.stateMu.Lock()
	if r.closed {
		r.stateMu.Unlock()
		return
	}
	r.closed = true
	r.stateMu.Unlock()

	r.task.Stop()
	r.cancelLife()

	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()

	destroyed := 0
	_ = r.store.Batch(func(tx *kb.Tx) error {
		for _, key := range tx.Keys() {
			if e := tx.Remove(key); e != nil {
				r.sink.Destroy(e.Handle())
				destroyed++
			}
		}
		return nil
	})
	r.log.Info(context.Background(), "reconciler shut down", logging.Int("destroyed", destroyed))
}

// Closed reports whether Shutdown has been called.
func (r *Reconciler) Closed() bool {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.closed
}

// Get returns the entity tracked under key, or nil. Callers holding an entity
// from an earlier read should re-check membership here.
func (r *Reconciler) Get(key string) *kb.TrackedEntity { return r.store.Get(key) }

// Entities returns a snapshot of the tracked entities ordered by key.
func (r *Reconciler) Entities() []*kb.TrackedEntity { return r.store.List() }

func (r *Reconciler) Len() int { return r.store.Len() }

// Store exposes the knowledge base for subscriptions.
func (r *Reconciler) Store() *kb.KnowledgeBase { return r.store }

// Name returns the configured source name.
func (r *Reconciler) Name() string { return r.cfg.Name }
