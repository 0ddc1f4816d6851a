package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/globe-tracker/internal/scene"
	"github.com/signalsfoundry/globe-tracker/internal/selection"
	"github.com/signalsfoundry/globe-tracker/kb"
	"github.com/signalsfoundry/globe-tracker/model"
	"github.com/signalsfoundry/globe-tracker/timectrl"
)

var epoch = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

// scriptedSource returns queued snapshots in order and repeats the last one.
type scriptedSource struct {
	mu    sync.Mutex
	steps []step
	calls int
}

type step struct {
	records []model.Record
	err     error
}

func (s *scriptedSource) push(records []model.Record, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step{records: records, err: err})
}

func (s *scriptedSource) Fetch(context.Context) ([]model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.steps) == 0 {
		return nil, nil
	}
	st := s.steps[0]
	if len(s.steps) > 1 {
		s.steps = s.steps[1:]
	}
	return st.records, st.err
}

func (s *scriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type reportLog struct {
	mu      sync.Mutex
	reports []CycleReport
}

func (l *reportLog) RecordCycle(r CycleReport) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reports = append(l.reports, r)
}

func (l *reportLog) last() CycleReport {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.reports) == 0 {
		return CycleReport{}
	}
	return l.reports[len(l.reports)-1]
}

func (l *reportLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.reports)
}

func rec(key string, lon, lat float64) model.Record {
	return model.Record{Key: key, Kind: model.KindAircraft, Longitude: lon, Latitude: lat, Altitude: 30000, Heading: 90}
}

func keys(recs ...string) []model.Record {
	out := make([]model.Record, 0, len(recs))
	for i, k := range recs {
		out = append(out, rec(k, float64(i), float64(i)))
	}
	return out
}

func newTestReconciler(t *testing.T, src Source, opts ...Option) (*Reconciler, *scene.Scene, *timectrl.ManualClock, *reportLog) {
	t.Helper()
	sc := scene.New(nil)
	clock := timectrl.NewManualClock(epoch)
	log := &reportLog{}
	all := append([]Option{WithClock(clock), WithMetrics(log)}, opts...)
	r, err := New(Config{Name: "test", Interval: 2 * time.Second}, src, sc, all...)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	t.Cleanup(r.Shutdown)
	return r, sc, clock, log
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Config{}, nil, scene.New(nil)); err == nil {
		t.Fatalf("expected error for nil source")
	}
	if _, err := New(Config{}, &scriptedSource{}, nil); err == nil {
		t.Fatalf("expected error for nil sink")
	}
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	if cfg.Name != "default" || cfg.Interval != 2*time.Second || cfg.StartHidden {
		t.Fatalf("defaults = %+v", cfg)
	}
}

func TestDiffCreatesUpdatesRemoves(t *testing.T) {
	src := &scriptedSource{}
	src.push(keys("A", "B", "C"), nil)
	src.push([]model.Record{rec("B", 50, 10), rec("C", 60, 20), rec("D", 70, 30)}, nil)

	r, sc, _, log := newTestReconciler(t, src)
	ctx := context.Background()

	if err := r.RunOnce(ctx); err != nil {
		t.Fatalf("first RunOnce error: %v", err)
	}
	if r.Len() != 3 || sc.Len() != 3 {
		t.Fatalf("tracked=%d nodes=%d, want 3/3", r.Len(), sc.Len())
	}
	handleA := r.Get("A").Handle()
	handleB := r.Get("B").Handle()
	entityC := r.Get("C")

	if err := r.RunOnce(ctx); err != nil {
		t.Fatalf("second RunOnce error: %v", err)
	}

	if r.Get("A") != nil {
		t.Fatalf("A still tracked")
	}
	if _, ok := sc.Node(handleA); ok {
		t.Fatalf("A's scene node not destroyed")
	}
	if r.Get("B").Handle() != handleB {
		t.Fatalf("B's handle changed")
	}
	if r.Get("C") != entityC {
		t.Fatalf("C was recreated instead of updated in place")
	}
	if r.Get("D") == nil {
		t.Fatalf("D not created")
	}
	if got := r.Get("B").Record().Longitude; got != 50 {
		t.Fatalf("B longitude = %v, want 50", got)
	}
	node, _ := sc.Node(handleB)
	if node.Position != r.Get("B").Position() || node.Rotation.Y != -140 {
		t.Fatalf("scene node not updated: %+v", node)
	}

	last := log.last()
	if last.Outcome != OutcomeOK || last.Created != 1 || last.Updated != 2 || last.Removed != 1 || last.Tracked != 3 {
		t.Fatalf("report = %+v", last)
	}
	if sc.Len() != 3 {
		t.Fatalf("scene nodes = %d, want 3", sc.Len())
	}
}

func TestDuplicateKeysLastWinsAndEmptyKeySkipped(t *testing.T) {
	src := &scriptedSource{}
	src.push([]model.Record{rec("X", 1, 1), rec("", 2, 2), rec("X", 3, 3)}, nil)

	r, sc, _, log := newTestReconciler(t, src)
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if r.Len() != 1 || sc.Len() != 1 {
		t.Fatalf("tracked=%d nodes=%d, want 1/1", r.Len(), sc.Len())
	}
	if got := r.Get("X").Record().Longitude; got != 3 {
		t.Fatalf("X longitude = %v, want last record's 3", got)
	}
	last := log.last()
	if last.Created != 1 || last.Updated != 0 || last.Skipped != 1 {
		t.Fatalf("report = %+v", last)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	src := &scriptedSource{}
	src.push(keys("A"), nil)
	r, sc, _, _ := newTestReconciler(t, src)
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}

	if !r.Remove("A") {
		t.Fatalf("first Remove returned false")
	}
	if r.Remove("A") {
		t.Fatalf("second Remove returned true")
	}
	if r.Remove("never-seen") {
		t.Fatalf("Remove of unknown key returned true")
	}
	if sc.Len() != 0 {
		t.Fatalf("scene nodes = %d, want 0", sc.Len())
	}
}

func TestFailedCycleKeepsEntitiesAndReschedules(t *testing.T) {
	src := &scriptedSource{}
	src.push(keys("A", "B"), nil)
	src.push(nil, errors.New("upstream down"))

	r, sc, clock, log := newTestReconciler(t, src)
	r.Start(context.Background())
	clock.Advance(0)

	if r.Len() != 2 {
		t.Fatalf("tracked = %d after first cycle, want 2", r.Len())
	}
	handleA := r.Get("A").Handle()

	clock.Advance(2 * time.Second)
	if src.Calls() != 2 {
		t.Fatalf("fetch calls = %d, want 2", src.Calls())
	}
	if r.Len() != 2 || sc.Len() != 2 || r.Get("A").Handle() != handleA {
		t.Fatalf("failed cycle touched the tracked set")
	}
	last := log.last()
	if last.Outcome != OutcomeFetchError || last.Err == nil || last.Tracked != 2 {
		t.Fatalf("report = %+v", last)
	}

	next, ok := r.NextDeadline()
	if !ok || !next.Equal(epoch.Add(4*time.Second)) {
		t.Fatalf("NextDeadline = %v, %v; want %v", next, ok, epoch.Add(4*time.Second))
	}
	if clock.Pending() != 1 {
		t.Fatalf("pending timers = %d, want exactly 1", clock.Pending())
	}
}

func TestRunOnceReturnsFetchError(t *testing.T) {
	boom := errors.New("boom")
	src := &scriptedSource{}
	src.push(nil, boom)
	r, _, _, _ := newTestReconciler(t, src)

	if err := r.RunOnce(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("RunOnce error = %v, want boom", err)
	}
	if _, ok := r.NextDeadline(); ok {
		t.Fatalf("RunOnce armed a deadline")
	}
}

func TestScenarioSelectedEntityDisappears(t *testing.T) {
	src := &scriptedSource{}
	src.push([]model.Record{rec("AB123", 10, 20)}, nil)
	src.push(nil, errors.New("timeout"))
	src.push([]model.Record{}, nil)

	sc := scene.New(nil)
	store := kb.NewKnowledgeBase()
	sel := selection.New()
	store.Subscribe(func(ev kb.Event) {
		if ev.Type == kb.EventEntityRemoved {
			sel.Remove(ev.Entity)
		}
	})

	r, err := New(Config{Name: "scenario"}, src, sc,
		WithKnowledgeBase(store),
		WithEntityOptions(kb.WithPainter(sc)),
	)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer r.Shutdown()
	ctx := context.Background()

	if err := r.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	e := r.Get("AB123")
	if e == nil {
		t.Fatalf("AB123 not tracked")
	}
	h := e.Handle()
	sel.Set(e)
	if c, _ := sc.Color(h); c != model.AircraftHighlight {
		t.Fatalf("selected colour = %+v", c)
	}

	if err := r.RunOnce(ctx); err == nil {
		t.Fatalf("expected fetch error on second cycle")
	}
	if r.Get("AB123") != e || !sel.Contains(e) {
		t.Fatalf("failed cycle dropped the selected entity")
	}

	if err := r.RunOnce(ctx); err != nil {
		t.Fatalf("third RunOnce error: %v", err)
	}
	if r.Get("AB123") != nil {
		t.Fatalf("AB123 still tracked after empty snapshot")
	}
	if _, ok := sc.Node(h); ok {
		t.Fatalf("AB123 scene node still present")
	}
	if sel.Len() != 0 {
		t.Fatalf("selection still holds the removed entity")
	}
}

// blockingSource waits for release and ignores its context.
type blockingSource struct {
	entered chan struct{}
	release chan struct{}
}

func (s *blockingSource) Fetch(context.Context) ([]model.Record, error) {
	close(s.entered)
	<-s.release
	return keys("LATE"), nil
}

func TestShutdownDuringFetchDiscardsResult(t *testing.T) {
	src := &blockingSource{entered: make(chan struct{}), release: make(chan struct{})}
	defer close(src.release)

	r, sc, _, log := newTestReconciler(t, src)

	errCh := make(chan error, 1)
	go func() { errCh <- r.RunOnce(context.Background()) }()

	select {
	case <-src.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("fetch never started")
	}

	shutdownDone := make(chan struct{})
	go func() {
		r.Shutdown()
		close(shutdownDone)
	}()
	select {
	case <-shutdownDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("Shutdown blocked on a hung fetch")
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("RunOnce error = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("cycle did not finish after Shutdown")
	}

	if r.Len() != 0 || sc.Len() != 0 {
		t.Fatalf("tracked=%d nodes=%d after shutdown, want 0/0", r.Len(), sc.Len())
	}
	if _, ok := r.NextDeadline(); ok {
		t.Fatalf("deadline armed after shutdown")
	}
	if log.last().Outcome != OutcomeDiscarded {
		t.Fatalf("outcome = %q, want discarded", log.last().Outcome)
	}
}

func TestShutdownDestroysEntitiesAndStopsPolling(t *testing.T) {
	src := &scriptedSource{}
	src.push(keys("A", "B"), nil)
	r, sc, clock, _ := newTestReconciler(t, src)

	r.Start(context.Background())
	clock.Advance(0)
	if sc.Len() != 2 {
		t.Fatalf("scene nodes = %d, want 2", sc.Len())
	}

	r.Shutdown()
	r.Shutdown()
	if !r.Closed() || sc.Len() != 0 || r.Len() != 0 {
		t.Fatalf("shutdown left closed=%v nodes=%d tracked=%d", r.Closed(), sc.Len(), r.Len())
	}

	calls := src.Calls()
	clock.Advance(time.Minute)
	if src.Calls() != calls {
		t.Fatalf("polling continued after shutdown")
	}
	if clock.Pending() != 0 {
		t.Fatalf("pending timers = %d, want 0", clock.Pending())
	}
	if err := r.RunOnce(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("RunOnce after shutdown = %v, want ErrClosed", err)
	}
}

func TestStartTwiceKeepsSinglePendingCycle(t *testing.T) {
	src := &scriptedSource{}
	r, _, clock, _ := newTestReconciler(t, src)
	r.Start(context.Background())
	r.Start(context.Background())
	if clock.Pending() != 1 {
		t.Fatalf("pending timers = %d, want 1", clock.Pending())
	}
	clock.Advance(0)
	if src.Calls() != 1 {
		t.Fatalf("fetch calls = %d, want 1", src.Calls())
	}
}

func TestPollingFollowsInterval(t *testing.T) {
	src := &scriptedSource{}
	src.push(keys("A"), nil)
	r, _, clock, log := newTestReconciler(t, src)
	r.Start(context.Background())

	clock.Advance(0)
	clock.Advance(1 * time.Second)
	if src.Calls() != 1 {
		t.Fatalf("fetch calls = %d before interval, want 1", src.Calls())
	}
	clock.Advance(4 * time.Second)
	if src.Calls() != 3 {
		t.Fatalf("fetch calls = %d, want 3", src.Calls())
	}
	if log.len() != 3 {
		t.Fatalf("reports = %d, want 3", log.len())
	}
}

func TestCancelledOwnerContextStopsRescheduling(t *testing.T) {
	src := &scriptedSource{}
	src.push(keys("A"), nil)
	r, _, clock, _ := newTestReconciler(t, src)

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	clock.Advance(0)
	cancel()
	clock.Advance(2 * time.Second)

	if _, ok := r.NextDeadline(); ok {
		t.Fatalf("cycle rescheduled after owner context ended")
	}
	if r.Len() != 1 {
		t.Fatalf("tracked = %d, want entities kept until Shutdown", r.Len())
	}
}

func TestSetVisible(t *testing.T) {
	src := &scriptedSource{}
	src.push(keys("A", "B"), nil)
	src.push(keys("A", "B", "C"), nil)
	r, sc, _, _ := newTestReconciler(t, src)
	ctx := context.Background()

	if err := r.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if sc.VisibleCount() != 2 {
		t.Fatalf("visible nodes = %d, want 2", sc.VisibleCount())
	}

	r.SetVisible(false)
	if r.Visible() || sc.VisibleCount() != 0 {
		t.Fatalf("SetVisible(false) left %d visible nodes", sc.VisibleCount())
	}

	if err := r.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if n, _ := sc.Node(r.Get("C").Handle()); n.Visible {
		t.Fatalf("entity created while hidden is visible")
	}

	r.SetVisible(true)
	if sc.VisibleCount() != 3 {
		t.Fatalf("visible nodes = %d, want 3", sc.VisibleCount())
	}
}

func TestSetVisibleDuringCyclesHidesEverything(t *testing.T) {
	src := &scriptedSource{}
	var ks []string
	for i := range 20 {
		ks = append(ks, string(rune('A'+i)))
		src.push(keys(ks...), nil)
	}
	r, sc, _, _ := newTestReconciler(t, src)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 20 {
			_ = r.RunOnce(ctx)
		}
	}()
	r.SetVisible(false)
	wg.Wait()

	if r.Len() != 20 {
		t.Fatalf("tracked = %d, want 20", r.Len())
	}
	if n := sc.VisibleCount(); n != 0 {
		t.Fatalf("%d nodes visible after SetVisible(false)", n)
	}
}

func TestStartHidden(t *testing.T) {
	src := &scriptedSource{}
	src.push(keys("A"), nil)
	sc := scene.New(nil)
	r, err := New(Config{StartHidden: true}, src, sc)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer r.Shutdown()
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if r.Visible() || sc.VisibleCount() != 0 {
		t.Fatalf("StartHidden entity is visible")
	}
}

func TestConcurrentReadsDuringCycles(t *testing.T) {
	src := &scriptedSource{}
	src.push(keys("A", "B", "C"), nil)
	src.push(keys("B", "C", "D"), nil)
	r, _, _, _ := newTestReconciler(t, src)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			for _, e := range r.Entities() {
				_ = e.Position()
				_ = r.Get(e.Key)
			}
		}
	}()

	for range 20 {
		if err := r.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce error: %v", err)
		}
	}
	close(stop)
	wg.Wait()
}
