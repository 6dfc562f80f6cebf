package monitor

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/chatwatch/match"
	"github.com/hazyhaar/chatwatch/monitor/internal/config"
	"github.com/hazyhaar/chatwatch/notify"
	"github.com/hazyhaar/chatwatch/page"
)

// fakeSurface is a controllable page.Surface for engine tests.
type fakeSurface struct {
	mu         sync.Mutex
	containers map[string]bool
	probeErr   error
	aliveErr   error
	scanBatch  []page.Candidate
	scanErr    error

	subscribes int
	liveSubs   int
	deliver    page.DeliverFunc
	scans      int

	events chan page.Event
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{
		containers: map[string]bool{},
		events:     make(chan page.Event, 4),
	}
}

func (f *fakeSurface) setContainer(sel string, present bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers[sel] = present
}

func (f *fakeSurface) HasContainer(_ context.Context, selector string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.probeErr != nil {
		return false, f.probeErr
	}
	return f.containers[selector], nil
}

type fakeSub struct {
	f    *fakeSurface
	once sync.Once
}

func (s *fakeSub) Stop() {
	s.once.Do(func() {
		s.f.mu.Lock()
		s.f.liveSubs--
		s.f.deliver = nil
		s.f.mu.Unlock()
	})
}

func (f *fakeSurface) Subscribe(_ context.Context, _ string, _ page.Selectors, deliver page.DeliverFunc) (page.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes++
	f.liveSubs++
	f.deliver = deliver
	return &fakeSub{f: f}, nil
}

func (f *fakeSurface) push(batch []page.Candidate) bool {
	f.mu.Lock()
	deliver := f.deliver
	f.mu.Unlock()
	if deliver == nil {
		return false
	}
	deliver(batch)
	return true
}

func (f *fakeSurface) ScanAll(_ context.Context, _ page.Selectors) ([]page.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans++
	return f.scanBatch, f.scanErr
}

func (f *fakeSurface) Alive(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aliveErr
}

func (f *fakeSurface) Events() <-chan page.Event { return f.events }

func (f *fakeSurface) counts() (subscribes, live, scans int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes, f.liveSubs, f.scans
}

type staticKeywords []string

func (s staticKeywords) Keywords(context.Context) ([]string, error) { return s, nil }

// collectSink records every notification it receives.
type collectSink struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (c *collectSink) Send(_ context.Context, n notify.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
	return nil
}

func (c *collectSink) Close() error { return nil }

func (c *collectSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func testConfig() config.MonitorConfig {
	return config.MonitorConfig{
		LocatorSweeps:     1,
		LocatorDelay:      time.Millisecond,
		MaxRetries:        2,
		RetryBackoff:      5 * time.Millisecond,
		HeartbeatInterval: time.Hour,
		HeartbeatDeadline: time.Hour,
		FullScanInterval:  time.Hour,
		NavigateSettle:    5 * time.Millisecond,
		RecoveryAttempts:  1,
		RecoveryDelay:     time.Millisecond,
	}
}

func testEngine(t *testing.T, surface *fakeSurface, cfg config.MonitorConfig, keywords ...string) (*Engine, *collectSink) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	pipeline := match.NewPipeline(staticKeywords(keywords), match.NewCache(100, time.Hour), logger)
	sink := &collectSink{}
	sel := page.Selectors{Container: []string{".chat"}, Messages: []string{".msg"}}
	e := New(surface, pipeline, sink, cfg, sel, WithLogger(logger))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go e.Run(ctx)
	return e, sink
}

func waitPhase(t *testing.T, e *Engine, want Phase) Status {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var st Status
	for time.Now().Before(deadline) {
		var err error
		st, err = e.Status(context.Background())
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if st.Phase == want {
			return st
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("phase = %q, want %q (status %+v)", st.Phase, want, st)
	return Status{}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestEngine_StartActivatesAndNotifies(t *testing.T) {
	surface := newFakeSurface()
	surface.setContainer(".chat", true)
	e, sink := testEngine(t, surface, testConfig(), "server down")

	if _, err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	st := waitPhase(t, e, PhaseActive)
	if st.Container != ".chat" {
		t.Errorf("container = %q, want .chat", st.Container)
	}

	waitFor(t, "subscription", func() bool { _, live, _ := surface.counts(); return live == 1 })
	surface.push([]page.Candidate{
		{Text: "the server is down again", Sender: "alice", At: time.Now()},
		{Text: "unrelated chatter", At: time.Now()},
	})

	waitFor(t, "notification", func() bool { return sink.count() == 1 })
	sink.mu.Lock()
	n := sink.sent[0]
	sink.mu.Unlock()
	if n.Keyword != "server down" {
		t.Errorf("keyword = %q, want %q", n.Keyword, "server down")
	}
	if n.Sender != "alice" {
		t.Errorf("sender = %q, want alice", n.Sender)
	}

	st, _ = e.Status(context.Background())
	if st.MatchCount != 1 {
		t.Errorf("match count = %d, want 1", st.MatchCount)
	}
	if st.BatchCount < 1 {
		t.Errorf("batch count = %d, want >= 1", st.BatchCount)
	}
}

func TestEngine_RetryBudgetExhaustedFails(t *testing.T) {
	surface := newFakeSurface() // no container ever matches
	e, _ := testEngine(t, surface, testConfig())

	if _, err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	st := waitPhase(t, e, PhaseFailed)
	if st.RetryCount != 2 {
		t.Errorf("retry count = %d, want 2", st.RetryCount)
	}
	if !strings.Contains(st.LastError, "container not found") {
		t.Errorf("last error = %q, want container not found", st.LastError)
	}

	// Failed is terminal: no further attempts without an explicit start.
	time.Sleep(30 * time.Millisecond)
	if got, _ := e.Status(context.Background()); got.Phase != PhaseFailed {
		t.Errorf("phase drifted to %q after failure", got.Phase)
	}
	if subs, _, _ := surface.counts(); subs != 0 {
		t.Errorf("subscribes = %d, want 0", subs)
	}
}

func TestEngine_StartFromFailedRestarts(t *testing.T) {
	surface := newFakeSurface()
	e, _ := testEngine(t, surface, testConfig())

	e.Start(context.Background())
	waitPhase(t, e, PhaseFailed)

	surface.setContainer(".chat", true)
	if _, err := e.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	st := waitPhase(t, e, PhaseActive)
	if st.RetryCount != 0 {
		t.Errorf("retry count = %d, want 0 after restart", st.RetryCount)
	}
	if st.LastError != "" {
		t.Errorf("last error = %q, want cleared", st.LastError)
	}
}

func TestEngine_StartWhileActiveIsNoOp(t *testing.T) {
	surface := newFakeSurface()
	surface.setContainer(".chat", true)
	e, _ := testEngine(t, surface, testConfig())

	e.Start(context.Background())
	waitPhase(t, e, PhaseActive)

	st, err := e.Start(context.Background())
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if st.Phase != PhaseActive {
		t.Errorf("phase = %q, want active", st.Phase)
	}

	time.Sleep(20 * time.Millisecond)
	if subs, live, _ := surface.counts(); subs != 1 || live != 1 {
		t.Errorf("subscribes = %d live = %d, want exactly one watcher", subs, live)
	}
}

func TestEngine_StopReleasesEverything(t *testing.T) {
	surface := newFakeSurface()
	surface.setContainer(".chat", true)
	e, _ := testEngine(t, surface, testConfig())

	e.Start(context.Background())
	waitPhase(t, e, PhaseActive)

	st, err := e.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if st.Phase != PhaseIdle {
		t.Errorf("phase = %q, want idle", st.Phase)
	}
	if st.Container != "" {
		t.Errorf("container = %q, want empty", st.Container)
	}
	if _, live, _ := surface.counts(); live != 0 {
		t.Errorf("live subscriptions = %d, want 0", live)
	}

	// A batch from the released subscription must be dropped.
	if surface.push([]page.Candidate{{Text: "late", At: time.Now()}}) {
		t.Error("deliver still wired after stop")
	}
}

func TestEngine_StopFromIdleAndRetrying(t *testing.T) {
	surface := newFakeSurface()
	cfg := testConfig()
	cfg.RetryBackoff = time.Hour // park in Retrying
	e, _ := testEngine(t, surface, cfg)

	if st, _ := e.Stop(context.Background()); st.Phase != PhaseIdle {
		t.Errorf("stop from idle: phase = %q", st.Phase)
	}

	e.Start(context.Background())
	waitPhase(t, e, PhaseRetrying)
	st, _ := e.Stop(context.Background())
	if st.Phase != PhaseIdle {
		t.Errorf("stop from retrying: phase = %q", st.Phase)
	}
	if st.RetryCount != 0 {
		t.Errorf("retry count = %d, want 0", st.RetryCount)
	}
}

func TestEngine_HeartbeatMissForcesReinit(t *testing.T) {
	surface := newFakeSurface()
	surface.setContainer(".chat", true)
	cfg := testConfig()
	cfg.HeartbeatInterval = 10 * time.Millisecond
	cfg.HeartbeatDeadline = time.Millisecond
	e, _ := testEngine(t, surface, cfg)

	e.Start(context.Background())
	waitPhase(t, e, PhaseActive)

	// No batches arrive, so the deadline lapses and the engine must tear
	// down the watcher and install a fresh one.
	waitFor(t, "re-subscription", func() bool { subs, _, _ := surface.counts(); return subs >= 2 })
	waitPhase(t, e, PhaseActive)
	waitFor(t, "single live watcher", func() bool { _, live, _ := surface.counts(); return live == 1 })
}

func TestEngine_ProbeRecoveryExhaustedFails(t *testing.T) {
	surface := newFakeSurface()
	surface.setContainer(".chat", true)
	cfg := testConfig()
	cfg.HeartbeatInterval = 10 * time.Millisecond
	cfg.HeartbeatDeadline = time.Hour // deadline never trips, probe path only
	e, _ := testEngine(t, surface, cfg)

	e.Start(context.Background())
	waitPhase(t, e, PhaseActive)

	surface.mu.Lock()
	surface.aliveErr = errors.New("execution context destroyed")
	surface.mu.Unlock()

	st := waitPhase(t, e, PhaseFailed)
	if !strings.Contains(st.LastError, "recovery exhausted") {
		t.Errorf("last error = %q, want recovery exhausted", st.LastError)
	}
	if _, live, _ := surface.counts(); live != 0 {
		t.Errorf("live subscriptions = %d, want 0", live)
	}
}

func TestEngine_NavigateReinitializes(t *testing.T) {
	surface := newFakeSurface()
	surface.setContainer(".chat", true)
	e, _ := testEngine(t, surface, testConfig())

	e.Start(context.Background())
	waitPhase(t, e, PhaseActive)

	surface.events <- page.Event{Kind: page.EventNavigated, URL: "https://example.test/#new", At: time.Now()}

	// Settle delay, re-locate, fresh watcher.
	waitFor(t, "re-subscription", func() bool { subs, _, _ := surface.counts(); return subs == 2 })
	waitPhase(t, e, PhaseActive)
	if _, live, _ := surface.counts(); live != 1 {
		t.Errorf("live subscriptions = %d, want exactly one after navigation", live)
	}
}

func TestEngine_VisibilityTriggersFullScan(t *testing.T) {
	surface := newFakeSurface()
	surface.setContainer(".chat", true)
	surface.scanBatch = []page.Candidate{{Text: "deploy failed in prod", At: time.Now()}}
	e, sink := testEngine(t, surface, testConfig(), "deploy failed")

	e.Start(context.Background())
	waitPhase(t, e, PhaseActive)
	waitFor(t, "initial scan", func() bool { _, _, scans := surface.counts(); return scans >= 1 })
	waitFor(t, "scan notification", func() bool { return sink.count() == 1 })

	surface.events <- page.Event{Kind: page.EventVisible, At: time.Now()}
	waitFor(t, "visibility scan", func() bool { _, _, scans := surface.counts(); return scans >= 2 })

	// The same candidate resurfaces; the dedup cache must swallow it.
	time.Sleep(20 * time.Millisecond)
	if sink.count() != 1 {
		t.Errorf("notifications = %d, want 1 (rescan deduped)", sink.count())
	}
}

func TestEngine_DuplicateBatchesNotifyOnce(t *testing.T) {
	surface := newFakeSurface()
	surface.setContainer(".chat", true)
	e, sink := testEngine(t, surface, testConfig(), "alert")

	e.Start(context.Background())
	waitPhase(t, e, PhaseActive)
	waitFor(t, "subscription", func() bool { _, live, _ := surface.counts(); return live == 1 })

	at := time.Now()
	cand := page.Candidate{Text: "alert: disk full", Sender: "bob", At: at}
	surface.push([]page.Candidate{cand})
	surface.push([]page.Candidate{cand})

	waitFor(t, "notification", func() bool { return sink.count() >= 1 })
	time.Sleep(20 * time.Millisecond)
	if sink.count() != 1 {
		t.Errorf("notifications = %d, want 1", sink.count())
	}
}

// blockingSink parks every Send until released, standing in for a
// webhook retrying against a dead endpoint.
type blockingSink struct {
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func newBlockingSink() *blockingSink {
	return &blockingSink{entered: make(chan struct{}), gate: make(chan struct{})}
}

func (b *blockingSink) Send(ctx context.Context, _ notify.Notification) error {
	b.once.Do(func() { close(b.entered) })
	select {
	case <-b.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *blockingSink) Close() error { return nil }

func TestEngine_SlowSinkDoesNotStallLoop(t *testing.T) {
	surface := newFakeSurface()
	surface.setContainer(".chat", true)

	logger := slog.New(slog.DiscardHandler)
	pipeline := match.NewPipeline(staticKeywords{"alert"}, match.NewCache(100, time.Hour), logger)
	sink := newBlockingSink()
	sel := page.Selectors{Container: []string{".chat"}, Messages: []string{".msg"}}
	e := New(surface, pipeline, sink, testConfig(), sel, WithLogger(logger))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go e.Run(ctx)

	e.Start(context.Background())
	waitPhase(t, e, PhaseActive)
	waitFor(t, "subscription", func() bool { _, live, _ := surface.counts(); return live == 1 })

	surface.push([]page.Candidate{{Text: "alert: disk full", Sender: "bob", At: time.Now()}})

	select {
	case <-sink.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("notification never reached the sink")
	}

	// With the sink parked mid-delivery, commands must still turn
	// around promptly.
	done := make(chan struct{})
	go func() {
		defer close(done)
		st, err := e.Status(context.Background())
		if err != nil {
			t.Errorf("status while sink blocked: %v", err)
			return
		}
		if st.Phase != PhaseActive {
			t.Errorf("phase = %q, want %q", st.Phase, PhaseActive)
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("status blocked behind a slow sink delivery")
	}

	close(sink.gate)
}
