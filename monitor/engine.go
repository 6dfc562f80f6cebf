// Package monitor implements the live content monitoring engine: container
// discovery, mutation watching, the retry/heartbeat state machine, and the
// periodic full-scan fallback. The engine assumes the host page is
// unreliable — its content tree can be torn down and rebuilt, its script
// context invalidated, and its structural selectors may stop matching — and
// treats every failure as a phase transition rather than an error escaping
// the run loop.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hazyhaar/chatwatch/match"
	"github.com/hazyhaar/chatwatch/monitor/internal/config"
	"github.com/hazyhaar/chatwatch/notify"
	"github.com/hazyhaar/chatwatch/observability"
	"github.com/hazyhaar/chatwatch/page"
	"github.com/hazyhaar/chatwatch/retryable"
)

// ErrContainerNotFound reports that no container selector matched within
// the locator's sweep budget. Recoverable — it feeds the retry path.
var ErrContainerNotFound = errors.New("monitor: container not found")

const (
	// notifyQueueCap bounds the dispatch queue between the run loop and
	// the sink goroutine. A full queue drops the notification rather
	// than stall the loop.
	notifyQueueCap = 64
	// dispatchTimeout caps one sink delivery, including any retries the
	// sink does internally.
	dispatchTimeout = 30 * time.Second
)

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdStop
	cmdStatus
)

type command struct {
	kind  cmdKind
	reply chan Status
}

type initResult struct {
	gen       int
	container string
	err       error
}

type batchMsg struct {
	gen   int
	batch []page.Candidate
	scan  bool
}

type probeResult struct {
	gen int
	err error
}

// Engine is the monitor state machine. All mutable state is owned by the
// single Run goroutine; external callers talk to it only through Start,
// Stop and Status, each answered with exactly one reply.
type Engine struct {
	surface  page.Surface
	pipeline *match.Pipeline
	sink     notify.Sink
	cfg      config.MonitorConfig
	sel      page.Selectors
	logger   *slog.Logger
	now      func() time.Time

	metrics *observability.MetricsManager
	events  *observability.EventLogger

	cmdCh    chan command
	initCh   chan initResult
	batchCh  chan batchMsg
	probeCh  chan probeResult
	notifyCh chan notify.Notification

	// Run-loop state. Never touched outside the loop.
	phase      Phase
	container  string
	sub        page.Subscription
	generation int
	retryCount int
	lastError  string

	retryTimer *time.Timer
	navTimer   *time.Timer

	startedAt       time.Time
	lastHeartbeatAt time.Time
	lastFullScanAt  time.Time
	lastMatchAt     time.Time
	matchCount      int64
	batchCount      int64
}

// Option customises an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock injects the time source used for heartbeat and staleness
// bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetrics records engine counters to the observability store.
func WithMetrics(mm *observability.MetricsManager) Option {
	return func(e *Engine) { e.metrics = mm }
}

// WithEvents records lifecycle events to the observability store.
func WithEvents(el *observability.EventLogger) Option {
	return func(e *Engine) { e.events = el }
}

// New creates an Engine over the given surface, pipeline and sink. Call
// Run before issuing commands.
func New(surface page.Surface, pipeline *match.Pipeline, sink notify.Sink, cfg config.MonitorConfig, sel page.Selectors, opts ...Option) *Engine {
	e := &Engine{
		surface:  surface,
		pipeline: pipeline,
		sink:     sink,
		cfg:      cfg,
		sel:      sel,
		logger:   slog.Default(),
		now:      time.Now,
		phase:    PhaseIdle,
		cmdCh:    make(chan command),
		initCh:   make(chan initResult),
		batchCh:  make(chan batchMsg, 16),
		probeCh:  make(chan probeResult),
		notifyCh: make(chan notify.Notification, notifyQueueCap),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Start asks the engine to begin monitoring. A start while the engine is
// already Initializing, Active or Retrying is a no-op.
func (e *Engine) Start(ctx context.Context) (Status, error) {
	return e.send(ctx, cmdStart)
}

// Stop releases the watcher, cancels timers, clears the dedup cache and
// returns the engine to Idle. Valid from any phase.
func (e *Engine) Stop(ctx context.Context) (Status, error) {
	return e.send(ctx, cmdStop)
}

// Status returns a snapshot of the engine.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	return e.send(ctx, cmdStatus)
}

func (e *Engine) send(ctx context.Context, kind cmdKind) (Status, error) {
	reply := make(chan Status, 1)
	select {
	case e.cmdCh <- command{kind: kind, reply: reply}:
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// Run drives the state machine until ctx is cancelled. Every mutation of
// engine state happens here, so the phases and the single watcher handle
// need no locking.
func (e *Engine) Run(ctx context.Context) error {
	heartbeat := time.NewTicker(e.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	fullScan := time.NewTicker(e.cfg.FullScanInterval)
	defer fullScan.Stop()

	events := e.surface.Events()

	// Sink deliveries run off-loop: a slow or retrying sink must not
	// starve commands, events or the heartbeat.
	go e.dispatchLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			e.teardown()
			return ctx.Err()

		case cmd := <-e.cmdCh:
			e.handleCommand(ctx, cmd)

		case res := <-e.initCh:
			e.handleInitResult(ctx, res)

		case msg := <-e.batchCh:
			e.handleBatch(ctx, msg)

		case res := <-e.probeCh:
			e.handleProbe(res)

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			e.handleEvent(ctx, ev)

		case <-timerC(e.retryTimer):
			e.retryTimer = nil
			if e.phase == PhaseRetrying {
				e.beginInit(ctx)
			}

		case <-timerC(e.navTimer):
			e.navTimer = nil
			if e.phase == PhaseInitializing {
				e.beginInit(ctx)
			}

		case <-heartbeat.C:
			e.checkHeartbeat(ctx)

		case <-fullScan.C:
			e.triggerFullScan(ctx, "interval")
		}
	}
}

// timerC returns the timer's channel, or a nil channel (blocks forever)
// when the timer is not armed.
func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func (e *Engine) handleCommand(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdStart:
		switch e.phase {
		case PhaseInitializing, PhaseActive, PhaseRetrying:
			// Already running: no-op, no duplicate watcher.
		default:
			e.retryCount = 0
			e.lastError = ""
			e.startedAt = e.now()
			e.pipeline.Cache().Clear()
			e.logEvent(ctx, "lifecycle", "start", true)
			e.beginInit(ctx)
		}
	case cmdStop:
		e.stop()
		e.logEvent(ctx, "lifecycle", "stop", true)
	case cmdStatus:
		// Snapshot only.
	}
	cmd.reply <- e.snapshot()
}

func (e *Engine) snapshot() Status {
	return Status{
		Phase:           e.phase,
		Container:       e.container,
		RetryCount:      e.retryCount,
		MaxRetries:      e.cfg.MaxRetries,
		StartedAt:       e.startedAt,
		LastHeartbeatAt: e.lastHeartbeatAt,
		LastFullScanAt:  e.lastFullScanAt,
		LastMatchAt:     e.lastMatchAt,
		MatchCount:      e.matchCount,
		BatchCount:      e.batchCount,
		LastError:       e.lastError,
	}
}

// beginInit enters Initializing and runs the container locator off-loop.
// The generation tag lets the loop drop results that a stop or navigation
// has since made stale.
func (e *Engine) beginInit(ctx context.Context) {
	e.phase = PhaseInitializing
	gen := e.generation
	go func() {
		container, err := e.locateContainer(ctx)
		select {
		case e.initCh <- initResult{gen: gen, container: container, err: err}:
		case <-ctx.Done():
		}
	}()
}

// locateContainer sweeps the selector list most-specific-first, waiting a
// fixed delay between sweeps. Broader selectors risk matching an
// unrelated ancestor, so order is preserved.
func (e *Engine) locateContainer(ctx context.Context) (string, error) {
	return retryable.DoValue(ctx, retryable.Policy{
		Attempts: e.cfg.LocatorSweeps,
		Delay:    e.cfg.LocatorDelay,
		Logger:   e.logger,
		Label:    "locate container",
	}, func(ctx context.Context) (string, error) {
		for _, sel := range e.sel.Container {
			ok, err := e.surface.HasContainer(ctx, sel)
			if err != nil {
				return "", fmt.Errorf("monitor: probe %q: %w", sel, err)
			}
			if ok {
				return sel, nil
			}
		}
		return "", ErrContainerNotFound
	})
}

func (e *Engine) handleInitResult(ctx context.Context, res initResult) {
	if res.gen != e.generation || e.phase != PhaseInitializing {
		return // stale
	}

	if res.err == nil {
		res.err = e.installWatcher(ctx, res.container)
	}
	if res.err != nil {
		e.lastError = res.err.Error()
		if e.retryCount < e.cfg.MaxRetries {
			e.retryCount++
			e.phase = PhaseRetrying
			e.retryTimer = time.NewTimer(e.cfg.RetryBackoff)
			e.logger.Warn("monitor: initialization failed, retrying",
				"retry", e.retryCount, "max_retries", e.cfg.MaxRetries, "error", res.err)
		} else {
			e.fail(ctx, res.err)
		}
		return
	}

	e.container = res.container
	e.retryCount = 0
	e.phase = PhaseActive
	e.lastHeartbeatAt = e.now()
	e.logger.Info("monitor: active", "container", e.container)
	e.logEvent(ctx, "lifecycle", "active", true)

	// Immediate full scan catches messages that landed before the
	// watcher attached.
	e.triggerFullScan(ctx, "initial")
}

// installWatcher releases any existing subscription before creating the
// new one. The exactly-one invariant lives here, never at call sites.
func (e *Engine) installWatcher(ctx context.Context, container string) error {
	e.releaseWatcher()
	gen := e.generation
	sub, err := e.surface.Subscribe(ctx, container, e.sel, func(batch []page.Candidate) {
		select {
		case e.batchCh <- batchMsg{gen: gen, batch: batch}:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return fmt.Errorf("monitor: subscribe: %w", err)
	}
	e.sub = sub
	return nil
}

// releaseWatcher stops the live subscription (if any) and bumps the
// generation so in-flight batches, probes and init results are dropped.
func (e *Engine) releaseWatcher() {
	if e.sub != nil {
		e.sub.Stop()
		e.sub = nil
	}
	e.generation++
}

func (e *Engine) handleBatch(ctx context.Context, msg batchMsg) {
	if msg.gen != e.generation || e.phase != PhaseActive {
		return // stale completion, dropped before dispatch
	}

	now := e.now()
	e.lastHeartbeatAt = now // batch arrival confirms liveness
	if msg.scan {
		e.lastFullScanAt = now
	}
	e.batchCount++
	e.record(observability.MetricBatchesProcessed, 1)

	results := e.pipeline.ProcessBatch(ctx, msg.batch)
	for _, r := range results {
		e.lastMatchAt = now
		e.matchCount++
		e.record(observability.MetricMatchesDetected, 1)
		e.logEvent(ctx, "match", r.Keyword, true)

		// Fire-and-forget: a lost notification is not re-sent, the
		// dedup cache already prevents re-matching.
		select {
		case e.notifyCh <- notify.FromResult(r):
		default:
			e.logger.Warn("monitor: notification queue full, dropping",
				"keyword", r.Keyword)
		}
	}
}

// dispatchLoop drains the notification queue onto the sink, one delivery
// at a time, each bounded by dispatchTimeout.
func (e *Engine) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-e.notifyCh:
			sendCtx, cancel := context.WithTimeout(ctx, dispatchTimeout)
			err := e.sink.Send(sendCtx, n)
			cancel()
			if err != nil {
				e.logger.Warn("monitor: notification dispatch failed",
					"title", n.Title, "error", err)
			}
		}
	}
}

// checkHeartbeat runs on every heartbeat tick while Active. A deadline
// miss clears the dedup cache and forces exactly one re-initialization:
// resetting lastHeartbeatAt here keeps the next tick from re-firing while
// the re-init is in flight. Otherwise the host context is probed
// asynchronously, with bounded recovery on failure.
func (e *Engine) checkHeartbeat(ctx context.Context) {
	if e.phase != PhaseActive {
		return
	}

	if e.sub == nil || e.now().Sub(e.lastHeartbeatAt) > e.cfg.HeartbeatDeadline {
		e.logger.Warn("monitor: heartbeat deadline missed, reinitializing",
			"last_heartbeat", e.lastHeartbeatAt)
		e.pipeline.Cache().Clear()
		e.releaseWatcher()
		e.lastHeartbeatAt = e.now()
		e.record(observability.MetricMonitorRestarts, 1)
		e.logEvent(ctx, "recovery", "heartbeat_miss", true)
		e.beginInit(ctx)
		return
	}

	gen := e.generation
	go func() {
		err := e.surface.Alive(ctx)
		if err != nil {
			err = retryable.Do(ctx, retryable.Policy{
				Attempts: e.cfg.RecoveryAttempts,
				Delay:    e.cfg.RecoveryDelay,
				Logger:   e.logger,
				Label:    "context recovery",
			}, e.surface.Alive)
		}
		select {
		case e.probeCh <- probeResult{gen: gen, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (e *Engine) handleProbe(res probeResult) {
	if res.gen != e.generation || e.phase != PhaseActive {
		return
	}
	if res.err != nil {
		// Recovery attempts exhausted: the context is gone for good.
		e.fail(context.Background(), fmt.Errorf("monitor: context recovery exhausted: %w", res.err))
		return
	}
	e.lastHeartbeatAt = e.now()
}

func (e *Engine) handleEvent(ctx context.Context, ev page.Event) {
	switch ev.Kind {
	case page.EventNavigated:
		e.handleNavigate(ctx, ev.URL)
	case page.EventVisible, page.EventOnline:
		e.triggerFullScan(ctx, string(ev.Kind))
	}
}

// handleNavigate reacts to an SPA navigation: the content tree is about
// to be rebuilt, so the watcher and the dedup cache are both worthless.
// Re-location waits a settle delay for the new view to render.
func (e *Engine) handleNavigate(ctx context.Context, url string) {
	switch e.phase {
	case PhaseIdle, PhaseFailed:
		return
	}
	e.logger.Info("monitor: page navigated, reinitializing", "url", url)
	e.releaseWatcher()
	e.pipeline.Cache().Clear()
	e.stopTimers()
	e.container = ""
	e.phase = PhaseInitializing
	e.navTimer = time.NewTimer(e.cfg.NavigateSettle)
	e.logEvent(ctx, "recovery", "navigated", true)
}

// triggerFullScan re-enumerates the whole visible tree off-loop and feeds
// the result through the same pipeline the watcher uses, so the shared
// dedup cache keeps it from re-notifying.
func (e *Engine) triggerFullScan(ctx context.Context, reason string) {
	if e.phase != PhaseActive {
		return
	}
	e.record(observability.MetricScansPerformed, 1)
	gen := e.generation
	go func() {
		batch, err := e.surface.ScanAll(ctx, e.sel)
		if err != nil {
			e.logger.Debug("monitor: full scan failed", "reason", reason, "error", err)
			return
		}
		select {
		case e.batchCh <- batchMsg{gen: gen, batch: batch, scan: true}:
		case <-ctx.Done():
		}
	}()
}

// stop implements the external stop command, valid from any phase.
func (e *Engine) stop() {
	e.releaseWatcher()
	e.stopTimers()
	e.pipeline.Cache().Clear()
	e.phase = PhaseIdle
	e.container = ""
	e.retryCount = 0
	e.logger.Info("monitor: stopped")
}

func (e *Engine) fail(ctx context.Context, err error) {
	e.releaseWatcher()
	e.stopTimers()
	e.phase = PhaseFailed
	e.lastError = err.Error()
	e.logger.Error("monitor: failed, awaiting external restart", "error", err)
	e.logEvent(ctx, "lifecycle", "failed", false)
}

func (e *Engine) stopTimers() {
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
	if e.navTimer != nil {
		e.navTimer.Stop()
		e.navTimer = nil
	}
}

func (e *Engine) teardown() {
	e.releaseWatcher()
	e.stopTimers()
	e.phase = PhaseIdle
}

func (e *Engine) record(name string, value float64) {
	if e.metrics != nil {
		e.metrics.RecordSimple(name, value, "count")
	}
}

func (e *Engine) logEvent(ctx context.Context, eventType, action string, success bool) {
	if e.events == nil {
		return
	}
	e.events.LogEvent(ctx, observability.Event{
		EventType:   eventType,
		ServiceName: "chatwatch",
		EntityType:  "monitor",
		EntityID:    strconv.Itoa(e.generation),
		Action:      action,
		Success:     success,
	})
}
