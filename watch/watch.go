// Package watch provides a small "poll SQLite, detect change, run action"
// loop. chatwatch uses it to notice writes to the keyword store (from the
// admin API or MCP tools) and invalidate the keyword cache before its TTL
// expires.
//
// Typical usage:
//
//	w := watch.New(db, watch.Options{Interval: 500 * time.Millisecond})
//	go w.OnChange(ctx, func() error { source.Invalidate(); return nil })
package watch

import (
	"context"
	"database/sql"
	"log/slog"
	"sync/atomic"
	"time"
)

// ChangeDetector reads a version token from the database. Two calls that
// return different values mean "something changed". int64 maps naturally
// to PRAGMA data_version and PRAGMA user_version.
type ChangeDetector func(ctx context.Context, db *sql.DB) (int64, error)

// Options tunes the watcher.
type Options struct {
	// Interval is the polling frequency. Default: 1s.
	Interval time.Duration
	// Debounce is the quiet period after a change before the action
	// fires; more changes inside the window reset the timer. 0 fires
	// immediately.
	Debounce time.Duration
	// Detector overrides the default PragmaDataVersion detector.
	Detector ChangeDetector
	// Logger overrides slog.Default().
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Detector == nil {
		o.Detector = PragmaDataVersion
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher polls a SQLite database and runs an action when a write lands.
type Watcher struct {
	db      *sql.DB
	opts    Options
	version atomic.Int64
	primed  atomic.Bool
}

// New creates a Watcher and reads the baseline version before returning,
// so any write landing after construction is observable even if the
// OnChange loop has not started yet. Call OnChange to start the loop.
func New(db *sql.DB, opts Options) *Watcher {
	opts.defaults()
	w := &Watcher{db: db, opts: opts}
	if v, err := opts.Detector(context.Background(), db); err != nil {
		opts.Logger.Warn("watch: baseline version read failed", "error", err)
	} else {
		w.version.Store(v)
		w.primed.Store(true)
	}
	return w
}

// Version returns the last observed version token.
func (w *Watcher) Version() int64 { return w.version.Load() }

// OnChange blocks until ctx is cancelled, polling at opts.Interval. When
// the detector reports a new version and the debounce window passes
// quietly, action runs. If action errors the version is not advanced, so
// it retries on the next cycle.
func (w *Watcher) OnChange(ctx context.Context, action func() error) {
	log := w.opts.Logger

	// Retry the baseline read only if construction could not get one.
	if !w.primed.Load() {
		if v, err := w.opts.Detector(ctx, w.db); err != nil {
			log.Warn("watch: initial version check failed", "error", err)
		} else {
			w.version.Store(v)
			w.primed.Store(true)
		}
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time
	pending := int64(-1)

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case <-ticker.C:
			cur, err := w.opts.Detector(ctx, w.db)
			if err != nil {
				log.Warn("watch: version check failed", "error", err)
				continue
			}
			if cur == w.version.Load() || cur == pending {
				continue
			}
			pending = cur
			if w.opts.Debounce <= 0 {
				w.fire(log, action, pending)
				pending = -1
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(w.opts.Debounce)
			debounceCh = debounceTimer.C

		case <-debounceCh:
			debounceCh = nil
			if pending >= 0 {
				w.fire(log, action, pending)
				pending = -1
			}
		}
	}
}

func (w *Watcher) fire(log *slog.Logger, action func() error, ver int64) {
	if err := action(); err != nil {
		log.Error("watch: action failed", "error", err, "version", ver)
		return
	}
	w.version.Store(ver)
	log.Debug("watch: change handled", "version", ver)
}

// PragmaDataVersion uses PRAGMA data_version, which increments whenever
// another connection writes to the same database file.
func PragmaDataVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	return v, err
}

// PragmaUserVersion uses PRAGMA user_version, an application-controlled
// integer bumped explicitly after writes. Deterministic, handy in tests.
func PragmaUserVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v)
	return v, err
}
