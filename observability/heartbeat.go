package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"
)

// RuntimeMetrics is a point-in-time sample of Go process health,
// attached to every heartbeat row.
type RuntimeMetrics struct {
	GoroutinesCount int
	MemoryAllocMB   float64
	MemorySysMB     float64
	GCCount         uint32
}

// CollectRuntimeMetrics samples the runtime. Cheap enough to call on
// every heartbeat.
func CollectRuntimeMetrics() RuntimeMetrics {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return RuntimeMetrics{
		GoroutinesCount: runtime.NumGoroutine(),
		MemoryAllocMB:   float64(mem.Alloc) / 1024 / 1024,
		MemorySysMB:     float64(mem.Sys) / 1024 / 1024,
		GCCount:         mem.NumGC,
	}
}

// HeartbeatWriter periodically records daemon liveness in the
// worker_heartbeats table. The /status endpoint reads the latest row
// back through LatestHeartbeat, so an external watchdog can tell a hung
// daemon from a running one without talking to the engine.
type HeartbeatWriter struct {
	db       *sql.DB
	worker   string
	hostname string
	pid      int
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	done     chan struct{}
}

// HeartbeatOption customises a HeartbeatWriter.
type HeartbeatOption func(*HeartbeatWriter)

// WithHeartbeatLogger sets the logger for write failures.
func WithHeartbeatLogger(l *slog.Logger) HeartbeatOption {
	return func(hw *HeartbeatWriter) { hw.logger = l }
}

// NewHeartbeatWriter creates a writer beating at the given interval.
func NewHeartbeatWriter(db *sql.DB, worker string, interval time.Duration, opts ...HeartbeatOption) *HeartbeatWriter {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	hw := &HeartbeatWriter{
		db:       db,
		worker:   worker,
		hostname: hostname,
		pid:      os.Getpid(),
		interval: interval,
		logger:   slog.Default(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(hw)
	}
	return hw
}

// Start launches the heartbeat goroutine: one row immediately, then one
// per interval until Stop or ctx cancellation.
func (hw *HeartbeatWriter) Start(ctx context.Context) {
	go hw.loop(ctx)
}

// WriteHeartbeat records a single heartbeat row now.
func (hw *HeartbeatWriter) WriteHeartbeat() error {
	m := CollectRuntimeMetrics()
	_, err := hw.db.Exec(`
		INSERT INTO worker_heartbeats (
			worker_name, hostname, worker_pid, timestamp,
			goroutines_count, memory_alloc_mb, memory_sys_mb, gc_count
		) VALUES (?,?,?,?,?,?,?,?)`,
		hw.worker, hw.hostname, hw.pid, time.Now().Unix(),
		m.GoroutinesCount, m.MemoryAllocMB, m.MemorySysMB, m.GCCount)
	if err != nil {
		return fmt.Errorf("observability: insert heartbeat: %w", err)
	}
	return nil
}

// Stop signals the goroutine to exit and waits for it.
func (hw *HeartbeatWriter) Stop() {
	close(hw.stop)
	<-hw.done
}

func (hw *HeartbeatWriter) loop(ctx context.Context) {
	defer close(hw.done)

	beat := func() {
		if err := hw.WriteHeartbeat(); err != nil {
			hw.logger.Error("observability: heartbeat write failed",
				"worker", hw.worker, "error", err)
		}
	}
	beat()

	ticker := time.NewTicker(hw.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-hw.stop:
			return
		case <-ticker.C:
			beat()
		}
	}
}

// HeartbeatStatus is the latest heartbeat for a worker with the
// staleness verdict precomputed for status reporting.
type HeartbeatStatus struct {
	WorkerName      string    `json:"worker_name"`
	Hostname        string    `json:"hostname"`
	PID             int       `json:"pid"`
	Timestamp       time.Time `json:"timestamp"`
	GoroutinesCount int       `json:"goroutines_count"`
	MemoryAllocMB   float64   `json:"memory_alloc_mb"`
	MemorySysMB     float64   `json:"memory_sys_mb"`
	GCCount         int       `json:"gc_count"`
	// Alive is true while the last beat is within the staleness
	// threshold.
	Alive      bool           `json:"alive"`
	StaleSince *time.Duration `json:"stale_since,omitempty"`
}

// LatestHeartbeat returns the most recent heartbeat for the worker, or
// nil, nil when none has been recorded yet. stalenessThreshold draws the
// alive/stale boundary; 3x the write interval is a sane choice.
func LatestHeartbeat(ctx context.Context, db *sql.DB, worker string, stalenessThreshold time.Duration) (*HeartbeatStatus, error) {
	row := db.QueryRowContext(ctx, `
		SELECT worker_name, hostname, worker_pid, timestamp,
		       goroutines_count, memory_alloc_mb, memory_sys_mb, gc_count
		FROM worker_heartbeats
		WHERE worker_name = ?
		ORDER BY timestamp DESC LIMIT 1`, worker)

	var hs HeartbeatStatus
	var ts int64
	err := row.Scan(&hs.WorkerName, &hs.Hostname, &hs.PID, &ts,
		&hs.GoroutinesCount, &hs.MemoryAllocMB, &hs.MemorySysMB, &hs.GCCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("observability: query latest heartbeat: %w", err)
	}

	hs.Timestamp = time.Unix(ts, 0)
	if age := time.Since(hs.Timestamp); age > stalenessThreshold {
		stale := age - stalenessThreshold
		hs.StaleSince = &stale
	} else {
		hs.Alive = true
	}
	return &hs, nil
}

// CleanupHeartbeats deletes heartbeat rows older than retentionDays.
func CleanupHeartbeats(ctx context.Context, db *sql.DB, retentionDays int) (int64, error) {
	threshold := time.Now().AddDate(0, 0, -retentionDays).Unix()
	result, err := db.ExecContext(ctx,
		"DELETE FROM worker_heartbeats WHERE timestamp < ?", threshold)
	if err != nil {
		return 0, fmt.Errorf("observability: cleanup heartbeats: %w", err)
	}
	return result.RowsAffected()
}
