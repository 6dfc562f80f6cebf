package browser

import (
	"sync"
	"time"

	"github.com/hazyhaar/chatwatch/page"
)

// debouncer batches candidates arriving from the CDP binding. A batch is
// flushed when the window elapses with no new arrivals, or immediately
// when the buffer fills. Safe for concurrent add and stop.
type debouncer struct {
	window  time.Duration
	max     int
	flushFn func([]page.Candidate)

	mu      sync.Mutex
	buf     []page.Candidate
	timer   *time.Timer
	stopped bool
}

func newDebouncer(window time.Duration, max int, flushFn func([]page.Candidate)) *debouncer {
	if window <= 0 {
		window = 250 * time.Millisecond
	}
	if max <= 0 {
		max = 200
	}
	return &debouncer{window: window, max: max, flushFn: flushFn}
}

func (d *debouncer) add(c page.Candidate) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.buf = append(d.buf, c)

	if len(d.buf) >= d.max {
		batch := d.take()
		d.mu.Unlock()
		d.flushFn(batch)
		return
	}

	if d.timer == nil {
		d.timer = time.AfterFunc(d.window, d.onTimer)
	} else {
		d.timer.Reset(d.window)
	}
	d.mu.Unlock()
}

func (d *debouncer) onTimer() {
	d.mu.Lock()
	if d.stopped || len(d.buf) == 0 {
		d.mu.Unlock()
		return
	}
	batch := d.take()
	d.mu.Unlock()
	d.flushFn(batch)
}

// take must be called with the lock held.
func (d *debouncer) take() []page.Candidate {
	batch := d.buf
	d.buf = nil
	if d.timer != nil {
		d.timer.Stop()
	}
	return batch
}

// stop drops whatever is buffered. Anything pending belongs to a
// released subscription and must not be delivered.
func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.buf = nil
	if d.timer != nil {
		d.timer.Stop()
	}
}
