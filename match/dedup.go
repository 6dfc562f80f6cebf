package match

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sync"
	"time"
)

const (
	// DefaultCap is the hard fingerprint cap. When exceeded, the oldest
	// half is evicted in one pass.
	DefaultCap = 1000
	// DefaultStaleness is the maximum candidate age, relative to the last
	// processed timestamp, still eligible for matching.
	DefaultStaleness = 5 * time.Minute

	// bucket is the fingerprint time granularity: re-renders of the same
	// content within one bucket share a fingerprint.
	bucket = time.Minute
)

// Fingerprint derives the deduplication key for a candidate: SHA-256 of
// the hash-normalised content plus the one-minute time bucket. Two
// candidates with equal fingerprints are the same observation regardless
// of which node produced them.
func Fingerprint(normalized string, at time.Time) string {
	h := sha256.New()
	h.Write([]byte(NormalizeForHash(normalized)))
	h.Write([]byte{'|'})
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(at.UnixMilli()/bucket.Milliseconds()))
	h.Write(buf[:])
	return hex.EncodeToString(h.Sum(nil))
}

// Cache is the bounded, insertion-ordered fingerprint set guarding
// against duplicate notifications. It is safe for overlapping pipeline
// invocations: inserts are atomic under one mutex.
type Cache struct {
	mu            sync.Mutex
	cap           int
	staleness     time.Duration
	order         []string
	seen          map[string]struct{}
	lastProcessed time.Time
}

// NewCache creates a Cache. Zero cap or staleness select the defaults.
func NewCache(capacity int, staleness time.Duration) *Cache {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	if staleness <= 0 {
		staleness = DefaultStaleness
	}
	return &Cache{
		cap:       capacity,
		staleness: staleness,
		seen:      make(map[string]struct{}),
	}
}

// ShouldProcess reports whether the candidate should continue down the
// pipeline. False means either the fingerprint was already seen, or the
// candidate is older than the staleness bound relative to the last
// processed timestamp (in which case no fingerprint is recorded).
func (c *Cache) ShouldProcess(normalized string, at time.Time) bool {
	fp := Fingerprint(normalized, at)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, dup := c.seen[fp]; dup {
		return false
	}
	if !c.lastProcessed.IsZero() && at.Before(c.lastProcessed.Add(-c.staleness)) {
		return false
	}

	c.seen[fp] = struct{}{}
	c.order = append(c.order, fp)
	if len(c.order) > c.cap {
		c.evictOldestHalf()
	}
	return true
}

// MarkProcessed advances the last processed timestamp. Called after a
// candidate clears the whole pipeline so the staleness bound tracks real
// throughput, not wall-clock idle time.
func (c *Cache) MarkProcessed(at time.Time) {
	c.mu.Lock()
	if at.After(c.lastProcessed) {
		c.lastProcessed = at
	}
	c.mu.Unlock()
}

// Len returns the current fingerprint count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// Clear drops every fingerprint and resets the staleness clock. The
// engine calls this on stop and on forced re-initialisation.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.order = c.order[:0]
	c.seen = make(map[string]struct{})
	c.lastProcessed = time.Time{}
	c.mu.Unlock()
}

// evictOldestHalf drops the oldest contiguous half in one pass, avoiding
// one-at-a-time eviction churn under sustained load. Caller holds mu.
func (c *Cache) evictOldestHalf() {
	keep := len(c.order) / 2
	for _, fp := range c.order[:len(c.order)-keep] {
		delete(c.seen, fp)
	}
	c.order = append(c.order[:0], c.order[len(c.order)-keep:]...)
}
