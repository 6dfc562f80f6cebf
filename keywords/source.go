package keywords

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/chatwatch/watch"
)

// DefaultCacheTTL bounds how often the Source re-reads the store.
const DefaultCacheTTL = 5 * time.Second

// Source is the read-only, briefly-cached accessor the pipeline uses.
// When the store is temporarily unreachable it serves the last-known
// list (or an empty list if there never was one) instead of failing.
type Source struct {
	store  *Store
	ttl    time.Duration
	logger *slog.Logger

	mu        sync.Mutex
	cached    []string
	hasCache  bool
	fetchedAt time.Time
}

// NewSource creates a Source over the store. Zero ttl selects the default.
func NewSource(store *Store, ttl time.Duration, logger *slog.Logger) *Source {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{store: store, ttl: ttl, logger: logger}
}

// Keywords returns the current keyword phrases, cached for the TTL.
func (s *Source) Keywords(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasCache && time.Since(s.fetchedAt) < s.ttl {
		return s.cached, nil
	}

	phrases, err := s.store.Phrases(ctx)
	if err != nil {
		if s.hasCache {
			// Transient store trouble: serve the last-known list.
			s.logger.Debug("keywords: store unreachable, serving cache", "error", err)
			return s.cached, nil
		}
		s.logger.Debug("keywords: store unreachable, no cache yet", "error", err)
		return nil, nil
	}

	s.cached = phrases
	s.hasCache = true
	s.fetchedAt = time.Now()
	return s.cached, nil
}

// Invalidate drops the cache so the next read hits the store.
func (s *Source) Invalidate() {
	s.mu.Lock()
	s.hasCache = false
	s.cached = nil
	s.mu.Unlock()
}

// WatchStore polls the database for writes and invalidates the cache as
// soon as one lands, so UI edits take effect before the TTL expires.
// The baseline version is read before WatchStore returns; the polling
// loop then runs in its own goroutine until ctx is cancelled. A write
// issued any time after the call is guaranteed to be noticed.
func (s *Source) WatchStore(ctx context.Context, db *sql.DB, interval time.Duration) {
	w := watch.New(db, watch.Options{Interval: interval, Logger: s.logger})
	go w.OnChange(ctx, func() error {
		s.Invalidate()
		return nil
	})
}
