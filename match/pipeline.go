package match

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/chatwatch/page"
)

// KeywordSource supplies the current keyword list. Implementations are
// expected to cache briefly and to degrade to a last-known list when the
// backing store is unreachable.
type KeywordSource interface {
	Keywords(ctx context.Context) ([]string, error)
}

// Result is a successful match, immutable once produced. The engine hands
// it to the notification dispatcher and discards it; no message history
// is kept.
type Result struct {
	Text    string    `json:"text"`
	Keyword string    `json:"keyword"`
	Sender  string    `json:"sender,omitempty"`
	At      time.Time `json:"at"`
}

// PipelineError marks a single candidate that failed normalisation or
// matching. It aborts that candidate only, never the batch.
type PipelineError struct {
	Stage string
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("match: %s: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Pipeline chains Normalizer → Cache → Matcher for one candidate at a
// time. Both the mutation watcher and the full-scan fallback feed it, so
// the shared Cache is the sole defence against double notification.
type Pipeline struct {
	source KeywordSource
	cache  *Cache
	logger *slog.Logger
}

// NewPipeline builds a Pipeline over the given keyword source and cache.
func NewPipeline(source KeywordSource, cache *Cache, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cache == nil {
		cache = NewCache(0, 0)
	}
	return &Pipeline{source: source, cache: cache, logger: logger}
}

// Cache exposes the shared dedup cache (the engine clears it on stop and
// forced re-initialisation).
func (p *Pipeline) Cache() *Cache { return p.cache }

// Process runs one candidate through the pipeline. It returns (nil, nil)
// when the candidate is empty, a duplicate, stale, or simply does not
// match. A non-nil error is always a *PipelineError scoped to this one
// candidate.
func (p *Pipeline) Process(ctx context.Context, cand page.Candidate) (*Result, error) {
	normalized := Normalize(cand.Text)
	if normalized == "" {
		return nil, nil
	}

	at := cand.At
	if at.IsZero() {
		at = time.Now()
	}

	if !p.cache.ShouldProcess(normalized, at) {
		return nil, nil
	}

	keywords, err := p.source.Keywords(ctx)
	if err != nil {
		return nil, &PipelineError{Stage: "keywords", Err: err}
	}
	if len(keywords) == 0 {
		return nil, nil
	}

	kw, ok := Match(normalized, keywords)
	if !ok {
		return nil, nil
	}

	p.cache.MarkProcessed(at)
	p.logger.Debug("match: keyword hit",
		"keyword", kw, "preview", preview(normalized, 80))

	return &Result{Text: normalized, Keyword: kw, Sender: cand.Sender, At: at}, nil
}

// ProcessBatch runs each candidate in order, collecting results and
// swallowing per-candidate errors at low severity so one malformed node
// never aborts the batch.
func (p *Pipeline) ProcessBatch(ctx context.Context, batch []page.Candidate) []*Result {
	var results []*Result
	for _, cand := range batch {
		res, err := p.Process(ctx, cand)
		if err != nil {
			p.logger.Debug("match: candidate skipped", "error", err)
			continue
		}
		if res != nil {
			results = append(results, res)
		}
	}
	return results
}

func preview(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
