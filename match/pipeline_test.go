package match

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hazyhaar/chatwatch/page"
)

type staticSource struct {
	keywords []string
	err      error
}

func (s *staticSource) Keywords(context.Context) ([]string, error) {
	return s.keywords, s.err
}

func TestPipelineScenario(t *testing.T) {
	// Combined keyword wins over single tokens, and the identical input
	// within the same minute bucket produces no second result.
	src := &staticSource{keywords: []string{"urgent", "server down"}}
	p := NewPipeline(src, NewCache(0, 0), nil)
	ctx := context.Background()
	at := time.Now()

	res, err := p.Process(ctx, page.Candidate{Text: "the server is down now", At: at})
	if err != nil {
		t.Fatal(err)
	}
	if res == nil || res.Keyword != "server down" {
		t.Fatalf("got %+v, want match on combined keyword", res)
	}

	res, err = p.Process(ctx, page.Candidate{Text: "the server is down now", At: at.Add(10 * time.Second)})
	if err != nil {
		t.Fatal(err)
	}
	if res != nil {
		t.Fatalf("duplicate within bucket produced a second result: %+v", res)
	}
}

func TestPipelineEmptyAndNoMatch(t *testing.T) {
	src := &staticSource{keywords: []string{"alert"}}
	p := NewPipeline(src, NewCache(0, 0), nil)
	ctx := context.Background()

	res, err := p.Process(ctx, page.Candidate{Text: "   "})
	if err != nil || res != nil {
		t.Fatalf("empty text: got (%+v, %v)", res, err)
	}

	res, err = p.Process(ctx, page.Candidate{Text: "nothing interesting", At: time.Now()})
	if err != nil || res != nil {
		t.Fatalf("no match: got (%+v, %v)", res, err)
	}
}

func TestPipelineKeywordErrorIsPerCandidate(t *testing.T) {
	src := &staticSource{err: errors.New("store unreachable")}
	p := NewPipeline(src, NewCache(0, 0), nil)

	_, err := p.Process(context.Background(), page.Candidate{Text: "hello", At: time.Now()})
	var pe *PipelineError
	if !errors.As(err, &pe) {
		t.Fatalf("got %v, want *PipelineError", err)
	}
	if pe.Stage != "keywords" {
		t.Errorf("stage = %q", pe.Stage)
	}
}

func TestProcessBatchSkipsFailedCandidates(t *testing.T) {
	src := &staticSource{keywords: []string{"ping"}}
	p := NewPipeline(src, NewCache(0, 0), nil)
	now := time.Now()

	results := p.ProcessBatch(context.Background(), []page.Candidate{
		{Text: "first ping", At: now},
		{Text: "", At: now},
		{Text: "second ping here", At: now},
	})
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
}
