package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/net/html"

	"github.com/hazyhaar/chatwatch/page"
)

//go:embed observer.js
var observerJS string

const bindingName = "__chatwatch_binding"

// SurfaceOptions configures the rod-backed surface.
type SurfaceOptions struct {
	// DebounceWindow batches binding records before delivery.
	DebounceWindow time.Duration
	// DebounceMax flushes a batch immediately at this size.
	DebounceMax int
	// NavigateTimeout bounds the initial page load. Default 30s.
	NavigateTimeout time.Duration
	Logger          *slog.Logger
}

func (o *SurfaceOptions) defaults() {
	if o.NavigateTimeout <= 0 {
		o.NavigateTimeout = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Surface exposes one chat page as a page.Surface. It owns the CDP
// binding listener goroutine and the event channel; at most one
// subscription is live at a time.
type Surface struct {
	p      *rod.Page
	logger *slog.Logger
	opts   SurfaceOptions

	ctx    context.Context
	cancel context.CancelFunc

	mu  sync.Mutex
	sub *subscription

	events chan page.Event
}

// rawRecord is the wire shape of one message node from the injected JS.
type rawRecord struct {
	Text   string `json:"text"`
	HTML   string `json:"html"`
	Sender string `json:"sender"`
}

// bindingMsg is the envelope every binding call carries.
type bindingMsg struct {
	Op      string      `json:"op"` // added | navigate | visible | online
	URL     string      `json:"url"`
	Records []rawRecord `json:"records"`
}

// NewSurface opens a tab on the manager's browser, navigates to the chat
// page, installs the CDP binding and the in-page hooks, and starts the
// binding listener.
func NewSurface(ctx context.Context, mgr *Manager, pageURL string, opts SurfaceOptions) (*Surface, error) {
	opts.defaults()

	p, err := mgr.NewPage()
	if err != nil {
		return nil, err
	}

	navCtx, cancelNav := context.WithTimeout(ctx, opts.NavigateTimeout)
	defer cancelNav()
	if err := p.Context(navCtx).Navigate(pageURL); err != nil {
		p.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := p.Context(navCtx).WaitLoad(); err != nil {
		opts.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Surface{
		p:      p,
		logger: opts.Logger,
		opts:   opts,
		ctx:    sctx,
		cancel: cancel,
		events: make(chan page.Event, 16),
	}

	// The binding survives reloads; the injected script does not, so it
	// is re-checked before every subscribe and scan.
	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(p); err != nil {
		s.Close()
		return nil, fmt.Errorf("browser: add binding: %w", err)
	}
	go s.listen()

	if err := s.ensureInjected(sctx); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

// Close releases the tab and the listener. The events channel is closed
// once the listener drains.
func (s *Surface) Close() {
	s.cancel()
	s.p.Close()
}

// ensureInjected installs the observer script if the page's current
// execution context does not carry it (fresh load or full reload).
func (s *Surface) ensureInjected(ctx context.Context) error {
	res, err := s.p.Context(ctx).Eval(`() => !!window.__chatwatch`)
	if err != nil {
		return s.lostContext("probe script", err)
	}
	if res.Value.Bool() {
		return nil
	}
	if _, err := s.p.Context(ctx).Eval(observerJS); err != nil {
		return s.lostContext("inject script", err)
	}
	s.logger.Debug("browser: observer script injected")
	return nil
}

// lostContext maps an eval failure to the transient branch of the error
// taxonomy. The underlying cause goes to the log; callers branch on
// page.ErrContextLost alone.
func (s *Surface) lostContext(op string, err error) error {
	s.logger.Debug("browser: eval failed", "op", op, "error", err)
	return fmt.Errorf("browser: %s: %w", op, page.ErrContextLost)
}

// HasContainer reports whether the selector matches right now.
func (s *Surface) HasContainer(ctx context.Context, selector string) (bool, error) {
	has, _, err := s.p.Context(ctx).Has(selector)
	if err != nil {
		return false, s.lostContext("has container", err)
	}
	return has, nil
}

type subscription struct {
	s    *Surface
	deb  *debouncer
	once sync.Once
}

func (sub *subscription) Stop() {
	sub.once.Do(func() {
		sub.deb.stop()

		sub.s.mu.Lock()
		if sub.s.sub == sub {
			sub.s.sub = nil
		}
		sub.s.mu.Unlock()

		if _, err := sub.s.p.Eval(`() => window.__chatwatch && window.__chatwatch.stop()`); err != nil {
			sub.s.logger.Debug("browser: observer stop eval failed", "error", err)
		}
	})
}

// Subscribe installs the in-page MutationObserver scoped to the
// container and batches its reports through the debouncer.
func (s *Surface) Subscribe(ctx context.Context, container string, sel page.Selectors, deliver page.DeliverFunc) (page.Subscription, error) {
	if err := s.ensureInjected(ctx); err != nil {
		return nil, err
	}

	sub := &subscription{s: s}
	sub.deb = newDebouncer(s.opts.DebounceWindow, s.opts.DebounceMax, deliver)

	s.mu.Lock()
	if s.sub != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("browser: subscription already live")
	}
	s.sub = sub
	s.mu.Unlock()

	res, err := s.p.Context(ctx).Eval(
		`(c, m, sn) => window.__chatwatch.install(c, m, sn)`,
		container, sel.Messages, sel.Senders)
	if err != nil {
		sub.Stop()
		return nil, s.lostContext("install observer", err)
	}
	if !res.Value.Bool() {
		sub.Stop()
		return nil, fmt.Errorf("browser: container %q not present", container)
	}

	s.logger.Debug("browser: observer installed", "container", container)
	return sub, nil
}

// ScanAll re-enumerates every rendered message node.
func (s *Surface) ScanAll(ctx context.Context, sel page.Selectors) ([]page.Candidate, error) {
	if err := s.ensureInjected(ctx); err != nil {
		return nil, err
	}

	res, err := s.p.Context(ctx).Eval(
		`(m, sn) => window.__chatwatch.scan(m, sn)`,
		sel.Messages, sel.Senders)
	if err != nil {
		return nil, s.lostContext("scan", err)
	}

	var raws []rawRecord
	if err := res.Value.Unmarshal(&raws); err != nil {
		return nil, fmt.Errorf("browser: decode scan result: %w", err)
	}

	now := time.Now()
	out := make([]page.Candidate, 0, len(raws))
	for _, r := range raws {
		if c, ok := candidateFrom(r, now); ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// Alive probes the host execution context.
func (s *Surface) Alive(ctx context.Context) error {
	if _, err := s.p.Context(ctx).Eval(`() => true`); err != nil {
		return s.lostContext("alive", err)
	}
	return nil
}

func (s *Surface) Events() <-chan page.Event { return s.events }

// listen routes binding calls to the live subscription and the event
// channel until the surface shuts down.
func (s *Surface) listen() {
	defer close(s.events)

	s.p.Context(s.ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		var msg bindingMsg
		if err := json.Unmarshal([]byte(e.Payload), &msg); err != nil {
			s.logger.Warn("browser: bad binding payload", "error", err)
			return
		}

		switch msg.Op {
		case "added":
			s.mu.Lock()
			sub := s.sub
			s.mu.Unlock()
			if sub == nil {
				return
			}
			now := time.Now()
			for _, r := range msg.Records {
				if c, ok := candidateFrom(r, now); ok {
					sub.deb.add(c)
				}
			}
		case "navigate":
			s.emit(page.Event{Kind: page.EventNavigated, URL: msg.URL, At: time.Now()})
		case "visible":
			s.emit(page.Event{Kind: page.EventVisible, At: time.Now()})
		case "online":
			s.emit(page.Event{Kind: page.EventOnline, At: time.Now()})
		default:
			s.logger.Warn("browser: unknown binding op", "op", msg.Op)
		}
	})()
}

// emit drops the event when the engine is not draining; events are
// advisory and the full-scan ticker covers anything missed.
func (s *Surface) emit(ev page.Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Debug("browser: event dropped", "kind", ev.Kind)
	}
}

// candidateFrom turns one raw record into a Candidate. Records that ship
// markup instead of text get their text extracted here.
func candidateFrom(r rawRecord, at time.Time) (page.Candidate, bool) {
	text := strings.TrimSpace(r.Text)
	if text == "" && r.HTML != "" {
		text = htmlText(r.HTML)
	}
	if text == "" {
		return page.Candidate{}, false
	}
	return page.Candidate{Text: text, Sender: strings.TrimSpace(r.Sender), At: at}, true
}

// htmlText collects the visible text of an HTML fragment.
func htmlText(fragment string) string {
	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return sb.String()
}
