// Package page defines the contract between the monitor engine and the
// host page. The engine never touches the browser directly: it sees the
// page as a Surface it can query with selectors, subscribe to for added
// nodes, and probe for liveness. These are the public types any Surface
// implementation (rod-backed or a test fake) must speak.
package page

import (
	"context"
	"errors"
	"time"
)

// Candidate is raw text extracted from one content node, plus the
// informational sender hint pulled from the node's surroundings.
// Candidates are ephemeral: produced per mutation batch or scan,
// consumed immediately by the matching pipeline.
type Candidate struct {
	Text   string    `json:"text"`
	Sender string    `json:"sender,omitempty"`
	At     time.Time `json:"at"`
}

// EventKind classifies out-of-band signals from the host page.
type EventKind string

const (
	// EventNavigated fires when the page performs an SPA navigation
	// (pushState/replaceState/popstate). The content tree is about to be
	// rebuilt; the engine must re-locate the container.
	EventNavigated EventKind = "navigated"
	// EventVisible fires when the page becomes visible again.
	EventVisible EventKind = "visible"
	// EventOnline fires when the page regains network connectivity.
	EventOnline EventKind = "online"
)

// Event is an out-of-band host-page signal.
type Event struct {
	Kind EventKind
	URL  string // new URL for EventNavigated
	At   time.Time
}

// DeliverFunc receives one batch of candidates from a subscription.
// Batches are delivered in observation order; candidates within a batch
// keep the order the host supplied them in.
type DeliverFunc func(batch []Candidate)

// Subscription is a live added-node feed. Stop releases it; calling Stop
// more than once is harmless.
type Subscription interface {
	Stop()
}

// Selectors is the structural hint set used to locate content. It is
// data, not code: the host structure is unstable and externally
// controlled, so the lookup predicates stay configurable.
type Selectors struct {
	// Container lists root-node selectors, most specific first.
	Container []string `yaml:"container"`
	// Messages lists text-bearing node selectors.
	Messages []string `yaml:"messages"`
	// Senders lists selectors tried inside an enclosing message element
	// to extract the sender hint.
	Senders []string `yaml:"senders"`
}

// Surface is the read-only view of the monitored page. Implementations
// must be safe for use from a single goroutine; the engine serialises all
// calls through its run loop.
type Surface interface {
	// HasContainer reports whether the selector matches a node in the
	// current tree snapshot. It never waits.
	HasContainer(ctx context.Context, selector string) (bool, error)

	// Subscribe installs an added-node observer scoped to the container
	// and delivers batches until Stop or ctx cancellation. The caller owns
	// the returned Subscription; at most one should be live at a time.
	Subscribe(ctx context.Context, container string, sel Selectors, deliver DeliverFunc) (Subscription, error)

	// ScanAll re-enumerates every currently matching message node,
	// not just newly added ones.
	ScanAll(ctx context.Context, sel Selectors) ([]Candidate, error)

	// Alive probes the host context. An error means the context is
	// currently unusable (transient until proven otherwise).
	Alive(ctx context.Context) error

	// Events streams out-of-band signals. The channel is closed when the
	// surface shuts down.
	Events() <-chan Event
}

// ErrContextLost is returned by Surface methods when the host execution
// context has gone away mid-call. It marks the transient branch of the
// error taxonomy: recoverable by waiting and re-probing.
var ErrContextLost = errors.New("page: host context lost")
