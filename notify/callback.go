package notify

import "context"

// CallbackFunc is called for each notification (in-process, zero
// serialisation).
type CallbackFunc func(ctx context.Context, n Notification) error

// Callback delivers notifications via Go function calls, for embedders
// running the monitor in the same binary.
type Callback struct {
	fn CallbackFunc
}

// NewCallback creates a Callback sink. A nil handler drops everything.
func NewCallback(fn CallbackFunc) *Callback {
	return &Callback{fn: fn}
}

func (c *Callback) Send(ctx context.Context, n Notification) error {
	if c.fn != nil {
		return c.fn(ctx, n)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
