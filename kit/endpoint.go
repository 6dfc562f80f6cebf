// Package kit holds the transport-agnostic endpoint abstraction shared by
// the HTTP and MCP surfaces: an Endpoint is a typed request/response
// function, middleware wraps endpoints, and RegisterMCPTool adapts an
// endpoint onto an MCP server.
package kit

import "context"

// Endpoint is a single transport-agnostic operation.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint with cross-cutting behaviour.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares; the first argument is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
