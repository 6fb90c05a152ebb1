package broker

import (
	"context"
)

// FillHandler receives asynchronous fill/rejection reports. The handler is
// invoked from the client's own goroutine; it must not block for long.
type FillHandler func(Fill)

// ExecutionClient is the order execution interface the engine depends on.
// Submit returns once the broker acknowledges the order; the terminal
// fill or business rejection arrives later through the registered
// FillHandler.
type ExecutionClient interface {
	// Name returns the name of the broker backend
	Name() string

	// Initialize sets up the client with credentials
	Initialize(ctx context.Context, credentials *Credentials) error

	// Quote returns the current best bid/ask for a symbol
	Quote(ctx context.Context, symbol string) (*Quote, error)

	// Account returns the current account snapshot
	Account(ctx context.Context) (*AccountSnapshot, error)

	// Submit places an order and returns the broker acknowledgement
	Submit(ctx context.Context, req *OrderRequest) (*OrderAck, error)

	// Cancel cancels an order that has not been acknowledged as filled.
	// After a fill the only way out of a position is a compensating order.
	Cancel(ctx context.Context, symbol string, orderID string) error

	// SetFillHandler registers the asynchronous fill/rejection callback
	SetFillHandler(handler FillHandler)

	// IsConnected reports whether the client is usable
	IsConnected() bool

	// Close releases the client
	Close() error
}
