// Package replay turns stored per-asset price series into an ordered tick stream.
package replay

import (
	"context"

	"corrdiv/internal/domain"
)

// TickHandler processes ticks in timestamp order.
type TickHandler interface {
	// HandleTick is called once per tick. Ticks are strictly increasing by timestamp.
	HandleTick(ctx context.Context, tick domain.Tick) error
}

// TickHandlerFunc adapts a function to TickHandler.
type TickHandlerFunc func(ctx context.Context, tick domain.Tick) error

// HandleTick calls f.
func (f TickHandlerFunc) HandleTick(ctx context.Context, tick domain.Tick) error {
	return f(ctx, tick)
}
