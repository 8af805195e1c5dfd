package sensor

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Bus serializes access to the shared I2C/GPIO bus so two polling tasks
// never interleave transactions.
type Bus struct {
	sem *semaphore.Weighted
}

func NewBus() *Bus {
	return &Bus{sem: semaphore.NewWeighted(1)}
}

// Acquire blocks until the bus is free or ctx is done. The returned
// release func must be called exactly once.
func (b *Bus) Acquire(ctx context.Context) (release func(), err error) {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("sensor: acquire bus: %w", err)
	}
	return func() { b.sem.Release(1) }, nil
}
