package scraper

import "context"

// Gate bounds the number of artifact tasks in flight at once.
type Gate struct {
	slots chan struct{}
}

// NewGate builds a gate with the given capacity; capacity below one is
// treated as one.
func NewGate(capacity int) *Gate {
	if capacity < 1 {
		capacity = 1
	}
	return &Gate{slots: make(chan struct{}, capacity)}
}

// Acquire blocks until a slot is free or ctx is done.
func (g *Gate) Acquire(ctx context.Context) error {
	select {
	case g.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot taken by Acquire.
func (g *Gate) Release() {
	<-g.slots
}
