package devnet

import "context"

// Guard allows a single lifecycle-mutating operation (start, stop, snapshot,
// restore) at a time. The zero value is not usable; use NewGuard.
type Guard struct {
	sem chan struct{}
}

func NewGuard() *Guard {
	return &Guard{sem: make(chan struct{}, 1)}
}

// TryAcquire takes the guard if it is free and reports whether it did.
func (g *Guard) TryAcquire() bool {
	select {
	case g.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

// Acquire blocks until the guard is free or ctx is done.
func (g *Guard) Acquire(ctx context.Context) error {
	select {
	case g.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees the guard. Releasing a free guard is a no-op.
func (g *Guard) Release() {
	select {
	case <-g.sem:
	default:
	}
}

// Busy reports whether an operation currently holds the guard.
func (g *Guard) Busy() bool {
	return len(g.sem) == 1
}
