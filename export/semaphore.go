package export

import "context"

// Semaphore is a fixed-capacity concurrency gate, adapted from the
// teacher's keyed-concurrency primitive into a single shared bound: the
// export worker pool (default 2 concurrent jobs, §5).
type Semaphore struct {
	tokens chan struct{}
}

// NewSemaphore builds a semaphore with the given capacity.
func NewSemaphore(capacity int) *Semaphore {
	if capacity < 1 {
		capacity = 1
	}
	return &Semaphore{tokens: make(chan struct{}, capacity)}
}

// Acquire blocks until a slot is free or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.tokens <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot.
func (s *Semaphore) Release() {
	select {
	case <-s.tokens:
	default:
	}
}

// InUse reports how many slots are currently held (test/observability hook).
func (s *Semaphore) InUse() int {
	return len(s.tokens)
}
