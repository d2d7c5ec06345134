package export

import (
	"context"
	"testing"
	"time"
)

func TestSemaphoreBoundsConcurrency(t *testing.T) {
	sem := NewSemaphore(2)
	ctx := context.Background()

	if err := sem.Acquire(ctx); err != nil {
		t.Fatalf("Acquire 1: %v", err)
	}
	if err := sem.Acquire(ctx); err != nil {
		t.Fatalf("Acquire 2: %v", err)
	}
	if sem.InUse() != 2 {
		t.Fatalf("expected InUse()==2, got %d", sem.InUse())
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := sem.Acquire(ctxTimeout); err == nil {
		t.Fatal("expected third Acquire to block past capacity and time out")
	}

	sem.Release()
	if sem.InUse() != 1 {
		t.Fatalf("expected InUse()==1 after release, got %d", sem.InUse())
	}
	if err := sem.Acquire(ctx); err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
}
