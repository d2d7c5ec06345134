package admission

import (
	"context"
	"testing"

	"github.com/solix/warehouse-gateway/store"
)

func TestRequestLimiterAllowsUpToLimitThenDenies(t *testing.T) {
	st := store.NewFake()
	l := NewRequestLimiter(st, true, map[string]int{"free": 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Check(ctx, "user-1", "free", 1)
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d: expected allowed, got denied (used=%d limit=%d)", i, d.Used, d.Limit)
		}
	}

	d, err := l.Check(ctx, "user-1", "free", 1)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected 4th request to be denied")
	}
	if d.RetryAfter() <= 0 || d.RetryAfter() > 60 {
		t.Fatalf("RetryAfter() = %d, want in (0, 60]", d.RetryAfter())
	}
}

func TestLimiterDisabledAlwaysAllows(t *testing.T) {
	st := store.NewFake()
	l := NewRequestLimiter(st, false, map[string]int{"free": 1})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := l.Check(ctx, "user-1", "free", 1)
		if err != nil || !d.Allowed {
			t.Fatalf("expected pass-through when disabled, got %+v, err=%v", d, err)
		}
	}
}

func TestCostLimiterDeniesOnCumulativeScore(t *testing.T) {
	st := store.NewFake()
	l := NewCostLimiter(st, true, map[string]int{"cost100": 100})
	ctx := context.Background()

	d, err := l.Check(ctx, "user-1", "cost100", 60)
	if err != nil || !d.Allowed {
		t.Fatalf("expected first 60-cost request allowed, got %+v, err=%v", d, err)
	}
	d, err = l.Check(ctx, "user-1", "cost100", 60)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected second 60-cost request (total 120 > 100) to be denied")
	}
}

func TestLimiterIsolatesIdentities(t *testing.T) {
	st := store.NewFake()
	l := NewRequestLimiter(st, true, map[string]int{"free": 1})
	ctx := context.Background()

	if d, _ := l.Check(ctx, "user-1", "free", 1); !d.Allowed {
		t.Fatal("expected user-1 first request allowed")
	}
	if d, _ := l.Check(ctx, "user-2", "free", 1); !d.Allowed {
		t.Fatal("expected user-2's own request allowed independent of user-1's usage")
	}
}
