// Package admission implements the sliding-window admission controller
// (C7): a per-identity request- or cost-based limiter backed by a counter
// key in the shared TTL store, updated by a non-atomic read-then-write
// (Get, then SetEX with the window TTL). Grounded on the teacher's in-memory sliding
// window limiter, generalized to a shared-store-backed window so counts
// are correct across gateway replicas.
package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/solix/warehouse-gateway/store"
)

const window = 60 * time.Second

// Decision is the outcome of a Check call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	Tier      string
	Used      int
}

// RetryAfter returns the seconds clients should wait before retrying, 0 if
// allowed.
func (d Decision) RetryAfter() int {
	if d.Allowed {
		return 0
	}
	s := int(time.Until(d.ResetAt).Seconds())
	if s < 0 {
		s = 0
	}
	if s > 60 {
		s = 60
	}
	return s
}

// Limiter is a sliding-window limiter over a single counter key per
// identity. The same type serves both the plan-based request limiter and
// the cost-based limiter; callers choose the unit of `cost` per check.
type Limiter struct {
	store   store.Store
	enabled bool
	tiers   map[string]int
	keyFunc func(identity, tier string) string
}

// NewRequestLimiter builds the plan-based request-count limiter (free/x402/
// enterprise requests per minute).
func NewRequestLimiter(st store.Store, enabled bool, tiers map[string]int) *Limiter {
	return &Limiter{
		store:   st,
		enabled: enabled,
		tiers:   tiers,
		keyFunc: func(identity, tier string) string { return fmt.Sprintf("admission:req:%s:%s", tier, identity) },
	}
}

// NewCostLimiter builds the cost-based limiter over cumulative complexity
// score (cost50/cost100/.../cost1000 tiers).
func NewCostLimiter(st store.Store, enabled bool, tiers map[string]int) *Limiter {
	return &Limiter{
		store:   st,
		enabled: enabled,
		tiers:   tiers,
		keyFunc: func(identity, tier string) string { return fmt.Sprintf("admission:cost:%s:%s", tier, identity) },
	}
}

// Check applies the sliding-window decision: if disabled, always allow. A
// race on get+set is tolerated (§4.7) — the window is approximate and
// overcount tolerance is bounded by concurrent callers per identity.
func (l *Limiter) Check(ctx context.Context, identity, tier string, cost int) (Decision, error) {
	if !l.enabled {
		return Decision{Allowed: true}, nil
	}
	limit, ok := l.tiers[tier]
	if !ok {
		limit = l.defaultLimit()
	}

	key := l.keyFunc(identity, tier)
	current, existed, err := l.currentUsage(ctx, key)
	if err != nil {
		return Decision{}, err
	}

	resetAt := time.Now().Add(window)
	if current+cost > limit {
		return Decision{
			Allowed:   false,
			Limit:     limit,
			Remaining: max0(limit - current),
			ResetAt:   resetAt,
			Tier:      tier,
			Used:      current,
		}, nil
	}

	newTotal := current + cost
	if err := l.store.SetEX(ctx, key, fmt.Sprintf("%d", newTotal), window); err != nil {
		return Decision{}, err
	}
	if !existed {
		_ = l.store.Expire(ctx, key, window)
	}

	return Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: max0(limit - newTotal),
		ResetAt:   resetAt,
		Tier:      tier,
		Used:      newTotal,
	}, nil
}

// currentUsage reads the accumulator. The bool reports whether the key
// already existed, so Check can decide whether this call establishes the
// window's TTL.
func (l *Limiter) currentUsage(ctx context.Context, key string) (int, bool, error) {
	v, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, nil
	}
	var n int
	fmt.Sscanf(v, "%d", &n)
	return n, true, nil
}

func (l *Limiter) defaultLimit() int {
	for _, v := range l.tiers {
		return v
	}
	return 0
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
