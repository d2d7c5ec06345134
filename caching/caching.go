// Package caching implements the two-tier result cache (C4): an in-process
// map (tier-1) fronting the shared TTL store (tier-2, Redis-backed). Tier-1
// reads never block; tier-2 writes are fire-and-forget via the asyncwork
// pool so a slow store never adds latency to a request.
package caching

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/solix/warehouse-gateway/asyncwork"
	"github.com/solix/warehouse-gateway/config"
	"github.com/solix/warehouse-gateway/store"
	"github.com/solix/warehouse-gateway/warehouse"
)

// Entry is a single tier-1 slot.
type Entry struct {
	Value       string
	InsertedAt  time.Time
	TTL         time.Duration
	AccessCount int64
}

func (e *Entry) expired(now time.Time) bool {
	return now.Sub(e.InsertedAt) > e.TTL
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits        int64
	Misses      int64
	Tier2Misses int64
	Evictions   int64
	Tier1Size   int
}

// Engine is the two-tier cache. The zero value is not usable; construct
// with NewEngine.
type Engine struct {
	cfg    *config.Config
	logger zerolog.Logger
	store  store.Store
	pool   *warehouse.Pool
	async  *asyncwork.Pool

	mu    sync.Mutex
	tier1 map[string]*Entry

	maxBlockTime time.Time
	maxBlockMu   sync.Mutex

	hits        int64
	misses      int64
	tier2Misses int64
	evictions   int64

	stopTicker chan struct{}
}

// NewEngine builds an Engine. The caller must call Start to launch the
// background invalidation ticker, and Stop to halt it on shutdown.
func NewEngine(cfg *config.Config, logger zerolog.Logger, st store.Store, pool *warehouse.Pool, async *asyncwork.Pool) *Engine {
	return &Engine{
		cfg:        cfg,
		logger:     logger.With().Str("component", "cache").Logger(),
		store:      st,
		pool:       pool,
		async:      async,
		tier1:      make(map[string]*Entry),
		stopTicker: make(chan struct{}),
	}
}

// GenerateKey builds a stable canonical key from prefix and params: params
// are serialized in sorted-key order, then hashed with the 32-bit
// polynomial hash h = (h<<5) - h + byte, emitted as base-36 of |h| (§4.4).
func GenerateKey(prefix string, params map[string]interface{}) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		fmt.Fprintf(&b, "%v", params[k])
		b.WriteByte(';')
	}

	var h int32
	s := b.String()
	for i := 0; i < len(s); i++ {
		h = (h << 5) - h + int32(s[i])
	}
	if h < 0 {
		h = -h
	}
	return prefix + ":" + toBase36(uint32(h))
}

func toBase36(n uint32) string {
	const digits = "0123456789abcdefghijklmnopqrstuvwxyz"
	if n == 0 {
		return "0"
	}
	var buf [13]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = digits[n%36]
		n /= 36
	}
	return string(buf[i:])
}

// GetSync looks up tier-1 only. Non-blocking, branch-free on the hot path:
// a single map lookup plus a TTL compare.
func (e *Engine) GetSync(key string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.tier1[key]
	if !ok {
		e.misses++
		return "", false
	}
	if ent.expired(time.Now()) {
		delete(e.tier1, key)
		e.misses++
		return "", false
	}
	ent.AccessCount++
	e.hits++
	return ent.Value, true
}

// GetAsync checks tier-1 first; on miss it consults tier-2 and, on a tier-2
// hit, promotes the value back into tier-1. Any tier-2 failure is logged
// and counted as a miss — it is never surfaced to the caller (§4.4).
func (e *Engine) GetAsync(ctx context.Context, key string) (string, bool) {
	if v, ok := e.GetSync(key); ok {
		return v, true
	}
	v, ok, err := e.store.Get(ctx, key)
	if err != nil {
		e.logger.Warn().Err(err).Str("key", key).Msg("tier-2 lookup failed, treating as miss")
		e.mu.Lock()
		e.tier2Misses++
		e.mu.Unlock()
		return "", false
	}
	if !ok {
		e.mu.Lock()
		e.tier2Misses++
		e.mu.Unlock()
		return "", false
	}
	e.promote(key, v, e.cfg.MemoryCacheTTL)
	return v, true
}

func (e *Engine) promote(key, value string, ttl time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tier1[key] = &Entry{Value: value, InsertedAt: time.Now(), TTL: ttl}
}

// Set updates tier-1 synchronously and schedules a fire-and-forget tier-2
// write. isAggregation and dateRangeEnd (zero if n/a) drive TTL selection
// via TTLFor; the tier-1 copy is additionally capped at MemoryCacheTTL.
func (e *Engine) Set(ctx context.Context, key, value string, isAggregation bool, dateRangeEnd time.Time) {
	hitCount := e.hitCount(key)
	ttl := e.TTLFor(hitCount, isAggregation, dateRangeEnd)
	tier1TTL := ttl
	if e.cfg.MemoryCacheTTL > 0 && tier1TTL > e.cfg.MemoryCacheTTL {
		tier1TTL = e.cfg.MemoryCacheTTL
	}

	e.mu.Lock()
	if len(e.tier1) >= e.cfg.MemoryCacheMax {
		e.evictLocked()
	}
	e.tier1[key] = &Entry{Value: value, InsertedAt: time.Now(), TTL: tier1TTL}
	e.mu.Unlock()

	e.async.Submit(func(ctx context.Context) error {
		return e.store.SetEX(ctx, key, value, ttl)
	})
}

func (e *Engine) hitCount(key string) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ent, ok := e.tier1[key]; ok {
		return ent.AccessCount
	}
	return 0
}

// TTLFor implements the getCacheTTL selection rules, first match wins
// (§4.4): hit count > 5 beats isAggregation beats a recent date range
// beats the historical default.
func (e *Engine) TTLFor(hitCount int64, isAggregation bool, dateRangeEnd time.Time) time.Duration {
	switch {
	case hitCount > int64(e.cfg.HotHitThreshold):
		return e.cfg.CacheHotTTL
	case isAggregation:
		return e.cfg.CacheAggregationTTL
	case !dateRangeEnd.IsZero() && time.Since(dateRangeEnd) < 24*time.Hour:
		return e.cfg.CacheRecentTTL
	default:
		return e.cfg.CacheHistoricalTTL
	}
}

// Del removes key from tier-1 synchronously and schedules a best-effort
// tier-2 delete.
func (e *Engine) Del(key string) {
	e.mu.Lock()
	delete(e.tier1, key)
	e.mu.Unlock()

	e.async.Submit(func(ctx context.Context) error {
		return e.store.Del(ctx, key)
	})
}

// evictLocked removes the entry minimizing accessCount*1e6 + age_ms, the
// caller must hold e.mu. Per-entry max age is also enforced here: expired
// entries are always removed first regardless of access count.
func (e *Engine) evictLocked() {
	now := time.Now()
	var victim string
	var victimScore int64 = -1

	for k, ent := range e.tier1 {
		if ent.expired(now) {
			delete(e.tier1, k)
			e.evictions++
			return
		}
		age := now.Sub(ent.InsertedAt).Milliseconds()
		score := ent.AccessCount*1_000_000 + age
		if victimScore == -1 || score < victimScore {
			victimScore = score
			victim = k
		}
	}
	if victim != "" {
		delete(e.tier1, victim)
		e.evictions++
	}
}

// Start launches the background invalidation ticker (§4.4): it polls
// max(block_time) against the last observed maximum and, when it strictly
// advances, deletes any tier-2 key encoding "date" or "recent" — warehouse
// ingest is append-only, so only recently-bounded queries can go stale.
func (e *Engine) Start(ctx context.Context) {
	go e.invalidationLoop(ctx)
}

func (e *Engine) invalidationLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.CacheInvalidationInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopTicker:
			return
		case <-ticker.C:
			e.checkInvalidation(ctx)
		}
	}
}

func (e *Engine) checkInvalidation(ctx context.Context) {
	rows, err := e.pool.Query(ctx, "SELECT max(block_time) AS max_block_time FROM transactions", nil, 10*time.Second)
	if err != nil || len(rows) == 0 {
		e.logger.Warn().Err(err).Msg("cache invalidation probe failed")
		return
	}
	latest, ok := rows[0]["max_block_time"].(time.Time)
	if !ok {
		return
	}

	e.maxBlockMu.Lock()
	stale := latest.After(e.maxBlockTime)
	if stale {
		e.maxBlockTime = latest
	}
	e.maxBlockMu.Unlock()

	if !stale {
		return
	}
	e.sweepStaleKeys(ctx)
}

func (e *Engine) sweepStaleKeys(ctx context.Context) {
	for _, pattern := range []string{"*date*", "*recent*"} {
		keys, err := e.store.Keys(ctx, pattern)
		if err != nil {
			e.logger.Warn().Err(err).Str("pattern", pattern).Msg("tier-2 key enumeration failed during invalidation sweep")
			continue
		}
		if len(keys) == 0 {
			continue
		}
		if err := e.store.Del(ctx, keys...); err != nil {
			e.logger.Warn().Err(err).Int("count", len(keys)).Msg("tier-2 invalidation delete failed")
			continue
		}
		e.mu.Lock()
		for k := range e.tier1 {
			if strings.Contains(k, "date") || strings.Contains(k, "recent") {
				delete(e.tier1, k)
			}
		}
		e.mu.Unlock()
	}
}

// Stop halts the background invalidation ticker.
func (e *Engine) Stop() {
	close(e.stopTicker)
}

// Stats returns a snapshot of cache counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Hits:        e.hits,
		Misses:      e.misses,
		Tier2Misses: e.tier2Misses,
		Evictions:   e.evictions,
		Tier1Size:   len(e.tier1),
	}
}

// FlushAll clears tier-1 and best-effort clears tier-2 keys under the cache
// namespace. Used by the cache administration endpoint.
func (e *Engine) FlushAll(ctx context.Context, prefix string) error {
	e.mu.Lock()
	e.tier1 = make(map[string]*Entry)
	e.mu.Unlock()

	keys, err := e.store.Keys(ctx, prefix+":*")
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return e.store.Del(ctx, keys...)
}
