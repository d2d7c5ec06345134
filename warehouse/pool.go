// Package warehouse implements the pooled OLAP client (C2): a round-robin
// pool of long-lived ClickHouse connections with per-query timeout tiers
// and response compression.
package warehouse

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	clickhouse "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/solix/warehouse-gateway/config"
	"github.com/solix/warehouse-gateway/gwerr"
)

// PoolConfig mirrors the defaults in §4.2/§6: min=20, max=200, connect
// timeout 5s, idle timeout 60s, compression on.
type PoolConfig struct {
	Min            int
	Max            int
	ConnectTimeout time.Duration
	IdleTimeout    time.Duration
	Addr           string
	Database       string
	Username       string
	Password       string
}

// FromConfig builds a PoolConfig from the gateway's Config.
func FromConfig(cfg *config.Config) PoolConfig {
	return PoolConfig{
		Min:            cfg.PoolMin,
		Max:            cfg.PoolMax,
		ConnectTimeout: cfg.PoolConnectTimeout,
		IdleTimeout:    cfg.PoolIdleTimeout,
		Addr:           cfg.ClickHouseAddr,
		Database:       cfg.ClickHouseDatabase,
		Username:       cfg.ClickHouseUser,
		Password:       cfg.ClickHousePassword,
	}
}

// Metrics tracks pool-wide counters, zeroed on Close (§4.2).
type Metrics struct {
	acquired int64
	errors   int64
	queries  int64
}

func (m *Metrics) Acquired() int64 { return atomic.LoadInt64(&m.acquired) }
func (m *Metrics) Errors() int64   { return atomic.LoadInt64(&m.errors) }
func (m *Metrics) Queries() int64  { return atomic.LoadInt64(&m.queries) }

func (m *Metrics) zero() {
	atomic.StoreInt64(&m.acquired, 0)
	atomic.StoreInt64(&m.errors, 0)
	atomic.StoreInt64(&m.queries, 0)
}

// Pool holds N >= min long-lived OLAP clients and round-robins across them.
// There is deliberately no per-client busy tracking: ClickHouse serializes
// work at its own level, so the pool exists to parallelize network I/O, not
// to serialize client usage (§4.2).
type Pool struct {
	cfg  PoolConfig
	mu   sync.Mutex
	conn []clickhouse.Conn
	idx  uint64

	metrics Metrics
}

// Open constructs a pool and eagerly opens cfg.Min connections.
func Open(cfg PoolConfig) (*Pool, error) {
	p := &Pool{cfg: cfg}
	for i := 0; i < cfg.Min; i++ {
		c, err := p.dial()
		if err != nil {
			p.Close()
			return nil, gwerr.Wrap(gwerr.KindQueryExecutionError, "failed to warm warehouse pool", err)
		}
		p.conn = append(p.conn, c)
	}
	return p, nil
}

func (p *Pool) dial() (clickhouse.Conn, error) {
	return clickhouse.Open(&clickhouse.Options{
		Addr: []string{p.cfg.Addr},
		Auth: clickhouse.Auth{
			Database: p.cfg.Database,
			Username: p.cfg.Username,
			Password: p.cfg.Password,
		},
		DialTimeout:     p.cfg.ConnectTimeout,
		ConnMaxLifetime: p.cfg.IdleTimeout,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
}

// acquire returns a client: lazily creates one while size < max, otherwise
// round-robins over the existing set.
func (p *Pool) acquire() (clickhouse.Conn, error) {
	p.mu.Lock()
	if len(p.conn) < p.cfg.Max {
		c, err := p.dial()
		if err != nil {
			p.mu.Unlock()
			atomic.AddInt64(&p.metrics.errors, 1)
			return nil, gwerr.Wrap(gwerr.KindQueryExecutionError, "failed to open warehouse connection", err)
		}
		p.conn = append(p.conn, c)
		p.mu.Unlock()
		atomic.AddInt64(&p.metrics.acquired, 1)
		return c, nil
	}
	n := uint64(len(p.conn))
	p.mu.Unlock()
	if n == 0 {
		return nil, gwerr.New(gwerr.KindQueryExecutionError, "warehouse pool has no connections")
	}
	i := atomic.AddUint64(&p.idx, 1) % n
	p.mu.Lock()
	c := p.conn[i]
	p.mu.Unlock()
	atomic.AddInt64(&p.metrics.acquired, 1)
	return c, nil
}

// Row is a single result row addressed by column name, matching the
// tagged-map representation the spec mandates for polymorphic aggregation
// rows (§9).
type Row map[string]interface{}

// Query runs sql with named params under the given timeout, applying the
// deadline via ClickHouse's max_execution_time setting as well as a Go
// context deadline so a slow network doesn't outlive the budget.
func (p *Pool) Query(ctx context.Context, sql string, params map[string]interface{}, timeout time.Duration) ([]Row, error) {
	conn, err := p.acquire()
	if err != nil {
		return nil, err
	}
	atomic.AddInt64(&p.metrics.queries, 1)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ctx = clickhouse.Context(ctx, clickhouse.WithSettings(clickhouse.Settings{
		"max_execution_time": int(timeout.Seconds()),
	}), clickhouse.WithParameters(toNamedParams(params)))

	rows, err := conn.Query(ctx, sql)
	if err != nil {
		atomic.AddInt64(&p.metrics.errors, 1)
		return nil, gwerr.Wrap(gwerr.KindQueryExecutionError, "warehouse query failed", err)
	}
	defer rows.Close()

	return scanRows(rows)
}

// QueryStream runs sql and invokes emit once per row as it is scanned,
// avoiding materializing the full result set in memory. Used by the export
// engine (C9) to stream large chunks.
func (p *Pool) QueryStream(ctx context.Context, sql string, params map[string]interface{}, timeout time.Duration, emit func(Row) error) error {
	conn, err := p.acquire()
	if err != nil {
		return err
	}
	atomic.AddInt64(&p.metrics.queries, 1)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ctx = clickhouse.Context(ctx, clickhouse.WithSettings(clickhouse.Settings{
		"max_execution_time": int(timeout.Seconds()),
	}), clickhouse.WithParameters(toNamedParams(params)))

	rows, err := conn.Query(ctx, sql)
	if err != nil {
		atomic.AddInt64(&p.metrics.errors, 1)
		return gwerr.Wrap(gwerr.KindQueryExecutionError, "warehouse query failed", err)
	}
	defer rows.Close()

	cols := rows.Columns()
	scanTypes := columnScanTypes(rows.ColumnTypes())
	for rows.Next() {
		row, err := scanOneRow(rows, cols, scanTypes)
		if err != nil {
			return gwerr.Wrap(gwerr.KindQueryExecutionError, "warehouse row scan failed", err)
		}
		if err := emit(row); err != nil {
			return err
		}
	}
	return rows.Err()
}

func toNamedParams(params map[string]interface{}) clickhouse.Parameters {
	np := clickhouse.Parameters{}
	for k, v := range params {
		np[k] = fmt.Sprintf("%v", v)
	}
	return np
}

// Close closes all clients and zeros gauges (§4.2).
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, c := range p.conn {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.conn = nil
	p.metrics.zero()
	return firstErr
}

// Size returns the current number of live connections (test/observability hook).
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conn)
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() Metrics {
	return Metrics{
		acquired: atomic.LoadInt64(&p.metrics.acquired),
		errors:   atomic.LoadInt64(&p.metrics.errors),
		queries:  atomic.LoadInt64(&p.metrics.queries),
	}
}
