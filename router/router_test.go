package router

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/solix/warehouse-gateway/admission"
	"github.com/solix/warehouse-gateway/asyncwork"
	"github.com/solix/warehouse-gateway/caching"
	"github.com/solix/warehouse-gateway/complexity"
	"github.com/solix/warehouse-gateway/config"
	"github.com/solix/warehouse-gateway/export"
	"github.com/solix/warehouse-gateway/orchestrator"
	"github.com/solix/warehouse-gateway/store"
)

func testSetup(t *testing.T) http.Handler {
	t.Helper()
	cfg := &config.Config{
		Addr:             ":0",
		Env:              "test",
		RateLimitEnabled: false,
		RateLimitTiers:   map[string]int{"free": 100},
		APIKeyHeader:     "Authorization",
		MaxBodyBytes:     1 << 20,
		MemoryCacheMax:   1000,
		ExportDir:        t.TempDir(),
		ExportWorkers:    1,
		ExportChunkSize:  1000,
	}
	log := zerolog.New(io.Discard).With().Timestamp().Logger()

	st := store.NewFake()
	async := asyncwork.New(log, asyncwork.DefaultConfig())
	async.Start(context.Background())
	t.Cleanup(async.Stop)

	cacheEngine := caching.NewEngine(cfg, log, st, nil, async)
	reqLimiter := admission.NewRequestLimiter(st, cfg.RateLimitEnabled, cfg.RateLimitTiers)
	estimator := complexity.New(nil)
	orch := orchestrator.New(cfg, log, nil, cacheEngine, estimator, reqLimiter)
	exportEngine := export.New(cfg, log, nil, st)

	return NewRouter(cfg, log, orch, exportEngine, cacheEngine)
}

func TestHealthEndpoints(t *testing.T) {
	r := testSetup(t)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"healthz", "/healthz", http.StatusOK},
		{"ready", "/ready", http.StatusOK},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			rw := httptest.NewRecorder()
			r.ServeHTTP(rw, req)
			if rw.Result().StatusCode != tc.status {
				t.Fatalf("expected %d for %s, got %d", tc.status, tc.path, rw.Result().StatusCode)
			}
		})
	}
}

func TestCacheStatsRoute(t *testing.T) {
	r := testSetup(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/cache/stats", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	if rw.Result().StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for /v1/cache/stats, got %d", rw.Result().StatusCode)
	}
}

func TestMaxBodySizeRejectsOversizedRequest(t *testing.T) {
	cfg := &config.Config{
		Addr:             ":0",
		Env:              "test",
		RateLimitEnabled: false,
		RateLimitTiers:   map[string]int{"free": 100},
		APIKeyHeader:     "Authorization",
		MaxBodyBytes:     16,
		MemoryCacheMax:   1000,
		ExportDir:        t.TempDir(),
		ExportWorkers:    1,
		ExportChunkSize:  1000,
	}
	log := zerolog.New(io.Discard).With().Timestamp().Logger()
	st := store.NewFake()
	async := asyncwork.New(log, asyncwork.DefaultConfig())
	async.Start(context.Background())
	t.Cleanup(async.Stop)
	cacheEngine := caching.NewEngine(cfg, log, st, nil, async)
	reqLimiter := admission.NewRequestLimiter(st, cfg.RateLimitEnabled, cfg.RateLimitTiers)
	estimator := complexity.New(nil)
	orch := orchestrator.New(cfg, log, nil, cacheEngine, estimator, reqLimiter)
	exportEngine := export.New(cfg, log, nil, st)
	r := NewRouter(cfg, log, orch, exportEngine, cacheEngine)

	body := make([]byte, 1024)
	req := httptest.NewRequest(http.MethodPost, "/v1/query", &byteReader{b: body})
	req.ContentLength = int64(len(body))
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	if rw.Result().StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for oversized body, got %d", rw.Result().StatusCode)
	}
}

type byteReader struct {
	b   []byte
	off int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.off >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.off:])
	r.off += n
	return n, nil
}
