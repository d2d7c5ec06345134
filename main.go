package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/solix/warehouse-gateway/admission"
	"github.com/solix/warehouse-gateway/asyncwork"
	"github.com/solix/warehouse-gateway/caching"
	"github.com/solix/warehouse-gateway/complexity"
	"github.com/solix/warehouse-gateway/config"
	"github.com/solix/warehouse-gateway/export"
	"github.com/solix/warehouse-gateway/logger"
	"github.com/solix/warehouse-gateway/orchestrator"
	"github.com/solix/warehouse-gateway/router"
	"github.com/solix/warehouse-gateway/store"
	"github.com/solix/warehouse-gateway/warehouse"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	log := logger.New(cfg)

	log.Info().Str("env", cfg.Env).Msg("warehouse gateway starting")

	st, err := store.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("store init failed")
	}
	if err := st.Ping(context.Background()); err != nil {
		log.Warn().Err(err).Msg("store ping failed — continuing, admission/cache tier-2 will degrade")
	} else {
		log.Info().Msg("store connected")
	}

	pool, err := warehouse.Open(warehouse.FromConfig(cfg))
	if err != nil {
		log.Fatal().Err(err).Msg("warehouse pool init failed")
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())

	async := asyncwork.New(log, asyncwork.DefaultConfig())
	async.Start(bgCtx)

	cacheEngine := caching.NewEngine(cfg, log, st, pool, async)
	cacheEngine.Start(bgCtx)

	reqLimiter := admission.NewRequestLimiter(st, cfg.RateLimitEnabled, cfg.RateLimitTiers)
	estimator := complexity.New(pool)

	orch := orchestrator.New(cfg, log, pool, cacheEngine, estimator, reqLimiter)

	exportEngine := export.New(cfg, log, pool, st)
	exportEngine.StartReaper(bgCtx)

	r := router.NewRouter(cfg, log, orch, exportEngine, cacheEngine)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.TimeoutTierHigh + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	exportEngine.Stop()
	cacheEngine.Stop()
	async.Stop()
	bgCancel()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("gateway stopped gracefully")
	}

	if err := pool.Close(); err != nil {
		log.Warn().Err(err).Msg("warehouse pool close failed")
	}
}
