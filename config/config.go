package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all gateway configuration values.
type Config struct {
	// Server
	Addr            string
	Env             string
	GracefulTimeout time.Duration

	// Warehouse (ClickHouse)
	ClickHouseAddr     string
	ClickHouseDatabase string
	ClickHouseUser     string
	ClickHousePassword string

	// Redis — backs the shared TTL store (C3): cache tier-2, admission counters, export job records.
	RedisURL string

	// Warehouse client pool (C2)
	PoolMin               int
	PoolMax               int
	PoolConnectTimeout    time.Duration
	PoolIdleTimeout       time.Duration
	TimeoutTierLow        time.Duration // score < 100
	TimeoutTierMid        time.Duration // score < 500
	TimeoutTierHigh       time.Duration // score >= 500, hard cap

	// Two-tier cache (C4)
	CacheHotTTL              time.Duration
	CacheAggregationTTL      time.Duration
	CacheRecentTTL           time.Duration
	CacheHistoricalTTL       time.Duration
	CacheInvalidationInterval time.Duration
	MemoryCacheMax           int
	MemoryCacheTTL           time.Duration
	HotHitThreshold          int

	// Admission control (C7)
	RateLimitEnabled bool
	RateLimitTiers   map[string]int // requests per minute, keyed by plan
	CostLimitTiers   map[string]int // cumulative complexity score per minute, keyed by tier

	// Complexity estimator / orchestrator (C6, C8)
	ComplexityCeiling      float64
	PaginationRowThreshold int
	GroupByRowThreshold    int

	// Export job engine (C9)
	ExportDir             string
	ExportWorkers         int
	ExportChunkSize       int
	ExportExpirationHours int
	ExportFailedRetention time.Duration
	ExportMaxFileSizeGB   int
	ExportMinFreeSpaceGB  int
	ExportMaxTotalSizeGB  int

	// Identity / API surface (external collaborators per spec; only the header name is ours to know)
	APIKeyHeader string

	// Body limits
	MaxBodyBytes int64

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables and optional .env file.
func Load() *Config {
	_ = godotenv.Load()

	gracefulSec := getEnvInt("GATEWAY_GRACEFUL_TIMEOUT_SEC", 15)

	cfg := &Config{
		Addr:            getEnv("GATEWAY_ADDR", ":8080"),
		Env:             getEnv("ENV", "development"),
		GracefulTimeout: time.Duration(gracefulSec) * time.Second,

		ClickHouseAddr:     getEnv("CLICKHOUSE_ADDR", "localhost:9000"),
		ClickHouseDatabase: getEnv("CLICKHOUSE_DATABASE", "default"),
		ClickHouseUser:     getEnv("CLICKHOUSE_USER", "default"),
		ClickHousePassword: getEnv("CLICKHOUSE_PASSWORD", ""),

		RedisURL: getEnv("REDIS_URL", "redis://redis:6379"),

		PoolMin:            getEnvInt("POOL_MIN", 20),
		PoolMax:            getEnvInt("POOL_MAX", 200),
		PoolConnectTimeout: time.Duration(getEnvInt("POOL_CONNECT_TIMEOUT_SEC", 5)) * time.Second,
		PoolIdleTimeout:    time.Duration(getEnvInt("POOL_IDLE_TIMEOUT_SEC", 60)) * time.Second,
		TimeoutTierLow:     time.Duration(getEnvInt("TIMEOUT_TIER_LOW_SEC", 10)) * time.Second,
		TimeoutTierMid:     time.Duration(getEnvInt("TIMEOUT_TIER_MID_SEC", 30)) * time.Second,
		TimeoutTierHigh:    time.Duration(getEnvInt("TIMEOUT_TIER_HIGH_SEC", 90)) * time.Second,

		CacheHotTTL:               time.Duration(getEnvInt("CACHE_HOT_TTL_SEC", 3600)) * time.Second,
		CacheAggregationTTL:       time.Duration(getEnvInt("CACHE_AGGREGATION_TTL_SEC", 1800)) * time.Second,
		CacheRecentTTL:            time.Duration(getEnvInt("CACHE_RECENT_TTL_SEC", 300)) * time.Second,
		CacheHistoricalTTL:        time.Duration(getEnvInt("CACHE_HISTORICAL_TTL_SEC", 86400)) * time.Second,
		CacheInvalidationInterval: time.Duration(getEnvInt("CACHE_INVALIDATION_INTERVAL_SEC", 60)) * time.Second,
		MemoryCacheMax:            getEnvInt("MEMORY_CACHE_MAX", 5000),
		MemoryCacheTTL:            time.Duration(getEnvInt("MEMORY_CACHE_TTL_SEC", 300)) * time.Second,
		HotHitThreshold:           getEnvInt("CACHE_HOT_HIT_THRESHOLD", 5),

		RateLimitEnabled: getEnvBool("RATE_LIMIT_ENABLED", true),
		RateLimitTiers: map[string]int{
			"free":       getEnvInt("RATE_LIMIT_FREE", 100),
			"x402":       getEnvInt("RATE_LIMIT_X402", 500),
			"enterprise": getEnvInt("RATE_LIMIT_ENTERPRISE", 2000),
		},
		CostLimitTiers: map[string]int{
			"cost50":   getEnvInt("COST_LIMIT_50", 50),
			"cost100":  getEnvInt("COST_LIMIT_100", 100),
			"cost200":  getEnvInt("COST_LIMIT_200", 200),
			"cost500":  getEnvInt("COST_LIMIT_500", 500),
			"cost1000": getEnvInt("COST_LIMIT_1000", 1000),
		},

		ComplexityCeiling:      getEnvFloat("COMPLEXITY_CEILING", 1000),
		PaginationRowThreshold: getEnvInt("PAGINATION_ROW_THRESHOLD", 10000),
		GroupByRowThreshold:    getEnvInt("GROUPBY_ROW_THRESHOLD", 10000),

		ExportDir:             getEnv("EXPORT_DIR", "./data/exports"),
		ExportWorkers:         getEnvInt("EXPORT_WORKERS", 2),
		ExportChunkSize:       getEnvInt("EXPORT_CHUNK_SIZE", 50000),
		ExportExpirationHours: getEnvInt("EXPORT_EXPIRATION_HOURS", 24),
		ExportFailedRetention: time.Duration(getEnvInt("EXPORT_FAILED_RETENTION_HOURS", 24*7)) * time.Hour,
		ExportMaxFileSizeGB:   getEnvInt("EXPORT_MAX_FILE_SIZE_GB", 5),
		ExportMinFreeSpaceGB:  getEnvInt("EXPORT_MIN_FREE_SPACE_GB", 20),
		ExportMaxTotalSizeGB:  getEnvInt("EXPORT_MAX_TOTAL_SIZE_GB", 100),

		APIKeyHeader: getEnv("API_KEY_HEADER", "Authorization"),
		MaxBodyBytes: int64(getEnvInt("GATEWAY_MAX_BODY_BYTES", 1*1024*1024)),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}
	return cfg
}

// Validate rejects configurations that would make the core components
// misbehave rather than fail fast at boot.
func (c *Config) Validate() error {
	if c.PoolMin <= 0 || c.PoolMax < c.PoolMin {
		return fmt.Errorf("config: pool.min (%d) must be positive and <= pool.max (%d)", c.PoolMin, c.PoolMax)
	}
	if c.MemoryCacheMax <= 0 {
		return fmt.Errorf("config: memoryCache.max must be positive, got %d", c.MemoryCacheMax)
	}
	if c.ExportWorkers <= 0 {
		return fmt.Errorf("config: export.workers must be positive, got %d", c.ExportWorkers)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// TimeoutForScore maps a complexity score to its timeout tier (§4.2).
func (c *Config) TimeoutForScore(score float64) time.Duration {
	switch {
	case score < 100:
		return c.TimeoutTierLow
	case score < 500:
		return c.TimeoutTierMid
	default:
		return c.TimeoutTierHigh
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
