package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Lookup backends for the selection path.
const (
	LookupBackendMemory = "memory"
	LookupBackendRedis  = "redis"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	Port          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	RedisAddr     string
	ClickHouseDSN string
	PostgresDSN   string
	GeoIPDB       string
	DebugTrace    bool
	ServiceName   string
	// Catalog reload loop
	ReloadInterval   time.Duration
	ReloadMaxBackoff time.Duration
	// Selection configuration
	LookupBackend         string
	RedisLookupTTL        time.Duration
	PredicateGroupTimeout time.Duration
	AnalyticsEnabled      bool
	// CTR prediction refresh
	CTRRefreshEnabled      bool
	CTRPredictorURL        string
	CTRPredictorTimeout    time.Duration
	CTRPredictorCacheTTL   time.Duration
	CTRPredictorConfidence float64
	// Database connection pooling configuration
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration
	// ClickHouse connection pooling configuration
	CHMaxOpenConns    int
	CHMaxIdleConns    int
	CHConnMaxLifetime time.Duration
	CHConnMaxIdleTime time.Duration
	// Tracing configuration
	TracingEnabled    bool
	TempoEndpoint     string
	TracingSampleRate float64
}

// Load parses environment variables and returns a Config populated with
// defaults when variables are absent.
func Load() Config {
	cfg := Config{}

	cfg.Port = getenv("PORT", "8787")
	cfg.ReadTimeout = envDuration("READ_TIMEOUT", 5*time.Second)
	cfg.WriteTimeout = envDuration("WRITE_TIMEOUT", 10*time.Second)
	cfg.RedisAddr = getenv("REDIS_ADDR", "localhost:6379")
	cfg.ClickHouseDSN = getenv("CLICKHOUSE_DSN", "clickhouse://default:@localhost:9000/default?async_insert=1&wait_for_async_insert=1")
	cfg.PostgresDSN = getenv("POSTGRES_DSN", "postgres://postgres@127.0.0.1:5432/postgres?sslmode=disable")
	cfg.GeoIPDB = getenv("GEOIP_DB", "")
	cfg.DebugTrace = envBool("DEBUG_TRACE", false)
	cfg.ServiceName = getenv("SERVICE_NAME", "adselection")

	// default to 30 seconds between automatic reloads
	cfg.ReloadInterval = envDuration("RELOAD_INTERVAL", 30*time.Second)
	cfg.ReloadMaxBackoff = envDuration("RELOAD_MAX_BACKOFF", 5*time.Minute)

	cfg.LookupBackend = strings.ToLower(getenv("LOOKUP_BACKEND", LookupBackendMemory))
	if cfg.LookupBackend != LookupBackendRedis {
		cfg.LookupBackend = LookupBackendMemory
	}
	cfg.RedisLookupTTL = envDuration("REDIS_LOOKUP_TTL", 10*time.Minute)
	// zero disables the per group bound
	cfg.PredicateGroupTimeout = envDuration("PREDICATE_GROUP_TIMEOUT", 0)
	cfg.AnalyticsEnabled = envBool("ANALYTICS_ENABLED", true)

	cfg.CTRRefreshEnabled = envBool("CTR_REFRESH_ENABLED", false)
	cfg.CTRPredictorURL = getenv("CTR_PREDICTOR_URL", "http://localhost:8000")
	cfg.CTRPredictorTimeout = envDuration("CTR_PREDICTOR_TIMEOUT", 100*time.Millisecond)
	cfg.CTRPredictorCacheTTL = envDuration("CTR_PREDICTOR_CACHE_TTL", 5*time.Minute)
	cfg.CTRPredictorConfidence = envFloat("CTR_PREDICTOR_MIN_CONFIDENCE", 0)

	// Database connection pooling configuration
	cfg.DBMaxOpenConns = envInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = envInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = envDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.DBConnMaxIdleTime = envDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute)

	// ClickHouse connection pooling configuration
	cfg.CHMaxOpenConns = envInt("CH_MAX_OPEN_CONNS", 50)
	cfg.CHMaxIdleConns = envInt("CH_MAX_IDLE_CONNS", 10)
	cfg.CHConnMaxLifetime = envDuration("CH_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.CHConnMaxIdleTime = envDuration("CH_CONN_MAX_IDLE_TIME", 1*time.Minute)

	// Tracing configuration
	cfg.TracingEnabled = envBool("TRACING_ENABLED", false)
	cfg.TempoEndpoint = getenv("TEMPO_ENDPOINT", "tempo:4317")
	cfg.TracingSampleRate = envFloat("TRACING_SAMPLE_RATE", 1.0)

	return cfg
}

// getenv returns the value of the environment variable if set, otherwise def.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envParse returns parse(value) for a set variable, or def when it is unset
// or does not parse.
func envParse[T any](key string, def T, parse func(string) (T, error)) T {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := parse(v)
	if err != nil {
		return def
	}
	return parsed
}

// envDuration accepts a duration string ("5s") or a whole number of seconds.
func envDuration(key string, def time.Duration) time.Duration {
	return envParse(key, def, func(v string) (time.Duration, error) {
		if d, err := time.ParseDuration(v); err == nil {
			return d, nil
		}
		secs, err := strconv.Atoi(v)
		return time.Duration(secs) * time.Second, err
	})
}

func envBool(key string, def bool) bool {
	return envParse(key, def, strconv.ParseBool)
}

func envInt(key string, def int) int {
	return envParse(key, def, strconv.Atoi)
}

func envFloat(key string, def float64) float64 {
	return envParse(key, def, func(v string) (float64, error) {
		return strconv.ParseFloat(v, 64)
	})
}
