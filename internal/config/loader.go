package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "signal.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)
	clamp(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "PORT")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "PG_HEALTH_CHECK")
	setString(&cfg.Redis.URL, "REDIS_URL")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Groq.APIKey, "GROQ_API_KEY")
	setString(&cfg.Groq.BaseURL, "GROQ_BASE_URL")
	setString(&cfg.Groq.Model, "GROQ_MODEL")
	setString(&cfg.Serp.APIKey, "SERPER_API_KEY")
	setString(&cfg.Serp.BaseURL, "SERPER_BASE_URL")
	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.Service, "LOG_SERVICE")

	setString(&cfg.Callback.JWTPrivateKey, "SIGNAL_JWT_PRIVATE_KEY")
	setString(&cfg.Callback.JWTActiveKID, "SIGNAL_JWT_ACTIVE_KID")
	setBool(&cfg.Callback.RedeliveryEnabled, "SOURCING_CALLBACK_REDELIVERY_ENABLED")
	setInt(&cfg.Callback.RedeliveryIntervalMn, "SOURCING_CALLBACK_REDELIVERY_INTERVAL_MINUTES")
	setInt(&cfg.Callback.RedeliveryMaxAgeMn, "SOURCING_CALLBACK_REDELIVERY_MAX_AGE_MINUTES")
	setInt(&cfg.Callback.RedeliveryBatchSize, "SOURCING_CALLBACK_REDELIVERY_BATCH_SIZE")

	setInt(&cfg.Worker.Concurrency, "SOURCING_WORKER_CONCURRENCY")

	s := &cfg.Sourcing
	setInt(&s.TargetCount, "TARGET_COUNT")
	setInt(&s.MinGoodEnough, "MIN_GOOD_ENOUGH")
	setInt(&s.JobMaxEnrich, "JOB_MAX_ENRICH")
	setInt(&s.InitialEnrichCount, "INITIAL_ENRICH_COUNT")
	setInt(&s.MaxSerpQueries, "MAX_SERP_QUERIES")
	setInt(&s.SnapshotStaleDays, "SNAPSHOT_STALE_DAYS")
	setInt(&s.StaleRefreshMaxPerRun, "STALE_REFRESH_MAX_PER_RUN")

	setInt(&s.QualityTopK, "SOURCE_QUALITY_TOP_K")
	setFloat64(&s.QualityMinAvgFit, "SOURCE_QUALITY_MIN_AVG_FIT")
	setFloat64(&s.QualityThreshold, "SOURCE_QUALITY_THRESHOLD")
	setInt(&s.QualityMinCountAbove, "SOURCE_QUALITY_MIN_COUNT_ABOVE")
	setInt(&s.DailySerpCapPerTenant, "SOURCE_DAILY_SERP_CAP_PER_TENANT")

	setFloat64(&s.MinDiscoveryShareLowQuality, "SOURCE_MIN_DISCOVERY_SHARE_LOW_QUALITY")
	setFloat64(&s.MaxDiscoveryShare, "SOURCE_MAX_DISCOVERY_SHARE")
	setInt(&s.MinStrictMatchesBeforeExpand, "SOURCE_MIN_STRICT_MATCHES_BEFORE_EXPAND")
	setFloat64(&s.BestMatchesMinFitScore, "SOURCE_BEST_MATCHES_MIN_FIT_SCORE")
	setInt(&s.StrictRescueCount, "SOURCE_STRICT_RESCUE_COUNT")
	setFloat64(&s.StrictRescueMinFitScore, "SOURCE_STRICT_RESCUE_MIN_FIT_SCORE")
	setBool(&s.CountryGuardEnabled, "SOURCE_COUNTRY_GUARD_ENABLED")
	setBool(&s.CountryGuardSerpLocaleEnabled, "SOURCE_COUNTRY_GUARD_SERP_LOCALE_ENABLED")
	setFloat64(&s.FitScoreEpsilon, "SOURCE_FIT_SCORE_EPSILON")
	setFloat64(&s.LocationBoostWeight, "SOURCE_LOCATION_BOOST_WEIGHT")

	setString(&s.QueryGenMode, "SOURCING_QUERY_GEN_MODE")
	setInt(&s.QueryGroqTimeoutMs, "SOURCING_QUERY_GROQ_TIMEOUT_MS")
	setInt(&s.QueryGroqMaxRetries, "SOURCING_QUERY_GROQ_MAX_RETRIES")
	setInt(&s.AdaptiveMinStrictAtt, "SOURCING_ADAPTIVE_MIN_STRICT_ATTEMPTS")
	setFloat64(&s.AdaptiveStrictMinYield, "SOURCING_ADAPTIVE_STRICT_MIN_YIELD")
	setInt(&s.AdaptiveMinFallbackAtt, "SOURCING_ADAPTIVE_MIN_FALLBACK_ATTEMPTS")
	setFloat64(&s.AdaptiveFallbackMinYield, "SOURCING_ADAPTIVE_FALLBACK_MIN_YIELD")

	setFloat64(&s.LocationCoverageFloor, "SOURCE_LOCATION_COVERAGE_FLOOR")
	setBool(&s.NoveltyEnabled, "SOURCE_NOVELTY_ENABLED")
	setInt(&s.NoveltyWindowDays, "SOURCE_NOVELTY_WINDOW_DAYS")
	setInt(&s.DiscoveredEnrichReserve, "SOURCE_DISCOVERED_ENRICH_RESERVE")
	setInt(&s.DiscoveredOrphanEnrichReserve, "SOURCE_DISCOVERED_ORPHAN_ENRICH_RESERVE")
	setInt(&s.DynamicQueryMultiplier, "SOURCE_DYNAMIC_QUERY_MULTIPLIER")
	setInt(&s.MinDiscoveryPerRun, "SOURCE_MIN_DISCOVERY_PER_RUN")
	setInt(&s.MinDiscoveredInOutput, "SOURCE_MIN_DISCOVERED_IN_OUTPUT")
	setFloat64(&s.DiscoveredPromotionMinFit, "SOURCE_DISCOVERED_PROMOTION_MIN_FIT_SCORE")

	setBool(&s.RerankAfterEnrichment, "SOURCING_RERANK_AFTER_ENRICHMENT")
	setInt(&s.RerankDelayMs, "SOURCING_RERANK_DELAY_MS")

	tr := &cfg.Track
	setString(&tr.ClassifierVersion, "TRACK_CLASSIFIER_VERSION")
	setFloat64(&tr.LowConfThreshold, "TRACK_LOW_CONF_THRESHOLD")
	setFloat64(&tr.BlendThreshold, "TRACK_BLEND_THRESHOLD")
	setBool(&tr.GroqEnabled, "TRACK_GROQ_ENABLED")
	setInt(&tr.GroqTimeoutMs, "TRACK_GROQ_TIMEOUT_MS")
	setInt(&tr.GroqMaxRetries, "TRACK_GROQ_MAX_RETRIES")
	setInt(&tr.GroqCacheTTLDays, "TRACK_GROQ_CACHE_TTL_DAYS")
	setInt(&tr.CbThreshold, "TRACK_CB_THRESHOLD")
	setInt(&tr.CbWindowSec, "TRACK_CB_WINDOW_SEC")
	setInt(&tr.CbCooldownSec, "TRACK_CB_COOLDOWN_SEC")
}

// clamp forces every bounded option back into its documented range rather
// than rejecting the config.
func clamp(cfg *Config) {
	s := &cfg.Sourcing

	clampIntMin(&s.TargetCount, 0)
	clampIntMin(&s.MinGoodEnough, 0)
	clampIntMin(&s.JobMaxEnrich, 0)
	clampIntMin(&s.InitialEnrichCount, 0)
	clampIntMin(&s.MaxSerpQueries, 0)
	clampIntMin(&s.DailySerpCapPerTenant, 0)
	clampInt(&s.DynamicQueryMultiplier, 1, 5)
	clampIntMin(&s.MinDiscoveryPerRun, 0)
	clampIntMin(&s.MinDiscoveredInOutput, 0)
	clampIntMin(&s.QualityTopK, 1)
	clampIntMin(&s.QualityMinCountAbove, 0)
	clampIntMin(&s.MinStrictMatchesBeforeExpand, 0)
	clampIntMin(&s.StrictRescueCount, 0)
	clampIntMin(&s.SnapshotStaleDays, 1)
	clampIntMin(&s.StaleRefreshMaxPerRun, 0)
	clampIntMin(&s.DiscoveredEnrichReserve, 0)
	clampIntMin(&s.DiscoveredOrphanEnrichReserve, 0)
	clampIntMin(&s.NoveltyWindowDays, 1)
	clampIntMin(&s.QueryGroqTimeoutMs, 1)
	clampIntMin(&s.QueryGroqMaxRetries, 0)
	clampIntMin(&s.AdaptiveMinStrictAtt, 1)
	clampIntMin(&s.AdaptiveMinFallbackAtt, 1)
	clampIntMin(&s.RerankDelayMs, 0)

	clampFloat(&s.MaxDiscoveryShare, 0, 1)
	clampFloat(&s.MinDiscoveryShareLowQuality, 0, 1)
	clampFloat(&s.DiscoveredPromotionMinFit, 0, 1)
	clampFloat(&s.QualityMinAvgFit, 0, 1)
	clampFloat(&s.QualityThreshold, 0, 1)
	clampFloat(&s.BestMatchesMinFitScore, 0, 1)
	clampFloat(&s.StrictRescueMinFitScore, 0, 1)
	clampFloat(&s.FitScoreEpsilon, 0, 1)
	clampFloat(&s.LocationBoostWeight, 0, 1)
	clampFloat(&s.LocationCoverageFloor, 0, 1)
	clampFloat(&s.AdaptiveStrictMinYield, 0, 1)
	clampFloat(&s.AdaptiveFallbackMinYield, 0, 1)

	if s.QueryGenMode != "hybrid" {
		s.QueryGenMode = "deterministic"
	}

	tr := &cfg.Track
	clampFloat(&tr.LowConfThreshold, 0, 1)
	clampFloat(&tr.BlendThreshold, 0, 1)
	clampIntMin(&tr.GroqTimeoutMs, 1)
	clampIntMin(&tr.GroqMaxRetries, 0)
	clampIntMin(&tr.GroqCacheTTLDays, 1)
	clampIntMin(&tr.CbThreshold, 1)
	clampIntMin(&tr.CbWindowSec, 1)
	clampIntMin(&tr.CbCooldownSec, 1)

	clampIntMin(&cfg.Worker.Concurrency, 1)
	clampIntMin(&cfg.Callback.RedeliveryIntervalMn, 1)
	clampIntMin(&cfg.Callback.RedeliveryMaxAgeMn, 0)
	clampIntMin(&cfg.Callback.RedeliveryBatchSize, 1)
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	return nil
}

func clampInt(dst *int, lo, hi int) {
	if *dst < lo {
		*dst = lo
	}
	if *dst > hi {
		*dst = hi
	}
}

func clampIntMin(dst *int, lo int) {
	if *dst < lo {
		*dst = lo
	}
}

func clampFloat(dst *float64, lo, hi float64) {
	if *dst < lo {
		*dst = lo
	}
	if *dst > hi {
		*dst = hi
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
