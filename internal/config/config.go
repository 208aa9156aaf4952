package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// maxAssessLatency is the latency bound promised by the AI analysis endpoint.
const maxAssessLatency = 5 * time.Second

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Fire feed and alert event topics.
	KafkaBrokers       []string
	FireFeedEnabled    bool
	KafkaFireTopic     string
	KafkaAlertTopic    string
	KafkaGroupID       string
	BatchSize          int
	BatchFlushInterval time.Duration

	// Mapbox region lookup for detections without a state.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int

	WeatherBaseURL string
	WeatherTTL     time.Duration
	WeatherTimeout time.Duration

	OpenAIAPIKey       string
	OpenAIModel        string
	OpenAIBaseURL      string
	OracleTimeout      time.Duration
	FusionBudget       time.Duration
	FusionInputTimeout time.Duration
	FusionCacheWindow  time.Duration
	FusionRadiusKm     float64

	// Empty addresses select the in-memory implementations.
	RedisAddr   string
	DatabaseURL string

	CrisisElevatedThreshold float64
	CrisisThreshold         float64
	CrisisHalfLife          time.Duration
	CrisisCooldown          time.Duration
	SignalRetention         time.Duration
	CrisisUrgentWindow      time.Duration

	AlertTTL      time.Duration
	AlertRadiusKm float64

	CrisisSweepSchedule    string
	MaintenanceSchedule    string
	WeatherRefreshSchedule string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}
	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}
	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	p := &parser{}
	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		FireFeedEnabled:    p.bool("FIRE_FEED_ENABLED", true),
		KafkaFireTopic:     sharedcfg.EnvOrDefault("KAFKA_FIRE_TOPIC", "fire-detections"),
		KafkaAlertTopic:    sharedcfg.EnvOrDefault("KAFKA_ALERT_TOPIC", "hazard-alerts"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "hazard-alert-service"),
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		MapboxToken:     mapboxToken,
		MapboxEnabled:   mapboxEnabled,
		MapboxTimeout:   p.duration("MAPBOX_TIMEOUT", 5*time.Second),
		MapboxCacheSize: parseMapboxCacheSize(),

		WeatherBaseURL: sharedcfg.EnvOrDefault("WEATHER_BASE_URL", "https://api.open-meteo.com"),
		WeatherTTL:     p.duration("WEATHER_TTL", 10*time.Minute),
		WeatherTimeout: p.duration("WEATHER_TIMEOUT", 3*time.Second),

		OpenAIAPIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:        sharedcfg.EnvOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:      os.Getenv("OPENAI_BASE_URL"),
		OracleTimeout:      p.duration("ORACLE_TIMEOUT", 3*time.Second),
		FusionBudget:       p.duration("FUSION_BUDGET", 4*time.Second),
		FusionInputTimeout: p.duration("FUSION_INPUT_TIMEOUT", time.Second),
		FusionCacheWindow:  p.duration("FUSION_CACHE_WINDOW", 5*time.Minute),
		FusionRadiusKm:     p.float("FUSION_RADIUS_KM", 50),

		RedisAddr:   os.Getenv("REDIS_ADDR"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		CrisisElevatedThreshold: p.float("CRISIS_ELEVATED_THRESHOLD", 4),
		CrisisThreshold:         p.float("CRISIS_THRESHOLD", 12),
		CrisisHalfLife:          p.duration("CRISIS_HALF_LIFE", 12*time.Hour),
		CrisisCooldown:          p.duration("CRISIS_COOLDOWN", 30*time.Minute),
		SignalRetention:         p.duration("SIGNAL_RETENTION", 72*time.Hour),
		CrisisUrgentWindow:      p.duration("CRISIS_URGENT_WINDOW", 6*time.Hour),

		AlertTTL:      p.duration("ALERT_TTL", 24*time.Hour),
		AlertRadiusKm: p.float("ALERT_RADIUS_KM", 25),

		CrisisSweepSchedule:    sharedcfg.EnvOrDefault("CRISIS_SWEEP_SCHEDULE", "@every 1m"),
		MaintenanceSchedule:    sharedcfg.EnvOrDefault("MAINTENANCE_SCHEDULE", "@every 15m"),
		WeatherRefreshSchedule: sharedcfg.EnvOrDefault("WEATHER_REFRESH_SCHEDULE", "@every 5m"),
	}
	if p.err != nil {
		return nil, p.err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.KafkaBrokers) == 0 {
		return errors.New("KAFKA_BROKERS is required")
	}
	if c.FireFeedEnabled && c.KafkaFireTopic == "" {
		return errors.New("KAFKA_FIRE_TOPIC is required")
	}
	if c.KafkaAlertTopic == "" {
		return errors.New("KAFKA_ALERT_TOPIC is required")
	}
	if c.MapboxEnabled && c.MapboxToken == "" {
		return errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}
	if c.OracleTimeout >= maxAssessLatency {
		return fmt.Errorf("ORACLE_TIMEOUT must be below %s", maxAssessLatency)
	}
	if c.FusionBudget <= 0 || c.FusionBudget >= maxAssessLatency {
		return fmt.Errorf("FUSION_BUDGET must be between 0 and %s", maxAssessLatency)
	}
	if c.FusionInputTimeout <= 0 || c.FusionInputTimeout >= c.FusionBudget {
		return errors.New("FUSION_INPUT_TIMEOUT must be positive and below FUSION_BUDGET")
	}
	if c.CrisisThreshold <= c.CrisisElevatedThreshold {
		return errors.New("CRISIS_THRESHOLD must be greater than CRISIS_ELEVATED_THRESHOLD")
	}
	if c.SignalRetention < c.CrisisHalfLife {
		return errors.New("SIGNAL_RETENTION must not be shorter than CRISIS_HALF_LIFE")
	}
	if c.CrisisUrgentWindow > c.SignalRetention {
		return errors.New("CRISIS_URGENT_WINDOW must not exceed SIGNAL_RETENTION")
	}
	return nil
}

// parser collects the first parse error so Load can read every variable in one pass.
type parser struct {
	err error
}

func (p *parser) duration(name string, def time.Duration) time.Duration {
	s := os.Getenv(name)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		p.fail(fmt.Errorf("invalid %s", name))
		return def
	}
	return d
}

func (p *parser) float(name string, def float64) float64 {
	s := os.Getenv(name)
	if s == "" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		p.fail(fmt.Errorf("invalid %s", name))
		return def
	}
	return v
}

func (p *parser) bool(name string, def bool) bool {
	s := os.Getenv(name)
	if s == "" {
		return def
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		p.fail(fmt.Errorf("invalid %s", name))
		return def
	}
	return v
}

func (p *parser) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

func parseMapboxCacheSize() int {
	if s := os.Getenv("MAPBOX_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}
