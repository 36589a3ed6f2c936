package domain

import "time"

// Config holds the complete Harrier configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines backend availability
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Pipeline behavior
	Pipeline  PipelineConfig  `json:"pipeline"`
	Narrative NarrativeConfig `json:"narrative"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// PipelineConfig tunes the detection stages.
type PipelineConfig struct {
	// Feature engine windows (days)
	VelocityWindowDays       int     `json:"velocityWindowDays"`
	VelocityShortWindowDays  int     `json:"velocityShortWindowDays"`
	CountryRiskHighThreshold float64 `json:"countryRiskHighThreshold"`

	// Risk category thresholds, ascending; boundaries are closed on the
	// lower bound.
	RiskThresholdAlert    float64 `json:"riskThresholdAlert"`
	RiskThresholdHigh     float64 `json:"riskThresholdHigh"`
	RiskThresholdCritical float64 `json:"riskThresholdCritical"`

	// Alert manager gates
	AlertThreshold     float64 `json:"alertThreshold"`
	NarrativeThreshold float64 `json:"narrativeThreshold"`

	// Worker shards per stage (per-key ordered dispatch)
	WorkerShards int `json:"workerShards"`
}

// NarrativeConfig holds settings for AI-assisted SAR narrative generation.
type NarrativeConfig struct {
	Enabled     bool          `json:"enabled"`
	APIKey      string        `json:"-"`
	BaseURL     string        `json:"baseUrl"`
	Model       string        `json:"model"`
	MaxTokens   int           `json:"maxTokens"`
	Temperature float64       `json:"temperature"`
	Timeout     time.Duration `json:"timeout"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./harrier.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Pipeline: PipelineConfig{
			VelocityWindowDays:       30,
			VelocityShortWindowDays:  7,
			CountryRiskHighThreshold: 0.6,
			RiskThresholdAlert:       0.7,
			RiskThresholdHigh:        0.8,
			RiskThresholdCritical:    0.9,
			AlertThreshold:           0.7,
			NarrativeThreshold:       0.8,
			WorkerShards:             8,
		},
		Narrative: NarrativeConfig{
			Enabled:     true,
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4",
			MaxTokens:   500,
			Temperature: 0.3,
			Timeout:     15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "harrier",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "harrier",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       5 * time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
