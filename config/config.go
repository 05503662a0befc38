package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"raffler/domain/entities"

	"github.com/kelseyhightower/envconfig"
)

const (
	OracleModeLocal = "local"
	OracleModeNATS  = "nats"
)

// Config holds all application configuration
type Config struct {
	// Database
	DatabaseURL  string `envconfig:"DATABASE_URL"`
	DatabaseName string `envconfig:"DATABASE_NAME"`

	// Environment
	Environment string `envconfig:"ENVIRONMENT" default:"development"` // development, production or test
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Raffle
	EntranceFee          int64         `envconfig:"RAFFLE_ENTRANCE_FEE" default:"100"`
	RoundInterval        time.Duration `envconfig:"RAFFLE_INTERVAL" default:"30s"`
	CallbackGasLimit     uint32        `envconfig:"RAFFLE_CALLBACK_GAS_LIMIT" default:"500000"`
	GasLane              string        `envconfig:"RAFFLE_GAS_LANE" default:"0xd89b2bf150e3b9e13446986e571fb9cab24b13cea0a43ea20a6049a85cc807cc"`
	SubscriptionID       uint64        `envconfig:"RAFFLE_SUBSCRIPTION_ID" default:"1"`
	RequestConfirmations uint16        `envconfig:"RAFFLE_REQUEST_CONFIRMATIONS" default:"3"`
	DrawTimeout          time.Duration `envconfig:"RAFFLE_DRAW_TIMEOUT" default:"0s"`

	// Upkeep scheduling
	UpkeepSchedule string `envconfig:"UPKEEP_SCHEDULE" default:"@every 10s"`

	// Oracle
	OracleMode       string        `envconfig:"ORACLE_MODE" default:"local"`
	LocalOracleDelay time.Duration `envconfig:"LOCAL_ORACLE_DELAY" default:"2s"`
	NATSServers      string        `envconfig:"NATS_SERVERS"`

	// Discord announcements
	DiscordToken     string `envconfig:"DISCORD_TOKEN"`
	DiscordChannelID string `envconfig:"DISCORD_CHANNEL_ID"`

	// OpenTelemetry
	OTelEnabled              bool   `envconfig:"OTEL_ENABLED" default:"false"`
	OTelExporterType         string `envconfig:"OTEL_EXPORTER_TYPE" default:"console"` // console, otlp or none
	OTelOTLPEndpoint         string `envconfig:"OTEL_OTLP_ENDPOINT" default:"localhost:4317"`
	OTelServiceName          string `envconfig:"OTEL_SERVICE_NAME" default:"raffler"`
	OTelExportIntervalMillis int    `envconfig:"OTEL_EXPORT_INTERVAL_MILLIS" default:"30000"`
}

var (
	instance *Config
	once     sync.Once
	mu       sync.RWMutex
)

// Get returns the global configuration instance
func Get() *Config {
	mu.RLock()
	if instance != nil {
		defer mu.RUnlock()
		return instance
	}
	mu.RUnlock()

	once.Do(func() {
		cfg, err := Load()
		if err != nil {
			panic(fmt.Sprintf("failed to load config: %v", err))
		}
		mu.Lock()
		instance = cfg
		mu.Unlock()
	})

	mu.RLock()
	defer mu.RUnlock()
	return instance
}

// Load reads the configuration from environment variables
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}

	cfg.OracleMode = strings.ToLower(strings.TrimSpace(cfg.OracleMode))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for missing or inconsistent values
func (c *Config) Validate() error {
	if c.Environment != "test" && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	switch c.OracleMode {
	case OracleModeLocal:
	case OracleModeNATS:
		if c.NATSServers == "" {
			return fmt.Errorf("NATS_SERVERS is required when ORACLE_MODE=nats")
		}
	default:
		return fmt.Errorf("unknown ORACLE_MODE %q", c.OracleMode)
	}
	if c.DiscordChannelID != "" && c.DiscordToken == "" {
		return fmt.Errorf("DISCORD_TOKEN is required when DISCORD_CHANNEL_ID is set")
	}
	if c.UpkeepSchedule == "" {
		return fmt.Errorf("UPKEEP_SCHEDULE is required")
	}
	if err := c.RaffleConfig().Validate(); err != nil {
		return fmt.Errorf("invalid raffle configuration: %w", err)
	}
	return nil
}

// RaffleConfig builds the engine configuration
func (c *Config) RaffleConfig() entities.RaffleConfig {
	return entities.RaffleConfig{
		EntranceFee:          c.EntranceFee,
		RoundInterval:        c.RoundInterval,
		CallbackGasLimit:     c.CallbackGasLimit,
		GasLane:              c.GasLane,
		SubscriptionID:       c.SubscriptionID,
		RequestConfirmations: c.RequestConfirmations,
		NumWords:             entities.DefaultNumWords,
		DrawTimeout:          c.DrawTimeout,
	}
}

// IsProduction reports whether the service runs in production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// AnnouncementsEnabled reports whether draw results are posted to Discord
func (c *Config) AnnouncementsEnabled() bool {
	return c.DiscordToken != "" && c.DiscordChannelID != ""
}

// SetTestConfig overrides the global config instance for testing
// This should only be called from test files
func SetTestConfig(testConfig *Config) {
	mu.Lock()
	defer mu.Unlock()
	instance = testConfig
}

// ResetConfig resets the global config instance and sync.Once for testing
// This should only be called from test files
func ResetConfig() {
	mu.Lock()
	defer mu.Unlock()
	instance = nil
	once = sync.Once{}
}

// NewTestConfig creates a minimal config suitable for unit tests
func NewTestConfig() *Config {
	return &Config{
		Environment:              "test",
		LogLevel:                 "debug",
		EntranceFee:              100,
		RoundInterval:            30 * time.Second,
		CallbackGasLimit:         500000,
		SubscriptionID:           1,
		RequestConfirmations:     entities.DefaultRequestConfirmations,
		UpkeepSchedule:           "@every 1s",
		OracleMode:               OracleModeLocal,
		OTelExporterType:         "none",
		OTelServiceName:          "raffler-test",
		OTelExportIntervalMillis: 1000,
	}
}
