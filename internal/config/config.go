// Package config loads service configuration from defaults, an optional
// YAML file and FACTORLAB_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "FACTORLAB"

// Config represents the complete application configuration.
type Config struct {
	PostgresDSN   string       `yaml:"postgres_dsn" envconfig:"POSTGRES_DSN" validate:"required_unless=UseMemory true"`
	ClickHouseDSN string       `yaml:"clickhouse_dsn" envconfig:"CLICKHOUSE_DSN" validate:"required_unless=UseMemory true"`
	UseMemory     bool         `yaml:"use_memory" envconfig:"USE_MEMORY"`
	Experiment    string       `yaml:"experiment" envconfig:"EXPERIMENT" validate:"required"`
	FactorsFile   string       `yaml:"factors_file" envconfig:"FACTORS_FILE"`
	Engine        EngineConfig `yaml:"engine" envconfig:"ENGINE"`
	Server        ServerConfig `yaml:"server" envconfig:"SERVER"`
	Feed          FeedConfig   `yaml:"feed" envconfig:"FEED"`
}

// EngineConfig contains computation settings.
type EngineConfig struct {
	Parallelism  int `yaml:"parallelism" envconfig:"PARALLELISM" validate:"gte=0"` // 0 = GOMAXPROCS
	ChunkDays    int `yaml:"chunk_days" envconfig:"CHUNK_DAYS" validate:"gt=0"`
	BatchSize    int `yaml:"batch_size" envconfig:"BATCH_SIZE" validate:"gt=0"`
	LabelHorizon int `yaml:"label_horizon" envconfig:"LABEL_HORIZON" validate:"gt=0"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Addr            string        `yaml:"addr" envconfig:"ADDR" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
}

// FeedConfig contains WebSocket feed configuration.
type FeedConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE" validate:"gt=0"`
	WriteBufferSize int           `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE" validate:"gt=0"`
	SendBuffer      int           `yaml:"send_buffer" envconfig:"SEND_BUFFER" validate:"gt=0"`
	PingPeriod      time.Duration `yaml:"ping_period" envconfig:"PING_PERIOD" validate:"gt=0"`
	PongWait        time.Duration `yaml:"pong_wait" envconfig:"PONG_WAIT" validate:"gtfield=PingPeriod"`
	WriteWait       time.Duration `yaml:"write_wait" envconfig:"WRITE_WAIT" validate:"gt=0"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Experiment:  "AlphaFactors",
		FactorsFile: "factors.yaml",
		Engine: EngineConfig{
			ChunkDays:    30,
			BatchSize:    50,
			LabelHorizon: 5,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Feed: FeedConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			SendBuffer:      64,
			PingPeriod:      30 * time.Second,
			PongWait:        60 * time.Second,
			WriteWait:       10 * time.Second,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty and the file exists), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to load config from file: %w", err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Only variables that are set override; no envconfig defaults are declared
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// LoadEnvFile sets variables from a KEY=VALUE file without overriding
// variables already present in the environment. A missing file is ignored.
func LoadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)

		// Don't override existing env vars
		if _, ok := os.LookupEnv(key); !ok {
			os.Setenv(key, value)
		}
	}
}
