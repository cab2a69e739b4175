package main

import (
	"fmt"
	"strconv"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/zappabad/marketsim/internal/runner"
)

// Config is read from the environment; flags override it.
type Config struct {
	ConfigPath string `env:"SIM_CONFIG" envDefault:"configs/sample.yaml"`
	// Seed overrides the seed of the config file when non-empty.
	Seed string `env:"SIM_SEED"`

	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	LogDevelopment bool   `env:"LOG_DEVELOPMENT"`

	// Print attaches the console printer unless the config file already
	// lists a ConsolePrinter logger.
	Print bool `env:"SIM_PRINT" envDefault:"false"`

	// MetricsFile receives prometheus metrics in the text format after every session.
	MetricsFile string `env:"METRICS_FILE"`

	// RedisURL enables publishing records to RedisStream.
	RedisURL    string `env:"REDIS_URL"`
	RedisStream string `env:"REDIS_STREAM" envDefault:"marketsim:records"`
	RedisMaxLen int64  `env:"REDIS_MAXLEN" envDefault:"100000"`
	RedisSteps  bool   `env:"REDIS_STEPS"`
}

// console reports whether the CLI should attach its own console printer.
func (c *Config) console(sim *runner.Config) bool {
	return c.Print && !sim.HasLogger(runner.ClassConsolePrinter)
}

func LoadFromEnv() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.ConfigPath == "" {
		return fmt.Errorf("a simulation config path is required")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}
	if c.RedisURL != "" && c.RedisStream == "" {
		return fmt.Errorf("REDIS_STREAM must be set when REDIS_URL is")
	}
	if c.RedisMaxLen < 0 {
		return fmt.Errorf("REDIS_MAXLEN must not be negative")
	}
	if _, _, err := c.seed(); err != nil {
		return err
	}
	return nil
}

func (c *Config) seed() (uint64, bool, error) {
	if c.Seed == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseUint(c.Seed, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid seed %q: %w", c.Seed, err)
	}
	return v, true, nil
}

func (c *Config) logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.LogDevelopment {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	// stdout belongs to the console printer
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}
