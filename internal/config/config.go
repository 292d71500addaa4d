// Package config loads the service configuration from the environment.
package config

import (
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds the runtime configuration of the parameter-search service.
type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Optimizer struct {
		// Defaults applied to jobs that omit the corresponding field.
		MaxIterations int `env:"OPT_MAX_ITERATIONS" envDefault:"100"`
		InitialPoints int `env:"OPT_INITIAL_POINTS" envDefault:"10"`
		CandidatePool int `env:"OPT_CANDIDATE_POOL" envDefault:"1000"`
	}
}

// Load parses the configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if cfg.Environment == "development" && cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}

	return cfg, nil
}
