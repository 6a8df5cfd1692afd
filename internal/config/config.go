// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config is the full configuration of the solve service.
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
	Solver struct {
		// MaxEval caps objective evaluations per solve request.
		MaxEval int `env:"SOLVER_MAX_EVAL" envDefault:"100000"`
		// XTolAbs is the default absolute step tolerance.
		XTolAbs float64 `env:"SOLVER_XTOL_ABS" envDefault:"1e-6"`
		// FTolAbs is the default absolute objective-change tolerance.
		FTolAbs float64 `env:"SOLVER_FTOL_ABS" envDefault:"1e-8"`
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
	if cfg.Solver.MaxEval < 0 {
		return nil, fmt.Errorf("SOLVER_MAX_EVAL must be non-negative, got %d", cfg.Solver.MaxEval)
	}
	return cfg, nil
}
