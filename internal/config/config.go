package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/copyleftdev/godirect/internal/optimization/direct"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
		RequestTimeout  time.Duration `env:"HTTP_REQUEST_TIMEOUT" envDefault:"60s"`
	}
	Logging struct {
		// Level defaults to debug in development and info elsewhere.
		Level  string `env:"LOG_LEVEL"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Optimization struct {
		WorkerCount int `env:"OPT_WORKER_COUNT" envDefault:"10"`
		// Retention is how long finished jobs stay queryable.
		Retention time.Duration `env:"OPT_RETENTION" envDefault:"1h"`
	}
	// Direct holds the solver defaults applied when a request omits them.
	Direct struct {
		Epsilon         float64 `env:"DIRECT_EPS" envDefault:"0.001"`
		MaxEvaluations  int     `env:"DIRECT_MAXF" envDefault:"10000"`
		MaxIterations   int     `env:"DIRECT_MAXT" envDefault:"100"`
		Algorithm       string  `env:"DIRECT_ALGORITHM" envDefault:"original"`
		VolumeTolerance float64 `env:"DIRECT_VOLPER" envDefault:"0.00001"`
		SigmaTolerance  float64 `env:"DIRECT_SIGMAPER" envDefault:"0.001"`
	}
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
		if cfg.Environment == "development" {
			cfg.Logging.Level = "debug"
		}
	}
	if cfg.Optimization.WorkerCount < 1 {
		cfg.Optimization.WorkerCount = 1
	}
	if _, err := direct.ParseAlgorithm(cfg.Direct.Algorithm); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DirectParams converts the solver defaults into solver parameters.
func (c *Config) DirectParams() direct.Params {
	p := direct.DefaultParams()
	p.Epsilon = c.Direct.Epsilon
	p.VolumeTolerance = c.Direct.VolumeTolerance
	p.SigmaTolerance = c.Direct.SigmaTolerance
	if alg, err := direct.ParseAlgorithm(c.Direct.Algorithm); err == nil {
		p.Algorithm = alg
	}
	return p
}

// GetEnv returns the value of the environment variable or the default value
func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
