// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all operator-tunable settings. Every field has an
// environment variable; only the GitHub token is required.
type Config struct {
	ListenAddr string `env:"GATES_LISTEN_ADDR" env-default:":8080"`

	GitHubToken   string `env:"GATES_GITHUB_TOKEN" env-required:"true"`
	GitHubBaseURL string `env:"GATES_GITHUB_BASE_URL" env-default:""`

	// RuleFilePath is the repository-relative path of the rule file.
	RuleFilePath string `env:"GATES_RULE_FILE" env-default:".github/deploy-gate.yml"`

	// QueueBackend selects the queue implementation: sqlite, redis, or
	// memory.
	QueueBackend string `env:"GATES_QUEUE_BACKEND" env-default:"sqlite"`
	QueueName    string `env:"GATES_QUEUE_NAME" env-default:"gate-processing"`

	SQLitePath string `env:"GATES_SQLITE_PATH" env-default:"gates.db"`
	RedisAddr  string `env:"GATES_REDIS_ADDR" env-default:"localhost:6379"`

	// MaxTries is the total processing budget per delivery, counting
	// the first attempt.
	MaxTries     int           `env:"GATES_MAX_TRIES" env-default:"6"`
	PollInterval time.Duration `env:"GATES_POLL_INTERVAL" env-default:"2s"`
}

// Load reads configuration from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.QueueBackend {
	case "sqlite", "redis", "memory":
	default:
		return fmt.Errorf("unknown queue backend %q (want sqlite, redis, or memory)", c.QueueBackend)
	}
	if c.MaxTries < 1 {
		return fmt.Errorf("GATES_MAX_TRIES must be at least 1, got %d", c.MaxTries)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("GATES_POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}
	return nil
}
