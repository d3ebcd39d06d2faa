package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is populated from environment variables. Defaults are suitable for
// local development; webhook secrets must be overridden in any real
// deployment.
type Config struct {
	Port   string `env:"PORT" envDefault:"8080"`
	DBPath string `env:"DB_PATH" envDefault:"funding.db"`

	// StorageTimeout bounds every storage operation; a timeout is a
	// transient, retryable failure.
	StorageTimeout time.Duration `env:"STORAGE_TIMEOUT" envDefault:"5s"`

	// SweepInterval is how often the deadline sweeper runs.
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`

	// EnforceGoalCap rejects pledges that would overfund a campaign at
	// creation time. Settlement events are never rejected for overfunding.
	EnforceGoalCap bool `env:"ENFORCE_GOAL_CAP" envDefault:"false"`
	WarnOnOverfund bool `env:"WARN_ON_OVERFUND" envDefault:"true"`

	CardWebhookSecret     string `env:"CARD_WEBHOOK_SECRET" envDefault:"card-dev-secret"`
	WalletWebhookSecret   string `env:"WALLET_WEBHOOK_SECRET" envDefault:"wallet-dev-secret"`
	ChainCallbackToken    string `env:"CHAIN_CALLBACK_TOKEN" envDefault:"chain-dev-token"`
	ChainMinConfirmations int    `env:"CHAIN_MIN_CONFIRMATIONS" envDefault:"6"`
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
