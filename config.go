package txprop

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the manager defaults read from the environment.
type Config struct {
	Propagation Propagation   `env:"TXPROP_PROPAGATION" envDefault:"required"`
	Isolation   string        `env:"TXPROP_ISOLATION" envDefault:"default"`
	ReadOnly    bool          `env:"TXPROP_READ_ONLY" envDefault:"false"`
	Timeout     time.Duration `env:"TXPROP_TIMEOUT" envDefault:"0s"`
	LogLevel    string        `env:"TXPROP_LOG_LEVEL" envDefault:"info"`
	// FailEarly makes participants report ErrUnexpectedRollback too.
	FailEarly bool `env:"TXPROP_FAIL_EARLY_ON_ROLLBACK_ONLY" envDefault:"false"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (Config, error) {
	return loadConfig(env.Options{})
}

// LoadConfigFrom loads configuration from the given variables instead of the process
// environment.
func LoadConfigFrom(vars map[string]string) (Config, error) {
	return loadConfig(env.Options{Environment: vars})
}

func loadConfig(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// DefaultDefinition builds the manager default definition.
func (c Config) DefaultDefinition() (Definition, error) {
	iso, err := ParseIsolation(c.Isolation)
	if err != nil {
		return Definition{}, err
	}
	return NewDefinition(
		WithPropagation(c.Propagation),
		WithIsolation(iso),
		WithReadOnly(c.ReadOnly),
		WithTimeout(c.Timeout),
	)
}

// ManagerOptions returns the options for NewTxManager, logging to stderr.
func (c Config) ManagerOptions() ([]ManagerOption, error) {
	return c.managerOptions(os.Stderr)
}

func (c Config) managerOptions(w io.Writer) ([]ManagerOption, error) {
	def, err := c.DefaultDefinition()
	if err != nil {
		return nil, err
	}
	logger, err := NewLogger(w, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	return []ManagerOption{
		WithDefaultDefinition(def),
		WithLogger(logger),
		WithFailEarlyOnGlobalRollbackOnly(c.FailEarly),
	}, nil
}
