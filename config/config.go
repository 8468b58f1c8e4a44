// Package config loads the image store service configuration from YAML and
// turns it into a populated store registry.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/viper"

	"github.com/okeanos-dev/imagestore/interfaces"
	"github.com/okeanos-dev/imagestore/store"
)

// Config is the top level service configuration.
type Config struct {
	// DefaultStore is the scheme uploads go to when no store is named.
	DefaultStore string `mapstructure:"default_store"`

	// Stores lists the backends to enable, in registration order. A later
	// entry for the same driver replaces the earlier one.
	Stores []StoreConfig `mapstructure:"stores"`
}

// StoreConfig enables one driver with its option block. The options are
// passed through to the driver untouched; each driver validates its own
// keys during Configure.
type StoreConfig struct {
	Driver  string         `mapstructure:"driver"`
	Options map[string]any `mapstructure:"options"`
}

// Load reads a YAML config file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	expandEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expandEnv substitutes ${VAR} references in string option values, so
// credentials can stay out of the config file.
func expandEnv(cfg *Config) {
	cfg.DefaultStore = os.ExpandEnv(cfg.DefaultStore)
	for i := range cfg.Stores {
		sc := &cfg.Stores[i]
		sc.Driver = os.ExpandEnv(sc.Driver)
		for k, v := range sc.Options {
			if s, ok := v.(string); ok {
				sc.Options[k] = os.ExpandEnv(s)
			}
		}
	}
}

// Validate checks the parts of the configuration the drivers cannot: at
// least one store, known driver names, no duplicate drivers, and a default
// store served by one of the enabled drivers.
func (cfg *Config) Validate() error {
	if len(cfg.Stores) == 0 {
		return fmt.Errorf("%w: no stores configured", interfaces.ErrInvalidConfiguration)
	}
	if cfg.DefaultStore == "" {
		return fmt.Errorf("%w: default_store is required", interfaces.ErrInvalidConfiguration)
	}

	seen := map[string]bool{}
	defaultServed := false
	for _, sc := range cfg.Stores {
		d, err := store.DriverByName(sc.Driver)
		if err != nil {
			return fmt.Errorf("%w: %s", interfaces.ErrInvalidConfiguration, err)
		}
		if seen[sc.Driver] {
			return fmt.Errorf("%w: store %q configured twice", interfaces.ErrInvalidConfiguration, sc.Driver)
		}
		seen[sc.Driver] = true

		for _, scheme := range d.Schemes {
			if scheme == cfg.DefaultStore {
				defaultServed = true
			}
		}
	}
	if !defaultServed {
		return fmt.Errorf("%w: default_store %q is not served by any configured store", interfaces.ErrInvalidConfiguration, cfg.DefaultStore)
	}
	return nil
}

// BuildRegistry registers every configured store and marks the default.
// Driver construction stays lazy: a store with bad credentials only fails
// when the first operation routes to it, except the default store, which is
// verified eagerly so the service does not come up pointing uploads at a
// broken backend.
func (cfg *Config) BuildRegistry(log *slog.Logger) (*store.Registry, error) {
	registry := store.NewRegistry(log)
	for _, sc := range cfg.Stores {
		d, err := store.DriverByName(sc.Driver)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrInvalidConfiguration, err)
		}
		registry.Register(d, interfaces.Options(sc.Options))
	}
	registry.SetDefault(cfg.DefaultStore)
	if err := registry.VerifyDefault(); err != nil {
		return nil, err
	}
	return registry, nil
}
