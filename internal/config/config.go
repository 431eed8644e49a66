// Package config loads and validates the gateway configuration from YAML
// files and BROKERGATE_* environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/finkor/brokergate/internal/compliance/feed"
	"github.com/finkor/brokergate/internal/provider"
)

// ServerConfig is the operational HTTP surface.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// MarketConfig tunes the session engine.
type MarketConfig struct {
	// SessionCacheTTL is clamped to 60s by the session engine.
	SessionCacheTTL time.Duration `mapstructure:"session_cache_ttl"`
	Timezone        string        `mapstructure:"timezone" validate:"required"`
	// HolidayFile points at the externally maintained lunar-holiday YAML.
	HolidayFile string `mapstructure:"holiday_file"`
}

// Config is the root gateway configuration.
type Config struct {
	Environment string `mapstructure:"environment" validate:"required,oneof=development production"`
	LogLevel    string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`

	Server    ServerConfig               `mapstructure:"server"`
	Market    MarketConfig               `mapstructure:"market"`
	Providers map[string]provider.Config `mapstructure:"providers"`

	// Feed is optional; nil disables the regulatory consumer.
	Feed *feed.Config `mapstructure:"feed"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("market.session_cache_ttl", "30s")
	v.SetDefault("market.timezone", "Asia/Seoul")
}

// Load reads the configuration from path, or from the default search paths
// when path is empty. Environment variables win over file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("brokergate")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/brokergate")
	}

	v.SetEnvPrefix("BROKERGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Missing file is fine; defaults plus env cover development.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate applies the structural rules. Provider credential keys are
// broker-specific and checked by the adapters, not here.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for id, pc := range cfg.Providers {
		if err := validate.Struct(pc); err != nil {
			return fmt.Errorf("invalid provider config %q: %w", id, err)
		}
	}
	if cfg.Feed != nil {
		if err := validate.Struct(cfg.Feed); err != nil {
			return fmt.Errorf("invalid feed config: %w", err)
		}
	}
	if _, err := time.LoadLocation(cfg.Market.Timezone); err != nil {
		return fmt.Errorf("invalid market timezone %q: %w", cfg.Market.Timezone, err)
	}
	return nil
}
