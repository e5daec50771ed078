// Package config loads docsession settings from an optional config file
// and DOCSESSION_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/roach88/docsession/internal/schema"
	"github.com/roach88/docsession/internal/session"
	"github.com/roach88/docsession/internal/store"
)

// EnvPrefix prefixes every environment variable, e.g.
// DOCSESSION_REQUEST_TIMEOUT=5s.
const EnvPrefix = "DOCSESSION"

// Identity convention names.
const (
	IdentityServer = "server"
	IdentityUUID   = "uuid"
)

// Config holds everything needed to open a store and its sessions.
type Config struct {
	Database              string        `mapstructure:"database"`
	NodeTag               string        `mapstructure:"node_tag"`
	Identity              string        `mapstructure:"identity"`
	RequestTimeout        time.Duration `mapstructure:"request_timeout"`
	MaxRequests           int           `mapstructure:"max_requests"`
	OptimisticConcurrency bool          `mapstructure:"optimistic_concurrency"`
	Schema                string        `mapstructure:"schema"`
	PlanCacheSize         int           `mapstructure:"plan_cache_size"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Database:              "docsession.db",
		NodeTag:               store.DefaultNodeTag,
		Identity:              IdentityServer,
		RequestTimeout:        session.DefaultRequestTimeout,
		MaxRequests:           session.DefaultMaxRequestsPerSession,
		OptimisticConcurrency: true,
		PlanCacheSize:         store.DefaultPlanCacheSize,
	}
}

// Load reads path (YAML, TOML or JSON by extension) and the environment.
// With an empty path, docsession.yaml in the working directory is read if
// present. Environment variables override the file.
func Load(path string) (Config, error) {
	v := viper.New()

	def := Default()
	v.SetDefault("database", def.Database)
	v.SetDefault("node_tag", def.NodeTag)
	v.SetDefault("identity", def.Identity)
	v.SetDefault("request_timeout", def.RequestTimeout)
	v.SetDefault("max_requests", def.MaxRequests)
	v.SetDefault("optimistic_concurrency", def.OptimisticConcurrency)
	v.SetDefault("schema", def.Schema)
	v.SetDefault("plan_cache_size", def.PlanCacheSize)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("docsession")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field ranges and names.
func (c Config) Validate() error {
	if c.Database == "" {
		return fmt.Errorf("config: database must not be empty")
	}
	if c.NodeTag == "" {
		return fmt.Errorf("config: node_tag must not be empty")
	}
	switch c.Identity {
	case IdentityServer, IdentityUUID:
	default:
		return fmt.Errorf("config: unknown identity convention %q (want %s or %s)", c.Identity, IdentityServer, IdentityUUID)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("config: request_timeout must not be negative")
	}
	if c.MaxRequests < 0 {
		return fmt.Errorf("config: max_requests must not be negative")
	}
	if c.PlanCacheSize < 0 {
		return fmt.Errorf("config: plan_cache_size must not be negative")
	}
	return nil
}

// Conventions returns the session conventions the config describes.
func (c Config) Conventions() session.Conventions {
	conv := session.DefaultConventions()
	if c.Identity == IdentityUUID {
		conv.Identity = session.UUIDConvention{}
	}
	conv.RequestTimeout = c.RequestTimeout
	conv.MaxRequestsPerSession = c.MaxRequests
	conv.OptimisticConcurrency = c.OptimisticConcurrency
	return conv
}

// StoreOptions returns the options for store.Open, loading the schema
// file if one is configured.
func (c Config) StoreOptions(logger *slog.Logger) ([]store.Option, error) {
	opts := []store.Option{
		store.WithNodeTag(c.NodeTag),
		store.WithPlanCacheSize(c.PlanCacheSize),
	}
	if logger != nil {
		opts = append(opts, store.WithLogger(logger))
	}
	if c.Schema != "" {
		reg, err := schema.Load(c.Schema)
		if err != nil {
			return nil, fmt.Errorf("load schema: %w", err)
		}
		opts = append(opts, store.WithSchemas(reg))
	}
	return opts, nil
}

// OpenStore opens the configured database.
func (c Config) OpenStore(logger *slog.Logger) (*store.Store, error) {
	opts, err := c.StoreOptions(logger)
	if err != nil {
		return nil, err
	}
	return store.Open(c.Database, opts...)
}
