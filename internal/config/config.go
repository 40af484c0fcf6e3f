// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Guildhall Contributors

// Package config loads guildhall server configuration. Sources, lowest
// precedence first: flag defaults, the YAML config file, the DATABASE_URL
// and REDIS_ADDR environment variables, then flags set on the command line.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/guildhall/guildhall/internal/access/audit"
	"github.com/guildhall/guildhall/internal/logging"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

// Config is the serve configuration.
type Config struct {
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	Cache    CacheConfig    `koanf:"cache"`
	Audit    AuditConfig    `koanf:"audit"`
	HTTP     HTTPConfig     `koanf:"http"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Log      LogConfig      `koanf:"log"`
}

// DatabaseConfig locates PostgreSQL.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// RedisConfig locates Redis for the redis cache backend.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// CacheConfig selects the effective-set cache.
type CacheConfig struct {
	Backend string        `koanf:"backend"`
	TTL     time.Duration `koanf:"ttl"`
}

// AuditConfig controls decision auditing.
type AuditConfig struct {
	Mode   string `koanf:"mode"`
	Buffer int    `koanf:"buffer"`
}

// HTTPConfig is the API listener.
type HTTPConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// MetricsConfig is the observability listener. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// LogConfig controls the default logger.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// envOverrides maps environment variables onto config keys.
var envOverrides = map[string]string{
	"DATABASE_URL": "database.url",
	"REDIS_ADDR":   "redis.addr",
}

// flagKey maps a flag name to its config key: the first dash separates the
// section, later dashes become underscores.
func flagKey(name string) string {
	section, rest, ok := strings.Cut(name, "-")
	if !ok {
		return name
	}
	return section + "." + strings.ReplaceAll(rest, "-", "_")
}

// RegisterFlags adds the serve flags with their defaults.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("database-url", "", "PostgreSQL connection URL")
	fs.String("redis-addr", "", "Redis address for the redis cache backend")
	fs.String("redis-password", "", "Redis password")
	fs.Int("redis-db", 0, "Redis database number")
	fs.String("cache-backend", CacheMemory, "effective-set cache: memory, redis or none")
	fs.Duration("cache-ttl", 10*time.Minute, "redis cache entry lifetime")
	fs.String("audit-mode", string(audit.ModeDenialsOnly), "audit mode: minimal, denials_only or all")
	fs.Int("audit-buffer", 1000, "async audit queue capacity")
	fs.String("http-addr", "127.0.0.1:8080", "API listen address")
	fs.Duration("http-shutdown-timeout", 10*time.Second, "graceful shutdown deadline")
	fs.String("metrics-addr", "127.0.0.1:9100", "metrics and health listen address (empty disables)")
	fs.String("log-format", "json", "log format: json or text")
	fs.String("log-level", "info", "log level: debug, info, warn or error")
}

// Load builds a Config from fs (which must have been parsed and set up with
// RegisterFlags) and the optional YAML file at path.
func Load(fs *pflag.FlagSet, path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.In("config").Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	for env, key := range envOverrides {
		if v, ok := os.LookupEnv(env); ok && v != "" {
			if err := k.Set(key, v); err != nil {
				return nil, oops.In("config").Code("CONFIG_LOAD_FAILED").With("env", env).Wrap(err)
			}
		}
	}

	// Unchanged flags only fill keys nothing else set; changed flags win.
	provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
		return flagKey(f.Name), posflag.FlagVal(fs, f)
	})
	if err := k.Load(provider, nil); err != nil {
		return nil, oops.In("config").Code("CONFIG_LOAD_FAILED").Wrap(err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.In("config").Code("CONFIG_INVALID").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting in one CONFIG_INVALID error.
func (c *Config) Validate() error {
	var problems []string
	if c.Database.URL == "" {
		problems = append(problems, "database.url is required")
	}
	switch c.Cache.Backend {
	case CacheMemory, CacheNone:
	case CacheRedis:
		if c.Redis.Addr == "" {
			problems = append(problems, "redis.addr is required for the redis cache backend")
		}
		if c.Cache.TTL <= 0 {
			problems = append(problems, "cache.ttl must be positive")
		}
	default:
		problems = append(problems, "cache.backend must be memory, redis or none")
	}
	if _, err := audit.ParseMode(c.Audit.Mode); err != nil {
		problems = append(problems, "audit.mode must be minimal, denials_only or all")
	}
	if c.Audit.Buffer <= 0 {
		problems = append(problems, "audit.buffer must be positive")
	}
	if c.HTTP.Addr == "" {
		problems = append(problems, "http.addr is required")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		problems = append(problems, "log.format must be json or text")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		problems = append(problems, "log.level must be debug, info, warn or error")
	}

	if len(problems) > 0 {
		return oops.In("config").Code("CONFIG_INVALID").
			With("problems", problems).
			Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
