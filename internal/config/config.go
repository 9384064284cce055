package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MinBcryptCost is the lowest work factor accepted outside of tests.
const MinBcryptCost = 12

// Rate limit backends.
const (
	RateLimitMemory   = "memory"
	RateLimitDatabase = "database"
)

type Database struct {
	Type            string        `mapstructure:"type"`
	Path            string        `mapstructure:"path"`
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"sslMode"`
	MaxConns        int           `mapstructure:"maxConns"`
	MaxIdle         int           `mapstructure:"maxIdle"`
	ConnMaxLifetime time.Duration `mapstructure:"connMaxLifetime"`
}

type RateLimit struct {
	// Backend is "memory" for a process-local counter or "database" to share
	// counters between instances through the login_attempts table.
	Backend       string        `mapstructure:"backend"`
	Window        time.Duration `mapstructure:"window"`
	MaxAttempts   int           `mapstructure:"maxAttempts"`
	SweepInterval time.Duration `mapstructure:"sweepInterval"`
}

type Auth struct {
	SessionTTL        time.Duration `mapstructure:"sessionTTL"`
	BcryptCost        int           `mapstructure:"bcryptCost"`
	AllowWeakHashing  bool          `mapstructure:"allowWeakHashing"`
	HashWorkers       int           `mapstructure:"hashWorkers"`
	TrustedProxies    []string      `mapstructure:"trustedProxies"`
	CleanupInterval   time.Duration `mapstructure:"cleanupInterval"`
	RequestsPerMinute int           `mapstructure:"requestsPerMinute"`
	RateLimit         RateLimit     `mapstructure:"rateLimit"`
}

type Config struct {
	APIPort  int      `mapstructure:"apiPort"`
	Database Database `mapstructure:"database"`
	Domains  struct {
		// Secure marks session cookies Secure; set it when served over TLS.
		Secure bool `mapstructure:"secure"`
	} `mapstructure:"domains"`
	CORS struct {
		AllowedOrigins []string `mapstructure:"allowedOrigins"`
	} `mapstructure:"cors"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	Auth Auth `mapstructure:"auth"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("apiPort", 8081)

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.path", "/data/showcase.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "showcase")
	v.SetDefault("database.user", "showcase")
	v.SetDefault("database.password", "")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 10)
	v.SetDefault("database.maxIdle", 5)
	v.SetDefault("database.connMaxLifetime", time.Hour)

	v.SetDefault("domains.secure", false)
	v.SetDefault("cors.allowedOrigins", []string{"http://localhost:*", "http://127.0.0.1:*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("auth.sessionTTL", 7*24*time.Hour)
	v.SetDefault("auth.bcryptCost", MinBcryptCost)
	v.SetDefault("auth.allowWeakHashing", false)
	v.SetDefault("auth.hashWorkers", 0)
	v.SetDefault("auth.trustedProxies", []string{})
	v.SetDefault("auth.cleanupInterval", time.Hour)
	v.SetDefault("auth.requestsPerMinute", 300)
	v.SetDefault("auth.rateLimit.backend", RateLimitMemory)
	v.SetDefault("auth.rateLimit.window", 15*time.Minute)
	v.SetDefault("auth.rateLimit.maxAttempts", 5)
	v.SetDefault("auth.rateLimit.sweepInterval", 5*time.Minute)
}

// LoadConfig loads the configuration from file and environment variables.
// An empty path skips the file and uses defaults plus environment only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		slog.Warn("no config file given, using defaults and environment")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the server cannot run safely with.
func (c *Config) Validate() error {
	if c.APIPort <= 0 {
		return errors.New("apiPort must be positive")
	}
	switch c.Database.Type {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database type: %q", c.Database.Type)
	}
	switch c.Auth.RateLimit.Backend {
	case RateLimitMemory, RateLimitDatabase:
	default:
		return fmt.Errorf("unsupported rate limit backend: %q", c.Auth.RateLimit.Backend)
	}
	if c.Auth.RateLimit.MaxAttempts <= 0 || c.Auth.RateLimit.Window <= 0 {
		return errors.New("auth.rateLimit needs a positive window and maxAttempts")
	}
	if c.Auth.SessionTTL <= 0 {
		return errors.New("auth.sessionTTL must be positive")
	}
	if c.Auth.BcryptCost < MinBcryptCost && !c.Auth.AllowWeakHashing {
		return fmt.Errorf("auth.bcryptCost %d is below the minimum of %d", c.Auth.BcryptCost, MinBcryptCost)
	}
	return nil
}
