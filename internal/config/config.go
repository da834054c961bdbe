// Package config loads the service configuration from flags, environment,
// an optional .env file and an optional config file, in that order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"microchallenges/internal/signature"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g.
// MICROCHALLENGES_LOG_LEVEL.
const EnvPrefix = "microchallenges"

// LegacySecretEnv is read when MICROCHALLENGES_SECRET is unset.
const LegacySecretEnv = "SECRET"

// Config holds all application configuration
type Config struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	LogLevel        string        `mapstructure:"log-level" validate:"oneof=debug info warn error"`
	Secret          string        `mapstructure:"secret" json:"-" validate:"required"`
	SignatureHeader string        `mapstructure:"signature-header" validate:"required"`
	MaxBodyBytes    int64         `mapstructure:"max-body-bytes" validate:"min=1"`
	DB              string        `mapstructure:"db"`
	AllowedIPs      []string      `mapstructure:"allowed-ips" validate:"dive,cidr|ip"`
	CORSOrigins     []string      `mapstructure:"cors-origins"`
	RateLimit       int           `mapstructure:"rate-limit" validate:"min=0"`
	RateWindow      time.Duration `mapstructure:"rate-window" validate:"gt=0"`
	RedisURL        string        `mapstructure:"redis-url" validate:"omitempty,url"`
	Workers         int           `mapstructure:"workers" validate:"min=0"`
	MetricsInterval time.Duration `mapstructure:"metrics-interval" validate:"min=0"`
	ReadTimeout     time.Duration `mapstructure:"read-timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `mapstructure:"write-timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `mapstructure:"idle-timeout" validate:"gt=0"`
	TSAuthKey       string        `mapstructure:"ts-authkey" json:"-"`
	TSHostname      string        `mapstructure:"ts-hostname"`
}

// Defaults returns every key with its default value. Keys must be known to
// viper for AutomaticEnv to reach them through Unmarshal.
func Defaults() map[string]any {
	return map[string]any{
		"addr":             ":8080",
		"log-level":        "info",
		"secret":           "",
		"signature-header": signature.DefaultHeader,
		"max-body-bytes":   signature.DefaultMaxBodyBytes,
		"db":               "sqlite:microchallenges.db",
		"allowed-ips":      []string{},
		"cors-origins":     []string{},
		"rate-limit":       100,
		"rate-window":      time.Minute,
		"redis-url":        "",
		"workers":          0,
		"metrics-interval": 30 * time.Second,
		"read-timeout":     10 * time.Second,
		"write-timeout":    30 * time.Second,
		"idle-timeout":     60 * time.Second,
		"ts-authkey":       "",
		"ts-hostname":      "microchallenges",
		"task-api-url":     "http://localhost:8000/api/",
	}
}

// NewViper returns a viper instance reading MICROCHALLENGES_* variables with
// every default registered.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}
	return v
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the configuration from v, reading configFile first if set, and
// validates it.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.Secret = ResolveSecret(v)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ResolveSecret returns the configured secret, falling back to the SECRET
// variable.
func ResolveSecret(v *viper.Viper) string {
	if s := v.GetString("secret"); s != "" {
		return s
	}
	return os.Getenv(LegacySecretEnv)
}

var validate = validator.New()

// Validate checks cfg and reports every failing field by its config key.
func Validate(cfg *Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validating config: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.StructField() == "Secret" {
			msgs = append(msgs, "secret is required (set MICROCHALLENGES_SECRET or SECRET)")
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// TaskAPIURL returns the base URL the tasks command talks to. It is read
// separately from Load because the tasks command needs no secret.
func TaskAPIURL(v *viper.Viper) (string, error) {
	u := v.GetString("task-api-url")
	if err := validate.Var(u, "required,url"); err != nil {
		return "", fmt.Errorf("invalid config: task-api-url %q is not a URL", u)
	}
	return u, nil
}

// SignatureSecret returns the shared secret as a value that never prints.
func (c *Config) SignatureSecret() signature.Secret {
	return signature.NewSecret(c.Secret)
}

// SlogLevel parses the configured level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
