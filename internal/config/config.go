package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/example/formreader/internal/formimage"
)

const (
	// APIKeyEnv holds the credential for the hosted model.
	APIKeyEnv = "GEMINI_API_KEY"
	// EnvPrefix applies to every other setting, e.g. FORMREADER_ADDR.
	EnvPrefix = "FORMREADER"

	DefaultModel           = "gemini-1.5-flash-8b"
	DefaultAddr            = ":8080"
	DefaultMaxUploadSize   = 10 << 20
	DefaultMaxImagePixels  = formimage.DefaultMaxPixels
	DefaultShutdownTimeout = 15 * time.Second
	DefaultLogLevel        = "info"
)

var validLogLevels = []string{"debug", "info", "warn", "error"}

// Config is loaded once at startup and only read afterwards.
type Config struct {
	APIKey          string
	Model           string
	Addr            string
	MaxUploadSize   int64
	MaxImagePixels  int64
	ShutdownTimeout time.Duration
	LogLevel        string
}

// DefaultConfig returns a configuration with sensible defaults and no credential.
func DefaultConfig() Config {
	return Config{
		Model:           DefaultModel,
		Addr:            DefaultAddr,
		MaxUploadSize:   DefaultMaxUploadSize,
		MaxImagePixels:  DefaultMaxImagePixels,
		ShutdownTimeout: DefaultShutdownTimeout,
		LogLevel:        DefaultLogLevel,
	}
}

// LoadEnvFile copies variables from .env style files into the process
// environment without overriding variables that are already set.
func LoadEnvFile(files ...string) error {
	return godotenv.Load(files...)
}

// Load reads the environment and the given command line arguments.
func Load(args []string) (Config, error) {
	v := viper.New()
	fs := pflag.NewFlagSet("formreader", pflag.ContinueOnError)
	defaults := DefaultConfig()

	setupViperEnvironment(v, defaults)
	defineFlags(fs, defaults)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if err := v.BindPFlags(fs); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}

	cfg := Config{
		APIKey:          v.GetString("api_key"),
		Model:           v.GetString("model"),
		Addr:            v.GetString("addr"),
		MaxUploadSize:   v.GetInt64("max_upload_size"),
		MaxImagePixels:  v.GetInt64("max_image_pixels"),
		ShutdownTimeout: v.GetDuration("shutdown_timeout"),
		LogLevel:        strings.ToLower(v.GetString("log_level")),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setupViperEnvironment(v *viper.Viper, defaults Config) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("api_key", APIKeyEnv)

	v.SetDefault("model", defaults.Model)
	v.SetDefault("addr", defaults.Addr)
	v.SetDefault("max_upload_size", defaults.MaxUploadSize)
	v.SetDefault("max_image_pixels", defaults.MaxImagePixels)
	v.SetDefault("shutdown_timeout", defaults.ShutdownTimeout)
	v.SetDefault("log_level", defaults.LogLevel)
}

// Flags use underscores so they share keys with the environment bindings.
func defineFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("model", defaults.Model, "Gemini model used for extraction")
	fs.String("addr", defaults.Addr, "HTTP listen address")
	fs.Int64("max_upload_size", defaults.MaxUploadSize, "Maximum accepted image size in bytes")
	fs.Int64("max_image_pixels", defaults.MaxImagePixels, "Maximum width*height of a decoded image")
	fs.Duration("shutdown_timeout", defaults.ShutdownTimeout, "Grace period for in-flight requests on shutdown")
	fs.String("log_level", defaults.LogLevel, "Log level (debug, info, warn, error)")
}

// Validate checks the server settings. The credential is deliberately not
// checked; a missing key fails the first model call instead.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Model) == "" {
		return errors.New("model cannot be empty")
	}
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("listen address cannot be empty")
	}
	if c.MaxUploadSize <= 0 {
		return errors.New("max upload size must be positive")
	}
	if c.MaxImagePixels <= 0 {
		return errors.New("max image pixels must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	for _, level := range validLogLevels {
		if c.LogLevel == level {
			return nil
		}
	}
	return fmt.Errorf("log level must be one of %s", strings.Join(validLogLevels, ", "))
}
