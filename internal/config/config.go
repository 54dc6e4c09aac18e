// Package config loads the server and sync client settings from defaults, an
// optional config file, PAD_ environment variables and command line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix is prepended to every environment variable, so retry-delay is
// read from PAD_RETRY_DELAY.
const EnvPrefix = "PAD"

// Common errors.
var (
	ErrMissingMasterURL = errors.New("master-url is required unless running as master")
	ErrMissingListen    = errors.New("listen address is required")
	ErrMissingServer    = errors.New("sync needs a server url")
	ErrMissingDoc       = errors.New("sync needs a document id")
	ErrMissingFile      = errors.New("sync needs a file")
)

// Config holds the settings of a replica server.
type Config struct {
	Listen     string        `mapstructure:"listen"`
	Master     bool          `mapstructure:"master"`
	MasterURL  string        `mapstructure:"master-url"`
	RetryDelay time.Duration `mapstructure:"retry-delay"`
	LogLevel   string        `mapstructure:"log-level"`
	Sync       SyncConfig    `mapstructure:"sync"`
}

// SyncConfig holds the settings of the file sync client.
type SyncConfig struct {
	Server   string        `mapstructure:"server"`
	Doc      string        `mapstructure:"doc"`
	File     string        `mapstructure:"file"`
	Interval time.Duration `mapstructure:"interval"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Listen:     ":8080",
		RetryDelay: time.Second,
		LogLevel:   "info",
		Sync: SyncConfig{
			Server:   "http://localhost:8080",
			Interval: 500 * time.Millisecond,
		},
	}
}

// Load reads the configuration through v. Flags must already be bound to v
// under the mapstructure keys above. An empty file skips the config file.
func Load(v *viper.Viper, file string) (Config, error) {
	def := Default()

	v.SetDefault("listen", def.Listen)
	v.SetDefault("master", def.Master)
	v.SetDefault("master-url", def.MasterURL)
	v.SetDefault("retry-delay", def.RetryDelay)
	v.SetDefault("log-level", def.LogLevel)
	v.SetDefault("sync.server", def.Sync.Server)
	v.SetDefault("sync.doc", def.Sync.Doc)
	v.SetDefault("sync.file", def.Sync.File)
	v.SetDefault("sync.interval", def.Sync.Interval)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)

		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// Validate checks the settings needed to serve.
func (c Config) Validate() error {
	if c.Listen == "" {
		return ErrMissingListen
	}

	if !c.Master && c.MasterURL == "" {
		return ErrMissingMasterURL
	}

	return nil
}

// Validate checks the settings needed to sync a file.
func (c SyncConfig) Validate() error {
	switch {
	case c.Server == "":
		return ErrMissingServer
	case c.Doc == "":
		return ErrMissingDoc
	case c.File == "":
		return ErrMissingFile
	}

	return nil
}

// NewLogger builds a JSON production logger at the configured level.
func (c Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	return logger, nil
}
