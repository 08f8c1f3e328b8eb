package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/artpar/shipmate/internal/core/domain"
	"github.com/artpar/shipmate/internal/shell/store"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	StateDir string             `mapstructure:"state_dir"`
	Playbook string             `mapstructure:"playbook"`
	Executor ExecutorConfig     `mapstructure:"executor"`
	Deploy   DeployConfig       `mapstructure:"deploy"`
	Health   HealthConfig       `mapstructure:"health"`
	Log      LogConfig          `mapstructure:"log"`
	Profiles map[string]Profile `mapstructure:"profiles"`
}

// ExecutorConfig holds settings for the external configuration run.
type ExecutorConfig struct {
	Binary  string        `mapstructure:"binary"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DeployConfig holds deployment behavior settings.
type DeployConfig struct {
	// RedeployAfterFailure forces a redeploy when the previous attempt
	// failed, even if the descriptor digest is unchanged.
	RedeployAfterFailure bool `mapstructure:"redeploy_after_failure"`
}

// HealthConfig holds smoke test timing.
type HealthConfig struct {
	Attempts   int           `mapstructure:"attempts"`
	Interval   time.Duration `mapstructure:"interval"`
	ProbeLimit time.Duration `mapstructure:"probe_limit"`
}

// LogConfig holds logging configuration. When File is set, output also goes
// to a size-rotated log file.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Profile is a named deployment target stored in the config file.
type Profile struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	PrivateKeyPath string `mapstructure:"private_key_path"`
	WorkDir        string `mapstructure:"work_dir"`
	EnvFile        string `mapstructure:"env_file"`
	DeployCommand  string `mapstructure:"deploy_command"`

	// Production profiles require explicit confirmation before deploys.
	Production bool `mapstructure:"production"`
}

// Target converts the profile into a deployment target.
func (p Profile) Target() domain.Target {
	return domain.Target{
		Host:           p.Host,
		Port:           p.Port,
		User:           p.User,
		PrivateKeyPath: p.PrivateKeyPath,
		WorkDir:        p.WorkDir,
		EnvFile:        p.EnvFile,
		DeployCommand:  p.DeployCommand,
	}
}

// DefaultConfigPath returns the default config file location
// (~/.shipmate/config.yaml).
func DefaultConfigPath() string {
	return filepath.Join(store.DefaultDir(), "config.yaml")
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("state_dir", store.DefaultDir())
	v.SetDefault("playbook", "")
	v.SetDefault("executor.binary", "ansible-playbook")
	v.SetDefault("executor.timeout", "15m")
	v.SetDefault("deploy.redeploy_after_failure", false)
	v.SetDefault("health.attempts", 30)
	v.SetDefault("health.interval", "1s")
	v.SetDefault("health.probe_limit", "5s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 7)

	explicit := configPath != ""
	if configPath == "" {
		configPath = DefaultConfigPath()
	}
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigParseError); ok {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		// A missing default config file is fine; a missing explicit one
		// is an operator mistake.
		if explicit {
			if _, statErr := os.Stat(configPath); statErr != nil {
				return nil, fmt.Errorf("config file not found: %s", configPath)
			}
		}
	}

	v.SetEnvPrefix("SHIPMATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level, format and optional
// rotating file destination.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var out io.Writer = os.Stderr
	if cfg.Log.File != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
			Compress:   true,
		})
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler)
}
