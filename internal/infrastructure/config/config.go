// Package config loads the balancer's runtime configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the immutable, process-wide configuration snapshot. It is
// captured once at startup and threaded through every handler and
// background loop; nothing re-reads the environment after Load returns.
type Config struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	LogLevel     string        `mapstructure:"log_level"`
	LogFormat    string        `mapstructure:"log_format"`
	DatabaseURL  string        `mapstructure:"database_url"`
	JWTSecret    string        `mapstructure:"jwt_secret"`
	AdminUser    string        `mapstructure:"admin_username"`
	AdminPass    string        `mapstructure:"admin_password"`
	AuthDisabled bool          `mapstructure:"auth_disabled"`
	DataDir      string        `mapstructure:"data_dir"`

	DrainDeadline      time.Duration `mapstructure:"drain_deadline"`
	UpdateCheckCooldown time.Duration `mapstructure:"update_check_cooldown"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
}

// DBPath returns the sqlite file path implied by DatabaseURL when it is a
// bare filename, or DatabaseURL itself when it already names a dialect DSN.
func (c *Config) DBPath() string {
	if filepath.IsAbs(c.DatabaseURL) || filepath.Dir(c.DatabaseURL) != "." {
		return c.DatabaseURL
	}
	return filepath.Join(c.DataDir, c.DatabaseURL)
}

// Load builds the Config by layering, lowest to highest priority:
// built-in defaults, an optional config.yaml under LLMLB_DATA_DIR, and
// LLMLB_-prefixed environment variables.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	dataDir := os.Getenv("LLMLB_DATA_DIR")
	if dataDir == "" {
		dataDir = v.GetString("data_dir")
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dataDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config.yaml: %w", err)
		}
	}

	v.SetEnvPrefix("LLMLB")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = dataDir
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()

	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("database_url", "llmlb.db")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("admin_username", "admin")
	v.SetDefault("admin_password", "")
	v.SetDefault("auth_disabled", false)
	v.SetDefault("data_dir", filepath.Join(home, ".llmlb"))

	v.SetDefault("drain_deadline", "600s")
	v.SetDefault("update_check_cooldown", "60s")
	v.SetDefault("shutdown_timeout", "30s")
}
