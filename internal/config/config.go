// Package config loads the panel's TOML configuration file.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/cubeward/cubeward/internal/logger"
)

// Config is the top-level TOML structure for the panel.
type Config struct {
	Server  ServerConfig      `toml:"server" mapstructure:"server"`
	Data    DataConfig        `toml:"data" mapstructure:"data"`
	Control ControlConfig     `toml:"control" mapstructure:"control"`
	Log     logger.SlogConfig `toml:"log" mapstructure:"log"`
	ProcLog logger.FileConfig `toml:"proc_log" mapstructure:"proc_log"`
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

// DataConfig configures persistence.
type DataConfig struct {
	Dir        string `toml:"dir" mapstructure:"dir"`                 // base data directory
	ProfileDB  string `toml:"profile_db" mapstructure:"profile_db"`   // sqlite path, default Dir/profiles.db
	HistoryDSN string `toml:"history_dsn" mapstructure:"history_dsn"` // optional history sink DSN
}

// ControlConfig tunes lifecycle behavior.
type ControlConfig struct {
	GracefulTimeout time.Duration `toml:"graceful_timeout" mapstructure:"graceful_timeout"`
	AuxTimeout      time.Duration `toml:"aux_timeout" mapstructure:"aux_timeout"`
	ConsoleLines    int           `toml:"console_lines" mapstructure:"console_lines"`
	AutoActivate    bool          `toml:"auto_activate" mapstructure:"auto_activate"` // re-activate last profile on start
	// WakeSchedule, when set (e.g. "@every 24h"), starts the active
	// profile's server on that interval so an inactivity-slept host comes
	// back before busy hours.
	WakeSchedule string `toml:"wake_schedule" mapstructure:"wake_schedule"`
}

// Default returns the built-in configuration used when no file is supplied.
func Default() Config {
	return Config{
		Server: ServerConfig{Listen: ":8080", BasePath: "/"},
		Data:   DataConfig{Dir: "data"},
		Log:    logger.SlogConfig{Level: "info", Format: "text", Color: true},
	}
}

// Load reads a TOML config file and applies defaults for omitted values.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/"
	}
	if c.Data.Dir == "" {
		c.Data.Dir = "data"
	}
	if c.Data.ProfileDB == "" {
		c.Data.ProfileDB = filepath.Join(c.Data.Dir, "profiles.db")
	}
	if c.ProcLog.Dir == "" {
		c.ProcLog.Dir = filepath.Join(c.Data.Dir, "logs")
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}
