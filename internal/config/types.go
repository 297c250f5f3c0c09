package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"time"
)

// Config represents the complete airsenal-launcher configuration. It governs
// the web server only; the dispatcher's collaborator commands are fixed.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	State   StateConfig   `yaml:"state"`
	Web     WebConfig     `yaml:"web"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// StateConfig defines run-history storage settings.
type StateConfig struct {
	// Path defaults to <web.home>/airsenal-launcher.db.
	Path string `yaml:"path"`
}

// WebConfig defines the web collaborator settings.
//
// Production binds all interfaces instead of loopback. WorkDir is where
// airsenal commands run; Home is exported to them as AIRSENAL_HOME. APIKey,
// when set, guards /run_command and /runs with a bearer token.
type WebConfig struct {
	Port           int           `yaml:"port"`
	Production     bool          `yaml:"production"`
	WorkDir        string        `yaml:"work_dir"`
	Home           string        `yaml:"home"`
	TeamID         string        `yaml:"fpl_team_id"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	APIKey         string        `yaml:"api_key"`
	LockPath       string        `yaml:"lock_path"`
	MaxOutputBytes int           `yaml:"max_output_bytes"`
	HistoryLimit   int           `yaml:"history_limit"`
}

// Listen returns the host:port the web server binds.
func (w WebConfig) Listen() string {
	host := "127.0.0.1"
	if w.Production {
		host = "0.0.0.0"
	}
	return net.JoinHostPort(host, strconv.Itoa(w.Port))
}

// Defaults returns a Config matching the container image layout.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "airsenal-launcher",
			LogLevel: "info",
		},
		Web: WebConfig{
			Port:           10000,
			WorkDir:        "/airsenal",
			Home:           "/tmp",
			CommandTimeout: 5 * time.Minute,
			MaxOutputBytes: 1024 * 1024,
			HistoryLimit:   20,
		},
	}
}

// deriveDefaults fills paths that depend on other fields.
func deriveDefaults(cfg *Config) {
	if cfg.State.Path == "" {
		cfg.State.Path = filepath.Join(cfg.Web.Home, "airsenal-launcher.db")
	}
	if cfg.Web.LockPath == "" {
		cfg.Web.LockPath = filepath.Join(cfg.Web.Home, "airsenal-launcher.lock")
	}
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Web.Port <= 0 || cfg.Web.Port > 65535 {
		return fmt.Errorf("web.port must be between 1 and 65535 (got %d)", cfg.Web.Port)
	}
	if cfg.Web.WorkDir == "" {
		return fmt.Errorf("web.work_dir is required")
	}
	if cfg.Web.Home == "" {
		return fmt.Errorf("web.home is required")
	}
	if cfg.Web.CommandTimeout <= 0 {
		return fmt.Errorf("web.command_timeout must be positive")
	}
	if cfg.Web.MaxOutputBytes <= 0 {
		return fmt.Errorf("web.max_output_bytes must be positive")
	}
	if cfg.Web.HistoryLimit <= 0 {
		return fmt.Errorf("web.history_limit must be positive")
	}
	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}
	if envVarPattern.MatchString(cfg.Web.APIKey) {
		matches := envVarPattern.FindStringSubmatch(cfg.Web.APIKey)
		return fmt.Errorf("web.api_key: environment variable ${%s} is not set", matches[1])
	}
	return nil
}
