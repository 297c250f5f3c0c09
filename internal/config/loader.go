package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// PathEnvVar names a config file when --config is not given.
const PathEnvVar = "AIRSENAL_LAUNCHER_CONFIG"

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ResolvePath picks the config file: the explicit flag, then $AIRSENAL_LAUNCHER_CONFIG.
// An empty result means defaults plus environment only.
func ResolvePath(flagPath string, lookup LookupFunc) string {
	if flagPath != "" {
		return flagPath
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if p, ok := lookup(PathEnvVar); ok {
		return strings.TrimSpace(p)
	}
	return ""
}

// Load reads configuration from configPath (optional), overlays the process
// environment, applies derived defaults and validates.
func Load(configPath string) (*Config, error) {
	return LoadWithEnv(configPath, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment.
func LoadWithEnv(configPath string, lookup LookupFunc) (*Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	cfg := Defaults()

	if configPath != "" {
		absPath, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
		}
		data, err := os.ReadFile(absPath)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %w\n"+
				"Hint: Check the path or unset %s", err, PathEnvVar)
		}
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", absPath, err)
		}
		interpolated := interpolateEnv(string(data), lookup)
		if err := yaml.Unmarshal([]byte(interpolated), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML in %s: %w", absPath, err)
		}
	}

	if err := ApplyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	deriveDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays the environment contract of the web collaborator:
// PORT, RENDER, AIRSENAL_HOME, FPL_TEAM_ID and LOG_LEVEL. Environment wins over
// the config file.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	if v, ok := lookup("PORT"); ok && strings.TrimSpace(v) != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("PORT must be an integer (got %q)", v)
		}
		cfg.Web.Port = port
	}
	// Any non-empty RENDER marks a hosted deployment.
	if v, ok := lookup("RENDER"); ok && v != "" {
		cfg.Web.Production = true
	}
	if v, ok := lookup("AIRSENAL_HOME"); ok && v != "" {
		cfg.Web.Home = v
	}
	if v, ok := lookup("FPL_TEAM_ID"); ok && v != "" {
		cfg.Web.TeamID = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		cfg.Service.LogLevel = strings.ToLower(strings.TrimSpace(v))
	}
	return nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string, lookup LookupFunc) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := lookup(varName); exists {
			return value
		}
		return match
	})
}
