// Package config provides configuration loading for Authgate.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for authgate.yaml/.yml in
// standard locations. The search requires an explicit YAML extension to
// avoid matching the binary itself, which Viper's built-in SetConfigName
// would match (same base name, no extension).
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location.
		// Set name/type without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("authgate")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: AUTHGATE_SERVER_HTTP_ADDR
	viper.SetEnvPrefix("AUTHGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for an authgate config file
// with an explicit YAML extension (.yaml or .yml).
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".authgate"),
		"/etc/authgate",
	}
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "authgate"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds nested config keys for environment variable
// support. Example: AUTHGATE_TOKEN_ACCESS_TTL overrides token.access_ttl.
// Keys, principals and other arrays are file-only.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.http_addr")
	_ = viper.BindEnv("server.log_level")
	_ = viper.BindEnv("server.tracing")

	_ = viper.BindEnv("token.access_ttl")
	_ = viper.BindEnv("token.refresh_ttl")
	_ = viper.BindEnv("token.clock_skew")
	_ = viper.BindEnv("token.key_grace")

	_ = viper.BindEnv("lockout.threshold")
	_ = viper.BindEnv("lockout.window")
	_ = viper.BindEnv("lockout.base_duration")
	_ = viper.BindEnv("lockout.max_duration")

	_ = viper.BindEnv("rate_limit.login_ip.limit")
	_ = viper.BindEnv("rate_limit.login_ip.window")
	_ = viper.BindEnv("rate_limit.login_identity.limit")
	_ = viper.BindEnv("rate_limit.login_identity.window")
	_ = viper.BindEnv("rate_limit.refresh.limit")
	_ = viper.BindEnv("rate_limit.refresh.window")

	_ = viper.BindEnv("csrf.secret")
	_ = viper.BindEnv("csrf.ttl")

	_ = viper.BindEnv("storage.backend")
	_ = viper.BindEnv("storage.path")
	_ = viper.BindEnv("storage.cleanup_interval")

	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides
// and defaults, validates, and returns the Config.
func LoadConfig() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; continue with env vars only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was
// loaded. Empty if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
