// Package config provides configuration types for Authgate.
//
// Configuration is file-based (YAML) with environment variable overrides.
// Secrets (signing keys, CSRF secret) are base64-encoded in the file;
// principal secrets are never stored in plaintext, only as PHC hashes
// produced by the hash-secret command.
package config

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/authgate/authgate/internal/domain/auth"
	"github.com/authgate/authgate/internal/domain/lockout"
	"github.com/authgate/authgate/internal/domain/ratelimit"
	"github.com/authgate/authgate/internal/domain/session"
	"github.com/authgate/authgate/internal/domain/token"
)

// Config is the top-level configuration for Authgate.
type Config struct {
	// Server configures the HTTP listener for metrics and health.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Token configures token lifetimes and verification tolerances.
	Token TokenConfig `yaml:"token" mapstructure:"token"`

	// Keys are the signing keys. Exactly one must be active.
	Keys []KeyConfig `yaml:"keys" mapstructure:"keys" validate:"required,min=1,dive"`

	// Lockout configures failed-attempt counting and temporal locks.
	Lockout LockoutConfig `yaml:"lockout" mapstructure:"lockout"`

	// RateLimit configures the per-scope request quotas.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// Csrf configures the double-submit CSRF validator.
	Csrf CsrfConfig `yaml:"csrf" mapstructure:"csrf"`

	// Storage selects where abuse-tracking state lives.
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`

	// Principals seeds the in-memory credential store. Optional; a real
	// deployment backs the CredentialStore with its own user database.
	Principals []PrincipalConfig `yaml:"principals" mapstructure:"principals" validate:"omitempty,dive"`

	// DevMode enables development conveniences (debug logging).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on for /metrics and /healthz.
	// Defaults to "127.0.0.1:9102" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// Tracing enables OpenTelemetry span export.
	Tracing bool `yaml:"tracing" mapstructure:"tracing"`
}

// TokenConfig configures token issuance and verification.
type TokenConfig struct {
	// AccessTTL is the access token lifetime (e.g., "15m").
	// Defaults to "15m".
	AccessTTL string `yaml:"access_ttl" mapstructure:"access_ttl" validate:"omitempty,duration"`

	// RefreshTTL is the refresh token lifetime (e.g., "168h").
	// Must be >= AccessTTL. Defaults to "168h" (7 days).
	RefreshTTL string `yaml:"refresh_ttl" mapstructure:"refresh_ttl" validate:"omitempty,duration"`

	// ClockSkew is the verification leeway for expiry checks (e.g., "30s").
	// Defaults to "30s".
	ClockSkew string `yaml:"clock_skew" mapstructure:"clock_skew" validate:"omitempty,duration"`

	// KeyGrace is how long a retiring key stays verifiable after rotation.
	// Must be >= RefreshTTL or in-flight refresh tokens die early.
	// Defaults to "168h".
	KeyGrace string `yaml:"key_grace" mapstructure:"key_grace" validate:"omitempty,duration"`
}

// KeyConfig defines one signing key.
type KeyConfig struct {
	// ID is the key identifier carried in token headers.
	ID string `yaml:"id" mapstructure:"id" validate:"required"`

	// Secret is the base64-encoded HMAC key material, at least 32 bytes
	// decoded. Generate with the gen-key command.
	Secret string `yaml:"secret" mapstructure:"secret" validate:"required,keysecret"`

	// Status is the key lifecycle state: "active" or "retiring".
	Status string `yaml:"status" mapstructure:"status" validate:"required,oneof=active retiring"`
}

// LockoutConfig configures the lockout policy.
type LockoutConfig struct {
	// Threshold is the number of failures within Window that triggers a
	// lock. Defaults to 5.
	Threshold int `yaml:"threshold" mapstructure:"threshold" validate:"omitempty,min=1"`

	// Window is the failure-counting window (e.g., "60s"). Defaults to "60s".
	Window string `yaml:"window" mapstructure:"window" validate:"omitempty,duration"`

	// BaseDuration is the first lock's duration; each completed lockout
	// doubles the next one. Defaults to "60s".
	BaseDuration string `yaml:"base_duration" mapstructure:"base_duration" validate:"omitempty,duration"`

	// MaxDuration caps the escalated lock duration. Defaults to "1h".
	MaxDuration string `yaml:"max_duration" mapstructure:"max_duration" validate:"omitempty,duration"`
}

// QuotaConfig is one sliding-window rate limit.
type QuotaConfig struct {
	// Limit is the maximum number of events per window.
	Limit int `yaml:"limit" mapstructure:"limit" validate:"omitempty,min=1"`

	// Window is the sliding window length (e.g., "1m").
	Window string `yaml:"window" mapstructure:"window" validate:"omitempty,duration"`
}

// RateLimitConfig configures the per-scope quotas.
type RateLimitConfig struct {
	// LoginIP limits login attempts per source IP. Defaults to 30/min.
	LoginIP QuotaConfig `yaml:"login_ip" mapstructure:"login_ip"`

	// LoginIdentity limits login attempts per identity. Defaults to 10/min.
	LoginIdentity QuotaConfig `yaml:"login_identity" mapstructure:"login_identity"`

	// Refresh limits refresh exchanges per subject. A zero limit disables
	// the check. Defaults to disabled.
	Refresh QuotaConfig `yaml:"refresh" mapstructure:"refresh"`
}

// CsrfConfig configures the CSRF validator.
type CsrfConfig struct {
	// Secret is the base64-encoded HMAC secret, at least 32 bytes decoded.
	Secret string `yaml:"secret" mapstructure:"secret" validate:"required,keysecret"`

	// TTL is the CSRF token lifetime (e.g., "4h"). Defaults to "4h".
	TTL string `yaml:"ttl" mapstructure:"ttl" validate:"omitempty,duration"`
}

// StorageConfig selects the backing store for counters and replay records.
type StorageConfig struct {
	// Backend is "memory" or "sqlite". Defaults to "memory".
	// The sqlite backend survives restarts, so attackers cannot reset
	// their failure counters by waiting for a deploy.
	Backend string `yaml:"backend" mapstructure:"backend" validate:"omitempty,oneof=memory sqlite"`

	// Path is the sqlite database path. Required when backend is "sqlite".
	Path string `yaml:"path" mapstructure:"path"`

	// CleanupInterval is how often expired records are purged (e.g., "5m").
	// Defaults to "5m".
	CleanupInterval string `yaml:"cleanup_interval" mapstructure:"cleanup_interval" validate:"omitempty,duration"`
}

// PrincipalConfig seeds one principal into the credential store.
type PrincipalConfig struct {
	// ID is the unique identifier for this principal.
	ID string `yaml:"id" mapstructure:"id" validate:"required"`

	// Identity is the login name.
	Identity string `yaml:"identity" mapstructure:"identity" validate:"required"`

	// SecretHash is the PHC-format Argon2id hash of the secret.
	// Generate with the hash-secret command. Plaintext is never stored.
	SecretHash string `yaml:"secret_hash" mapstructure:"secret_hash" validate:"required,startswith=$argon2id$"`

	// Roles are the roles granted to this principal.
	Roles []string `yaml:"roles" mapstructure:"roles" validate:"required,min=1,dive,oneof=admin user read-only"`

	// Disabled blocks authentication without deleting the record.
	Disabled bool `yaml:"disabled" mapstructure:"disabled"`
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Server defaults. Bind to localhost only; users who need network
	// access must explicitly set http_addr.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:9102"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	if c.Token.AccessTTL == "" {
		c.Token.AccessTTL = "15m"
	}
	if c.Token.RefreshTTL == "" {
		c.Token.RefreshTTL = "168h"
	}
	if c.Token.ClockSkew == "" {
		c.Token.ClockSkew = "30s"
	}
	if c.Token.KeyGrace == "" {
		c.Token.KeyGrace = "168h"
	}

	if c.Lockout.Threshold == 0 {
		c.Lockout.Threshold = lockout.DefaultThreshold
	}
	if c.Lockout.Window == "" {
		c.Lockout.Window = "60s"
	}
	if c.Lockout.BaseDuration == "" {
		c.Lockout.BaseDuration = "60s"
	}
	if c.Lockout.MaxDuration == "" {
		c.Lockout.MaxDuration = "1h"
	}

	if c.RateLimit.LoginIP.Limit == 0 {
		c.RateLimit.LoginIP = QuotaConfig{Limit: 30, Window: "1m"}
	}
	if c.RateLimit.LoginIP.Window == "" {
		c.RateLimit.LoginIP.Window = "1m"
	}
	if c.RateLimit.LoginIdentity.Limit == 0 {
		c.RateLimit.LoginIdentity = QuotaConfig{Limit: 10, Window: "1m"}
	}
	if c.RateLimit.LoginIdentity.Window == "" {
		c.RateLimit.LoginIdentity.Window = "1m"
	}
	if c.RateLimit.Refresh.Limit > 0 && c.RateLimit.Refresh.Window == "" {
		c.RateLimit.Refresh.Window = "1m"
	}

	if c.Csrf.TTL == "" {
		c.Csrf.TTL = "4h"
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Storage.CleanupInterval == "" {
		c.Storage.CleanupInterval = "5m"
	}
}

// mustParse converts a validated duration string. Validation has already
// run the same parse, so an error here is a programming fault.
func mustParse(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic(fmt.Sprintf("unvalidated duration %q: %v", s, err))
	}
	return d
}

// SigningKeys decodes the configured keys into domain signing keys.
func (c *Config) SigningKeys() ([]token.SigningKey, error) {
	keys := make([]token.SigningKey, 0, len(c.Keys))
	for i, kc := range c.Keys {
		secret, err := base64.StdEncoding.DecodeString(kc.Secret)
		if err != nil {
			return nil, fmt.Errorf("keys[%d]: decode secret: %w", i, err)
		}
		keys = append(keys, token.SigningKey{
			ID:     kc.ID,
			Secret: secret,
			Status: token.KeyStatus(kc.Status),
		})
	}
	return keys, nil
}

// CsrfSecret decodes the configured CSRF secret.
func (c *Config) CsrfSecret() ([]byte, error) {
	secret, err := base64.StdEncoding.DecodeString(c.Csrf.Secret)
	if err != nil {
		return nil, fmt.Errorf("csrf: decode secret: %w", err)
	}
	return secret, nil
}

// SeedPrincipals converts the configured principals into domain principals.
func (c *Config) SeedPrincipals() []*auth.Principal {
	principals := make([]*auth.Principal, 0, len(c.Principals))
	for _, pc := range c.Principals {
		roles := make([]auth.Role, len(pc.Roles))
		for i, r := range pc.Roles {
			roles[i] = auth.Role(r)
		}
		principals = append(principals, &auth.Principal{
			ID:         pc.ID,
			Identity:   pc.Identity,
			SecretHash: pc.SecretHash,
			Roles:      roles,
			Disabled:   pc.Disabled,
		})
	}
	return principals
}

// SessionConfig converts the validated config into session parameters.
func (c *Config) SessionConfig() session.Config {
	cfg := session.Config{
		AccessTTL:          mustParse(c.Token.AccessTTL),
		RefreshTTL:         mustParse(c.Token.RefreshTTL),
		LoginIPQuota:       ratelimit.Config{Limit: c.RateLimit.LoginIP.Limit, Window: mustParse(c.RateLimit.LoginIP.Window)},
		LoginIdentityQuota: ratelimit.Config{Limit: c.RateLimit.LoginIdentity.Limit, Window: mustParse(c.RateLimit.LoginIdentity.Window)},
	}
	if c.RateLimit.Refresh.Limit > 0 {
		cfg.RefreshQuota = ratelimit.Config{Limit: c.RateLimit.Refresh.Limit, Window: mustParse(c.RateLimit.Refresh.Window)}
	}
	return cfg
}

// LockoutConfig converts the validated config into lockout parameters.
func (c *Config) LockoutConfig() lockout.Config {
	return lockout.Config{
		Threshold:    c.Lockout.Threshold,
		Window:       mustParse(c.Lockout.Window),
		BaseDuration: mustParse(c.Lockout.BaseDuration),
		MaxDuration:  mustParse(c.Lockout.MaxDuration),
	}
}

// ClockSkew returns the verification leeway.
func (c *Config) ClockSkew() time.Duration {
	return mustParse(c.Token.ClockSkew)
}

// KeyGrace returns the retiring-key grace period.
func (c *Config) KeyGrace() time.Duration {
	return mustParse(c.Token.KeyGrace)
}

// CsrfTTL returns the CSRF token lifetime.
func (c *Config) CsrfTTL() time.Duration {
	return mustParse(c.Csrf.TTL)
}

// CleanupInterval returns the storage purge interval.
func (c *Config) CleanupInterval() time.Duration {
	return mustParse(c.Storage.CleanupInterval)
}
