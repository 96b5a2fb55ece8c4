package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers Authgate-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("duration", validateDuration); err != nil {
		return fmt.Errorf("failed to register duration validator: %w", err)
	}
	if err := v.RegisterValidation("keysecret", validateKeySecret); err != nil {
		return fmt.Errorf("failed to register keysecret validator: %w", err)
	}
	return nil
}

// validateDuration validates a Go duration string (e.g., "30s", "15m").
func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d > 0
}

// validateKeySecret validates base64-encoded secret material of at least
// 32 decoded bytes. Applies to signing keys and the CSRF secret.
func validateKeySecret(fl validator.FieldLevel) bool {
	raw, err := base64.StdEncoding.DecodeString(fl.Field().String())
	return err == nil && len(raw) >= 32
}

// Validate validates the Config using struct tags and cross-field rules.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateKeySet(); err != nil {
		return err
	}
	if err := c.validateTTLOrdering(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validatePrincipalUniqueness(); err != nil {
		return err
	}

	return nil
}

// validateKeySet ensures exactly one active signing key and unique key ids.
func (c *Config) validateKeySet() error {
	active := 0
	seen := make(map[string]struct{}, len(c.Keys))
	for i, k := range c.Keys {
		if _, dup := seen[k.ID]; dup {
			return fmt.Errorf("keys[%d]: duplicate key id %q", i, k.ID)
		}
		seen[k.ID] = struct{}{}
		if k.Status == "active" {
			active++
		}
	}
	if active != 1 {
		return fmt.Errorf("keys: exactly one active key required, found %d", active)
	}
	return nil
}

// validateTTLOrdering enforces refresh >= access and key_grace >= refresh.
// A grace period shorter than the refresh TTL would kill in-flight refresh
// tokens before their natural expiry after every rotation.
func (c *Config) validateTTLOrdering() error {
	access := mustParse(c.Token.AccessTTL)
	refresh := mustParse(c.Token.RefreshTTL)
	grace := mustParse(c.Token.KeyGrace)

	if refresh < access {
		return fmt.Errorf("token: refresh_ttl %s must not be shorter than access_ttl %s", c.Token.RefreshTTL, c.Token.AccessTTL)
	}
	if grace < refresh {
		return fmt.Errorf("token: key_grace %s must not be shorter than refresh_ttl %s", c.Token.KeyGrace, c.Token.RefreshTTL)
	}
	return nil
}

// validateStorage ensures the sqlite backend has a path.
func (c *Config) validateStorage() error {
	if c.Storage.Backend == "sqlite" && c.Storage.Path == "" {
		return errors.New("storage: path is required when backend is sqlite")
	}
	return nil
}

// validatePrincipalUniqueness ensures seeded ids and identities are unique.
func (c *Config) validatePrincipalUniqueness() error {
	ids := make(map[string]struct{}, len(c.Principals))
	identities := make(map[string]struct{}, len(c.Principals))
	for i, p := range c.Principals {
		if _, dup := ids[p.ID]; dup {
			return fmt.Errorf("principals[%d]: duplicate id %q", i, p.ID)
		}
		ids[p.ID] = struct{}{}
		if _, dup := identities[p.Identity]; dup {
			return fmt.Errorf("principals[%d]: duplicate identity %q", i, p.Identity)
		}
		identities[p.Identity] = struct{}{}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to
// user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single
// validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must have at least %s items", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "duration":
		return fmt.Sprintf("%s must be a positive duration (e.g., \"30s\", \"15m\")", field)
	case "keysecret":
		return fmt.Sprintf("%s must be base64-encoded material of at least 32 bytes", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
