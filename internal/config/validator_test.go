package config

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestConfig_Validate_Valid(t *testing.T) {
	t.Parallel()

	cfg := validTestConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
}

func TestConfig_Validate_NoKeys(t *testing.T) {
	t.Parallel()

	cfg := validTestConfig()
	cfg.Keys = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() expected error for missing keys")
	}
}

func TestConfig_Validate_NoActiveKey(t *testing.T) {
	t.Parallel()

	cfg := validTestConfig()
	cfg.Keys[0].Status = "retiring"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "exactly one active key") {
		t.Fatalf("Validate() error = %v, want active-key error", err)
	}
}

func TestConfig_Validate_TwoActiveKeys(t *testing.T) {
	t.Parallel()

	cfg := validTestConfig()
	cfg.Keys = append(cfg.Keys, KeyConfig{ID: "k2", Secret: testSecret, Status: "active"})
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "exactly one active key") {
		t.Fatalf("Validate() error = %v, want active-key error", err)
	}
}

func TestConfig_Validate_DuplicateKeyID(t *testing.T) {
	t.Parallel()

	cfg := validTestConfig()
	cfg.Keys = append(cfg.Keys, KeyConfig{ID: "k1", Secret: testSecret, Status: "retiring"})
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "duplicate key id") {
		t.Fatalf("Validate() error = %v, want duplicate-id error", err)
	}
}

func TestConfig_Validate_ShortSecret(t *testing.T) {
	t.Parallel()

	cfg := validTestConfig()
	cfg.Keys[0].Secret = base64.StdEncoding.EncodeToString([]byte("too short"))
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() expected error for short key secret")
	}

	cfg = validTestConfig()
	cfg.Csrf.Secret = "not-base64!!"
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() expected error for undecodable csrf secret")
	}
}

func TestConfig_Validate_RefreshShorterThanAccess(t *testing.T) {
	t.Parallel()

	cfg := validTestConfig()
	cfg.Token.AccessTTL = "1h"
	cfg.Token.RefreshTTL = "30m"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "refresh_ttl") {
		t.Fatalf("Validate() error = %v, want ttl-ordering error", err)
	}
}

func TestConfig_Validate_GraceShorterThanRefresh(t *testing.T) {
	t.Parallel()

	cfg := validTestConfig()
	cfg.Token.KeyGrace = "1h"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "key_grace") {
		t.Fatalf("Validate() error = %v, want grace-ordering error", err)
	}
}

func TestConfig_Validate_BadDuration(t *testing.T) {
	t.Parallel()

	cfg := validTestConfig()
	cfg.Token.AccessTTL = "fifteen minutes"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "duration") {
		t.Fatalf("Validate() error = %v, want duration error", err)
	}
}

func TestConfig_Validate_SqliteNeedsPath(t *testing.T) {
	t.Parallel()

	cfg := validTestConfig()
	cfg.Storage.Backend = "sqlite"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "path is required") {
		t.Fatalf("Validate() error = %v, want storage-path error", err)
	}
}

func TestConfig_Validate_Principals(t *testing.T) {
	t.Parallel()

	hash := "$argon2id$v=19$m=47104,t=1,p=1$c2FsdA$aGFzaA"

	cfg := validTestConfig()
	cfg.Principals = []PrincipalConfig{
		{ID: "p-1", Identity: "alice", SecretHash: hash, Roles: []string{"user"}},
		{ID: "p-2", Identity: "alice", SecretHash: hash, Roles: []string{"user"}},
	}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "duplicate identity") {
		t.Fatalf("Validate() error = %v, want duplicate-identity error", err)
	}

	cfg = validTestConfig()
	cfg.Principals = []PrincipalConfig{
		{ID: "p-1", Identity: "alice", SecretHash: "plaintext-password", Roles: []string{"user"}},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() expected error for non-PHC secret hash")
	}

	cfg = validTestConfig()
	cfg.Principals = []PrincipalConfig{
		{ID: "p-1", Identity: "alice", SecretHash: hash, Roles: []string{"superuser"}},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() expected error for unknown role")
	}
}
