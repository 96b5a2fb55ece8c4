package session_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/authgate/authgate/internal/adapter/outbound/memory"
	"github.com/authgate/authgate/internal/domain/auth"
	"github.com/authgate/authgate/internal/domain/csrf"
	"github.com/authgate/authgate/internal/domain/lockout"
	"github.com/authgate/authgate/internal/domain/ratelimit"
	"github.com/authgate/authgate/internal/domain/session"
	"github.com/authgate/authgate/internal/domain/token"
)

// plainHasher is a fast Hasher for tests. Argon2id is deliberately slow;
// the manager's behavior does not depend on the hash algorithm.
type plainHasher struct{}

func (plainHasher) Hash(secret string) (string, error) {
	return "plain:" + secret, nil
}

func (plainHasher) Compare(storedHash, candidate string) (bool, error) {
	after, ok := strings.CutPrefix(storedHash, "plain:")
	if !ok {
		return false, errors.New("malformed hash")
	}
	return after == candidate, nil
}

// countingStore wraps a CredentialStore and counts lookups, so tests can
// assert that gated attempts never reach the credential backend.
type countingStore struct {
	inner   auth.CredentialStore
	lookups atomic.Int64
}

func (s *countingStore) FindByIdentity(ctx context.Context, identity string) (*auth.Principal, error) {
	s.lookups.Add(1)
	return s.inner.FindByIdentity(ctx, identity)
}

type testEnv struct {
	mgr    *session.Manager
	creds  *countingStore
	keys   *token.Registry
	codec  *token.Codec
	replay *memory.ReplayStore
}

func newTestEnv(t *testing.T, lockCfg lockout.Config, sessCfg session.Config) *testEnv {
	t.Helper()

	counters := memory.NewCounterStore()
	replay := memory.NewReplayStore()

	store := memory.NewCredentialStore()
	store.Add(&auth.Principal{
		ID:         "p-alice",
		Identity:   "alice",
		SecretHash: "plain:correct horse",
		Roles:      []auth.Role{auth.RoleUser},
	})
	store.Add(&auth.Principal{
		ID:         "p-bob",
		Identity:   "bob",
		SecretHash: "plain:hunter2",
		Roles:      []auth.Role{auth.RoleUser, auth.RoleAdmin},
	})
	store.Add(&auth.Principal{
		ID:         "p-mallory",
		Identity:   "mallory",
		SecretHash: "plain:whatever",
		Roles:      []auth.Role{auth.RoleUser},
		Disabled:   true,
	})
	creds := &countingStore{inner: store}

	key, err := token.GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey() unexpected error: %v", err)
	}
	registry, err := token.NewRegistry([]token.SigningKey{key})
	if err != nil {
		t.Fatalf("NewRegistry() unexpected error: %v", err)
	}

	codec := token.NewCodec(0)
	limiter := ratelimit.NewLimiter(counters)
	policy := lockout.NewPolicy(counters, lockCfg, slog.New(slog.DiscardHandler))

	validator, err := csrf.NewValidator([]byte("0123456789abcdef0123456789abcdef"), 0)
	if err != nil {
		t.Fatalf("NewValidator() unexpected error: %v", err)
	}

	mgr, err := session.NewManager(
		creds, plainHasher{}, codec, registry, limiter, policy, validator,
		replay, sessCfg, slog.New(slog.DiscardHandler), nil,
	)
	if err != nil {
		t.Fatalf("NewManager() unexpected error: %v", err)
	}

	return &testEnv{mgr: mgr, creds: creds, keys: registry, codec: codec, replay: replay}
}

func TestManager_Login_Success(t *testing.T) {
	env := newTestEnv(t, lockout.Config{}, session.Config{})
	ctx := context.Background()

	pair, err := env.mgr.Login(ctx, "alice", "correct horse", "192.0.2.1")
	if err != nil {
		t.Fatalf("Login() unexpected error: %v", err)
	}
	if pair.TokenType != "Bearer" {
		t.Errorf("TokenType = %q, want %q", pair.TokenType, "Bearer")
	}
	if !pair.RefreshExpiresAt.After(pair.AccessExpiresAt) {
		t.Errorf("refresh expiry %v not after access expiry %v", pair.RefreshExpiresAt, pair.AccessExpiresAt)
	}

	access, err := env.codec.Verify(pair.AccessToken, env.keys.Verifiable())
	if err != nil {
		t.Fatalf("Verify(access) unexpected error: %v", err)
	}
	if access.Kind != token.KindAccess {
		t.Errorf("access Kind = %q, want %q", access.Kind, token.KindAccess)
	}
	if access.Subject != "p-alice" {
		t.Errorf("access Subject = %q, want %q", access.Subject, "p-alice")
	}

	refresh, err := env.codec.Verify(pair.RefreshToken, env.keys.Verifiable())
	if err != nil {
		t.Fatalf("Verify(refresh) unexpected error: %v", err)
	}
	if refresh.Kind != token.KindRefresh {
		t.Errorf("refresh Kind = %q, want %q", refresh.Kind, token.KindRefresh)
	}
	if refresh.ChainID != access.ChainID {
		t.Errorf("pair chain ids differ: %q vs %q", refresh.ChainID, access.ChainID)
	}
}

func TestManager_Login_FailureModesAreIndistinguishable(t *testing.T) {
	env := newTestEnv(t, lockout.Config{}, session.Config{})
	ctx := context.Background()

	cases := []struct {
		name     string
		identity string
		secret   string
	}{
		{"wrong secret", "alice", "wrong"},
		{"unknown identity", "nobody", "anything"},
		{"disabled principal", "mallory", "whatever"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.mgr.Login(ctx, tc.identity, tc.secret, "192.0.2.1")
			if !errors.Is(err, session.ErrInvalidCredentials) {
				t.Errorf("Login() error = %v, want ErrInvalidCredentials", err)
			}
		})
	}
}

func TestManager_Login_LockoutPrecedesCredentialCheck(t *testing.T) {
	env := newTestEnv(t, lockout.Config{Threshold: 3}, session.Config{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := env.mgr.Login(ctx, "alice", "wrong", "192.0.2.1"); !errors.Is(err, session.ErrInvalidCredentials) {
			t.Fatalf("Login() #%d error = %v, want ErrInvalidCredentials", i+1, err)
		}
	}
	before := env.creds.lookups.Load()

	// The lock gates even the correct secret, and does so without touching
	// the credential store.
	_, err := env.mgr.Login(ctx, "alice", "correct horse", "192.0.2.1")
	if !errors.Is(err, session.ErrLocked) {
		t.Fatalf("Login() while locked error = %v, want ErrLocked", err)
	}
	var lockErr *session.LockedError
	if !errors.As(err, &lockErr) {
		t.Fatalf("Login() error %T does not carry LockedError metadata", err)
	}
	if !lockErr.Until.After(time.Now().Add(-time.Second)) {
		t.Errorf("LockedError.Until = %v, want future instant", lockErr.Until)
	}

	if after := env.creds.lookups.Load(); after != before {
		t.Errorf("credential lookups during lock = %d, want 0", after-before)
	}
}

func TestManager_Login_SucceedsAfterLockExpires(t *testing.T) {
	env := newTestEnv(t, lockout.Config{Threshold: 3, BaseDuration: 2 * time.Second}, session.Config{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		env.mgr.Login(ctx, "alice", "wrong", "192.0.2.1")
	}
	_, err := env.mgr.Login(ctx, "alice", "correct horse", "192.0.2.1")
	var lockErr *session.LockedError
	if !errors.As(err, &lockErr) {
		t.Fatalf("Login() while locked error = %v, want LockedError", err)
	}

	time.Sleep(time.Until(lockErr.Until) + 100*time.Millisecond)

	if _, err := env.mgr.Login(ctx, "alice", "correct horse", "192.0.2.1"); err != nil {
		t.Fatalf("Login() after lock expiry unexpected error: %v", err)
	}
}

func TestManager_Login_SuccessDoesNotResetIPTrack(t *testing.T) {
	env := newTestEnv(t, lockout.Config{Threshold: 3}, session.Config{})
	ctx := context.Background()
	const ip = "192.0.2.7"

	// Two failures from one IP across different identities, then a success.
	env.mgr.Login(ctx, "alice", "wrong", ip)
	env.mgr.Login(ctx, "bob", "wrong", ip)
	if _, err := env.mgr.Login(ctx, "alice", "correct horse", ip); err != nil {
		t.Fatalf("Login() unexpected error: %v", err)
	}

	// The IP failure counter survived the success: one more failure locks
	// the address, refusing even untouched identities.
	if _, err := env.mgr.Login(ctx, "nobody", "anything", ip); !errors.Is(err, session.ErrInvalidCredentials) {
		t.Fatalf("Login() error = %v, want ErrInvalidCredentials", err)
	}
	_, err := env.mgr.Login(ctx, "bob", "hunter2", ip)
	if !errors.Is(err, session.ErrLocked) {
		t.Fatalf("Login() from locked IP error = %v, want ErrLocked", err)
	}

	// A different source address is unaffected.
	if _, err := env.mgr.Login(ctx, "bob", "hunter2", "198.51.100.9"); err != nil {
		t.Fatalf("Login() from clean IP unexpected error: %v", err)
	}
}

func TestManager_Login_RateLimited(t *testing.T) {
	env := newTestEnv(t, lockout.Config{}, session.Config{
		LoginIPQuota:       ratelimit.Config{Limit: 3, Window: time.Minute},
		LoginIdentityQuota: ratelimit.Config{Limit: 100, Window: time.Minute},
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := env.mgr.Login(ctx, "alice", "correct horse", "192.0.2.1"); err != nil {
			t.Fatalf("Login() #%d unexpected error: %v", i+1, err)
		}
	}

	_, err := env.mgr.Login(ctx, "alice", "correct horse", "192.0.2.1")
	if !errors.Is(err, session.ErrRateLimited) {
		t.Fatalf("Login() over quota error = %v, want ErrRateLimited", err)
	}
	var rlErr *session.RateLimitedError
	if !errors.As(err, &rlErr) {
		t.Fatalf("Login() error %T does not carry RateLimitedError metadata", err)
	}
	if rlErr.RetryAfter <= 0 {
		t.Errorf("RateLimitedError.RetryAfter = %v, want positive", rlErr.RetryAfter)
	}
}

func TestManager_Refresh_RotatesPair(t *testing.T) {
	env := newTestEnv(t, lockout.Config{}, session.Config{})
	ctx := context.Background()

	pair1, err := env.mgr.Login(ctx, "alice", "correct horse", "192.0.2.1")
	if err != nil {
		t.Fatalf("Login() unexpected error: %v", err)
	}

	pair2, err := env.mgr.Refresh(ctx, pair1.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() unexpected error: %v", err)
	}
	if pair2.RefreshToken == pair1.RefreshToken {
		t.Error("Refresh() returned the same refresh token")
	}

	c1, _ := env.codec.Verify(pair1.RefreshToken, env.keys.Verifiable())
	c2, err := env.codec.Verify(pair2.RefreshToken, env.keys.Verifiable())
	if err != nil {
		t.Fatalf("Verify(rotated refresh) unexpected error: %v", err)
	}
	if c2.ChainID != c1.ChainID {
		t.Errorf("rotation changed chain id: %q -> %q", c1.ChainID, c2.ChainID)
	}
	if c2.ID == c1.ID {
		t.Error("rotation reused the jti")
	}
}

func TestManager_Refresh_ReuseRevokesChain(t *testing.T) {
	env := newTestEnv(t, lockout.Config{}, session.Config{})
	ctx := context.Background()

	pair1, err := env.mgr.Login(ctx, "alice", "correct horse", "192.0.2.1")
	if err != nil {
		t.Fatalf("Login() unexpected error: %v", err)
	}
	pair2, err := env.mgr.Refresh(ctx, pair1.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() #1 unexpected error: %v", err)
	}
	pair3, err := env.mgr.Refresh(ctx, pair2.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() #2 unexpected error: %v", err)
	}

	// Replaying the first (spent) refresh token trips reuse detection.
	if _, err := env.mgr.Refresh(ctx, pair1.RefreshToken); !errors.Is(err, session.ErrTokenReused) {
		t.Fatalf("Refresh(spent) error = %v, want ErrTokenReused", err)
	}

	// The whole chain is dead, including the still-unspent head.
	if _, err := env.mgr.Refresh(ctx, pair3.RefreshToken); !errors.Is(err, session.ErrSessionRevoked) {
		t.Fatalf("Refresh(head after reuse) error = %v, want ErrSessionRevoked", err)
	}
	if _, err := env.mgr.Refresh(ctx, pair2.RefreshToken); !errors.Is(err, session.ErrSessionRevoked) {
		t.Fatalf("Refresh(middle after reuse) error = %v, want ErrSessionRevoked", err)
	}
}

func TestManager_Refresh_RejectsAccessToken(t *testing.T) {
	env := newTestEnv(t, lockout.Config{}, session.Config{})
	ctx := context.Background()

	pair, err := env.mgr.Login(ctx, "alice", "correct horse", "192.0.2.1")
	if err != nil {
		t.Fatalf("Login() unexpected error: %v", err)
	}

	if _, err := env.mgr.Refresh(ctx, pair.AccessToken); !errors.Is(err, token.ErrMalformedToken) {
		t.Fatalf("Refresh(access token) error = %v, want ErrMalformedToken", err)
	}
}

func TestManager_Refresh_GarbageToken(t *testing.T) {
	env := newTestEnv(t, lockout.Config{}, session.Config{})

	if _, err := env.mgr.Refresh(context.Background(), "not.a.token"); !errors.Is(err, token.ErrMalformedToken) {
		t.Fatalf("Refresh(garbage) error = %v, want ErrMalformedToken", err)
	}
}

func TestManager_Logout_RevokesChain(t *testing.T) {
	env := newTestEnv(t, lockout.Config{}, session.Config{})
	ctx := context.Background()

	pair, err := env.mgr.Login(ctx, "alice", "correct horse", "192.0.2.1")
	if err != nil {
		t.Fatalf("Login() unexpected error: %v", err)
	}

	if err := env.mgr.Logout(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("Logout() unexpected error: %v", err)
	}
	if _, err := env.mgr.Refresh(ctx, pair.RefreshToken); !errors.Is(err, session.ErrSessionRevoked) {
		t.Fatalf("Refresh() after logout error = %v, want ErrSessionRevoked", err)
	}

	// A fresh login opens a new chain, unaffected by the old revocation.
	pair2, err := env.mgr.Login(ctx, "alice", "correct horse", "192.0.2.1")
	if err != nil {
		t.Fatalf("Login() after logout unexpected error: %v", err)
	}
	if _, err := env.mgr.Refresh(ctx, pair2.RefreshToken); err != nil {
		t.Fatalf("Refresh() on new chain unexpected error: %v", err)
	}
}

func TestManager_Refresh_SurvivesKeyRotation(t *testing.T) {
	env := newTestEnv(t, lockout.Config{}, session.Config{})
	ctx := context.Background()

	pair, err := env.mgr.Login(ctx, "alice", "correct horse", "192.0.2.1")
	if err != nil {
		t.Fatalf("Login() unexpected error: %v", err)
	}

	next, err := token.GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey() unexpected error: %v", err)
	}
	if err := env.keys.Rotate(next); err != nil {
		t.Fatalf("Rotate() unexpected error: %v", err)
	}

	// The pre-rotation refresh token still verifies (retiring key) and its
	// replacement is signed by the new active key.
	pair2, err := env.mgr.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() after rotation unexpected error: %v", err)
	}
	claims, err := env.codec.Verify(pair2.RefreshToken, env.keys.Verifiable())
	if err != nil {
		t.Fatalf("Verify() unexpected error: %v", err)
	}
	if claims.KeyID != next.ID {
		t.Errorf("rotated token KeyID = %q, want new active key %q", claims.KeyID, next.ID)
	}
}

func TestManager_Csrf_RoundTrip(t *testing.T) {
	env := newTestEnv(t, lockout.Config{}, session.Config{})

	tok, err := env.mgr.IssueCsrf("session-1")
	if err != nil {
		t.Fatalf("IssueCsrf() unexpected error: %v", err)
	}
	if !env.mgr.VerifyCsrf("session-1", tok) {
		t.Error("VerifyCsrf() = false for own session, want true")
	}
	if env.mgr.VerifyCsrf("session-2", tok) {
		t.Error("VerifyCsrf() = true for foreign session, want false")
	}
}

func TestManager_ConcurrentLogins(t *testing.T) {
	env := newTestEnv(t, lockout.Config{}, session.Config{
		LoginIPQuota:       ratelimit.Config{Limit: 1000, Window: time.Minute},
		LoginIdentityQuota: ratelimit.Config{Limit: 1000, Window: time.Minute},
	})
	ctx := context.Background()

	errCh := make(chan error, 16)
	for i := 0; i < 16; i++ {
		go func(n int) {
			_, err := env.mgr.Login(ctx, "alice", "correct horse", fmt.Sprintf("192.0.2.%d", n))
			errCh <- err
		}(i)
	}
	for i := 0; i < 16; i++ {
		if err := <-errCh; err != nil {
			t.Errorf("concurrent Login() unexpected error: %v", err)
		}
	}
}
