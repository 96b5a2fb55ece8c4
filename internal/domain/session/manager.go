package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/authgate/authgate/internal/domain/auth"
	"github.com/authgate/authgate/internal/domain/csrf"
	"github.com/authgate/authgate/internal/domain/lockout"
	"github.com/authgate/authgate/internal/domain/ratelimit"
	"github.com/authgate/authgate/internal/domain/token"
	"github.com/authgate/authgate/internal/metrics"
)

// Rate limit scopes used by the manager.
const (
	scopeLoginIP       = "login_ip"
	scopeLoginIdentity = "login_id"
	scopeRefresh       = "refresh"
)

// Manager owns the authentication state machine: it gates login attempts
// through the rate limiter and lockout policy, verifies credentials
// through the CredentialStore, and issues, rotates and revokes token
// pairs. All operations are safe for concurrent use.
type Manager struct {
	creds   auth.CredentialStore
	hasher  auth.Hasher
	codec   *token.Codec
	keys    *token.Registry
	limiter *ratelimit.Limiter
	lockout *lockout.Policy
	csrf    *csrf.Validator
	replay  ReplayStore
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time

	// dummyHash equalizes credential-compare timing for unknown or
	// disabled identities, resisting user enumeration.
	dummyHash string
}

// NewManager wires the session manager. Returns an error if the refresh
// TTL is shorter than the access TTL or if the timing-equalization hash
// cannot be computed.
func NewManager(
	creds auth.CredentialStore,
	hasher auth.Hasher,
	codec *token.Codec,
	keys *token.Registry,
	limiter *ratelimit.Limiter,
	lockoutPolicy *lockout.Policy,
	csrfValidator *csrf.Validator,
	replay ReplayStore,
	cfg Config,
	logger *slog.Logger,
	m *metrics.Metrics,
) (*Manager, error) {
	cfg = cfg.withDefaults()
	if cfg.RefreshTTL < cfg.AccessTTL {
		return nil, fmt.Errorf("refresh TTL %s must not be shorter than access TTL %s", cfg.RefreshTTL, cfg.AccessTTL)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New(prometheus.NewRegistry())
	}

	dummy, err := hasher.Hash(uuid.New().String())
	if err != nil {
		return nil, fmt.Errorf("compute timing-equalization hash: %w", err)
	}

	return &Manager{
		creds:     creds,
		hasher:    hasher,
		codec:     codec,
		keys:      keys,
		limiter:   limiter,
		lockout:   lockoutPolicy,
		csrf:      csrfValidator,
		replay:    replay,
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
		tracer:    otel.Tracer("authgate/session"),
		now:       func() time.Time { return time.Now().UTC() },
		dummyHash: dummy,
	}, nil
}

// Login authenticates an identity+secret pair from the given source IP
// and returns a fresh token pair.
//
// The abuse gates run first: a locked or rate-limited subject is refused
// before any credential comparison happens. On failure the caller gets
// the generic ErrInvalidCredentials; failed-attempt bookkeeping is
// conservative and is not rolled back if the caller is cancelled.
func (m *Manager) Login(ctx context.Context, identity, secret, sourceIP string) (*TokenPair, error) {
	ctx, span := m.tracer.Start(ctx, "session.Login",
		trace.WithAttributes(attribute.String("auth.source_ip", sourceIP)))
	defer span.End()

	start := m.now()
	defer func() {
		m.metrics.LoginDuration.Observe(m.now().Sub(start).Seconds())
	}()

	if err := m.gateLogin(ctx, identity, sourceIP); err != nil {
		return nil, err
	}

	principal, err := m.creds.FindByIdentity(ctx, identity)
	if err != nil {
		if errors.Is(err, auth.ErrPrincipalNotFound) {
			// Burn comparable work so a missing identity is
			// indistinguishable from a wrong secret.
			_, _ = m.hasher.Compare(m.dummyHash, secret)
			return nil, m.failLogin(ctx, identity, sourceIP, "unknown identity")
		}
		m.metrics.LoginsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("credential lookup: %w", err)
	}

	if principal.Disabled {
		_, _ = m.hasher.Compare(m.dummyHash, secret)
		return nil, m.failLogin(ctx, identity, sourceIP, "principal disabled")
	}

	match, err := m.hasher.Compare(principal.SecretHash, secret)
	if err != nil {
		m.metrics.LoginsTotal.WithLabelValues("error").Inc()
		m.logger.Error("credential compare failed", "error", err)
		return nil, fmt.Errorf("credential compare: %w", err)
	}
	if !match {
		return nil, m.failLogin(ctx, identity, sourceIP, "secret mismatch")
	}

	if err := m.lockout.RecordSuccess(ctx, lockout.TrackIdentity, identity); err != nil {
		// The login itself succeeded; a failed counter reset only means
		// the subject stays closer to its lockout threshold.
		m.logger.Warn("failed to reset failure counter", "error", err)
	}

	pair, err := m.issuePair(principal.ID, principal.Roles, uuid.New().String())
	if err != nil {
		m.metrics.LoginsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	m.metrics.LoginsTotal.WithLabelValues("ok").Inc()
	m.logger.Info("login succeeded", "principal_id", principal.ID)
	return pair, nil
}

// gateLogin runs the rate-limit and lockout checks for a login attempt.
// Order: IP quota, identity quota, IP lock, identity lock.
func (m *Manager) gateLogin(ctx context.Context, identity, sourceIP string) error {
	for _, gate := range []struct {
		scope   string
		subject string
		quota   ratelimit.Config
	}{
		{scopeLoginIP, sourceIP, m.cfg.LoginIPQuota},
		{scopeLoginIdentity, identity, m.cfg.LoginIdentityQuota},
	} {
		res, err := m.limiter.Allow(ctx, gate.scope, gate.subject, gate.quota)
		if err != nil {
			return fmt.Errorf("rate limit check: %w", err)
		}
		if !res.Allowed {
			m.metrics.LoginsTotal.WithLabelValues("rate_limited").Inc()
			m.metrics.RateLimitedTotal.WithLabelValues(gate.scope).Inc()
			m.logger.Warn("login rate limited", "scope", gate.scope)
			return &RateLimitedError{
				Scope:      gate.scope,
				ResetAt:    res.ResetAt,
				RetryAfter: res.ResetAt.Sub(m.now()),
			}
		}
	}

	for _, gate := range []struct {
		track   lockout.Track
		subject string
	}{
		{lockout.TrackIP, sourceIP},
		{lockout.TrackIdentity, identity},
	} {
		locked, until, err := m.lockout.IsLocked(ctx, gate.track, gate.subject)
		if err != nil {
			return fmt.Errorf("lockout check: %w", err)
		}
		if locked {
			m.metrics.LoginsTotal.WithLabelValues("locked").Inc()
			m.logger.Warn("login refused: subject locked", "track", string(gate.track))
			return &LockedError{Until: until, RetryAfter: until.Sub(m.now())}
		}
	}
	return nil
}

// failLogin records a failed attempt on both tracks and returns the
// generic credential error. The internal reason is logged, never returned.
func (m *Manager) failLogin(ctx context.Context, identity, sourceIP, reason string) error {
	m.metrics.LoginsTotal.WithLabelValues("invalid").Inc()
	m.logger.Info("login failed", "reason", reason)

	if until, err := m.lockout.RecordFailure(ctx, lockout.TrackIdentity, identity); err != nil {
		m.logger.Error("failed to record identity failure", "error", err)
	} else if until != nil {
		m.metrics.LockoutsTotal.WithLabelValues(string(lockout.TrackIdentity)).Inc()
	}
	if until, err := m.lockout.RecordFailure(ctx, lockout.TrackIP, sourceIP); err != nil {
		m.logger.Error("failed to record ip failure", "error", err)
	} else if until != nil {
		m.metrics.LockoutsTotal.WithLabelValues(string(lockout.TrackIP)).Inc()
	}

	return ErrInvalidCredentials
}

// Refresh exchanges a refresh token for a new pair (rotation). The old
// token's jti is marked spent atomically; presenting a spent token again
// revokes the whole chain and fails with ErrTokenReused.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	ctx, span := m.tracer.Start(ctx, "session.Refresh")
	defer span.End()

	claims, err := m.codec.Verify(refreshToken, m.keys.Verifiable())
	if err != nil {
		m.metrics.RefreshesTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	if claims.Kind != token.KindRefresh {
		m.metrics.RefreshesTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: not a refresh token", token.ErrMalformedToken)
	}

	if m.cfg.RefreshQuota.Limit > 0 {
		res, err := m.limiter.Allow(ctx, scopeRefresh, claims.Subject, m.cfg.RefreshQuota)
		if err != nil {
			return nil, fmt.Errorf("rate limit check: %w", err)
		}
		if !res.Allowed {
			m.metrics.RateLimitedTotal.WithLabelValues(scopeRefresh).Inc()
			return nil, &RateLimitedError{
				Scope:      scopeRefresh,
				ResetAt:    res.ResetAt,
				RetryAfter: res.ResetAt.Sub(m.now()),
			}
		}
	}

	revoked, err := m.replay.IsChainRevoked(ctx, claims.ChainID)
	if err != nil {
		return nil, fmt.Errorf("chain lookup: %w", err)
	}
	if revoked {
		m.metrics.RefreshesTotal.WithLabelValues("invalid").Inc()
		return nil, ErrSessionRevoked
	}

	spent, err := m.replay.MarkSpent(ctx, claims.ID, m.spentTTL(claims))
	if err != nil {
		return nil, fmt.Errorf("mark token spent: %w", err)
	}
	if spent {
		// Reuse of a spent refresh token is a strong theft signal:
		// revoke every descendant of this login, not just one token.
		m.metrics.RefreshesTotal.WithLabelValues("reused").Inc()
		m.metrics.TokenReuseTotal.Inc()
		m.logger.Warn("refresh token reuse detected; revoking chain",
			"principal_id", claims.Subject)
		if err := m.replay.RevokeChain(ctx, claims.ChainID, m.cfg.RefreshTTL); err != nil {
			m.logger.Error("failed to revoke chain", "error", err)
		}
		return nil, ErrTokenReused
	}

	pair, err := m.issuePair(claims.Subject, claims.Roles, claims.ChainID)
	if err != nil {
		m.metrics.RefreshesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	m.metrics.RefreshesTotal.WithLabelValues("ok").Inc()
	m.logger.Debug("token pair rotated", "principal_id", claims.Subject)
	return pair, nil
}

// Logout invalidates a refresh token and revokes its whole chain. An
// expired refresh token is still accepted: revoking a dead session must
// not fail.
func (m *Manager) Logout(ctx context.Context, refreshToken string) error {
	ctx, span := m.tracer.Start(ctx, "session.Logout")
	defer span.End()

	claims, err := m.codec.VerifyIgnoringExpiry(refreshToken, m.keys.Verifiable())
	if err != nil {
		return err
	}
	if claims.Kind != token.KindRefresh {
		return fmt.Errorf("%w: not a refresh token", token.ErrMalformedToken)
	}

	if _, err := m.replay.MarkSpent(ctx, claims.ID, m.spentTTL(claims)); err != nil {
		return fmt.Errorf("mark token spent: %w", err)
	}
	if err := m.replay.RevokeChain(ctx, claims.ChainID, m.cfg.RefreshTTL); err != nil {
		return fmt.Errorf("revoke chain: %w", err)
	}

	m.logger.Info("logout", "principal_id", claims.Subject)
	return nil
}

// IssueCsrf returns a new CSRF token bound to the session id.
func (m *Manager) IssueCsrf(sessionID string) (string, error) {
	return m.csrf.Issue(sessionID)
}

// VerifyCsrf reports whether the supplied CSRF token belongs to the
// session id and is unexpired.
func (m *Manager) VerifyCsrf(sessionID, suppliedToken string) bool {
	return m.csrf.Verify(sessionID, suppliedToken)
}

// issuePair mints a fresh access+refresh pair under the active signing
// key. Claims are never mutated: every issuance creates new ones.
func (m *Manager) issuePair(subject string, roles []auth.Role, chainID string) (*TokenPair, error) {
	now := m.now()
	key := m.keys.Active()

	access := token.Claims{
		Subject:   subject,
		Roles:     roles,
		Kind:      token.KindAccess,
		ID:        uuid.New().String(),
		ChainID:   chainID,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.cfg.AccessTTL),
	}
	refresh := token.Claims{
		Subject:   subject,
		Roles:     roles,
		Kind:      token.KindRefresh,
		ID:        uuid.New().String(),
		ChainID:   chainID,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.cfg.RefreshTTL),
	}

	accessToken, err := m.codec.Issue(access, key)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refreshToken, err := m.codec.Issue(refresh, key)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		TokenType:        "Bearer",
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}

// spentTTL keeps a spent jti on record until the token's natural expiry,
// padded by the clock-skew tolerance.
func (m *Manager) spentTTL(claims *token.Claims) time.Duration {
	ttl := claims.ExpiresAt.Sub(m.now()) + token.DefaultClockSkew
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return ttl
}
