package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/authgate/authgate/internal/adapter/outbound/memory"
	"github.com/authgate/authgate/internal/adapter/outbound/sqlite"
	"github.com/authgate/authgate/internal/config"
	"github.com/authgate/authgate/internal/domain/auth"
	"github.com/authgate/authgate/internal/domain/counter"
	"github.com/authgate/authgate/internal/domain/csrf"
	"github.com/authgate/authgate/internal/domain/lockout"
	"github.com/authgate/authgate/internal/domain/ratelimit"
	"github.com/authgate/authgate/internal/domain/session"
	"github.com/authgate/authgate/internal/domain/token"
	"github.com/authgate/authgate/internal/metrics"
	"github.com/authgate/authgate/internal/telemetry"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the service",
	Long: `Start the Authgate service.

The service builds the authentication core (token codec, key registry,
rate limiter, lockout policy, CSRF validator, session manager) from the
configuration, runs the background maintenance jobs (store cleanup, key
sweeping), and serves Prometheus metrics and a health endpoint.

Examples:
  # Start with config file settings
  authgate start

  # Start with a specific config file
  authgate --config /path/to/authgate.yaml start`,
	RunE: runStart,
}

var devMode bool

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (verbose logging)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}

	// Signal context for graceful shutdown.
	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		stop() // Restore default: next Ctrl+C = immediate exit.
	}()

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("authgate stopped")
	return nil
}

// run wires all components together and blocks until shutdown.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	shutdownTracing, err := telemetry.Setup(ctx, cfg.Server.Tracing, Version)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	// ===== Backing stores =====
	var (
		counterStore counter.Store
		replayStore  session.ReplayStore
		storeSize    func() int
	)
	switch cfg.Storage.Backend {
	case "sqlite":
		st, err := sqlite.OpenWithConfig(cfg.Storage.Path, logger, cfg.CleanupInterval())
		if err != nil {
			return fmt.Errorf("failed to open sqlite store: %w", err)
		}
		st.StartCleanup(ctx)
		defer st.Close()
		counterStore = st
		replayStore = st
		storeSize = func() int {
			n, err := st.Size(ctx)
			if err != nil {
				return 0
			}
			return n
		}
		logger.Info("storage backend: sqlite", "path", cfg.Storage.Path)
	default:
		counters := memory.NewCounterStoreWithConfig(cfg.CleanupInterval())
		counters.StartCleanup(ctx)
		defer counters.Stop()
		replay := memory.NewReplayStoreWithConfig(cfg.CleanupInterval())
		replay.StartCleanup(ctx)
		defer replay.Stop()
		counterStore = counters
		replayStore = replay
		storeSize = counters.Size
		logger.Info("storage backend: memory")
	}

	// ===== Credential store =====
	creds := memory.NewCredentialStore()
	for _, p := range cfg.SeedPrincipals() {
		creds.Add(p)
	}
	logger.Info("seeded principals from config", "count", len(cfg.Principals))

	// ===== Token core =====
	signingKeys, err := cfg.SigningKeys()
	if err != nil {
		return err
	}
	registry, err := token.NewRegistry(signingKeys)
	if err != nil {
		return fmt.Errorf("failed to build key registry: %w", err)
	}
	codec := token.NewCodec(cfg.ClockSkew())

	// ===== Abuse prevention =====
	limiter := ratelimit.NewLimiter(counterStore)
	lockoutPolicy := lockout.NewPolicy(counterStore, cfg.LockoutConfig(), logger)

	csrfSecret, err := cfg.CsrfSecret()
	if err != nil {
		return err
	}
	csrfValidator, err := csrf.NewValidator(csrfSecret, cfg.CsrfTTL())
	if err != nil {
		return fmt.Errorf("failed to build csrf validator: %w", err)
	}

	// ===== Metrics =====
	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	// ===== Session manager =====
	manager, err := session.NewManager(
		creds,
		auth.NewArgon2idHasher(),
		codec,
		registry,
		limiter,
		lockoutPolicy,
		csrfValidator,
		replayStore,
		cfg.SessionConfig(),
		logger,
		m,
	)
	if err != nil {
		return fmt.Errorf("failed to build session manager: %w", err)
	}

	// Startup self-check: fail fast on unusable secret material instead of
	// at the first real request.
	probe, err := manager.IssueCsrf("startup-probe")
	if err != nil {
		return fmt.Errorf("startup self-check failed: %w", err)
	}
	if !manager.VerifyCsrf("startup-probe", probe) {
		return errors.New("startup self-check failed: csrf round-trip")
	}

	// ===== Background maintenance =====
	go runMaintenance(ctx, registry, cfg.KeyGrace(), storeSize, m, logger)

	logger.Info("authgate starting",
		"version", Version,
		"dev_mode", cfg.DevMode,
		"http_addr", cfg.Server.HTTPAddr,
		"storage", cfg.Storage.Backend,
		"signing_keys", len(signingKeys),
		"principals", len(cfg.Principals),
		"tracing", cfg.Server.Tracing,
	)

	return serveHTTP(ctx, cfg.Server.HTTPAddr, promReg, logger)
}

// runMaintenance periodically sweeps retired signing keys past their grace
// period and refreshes the store-size gauge.
func runMaintenance(ctx context.Context, registry *token.Registry, grace time.Duration, storeSize func() int, m *metrics.Metrics, logger *slog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := registry.Sweep(grace); removed > 0 {
				m.KeysSweptTotal.Add(float64(removed))
				logger.Info("swept retired signing keys", "removed", removed)
			}
			m.CounterStoreKeys.Set(float64(storeSize()))
		}
	}
}

// serveHTTP runs the metrics and health listener until ctx is cancelled.
func serveHTTP(ctx context.Context, addr string, promReg *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":  "ok",
			"version": Version,
		})
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listener started", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown failed: %w", err)
		}
		return nil
	}
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
