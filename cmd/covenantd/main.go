// Command covenantd runs the Covenant core server: event store, intent
// dispatcher, projections, and the HTTP intent API.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/Covenant-Labs/covenant/core/pkg/aggregate"
	"github.com/Covenant-Labs/covenant/core/pkg/agreement"
	"github.com/Covenant-Labs/covenant/core/pkg/api"
	"github.com/Covenant-Labs/covenant/core/pkg/audit"
	"github.com/Covenant-Labs/covenant/core/pkg/authn"
	"github.com/Covenant-Labs/covenant/core/pkg/authz"
	"github.com/Covenant-Labs/covenant/core/pkg/bootstrap"
	"github.com/Covenant-Labs/covenant/core/pkg/config"
	"github.com/Covenant-Labs/covenant/core/pkg/container"
	"github.com/Covenant-Labs/covenant/core/pkg/eventstore"
	"github.com/Covenant-Labs/covenant/core/pkg/intents"
	"github.com/Covenant-Labs/covenant/core/pkg/observability"
	"github.com/Covenant-Labs/covenant/core/pkg/projection"
	"github.com/Covenant-Labs/covenant/core/pkg/subscription"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("covenantd failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:  "covenantd",
		Environment:  cfg.Server.NodeEnv,
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		SampleRate:   1.0,
		Enabled:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "",
		Insecure:     !cfg.IsProduction(),
	})
	if err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	// Event store and projection database.
	store, db, err := openEventStore(cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	hub := subscription.NewHub(store, 0)
	store.SetNotifier(hub)
	defer hub.Close()

	repo := aggregate.NewRepository(store)

	agreements := agreement.NewRegistry()
	if err := agreement.RegisterBuiltinTypes(agreements); err != nil {
		return fmt.Errorf("agreement types: %w", err)
	}

	registry := intents.NewRegistry()
	if err := intents.RegisterBuiltinIntents(registry); err != nil {
		return fmt.Errorf("intents: %w", err)
	}

	gates, err := container.NewGateEvaluator()
	if err != nil {
		return fmt.Errorf("gate evaluator: %w", err)
	}

	idem, err := newIdempotencyStore(cfg, db)
	if err != nil {
		return err
	}

	views := projection.NewViews(db)
	dispatcher, err := intents.NewDispatcher(intents.DispatcherConfig{
		Registry:    registry,
		Store:       store,
		Repo:        repo,
		Agreements:  agreements,
		Hooks:       agreement.NewProcessor(agreements, repo),
		Authz:       authz.NewEngine(repo, agreements),
		Audit:       audit.NewLogger(store, log),
		Containers:  container.NewManager(store, repo, gates),
		Realms:      views,
		Idempotency: idem,
		Logger:      log,
	})
	if err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}

	projections := projection.NewManager(db, hub, log, projection.Builtin()...)
	if err := projections.Start(ctx); err != nil {
		return fmt.Errorf("projections: %w", err)
	}
	defer projections.Stop()

	report, err := bootstrap.NewRunner(dispatcher, repo, cfg.Bootstrap, log).Run(ctx)
	if err != nil {
		return err
	}
	if report.Created {
		// Shown once; the key hash is all that persists.
		log.Info("founder api key issued", "apiKeyId", report.ApiKeyID, "apiKey", report.ApiKey)
	}

	// Authentication and rate limiting.
	var tokens *authn.TokenManager
	if cfg.Auth.JWTSecret != "" {
		tokens, err = authn.NewTokenManager([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, cfg.Auth.Audience)
		if err != nil {
			return fmt.Errorf("token manager: %w", err)
		}
	}
	authSvc := authn.NewService(authn.NewVerifier(store, repo, views), tokens)

	limiter, err := newLimiter(cfg)
	if err != nil {
		return err
	}

	srv, err := api.NewServer(api.ServerConfig{
		Dispatcher: dispatcher,
		Tokens:     tokens,
		Hub:        hub,
		Log:        log,
	})
	if err != nil {
		return fmt.Errorf("api server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(authSvc, limiter, nil),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("covenantd listening", "addr", cfg.Addr(), "env", cfg.Server.NodeEnv,
			"eventStore", cfg.EventStore.Backend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadFile(path)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Load()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(level string) *slog.Logger {
	var lv slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lv = slog.LevelDebug
	case "WARN":
		lv = slog.LevelWarn
	case "ERROR":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lv}))
}

// notifyingStore is a Store that can fan appended events to a subscriber
// hook. Both backends qualify.
type notifyingStore interface {
	eventstore.Store
	SetNotifier(eventstore.Notifier)
}

// openEventStore builds the configured event store plus the relational
// database used for projections and idempotency. The memory backend keeps
// its projections in an in-process SQLite database.
func openEventStore(cfg *config.Config, log *slog.Logger) (notifyingStore, *sql.DB, error) {
	if cfg.EventStore.Backend == "memory" {
		db, err := sql.Open("sqlite", ":memory:")
		if err != nil {
			return nil, nil, fmt.Errorf("projection database: %w", err)
		}
		db.SetMaxOpenConns(1)
		log.Info("event store: memory")
		return eventstore.NewMemoryStore(), db, nil
	}

	db, err := openDatabase(cfg.EventStore.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, nil, fmt.Errorf("database ping: %w", err)
	}

	store, err := eventstore.NewSQLStore(db)
	if err != nil {
		return nil, nil, err
	}
	log.Info("event store: relational")
	return store, db, nil
}

func openDatabase(url string) (*sql.DB, error) {
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return sql.Open("postgres", url)
	}
	db, err := sql.Open("sqlite", url)
	if err == nil {
		db.SetMaxOpenConns(1)
	}
	return db, err
}

func newIdempotencyStore(cfg *config.Config, db *sql.DB) (intents.IdempotencyStore, error) {
	if cfg.EventStore.Backend == "relational" {
		s, err := intents.NewSQLIdempotencyStore(db, 0)
		if err != nil {
			return nil, fmt.Errorf("idempotency store: %w", err)
		}
		return s, nil
	}
	return intents.NewMemoryIdempotencyStore(0), nil
}

func newLimiter(cfg *config.Config) (api.Limiter, error) {
	switch cfg.RateLimit.Backend {
	case "redis":
		return api.NewRedisLimiter(cfg.RateLimit.RedisURL, 20, 40)
	case "none":
		if cfg.IsProduction() {
			return api.NewLocalLimiter(20, 40), nil
		}
		return api.NoopLimiter{}, nil
	}
	return api.NoopLimiter{}, nil
}
