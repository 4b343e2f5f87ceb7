// Command bootstrap provisions the primordial realm against a relational
// event store and prints the founder api key. Safe to run repeatedly: once
// the realm exists the command is a no-op.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/Covenant-Labs/covenant/core/pkg/aggregate"
	"github.com/Covenant-Labs/covenant/core/pkg/agreement"
	"github.com/Covenant-Labs/covenant/core/pkg/audit"
	"github.com/Covenant-Labs/covenant/core/pkg/authz"
	"github.com/Covenant-Labs/covenant/core/pkg/bootstrap"
	"github.com/Covenant-Labs/covenant/core/pkg/config"
	"github.com/Covenant-Labs/covenant/core/pkg/container"
	"github.com/Covenant-Labs/covenant/core/pkg/eventstore"
	"github.com/Covenant-Labs/covenant/core/pkg/intents"
)

func main() {
	asJSON := flag.Bool("json", false, "print the bootstrap report as JSON")
	flag.Parse()

	if err := run(*asJSON); err != nil {
		slog.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
}

func run(asJSON bool) error {
	ctx := context.Background()
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.EventStore.Backend != "relational" {
		return fmt.Errorf("bootstrap requires eventStore.backend=relational (set EVENT_STORE_BACKEND and DATABASE_URL)")
	}

	db, err := openDatabase(cfg.EventStore.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}

	store, err := eventstore.NewSQLStore(db)
	if err != nil {
		return err
	}
	repo := aggregate.NewRepository(store)

	agreements := agreement.NewRegistry()
	if err := agreement.RegisterBuiltinTypes(agreements); err != nil {
		return err
	}
	registry := intents.NewRegistry()
	if err := intents.RegisterBuiltinIntents(registry); err != nil {
		return err
	}
	gates, err := container.NewGateEvaluator()
	if err != nil {
		return err
	}

	dispatcher, err := intents.NewDispatcher(intents.DispatcherConfig{
		Registry:    registry,
		Store:       store,
		Repo:        repo,
		Agreements:  agreements,
		Hooks:       agreement.NewProcessor(agreements, repo),
		Authz:       authz.NewEngine(repo, agreements),
		Audit:       audit.NewLogger(store, slog.Default()),
		Containers:  container.NewManager(store, repo, gates),
		Idempotency: intents.NewMemoryIdempotencyStore(0),
	})
	if err != nil {
		return err
	}

	report, err := bootstrap.NewRunner(dispatcher, repo, cfg.Bootstrap, slog.Default()).Run(ctx)
	if err != nil {
		return err
	}

	if asJSON {
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	if !report.Created {
		fmt.Printf("primordial realm %s already provisioned\n", report.RealmID)
		return nil
	}
	fmt.Println("primordial realm provisioned")
	fmt.Printf("  realm:      %s\n", report.RealmID)
	fmt.Printf("  system:     %s\n", report.SystemEntityID)
	fmt.Printf("  founder:    %s\n", report.OrgEntityID)
	fmt.Printf("  agreement:  %s\n", report.AgreementID)
	fmt.Printf("  api key id: %s\n", report.ApiKeyID)
	fmt.Printf("  api key:    %s  (store this now; it is never shown again)\n", report.ApiKey)
	return nil
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
