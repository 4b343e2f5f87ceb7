// Package bootstrap provisions the primordial realm and its founding system
// entity on first run. The ids are fixed by configuration so the operation
// is idempotent: a second run observes the realm container and does nothing.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Covenant-Labs/covenant/core/pkg/aggregate"
	"github.com/Covenant-Labs/covenant/core/pkg/config"
	"github.com/Covenant-Labs/covenant/core/pkg/events"
	"github.com/Covenant-Labs/covenant/core/pkg/id"
	"github.com/Covenant-Labs/covenant/core/pkg/intents"
)

// PrimordialRealmName is the display name of the root realm.
const PrimordialRealmName = "Primordial"

// Report describes what a bootstrap run did.
type Report struct {
	Created        bool
	RealmID        string
	SystemEntityID string
	OrgEntityID    string
	AgreementID    string
	// ApiKey is the founder key in the clear. Only set when Created; it is
	// never recoverable afterwards.
	ApiKey   string
	ApiKeyID string
}

// Runner executes the bootstrap sequence through the intent dispatcher so
// the primordial realm is built from the same events as any tenant realm.
type Runner struct {
	dispatcher intents.Nested
	repo       *aggregate.Repository
	cfg        config.BootstrapConfig
	log        *slog.Logger
}

// NewRunner creates a bootstrap runner. log may be nil.
func NewRunner(d intents.Nested, repo *aggregate.Repository, cfg config.BootstrapConfig, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{dispatcher: d, repo: repo, cfg: cfg, log: log}
}

// Run provisions the primordial realm if it does not exist yet.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	existing, err := r.repo.GetContainer(ctx, r.cfg.PrimordialRealmID)
	if err == nil && existing.Exists() {
		r.log.InfoContext(ctx, "primordial realm present, skipping bootstrap",
			"realmId", r.cfg.PrimordialRealmID)
		return &Report{
			Created:        false,
			RealmID:        r.cfg.PrimordialRealmID,
			SystemEntityID: r.cfg.PrimordialSystemID,
		}, nil
	}
	if err != nil && !errors.Is(err, aggregate.ErrAggregateNotFound) {
		return nil, fmt.Errorf("bootstrap: probe realm container: %w", err)
	}

	res := r.dispatcher.Dispatch(ctx, intents.Request{
		Intent:    "realm:create",
		Actor:     events.SystemActor("bootstrap"),
		Timestamp: id.NowMillis(),
		Payload: map[string]interface{}{
			"name":             PrimordialRealmName,
			"systemEntityId":   r.cfg.PrimordialSystemID,
			"realmContainerId": r.cfg.PrimordialRealmID,
		},
	})
	if !res.Success {
		if res.HasError(intents.CodeAlreadyExists) || res.HasError(intents.CodeConcurrencyConflict) {
			// Lost the race to another node; the realm exists either way.
			r.log.InfoContext(ctx, "bootstrap raced a concurrent run",
				"realmId", r.cfg.PrimordialRealmID)
			return &Report{
				Created:        false,
				RealmID:        r.cfg.PrimordialRealmID,
				SystemEntityID: r.cfg.PrimordialSystemID,
			}, nil
		}
		return nil, fmt.Errorf("bootstrap: realm:create failed: %s", firstError(res))
	}

	rep := &Report{
		Created:        true,
		RealmID:        r.cfg.PrimordialRealmID,
		SystemEntityID: r.cfg.PrimordialSystemID,
		OrgEntityID:    dataString(res.Data, "entityId"),
		AgreementID:    dataString(res.Data, "agreementId"),
		ApiKey:         dataString(res.Data, "apiKey"),
		ApiKeyID:       dataString(res.Data, "apiKeyId"),
	}
	r.log.InfoContext(ctx, "primordial realm created",
		"realmId", rep.RealmID,
		"systemEntityId", rep.SystemEntityID,
		"agreementId", rep.AgreementID)
	return rep, nil
}

func firstError(res *intents.Result) string {
	if len(res.Errors) == 0 {
		return "unknown error"
	}
	return res.Errors[0].Code + ": " + res.Errors[0].Message
}

func dataString(data map[string]interface{}, key string) string {
	s, _ := data[key].(string)
	return s
}
