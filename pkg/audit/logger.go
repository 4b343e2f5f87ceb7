// Package audit records authorization decisions as domain events.
//
// Every permission check made by the dispatcher produces exactly one
// AuthorizationGranted or AuthorizationDenied event on a System aggregate
// with a fresh per-decision id. The audit trail is therefore part of the
// event log itself, indistinguishable from any other event. Appends are
// best-effort: a failure to write the audit event never aborts the guarded
// action, it is reported to the operational sink instead.
package audit

import (
	"context"
	"log/slog"

	"github.com/Covenant-Labs/covenant/core/pkg/authz"
	"github.com/Covenant-Labs/covenant/core/pkg/events"
	"github.com/Covenant-Labs/covenant/core/pkg/eventstore"
	"github.com/Covenant-Labs/covenant/core/pkg/id"
)

// Decision values recorded on audit payloads.
const (
	DecisionGranted = "Granted"
	DecisionDenied  = "Denied"
)

// Logger appends authorization decisions to the event store.
type Logger struct {
	store eventstore.Store
	log   *slog.Logger
}

// NewLogger creates a decision logger. ops is the operational fallback sink;
// nil means slog.Default.
func NewLogger(store eventstore.Store, ops *slog.Logger) *Logger {
	if ops == nil {
		ops = slog.Default()
	}
	return &Logger{store: store, log: ops}
}

// RecordDecision appends the audit event for one authorization decision made
// for intentName. It returns the appended event, or nil when the append
// failed and the decision was written to the operational sink only.
func (l *Logger) RecordDecision(ctx context.Context, intentName string, req authz.Request, d *authz.Decision, commandID string) *events.Event {
	eventType := events.TypeAuthorizationDenied
	decision := DecisionDenied
	if d.Allowed {
		eventType = events.TypeAuthorizationGranted
		decision = DecisionGranted
	}

	payload := map[string]interface{}{
		"intent":     intentName,
		"permission": req.Permission(),
		"decision":   decision,
		"reason":     d.Reason,
		"resource":   req.Resource,
		"action":     req.Action,
	}
	if req.Realm != "" {
		payload["realm"] = req.Realm
	}
	if len(d.EvaluatedAgreements) > 0 {
		payload["evaluatedAgreements"] = toInterfaceSlice(d.EvaluatedAgreements)
	}
	if len(d.GrantedBy) > 0 {
		payload["grantedBy"] = toInterfaceSlice(d.GrantedBy)
	}

	ts := req.Timestamp
	if ts == 0 {
		ts = id.NowMillis()
	}
	var causation *events.Causation
	if commandID != "" {
		causation = &events.Causation{CommandID: commandID}
	}

	// One System aggregate per decision: audit appends never contend with
	// business aggregates.
	e, err := l.store.Append(ctx, events.Candidate{
		AggregateType:    events.AggregateSystem,
		AggregateID:      id.New(),
		AggregateVersion: 1,
		Type:             eventType,
		Timestamp:        ts,
		Actor:            req.Actor,
		Payload:          payload,
		Causation:        causation,
	})
	if err != nil {
		l.log.ErrorContext(ctx, "audit append failed",
			"intent", intentName,
			"permission", req.Permission(),
			"decision", decision,
			"error", err)
		return nil
	}
	return e
}

func toInterfaceSlice(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
