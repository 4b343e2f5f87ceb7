package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Covenant-specific semantic convention attributes.
var (
	// Intent attributes
	AttrIntentName    = attribute.Key("covenant.intent.name")
	AttrIntentOutcome = attribute.Key("covenant.intent.outcome")

	// Actor attributes
	AttrActorType = attribute.Key("covenant.actor.type")
	AttrEntityID  = attribute.Key("covenant.entity.id")
	AttrRealmID   = attribute.Key("covenant.realm.id")

	// Aggregate attributes
	AttrAggregateType = attribute.Key("covenant.aggregate.type")
	AttrAggregateID   = attribute.Key("covenant.aggregate.id")
	AttrSequence      = attribute.Key("covenant.event.sequence")

	// Authorization attributes
	AttrPermission = attribute.Key("covenant.authz.permission")
	AttrDecision   = attribute.Key("covenant.authz.decision")
)

// IntentAttrs builds the standard attribute set for one intent dispatch.
func IntentAttrs(intent, actorType, realm string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrIntentName.String(intent),
		AttrActorType.String(actorType),
	}
	if realm != "" {
		attrs = append(attrs, AttrRealmID.String(realm))
	}
	return attrs
}

// SpanFromContext returns the active span, if any.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}
