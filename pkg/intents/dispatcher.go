package intents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Covenant-Labs/covenant/core/pkg/agreement"
	"github.com/Covenant-Labs/covenant/core/pkg/aggregate"
	"github.com/Covenant-Labs/covenant/core/pkg/audit"
	"github.com/Covenant-Labs/covenant/core/pkg/authz"
	"github.com/Covenant-Labs/covenant/core/pkg/container"
	"github.com/Covenant-Labs/covenant/core/pkg/events"
	"github.com/Covenant-Labs/covenant/core/pkg/eventstore"
	"github.com/Covenant-Labs/covenant/core/pkg/id"
	"github.com/Covenant-Labs/covenant/core/pkg/workflow"
)

// ErrAlreadyExists is returned by handlers when the target aggregate already
// has history.
var ErrAlreadyExists = errors.New("already exists")

// ErrValidation is returned by handlers for input the payload schema could
// not catch (unknown agreement type, role mismatch).
var ErrValidation = errors.New("validation failed")

const (
	defaultDeadline   = 30 * time.Second
	defaultMaxRetries = 3
)

// Request is one intent call.
type Request struct {
	Intent         string                 `json:"intent"`
	Realm          string                 `json:"realm,omitempty"`
	Actor          events.Actor           `json:"actor"`
	Timestamp      int64                  `json:"timestamp,omitempty"`
	IdempotencyKey string                 `json:"idempotencyKey,omitempty"`
	Payload        map[string]interface{} `json:"payload,omitempty"`
}

// Nested is the dispatcher surface handlers see for recursive intent calls.
type Nested interface {
	Dispatch(ctx context.Context, req Request) *Result
}

// Context is the handler's view of the system, assembled per dispatch. All
// writes go through Append or Emit so the dispatcher can collect them into
// the result.
type Context struct {
	Store      eventstore.Store
	Repo       *aggregate.Repository
	Agreements *agreement.Registry
	Hooks      *agreement.Processor
	Authz      *authz.Engine
	Containers *container.Manager
	Lifecycle  *workflow.Machine
	Dispatcher Nested
	Realms     RealmSource
	Schemas    *events.SchemaRegistry

	Actor     events.Actor
	Realm     string
	Timestamp int64
	CommandID string
	Payload   map[string]interface{}

	emitted []EventRef
}

// Append writes one event on behalf of the intent: next version is computed
// by rehydration, actor, timestamp and causation come from the dispatch.
// The payload is validated against the registered schema for eventType.
func (hc *Context) Append(ctx context.Context, at events.AggregateType, aggregateID, eventType string, payload map[string]interface{}) (*events.Event, error) {
	if err := hc.validatePayload(eventType, payload); err != nil {
		return nil, err
	}
	version, err := hc.Repo.NextVersion(ctx, at, aggregateID)
	if err != nil {
		return nil, err
	}
	e, err := hc.Store.Append(ctx, events.Candidate{
		AggregateType:    at,
		AggregateID:      aggregateID,
		AggregateVersion: version,
		Type:             eventType,
		Timestamp:        hc.Timestamp,
		Actor:            hc.Actor,
		Payload:          payload,
		Causation:        &events.Causation{CommandID: hc.CommandID},
	})
	if err != nil {
		return nil, err
	}
	hc.emitted = append(hc.emitted, EventRef{ID: e.EventID, Type: e.Type, Sequence: e.Sequence})
	return e, nil
}

// Emit satisfies the hook processor's emitter: derived events are appended
// under the dispatch's causation with a system actor.
func (hc *Context) Emit(ctx context.Context, d agreement.Derived) (*events.Event, error) {
	if err := hc.validatePayload(d.Type, d.Payload); err != nil {
		return nil, err
	}
	version, err := hc.Repo.NextVersion(ctx, d.AggregateType, d.AggregateID)
	if err != nil {
		return nil, err
	}
	e, err := hc.Store.Append(ctx, events.Candidate{
		AggregateType:    d.AggregateType,
		AggregateID:      d.AggregateID,
		AggregateVersion: version,
		Type:             d.Type,
		Timestamp:        hc.Timestamp,
		Actor:            events.SystemActor("hook-processor"),
		Payload:          d.Payload,
		Causation:        &events.Causation{CommandID: hc.CommandID},
	})
	if err != nil {
		return nil, err
	}
	hc.emitted = append(hc.emitted, EventRef{ID: e.EventID, Type: e.Type, Sequence: e.Sequence})
	return e, nil
}

// validatePayload enforces the writer-side schema registered for eventType.
// A violation is a handler bug surfaced as a validation failure, never a
// stored event.
func (hc *Context) validatePayload(eventType string, payload map[string]interface{}) error {
	if hc.Schemas == nil {
		return nil
	}
	if err := hc.Schemas.Validate(eventType, payload); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// RunHooks invokes the lifecycle hook matching e, if any.
func (hc *Context) RunHooks(ctx context.Context, e *events.Event) error {
	if hc.Hooks == nil {
		return nil
	}
	return hc.Hooks.After(ctx, hc, e)
}

// Record adds events appended outside Append (container manager calls) to
// the dispatch's collected events.
func (hc *Context) Record(evs ...*events.Event) {
	for _, e := range evs {
		if e != nil {
			hc.emitted = append(hc.emitted, EventRef{ID: e.EventID, Type: e.Type, Sequence: e.Sequence})
		}
	}
}

// RecordResult folds a nested dispatch's events into this dispatch.
func (hc *Context) RecordResult(r *Result) {
	if r != nil {
		hc.emitted = append(hc.emitted, r.Events...)
	}
}

// Emitted returns references to the events this dispatch produced so far,
// in append order.
func (hc *Context) Emitted() []EventRef {
	return hc.emitted
}

// Dispatcher runs the intent pipeline: resolve, validate, authorize, invoke,
// collect.
type Dispatcher struct {
	registry   *Registry
	store      eventstore.Store
	repo       *aggregate.Repository
	agreements *agreement.Registry
	hooks      *agreement.Processor
	authz      *authz.Engine
	audit      *audit.Logger
	containers *container.Manager
	lifecycle  *workflow.Machine
	realms     RealmSource
	idem       IdempotencyStore
	schemas    *events.SchemaRegistry
	log        *slog.Logger
	tracer     trace.Tracer
	deadline   time.Duration
	maxRetries int
}

// DispatcherConfig wires a dispatcher. Registry, Store, Repo, Agreements,
// Authz and Audit are required; the rest defaults.
type DispatcherConfig struct {
	Registry    *Registry
	Store       eventstore.Store
	Repo        *aggregate.Repository
	Agreements  *agreement.Registry
	Hooks       *agreement.Processor
	Authz       *authz.Engine
	Audit       *audit.Logger
	Containers  *container.Manager
	Realms      RealmSource
	Idempotency IdempotencyStore
	// Schemas validates event payloads on the write path. Defaults to the
	// builtin core schemas when nil.
	Schemas *events.SchemaRegistry
	Logger      *slog.Logger
	Deadline    time.Duration
	MaxRetries  int
}

// NewDispatcher assembles the pipeline.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Registry == nil || cfg.Store == nil || cfg.Repo == nil {
		return nil, errors.New("dispatcher requires registry, store and repository")
	}
	if cfg.Authz == nil || cfg.Audit == nil {
		return nil, errors.New("dispatcher requires authorization engine and audit logger")
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = defaultDeadline
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Schemas == nil {
		schemas, err := events.BuiltinSchemas()
		if err != nil {
			return nil, fmt.Errorf("builtin event schemas: %w", err)
		}
		cfg.Schemas = schemas
	}
	return &Dispatcher{
		registry:   cfg.Registry,
		store:      cfg.Store,
		repo:       cfg.Repo,
		agreements: cfg.Agreements,
		hooks:      cfg.Hooks,
		authz:      cfg.Authz,
		audit:      cfg.Audit,
		containers: cfg.Containers,
		lifecycle:  agreement.LifecycleMachine(),
		realms:     cfg.Realms,
		idem:       cfg.Idempotency,
		schemas:    cfg.Schemas,
		log:        cfg.Logger,
		tracer:     otel.Tracer("covenant/intents"),
		deadline:   cfg.Deadline,
		maxRetries: cfg.MaxRetries,
	}, nil
}

// Dispatch executes req end to end. Dispatch never returns a Go error: every
// failure is a structured Result.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) *Result {
	started := time.Now()
	ts := req.Timestamp
	if ts == 0 {
		ts = id.NowMillis()
	}

	ctx, span := d.tracer.Start(ctx, "intent.dispatch",
		trace.WithAttributes(
			attribute.String("intent.name", req.Intent),
			attribute.String("actor.type", string(req.Actor.Type)),
		))
	defer span.End()

	finish := func(r *Result) *Result {
		r.Meta.ProcessedAt = id.NowMillis()
		r.Meta.ProcessingTime = time.Since(started).Milliseconds()
		r.Meta.IdempotencyKey = req.IdempotencyKey
		span.SetAttributes(
			attribute.Bool("intent.success", r.Success),
			attribute.String("intent.outcome", string(r.Outcome)),
		)
		return r
	}

	def := d.registry.Resolve(req.Intent)
	if def == nil {
		return finish(failure(CodeIntentNotFound, fmt.Sprintf("unknown intent %q", req.Intent)))
	}

	actorID := req.Actor.ID()
	if actorID == "" {
		actorID = "anonymous"
	}
	if req.IdempotencyKey != "" && d.idem != nil {
		prior, hit, err := d.idem.Get(ctx, actorID, req.IdempotencyKey)
		if err != nil {
			d.log.Warn("idempotency lookup failed", "intent", req.Intent, "error", err)
		} else if hit {
			span.SetAttributes(attribute.Bool("intent.replayed", true))
			return prior
		}
	}

	if err := req.Actor.Validate(); err != nil {
		return finish(failure(CodeValidationFailed, err.Error()))
	}
	if err := def.ValidatePayload(req.Payload); err != nil {
		return finish(failure(CodeValidationFailed, err.Error()))
	}

	commandID := id.New()

	// Authorization, one decision and one audit event per required
	// permission; the first denial short-circuits.
	var auditRefs []EventRef
	if len(def.RequiredPermissions) > 0 && !req.Actor.IsSystem() {
		for _, perm := range def.RequiredPermissions {
			resource, action, ok := authz.SplitPermission(perm)
			if !ok {
				return finish(failure(CodeStorageError, fmt.Sprintf("malformed permission %q on intent %s", perm, def.Name)))
			}
			areq := authz.Request{
				Actor:     req.Actor,
				Action:    action,
				Resource:  resource,
				Realm:     req.Realm,
				Timestamp: ts,
			}
			decision, err := d.authz.Authorize(ctx, areq)
			if err != nil {
				return finish(failure(CodeStorageError, err.Error()))
			}
			if auditEvent := d.audit.RecordDecision(ctx, def.Name, areq, decision, commandID); auditEvent != nil {
				auditRefs = append(auditRefs, EventRef{ID: auditEvent.EventID, Type: auditEvent.Type, Sequence: auditEvent.Sequence})
			}
			if !decision.Allowed {
				r := failure(CodeForbidden, fmt.Sprintf("permission %s denied: %s", perm, decision.Reason))
				r.Events = auditRefs
				return d.remember(ctx, actorID, req.IdempotencyKey, finish(r))
			}
		}
	}

	ictx, cancel := context.WithTimeout(ctx, d.deadline)
	defer cancel()

	var collected []EventRef
	var outcome Outcome
	var data map[string]interface{}
	var invokeErr error
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		hc := &Context{
			Store:      d.store,
			Repo:       d.repo,
			Agreements: d.agreements,
			Hooks:      d.hooks,
			Authz:      d.authz,
			Containers: d.containers,
			Lifecycle:  d.lifecycle,
			Dispatcher: d,
			Realms:     d.realms,
			Schemas:    d.schemas,
			Actor:      req.Actor,
			Realm:      req.Realm,
			Timestamp:  ts,
			CommandID:  commandID,
			Payload:    req.Payload,
		}
		outcome, data, invokeErr = d.invoke(ictx, def, hc)
		collected = append(collected, hc.emitted...)
		if invokeErr == nil || !eventstore.IsConflict(invokeErr) {
			break
		}
		if ictx.Err() != nil {
			invokeErr = ictx.Err()
			break
		}
		// Conflict: the repository re-reads the latest version on the next
		// attempt.
	}

	refs := append(append([]EventRef{}, auditRefs...), collected...)

	if invokeErr != nil {
		r := d.failureFor(ctx, req, commandID, invokeErr)
		r.Events = refs
		d.log.Info("intent failed",
			"intent", req.Intent, "code", r.Errors[0].Code, "error", invokeErr)
		return d.remember(ctx, actorID, req.IdempotencyKey, finish(r))
	}

	if outcome == "" {
		outcome = OutcomeFulfilled
	}
	r := &Result{
		Success:     true,
		Outcome:     outcome,
		Events:      refs,
		Affordances: d.affordances(def),
		Data:        data,
	}
	return d.remember(ctx, actorID, req.IdempotencyKey, finish(r))
}

// invoke runs the handler with panic containment.
func (d *Dispatcher) invoke(ctx context.Context, def *Definition, hc *Context) (outcome Outcome, data map[string]interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	if err := ctx.Err(); err != nil {
		return OutcomeNothing, nil, err
	}
	return def.Handler(ctx, hc)
}

// failureFor maps a handler error to its structured result, recording a
// terminal failure event for deadline aborts.
func (d *Dispatcher) failureFor(ctx context.Context, req Request, commandID string, err error) *Result {
	switch {
	case eventstore.IsConflict(err):
		return failure(CodeConcurrencyConflict, err.Error())
	case errors.Is(err, aggregate.ErrAggregateNotFound):
		return failure(CodeNotFound, err.Error())
	case errors.Is(err, ErrAlreadyExists):
		return failure(CodeAlreadyExists, err.Error())
	case errors.Is(err, ErrValidation):
		return failure(CodeValidationFailed, err.Error())
	case errors.Is(err, container.ErrPhysicsViolation):
		return failure(CodePhysicsViolation, err.Error())
	case errors.Is(err, workflow.ErrLifecycleInvalid):
		return failure(CodeLifecycleInvalid, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		d.recordIntentFailure(ctx, req, commandID, err)
		return failure(CodeTimeout, err.Error())
	default:
		return failure(CodeStorageError, err.Error())
	}
}

// recordIntentFailure appends the terminal failure marker for an aborted
// intent. Best effort: the append must not mask the original failure.
func (d *Dispatcher) recordIntentFailure(ctx context.Context, req Request, commandID string, cause error) {
	_, err := d.store.Append(context.WithoutCancel(ctx), events.Candidate{
		AggregateType:    events.AggregateSystem,
		AggregateID:      id.New(),
		AggregateVersion: 1,
		Type:             events.TypeIntentFailed,
		Timestamp:        id.NowMillis(),
		Actor:            events.SystemActor("intent-dispatcher"),
		Payload: map[string]interface{}{
			"intent": req.Intent,
			"actor":  req.Actor.ID(),
			"error":  cause.Error(),
		},
		Causation: &events.Causation{CommandID: commandID},
	})
	if err != nil {
		d.log.Warn("intent failure marker not recorded", "intent", req.Intent, "error", err)
	}
}

// remember stores the result under the idempotency key. Storage and timeout
// failures are not remembered; a retry may succeed.
func (d *Dispatcher) remember(ctx context.Context, actorID, key string, r *Result) *Result {
	if key == "" || d.idem == nil {
		return r
	}
	if r.HasError(CodeStorageError) || r.HasError(CodeTimeout) {
		return r
	}
	if err := d.idem.Put(ctx, actorID, key, r); err != nil {
		d.log.Warn("idempotency store failed", "error", err)
	}
	return r
}

// affordances maps the definition's follow-up intents to client hints.
func (d *Dispatcher) affordances(def *Definition) []Affordance {
	out := make([]Affordance, 0, len(def.Next))
	for _, name := range def.Next {
		next := d.registry.Resolve(name)
		if next == nil {
			continue
		}
		out = append(out, Affordance{
			Intent:      next.Name,
			Description: next.Description,
			Required:    next.RequiredPermissions,
		})
	}
	return out
}
