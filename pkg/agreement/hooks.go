package agreement

import (
	"context"
	"fmt"

	"github.com/Covenant-Labs/covenant/core/pkg/aggregate"
	"github.com/Covenant-Labs/covenant/core/pkg/events"
)

// Derived is an event a hook wants appended. The emitter fills in version,
// actor, timestamp and the triggering intent's causation commandId.
type Derived struct {
	AggregateType events.AggregateType
	AggregateID   string
	Type          string
	Payload       map[string]interface{}
}

// Emitter appends hook-derived events serially, sharing the triggering
// intent's causation. The dispatcher implements this.
type Emitter interface {
	Emit(ctx context.Context, d Derived) (*events.Event, error)
}

// Hook is a lifecycle callback. It receives the post-fold agreement state
// and may emit further events. A hook error fails the surrounding intent;
// events already emitted stay in the log (they are facts) and the failure is
// recorded by the dispatcher.
type Hook func(ctx context.Context, em Emitter, a *aggregate.Agreement) error

// Processor invokes the registered hook after an agreement lifecycle event.
type Processor struct {
	registry *Registry
	folder   AgreementFolder
}

// AgreementFolder rehydrates agreement state. Implemented by
// aggregate.Repository.
type AgreementFolder interface {
	GetAgreement(ctx context.Context, agreementID string) (*aggregate.Agreement, error)
}

// NewProcessor creates a hook processor.
func NewProcessor(registry *Registry, folder AgreementFolder) *Processor {
	return &Processor{registry: registry, folder: folder}
}

// After runs the hook matching e, if e transitions an agreement and its type
// declares one. The agreement is re-folded first so hooks always see
// post-transition state.
func (p *Processor) After(ctx context.Context, em Emitter, e *events.Event) error {
	if e.AggregateType != events.AggregateAgreement {
		return nil
	}

	var pick func(*Definition) Hook
	switch e.Type {
	case events.TypeAgreementProposed:
		pick = func(d *Definition) Hook { return d.OnProposed }
	case events.TypeAgreementActivated:
		pick = func(d *Definition) Hook { return d.OnActivated }
	case events.TypeAgreementTerminated, events.TypePartyRejected:
		pick = func(d *Definition) Hook { return d.OnTerminated }
	default:
		return nil
	}

	a, err := p.folder.GetAgreement(ctx, e.AggregateID)
	if err != nil {
		return fmt.Errorf("hook fold %s: %w", e.AggregateID, err)
	}
	def := p.registry.Get(a.AgreementType)
	if def == nil {
		return nil
	}
	hook := pick(def)
	if hook == nil {
		return nil
	}
	if err := hook(ctx, em, a); err != nil {
		return fmt.Errorf("%s hook for %s: %w", e.Type, a.AgreementType, err)
	}
	return nil
}
