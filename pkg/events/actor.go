package events

import "errors"

// ActorType discriminates the actor variant carried on every event.
type ActorType string

const (
	ActorEntity    ActorType = "Entity"
	ActorSystem    ActorType = "System"
	ActorAnonymous ActorType = "Anonymous"
)

// Actor identifies who caused an event. Exactly one variant is populated.
type Actor struct {
	Type     ActorType `json:"type"`
	EntityID string    `json:"entityId,omitempty"`
	SystemID string    `json:"systemId,omitempty"`
	Reason   string    `json:"reason,omitempty"`
}

// EntityActor returns an actor for a registered entity.
func EntityActor(entityID string) Actor {
	return Actor{Type: ActorEntity, EntityID: entityID}
}

// SystemActor returns an actor for an internal system identity. System actors
// bypass authorization; they are used only for bootstrap and hook-originated
// emissions.
func SystemActor(systemID string) Actor {
	return Actor{Type: ActorSystem, SystemID: systemID}
}

// AnonymousActor returns an actor for an unauthenticated caller.
func AnonymousActor(reason string) Actor {
	return Actor{Type: ActorAnonymous, Reason: reason}
}

// ID returns the identifying string of the populated variant.
func (a Actor) ID() string {
	switch a.Type {
	case ActorEntity:
		return a.EntityID
	case ActorSystem:
		return a.SystemID
	default:
		return ""
	}
}

// IsSystem reports whether the actor is a system identity.
func (a Actor) IsSystem() bool { return a.Type == ActorSystem }

// Validate checks that exactly one variant is populated.
func (a Actor) Validate() error {
	switch a.Type {
	case ActorEntity:
		if a.EntityID == "" {
			return errors.New("entity actor requires entityId")
		}
	case ActorSystem:
		if a.SystemID == "" {
			return errors.New("system actor requires systemId")
		}
	case ActorAnonymous:
		if a.Reason == "" {
			return errors.New("anonymous actor requires reason")
		}
	default:
		return errors.New("unknown actor type")
	}
	return nil
}
