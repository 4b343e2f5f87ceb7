package aggregate

import "github.com/Covenant-Labs/covenant/core/pkg/events"

// Physics axes. The four axes together encode what a container is: a wallet
// is {Strict, Values, Gated}, a workspace {Versioned, Objects, Collaborative},
// a realm {Versioned, Subjects, Gated}.

// Fungibility governs move-vs-copy semantics on transfer.
type Fungibility string

const (
	FungibilityStrict    Fungibility = "Strict"    // move: debit one, credit another
	FungibilityVersioned Fungibility = "Versioned" // copy: deposit without withdrawal
	FungibilityTransient Fungibility = "Transient" // flow-through: never accumulates
)

// Topology constrains what item types a container holds.
type Topology string

const (
	TopologyValues   Topology = "Values"
	TopologyObjects  Topology = "Objects"
	TopologySubjects Topology = "Subjects"
	TopologyLinks    Topology = "Links"
)

// Permeability gates entry and exit.
type Permeability string

const (
	PermeabilitySealed        Permeability = "Sealed"
	PermeabilityGated         Permeability = "Gated"
	PermeabilityCollaborative Permeability = "Collaborative"
	PermeabilityOpen          Permeability = "Open"
)

// Execution states whether code may run in the container.
type Execution string

const (
	ExecutionDisabled  Execution = "Disabled"
	ExecutionSandboxed Execution = "Sandboxed"
	ExecutionFull      Execution = "Full"
)

// Physics is the full rule set of a container.
type Physics struct {
	Fungibility  Fungibility  `json:"fungibility"`
	Topology     Topology     `json:"topology"`
	Permeability Permeability `json:"permeability"`
	Execution    Execution    `json:"execution"`
}

// Item is one held entry in a container.
type Item struct {
	Type     string                 `json:"type"`
	Quantity float64                `json:"quantity,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Container is the folded state of a Container aggregate.
type Container struct {
	ID                    string          `json:"id"`
	RealmID               string          `json:"realmId,omitempty"`
	Name                  string          `json:"name"`
	ContainerType         string          `json:"containerType"`
	Physics               Physics         `json:"physics"`
	GovernanceAgreementID string          `json:"governanceAgreementId,omitempty"`
	OwnerID               string          `json:"ownerId,omitempty"`
	Items                 map[string]Item `json:"items"`
	ParentContainerID     string          `json:"parentContainerId,omitempty"`
	Version               uint64          `json:"version"`
}

// NewContainer returns the initial state for id.
func NewContainer(id string) *Container {
	return &Container{ID: id, Items: make(map[string]Item)}
}

// Apply folds one event into the container state.
func (c *Container) Apply(e *events.Event) {
	switch e.Type {
	case events.TypeContainerCreated:
		c.RealmID = payloadString(e.Payload, "realmId")
		c.Name = payloadString(e.Payload, "name")
		c.ContainerType = payloadString(e.Payload, "containerType")
		c.GovernanceAgreementID = payloadString(e.Payload, "governanceAgreementId")
		c.OwnerID = payloadString(e.Payload, "ownerId")
		c.ParentContainerID = payloadString(e.Payload, "parentContainerId")
		if ph := payloadMap(e.Payload, "physics"); ph != nil {
			c.Physics = Physics{
				Fungibility:  Fungibility(payloadString(ph, "fungibility")),
				Topology:     Topology(payloadString(ph, "topology")),
				Permeability: Permeability(payloadString(ph, "permeability")),
				Execution:    Execution(payloadString(ph, "execution")),
			}
		}
	case events.TypeContainerItemDeposited:
		itemID := payloadString(e.Payload, "itemId")
		item := c.Items[itemID]
		item.Type = payloadString(e.Payload, "itemType")
		if q, ok := payloadFloat(e.Payload, "quantity"); ok {
			item.Quantity += q
		}
		if m := payloadMap(e.Payload, "metadata"); m != nil {
			item.Metadata = m
		}
		c.Items[itemID] = item
	case events.TypeContainerItemWithdrawn:
		itemID := payloadString(e.Payload, "itemId")
		item, ok := c.Items[itemID]
		if !ok {
			break
		}
		if q, qok := payloadFloat(e.Payload, "quantity"); qok {
			item.Quantity -= q
			if item.Quantity <= 0 {
				delete(c.Items, itemID)
			} else {
				c.Items[itemID] = item
			}
		} else {
			delete(c.Items, itemID)
		}
	}
	// DepositAttempted and TransferFailed record outcomes; they do not
	// change held items.
	c.Version = e.AggregateVersion
}

// Exists reports whether a creation event has been applied.
func (c *Container) Exists() bool { return c.Version > 0 && c.ContainerType != "" }

// QuantityOf returns the held quantity of itemID (0 when absent).
func (c *Container) QuantityOf(itemID string) float64 {
	return c.Items[itemID].Quantity
}

// Holds reports whether itemID is present.
func (c *Container) Holds(itemID string) bool {
	_, ok := c.Items[itemID]
	return ok
}

// FoldContainer rehydrates a container from its events in version order.
func FoldContainer(id string, evs []*events.Event) *Container {
	c := NewContainer(id)
	for _, e := range evs {
		c.Apply(e)
	}
	return c
}
