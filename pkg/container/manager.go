// Package container enforces container physics on every asset movement.
//
// A container's physics (fungibility, topology, permeability, execution)
// encode what it is: a wallet, a workspace, a realm. The manager validates
// every deposit, withdrawal and transfer against those rules before events
// are appended; a rejected deposit still leaves an auditable
// DepositAttempted event on the container.
package container

import (
	"context"
	"errors"
	"fmt"

	"github.com/Covenant-Labs/covenant/core/pkg/aggregate"
	"github.com/Covenant-Labs/covenant/core/pkg/events"
	"github.com/Covenant-Labs/covenant/core/pkg/eventstore"
)

// ErrPhysicsViolation wraps every physics rejection.
var ErrPhysicsViolation = errors.New("physics violation")

// Rejection reasons recorded on DepositAttempted events.
const (
	ReasonTopology     = "TOPOLOGY_VIOLATION"
	ReasonPermeability = "PERMEABILITY_VIOLATION"
	ReasonGateDenied   = "GATE_DENIED"
	ReasonFungibility  = "FUNGIBILITY_VIOLATION"
	ReasonInsufficient = "INSUFFICIENT_QUANTITY"
)

// ItemKind categorizes what an item is, matched against topology.
type ItemKind string

const (
	KindValue   ItemKind = "Value"
	KindObject  ItemKind = "Object"
	KindSubject ItemKind = "Subject"
	KindLink    ItemKind = "Link"
)

// TransferMode is derived from the source container's fungibility.
type TransferMode string

const (
	ModeMove TransferMode = "Move"
	ModeCopy TransferMode = "Copy"
)

// Repository is the rehydration surface the manager needs.
type Repository interface {
	GetContainer(ctx context.Context, containerID string) (*aggregate.Container, error)
	GetAgreement(ctx context.Context, agreementID string) (*aggregate.Agreement, error)
	NextVersion(ctx context.Context, at events.AggregateType, aggregateID string) (uint64, error)
}

// Manager validates and executes container operations.
type Manager struct {
	store eventstore.Store
	repo  Repository
	gates *GateEvaluator
}

// NewManager creates a container manager.
func NewManager(store eventstore.Store, repo Repository, gates *GateEvaluator) *Manager {
	return &Manager{store: store, repo: repo, gates: gates}
}

// Deposit describes one deposit request.
type Deposit struct {
	ContainerID          string
	ItemID               string
	ItemType             string
	Kind                 ItemKind
	Quantity             *float64
	Metadata             map[string]interface{}
	GoverningAgreementID string
}

// Withdrawal describes one withdrawal request.
type Withdrawal struct {
	ContainerID          string
	ItemID               string
	Quantity             *float64
	GoverningAgreementID string
}

// Transfer describes a source-to-destination movement.
type Transfer struct {
	SourceID             string
	DestID               string
	ItemID               string
	Quantity             *float64
	GoverningAgreementID string
}

// DepositItem validates d against the container's physics and appends
// ContainerItemDeposited. On a physics rejection it appends a
// DepositAttempted event recording the rejection, then returns the
// violation; the container's item set is unchanged.
func (m *Manager) DepositItem(ctx context.Context, actor events.Actor, ts int64, commandID string, d Deposit) (*events.Event, error) {
	c, err := m.repo.GetContainer(ctx, d.ContainerID)
	if err != nil {
		return nil, err
	}
	if reason, err := m.checkDeposit(ctx, actor, c, d, false); reason != "" || err != nil {
		if err != nil {
			return nil, err
		}
		attempt, appendErr := m.appendToContainer(ctx, actor, ts, commandID, c.ID, events.TypeDepositAttempted, map[string]interface{}{
			"itemId": d.ItemID,
			"result": "Rejected",
			"reason": reason,
		})
		if appendErr != nil {
			return nil, appendErr
		}
		return attempt, fmt.Errorf("%w: %s", ErrPhysicsViolation, reason)
	}
	return m.appendDeposited(ctx, actor, ts, commandID, c.ID, d)
}

// WithdrawItem validates w and appends ContainerItemWithdrawn.
func (m *Manager) WithdrawItem(ctx context.Context, actor events.Actor, ts int64, commandID string, w Withdrawal) (*events.Event, error) {
	c, err := m.repo.GetContainer(ctx, w.ContainerID)
	if err != nil {
		return nil, err
	}
	if reason, err := m.checkWithdrawal(ctx, actor, c, w); reason != "" || err != nil {
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", ErrPhysicsViolation, reason)
	}
	return m.appendWithdrawn(ctx, actor, ts, commandID, c.ID, w)
}

// TransferItem executes the transfer protocol: withdraw from source, deposit
// to destination, both under the same causation commandId. The mode is
// derived from the source's fungibility: Strict moves, Versioned copies. If
// the deposit fails after the withdrawal was appended, a compensating
// TransferFailed event records the partial state; the events already written
// remain facts.
func (m *Manager) TransferItem(ctx context.Context, actor events.Actor, ts int64, commandID string, t Transfer) (TransferMode, []*events.Event, error) {
	source, err := m.repo.GetContainer(ctx, t.SourceID)
	if err != nil {
		return "", nil, err
	}
	dest, err := m.repo.GetContainer(ctx, t.DestID)
	if err != nil {
		return "", nil, err
	}

	item, held := source.Items[t.ItemID]
	if !held {
		return "", nil, fmt.Errorf("%w: %s", ErrPhysicsViolation, ReasonInsufficient)
	}
	if t.Quantity != nil && source.QuantityOf(t.ItemID) < *t.Quantity {
		return "", nil, fmt.Errorf("%w: %s", ErrPhysicsViolation, ReasonInsufficient)
	}

	mode := ModeMove
	if source.Physics.Fungibility == aggregate.FungibilityVersioned {
		mode = ModeCopy
	}

	deposit := Deposit{
		ContainerID:          t.DestID,
		ItemID:               t.ItemID,
		ItemType:             item.Type,
		Kind:                 kindForTopology(source.Physics.Topology),
		Quantity:             t.Quantity,
		Metadata:             item.Metadata,
		GoverningAgreementID: t.GoverningAgreementID,
	}
	if reason, err := m.checkDeposit(ctx, actor, dest, deposit, true); reason != "" || err != nil {
		if err != nil {
			return "", nil, err
		}
		return "", nil, fmt.Errorf("%w: %s", ErrPhysicsViolation, reason)
	}
	withdrawal := Withdrawal{
		ContainerID:          t.SourceID,
		ItemID:               t.ItemID,
		Quantity:             t.Quantity,
		GoverningAgreementID: t.GoverningAgreementID,
	}
	if mode == ModeMove {
		if reason, err := m.checkWithdrawal(ctx, actor, source, withdrawal); reason != "" || err != nil {
			if err != nil {
				return "", nil, err
			}
			return "", nil, fmt.Errorf("%w: %s", ErrPhysicsViolation, reason)
		}
	}

	var emitted []*events.Event
	if mode == ModeMove {
		withdrawn, err := m.appendWithdrawn(ctx, actor, ts, commandID, t.SourceID, withdrawal)
		if err != nil {
			return "", nil, err
		}
		emitted = append(emitted, withdrawn)
	}

	deposited, err := m.appendDeposited(ctx, actor, ts, commandID, t.DestID, deposit)
	if err != nil {
		if mode == ModeMove {
			// The withdrawal is already a fact; record the failed half.
			compensation, appendErr := m.appendToContainer(ctx, actor, ts, commandID, t.SourceID, events.TypeTransferFailed, map[string]interface{}{
				"sourceId": t.SourceID,
				"destId":   t.DestID,
				"itemId":   t.ItemID,
				"stage":    "deposit",
				"error":    err.Error(),
			})
			if appendErr == nil {
				emitted = append(emitted, compensation)
			}
		}
		return mode, emitted, fmt.Errorf("transfer deposit: %w", err)
	}
	emitted = append(emitted, deposited)

	// Flow-through: a Transient destination never accumulates, so the
	// protocol appends the mandatory withdrawal under the same causation.
	if dest.Physics.Fungibility == aggregate.FungibilityTransient {
		flow, err := m.appendWithdrawn(ctx, actor, ts, commandID, t.DestID, Withdrawal{
			ContainerID:          t.DestID,
			ItemID:               t.ItemID,
			Quantity:             t.Quantity,
			GoverningAgreementID: t.GoverningAgreementID,
		})
		if err != nil {
			compensation, appendErr := m.appendToContainer(ctx, actor, ts, commandID, t.DestID, events.TypeTransferFailed, map[string]interface{}{
				"sourceId": t.SourceID,
				"destId":   t.DestID,
				"itemId":   t.ItemID,
				"stage":    "flow-through",
				"error":    err.Error(),
			})
			if appendErr == nil {
				emitted = append(emitted, compensation)
			}
			return mode, emitted, fmt.Errorf("transfer flow-through: %w", err)
		}
		emitted = append(emitted, flow)
	}
	return mode, emitted, nil
}

// checkDeposit returns a rejection reason ("" when allowed). viaTransfer
// relaxes the Transient accumulation rule, which only the transfer protocol
// may do: the protocol pairs the deposit with a flow-through withdrawal
// under the same command.
func (m *Manager) checkDeposit(ctx context.Context, actor events.Actor, c *aggregate.Container, d Deposit, viaTransfer bool) (string, error) {
	if d.Kind != "" && d.Kind != kindForTopology(c.Physics.Topology) {
		return ReasonTopology, nil
	}
	if c.Physics.Fungibility == aggregate.FungibilityTransient && !viaTransfer {
		return ReasonFungibility, nil
	}
	return m.checkPermeability(ctx, actor, c, "deposit", d.ItemID, d.Quantity, d.GoverningAgreementID)
}

func (m *Manager) checkWithdrawal(ctx context.Context, actor events.Actor, c *aggregate.Container, w Withdrawal) (string, error) {
	if !c.Holds(w.ItemID) {
		return ReasonInsufficient, nil
	}
	if w.Quantity != nil && c.QuantityOf(w.ItemID) < *w.Quantity {
		return ReasonInsufficient, nil
	}
	return m.checkPermeability(ctx, actor, c, "withdraw", w.ItemID, w.Quantity, w.GoverningAgreementID)
}

func (m *Manager) checkPermeability(ctx context.Context, actor events.Actor, c *aggregate.Container, direction, itemID string, qty *float64, governingAgreementID string) (string, error) {
	switch c.Physics.Permeability {
	case aggregate.PermeabilityOpen:
		return "", nil

	case aggregate.PermeabilitySealed:
		if governingAgreementID == "" || governingAgreementID != c.GovernanceAgreementID {
			return ReasonPermeability, nil
		}
		return "", nil

	case aggregate.PermeabilityCollaborative:
		// Any party of the governing agreement may move items.
		if actor.IsSystem() {
			return "", nil
		}
		gov, err := m.governing(ctx, c, governingAgreementID)
		if err != nil || gov == nil || !gov.HasParty(actor.EntityID) {
			return ReasonPermeability, err
		}
		return "", nil

	case aggregate.PermeabilityGated:
		gov, err := m.governing(ctx, c, governingAgreementID)
		if err != nil {
			return "", err
		}
		rule := gateRule(gov, direction)
		if rule == "" {
			return "", nil
		}
		quantity := float64(0)
		if qty != nil {
			quantity = *qty
		}
		allowed, evalErr := m.gates.Allow(rule, GateInput{
			Actor: map[string]interface{}{
				"type":     string(actor.Type),
				"entityId": actor.EntityID,
			},
			Item:     map[string]interface{}{"itemId": itemID},
			Quantity: quantity,
			Container: map[string]interface{}{
				"id":      c.ID,
				"realmId": c.RealmID,
				"type":    c.ContainerType,
			},
		})
		// A rule that fails to compile or evaluate denies.
		if evalErr != nil || !allowed {
			return ReasonGateDenied, nil
		}
		return "", nil
	}
	return ReasonPermeability, nil
}

// governing resolves the container's governing agreement, preferring the
// explicitly referenced one when it matches.
func (m *Manager) governing(ctx context.Context, c *aggregate.Container, referencedID string) (*aggregate.Agreement, error) {
	govID := c.GovernanceAgreementID
	if govID == "" {
		govID = referencedID
	}
	if govID == "" {
		return nil, nil
	}
	gov, err := m.repo.GetAgreement(ctx, govID)
	if err != nil {
		if errors.Is(err, aggregate.ErrAggregateNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return gov, nil
}

func gateRule(gov *aggregate.Agreement, direction string) string {
	if gov == nil || gov.Terms == nil {
		return ""
	}
	rules, ok := gov.Terms["gateRules"].(map[string]interface{})
	if !ok {
		return ""
	}
	rule, _ := rules[direction].(string)
	return rule
}

func kindForTopology(t aggregate.Topology) ItemKind {
	switch t {
	case aggregate.TopologyValues:
		return KindValue
	case aggregate.TopologyObjects:
		return KindObject
	case aggregate.TopologySubjects:
		return KindSubject
	case aggregate.TopologyLinks:
		return KindLink
	}
	return ""
}

func (m *Manager) appendDeposited(ctx context.Context, actor events.Actor, ts int64, commandID, containerID string, d Deposit) (*events.Event, error) {
	payload := map[string]interface{}{
		"itemId":   d.ItemID,
		"itemType": d.ItemType,
	}
	if d.Quantity != nil {
		payload["quantity"] = *d.Quantity
	}
	if d.Metadata != nil {
		payload["metadata"] = d.Metadata
	}
	if d.GoverningAgreementID != "" {
		payload["governingAgreementId"] = d.GoverningAgreementID
	}
	return m.appendToContainer(ctx, actor, ts, commandID, containerID, events.TypeContainerItemDeposited, payload)
}

func (m *Manager) appendWithdrawn(ctx context.Context, actor events.Actor, ts int64, commandID, containerID string, w Withdrawal) (*events.Event, error) {
	payload := map[string]interface{}{"itemId": w.ItemID}
	if w.Quantity != nil {
		payload["quantity"] = *w.Quantity
	}
	if w.GoverningAgreementID != "" {
		payload["governingAgreementId"] = w.GoverningAgreementID
	}
	return m.appendToContainer(ctx, actor, ts, commandID, containerID, events.TypeContainerItemWithdrawn, payload)
}

func (m *Manager) appendToContainer(ctx context.Context, actor events.Actor, ts int64, commandID, containerID, eventType string, payload map[string]interface{}) (*events.Event, error) {
	version, err := m.repo.NextVersion(ctx, events.AggregateContainer, containerID)
	if err != nil {
		return nil, err
	}
	var causation *events.Causation
	if commandID != "" {
		causation = &events.Causation{CommandID: commandID}
	}
	return m.store.Append(ctx, events.Candidate{
		AggregateType:    events.AggregateContainer,
		AggregateID:      containerID,
		AggregateVersion: version,
		Type:             eventType,
		Timestamp:        ts,
		Actor:            actor,
		Payload:          payload,
		Causation:        causation,
	})
}
