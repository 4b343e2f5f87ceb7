// Package workflow provides a declarative state-machine executor for
// aggregate lifecycles.
//
// A Machine is a transition table: (from state, input) -> allowed target
// states. Executors validate every requested transition against the table
// before any event is appended; a disallowed transition is ErrLifecycleInvalid
// and nothing is written.
package workflow

import (
	"errors"
	"fmt"
	"sync"
)

// ErrLifecycleInvalid is returned for a transition the machine does not allow.
var ErrLifecycleInvalid = errors.New("lifecycle transition not allowed")

// State is a lifecycle state name.
type State string

// Input is the name of a transition trigger.
type Input string

type transitionKey struct {
	from  State
	input Input
}

// Machine is an immutable-after-build transition table.
type Machine struct {
	name     string
	initial  State
	terminal map[State]bool

	mu          sync.RWMutex
	transitions map[transitionKey][]State
}

// NewMachine creates a machine with the given initial and terminal states.
func NewMachine(name string, initial State, terminals ...State) *Machine {
	m := &Machine{
		name:        name,
		initial:     initial,
		terminal:    make(map[State]bool, len(terminals)),
		transitions: make(map[transitionKey][]State),
	}
	for _, t := range terminals {
		m.terminal[t] = true
	}
	return m
}

// Allow registers a transition from state on input to one of the targets.
func (m *Machine) Allow(from State, input Input, targets ...State) *Machine {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := transitionKey{from: from, input: input}
	m.transitions[key] = append(m.transitions[key], targets...)
	return m
}

// Name returns the machine name.
func (m *Machine) Name() string { return m.name }

// Initial returns the initial state.
func (m *Machine) Initial() State { return m.initial }

// IsTerminal reports whether s is terminal; transitions out of a terminal
// state are no-ops at the caller, never errors escalated into new facts.
func (m *Machine) IsTerminal(s State) bool { return m.terminal[s] }

// Step validates the transition (from, input) -> to.
func (m *Machine) Step(from State, input Input, to State) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, target := range m.transitions[transitionKey{from: from, input: input}] {
		if target == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s cannot %s from %s to %s", ErrLifecycleInvalid, m.name, input, from, to)
}

// Targets returns the allowed target states for (from, input).
func (m *Machine) Targets(from State, input Input) []State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	targets := m.transitions[transitionKey{from: from, input: input}]
	out := make([]State, len(targets))
	copy(out, targets)
	return out
}

// Inputs returns the inputs that have at least one target from state.
// Used to derive affordances.
func (m *Machine) Inputs(from State) []Input {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[Input]bool)
	var out []Input
	for key := range m.transitions {
		if key.from == from && !seen[key.input] {
			seen[key.input] = true
			out = append(out, key.input)
		}
	}
	return out
}
