package agreement

import (
	"github.com/Covenant-Labs/covenant/core/pkg/aggregate"
	"github.com/Covenant-Labs/covenant/core/pkg/workflow"
)

// Lifecycle inputs.
const (
	InputActivate  workflow.Input = "activate"
	InputReject    workflow.Input = "reject"
	InputTerminate workflow.Input = "terminate"
	InputDispute   workflow.Input = "dispute"
	InputResolve   workflow.Input = "resolve"
)

// LifecycleMachine builds the agreement state machine:
//
//	Proposed --activate--> Active
//	Proposed --reject----> Terminated
//	Active   --terminate-> Terminated
//	Active   --dispute---> Disputed
//	Disputed --resolve---> Active | Terminated
func LifecycleMachine() *workflow.Machine {
	m := workflow.NewMachine("agreement",
		workflow.State(aggregate.StatusProposed),
		workflow.State(aggregate.StatusTerminated))
	m.Allow(workflow.State(aggregate.StatusProposed), InputActivate, workflow.State(aggregate.StatusActive))
	m.Allow(workflow.State(aggregate.StatusProposed), InputReject, workflow.State(aggregate.StatusTerminated))
	m.Allow(workflow.State(aggregate.StatusActive), InputTerminate, workflow.State(aggregate.StatusTerminated))
	m.Allow(workflow.State(aggregate.StatusActive), InputDispute, workflow.State(aggregate.StatusDisputed))
	m.Allow(workflow.State(aggregate.StatusDisputed), InputResolve,
		workflow.State(aggregate.StatusActive), workflow.State(aggregate.StatusTerminated))
	return m
}

var lifecycle = LifecycleMachine()

// CanTransition validates (from, input) -> to against the lifecycle machine.
func CanTransition(from aggregate.AgreementStatus, input workflow.Input, to aggregate.AgreementStatus) error {
	return lifecycle.Step(workflow.State(from), input, workflow.State(to))
}

// NextInputs returns the lifecycle inputs available from status, for
// affordance derivation.
func NextInputs(from aggregate.AgreementStatus) []workflow.Input {
	return lifecycle.Inputs(workflow.State(from))
}
