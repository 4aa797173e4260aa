// Package statemachine holds the pure transfer control-plane decision
// function of §4.2's transition table, mirroring
// internal/negotiation/statemachine's shape: no I/O, just (role, state,
// message) -> (next state, data-plane intent).
package statemachine

import (
	"github.com/dscp-io/connector/internal/transfer/dataplane"
	"github.com/dscp-io/connector/internal/transfer/entities"
	"github.com/dscp-io/connector/pkg/errs"
)

// Input is everything the decision function needs.
type Input struct {
	Role     entities.Role
	State    entities.State
	HasState bool
	Message  entities.MessageType
	// Outbound marks the locally-initiated leg of a transition, as in
	// internal/negotiation/statemachine.
	Outbound bool
}

// Decision is the pure output of Decide.
type Decision struct {
	Next   entities.State
	Intent dataplane.Intent // "" when no data-plane action accompanies the transition
}

// Decide implements the §4.2 transition table. Any (role, state, message)
// combination absent from the table is rejected with errs.Forbidden,
// including every row where State is terminal.
func Decide(in Input) (Decision, error) {
	if in.HasState && in.State.IsTerminal() {
		return Decision{}, errs.New(errs.Forbidden, "no transition for %s in terminal state %s", in.Message, in.State)
	}

	if in.Message == entities.MessageTransferTermination {
		return Decision{Next: entities.StateTerminated, Intent: dataplane.IntentTeardown}, nil
	}

	switch {
	case !in.HasState && in.Message == entities.MessageTransferRequest:
		return Decision{Next: entities.StateRequested}, nil

	case in.Role == entities.RoleProvider && in.HasState && in.State == entities.StateRequested &&
		in.Message == entities.MessageTransferStart && in.Outbound:
		return Decision{Next: entities.StateStarted, Intent: dataplane.IntentProvision}, nil

	case in.Role == entities.RoleConsumer && in.HasState && in.State == entities.StateRequested &&
		in.Message == entities.MessageTransferStart:
		return Decision{Next: entities.StateStarted, Intent: dataplane.IntentAttach}, nil

	case in.HasState && in.State == entities.StateStarted && in.Message == entities.MessageTransferSuspension:
		return Decision{Next: entities.StateSuspended, Intent: dataplane.IntentDetach}, nil

	case in.HasState && in.State == entities.StateSuspended && in.Message == entities.MessageTransferStart:
		return Decision{Next: entities.StateStarted, Intent: dataplane.IntentProvision}, nil

	case in.HasState && (in.State == entities.StateStarted || in.State == entities.StateSuspended) &&
		in.Message == entities.MessageTransferCompletion:
		return Decision{Next: entities.StateCompleted, Intent: dataplane.IntentTeardown}, nil
	}

	return Decision{}, errs.New(errs.Forbidden, "no transition for role=%s state=%s(known=%v) message=%s outbound=%v",
		in.Role, in.State, in.HasState, in.Message, in.Outbound)
}
