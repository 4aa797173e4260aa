// Package statemachine holds the pure GNAP grant lifecycle decision
// function of §4.3, mirroring internal/negotiation/statemachine's shape:
// no I/O, just (current state, event) -> next state.
package statemachine

import (
	"github.com/dscp-io/connector/internal/ssiauth/entities"
	"github.com/dscp-io/connector/pkg/errs"
)

// Event is one of the GNAP flow's driving occurrences (§4.3 steps 1-6).
type Event string

const (
	// EventGrantRequest is the consumer's initial GNAP grant request
	// (flow step 1).
	EventGrantRequest Event = "grantRequest"
	// EventRequestVPD is the wallet fetching the Verifiable Presentation
	// Definition, which opens the one-shot verification window (flow
	// step 2, §3's "created when the grant enters AWAITING_VP").
	EventRequestVPD Event = "requestVPD"
	// EventVPValid is a successfully validated VP (flow step 3).
	EventVPValid Event = "vpValid"
	// EventVPInvalid is a VP that failed any check in the §4.3 step 3
	// checklist, or a replayed nonce (§4.3 invariants).
	EventVPInvalid Event = "vpInvalid"
	// EventApprove/EventDeny are the human/policy decision of flow step 4.
	EventApprove Event = "approve"
	EventDeny    Event = "deny"
	// EventContinueValid/EventContinueInvalid are the outcome of the
	// consumer's continuation call (flow steps 5-6): hash(clientNonce,
	// asNonce, interactRef) matches, or not.
	EventContinueValid   Event = "continueValid"
	EventContinueInvalid Event = "continueInvalid"
	// EventExpire is the lazy/background sweep transition of §4.3's
	// failure modes.
	EventExpire Event = "expire"
)

// Decide implements the §4.3 grant lifecycle. Any (state, event)
// combination absent from the table is rejected with errs.Forbidden,
// including every row where State is already terminal.
func Decide(current entities.State, hasState bool, event Event) (entities.State, error) {
	if event == EventExpire {
		if hasState && current.IsTerminal() {
			return "", errs.New(errs.Forbidden, "grant already in terminal state %s", current)
		}
		return entities.StateExpired, nil
	}

	switch {
	case !hasState && event == EventGrantRequest:
		return entities.StateAwaitingInteraction, nil

	case hasState && current == entities.StateAwaitingInteraction && event == EventRequestVPD:
		return entities.StateAwaitingVP, nil

	case hasState && current == entities.StateAwaitingVP && event == EventVPValid:
		return entities.StateVerified, nil

	case hasState && current == entities.StateAwaitingVP && event == EventVPInvalid:
		return entities.StateFailed, nil

	case hasState && current == entities.StateVerified && event == EventApprove:
		return entities.StateApproved, nil

	case hasState && current == entities.StateVerified && event == EventDeny:
		return entities.StateDenied, nil

	case hasState && current == entities.StateApproved && event == EventContinueValid:
		return entities.StateCompleted, nil

	case hasState && current == entities.StateApproved && event == EventContinueInvalid:
		return entities.StateFailed, nil
	}

	return "", errs.New(errs.Forbidden, "no transition for state=%s(known=%v) event=%s", current, hasState, event)
}
