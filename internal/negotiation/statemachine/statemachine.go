// Package statemachine holds the pure contract-negotiation decision
// function of §4.1's transition table: given (role, current state,
// inbound message), decide the next state and any side-effect intent.
// No I/O, no persistence — grounded on the phase-gated RunDKG/RunReshare
// shape in pkg/node/node.go, generalized from an imperative 3-phase round
// into a table lookup over an explicit (role, state, message) key, per
// §9's "keep decision functions pure" design note.
package statemachine

import (
	"github.com/dscp-io/connector/internal/negotiation/entities"
	"github.com/dscp-io/connector/pkg/errs"
)

// SideEffect is the side-effect intent a transition may emit. The
// orchestrator executes it transactionally with the state write (§7).
type SideEffect string

const (
	SideEffectNone                   SideEffect = ""
	SideEffectResolveOffer           SideEffect = "resolveOffer"
	SideEffectStoreOffer             SideEffect = "storeOffer"
	SideEffectMaterializeAgreement   SideEffect = "materializeAgreement"
	SideEffectPersistAgreementActive SideEffect = "persistAgreementActive"
	SideEffectDeactivateAgreement    SideEffect = "deactivateAgreement"
)

// Input is everything the decision function needs: the session's current
// state (absent for session creation), its role, and the inbound message.
type Input struct {
	Role     entities.Role
	State    entities.State
	HasState bool // false when the session does not yet exist
	Message  entities.MessageType
	Subtype  entities.EventSubtype
	// Outbound is true when Message is the locally-initiated leg of a
	// transition the operator drives via RPC (e.g. the provider's own
	// Offer after receiving a Request) rather than a peer's inbound wire
	// message. The table in §4.1 marks these "(out)".
	Outbound bool
}

// Decision is the pure output of Decide.
type Decision struct {
	Next       entities.State
	SideEffect SideEffect
}

// Decide implements the §4.1 transition table. It returns errs.Forbidden
// for any (role, state, message) combination absent from the table,
// including every row where State is terminal.
func Decide(in Input) (Decision, error) {
	if in.HasState && in.State.IsTerminal() {
		if in.Message == entities.MessageContractNegotiationTermination {
			return Decision{}, errs.New(errs.Forbidden, "negotiation already in terminal state %s", in.State)
		}
		return Decision{}, errs.New(errs.Forbidden, "no transition for %s in terminal state %s", in.Message, in.State)
	}

	// Termination is admissible from any non-terminal state, for either
	// role (§4.1 table, row "* / any non-terminal / Termination").
	if in.Message == entities.MessageContractNegotiationTermination {
		return Decision{Next: entities.StateTerminated, SideEffect: SideEffectDeactivateAgreement}, nil
	}

	switch {
	case in.Role == entities.RoleProvider && !in.HasState && in.Message == entities.MessageContractRequest:
		return Decision{Next: entities.StateRequested, SideEffect: SideEffectResolveOffer}, nil

	case in.Role == entities.RoleProvider && in.HasState && in.State == entities.StateRequested && in.Message == entities.MessageContractOffer && in.Outbound:
		return Decision{Next: entities.StateOffered}, nil

	case in.Role == entities.RoleConsumer && !in.HasState && in.Message == entities.MessageContractOffer:
		return Decision{Next: entities.StateOffered, SideEffect: SideEffectStoreOffer}, nil

	// Mirror of the provider's counter-offer: the consumer receives it
	// while its own side of the session sits in REQUESTED.
	case in.Role == entities.RoleConsumer && in.HasState && in.State == entities.StateRequested && in.Message == entities.MessageContractOffer && !in.Outbound:
		return Decision{Next: entities.StateOffered, SideEffect: SideEffectStoreOffer}, nil

	case in.Role == entities.RoleConsumer && in.HasState && in.State == entities.StateOffered && in.Message == entities.MessageContractRequest && in.Outbound:
		return Decision{Next: entities.StateRequested}, nil

	// Mirror of the consumer's counter-request: the provider receives it
	// while its own side of the session sits in OFFERED.
	case in.Role == entities.RoleProvider && in.HasState && in.State == entities.StateOffered && in.Message == entities.MessageContractRequest && !in.Outbound:
		return Decision{Next: entities.StateRequested}, nil

	case in.Role == entities.RoleProvider && in.HasState && in.State == entities.StateRequested &&
		in.Message == entities.MessageContractNegotiationEvent && in.Subtype == entities.EventAccepted:
		return Decision{Next: entities.StateAccepted}, nil

	// The consumer's own accepted leg, driven by the setup-acceptance RPC
	// after an offer has been received.
	case in.Role == entities.RoleConsumer && in.HasState && in.State == entities.StateOffered &&
		in.Message == entities.MessageContractNegotiationEvent && in.Subtype == entities.EventAccepted && in.Outbound:
		return Decision{Next: entities.StateAccepted}, nil

	case in.Role == entities.RoleProvider && in.HasState && in.State == entities.StateAccepted &&
		in.Message == entities.MessageContractAgreement && in.Outbound:
		return Decision{Next: entities.StateAgreed, SideEffect: SideEffectMaterializeAgreement}, nil

	// Mirror of the provider's agreement: the consumer receives it after
	// its own accepted event, never short-circuiting from REQUESTED/OFFERED.
	case in.Role == entities.RoleConsumer && in.HasState && in.State == entities.StateAccepted &&
		in.Message == entities.MessageContractAgreement && !in.Outbound:
		return Decision{Next: entities.StateAgreed}, nil

	case in.Role == entities.RoleConsumer && in.HasState && in.State == entities.StateAgreed &&
		in.Message == entities.MessageContractAgreementVerification && in.Outbound:
		return Decision{Next: entities.StateVerified}, nil

	// Mirror of the consumer's verification: the provider receives it on
	// the /negotiations/{pid}/agreement/verification endpoint while AGREED.
	case in.Role == entities.RoleProvider && in.HasState && in.State == entities.StateAgreed &&
		in.Message == entities.MessageContractAgreementVerification && !in.Outbound:
		return Decision{Next: entities.StateVerified}, nil

	case in.Role == entities.RoleProvider && in.HasState && in.State == entities.StateVerified &&
		in.Message == entities.MessageContractNegotiationEvent && in.Subtype == entities.EventFinalized && in.Outbound:
		return Decision{Next: entities.StateFinalized, SideEffect: SideEffectPersistAgreementActive}, nil

	// Mirror of the provider's finalization event at the consumer, which
	// activates the consumer's agreement snapshot when it holds one.
	case in.Role == entities.RoleConsumer && in.HasState && in.State == entities.StateVerified &&
		in.Message == entities.MessageContractNegotiationEvent && in.Subtype == entities.EventFinalized && !in.Outbound:
		return Decision{Next: entities.StateFinalized, SideEffect: SideEffectPersistAgreementActive}, nil
	}

	return Decision{}, errs.New(errs.Forbidden, "no transition for role=%s state=%s(known=%v) message=%s subtype=%s outbound=%v",
		in.Role, in.State, in.HasState, in.Message, in.Subtype, in.Outbound)
}
