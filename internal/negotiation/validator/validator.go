// Package validator holds the pure admissibility checks run before the
// contract-negotiation state machine, grounded on the validation-before-
// transition shape of rainbow-negotiation-agent's validation_dsp_steps.rs:
// schema/URN shape and message type/subtype shape, then cross-field
// correlation — never mixed with persistence or side effects.
package validator

import (
	"github.com/dscp-io/connector/internal/negotiation/entities"
	"github.com/dscp-io/connector/pkg/errs"
	"github.com/dscp-io/connector/pkg/urn"
)

// InboundMessage is the validator's view of an incoming protocol message,
// decoupled from its wire JSON shape.
type InboundMessage struct {
	Type            entities.MessageType
	Subtype         entities.EventSubtype
	OfferIdentifier string
	AgreementID     string
	ProviderPID     string
	ConsumerPID     string
	Content         map[string]any
}

// ValidateRequest checks the initial ContractRequestMessage payload: target
// must be a well-formed URN.
func ValidateRequest(targetURN string) error {
	if targetURN == "" {
		return errs.New(errs.BadFormatReceived, "request requires a target")
	}
	if _, err := urn.Parse(targetURN); err != nil {
		return errs.Wrap(errs.BadFormatReceived, err, "invalid target urn %q", targetURN)
	}
	return nil
}

// ValidateOfferCorrelation checks that msg.OfferIdentifier refers to an
// offer already stored under the session, per §4.1's offer correlation
// rule.
func ValidateOfferCorrelation(msg InboundMessage, knownOfferIDs map[string]bool) error {
	if msg.OfferIdentifier == "" {
		return nil
	}
	if !knownOfferIDs[msg.OfferIdentifier] {
		return errs.New(errs.BadFormatReceived, "offer %q not previously stored for this session", msg.OfferIdentifier)
	}
	return nil
}

// ValidateAgreementParties checks an incoming agreement's participant ids
// match the session's associated peer and this node's own DID (§4.1
// agreement invariants).
func ValidateAgreementParties(agreement InboundMessage, sessionPeerDID, selfDID string, isProvider bool) error {
	if agreement.ProviderPID == "" || agreement.ConsumerPID == "" {
		return errs.New(errs.BadFormatReceived, "agreement missing participant ids")
	}
	expectedSelf := agreement.ConsumerPID
	expectedPeer := agreement.ProviderPID
	if isProvider {
		expectedSelf, expectedPeer = agreement.ProviderPID, agreement.ConsumerPID
	}
	if expectedSelf != selfDID {
		return errs.New(errs.BadFormatReceived, "agreement self participant id %q does not match node did %q", expectedSelf, selfDID)
	}
	if expectedPeer != sessionPeerDID {
		return errs.New(errs.BadFormatReceived, "agreement peer participant id %q does not match session peer %q", expectedPeer, sessionPeerDID)
	}
	return nil
}

// ValidateRoleState rejects an obviously-malformed message shape: an empty
// message type, or a ContractNegotiationEventMessage whose subtype is
// neither accepted nor finalized. It does not look at role or state; the
// state machine package owns the §4.1 transition table and rejects
// combinations that have no row there.
func ValidateRoleState(msg InboundMessage) error {
	if msg.Type == "" {
		return errs.New(errs.BadFormatReceived, "message type is required")
	}
	if msg.Type == entities.MessageContractNegotiationEvent && msg.Subtype != entities.EventAccepted && msg.Subtype != entities.EventFinalized {
		return errs.New(errs.BadFormatReceived, "unknown event subtype %q", msg.Subtype)
	}
	return nil
}
