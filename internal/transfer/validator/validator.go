// Package validator holds the pure admissibility checks run before the
// transfer control-plane state machine, mirroring
// internal/negotiation/validator's shape: required-field and format checks,
// then cross-field correlation, never mixed with persistence or side
// effects.
package validator

import (
	"github.com/dscp-io/connector/internal/transfer/entities"
	"github.com/dscp-io/connector/pkg/errs"
)

// AgreementRef is the validator's view of the negotiation-side agreement a
// TransferRequest references, decoupled from internal/negotiation's wire
// shape.
type AgreementRef struct {
	Active                bool
	ProviderParticipantID string
	ConsumerParticipantID string
}

// InboundRequest is the validator's view of a TransferRequestMessage.
type InboundRequest struct {
	AgreementID     string
	Format          entities.Format
	DataAddress     *entities.DataAddress
	CallbackAddress string
}

// ValidateRequest checks the §4.2 preconditions on TransferRequest: an
// agreement id, a recognized format, and the DataAddress contract (push
// formats require a sink address; pull formats must not carry one).
func ValidateRequest(req InboundRequest) error {
	if req.AgreementID == "" {
		return errs.New(errs.BadFormatReceived, "transfer request requires an agreementId")
	}
	if req.CallbackAddress == "" {
		return errs.New(errs.BadFormatReceived, "transfer request requires a callbackAddress")
	}
	switch req.Format {
	case entities.FormatHTTPPull, entities.FormatHTTPPush, entities.FormatNGSILDPush:
	default:
		return errs.New(errs.BadFormatReceived, "unrecognized transfer format %q", req.Format)
	}

	if req.Format.IsPush() && req.DataAddress == nil {
		return errs.New(errs.BadFormatReceived, "push format %q requires a dataAddress", req.Format)
	}
	if !req.Format.IsPush() && req.DataAddress != nil {
		return errs.New(errs.BadFormatReceived, "pull format %q must not carry a dataAddress", req.Format)
	}
	return nil
}

// ValidateAgreement checks that the referenced agreement is active and
// that its associated peer is the authenticated caller, per §4.2's
// "Preconditions on TransferRequest".
func ValidateAgreement(agreement *AgreementRef, isProvider bool, authenticatedPeerDID string) error {
	if agreement == nil {
		return errs.New(errs.MissingResource, "referenced agreement not found")
	}
	if !agreement.Active {
		return errs.New(errs.BadFormatReceived, "referenced agreement is not active")
	}
	peerDID := agreement.ProviderParticipantID
	if isProvider {
		peerDID = agreement.ConsumerParticipantID
	}
	if peerDID != authenticatedPeerDID {
		return errs.New(errs.Unauthorized, "agreement peer %q does not match authenticated caller %q", peerDID, authenticatedPeerDID)
	}
	return nil
}
