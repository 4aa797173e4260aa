package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dscp-io/connector/internal/negotiation/entities"
	"github.com/dscp-io/connector/pkg/errs"
)

func TestValidateRequest(t *testing.T) {
	require.NoError(t, ValidateRequest("urn:dataset:1"))

	_, errKind := errs.As(requireErr(t, ValidateRequest("")))
	assert.True(t, errKind)

	_, errKind = errs.As(requireErr(t, ValidateRequest("not-a-urn")))
	assert.True(t, errKind)
}

func TestValidateOfferCorrelation(t *testing.T) {
	known := map[string]bool{"offer-1": true}

	assert.NoError(t, ValidateOfferCorrelation(InboundMessage{}, known))
	assert.NoError(t, ValidateOfferCorrelation(InboundMessage{OfferIdentifier: "offer-1"}, known))

	err := ValidateOfferCorrelation(InboundMessage{OfferIdentifier: "offer-2"}, known)
	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.BadFormatReceived, e.Kind)
}

func TestValidateAgreementParties(t *testing.T) {
	agreement := InboundMessage{ProviderPID: "did:provider", ConsumerPID: "did:consumer"}

	require.NoError(t, ValidateAgreementParties(agreement, "did:consumer", "did:provider", true))
	require.NoError(t, ValidateAgreementParties(agreement, "did:provider", "did:consumer", false))

	err := ValidateAgreementParties(agreement, "did:consumer", "did:someone-else", true)
	require.Error(t, err)

	err = ValidateAgreementParties(agreement, "did:wrong-peer", "did:provider", true)
	require.Error(t, err)

	err = ValidateAgreementParties(InboundMessage{}, "did:consumer", "did:provider", true)
	require.Error(t, err)
}

func TestValidateRoleState(t *testing.T) {
	require.NoError(t, ValidateRoleState(InboundMessage{Type: entities.MessageContractRequest}))

	err := ValidateRoleState(InboundMessage{})
	require.Error(t, err)

	err = ValidateRoleState(InboundMessage{Type: entities.MessageContractNegotiationEvent, Subtype: "bogus"})
	require.Error(t, err)

	require.NoError(t, ValidateRoleState(InboundMessage{Type: entities.MessageContractNegotiationEvent, Subtype: entities.EventAccepted}))
}

func requireErr(t *testing.T, err error) error {
	t.Helper()
	require.Error(t, err)
	return err
}
