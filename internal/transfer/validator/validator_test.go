package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dscp-io/connector/internal/transfer/entities"
	"github.com/dscp-io/connector/pkg/errs"
)

func TestValidateRequest_PullFormatRejectsDataAddress(t *testing.T) {
	require.NoError(t, ValidateRequest(InboundRequest{
		AgreementID: "urn:agreement:1", Format: entities.FormatHTTPPull, CallbackAddress: "https://consumer/cb",
	}))

	err := ValidateRequest(InboundRequest{
		AgreementID: "urn:agreement:1", Format: entities.FormatHTTPPull, CallbackAddress: "https://consumer/cb",
		DataAddress: &entities.DataAddress{Endpoint: "https://sink"},
	})
	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.BadFormatReceived, e.Kind)
}

func TestValidateRequest_PushFormatRequiresDataAddress(t *testing.T) {
	err := ValidateRequest(InboundRequest{
		AgreementID: "urn:agreement:1", Format: entities.FormatHTTPPush, CallbackAddress: "https://consumer/cb",
	})
	require.Error(t, err)

	require.NoError(t, ValidateRequest(InboundRequest{
		AgreementID: "urn:agreement:1", Format: entities.FormatHTTPPush, CallbackAddress: "https://consumer/cb",
		DataAddress: &entities.DataAddress{Endpoint: "https://sink"},
	}))
}

func TestValidateRequest_MissingFields(t *testing.T) {
	require.Error(t, ValidateRequest(InboundRequest{Format: entities.FormatHTTPPull, CallbackAddress: "https://consumer/cb"}))
	require.Error(t, ValidateRequest(InboundRequest{AgreementID: "urn:agreement:1", Format: entities.FormatHTTPPull}))
	require.Error(t, ValidateRequest(InboundRequest{AgreementID: "urn:agreement:1", CallbackAddress: "https://consumer/cb", Format: "bogus"}))
}

func TestValidateAgreement(t *testing.T) {
	ref := &AgreementRef{Active: true, ProviderParticipantID: "did:provider", ConsumerParticipantID: "did:consumer"}

	require.NoError(t, ValidateAgreement(ref, true, "did:consumer"))
	require.NoError(t, ValidateAgreement(ref, false, "did:provider"))

	err := ValidateAgreement(nil, true, "did:consumer")
	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.MissingResource, e.Kind)

	err = ValidateAgreement(&AgreementRef{Active: false}, true, "did:consumer")
	require.Error(t, err)

	err = ValidateAgreement(ref, true, "did:someone-else")
	require.Error(t, err)
	e, ok = errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.Unauthorized, e.Kind)
}
