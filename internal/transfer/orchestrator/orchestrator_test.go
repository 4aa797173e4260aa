package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dscp-io/connector/internal/transfer/dataplane"
	"github.com/dscp-io/connector/internal/transfer/entities"
	"github.com/dscp-io/connector/internal/transfer/validator"
	"github.com/dscp-io/connector/pkg/errs"
	"github.com/dscp-io/connector/pkg/eventbus"
	"github.com/dscp-io/connector/pkg/mate"
	"github.com/dscp-io/connector/pkg/repository"
	"github.com/dscp-io/connector/pkg/repository/memory"
)

const (
	providerDID = "did:example:provider"
	consumerDID = "did:example:consumer"
)

// stubAgreementResolver is a fixed-table AgreementResolver fake, standing in
// for the cross-machine call into contract negotiation's own agreement rows
// (§4.2's precondition on TransferRequest).
type stubAgreementResolver struct {
	agreements map[string]*validator.AgreementRef
}

func (s *stubAgreementResolver) Resolve(_ context.Context, agreementID string) (*validator.AgreementRef, error) {
	ref, ok := s.agreements[agreementID]
	if !ok {
		return nil, errs.New(errs.MissingResource, "no agreement %s", agreementID)
	}
	return ref, nil
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *stubAgreementResolver) {
	t.Helper()
	store := memory.New()
	resolver := &stubAgreementResolver{agreements: map[string]*validator.AgreementRef{
		"urn:agreement:1": {Active: true, ProviderParticipantID: providerDID, ConsumerParticipantID: consumerDID},
	}}

	return &Orchestrator{
		Sessions:   repository.New[entities.Session](store, "transfer_sessions"),
		Messages:   repository.New[entities.Message](store, "transfer_messages"),
		Mates:      mate.NewRepositoryResolver(store, providerDID),
		Agreements: resolver,
		DataPlane:  dataplane.NewStubHook(),
		Events:     eventbus.New(zap.NewNop()),
		SelfDID:    providerDID,
		Logger:     zap.NewNop(),
	}, resolver
}

// TestTransferPullHappyPath walks scenario 3 of §8: a provider receives a
// pull TransferRequest, replies REQUESTED, then SetupStart provisions a
// DataAddress and moves to STARTED.
func TestTransferPullHappyPath(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t)

	ack, err := o.HandleRequest(ctx, entities.RoleProvider, "http://c/cb", consumerDID, "urn:tp:1", InboundMessage{
		Type: entities.MessageTransferRequest, AgreementID: "urn:agreement:1",
		Format: entities.FormatHTTPPull, CallbackAddress: "http://c/cb",
	})
	require.NoError(t, err)
	assert.Equal(t, entities.StateRequested, ack.State)

	sessions, err := o.Sessions.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	localID := sessions[0].LocalID

	ack, err = o.SetupStart(ctx, localID)
	require.NoError(t, err)
	assert.Equal(t, entities.StateStarted, ack.State)
	require.NotNil(t, ack.DataAddress)
	assert.NotEmpty(t, ack.DataAddress.Endpoint)
}

// TestTransferPushMissingDataAddress covers scenario 4 of §8: a push format
// request without a dataAddress is rejected before any session is created.
func TestTransferPushMissingDataAddress(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t)

	_, err := o.HandleRequest(ctx, entities.RoleProvider, "http://c/cb", consumerDID, "urn:tp:2", InboundMessage{
		Type: entities.MessageTransferRequest, AgreementID: "urn:agreement:1",
		Format: entities.FormatHTTPPush, CallbackAddress: "http://c/cb",
	})
	assert.Error(t, err)
	assert.Equal(t, errs.BadFormatReceived, errs.KindOf(err))

	sessions, err := o.Sessions.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions, "a rejected request must not create a session")
}

// TestTransferRequestRequiresActiveAgreement covers §4.2's precondition:
// the referenced agreement must resolve and be active for the authenticated
// peer.
func TestTransferRequestRequiresActiveAgreement(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t)

	_, err := o.HandleRequest(ctx, entities.RoleProvider, "http://c/cb", consumerDID, "urn:tp:3", InboundMessage{
		Type: entities.MessageTransferRequest, AgreementID: "urn:agreement:missing",
		Format: entities.FormatHTTPPull, CallbackAddress: "http://c/cb",
	})
	assert.Error(t, err)
}

// TestTransferTerminationTearsDownDataPlane covers the §4.2 transition table
// row "* / any non-terminal / Termination -> TERMINATED, teardown".
func TestTransferTerminationTearsDownDataPlane(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t)

	_, err := o.HandleRequest(ctx, entities.RoleProvider, "http://c/cb", consumerDID, "urn:tp:4", InboundMessage{
		Type: entities.MessageTransferRequest, AgreementID: "urn:agreement:1",
		Format: entities.FormatHTTPPull, CallbackAddress: "http://c/cb",
	})
	require.NoError(t, err)
	sessions, err := o.Sessions.GetAll(ctx)
	require.NoError(t, err)
	localID := sessions[0].LocalID

	ack, err := o.SetupTermination(ctx, localID)
	require.NoError(t, err)
	assert.Equal(t, entities.StateTerminated, ack.State)

	_, err = o.SetupStart(ctx, localID)
	assert.Error(t, err, "no further transitions are admissible once terminated")
}
