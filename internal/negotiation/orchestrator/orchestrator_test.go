package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dscp-io/connector/internal/negotiation/entities"
	"github.com/dscp-io/connector/pkg/catalog"
	"github.com/dscp-io/connector/pkg/eventbus"
	"github.com/dscp-io/connector/pkg/mate"
	"github.com/dscp-io/connector/pkg/repository"
	"github.com/dscp-io/connector/pkg/repository/memory"
	"github.com/dscp-io/connector/pkg/wallet"
)

const (
	providerDID = "did:example:provider"
	consumerDID = "did:example:consumer"
)

func newTestOrchestrator(t *testing.T, selfDID string) (*Orchestrator, *catalog.StubFacade) {
	t.Helper()
	store := memory.New()
	cat := catalog.NewStubFacade()
	cat.AddOffer(&catalog.Offer{OfferID: "offer-1", Target: "urn:dataset:1", Permission: []catalog.PolicyRule{{Action: "use"}}})

	signer, err := wallet.NewEd25519Signer()
	require.NoError(t, err)
	w := wallet.NewWallet(selfDID, signer, nil)

	return &Orchestrator{
		Sessions:   repository.New[entities.Session](store, "negotiation_sessions"),
		Messages:   repository.New[entities.Message](store, "negotiation_messages"),
		Offers:     repository.New[entities.Offer](store, "negotiation_offers"),
		Agreements: repository.New[entities.Agreement](store, "negotiation_agreements"),
		Mates:      mate.NewRepositoryResolver(store, selfDID),
		Catalog:    cat,
		Wallet:     w,
		Events:     eventbus.New(zap.NewNop()),
		SelfDID:    selfDID,
		Logger:     zap.NewNop(),
	}, cat
}

// TestHappyPathProviderInitiated walks scenario 1 of §8: provider setup-offer,
// consumer accepted event, provider setup-agreement, consumer verification,
// provider setup-finalization, agreement row left active.
func TestHappyPathProviderInitiated(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t, providerDID)

	ack, err := o.SetupOffer(ctx, "urn:cn:1", "urn:did:example:C", "http://consumer/callback", "offer-1")
	require.NoError(t, err)
	assert.Equal(t, entities.StateRequested, ack.State)

	session, found, err := o.Sessions.GetByID(ctx, "urn:cn:1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, entities.RoleProvider, session.Role)
	assert.NotEmpty(t, session.LastOfferID)

	ack, err = o.HandleInbound(ctx, entities.RoleProvider, session.PeerAddress, InboundMessage{
		Type: entities.MessageContractNegotiationEvent, Subtype: entities.EventAccepted,
		ProviderPID: "urn:cn:1", ConsumerPID: "urn:did:example:C",
	})
	require.NoError(t, err)
	assert.Equal(t, entities.StateAccepted, ack.State)

	ack, err = o.SetupAgreement(ctx, "urn:cn:1")
	require.NoError(t, err)
	assert.Equal(t, entities.StateAgreed, ack.State)

	session, _, err = o.Sessions.GetByID(ctx, "urn:cn:1")
	require.NoError(t, err)
	require.NotEmpty(t, session.AgreementID)
	agreement, found, err := o.Agreements.GetByID(ctx, session.AgreementID)
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, agreement.Active)

	ack, err = o.SetupVerification(ctx, "urn:cn:1")
	require.NoError(t, err)
	assert.Equal(t, entities.StateVerified, ack.State)

	ack, err = o.SetupFinalization(ctx, "urn:cn:1")
	require.NoError(t, err)
	assert.Equal(t, entities.StateFinalized, ack.State)

	agreement, found, err = o.Agreements.GetByID(ctx, session.AgreementID)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, agreement.Active, "agreement must be active once negotiation is finalized")
}

// TestHappyPathConsumerSide walks the same negotiation from the consumer's
// seat: inbound offer, setup-acceptance, inbound agreement, verification,
// inbound finalization event.
func TestHappyPathConsumerSide(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t, consumerDID)

	ack, err := o.HandleInbound(ctx, entities.RoleConsumer, "http://provider/callback", InboundMessage{
		Type: entities.MessageContractOffer, ProviderPID: "urn:cn:P1",
		OfferIdentifier: "offer-1", Content: map[string]any{"target": "urn:dataset:1"},
	})
	require.NoError(t, err)
	assert.Equal(t, entities.StateOffered, ack.State)

	sessions, err := o.Sessions.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	localID := sessions[0].LocalID
	assert.Equal(t, "urn:cn:P1", sessions[0].PeerID)
	assert.Equal(t, "offer-1", sessions[0].LastOfferID)

	ack, err = o.SetupAcceptance(ctx, localID)
	require.NoError(t, err)
	assert.Equal(t, entities.StateAccepted, ack.State)

	ack, err = o.HandleInbound(ctx, entities.RoleConsumer, "http://provider/callback", InboundMessage{
		Type: entities.MessageContractAgreement, ProviderPID: "urn:cn:P1", OfferIdentifier: "offer-1",
	})
	require.NoError(t, err)
	assert.Equal(t, entities.StateAgreed, ack.State)

	ack, err = o.SetupVerification(ctx, localID)
	require.NoError(t, err)
	assert.Equal(t, entities.StateVerified, ack.State)

	ack, err = o.HandleInbound(ctx, entities.RoleConsumer, "http://provider/callback", InboundMessage{
		Type: entities.MessageContractNegotiationEvent, Subtype: entities.EventFinalized, ProviderPID: "urn:cn:P1",
	})
	require.NoError(t, err)
	assert.Equal(t, entities.StateFinalized, ack.State)
}

// TestTerminationFromRequested walks scenario 2 of §8: termination from
// REQUESTED leaves no active agreement and a TERMINATED ack.
func TestTerminationFromRequested(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t, providerDID)

	_, err := o.SetupOffer(ctx, "urn:cn:2", "urn:did:example:C", "http://consumer/callback", "offer-1")
	require.NoError(t, err)

	ack, err := o.SetupTermination(ctx, "urn:cn:2")
	require.NoError(t, err)
	assert.Equal(t, entities.StateTerminated, ack.State)

	session, found, err := o.Sessions.GetByID(ctx, "urn:cn:2")
	require.NoError(t, err)
	require.True(t, found)
	assert.Empty(t, session.AgreementID)
}

// TestTerminalStateRejectsFurtherMessages covers §8's role-admissibility
// universal property for a session already in a terminal state.
func TestTerminalStateRejectsFurtherMessages(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t, providerDID)

	_, err := o.SetupOffer(ctx, "urn:cn:3", "urn:did:example:C", "http://consumer/callback", "offer-1")
	require.NoError(t, err)
	_, err = o.SetupTermination(ctx, "urn:cn:3")
	require.NoError(t, err)

	_, err = o.SetupTermination(ctx, "urn:cn:3")
	assert.Error(t, err)
}

// TestIdempotentReplay covers the idempotency universal property of §8: a
// duplicate inbound message whose transition is already applied returns the
// cached ack and appends no new message row.
func TestIdempotentReplay(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t, providerDID)

	_, err := o.SetupOffer(ctx, "urn:cn:4", "urn:did:example:C", "http://consumer/callback", "offer-1")
	require.NoError(t, err)

	in := InboundMessage{
		Type: entities.MessageContractNegotiationEvent, Subtype: entities.EventAccepted,
		ProviderPID: "urn:cn:4", ConsumerPID: "urn:did:example:C",
	}
	first, err := o.HandleInbound(ctx, entities.RoleProvider, "http://consumer/callback", in)
	require.NoError(t, err)

	before, err := o.Messages.GetAll(ctx)
	require.NoError(t, err)

	second, err := o.HandleInbound(ctx, entities.RoleProvider, "http://consumer/callback", in)
	require.NoError(t, err)
	assert.Equal(t, first.State, second.State)

	after, err := o.Messages.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, after, len(before), "replaying an already-applied message must not create a new message row")
}

// TestSecondAgreementRejected covers §8's agreement-uniqueness property.
func TestSecondAgreementRejected(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t, providerDID)

	_, err := o.SetupOffer(ctx, "urn:cn:5", "urn:did:example:C", "http://consumer/callback", "offer-1")
	require.NoError(t, err)
	_, err = o.HandleInbound(ctx, entities.RoleProvider, "http://consumer/callback", InboundMessage{
		Type: entities.MessageContractNegotiationEvent, Subtype: entities.EventAccepted,
		ProviderPID: "urn:cn:5", ConsumerPID: "urn:did:example:C",
	})
	require.NoError(t, err)
	_, err = o.SetupAgreement(ctx, "urn:cn:5")
	require.NoError(t, err)

	session, _, err := o.Sessions.GetByID(ctx, "urn:cn:5")
	require.NoError(t, err)
	err = o.materializeAgreement(ctx, session)
	assert.Error(t, err, "creating a second active agreement for the same session must fail")
}
