// Package orchestrator is the transactional glue of §2's "persistence/
// orchestrator" layer for contract negotiation: fetch session, run
// validator, run state machine, write new state + message record, return
// ack DTO, publish an event. Grounded on pkg/node/node.go's Node struct —
// dependencies held by value, a session-scoped lock acquired before any
// mutation (§5) — generalized from the teacher's in-process session map to
// a repository-backed session store shared across replicas.
package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/dscp-io/connector/internal/negotiation/entities"
	"github.com/dscp-io/connector/internal/negotiation/statemachine"
	"github.com/dscp-io/connector/internal/negotiation/validator"
	"github.com/dscp-io/connector/pkg/catalog"
	"github.com/dscp-io/connector/pkg/errs"
	"github.com/dscp-io/connector/pkg/eventbus"
	"github.com/dscp-io/connector/pkg/mate"
	"github.com/dscp-io/connector/pkg/repository"
	"github.com/dscp-io/connector/pkg/urn"
	"github.com/dscp-io/connector/pkg/wallet"
)

// PeerSender delivers an outbound protocol message to a mate's callback
// address, the outbound half of every transition the local side drives.
// The HTTP production implementation is httpPeerSender in
// cmd/negotiation-agent; tests use a no-op or recording fake.
type PeerSender interface {
	Send(ctx context.Context, baseURL, path string, payload any) error
}

// Ack is the outbound acknowledgement DTO returned to both the transport
// adapter and (when applicable) the peer.
type Ack struct {
	Context     string               `json:"@context"`
	Type        entities.MessageType `json:"@type"`
	ProviderPID string               `json:"providerPid,omitempty"`
	ConsumerPID string               `json:"consumerPid,omitempty"`
	State       entities.State       `json:"state"`
}

const dspContext = "https://w3id.org/dspace/2024/1/context.json"

// InboundMessage is the transport-decoupled view of any CN wire message.
type InboundMessage struct {
	Type            entities.MessageType
	Subtype         entities.EventSubtype
	ProviderPID     string
	ConsumerPID     string
	OfferIdentifier string
	Target          string
	Content         map[string]any
	Outbound        bool
}

// Orchestrator coordinates the contract-negotiation machine for one node.
type Orchestrator struct {
	Sessions   *repository.Repository[entities.Session]
	Messages   *repository.Repository[entities.Message]
	Offers     *repository.Repository[entities.Offer]
	Agreements *repository.Repository[entities.Agreement]

	Mates   mate.Resolver
	Catalog catalog.Facade
	Wallet  wallet.Facade
	Events  *eventbus.Bus
	Peer    PeerSender

	SelfDID string
	Logger  *zap.Logger
}

// HandleInbound processes a wire message from a peer, addressed by the
// peer's own PID (the canonical lookup key for peer-facing endpoints per
// DESIGN.md's Open Question decision #2). When no session exists yet
// (ContractRequestMessage to a provider, ContractOfferMessage to a
// consumer) a new session is created.
func (o *Orchestrator) HandleInbound(ctx context.Context, role entities.Role, peerAddress string, in InboundMessage) (*Ack, error) {
	lockKey := peerPID(role, in)
	if lockKey == "" {
		lockKey = urn.New("cn-request").String()
	}

	unlock, err := o.Sessions.Lock(ctx, lockKey)
	if err != nil {
		return nil, err
	}
	defer unlock()

	session, found, err := o.lookupByRole(ctx, role, in)
	if err != nil {
		return nil, err
	}

	if found {
		if ack, replayed, err := o.idempotentReplay(ctx, session, in); err != nil || replayed {
			return ack, err
		}
	}

	if err := o.validateInbound(role, session, in); err != nil {
		return nil, err
	}

	decision, err := statemachine.Decide(statemachine.Input{
		Role:     role,
		State:    currentState(session),
		HasState: found,
		Message:  in.Type,
		Subtype:  in.Subtype,
		Outbound: in.Outbound,
	})
	if err != nil {
		return nil, err
	}

	if !found {
		session = &entities.Session{
			LocalID:     urn.New("cn").String(),
			Role:        role,
			PeerAddress: peerAddress,
			CreatedAt:   time.Now(),
		}
		if role == entities.RoleProvider {
			session.PeerID = in.ConsumerPID
		} else {
			session.PeerID = in.ProviderPID
		}
	}

	if err := o.applySideEffect(ctx, decision.SideEffect, session, in); err != nil {
		return nil, err
	}

	return o.commit(ctx, session, decision.Next, in, entities.DirectionInbound)
}

// Setup* methods are the operator-facing RPC entry points of §6, each
// driving the local, "(out)" leg of a transition. All are looked up by
// localId, the canonical key for operator-facing endpoints.

// SetupOffer resolves the named offer via the catalog facade and stores it
// as the session's last offer. On a session that does not exist yet it
// only records the provider's REQUESTED bootstrap locally, without
// contacting the peer; on an existing session it runs the provider's
// outbound ContractOfferMessage leg and sends that message to the peer.
func (o *Orchestrator) SetupOffer(ctx context.Context, localID, consumerParticipantID, peerAddress, offerID string) (*Ack, error) {
	unlock, err := o.Sessions.Lock(ctx, localID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	session, found, err := o.Sessions.GetByID(ctx, localID)
	if err != nil {
		return nil, err
	}
	if !found {
		session = &entities.Session{
			LocalID:     localID,
			Role:        entities.RoleProvider,
			PeerAddress: peerAddress,
			PeerID:      consumerParticipantID,
			CreatedAt:   time.Now(),
		}
		if _, err := o.applyResolveOffer(ctx, session, offerID); err != nil {
			return nil, err
		}
		return o.commit(ctx, session, entities.StateRequested, InboundMessage{Type: entities.MessageContractRequest}, entities.DirectionOutbound)
	}

	decision, err := statemachine.Decide(statemachine.Input{
		Role: entities.RoleProvider, State: session.State, HasState: true,
		Message: entities.MessageContractOffer, Outbound: true,
	})
	if err != nil {
		return nil, err
	}
	offer, err := o.applyResolveOffer(ctx, session, offerID)
	if err != nil {
		return nil, err
	}
	in := InboundMessage{Type: entities.MessageContractOffer, OfferIdentifier: offer.OfferIdentifier, Outbound: true}
	return o.commit(ctx, session, decision.Next, in, entities.DirectionOutbound)
}

// SetupAgreement runs the provider's ACCEPTED -> AGREED leg: materializes
// and signs the agreement via the wallet facade.
func (o *Orchestrator) SetupAgreement(ctx context.Context, localID string) (*Ack, error) {
	unlock, err := o.Sessions.Lock(ctx, localID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	session, found, err := o.mustFind(ctx, localID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errs.New(errs.MissingResource, "no negotiation session %s", localID)
	}

	decision, err := statemachine.Decide(statemachine.Input{
		Role: entities.RoleProvider, State: session.State, HasState: true,
		Message: entities.MessageContractAgreement, Outbound: true,
	})
	if err != nil {
		return nil, err
	}
	in := InboundMessage{Type: entities.MessageContractAgreement, Outbound: true, ProviderPID: o.SelfDID, ConsumerPID: session.PeerID}
	if err := o.applySideEffect(ctx, decision.SideEffect, session, in); err != nil {
		return nil, err
	}
	return o.commit(ctx, session, decision.Next, in, entities.DirectionOutbound)
}

// SetupAcceptance runs the consumer's OFFERED -> ACCEPTED leg, notifying
// the provider with an accepted ContractNegotiationEventMessage.
func (o *Orchestrator) SetupAcceptance(ctx context.Context, localID string) (*Ack, error) {
	unlock, err := o.Sessions.Lock(ctx, localID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	session, found, err := o.mustFind(ctx, localID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errs.New(errs.MissingResource, "no negotiation session %s", localID)
	}
	decision, err := statemachine.Decide(statemachine.Input{
		Role: entities.RoleConsumer, State: session.State, HasState: true,
		Message: entities.MessageContractNegotiationEvent, Subtype: entities.EventAccepted, Outbound: true,
	})
	if err != nil {
		return nil, err
	}
	in := InboundMessage{Type: entities.MessageContractNegotiationEvent, Subtype: entities.EventAccepted, Outbound: true}
	return o.commit(ctx, session, decision.Next, in, entities.DirectionOutbound)
}

// SetupVerification runs the consumer's AGREED -> VERIFIED leg.
func (o *Orchestrator) SetupVerification(ctx context.Context, localID string) (*Ack, error) {
	unlock, err := o.Sessions.Lock(ctx, localID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	session, found, err := o.mustFind(ctx, localID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errs.New(errs.MissingResource, "no negotiation session %s", localID)
	}
	decision, err := statemachine.Decide(statemachine.Input{
		Role: entities.RoleConsumer, State: session.State, HasState: true,
		Message: entities.MessageContractAgreementVerification, Outbound: true,
	})
	if err != nil {
		return nil, err
	}
	in := InboundMessage{Type: entities.MessageContractAgreementVerification, Outbound: true}
	return o.commit(ctx, session, decision.Next, in, entities.DirectionOutbound)
}

// SetupFinalization runs the provider's VERIFIED -> FINALIZED leg,
// activating the negotiated agreement.
func (o *Orchestrator) SetupFinalization(ctx context.Context, localID string) (*Ack, error) {
	unlock, err := o.Sessions.Lock(ctx, localID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	session, found, err := o.mustFind(ctx, localID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errs.New(errs.MissingResource, "no negotiation session %s", localID)
	}
	decision, err := statemachine.Decide(statemachine.Input{
		Role: entities.RoleProvider, State: session.State, HasState: true,
		Message: entities.MessageContractNegotiationEvent, Subtype: entities.EventFinalized, Outbound: true,
	})
	if err != nil {
		return nil, err
	}
	in := InboundMessage{Type: entities.MessageContractNegotiationEvent, Subtype: entities.EventFinalized, Outbound: true}
	if err := o.applySideEffect(ctx, decision.SideEffect, session, in); err != nil {
		return nil, err
	}
	return o.commit(ctx, session, decision.Next, in, entities.DirectionOutbound)
}

// SetupTermination terminates a session from either role, at any
// non-terminal state.
func (o *Orchestrator) SetupTermination(ctx context.Context, localID string) (*Ack, error) {
	unlock, err := o.Sessions.Lock(ctx, localID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	session, found, err := o.mustFind(ctx, localID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errs.New(errs.MissingResource, "no negotiation session %s", localID)
	}
	decision, err := statemachine.Decide(statemachine.Input{
		Role: session.Role, State: session.State, HasState: true,
		Message: entities.MessageContractNegotiationTermination,
	})
	if err != nil {
		return nil, err
	}
	in := InboundMessage{Type: entities.MessageContractNegotiationTermination}
	if err := o.applySideEffect(ctx, decision.SideEffect, session, in); err != nil {
		return nil, err
	}
	return o.commit(ctx, session, decision.Next, in, entities.DirectionOutbound)
}

func (o *Orchestrator) mustFind(ctx context.Context, localID string) (*entities.Session, bool, error) {
	return o.Sessions.GetByID(ctx, localID)
}

// peerPID returns the pid assigned by the peer — the consumer's pid when
// this node is the provider, the provider's when it is the consumer. This
// is the canonical lookup key for every peer-facing endpoint.
func peerPID(role entities.Role, in InboundMessage) string {
	if role == entities.RoleProvider {
		return in.ConsumerPID
	}
	return in.ProviderPID
}

func (o *Orchestrator) lookupByRole(ctx context.Context, role entities.Role, in InboundMessage) (*entities.Session, bool, error) {
	pid := peerPID(role, in)
	if pid != "" {
		all, err := o.Sessions.GetAll(ctx)
		if err != nil {
			return nil, false, err
		}
		for _, s := range all {
			if s.PeerID == pid {
				return s, true, nil
			}
		}
	}

	// Sessions seeded by the local operator carry the peer's participant
	// DID, not its session pid — that arrives with the peer's first
	// message (§3). Fall back to this node's own pid, which the peer
	// echoes in the path and body of every continuation message.
	ownPID := in.ProviderPID
	if role == entities.RoleConsumer {
		ownPID = in.ConsumerPID
	}
	if ownPID == "" {
		return nil, false, nil
	}
	return o.Sessions.GetByID(ctx, ownPID)
}

func currentState(s *entities.Session) entities.State {
	if s == nil {
		return ""
	}
	return s.State
}

// idempotentReplay implements §4.1's idempotency contract: a duplicate
// inbound message with the same (sessionId, peerId, type, subtype) whose
// transition the session already sits on returns the cached ack with no
// new side effects or message row. The StateAfter check keeps repeatable
// message types (a counter-request after an offer is a fresh Request, not
// a replay of the initial one) flowing through the state machine.
func (o *Orchestrator) idempotentReplay(ctx context.Context, session *entities.Session, in InboundMessage) (*Ack, bool, error) {
	msgs, err := o.Messages.GetByPrefix(ctx, session.LocalID+":")
	if err != nil {
		return nil, false, err
	}
	for _, m := range msgs {
		if m.Direction == entities.DirectionInbound && m.Type == in.Type && m.Subtype == in.Subtype && m.StateAfter == session.State {
			return o.buildAck(session, m.StateAfter), true, nil
		}
	}
	return nil, false, nil
}

func (o *Orchestrator) validateInbound(role entities.Role, session *entities.Session, in InboundMessage) error {
	vin := validator.InboundMessage{
		Type: in.Type, Subtype: in.Subtype, OfferIdentifier: in.OfferIdentifier,
		ProviderPID: in.ProviderPID, ConsumerPID: in.ConsumerPID, Content: in.Content,
	}
	if err := validator.ValidateRoleState(vin); err != nil {
		return err
	}
	if in.Type == entities.MessageContractRequest && in.Target != "" {
		if err := validator.ValidateRequest(in.Target); err != nil {
			return err
		}
	}
	if session != nil && in.OfferIdentifier != "" {
		known := map[string]bool{}
		if session.LastOfferID != "" {
			known[session.LastOfferID] = true
		}
		if err := validator.ValidateOfferCorrelation(vin, known); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) applyResolveOffer(ctx context.Context, session *entities.Session, offerID string) (*entities.Offer, error) {
	odrl, err := o.Catalog.ResolveOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	offer := &entities.Offer{
		ID:              urn.New("offer").String(),
		SessionID:       session.LocalID,
		OfferIdentifier: offerID,
		Content: map[string]any{
			"target":     odrl.Target,
			"permission": odrl.Permission,
		},
	}
	if err := o.Offers.Create(ctx, offer); err != nil {
		return nil, err
	}
	session.LastOfferID = offer.OfferIdentifier
	return offer, nil
}

func (o *Orchestrator) applySideEffect(ctx context.Context, se statemachine.SideEffect, session *entities.Session, in InboundMessage) error {
	switch se {
	case statemachine.SideEffectNone:
		return nil
	case statemachine.SideEffectResolveOffer:
		_, err := o.applyResolveOffer(ctx, session, in.OfferIdentifier)
		return err
	case statemachine.SideEffectStoreOffer:
		return o.storeInboundOffer(ctx, session, in)
	case statemachine.SideEffectMaterializeAgreement:
		return o.materializeAgreement(ctx, session)
	case statemachine.SideEffectPersistAgreementActive:
		return o.setAgreementActive(ctx, session, true)
	case statemachine.SideEffectDeactivateAgreement:
		if session.AgreementID == "" {
			return nil
		}
		return o.setAgreementActive(ctx, session, false)
	}
	return errs.New(errs.Parse, "unknown side effect %q", se)
}

// storeInboundOffer records an offer received from the peer as the
// session's last offer, so later counter-offers and agreements can be
// correlated against it (§4.1's offer correlation rule).
func (o *Orchestrator) storeInboundOffer(ctx context.Context, session *entities.Session, in InboundMessage) error {
	if in.OfferIdentifier == "" {
		return nil
	}
	offer := &entities.Offer{
		ID:              urn.New("offer").String(),
		SessionID:       session.LocalID,
		OfferIdentifier: in.OfferIdentifier,
		Content:         in.Content,
	}
	if err := o.Offers.Create(ctx, offer); err != nil {
		return err
	}
	session.LastOfferID = offer.OfferIdentifier
	return nil
}

func (o *Orchestrator) materializeAgreement(ctx context.Context, session *entities.Session) error {
	content := map[string]any{
		"target": session.LastOfferID,
	}
	consumerPID, providerPID := session.PeerID, o.SelfDID
	agreement := &entities.Agreement{
		ID:                    session.LocalID + ":" + urn.New("agreement").String(),
		SessionID:             session.LocalID,
		ConsumerParticipantID: consumerPID,
		ProviderParticipantID: providerPID,
		Content:               content,
		CreatedAt:             time.Now(),
	}

	// §3: an agreement is exactly zero-or-one per session and its creation
	// is terminal, so any pre-existing row (active or not) is a conflict —
	// the state machine's ACCEPTED -> AGREED transition already prevents a
	// second legitimate call, this guards the invariant
	// directly for callers that bypass it.
	existing, err := o.Agreements.GetByPrefix(ctx, session.LocalID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return errs.New(errs.BadFormatReceived, "session %s already has an agreement", session.LocalID)
	}

	raw, err := json.Marshal(content)
	if err != nil {
		return errs.Wrap(errs.Parse, err, "marshal agreement content")
	}
	sig, err := o.Wallet.SignAgreement(ctx, raw)
	if err != nil {
		return err
	}
	agreement.Signature = sig

	if err := o.Agreements.Create(ctx, agreement); err != nil {
		return err
	}
	session.AgreementID = agreement.ID
	return nil
}

func (o *Orchestrator) setAgreementActive(ctx context.Context, session *entities.Session, active bool) error {
	if session.AgreementID == "" {
		return nil
	}
	agreement, found, err := o.Agreements.GetByID(ctx, session.AgreementID)
	if err != nil {
		return err
	}
	if !found {
		return errs.New(errs.MissingResource, "agreement %s not found", session.AgreementID)
	}
	agreement.Active = active
	return o.Agreements.Update(ctx, agreement)
}

// wirePath maps a locally-initiated message onto the peer's mirrored §6
// endpoint; peerPID is the pid the session carries at the peer's side.
func wirePath(t entities.MessageType, peerPID string) string {
	switch t {
	case entities.MessageContractRequest:
		return "/negotiations/request"
	case entities.MessageContractOffer:
		return "/negotiations/" + peerPID + "/offers"
	case entities.MessageContractAgreement:
		return "/negotiations/" + peerPID + "/agreement"
	case entities.MessageContractAgreementVerification:
		return "/negotiations/" + peerPID + "/agreement/verification"
	case entities.MessageContractNegotiationEvent:
		return "/negotiations/" + peerPID + "/events"
	default:
		return "/negotiations/" + peerPID + "/termination"
	}
}

func (o *Orchestrator) wireBody(session *entities.Session, in InboundMessage) map[string]any {
	body := map[string]any{
		"@context": dspContext,
		"@type":    string(in.Type),
	}
	if session.Role == entities.RoleProvider {
		body["providerPid"] = session.LocalID
		body["consumerPid"] = session.PeerID
	} else {
		body["consumerPid"] = session.LocalID
		body["providerPid"] = session.PeerID
	}
	if in.Subtype != "" {
		body["eventType"] = string(in.Subtype)
	}
	if in.OfferIdentifier != "" {
		body["offerId"] = in.OfferIdentifier
	}
	return body
}

func (o *Orchestrator) commit(ctx context.Context, session *entities.Session, next entities.State, in InboundMessage, dir entities.Direction) (*Ack, error) {
	// A locally-driven leg is delivered to the peer before the write, per
	// §7's partial-failure rule: a failed delivery leaves state untouched.
	// The provider's REQUESTED bootstrap (SetupOffer on a fresh session) is
	// local bookkeeping only — the offer that follows is the first message
	// the consumer sees, so no Request ever travels provider-to-consumer.
	deliverable := !(session.Role == entities.RoleProvider && in.Type == entities.MessageContractRequest)
	if dir == entities.DirectionOutbound && deliverable && o.Peer != nil && session.PeerAddress != "" {
		if err := o.Peer.Send(ctx, session.PeerAddress, wirePath(in.Type, session.PeerID), o.wireBody(session, in)); err != nil {
			return nil, errs.Wrap(errs.Peer, err, "deliver %s to peer", in.Type)
		}
	}

	before := session.State
	session.State = next
	session.UpdatedAt = time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = session.UpdatedAt
	}

	msg := &entities.Message{
		ID:          session.LocalID + ":" + urn.New("msg").String(),
		SessionID:   session.LocalID,
		Direction:   dir,
		Protocol:    "dsp",
		Type:        in.Type,
		Subtype:     in.Subtype,
		StateBefore: before,
		StateAfter:  next,
		CreatedAt:   session.UpdatedAt,
	}

	if err := o.Messages.Create(ctx, msg); err != nil {
		return nil, err
	}
	if err := o.Sessions.Update(ctx, session); err != nil {
		return nil, err
	}

	if o.Events != nil {
		o.Events.Publish(ctx, eventbus.Notification{
			Category:    "negotiation",
			Subcategory: string(session.Role),
			MessageType: string(in.Type),
			Operation:   string(next),
			Content:     session,
		})
	}

	ack := o.buildAck(session, next)
	if o.Logger != nil {
		o.Logger.Sugar().Infow("negotiation transition", "sessionId", session.LocalID, "role", session.Role, "from", before, "to", next, "message", in.Type)
	}
	return ack, nil
}

func (o *Orchestrator) buildAck(session *entities.Session, state entities.State) *Ack {
	ack := &Ack{Context: dspContext, Type: entities.MessageContractNegotiationAck, State: state}
	if session.Role == entities.RoleProvider {
		ack.ProviderPID = session.LocalID
		ack.ConsumerPID = session.PeerID
	} else {
		ack.ConsumerPID = session.LocalID
		ack.ProviderPID = session.PeerID
	}
	return ack
}
