// Package orchestrator is the transactional glue of §2 for the transfer
// control-plane machine, mirroring internal/negotiation/orchestrator's
// shape: session-scoped lock, validate, decide, apply the data-plane hook,
// persist, publish, ack.
package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dscp-io/connector/internal/transfer/dataplane"
	"github.com/dscp-io/connector/internal/transfer/entities"
	"github.com/dscp-io/connector/internal/transfer/statemachine"
	"github.com/dscp-io/connector/internal/transfer/validator"
	"github.com/dscp-io/connector/pkg/errs"
	"github.com/dscp-io/connector/pkg/eventbus"
	"github.com/dscp-io/connector/pkg/mate"
	"github.com/dscp-io/connector/pkg/repository"
	"github.com/dscp-io/connector/pkg/urn"
)

// AgreementResolver is the cross-machine capability transfer holds to
// validate a TransferRequest's agreementId against the contract-
// negotiation machine's Agreement rows (§4.2's precondition). Implemented
// either as an in-process call into internal/negotiation's repository
// (single-binary deployments) or an HTTP client against the negotiation
// agent's GET /agreements/{id} route on its DSP HTTP surface (split
// deployments); both satisfy this
// interface identically, matching §9's "capability interfaces, not
// cycles" design note.
type AgreementResolver interface {
	Resolve(ctx context.Context, agreementID string) (*validator.AgreementRef, error)
}

const dspContext = "https://w3id.org/dspace/2024/1/context.json"

// PeerSender delivers a locally-initiated transfer message to the peer's
// callback address, mirroring internal/negotiation/orchestrator.PeerSender.
type PeerSender interface {
	Send(ctx context.Context, baseURL, path string, payload any) error
}

// Ack is the outbound acknowledgement DTO.
type Ack struct {
	Context     string                `json:"@context"`
	Type        entities.MessageType  `json:"@type"`
	ProviderPID string                `json:"providerPid,omitempty"`
	ConsumerPID string                `json:"consumerPid,omitempty"`
	State       entities.State        `json:"state"`
	DataAddress *entities.DataAddress `json:"dataAddress,omitempty"`
}

// InboundMessage is the transport-decoupled view of any transfer wire
// message.
type InboundMessage struct {
	Type            entities.MessageType
	ProviderPID     string
	ConsumerPID     string
	AgreementID     string
	Format          entities.Format
	DataAddress     *entities.DataAddress
	CallbackAddress string
	Outbound        bool
}

// Orchestrator coordinates the transfer control-plane machine.
type Orchestrator struct {
	Sessions *repository.Repository[entities.Session]
	Messages *repository.Repository[entities.Message]

	Mates      mate.Resolver
	Agreements AgreementResolver
	DataPlane  dataplane.Hook
	Events     *eventbus.Bus
	Peer       PeerSender

	SelfDID string
	Logger  *zap.Logger
}

// HandleRequest processes the initial inbound TransferRequestMessage,
// addressed by peer id (consumer's pid on the provider side).
func (o *Orchestrator) HandleRequest(ctx context.Context, role entities.Role, peerAddress, peerDID, consumerPID string, in InboundMessage) (*Ack, error) {
	lockKey := consumerPID
	if lockKey == "" {
		lockKey = urn.New("transfer-request").String()
	}
	unlock, err := o.Sessions.Lock(ctx, lockKey)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := validator.ValidateRequest(validator.InboundRequest{
		AgreementID: in.AgreementID, Format: in.Format, DataAddress: in.DataAddress, CallbackAddress: in.CallbackAddress,
	}); err != nil {
		return nil, err
	}

	agreement, err := o.Agreements.Resolve(ctx, in.AgreementID)
	if err != nil {
		return nil, err
	}
	if err := validator.ValidateAgreement(agreement, role == entities.RoleProvider, peerDID); err != nil {
		return nil, err
	}

	decision, err := statemachine.Decide(statemachine.Input{Role: role, HasState: false, Message: entities.MessageTransferRequest})
	if err != nil {
		return nil, err
	}

	session := &entities.Session{
		Role:        role,
		PeerAddress: peerAddress,
		AgreementID: in.AgreementID,
		Format:      in.Format,
		DataAddress: in.DataAddress,
		CreatedAt:   time.Now(),
	}
	// The consumerPid is assigned by the consumer: it is the peer id on a
	// provider's session and the local id on the consumer's own, where the
	// request is the locally-driven leg delivered to the provider.
	dir := entities.DirectionInbound
	if role == entities.RoleProvider {
		session.LocalID = urn.New("transfer").String()
		session.PeerID = consumerPID
	} else {
		session.LocalID = consumerPID
		if session.LocalID == "" {
			session.LocalID = urn.New("transfer").String()
		}
		dir = entities.DirectionOutbound
	}

	return o.commit(ctx, session, decision, in, dir)
}

// SetupStart runs the provider's REQUESTED -> STARTED leg: provisions a
// data-plane proxy and emits the resulting DataAddress.
func (o *Orchestrator) SetupStart(ctx context.Context, localID string) (*Ack, error) {
	return o.transitionByLocalID(ctx, localID, entities.MessageTransferStart, true)
}

// HandleStart is the consumer's leg: attach a data-plane proxy session to
// the DataAddress received from the provider's TransferStartMessage.
func (o *Orchestrator) HandleStart(ctx context.Context, localID string, addr *entities.DataAddress) (*Ack, error) {
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
		return nil, errs.New(errs.MissingResource, "no transfer session %s", localID)
	}
	session.DataAddress = addr

	decision, err := statemachine.Decide(statemachine.Input{Role: session.Role, State: session.State, HasState: true, Message: entities.MessageTransferStart})
	if err != nil {
		return nil, err
	}
	return o.commit(ctx, session, decision, InboundMessage{Type: entities.MessageTransferStart}, entities.DirectionInbound)
}

// SetupSuspension suspends a transfer, detaching its data-plane proxy.
func (o *Orchestrator) SetupSuspension(ctx context.Context, localID string) (*Ack, error) {
	return o.transitionByLocalID(ctx, localID, entities.MessageTransferSuspension, false)
}

// SetupCompletion finalizes and tears down a transfer.
func (o *Orchestrator) SetupCompletion(ctx context.Context, localID string) (*Ack, error) {
	return o.transitionByLocalID(ctx, localID, entities.MessageTransferCompletion, false)
}

// SetupTermination terminates a transfer from any non-terminal state.
func (o *Orchestrator) SetupTermination(ctx context.Context, localID string) (*Ack, error) {
	return o.transitionByLocalID(ctx, localID, entities.MessageTransferTermination, false)
}

func (o *Orchestrator) transitionByLocalID(ctx context.Context, localID string, msgType entities.MessageType, outbound bool) (*Ack, error) {
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
		return nil, errs.New(errs.MissingResource, "no transfer session %s", localID)
	}

	decision, err := statemachine.Decide(statemachine.Input{
		Role: session.Role, State: session.State, HasState: true, Message: msgType, Outbound: outbound,
	})
	if err != nil {
		return nil, err
	}

	dir := entities.DirectionOutbound
	return o.commit(ctx, session, decision, InboundMessage{Type: msgType, Outbound: outbound}, dir)
}

// wirePath maps a locally-initiated message onto the peer's mirrored §6
// endpoint; peerPID is the pid the session carries at the peer's side.
func wirePath(t entities.MessageType, peerPID string) string {
	switch t {
	case entities.MessageTransferRequest:
		return "/transfers/request"
	case entities.MessageTransferStart:
		return "/transfers/" + peerPID + "/start"
	case entities.MessageTransferSuspension:
		return "/transfers/" + peerPID + "/suspension"
	case entities.MessageTransferCompletion:
		return "/transfers/" + peerPID + "/completion"
	default:
		return "/transfers/" + peerPID + "/termination"
	}
}

func (o *Orchestrator) commit(ctx context.Context, session *entities.Session, decision statemachine.Decision, in InboundMessage, dir entities.Direction) (*Ack, error) {
	req := dataplane.Request{SessionID: session.LocalID, Format: session.Format, Address: session.DataAddress, AgreementID: session.AgreementID}

	var provisioned *entities.DataAddress
	switch decision.Intent {
	case dataplane.IntentProvision:
		addr, err := o.DataPlane.Provision(ctx, req)
		if err != nil {
			return nil, errs.Wrap(errs.Peer, err, "provision data plane")
		}
		provisioned = addr
		session.DataAddress = addr
	case dataplane.IntentAttach:
		if err := o.DataPlane.Attach(ctx, req); err != nil {
			return nil, errs.Wrap(errs.Peer, err, "attach data plane")
		}
	case dataplane.IntentDetach:
		if err := o.DataPlane.Detach(ctx, req); err != nil {
			return nil, errs.Wrap(errs.Peer, err, "detach data plane")
		}
	case dataplane.IntentTeardown:
		if err := o.DataPlane.Teardown(ctx, req); err != nil {
			return nil, errs.Wrap(errs.Peer, err, "tear down data plane")
		}
	}

	// A locally-driven leg is delivered to the peer after the data-plane
	// hook (its provisioned DataAddress rides along) but before the write,
	// per §7's partial-failure rule.
	if dir == entities.DirectionOutbound && o.Peer != nil && session.PeerAddress != "" {
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
		if in.AgreementID != "" {
			body["agreementId"] = in.AgreementID
		}
		if in.Format != "" {
			body["format"] = string(in.Format)
		}
		if in.CallbackAddress != "" {
			body["callbackAddress"] = in.CallbackAddress
		}
		if in.DataAddress != nil {
			body["dataAddress"] = in.DataAddress
		}
		if provisioned != nil {
			body["dataAddress"] = provisioned
		}
		if err := o.Peer.Send(ctx, session.PeerAddress, wirePath(in.Type, session.PeerID), body); err != nil {
			return nil, errs.Wrap(errs.Peer, err, "deliver %s to peer", in.Type)
		}
	}

	before := session.State
	session.State = decision.Next
	session.UpdatedAt = time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = session.UpdatedAt
	}

	msg := &entities.Message{
		ID: session.LocalID + ":" + urn.New("msg").String(), SessionID: session.LocalID, Direction: dir, Protocol: "dsp",
		Type: in.Type, StateBefore: before, StateAfter: decision.Next, CreatedAt: session.UpdatedAt,
	}
	if err := o.Messages.Create(ctx, msg); err != nil {
		return nil, err
	}
	if err := o.Sessions.Update(ctx, session); err != nil {
		return nil, err
	}

	if o.Events != nil {
		o.Events.Publish(ctx, eventbus.Notification{
			Category: "transfer", Subcategory: string(session.Role),
			MessageType: string(in.Type), Operation: string(decision.Next), Content: session,
		})
	}

	if o.Logger != nil {
		o.Logger.Sugar().Infow("transfer transition", "sessionId", session.LocalID, "role", session.Role, "from", before, "to", decision.Next, "message", in.Type)
	}

	ack := &Ack{Context: dspContext, Type: entities.MessageTransferProcessAck, State: decision.Next, DataAddress: provisioned}
	if session.Role == entities.RoleProvider {
		ack.ProviderPID = session.LocalID
		ack.ConsumerPID = session.PeerID
	} else {
		ack.ConsumerPID = session.LocalID
		ack.ProviderPID = session.PeerID
	}
	return ack, nil
}
