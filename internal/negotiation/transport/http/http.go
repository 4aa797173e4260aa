// Package http is the DSP wire-protocol HTTP surface for contract
// negotiation (§6): POST /negotiations/request and the per-pid
// continuation endpoints. Grounded on pkg/node/server.go's header-comment
// style (the wire protocol documented above the struct) and
// pkg/node/handlers.go's manual decode -> validate -> dispatch -> encode
// shape, using the stdlib http.ServeMux method+wildcard patterns in place
// of the teacher's flat path table since this protocol needs path
// parameters the teacher's endpoints never did.
package http

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/dscp-io/connector/internal/negotiation/entities"
	"github.com/dscp-io/connector/internal/negotiation/orchestrator"
	"github.com/dscp-io/connector/pkg/errs"
)

// Handler mounts the DSP negotiation endpoints. Every handler authenticates
// the caller via the "Authorization: GNAP <token>" scheme (§6) before
// reaching the orchestrator; token verification itself is delegated to the
// SSI auth machine's issued-token registry, injected as Authenticate.
type Handler struct {
	Orchestrator *orchestrator.Orchestrator
	// Role is the node's own configured role: it decides which side of
	// each transition an inbound wire message lands on, so one binary can
	// run as provider (receiving requests, events, verifications) or as
	// consumer (receiving offers, agreements, finalization events).
	Role         entities.Role
	Authenticate func(r *http.Request) (peerDID string, ok bool)
	Logger       *zap.Logger
}

// Mount registers every DSP negotiation route on mux.
func (h *Handler) Mount(mux *http.ServeMux) {
	mux.HandleFunc("POST /negotiations/request", h.handleRequest)
	mux.HandleFunc("POST /negotiations/{pid}/offers", h.handleOffer)
	mux.HandleFunc("POST /negotiations/{pid}/agreement", h.handleAgreement)
	mux.HandleFunc("POST /negotiations/{pid}/events", h.handleEvent)
	mux.HandleFunc("POST /negotiations/{pid}/agreement/verification", h.handleVerification)
	mux.HandleFunc("POST /negotiations/{pid}/termination", h.handleTermination)
	mux.HandleFunc("GET /agreements/{id}", h.handleGetAgreement)
}

// pids fills the receiving side's own pid slot from the path when the
// body omits it; the peer's slot always comes from the body.
func (h *Handler) pids(msg wireMessage, pathPID string) (providerPID, consumerPID string) {
	providerPID, consumerPID = msg.ProviderPID, msg.ConsumerPID
	if h.Role == entities.RoleProvider && providerPID == "" {
		providerPID = pathPID
	}
	if h.Role == entities.RoleConsumer && consumerPID == "" {
		consumerPID = pathPID
	}
	return providerPID, consumerPID
}

// agreementRef is the wire shape a sibling transfer-agent decodes into
// internal/transfer/validator.AgreementRef when resolving a transfer's
// agreementId over HTTP (the split-deployment path of
// internal/transfer/orchestrator.RemoteAgreementResolver).
type agreementRef struct {
	Active                bool   `json:"active"`
	ProviderParticipantID string `json:"providerParticipantId"`
	ConsumerParticipantID string `json:"consumerParticipantId"`
}

func (h *Handler) handleGetAgreement(w http.ResponseWriter, r *http.Request) {
	_, ok := h.Authenticate(r)
	if !ok {
		writeError(w, errs.New(errs.Unauthorized, "missing or invalid GNAP bearer"))
		return
	}
	id := r.PathValue("id")

	agreement, found, err := h.Orchestrator.Agreements.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		writeError(w, errs.New(errs.MissingResource, "agreement %s not found", id))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(agreementRef{
		Active:                agreement.Active,
		ProviderParticipantID: agreement.ProviderParticipantID,
		ConsumerParticipantID: agreement.ConsumerParticipantID,
	})
}

type wireMessage struct {
	Context         string                `json:"@context"`
	Type            entities.MessageType  `json:"@type"`
	ProviderPID     string                `json:"providerPid"`
	ConsumerPID     string                `json:"consumerPid"`
	EventType       entities.EventSubtype `json:"eventType,omitempty"`
	OfferID         string                `json:"offerId,omitempty"`
	Target          string                `json:"dspace:target,omitempty"`
	CallbackAddress string                `json:"callbackAddress,omitempty"`
}

func (h *Handler) handleRequest(w http.ResponseWriter, r *http.Request) {
	_, ok := h.Authenticate(r)
	if !ok {
		writeError(w, errs.New(errs.Unauthorized, "missing or invalid GNAP bearer"))
		return
	}

	var msg wireMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, errs.Wrap(errs.BadFormatReceived, err, "decode ContractRequestMessage"))
		return
	}

	ack, err := h.Orchestrator.HandleInbound(r.Context(), h.Role, msg.CallbackAddress, orchestrator.InboundMessage{
		Type: entities.MessageContractRequest, ProviderPID: msg.ProviderPID, ConsumerPID: msg.ConsumerPID,
		OfferIdentifier: msg.OfferID, Target: msg.Target,
	})
	h.respond(w, ack, err)
}

// handleOffer receives a ContractOfferMessage — the consumer-facing half
// of the protocol: an initial offer opens a new session, a counter-offer
// lands on an existing one.
func (h *Handler) handleOffer(w http.ResponseWriter, r *http.Request) {
	_, ok := h.Authenticate(r)
	if !ok {
		writeError(w, errs.New(errs.Unauthorized, "missing or invalid GNAP bearer"))
		return
	}
	pid := r.PathValue("pid")

	var msg wireMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, errs.Wrap(errs.BadFormatReceived, err, "decode ContractOfferMessage"))
		return
	}
	providerPID, consumerPID := h.pids(msg, pid)

	ack, err := h.Orchestrator.HandleInbound(r.Context(), h.Role, msg.CallbackAddress, orchestrator.InboundMessage{
		Type: entities.MessageContractOffer, ProviderPID: providerPID, ConsumerPID: consumerPID,
		OfferIdentifier: msg.OfferID, Target: msg.Target,
	})
	h.respond(w, ack, err)
}

// handleAgreement receives the provider's ContractAgreementMessage at a
// consumer that has already accepted the last offer.
func (h *Handler) handleAgreement(w http.ResponseWriter, r *http.Request) {
	_, ok := h.Authenticate(r)
	if !ok {
		writeError(w, errs.New(errs.Unauthorized, "missing or invalid GNAP bearer"))
		return
	}
	pid := r.PathValue("pid")

	var msg wireMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, errs.Wrap(errs.BadFormatReceived, err, "decode ContractAgreementMessage"))
		return
	}
	providerPID, consumerPID := h.pids(msg, pid)

	ack, err := h.Orchestrator.HandleInbound(r.Context(), h.Role, msg.CallbackAddress, orchestrator.InboundMessage{
		Type: entities.MessageContractAgreement, ProviderPID: providerPID, ConsumerPID: consumerPID,
		OfferIdentifier: msg.OfferID,
	})
	h.respond(w, ack, err)
}

func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	_, ok := h.Authenticate(r)
	if !ok {
		writeError(w, errs.New(errs.Unauthorized, "missing or invalid GNAP bearer"))
		return
	}
	pid := r.PathValue("pid")

	var msg wireMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, errs.Wrap(errs.BadFormatReceived, err, "decode ContractNegotiationEventMessage"))
		return
	}
	providerPID, consumerPID := h.pids(msg, pid)

	ack, err := h.Orchestrator.HandleInbound(r.Context(), h.Role, msg.CallbackAddress, orchestrator.InboundMessage{
		Type: entities.MessageContractNegotiationEvent, Subtype: msg.EventType, ProviderPID: providerPID, ConsumerPID: consumerPID,
	})
	h.respond(w, ack, err)
}

func (h *Handler) handleVerification(w http.ResponseWriter, r *http.Request) {
	_, ok := h.Authenticate(r)
	if !ok {
		writeError(w, errs.New(errs.Unauthorized, "missing or invalid GNAP bearer"))
		return
	}
	pid := r.PathValue("pid")

	var msg wireMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, errs.Wrap(errs.BadFormatReceived, err, "decode ContractAgreementVerificationMessage"))
		return
	}
	providerPID, consumerPID := h.pids(msg, pid)

	ack, err := h.Orchestrator.HandleInbound(r.Context(), h.Role, msg.CallbackAddress, orchestrator.InboundMessage{
		Type: entities.MessageContractAgreementVerification, ProviderPID: providerPID, ConsumerPID: consumerPID,
	})
	h.respond(w, ack, err)
}

func (h *Handler) handleTermination(w http.ResponseWriter, r *http.Request) {
	_, ok := h.Authenticate(r)
	if !ok {
		writeError(w, errs.New(errs.Unauthorized, "missing or invalid GNAP bearer"))
		return
	}
	pid := r.PathValue("pid")

	ack, err := h.Orchestrator.SetupTermination(r.Context(), pid)
	h.respond(w, ack, err)
}

func (h *Handler) respond(w http.ResponseWriter, ack *orchestrator.Ack, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(ack)
}

// errorEnvelope is the protocol-native ContractNegotiationError body (§7).
type errorEnvelope struct {
	Context string `json:"@context"`
	Type    string `json:"@type"`
	Code    string `json:"code"`
	Reason  string `json:"reason"`
}

func writeError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(kind.HTTPStatus())
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Context: "https://w3id.org/dspace/2024/1/context.json",
		Type:    "dspace:ContractNegotiationError",
		Code:    kind.String(),
		Reason:  err.Error(),
	})
}
