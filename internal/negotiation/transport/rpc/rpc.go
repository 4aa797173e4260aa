// Package rpc is the local operator-facing control surface for contract
// negotiation (§6), mounted under /api/v1/negotiation/rpc/. Same decode ->
// dispatch -> encode shape as transport/http, but every call is looked up
// by localId (the canonical key for operator-facing endpoints, DESIGN.md
// Open Question decision #2) and answers with a uniform {code, title,
// message} error body rather than a protocol-native envelope.
package rpc

import (
	"encoding/json"
	"net/http"

	"github.com/dscp-io/connector/internal/negotiation/orchestrator"
	"github.com/dscp-io/connector/pkg/errs"
)

// Handler mounts the operator-facing negotiation RPC routes.
type Handler struct {
	Orchestrator *orchestrator.Orchestrator
}

// Mount registers every RPC route on mux under the given base path
// (e.g. "/api/v1/negotiation/rpc").
func (h *Handler) Mount(mux *http.ServeMux, base string) {
	mux.HandleFunc("POST "+base+"/setup-offer", h.setupOffer)
	mux.HandleFunc("POST "+base+"/setup-acceptance", h.setupAcceptance)
	mux.HandleFunc("POST "+base+"/setup-agreement", h.setupAgreement)
	mux.HandleFunc("POST "+base+"/setup-verification", h.setupVerification)
	mux.HandleFunc("POST "+base+"/setup-finalization", h.setupFinalization)
	mux.HandleFunc("POST "+base+"/setup-termination", h.setupTermination)
}

type setupOfferRequest struct {
	LocalID               string `json:"localId"`
	ConsumerParticipantID string `json:"consumerParticipantId"`
	ConsumerAddress       string `json:"consumerAddress"`
	OfferID               string `json:"offerId"`
}

func (h *Handler) setupOffer(w http.ResponseWriter, r *http.Request) {
	var req setupOfferRequest
	if !decode(w, r, &req) {
		return
	}
	ack, err := h.Orchestrator.SetupOffer(r.Context(), req.LocalID, req.ConsumerParticipantID, req.ConsumerAddress, req.OfferID)
	respond(w, ack, err)
}

type localIDRequest struct {
	LocalID string `json:"localId"`
}

// setupAcceptance drives the consumer's accepted event for the last
// received offer, the leg the provider observes as Event(accepted).
func (h *Handler) setupAcceptance(w http.ResponseWriter, r *http.Request) {
	var req localIDRequest
	if !decode(w, r, &req) {
		return
	}
	ack, err := h.Orchestrator.SetupAcceptance(r.Context(), req.LocalID)
	respond(w, ack, err)
}

func (h *Handler) setupAgreement(w http.ResponseWriter, r *http.Request) {
	var req localIDRequest
	if !decode(w, r, &req) {
		return
	}
	ack, err := h.Orchestrator.SetupAgreement(r.Context(), req.LocalID)
	respond(w, ack, err)
}

func (h *Handler) setupVerification(w http.ResponseWriter, r *http.Request) {
	var req localIDRequest
	if !decode(w, r, &req) {
		return
	}
	ack, err := h.Orchestrator.SetupVerification(r.Context(), req.LocalID)
	respond(w, ack, err)
}

func (h *Handler) setupFinalization(w http.ResponseWriter, r *http.Request) {
	var req localIDRequest
	if !decode(w, r, &req) {
		return
	}
	ack, err := h.Orchestrator.SetupFinalization(r.Context(), req.LocalID)
	respond(w, ack, err)
}

func (h *Handler) setupTermination(w http.ResponseWriter, r *http.Request) {
	var req localIDRequest
	if !decode(w, r, &req) {
		return
	}
	ack, err := h.Orchestrator.SetupTermination(r.Context(), req.LocalID)
	respond(w, ack, err)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, errs.Wrap(errs.BadFormatReceived, err, "decode request body"))
		return false
	}
	return true
}

type rpcErrorBody struct {
	Code    string `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

func respond(w http.ResponseWriter, ack any, err error) {
	if err != nil {
		respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(ack)
}

func respondError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(kind.HTTPStatus())
	_ = json.NewEncoder(w).Encode(rpcErrorBody{
		Code:    kind.String(),
		Title:   "negotiation rpc error",
		Message: err.Error(),
	})
}
