// Package rpc is the local operator-facing control surface for the
// transfer control plane (§6), mounted under /api/v1/transfer/rpc/,
// mirroring internal/negotiation/transport/rpc's shape.
package rpc

import (
	"encoding/json"
	"net/http"

	"github.com/dscp-io/connector/internal/transfer/entities"
	"github.com/dscp-io/connector/internal/transfer/orchestrator"
	"github.com/dscp-io/connector/pkg/errs"
)

// Handler mounts the operator-facing transfer RPC routes.
type Handler struct {
	Orchestrator *orchestrator.Orchestrator
}

// Mount registers every RPC route on mux under base (e.g.
// "/api/v1/transfer/rpc").
func (h *Handler) Mount(mux *http.ServeMux, base string) {
	mux.HandleFunc("POST "+base+"/setup-request", h.setupRequest)
	mux.HandleFunc("POST "+base+"/setup-start", h.setupStart)
	mux.HandleFunc("POST "+base+"/setup-suspension", h.setupSuspension)
	mux.HandleFunc("POST "+base+"/setup-completion", h.setupCompletion)
	mux.HandleFunc("POST "+base+"/setup-termination", h.setupTermination)
}

type setupRequestRequest struct {
	ProviderAddress string                `json:"providerAddress"`
	ProviderDID     string                `json:"providerDid"`
	ConsumerPID     string                `json:"consumerPid"`
	AgreementID     string                `json:"agreementId"`
	Format          entities.Format       `json:"format"`
	DataAddress     *entities.DataAddress `json:"dataAddress,omitempty"`
	CallbackAddress string                `json:"callbackAddress"`
}

// setupRequest drives the consumer's initial TransferRequest to a
// provider, the operator-facing entry point mirrored against
// HandleRequest's provider-side inbound path.
func (h *Handler) setupRequest(w http.ResponseWriter, r *http.Request) {
	var req setupRequestRequest
	if !decode(w, r, &req) {
		return
	}
	ack, err := h.Orchestrator.HandleRequest(r.Context(), entities.RoleConsumer, req.ProviderAddress, req.ProviderDID, req.ConsumerPID, orchestrator.InboundMessage{
		Type: entities.MessageTransferRequest, AgreementID: req.AgreementID, Format: req.Format,
		DataAddress: req.DataAddress, CallbackAddress: req.CallbackAddress,
	})
	respond(w, ack, err)
}

type localIDRequest struct {
	LocalID string `json:"localId"`
}

func (h *Handler) setupStart(w http.ResponseWriter, r *http.Request) {
	var req localIDRequest
	if !decode(w, r, &req) {
		return
	}
	ack, err := h.Orchestrator.SetupStart(r.Context(), req.LocalID)
	respond(w, ack, err)
}

func (h *Handler) setupSuspension(w http.ResponseWriter, r *http.Request) {
	var req localIDRequest
	if !decode(w, r, &req) {
		return
	}
	ack, err := h.Orchestrator.SetupSuspension(r.Context(), req.LocalID)
	respond(w, ack, err)
}

func (h *Handler) setupCompletion(w http.ResponseWriter, r *http.Request) {
	var req localIDRequest
	if !decode(w, r, &req) {
		return
	}
	ack, err := h.Orchestrator.SetupCompletion(r.Context(), req.LocalID)
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
		Title:   "transfer rpc error",
		Message: err.Error(),
	})
}
