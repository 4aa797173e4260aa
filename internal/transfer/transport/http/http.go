// Package http is the DSP wire-protocol HTTP surface for the transfer
// control plane (§6), mirroring internal/negotiation/transport/http's
// shape.
package http

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/dscp-io/connector/internal/transfer/entities"
	"github.com/dscp-io/connector/internal/transfer/orchestrator"
	"github.com/dscp-io/connector/pkg/errs"
)

// Handler mounts the DSP transfer endpoints.
type Handler struct {
	Orchestrator *orchestrator.Orchestrator
	Authenticate func(r *http.Request) (peerDID string, ok bool)
	Logger       *zap.Logger
}

// Mount registers every DSP transfer route on mux.
func (h *Handler) Mount(mux *http.ServeMux) {
	mux.HandleFunc("POST /transfers/request", h.handleRequest)
	mux.HandleFunc("POST /transfers/{pid}/start", h.handleStart)
	mux.HandleFunc("POST /transfers/{pid}/suspension", h.handleSuspension)
	mux.HandleFunc("POST /transfers/{pid}/completion", h.handleCompletion)
	mux.HandleFunc("POST /transfers/{pid}/termination", h.handleTermination)
}

type wireMessage struct {
	ProviderPID     string                `json:"providerPid"`
	ConsumerPID     string                `json:"consumerPid"`
	AgreementID     string                `json:"agreementId"`
	Format          entities.Format       `json:"format"`
	DataAddress     *entities.DataAddress `json:"dataAddress,omitempty"`
	CallbackAddress string                `json:"callbackAddress"`
}

func (h *Handler) handleRequest(w http.ResponseWriter, r *http.Request) {
	peerDID, ok := h.Authenticate(r)
	if !ok {
		writeError(w, errs.New(errs.Unauthorized, "missing or invalid GNAP bearer"))
		return
	}
	var msg wireMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, errs.Wrap(errs.BadFormatReceived, err, "decode TransferRequestMessage"))
		return
	}

	ack, err := h.Orchestrator.HandleRequest(r.Context(), entities.RoleProvider, msg.CallbackAddress, peerDID, msg.ConsumerPID, orchestrator.InboundMessage{
		Type: entities.MessageTransferRequest, AgreementID: msg.AgreementID, Format: msg.Format,
		DataAddress: msg.DataAddress, CallbackAddress: msg.CallbackAddress,
	})
	h.respond(w, ack, err)
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.Authenticate(r); !ok {
		writeError(w, errs.New(errs.Unauthorized, "missing or invalid GNAP bearer"))
		return
	}
	pid := r.PathValue("pid")
	var msg wireMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, errs.Wrap(errs.BadFormatReceived, err, "decode TransferStartMessage"))
		return
	}
	ack, err := h.Orchestrator.HandleStart(r.Context(), pid, msg.DataAddress)
	h.respond(w, ack, err)
}

func (h *Handler) handleSuspension(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.Authenticate(r); !ok {
		writeError(w, errs.New(errs.Unauthorized, "missing or invalid GNAP bearer"))
		return
	}
	ack, err := h.Orchestrator.SetupSuspension(r.Context(), r.PathValue("pid"))
	h.respond(w, ack, err)
}

func (h *Handler) handleCompletion(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.Authenticate(r); !ok {
		writeError(w, errs.New(errs.Unauthorized, "missing or invalid GNAP bearer"))
		return
	}
	ack, err := h.Orchestrator.SetupCompletion(r.Context(), r.PathValue("pid"))
	h.respond(w, ack, err)
}

func (h *Handler) handleTermination(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.Authenticate(r); !ok {
		writeError(w, errs.New(errs.Unauthorized, "missing or invalid GNAP bearer"))
		return
	}
	ack, err := h.Orchestrator.SetupTermination(r.Context(), r.PathValue("pid"))
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
		Type:    "dspace:TransferError",
		Code:    kind.String(),
		Reason:  err.Error(),
	})
}
