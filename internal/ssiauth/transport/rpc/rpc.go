// Package rpc is the local operator-facing control surface for the SSI/
// GNAP machine (§6), mounted under /api/v1/ssiauth/rpc/. Exposes the
// human/policy decision of §4.3 flow step 4, which has no wire-protocol
// analogue — only the node operator drives it.
package rpc

import (
	"encoding/json"
	"net/http"

	"github.com/dscp-io/connector/internal/ssiauth/orchestrator"
	"github.com/dscp-io/connector/pkg/errs"
)

// Handler mounts the operator-facing SSI auth RPC routes.
type Handler struct {
	Orchestrator *orchestrator.Orchestrator
}

// Mount registers every RPC route on mux under base (e.g.
// "/api/v1/ssiauth/rpc").
func (h *Handler) Mount(mux *http.ServeMux, base string) {
	mux.HandleFunc("POST "+base+"/setup-decision", h.setupDecision)
}

type decisionRequest struct {
	LocalID string `json:"localId"`
	Approve bool   `json:"approve"`
}

func (h *Handler) setupDecision(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, errs.Wrap(errs.BadFormatReceived, err, "decode decision request"))
		return
	}
	state, err := h.Orchestrator.Decide(r.Context(), req.LocalID, req.Approve)
	if err != nil {
		respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"state": string(state)})
}

type rpcErrorBody struct {
	Code    string `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

func respondError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(kind.HTTPStatus())
	_ = json.NewEncoder(w).Encode(rpcErrorBody{Code: kind.String(), Title: "ssiauth rpc error", Message: err.Error()})
}
