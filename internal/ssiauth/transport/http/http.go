// Package http is the GNAP wire-protocol HTTP surface of §6: POST
// /gate/access, POST /gate/continue/:id, GET /verifier/vpd/:state, POST
// /verifier/verify/:state. Mirrors internal/negotiation/transport/http's
// decode -> dispatch -> encode shape.
package http

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/dscp-io/connector/internal/ssiauth/orchestrator"
	"github.com/dscp-io/connector/pkg/errs"
)

// Handler mounts the GNAP endpoints. httpsig client-key verification
// itself is part of the cryptographic primitives this repository
// delegates to the wallet/credential library per §1's Non-goals; this
// adapter reads the already-verified key thumbprint off a header set by
// that upstream verification layer.
type Handler struct {
	Orchestrator *orchestrator.Orchestrator
	Logger       *zap.Logger
	// ContinuationBaseURI is prefixed to each grant's localId to build
	// the continuation URI returned from /gate/access.
	ContinuationBaseURI string
}

const clientKeyHeader = "X-Httpsig-Key-Thumbprint"

// Mount registers every GNAP route on mux.
func (h *Handler) Mount(mux *http.ServeMux) {
	mux.HandleFunc("POST /gate/access", h.handleAccess)
	mux.HandleFunc("POST /gate/continue/{id}", h.handleContinue)
	mux.HandleFunc("GET /verifier/vpd/{state}", h.handleVPD)
	mux.HandleFunc("POST /verifier/verify/{state}", h.handleVerify)
}

type grantRequestBody struct {
	Access map[string]any `json:"access"`
}

func (h *Handler) handleAccess(w http.ResponseWriter, r *http.Request) {
	keyThumb := r.Header.Get(clientKeyHeader)
	if keyThumb == "" {
		writeError(w, errs.New(errs.Unauthorized, "missing httpsig client key"))
		return
	}
	var body grantRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errs.Wrap(errs.BadFormatReceived, err, "decode grant request"))
		return
	}

	resp, err := h.Orchestrator.RequestGrant(r.Context(), keyThumb, body.Access, h.ContinuationBaseURI)
	respond(w, resp, err)
}

type continueBody struct {
	InteractRef string `json:"interact_ref"`
	Hash        string `json:"hash"`
}

func (h *Handler) handleContinue(w http.ResponseWriter, r *http.Request) {
	keyThumb := r.Header.Get(clientKeyHeader)
	if keyThumb == "" {
		writeError(w, errs.New(errs.Unauthorized, "missing httpsig client key"))
		return
	}
	var body continueBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errs.Wrap(errs.BadFormatReceived, err, "decode continue request"))
		return
	}

	resp, err := h.Orchestrator.Continue(r.Context(), r.PathValue("id"), keyThumb, body.InteractRef, body.Hash)
	respond(w, resp, err)
}

func (h *Handler) handleVPD(w http.ResponseWriter, r *http.Request) {
	vpd, err := h.Orchestrator.RequestVPD(r.Context(), r.PathValue("state"))
	respond(w, vpd, err)
}

type verifyBody struct {
	VPToken string `json:"vp_token"`
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var body verifyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errs.Wrap(errs.BadFormatReceived, err, "decode vp submission"))
		return
	}
	state, err := h.Orchestrator.SubmitVP(r.Context(), r.PathValue("state"), body.VPToken)
	if err != nil {
		writeError(w, err)
		return
	}
	respond(w, map[string]string{"state": string(state)}, nil)
}

func respond(w http.ResponseWriter, v any, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(kind.HTTPStatus())
	_ = json.NewEncoder(w).Encode(errorBody{Code: kind.String(), Message: err.Error()})
}
