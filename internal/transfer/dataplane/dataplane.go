// Package dataplane is the capability interface to the out-of-scope
// data-plane proxy collaborator of §1/§4.2: provision, attach, detach,
// teardown. Grounded on pkg/catalog's Facade split (HTTPFacade vs.
// StubFacade) — a thin HTTP client for production, an in-memory stub for
// tests — since the data plane, like the catalog, is "a side-effect
// service that can be provisioned, attached to a session, and torn down"
// (§1) rather than a component this repository implements byte-moving
// logic for.
package dataplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dscp-io/connector/internal/transfer/entities"
	"github.com/dscp-io/connector/pkg/errs"
)

// Intent is the data-plane action the state machine emits alongside a
// transition (§4.2's "Data-plane hook").
type Intent string

const (
	IntentProvision Intent = "provision"
	IntentAttach    Intent = "attach"
	IntentDetach    Intent = "detach"
	IntentTeardown  Intent = "teardown"
)

// Request is the data-plane hook's input: everything needed to provision,
// attach, detach, or tear down a proxy session.
type Request struct {
	SessionID   string
	Format      entities.Format
	Address     *entities.DataAddress
	AgreementID string
}

// Hook is the capability the transfer orchestrator holds. It is
// transactional with state persistence per §4.2: if it fails, the caller
// must not advance state.
type Hook interface {
	// Provision asks the data plane to stand up a new proxy for req and
	// returns the DataAddress clients should use (pull formats).
	Provision(ctx context.Context, req Request) (*entities.DataAddress, error)
	// Attach registers a consumer-supplied DataAddress with the data
	// plane (push formats).
	Attach(ctx context.Context, req Request) error
	// Detach suspends an active proxy without tearing down its
	// provisioned resources.
	Detach(ctx context.Context, req Request) error
	// Teardown permanently releases a proxy's resources.
	Teardown(ctx context.Context, req Request) error
}

// HTTPHook is the production Hook, a thin client over the data-plane
// control endpoint.
type HTTPHook struct {
	baseURL string
	client  *http.Client
}

// NewHTTPHook constructs a Hook that calls baseURL with the §5 10s
// outbound deadline.
func NewHTTPHook(baseURL string, timeout time.Duration) *HTTPHook {
	return &HTTPHook{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

func (h *HTTPHook) Provision(ctx context.Context, req Request) (*entities.DataAddress, error) {
	var addr entities.DataAddress
	if err := h.post(ctx, IntentProvision, req, &addr); err != nil {
		return nil, err
	}
	return &addr, nil
}

func (h *HTTPHook) Attach(ctx context.Context, req Request) error {
	return h.post(ctx, IntentAttach, req, nil)
}

func (h *HTTPHook) Detach(ctx context.Context, req Request) error {
	return h.post(ctx, IntentDetach, req, nil)
}

func (h *HTTPHook) Teardown(ctx context.Context, req Request) error {
	return h.post(ctx, IntentTeardown, req, nil)
}

func (h *HTTPHook) post(ctx context.Context, intent Intent, req Request, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return errs.Wrap(errs.Parse, err, "marshal data-plane request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/%s", h.baseURL, intent), bytes.NewReader(body))
	if err != nil {
		return errs.Wrap(errs.Parse, err, "build data-plane request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := h.client.Do(httpReq)
	if err != nil {
		return errs.Wrap(errs.Peer, err, "call data plane %s", intent)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return errs.New(errs.Peer, "data plane returned status %d for %s", resp.StatusCode, intent)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errs.Wrap(errs.Parse, err, "decode data-plane response for %s", intent)
		}
	}
	return nil
}

// StubHook is an in-memory Hook for tests and local bootstrap, minting a
// deterministic-looking loopback DataAddress for every provision call.
type StubHook struct {
	nextPort int
}

// NewStubHook constructs an empty StubHook.
func NewStubHook() *StubHook { return &StubHook{nextPort: 20000} }

func (s *StubHook) Provision(_ context.Context, req Request) (*entities.DataAddress, error) {
	s.nextPort++
	return &entities.DataAddress{
		Endpoint:   fmt.Sprintf("http://127.0.0.1:%d/data/%s", s.nextPort, req.SessionID),
		Properties: map[string]string{"format": string(req.Format)},
	}, nil
}

func (s *StubHook) Attach(_ context.Context, _ Request) error   { return nil }
func (s *StubHook) Detach(_ context.Context, _ Request) error   { return nil }
func (s *StubHook) Teardown(_ context.Context, _ Request) error { return nil }

var (
	_ Hook = (*HTTPHook)(nil)
	_ Hook = (*StubHook)(nil)
)
