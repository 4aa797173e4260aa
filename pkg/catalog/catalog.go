// Package catalog is the out-of-scope catalog collaborator's facade
// (§1, §4.4): resolveOffer and resolveEntityTarget. Grounded on
// pkg/registry/client.go's Client-interface + StubClient + HTTP-production
// split: a real deployment talks to the catalog service over HTTP; tests
// and local bootstrap use an in-memory stub pre-seeded with fixtures.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dscp-io/connector/pkg/errs"
)

// Offer is the ODRL policy expression a dataset offer resolves to.
type Offer struct {
	OfferID     string       `json:"offerId"`
	Target      string       `json:"target"`
	Permission  []PolicyRule `json:"permission"`
	Prohibition []PolicyRule `json:"prohibition,omitempty"`
	Obligation  []PolicyRule `json:"obligation,omitempty"`
}

// PolicyRule is a single ODRL rule entry.
type PolicyRule struct {
	Action     string         `json:"action"`
	Constraint map[string]any `json:"constraint,omitempty"`
}

// EntityKind distinguishes the catalog entities Transfer resolves.
type EntityKind string

const (
	KindDataset     EntityKind = "dataset"
	KindDataService EntityKind = "dataService"
)

// Facade is the capability CN and Transfer hold to consult the catalog.
type Facade interface {
	ResolveOffer(ctx context.Context, offerID string) (*Offer, error)
	ResolveEntityTarget(ctx context.Context, entityID string, kind EntityKind) (string, error)
}

// HTTPFacade is the production Facade, a thin client over the catalog
// service's read API — the HTTP analogue of registry.ProductionClient.
type HTTPFacade struct {
	baseURL string
	client  *http.Client
}

// NewHTTPFacade constructs a Facade that calls baseURL with the given
// per-call timeout (§5's 10s outbound deadline).
func NewHTTPFacade(baseURL string, timeout time.Duration) *HTTPFacade {
	return &HTTPFacade{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

func (f *HTTPFacade) ResolveOffer(ctx context.Context, offerID string) (*Offer, error) {
	var offer Offer
	if err := f.getJSON(ctx, fmt.Sprintf("/offers/%s", offerID), &offer); err != nil {
		return nil, err
	}
	return &offer, nil
}

func (f *HTTPFacade) ResolveEntityTarget(ctx context.Context, entityID string, kind EntityKind) (string, error) {
	var resp struct {
		Endpoint string `json:"endpoint"`
	}
	if err := f.getJSON(ctx, fmt.Sprintf("/%ss/%s", kind, entityID), &resp); err != nil {
		return "", err
	}
	return resp.Endpoint, nil
}

func (f *HTTPFacade) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+path, nil)
	if err != nil {
		return errs.Wrap(errs.Parse, err, "build catalog request")
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return errs.Wrap(errs.Peer, err, "call catalog at %s", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errs.New(errs.MissingResource, "catalog entity not found: %s", path)
	}
	if resp.StatusCode != http.StatusOK {
		return errs.New(errs.Peer, "catalog returned status %d for %s", resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.Wrap(errs.Parse, err, "decode catalog response for %s", path)
	}
	return nil
}

// StubFacade is an in-memory Facade for tests and local bootstrap,
// mirroring registry.StubClient's pre-populated map.
type StubFacade struct {
	offers  map[string]*Offer
	targets map[string]string
}

// NewStubFacade constructs an empty StubFacade; use AddOffer/AddTarget to
// seed fixtures.
func NewStubFacade() *StubFacade {
	return &StubFacade{offers: make(map[string]*Offer), targets: make(map[string]string)}
}

func (s *StubFacade) AddOffer(o *Offer)                   { s.offers[o.OfferID] = o }
func (s *StubFacade) AddTarget(entityID, endpoint string) { s.targets[entityID] = endpoint }

func (s *StubFacade) ResolveOffer(_ context.Context, offerID string) (*Offer, error) {
	o, ok := s.offers[offerID]
	if !ok {
		return nil, errs.New(errs.MissingResource, "no offer %s in catalog stub", offerID)
	}
	return o, nil
}

func (s *StubFacade) ResolveEntityTarget(_ context.Context, entityID string, _ EntityKind) (string, error) {
	endpoint, ok := s.targets[entityID]
	if !ok {
		return "", errs.New(errs.MissingResource, "no target %s in catalog stub", entityID)
	}
	return endpoint, nil
}

var (
	_ Facade = (*HTTPFacade)(nil)
	_ Facade = (*StubFacade)(nil)
)
