package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	negotiation "github.com/dscp-io/connector/internal/negotiation/entities"
	"github.com/dscp-io/connector/internal/transfer/validator"
	"github.com/dscp-io/connector/pkg/errs"
	"github.com/dscp-io/connector/pkg/repository"
)

// LocalAgreementResolver resolves a transfer's agreementId directly against
// the contract-negotiation machine's own Agreement repository — the
// single-binary deployment path, used when one process hosts both
// machines over a shared store.
type LocalAgreementResolver struct {
	Agreements *repository.Repository[negotiation.Agreement]
}

func (r *LocalAgreementResolver) Resolve(ctx context.Context, agreementID string) (*validator.AgreementRef, error) {
	agreement, found, err := r.Agreements.GetByID(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errs.New(errs.MissingResource, "agreement %s not found", agreementID)
	}
	return &validator.AgreementRef{
		Active:                agreement.Active,
		ProviderParticipantID: agreement.ProviderParticipantID,
		ConsumerParticipantID: agreement.ConsumerParticipantID,
	}, nil
}

// RemoteAgreementResolver resolves a transfer's agreementId by calling out
// to a separately-deployed negotiation agent's read API — the split
// deployment path, mirroring pkg/catalog.HTTPFacade's "thin client over a
// sibling service" shape.
type RemoteAgreementResolver struct {
	BaseURL string
	Client  *http.Client
}

// NewRemoteAgreementResolver constructs a resolver with the §5 10s
// outbound deadline.
func NewRemoteAgreementResolver(baseURL string, timeout time.Duration) *RemoteAgreementResolver {
	return &RemoteAgreementResolver{BaseURL: baseURL, Client: &http.Client{Timeout: timeout}}
}

func (r *RemoteAgreementResolver) Resolve(ctx context.Context, agreementID string) (*validator.AgreementRef, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.BaseURL+"/agreements/"+agreementID, nil)
	if err != nil {
		return nil, errs.Wrap(errs.Parse, err, "build agreement lookup request")
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.Peer, err, "call negotiation agent for agreement %s", agreementID)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errs.New(errs.MissingResource, "agreement %s not found", agreementID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(errs.Peer, "negotiation agent returned status %d for agreement %s", resp.StatusCode, agreementID)
	}

	var ref validator.AgreementRef
	if err := json.NewDecoder(resp.Body).Decode(&ref); err != nil {
		return nil, errs.Wrap(errs.Parse, err, "decode agreement %s", agreementID)
	}
	return &ref, nil
}

var (
	_ AgreementResolver = (*LocalAgreementResolver)(nil)
	_ AgreementResolver = (*RemoteAgreementResolver)(nil)
)
