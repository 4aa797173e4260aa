// Package mate resolves known remote participants ("mates") — the
// getByDid/getBySlug/getMe facade of §4.4, consulted by every outbound
// authenticated call. Grounded on pkg/peering/peering.go's
// IPeeringDataFetcher interface: a small fetch-oriented capability
// interface. Its one implementation, RepositoryResolver, is backed by a
// repository.Store and serves both production and tests (over the memory
// store); there is no static config- or file-seeded resolver.
package mate

import (
	"context"
	"time"

	"github.com/dscp-io/connector/pkg/errs"
	"github.com/dscp-io/connector/pkg/repository"
)

// Mate is a cached record of a known remote participant (§3).
type Mate struct {
	ParticipantID   string `json:"participantId"`
	Slug            string `json:"slug"`
	BaseURL         string `json:"baseUrl"`
	Token           string `json:"token"`
	LastInteraction int64  `json:"lastInteraction"`
	IsMe            bool   `json:"isMe"`
}

func (m Mate) GetID() string { return m.ParticipantID }

// Resolver is the capability every orchestrator holds to look up a peer
// before making an authenticated outbound call.
type Resolver interface {
	GetByDID(ctx context.Context, did string) (*Mate, error)
	GetBySlug(ctx context.Context, slug string) (*Mate, error)
	GetMe(ctx context.Context) (*Mate, error)
	// Upsert records or refreshes a mate, called on grant completion
	// (§4.3 step 6).
	Upsert(ctx context.Context, m *Mate) error
}

// RepositoryResolver is the production Resolver, backed by a
// repository.Store the way peeringDataFetcher is backed by a live chain
// client — here a live local repository shared with the rest of the node.
type RepositoryResolver struct {
	repo  *repository.Repository[Mate]
	store repository.Store
	meDID string
}

const collection = "mates"

// NewRepositoryResolver constructs a Resolver over store, with meDID
// identifying this node's own participant row.
func NewRepositoryResolver(store repository.Store, meDID string) *RepositoryResolver {
	return &RepositoryResolver{
		repo:  repository.New[Mate](store, collection),
		store: store,
		meDID: meDID,
	}
}

func (r *RepositoryResolver) GetByDID(ctx context.Context, did string) (*Mate, error) {
	m, ok, err := r.repo.GetByID(ctx, did)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.New(errs.MissingResource, "no mate known for did %s", did)
	}
	return m, nil
}

func (r *RepositoryResolver) GetBySlug(ctx context.Context, slug string) (*Mate, error) {
	all, err := r.repo.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range all {
		if m.Slug == slug {
			return m, nil
		}
	}
	return nil, errs.New(errs.MissingResource, "no mate known for slug %s", slug)
}

func (r *RepositoryResolver) GetMe(ctx context.Context) (*Mate, error) {
	return r.GetByDID(ctx, r.meDID)
}

func (r *RepositoryResolver) Upsert(ctx context.Context, m *Mate) error {
	if m.ParticipantID == "" {
		return errs.New(errs.BadFormatReceived, "mate participantId is required")
	}
	m.LastInteraction = time.Now().Unix()
	return r.repo.Update(ctx, m)
}

var _ Resolver = (*RepositoryResolver)(nil)
