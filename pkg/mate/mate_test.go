package mate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dscp-io/connector/pkg/errs"
	"github.com/dscp-io/connector/pkg/repository/memory"
)

func TestRepositoryResolver_UpsertAndGetByDID(t *testing.T) {
	store := memory.New()
	r := NewRepositoryResolver(store, "did:example:me")

	require.NoError(t, r.Upsert(context.Background(), &Mate{ParticipantID: "did:example:peer", Slug: "peer-co", BaseURL: "https://peer"}))

	got, err := r.GetByDID(context.Background(), "did:example:peer")
	require.NoError(t, err)
	assert.Equal(t, "peer-co", got.Slug)
	assert.NotZero(t, got.LastInteraction)
}

func TestRepositoryResolver_GetByDID_NotFound(t *testing.T) {
	r := NewRepositoryResolver(memory.New(), "did:example:me")

	_, err := r.GetByDID(context.Background(), "did:example:unknown")
	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.MissingResource, e.Kind)
}

func TestRepositoryResolver_GetBySlug(t *testing.T) {
	store := memory.New()
	r := NewRepositoryResolver(store, "did:example:me")
	require.NoError(t, r.Upsert(context.Background(), &Mate{ParticipantID: "did:example:peer", Slug: "peer-co"}))

	got, err := r.GetBySlug(context.Background(), "peer-co")
	require.NoError(t, err)
	assert.Equal(t, "did:example:peer", got.ParticipantID)

	_, err = r.GetBySlug(context.Background(), "nope")
	require.Error(t, err)
}

func TestRepositoryResolver_GetMe(t *testing.T) {
	store := memory.New()
	r := NewRepositoryResolver(store, "did:example:me")
	require.NoError(t, r.Upsert(context.Background(), &Mate{ParticipantID: "did:example:me", IsMe: true}))

	me, err := r.GetMe(context.Background())
	require.NoError(t, err)
	assert.True(t, me.IsMe)
}

func TestRepositoryResolver_Upsert_RequiresParticipantID(t *testing.T) {
	r := NewRepositoryResolver(memory.New(), "did:example:me")
	err := r.Upsert(context.Background(), &Mate{Slug: "no-id"})
	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.BadFormatReceived, e.Kind)
}
