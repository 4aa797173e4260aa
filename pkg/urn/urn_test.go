package urn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	u, err := Parse("urn:dataset:1")
	require.NoError(t, err)
	assert.Equal(t, URN{NID: "dataset", NSS: "1"}, u)
	assert.Equal(t, "urn:dataset:1", u.String())
}

func TestParse_NSSMayContainColons(t *testing.T) {
	u, err := Parse("urn:did:example:C")
	require.NoError(t, err)
	assert.Equal(t, "did", u.NID)
	assert.Equal(t, "example:C", u.NSS)
}

func TestParse_Invalid(t *testing.T) {
	for _, s := range []string{"", "not-a-urn", "urn:", "urn::nss", "urn:nid:"} {
		_, err := Parse(s)
		assert.Error(t, err, "expected error for %q", s)
	}
}

func TestNew_MintsUniqueURNsUnderNID(t *testing.T) {
	a := New("dataset")
	b := New("dataset")
	assert.Equal(t, "dataset", a.NID)
	assert.NotEqual(t, a.NSS, b.NSS)
	assert.False(t, a.IsZero())
}

func TestIsZero(t *testing.T) {
	assert.True(t, URN{}.IsZero())
	assert.False(t, MustParse("urn:dataset:1").IsZero())
}

func TestMustParse_PanicsOnInvalid(t *testing.T) {
	assert.Panics(t, func() { MustParse("bogus") })
}
