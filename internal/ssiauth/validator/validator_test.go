package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dscp-io/connector/internal/ssiauth/entities"
	"github.com/dscp-io/connector/pkg/errs"
)

func TestValidateGrantRequest(t *testing.T) {
	require.NoError(t, ValidateGrantRequest("thumbprint-1", map[string]any{"type": "read"}))

	err := ValidateGrantRequest("", map[string]any{"type": "read"})
	require.Error(t, err)

	err = ValidateGrantRequest("thumbprint-1", nil)
	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.BadFormatReceived, e.Kind)
}

func TestValidateContinuationKey(t *testing.T) {
	grant := &entities.Grant{ClientKeyThumbprint: "abc"}

	require.NoError(t, ValidateContinuationKey(grant, "abc"))

	err := ValidateContinuationKey(grant, "different")
	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.Unauthorized, e.Kind)

	require.Error(t, ValidateContinuationKey(grant, ""))
}

func TestContinuationHash_DeterministicAndSensitiveToEveryField(t *testing.T) {
	base := ContinuationHash("client-nonce", "as-nonce", "interact-ref")
	assert.Equal(t, base, ContinuationHash("client-nonce", "as-nonce", "interact-ref"))

	assert.NotEqual(t, base, ContinuationHash("other-client-nonce", "as-nonce", "interact-ref"))
	assert.NotEqual(t, base, ContinuationHash("client-nonce", "other-as-nonce", "interact-ref"))
	assert.NotEqual(t, base, ContinuationHash("client-nonce", "as-nonce", "other-interact-ref"))

	// concatenation is null-byte separated, not naively joined, so shifting
	// a boundary between fields must change the digest
	assert.NotEqual(t, ContinuationHash("ab", "c", "d"), ContinuationHash("a", "bc", "d"))
}

func TestValidateContinuationHash(t *testing.T) {
	hash := ContinuationHash("client-nonce", "as-nonce", "interact-ref")

	require.NoError(t, ValidateContinuationHash(hash, hash))

	err := ValidateContinuationHash(hash, "wrong")
	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.Unauthorized, e.Kind)
}

func TestValidateVPNotReplayed(t *testing.T) {
	priors := []*entities.Verification{
		{Nonce: "n1", Success: false},
		{Nonce: "n2", Success: true},
	}

	require.NoError(t, ValidateVPNotReplayed(priors, "n1")) // failed attempt doesn't block reuse
	require.NoError(t, ValidateVPNotReplayed(priors, "n3"))

	err := ValidateVPNotReplayed(priors, "n2")
	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.Unauthorized, e.Kind)
}
