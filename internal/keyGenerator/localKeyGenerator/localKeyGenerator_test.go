package localKeyGenerator

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dscp-io/connector/pkg/logging"
)

func setup(t *testing.T) *LocalKeyGenerator {
	t.Helper()
	logger, err := logging.New(logging.Config{Level: "debug"})
	require.NoError(t, err)
	return NewLocalKeyGenerator(logger)
}

func TestLocalKeyGenerator_GenerateSigningKey(t *testing.T) {
	generator := setup(t)
	ctx := context.Background()

	result, err := generator.GenerateSigningKey(ctx, "test-key-1", "test-alias-1")
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.NotNil(t, result.PublicKey)
	assert.NotEmpty(t, result.KeyID)
	assert.True(t, strings.HasPrefix(result.KeyID, "local-key-"))
}

func TestLocalKeyGenerator_UniqueKeyIDs(t *testing.T) {
	generator := setup(t)
	ctx := context.Background()

	ids := make(map[string]bool)
	for i := 0; i < 5; i++ {
		result, err := generator.GenerateSigningKey(ctx, "k", "a")
		require.NoError(t, err)
		assert.False(t, ids[result.KeyID], "duplicate key id generated")
		ids[result.KeyID] = true
	}
	assert.Len(t, ids, 5)
}

func TestLocalKeyGenerator_GetSigningKeyByID(t *testing.T) {
	generator := setup(t)
	ctx := context.Background()

	generated, err := generator.GenerateSigningKey(ctx, "test-key", "test-alias")
	require.NoError(t, err)

	retrieved, err := generator.GetSigningKeyByID(ctx, generated.KeyID)
	require.NoError(t, err)
	assert.Equal(t, generated.KeyID, retrieved.KeyID)
	assert.Equal(t, generated.PublicKey.X, retrieved.PublicKey.X)
	assert.Equal(t, generated.PublicKey.Y, retrieved.PublicKey.Y)
}

func TestLocalKeyGenerator_GetSigningKeyByID_NotFound(t *testing.T) {
	generator := setup(t)
	_, err := generator.GetSigningKeyByID(context.Background(), "does-not-exist")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestLocalKeyGenerator_SignDigest(t *testing.T) {
	generator := setup(t)
	ctx := context.Background()

	generated, err := generator.GenerateSigningKey(ctx, "test-key-sign", "test-alias-sign")
	require.NoError(t, err)

	sig, err := generator.SignDigest(ctx, generated.KeyID, []byte("agreement payload"))
	require.NoError(t, err)
	assert.NotEmpty(t, sig)

	digest := sha256.Sum256([]byte("agreement payload"))
	ok := ecdsa.VerifyASN1(generated.PublicKey, digest[:], sig)
	assert.True(t, ok, "signature must verify against the generated public key")
}

func TestLocalKeyGenerator_SignDigest_NotFound(t *testing.T) {
	generator := setup(t)
	_, err := generator.SignDigest(context.Background(), "does-not-exist", []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestLocalKeyGenerator_LoadPrivateKey(t *testing.T) {
	generator := setup(t)

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	require.NoError(t, generator.LoadPrivateKey("loaded-key", privateKey, "k", "a"))
	assert.True(t, generator.KeyExists("loaded-key"))

	require.Error(t, generator.LoadPrivateKey("loaded-key", privateKey, "k", "a"))
}

func TestLocalKeyGenerator_ClearKeys(t *testing.T) {
	generator := setup(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := generator.GenerateSigningKey(ctx, "k", "a")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, generator.GetKeyCount())

	generator.ClearKeys()
	assert.Equal(t, 0, generator.GetKeyCount())
}
