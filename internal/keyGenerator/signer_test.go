package keyGenerator_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"testing"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dscp-io/connector/internal/keyGenerator"
	"github.com/dscp-io/connector/internal/keyGenerator/localKeyGenerator"
	"github.com/dscp-io/connector/pkg/logging"
	"github.com/dscp-io/connector/pkg/wallet"
)

func TestSigner_SignsAndExposesPublicJWK(t *testing.T) {
	logger, err := logging.New(logging.Config{Level: "debug"})
	require.NoError(t, err)

	gen := localKeyGenerator.NewLocalKeyGenerator(logger)
	generated, err := gen.GenerateSigningKey(context.Background(), "agreement-key", "agreement-key-alias")
	require.NoError(t, err)

	signer, err := keyGenerator.NewSigner(context.Background(), gen, generated.KeyID)
	require.NoError(t, err)

	sig, err := signer.Sign(context.Background(), []byte("agreement content"))
	require.NoError(t, err)
	assert.NotEmpty(t, sig)

	digest := sha256.Sum256([]byte("agreement content"))
	assert.True(t, ecdsa.VerifyASN1(generated.PublicKey, digest[:], sig))

	jwkKey, err := signer.PublicJWK()
	require.NoError(t, err)
	assert.NotNil(t, jwkKey)
}

func TestSigner_UnknownKeyIDFailsConstruction(t *testing.T) {
	logger, err := logging.New(logging.Config{Level: "debug"})
	require.NoError(t, err)
	gen := localKeyGenerator.NewLocalKeyGenerator(logger)

	_, err = keyGenerator.NewSigner(context.Background(), gen, "does-not-exist")
	require.Error(t, err)
}

// TestSigner_BacksWalletCredentialIssuance covers the production-custody
// path: a wallet backed by this ECDSA signer (standing in for an AWS KMS
// key) must still be able to issue a credential that verifies against its
// own public key, not just sign raw digests.
func TestSigner_BacksWalletCredentialIssuance(t *testing.T) {
	logger, err := logging.New(logging.Config{Level: "debug"})
	require.NoError(t, err)

	gen := localKeyGenerator.NewLocalKeyGenerator(logger)
	generated, err := gen.GenerateSigningKey(context.Background(), "credential-key", "credential-key-alias")
	require.NoError(t, err)
	signer, err := keyGenerator.NewSigner(context.Background(), gen, generated.KeyID)
	require.NoError(t, err)
	assert.Equal(t, "ES256", signer.Algorithm())

	w := wallet.NewWallet("did:example:issuer", signer, nil)
	token, err := w.IssueCredential(context.Background(), "did:example:subject", map[string]any{"role": "consumer"})
	require.NoError(t, err)

	pubJWK, err := signer.PublicJWK()
	require.NoError(t, err)
	require.NoError(t, pubJWK.Set(jwk.AlgorithmKey, jwa.ES256()))
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pubJWK))

	parsed, err := jwt.Parse([]byte(token), jwt.WithKeySet(set), jwt.WithValidate(true))
	require.NoError(t, err, "credential issued with a KMS-style ECDSA signer must still verify")
	sub, ok := parsed.Subject()
	require.True(t, ok)
	assert.Equal(t, "did:example:subject", sub)
}

var _ wallet.Signer = (*keyGenerator.Signer)(nil)
