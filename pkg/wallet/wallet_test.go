package wallet

import (
	"context"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dscp-io/connector/pkg/errs"
)

func newTestWallet(t *testing.T) (*Wallet, *Ed25519Signer) {
	t.Helper()
	signer, err := NewEd25519Signer()
	require.NoError(t, err)

	pubJWK, err := signer.PublicJWK()
	require.NoError(t, err)
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pubJWK))

	resolver := func(_ context.Context, _ string) (jwk.Set, error) { return set, nil }
	return NewWallet("did:example:issuer", signer, resolver), signer
}

func signVP(t *testing.T, signer *Ed25519Signer, issuer, subject, nonce, audience string) string {
	t.Helper()
	tok, err := jwt.NewBuilder().
		Issuer(issuer).
		Subject(subject).
		Audience([]string{audience}).
		Claim("nonce", nonce).
		IssuedAt(time.Now()).
		Expiration(time.Now().Add(time.Hour)).
		Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.EdDSA(), signer.priv))
	require.NoError(t, err)
	return string(signed)
}

func TestGenerateVPD(t *testing.T) {
	w, _ := newTestWallet(t)

	vpd, err := w.GenerateVPD(context.Background(), "nonce-1", "aud-1", map[string]any{"type": "CredentialX"})
	require.NoError(t, err)
	assert.Equal(t, "nonce-1", vpd.Nonce)
	assert.Equal(t, "aud-1", vpd.Audience)

	_, err = w.GenerateVPD(context.Background(), "", "aud-1", nil)
	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.BadFormatEmitted, e.Kind)
}

func TestVerifyVP_Success(t *testing.T) {
	w, signer := newTestWallet(t)
	vp := signVP(t, signer, "did:example:issuer", "did:example:holder", "nonce-1", "aud-1")

	verified, err := w.VerifyVP(context.Background(), vp, "nonce-1", "aud-1")
	require.NoError(t, err)
	assert.Equal(t, "did:example:holder", verified.Holder)
	assert.Equal(t, "nonce-1", verified.Nonce)
	assert.Equal(t, "did:example:issuer", verified.Issuer)
}

func TestVerifyVP_NonceMismatch(t *testing.T) {
	w, signer := newTestWallet(t)
	vp := signVP(t, signer, "did:example:issuer", "did:example:holder", "nonce-1", "aud-1")

	_, err := w.VerifyVP(context.Background(), vp, "wrong-nonce", "aud-1")
	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.Unauthorized, e.Kind)
}

func TestVerifyVP_AudienceMismatch(t *testing.T) {
	w, signer := newTestWallet(t)
	vp := signVP(t, signer, "did:example:issuer", "did:example:holder", "nonce-1", "aud-1")

	_, err := w.VerifyVP(context.Background(), vp, "nonce-1", "wrong-aud")
	require.Error(t, err)
}

func TestVerifyVP_WrongSignerIsRejected(t *testing.T) {
	w, _ := newTestWallet(t)
	impostor, err := NewEd25519Signer()
	require.NoError(t, err)
	vp := signVP(t, impostor, "did:example:issuer", "did:example:holder", "nonce-1", "aud-1")

	_, err = w.VerifyVP(context.Background(), vp, "nonce-1", "aud-1")
	require.Error(t, err)
}

func TestSignAgreement(t *testing.T) {
	w, signer := newTestWallet(t)

	sig, err := w.SignAgreement(context.Background(), []byte("agreement content"))
	require.NoError(t, err)
	assert.NotEmpty(t, sig)

	direct, err := signer.Sign(context.Background(), []byte("agreement content"))
	require.NoError(t, err)
	assert.Equal(t, direct, sig)
}

func TestIssueCredential(t *testing.T) {
	w, signer := newTestWallet(t)

	token, err := w.IssueCredential(context.Background(), "did:example:subject", map[string]any{"role": "consumer"})
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	pubJWK, err := signer.PublicJWK()
	require.NoError(t, err)
	require.NoError(t, pubJWK.Set(jwk.AlgorithmKey, jwa.EdDSA()))
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pubJWK))

	parsed, err := jwt.Parse([]byte(token), jwt.WithKeySet(set), jwt.WithValidate(true))
	require.NoError(t, err, "the hand-rolled compact JWS must verify against the signer's own public key")
	sub, ok := parsed.Subject()
	require.True(t, ok)
	assert.Equal(t, "did:example:subject", sub)
}

func TestGetJWKSAndGetDID(t *testing.T) {
	w, _ := newTestWallet(t)

	assert.Equal(t, "did:example:issuer", w.GetDID(context.Background()))

	set, err := w.GetJWKS(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, set.Len())
}
