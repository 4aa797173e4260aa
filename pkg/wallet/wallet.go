// Package wallet is the pure I/O boundary to the SSI subsystem (§4.4):
// generateVPD, verifyVP, signAgreement, issueCredential, getDid, getJwks.
// JWKS/VP verification is grounded on pkg/attestation/attestation.go's
// lestrrat-go/jwx/v3 + lestrrat-go/httprc/v3 usage (jwk.NewCache +
// jwt.Parse(jwt.WithKeySet(...))) — the same "resolve remote signing
// material, then verify a JWT against it" shape, generalized from a
// hardware-attestation token to a W3C Verifiable Presentation JWT.
// Signing is grounded on the localKeyGenerator vs. awsKmsKeyGenerator split
// in internal/keyGenerator: an in-process Ed25519 key for local/test runs,
// or AWS KMS for production custody.
package wallet

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/asn1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/dscp-io/connector/pkg/errs"
	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jws"
	"github.com/lestrrat-go/jwx/v3/jwt"
)

// VPD is a Verifiable Presentation Definition bound to a session's nonce
// and audience (§4.3 step 2).
type VPD struct {
	Nonce    string         `json:"nonce"`
	Audience string         `json:"audience"`
	Claims   map[string]any `json:"claims"`
}

// VerifiedVP is the outcome of a successful VP verification, feeding the
// Verification row of §3.
type VerifiedVP struct {
	Holder string
	Nonce  string
	Issuer string
}

// Facade is the capability the SSI machine holds for every wallet
// operation.
type Facade interface {
	GenerateVPD(ctx context.Context, nonce, audience string, claims map[string]any) (*VPD, error)
	VerifyVP(ctx context.Context, vpJWT string, expectedNonce, expectedAudience string) (*VerifiedVP, error)
	SignAgreement(ctx context.Context, content []byte) (signature []byte, err error)
	IssueCredential(ctx context.Context, subjectDID string, claims map[string]any) (string, error)
	GetDID(ctx context.Context) string
	GetJWKS(ctx context.Context) (jwk.Set, error)
}

// Signer abstracts the agreement/VC signing key, produced either by an
// in-process Ed25519 key or an AWS KMS-held key.
type Signer interface {
	Sign(ctx context.Context, message []byte) ([]byte, error)
	PublicJWK() (jwk.Key, error)
	// Algorithm reports the JWS alg this signer's output is valid under,
	// so IssueCredential can label the protected header without knowing
	// which concrete key backs the signer.
	Algorithm() string
}

// Ed25519Signer holds an in-process private key — the "local key
// generator" path, for development and tests.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewEd25519Signer generates a fresh in-process signing key.
func NewEd25519Signer() (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return &Ed25519Signer{priv: priv, pub: pub}, nil
}

func (s *Ed25519Signer) Sign(_ context.Context, message []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, message), nil
}

func (s *Ed25519Signer) PublicJWK() (jwk.Key, error) {
	key, err := jwk.Import(s.pub)
	if err != nil {
		return nil, fmt.Errorf("import ed25519 public key: %w", err)
	}
	return key, nil
}

func (s *Ed25519Signer) Algorithm() string { return "EdDSA" }

// Wallet is the production Facade.
type Wallet struct {
	did    string
	signer Signer

	jwksCacheMu sync.Mutex
	jwksCache   map[string]jwk.Set // issuer DID JWKS endpoint -> cached set

	jwksResolver JWKSResolver
}

// JWKSResolver resolves a DID to the JWKS endpoint that holds its signing
// keys — a stand-in for full DID resolution, which this repository treats
// as part of the wallet's own boundary per §1 ("the wallet ... treated as
// an oracle that issues, holds, and verifies VCs and VPs").
type JWKSResolver func(ctx context.Context, issuerDID string) (jwk.Set, error)

// NewWallet constructs a production Facade for did, signing with signer
// and resolving issuer JWKS via resolve.
func NewWallet(did string, signer Signer, resolve JWKSResolver) *Wallet {
	return &Wallet{did: did, signer: signer, jwksCache: make(map[string]jwk.Set), jwksResolver: resolve}
}

func (w *Wallet) GenerateVPD(_ context.Context, nonce, audience string, claims map[string]any) (*VPD, error) {
	if nonce == "" || audience == "" {
		return nil, errs.New(errs.BadFormatEmitted, "vpd requires nonce and audience")
	}
	return &VPD{Nonce: nonce, Audience: audience, Claims: claims}, nil
}

// VerifyVP validates a VP JWT per §4.3 step 3's ordered checklist: JWT
// signature, nonce, audience, holder, then caller-supplied claim checks.
func (w *Wallet) VerifyVP(ctx context.Context, vpJWT string, expectedNonce, expectedAudience string) (*VerifiedVP, error) {
	unverified, err := jwt.ParseInsecure([]byte(vpJWT))
	if err != nil {
		return nil, errs.Wrap(errs.Unauthorized, err, "parse vp jwt")
	}
	issuer, ok := unverified.Issuer()
	if !ok || issuer == "" {
		return nil, errs.New(errs.Unauthorized, "vp jwt missing issuer claim")
	}

	keySet, err := w.resolveJWKS(ctx, issuer)
	if err != nil {
		return nil, errs.Wrap(errs.Unauthorized, err, "resolve jwks for issuer %s", issuer)
	}

	// DID-resolved JWKS entries routinely omit kid/alg, so key selection
	// infers the algorithm from the key material instead of header matching.
	token, err := jwt.Parse([]byte(vpJWT),
		jwt.WithKeySet(keySet, jws.WithInferAlgorithmFromKey(true), jws.WithRequireKid(false)),
		jwt.WithValidate(true))
	if err != nil {
		return nil, errs.Wrap(errs.Unauthorized, err, "verify vp jwt signature")
	}

	var nonce string
	if err := token.Get("nonce", &nonce); err != nil || nonce != expectedNonce {
		return nil, errs.New(errs.Unauthorized, "vp nonce mismatch")
	}

	audiences, ok := token.Audience()
	if !ok || len(audiences) != 1 || audiences[0] != expectedAudience {
		return nil, errs.New(errs.Unauthorized, "vp audience mismatch")
	}

	subject, ok := token.Subject()
	if !ok || subject == "" {
		return nil, errs.New(errs.Unauthorized, "vp jwt missing subject (holder) claim")
	}

	return &VerifiedVP{Holder: subject, Nonce: expectedNonce, Issuer: issuer}, nil
}

func (w *Wallet) resolveJWKS(ctx context.Context, issuerDID string) (jwk.Set, error) {
	w.jwksCacheMu.Lock()
	defer w.jwksCacheMu.Unlock()

	if set, ok := w.jwksCache[issuerDID]; ok {
		return set, nil
	}
	set, err := w.jwksResolver(ctx, issuerDID)
	if err != nil {
		return nil, err
	}
	w.jwksCache[issuerDID] = set
	return set, nil
}

func (w *Wallet) SignAgreement(ctx context.Context, content []byte) ([]byte, error) {
	sig, err := w.signer.Sign(ctx, content)
	if err != nil {
		return nil, errs.Wrap(errs.Peer, err, "sign agreement")
	}
	return sig, nil
}

func (w *Wallet) IssueCredential(ctx context.Context, subjectDID string, claims map[string]any) (string, error) {
	tok, err := jwt.NewBuilder().
		Issuer(w.did).
		Subject(subjectDID).
		IssuedAt(time.Now()).
		Expiration(time.Now().Add(24 * time.Hour)).
		Build()
	if err != nil {
		return "", errs.Wrap(errs.Parse, err, "build credential")
	}
	for k, v := range claims {
		if err := tok.Set(k, v); err != nil {
			return "", errs.Wrap(errs.Parse, err, "set claim %s", k)
		}
	}

	payload, err := json.Marshal(tok)
	if err != nil {
		return "", errs.Wrap(errs.Parse, err, "marshal credential claims")
	}
	header, err := json.Marshal(map[string]string{"alg": w.signer.Algorithm(), "typ": "JWT"})
	if err != nil {
		return "", errs.Wrap(errs.Parse, err, "marshal credential header")
	}

	signingInput := b64url(header) + "." + b64url(payload)
	sig, err := w.signer.Sign(ctx, []byte(signingInput))
	if err != nil {
		return "", errs.Wrap(errs.Peer, err, "sign credential")
	}
	if w.signer.Algorithm() == "ES256" {
		sig, err = derToRawECDSA(sig, 32)
		if err != nil {
			return "", errs.Wrap(errs.Peer, err, "encode credential signature")
		}
	}

	return signingInput + "." + b64url(sig), nil
}

func b64url(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }

// derToRawECDSA converts an ASN.1 DER ECDSA signature — the encoding AWS
// KMS (and SignDigest generally) returns — into the fixed-width r||s
// concatenation JWS requires for the ES256 family, per RFC 7518 §3.4.
func derToRawECDSA(der []byte, coordSize int) ([]byte, error) {
	var parsed struct{ R, S *big.Int }
	if _, err := asn1.Unmarshal(der, &parsed); err != nil {
		return nil, fmt.Errorf("parse der ecdsa signature: %w", err)
	}
	raw := make([]byte, 2*coordSize)
	parsed.R.FillBytes(raw[:coordSize])
	parsed.S.FillBytes(raw[coordSize:])
	return raw, nil
}

func (w *Wallet) GetDID(_ context.Context) string { return w.did }

func (w *Wallet) GetJWKS(_ context.Context) (jwk.Set, error) {
	key, err := w.signer.PublicJWK()
	if err != nil {
		return nil, errs.Wrap(errs.Parse, err, "build jwks")
	}
	set := jwk.NewSet()
	if err := set.AddKey(key); err != nil {
		return nil, errs.Wrap(errs.Parse, err, "add key to jwks")
	}
	return set, nil
}

// NewJWKSCache builds an httprc-backed refreshing cache for a remote JWKS
// endpoint, exactly as pkg/attestation.NewJWKCache does for attestation
// issuers.
func NewJWKSCache(ctx context.Context, jwksURL string, refreshInterval time.Duration) (jwk.Set, error) {
	cache, err := jwk.NewCache(ctx, httprc.NewClient())
	if err != nil {
		return nil, fmt.Errorf("create jwk cache: %w", err)
	}
	if err := cache.Register(ctx, jwksURL, jwk.WithConstantInterval(refreshInterval)); err != nil {
		return nil, fmt.Errorf("register jwks endpoint %s: %w", jwksURL, err)
	}
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("initial jwks fetch from %s: %w", jwksURL, err)
	}
	return cache.CachedSet(jwksURL)
}

var _ Facade = (*Wallet)(nil)
