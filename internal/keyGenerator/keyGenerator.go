// Package keyGenerator provisions and retrieves named ECDSA P-256 signing
// keys, backed either by an in-process key (localKeyGenerator, dev/test)
// or AWS KMS (awsKms, production custody) — the split the teacher drew
// between its secp256k1/Ethereum local and AWS KMS key generators,
// generalized here to produce pkg/wallet.Signer instances for agreement
// and credential signing instead of Ethereum transaction signers.
package keyGenerator

import (
	"context"
	"crypto/ecdsa"
)

// GeneratedKey identifies a provisioned signing key and exposes its
// public half for JWKS publication via pkg/wallet.
type GeneratedKey struct {
	KeyID     string
	PublicKey *ecdsa.PublicKey
}

// IKeyGenerator is the capability to provision, look up, and sign with a
// named key. Both implementations in this package satisfy it.
type IKeyGenerator interface {
	GenerateSigningKey(ctx context.Context, keyName, aliasName string) (*GeneratedKey, error)
	GetSigningKeyByID(ctx context.Context, keyID string) (*GeneratedKey, error)
	// SignDigest signs the SHA-256 digest of message and returns an
	// ASN.1 DER-encoded ECDSA signature, matching the encoding AWS KMS
	// returns natively.
	SignDigest(ctx context.Context, keyID string, message []byte) ([]byte, error)
}
