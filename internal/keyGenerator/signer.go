package keyGenerator

import (
	"context"
	"fmt"

	"github.com/lestrrat-go/jwx/v3/jwk"
)

// Signer adapts any IKeyGenerator-provisioned key to pkg/wallet.Signer,
// so either the local or the AWS KMS generator can back the wallet's
// agreement and credential signing without the wallet package knowing
// which one is in play.
type Signer struct {
	gen   IKeyGenerator
	keyID string
	pub   *GeneratedKey
}

// NewSigner wraps keyID, provisioned by gen, as a wallet.Signer. The
// public key is fetched once at construction and cached.
func NewSigner(ctx context.Context, gen IKeyGenerator, keyID string) (*Signer, error) {
	pub, err := gen.GetSigningKeyByID(ctx, keyID)
	if err != nil {
		return nil, fmt.Errorf("load public key for %s: %w", keyID, err)
	}
	return &Signer{gen: gen, keyID: keyID, pub: pub}, nil
}

func (s *Signer) Sign(ctx context.Context, message []byte) ([]byte, error) {
	return s.gen.SignDigest(ctx, s.keyID, message)
}

func (s *Signer) PublicJWK() (jwk.Key, error) {
	key, err := jwk.Import(s.pub.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("import ecdsa public key %s: %w", s.keyID, err)
	}
	return key, nil
}

// Algorithm reports ES256: every key this package provisions is P-256,
// the only curve awsKms.AWSKMSKeyGenerator and localKeyGenerator create.
func (s *Signer) Algorithm() string { return "ES256" }
