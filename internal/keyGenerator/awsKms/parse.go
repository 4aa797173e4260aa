package awsKms

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
)

// parseECDSAPublicKeyDER parses the SubjectPublicKeyInfo DER KMS returns
// from GetPublicKey into a standard library ECDSA public key.
func parseECDSAPublicKeyDER(der []byte) (*ecdsa.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse subject public key info: %w", err)
	}
	ecdsaPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("kms public key is %T, not ecdsa", pub)
	}
	return ecdsaPub, nil
}

func sha256Sum(message []byte) []byte {
	sum := sha256.Sum256(message)
	return sum[:]
}
