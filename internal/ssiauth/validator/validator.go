// Package validator holds the pure admissibility checks the GNAP grant
// machine runs before each state-machine transition, mirroring
// internal/negotiation/validator's shape.
package validator

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/dscp-io/connector/internal/ssiauth/entities"
	"github.com/dscp-io/connector/pkg/errs"
)

// ValidateGrantRequest checks the inbound GrantRequest carries a client
// key and at least one requested access descriptor (§4.3 flow step 1).
func ValidateGrantRequest(clientKeyThumbprint string, requestedAccess map[string]any) error {
	if clientKeyThumbprint == "" {
		return errs.New(errs.BadFormatReceived, "grant request requires an httpsig client key")
	}
	if len(requestedAccess) == 0 {
		return errs.New(errs.BadFormatReceived, "grant request requires at least one requested access descriptor")
	}
	return nil
}

// ValidateContinuationKey checks the bearer key presented with a
// continuation call matches the key used in the original grant request
// (§4.3 invariants: presenting the token with a different key is
// Unauthorized).
func ValidateContinuationKey(grant *entities.Grant, presentedKeyThumbprint string) error {
	if presentedKeyThumbprint == "" || presentedKeyThumbprint != grant.ClientKeyThumbprint {
		return errs.New(errs.Unauthorized, "continuation key does not match the grant's original client key")
	}
	return nil
}

// ContinuationHash computes the SHA-256 hex digest of
// (clientNonce, asNonce, interactRef) per §4.3 flow step 5.
func ContinuationHash(clientNonce, asNonce, interactRef string) string {
	h := sha256.New()
	h.Write([]byte(clientNonce))
	h.Write([]byte{0})
	h.Write([]byte(asNonce))
	h.Write([]byte{0})
	h.Write([]byte(interactRef))
	return hex.EncodeToString(h.Sum(nil))
}

// ValidateContinuationHash checks a presented hash against the expected
// one in constant time, per §4.3's "interactRef and hash must match
// exactly; mismatch -> FAILED (terminal)".
func ValidateContinuationHash(expected, presented string) error {
	if subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) != 1 {
		return errs.New(errs.Unauthorized, "continuation hash mismatch")
	}
	return nil
}

// ValidateVPNotReplayed checks the presented VP's nonce has not already
// been used in a successful Verification row for this grant (§4.3's "VP
// nonce is one-time; replaying a VP transitions session to FAILED").
func ValidateVPNotReplayed(priorVerifications []*entities.Verification, nonce string) error {
	for _, v := range priorVerifications {
		if v.Nonce == nonce && v.Success {
			return errs.New(errs.Unauthorized, "vp nonce %s already consumed by a successful verification", nonce)
		}
	}
	return nil
}
