// Package localKeyGenerator is the in-process keyGenerator.IKeyGenerator
// for development and tests — an ECDSA P-256 key store keyed by ID,
// generalized from the teacher's secp256k1/Ethereum LocalKeyGenerator into
// a generator that serves pkg/wallet.Signer instead of Ethereum addresses.
package localKeyGenerator

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dscp-io/connector/internal/keyGenerator"
)

type keyEntry struct {
	privateKey *ecdsa.PrivateKey
	keyName    string
	aliasName  string
}

// LocalKeyGenerator holds every provisioned key in memory, protected by a
// mutex the way the teacher's LocalKeyGenerator protects its keyStore.
type LocalKeyGenerator struct {
	logger   *zap.Logger
	keyStore map[string]*keyEntry
	mu       sync.RWMutex
}

func NewLocalKeyGenerator(logger *zap.Logger) *LocalKeyGenerator {
	return &LocalKeyGenerator{
		logger:   logger,
		keyStore: make(map[string]*keyEntry),
	}
}

func (l *LocalKeyGenerator) GenerateSigningKey(_ context.Context, keyName, aliasName string) (*keyGenerator.GeneratedKey, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ecdsa p-256 key: %w", err)
	}

	keyID := fmt.Sprintf("local-key-%s", uuid.New().String())

	l.mu.Lock()
	l.keyStore[keyID] = &keyEntry{privateKey: privateKey, keyName: keyName, aliasName: aliasName}
	l.mu.Unlock()

	l.logger.Info("generated local signing key",
		zap.String("keyName", keyName), zap.String("aliasName", aliasName), zap.String("keyId", keyID))

	return &keyGenerator.GeneratedKey{KeyID: keyID, PublicKey: &privateKey.PublicKey}, nil
}

func (l *LocalKeyGenerator) GetSigningKeyByID(_ context.Context, keyID string) (*keyGenerator.GeneratedKey, error) {
	l.mu.RLock()
	entry, ok := l.keyStore[keyID]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("key with id %s not found", keyID)
	}
	return &keyGenerator.GeneratedKey{KeyID: keyID, PublicKey: &entry.privateKey.PublicKey}, nil
}

func (l *LocalKeyGenerator) SignDigest(_ context.Context, keyID string, message []byte) ([]byte, error) {
	l.mu.RLock()
	entry, ok := l.keyStore[keyID]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("key with id %s not found", keyID)
	}

	digest := sha256.Sum256(message)
	sig, err := ecdsa.SignASN1(rand.Reader, entry.privateKey, digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign digest with key %s: %w", keyID, err)
	}
	return sig, nil
}

// LoadPrivateKey loads a pre-existing private key into the store under
// keyID — useful for tests that need a fixed signing key.
func (l *LocalKeyGenerator) LoadPrivateKey(keyID string, privateKey *ecdsa.PrivateKey, keyName, aliasName string) error {
	if privateKey == nil {
		return fmt.Errorf("private key cannot be nil")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.keyStore[keyID]; exists {
		return fmt.Errorf("key with id %s already exists", keyID)
	}
	l.keyStore[keyID] = &keyEntry{privateKey: privateKey, keyName: keyName, aliasName: aliasName}
	return nil
}

// KeyExists reports whether keyID has been provisioned.
func (l *LocalKeyGenerator) KeyExists(keyID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, exists := l.keyStore[keyID]
	return exists
}

// GetKeyCount returns the number of provisioned keys.
func (l *LocalKeyGenerator) GetKeyCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.keyStore)
}

// ClearKeys removes every provisioned key.
func (l *LocalKeyGenerator) ClearKeys() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keyStore = make(map[string]*keyEntry)
}

var _ keyGenerator.IKeyGenerator = (*LocalKeyGenerator)(nil)
