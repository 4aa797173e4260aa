// Package boot is the composition-root helper shared by every cmd binary:
// it builds the repository.Store chosen by config.PersistenceBackend and
// the wallet.Signer chosen by config.KMSKeyID. Grounded on
// cmd/kmsServer/main.go's PersistenceConfig.Type switch (badger/redis/
// memory, fail-fast HealthCheck, deferred Close), generalized from one
// binary's inline wiring into a function every one of this repository's
// three agent binaries calls identically, per §9's "composition root"
// design note.
package boot

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"go.uber.org/zap"

	awsinternal "github.com/dscp-io/connector/internal/aws"
	"github.com/dscp-io/connector/internal/keyGenerator"
	"github.com/dscp-io/connector/internal/keyGenerator/awsKms"
	"github.com/dscp-io/connector/internal/keyGenerator/localKeyGenerator"
	"github.com/dscp-io/connector/pkg/config"
	"github.com/dscp-io/connector/pkg/repository"
	"github.com/dscp-io/connector/pkg/repository/badger"
	"github.com/dscp-io/connector/pkg/repository/memory"
	"github.com/dscp-io/connector/pkg/repository/redis"
	"github.com/dscp-io/connector/pkg/wallet"
)

// NewStore constructs the repository.Store named by cfg.PersistenceBackend
// and verifies it with HealthCheck before returning, matching the
// teacher's fail-fast boot sequence.
func NewStore(cfg *config.Config, logger *zap.Logger) (repository.Store, error) {
	var store repository.Store
	var err error

	switch cfg.PersistenceBackend {
	case config.BackendBadger:
		store, err = badger.New(cfg.BadgerPath, logger)
		if err != nil {
			return nil, fmt.Errorf("open badger store: %w", err)
		}
	case config.BackendRedis:
		store, err = redis.New(redis.Config{Address: cfg.RedisAddr}, logger)
		if err != nil {
			return nil, fmt.Errorf("connect redis store: %w", err)
		}
	default:
		store = memory.New()
		logger.Sugar().Warn("using in-memory persistence - data will be lost on restart")
	}

	if err := store.HealthCheck(); err != nil {
		return nil, fmt.Errorf("persistence health check failed: %w", err)
	}
	return store, nil
}

// NewSigner builds the wallet.Signer this node signs agreements and
// credentials with: an AWS KMS-held key when cfg.KMSKeyID is set
// (production custody), or a fresh in-process key otherwise (dev/test),
// matching the teacher's local-vs-AWS-KMS key generator split.
func NewSigner(ctx context.Context, cfg *config.Config, logger *zap.Logger) (wallet.Signer, error) {
	if cfg.KMSKeyID == "" {
		signer, err := wallet.NewEd25519Signer()
		if err != nil {
			return nil, fmt.Errorf("generate ephemeral signing key: %w", err)
		}
		logger.Sugar().Warn("using an ephemeral in-process signing key - not suitable for production custody")
		return signer, nil
	}

	awsCfg, err := awsinternal.LoadAWSConfig(ctx, cfg.AWSRegion)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	identity, err := awsinternal.GetCallerIdentity(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("verify aws caller identity: %w", err)
	}
	logger.Sugar().Infow("aws caller identity verified",
		"account", awssdk.ToString(identity.Account), "arn", awssdk.ToString(identity.Arn))
	gen := awsKms.NewAWSKMSKeyGenerator(awsCfg, cfg.AWSRegion, logger)
	signer, err := keyGenerator.NewSigner(ctx, gen, cfg.KMSKeyID)
	if err != nil {
		return nil, fmt.Errorf("load kms signing key %s: %w", cfg.KMSKeyID, err)
	}
	return signer, nil
}

// NewLocalKeyGenerator is a thin re-export so cmd binaries' `setup`
// subcommands can provision a fresh local key without importing
// internal/keyGenerator/localKeyGenerator directly.
func NewLocalKeyGenerator(logger *zap.Logger) keyGenerator.IKeyGenerator {
	return localKeyGenerator.NewLocalKeyGenerator(logger)
}
