// Package awsKms is the production keyGenerator.IKeyGenerator, backed by
// AWS KMS asymmetric ECC_NIST_P256 keys — generalized from the teacher's
// AWSKMSKeyGenerator (which provisioned secp256k1 keys and Ethereum
// signatures) into a generator that serves pkg/wallet.Signer with
// ASN.1 DER ECDSA signatures, dropping the Ethereum-specific recovery-ID
// and address-derivation logic that VC/agreement signing has no use for.
package awsKms

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dscp-io/connector/internal/keyGenerator"
)

// AWSKMSKeyGenerator provisions and signs with AWS KMS-held P-256 keys.
type AWSKMSKeyGenerator struct {
	logger    *zap.Logger
	kmsClient *kms.Client
	awsRegion string
}

// NewAWSKMSKeyGenerator constructs a generator over awsCfg, reporting
// awsRegion in error messages and logs.
func NewAWSKMSKeyGenerator(awsCfg aws.Config, awsRegion string, logger *zap.Logger) *AWSKMSKeyGenerator {
	return &AWSKMSKeyGenerator{
		logger:    logger,
		kmsClient: kms.NewFromConfig(awsCfg),
		awsRegion: awsRegion,
	}
}

func (a *AWSKMSKeyGenerator) GenerateSigningKey(ctx context.Context, keyName, aliasName string) (*keyGenerator.GeneratedKey, error) {
	created, err := a.createSigningKey(ctx, keyName)
	if err != nil {
		return nil, errors.Wrapf(err, "create signing key %s in region %s", keyName, a.awsRegion)
	}

	keyID := *created.KeyMetadata.KeyId
	if err := a.createKeyAlias(ctx, keyID, aliasName); err != nil {
		return nil, errors.Wrapf(err, "create alias %s for key %s in region %s", aliasName, keyID, a.awsRegion)
	}

	return a.GetSigningKeyByID(ctx, keyID)
}

func (a *AWSKMSKeyGenerator) GetSigningKeyByID(ctx context.Context, keyID string) (*keyGenerator.GeneratedKey, error) {
	der, err := a.getPublicKeyDER(ctx, keyID)
	if err != nil {
		return nil, errors.Wrapf(err, "get public key for %s in region %s", keyID, a.awsRegion)
	}

	pub, err := parseECDSAPublicKeyDER(der)
	if err != nil {
		return nil, errors.Wrapf(err, "parse public key for %s in region %s", keyID, a.awsRegion)
	}

	return &keyGenerator.GeneratedKey{KeyID: keyID, PublicKey: pub}, nil
}

func (a *AWSKMSKeyGenerator) SignDigest(ctx context.Context, keyID string, message []byte) ([]byte, error) {
	digest := sha256Sum(message)

	out, err := a.kmsClient.Sign(ctx, &kms.SignInput{
		KeyId:            aws.String(keyID),
		Message:          digest,
		MessageType:      types.MessageTypeDigest,
		SigningAlgorithm: types.SigningAlgorithmSpecEcdsaSha256,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "sign digest with key %s in region %s", keyID, a.awsRegion)
	}
	return out.Signature, nil
}

func (a *AWSKMSKeyGenerator) createSigningKey(ctx context.Context, keyName string) (*kms.CreateKeyOutput, error) {
	input := &kms.CreateKeyInput{
		KeyUsage:    types.KeyUsageTypeSignVerify,
		KeySpec:     types.KeySpecEccNistP256,
		Description: aws.String(fmt.Sprintf("ECDSA P-256 signing key - %s", keyName)),
		Tags: []types.Tag{
			{TagKey: aws.String("Name"), TagValue: aws.String(keyName)},
			{TagKey: aws.String("Purpose"), TagValue: aws.String("dataspace-connector-signing-key")},
		},
	}
	result, err := a.kmsClient.CreateKey(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("create kms key: %w", err)
	}
	return result, nil
}

func (a *AWSKMSKeyGenerator) createKeyAlias(ctx context.Context, keyID, aliasName string) error {
	_, err := a.kmsClient.CreateAlias(ctx, &kms.CreateAliasInput{
		AliasName:   aws.String(fmt.Sprintf("alias/%s", aliasName)),
		TargetKeyId: aws.String(keyID),
	})
	if err != nil {
		return fmt.Errorf("create key alias: %w", err)
	}
	return nil
}

func (a *AWSKMSKeyGenerator) getPublicKeyDER(ctx context.Context, keyID string) ([]byte, error) {
	out, err := a.kmsClient.GetPublicKey(ctx, &kms.GetPublicKeyInput{KeyId: aws.String(keyID)})
	if err != nil {
		return nil, fmt.Errorf("get public key: %w", err)
	}
	return out.PublicKey, nil
}

var _ keyGenerator.IKeyGenerator = (*AWSKMSKeyGenerator)(nil)
