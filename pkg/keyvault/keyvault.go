// Package keyvault custodies the two secrets a signer process needs at
// startup: the cold Ed25519 signing key that authors OpCerts, and the
// KES signing key seed an OpCert's hot key evolves from. It generalizes
// the teacher's AWS KMS-backed remote signer from an Ethereum
// transaction-signing custodian into a key-bytes custodian: rather than
// asking KMS to sign on the node's behalf, the node asks KMS to decrypt
// the at-rest ciphertext of its cold/KES key material into memory at
// startup.
package keyvault

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/cardano-stm/mithril-core/pkg/kes"
)

// KeySource loads a signer's cold signing key and KES seed. Two
// implementations are provided: FileKeySource for local bring-up,
// AWSKMSKeySource for production custody behind a KMS customer key.
type KeySource interface {
	LoadColdSigningKey(ctx context.Context) (ed25519.PrivateKey, error)
	LoadKesSeed(ctx context.Context) ([]byte, error)
}

// FileKeySource reads key material directly from the Shelley envelope
// files on disk, unencrypted. Suitable for local development and test
// networks only.
type FileKeySource struct {
	ColdKeyPath string
	KesKeyPath  string
}

// LoadColdSigningKey reads the cold signing key envelope and returns the
// Ed25519 private key derived from its seed bytes.
func (f *FileKeySource) LoadColdSigningKey(_ context.Context) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(f.ColdKeyPath)
	if err != nil {
		return nil, fmt.Errorf("keyvault: reading cold key file: %w", err)
	}
	seed, err := kes.LoadSigningKeySeed(data)
	if err != nil {
		return nil, fmt.Errorf("keyvault: parsing cold key envelope: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("keyvault: cold key seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// LoadKesSeed reads the KES signing key envelope and returns its raw
// seed bytes, opaque to this package.
func (f *FileKeySource) LoadKesSeed(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(f.KesKeyPath)
	if err != nil {
		return nil, fmt.Errorf("keyvault: reading kes key file: %w", err)
	}
	seed, err := kes.LoadSigningKeySeed(data)
	if err != nil {
		return nil, fmt.Errorf("keyvault: parsing kes key envelope: %w", err)
	}
	return seed, nil
}

// AWSKMSKeySource reads the same Shelley envelope files, but treats
// their payload as ciphertext produced by an AWS KMS customer master
// key; the plaintext seed only ever exists in process memory, never on
// disk.
type AWSKMSKeySource struct {
	client             *kms.Client
	coldKeyID          string
	kesKeyID           string
	coldCiphertextPath string
	kesCiphertextPath  string
}

// NewAWSKMSKeySource builds a key source backed by a KMS client built
// from awsCfg. coldKeyID/kesKeyID are the KMS key ids (or aliases) that
// encrypted the ciphertext at the given paths.
func NewAWSKMSKeySource(awsCfg aws.Config, coldKeyID, kesKeyID, coldCiphertextPath, kesCiphertextPath string) *AWSKMSKeySource {
	return &AWSKMSKeySource{
		client:             kms.NewFromConfig(awsCfg),
		coldKeyID:          coldKeyID,
		kesKeyID:           kesKeyID,
		coldCiphertextPath: coldCiphertextPath,
		kesCiphertextPath:  kesCiphertextPath,
	}
}

func (a *AWSKMSKeySource) decrypt(ctx context.Context, keyID, path string) ([]byte, error) {
	ciphertext, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keyvault: reading ciphertext %s: %w", path, err)
	}
	out, err := a.client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: ciphertext,
		KeyId:          aws.String(keyID),
	})
	if err != nil {
		return nil, fmt.Errorf("keyvault: kms decrypt %s: %w", keyID, err)
	}
	return out.Plaintext, nil
}

// LoadColdSigningKey decrypts the cold key ciphertext under coldKeyID
// and returns the Ed25519 private key derived from the resulting seed.
func (a *AWSKMSKeySource) LoadColdSigningKey(ctx context.Context) (ed25519.PrivateKey, error) {
	seed, err := a.decrypt(ctx, a.coldKeyID, a.coldCiphertextPath)
	if err != nil {
		return nil, err
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("keyvault: decrypted cold key seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// LoadKesSeed decrypts the KES key ciphertext under kesKeyID and
// returns the resulting seed bytes.
func (a *AWSKMSKeySource) LoadKesSeed(ctx context.Context) ([]byte, error) {
	return a.decrypt(ctx, a.kesKeyID, a.kesCiphertextPath)
}
