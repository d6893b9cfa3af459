package keyexec

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"github.com/better-wallet/ledger-custody/internal/crypto"
	"github.com/better-wallet/ledger-custody/internal/logger"
	apperrors "github.com/better-wallet/ledger-custody/pkg/errors"
)

// MasterKeySource hands out the process master key. Each call returns a fresh
// copy that the caller must Destroy as soon as it is done.
type MasterKeySource interface {
	MasterKey(ctx context.Context) (*crypto.Key, error)
}

// MasterKeyConfig selects and configures a MasterKeySource.
type MasterKeyConfig struct {
	// Source is "env", "aws-kms" or "vault".
	Source string

	// Encoded is the base64 master key for the env source.
	Encoded string

	// Ciphertext is the wrapped master key for aws-kms (base64 blob) and
	// vault (vault:v1:...).
	Ciphertext string

	AWSKMSKeyID     string
	AWSKMSRegion    string
	VaultAddress    string
	VaultToken      string
	VaultTransitKey string
}

// NewMasterKeySource builds the configured source. It never touches the key
// itself; problems with the key surface on first use.
func NewMasterKeySource(ctx context.Context, cfg MasterKeyConfig) (MasterKeySource, error) {
	switch cfg.Source {
	case "env", "":
		return NewEnvMasterKey(cfg.Encoded), nil

	case string(KMSProviderAWSKMS):
		provider, err := NewAWSKMSProvider(ctx, cfg.AWSKMSKeyID, cfg.AWSKMSRegion)
		if err != nil {
			return nil, err
		}
		return NewWrappedMasterKey(provider, cfg.Ciphertext), nil

	case string(KMSProviderVault):
		provider, err := NewVaultProvider(cfg.VaultAddress, cfg.VaultToken, cfg.VaultTransitKey)
		if err != nil {
			return nil, err
		}
		return NewWrappedMasterKey(provider, cfg.Ciphertext), nil

	default:
		return nil, fmt.Errorf("unsupported master key source: %s (supported: env, %s, %s)",
			cfg.Source, KMSProviderAWSKMS, KMSProviderVault)
	}
}

// EnvMasterKey decodes a base64 key from configuration on every call, so the
// decoded key only exists for the duration of one operation.
type EnvMasterKey struct {
	encoded string
}

// NewEnvMasterKey creates an EnvMasterKey.
func NewEnvMasterKey(encoded string) *EnvMasterKey {
	return &EnvMasterKey{encoded: encoded}
}

// MasterKey implements MasterKeySource.
func (s *EnvMasterKey) MasterKey(_ context.Context) (*crypto.Key, error) {
	return crypto.DeriveKey(s.encoded)
}

// WrappedMasterKey unwraps the master key through a KMSProvider on first use
// and keeps it in locked memory for the life of the process.
type WrappedMasterKey struct {
	provider   KMSProvider
	ciphertext string

	mu  sync.Mutex
	key *crypto.Key
}

// NewWrappedMasterKey creates a WrappedMasterKey.
func NewWrappedMasterKey(provider KMSProvider, ciphertext string) *WrappedMasterKey {
	return &WrappedMasterKey{provider: provider, ciphertext: strings.TrimSpace(ciphertext)}
}

// MasterKey implements MasterKeySource. A failed unwrap is not cached.
func (s *WrappedMasterKey) MasterKey(ctx context.Context) (*crypto.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.key == nil {
		key, err := s.unwrap(ctx)
		if err != nil {
			return nil, err
		}
		s.key = key
		logger.Info(ctx, "master key unwrapped", "provider", s.provider.Provider())
	}
	return s.key.Clone(), nil
}

func (s *WrappedMasterKey) unwrap(ctx context.Context) (*crypto.Key, error) {
	if s.ciphertext == "" {
		return nil, apperrors.Configuration("MASTER_KEY_CIPHERTEXT is not configured")
	}

	wrapped := []byte(s.ciphertext)
	if !strings.HasPrefix(s.ciphertext, "vault:") {
		decoded, err := base64.StdEncoding.DecodeString(s.ciphertext)
		if err != nil {
			return nil, apperrors.Configuration("MASTER_KEY_CIPHERTEXT is not valid base64")
		}
		wrapped = decoded
	}

	raw, err := s.provider.Decrypt(ctx, wrapped)
	if err != nil {
		logger.Error(ctx, "master key unwrap failed", "provider", s.provider.Provider(), "error", err)
		return nil, apperrors.Configuration(fmt.Sprintf("failed to unwrap master key with %s", s.provider.Provider()))
	}
	defer crypto.Wipe(raw)

	return crypto.NewKey(raw)
}

// Close wipes the cached key.
func (s *WrappedMasterKey) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.key.Destroy()
	s.key = nil
}

// Wrap encrypts a raw master key with provider and renders it in the form
// MASTER_KEY_CIPHERTEXT expects.
func Wrap(ctx context.Context, provider KMSProvider, raw []byte) (string, error) {
	if len(raw) != crypto.KeySize {
		return "", apperrors.Configuration(fmt.Sprintf("master key must be %d bytes", crypto.KeySize))
	}
	wrapped, err := provider.Encrypt(ctx, raw)
	if err != nil {
		return "", err
	}
	if provider.Provider() == string(KMSProviderVault) {
		return string(wrapped), nil
	}
	return base64.StdEncoding.EncodeToString(wrapped), nil
}
