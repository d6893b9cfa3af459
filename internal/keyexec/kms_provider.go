package keyexec

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	vault "github.com/hashicorp/vault/api"
)

// KMSProvider wraps and unwraps the master key with an external key service.
// Only the wrapped form is ever placed in process configuration.
type KMSProvider interface {
	// Encrypt wraps data under the provider's key.
	Encrypt(ctx context.Context, data []byte) ([]byte, error)

	// Decrypt unwraps data previously produced by Encrypt.
	Decrypt(ctx context.Context, encryptedData []byte) ([]byte, error)

	// Provider returns the provider name ("aws-kms" or "vault").
	Provider() string
}

// KMSProviderType represents supported KMS providers
type KMSProviderType string

const (
	// KMSProviderAWSKMS uses AWS KMS for encryption
	KMSProviderAWSKMS KMSProviderType = "aws-kms"

	// KMSProviderVault uses HashiCorp Vault Transit engine
	KMSProviderVault KMSProviderType = "vault"
)

// masterKeyPurpose binds a wrapped blob to its use. A ciphertext wrapped for
// anything else under the same KMS key does not unwrap here.
const masterKeyPurpose = "ledger-custody/master-key/v1"

// kmsAPI is the subset of the AWS KMS client used here.
type kmsAPI interface {
	Encrypt(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// AWSKMSProvider wraps with a symmetric AWS KMS key under a fixed encryption
// context.
type AWSKMSProvider struct {
	keyID  string
	client kmsAPI
}

// NewAWSKMSProvider creates a new AWS KMS provider. An empty region defers to
// the default AWS configuration chain.
func NewAWSKMSProvider(ctx context.Context, keyID, region string) (*AWSKMSProvider, error) {
	if keyID == "" {
		return nil, fmt.Errorf("AWS KMS key ID is required")
	}

	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	// Uses default credential chain: env vars, shared config, IAM role, etc.
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSKMSProvider{
		keyID:  keyID,
		client: kms.NewFromConfig(cfg),
	}, nil
}

func awsEncryptionContext() map[string]string {
	return map[string]string{"purpose": masterKeyPurpose}
}

// Encrypt wraps data. KMS returns an opaque blob that already names the key.
func (p *AWSKMSProvider) Encrypt(ctx context.Context, data []byte) ([]byte, error) {
	output, err := p.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:             aws.String(p.keyID),
		Plaintext:         data,
		EncryptionContext: awsEncryptionContext(),
	})
	if err != nil {
		return nil, fmt.Errorf("AWS KMS encrypt failed: %w", err)
	}
	return output.CiphertextBlob, nil
}

// Decrypt unwraps data. Pinning KeyId makes KMS refuse blobs produced by any
// other key.
func (p *AWSKMSProvider) Decrypt(ctx context.Context, encryptedData []byte) ([]byte, error) {
	output, err := p.client.Decrypt(ctx, &kms.DecryptInput{
		KeyId:             aws.String(p.keyID),
		CiphertextBlob:    encryptedData,
		EncryptionContext: awsEncryptionContext(),
	})
	if err != nil {
		return nil, fmt.Errorf("AWS KMS decrypt failed: %w", err)
	}
	return output.Plaintext, nil
}

// Provider returns the provider name
func (p *AWSKMSProvider) Provider() string {
	return string(KMSProviderAWSKMS)
}

// VaultProvider wraps with a Vault Transit key. The purpose is passed as
// associated data, which requires an AEAD key type such as aes256-gcm96.
type VaultProvider struct {
	transitKey string
	client     *vault.Client
}

// NewVaultProvider creates a new Vault provider
func NewVaultProvider(address, token, transitKey string) (*VaultProvider, error) {
	if address == "" {
		return nil, fmt.Errorf("Vault address is required")
	}
	if transitKey == "" {
		return nil, fmt.Errorf("Vault transit key name is required")
	}

	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = address

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	// An empty token leaves the client on VAULT_TOKEN from the environment.
	if token != "" {
		client.SetToken(token)
	}

	return &VaultProvider{
		transitKey: transitKey,
		client:     client,
	}, nil
}

// Encrypt wraps data. The vault:vN:... ciphertext is text and is stored as is.
func (p *VaultProvider) Encrypt(ctx context.Context, data []byte) ([]byte, error) {
	ciphertext, err := p.transit(ctx, "encrypt", "ciphertext", map[string]interface{}{
		"plaintext": base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return nil, err
	}
	return []byte(ciphertext), nil
}

// Decrypt unwraps a vault:vN:... ciphertext.
func (p *VaultProvider) Decrypt(ctx context.Context, encryptedData []byte) ([]byte, error) {
	ciphertext := strings.TrimSpace(string(encryptedData))
	if !strings.HasPrefix(ciphertext, "vault:v") {
		return nil, fmt.Errorf("Vault Transit decrypt: ciphertext is not a vault:v<N>: value")
	}

	plaintextB64, err := p.transit(ctx, "decrypt", "plaintext", map[string]interface{}{
		"ciphertext": ciphertext,
	})
	if err != nil {
		return nil, err
	}

	plaintext, err := base64.StdEncoding.DecodeString(plaintextB64)
	if err != nil {
		return nil, fmt.Errorf("Vault Transit decrypt: failed to decode plaintext")
	}
	return plaintext, nil
}

// transit calls transit/<op>/<key> and returns the named string field.
func (p *VaultProvider) transit(ctx context.Context, op, field string, body map[string]interface{}) (string, error) {
	body["associated_data"] = base64.StdEncoding.EncodeToString([]byte(masterKeyPurpose))

	secret, err := p.client.Logical().WriteWithContext(ctx, fmt.Sprintf("transit/%s/%s", op, p.transitKey), body)
	if err != nil {
		return "", fmt.Errorf("Vault Transit %s failed: %w", op, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("Vault Transit %s returned empty response", op)
	}

	value, ok := secret.Data[field].(string)
	if !ok {
		return "", fmt.Errorf("Vault Transit %s: %s not found in response", op, field)
	}
	return value, nil
}

// Provider returns the provider name
func (p *VaultProvider) Provider() string {
	return string(KMSProviderVault)
}

// Ensure providers implement KMSProvider
var (
	_ KMSProvider = (*AWSKMSProvider)(nil)
	_ KMSProvider = (*VaultProvider)(nil)
)
