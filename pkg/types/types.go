package types

import (
	"time"

	"github.com/google/uuid"
)

// Network identifies the ledger a wallet lives on
type Network string

// Network constants
const (
	NetworkPublic  Network = "PUBLIC"
	NetworkTestnet Network = "TESTNET"
)

// Valid reports whether n is a supported network.
func (n Network) Valid() bool {
	return n == NetworkPublic || n == NetworkTestnet
}

// KeyDerivation describes how the key protecting a secret was obtained.
// NONE means the secret is sealed directly under the process master key.
type KeyDerivation string

// KeyDerivation constants
const (
	KeyDerivationPBKDF2 KeyDerivation = "PBKDF2"
	KeyDerivationArgon2 KeyDerivation = "ARGON2"
	KeyDerivationNone   KeyDerivation = "NONE"
)

// Valid reports whether k is a supported derivation method.
func (k KeyDerivation) Valid() bool {
	switch k {
	case KeyDerivationPBKDF2, KeyDerivationArgon2, KeyDerivationNone:
		return true
	}
	return false
}

// Custody is the capability that decides who can produce signatures.
type Custody string

// Custody constants
const (
	// CustodyServer: the secret is sealed under the master key and decrypted transiently to sign.
	CustodyServer Custody = "SERVER"
	// CustodyClient: only client ciphertext (or nothing) is stored; the client signs.
	CustodyClient Custody = "CLIENT"
	// CustodyExternal: the key lives in an external module referenced by ExternalCustodyRef.
	CustodyExternal Custody = "EXTERNAL"
)

// SealedSecret is the authenticated-encryption output stored for a secret.
// All three fields are base64 encoded and always set together.
type SealedSecret struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	AuthTag    string `json:"auth_tag"`
}

// MultisigSigner is one weighted signer key.
type MultisigSigner struct {
	Key    string `json:"key"`
	Weight int    `json:"weight"`
}

// MultisigConfig is the threshold configuration of a multi-signature account.
type MultisigConfig struct {
	Threshold int              `json:"threshold"`
	Signers   []MultisigSigner `json:"signers"`
}

// TotalWeight sums the weights of all signers.
func (m *MultisigConfig) TotalWeight() int {
	total := 0
	for _, s := range m.Signers {
		total += s.Weight
	}
	return total
}

// Wallet is the custody aggregate for one owner on one network
type Wallet struct {
	ID                 uuid.UUID       `json:"id"`
	OwnerID            string          `json:"owner_id"`
	PublicKey          string          `json:"public_key"`
	EncryptedSecretKey *string         `json:"encrypted_secret_key,omitempty"`
	EncryptionIV       *string         `json:"encryption_iv,omitempty"`
	EncryptionAuthTag  *string         `json:"encryption_auth_tag,omitempty"`
	KeyDerivation      KeyDerivation   `json:"key_derivation"`
	Network            Network         `json:"network"`
	Custody            Custody         `json:"custody"`
	ExternalCustodyRef *string         `json:"external_custody_ref,omitempty"`
	IsMultiSig         bool            `json:"is_multisig"`
	MultisigConfig     *MultisigConfig `json:"multisig_config,omitempty"`
	RotationVersion    int             `json:"rotation_version"`
	// RowVersion changes on every write and guards updates against lost
	// writes. It is not part of the API.
	RowVersion int       `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Sealed returns the stored secret triple, or nil when none is stored.
func (w *Wallet) Sealed() *SealedSecret {
	if w.EncryptedSecretKey == nil || w.EncryptionIV == nil || w.EncryptionAuthTag == nil {
		return nil
	}
	return &SealedSecret{
		Ciphertext: *w.EncryptedSecretKey,
		IV:         *w.EncryptionIV,
		AuthTag:    *w.EncryptionAuthTag,
	}
}

// SetSealed replaces the secret triple atomically. A nil argument clears all three fields.
func (w *Wallet) SetSealed(s *SealedSecret) {
	if s == nil {
		w.EncryptedSecretKey, w.EncryptionIV, w.EncryptionAuthTag = nil, nil, nil
		return
	}
	ct, iv, tag := s.Ciphertext, s.IV, s.AuthTag
	w.EncryptedSecretKey, w.EncryptionIV, w.EncryptionAuthTag = &ct, &iv, &tag
}

// AuditOperation enumerates the operations recorded in the audit trail
type AuditOperation string

// AuditOperation constants
const (
	AuditCreate             AuditOperation = "CREATE"
	AuditAutoCreate         AuditOperation = "AUTO_CREATE"
	AuditRotateKey          AuditOperation = "ROTATE_KEY"
	AuditBalanceCheck       AuditOperation = "BALANCE_CHECK"
	AuditPrepareTransaction AuditOperation = "PREPARE_TRANSACTION"
	AuditSignTransaction    AuditOperation = "SIGN_TRANSACTION"
	AuditSubmitTransaction  AuditOperation = "SUBMIT_TRANSACTION"
	AuditBackupExport       AuditOperation = "BACKUP_EXPORT"
	AuditRecovery           AuditOperation = "RECOVERY"
	AuditSwitchNetwork      AuditOperation = "SWITCH_NETWORK"
)

// AuditLogEntry is an immutable record of a sensitive operation
type AuditLogEntry struct {
	ID        uuid.UUID      `json:"id"`
	WalletID  uuid.UUID      `json:"wallet_id"`
	UserID    string         `json:"user_id"`
	Operation AuditOperation `json:"operation"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Balance is one asset balance of a ledger account.
type Balance struct {
	AssetType   string `json:"asset_type"`
	AssetCode   string `json:"asset_code,omitempty"`
	AssetIssuer string `json:"asset_issuer,omitempty"`
	Balance     string `json:"balance"`
}

// AccountSnapshot is the ledger state of an account at load time.
type AccountSnapshot struct {
	PublicKey string    `json:"public_key"`
	Sequence  int64     `json:"sequence"`
	Balances  []Balance `json:"balances"`
}

// SubmitResult is the gateway outcome of a submission.
type SubmitResult struct {
	Successful    bool   `json:"successful"`
	Hash          string `json:"hash"`
	LedgerSeq     int64  `json:"ledger_seq"`
	ResultPayload string `json:"result_payload,omitempty"`
}

// BackupBundle is the exported, offline-safe form of a wallet. It only ever
// carries ciphertext.
type BackupBundle struct {
	PublicKey          string          `json:"publicKey"`
	EncryptedSecretKey string          `json:"encryptedSecretKey"`
	EncryptionIV       string          `json:"encryptionIv"`
	EncryptionAuthTag  string          `json:"encryptionAuthTag"`
	KeyDerivation      KeyDerivation   `json:"keyDerivation"`
	Network            Network         `json:"network"`
	IsMultiSig         bool            `json:"isMultiSig"`
	MultisigConfig     *MultisigConfig `json:"multisigConfig"`
	ExportedAt         time.Time       `json:"exportedAt"`
}
