package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrDecryptFailed marks envelopes that cannot be opened: wrong key, auth
// tag mismatch, or a malformed envelope. Callers treat it as a permanent
// credential failure requiring reconnection, never as a transient fault.
var ErrDecryptFailed = errors.New("vault: decryption failed")

// Credentials is the decrypted OAuth token set for an integration. It is
// materialized on demand, re-encrypted after every refresh, and never
// persisted or logged in clear.
type Credentials struct {
	AccessToken     string `json:"access_token"`
	RefreshToken    string `json:"refresh_token,omitempty"`
	ExpiryDate      int64  `json:"expiry_date,omitempty"` // epoch ms
	TokenType       string `json:"token_type,omitempty"`
	Scope           string `json:"scope,omitempty"`
	UserURI         string `json:"user_uri,omitempty"`
	OrganizationURI string `json:"organization_uri,omitempty"`
}

// envelope is the self-describing ciphertext structure stored as text in
// calendar_integrations.encrypted_credentials.
type envelope struct {
	IV   string `json:"iv"`
	Data string `json:"data"`
}

// Vault encrypts and decrypts credentials with AES-256-GCM. The key is
// derived once from a single server passphrase via SHA-256.
type Vault struct {
	key [32]byte
}

// New derives the symmetric key from the passphrase.
func New(passphrase string) (*Vault, error) {
	if passphrase == "" {
		return nil, errors.New("vault: empty passphrase")
	}
	return &Vault{key: sha256.Sum256([]byte(passphrase))}, nil
}

// Encrypt seals creds into a JSON envelope carrying a fresh random nonce
// and the authenticated ciphertext.
func (v *Vault) Encrypt(creds *Credentials) (string, error) {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("vault: marshal credentials: %w", err)
	}

	gcm, err := v.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	out, err := json.Marshal(envelope{
		IV:   base64.StdEncoding.EncodeToString(nonce),
		Data: base64.StdEncoding.EncodeToString(sealed),
	})
	if err != nil {
		return "", fmt.Errorf("vault: marshal envelope: %w", err)
	}
	return string(out), nil
}

// Decrypt opens an envelope produced by Encrypt. Any failure, from a
// malformed envelope to an authentication failure, returns an error
// wrapping ErrDecryptFailed.
func (v *Vault) Decrypt(ciphertext string) (*Credentials, error) {
	var env envelope
	if err := json.Unmarshal([]byte(ciphertext), &env); err != nil {
		return nil, fmt.Errorf("%w: bad envelope: %v", ErrDecryptFailed, err)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return nil, fmt.Errorf("%w: bad nonce encoding: %v", ErrDecryptFailed, err)
	}
	sealed, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: bad data encoding: %v", ErrDecryptFailed, err)
	}

	gcm, err := v.aead()
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("%w: wrong nonce size", ErrDecryptFailed)
	}

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}

	var creds Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, fmt.Errorf("%w: bad plaintext: %v", ErrDecryptFailed, err)
	}
	return &creds, nil
}

func (v *Vault) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.key[:])
	if err != nil {
		return nil, fmt.Errorf("vault: init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: init gcm: %w", err)
	}
	return gcm, nil
}
