package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/sync/singleflight"

	"warden/internal/autherr"
)

// CurrentKeyVersion is the highest master key version this build creates.
// Blobs claiming a higher version are rejected rather than guessed at.
const CurrentKeyVersion uint32 = 1

// hkdfSalt fixes warden's key schedule so a master key shared with any other
// consumer of the keyring entry could never yield the same derived keys.
const hkdfSalt = "warden-credentials-v1"

// ErrFutureKeyVersion reports a blob whose key version exceeds
// CurrentKeyVersion. It is always wrapped in a CryptoError.
var ErrFutureKeyVersion = errors.New("credential blob encrypted with a future key version")

// Vault derives per-account keys from the master key and performs
// authenticated encryption of credential payloads.
type Vault struct {
	store SecretStore
	cache *KeyCache
	group singleflight.Group
}

// Option configures a Vault.
type Option func(*Vault)

// WithSecretStore replaces the OS keyring backend.
func WithSecretStore(store SecretStore) Option {
	return func(v *Vault) {
		v.store = store
	}
}

// WithKeyCache injects a master key cache, letting tests start from a cold
// cache and embedders share one across vaults.
func WithKeyCache(cache *KeyCache) Option {
	return func(v *Vault) {
		v.cache = cache
	}
}

// New creates a Vault backed by the platform keyring and a fresh key cache
// unless options say otherwise.
func New(opts ...Option) *Vault {
	v := &Vault{
		store: KeyringStore{},
		cache: NewKeyCache(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// credentialID is the derivation context and AAD for one account's
// credentials.
func credentialID(providerID, accountID string) string {
	return providerID + ":" + accountID
}

// masterKeyName is the keyring entry name for a key version.
func masterKeyName(version uint32) string {
	return fmt.Sprintf("master-key-v%d", version)
}

// masterKey returns the master key for a version: cache, then keyring, then
// lazy generation. Concurrent first uses are collapsed into one keyring
// round trip.
func (v *Vault) masterKey(version uint32) ([]byte, error) {
	if key, ok := v.cache.get(version); ok {
		return key, nil
	}

	name := masterKeyName(version)
	result, err, _ := v.group.Do(name, func() (interface{}, error) {
		if key, ok := v.cache.get(version); ok {
			return key, nil
		}

		key, err := v.store.Get(ServiceName, name)
		if err == nil {
			if len(key) != chacha20poly1305.KeySize {
				return nil, fmt.Errorf("master key %s has unexpected length %d", name, len(key))
			}
			v.cache.put(version, key)
			return key, nil
		}
		if !errors.Is(err, ErrSecretNotFound) {
			return nil, err
		}

		key = make([]byte, chacha20poly1305.KeySize)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate master key: %w", err)
		}
		if err := v.store.Set(ServiceName, name, key); err != nil {
			return nil, err
		}
		v.cache.put(version, key)

		slog.Info("SECURITY_AUDIT: master key generated", "key", name)
		return key, nil
	})
	if err != nil {
		return nil, &autherr.CryptoError{Op: "master key access", Err: err}
	}
	return result.([]byte), nil
}

// deriveKey expands the master key into the per-credential AEAD key.
// Deterministic, so decryption never needs a stored derived key.
func (v *Vault) deriveKey(version uint32, credentialID string) ([]byte, error) {
	master, err := v.masterKey(version)
	if err != nil {
		return nil, err
	}

	reader := hkdf.New(sha256.New, master, []byte(hkdfSalt), []byte(credentialID))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, &autherr.CryptoError{Op: "key derivation", Err: err}
	}
	return key, nil
}

// Encrypt seals a credential payload for one account under the current key
// version. Every call draws a fresh random nonce.
func (v *Vault) Encrypt(accountID, providerID string, plaintext []byte) (*Blob, error) {
	credID := credentialID(providerID, accountID)

	key, err := v.deriveKey(CurrentKeyVersion, credID)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, &autherr.CryptoError{Op: "encrypt", Err: err}
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, &autherr.CryptoError{Op: "encrypt", Err: fmt.Errorf("failed to generate nonce: %w", err)}
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, []byte(credID))

	slog.Info("SECURITY_AUDIT: credentials encrypted",
		"credential_id", credID,
		"key_version", CurrentKeyVersion)

	return &Blob{
		Alg:        AlgXChaCha20Poly1305,
		KeyVersion: CurrentKeyVersion,
		Nonce:      base64.RawURLEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawURLEncoding.EncodeToString(ciphertext),
	}, nil
}

// Decrypt opens a blob for one account. Tampered ciphertext, a foreign
// account id, an unknown algorithm, and a future key version all fail with
// a CryptoError; absence of credentials is not this function's concern.
func (v *Vault) Decrypt(accountID, providerID string, blob *Blob) ([]byte, error) {
	if blob == nil {
		return nil, &autherr.CryptoError{Op: "decrypt", Err: errors.New("missing credential blob")}
	}
	if blob.KeyVersion > CurrentKeyVersion {
		slog.Warn("SECURITY_AUDIT: credential blob claims future key version",
			"key_version", blob.KeyVersion,
			"current", CurrentKeyVersion)
		return nil, &autherr.CryptoError{
			Op:  "decrypt",
			Err: fmt.Errorf("%w: %d > %d", ErrFutureKeyVersion, blob.KeyVersion, CurrentKeyVersion),
		}
	}

	credID := credentialID(providerID, accountID)
	key, err := v.deriveKey(blob.KeyVersion, credID)
	if err != nil {
		return nil, err
	}

	var aead cipher.AEAD
	switch blob.Alg {
	case AlgXChaCha20Poly1305:
		aead, err = chacha20poly1305.NewX(key)
	case AlgChaCha20Poly1305:
		aead, err = chacha20poly1305.New(key)
	default:
		return nil, &autherr.CryptoError{Op: "decrypt", Err: fmt.Errorf("unsupported algorithm %q", blob.Alg)}
	}
	if err != nil {
		return nil, &autherr.CryptoError{Op: "decrypt", Err: err}
	}

	nonce, err := base64.RawURLEncoding.DecodeString(blob.Nonce)
	if err != nil {
		return nil, &autherr.CryptoError{Op: "decrypt", Err: fmt.Errorf("invalid nonce encoding: %w", err)}
	}
	if len(nonce) != aead.NonceSize() {
		return nil, &autherr.CryptoError{
			Op:  "decrypt",
			Err: fmt.Errorf("nonce length %d does not match algorithm %s", len(nonce), blob.Alg),
		}
	}
	ciphertext, err := base64.RawURLEncoding.DecodeString(blob.Ciphertext)
	if err != nil {
		return nil, &autherr.CryptoError{Op: "decrypt", Err: fmt.Errorf("invalid ciphertext encoding: %w", err)}
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(credID))
	if err != nil {
		slog.Warn("SECURITY_AUDIT: credential decryption failed",
			"credential_id", credID,
			"key_version", blob.KeyVersion)
		return nil, &autherr.CryptoError{Op: "decrypt", Err: fmt.Errorf("authentication failed: %w", err)}
	}
	return plaintext, nil
}
