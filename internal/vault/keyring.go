package vault

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// ServiceName is the keyring service every warden secret is filed under.
const ServiceName = "warden"

// ErrSecretNotFound reports that the OS secret store has no value for the
// requested key. It is the only Get failure callers may treat as absence.
var ErrSecretNotFound = errors.New("secret not found in OS keyring")

// SecretStore is the slice of OS secret storage the vault needs. The
// production implementation is KeyringStore; tests inject in-memory fakes.
type SecretStore interface {
	// Get returns the secret bytes, or ErrSecretNotFound.
	Get(service, key string) ([]byte, error)

	// Set stores the secret bytes, overwriting any previous value.
	Set(service, key string, value []byte) error
}

// KeyringStore stores secrets in the platform keyring (Keychain, Secret
// Service, Credential Manager). Values are base64-encoded because keyring
// backends only take strings.
type KeyringStore struct{}

func (KeyringStore) Get(service, key string) ([]byte, error) {
	encoded, err := keyring.Get(service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrSecretNotFound
		}
		return nil, fmt.Errorf("keyring read failed for %s/%s: %w", service, key, err)
	}

	value, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("keyring value for %s/%s is not valid base64: %w", service, key, err)
	}
	return value, nil
}

func (KeyringStore) Set(service, key string, value []byte) error {
	if err := keyring.Set(service, key, base64.StdEncoding.EncodeToString(value)); err != nil {
		return fmt.Errorf("keyring write failed for %s/%s: %w", service, key, err)
	}
	return nil
}
