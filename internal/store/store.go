// Package store persists account records, including their encrypted
// credential blobs, in a single JSON file guarded by one in-process lock.
//
// The file is rewritten atomically (temp file + rename) on every mutation,
// so a crash mid-write can never leave a half-written accounts file behind.
// Credential blobs pass through opaquely; only the vault reads their
// contents.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"warden/internal/autherr"
	"warden/internal/vault"
)

// SchemaVersion is the accounts file schema written by this build.
const SchemaVersion = 1

// DefaultFileName is the accounts file name inside the config directory.
const DefaultFileName = "accounts.json"

// PathIn returns the accounts file path inside a config directory.
func PathIn(configDir string) string {
	return filepath.Join(configDir, DefaultFileName)
}

var (
	// ErrAccountNotFound reports an operation on an id the store does not
	// hold. Distinct from StoreError: the store itself is healthy.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountExists reports an Add with an id already in use.
	ErrAccountExists = errors.New("account id already exists")
)

// accountIDPattern constrains ids to a filesystem- and URL-safe alphabet,
// 2 to 64 characters, starting alphanumeric.
var accountIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{1,63}$`)

// ValidateID checks an account id against the allowed pattern.
func ValidateID(id string) error {
	if !accountIDPattern.MatchString(id) {
		return fmt.Errorf("invalid account id %q: must match %s", id, accountIDPattern.String())
	}
	return nil
}

// Account is one linked third-party account.
type Account struct {
	ID             string            `json:"id"`
	ProviderID     string            `json:"providerId"`
	AuthStrategyID string            `json:"authStrategyId,omitempty"`
	Label          string            `json:"label"`
	Settings       map[string]string `json:"settings,omitempty"`
	Credentials    *vault.Blob       `json:"credentials,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
	LastFetchAt    *time.Time        `json:"lastFetchAt,omitempty"`
	LastError      string            `json:"lastError,omitempty"`
}

// clone returns a copy that shares no mutable state with the receiver.
func (a *Account) clone() *Account {
	copied := *a
	if a.Settings != nil {
		copied.Settings = make(map[string]string, len(a.Settings))
		for k, v := range a.Settings {
			copied.Settings[k] = v
		}
	}
	if a.Credentials != nil {
		blob := *a.Credentials
		copied.Credentials = &blob
	}
	if a.LastFetchAt != nil {
		ts := *a.LastFetchAt
		copied.LastFetchAt = &ts
	}
	return &copied
}

// fileSchema is the on-disk shape of the accounts file.
type fileSchema struct {
	SchemaVersion int        `json:"schemaVersion"`
	Accounts      []*Account `json:"accounts"`
}

// Store is the JSON-file-backed account store.
type Store struct {
	path string

	mu       sync.RWMutex
	accounts map[string]*Account
}

// Open loads the accounts file at path, creating the parent directory if
// needed. A missing file yields an empty store; a corrupt or
// future-versioned file is an error, never silently discarded.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("account store path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, &autherr.StoreError{Op: "open", Err: err}
	}

	s := &Store{
		path:     path,
		accounts: make(map[string]*Account),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Reload replaces the in-memory state with the file's current contents.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.accounts = make(map[string]*Account)
			return nil
		}
		return &autherr.StoreError{Op: "load", Err: err}
	}

	var schema fileSchema
	if err := json.Unmarshal(data, &schema); err != nil {
		return &autherr.StoreError{Op: "load", Err: fmt.Errorf("corrupt accounts file %s: %w", s.path, err)}
	}
	if schema.SchemaVersion != SchemaVersion {
		return &autherr.StoreError{
			Op:  "load",
			Err: fmt.Errorf("accounts file %s has unsupported schema version %d", s.path, schema.SchemaVersion),
		}
	}

	accounts := make(map[string]*Account, len(schema.Accounts))
	for _, account := range schema.Accounts {
		accounts[account.ID] = account
	}
	s.accounts = accounts
	return nil
}

// List returns all accounts, most recently updated first.
func (s *Store) List() []*Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]*Account, 0, len(s.accounts))
	for _, account := range s.accounts {
		accounts = append(accounts, account.clone())
	}
	sort.Slice(accounts, func(i, j int) bool {
		if !accounts[i].UpdatedAt.Equal(accounts[j].UpdatedAt) {
			return accounts[i].UpdatedAt.After(accounts[j].UpdatedAt)
		}
		return accounts[i].ID < accounts[j].ID
	})
	return accounts
}

// Get returns a copy of one account.
func (s *Store) Get(id string) (*Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, false
	}
	return account.clone(), true
}

// Add inserts a new account and persists the store.
func (s *Store) Add(account *Account) error {
	if err := ValidateID(account.ID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[account.ID]; exists {
		return fmt.Errorf("%w: %s", ErrAccountExists, account.ID)
	}

	added := account.clone()
	now := time.Now().UTC()
	added.CreatedAt = now
	added.UpdatedAt = now

	s.accounts[added.ID] = added
	if err := s.persistLocked(); err != nil {
		delete(s.accounts, added.ID)
		return &autherr.StoreError{Op: "add", Err: err}
	}
	return nil
}

// Remove deletes an account, credentials included, and persists the store.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}

	delete(s.accounts, id)
	if err := s.persistLocked(); err != nil {
		s.accounts[id] = existing
		return &autherr.StoreError{Op: "remove", Err: err}
	}

	slog.Info("SECURITY_AUDIT: account removed",
		"event", "account_removed",
		"account_id", id,
		"had_credentials", existing.Credentials != nil)
	return nil
}

// update applies fn to a copy of the account, persists, and swaps the copy
// in only if the write succeeded. Memory therefore never diverges from disk.
func (s *Store) update(id, op string, fn func(*Account)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}

	updated := existing.clone()
	fn(updated)
	updated.UpdatedAt = time.Now().UTC()

	s.accounts[id] = updated
	if err := s.persistLocked(); err != nil {
		s.accounts[id] = existing
		return &autherr.StoreError{Op: op, Err: err}
	}
	return nil
}

// SetCredentials stores an encrypted credential blob on an account.
// SECURITY: Blob contents are never logged, only the account id.
func (s *Store) SetCredentials(id string, blob *vault.Blob) error {
	err := s.update(id, "set credentials", func(account *Account) {
		account.Credentials = blob
		account.LastError = ""
	})
	if err != nil {
		slog.Warn("SECURITY_AUDIT: credential persistence failed",
			"event", "credentials_store_failed",
			"account_id", id,
			"error", err.Error())
		return err
	}

	slog.Info("SECURITY_AUDIT: credentials stored",
		"event", "credentials_stored",
		"account_id", id)
	return nil
}

// ClearCredentials removes an account's credential blob.
func (s *Store) ClearCredentials(id string) error {
	err := s.update(id, "clear credentials", func(account *Account) {
		account.Credentials = nil
	})
	if err != nil {
		return err
	}

	slog.Info("SECURITY_AUDIT: credentials cleared",
		"event", "credentials_cleared",
		"account_id", id)
	return nil
}

// HasCredentials reports whether an account holds a credential blob. It says
// nothing about whether the blob decrypts.
func (s *Store) HasCredentials(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[id]
	return ok && account.Credentials != nil
}

// SetSetting stores one key in an account's settings map.
func (s *Store) SetSetting(id, key, value string) error {
	return s.update(id, "set setting", func(account *Account) {
		if account.Settings == nil {
			account.Settings = make(map[string]string)
		}
		account.Settings[key] = value
	})
}

// SetLastError records a human-readable failure on the account, or clears
// it when message is empty.
func (s *Store) SetLastError(id, message string) error {
	return s.update(id, "set last error", func(account *Account) {
		account.LastError = message
	})
}

// persistLocked writes the full store atomically. Callers hold s.mu.
func (s *Store) persistLocked() error {
	accounts := make([]*Account, 0, len(s.accounts))
	for _, account := range s.accounts {
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })

	data, err := json.MarshalIndent(fileSchema{
		SchemaVersion: SchemaVersion,
		Accounts:      accounts,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode accounts: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".accounts-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp accounts file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write accounts file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to flush accounts file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace accounts file: %w", err)
	}
	return nil
}
