package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"warden/internal/autherr"
	"warden/internal/config"
	"warden/internal/store"
	"warden/internal/vault"
	"warden/pkg/logging"
	"warden/pkg/oauth"
)

// ErrNoCredentials reports that an account exists but has never had
// credentials linked. Deliberately distinct from a CryptoError: an
// undecryptable blob means credentials exist but cannot be trusted, and
// must never be mistaken for absence.
var ErrNoCredentials = errors.New("no credentials linked")

// ErrNoRefreshToken reports that an account's stored token set cannot be
// renewed because the provider never issued a refresh token for it.
var ErrNoRefreshToken = errors.New("no refresh token stored")

// CookieCredentials is the plaintext payload stored for cookie-session
// providers.
type CookieCredentials struct {
	// CookieHeader is the captured Cookie header value.
	CookieHeader string `json:"cookieHeader"`

	// WorkspaceID is the workspace the session was captured in.
	WorkspaceID string `json:"workspaceId,omitempty"`

	// CapturedAt is when the session was captured.
	CapturedAt time.Time `json:"capturedAt"`
}

// APIKeyCredentials is the plaintext payload stored for API-key providers.
type APIKeyCredentials struct {
	// APIKey is the static key supplied by the user.
	APIKey string `json:"apiKey"`

	// LinkedAt is when the key was linked.
	LinkedAt time.Time `json:"linkedAt"`
}

// Credentials decrypts and returns the raw credential payload for an
// account. Blobs written under a retired algorithm or key version are
// transparently re-encrypted under the current one; the re-encrypt is best
// effort and never affects the returned payload.
func (o *Orchestrator) Credentials(accountID string) ([]byte, error) {
	account, ok := o.accounts.Get(accountID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrAccountNotFound, accountID)
	}
	if account.Credentials == nil {
		return nil, fmt.Errorf("%w for account %s", ErrNoCredentials, accountID)
	}

	plaintext, err := o.vault.Decrypt(accountID, account.ProviderID, account.Credentials)
	if err != nil {
		return nil, err
	}

	if vault.NeedsRotation(account.Credentials) {
		o.rotate(accountID, account.ProviderID, plaintext)
	}
	return plaintext, nil
}

// TokenCredentials decrypts an account's payload as an OAuth token set. A
// payload that decrypts but does not parse is corrupt, which is a crypto
// failure rather than missing credentials.
func (o *Orchestrator) TokenCredentials(accountID string) (*oauth.Token, error) {
	payload, err := o.Credentials(accountID)
	if err != nil {
		return nil, err
	}
	var token oauth.Token
	if err := json.Unmarshal(payload, &token); err != nil {
		return nil, &autherr.CryptoError{Op: "decode token payload", Err: err}
	}
	return &token, nil
}

// CookieSessionCredentials decrypts an account's payload as a captured
// cookie session.
func (o *Orchestrator) CookieSessionCredentials(accountID string) (*CookieCredentials, error) {
	payload, err := o.Credentials(accountID)
	if err != nil {
		return nil, err
	}
	var cookies CookieCredentials
	if err := json.Unmarshal(payload, &cookies); err != nil {
		return nil, &autherr.CryptoError{Op: "decode cookie payload", Err: err}
	}
	return &cookies, nil
}

// LinkAPIKey stores a static API key for an account whose provider does not
// run an interactive flow.
func (o *Orchestrator) LinkAPIKey(accountID, apiKey string) error {
	account, ok := o.accounts.Get(accountID)
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrAccountNotFound, accountID)
	}
	provider, ok := o.cfg.Provider(account.ProviderID)
	if !ok {
		return fmt.Errorf("account %s references unknown provider %q", accountID, account.ProviderID)
	}
	if provider.Auth != config.AuthKindAPIKey {
		return fmt.Errorf("provider %s does not use API keys; start an authentication flow instead", provider.ID)
	}
	if apiKey == "" {
		return fmt.Errorf("api key must not be empty")
	}

	payload, err := json.Marshal(APIKeyCredentials{APIKey: apiKey, LinkedAt: time.Now().UTC()})
	if err != nil {
		return &autherr.StoreError{Op: "encode api key", Err: err}
	}
	if err := o.persistCredentials(accountID, account.ProviderID, payload); err != nil {
		return err
	}

	logging.Info("Orchestrator", "API key linked for account %s", accountID)
	return nil
}

// RefreshCredentials redeems an account's stored refresh token for a fresh
// token set and persists it. Providers may omit a replacement refresh token
// from the response; the stored one remains valid then and is kept.
func (o *Orchestrator) RefreshCredentials(ctx context.Context, accountID string) (*FinishResult, error) {
	account, ok := o.accounts.Get(accountID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrAccountNotFound, accountID)
	}
	provider, ok := o.cfg.Provider(account.ProviderID)
	if !ok {
		return nil, fmt.Errorf("account %s references unknown provider %q", accountID, account.ProviderID)
	}
	switch provider.Auth {
	case config.AuthKindPKCE, config.AuthKindDeviceCode:
	default:
		return nil, fmt.Errorf("provider %s issues no refresh tokens; run the authentication flow again", provider.ID)
	}

	token, err := o.TokenCredentials(accountID)
	if err != nil {
		return nil, err
	}
	if token.RefreshToken == "" {
		return nil, fmt.Errorf("%w for account %s; run the authentication flow again", ErrNoRefreshToken, accountID)
	}

	ep, err := resolveEndpoints(ctx, o.oauth, provider)
	if err != nil {
		return nil, err
	}
	if ep.token == "" {
		return nil, fmt.Errorf("provider %s has no token endpoint", provider.ID)
	}

	refreshed, err := o.oauth.RefreshToken(ctx, ep.token, token.RefreshToken, provider.ClientID)
	if err != nil {
		err = protocolError("token refresh failed", err)
		o.recordFailure(accountID, err)
		return nil, err
	}
	refreshed.SetExpiresAtFromExpiresIn()
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = token.RefreshToken
	}

	payload, err := json.Marshal(refreshed)
	if err != nil {
		return nil, &autherr.StoreError{Op: "encode token", Err: err}
	}
	if err := o.persistCredentials(accountID, account.ProviderID, payload); err != nil {
		return nil, err
	}

	logging.Info("Orchestrator", "Refreshed credentials for account %s", accountID)
	return &FinishResult{AccountID: accountID, ExpiresAt: refreshed.ExpiresAt}, nil
}

// rotate re-encrypts a payload under the current algorithm and key version.
// The caller already holds usable plaintext, so failure only logs.
func (o *Orchestrator) rotate(accountID, providerID string, plaintext []byte) {
	blob, err := o.vault.Encrypt(accountID, providerID, plaintext)
	if err != nil {
		logging.Warn("Orchestrator", "Credential rotation failed for account %s: %v", accountID, err)
		return
	}
	if err := o.accounts.SetCredentials(accountID, blob); err != nil {
		logging.Warn("Orchestrator", "Failed to persist rotated credentials for account %s: %v", accountID, err)
		return
	}
	logging.Info("Orchestrator", "Re-encrypted credentials for account %s under the current key", accountID)
}
