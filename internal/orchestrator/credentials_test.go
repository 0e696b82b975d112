package orchestrator

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"warden/internal/autherr"
	"warden/internal/config"
	"warden/internal/store"
	"warden/internal/vault"
	"warden/pkg/oauth"
)

func TestCredentials_UnknownAccount(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.orch.Credentials("ghost")
	assert.ErrorIs(t, err, store.ErrAccountNotFound)
}

func TestCredentials_NeverLinked(t *testing.T) {
	env := newTestEnv(t, []config.ProviderSpec{{ID: "metrics", Auth: config.AuthKindAPIKey}})
	env.addAccount(t, "dave", "metrics")

	_, err := env.orch.Credentials("dave")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoCredentials)
	assert.False(t, autherr.IsCrypto(err), "absence must not read as a crypto failure")
}

func TestCredentials_UndecryptableIsNotMissing(t *testing.T) {
	env := newTestEnv(t, []config.ProviderSpec{{ID: "metrics", Auth: config.AuthKindAPIKey}})
	env.addAccount(t, "dave", "metrics")
	require.NoError(t, env.orch.LinkAPIKey("dave", "sk-123"))

	account, ok := env.store.Get("dave")
	require.True(t, ok)
	require.NotNil(t, account.Credentials)

	raw, err := base64.RawURLEncoding.DecodeString(account.Credentials.Ciphertext)
	require.NoError(t, err)
	raw[0] ^= 0x01
	tampered := *account.Credentials
	tampered.Ciphertext = base64.RawURLEncoding.EncodeToString(raw)
	require.NoError(t, env.store.SetCredentials("dave", &tampered))

	_, err = env.orch.Credentials("dave")
	require.Error(t, err)
	assert.True(t, autherr.IsCrypto(err), "expected crypto error, got %v", err)
	assert.NotErrorIs(t, err, ErrNoCredentials,
		"a tampered blob must never be mistaken for absent credentials")
}

func TestCredentials_LegacyBlobRotatesOnRead(t *testing.T) {
	env := newTestEnv(t, []config.ProviderSpec{cookieProvider("chat")})
	env.addAccount(t, "carol", "chat")

	// Force master key creation, then rebuild the legacy encryption by
	// hand: HKDF-SHA256 over the master key, sealed with the 12-byte-nonce
	// cipher older releases used.
	_, err := env.vault.Encrypt("seed", "seed", []byte("x"))
	require.NoError(t, err)
	master := env.secrets.value(vault.ServiceName, "master-key-v1")
	require.Len(t, master, chacha20poly1305.KeySize)

	const credID = "chat:carol"
	reader := hkdf.New(sha256.New, master, []byte("warden-credentials-v1"), []byte(credID))
	key := make([]byte, chacha20poly1305.KeySize)
	_, err = io.ReadFull(reader, key)
	require.NoError(t, err)

	aead, err := chacha20poly1305.New(key)
	require.NoError(t, err)
	nonce := make([]byte, aead.NonceSize())
	_, err = rand.Read(nonce)
	require.NoError(t, err)

	payload := []byte(`{"cookieHeader":"session=legacy","workspaceId":"team-9"}`)
	legacy := &vault.Blob{
		Alg:        vault.AlgChaCha20Poly1305,
		KeyVersion: vault.CurrentKeyVersion,
		Nonce:      base64.RawURLEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawURLEncoding.EncodeToString(aead.Seal(nil, nonce, payload, []byte(credID))),
	}
	require.NoError(t, env.store.SetCredentials("carol", legacy))

	got, err := env.orch.Credentials("carol")
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// The read must have migrated the blob to the current algorithm, and
	// the migrated blob must still decrypt to the same payload.
	account, ok := env.store.Get("carol")
	require.True(t, ok)
	require.NotNil(t, account.Credentials)
	assert.Equal(t, vault.AlgXChaCha20Poly1305, account.Credentials.Alg)
	assert.False(t, vault.NeedsRotation(account.Credentials))

	again, err := env.orch.Credentials("carol")
	require.NoError(t, err)
	assert.Equal(t, payload, again)
}

func TestTokenCredentials_CorruptPayload(t *testing.T) {
	env := newTestEnv(t, []config.ProviderSpec{pkceProvider("github", "https://idp.example.com/authorize", "https://idp.example.com/token")})
	env.addAccount(t, "alice", "github")

	blob, err := env.vault.Encrypt("alice", "github", []byte("not json"))
	require.NoError(t, err)
	require.NoError(t, env.store.SetCredentials("alice", blob))

	_, err = env.orch.TokenCredentials("alice")
	require.Error(t, err)
	assert.True(t, autherr.IsCrypto(err), "expected crypto error, got %v", err)
}

func TestLinkAPIKey(t *testing.T) {
	env := newTestEnv(t, []config.ProviderSpec{
		{ID: "metrics", Auth: config.AuthKindAPIKey},
		pkceProvider("github", "https://idp.example.com/authorize", "https://idp.example.com/token"),
	})
	env.addAccount(t, "dave", "metrics")
	env.addAccount(t, "alice", "github")

	require.NoError(t, env.orch.LinkAPIKey("dave", "sk-123"))
	require.True(t, env.store.HasCredentials("dave"))

	payload, err := env.orch.Credentials("dave")
	require.NoError(t, err)
	var creds APIKeyCredentials
	require.NoError(t, json.Unmarshal(payload, &creds))
	assert.Equal(t, "sk-123", creds.APIKey)
	assert.False(t, creds.LinkedAt.IsZero())

	err = env.orch.LinkAPIKey("alice", "sk-123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not use API keys")

	err = env.orch.LinkAPIKey("dave", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")

	err = env.orch.LinkAPIKey("ghost", "sk-123")
	assert.ErrorIs(t, err, store.ErrAccountNotFound)
}

// seedToken stores an encrypted token set on an account, as a completed
// flow would have.
func seedToken(t *testing.T, env *testEnv, accountID, providerID string, token *oauth.Token) {
	t.Helper()
	payload, err := json.Marshal(token)
	require.NoError(t, err)
	blob, err := env.vault.Encrypt(accountID, providerID, payload)
	require.NoError(t, err)
	require.NoError(t, env.store.SetCredentials(accountID, blob))
}

func TestRefreshCredentials(t *testing.T) {
	var refreshForm atomic.Pointer[url.Values]
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		form := r.PostForm
		refreshForm.Store(&form)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-new","token_type":"Bearer","expires_in":1800}`))
	}))
	defer tokenSrv.Close()

	env := newTestEnv(t, []config.ProviderSpec{pkceProvider("github", "https://idp.example.com/authorize", tokenSrv.URL)})
	env.addAccount(t, "alice", "github")
	seedToken(t, env, "alice", "github", &oauth.Token{
		AccessToken:  "at-stale",
		TokenType:    "Bearer",
		RefreshToken: "rt-old",
	})

	result, err := env.orch.RefreshCredentials(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", result.AccountID)
	assert.False(t, result.ExpiresAt.IsZero())

	form := refreshForm.Load()
	require.NotNil(t, form, "token endpoint was never called")
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "rt-old", form.Get("refresh_token"))
	assert.Equal(t, "warden-cli", form.Get("client_id"))

	// The provider sent no replacement refresh token, so the stored one
	// must survive the rewrite.
	token, err := env.orch.TokenCredentials("alice")
	require.NoError(t, err)
	assert.Equal(t, "at-new", token.AccessToken)
	assert.Equal(t, "rt-old", token.RefreshToken)
}

func TestRefreshCredentials_ReplacesRotatedRefreshToken(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-new","token_type":"Bearer","refresh_token":"rt-new","expires_in":1800}`))
	}))
	defer tokenSrv.Close()

	env := newTestEnv(t, []config.ProviderSpec{pkceProvider("github", "https://idp.example.com/authorize", tokenSrv.URL)})
	env.addAccount(t, "alice", "github")
	seedToken(t, env, "alice", "github", &oauth.Token{AccessToken: "at-stale", TokenType: "Bearer", RefreshToken: "rt-old"})

	_, err := env.orch.RefreshCredentials(context.Background(), "alice")
	require.NoError(t, err)

	token, err := env.orch.TokenCredentials("alice")
	require.NoError(t, err)
	assert.Equal(t, "rt-new", token.RefreshToken)
}

func TestRefreshCredentials_NoRefreshToken(t *testing.T) {
	env := newTestEnv(t, []config.ProviderSpec{pkceProvider("github", "https://idp.example.com/authorize", "https://idp.example.com/token")})
	env.addAccount(t, "alice", "github")
	seedToken(t, env, "alice", "github", &oauth.Token{AccessToken: "at-1", TokenType: "Bearer"})

	_, err := env.orch.RefreshCredentials(context.Background(), "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoRefreshToken)
}

func TestRefreshCredentials_ProviderRejects(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"refresh token revoked"}`))
	}))
	defer tokenSrv.Close()

	env := newTestEnv(t, []config.ProviderSpec{pkceProvider("github", "https://idp.example.com/authorize", tokenSrv.URL)})
	env.addAccount(t, "alice", "github")
	seedToken(t, env, "alice", "github", &oauth.Token{AccessToken: "at-stale", TokenType: "Bearer", RefreshToken: "rt-revoked"})

	_, err := env.orch.RefreshCredentials(context.Background(), "alice")
	require.Error(t, err)
	assert.True(t, autherr.IsProtocol(err), "expected protocol error, got %v", err)

	// The failure must be visible on the account record, and the stale
	// token set must remain untouched.
	account, ok := env.store.Get("alice")
	require.True(t, ok)
	assert.Contains(t, account.LastError, "token refresh failed")

	token, err := env.orch.TokenCredentials("alice")
	require.NoError(t, err)
	assert.Equal(t, "at-stale", token.AccessToken)
}

func TestRefreshCredentials_Rejections(t *testing.T) {
	env := newTestEnv(t, []config.ProviderSpec{
		cookieProvider("chat"),
		pkceProvider("github", "https://idp.example.com/authorize", "https://idp.example.com/token"),
	})
	env.addAccount(t, "carol", "chat")
	env.addAccount(t, "alice", "github")

	_, err := env.orch.RefreshCredentials(context.Background(), "ghost")
	assert.ErrorIs(t, err, store.ErrAccountNotFound)

	_, err = env.orch.RefreshCredentials(context.Background(), "carol")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "issues no refresh tokens")

	_, err = env.orch.RefreshCredentials(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestLinkAPIKey_CancelledFlowUnaffected(t *testing.T) {
	// Linking credentials for one account must not disturb flows pending
	// for others.
	surface := newFakeSurface("https://login.example.com/start")
	env := newTestEnv(t, []config.ProviderSpec{
		{ID: "metrics", Auth: config.AuthKindAPIKey},
		cookieProvider("chat"),
	}, WithSurfaceFactory(&fakeSurfaceFactory{surface: surface}))
	env.addAccount(t, "dave", "metrics")
	env.addAccount(t, "carol", "chat")

	start, err := env.orch.StartFlow(context.Background(), "carol")
	require.NoError(t, err)

	require.NoError(t, env.orch.LinkAPIKey("dave", "sk-123"))
	assert.Equal(t, 1, env.orch.Registry().Len())

	require.True(t, env.orch.CancelFlow(start.RequestID))
	assert.True(t, env.store.HasCredentials("dave"))
}
