package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/autherr"
	"warden/internal/capture"
	"warden/internal/config"
	"warden/internal/store"
	"warden/internal/vault"
)

// memorySecretStore is an in-memory vault.SecretStore.
type memorySecretStore struct {
	mu      sync.Mutex
	secrets map[string][]byte
}

func newMemorySecretStore() *memorySecretStore {
	return &memorySecretStore{secrets: make(map[string][]byte)}
}

func (s *memorySecretStore) Get(service, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.secrets[service+"/"+key]
	if !ok {
		return nil, vault.ErrSecretNotFound
	}
	return value, nil
}

func (s *memorySecretStore) Set(service, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[service+"/"+key] = value
	return nil
}

func (s *memorySecretStore) value(service, key string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.secrets[service+"/"+key]
}

// fakeSurface is a scriptable browser surface for cookie-session tests.
type fakeSurface struct {
	mu      sync.Mutex
	url     string
	cookies map[string][]*http.Cookie
	closed  int
}

func newFakeSurface(startURL string) *fakeSurface {
	return &fakeSurface{url: startURL, cookies: make(map[string][]*http.Cookie)}
}

func (s *fakeSurface) CurrentURL() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url, nil
}

func (s *fakeSurface) Cookies(sourceURL string) ([]*http.Cookie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cookies[sourceURL], nil
}

func (s *fakeSurface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSurface) setURL(u string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.url = u
}

func (s *fakeSurface) setCookies(sourceURL string, cookies []*http.Cookie) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cookies[sourceURL] = cookies
}

func (s *fakeSurface) closedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeSurfaceFactory hands out one prepared surface.
type fakeSurfaceFactory struct {
	surface *fakeSurface
	err     error
}

func (f *fakeSurfaceFactory) Open(ctx context.Context, signInURL string) (capture.Surface, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.surface, nil
}

// testEnv bundles an orchestrator with its collaborators.
type testEnv struct {
	orch    *Orchestrator
	store   *store.Store
	vault   *vault.Vault
	secrets *memorySecretStore
}

func newTestEnv(t *testing.T, providers []config.ProviderSpec, opts ...Option) *testEnv {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "accounts.json"))
	require.NoError(t, err)

	secrets := newMemorySecretStore()
	vlt := vault.New(vault.WithSecretStore(secrets), vault.WithKeyCache(vault.NewKeyCache()))
	cfg := &config.Config{Providers: providers}

	return &testEnv{
		orch:    New(cfg, st, vlt, opts...),
		store:   st,
		vault:   vlt,
		secrets: secrets,
	}
}

func (e *testEnv) addAccount(t *testing.T, id, providerID string) {
	t.Helper()
	require.NoError(t, e.store.Add(&store.Account{ID: id, ProviderID: providerID, Label: id}))
}

func pkceProvider(id, authEndpoint, tokenEndpoint string) config.ProviderSpec {
	return config.ProviderSpec{
		ID:                    id,
		Auth:                  config.AuthKindPKCE,
		ClientID:              "warden-cli",
		Scopes:                []string{"read", "write"},
		AuthorizationEndpoint: authEndpoint,
		TokenEndpoint:         tokenEndpoint,
	}
}

func cookieProvider(id string) config.ProviderSpec {
	return config.ProviderSpec{
		ID:                  id,
		Auth:                config.AuthKindCookieSession,
		SignInURL:           "https://login.example.com/start",
		WorkspaceURLPattern: `https://app\.example\.com/w/([a-z0-9-]+)`,
		CookieSources:       []string{"https://app.example.com"},
		AuthCookieName:      "session",
	}
}

func TestStartFlow_UnknownAccount(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.orch.StartFlow(context.Background(), "ghost")
	assert.ErrorIs(t, err, store.ErrAccountNotFound)
}

func TestStartFlow_UnknownProvider(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addAccount(t, "alice", "gone")

	_, err := env.orch.StartFlow(context.Background(), "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}

func TestStartFlow_APIKeyProviderHasNoFlow(t *testing.T) {
	env := newTestEnv(t, []config.ProviderSpec{{ID: "metrics", Auth: config.AuthKindAPIKey}})
	env.addAccount(t, "alice", "metrics")

	_, err := env.orch.StartFlow(context.Background(), "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LinkAPIKey")
	assert.Zero(t, env.orch.Registry().Len())
}

func TestFinishFlow_UnknownRequest(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.orch.FinishFlow(context.Background(), "no-such-flow", time.Second)
	assert.True(t, autherr.IsFlowNotFound(err), "expected flow not found, got %v", err)
}

func TestPKCEFlow_EndToEnd(t *testing.T) {
	var exchangeForm atomic.Pointer[url.Values]
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		form := r.PostForm
		exchangeForm.Store(&form)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at-123","token_type":"Bearer","refresh_token":"rt-456","expires_in":3600}`)
	}))
	defer tokenSrv.Close()

	env := newTestEnv(t, []config.ProviderSpec{pkceProvider("github", "https://idp.example.com/authorize", tokenSrv.URL)})
	env.addAccount(t, "alice", "github")

	start, err := env.orch.StartFlow(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, config.AuthKindPKCE, start.Kind)
	require.NotEmpty(t, start.RequestID)
	require.NotEmpty(t, start.RedirectURI)

	authURL, err := url.Parse(start.AuthorizationURL)
	require.NoError(t, err)
	query := authURL.Query()
	state := query.Get("state")
	challenge := query.Get("code_challenge")
	require.NotEmpty(t, state)
	require.NotEmpty(t, challenge)
	assert.Equal(t, "S256", query.Get("code_challenge_method"))
	assert.Equal(t, start.RedirectURI, query.Get("redirect_uri"))
	assert.Equal(t, "code", query.Get("response_type"))

	// Complete the browser leg before waiting; the result channel buffers
	// the outcome.
	resp, err := http.Get(start.RedirectURI + "?code=auth-code-1&state=" + url.QueryEscape(state))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	result, err := env.orch.FinishFlow(context.Background(), start.RequestID, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "alice", result.AccountID)
	assert.False(t, result.ExpiresAt.IsZero())

	// The exchange must carry the code and a verifier matching the
	// challenge the provider saw.
	form := exchangeForm.Load()
	require.NotNil(t, form)
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "auth-code-1", form.Get("code"))
	assert.Equal(t, start.RedirectURI, form.Get("redirect_uri"))
	verifier := form.Get("code_verifier")
	require.NotEmpty(t, verifier)
	sum := sha256.Sum256([]byte(verifier))
	assert.Equal(t, challenge, base64.RawURLEncoding.EncodeToString(sum[:]))

	token, err := env.orch.TokenCredentials("alice")
	require.NoError(t, err)
	assert.Equal(t, "at-123", token.AccessToken)
	assert.Equal(t, "rt-456", token.RefreshToken)

	assert.Zero(t, env.orch.Registry().Len(), "terminal flow must leave no registry entry")

	_, err = env.orch.FinishFlow(context.Background(), start.RequestID, time.Second)
	assert.True(t, autherr.IsFlowNotFound(err), "a finished flow must not be finishable again")
}

func TestPKCEFlow_SecondWaiterRejected(t *testing.T) {
	env := newTestEnv(t, []config.ProviderSpec{pkceProvider("github", "https://idp.example.com/authorize", "https://idp.example.com/token")})
	env.addAccount(t, "alice", "github")

	start, err := env.orch.StartFlow(context.Background(), "alice")
	require.NoError(t, err)

	waiterErr := make(chan error, 1)
	go func() {
		_, err := env.orch.FinishFlow(context.Background(), start.RequestID, 10*time.Second)
		waiterErr <- err
	}()

	pending, ok := env.orch.registry.Get(start.RequestID)
	require.True(t, ok)
	require.Eventually(t, pending.Claimed, 2*time.Second, 5*time.Millisecond,
		"first waiter should claim the flow")

	_, err = env.orch.FinishFlow(context.Background(), start.RequestID, time.Second)
	assert.True(t, autherr.IsAlreadyWaiting(err), "expected already waiting, got %v", err)

	require.True(t, env.orch.CancelFlow(start.RequestID))
	err = <-waiterErr
	assert.True(t, autherr.IsCancelled(err), "expected cancelled, got %v", err)
	assert.Zero(t, env.orch.Registry().Len())
}

func TestPKCEFlow_Timeout(t *testing.T) {
	env := newTestEnv(t, []config.ProviderSpec{pkceProvider("github", "https://idp.example.com/authorize", "https://idp.example.com/token")})
	env.addAccount(t, "alice", "github")

	start, err := env.orch.StartFlow(context.Background(), "alice")
	require.NoError(t, err)

	_, err = env.orch.FinishFlow(context.Background(), start.RequestID, 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, autherr.IsTimeout(err), "expected timeout, got %v", err)

	var timedOut *autherr.TimeoutError
	require.ErrorAs(t, err, &timedOut)
	assert.Equal(t, start.RequestID, timedOut.RequestID)
	assert.Equal(t, 50*time.Millisecond, timedOut.Timeout)

	_, err = env.orch.FinishFlow(context.Background(), start.RequestID, 50*time.Millisecond)
	assert.True(t, autherr.IsFlowNotFound(err), "timed-out flow must be gone")
	assert.Zero(t, env.orch.Registry().Len())
}

func TestPKCEFlow_ProviderDenial(t *testing.T) {
	env := newTestEnv(t, []config.ProviderSpec{pkceProvider("github", "https://idp.example.com/authorize", "https://idp.example.com/token")})
	env.addAccount(t, "alice", "github")

	start, err := env.orch.StartFlow(context.Background(), "alice")
	require.NoError(t, err)

	resp, err := http.Get(start.RedirectURI + "?error=access_denied&error_description=user+refused")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, err = env.orch.FinishFlow(context.Background(), start.RequestID, 5*time.Second)
	require.Error(t, err)
	assert.True(t, autherr.IsProtocol(err), "expected protocol error, got %v", err)
	assert.Contains(t, err.Error(), "access_denied")
	assert.Zero(t, env.orch.Registry().Len())
}

func TestPKCEFlow_StateMismatch(t *testing.T) {
	env := newTestEnv(t, []config.ProviderSpec{pkceProvider("github", "https://idp.example.com/authorize", "https://idp.example.com/token")})
	env.addAccount(t, "alice", "github")

	start, err := env.orch.StartFlow(context.Background(), "alice")
	require.NoError(t, err)

	resp, err := http.Get(start.RedirectURI + "?code=auth-code-1&state=forged")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, err = env.orch.FinishFlow(context.Background(), start.RequestID, 5*time.Second)
	require.Error(t, err)
	assert.True(t, autherr.IsProtocol(err), "expected protocol error, got %v", err)
	assert.Contains(t, err.Error(), "state")
}

func TestPKCEFlow_ExchangeFailureRecordedOnAccount(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant","error_description":"code already used"}`)
	}))
	defer tokenSrv.Close()

	env := newTestEnv(t, []config.ProviderSpec{pkceProvider("github", "https://idp.example.com/authorize", tokenSrv.URL)})
	env.addAccount(t, "alice", "github")

	start, err := env.orch.StartFlow(context.Background(), "alice")
	require.NoError(t, err)

	completeCallback(t, start)

	_, err = env.orch.FinishFlow(context.Background(), start.RequestID, 5*time.Second)
	require.Error(t, err)
	assert.True(t, autherr.IsProtocol(err), "expected protocol error, got %v", err)
	assert.Contains(t, err.Error(), "invalid_grant")

	account, ok := env.store.Get("alice")
	require.True(t, ok)
	assert.NotEmpty(t, account.LastError, "flow failures should be visible on the account record")
	assert.False(t, env.store.HasCredentials("alice"))
	assert.Zero(t, env.orch.Registry().Len())
}

func TestPKCEFlow_PersistFailureAfterExchange(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at-123","token_type":"Bearer","expires_in":3600}`)
	}))
	defer tokenSrv.Close()

	env := newTestEnv(t, []config.ProviderSpec{pkceProvider("github", "https://idp.example.com/authorize", tokenSrv.URL)})
	env.addAccount(t, "alice", "github")

	start, err := env.orch.StartFlow(context.Background(), "alice")
	require.NoError(t, err)

	// The account disappears while the user is authorizing.
	require.NoError(t, env.store.Remove("alice"))

	completeCallback(t, start)

	_, err = env.orch.FinishFlow(context.Background(), start.RequestID, 5*time.Second)
	require.Error(t, err)
	assert.True(t, autherr.IsStore(err), "expected store error, got %v", err)
	assert.ErrorIs(t, err, store.ErrAccountNotFound)
	assert.Contains(t, err.Error(), "successful authorization",
		"the caller must learn that authorization itself worked")
	assert.Zero(t, env.orch.Registry().Len(), "entry must be removed even when persistence fails")
}

// completeCallback performs the browser leg of a PKCE flow with the state
// the flow was started with.
func completeCallback(t *testing.T, start *StartResult) {
	t.Helper()

	authURL, err := url.Parse(start.AuthorizationURL)
	require.NoError(t, err)
	state := authURL.Query().Get("state")
	require.NotEmpty(t, state)

	resp, err := http.Get(start.RedirectURI + "?code=auth-code-1&state=" + url.QueryEscape(state))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

// deviceIdP scripts a device authorization server. pendingPolls is how many
// authorization_pending responses precede the token.
func deviceIdP(t *testing.T, interval, expiresIn int, pendingPolls int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/device", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
			"device_code": "dev-1",
			"user_code": "ABCD-1234",
			"verification_uri": "https://idp.example.com/activate",
			"verification_uri_complete": "https://idp.example.com/activate?user_code=ABCD-1234",
			"expires_in": %d,
			"interval": %d
		}`, expiresIn, interval)
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("grant_type") != "urn:ietf:params:oauth:grant-type:device_code" ||
			r.PostForm.Get("device_code") != "dev-1" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_grant"}`)
			return
		}
		if polls.Add(1) <= pendingPolls {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"authorization_pending"}`)
			return
		}
		fmt.Fprint(w, `{"access_token":"device-at","token_type":"Bearer","expires_in":600}`)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &polls
}

func deviceProvider(id, baseURL string) config.ProviderSpec {
	return config.ProviderSpec{
		ID:                          id,
		Auth:                        config.AuthKindDeviceCode,
		ClientID:                    "warden-cli",
		Scopes:                      []string{"read"},
		DeviceAuthorizationEndpoint: baseURL + "/device",
		TokenEndpoint:               baseURL + "/token",
	}
}

func TestDeviceFlow_EndToEnd(t *testing.T) {
	srv, polls := deviceIdP(t, 1, 900, 1)

	env := newTestEnv(t, []config.ProviderSpec{deviceProvider("hub", srv.URL)})
	env.addAccount(t, "bob", "hub")

	start, err := env.orch.StartFlow(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, config.AuthKindDeviceCode, start.Kind)
	assert.Equal(t, "ABCD-1234", start.UserCode)
	assert.Equal(t, "https://idp.example.com/activate", start.VerificationURI)
	assert.Contains(t, start.AuthorizationURL, "user_code=",
		"the complete verification URI is preferred when the provider sends one")
	assert.False(t, start.ExpiresAt.IsZero())

	result, err := env.orch.FinishFlow(context.Background(), start.RequestID, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "bob", result.AccountID)
	assert.GreaterOrEqual(t, polls.Load(), int32(2), "the loop must survive authorization_pending")

	token, err := env.orch.TokenCredentials("bob")
	require.NoError(t, err)
	assert.Equal(t, "device-at", token.AccessToken)
	assert.Zero(t, env.orch.Registry().Len())
}

func TestDeviceFlow_CancelObservedWithinInterval(t *testing.T) {
	srv, _ := deviceIdP(t, 1, 900, 1<<30)

	env := newTestEnv(t, []config.ProviderSpec{deviceProvider("hub", srv.URL)})
	env.addAccount(t, "bob", "hub")

	start, err := env.orch.StartFlow(context.Background(), "bob")
	require.NoError(t, err)

	waiterErr := make(chan error, 1)
	go func() {
		_, err := env.orch.FinishFlow(context.Background(), start.RequestID, 30*time.Second)
		waiterErr <- err
	}()

	pending, ok := env.orch.registry.Get(start.RequestID)
	require.True(t, ok)
	require.Eventually(t, pending.Claimed, 2*time.Second, 5*time.Millisecond)

	require.True(t, env.orch.CancelFlow(start.RequestID))
	cancelledAt := time.Now()

	select {
	case err := <-waiterErr:
		assert.True(t, autherr.IsCancelled(err), "expected cancelled, got %v", err)
		var cancelled *autherr.CancelledError
		require.ErrorAs(t, err, &cancelled)
		assert.Equal(t, start.RequestID, cancelled.RequestID)
		assert.Less(t, time.Since(cancelledAt), 5*time.Second,
			"cancellation must surface within about one poll interval")
	case <-time.After(10 * time.Second):
		t.Fatal("cancelled device flow never returned")
	}

	assert.False(t, env.orch.CancelFlow(start.RequestID), "cancelled flow must be gone")
	assert.Zero(t, env.orch.Registry().Len())
}

func TestDeviceFlow_ExpiryBoundsWait(t *testing.T) {
	// The device code expires in 1s while the polling interval is 3s, so
	// the deadline fires before the first poll.
	srv, _ := deviceIdP(t, 3, 1, 1<<30)

	env := newTestEnv(t, []config.ProviderSpec{deviceProvider("hub", srv.URL)})
	env.addAccount(t, "bob", "hub")

	start, err := env.orch.StartFlow(context.Background(), "bob")
	require.NoError(t, err)

	began := time.Now()
	_, err = env.orch.FinishFlow(context.Background(), start.RequestID, 30*time.Second)
	require.Error(t, err)
	assert.True(t, autherr.IsTimeout(err), "expected timeout, got %v", err)
	assert.Less(t, time.Since(began), 10*time.Second,
		"the wait is bounded by the device code lifetime, not the caller timeout")
	assert.Zero(t, env.orch.Registry().Len())
}

func TestDeviceFlow_AuthorizationRequestFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	env := newTestEnv(t, []config.ProviderSpec{deviceProvider("hub", srv.URL)})
	env.addAccount(t, "bob", "hub")

	_, err := env.orch.StartFlow(context.Background(), "bob")
	require.Error(t, err)
	assert.True(t, autherr.IsProtocol(err), "expected protocol error, got %v", err)
	assert.Zero(t, env.orch.Registry().Len())
}

func TestCookieFlow_EndToEnd(t *testing.T) {
	surface := newFakeSurface("https://login.example.com/start")
	env := newTestEnv(t, []config.ProviderSpec{cookieProvider("chat")},
		WithSurfaceFactory(&fakeSurfaceFactory{surface: surface}),
		WithCapturePollInterval(10*time.Millisecond))
	env.addAccount(t, "carol", "chat")

	start, err := env.orch.StartFlow(context.Background(), "carol")
	require.NoError(t, err)
	assert.Equal(t, config.AuthKindCookieSession, start.Kind)
	assert.Equal(t, "https://login.example.com/start", start.AuthorizationURL)

	type outcome struct {
		result *FinishResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := env.orch.FinishFlow(context.Background(), start.RequestID, 5*time.Second)
		done <- outcome{result, err}
	}()

	// The workspace URL lands first; the session cookie shows up later.
	surface.setURL("https://app.example.com/w/team-42/inbox")
	time.Sleep(50 * time.Millisecond)
	surface.setCookies("https://app.example.com", []*http.Cookie{
		{Name: "theme", Value: "dark"},
		{Name: "session", Value: "s3cr3t"},
	})

	got := <-done
	require.NoError(t, got.err)
	assert.Equal(t, "carol", got.result.AccountID)

	creds, err := env.orch.CookieSessionCredentials("carol")
	require.NoError(t, err)
	assert.Equal(t, "team-42", creds.WorkspaceID)
	assert.Contains(t, creds.CookieHeader, "session=s3cr3t")
	assert.Contains(t, creds.CookieHeader, "theme=dark")
	assert.False(t, creds.CapturedAt.IsZero())

	account, ok := env.store.Get("carol")
	require.True(t, ok)
	assert.Equal(t, "team-42", account.Settings["workspaceId"])

	assert.GreaterOrEqual(t, surface.closedCount(), 1, "the surface must be released")
	assert.Zero(t, env.orch.Registry().Len())
}

func TestCookieFlow_CookiesBeforeWorkspace(t *testing.T) {
	surface := newFakeSurface("https://login.example.com/start")
	surface.setCookies("https://app.example.com", []*http.Cookie{
		{Name: "session", Value: "early-bird"},
	})

	env := newTestEnv(t, []config.ProviderSpec{cookieProvider("chat")},
		WithSurfaceFactory(&fakeSurfaceFactory{surface: surface}),
		WithCapturePollInterval(10*time.Millisecond))
	env.addAccount(t, "carol", "chat")

	start, err := env.orch.StartFlow(context.Background(), "carol")
	require.NoError(t, err)

	type outcome struct {
		result *FinishResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := env.orch.FinishFlow(context.Background(), start.RequestID, 5*time.Second)
		done <- outcome{result, err}
	}()

	time.Sleep(50 * time.Millisecond)
	surface.setURL("https://app.example.com/w/late-team")

	got := <-done
	require.NoError(t, got.err)

	creds, err := env.orch.CookieSessionCredentials("carol")
	require.NoError(t, err)
	assert.Equal(t, "late-team", creds.WorkspaceID)
	assert.Contains(t, creds.CookieHeader, "session=early-bird")
}

func TestCookieFlow_CancelReleasesSurface(t *testing.T) {
	surface := newFakeSurface("https://login.example.com/start")
	env := newTestEnv(t, []config.ProviderSpec{cookieProvider("chat")},
		WithSurfaceFactory(&fakeSurfaceFactory{surface: surface}))
	env.addAccount(t, "carol", "chat")

	start, err := env.orch.StartFlow(context.Background(), "carol")
	require.NoError(t, err)

	require.True(t, env.orch.CancelFlow(start.RequestID))
	assert.GreaterOrEqual(t, surface.closedCount(), 1,
		"cancelling an unclaimed cookie flow must close its surface")
	assert.Zero(t, env.orch.Registry().Len())

	_, err = env.orch.FinishFlow(context.Background(), start.RequestID, time.Second)
	assert.True(t, autherr.IsFlowNotFound(err))
}

func TestCookieFlow_RequiresSurfaceFactory(t *testing.T) {
	env := newTestEnv(t, []config.ProviderSpec{cookieProvider("chat")})
	env.addAccount(t, "carol", "chat")

	_, err := env.orch.StartFlow(context.Background(), "carol")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "surface")
	assert.Zero(t, env.orch.Registry().Len())
}

func TestShutdown_CancelsEverything(t *testing.T) {
	surface := newFakeSurface("https://login.example.com/start")
	env := newTestEnv(t, []config.ProviderSpec{
		pkceProvider("github", "https://idp.example.com/authorize", "https://idp.example.com/token"),
		cookieProvider("chat"),
	}, WithSurfaceFactory(&fakeSurfaceFactory{surface: surface}))
	env.addAccount(t, "alice", "github")
	env.addAccount(t, "carol", "chat")

	pkceStart, err := env.orch.StartFlow(context.Background(), "alice")
	require.NoError(t, err)
	_, err = env.orch.StartFlow(context.Background(), "carol")
	require.NoError(t, err)
	require.Equal(t, 2, env.orch.Registry().Len())

	env.orch.Shutdown()

	assert.Zero(t, env.orch.Registry().Len())
	assert.GreaterOrEqual(t, surface.closedCount(), 1)

	_, err = env.orch.FinishFlow(context.Background(), pkceStart.RequestID, time.Second)
	assert.True(t, autherr.IsFlowNotFound(err))
}
