package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"warden/internal/callback"
	"warden/internal/capture"
	"warden/internal/config"
	"warden/internal/device"
	"warden/internal/flow"
	"warden/internal/store"
	"warden/internal/vault"
	"warden/pkg/logging"
	"warden/pkg/oauth"
)

const (
	// DefaultFinishTimeout bounds FinishFlow when the caller does not pass
	// an explicit timeout.
	DefaultFinishTimeout = 2 * time.Minute

	// DefaultDeviceExpiry is assumed when a provider's device authorization
	// response omits expires_in.
	DefaultDeviceExpiry = 15 * time.Minute

	// DefaultCookieFlowExpiry bounds how long a cookie-session sign-in may
	// stay pending. Interactive sign-ins are slower than OAuth redirects,
	// so this is deliberately generous.
	DefaultCookieFlowExpiry = 5 * time.Minute
)

// SurfaceFactory opens an interactive browser surface for cookie-session
// sign-in. Warden ships no browser automation of its own; the embedding
// application supplies the factory, typically backed by an embedded webview.
type SurfaceFactory interface {
	Open(ctx context.Context, signInURL string) (capture.Surface, error)
}

// Orchestrator glues the flow components together: it starts flows, waits
// for their completion, exchanges authorization results for credentials, and
// hands the encrypted payloads to the account store.
type Orchestrator struct {
	cfg      *config.Config
	accounts *store.Store
	vault    *vault.Vault
	registry *flow.Registry
	oauth    *oauth.Client

	exchanger Exchanger
	surfaces  SurfaceFactory

	// capturePoll overrides the capture loop interval; tests shrink it.
	capturePoll time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithOAuthClient replaces the OAuth protocol client.
func WithOAuthClient(client *oauth.Client) Option {
	return func(o *Orchestrator) {
		o.oauth = client
	}
}

// WithExchanger replaces the authorization-code exchanger, for providers
// whose token endpoint strays from the standard form exchange.
func WithExchanger(e Exchanger) Option {
	return func(o *Orchestrator) {
		o.exchanger = e
	}
}

// WithSurfaceFactory supplies the browser surface factory required by
// cookie-session providers.
func WithSurfaceFactory(f SurfaceFactory) Option {
	return func(o *Orchestrator) {
		o.surfaces = f
	}
}

// WithCapturePollInterval overrides the cookie capture poll interval.
func WithCapturePollInterval(interval time.Duration) Option {
	return func(o *Orchestrator) {
		o.capturePoll = interval
	}
}

// New creates an Orchestrator over the given provider catalogue, account
// store, and credential vault.
func New(cfg *config.Config, accounts *store.Store, vlt *vault.Vault, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		accounts: accounts,
		vault:    vlt,
		registry: flow.NewRegistry(),
		oauth:    oauth.NewClient(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.exchanger == nil {
		o.exchanger = &oauthExchanger{client: o.oauth}
	}
	return o
}

// Registry exposes the pending-flow registry, mainly for shutdown and
// inspection.
func (o *Orchestrator) Registry() *flow.Registry {
	return o.registry
}

// StartResult is what the caller needs to put in front of the user after a
// flow has started.
type StartResult struct {
	// RequestID identifies the flow for FinishFlow and CancelFlow.
	RequestID string

	// Kind is the protocol the flow runs.
	Kind config.AuthKind

	// AuthorizationURL is the page the user completes authorization on.
	AuthorizationURL string

	// RedirectURI is the loopback redirect registered for PKCE flows.
	RedirectURI string

	// UserCode is displayed to the user for device-code flows.
	UserCode string

	// VerificationURI is the device-flow page where the user enters the code.
	VerificationURI string

	// ExpiresAt is when the interactive step stops being completable, for
	// flows that carry their own deadline.
	ExpiresAt time.Time
}

// StartFlow begins an authentication flow for the account. The protocol and
// its parameters come from the provider catalogue entry referenced by the
// account record.
func (o *Orchestrator) StartFlow(ctx context.Context, accountID string) (*StartResult, error) {
	account, ok := o.accounts.Get(accountID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrAccountNotFound, accountID)
	}
	provider, ok := o.cfg.Provider(account.ProviderID)
	if !ok {
		return nil, fmt.Errorf("account %s references unknown provider %q", accountID, account.ProviderID)
	}

	requestID := uuid.NewString()

	switch provider.Auth {
	case config.AuthKindPKCE:
		return o.startPKCE(ctx, requestID, account, provider)
	case config.AuthKindDeviceCode:
		return o.startDevice(ctx, requestID, account, provider)
	case config.AuthKindCookieSession:
		return o.startCookie(ctx, requestID, account, provider)
	case config.AuthKindAPIKey:
		return nil, fmt.Errorf("provider %s uses an API key; link it with LinkAPIKey instead of a flow", provider.ID)
	default:
		return nil, fmt.Errorf("provider %s has unsupported auth kind %q", provider.ID, provider.Auth)
	}
}

// startPKCE resolves the provider endpoints, binds the loopback callback
// listener, and registers the pending flow. The listener and the pending
// entry share one cancellation flag.
func (o *Orchestrator) startPKCE(ctx context.Context, requestID string, account *store.Account, provider *config.ProviderSpec) (*StartResult, error) {
	ep, err := resolveEndpoints(ctx, o.oauth, provider)
	if err != nil {
		return nil, err
	}
	if ep.authorization == "" || ep.token == "" {
		return nil, fmt.Errorf("provider %s is missing authorization or token endpoint", provider.ID)
	}

	pkce, err := oauth.GeneratePKCE()
	if err != nil {
		return nil, err
	}
	state, err := oauth.GenerateState()
	if err != nil {
		return nil, err
	}

	cancel := flow.NewCancelFlag()
	srv, err := callback.Start(callback.Config{
		Path:          provider.RedirectPath,
		ExpectedState: state,
		Port:          provider.CallbackPort,
	}, cancel)
	if err != nil {
		return nil, err
	}

	authURL, err := o.oauth.BuildAuthorizationURL(
		ep.authorization, provider.ClientID, srv.RedirectURI(), state,
		strings.Join(provider.Scopes, " "), pkce)
	if err != nil {
		cancel.Set()
		srv.Stop()
		return nil, err
	}

	p := flow.NewPending(requestID, account.ID, provider.ID, &flow.PKCEVariant{
		Verifier:    pkce.CodeVerifier,
		RedirectURI: srv.RedirectURI(),
		State:       state,
		Completion:  flow.NewCompletion(srv.Results()),
	})
	p.Cancel = cancel
	if !o.registry.Insert(p) {
		cancel.Set()
		srv.Stop()
		return nil, fmt.Errorf("flow request id collision for %s", requestID)
	}

	logging.Info("Orchestrator", "Started PKCE flow %s for account %s on port %d",
		requestID, account.ID, srv.Port())

	return &StartResult{
		RequestID:        requestID,
		Kind:             config.AuthKindPKCE,
		AuthorizationURL: authURL,
		RedirectURI:      srv.RedirectURI(),
	}, nil
}

// startDevice requests a device authorization from the provider and
// registers the pending flow with the provider-supplied polling interval
// and expiry.
func (o *Orchestrator) startDevice(ctx context.Context, requestID string, account *store.Account, provider *config.ProviderSpec) (*StartResult, error) {
	ep, err := resolveEndpoints(ctx, o.oauth, provider)
	if err != nil {
		return nil, err
	}
	if ep.device == "" || ep.token == "" {
		return nil, fmt.Errorf("provider %s is missing device authorization or token endpoint", provider.ID)
	}

	auth, err := o.oauth.DeviceAuthorize(ctx, ep.device, provider.ClientID, strings.Join(provider.Scopes, " "))
	if err != nil {
		return nil, protocolError("device authorization request failed", err)
	}

	interval := time.Duration(auth.Interval) * time.Second
	if interval <= 0 {
		interval = device.DefaultInterval
	}
	expiry := DefaultDeviceExpiry
	if auth.ExpiresIn > 0 {
		expiry = time.Duration(auth.ExpiresIn) * time.Second
	}

	p := flow.NewPending(requestID, account.ID, provider.ID, &flow.DeviceVariant{
		DeviceCode: auth.DeviceCode,
		UserCode:   auth.UserCode,
		Interval:   interval,
		ExpiresAt:  time.Now().Add(expiry),
	})
	if !o.registry.Insert(p) {
		return nil, fmt.Errorf("flow request id collision for %s", requestID)
	}

	verification := auth.VerificationURIComplete
	if verification == "" {
		verification = auth.VerificationURI
	}

	logging.Info("Orchestrator", "Started device flow %s for account %s (user code %s)",
		requestID, account.ID, auth.UserCode)

	return &StartResult{
		RequestID:        requestID,
		Kind:             config.AuthKindDeviceCode,
		AuthorizationURL: verification,
		UserCode:         auth.UserCode,
		VerificationURI:  auth.VerificationURI,
		ExpiresAt:        p.Variant.(*flow.DeviceVariant).ExpiresAt,
	}, nil
}

// startCookie opens an interactive browser surface on the provider's sign-in
// page and registers the pending flow holding it.
func (o *Orchestrator) startCookie(ctx context.Context, requestID string, account *store.Account, provider *config.ProviderSpec) (*StartResult, error) {
	if o.surfaces == nil {
		return nil, fmt.Errorf("provider %s needs an interactive browser surface, but none is configured", provider.ID)
	}

	surface, err := o.surfaces.Open(ctx, provider.SignInURL)
	if err != nil {
		return nil, protocolError("failed to open sign-in surface", err)
	}

	p := flow.NewPending(requestID, account.ID, provider.ID, &flow.CookieVariant{
		Surface:   surface,
		ExpiresAt: time.Now().Add(DefaultCookieFlowExpiry),
	})
	if !o.registry.Insert(p) {
		_ = surface.Close()
		return nil, fmt.Errorf("flow request id collision for %s", requestID)
	}

	logging.Info("Orchestrator", "Started cookie-session flow %s for account %s", requestID, account.ID)

	return &StartResult{
		RequestID:        requestID,
		Kind:             config.AuthKindCookieSession,
		AuthorizationURL: provider.SignInURL,
		ExpiresAt:        p.Variant.(*flow.CookieVariant).ExpiresAt,
	}, nil
}

// CancelFlow aborts a pending flow: the entry is removed and the shared
// cancellation flag is set, so whatever background task the flow runs
// terminates at its next check. Reports whether the request id existed.
func (o *Orchestrator) CancelFlow(requestID string) bool {
	p, ok := o.registry.Cancel(requestID)
	if !ok {
		return false
	}
	o.releaseCancelled(p)
	return true
}

// Shutdown cancels every pending flow. Called when the daemon stops so no
// listener or surface outlives the process's useful life.
func (o *Orchestrator) Shutdown() {
	for _, p := range o.registry.CancelAll() {
		o.releaseCancelled(p)
	}
}

// releaseCancelled cleans up flow resources that only a waiter would
// otherwise release. An unclaimed cookie flow still owns its surface;
// claimed flows release theirs through the capture loop.
func (o *Orchestrator) releaseCancelled(p *flow.Pending) {
	if v, ok := p.Variant.(*flow.CookieVariant); ok && !p.Claimed() {
		_ = v.Surface.Close()
	}
}
