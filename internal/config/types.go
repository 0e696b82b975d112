package config

import "regexp"

// Config is the top-level configuration structure for warden.
type Config struct {
	Daemon    DaemonConfig   `yaml:"daemon"`
	Providers []ProviderSpec `yaml:"providers,omitempty"`
}

// DaemonConfig defines where the local daemon listens.
type DaemonConfig struct {
	Host string `yaml:"host,omitempty"` // Host to bind to (default: 127.0.0.1)
	Port int    `yaml:"port,omitempty"` // Port for the HTTP API (default: 7911)
}

// AuthKind selects the authentication protocol a provider uses.
type AuthKind string

const (
	// AuthKindPKCE is the authorization-code flow with PKCE and a local
	// callback listener.
	AuthKindPKCE AuthKind = "pkce"

	// AuthKindDeviceCode is the device authorization grant: the user
	// approves in any browser while warden polls the token endpoint.
	AuthKindDeviceCode AuthKind = "deviceCode"

	// AuthKindCookieSession captures a workspace id and session cookie
	// from an interactive sign-in surface.
	AuthKindCookieSession AuthKind = "cookieSession"

	// AuthKindAPIKey stores a user-supplied key directly; no flow runs.
	AuthKindAPIKey AuthKind = "apiKey"
)

// ProviderSpec describes one provider in the catalogue.
type ProviderSpec struct {
	ID    string   `yaml:"id"`
	Label string   `yaml:"label,omitempty"`
	Auth  AuthKind `yaml:"auth"`

	// OAuth settings (pkce and deviceCode).
	ClientID string   `yaml:"clientId,omitempty"`
	Scopes   []string `yaml:"scopes,omitempty"`

	// IssuerURL enables endpoint discovery via well-known metadata.
	// Explicit endpoints below take precedence when set.
	IssuerURL                   string `yaml:"issuerUrl,omitempty"`
	AuthorizationEndpoint       string `yaml:"authorizationEndpoint,omitempty"`
	TokenEndpoint               string `yaml:"tokenEndpoint,omitempty"`
	DeviceAuthorizationEndpoint string `yaml:"deviceAuthorizationEndpoint,omitempty"`

	// Callback listener settings (pkce only).
	RedirectPath string `yaml:"redirectPath,omitempty"` // default: /callback
	CallbackPort int    `yaml:"callbackPort,omitempty"` // default: 0, ephemeral

	// Cookie capture settings (cookieSession only).
	SignInURL           string   `yaml:"signInUrl,omitempty"`
	WorkspaceURLPattern string   `yaml:"workspaceUrlPattern,omitempty"`
	CookieSources       []string `yaml:"cookieSources,omitempty"`
	AuthCookieName      string   `yaml:"authCookieName,omitempty"`
}

// Provider looks up a provider spec by id.
func (c *Config) Provider(id string) (*ProviderSpec, bool) {
	for i := range c.Providers {
		if c.Providers[i].ID == id {
			return &c.Providers[i], true
		}
	}
	return nil, false
}

// DisplayLabel returns the label, falling back to the id.
func (p *ProviderSpec) DisplayLabel() string {
	if p.Label != "" {
		return p.Label
	}
	return p.ID
}

// WorkspacePattern compiles the workspace URL pattern.
func (p *ProviderSpec) WorkspacePattern() (*regexp.Regexp, error) {
	return regexp.Compile(p.WorkspaceURLPattern)
}
