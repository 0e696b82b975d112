package orchestrator

import (
	"context"
	"fmt"

	"warden/internal/autherr"
	"warden/internal/config"
	"warden/pkg/oauth"
)

// endpoints holds the resolved OAuth endpoints for one provider, after
// explicit configuration and metadata discovery have been merged.
type endpoints struct {
	authorization string
	token         string
	device        string
}

// missingFor reports whether any endpoint the given auth kind requires is
// still blank.
func (e endpoints) missingFor(kind config.AuthKind) bool {
	switch kind {
	case config.AuthKindPKCE:
		return e.authorization == "" || e.token == ""
	case config.AuthKindDeviceCode:
		return e.device == "" || e.token == ""
	default:
		return false
	}
}

// resolveEndpoints merges explicitly configured endpoints with metadata
// discovery. Explicit endpoints always win; discovery only fills the blanks,
// and only runs when the provider's auth kind actually needs a blank filled.
// Callers still validate the endpoints their flow requires, since a provider
// without an issuer URL legitimately resolves to whatever was configured.
func resolveEndpoints(ctx context.Context, client *oauth.Client, provider *config.ProviderSpec) (endpoints, error) {
	ep := endpoints{
		authorization: provider.AuthorizationEndpoint,
		token:         provider.TokenEndpoint,
		device:        provider.DeviceAuthorizationEndpoint,
	}
	if !ep.missingFor(provider.Auth) || provider.IssuerURL == "" {
		return ep, nil
	}

	md, err := client.DiscoverMetadata(ctx, provider.IssuerURL)
	if err != nil {
		return endpoints{}, protocolError(fmt.Sprintf("metadata discovery failed for %s", provider.ID), err)
	}
	if ep.authorization == "" {
		ep.authorization = md.AuthorizationEndpoint
	}
	if ep.token == "" {
		ep.token = md.TokenEndpoint
	}
	if ep.device == "" {
		ep.device = md.DeviceAuthorizationEndpoint
	}
	return ep, nil
}

// Exchanger turns an authorization code into a token set. The default
// implementation speaks the standard OAuth form exchange; providers whose
// token endpoint deviates from it supply their own via WithExchanger.
type Exchanger interface {
	ExchangeCode(ctx context.Context, provider *config.ProviderSpec, code, redirectURI, codeVerifier string) (*oauth.Token, error)
}

// oauthExchanger is the standard-compliant Exchanger.
type oauthExchanger struct {
	client *oauth.Client
}

func (e *oauthExchanger) ExchangeCode(ctx context.Context, provider *config.ProviderSpec, code, redirectURI, codeVerifier string) (*oauth.Token, error) {
	ep, err := resolveEndpoints(ctx, e.client, provider)
	if err != nil {
		return nil, err
	}
	if ep.token == "" {
		return nil, fmt.Errorf("provider %s has no token endpoint", provider.ID)
	}
	token, err := e.client.ExchangeCode(ctx, ep.token, code, redirectURI, provider.ClientID, codeVerifier)
	if err != nil {
		return nil, protocolError("authorization code exchange failed", err)
	}
	return token, nil
}

// protocolError wraps err as a provider protocol failure with a stable
// human-readable reason.
func protocolError(reason string, err error) error {
	return &autherr.ProtocolError{Reason: reason, Err: err}
}
