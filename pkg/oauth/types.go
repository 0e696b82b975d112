package oauth

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultExpiryMargin is the default margin when checking token expiry.
// This accounts for clock skew and network latency.
const DefaultExpiryMargin = 30 * time.Second

// Token represents a token endpoint response with associated metadata.
type Token struct {
	// AccessToken is the bearer token used for authorization.
	AccessToken string `json:"access_token"`

	// TokenType is typically "Bearer".
	TokenType string `json:"token_type,omitempty"`

	// RefreshToken is used to obtain new access tokens (optional).
	RefreshToken string `json:"refresh_token,omitempty"`

	// ExpiresIn is the token lifetime in seconds (from the token response).
	ExpiresIn int `json:"expires_in,omitempty"`

	// ExpiresAt is the calculated expiration timestamp.
	ExpiresAt time.Time `json:"expires_at,omitempty"`

	// Scope is the granted scope(s), space-separated.
	Scope string `json:"scope,omitempty"`

	// IDToken is the OIDC ID token (if available).
	IDToken string `json:"id_token,omitempty"`
}

// IsExpired checks if the token has expired.
// Returns true if the token is expired or will expire within the default margin.
func (t *Token) IsExpired() bool {
	return t.IsExpiredWithMargin(DefaultExpiryMargin)
}

// IsExpiredWithMargin checks if the token has expired or will expire within the margin.
func (t *Token) IsExpiredWithMargin(margin time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return false // Tokens without expiration don't expire
	}
	return time.Now().Add(margin).After(t.ExpiresAt)
}

// SetExpiresAtFromExpiresIn calculates and sets ExpiresAt from ExpiresIn.
func (t *Token) SetExpiresAtFromExpiresIn() {
	if t.ExpiresIn > 0 && t.ExpiresAt.IsZero() {
		t.ExpiresAt = time.Now().Add(time.Duration(t.ExpiresIn) * time.Second)
	}
}

// Scopes returns the scope as a slice of individual scopes.
func (t *Token) Scopes() []string {
	if t.Scope == "" {
		return nil
	}
	return strings.Fields(t.Scope)
}

// ToOAuth2Token converts the Token to an oauth2.Token for compatibility with
// golang.org/x/oauth2.
func (t *Token) ToOAuth2Token() *oauth2.Token {
	token := &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.ExpiresAt,
	}

	// Add ID token to extra data if available
	if t.IDToken != "" {
		token = token.WithExtra(map[string]interface{}{
			"id_token": t.IDToken,
		})
	}

	return token
}

// Metadata represents OAuth 2.0 Authorization Server Metadata as defined in
// RFC 8414. Only the fields warden consumes are modeled.
type Metadata struct {
	// Issuer is the authorization server's issuer identifier.
	Issuer string `json:"issuer"`

	// AuthorizationEndpoint is the URL of the authorization endpoint.
	AuthorizationEndpoint string `json:"authorization_endpoint"`

	// TokenEndpoint is the URL of the token endpoint.
	TokenEndpoint string `json:"token_endpoint"`

	// DeviceAuthorizationEndpoint is the URL of the device authorization
	// endpoint (RFC 8628), if the server supports the device flow.
	DeviceAuthorizationEndpoint string `json:"device_authorization_endpoint,omitempty"`

	// ScopesSupported lists the supported scopes.
	ScopesSupported []string `json:"scopes_supported,omitempty"`

	// CodeChallengeMethodsSupported lists the supported PKCE methods.
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported,omitempty"`
}

// DeviceAuthorization represents a device authorization response as defined
// in RFC 8628 section 3.2.
type DeviceAuthorization struct {
	// DeviceCode is the device verification code polled against the token endpoint.
	DeviceCode string `json:"device_code"`

	// UserCode is the code the user enters on the verification page.
	UserCode string `json:"user_code"`

	// VerificationURI is the page where the user enters the user code.
	VerificationURI string `json:"verification_uri"`

	// VerificationURIComplete embeds the user code in the URI (optional).
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`

	// ExpiresIn is the lifetime of the device code in seconds.
	ExpiresIn int `json:"expires_in"`

	// Interval is the minimum polling interval in seconds (optional, default 5).
	Interval int `json:"interval,omitempty"`
}

// Token endpoint error codes warden branches on. The device-flow codes are
// defined in RFC 8628 section 3.5.
const (
	ErrorCodeAuthorizationPending = "authorization_pending"
	ErrorCodeSlowDown             = "slow_down"
	ErrorCodeExpiredToken         = "expired_token"
	ErrorCodeAccessDenied         = "access_denied"
)

// TokenError is an OAuth 2.0 error response from a token endpoint
// (RFC 6749 section 5.2).
type TokenError struct {
	// Code is the OAuth error code, e.g. "invalid_grant".
	Code string `json:"error"`

	// Description is the optional human-readable error description.
	Description string `json:"error_description,omitempty"`

	// Status is the HTTP status the error arrived with.
	Status int `json:"-"`
}

// Error returns the provider's error detail in a single line.
func (e *TokenError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("oauth error %s: %s", e.Code, e.Description)
	}
	if e.Code != "" {
		return fmt.Sprintf("oauth error %s", e.Code)
	}
	return fmt.Sprintf("oauth token request failed with status %d", e.Status)
}

// ParseTokenError interprets a non-success token endpoint response body.
// Returns a TokenError even when the body is not a valid OAuth error payload,
// so callers always have the HTTP status to report.
func ParseTokenError(status int, body []byte) *TokenError {
	tokenErr := &TokenError{Status: status}
	if err := json.Unmarshal(body, tokenErr); err != nil {
		return &TokenError{Status: status}
	}
	return tokenErr
}
