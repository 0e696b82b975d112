// Package oauth provides the shared OAuth 2.1 primitives used by warden's
// authentication flows.
//
// # Core Components
//
//   - PKCEChallenge: Proof Key for Code Exchange generation (RFC 7636)
//   - Token: token endpoint response with expiry handling
//   - Metadata: authorization server metadata (RFC 8414)
//   - DeviceAuthorization: device authorization response (RFC 8628)
//   - Client: metadata discovery, authorization URL construction, code
//     exchange, token refresh, and device authorization
//
// # Usage
//
//	import "warden/pkg/oauth"
//
//	pkce, err := oauth.GeneratePKCE()
//	state, err := oauth.GenerateState()
//
//	client := oauth.NewClient()
//	meta, err := client.DiscoverMetadata(ctx, issuer)
//	token, err := client.ExchangeCode(ctx, meta.TokenEndpoint, code, redirectURI, clientID, pkce.CodeVerifier)
//
// The device-code polling loop itself lives in internal/device; this package
// only provides the wire types and the error-code parsing the poller branches
// on.
package oauth
