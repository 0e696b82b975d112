package auth

import "time"

// Error kinds carried in ErrorResponse.Kind, mirroring the daemon's error
// taxonomy one to one. KindAccountNotFound and KindNoCredentials are the
// daemon's own: requests address accounts by id, and an unknown id or an
// account with nothing linked is not a flow failure.
const (
	KindFlowNotFound    = "flow_not_found"
	KindAlreadyWaiting  = "already_waiting"
	KindCancelled       = "cancelled"
	KindTimedOut        = "timed_out"
	KindProtocolError   = "protocol_error"
	KindCryptoError     = "crypto_error"
	KindStoreError      = "store_error"
	KindAccountNotFound = "account_not_found"
	KindNoCredentials   = "no_credentials"
	KindInternal        = "internal"
)

// StartFlowRequest asks the daemon to begin an authentication flow for an
// account. POST /v1/flows.
type StartFlowRequest struct {
	// AccountID is the account to authenticate.
	AccountID string `json:"accountId"`
}

// StartFlowResponse describes a started flow and everything the frontend
// needs to put in front of the user.
type StartFlowResponse struct {
	// RequestID identifies the flow for the wait and cancel endpoints.
	RequestID string `json:"requestId"`

	// Kind is the protocol the flow runs: "pkce", "deviceCode", or
	// "cookieSession".
	Kind string `json:"kind"`

	// AuthorizationURL is the page the user completes authorization on.
	AuthorizationURL string `json:"authorizationUrl,omitempty"`

	// RedirectURI is the loopback redirect registered for PKCE flows.
	RedirectURI string `json:"redirectUri,omitempty"`

	// UserCode is shown to the user for device-code flows.
	UserCode string `json:"userCode,omitempty"`

	// VerificationURI is the device-flow page where the user enters the code.
	VerificationURI string `json:"verificationUri,omitempty"`

	// ExpiresAt is when the interactive step stops being completable, for
	// flows that carry their own deadline.
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// WaitFlowRequest bounds how long the daemon may block on a flow result.
// POST /v1/flows/{id}/wait.
type WaitFlowRequest struct {
	// TimeoutMS caps the wait in milliseconds. Zero means the daemon
	// default.
	TimeoutMS int `json:"timeoutMs,omitempty"`
}

// WaitFlowResponse reports a successfully finished flow.
type WaitFlowResponse struct {
	// AccountID is the account the credentials were stored on.
	AccountID string `json:"accountId"`

	// ExpiresAt is when the stored credentials expire, if they do.
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// CancelFlowResponse reports whether the cancelled request id existed.
// DELETE /v1/flows/{id}.
type CancelFlowResponse struct {
	Cancelled bool `json:"cancelled"`
}

// RefreshAccountResponse reports a successful credential refresh.
// POST /v1/accounts/{id}/refresh.
type RefreshAccountResponse struct {
	// AccountID is the account whose credentials were renewed.
	AccountID string `json:"accountId"`

	// ExpiresAt is when the renewed credentials expire, if they do.
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// AccountSummary is one row of GET /v1/accounts. Credential payloads never
// leave the daemon; only their presence is reported.
type AccountSummary struct {
	ID             string    `json:"id"`
	ProviderID     string    `json:"providerId"`
	Label          string    `json:"label,omitempty"`
	HasCredentials bool      `json:"hasCredentials"`
	LastError      string    `json:"lastError,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// ErrorResponse is the body of every non-2xx daemon response.
type ErrorResponse struct {
	// Kind is one of the Kind constants.
	Kind string `json:"kind"`

	// Message is a human-readable description.
	Message string `json:"message"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status       string `json:"status"`
	PendingFlows int    `json:"pendingFlows"`
}
