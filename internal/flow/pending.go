package flow

import (
	"sync/atomic"
	"time"

	"warden/internal/capture"
)

// Variant is the protocol-specific portion of a pending flow. Exactly one of
// PKCEVariant, DeviceVariant, or CookieVariant backs each Pending entry, so a
// field that only exists for one protocol can never be read from another.
type Variant interface {
	variant()
}

// PKCEVariant holds the in-flight state of an authorization-code + PKCE flow.
type PKCEVariant struct {
	// Verifier is the PKCE code verifier, needed again at token exchange.
	Verifier string

	// RedirectURI is the loopback redirect the callback listener is bound to.
	RedirectURI string

	// State is the CSRF state parameter the listener validates against.
	State string

	// Completion delivers the listener's terminal result exactly once.
	Completion *Completion
}

func (*PKCEVariant) variant() {}

// DeviceVariant holds the in-flight state of a device-code flow.
type DeviceVariant struct {
	// DeviceCode is polled against the token endpoint.
	DeviceCode string

	// UserCode is displayed to the user for entry on the verification page.
	UserCode string

	// Interval is the provider-supplied initial polling interval.
	Interval time.Duration

	// ExpiresAt is when the device code stops being exchangeable.
	ExpiresAt time.Time
}

func (*DeviceVariant) variant() {}

// CookieVariant holds the in-flight state of a cookie-session capture flow.
type CookieVariant struct {
	// Surface is the interactive browser surface the capture loop reads.
	Surface capture.Surface

	// ExpiresAt bounds how long capture may run.
	ExpiresAt time.Time
}

func (*CookieVariant) variant() {}

// Pending is the in-memory state of a started-but-unfinished authentication
// flow. Entries live only in the registry; they are never persisted.
type Pending struct {
	// RequestID uniquely identifies this flow.
	RequestID string

	// AccountID is the account the flow authenticates.
	AccountID string

	// ProviderID is the provider the account belongs to.
	ProviderID string

	// StartedAt is when the flow was created.
	StartedAt time.Time

	// Cancel is the cooperative cancellation flag shared with the background
	// task driving this flow.
	Cancel *CancelFlag

	// Variant is the protocol-specific flow state.
	Variant Variant

	// claimed latches when a caller starts waiting on this flow, so a second
	// concurrent waiter can be rejected instead of silently racing.
	claimed atomic.Bool
}

// NewPending creates a pending flow with a fresh cancellation flag.
func NewPending(requestID, accountID, providerID string, variant Variant) *Pending {
	return &Pending{
		RequestID:  requestID,
		AccountID:  accountID,
		ProviderID: providerID,
		StartedAt:  time.Now(),
		Cancel:     NewCancelFlag(),
		Variant:    variant,
	}
}

// Claim marks the flow as being waited on. Returns true for the first caller
// and false for everyone after, mirroring the take-once semantics of the
// PKCE completion channel for variants that have no channel.
func (p *Pending) Claim() bool {
	return p.claimed.CompareAndSwap(false, true)
}

// Claimed reports whether a waiter has claimed this flow.
func (p *Pending) Claimed() bool {
	return p.claimed.Load()
}
