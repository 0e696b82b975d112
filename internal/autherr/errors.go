// Package autherr defines the error taxonomy shared by the authentication
// flow orchestrator, the pending-flow registry, and the credential vault.
//
// Callers branch on error categories, not messages: cancellation and timeout
// are retryable by the user, protocol errors point at the provider exchange,
// crypto errors mean credentials exist but cannot be trusted, and store
// errors mean persistence failed after an otherwise successful step. The
// distinct types keep those outcomes separable with errors.As.
package autherr

import (
	"errors"
	"fmt"
	"time"
)

// FlowNotFoundError indicates no pending authentication flow exists for the
// given request id. Returned when a flow already completed, was cancelled, or
// never existed.
type FlowNotFoundError struct {
	// RequestID is the flow request id that could not be resolved.
	RequestID string
}

// Error returns a user-facing message.
func (e *FlowNotFoundError) Error() string {
	return fmt.Sprintf("no pending authentication flow for request %s", e.RequestID)
}

// Is allows errors.Is() to match any FlowNotFoundError.
func (e *FlowNotFoundError) Is(target error) bool {
	_, ok := target.(*FlowNotFoundError)
	return ok
}

// AlreadyWaitingError indicates the flow's completion has already been
// claimed by another waiter. A flow result is delivered exactly once; a
// second wait on the same request id is a caller bug, distinct from the flow
// simply being gone.
type AlreadyWaitingError struct {
	// RequestID is the flow whose completion was already claimed.
	RequestID string
}

// Error returns a user-facing message.
func (e *AlreadyWaitingError) Error() string {
	return fmt.Sprintf("authentication flow %s is already being waited on", e.RequestID)
}

// Is allows errors.Is() to match any AlreadyWaitingError.
func (e *AlreadyWaitingError) Is(target error) bool {
	_, ok := target.(*AlreadyWaitingError)
	return ok
}

// CancelledError indicates the flow was cancelled, either explicitly by the
// caller or as a side effect of a timeout propagating the cancellation flag.
type CancelledError struct {
	// RequestID is the cancelled flow, when known.
	RequestID string
}

// Error returns a user-facing message.
func (e *CancelledError) Error() string {
	if e.RequestID == "" {
		return "authentication flow cancelled"
	}
	return fmt.Sprintf("authentication flow %s cancelled", e.RequestID)
}

// Is allows errors.Is() to match any CancelledError.
func (e *CancelledError) Is(target error) bool {
	_, ok := target.(*CancelledError)
	return ok
}

// TimeoutError indicates the caller-enforced deadline elapsed before the
// flow delivered a result.
type TimeoutError struct {
	// RequestID is the flow that timed out, when known.
	RequestID string
	// Timeout is the deadline that elapsed, when known.
	Timeout time.Duration
}

// Error returns a user-facing message.
func (e *TimeoutError) Error() string {
	switch {
	case e.RequestID == "" && e.Timeout == 0:
		return "authentication flow timed out"
	case e.RequestID == "":
		return fmt.Sprintf("authentication flow timed out after %s", e.Timeout)
	case e.Timeout == 0:
		return fmt.Sprintf("authentication flow %s timed out", e.RequestID)
	default:
		return fmt.Sprintf("authentication flow %s timed out after %s", e.RequestID, e.Timeout)
	}
}

// Is allows errors.Is() to match any TimeoutError.
func (e *TimeoutError) Is(target error) bool {
	_, ok := target.(*TimeoutError)
	return ok
}

// ProtocolError indicates the authorization protocol itself failed: a
// malformed redirect, a state mismatch, a missing authorization code, or an
// error payload returned by the provider.
type ProtocolError struct {
	// Reason describes what went wrong at the protocol level.
	Reason string
	// Err is the underlying error, if any.
	Err error
}

// Error returns a user-facing message.
func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authorization protocol error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("authorization protocol error: %s", e.Reason)
}

// Unwrap returns the underlying error.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Is allows errors.Is() to match any ProtocolError.
func (e *ProtocolError) Is(target error) bool {
	_, ok := target.(*ProtocolError)
	return ok
}

// CryptoError indicates the credential vault failed: the OS secret store is
// unreachable, a blob could not be authenticated, or its algorithm/key
// version is not supported. A CryptoError on read means credentials are
// present but unusable; it must never be treated as "no credentials".
type CryptoError struct {
	// Op names the vault operation that failed.
	Op string
	// Err is the underlying error, if any.
	Err error
}

// Error returns a user-facing message.
func (e *CryptoError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("credential vault %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("credential vault %s failed", e.Op)
}

// Unwrap returns the underlying error.
func (e *CryptoError) Unwrap() error {
	return e.Err
}

// Is allows errors.Is() to match any CryptoError.
func (e *CryptoError) Is(target error) bool {
	_, ok := target.(*CryptoError)
	return ok
}

// StoreError indicates the account store failed to persist or load a record.
type StoreError struct {
	// Op names the store operation that failed.
	Op string
	// Err is the underlying error, if any.
	Err error
}

// Error returns a user-facing message.
func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("account store %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("account store %s failed", e.Op)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is allows errors.Is() to match any StoreError.
func (e *StoreError) Is(target error) bool {
	_, ok := target.(*StoreError)
	return ok
}

// IsFlowNotFound reports whether err is (or wraps) a FlowNotFoundError.
func IsFlowNotFound(err error) bool {
	var target *FlowNotFoundError
	return errors.As(err, &target)
}

// IsAlreadyWaiting reports whether err is (or wraps) an AlreadyWaitingError.
func IsAlreadyWaiting(err error) bool {
	var target *AlreadyWaitingError
	return errors.As(err, &target)
}

// IsCancelled reports whether err is (or wraps) a CancelledError.
func IsCancelled(err error) bool {
	var target *CancelledError
	return errors.As(err, &target)
}

// IsTimeout reports whether err is (or wraps) a TimeoutError.
func IsTimeout(err error) bool {
	var target *TimeoutError
	return errors.As(err, &target)
}

// IsProtocol reports whether err is (or wraps) a ProtocolError.
func IsProtocol(err error) bool {
	var target *ProtocolError
	return errors.As(err, &target)
}

// IsCrypto reports whether err is (or wraps) a CryptoError.
func IsCrypto(err error) bool {
	var target *CryptoError
	return errors.As(err, &target)
}

// IsStore reports whether err is (or wraps) a StoreError.
func IsStore(err error) bool {
	var target *StoreError
	return errors.As(err, &target)
}

// Kind returns a stable machine-readable identifier for the error category,
// used by the local API daemon when serializing errors. Returns "internal"
// for errors outside the taxonomy.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsFlowNotFound(err):
		return "flow_not_found"
	case IsAlreadyWaiting(err):
		return "already_waiting"
	case IsCancelled(err):
		return "cancelled"
	case IsTimeout(err):
		return "timed_out"
	case IsProtocol(err):
		return "protocol_error"
	case IsCrypto(err):
		return "crypto_error"
	case IsStore(err):
		return "store_error"
	default:
		return "internal"
	}
}
