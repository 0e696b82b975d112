package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"warden/internal/autherr"
	"warden/internal/capture"
	"warden/internal/device"
	"warden/internal/flow"
	"warden/pkg/logging"
	"warden/pkg/oauth"
)

// FinishResult reports the successful terminal state of a flow.
type FinishResult struct {
	// AccountID is the account the credentials were stored on.
	AccountID string

	// ExpiresAt is when the stored credentials expire, or zero when the
	// credential kind carries no expiry.
	ExpiresAt time.Time
}

// FinishFlow waits for the flow identified by requestID to complete, runs
// the protocol's final exchange, and persists the encrypted credentials.
//
// Only one waiter may finish a flow: a second call for the same request id
// returns AlreadyWaiting while the first is still running, and FlowNotFound
// after any terminal outcome. The registry entry is removed on every
// terminal outcome, success or not. A non-positive timeout means
// DefaultFinishTimeout.
func (o *Orchestrator) FinishFlow(ctx context.Context, requestID string, timeout time.Duration) (*FinishResult, error) {
	p, ok := o.registry.Get(requestID)
	if !ok {
		return nil, &autherr.FlowNotFoundError{RequestID: requestID}
	}
	if !p.Claim() {
		return nil, &autherr.AlreadyWaitingError{RequestID: requestID}
	}
	if timeout <= 0 {
		timeout = DefaultFinishTimeout
	}

	switch v := p.Variant.(type) {
	case *flow.PKCEVariant:
		return o.finishPKCE(ctx, p, v, timeout)
	case *flow.DeviceVariant:
		return o.finishDevice(ctx, p, v, timeout)
	case *flow.CookieVariant:
		return o.finishCookie(ctx, p, v, timeout)
	default:
		o.registry.Remove(p.RequestID)
		return nil, fmt.Errorf("flow %s has unsupported variant %T", requestID, p.Variant)
	}
}

// finishPKCE races the callback listener's result against the caller's
// deadline. The background listener polls the shared cancel flag, so setting
// it on timeout reclaims the port within one poll interval.
func (o *Orchestrator) finishPKCE(ctx context.Context, p *flow.Pending, v *flow.PKCEVariant, timeout time.Duration) (*FinishResult, error) {
	results, ok := v.Completion.Take()
	if !ok {
		return nil, &autherr.AlreadyWaitingError{RequestID: p.RequestID}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-results:
		o.registry.Remove(p.RequestID)
		if result.Err != nil {
			return nil, tagFlow(result.Err, p.RequestID, timeout)
		}
		return o.exchangeAndPersist(ctx, p, v, result.Code)

	case <-timer.C:
		p.Cancel.Set()
		o.registry.Remove(p.RequestID)
		logging.Warn("Orchestrator", "Flow %s timed out after %s waiting for callback", p.RequestID, timeout)
		return nil, &autherr.TimeoutError{RequestID: p.RequestID, Timeout: timeout}

	case <-ctx.Done():
		p.Cancel.Set()
		o.registry.Remove(p.RequestID)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &autherr.TimeoutError{RequestID: p.RequestID, Timeout: timeout}
		}
		return nil, &autherr.CancelledError{RequestID: p.RequestID}
	}
}

// finishDevice polls the token endpoint until the user approves, the device
// code expires, or the deadline elapses. The effective deadline is the
// tighter of the caller's timeout and the device code's remaining lifetime.
func (o *Orchestrator) finishDevice(ctx context.Context, p *flow.Pending, v *flow.DeviceVariant, timeout time.Duration) (*FinishResult, error) {
	provider, ok := o.cfg.Provider(p.ProviderID)
	if !ok {
		o.registry.Remove(p.RequestID)
		return nil, fmt.Errorf("flow %s references unknown provider %q", p.RequestID, p.ProviderID)
	}
	ep, err := resolveEndpoints(ctx, o.oauth, provider)
	if err != nil {
		o.registry.Remove(p.RequestID)
		return nil, err
	}

	effective := timeout
	if remaining := time.Until(v.ExpiresAt); remaining < effective {
		effective = remaining
	}
	if effective <= 0 {
		p.Cancel.Set()
		o.registry.Remove(p.RequestID)
		return nil, &autherr.TimeoutError{RequestID: p.RequestID, Timeout: timeout}
	}

	pollCtx, cancel := context.WithTimeout(ctx, effective)
	defer cancel()

	token, err := device.Poll(pollCtx, o.oauth, device.Config{
		TokenEndpoint: ep.token,
		ClientID:      provider.ClientID,
		DeviceCode:    v.DeviceCode,
		Interval:      v.Interval,
	}, p.Cancel.IsSet)

	o.registry.Remove(p.RequestID)
	if err != nil {
		p.Cancel.Set()
		return nil, tagFlow(err, p.RequestID, effective)
	}
	return o.persistToken(p, token)
}

// finishCookie runs the capture loop on the flow's browser surface. The
// capture loop owns the surface from here on and closes it on every exit
// path, so only pre-loop failures close it here.
func (o *Orchestrator) finishCookie(ctx context.Context, p *flow.Pending, v *flow.CookieVariant, timeout time.Duration) (*FinishResult, error) {
	provider, ok := o.cfg.Provider(p.ProviderID)
	if !ok {
		o.registry.Remove(p.RequestID)
		_ = v.Surface.Close()
		return nil, fmt.Errorf("flow %s references unknown provider %q", p.RequestID, p.ProviderID)
	}
	pattern, err := provider.WorkspacePattern()
	if err != nil {
		o.registry.Remove(p.RequestID)
		_ = v.Surface.Close()
		return nil, err
	}

	effective := timeout
	if remaining := time.Until(v.ExpiresAt); remaining < effective {
		effective = remaining
	}
	if effective <= 0 {
		p.Cancel.Set()
		o.registry.Remove(p.RequestID)
		_ = v.Surface.Close()
		return nil, &autherr.TimeoutError{RequestID: p.RequestID, Timeout: timeout}
	}

	captureCtx, cancel := context.WithTimeout(ctx, effective)
	defer cancel()

	captured, err := capture.Run(captureCtx, v.Surface, capture.Config{
		WorkspacePattern: pattern,
		CookieSources:    provider.CookieSources,
		AuthCookieName:   provider.AuthCookieName,
		PollInterval:     o.capturePoll,
	}, p.Cancel.IsSet)

	o.registry.Remove(p.RequestID)
	if err != nil {
		p.Cancel.Set()
		return nil, tagFlow(err, p.RequestID, effective)
	}

	if err := o.accounts.SetSetting(p.AccountID, "workspaceId", captured.WorkspaceID); err != nil {
		logging.Warn("Orchestrator", "Failed to record workspace id for account %s: %v", p.AccountID, err)
	}

	payload, err := json.Marshal(CookieCredentials{
		CookieHeader: captured.CookieHeader,
		WorkspaceID:  captured.WorkspaceID,
		CapturedAt:   time.Now().UTC(),
	})
	if err != nil {
		return nil, &autherr.StoreError{Op: "encode cookie credentials", Err: err}
	}
	if err := o.persistCredentials(p.AccountID, p.ProviderID, payload); err != nil {
		return nil, err
	}

	logging.Info("Orchestrator", "Flow %s completed; cookie session stored for account %s", p.RequestID, p.AccountID)
	return &FinishResult{AccountID: p.AccountID}, nil
}

// exchangeAndPersist trades the authorization code for tokens and stores
// them. The registry entry is already gone; failures from here on describe a
// finished flow, not a pending one.
func (o *Orchestrator) exchangeAndPersist(ctx context.Context, p *flow.Pending, v *flow.PKCEVariant, code string) (*FinishResult, error) {
	provider, ok := o.cfg.Provider(p.ProviderID)
	if !ok {
		return nil, fmt.Errorf("flow %s references unknown provider %q", p.RequestID, p.ProviderID)
	}

	token, err := o.exchanger.ExchangeCode(ctx, provider, code, v.RedirectURI, v.Verifier)
	if err != nil {
		o.recordFailure(p.AccountID, err)
		return nil, err
	}
	return o.persistToken(p, token)
}

// persistToken encrypts a token set and writes it to the account record.
func (o *Orchestrator) persistToken(p *flow.Pending, token *oauth.Token) (*FinishResult, error) {
	token.SetExpiresAtFromExpiresIn()

	payload, err := json.Marshal(token)
	if err != nil {
		return nil, &autherr.StoreError{Op: "encode token", Err: err}
	}
	if err := o.persistCredentials(p.AccountID, p.ProviderID, payload); err != nil {
		return nil, err
	}

	logging.Info("Orchestrator", "Flow %s completed; credentials stored for account %s", p.RequestID, p.AccountID)
	return &FinishResult{AccountID: p.AccountID, ExpiresAt: token.ExpiresAt}, nil
}

// persistCredentials encrypts a payload and stores the blob. By the time
// this runs authorization has succeeded, so a persistence failure is
// reported as exactly that: the store error says the credentials were
// obtained but could not be kept.
func (o *Orchestrator) persistCredentials(accountID, providerID string, payload []byte) error {
	blob, err := o.vault.Encrypt(accountID, providerID, payload)
	if err != nil {
		o.recordFailure(accountID, err)
		return err
	}
	if err := o.accounts.SetCredentials(accountID, blob); err != nil {
		o.recordFailure(accountID, err)
		return &autherr.StoreError{Op: "persist credentials after successful authorization", Err: err}
	}
	return nil
}

// recordFailure leaves a trace of the failure on the account record so
// status listings can show it. Best effort; the original error is what the
// caller sees either way.
func (o *Orchestrator) recordFailure(accountID string, err error) {
	if err := o.accounts.SetLastError(accountID, err.Error()); err != nil {
		logging.Debug("Orchestrator", "Failed to record last error for account %s: %v", accountID, err)
	}
}

// tagFlow fills in the request id, and the elapsed timeout when missing, on
// terminal errors produced by components that do not know which flow they
// serve.
func tagFlow(err error, requestID string, timeout time.Duration) error {
	var cancelled *autherr.CancelledError
	if errors.As(err, &cancelled) && cancelled.RequestID == "" {
		cancelled.RequestID = requestID
	}
	var timedOut *autherr.TimeoutError
	if errors.As(err, &timedOut) {
		if timedOut.RequestID == "" {
			timedOut.RequestID = requestID
		}
		if timedOut.Timeout == 0 {
			timedOut.Timeout = timeout
		}
	}
	return err
}
