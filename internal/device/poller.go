// Package device implements the polling half of the OAuth device-code flow
// (RFC 8628). The user authorizes in a separate browser while Poll wakes at
// the provider-supplied interval and asks the token endpoint whether the
// grant has been approved yet.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"warden/internal/autherr"
	"warden/pkg/oauth"
)

const (
	// DefaultInterval is used when the provider did not supply one
	// (RFC 8628 section 3.2).
	DefaultInterval = 5 * time.Second

	// DefaultSlowDownIncrement is added to the interval on each slow_down
	// response (RFC 8628 section 3.5).
	DefaultSlowDownIncrement = 5 * time.Second
)

// Config carries the parameters for one device-code polling loop.
type Config struct {
	// TokenEndpoint is the provider's token endpoint URL.
	TokenEndpoint string

	// ClientID identifies this application to the provider.
	ClientID string

	// DeviceCode is the code returned by the device authorization request.
	DeviceCode string

	// Interval is the provider-supplied polling interval. Defaults to
	// DefaultInterval.
	Interval time.Duration

	// SlowDownIncrement overrides DefaultSlowDownIncrement when positive.
	SlowDownIncrement time.Duration
}

// Poll drives the token endpoint until the user approves the grant, the
// device code expires, the flow is cancelled, or the context ends.
//
// Each round sleeps for the current interval, then checks the cancel
// predicate, then polls once. authorization_pending continues unchanged;
// slow_down widens the interval by the configured increment and continues;
// expired_token and every other provider error are terminal. Cancellation is
// therefore observed within one interval of the flag being set.
func Poll(ctx context.Context, client *oauth.Client, cfg Config, cancelled func() bool) (*oauth.Token, error) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	increment := cfg.SlowDownIncrement
	if increment <= 0 {
		increment = DefaultSlowDownIncrement
	}
	if cancelled == nil {
		cancelled = func() bool { return false }
	}

	for {
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, &autherr.TimeoutError{}
			}
			return nil, &autherr.CancelledError{}
		case <-timer.C:
		}

		if cancelled() {
			slog.Info("SECURITY_AUDIT: device authorization polling cancelled")
			return nil, &autherr.CancelledError{}
		}

		token, err := client.ExchangeDeviceCode(ctx, cfg.TokenEndpoint, cfg.DeviceCode, cfg.ClientID)
		if err == nil {
			slog.Info("SECURITY_AUDIT: device authorization granted")
			return token, nil
		}

		var tokenErr *oauth.TokenError
		if !errors.As(err, &tokenErr) {
			return nil, &autherr.ProtocolError{Reason: "device token poll failed", Err: err}
		}

		switch tokenErr.Code {
		case oauth.ErrorCodeAuthorizationPending:
			slog.Debug("device authorization pending", "interval", interval)
		case oauth.ErrorCodeSlowDown:
			interval += increment
			slog.Debug("provider requested slower device polling", "interval", interval)
		case oauth.ErrorCodeExpiredToken:
			slog.Warn("SECURITY_AUDIT: device code expired before authorization completed")
			return nil, &autherr.ProtocolError{Reason: "device code expired before authorization completed", Err: tokenErr}
		default:
			return nil, &autherr.ProtocolError{Reason: fmt.Sprintf("device authorization failed: %s", tokenErr.Code), Err: tokenErr}
		}
	}
}
