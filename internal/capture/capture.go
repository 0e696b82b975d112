package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"warden/internal/autherr"
)

// DefaultPollInterval bounds how stale the loop's view of the surface can be
// and how long a set cancel flag can go unobserved.
const DefaultPollInterval = 400 * time.Millisecond

// Config describes what the capture loop is looking for.
type Config struct {
	// WorkspacePattern matches the surface URL once the user has landed in
	// their workspace. The first capture group is the workspace id; if the
	// pattern has no groups, the whole match is used.
	WorkspacePattern *regexp.Regexp

	// CookieSources are the candidate URLs to read cookies for, in
	// precedence order. The first source whose cookies include
	// AuthCookieName wins.
	CookieSources []string

	// AuthCookieName is the session cookie that must be present for a
	// source's cookies to form a usable header.
	AuthCookieName string

	// PollInterval overrides DefaultPollInterval when positive.
	PollInterval time.Duration
}

// Capture is the outcome of a successful cookie-session capture.
type Capture struct {
	// WorkspaceID is the identifier extracted from the surface URL.
	WorkspaceID string

	// CookieHeader is a ready-to-send "name=value; name2=value2" header
	// built from the winning cookie source.
	CookieHeader string
}

// Run polls the surface until both a workspace id and a usable cookie header
// have been observed, in either order. It returns Cancelled when the cancel
// predicate reports true, within one poll interval of the flag being set,
// and fails immediately if the surface disappears.
//
// The surface is closed on every exit path, success included.
func Run(ctx context.Context, surface Surface, cfg Config, cancelled func() bool) (*Capture, error) {
	if surface == nil {
		return nil, fmt.Errorf("capture requires a browser surface")
	}
	if cfg.WorkspacePattern == nil {
		return nil, fmt.Errorf("capture requires a workspace URL pattern")
	}
	if cfg.AuthCookieName == "" {
		return nil, fmt.Errorf("capture requires an authentication cookie name")
	}
	if len(cfg.CookieSources) == 0 {
		return nil, fmt.Errorf("capture requires at least one cookie source URL")
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if cancelled == nil {
		cancelled = func() bool { return false }
	}

	defer func() {
		_ = surface.Close()
	}()

	var workspaceID, cookieHeader string
	for {
		if cancelled() {
			slog.Info("SECURITY_AUDIT: cookie capture cancelled")
			return nil, &autherr.CancelledError{}
		}

		currentURL, err := surface.CurrentURL()
		if err != nil {
			slog.Warn("SECURITY_AUDIT: browser surface disappeared during cookie capture", "error", err)
			return nil, &autherr.ProtocolError{Reason: "browser surface closed before capture completed", Err: err}
		}

		if workspaceID == "" {
			if m := cfg.WorkspacePattern.FindStringSubmatch(currentURL); m != nil {
				if len(m) > 1 {
					workspaceID = m[1]
				} else {
					workspaceID = m[0]
				}
				slog.Debug("workspace id observed on surface", "workspace_id", workspaceID)
			}
		}

		if cookieHeader == "" {
			cookieHeader, err = readCookieHeader(surface, cfg)
			if err != nil {
				slog.Warn("SECURITY_AUDIT: browser surface disappeared during cookie capture", "error", err)
				return nil, &autherr.ProtocolError{Reason: "browser surface closed before capture completed", Err: err}
			}
		}

		if workspaceID != "" && cookieHeader != "" {
			slog.Info("SECURITY_AUDIT: cookie session captured", "workspace_id", workspaceID)
			return &Capture{WorkspaceID: workspaceID, CookieHeader: cookieHeader}, nil
		}

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
	}
}

// readCookieHeader walks the candidate sources in order and builds a header
// from the first one whose cookies include the authentication cookie. It
// returns an empty header when no source is usable yet.
func readCookieHeader(surface Surface, cfg Config) (string, error) {
	for _, source := range cfg.CookieSources {
		cookies, err := surface.Cookies(source)
		if err != nil {
			return "", err
		}

		usable := false
		parts := make([]string, 0, len(cookies))
		for _, cookie := range cookies {
			parts = append(parts, cookie.Name+"="+cookie.Value)
			if cookie.Name == cfg.AuthCookieName {
				usable = true
			}
		}
		if usable {
			return strings.Join(parts, "; "), nil
		}
	}
	return "", nil
}
