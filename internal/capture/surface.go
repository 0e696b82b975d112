// Package capture implements cookie-session capture: polling an interactive
// browser surface until both a workspace identifier and a usable
// authentication cookie header have been observed.
//
// Warden does not drive a browser itself. The embedding application hands the
// capture loop a Surface, typically backed by an embedded webview or a
// debugging-protocol attachment to a real browser window.
package capture

import "net/http"

// Surface is a handle to an interactive browser surface the user is signing
// in through. Implementations must tolerate Close being called more than
// once; the capture loop closes the surface on every exit path and the
// orchestrator closes it again when a flow is cancelled before a waiter
// claimed it.
type Surface interface {
	// CurrentURL returns the address currently loaded in the surface.
	// An error means the surface is gone (window closed, session detached);
	// capture fails immediately in that case, it never retries.
	CurrentURL() (string, error)

	// Cookies returns the cookies the surface holds for the given source URL.
	Cookies(sourceURL string) ([]*http.Cookie, error)

	// Close releases the surface.
	Close() error
}
