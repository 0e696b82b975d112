// Package callback runs the ephemeral loopback HTTP listener that receives
// the browser redirect at the end of an authorization-code flow.
//
// A Server handles exactly one redirect: the first request that arrives is
// terminal, whether it carries a valid authorization code or not. The outcome
// is delivered once on the result channel, a human-readable HTML page is
// rendered to the browser, and the port is released. A background watchdog
// polls the flow's cancel flag at a bounded interval and enforces a hard
// wall-clock ceiling so an abandoned listener never outlives its flow.
package callback

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"warden/internal/autherr"
	"warden/internal/flow"
)

const (
	// DefaultPath is the redirect path registered with providers.
	DefaultPath = "/callback"

	// DefaultTimeout is the wall-clock ceiling for the listener itself.
	// Callers usually enforce a tighter deadline while waiting; this bound
	// guarantees the port is reclaimed even when nobody waits.
	DefaultTimeout = 180 * time.Second

	// DefaultPollInterval bounds how long a set cancel flag can go
	// unobserved by the listener.
	DefaultPollInterval = 200 * time.Millisecond
)

//go:embed templates/success.html
var successHTML string

//go:embed templates/error.html
var errorHTML string

var (
	successTmpl = template.Must(template.New("success").Parse(successHTML))
	errorTmpl   = template.Must(template.New("error").Parse(errorHTML))
)

// Config carries the per-flow parameters for a callback listener.
type Config struct {
	// Path is the expected redirect path. Requests for any other path are
	// rejected with 400 and terminate the flow. Defaults to DefaultPath.
	Path string

	// ExpectedState is the state value issued when the flow started. A
	// redirect carrying a non-empty state that differs is rejected. An
	// absent state is accepted; see processRedirect.
	ExpectedState string

	// Port is the fixed loopback port to bind, or 0 for an ephemeral one.
	Port int

	// Timeout overrides DefaultTimeout when positive.
	Timeout time.Duration

	// PollInterval overrides DefaultPollInterval when positive.
	PollInterval time.Duration
}

// Server is a single-use loopback HTTP listener for one authorization-code
// flow.
type Server struct {
	cfg    Config
	cancel *flow.CancelFlag

	listener    net.Listener
	server      *http.Server
	port        int
	redirectURI string

	results     chan flow.Result
	handled     atomic.Bool
	deliverOnce sync.Once
}

// Start binds the loopback listener and begins serving. It returns as soon
// as the port is bound; the redirect is handled on a background goroutine.
// The provided cancel flag is shared with the owning flow: setting it stops
// the listener within one poll interval.
func Start(cfg Config, cancel *flow.CancelFlag) (*Server, error) {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cancel == nil {
		cancel = flow.NewCancelFlag()
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind callback listener on %s: %w", addr, err)
	}

	s := &Server{
		cfg:      cfg,
		cancel:   cancel,
		listener: listener,
		port:     listener.Addr().(*net.TCPAddr).Port,
		results:  make(chan flow.Result, 1),
	}
	s.redirectURI = fmt.Sprintf("http://127.0.0.1:%d%s", s.port, cfg.Path)

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRedirect)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.deliver(flow.Result{Err: &autherr.ProtocolError{Reason: "callback listener failed", Err: err}})
		}
	}()
	go s.watch()

	slog.Info("SECURITY_AUDIT: callback listener started",
		"port", s.port,
		"path", cfg.Path,
		"timeout", cfg.Timeout)

	return s, nil
}

// watch polls the cancel flag and enforces the wall-clock ceiling. It exits
// once a redirect has claimed the outcome.
func (s *Server) watch() {
	deadline := time.NewTimer(s.cfg.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.cancel.IsSet() {
				slog.Info("SECURITY_AUDIT: callback listener cancelled", "port", s.port)
				s.deliver(flow.Result{Err: &autherr.CancelledError{}})
				s.Stop()
				return
			}
			if s.handled.Load() {
				return
			}
		case <-deadline.C:
			slog.Warn("SECURITY_AUDIT: callback listener timed out waiting for redirect",
				"port", s.port,
				"timeout", s.cfg.Timeout)
			s.deliver(flow.Result{Err: &autherr.TimeoutError{Timeout: s.cfg.Timeout}})
			s.Stop()
			return
		}
	}
}

// handleRedirect admits exactly one request into terminal processing. Later
// requests get a plain 400.
func (s *Server) handleRedirect(w http.ResponseWriter, r *http.Request) {
	if !s.handled.CompareAndSwap(false, true) {
		http.Error(w, "Callback already processed", http.StatusBadRequest)
		return
	}

	s.processRedirect(w, r)

	// Give the browser a moment to read the response before the port goes
	// away.
	go func() {
		time.Sleep(1 * time.Second)
		s.Stop()
	}()
}

// processRedirect validates the redirect and delivers the flow outcome. It
// runs at most once per Server.
func (s *Server) processRedirect(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")

	if r.URL.Path != s.cfg.Path {
		slog.Warn("SECURITY_AUDIT: callback request for unexpected path",
			"port", s.port,
			"path", r.URL.Path,
			"expected", s.cfg.Path)
		s.fail(w, "Unexpected redirect path", "",
			&autherr.ProtocolError{Reason: fmt.Sprintf("unexpected callback path %q", r.URL.Path)})
		return
	}

	query := r.URL.Query()

	if errCode := query.Get("error"); errCode != "" {
		description := query.Get("error_description")
		slog.Warn("SECURITY_AUDIT: provider returned authorization error",
			"port", s.port,
			"error", errCode)
		reason := fmt.Sprintf("provider returned %q", errCode)
		if description != "" {
			reason = fmt.Sprintf("provider returned %q: %s", errCode, description)
		}
		s.fail(w, errCode, description, &autherr.ProtocolError{Reason: reason})
		return
	}

	code := query.Get("code")
	if code == "" {
		slog.Warn("SECURITY_AUDIT: callback missing authorization code", "port", s.port)
		s.fail(w, "Authorization code missing", "The provider redirect did not include a code parameter.",
			&autherr.ProtocolError{Reason: "authorization code missing from callback"})
		return
	}

	state := query.Get("state")
	switch {
	case state == "":
		// Historical behavior: a redirect without state is accepted. That
		// skips the CSRF check for providers that drop the parameter, so
		// it is loudly audited rather than silently allowed.
		slog.Warn("SECURITY_AUDIT: callback accepted without state parameter", "port", s.port)
	case state != s.cfg.ExpectedState:
		slog.Warn("SECURITY_AUDIT: callback state mismatch", "port", s.port)
		s.fail(w, "State mismatch", "The redirect did not match the pending authentication request.",
			&autherr.ProtocolError{Reason: "state parameter mismatch"})
		return
	}

	slog.Info("SECURITY_AUDIT: authorization code received", "port", s.port)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := successTmpl.Execute(w, nil); err != nil {
		slog.Warn("failed to render callback success page", "error", err)
	}
	s.deliver(flow.Result{Code: code})
}

// fail renders the failure page with a 400 status and delivers err as the
// flow outcome.
func (s *Server) fail(w http.ResponseWriter, errTitle, description string, err error) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)
	data := map[string]string{
		"Error":       errTitle,
		"Description": description,
	}
	if tmplErr := errorTmpl.Execute(w, data); tmplErr != nil {
		slog.Warn("failed to render callback error page", "error", tmplErr)
	}
	s.deliver(flow.Result{Err: err})
}

// deliver pushes the terminal result exactly once. The channel has capacity
// one, so delivery never blocks.
func (s *Server) deliver(result flow.Result) {
	s.deliverOnce.Do(func() {
		s.results <- result
	})
}

// Stop shuts the listener down and releases the port. Safe to call more
// than once.
func (s *Server) Stop() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(ctx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

// Results returns the single-delivery outcome channel for this listener.
func (s *Server) Results() <-chan flow.Result {
	return s.results
}

// RedirectURI returns the loopback redirect URI to register with the
// provider for this flow.
func (s *Server) RedirectURI() string {
	return s.redirectURI
}

// Port returns the bound loopback port.
func (s *Server) Port() int {
	return s.port
}
