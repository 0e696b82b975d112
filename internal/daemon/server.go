// Package daemon exposes the orchestrator over a loopback HTTP API so UI
// frontends and the CLI can drive authentication flows out of process.
//
// The API is JSON in, JSON out. Failures are serialized as
// auth.ErrorResponse with a stable kind string; credential payloads never
// cross the socket, only their presence does.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	systemd "github.com/coreos/go-systemd/v22/daemon"

	"warden/internal/autherr"
	"warden/internal/config"
	"warden/internal/orchestrator"
	"warden/internal/store"
	"warden/pkg/auth"
	"warden/pkg/logging"
)

// shutdownTimeout bounds how long Stop waits for in-flight requests after
// pending flows have been cancelled.
const shutdownTimeout = 5 * time.Second

// Options configure the daemon server.
type Options struct {
	// Host is the address to bind. Defaults to the loopback address.
	Host string

	// Port is the TCP port to bind, or 0 for an ephemeral one.
	Port int

	// Orchestrator drives the flows behind the API.
	Orchestrator *orchestrator.Orchestrator

	// Accounts backs the account listing endpoint.
	Accounts *store.Store
}

// Server is the loopback HTTP API over one orchestrator.
type Server struct {
	opts Options

	listener   net.Listener
	httpServer *http.Server
}

// New creates a daemon server. Call Start or Run to bind it.
func New(opts Options) *Server {
	if opts.Host == "" {
		opts.Host = config.DefaultDaemonHost
	}
	return &Server{opts: opts}
}

// Start binds the listener and begins serving in the background. It returns
// once the address is bound, so callers can read Addr immediately.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind daemon listener on %s: %w", addr, err)
	}
	s.listener = listener

	// No overall write timeout: the wait endpoint long-polls for the
	// flow result.
	s.httpServer = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Daemon", err, "Daemon HTTP server failed")
		}
	}()

	logging.Info("Daemon", "Listening on http://%s", listener.Addr())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run starts the server, tells systemd it is ready, and blocks until ctx is
// cancelled, then stops.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}

	if sent, err := systemd.SdNotify(false, systemd.SdNotifyReady); err != nil {
		logging.Warn("Daemon", "systemd readiness notification failed: %v", err)
	} else if sent {
		logging.Debug("Daemon", "Notified systemd of readiness")
	}

	<-ctx.Done()
	_, _ = systemd.SdNotify(false, systemd.SdNotifyStopping)
	return s.Stop()
}

// Stop cancels every pending flow, which releases long-polling waiters, then
// drains in-flight requests and closes the listener.
func (s *Server) Stop() error {
	s.opts.Orchestrator.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(shutdownCtx)
	}
	logging.Info("Daemon", "Stopped")
	return err
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/flows", s.handleStartFlow)
	mux.HandleFunc("POST /v1/flows/{id}/wait", s.handleWaitFlow)
	mux.HandleFunc("DELETE /v1/flows/{id}", s.handleCancelFlow)
	mux.HandleFunc("GET /v1/accounts", s.handleListAccounts)
	mux.HandleFunc("POST /v1/accounts/{id}/refresh", s.handleRefreshAccount)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	return mux
}

func (s *Server) handleStartFlow(w http.ResponseWriter, r *http.Request) {
	var req auth.StartFlowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, auth.KindInternal, "invalid request body")
		return
	}
	if req.AccountID == "" {
		writeError(w, http.StatusBadRequest, auth.KindInternal, "accountId is required")
		return
	}

	result, err := s.opts.Orchestrator.StartFlow(r.Context(), req.AccountID)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	resp := auth.StartFlowResponse{
		RequestID:        result.RequestID,
		Kind:             string(result.Kind),
		AuthorizationURL: result.AuthorizationURL,
		RedirectURI:      result.RedirectURI,
		UserCode:         result.UserCode,
		VerificationURI:  result.VerificationURI,
	}
	if !result.ExpiresAt.IsZero() {
		expiresAt := result.ExpiresAt
		resp.ExpiresAt = &expiresAt
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleWaitFlow(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("id")

	// The body is optional; an absent or empty one means the default
	// timeout.
	var req auth.WaitFlowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, auth.KindInternal, "invalid request body")
		return
	}

	timeout := time.Duration(req.TimeoutMS) * time.Millisecond
	result, err := s.opts.Orchestrator.FinishFlow(r.Context(), requestID, timeout)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	resp := auth.WaitFlowResponse{AccountID: result.AccountID}
	if !result.ExpiresAt.IsZero() {
		expiresAt := result.ExpiresAt
		resp.ExpiresAt = &expiresAt
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancelFlow(w http.ResponseWriter, r *http.Request) {
	cancelled := s.opts.Orchestrator.CancelFlow(r.PathValue("id"))
	writeJSON(w, http.StatusOK, auth.CancelFlowResponse{Cancelled: cancelled})
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts := s.opts.Accounts.List()
	summaries := make([]auth.AccountSummary, 0, len(accounts))
	for _, account := range accounts {
		summaries = append(summaries, auth.AccountSummary{
			ID:             account.ID,
			ProviderID:     account.ProviderID,
			Label:          account.Label,
			HasCredentials: account.Credentials != nil,
			LastError:      account.LastError,
			UpdatedAt:      account.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleRefreshAccount(w http.ResponseWriter, r *http.Request) {
	result, err := s.opts.Orchestrator.RefreshCredentials(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	resp := auth.RefreshAccountResponse{AccountID: result.AccountID}
	if !result.ExpiresAt.IsZero() {
		expiresAt := result.ExpiresAt
		resp.ExpiresAt = &expiresAt
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, auth.HealthResponse{
		Status:       "ok",
		PendingFlows: s.opts.Orchestrator.Registry().Len(),
	})
}

func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	writeError(w, statusForError(err), kindForError(err), err.Error())
}

// statusForError maps the error taxonomy onto HTTP statuses. Provider-side
// protocol failures are upstream failures from the daemon's point of view.
func statusForError(err error) int {
	switch {
	case autherr.IsFlowNotFound(err) || errors.Is(err, store.ErrAccountNotFound):
		return http.StatusNotFound
	case autherr.IsAlreadyWaiting(err):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrNoCredentials) || errors.Is(err, orchestrator.ErrNoRefreshToken):
		return http.StatusConflict
	case autherr.IsCancelled(err):
		return http.StatusGone
	case autherr.IsTimeout(err):
		return http.StatusGatewayTimeout
	case autherr.IsProtocol(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func kindForError(err error) string {
	switch {
	case errors.Is(err, store.ErrAccountNotFound):
		return auth.KindAccountNotFound
	case errors.Is(err, orchestrator.ErrNoCredentials) || errors.Is(err, orchestrator.ErrNoRefreshToken):
		return auth.KindNoCredentials
	}
	return autherr.Kind(err)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Warn("Daemon", "Failed to encode response body: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, auth.ErrorResponse{Kind: kind, Message: message})
}
