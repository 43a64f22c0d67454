// Package server exposes the session store over a local HTTP API so editor
// integrations can forward expand requests and document lifecycle
// notifications.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Iron-Ham/macroexpand/internal/errors"
	"github.com/Iron-Ham/macroexpand/internal/history"
	"github.com/Iron-Ham/macroexpand/internal/logging"
	"github.com/Iron-Ham/macroexpand/internal/session"
)

// Sessions is the part of the session store the API drives.
type Sessions interface {
	ExpandFile(ctx context.Context, sourcePath string) (session.Info, error)
	DocumentSaved(ctx context.Context, path string) error
	DocumentClosed(ctx context.Context, path string) error
	Sessions() []session.Info
}

// History lists recorded renders.
type History interface {
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
}

// DefaultHistoryLimit is used when /history has no limit parameter.
const DefaultHistoryLimit = 50

// Server routes API requests to a session store.
type Server struct {
	sessions     Sessions
	history      History
	logger       *logging.Logger
	historyLimit int
	router       chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithHistory serves /history from h.
func WithHistory(h History, defaultLimit int) Option {
	return func(s *Server) {
		s.history = h
		if defaultLimit > 0 {
			s.historyLimit = defaultLimit
		}
	}
}

// WithLogger sets the request logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Server.
func New(sessions Sessions, opts ...Option) *Server {
	s := &Server{
		sessions:     sessions,
		logger:       logging.NopLogger(),
		historyLimit: DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("server")
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Logger(s.logger))
	r.Use(Recovery(s.logger))

	r.Get("/health", s.health)
	r.Post("/expand", s.expand)
	r.Route("/documents", func(r chi.Router) {
		r.Post("/saved", s.documentSaved)
		r.Post("/closed", s.documentClosed)
	})
	r.Get("/sessions", s.listSessions)
	r.Get("/history", s.listHistory)
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts connections on l until ctx is done, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(l) }()
	s.logger.Info("listening", "addr", l.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.NewResourceError("listen", err).WithPath(addr)
	}
	return s.Serve(ctx, l)
}

// PathRequest is the body of expand and document requests.
type PathRequest struct {
	Path string `json:"path"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": len(s.sessions.Sessions()),
	})
}

func (s *Server) expand(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePath(w, r)
	if !ok {
		return
	}
	info, err := s.sessions.ExpandFile(r.Context(), req.Path)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) documentSaved(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePath(w, r)
	if !ok {
		return
	}
	if err := s.sessions.DocumentSaved(r.Context(), req.Path); err != nil {
		s.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) documentClosed(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePath(w, r)
	if !ok {
		return
	}
	if err := s.sessions.DocumentClosed(r.Context(), req.Path); err != nil {
		s.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.Sessions())
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "history is disabled")
		return
	}
	limit := s.historyLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func decodePath(w http.ResponseWriter, r *http.Request) (PathRequest, bool) {
	var req PathRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return req, false
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return req, false
	}
	return req, true
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	var (
		disc *errors.DiscoveryError
		nf   *errors.NotFoundError
	)
	switch {
	case errors.As(err, &disc), errors.Is(err, errors.ErrInvalidInput):
		return http.StatusUnprocessableEntity
	case errors.As(err, &nf):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrSessionDisposed):
		return http.StatusConflict
	case errors.Is(err, errors.ErrStoreClosed), errors.Is(err, errors.ErrCanceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "request_id", GetRequestID(r.Context()), "path", r.URL.Path, "error", err.Error())
	}
	writeJSON(w, status, ErrorResponse{Error: errors.UserMessage(err), RequestID: GetRequestID(r.Context())})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
