package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"evalstream/internal/evalclient"
	"evalstream/internal/httpserve"
	"evalstream/internal/logging"
	"evalstream/internal/session"
)

// maxJobBody caps the start request body.
const maxJobBody = 64 << 10

// Sessions is the part of session.Controller the relay drives.
type Sessions interface {
	Start(ctx context.Context, job evalclient.JobSpec) (session.Snapshot, error)
	Cancel() error
	Snapshot() session.Snapshot
}

// Server exposes a session controller over HTTP and websockets.
type Server struct {
	sessions Sessions
	hub      *Hub
	// base parents every session started over HTTP so they outlive the request.
	base     context.Context
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewServer builds a relay server. Sessions started through it are bound to base.
func NewServer(base context.Context, sessions Sessions, hub *Hub) *Server {
	if base == nil {
		base = context.Background()
	}
	return &Server{
		sessions: sessions,
		hub:      hub,
		base:     base,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		logger: logging.Logger().With("component", "relay"),
	}
}

// Router returns the relay routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpserve.RequestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleViewer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/ws", s.handleWS)
	r.Get("/api/session", s.handleSnapshot)
	r.Post("/api/session/start", s.handleStart)
	r.Post("/api/session/cancel", s.handleCancel)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "clients": s.hub.ClientCount()})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.Snapshot())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var job evalclient.JobSpec
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJobBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&job); err != nil {
		writeError(w, http.StatusBadRequest, "invalid job: "+err.Error())
		return
	}
	if err := job.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if token := bearerToken(r); token != "" {
		job.Credential = token
	}
	if _, err := s.sessions.Start(s.base, job); err != nil {
		if errors.Is(err, session.ErrSessionActive) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, s.sessions.Snapshot())
}

func (s *Server) handleCancel(w http.ResponseWriter, _ *http.Request) {
	if err := s.sessions.Cancel(); err != nil {
		if errors.Is(err, session.ErrNotRunning) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.sessions.Snapshot())
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	s.logger.Info("websocket client connected", "remote", r.RemoteAddr)
	c := s.hub.Add(conn)
	defer func() {
		s.hub.Remove(c)
		s.logger.Info("websocket client disconnected", "remote", r.RemoteAddr)
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// bearerToken extracts a per-job credential from the Authorization header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// Config captures the settings for serving the relay.
type Config struct {
	Addr string
}

// Serve runs the relay until ctx ends, then closes websocket clients.
func Serve(ctx context.Context, cfg Config, sessions Sessions, hub *Hub) error {
	if cfg.Addr == "" {
		return errors.New("relay: addr is required")
	}
	defer hub.Close()
	return httpserve.Serve(ctx, cfg.Addr, NewServer(ctx, sessions, hub).Router())
}
