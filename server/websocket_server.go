package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/room4-2/livebridge/config"
	"github.com/room4-2/livebridge/messages"
	"github.com/room4-2/livebridge/observability"
	"github.com/room4-2/livebridge/session"
	"github.com/room4-2/livebridge/transport"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
)

type Server struct {
	httpServer     *http.Server
	upgrader       websocket.Upgrader
	sessionManager *session.Manager
	config         *config.Config
	gatherer       prometheus.Gatherer
	logger         *slog.Logger
}

func NewServerWebsocket(cfg *config.Config, sessionManager *session.Manager, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		sessionManager: sessionManager,
		config:         cfg,
		gatherer:       gatherer,
		logger:         logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    64 * 1024, // 64KB for audio chunks
			WriteBufferSize:   64 * 1024, // 64KB for audio chunks
			EnableCompression: true,
			CheckOrigin:       originChecker(cfg.AllowedOrigins),
		},
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Router returns the HTTP routes
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/ws", s.handleWebSocket)
	r.Get("/health", s.handleHealth)
	if s.gatherer != nil {
		r.Handle("/metrics", observability.Handler(s.gatherer))
	}
	return r
}

// Start begins listening for connections
func (s *Server) Start() error {
	s.logger.Info("websocket server starting", "addr", s.httpServer.Addr)
	s.logger.Info("websocket endpoint", "url", "ws://"+s.httpServer.Addr+"/ws")
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	s.sessionManager.Shutdown(ctx)
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Upgrade HTTP to WebSocket
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.EnableWriteCompression(true)

	ws := transport.New(conn, transport.Options{
		KeepAlive: s.config.KeepAlivePeriod,
		Logger:    s.logger,
	})

	// Create session
	bridge, err := s.sessionManager.CreateSession(r.Context(), ws)
	if err != nil {
		s.logger.Warn("failed to create session", "error", err)
		code := messages.ErrCodeSessionFailed
		if errors.Is(err, session.ErrMaxSessions) {
			code = messages.ErrCodeRateLimited
		}
		_ = ws.WriteMessage(messages.NewErrorMessage(code, err.Error()))
		_ = ws.Close()
		return
	}

	s.logger.Info("new session created", "session", bridge.ID, "remote", r.RemoteAddr)

	// The bridge outlives the request context once the connection is hijacked
	if err := bridge.Run(context.WithoutCancel(r.Context())); err != nil {
		s.logger.Warn("session ended with error", "session", bridge.ID, "error", err)
	}

	// Clean up
	s.sessionManager.RemoveSession(context.WithoutCancel(r.Context()), bridge.ID)
	s.logger.Info("session closed", "session", bridge.ID)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body, err := sonic.Marshal(map[string]any{
		"status":   "ok",
		"sessions": s.sessionManager.Count(),
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		// Check allowed origins
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients don't send an Origin
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}
