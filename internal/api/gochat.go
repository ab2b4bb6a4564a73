package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-chatserver/internal/auth"
	"github.com/npezzotti/go-chatserver/internal/config"
	"github.com/npezzotti/go-chatserver/internal/database"
	"github.com/npezzotti/go-chatserver/internal/presence"
	"github.com/npezzotti/go-chatserver/internal/server"
	"github.com/rs/zerolog"
)

type GoChatApp struct {
	log              zerolog.Logger
	db               database.GoChatRepository
	srv              *http.Server
	cs               *server.ChatServer
	resolver         *auth.Resolver
	lastStatus       presence.Reader
	allowedOrigins   []string
	handshakeTimeout time.Duration
}

// NewGoChatApp registers the HTTP routes on mux. The metrics endpoint is
// expected to be registered on the same mux by the caller.
func NewGoChatApp(mux *http.ServeMux, logger zerolog.Logger, cs *server.ChatServer, db database.GoChatRepository, resolver *auth.Resolver, cfg *config.Config) *GoChatApp {
	s := &GoChatApp{
		log:              logger,
		db:               db,
		cs:               cs,
		resolver:         resolver,
		allowedOrigins:   cfg.AllowedOrigins,
		handshakeTimeout: cfg.Realtime.HandshakeTimeout,
	}
	if s.handshakeTimeout <= 0 {
		s.handshakeTimeout = config.DefaultRealtimeConfig().HandshakeTimeout
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.HandleFunc("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.HandleFunc("GET /api/presence", s.authMiddleware(s.presence))
	mux.HandleFunc("GET /ws", s.serveWs)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	// the handshake window starts at accept, before serveWs runs
	s.srv = &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           h,
		ReadHeaderTimeout: s.handshakeTimeout,
	}

	return s
}

// UseLastStatus makes presence lookups fall back to r for users with no
// session on this server.
func (s *GoChatApp) UseLastStatus(r presence.Reader) {
	s.lastStatus = r
}

func (s *GoChatApp) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("starting server")
	return s.srv.ListenAndServe()
}

func (s *GoChatApp) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
