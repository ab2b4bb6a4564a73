package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatserver/internal/stats"
	"github.com/npezzotti/go-chatserver/internal/types"
	"github.com/rs/zerolog"
)

type Options struct {
	SendQueueSize     int
	TypingTimeout     time.Duration
	RateLimitBurst    int
	RateLimitInterval time.Duration
	EventTimeout      time.Duration
}

func (o *Options) sanitize() {
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = 256
	}
	if o.TypingTimeout <= 0 {
		o.TypingTimeout = defaultTypingTimeout
	}
	if o.RateLimitBurst <= 0 {
		o.RateLimitBurst = 20
	}
	if o.RateLimitInterval <= 0 {
		o.RateLimitInterval = time.Second
	}
	if o.EventTimeout <= 0 {
		o.EventTimeout = 10 * time.Second
	}
}

type Deps struct {
	Auth    Authenticator
	Members Membership
	Store   MessageStore
	Status  StatusStore
	Stats   stats.StatsProvider
}

// ChatServer ties sessions, routing, ingest and typing together and runs
// the per-connection read and write pumps.
type ChatServer struct {
	log      zerolog.Logger
	sessions *SessionManager
	router   *Router
	ingest   *Ingest
	typing   *TypingTracker
	members  Membership
	opts     Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewChatServer(logger zerolog.Logger, deps Deps, opts Options) *ChatServer {
	opts.sanitize()
	if deps.Stats == nil {
		deps.Stats = stats.NopStats{}
	}

	sm := NewSessionManager(logger, deps.Auth, deps.Members, deps.Status, deps.Stats, opts.SendQueueSize)
	router := sm.Router()
	typing := NewTypingTracker(router, opts.TypingTimeout)
	sm.OnSessionClosed(typing.ClearSession)

	ctx, cancel := context.WithCancel(context.Background())

	return &ChatServer{
		log:      logger,
		sessions: sm,
		router:   router,
		ingest:   NewIngest(logger, deps.Store, deps.Members, router, deps.Stats),
		typing:   typing,
		members:  deps.Members,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (cs *ChatServer) Sessions() *SessionManager {
	return cs.sessions
}

func (cs *ChatServer) Router() *Router {
	return cs.router
}

func (cs *ChatServer) Authenticate(ctx context.Context, r *http.Request) (types.User, error) {
	return cs.sessions.Authenticate(ctx, r)
}

// Serve registers a session for an upgraded connection and starts its
// pumps. The connection is closed if registration fails.
func (cs *ChatServer) Serve(ctx context.Context, conn *websocket.Conn, user types.User) (*Session, error) {
	s, err := cs.sessions.OnConnect(ctx, conn, user)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("register session: %w", err)
	}

	c := NewClient(conn, s, cs)
	s.attachPumps()

	cs.wg.Add(2)
	go func() {
		defer cs.wg.Done()
		c.Write()
	}()
	go func() {
		defer cs.wg.Done()
		c.Read()
	}()

	return s, nil
}

// Shutdown closes every session and waits for the pumps to exit.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Info().Msg("shutting down chat server")
	cs.cancel()

	if err := cs.sessions.Shutdown(ctx); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		cs.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		cs.log.Info().Msg("chat server shutdown complete")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
