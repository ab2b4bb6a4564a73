package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/npezzotti/go-chatserver/internal/auth"
	"github.com/npezzotti/go-chatserver/internal/config"
	"github.com/npezzotti/go-chatserver/internal/database"
	"github.com/npezzotti/go-chatserver/internal/membership"
	"github.com/npezzotti/go-chatserver/internal/presence"
	"github.com/npezzotti/go-chatserver/internal/server"
	"github.com/npezzotti/go-chatserver/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testSigningKey = []byte("test-signing-key")

// newTestApp wires the app to a real chat server backed by a mock
// repository. Users have no servers and no friends by default.
func newTestApp(t *testing.T) (*GoChatApp, *database.MockGoChatRepository) {
	t.Helper()

	db := &database.MockGoChatRepository{}
	db.On("ListServerIds", mock.Anything, mock.Anything).Return(nil, nil).Maybe()
	db.On("ListFriendIds", mock.Anything, mock.Anything).Return(nil, nil).Maybe()
	db.On("UpdateUserStatus", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	logger := testutil.TestLogger(t)
	resolver := auth.NewResolver(db, testSigningKey)
	cs := server.NewChatServer(logger, server.Deps{
		Auth:    resolver,
		Members: membership.NewIndex(db, time.Minute),
		Store:   db,
		Status:  presence.NewPgStore(db),
	}, server.Options{})

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		cs.Shutdown(ctx)
	})

	app := NewGoChatApp(http.NewServeMux(), logger, cs, db, resolver, &config.Config{
		ServerAddr:     "localhost:8080",
		SigningKey:     testSigningKey,
		AllowedOrigins: []string{"http://localhost:3000"},
	})

	return app, db
}

func TestNewGoChatApp(t *testing.T) {
	mux := http.NewServeMux()
	logger := testutil.TestLogger(t)
	cs := &server.ChatServer{}
	db := &database.MockGoChatRepository{}
	resolver := auth.NewResolver(db, testSigningKey)
	cfg := &config.Config{
		ServerAddr:     "localhost:8080",
		DatabaseDSN:    "dsn",
		SigningKey:     testSigningKey,
		AllowedOrigins: []string{"http://localhost:3000"},
	}

	app := NewGoChatApp(mux, logger, cs, db, resolver, cfg)

	assert.NotNil(t, app.srv, "expected http server to be initialized")
	assert.Equal(t, db, app.db, "expected db to be set")
	assert.Equal(t, cs, app.cs, "expected chat server to be set")
	assert.Equal(t, resolver, app.resolver, "expected resolver to be set")
	assert.Equal(t, cfg.ServerAddr, app.srv.Addr, "expected server address to match config")
	assert.Equal(t, cfg.AllowedOrigins, app.allowedOrigins)
	assert.Equal(t, config.DefaultRealtimeConfig().HandshakeTimeout, app.handshakeTimeout, "expected default handshake timeout")
	assert.Equal(t, app.handshakeTimeout, app.srv.ReadHeaderTimeout, "expected header reads to be bounded by the handshake timeout")

	for _, pattern := range []string{"/healthz", "/api/auth/login", "/api/auth/session", "/api/presence", "/ws"} {
		method := http.MethodGet
		if pattern == "/api/auth/login" {
			method = http.MethodPost
		}
		req, _ := http.NewRequest(method, pattern, nil)
		_, registered := mux.Handler(req)
		assert.NotEmpty(t, registered, "expected %s %s to be registered", method, pattern)
	}
}

func TestGoChatApp_SlowHandshakeIsClosed(t *testing.T) {
	db := &database.MockGoChatRepository{}
	cfg := &config.Config{
		ServerAddr: "127.0.0.1:0",
		SigningKey: testSigningKey,
		Realtime:   config.RealtimeConfig{HandshakeTimeout: 100 * time.Millisecond},
	}
	app := NewGoChatApp(http.NewServeMux(), testutil.TestLogger(t), &server.ChatServer{}, db, auth.NewResolver(db, testSigningKey), cfg)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go app.srv.Serve(ln)
	defer app.srv.Close()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	// headers are never finished
	_, err = conn.Write([]byte("GET /ws HTTP/1.1\r\nHost: localhost\r\nUpgrade: websocket\r\n"))
	require.NoError(t, err)

	start := time.Now()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Read(make([]byte, 512))
	require.Error(t, err, "expected the server to drop the connection")

	var netErr net.Error
	assert.False(t, errors.As(err, &netErr) && netErr.Timeout(), "expected the server to close the connection, got a client timeout")
	assert.Less(t, time.Since(start), time.Second)
}
