package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/go-chatserver/internal/database"
	"github.com/npezzotti/go-chatserver/internal/membership"
	"github.com/npezzotti/go-chatserver/internal/stats"
	"github.com/npezzotti/go-chatserver/internal/testutil"
	"github.com/npezzotti/go-chatserver/internal/types"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	closed bool
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type statusCall struct {
	userId int
	status types.PresenceStatus
}

type recordingStatus struct {
	mu    sync.Mutex
	calls []statusCall
}

func (r *recordingStatus) SetStatus(_ context.Context, userId int, status types.PresenceStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, statusCall{userId, status})
	return nil
}

func (r *recordingStatus) Calls() []statusCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]statusCall(nil), r.calls...)
}

func (r *recordingStatus) lastFor(userId int) (types.PresenceStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.calls) - 1; i >= 0; i-- {
		if r.calls[i].userId == userId {
			return r.calls[i].status, true
		}
	}
	return "", false
}

type received struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
	Id   json.RawMessage `json:"id"`
}

func (r received) decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.Data, v))
}

// drain returns every frame queued to s without blocking.
func drain(t *testing.T, s *Session) []received {
	t.Helper()
	var out []received
	for {
		select {
		case frame := <-s.Outbound():
			var ev received
			require.NoError(t, json.Unmarshal(frame, &ev))
			out = append(out, ev)
		default:
			return out
		}
	}
}

// waitFor blocks until s receives an event of the given type.
func waitFor(t *testing.T, s *Session, eventType string) received {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case frame := <-s.Outbound():
			var ev received
			require.NoError(t, json.Unmarshal(frame, &ev))
			if ev.Type == eventType {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %q", eventType)
			return received{}
		}
	}
}

func typesOf(evs []received) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	db      *database.MockGoChatRepository
	members *membership.Index
	status  *recordingStatus
	sm      *SessionManager
	router  *Router
}

func newFixture(t *testing.T, queueSize int) *fixture {
	db := &database.MockGoChatRepository{}
	ix := membership.NewIndex(db, time.Minute)
	status := &recordingStatus{}
	sm := NewSessionManager(testutil.TestLogger(t), nil, ix, status, stats.NopStats{}, queueSize)

	return &fixture{
		db:      db,
		members: ix,
		status:  status,
		sm:      sm,
		router:  sm.Router(),
	}
}

// user registers the servers and friends the store reports for id.
func (f *fixture) user(id int, servers, friends []int) types.User {
	f.db.On("ListServerIds", mock.Anything, id).Return(servers, nil).Maybe()
	f.db.On("ListFriendIds", mock.Anything, id).Return(friends, nil).Maybe()
	return types.User{Id: id, Username: fmt.Sprintf("user%d", id)}
}

func (f *fixture) connect(t *testing.T, u types.User) *Session {
	t.Helper()
	s, err := f.sm.OnConnect(context.Background(), &fakeConn{}, u)
	require.NoError(t, err)
	return s
}

func (f *fixture) joinChannel(t *testing.T, s *Session, channelId int) {
	t.Helper()
	f.db.On("IsChannelMember", mock.Anything, s.User().Id, channelId).Return(true, nil).Once()
	require.NoError(t, f.sm.JoinRoom(context.Background(), s.ID(), membership.ChannelRoom(channelId)))
}
