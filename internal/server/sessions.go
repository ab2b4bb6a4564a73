package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/npezzotti/go-chatserver/internal/membership"
	"github.com/npezzotti/go-chatserver/internal/stats"
	"github.com/npezzotti/go-chatserver/internal/types"
	"github.com/rs/zerolog"
	"github.com/teris-io/shortid"
)

const statusTimeout = 5 * time.Second

// Authenticator resolves the credential carried by a handshake request.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (types.User, error)
}

// Membership answers room and friendship questions for a user.
type Membership interface {
	RoomsFor(ctx context.Context, userId int) ([]membership.RoomID, error)
	ServerRoomsFor(ctx context.Context, userId int) ([]membership.RoomID, error)
	IsEntitled(ctx context.Context, userId int, room membership.RoomID) (bool, error)
	AreFriends(ctx context.Context, a, b int) (bool, error)
	FriendsOf(ctx context.Context, userId int) ([]int, error)
	Invalidate(userIds ...int)
}

// StatusStore records the last known presence of a user.
type StatusStore interface {
	SetStatus(ctx context.Context, userId int, status types.PresenceStatus) error
}

type SessionManager struct {
	log     zerolog.Logger
	auth    Authenticator
	members Membership
	status  StatusStore
	stats   stats.StatsProvider
	router  *Router

	queueSize int

	mu        sync.RWMutex
	sessions  map[SessionID]*Session
	byUser    map[int]map[SessionID]*Session
	rooms     map[membership.RoomID]map[SessionID]*Session
	overrides map[int]types.PresenceStatus

	// publishing has an entry for every user whose status is being
	// published. A non-nil value is the latest edge queued behind it.
	publishing map[int]*presenceEdge

	closeHooks []func(*Session)
}

func NewSessionManager(logger zerolog.Logger, auth Authenticator, members Membership, status StatusStore, st stats.StatsProvider, queueSize int) *SessionManager {
	if queueSize <= 0 {
		queueSize = 256
	}
	if st == nil {
		st = stats.NopStats{}
	}

	sm := &SessionManager{
		log:       logger,
		auth:      auth,
		members:   members,
		status:    status,
		stats:     st,
		queueSize: queueSize,
		sessions:  make(map[SessionID]*Session),
		byUser:    make(map[int]map[SessionID]*Session),
		rooms:     make(map[membership.RoomID]map[SessionID]*Session),
		overrides: make(map[int]types.PresenceStatus),

		publishing: make(map[int]*presenceEdge),
	}
	sm.router = newRouter(sm, logger, st)

	return sm
}

func (sm *SessionManager) Router() *Router {
	return sm.router
}

// OnSessionClosed registers fn to run after a session has been removed.
// Hooks must be registered before the first connection.
func (sm *SessionManager) OnSessionClosed(fn func(*Session)) {
	sm.closeHooks = append(sm.closeHooks, fn)
}

// Authenticate resolves the identity behind a handshake. No session is
// created here.
func (sm *SessionManager) Authenticate(ctx context.Context, r *http.Request) (types.User, error) {
	return sm.auth.Authenticate(ctx, r)
}

// OnConnect registers a session for user together with its own user room
// and every server room the user belongs to.
func (sm *SessionManager) OnConnect(ctx context.Context, conn Conn, user types.User) (*Session, error) {
	rooms, err := sm.members.RoomsFor(ctx, user.Id)
	if err != nil {
		return nil, fmt.Errorf("%w: load rooms: %v", ErrStorage, err)
	}

	id, err := shortid.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}

	s := newSession(SessionID(id), user, conn, sm.queueSize)
	for _, room := range rooms {
		s.rooms.Add(room)
	}

	sm.mu.Lock()
	sm.sessions[s.id] = s
	userSessions, ok := sm.byUser[user.Id]
	if !ok {
		userSessions = make(map[SessionID]*Session)
		sm.byUser[user.Id] = userSessions
	}
	userSessions[s.id] = s
	for _, room := range rooms {
		sm.addToRoomLocked(room, s)
	}
	var edge *presenceEdge
	first := len(userSessions) == 1
	if first {
		edge = sm.queueStatusLocked(user, types.StatusOnline)
	}
	sm.mu.Unlock()

	sm.stats.Incr(stats.ActiveSessions)
	sm.log.Info().
		Int("user_id", user.Id).
		Str("session_id", string(s.id)).
		Int("rooms", len(rooms)).
		Msg("session connected")

	if first {
		sm.stats.Incr(stats.OnlineUsers)
	}
	sm.publishEdges(ctx, edge)

	return s, nil
}

// OnDisconnect removes a session from every index. Unknown or already
// removed sessions are ignored.
func (sm *SessionManager) OnDisconnect(id SessionID) {
	s := sm.Session(id)
	if s == nil {
		return
	}

	user := s.user
	sm.mu.Lock()
	if sm.sessions[id] != s {
		sm.mu.Unlock()
		return
	}
	delete(sm.sessions, id)
	for _, room := range s.Rooms() {
		sm.removeFromRoomLocked(room, s)
	}
	last := false
	var edge *presenceEdge
	if userSessions, ok := sm.byUser[user.Id]; ok {
		delete(userSessions, id)
		if len(userSessions) == 0 {
			delete(sm.byUser, user.Id)
			delete(sm.overrides, user.Id)
			edge = sm.queueStatusLocked(user, types.StatusOffline)
			last = true
		}
	}
	sm.mu.Unlock()

	if err := s.close(); err != nil {
		sm.log.Debug().Err(err).Str("session_id", string(id)).Msg("close connection")
	}
	for _, hook := range sm.closeHooks {
		hook(s)
	}

	sm.stats.Decr(stats.ActiveSessions)
	sm.log.Info().
		Int("user_id", user.Id).
		Str("session_id", string(id)).
		Bool("last", last).
		Msg("session disconnected")

	if last {
		sm.stats.Decr(stats.OnlineUsers)
	}
	sm.publishEdges(context.Background(), edge)
}

// JoinRoom adds a session to room after re-checking entitlement.
func (sm *SessionManager) JoinRoom(ctx context.Context, id SessionID, room membership.RoomID) error {
	if _, _, err := membership.ParseRoomID(room); err != nil {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	s := sm.Session(id)
	if s == nil {
		return fmt.Errorf("%w: session %s", ErrNotFound, id)
	}

	ok, err := sm.members.IsEntitled(ctx, s.user.Id, room)
	if err != nil {
		return fmt.Errorf("%w: check entitlement: %v", ErrStorage, err)
	}
	if !ok {
		return ErrAccessDenied
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.sessions[id] != s {
		return fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	s.rooms.Add(room)
	sm.addToRoomLocked(room, s)

	return nil
}

// LeaveRoom is a no-op for unknown sessions or rooms the session is not in.
func (sm *SessionManager) LeaveRoom(id SessionID, room membership.RoomID) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	s, ok := sm.sessions[id]
	if !ok {
		return
	}
	s.rooms.Remove(room)
	sm.removeFromRoomLocked(room, s)
}

func (sm *SessionManager) addToRoomLocked(room membership.RoomID, s *Session) {
	members, ok := sm.rooms[room]
	if !ok {
		members = make(map[SessionID]*Session)
		sm.rooms[room] = members
	}
	members[s.id] = s
}

func (sm *SessionManager) removeFromRoomLocked(room membership.RoomID, s *Session) {
	members, ok := sm.rooms[room]
	if !ok {
		return
	}
	delete(members, s.id)
	if len(members) == 0 {
		delete(sm.rooms, room)
	}
}

func (sm *SessionManager) Session(id SessionID) *Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sessions[id]
}

func (sm *SessionManager) SessionsForUser(userId int) []*Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return snapshot(sm.byUser[userId])
}

func (sm *SessionManager) SessionsInRoom(room membership.RoomID) []*Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return snapshot(sm.rooms[room])
}

func snapshot(m map[SessionID]*Session) []*Session {
	sessions := make([]*Session, 0, len(m))
	for _, s := range m {
		sessions = append(sessions, s)
	}
	return sessions
}

// Presence is offline without sessions, otherwise online unless the user
// set an away or busy override.
func (sm *SessionManager) Presence(userId int) types.PresenceStatus {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if len(sm.byUser[userId]) == 0 {
		return types.StatusOffline
	}
	if status, ok := sm.overrides[userId]; ok {
		return status
	}
	return types.StatusOnline
}

func (sm *SessionManager) IsOnline(userId int) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.byUser[userId]) > 0
}

func (sm *SessionManager) OnlineCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.byUser)
}

// SetStatus sets an away or busy override for a connected user. Online
// clears the override. Offline cannot be set while sessions exist.
func (sm *SessionManager) SetStatus(ctx context.Context, userId int, status types.PresenceStatus) error {
	if !status.Valid() || status == types.StatusOffline {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	sm.mu.Lock()
	userSessions := sm.byUser[userId]
	if len(userSessions) == 0 {
		sm.mu.Unlock()
		return fmt.Errorf("%w: user %d is offline", ErrNotFound, userId)
	}
	var user types.User
	for _, s := range userSessions {
		user = s.user
		break
	}
	prev, hadOverride := sm.overrides[userId]
	if !hadOverride {
		prev = types.StatusOnline
	}
	if prev == status {
		sm.mu.Unlock()
		return nil
	}
	if status == types.StatusOnline {
		delete(sm.overrides, userId)
	} else {
		sm.overrides[userId] = status
	}
	edge := sm.queueStatusLocked(user, status)
	sm.mu.Unlock()

	sm.publishEdges(ctx, edge)
	return nil
}

// presenceEdge is a status change decided under sm.mu and waiting to be
// published.
type presenceEdge struct {
	user   types.User
	status types.PresenceStatus
}

// queueStatusLocked records a status edge for user. It returns the edge
// when the caller must publish it, or nil when a publish for the user is
// already running and will pick the edge up. Only the latest queued edge
// survives, so stale intermediate edges are dropped. sm.mu must be held.
func (sm *SessionManager) queueStatusLocked(user types.User, status types.PresenceStatus) *presenceEdge {
	edge := &presenceEdge{user: user, status: status}
	if _, running := sm.publishing[user.Id]; running {
		sm.publishing[user.Id] = edge
		return nil
	}
	sm.publishing[user.Id] = nil
	return edge
}

// publishEdges publishes edge and then every edge queued for the same user
// while it ran. No lock is held during the publish itself.
func (sm *SessionManager) publishEdges(ctx context.Context, edge *presenceEdge) {
	if edge == nil {
		return
	}
	userId := edge.user.Id
	ctx = context.WithoutCancel(ctx)

	for edge != nil {
		pctx, cancel := context.WithTimeout(ctx, statusTimeout)
		sm.publishStatus(pctx, edge.user, edge.status)
		cancel()

		sm.mu.Lock()
		edge = sm.publishing[userId]
		if edge == nil {
			delete(sm.publishing, userId)
		} else {
			sm.publishing[userId] = nil
		}
		sm.mu.Unlock()
	}
}

// publishStatus records the new status and tells the user's server rooms
// and friends about it. Failures are logged; presence itself is derived
// from live sessions.
func (sm *SessionManager) publishStatus(ctx context.Context, user types.User, status types.PresenceStatus) {
	l := sm.log.With().Int("user_id", user.Id).Str("status", string(status)).Logger()

	if sm.status != nil {
		if err := sm.status.SetStatus(ctx, user.Id, status); err != nil {
			l.Error().Err(err).Msg("failed to store status")
		}
	}

	change := types.StatusChange{
		UserId:   user.Id,
		Username: user.Username,
		Status:   status,
	}

	servers, err := sm.members.ServerRoomsFor(ctx, user.Id)
	if err != nil {
		l.Error().Err(err).Msg("failed to load server rooms for status change")
	}
	for _, room := range servers {
		sm.router.EmitToRoom(room, EventUserStatusChange, change)
	}

	friends, err := sm.members.FriendsOf(ctx, user.Id)
	if err != nil {
		l.Error().Err(err).Msg("failed to load friends for status change")
	}
	sm.router.EmitToUsers(friends, EventFriendStatusChange, change)

	l.Debug().Int("servers", len(servers)).Int("friends", len(friends)).Msg("published status change")
}

// Shutdown disconnects every session, or gives up when ctx is done.
func (sm *SessionManager) Shutdown(ctx context.Context) error {
	sm.mu.RLock()
	all := snapshot(sm.sessions)
	sm.mu.RUnlock()

	sm.log.Info().Int("sessions", len(all)).Msg("draining sessions")

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, s := range all {
			wg.Add(1)
			go func(id SessionID) {
				defer wg.Done()
				sm.OnDisconnect(id)
			}(s.id)
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
