package server

import (
	"sync"
	"time"

	"github.com/npezzotti/go-chatserver/internal/membership"
)

const defaultTypingTimeout = 5 * time.Second

// typingKey identifies an indicator: the typing user and either the
// channel room or the user room of the direct message peer.
type typingKey struct {
	userId int
	target membership.RoomID
}

type typingEntry struct {
	session SessionID
	timer   *time.Timer
}

// TypingTracker relays typing indicators and stops them on the sender's
// behalf when no stop arrives in time or the owning session goes away.
type TypingTracker struct {
	router  *Router
	timeout time.Duration

	mu      sync.Mutex
	entries map[typingKey]*typingEntry
}

func NewTypingTracker(router *Router, timeout time.Duration) *TypingTracker {
	if timeout <= 0 {
		timeout = defaultTypingTimeout
	}
	return &TypingTracker{
		router:  router,
		timeout: timeout,
		entries: make(map[typingKey]*typingEntry),
	}
}

// StartChannel relays user_typing to the channel room, except the sender.
// The session must have joined the channel.
func (tt *TypingTracker) StartChannel(s *Session, channelId int) error {
	room := membership.ChannelRoom(channelId)
	if !s.InRoom(room) {
		return ErrAccessDenied
	}

	if tt.arm(typingKey{userId: s.user.Id, target: room}, s.id) {
		tt.router.EmitToRoom(room, EventUserTyping, TypingNotice{
			UserId:    s.user.Id,
			Username:  s.user.Username,
			ChannelId: channelId,
		}, ExceptSession(s.id))
	}
	return nil
}

func (tt *TypingTracker) StopChannel(s *Session, channelId int) {
	tt.stop(typingKey{userId: s.user.Id, target: membership.ChannelRoom(channelId)})
}

// StartDirect relays dm_user_typing to every session of the receiver.
// Friendship is checked by the caller.
func (tt *TypingTracker) StartDirect(s *Session, receiverId int) {
	room := membership.UserRoom(receiverId)
	if tt.arm(typingKey{userId: s.user.Id, target: room}, s.id) {
		tt.router.EmitToRoom(room, EventDMUserTyping, DirectTypingNotice{
			SenderId:       s.user.Id,
			SenderUsername: s.user.Username,
		})
	}
}

func (tt *TypingTracker) StopDirect(s *Session, receiverId int) {
	tt.stop(typingKey{userId: s.user.Id, target: membership.UserRoom(receiverId)})
}

// ClearSession stops every indicator owned by s.
func (tt *TypingTracker) ClearSession(s *Session) {
	tt.mu.Lock()
	var keys []typingKey
	for key, e := range tt.entries {
		if e.session == s.id {
			e.timer.Stop()
			delete(tt.entries, key)
			keys = append(keys, key)
		}
	}
	tt.mu.Unlock()

	for _, key := range keys {
		tt.emitStopped(key, s.id)
	}
}

// arm starts or refreshes the expiry timer for key. It reports whether
// the start should be relayed, which is false for a refresh from the
// same session.
func (tt *TypingTracker) arm(key typingKey, owner SessionID) bool {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	if e, ok := tt.entries[key]; ok {
		e.timer.Stop()
		relay := e.session != owner
		e.session = owner
		e.timer = tt.expiry(key, e)
		return relay
	}

	e := &typingEntry{session: owner}
	e.timer = tt.expiry(key, e)
	tt.entries[key] = e
	return true
}

func (tt *TypingTracker) expiry(key typingKey, e *typingEntry) *time.Timer {
	return time.AfterFunc(tt.timeout, func() {
		tt.mu.Lock()
		if tt.entries[key] != e {
			tt.mu.Unlock()
			return
		}
		delete(tt.entries, key)
		owner := e.session
		tt.mu.Unlock()

		tt.emitStopped(key, owner)
	})
}

func (tt *TypingTracker) stop(key typingKey) {
	tt.mu.Lock()
	e, ok := tt.entries[key]
	if ok {
		e.timer.Stop()
		delete(tt.entries, key)
	}
	tt.mu.Unlock()

	if ok {
		tt.emitStopped(key, e.session)
	}
}

func (tt *TypingTracker) emitStopped(key typingKey, owner SessionID) {
	kind, id, err := membership.ParseRoomID(key.target)
	if err != nil {
		return
	}

	switch kind {
	case membership.KindChannel:
		tt.router.EmitToRoom(key.target, EventUserStoppedTyping, TypingNotice{
			UserId:    key.userId,
			ChannelId: id,
		}, ExceptSession(owner))
	case membership.KindUser:
		tt.router.EmitToRoom(key.target, EventDMUserStoppedTyping, DirectTypingNotice{
			SenderId: key.userId,
		})
	}
}

// Active reports whether userId currently has a typing indicator in room.
func (tt *TypingTracker) Active(userId int, room membership.RoomID) bool {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	_, ok := tt.entries[typingKey{userId: userId, target: room}]
	return ok
}
