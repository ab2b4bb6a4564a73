package server

import (
	"encoding/json"
	"time"

	"github.com/npezzotti/go-chatserver/internal/membership"
	"github.com/npezzotti/go-chatserver/internal/stats"
	"github.com/npezzotti/go-chatserver/internal/types"
	"github.com/rs/zerolog"
)

type emitOptions struct {
	except SessionID
}

type EmitOption func(*emitOptions)

// ExceptSession leaves one session out of a fan-out, usually the sender.
func ExceptSession(id SessionID) EmitOption {
	return func(o *emitOptions) {
		o.except = id
	}
}

// Router fans events out to the sessions currently connected in a scope.
// Offline targets are skipped silently.
type Router struct {
	sessions *SessionManager
	log      zerolog.Logger
	stats    stats.StatsProvider
}

func newRouter(sm *SessionManager, logger zerolog.Logger, st stats.StatsProvider) *Router {
	return &Router{
		sessions: sm,
		log:      logger,
		stats:    st,
	}
}

// EmitToRoom returns the number of sessions the event was queued to.
func (r *Router) EmitToRoom(room membership.RoomID, eventType string, data any, opts ...EmitOption) int {
	return r.emit(r.sessions.SessionsInRoom(room), eventType, data, opts)
}

func (r *Router) EmitToUser(userId int, eventType string, data any, opts ...EmitOption) int {
	return r.emit(r.sessions.SessionsForUser(userId), eventType, data, opts)
}

func (r *Router) EmitToUsers(userIds []int, eventType string, data any, opts ...EmitOption) int {
	seen := make(map[int]struct{}, len(userIds))
	var targets []*Session
	for _, id := range userIds {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		targets = append(targets, r.sessions.SessionsForUser(id)...)
	}
	return r.emit(targets, eventType, data, opts)
}

// Send queues an event to a single session, echoing the correlation id of
// the client event it answers.
func (r *Router) Send(s *Session, eventType string, data any, id json.RawMessage) bool {
	frame, err := encodeEvent(eventType, data, id)
	if err != nil {
		r.log.Error().Err(err).Str("event", eventType).Msg("failed to encode event")
		return false
	}
	r.stats.IncrLabel(stats.EventsEmitted, eventType)
	return r.deliver(s, eventType, frame)
}

func (r *Router) SendError(s *Session, err error, id json.RawMessage) bool {
	return r.Send(s, EventError, NewErrorData(err), id)
}

func (r *Router) emit(targets []*Session, eventType string, data any, opts []EmitOption) int {
	if len(targets) == 0 {
		return 0
	}

	var o emitOptions
	for _, opt := range opts {
		opt(&o)
	}

	frame, err := encodeEvent(eventType, data, nil)
	if err != nil {
		r.log.Error().Err(err).Str("event", eventType).Msg("failed to encode event")
		return 0
	}

	n := 0
	for _, s := range targets {
		if o.except != "" && s.id == o.except {
			continue
		}
		if r.deliver(s, eventType, frame) {
			n++
		}
	}

	if n > 0 {
		r.stats.IncrLabel(stats.EventsEmitted, eventType)
	}
	return n
}

func (r *Router) deliver(s *Session, eventType string, frame []byte) bool {
	switch s.deliver(frame) {
	case delivered:
		return true
	case deliveryQueueFull:
		r.stats.IncrLabel(stats.DroppedDeliveries, eventType)
		r.log.Warn().
			Str("session_id", string(s.id)).
			Int("user_id", s.user.Id).
			Str("event", eventType).
			Msg("outbound queue full, dropping session")
		go r.sessions.OnDisconnect(s.id)
	}
	return false
}

type FriendRequest struct {
	Id              int    `json:"id"`
	SenderId        int    `json:"sender_id"`
	SenderUsername  string `json:"sender_username"`
	SenderAvatarUrl string `json:"sender_avatar_url,omitempty"`
	CreatedAt       string `json:"created_at"`
}

// NotifyFriendRequest tells the receiver about a pending request.
func (r *Router) NotifyFriendRequest(receiverId int, req FriendRequest) int {
	if req.CreatedAt == "" {
		req.CreatedAt = Now().Format(time.RFC3339Nano)
	}
	return r.EmitToUser(receiverId, EventFriendRequestReceived, req)
}

// NotifyFriendRequestAccepted tells the original requester that accepter is
// now a friend. Cached friend sets of both users are dropped.
func (r *Router) NotifyFriendRequestAccepted(requesterId int, accepter types.AuthorInfo) int {
	r.sessions.members.Invalidate(requesterId, accepter.UserId)
	return r.EmitToUser(requesterId, EventFriendRequestAccepted, accepter)
}

// NotifyDirectMessage delivers a direct message created outside a socket,
// e.g. through the REST API, to the receiver and to the sender's sessions.
func (r *Router) NotifyDirectMessage(dm types.DirectMessage) int {
	n := r.EmitToUser(dm.ReceiverId, EventDirectMessageReceived, dm)
	return n + r.EmitToUser(dm.SenderId, EventDirectMessageSent, dm)
}

func (r *Router) BroadcastToServer(serverId int, eventType string, data any) int {
	return r.EmitToRoom(membership.ServerRoom(serverId), eventType, data)
}

func (r *Router) BroadcastToChannel(channelId int, eventType string, data any) int {
	return r.EmitToRoom(membership.ChannelRoom(channelId), eventType, data)
}
