package server

import (
	"encoding/json"
	"time"

	"github.com/npezzotti/go-chatserver/internal/types"
)

// Client to server events.
const (
	EventJoinChannel       = "join_channel"
	EventLeaveChannel      = "leave_channel"
	EventSendMessage       = "send_message"
	EventTypingStart       = "typing_start"
	EventTypingStop        = "typing_stop"
	EventSendDirectMessage = "send_direct_message"
	EventDMTypingStart     = "dm_typing_start"
	EventDMTypingStop      = "dm_typing_stop"
	EventAddReaction       = "add_reaction"
	EventSetStatus         = "set_status"
)

// Server to client events.
const (
	EventJoinedChannel         = "joined_channel"
	EventLeftChannel           = "left_channel"
	EventNewMessage            = "new_message"
	EventUserTyping            = "user_typing"
	EventUserStoppedTyping     = "user_stopped_typing"
	EventDirectMessageReceived = "direct_message_received"
	EventDirectMessageSent     = "direct_message_sent"
	EventDMUserTyping          = "dm_user_typing"
	EventDMUserStoppedTyping   = "dm_user_stopped_typing"
	EventReactionAdded         = "reaction_added"
	EventUserStatusChange      = "user_status_change"
	EventFriendStatusChange    = "friend_status_change"
	EventFriendRequestReceived = "friend_request_received"
	EventFriendRequestAccepted = "friend_request_accepted"
	EventStatusUpdated         = "status_updated"
	EventError                 = "error"
)

// ClientEvent is an inbound frame. Data is decoded according to Type.
type ClientEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
	Id   json.RawMessage `json:"id,omitempty"`
}

// ServerEvent is an outbound frame. Id echoes the correlation id of the
// client event it answers, if any.
type ServerEvent struct {
	Type      string          `json:"type"`
	Data      any             `json:"data,omitempty"`
	Id        json.RawMessage `json:"id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type ChannelPayload struct {
	ChannelId int `json:"channel_id"`
}

type SendMessagePayload struct {
	ChannelId int    `json:"channel_id"`
	Content   string `json:"content"`
	ReplyTo   *int   `json:"reply_to,omitempty"`
}

type SendDirectMessagePayload struct {
	ReceiverId int    `json:"receiver_id"`
	Content    string `json:"content"`
	ReplyTo    *int   `json:"reply_to,omitempty"`
}

type DirectTypingPayload struct {
	ReceiverId int `json:"receiver_id"`
}

type AddReactionPayload struct {
	ChannelId int    `json:"channel_id"`
	MessageId int    `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type SetStatusPayload struct {
	Status types.PresenceStatus `json:"status"`
}

type TypingNotice struct {
	UserId    int    `json:"user_id"`
	Username  string `json:"username,omitempty"`
	ChannelId int    `json:"channel_id"`
}

type DirectTypingNotice struct {
	SenderId       int    `json:"sender_id"`
	SenderUsername string `json:"sender_username,omitempty"`
}

type ReactionNotice struct {
	ChannelId int    `json:"channel_id"`
	MessageId int    `json:"message_id"`
	Emoji     string `json:"emoji"`
	UserId    int    `json:"user_id"`
	Username  string `json:"username"`
}

type ErrorData struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func encodeEvent(eventType string, data any, id json.RawMessage) ([]byte, error) {
	return json.Marshal(&ServerEvent{
		Type:      eventType,
		Data:      data,
		Id:        id,
		Timestamp: Now(),
	})
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
