package types

import (
	"time"
)

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
	StatusAway    PresenceStatus = "away"
	StatusBusy    PresenceStatus = "busy"
)

func (s PresenceStatus) Valid() bool {
	switch s {
	case StatusOnline, StatusOffline, StatusAway, StatusBusy:
		return true
	}
	return false
}

type User struct {
	Id           int            `json:"id"`
	Username     string         `json:"username"`
	EmailAddress string         `json:"email_address,omitempty"`
	AvatarUrl    string         `json:"avatar_url,omitempty"`
	Status       PresenceStatus `json:"status,omitempty"`
	CreatedAt    time.Time      `json:"created_at,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at,omitempty"`
}

// AuthorInfo holds the display fields attached to a message on delivery.
type AuthorInfo struct {
	UserId    int    `json:"user_id"`
	Username  string `json:"username"`
	AvatarUrl string `json:"avatar_url,omitempty"`
}

type ReplyPreview struct {
	MessageId int    `json:"message_id"`
	Content   string `json:"content"`
	Username  string `json:"username"`
}

type Message struct {
	Id        int           `json:"id"`
	ChannelId int           `json:"channel_id"`
	UserId    int           `json:"user_id"`
	Content   string        `json:"content"`
	ReplyTo   *int          `json:"reply_to,omitempty"`
	Edited    bool          `json:"edited"`
	CreatedAt time.Time     `json:"created_at"`
	Author    AuthorInfo    `json:"author"`
	Reply     *ReplyPreview `json:"reply,omitempty"`
}

type DirectMessage struct {
	Id             int           `json:"id"`
	ConversationId string        `json:"conversation_id"`
	SenderId       int           `json:"sender_id"`
	ReceiverId     int           `json:"receiver_id"`
	Content        string        `json:"content"`
	ReplyTo        *int          `json:"reply_to,omitempty"`
	Edited         bool          `json:"edited"`
	CreatedAt      time.Time     `json:"created_at"`
	Sender         AuthorInfo    `json:"sender"`
	Reply          *ReplyPreview `json:"reply,omitempty"`
}

type StatusChange struct {
	UserId   int            `json:"user_id"`
	Username string         `json:"username"`
	Status   PresenceStatus `json:"status"`
}
