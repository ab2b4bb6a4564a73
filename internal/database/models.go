package database

import (
	"database/sql"
	"time"
)

type User struct {
	Id           int            `db:"id"`
	Username     string         `db:"username"`
	EmailAddress string         `db:"email"`
	PasswordHash string         `db:"password_hash"`
	AvatarUrl    sql.NullString `db:"avatar_url"`
	Status       sql.NullString `db:"status"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    sql.NullTime   `db:"updated_at"`
}

type Message struct {
	Id        int           `db:"id"`
	ChannelId int           `db:"channel_id"`
	UserId    int           `db:"user_id"`
	Content   string        `db:"content"`
	ReplyTo   sql.NullInt64 `db:"reply_to"`
	Edited    bool          `db:"edited"`
	CreatedAt time.Time     `db:"created_at"`
}

type DirectMessage struct {
	Id             int           `db:"id"`
	ConversationId string        `db:"conversation_id"`
	SenderId       int           `db:"sender_id"`
	ReceiverId     int           `db:"receiver_id"`
	Content        string        `db:"content"`
	ReplyTo        sql.NullInt64 `db:"reply_to"`
	Edited         bool          `db:"edited"`
	CreatedAt      time.Time     `db:"created_at"`
}

// MessagePreview is the excerpt of a replied-to message shown alongside a reply.
type MessagePreview struct {
	Id       int    `db:"id"`
	Content  string `db:"content"`
	Username string `db:"username"`
}

type CreateMessageParams struct {
	ChannelId int
	UserId    int
	Content   string
	ReplyTo   *int
}

type CreateDirectMessageParams struct {
	ConversationId string
	SenderId       int
	ReceiverId     int
	Content        string
	ReplyTo        *int
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
