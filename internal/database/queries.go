package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// ErrReplyTargetGone is returned when a replied-to message disappears
// between validation and persistence.
var ErrReplyTargetGone = errors.New("reply target no longer exists")

const (
	accountColumns = "id, username, email, avatar_url, status, created_at, updated_at"

	channelMemberQuery = "SELECT EXISTS (SELECT 1 FROM channels c " +
		"JOIN server_members sm ON c.server_id = sm.server_id " +
		"WHERE c.id = $1 AND sm.user_id = $2)"
	friendshipQuery = "SELECT EXISTS (SELECT 1 FROM friendships " +
		"WHERE (user1_id = $1 AND user2_id = $2) OR (user1_id = $2 AND user2_id = $1))"
)

func (db *PgGoChatRepository) GetAccountById(ctx context.Context, id int) (User, error) {
	var user User
	err := db.conn.GetContext(ctx, &user,
		"SELECT "+accountColumns+" FROM users WHERE id = $1 LIMIT 1",
		id,
	)

	return user, err
}

func (db *PgGoChatRepository) GetAccountByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := db.conn.GetContext(ctx, &user,
		"SELECT "+accountColumns+", password_hash FROM users WHERE email = $1 LIMIT 1",
		email,
	)

	return user, err
}

func (db *PgGoChatRepository) UpdateUserStatus(ctx context.Context, id int, status string) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE users SET status = $1 WHERE id = $2",
		status,
		id,
	)

	return err
}

func (db *PgGoChatRepository) ListServerIds(ctx context.Context, accountId int) ([]int, error) {
	ids := make([]int, 0)
	err := db.conn.SelectContext(ctx, &ids,
		"SELECT server_id FROM server_members WHERE user_id = $1 ORDER BY server_id",
		accountId,
	)

	return ids, err
}

func (db *PgGoChatRepository) IsServerMember(ctx context.Context, accountId, serverId int) (bool, error) {
	var ok bool
	err := db.conn.GetContext(ctx, &ok,
		"SELECT EXISTS (SELECT 1 FROM server_members WHERE server_id = $1 AND user_id = $2)",
		serverId,
		accountId,
	)

	return ok, err
}

func (db *PgGoChatRepository) IsChannelMember(ctx context.Context, accountId, channelId int) (bool, error) {
	var ok bool
	err := db.conn.GetContext(ctx, &ok, channelMemberQuery, channelId, accountId)

	return ok, err
}

func (db *PgGoChatRepository) ListFriendIds(ctx context.Context, accountId int) ([]int, error) {
	ids := make([]int, 0)
	err := db.conn.SelectContext(ctx, &ids,
		"SELECT CASE WHEN user1_id = $1 THEN user2_id ELSE user1_id END AS friend_id "+
			"FROM friendships WHERE user1_id = $1 OR user2_id = $1",
		accountId,
	)

	return ids, err
}

func (db *PgGoChatRepository) FriendshipExists(ctx context.Context, a, b int) (bool, error) {
	var ok bool
	err := db.conn.GetContext(ctx, &ok, friendshipQuery, a, b)

	return ok, err
}

func (db *PgGoChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	var msg Message
	err := db.withTransaction(ctx, func(tx *sqlx.Tx) error {
		if params.ReplyTo != nil {
			if err := lockReplyTarget(ctx, tx,
				"SELECT id FROM messages WHERE id = $1 AND channel_id = $2 FOR SHARE",
				*params.ReplyTo, params.ChannelId,
			); err != nil {
				return err
			}
		}

		return tx.GetContext(ctx, &msg,
			"INSERT INTO messages (content, user_id, channel_id, reply_to) VALUES ($1, $2, $3, $4) "+
				"RETURNING id, channel_id, user_id, content, reply_to, edited, created_at",
			params.Content,
			params.UserId,
			params.ChannelId,
			nullInt(params.ReplyTo),
		)
	})

	return msg, err
}

func (db *PgGoChatRepository) CreateDirectMessage(ctx context.Context, params CreateDirectMessageParams) (DirectMessage, error) {
	var dm DirectMessage
	err := db.withTransaction(ctx, func(tx *sqlx.Tx) error {
		if params.ReplyTo != nil {
			if err := lockReplyTarget(ctx, tx,
				"SELECT id FROM direct_messages WHERE id = $1 AND conversation_id = $2 FOR SHARE",
				*params.ReplyTo, params.ConversationId,
			); err != nil {
				return err
			}
		}

		return tx.GetContext(ctx, &dm,
			"INSERT INTO direct_messages (sender_id, receiver_id, content, conversation_id, reply_to) "+
				"VALUES ($1, $2, $3, $4, $5) "+
				"RETURNING id, conversation_id, sender_id, receiver_id, content, reply_to, edited, created_at",
			params.SenderId,
			params.ReceiverId,
			params.Content,
			params.ConversationId,
			nullInt(params.ReplyTo),
		)
	})

	return dm, err
}

func lockReplyTarget(ctx context.Context, tx *sqlx.Tx, query string, args ...any) error {
	var id int
	if err := tx.GetContext(ctx, &id, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrReplyTargetGone
		}
		return fmt.Errorf("lock reply target: %w", err)
	}
	return nil
}

func (db *PgGoChatRepository) MessageInChannel(ctx context.Context, messageId, channelId int) (bool, error) {
	var ok bool
	err := db.conn.GetContext(ctx, &ok,
		"SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1 AND channel_id = $2)",
		messageId,
		channelId,
	)

	return ok, err
}

func (db *PgGoChatRepository) DirectMessageInConversation(ctx context.Context, messageId int, conversationId string) (bool, error) {
	var ok bool
	err := db.conn.GetContext(ctx, &ok,
		"SELECT EXISTS (SELECT 1 FROM direct_messages WHERE id = $1 AND conversation_id = $2)",
		messageId,
		conversationId,
	)

	return ok, err
}

func (db *PgGoChatRepository) GetMessagePreview(ctx context.Context, messageId int) (MessagePreview, error) {
	var p MessagePreview
	err := db.conn.GetContext(ctx, &p,
		"SELECT m.id, m.content, u.username FROM messages m "+
			"JOIN users u ON m.user_id = u.id WHERE m.id = $1",
		messageId,
	)

	return p, err
}

func (db *PgGoChatRepository) GetDirectMessagePreview(ctx context.Context, messageId int) (MessagePreview, error) {
	var p MessagePreview
	err := db.conn.GetContext(ctx, &p,
		"SELECT dm.id, dm.content, u.username FROM direct_messages dm "+
			"JOIN users u ON dm.sender_id = u.id WHERE dm.id = $1",
		messageId,
	)

	return p, err
}
