package server

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/npezzotti/go-chatserver/internal/database"
	"github.com/npezzotti/go-chatserver/internal/membership"
	"github.com/npezzotti/go-chatserver/internal/stats"
	"github.com/npezzotti/go-chatserver/internal/types"
	"github.com/rs/zerolog"
)

const MaxContentLength = 2000

const (
	kindChannel = "channel"
	kindDirect  = "dm"
)

// MessageStore is the persistence the ingest pipeline writes through.
type MessageStore interface {
	GetAccountById(ctx context.Context, accountId int) (database.User, error)
	CreateMessage(ctx context.Context, params database.CreateMessageParams) (database.Message, error)
	CreateDirectMessage(ctx context.Context, params database.CreateDirectMessageParams) (database.DirectMessage, error)
	MessageInChannel(ctx context.Context, messageId, channelId int) (bool, error)
	DirectMessageInConversation(ctx context.Context, messageId int, conversationId string) (bool, error)
	GetMessagePreview(ctx context.Context, messageId int) (database.MessagePreview, error)
	GetDirectMessagePreview(ctx context.Context, messageId int) (database.MessagePreview, error)
}

// Ingest validates, persists and fans out chat messages. A submission
// stops at the first failing step. Nothing is written unless access and
// content checks pass, and nothing is dispatched unless the write succeeds.
type Ingest struct {
	log     zerolog.Logger
	store   MessageStore
	members Membership
	router  *Router
	stats   stats.StatsProvider
}

func NewIngest(logger zerolog.Logger, store MessageStore, members Membership, router *Router, st stats.StatsProvider) *Ingest {
	if st == nil {
		st = stats.NopStats{}
	}
	return &Ingest{
		log:     logger,
		store:   store,
		members: members,
		router:  router,
		stats:   st,
	}
}

// ConversationID derives the id shared by both participants of a direct
// conversation, independent of argument order.
func ConversationID(a, b int) string {
	if a > b {
		a, b = b, a
	}
	return "dm_" + strconv.Itoa(a) + "_" + strconv.Itoa(b)
}

// validateContent returns the trimmed content.
func validateContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty message", ErrInvalidContent)
	}
	if n := utf8.RuneCountInString(trimmed); n > MaxContentLength {
		return "", fmt.Errorf("%w: %d characters exceeds %d", ErrInvalidContent, n, MaxContentLength)
	}
	return trimmed, nil
}

func (in *Ingest) SubmitChannelMessage(ctx context.Context, sender types.User, channelId int, content string, replyTo *int) (msg types.Message, err error) {
	defer func() { in.record(kindChannel, err) }()

	if channelId <= 0 {
		return msg, fmt.Errorf("%w: channel %d", ErrNotFound, channelId)
	}

	room := membership.ChannelRoom(channelId)
	ok, err := in.members.IsEntitled(ctx, sender.Id, room)
	if err != nil {
		return msg, fmt.Errorf("%w: check channel access: %v", ErrStorage, err)
	}
	if !ok {
		return msg, ErrAccessDenied
	}

	content, err = validateContent(content)
	if err != nil {
		return msg, err
	}

	if replyTo != nil {
		ok, err := in.store.MessageInChannel(ctx, *replyTo, channelId)
		if err != nil {
			return msg, fmt.Errorf("%w: check reply: %v", ErrStorage, err)
		}
		if !ok {
			return msg, ErrInvalidReply
		}
	}

	dbMsg, err := in.store.CreateMessage(ctx, database.CreateMessageParams{
		ChannelId: channelId,
		UserId:    sender.Id,
		Content:   content,
		ReplyTo:   replyTo,
	})
	if err != nil {
		if errors.Is(err, database.ErrReplyTargetGone) {
			return msg, ErrInvalidReply
		}
		return msg, fmt.Errorf("%w: create message: %v", ErrStorage, err)
	}

	msg = types.Message{
		Id:        dbMsg.Id,
		ChannelId: dbMsg.ChannelId,
		UserId:    dbMsg.UserId,
		Content:   dbMsg.Content,
		ReplyTo:   replyTo,
		Edited:    dbMsg.Edited,
		CreatedAt: dbMsg.CreatedAt,
		Author:    in.author(ctx, sender),
	}
	if replyTo != nil {
		msg.Reply = in.preview(ctx, *replyTo, in.store.GetMessagePreview)
	}

	n := in.router.EmitToRoom(room, EventNewMessage, msg)
	in.log.Debug().
		Int("user_id", sender.Id).
		Str("room_id", string(room)).
		Int("message_id", msg.Id).
		Int("recipients", n).
		Msg("dispatched channel message")

	return msg, nil
}

// SubmitDirectMessage persists a direct message and delivers it to every
// session of the receiver and to the sender's sessions other than origin.
// The enriched message is returned so the caller can confirm to origin.
func (in *Ingest) SubmitDirectMessage(ctx context.Context, sender types.User, origin SessionID, receiverId int, content string, replyTo *int) (dm types.DirectMessage, err error) {
	defer func() { in.record(kindDirect, err) }()

	if receiverId == sender.Id {
		return dm, fmt.Errorf("%w: cannot message yourself", ErrAccessDenied)
	}

	ok, err := in.members.AreFriends(ctx, sender.Id, receiverId)
	if err != nil {
		return dm, fmt.Errorf("%w: check friendship: %v", ErrStorage, err)
	}
	if !ok {
		return dm, fmt.Errorf("%w: you can only send messages to friends", ErrAccessDenied)
	}

	content, err = validateContent(content)
	if err != nil {
		return dm, err
	}

	conversationId := ConversationID(sender.Id, receiverId)
	if replyTo != nil {
		ok, err := in.store.DirectMessageInConversation(ctx, *replyTo, conversationId)
		if err != nil {
			return dm, fmt.Errorf("%w: check reply: %v", ErrStorage, err)
		}
		if !ok {
			return dm, ErrInvalidReply
		}
	}

	dbDM, err := in.store.CreateDirectMessage(ctx, database.CreateDirectMessageParams{
		ConversationId: conversationId,
		SenderId:       sender.Id,
		ReceiverId:     receiverId,
		Content:        content,
		ReplyTo:        replyTo,
	})
	if err != nil {
		if errors.Is(err, database.ErrReplyTargetGone) {
			return dm, ErrInvalidReply
		}
		return dm, fmt.Errorf("%w: create direct message: %v", ErrStorage, err)
	}

	dm = types.DirectMessage{
		Id:             dbDM.Id,
		ConversationId: dbDM.ConversationId,
		SenderId:       dbDM.SenderId,
		ReceiverId:     dbDM.ReceiverId,
		Content:        dbDM.Content,
		ReplyTo:        replyTo,
		Edited:         dbDM.Edited,
		CreatedAt:      dbDM.CreatedAt,
		Sender:         in.author(ctx, sender),
	}
	if replyTo != nil {
		dm.Reply = in.preview(ctx, *replyTo, in.store.GetDirectMessagePreview)
	}

	received := in.router.EmitToUser(receiverId, EventDirectMessageReceived, dm)
	in.router.EmitToUser(sender.Id, EventDirectMessageSent, dm, ExceptSession(origin))
	in.log.Debug().
		Int("user_id", sender.Id).
		Int("receiver_id", receiverId).
		Str("conversation_id", conversationId).
		Int("recipients", received).
		Msg("dispatched direct message")

	return dm, nil
}

// author loads the sender's current display fields, falling back to the
// identity held by the session.
func (in *Ingest) author(ctx context.Context, sender types.User) types.AuthorInfo {
	info := types.AuthorInfo{
		UserId:    sender.Id,
		Username:  sender.Username,
		AvatarUrl: sender.AvatarUrl,
	}

	u, err := in.store.GetAccountById(ctx, sender.Id)
	if err != nil {
		in.log.Warn().Err(err).Int("user_id", sender.Id).Msg("failed to enrich author, using session identity")
		return info
	}

	info.Username = u.Username
	info.AvatarUrl = u.AvatarUrl.String
	return info
}

func (in *Ingest) preview(ctx context.Context, messageId int, get func(context.Context, int) (database.MessagePreview, error)) *types.ReplyPreview {
	p, err := get(ctx, messageId)
	if err != nil {
		in.log.Warn().Err(err).Int("message_id", messageId).Msg("failed to load reply preview")
		return nil
	}
	return &types.ReplyPreview{
		MessageId: p.Id,
		Content:   p.Content,
		Username:  p.Username,
	}
}

func (in *Ingest) record(kind string, err error) {
	result := "ok"
	if err != nil {
		result = ErrorCode(err)
	}
	in.stats.IncrLabel(stats.MessagesIngested, kind, result)
}
