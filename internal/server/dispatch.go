package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/npezzotti/go-chatserver/internal/membership"
	"github.com/tidwall/gjson"
)

const maxEmojiLength = 32

type eventHandler func(c *Client, ctx context.Context, ev *ClientEvent) error

var eventHandlers = map[string]eventHandler{
	EventJoinChannel:       (*Client).joinChannel,
	EventLeaveChannel:      (*Client).leaveChannel,
	EventSendMessage:       (*Client).sendChannelMessage,
	EventTypingStart:       (*Client).typingStart,
	EventTypingStop:        (*Client).typingStop,
	EventSendDirectMessage: (*Client).sendDirectMessage,
	EventDMTypingStart:     (*Client).directTypingStart,
	EventDMTypingStop:      (*Client).directTypingStop,
	EventAddReaction:       (*Client).addReaction,
	EventSetStatus:         (*Client).setStatus,
}

// dispatch peeks at the event type before decoding so unknown or
// malformed frames are rejected without allocating the payload.
func (c *Client) dispatch(raw []byte) {
	if !gjson.ValidBytes(raw) {
		c.cs.router.SendError(c.session, ErrInvalidMessage, nil)
		return
	}

	typ := gjson.GetBytes(raw, "type")
	if typ.Type != gjson.String {
		c.cs.router.SendError(c.session, ErrInvalidMessage, correlationId(raw))
		return
	}

	handler, ok := eventHandlers[typ.Str]
	if !ok {
		c.log.Debug().Str("event", typ.Str).Msg("unknown event")
		c.cs.router.SendError(c.session, ErrUnknownEvent, correlationId(raw))
		return
	}

	var ev ClientEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		c.cs.router.SendError(c.session, ErrInvalidMessage, correlationId(raw))
		return
	}

	ctx, cancel := context.WithTimeout(c.cs.ctx, c.cs.opts.EventTimeout)
	defer cancel()

	if err := handler(c, ctx, &ev); err != nil {
		c.log.Debug().Err(err).Str("event", ev.Type).Msg("event failed")
		c.cs.router.SendError(c.session, err, ev.Id)
	}
}

func correlationId(raw []byte) json.RawMessage {
	id := gjson.GetBytes(raw, "id")
	if !id.Exists() {
		return nil
	}
	return json.RawMessage(id.Raw)
}

func decodePayload(ev *ClientEvent, v any) error {
	if len(ev.Data) == 0 {
		return fmt.Errorf("%w: missing data", ErrInvalidMessage)
	}
	if err := json.Unmarshal(ev.Data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}

func (c *Client) channelPayload(ev *ClientEvent) (int, error) {
	var p ChannelPayload
	if err := decodePayload(ev, &p); err != nil {
		return 0, err
	}
	if p.ChannelId <= 0 {
		return 0, fmt.Errorf("%w: channel %d", ErrNotFound, p.ChannelId)
	}
	return p.ChannelId, nil
}

func (c *Client) joinChannel(ctx context.Context, ev *ClientEvent) error {
	channelId, err := c.channelPayload(ev)
	if err != nil {
		return err
	}

	room := membership.ChannelRoom(channelId)
	if err := c.cs.sessions.JoinRoom(ctx, c.session.id, room); err != nil {
		return err
	}

	c.log.Debug().Str("room_id", string(room)).Msg("joined channel")
	c.cs.router.Send(c.session, EventJoinedChannel, ChannelPayload{ChannelId: channelId}, ev.Id)
	return nil
}

func (c *Client) leaveChannel(ctx context.Context, ev *ClientEvent) error {
	channelId, err := c.channelPayload(ev)
	if err != nil {
		return err
	}

	c.cs.typing.StopChannel(c.session, channelId)
	c.cs.sessions.LeaveRoom(c.session.id, membership.ChannelRoom(channelId))
	c.cs.router.Send(c.session, EventLeftChannel, ChannelPayload{ChannelId: channelId}, ev.Id)
	return nil
}

func (c *Client) sendChannelMessage(ctx context.Context, ev *ClientEvent) error {
	var p SendMessagePayload
	if err := decodePayload(ev, &p); err != nil {
		return err
	}

	_, err := c.cs.ingest.SubmitChannelMessage(ctx, c.session.user, p.ChannelId, p.Content, p.ReplyTo)
	if err == nil {
		c.cs.typing.StopChannel(c.session, p.ChannelId)
	}
	return err
}

func (c *Client) typingStart(ctx context.Context, ev *ClientEvent) error {
	channelId, err := c.channelPayload(ev)
	if err != nil {
		return err
	}
	return c.cs.typing.StartChannel(c.session, channelId)
}

func (c *Client) typingStop(ctx context.Context, ev *ClientEvent) error {
	channelId, err := c.channelPayload(ev)
	if err != nil {
		return err
	}
	c.cs.typing.StopChannel(c.session, channelId)
	return nil
}

func (c *Client) sendDirectMessage(ctx context.Context, ev *ClientEvent) error {
	var p SendDirectMessagePayload
	if err := decodePayload(ev, &p); err != nil {
		return err
	}

	dm, err := c.cs.ingest.SubmitDirectMessage(ctx, c.session.user, c.session.id, p.ReceiverId, p.Content, p.ReplyTo)
	if err != nil {
		return err
	}

	c.cs.typing.StopDirect(c.session, p.ReceiverId)
	c.cs.router.Send(c.session, EventDirectMessageSent, dm, ev.Id)
	return nil
}

func (c *Client) directTypingPeer(ctx context.Context, ev *ClientEvent) (int, error) {
	var p DirectTypingPayload
	if err := decodePayload(ev, &p); err != nil {
		return 0, err
	}

	ok, err := c.cs.members.AreFriends(ctx, c.session.user.Id, p.ReceiverId)
	if err != nil {
		return 0, fmt.Errorf("%w: check friendship: %v", ErrStorage, err)
	}
	if !ok {
		return 0, ErrAccessDenied
	}
	return p.ReceiverId, nil
}

func (c *Client) directTypingStart(ctx context.Context, ev *ClientEvent) error {
	peer, err := c.directTypingPeer(ctx, ev)
	if err != nil {
		return err
	}
	c.cs.typing.StartDirect(c.session, peer)
	return nil
}

func (c *Client) directTypingStop(ctx context.Context, ev *ClientEvent) error {
	var p DirectTypingPayload
	if err := decodePayload(ev, &p); err != nil {
		return err
	}
	c.cs.typing.StopDirect(c.session, p.ReceiverId)
	return nil
}

// addReaction relays a reaction to the rest of the channel. Reactions are
// stored through the REST API.
func (c *Client) addReaction(ctx context.Context, ev *ClientEvent) error {
	var p AddReactionPayload
	if err := decodePayload(ev, &p); err != nil {
		return err
	}

	emoji := strings.TrimSpace(p.Emoji)
	if emoji == "" || utf8.RuneCountInString(emoji) > maxEmojiLength || p.MessageId <= 0 {
		return fmt.Errorf("%w: emoji %q on message %d", ErrInvalidEmoji, emoji, p.MessageId)
	}
	if p.ChannelId <= 0 {
		return fmt.Errorf("%w: channel %d", ErrNotFound, p.ChannelId)
	}

	room := membership.ChannelRoom(p.ChannelId)
	ok, err := c.cs.members.IsEntitled(ctx, c.session.user.Id, room)
	if err != nil {
		return fmt.Errorf("%w: check channel access: %v", ErrStorage, err)
	}
	if !ok {
		return ErrAccessDenied
	}

	c.cs.router.EmitToRoom(room, EventReactionAdded, ReactionNotice{
		ChannelId: p.ChannelId,
		MessageId: p.MessageId,
		Emoji:     emoji,
		UserId:    c.session.user.Id,
		Username:  c.session.user.Username,
	}, ExceptSession(c.session.id))
	return nil
}

func (c *Client) setStatus(ctx context.Context, ev *ClientEvent) error {
	var p SetStatusPayload
	if err := decodePayload(ev, &p); err != nil {
		return err
	}

	if err := c.cs.sessions.SetStatus(ctx, c.session.user.Id, p.Status); err != nil {
		return err
	}

	c.cs.router.Send(c.session, EventStatusUpdated, SetStatusPayload{Status: p.Status}, ev.Id)
	return nil
}
