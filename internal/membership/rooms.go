package membership

import (
	"fmt"
	"strconv"
	"strings"
)

type RoomKind string

const (
	KindServer  RoomKind = "server"
	KindChannel RoomKind = "channel"
	KindUser    RoomKind = "user"
)

// RoomID names a broadcast scope, e.g. "channel:12".
type RoomID string

func newRoomID(kind RoomKind, id int) RoomID {
	return RoomID(string(kind) + ":" + strconv.Itoa(id))
}

func ServerRoom(serverId int) RoomID   { return newRoomID(KindServer, serverId) }
func ChannelRoom(channelId int) RoomID { return newRoomID(KindChannel, channelId) }
func UserRoom(userId int) RoomID       { return newRoomID(KindUser, userId) }

// ParseRoomID splits a room id into its kind and numeric id.
func ParseRoomID(r RoomID) (RoomKind, int, error) {
	kind, rawId, ok := strings.Cut(string(r), ":")
	if !ok {
		return "", 0, fmt.Errorf("malformed room id %q", r)
	}

	switch RoomKind(kind) {
	case KindServer, KindChannel, KindUser:
	default:
		return "", 0, fmt.Errorf("unknown room kind %q", kind)
	}

	id, err := strconv.Atoi(rawId)
	if err != nil || id <= 0 {
		return "", 0, fmt.Errorf("invalid id in room %q", r)
	}

	return RoomKind(kind), id, nil
}

func (r RoomID) Kind() RoomKind {
	kind, _, err := ParseRoomID(r)
	if err != nil {
		return ""
	}
	return kind
}
