// Package membership answers which rooms and friends a user is entitled to.
//
// Connect-time room sets and friend sets are cached briefly. Entitlement and
// friendship checks always go to the store.
package membership

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

type Store interface {
	ListServerIds(ctx context.Context, accountId int) ([]int, error)
	IsServerMember(ctx context.Context, accountId, serverId int) (bool, error)
	IsChannelMember(ctx context.Context, accountId, channelId int) (bool, error)
	ListFriendIds(ctx context.Context, accountId int) ([]int, error)
	FriendshipExists(ctx context.Context, a, b int) (bool, error)
}

type Index struct {
	store   Store
	rooms   *ttlcache.Cache[int, []RoomID]
	friends *ttlcache.Cache[int, []int]
}

func NewIndex(store Store, ttl time.Duration) *Index {
	return &Index{
		store: store,
		rooms: ttlcache.New[int, []RoomID](
			ttlcache.WithTTL[int, []RoomID](ttl),
			ttlcache.WithDisableTouchOnHit[int, []RoomID](),
		),
		friends: ttlcache.New[int, []int](
			ttlcache.WithTTL[int, []int](ttl),
			ttlcache.WithDisableTouchOnHit[int, []int](),
		),
	}
}

// Start runs the expiry loops until Stop is called.
func (ix *Index) Start() {
	go ix.rooms.Start()
	go ix.friends.Start()
}

func (ix *Index) Stop() {
	ix.rooms.Stop()
	ix.friends.Stop()
}

// RoomsFor returns the user's own room plus a room for every server the
// user belongs to.
func (ix *Index) RoomsFor(ctx context.Context, userId int) ([]RoomID, error) {
	if item := ix.rooms.Get(userId); item != nil {
		return slices.Clone(item.Value()), nil
	}

	serverIds, err := ix.store.ListServerIds(ctx, userId)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}

	rooms := make([]RoomID, 0, len(serverIds)+1)
	rooms = append(rooms, UserRoom(userId))
	for _, id := range serverIds {
		rooms = append(rooms, ServerRoom(id))
	}

	ix.rooms.Set(userId, rooms, ttlcache.DefaultTTL)
	return slices.Clone(rooms), nil
}

// ServerRoomsFor is RoomsFor without the user's own room.
func (ix *Index) ServerRoomsFor(ctx context.Context, userId int) ([]RoomID, error) {
	rooms, err := ix.RoomsFor(ctx, userId)
	if err != nil {
		return nil, err
	}

	return slices.DeleteFunc(rooms, func(r RoomID) bool {
		return r.Kind() != KindServer
	}), nil
}

// IsEntitled checks the store on every call.
func (ix *Index) IsEntitled(ctx context.Context, userId int, room RoomID) (bool, error) {
	kind, id, err := ParseRoomID(room)
	if err != nil {
		return false, err
	}

	switch kind {
	case KindUser:
		return id == userId, nil
	case KindServer:
		return ix.store.IsServerMember(ctx, userId, id)
	case KindChannel:
		return ix.store.IsChannelMember(ctx, userId, id)
	}

	return false, nil
}

func (ix *Index) AreFriends(ctx context.Context, a, b int) (bool, error) {
	if a == b {
		return false, nil
	}
	return ix.store.FriendshipExists(ctx, a, b)
}

func (ix *Index) FriendsOf(ctx context.Context, userId int) ([]int, error) {
	if item := ix.friends.Get(userId); item != nil {
		return slices.Clone(item.Value()), nil
	}

	ids, err := ix.store.ListFriendIds(ctx, userId)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}

	ix.friends.Set(userId, ids, ttlcache.DefaultTTL)
	return slices.Clone(ids), nil
}

// Invalidate drops cached sets for the given users, e.g. after a friendship
// or server membership change.
func (ix *Index) Invalidate(userIds ...int) {
	for _, id := range userIds {
		ix.rooms.Delete(id)
		ix.friends.Delete(id)
	}
}
