package membership

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/npezzotti/go-chatserver/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestParseRoomID(t *testing.T) {
	tcases := []struct {
		room RoomID
		kind RoomKind
		id   int
		err  bool
	}{
		{room: ServerRoom(3), kind: KindServer, id: 3},
		{room: ChannelRoom(12), kind: KindChannel, id: 12},
		{room: UserRoom(1), kind: KindUser, id: 1},
		{room: "channel", err: true},
		{room: "guild:1", err: true},
		{room: "channel:abc", err: true},
		{room: "channel:0", err: true},
		{room: "channel:-4", err: true},
	}

	for _, tc := range tcases {
		t.Run(string(tc.room), func(t *testing.T) {
			kind, id, err := ParseRoomID(tc.room)
			if tc.err {
				assert.Error(t, err)
				assert.Equal(t, RoomKind(""), tc.room.Kind())
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.kind, kind)
			assert.Equal(t, tc.id, id)
		})
	}
}

func TestRoomsFor(t *testing.T) {
	db := &database.MockGoChatRepository{}
	defer db.AssertExpectations(t)
	db.On("ListServerIds", mock.Anything, 1).Return([]int{10, 20}, nil).Once()

	ix := NewIndex(db, time.Minute)

	rooms, err := ix.RoomsFor(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []RoomID{"user:1", "server:10", "server:20"}, rooms)

	// second call is served from the cache
	rooms[0] = "mutated"
	rooms, err = ix.RoomsFor(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []RoomID{"user:1", "server:10", "server:20"}, rooms, "cached value must not alias caller slices")

	servers, err := ix.ServerRoomsFor(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []RoomID{"server:10", "server:20"}, servers)
}

func TestRoomsFor_Invalidate(t *testing.T) {
	db := &database.MockGoChatRepository{}
	defer db.AssertExpectations(t)
	db.On("ListServerIds", mock.Anything, 1).Return([]int{10}, nil).Once()
	db.On("ListServerIds", mock.Anything, 1).Return([]int{10, 11}, nil).Once()

	ix := NewIndex(db, time.Minute)

	_, err := ix.RoomsFor(context.Background(), 1)
	require.NoError(t, err)

	ix.Invalidate(1)

	rooms, err := ix.RoomsFor(context.Background(), 1)
	require.NoError(t, err)
	assert.Contains(t, rooms, ServerRoom(11))
}

func TestRoomsFor_StoreError(t *testing.T) {
	db := &database.MockGoChatRepository{}
	defer db.AssertExpectations(t)
	db.On("ListServerIds", mock.Anything, 1).Return(nil, errors.New("db down"))

	_, err := NewIndex(db, time.Minute).RoomsFor(context.Background(), 1)
	assert.Error(t, err)
}

func TestIsEntitled(t *testing.T) {
	db := &database.MockGoChatRepository{}
	defer db.AssertExpectations(t)
	db.On("IsServerMember", mock.Anything, 1, 10).Return(true, nil)
	db.On("IsChannelMember", mock.Anything, 1, 5).Return(false, nil)

	ix := NewIndex(db, time.Minute)
	ctx := context.Background()

	ok, err := ix.IsEntitled(ctx, 1, UserRoom(1))
	assert.NoError(t, err)
	assert.True(t, ok, "user is entitled to own room")

	ok, err = ix.IsEntitled(ctx, 1, UserRoom(2))
	assert.NoError(t, err)
	assert.False(t, ok, "user is not entitled to another user's room")

	ok, err = ix.IsEntitled(ctx, 1, ServerRoom(10))
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = ix.IsEntitled(ctx, 1, ChannelRoom(5))
	assert.NoError(t, err)
	assert.False(t, ok)

	_, err = ix.IsEntitled(ctx, 1, "bogus")
	assert.Error(t, err)
}

func TestIsEntitled_NotCached(t *testing.T) {
	db := &database.MockGoChatRepository{}
	defer db.AssertExpectations(t)
	db.On("IsChannelMember", mock.Anything, 1, 5).Return(true, nil).Once()
	db.On("IsChannelMember", mock.Anything, 1, 5).Return(false, nil).Once()

	ix := NewIndex(db, time.Minute)

	ok, _ := ix.IsEntitled(context.Background(), 1, ChannelRoom(5))
	assert.True(t, ok)

	ok, _ = ix.IsEntitled(context.Background(), 1, ChannelRoom(5))
	assert.False(t, ok, "revoked entitlement must be observed on the next check")
}

func TestFriends(t *testing.T) {
	db := &database.MockGoChatRepository{}
	defer db.AssertExpectations(t)
	db.On("ListFriendIds", mock.Anything, 1).Return([]int{2, 3}, nil).Once()
	db.On("FriendshipExists", mock.Anything, 1, 2).Return(true, nil)

	ix := NewIndex(db, time.Minute)

	for i := 0; i < 2; i++ {
		friends, err := ix.FriendsOf(context.Background(), 1)
		assert.NoError(t, err)
		assert.Equal(t, []int{2, 3}, friends)
	}

	ok, err := ix.AreFriends(context.Background(), 1, 2)
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = ix.AreFriends(context.Background(), 1, 1)
	assert.NoError(t, err)
	assert.False(t, ok, "a user is never their own friend")
}
