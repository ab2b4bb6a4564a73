package database

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockGoChatRepository struct {
	mock.Mock
}

func (m *MockGoChatRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockGoChatRepository) GetAccountById(ctx context.Context, accountId int) (User, error) {
	args := m.Called(ctx, accountId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockGoChatRepository) GetAccountByEmail(ctx context.Context, email string) (User, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockGoChatRepository) UpdateUserStatus(ctx context.Context, accountId int, status string) error {
	args := m.Called(ctx, accountId, status)
	return args.Error(0)
}
func (m *MockGoChatRepository) ListServerIds(ctx context.Context, accountId int) ([]int, error) {
	args := m.Called(ctx, accountId)
	if ids, ok := args.Get(0).([]int); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockGoChatRepository) IsServerMember(ctx context.Context, accountId, serverId int) (bool, error) {
	args := m.Called(ctx, accountId, serverId)
	return args.Bool(0), args.Error(1)
}
func (m *MockGoChatRepository) IsChannelMember(ctx context.Context, accountId, channelId int) (bool, error) {
	args := m.Called(ctx, accountId, channelId)
	return args.Bool(0), args.Error(1)
}
func (m *MockGoChatRepository) ListFriendIds(ctx context.Context, accountId int) ([]int, error) {
	args := m.Called(ctx, accountId)
	if ids, ok := args.Get(0).([]int); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockGoChatRepository) FriendshipExists(ctx context.Context, a, b int) (bool, error) {
	args := m.Called(ctx, a, b)
	return args.Bool(0), args.Error(1)
}
func (m *MockGoChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockGoChatRepository) CreateDirectMessage(ctx context.Context, params CreateDirectMessageParams) (DirectMessage, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(DirectMessage), args.Error(1)
}
func (m *MockGoChatRepository) MessageInChannel(ctx context.Context, messageId, channelId int) (bool, error) {
	args := m.Called(ctx, messageId, channelId)
	return args.Bool(0), args.Error(1)
}
func (m *MockGoChatRepository) DirectMessageInConversation(ctx context.Context, messageId int, conversationId string) (bool, error) {
	args := m.Called(ctx, messageId, conversationId)
	return args.Bool(0), args.Error(1)
}
func (m *MockGoChatRepository) GetMessagePreview(ctx context.Context, messageId int) (MessagePreview, error) {
	args := m.Called(ctx, messageId)
	return args.Get(0).(MessagePreview), args.Error(1)
}
func (m *MockGoChatRepository) GetDirectMessagePreview(ctx context.Context, messageId int) (MessagePreview, error) {
	args := m.Called(ctx, messageId)
	return args.Get(0).(MessagePreview), args.Error(1)
}
