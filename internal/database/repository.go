package database

import "context"

type GoChatRepository interface {
	Ping(ctx context.Context) error
	GetAccountById(ctx context.Context, accountId int) (User, error)
	GetAccountByEmail(ctx context.Context, email string) (User, error)
	UpdateUserStatus(ctx context.Context, accountId int, status string) error
	ListServerIds(ctx context.Context, accountId int) ([]int, error)
	IsServerMember(ctx context.Context, accountId, serverId int) (bool, error)
	IsChannelMember(ctx context.Context, accountId, channelId int) (bool, error)
	ListFriendIds(ctx context.Context, accountId int) ([]int, error)
	FriendshipExists(ctx context.Context, a, b int) (bool, error)
	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	CreateDirectMessage(ctx context.Context, params CreateDirectMessageParams) (DirectMessage, error)
	MessageInChannel(ctx context.Context, messageId, channelId int) (bool, error)
	DirectMessageInConversation(ctx context.Context, messageId int, conversationId string) (bool, error)
	GetMessagePreview(ctx context.Context, messageId int) (MessagePreview, error)
	GetDirectMessagePreview(ctx context.Context, messageId int) (MessagePreview, error)
}
