package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis"
	"github.com/npezzotti/go-chatserver/internal/config"
	"github.com/npezzotti/go-chatserver/internal/types"
)

const (
	userStatusPattern = "USER_STATUS_%d"
	onlineUsersKey    = "ONLINE_USERS"

	defaultStatusTTL = 24 * time.Hour
)

// NewRedisClient connects to redis and checks the connection.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.WithContext(ctx).Ping().Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return client, nil
}

var _ Reader = (*RedisStore)(nil)

// RedisStore mirrors user status into redis so other processes can read it
// without touching the database.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultStatusTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func statusKey(userId int) string {
	return fmt.Sprintf(userStatusPattern, userId)
}

func (s *RedisStore) SetStatus(ctx context.Context, userId int, status types.PresenceStatus) error {
	pipe := s.client.WithContext(ctx).TxPipeline()
	pipe.Set(statusKey(userId), string(status), s.ttl)
	if status == types.StatusOffline {
		pipe.SRem(onlineUsersKey, userId)
	} else {
		pipe.SAdd(onlineUsersKey, userId)
	}

	if _, err := pipe.Exec(); err != nil {
		return fmt.Errorf("redis set status: %w", err)
	}
	return nil
}

// LastStatus returns offline for users with no recorded status.
func (s *RedisStore) LastStatus(ctx context.Context, userId int) (types.PresenceStatus, error) {
	val, err := s.client.WithContext(ctx).Get(statusKey(userId)).Result()
	if err == redis.Nil {
		return types.StatusOffline, nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get status: %w", err)
	}

	status := types.PresenceStatus(val)
	if !status.Valid() {
		return types.StatusOffline, nil
	}
	return status, nil
}

func (s *RedisStore) OnlineUsers(ctx context.Context) ([]int, error) {
	members, err := s.client.WithContext(ctx).SMembers(onlineUsersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis online users: %w", err)
	}

	ids := make([]int, 0, len(members))
	for _, m := range members {
		id, err := strconv.Atoi(m)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Reset marks every user left in the online set as offline and clears the
// set. It runs at startup, before any session exists, to drop what a
// crashed process left behind.
func (s *RedisStore) Reset(ctx context.Context) error {
	ids, err := s.OnlineUsers(ctx)
	if err != nil {
		return err
	}

	pipe := s.client.WithContext(ctx).TxPipeline()
	for _, id := range ids {
		pipe.Set(statusKey(id), string(types.StatusOffline), s.ttl)
	}
	pipe.Del(onlineUsersKey)

	if _, err := pipe.Exec(); err != nil {
		return fmt.Errorf("redis reset: %w", err)
	}
	return nil
}
