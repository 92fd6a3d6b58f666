package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the live roster in Redis. Each collaborator is a key
// with its own TTL so entries vanish when heartbeats stop; a per-document
// set indexes the members. Every change publishes the full roster on the
// document's channel.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisStore{
		client: client,
		prefix: "presence:",
		ttl:    ttl,
	}
}

func (s *RedisStore) membersKey(documentID string) string {
	return s.prefix + documentID + ":members"
}

func (s *RedisStore) memberKey(documentID, userID string) string {
	return s.prefix + documentID + ":user:" + userID
}

func (s *RedisStore) channel(documentID string) string {
	return s.prefix + documentID + ":events"
}

// Touch records a heartbeat for collaborator and publishes the roster.
func (s *RedisStore) Touch(ctx context.Context, documentID string, collaborator Collaborator) error {
	if !collaborator.Status.Valid() {
		return fmt.Errorf("invalid presence status %q", collaborator.Status)
	}
	payload, err := json.Marshal(collaborator)
	if err != nil {
		return fmt.Errorf("marshal collaborator: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.memberKey(documentID, collaborator.UserID), payload, s.ttl)
	pipe.SAdd(ctx, s.membersKey(documentID), collaborator.UserID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("touch presence: %w", err)
	}
	return s.publish(ctx, documentID)
}

// Leave removes userID from the roster and publishes the result.
func (s *RedisStore) Leave(ctx context.Context, documentID, userID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.memberKey(documentID, userID))
	pipe.SRem(ctx, s.membersKey(documentID), userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("leave presence: %w", err)
	}
	return s.publish(ctx, documentID)
}

// Roster returns every collaborator whose heartbeat has not expired.
// Expired members are pruned from the index as a side effect.
func (s *RedisStore) Roster(ctx context.Context, documentID string) ([]Collaborator, error) {
	members, err := s.client.SMembers(ctx, s.membersKey(documentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list presence members: %w", err)
	}
	roster := make([]Collaborator, 0, len(members))
	if len(members) == 0 {
		return roster, nil
	}

	keys := make([]string, len(members))
	for i, userID := range members {
		keys[i] = s.memberKey(documentID, userID)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load presence members: %w", err)
	}

	var expired []any
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			expired = append(expired, members[i])
			continue
		}
		var collaborator Collaborator
		if err := json.Unmarshal([]byte(raw), &collaborator); err != nil {
			return nil, fmt.Errorf("decode collaborator %s: %w", members[i], err)
		}
		roster = append(roster, collaborator)
	}
	if len(expired) > 0 {
		if err := s.client.SRem(ctx, s.membersKey(documentID), expired...).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("prune presence members: %w", err)
		}
	}

	sortRoster(roster)
	return roster, nil
}

func (s *RedisStore) publish(ctx context.Context, documentID string) error {
	roster, err := s.Roster(ctx, documentID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(roster)
	if err != nil {
		return fmt.Errorf("marshal roster: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel(documentID), payload).Err(); err != nil {
		return fmt.Errorf("publish roster: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
