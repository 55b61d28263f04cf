package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore persists session documents in Redis, for deployments where
// the orchestrator runs replicated and local disk is not shared.
type RedisStore struct {
	client  *redis.Client
	ttl     time.Duration
	timeout time.Duration
}

// NewRedisStore creates a Redis-backed session store.
// A zero ttl keeps sessions until explicitly cleared.
func NewRedisStore(url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return &RedisStore{
		client:  redis.NewClient(opts),
		ttl:     ttl,
		timeout: 5 * time.Second,
	}, nil
}

func sessionKey(user, sessionID string) string {
	return fmt.Sprintf("concord:sessions:%s:%s", user, sessionID)
}

// Save writes the session document. Redis SET is atomic, matching the
// temp-and-rename discipline of the file store.
func (s *RedisStore) Save(user, sessionID string, doc *Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", sessionID, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.client.Set(ctx, sessionKey(user, sessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("storing session %s: %w", sessionID, err)
	}
	return nil
}

// Load reads a session document; (nil, nil) when none was persisted
func (s *RedisStore) Load(user, sessionID string) (*Document, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	data, err := s.client.Get(ctx, sessionKey(user, sessionID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", sessionID, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", sessionID, err)
	}
	return &doc, nil
}

// Close releases the underlying client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
