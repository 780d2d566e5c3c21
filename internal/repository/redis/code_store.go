package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"verification-service/internal/client"
)

// ErrCodeNotFound means the key is absent: never issued, already consumed or expired.
var ErrCodeNotFound = errors.New("code not found")

// Entry is one key of an atomic batch write.
type Entry struct {
	Key   string
	Value string
	TTL   time.Duration
}

// CodeStore is the expiring key-value contract the verification flows rely on.
type CodeStore interface {
	PutWithExpiry(ctx context.Context, key, value string, ttl time.Duration) error
	PutIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	GetAndConsume(ctx context.Context, key string) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	PutBatch(ctx context.Context, entries ...Entry) error
}

// RedisCodeStore implements CodeStore on plain Redis strings with SETEX expiry.
type RedisCodeStore struct {
	client *client.RedisClient
	logger *zap.Logger
}

func NewRedisCodeStore(client *client.RedisClient, logger *zap.Logger) *RedisCodeStore {
	return &RedisCodeStore{client: client, logger: logger}
}

func (s *RedisCodeStore) PutWithExpiry(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.SetEX(ctx, key, value, ttl); err != nil {
		s.logger.Error("Failed to store code", zap.String("key", key), zap.Duration("ttl", ttl), zap.Error(err))
		return fmt.Errorf("failed to store code: %w", err)
	}
	return nil
}

// PutIfAbsent is SET NX EX: only one concurrent caller gets true for a key.
func (s *RedisCodeStore) PutIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl)
	if err != nil {
		s.logger.Error("Failed to claim key", zap.String("key", key), zap.Duration("ttl", ttl), zap.Error(err))
		return false, fmt.Errorf("failed to claim key: %w", err)
	}
	return ok, nil
}

func (s *RedisCodeStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...); err != nil {
		s.logger.Error("Failed to delete keys", zap.Strings("keys", keys), zap.Error(err))
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}

// GetAndConsume returns the value and deletes the key. The delete is best
// effort: a failure is logged and the value is still returned.
func (s *RedisCodeStore) GetAndConsume(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return "", ErrCodeNotFound
		}
		s.logger.Error("Failed to read code", zap.String("key", key), zap.Error(err))
		return "", fmt.Errorf("failed to read code: %w", err)
	}

	if err := s.client.Del(ctx, key); err != nil {
		s.logger.Error("Failed to delete consumed code", zap.String("key", key), zap.Error(err))
	}

	return value, nil
}

func (s *RedisCodeStore) Exists(ctx context.Context, key string) (bool, error) {
	exists, err := s.client.Exists(ctx, key)
	if err != nil {
		s.logger.Error("Failed to check key", zap.String("key", key), zap.Error(err))
		return false, fmt.Errorf("failed to check key: %w", err)
	}
	return exists, nil
}

func (s *RedisCodeStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.TTL(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("failed to get ttl: %w", err)
	}
	return ttl, nil
}

// PutBatch writes every entry inside one MULTI/EXEC so either all keys land or none do.
func (s *RedisCodeStore) PutBatch(ctx context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	for _, e := range entries {
		pipe.SetEx(ctx, e.Key, e.Value, e.TTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error("Failed to execute batch write",
			zap.Int("count", len(entries)),
			zap.Error(err))
		return fmt.Errorf("failed to execute batch write: %w", err)
	}

	s.logger.Debug("Batch write committed", zap.Int("count", len(entries)))
	return nil
}

var _ CodeStore = (*RedisCodeStore)(nil)
