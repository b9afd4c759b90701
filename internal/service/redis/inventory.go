package redis

import (
	"context"
	"fmt"
	"time"

	"mls_chat/internal/model"

	"github.com/redis/go-redis/v9"
)

// InventoryStore remembers when the key package inventory of a client was
// last checked against the backend.
type InventoryStore struct {
	redisService *RedisService
	key          string
}

func NewInventoryStore(redisService *RedisService, self model.MemberHandle) *InventoryStore {
	return &InventoryStore{
		redisService: redisService,
		key:          fmt.Sprintf("keypackages:last-checked:%s", self),
	}
}

// LastChecked returns the zero time when the inventory was never checked.
func (s *InventoryStore) LastChecked(ctx context.Context) (time.Time, error) {
	v, err := s.redisService.Get(ctx, s.key)
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode %s: %w", s.key, err)
	}
	return t, nil
}

func (s *InventoryStore) SetLastChecked(ctx context.Context, t time.Time) error {
	return s.redisService.Set(ctx, s.key, t.UTC().Format(time.RFC3339Nano), 0)
}
