package redis

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"mls_chat/internal/model"
	"mls_chat/internal/protocol/engine"

	"github.com/redis/go-redis/v9"
)

// EngineStore keeps the group engine state of one local client in redis.
// Nothing expires: losing group state means losing the group.
type EngineStore struct {
	redisService *RedisService
	prefix       string
}

var _ engine.StateStore = (*EngineStore)(nil)

func NewEngineStore(redisService *RedisService, self model.MemberHandle) *EngineStore {
	return &EngineStore{
		redisService: redisService,
		prefix:       fmt.Sprintf("mls:%s", self),
	}
}

func (s *EngineStore) identityKey() string {
	return s.prefix + ":identity"
}

func (s *EngineStore) groupKey(id model.GroupID) string {
	return fmt.Sprintf("%s:group:%s", s.prefix, id)
}

func (s *EngineStore) keyPackagesKey() string {
	return s.prefix + ":keypackages"
}

func (s *EngineStore) LoadIdentity(ctx context.Context) (*engine.Identity, error) {
	var id engine.Identity
	ok, err := s.getJSON(ctx, s.identityKey(), &id)
	if !ok || err != nil {
		return nil, err
	}
	return &id, nil
}

func (s *EngineStore) SaveIdentity(ctx context.Context, id *engine.Identity) error {
	return s.setJSON(ctx, s.identityKey(), id)
}

func (s *EngineStore) LoadGroup(ctx context.Context, id model.GroupID) (*engine.GroupState, error) {
	var state engine.GroupState
	ok, err := s.getJSON(ctx, s.groupKey(id), &state)
	if !ok || err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *EngineStore) SaveGroup(ctx context.Context, state *engine.GroupState) error {
	return s.setJSON(ctx, s.groupKey(state.ID), state)
}

func (s *EngineStore) DeleteGroup(ctx context.Context, id model.GroupID) error {
	return s.redisService.Del(ctx, s.groupKey(id))
}

func (s *EngineStore) SaveKeyPackageSecret(ctx context.Context, ref []byte, secret *engine.KeyPackageSecret) error {
	data, err := json.Marshal(secret)
	if err != nil {
		return err
	}
	return s.redisService.HSet(ctx, s.keyPackagesKey(), hex.EncodeToString(ref), data)
}

func (s *EngineStore) LoadKeyPackageSecret(ctx context.Context, ref []byte) (*engine.KeyPackageSecret, error) {
	v, err := s.redisService.HGet(ctx, s.keyPackagesKey(), hex.EncodeToString(ref))
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var secret engine.KeyPackageSecret
	if err := json.Unmarshal([]byte(v), &secret); err != nil {
		return nil, err
	}
	return &secret, nil
}

func (s *EngineStore) DeleteKeyPackageSecret(ctx context.Context, ref []byte) error {
	return s.redisService.HDel(ctx, s.keyPackagesKey(), hex.EncodeToString(ref))
}

func (s *EngineStore) CountKeyPackageSecrets(ctx context.Context) (int, error) {
	n, err := s.redisService.HLen(ctx, s.keyPackagesKey())
	return int(n), err
}

func (s *EngineStore) getJSON(ctx context.Context, key string, v any) (bool, error) {
	data, err := s.redisService.Get(ctx, key)
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *EngineStore) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.redisService.Set(ctx, key, data, 0)
}
