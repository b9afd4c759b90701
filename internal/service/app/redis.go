package app

import (
	"context"
	"fmt"

	"mls_chat/internal/model"
	"mls_chat/internal/service/redis"
)

func activeGroupKey(self model.MemberHandle) string {
	return fmt.Sprintf("app:%s:active-group", self)
}

// SaveActiveGroup remembers the conversation to reopen on the next start.
func (c *App) SaveActiveGroup(ctx context.Context, id model.GroupID) error {
	return c.redisService.Set(ctx, activeGroupKey(c.self), id.String(), 0)
}

func (c *App) LoadActiveGroup(ctx context.Context) (model.GroupID, error) {
	v, err := c.redisService.Get(ctx, activeGroupKey(c.self))
	if redis.IsNil(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return model.ParseGroupID(v)
}

func (c *App) ClearActiveGroup(ctx context.Context) error {
	return c.redisService.Del(ctx, activeGroupKey(c.self))
}

func clientIDKey(user model.QualifiedID) string {
	return fmt.Sprintf("app:%s:client-id", user)
}

// LoadClientID returns the client ID the delivery service assigned on an
// earlier start, or "" if there was none.
func LoadClientID(ctx context.Context, redisService *redis.RedisService, user model.QualifiedID) (string, error) {
	v, err := redisService.Get(ctx, clientIDKey(user))
	if redis.IsNil(err) {
		return "", nil
	}
	return v, err
}

func SaveClientID(ctx context.Context, redisService *redis.RedisService, handle model.MemberHandle) error {
	return redisService.Set(ctx, clientIDKey(handle.User()), handle.ClientID(), 0)
}
