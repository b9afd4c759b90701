package server

import (
	"context"
	"encoding/base64"
	"fmt"

	"mls_chat/internal/cryptographic/signature"
	"mls_chat/internal/service/redis"
	"mls_chat/internal/utils/log"

	"go.uber.org/zap"
)

const backendKeyKey = "delivery:backend:removal-key"

// LoadOrCreateBackendKey returns the ed25519 key the service signs external
// proposals with. The first instance to start creates it; groups keep
// trusting it across restarts.
func LoadOrCreateBackendKey(ctx context.Context, redisSvc *redis.RedisService) ([]byte, error) {
	_, priv, err := signature.NewEd25519Keypair()
	if err != nil {
		return nil, err
	}
	created, err := redisSvc.SetNX(ctx, backendKeyKey, base64.StdEncoding.EncodeToString(priv), 0)
	if err != nil {
		return nil, err
	}
	if created {
		log.Info("created backend removal key")
		return priv, nil
	}

	v, err := redisSvc.Get(ctx, backendKeyKey)
	if err != nil {
		return nil, err
	}
	key, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("decode backend key: %w", err)
	}
	if _, err := signature.PublicKey(key); err != nil {
		return nil, fmt.Errorf("backend key: %w", err)
	}
	log.Debug("loaded backend removal key", zap.Int("size", len(key)))
	return key, nil
}
