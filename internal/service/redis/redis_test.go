package redis

import (
	"context"
	"testing"
	"time"

	"mls_chat/internal/model"
	"mls_chat/internal/protocol/engine"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *RedisService {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedis(rdb)
}

func TestRedisService_Drain(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	require.NoError(t, svc.RPush(ctx, "queue", "a", "b"))
	vals, err := svc.Drain(ctx, "queue")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, vals)

	n, err := svc.LLen(ctx, "queue")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestEngineStore_GroupState(t *testing.T) {
	ctx := context.Background()
	self := model.NewMemberHandle("alice", "c1", "example.com")
	store := NewEngineStore(newTestService(t), self)
	id := model.GroupID("group")

	state, err := store.LoadGroup(ctx, id)
	require.NoError(t, err)
	require.Nil(t, state)

	require.NoError(t, store.SaveGroup(ctx, &engine.GroupState{
		ID:      id,
		Epoch:   3,
		Members: []engine.Member{{Client: self, LeafKey: []byte("leaf")}},
	}))

	state, err = store.LoadGroup(ctx, id)
	require.NoError(t, err)
	require.Equal(t, uint64(3), state.Epoch)
	require.Len(t, state.Members, 1)
	require.True(t, state.Members[0].Client.Equal(self))

	require.NoError(t, store.DeleteGroup(ctx, id))
	state, err = store.LoadGroup(ctx, id)
	require.NoError(t, err)
	require.Nil(t, state)
}

func TestEngineStore_KeyPackageSecrets(t *testing.T) {
	ctx := context.Background()
	store := NewEngineStore(newTestService(t), model.NewMemberHandle("alice", "c1", "example.com"))

	require.NoError(t, store.SaveKeyPackageSecret(ctx, []byte{1}, &engine.KeyPackageSecret{InitPriv: []byte("one")}))
	require.NoError(t, store.SaveKeyPackageSecret(ctx, []byte{2}, &engine.KeyPackageSecret{InitPriv: []byte("two")}))

	n, err := store.CountKeyPackageSecrets(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	secret, err := store.LoadKeyPackageSecret(ctx, []byte{2})
	require.NoError(t, err)
	require.Equal(t, []byte("two"), secret.InitPriv)

	require.NoError(t, store.DeleteKeyPackageSecret(ctx, []byte{2}))
	secret, err = store.LoadKeyPackageSecret(ctx, []byte{2})
	require.NoError(t, err)
	require.Nil(t, secret)
}

func TestEngineStore_ClientsAreIsolated(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	alice := NewEngineStore(svc, model.NewMemberHandle("alice", "c1", "example.com"))
	bob := NewEngineStore(svc, model.NewMemberHandle("bob", "c1", "example.com"))

	require.NoError(t, alice.SaveIdentity(ctx, &engine.Identity{SignaturePub: []byte("alice")}))

	id, err := bob.LoadIdentity(ctx)
	require.NoError(t, err)
	require.Nil(t, id)

	id, err = alice.LoadIdentity(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("alice"), id.SignaturePub)
}

func TestInventoryStore_LastChecked(t *testing.T) {
	ctx := context.Background()
	store := NewInventoryStore(newTestService(t), model.NewMemberHandle("alice", "c1", "example.com"))

	last, err := store.LastChecked(ctx)
	require.NoError(t, err)
	require.True(t, last.IsZero())

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.SetLastChecked(ctx, now))
	last, err = store.LastChecked(ctx)
	require.NoError(t, err)
	require.True(t, now.Equal(last))
}
