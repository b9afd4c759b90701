package client

import (
	"context"
	"testing"
	"time"

	"mls_chat/internal/model"
	"mls_chat/internal/utils/testutil"

	"github.com/stretchr/testify/require"
)

func TestClientRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewClientRepo(testutil.MongoDatabase(t))
	require.NoError(t, repo.EnsureIndexes(ctx))

	alice := model.QualifiedID{ID: "alice", Domain: "example.com"}
	for _, id := range []string{"c1", "c2"} {
		_, err := repo.Create(ctx, &model.RegisteredClient{
			Handle:    model.NewMemberHandle(alice.ID, id, alice.Domain),
			User:      alice,
			ClientID:  id,
			CreatedAt: time.Now(),
		})
		require.NoError(t, err)
	}

	clients, err := repo.ListByUser(ctx, alice)
	require.NoError(t, err)
	require.Len(t, clients, 2)

	handle := model.NewMemberHandle("alice", "c1", "example.com")
	c, err := repo.GetByHandle(ctx, handle)
	require.NoError(t, err)
	require.Equal(t, "c1", c.ClientID)

	require.NoError(t, repo.Delete(ctx, handle))
	c, err = repo.GetByHandle(ctx, handle)
	require.NoError(t, err)
	require.Nil(t, c)
}
