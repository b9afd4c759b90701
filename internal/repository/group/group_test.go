package group

import (
	"context"
	"testing"
	"time"

	"mls_chat/internal/model"
	"mls_chat/internal/service/mls"
	"mls_chat/internal/utils/testutil"

	"github.com/stretchr/testify/require"
)

var _ mls.GroupStore = (*GroupRepo)(nil)

func newRepo(t *testing.T) *GroupRepo {
	repo := NewGroupRepo(testutil.MongoDatabase(t))
	require.NoError(t, repo.EnsureIndexes(context.Background()))
	return repo
}

func TestGroupRepo_CommitBy(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	id := model.GroupID("g1")
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, repo.CreateGroup(ctx, &model.GroupRecord{GroupID: id, CreatedAt: now}))

	set, err := repo.SetCommitByIfAbsent(ctx, id, now.Add(5*time.Second))
	require.NoError(t, err)
	require.True(t, set)

	set, err = repo.SetCommitByIfAbsent(ctx, id, now.Add(time.Second))
	require.NoError(t, err)
	require.False(t, set)

	due, err := repo.GroupsWithCommitBy(ctx)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.True(t, due[0].GroupID.Equal(id))
	require.True(t, due[0].CommitBy.Equal(now.Add(5*time.Second)))

	require.NoError(t, repo.ClearCommitBy(ctx, id))
	due, err = repo.GroupsWithCommitBy(ctx)
	require.NoError(t, err)
	require.Empty(t, due)

	set, err = repo.SetCommitByIfAbsent(ctx, id, now.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, set)
}

func TestGroupRepo_UnknownGroupIsCreated(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	id := model.GroupID("g2")
	now := time.Now().UTC().Truncate(time.Millisecond)

	set, err := repo.SetCommitByIfAbsent(ctx, id, now)
	require.NoError(t, err)
	require.True(t, set)

	require.NoError(t, repo.SetKeyMaterialUpdatedAt(ctx, id, now))
	rec, err := repo.GetGroup(ctx, id)
	require.NoError(t, err)
	require.True(t, rec.KeyMaterialUpdatedAt.Equal(now))

	require.NoError(t, repo.DeleteGroup(ctx, id))
	rec, err = repo.GetGroup(ctx, id)
	require.NoError(t, err)
	require.Nil(t, rec)

	groups, err := repo.ListGroups(ctx)
	require.NoError(t, err)
	require.Empty(t, groups)
}
