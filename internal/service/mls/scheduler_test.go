package mls

import (
	"context"
	"errors"
	"testing"
	"time"

	"mls_chat/internal/model"
	mlsmock "mls_chat/internal/service/mls/mock"
	"mls_chat/internal/utils/keylock"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var pendingProposals = mock.MatchedBy(func(i model.Intent) bool {
	return i.Kind == model.IntentCommitPendingProposals
})

type schedulerFixture struct {
	engine    *mlsmock.GroupEngine
	gateway   *mlsmock.DeliveryGateway
	store     *memGroupStore
	clock     *fixedClock
	scheduler *Scheduler
}

func newSchedulerFixture(t *testing.T) *schedulerFixture {
	f := &schedulerFixture{
		engine:  mlsmock.NewGroupEngine(t),
		gateway: mlsmock.NewDeliveryGateway(t),
		store:   newMemGroupStore(),
		clock:   &fixedClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
	}
	executor := NewExecutor(f.engine, f.gateway, keylock.New(), nil, nil)
	f.scheduler = NewScheduler(f.store, executor, 4, f.clock.Now)
	t.Cleanup(f.scheduler.Stop)
	return f
}

func TestScheduler_FirstProposalWins(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()
	id := model.GroupID("g1")
	now := f.clock.Now()

	require.NoError(t, f.scheduler.RecordProposal(ctx, id, now, 5*time.Second))
	require.NoError(t, f.scheduler.RecordProposal(ctx, id, now.Add(time.Second), 2*time.Second))
	require.NoError(t, f.scheduler.RecordProposal(ctx, id, now.Add(2*time.Second), 10*time.Second))

	rec := f.store.get(id)
	require.NotNil(t, rec.CommitBy)
	require.True(t, rec.CommitBy.Equal(now.Add(5*time.Second)))

	at, ok := f.scheduler.Scheduled(id)
	require.True(t, ok)
	require.True(t, at.Equal(now.Add(5*time.Second)))
}

// TestScheduler_OverdueCommitRunsImmediately covers catch-up after a restart:
// a commit-by time in the past is committed right away and cleared.
func TestScheduler_OverdueCommitRunsImmediately(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()
	id := model.GroupID("g1")
	past := f.clock.Now().Add(-5 * time.Second)
	_, err := f.store.SetCommitByIfAbsent(ctx, id, past)
	require.NoError(t, err)

	bundle := &model.CommitBundle{Commit: []byte("commit")}
	f.engine.On("GenerateCommit", mock.Anything, id, pendingProposals).Return(bundle, nil).Once()
	f.gateway.On("SendMessage", mock.Anything, bundle.Commit).Return(nil, nil).Once()
	f.engine.On("MergeCommit", mock.Anything, id).Return(nil).Once()

	require.NoError(t, f.scheduler.RunDueCommits(ctx))

	require.Nil(t, f.store.get(id).CommitBy)
	_, ok := f.scheduler.Scheduled(id)
	require.False(t, ok)
}

func TestScheduler_FutureCommitIsScheduled(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()
	id := model.GroupID("g1")
	future := f.clock.Now().Add(time.Minute)
	_, err := f.store.SetCommitByIfAbsent(ctx, id, future)
	require.NoError(t, err)

	require.NoError(t, f.scheduler.RunDueCommits(ctx))

	at, ok := f.scheduler.Scheduled(id)
	require.True(t, ok)
	require.True(t, at.Equal(future))
	require.NotNil(t, f.store.get(id).CommitBy)
	f.engine.AssertNotCalled(t, "GenerateCommit", mock.Anything, mock.Anything, mock.Anything)
}

// TestScheduler_FailureDoesNotStopOtherGroups checks that one failing group
// is reported while the others are still committed.
func TestScheduler_FailureDoesNotStopOtherGroups(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()
	bad, good := model.GroupID("bad"), model.GroupID("good")
	past := f.clock.Now().Add(-time.Second)
	for _, id := range []model.GroupID{bad, good} {
		_, err := f.store.SetCommitByIfAbsent(ctx, id, past)
		require.NoError(t, err)
	}

	f.engine.On("GenerateCommit", mock.Anything, bad, pendingProposals).Return(nil, errors.New("engine fault")).Once()
	f.engine.On("GenerateCommit", mock.Anything, good, pendingProposals).Return(nil, nil).Once()

	err := f.scheduler.RunDueCommits(ctx)
	require.ErrorIs(t, err, ErrCommitGeneration)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	require.Len(t, merr.Errors, 1)

	require.NotNil(t, f.store.get(bad).CommitBy)
	require.Nil(t, f.store.get(good).CommitBy)
}

func TestScheduler_Cancel(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()
	id := model.GroupID("g1")

	require.NoError(t, f.scheduler.RecordProposal(ctx, id, f.clock.Now(), time.Minute))
	_, ok := f.scheduler.Scheduled(id)
	require.True(t, ok)

	f.scheduler.Cancel(id)
	_, ok = f.scheduler.Scheduled(id)
	require.False(t, ok)

	// Cancelling twice is harmless.
	f.scheduler.Cancel(id)
}

func TestScheduler_EarliestFiresFirst(t *testing.T) {
	f := newSchedulerFixture(t)
	now := f.clock.Now()
	f.scheduler.schedule(model.GroupID("late"), now.Add(time.Hour))
	f.scheduler.schedule(model.GroupID("early"), now.Add(time.Minute))
	f.scheduler.schedule(model.GroupID("middle"), now.Add(10*time.Minute))

	require.Equal(t, "early", string(f.scheduler.queue[0].groupID))
	f.scheduler.Cancel(model.GroupID("early"))
	require.Equal(t, "middle", string(f.scheduler.queue[0].groupID))
}

// TestScheduler_DriverFiresDueCommit runs the driver with the real clock.
func TestScheduler_DriverFiresDueCommit(t *testing.T) {
	engine := mlsmock.NewGroupEngine(t)
	store := newMemGroupStore()
	executor := NewExecutor(engine, mlsmock.NewDeliveryGateway(t), keylock.New(), nil, nil)
	scheduler := NewScheduler(store, executor, 2, nil)
	t.Cleanup(scheduler.Stop)

	id := model.GroupID("g1")
	engine.On("GenerateCommit", mock.Anything, id, pendingProposals).Return(nil, nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go scheduler.Run(ctx)

	require.NoError(t, scheduler.RecordProposal(ctx, id, time.Now(), 20*time.Millisecond))
	require.Eventually(t, func() bool {
		rec := store.get(id)
		return rec != nil && rec.CommitBy == nil
	}, 2*time.Second, 10*time.Millisecond)
}

// TestScheduler_DeletedGroupIsNotCommitted deletes the group while a due
// commit waits on the group lock.
func TestScheduler_DeletedGroupIsNotCommitted(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()
	id := model.GroupID("g1")
	_, err := f.store.SetCommitByIfAbsent(ctx, id, f.clock.Now().Add(-time.Second))
	require.NoError(t, err)

	unlock, err := f.scheduler.executor.locks.Lock(ctx, id.String())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- f.scheduler.RunDueCommits(ctx) }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, f.store.DeleteGroup(ctx, id))
	unlock()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("RunDueCommits did not return")
	}
	f.engine.AssertNotCalled(t, "GenerateCommit", mock.Anything, mock.Anything, mock.Anything)
	require.Nil(t, f.store.get(id))
}

func TestScheduler_ClearedCommitByIsNotCommitted(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()
	id := model.GroupID("g1")
	require.NoError(t, f.store.CreateGroup(ctx, &model.GroupRecord{GroupID: id}))

	require.NoError(t, f.scheduler.commitDue(ctx, id))
	f.engine.AssertNotCalled(t, "GenerateCommit", mock.Anything, mock.Anything, mock.Anything)
}

// TestScheduler_RecordProposalReschedulesLeftoverCommitBy covers a
// commit-by kept after a failed commit: the next proposal brings its
// trigger back without moving the time.
func TestScheduler_RecordProposalReschedulesLeftoverCommitBy(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()
	id := model.GroupID("g1")
	past := f.clock.Now().Add(-time.Minute)
	_, err := f.store.SetCommitByIfAbsent(ctx, id, past)
	require.NoError(t, err)
	_, ok := f.scheduler.Scheduled(id)
	require.False(t, ok)

	require.NoError(t, f.scheduler.RecordProposal(ctx, id, f.clock.Now(), 5*time.Second))

	at, ok := f.scheduler.Scheduled(id)
	require.True(t, ok)
	require.True(t, at.Equal(past))
	require.True(t, f.store.get(id).CommitBy.Equal(past))
}

// TestScheduler_StopWhileFiring stops the scheduler while the driver is
// about to submit a due commit.
func TestScheduler_StopWhileFiring(t *testing.T) {
	for i := 0; i < 200; i++ {
		executor := NewExecutor(mlsmock.NewGroupEngine(t), mlsmock.NewDeliveryGateway(t), keylock.New(), nil, nil)
		scheduler := NewScheduler(newMemGroupStore(), executor, 2, nil)
		scheduler.schedule(model.GroupID("g1"), time.Now().Add(200*time.Microsecond))

		ctx, cancel := context.WithCancel(context.Background())
		go scheduler.Run(ctx)
		time.Sleep(200 * time.Microsecond)
		cancel()
		scheduler.Stop()
	}
}

func TestScheduler_RunDueCommitsAfterStop(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()
	id := model.GroupID("g1")
	_, err := f.store.SetCommitByIfAbsent(ctx, id, f.clock.Now().Add(-time.Second))
	require.NoError(t, err)

	f.scheduler.Stop()
	err = f.scheduler.RunDueCommits(ctx)
	require.ErrorIs(t, err, errSchedulerStopped)
	require.NotNil(t, f.store.get(id).CommitBy)
}
