package mls

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mls_chat/internal/model"
	"mls_chat/internal/utils/log"

	"github.com/gammazero/workerpool"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

var errSchedulerStopped = errors.New("scheduler stopped")

type (
	// Scheduler commits batches of pending proposals once their commit-by
	// time is reached. The commit-by time lives in the GroupStore; the
	// in-memory schedule only decides when to look again.
	Scheduler struct {
		store    GroupStore
		executor *Executor
		pool     *workerpool.WorkerPool
		metrics  Metrics
		now      func() time.Time

		mu    sync.Mutex
		table map[string]*scheduledCommit
		queue commitQueue
		wake  chan struct{}

		// poolMu guards submissions against Stop closing the pool.
		poolMu  sync.RWMutex
		stopped bool
	}

	scheduledCommit struct {
		groupID model.GroupID
		at      time.Time
		index   int
	}

	commitQueue []*scheduledCommit
)

func NewScheduler(store GroupStore, executor *Executor, workers int, now func() time.Time) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		store:    store,
		executor: executor,
		pool:     workerpool.New(workers),
		metrics:  executor.metrics,
		now:      now,
		table:    make(map[string]*scheduledCommit),
		wake:     make(chan struct{}, 1),
	}
}

// RecordProposal sets the commit-by time of the group to arrivedAt+delay
// unless one is already set.
func (s *Scheduler) RecordProposal(ctx context.Context, id model.GroupID, arrivedAt time.Time, delay time.Duration) error {
	unlock, err := s.executor.locks.Lock(ctx, id.String())
	if err != nil {
		return err
	}
	defer unlock()

	at := arrivedAt.Add(delay)
	set, err := s.store.SetCommitByIfAbsent(ctx, id, at)
	if err != nil {
		return err
	}
	if set {
		log.Debug("scheduled pending proposals commit", zap.String("group", id.String()), zap.Time("commit_by", at))
		s.schedule(id, at)
		return nil
	}

	// A commit-by left behind by a failed commit has no trigger anymore.
	if _, ok := s.Scheduled(id); ok {
		return nil
	}
	rec, err := s.store.GetGroup(ctx, id)
	if err != nil {
		return err
	}
	if rec != nil && rec.CommitBy != nil {
		log.Debug("rescheduled pending proposals commit", zap.String("group", id.String()), zap.Time("commit_by", *rec.CommitBy))
		s.schedule(id, *rec.CommitBy)
	}
	return nil
}

// RunDueCommits commits every group whose commit-by time has passed and
// schedules the others. It must run once at startup so that commits which
// became due while the process was down still happen. Failures of single
// groups are collected and do not stop the others.
func (s *Scheduler) RunDueCommits(ctx context.Context) error {
	records, err := s.store.GroupsWithCommitBy(ctx)
	if err != nil {
		return err
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result *multierror.Error
		now    = s.now()
	)
	for _, rec := range records {
		if rec.CommitBy == nil {
			continue
		}
		if rec.CommitBy.After(now) {
			s.schedule(rec.GroupID, *rec.CommitBy)
			continue
		}

		id := rec.GroupID
		wg.Add(1)
		submitted := s.submit(func() {
			defer wg.Done()
			if err := s.commitDue(ctx, id); err != nil {
				mu.Lock()
				result = multierror.Append(result, err)
				mu.Unlock()
			}
		})
		if !submitted {
			wg.Done()
			mu.Lock()
			result = multierror.Append(result, fmt.Errorf("commit of group %s: %w", id, errSchedulerStopped))
			mu.Unlock()
		}
	}
	wg.Wait()
	return result.ErrorOrNil()
}

// Cancel drops the scheduled trigger of a group. The caller is expected to
// remove the group record as well.
func (s *Scheduler) Cancel(id model.GroupID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.table[id.String()]; ok {
		heap.Remove(&s.queue, e.index)
		delete(s.table, id.String())
	}
}

// Scheduled returns the in-memory trigger time of a group.
func (s *Scheduler) Scheduled(id model.GroupID) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.table[id.String()]
	if !ok {
		return time.Time{}, false
	}
	return e.at, true
}

// Run fires scheduled commits until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.mu.Lock()
		var next *scheduledCommit
		if len(s.queue) > 0 {
			next = s.queue[0]
		}
		s.mu.Unlock()

		wait := time.Hour
		if next != nil {
			wait = next.at.Sub(s.now())
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-timer.C:
			s.fireDue(ctx)
		}
	}
}

// Stop waits for running commits and rejects new ones. It is safe to call
// more than once and concurrently with Run.
func (s *Scheduler) Stop() {
	s.poolMu.Lock()
	s.stopped = true
	s.poolMu.Unlock()
	s.pool.StopWait()
}

func (s *Scheduler) submit(task func()) bool {
	s.poolMu.RLock()
	defer s.poolMu.RUnlock()
	if s.stopped {
		return false
	}
	s.pool.Submit(task)
	return true
}

func (s *Scheduler) fireDue(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []model.GroupID
	for len(s.queue) > 0 && !s.queue[0].at.After(now) {
		e := heap.Pop(&s.queue).(*scheduledCommit)
		delete(s.table, e.groupID.String())
		due = append(due, e.groupID)
	}
	s.mu.Unlock()

	for _, id := range due {
		id := id
		submitted := s.submit(func() {
			if err := s.commitDue(ctx, id); err != nil {
				log.Error("scheduled commit failed", zap.String("group", id.String()), zap.Error(err))
			}
		})
		if !submitted {
			log.Debug("scheduler stopped, commit left for the next start", zap.String("group", id.String()))
		}
	}
}

func (s *Scheduler) commitDue(ctx context.Context, id model.GroupID) error {
	unlock, err := s.executor.locks.Lock(ctx, id.String())
	if err != nil {
		return err
	}
	defer unlock()

	// The group may have been deleted or committed while we waited.
	rec, err := s.store.GetGroup(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil || rec.CommitBy == nil {
		log.Debug("due commit no longer pending", zap.String("group", id.String()))
		return nil
	}

	s.metrics.DueCommitFired()
	if _, err := s.executor.execute(ctx, id, model.CommitPendingProposals()); err != nil && !IsPartialSuccess(err) {
		return err
	}
	return s.store.ClearCommitBy(ctx, id)
}

func (s *Scheduler) schedule(id model.GroupID, at time.Time) {
	s.mu.Lock()
	if e, ok := s.table[id.String()]; ok {
		if at.Before(e.at) {
			e.at = at
			heap.Fix(&s.queue, e.index)
		}
	} else {
		e := &scheduledCommit{groupID: id, at: at}
		heap.Push(&s.queue, e)
		s.table[id.String()] = e
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (q commitQueue) Len() int           { return len(q) }
func (q commitQueue) Less(i, j int) bool { return q[i].at.Before(q[j].at) }

func (q commitQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *commitQueue) Push(x any) {
	e := x.(*scheduledCommit)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *commitQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return e
}
