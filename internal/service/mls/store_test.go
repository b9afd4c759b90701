package mls

import (
	"context"
	"sync"
	"time"

	"mls_chat/internal/model"
)

// memGroupStore implements GroupStore for testing.
type memGroupStore struct {
	mu        sync.Mutex
	records   map[string]*model.GroupRecord
	createErr error
}

func newMemGroupStore() *memGroupStore {
	return &memGroupStore{records: make(map[string]*model.GroupRecord)}
}

func (s *memGroupStore) CreateGroup(ctx context.Context, record *model.GroupRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	r := *record
	s.records[record.GroupID.String()] = &r
	return nil
}

func (s *memGroupStore) GetGroup(ctx context.Context, id model.GroupID) (*model.GroupRecord, error) {
	return s.get(id), nil
}

func (s *memGroupStore) DeleteGroup(ctx context.Context, id model.GroupID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id.String())
	return nil
}

func (s *memGroupStore) ListGroups(ctx context.Context) ([]*model.GroupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []*model.GroupRecord
	for _, r := range s.records {
		c := *r
		res = append(res, &c)
	}
	return res, nil
}

func (s *memGroupStore) SetCommitByIfAbsent(ctx context.Context, id model.GroupID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.record(id)
	if r.CommitBy != nil {
		return false, nil
	}
	r.CommitBy = &at
	return true, nil
}

func (s *memGroupStore) ClearCommitBy(ctx context.Context, id model.GroupID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[id.String()]; ok {
		r.CommitBy = nil
	}
	return nil
}

func (s *memGroupStore) GroupsWithCommitBy(ctx context.Context) ([]*model.GroupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []*model.GroupRecord
	for _, r := range s.records {
		if r.CommitBy != nil {
			c := *r
			res = append(res, &c)
		}
	}
	return res, nil
}

func (s *memGroupStore) SetKeyMaterialUpdatedAt(ctx context.Context, id model.GroupID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(id).KeyMaterialUpdatedAt = &at
	return nil
}

func (s *memGroupStore) get(id model.GroupID) *model.GroupRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id.String()]
	if !ok {
		return nil
	}
	c := *r
	return &c
}

func (s *memGroupStore) record(id model.GroupID) *model.GroupRecord {
	r, ok := s.records[id.String()]
	if !ok {
		r = &model.GroupRecord{GroupID: id}
		s.records[id.String()] = r
	}
	return r
}

type memInventory struct {
	mu   sync.Mutex
	last time.Time
}

func (i *memInventory) LastChecked(ctx context.Context) (time.Time, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.last, nil
}

func (i *memInventory) SetLastChecked(ctx context.Context, t time.Time) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.last = t
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []model.Event
}

func (s *recordingSink) Publish(ctx context.Context, events []model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
