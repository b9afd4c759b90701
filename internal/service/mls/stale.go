package mls

import (
	"context"
	"time"

	"mls_chat/internal/model"
)

const DefaultKeyLifetimeDays = 90

type StaleDetector struct {
	store        GroupStore
	lifetimeDays int
	now          func() time.Time
}

func NewStaleDetector(store GroupStore, lifetimeDays int, now func() time.Time) *StaleDetector {
	if lifetimeDays <= 0 {
		lifetimeDays = DefaultKeyLifetimeDays
	}
	if now == nil {
		now = time.Now
	}
	return &StaleDetector{
		store:        store,
		lifetimeDays: lifetimeDays,
		now:          now,
	}
}

// GroupsWithStaleKeyMaterial lists groups that never rotated their key
// material or did so more than the lifetime in whole days ago.
func (d *StaleDetector) GroupsWithStaleKeyMaterial(ctx context.Context) ([]model.GroupID, error) {
	records, err := d.store.ListGroups(ctx)
	if err != nil {
		return nil, err
	}

	now := d.now()
	var stale []model.GroupID
	for _, rec := range records {
		if rec.KeyMaterialUpdatedAt == nil {
			stale = append(stale, rec.GroupID)
			continue
		}
		days := int(now.Sub(*rec.KeyMaterialUpdatedAt) / (24 * time.Hour))
		if days > d.lifetimeDays {
			stale = append(stale, rec.GroupID)
		}
	}
	return stale, nil
}

func (d *StaleDetector) RecordKeyMaterialUpdated(ctx context.Context, id model.GroupID) error {
	return d.store.SetKeyMaterialUpdatedAt(ctx, id, d.now())
}
