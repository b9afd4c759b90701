package mls

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"mls_chat/internal/model"
	"mls_chat/internal/utils/log"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultKeyPackageTarget  = 100
	DefaultKeyPackageRecheck = 24 * time.Hour
)

// KeyPackageManager keeps enough unclaimed key packages of this client on
// the delivery service.
type KeyPackageManager struct {
	self      model.MemberHandle
	engine    GroupEngine
	gateway   DeliveryGateway
	inventory InventoryStore
	target    int
	recheck   time.Duration
	metrics   Metrics
	now       func() time.Time

	group singleflight.Group
}

func NewKeyPackageManager(self model.MemberHandle, engine GroupEngine, gateway DeliveryGateway, inventory InventoryStore,
	target int, recheck time.Duration, metrics Metrics, now func() time.Time) *KeyPackageManager {
	if target <= 0 {
		target = DefaultKeyPackageTarget
	}
	if recheck <= 0 {
		recheck = DefaultKeyPackageRecheck
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if now == nil {
		now = time.Now
	}
	return &KeyPackageManager{
		self:      self,
		engine:    engine,
		gateway:   gateway,
		inventory: inventory,
		target:    target,
		recheck:   recheck,
		metrics:   metrics,
		now:       now,
	}
}

// ReplenishIfNeeded asks the backend how many key packages are left when
// the last check is older than the recheck interval or the local supply is
// below half the target, and uploads new ones when the backend is at or
// below half the target. Concurrent calls share one run.
func (m *KeyPackageManager) ReplenishIfNeeded(ctx context.Context) error {
	_, err, _ := m.group.Do("replenish", func() (any, error) {
		return nil, m.replenish(ctx)
	})
	return err
}

func (m *KeyPackageManager) replenish(ctx context.Context) error {
	half := m.target / 2

	last, err := m.inventory.LastChecked(ctx)
	if err != nil {
		return fmt.Errorf("load last key package check: %w", err)
	}
	if !last.IsZero() && m.now().Sub(last) <= m.recheck {
		count, err := m.engine.ValidKeyPackageCount(ctx)
		if err != nil {
			return fmt.Errorf("count local key packages: %w", err)
		}
		if count >= half {
			return nil
		}
	}

	unclaimed, err := m.gateway.CountUnclaimedKeyPackages(ctx, m.self)
	if err != nil {
		return fmt.Errorf("count unclaimed key packages: %w", err)
	}
	if err := m.inventory.SetLastChecked(ctx, m.now()); err != nil {
		return fmt.Errorf("store last key package check: %w", err)
	}
	if unclaimed > half {
		return nil
	}

	missing := m.target - unclaimed
	kps, err := m.engine.GenerateKeyPackages(ctx, missing)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyPackageGeneration, err)
	}
	if len(kps) == 0 {
		return ErrKeyPackageGeneration
	}

	encoded := make([]string, 0, len(kps))
	for _, kp := range kps {
		encoded = append(encoded, base64.StdEncoding.EncodeToString(kp))
	}
	if err := m.gateway.UploadKeyPackages(ctx, m.self, encoded); err != nil {
		return fmt.Errorf("upload key packages: %w", err)
	}

	m.metrics.KeyPackagesUploaded(len(encoded))
	log.Info("uploaded key packages",
		zap.String("client", m.self.String()),
		zap.Int("unclaimed", unclaimed),
		zap.Int("uploaded", len(encoded)))
	return nil
}
