package mls

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"mls_chat/internal/model"
	"mls_chat/internal/utils/keylock"
	"mls_chat/internal/utils/log"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const DefaultMaintenanceInterval = time.Hour

type (
	Config struct {
		Self                model.MemberHandle
		Ciphersuite         model.Ciphersuite
		KeyPackageTarget    int
		KeyPackageRecheck   time.Duration
		KeyLifetimeDays     int
		CommitWorkers       int
		MaintenanceInterval time.Duration
	}

	// MembershipResult is returned when the membership change is merged.
	// WelcomeErr is set when the welcome for new members could not be
	// delivered; the change itself stands.
	MembershipResult struct {
		Events     []model.Event
		WelcomeErr error
	}

	// Coordinator is the entry point for conversation logic. It serializes
	// all mutating operations per group.
	Coordinator struct {
		cfg         Config
		engine      GroupEngine
		gateway     DeliveryGateway
		store       GroupStore
		locks       *keylock.Locker
		executor    *Executor
		scheduler   *Scheduler
		keyPackages *KeyPackageManager
		stale       *StaleDetector
		publicKeys  *atomic.Pointer[model.BackendPublicKeys]
		now         func() time.Time
	}

	Option func(*options)

	options struct {
		sink    EventSink
		metrics Metrics
		now     func() time.Time
	}
)

func WithEventSink(sink EventSink) Option {
	return func(o *options) {
		o.sink = sink
	}
}

func WithMetrics(m Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func NewCoordinator(cfg Config, engine GroupEngine, gateway DeliveryGateway, store GroupStore, inventory InventoryStore, opts ...Option) *Coordinator {
	o := &options{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	if cfg.Ciphersuite == 0 {
		cfg.Ciphersuite = model.DefaultCiphersuite
	}
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = DefaultMaintenanceInterval
	}

	locks := keylock.New()
	executor := NewExecutor(engine, gateway, locks, o.sink, o.metrics)
	return &Coordinator{
		cfg:         cfg,
		engine:      engine,
		gateway:     gateway,
		store:       store,
		locks:       locks,
		executor:    executor,
		scheduler:   NewScheduler(store, executor, cfg.CommitWorkers, o.now),
		keyPackages: NewKeyPackageManager(cfg.Self, engine, gateway, inventory, cfg.KeyPackageTarget, cfg.KeyPackageRecheck, o.metrics, o.now),
		stale:       NewStaleDetector(store, cfg.KeyLifetimeDays, o.now),
		publicKeys:  atomic.NewPointer[model.BackendPublicKeys](nil),
		now:         o.now,
	}
}

// Start fetches the backend public keys, commits proposals that became due
// while the client was offline and tops up the key packages.
func (c *Coordinator) Start(ctx context.Context) error {
	keys, err := c.gateway.FetchBackendPublicKeys(ctx)
	if err != nil {
		return fmt.Errorf("fetch backend public keys: %w", err)
	}
	c.publicKeys.Store(keys)

	if err := c.scheduler.RunDueCommits(ctx); err != nil {
		log.Error("catch-up of due commits failed", zap.Error(err))
	}
	if err := c.keyPackages.ReplenishIfNeeded(ctx); err != nil {
		log.Error("replenish key packages failed", zap.Error(err))
	}
	return nil
}

// Run drives scheduled commits and periodic maintenance until ctx is done.
func (c *Coordinator) Run(ctx context.Context) {
	driverDone := make(chan struct{})
	go func() {
		defer close(driverDone)
		c.scheduler.Run(ctx)
	}()

	ticker := time.NewTicker(c.cfg.MaintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			<-driverDone
			c.scheduler.Stop()
			return
		case <-ticker.C:
			c.maintain(ctx)
		}
	}
}

func (c *Coordinator) maintain(ctx context.Context) {
	if err := c.scheduler.RunDueCommits(ctx); err != nil {
		log.Error("due commits failed", zap.Error(err))
	}
	if err := c.keyPackages.ReplenishIfNeeded(ctx); err != nil {
		log.Error("replenish key packages failed", zap.Error(err))
	}
	if err := c.RefreshStaleGroups(ctx); err != nil {
		log.Error("refresh stale groups failed", zap.Error(err))
	}
}

func (c *Coordinator) Self() model.MemberHandle {
	return c.cfg.Self
}

func (c *Coordinator) CreateGroup(ctx context.Context, id model.GroupID) error {
	unlock, err := c.locks.Lock(ctx, id.String())
	if err != nil {
		return err
	}
	defer unlock()

	cfg := model.GroupConfig{
		Ciphersuite:     c.cfg.Ciphersuite,
		ExternalSenders: c.publicKeys.Load().ExternalSenders(),
	}
	if err := c.engine.CreateGroup(ctx, id, cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrGroupCreation, err)
	}

	now := c.now()
	if err := c.store.CreateGroup(ctx, &model.GroupRecord{GroupID: id, KeyMaterialUpdatedAt: &now, CreatedAt: now}); err != nil {
		return fmt.Errorf("%w: %v", ErrGroupCreation, err)
	}
	log.Info("created group", zap.String("group", id.String()))
	return nil
}

// AddMembers claims one key package per client of every user and adds
// them all in one commit. Users without key packages are skipped.
func (c *Coordinator) AddMembers(ctx context.Context, id model.GroupID, users []model.QualifiedID) (*MembershipResult, error) {
	if len(users) == 0 {
		return nil, ErrNoParticipantsToAdd
	}

	claimed := make([][]model.KeyPackage, len(users))
	g, gctx := errgroup.WithContext(ctx)
	for i, user := range users {
		i, user := i, user
		g.Go(func() error {
			kps, err := c.gateway.ClaimKeyPackages(gctx, user)
			if err != nil {
				return fmt.Errorf("claim key packages of %s: %w", user, err)
			}
			claimed[i] = kps
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var invitees []model.Invitee
	for i, kps := range claimed {
		if len(kps) == 0 {
			log.Warn("no key packages available, skipping", zap.Stringer("user", users[i]))
			continue
		}
		for _, kp := range kps {
			if kp.Client.Equal(c.cfg.Self) {
				continue
			}
			inv, err := kp.Invitee()
			if err != nil {
				log.Warn("skipping malformed key package", zap.Error(err))
				continue
			}
			invitees = append(invitees, inv)
		}
	}
	if len(invitees) == 0 {
		return nil, fmt.Errorf("%w: no key packages could be claimed", ErrNoParticipantsToAdd)
	}

	return c.changeMembership(ctx, id, model.AddMembers(invitees))
}

func (c *Coordinator) RemoveMembers(ctx context.Context, id model.GroupID, clients []model.MemberHandle) (*MembershipResult, error) {
	if len(clients) == 0 {
		return nil, ErrNoClientsToRemove
	}
	return c.changeMembership(ctx, id, model.RemoveMembers(clients))
}

func (c *Coordinator) changeMembership(ctx context.Context, id model.GroupID, intent model.Intent) (*MembershipResult, error) {
	events, err := c.executor.Execute(ctx, id, intent)
	if err != nil && !IsPartialSuccess(err) {
		return nil, err
	}
	c.keyMaterialUpdated(ctx, id)
	return &MembershipResult{Events: events, WelcomeErr: err}, nil
}

// UpdateKeyMaterial rotates our leaf key in the group.
func (c *Coordinator) UpdateKeyMaterial(ctx context.Context, id model.GroupID) ([]model.Event, error) {
	events, err := c.executor.Execute(ctx, id, model.UpdateKeyMaterial())
	if err != nil {
		return nil, err
	}
	c.keyMaterialUpdated(ctx, id)
	return events, nil
}

// RefreshStaleGroups updates the key material of every stale group.
func (c *Coordinator) RefreshStaleGroups(ctx context.Context) error {
	ids, err := c.stale.GroupsWithStaleKeyMaterial(ctx)
	if err != nil {
		return err
	}

	var result *multierror.Error
	for _, id := range ids {
		if _, err := c.UpdateKeyMaterial(ctx, id); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (c *Coordinator) keyMaterialUpdated(ctx context.Context, id model.GroupID) {
	if err := c.stale.RecordKeyMaterialUpdated(ctx, id); err != nil {
		log.Warn("failed to record key material update", zap.String("group", id.String()), zap.Error(err))
	}
}

// ProcessWelcomeMessage joins the group of a base64 encoded welcome.
func (c *Coordinator) ProcessWelcomeMessage(ctx context.Context, payload string) (model.GroupID, error) {
	welcome, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedWelcome, err)
	}

	id, err := c.engine.ProcessWelcome(ctx, welcome)
	if err != nil {
		return nil, err
	}

	now := c.now()
	if err := c.store.CreateGroup(ctx, &model.GroupRecord{GroupID: id, KeyMaterialUpdatedAt: &now, CreatedAt: now}); err != nil {
		// A joined group without a record would never be refreshed or listed.
		if wipeErr := c.engine.WipeGroup(ctx, id); wipeErr != nil {
			log.Error("failed to wipe group after join", zap.String("group", id.String()), zap.Error(wipeErr))
		}
		return nil, fmt.Errorf("store joined group %s: %w", id, err)
	}
	log.Info("joined group", zap.String("group", id.String()))

	if err := c.keyPackages.ReplenishIfNeeded(ctx); err != nil {
		log.Error("replenish key packages after join failed", zap.Error(err))
	}
	return id, nil
}

func (c *Coordinator) GroupExists(ctx context.Context, id model.GroupID) (bool, error) {
	return c.engine.GroupExists(ctx, id)
}

func (c *Coordinator) Encrypt(ctx context.Context, id model.GroupID, message []byte) ([]byte, error) {
	unlock, err := c.locks.Lock(ctx, id.String())
	if err != nil {
		return nil, err
	}
	defer unlock()
	return c.engine.Encrypt(ctx, id, message)
}

// Decrypt processes any incoming group message. The returned message has
// no payload for commits and proposals. Proposals get a commit scheduled.
func (c *Coordinator) Decrypt(ctx context.Context, id model.GroupID, message []byte) (*model.DecryptedMessage, error) {
	res, err := c.decrypt(ctx, id, message)
	if err != nil {
		return nil, err
	}

	if !res.IsActive {
		c.scheduler.Cancel(id)
		if err := c.store.DeleteGroup(ctx, id); err != nil {
			log.Warn("failed to delete group record", zap.String("group", id.String()), zap.Error(err))
		}
		return res, nil
	}
	if len(res.Proposals) > 0 && res.CommitDelay != nil {
		if err := c.scheduler.RecordProposal(ctx, id, c.now(), *res.CommitDelay); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (c *Coordinator) decrypt(ctx context.Context, id model.GroupID, message []byte) (*model.DecryptedMessage, error) {
	unlock, err := c.locks.Lock(ctx, id.String())
	if err != nil {
		return nil, err
	}
	defer unlock()
	return c.engine.Decrypt(ctx, id, message)
}

// LeaveGroup asks the other members to remove this client. Local state is
// wiped once their commit arrives.
func (c *Coordinator) LeaveGroup(ctx context.Context, id model.GroupID) error {
	unlock, err := c.locks.Lock(ctx, id.String())
	if err != nil {
		return err
	}
	defer unlock()

	proposal, err := c.engine.CreateProposal(ctx, id, model.Proposal{Kind: model.ProposalRemove, Member: c.cfg.Self})
	if err != nil {
		return err
	}
	if _, err := c.gateway.SendMessage(ctx, proposal); err != nil {
		return fmt.Errorf("send leave proposal: %w", err)
	}
	return nil
}

// DeleteGroup forgets the group locally. A scheduled commit is cancelled.
func (c *Coordinator) DeleteGroup(ctx context.Context, id model.GroupID) error {
	c.scheduler.Cancel(id)

	unlock, err := c.locks.Lock(ctx, id.String())
	if err != nil {
		return err
	}
	defer unlock()

	var result *multierror.Error
	if err := c.engine.WipeGroup(ctx, id); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.store.DeleteGroup(ctx, id); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// ReplenishKeyPackages is exposed for callers that consumed key packages
// outside of a welcome.
func (c *Coordinator) ReplenishKeyPackages(ctx context.Context) error {
	return c.keyPackages.ReplenishIfNeeded(ctx)
}

// Scheduler exposes the proposal scheduler.
func (c *Coordinator) Scheduler() *Scheduler {
	return c.scheduler
}

var errNotStarted = errors.New("coordinator not started")

// BackendPublicKeys returns the keys fetched by Start.
func (c *Coordinator) BackendPublicKeys() (*model.BackendPublicKeys, error) {
	keys := c.publicKeys.Load()
	if keys == nil {
		return nil, errNotStarted
	}
	return keys, nil
}
