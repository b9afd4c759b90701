package mls

import (
	"context"
	"errors"

	"mls_chat/internal/model"
	"mls_chat/internal/utils/keylock"
	"mls_chat/internal/utils/log"

	"go.uber.org/zap"
)

// Executor runs one commit cycle for a group: generate, send, then merge
// or clear. Cycles of the same group never overlap.
type Executor struct {
	engine  GroupEngine
	gateway DeliveryGateway
	locks   *keylock.Locker
	sink    EventSink
	metrics Metrics
}

func NewExecutor(engine GroupEngine, gateway DeliveryGateway, locks *keylock.Locker, sink EventSink, metrics Metrics) *Executor {
	if sink == nil {
		sink = noopSink{}
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Executor{
		engine:  engine,
		gateway: gateway,
		locks:   locks,
		sink:    sink,
		metrics: metrics,
	}
}

// Execute takes the group lock and runs a single attempt. On a
// WelcomeDeliveryFailed error the returned events are still valid.
func (x *Executor) Execute(ctx context.Context, id model.GroupID, intent model.Intent) ([]model.Event, error) {
	unlock, err := x.locks.Lock(ctx, id.String())
	if err != nil {
		return nil, err
	}
	defer unlock()
	return x.execute(ctx, id, intent)
}

// execute expects the group lock to be held.
func (x *Executor) execute(ctx context.Context, id model.GroupID, intent model.Intent) ([]model.Event, error) {
	events, err := x.run(ctx, id, intent)
	x.metrics.CommitExecuted(intent.Kind, err)
	if err != nil {
		log.Warn("commit failed",
			zap.String("group", id.String()),
			zap.Stringer("intent", intent.Kind),
			zap.Error(err))
	}
	return events, err
}

func (x *Executor) run(ctx context.Context, id model.GroupID, intent model.Intent) ([]model.Event, error) {
	bundle, err := x.engine.GenerateCommit(ctx, id, intent)
	if err != nil {
		return nil, &CommitError{Kind: CommitGenerationFailed, GroupID: id, Err: err}
	}
	if bundle == nil {
		log.Debug("nothing to commit", zap.String("group", id.String()), zap.Stringer("intent", intent.Kind))
		return nil, nil
	}

	events, err := x.gateway.SendMessage(ctx, bundle.Commit)
	if err != nil {
		if clearErr := x.engine.ClearPendingCommit(ctx, id); clearErr != nil {
			log.Error("failed to clear pending commit, group needs resync",
				zap.String("group", id.String()), zap.Error(clearErr))
			return nil, &CommitError{Kind: CommitCleanupFailed, GroupID: id, Err: errors.Join(err, clearErr)}
		}
		return nil, &CommitError{Kind: CommitDeliveryFailed, GroupID: id, Err: err}
	}

	if err := x.engine.MergeCommit(ctx, id); err != nil {
		return nil, &CommitError{Kind: CommitMergeFailed, GroupID: id, Err: err}
	}
	if len(events) > 0 {
		x.sink.Publish(ctx, events)
	}

	if bundle.Welcome != nil {
		if err := x.gateway.SendWelcome(ctx, bundle.Welcome); err != nil {
			return events, &CommitError{Kind: WelcomeDeliveryFailed, GroupID: id, Err: err}
		}
	}
	return events, nil
}
