// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

package federation

import (
	"context"

	"go.uber.org/zap"

	"sampledb.io/sampledb/internal/sync2"
)

// outboxBatchSize bounds how many pending hooks a single drain sends.
const outboxBatchSize = 100

// NotifyObjectUpdate enqueues update hooks toward every component an object
// is shared with, except the component the update came from. Hooks are an
// optimization only; enqueue failures are logged, not returned.
func (service *Service) NotifyObjectUpdate(ctx context.Context, objectID, excludeComponentID int64) {
	componentIDs, err := service.shares.ComponentsSharedWith(ctx, objectID)
	if err != nil {
		service.log.Warn("listing sharing components failed",
			zap.Int64("object_id", objectID), zap.Error(err))
		return
	}
	for _, componentID := range componentIDs {
		if componentID == excludeComponentID || componentID == LocalComponentID {
			continue
		}
		if err := service.outbox.Enqueue(ctx, componentID); err != nil {
			service.log.Warn("enqueueing update hook failed",
				zap.Int64("component_id", componentID), zap.Error(err))
		}
	}
}

// OutboxWorker drains the update-hook outbox on an interval.
type OutboxWorker struct {
	log     *zap.Logger
	service *Service
	Loop    sync2.Cycle
}

// NewOutboxWorker creates an outbox worker using the configured interval.
func NewOutboxWorker(log *zap.Logger, service *Service) *OutboxWorker {
	worker := &OutboxWorker{log: log, service: service}
	worker.Loop.SetInterval(service.config.OutboxInterval)
	return worker
}

// Run drains the outbox until ctx is canceled.
func (worker *OutboxWorker) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)
	return worker.Loop.Run(ctx, worker.Drain)
}

// Close stops the worker.
func (worker *OutboxWorker) Close() error {
	worker.Loop.Stop()
	return nil
}

// Drain sends the pending update hooks. Hooks are best effort: a failed
// send is logged and the entry dropped, the peer's periodic sync pass will
// pick up the change regardless.
func (worker *OutboxWorker) Drain(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)
	service := worker.service

	if !service.Configured() {
		return nil
	}

	entries, err := service.outbox.Pending(ctx, outboxBatchSize)
	if err != nil {
		return Error.Wrap(err)
	}
	for _, entry := range entries {
		if err := worker.send(ctx, entry); err != nil {
			worker.log.Debug("update hook failed",
				zap.Int64("component_id", entry.ComponentID), zap.Error(err))
		}
		if err := service.outbox.Delete(ctx, entry.ID); err != nil {
			return Error.Wrap(err)
		}
	}
	return nil
}

func (worker *OutboxWorker) send(ctx context.Context, entry OutboxEntry) error {
	service := worker.service

	comp, err := service.components.Get(ctx, entry.ComponentID)
	if err != nil {
		return err
	}
	if comp.Address == "" {
		return ErrNotConfigured.New("component %s has no address", comp.UUID)
	}
	auth, err := service.auth.OwnAuth(ctx, comp.ID)
	if err != nil {
		return err
	}
	return service.client.PostUpdateHook(ctx, Peer{Component: comp, Token: auth.Token})
}
