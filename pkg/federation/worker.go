// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

package federation

import (
	"context"

	"go.uber.org/zap"

	"sampledb.io/sampledb/internal/sync2"
)

// SyncWorker runs a sync pass against every known peer on an interval.
// Incoming update hooks trigger an early pass.
type SyncWorker struct {
	log     *zap.Logger
	service *Service
	Loop    sync2.Cycle
}

// NewSyncWorker creates a sync worker using the configured interval.
func NewSyncWorker(log *zap.Logger, service *Service) *SyncWorker {
	worker := &SyncWorker{log: log, service: service}
	worker.Loop.SetInterval(service.config.SyncInterval)
	return worker
}

// Run syncs until ctx is canceled.
func (worker *SyncWorker) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)
	return worker.Loop.Run(ctx, worker.SyncAll)
}

// Close stops the worker.
func (worker *SyncWorker) Close() error {
	worker.Loop.Stop()
	return nil
}

// Trigger requests an early sync pass, for example after an update hook.
func (worker *SyncWorker) Trigger() {
	worker.Loop.Trigger()
}

// SyncAll runs one pass against every component that has an address
// configured. A failing peer does not stop the pass against the others.
func (worker *SyncWorker) SyncAll(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)
	service := worker.service

	if !service.Configured() {
		return nil
	}

	components, err := service.components.All(ctx)
	if err != nil {
		return Error.Wrap(err)
	}

	for i := range components {
		comp := &components[i]
		if comp.Address == "" {
			continue
		}
		if err := service.ImportUpdates(ctx, comp, SyncOptions{}); err != nil {
			if ctx.Err() != nil {
				return err
			}
			// a failing peer only loses its own pass
			worker.log.Warn("sync pass failed",
				zap.Stringer("component", comp.UUID), zap.Error(err))
		}
	}
	return nil
}
