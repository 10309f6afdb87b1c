// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

// Package sync2 provides synchronization primitives for background services.
package sync2

import (
	"context"
	"sync"
	"time"
)

// Cycle implements a controllable recurring event. The zero value is usable;
// Trigger and Stop are safe to call before Run has started.
type Cycle struct {
	interval time.Duration

	ticker  *time.Ticker
	trigger chan struct{}
	stop    chan struct{}

	init     sync.Once
	stopOnce sync.Once
}

// NewCycle creates a new cycle with the specified interval.
func NewCycle(interval time.Duration) *Cycle {
	return &Cycle{interval: interval}
}

// SetInterval allows to change the interval before starting.
func (cycle *Cycle) SetInterval(interval time.Duration) {
	cycle.interval = interval
}

func (cycle *Cycle) initialize() {
	cycle.init.Do(func() {
		cycle.trigger = make(chan struct{}, 1)
		cycle.stop = make(chan struct{})
	})
}

// Run runs fn immediately and then every interval until the context is
// canceled, Stop is called or fn returns an error.
func (cycle *Cycle) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	cycle.initialize()

	cycle.ticker = time.NewTicker(cycle.interval)
	defer cycle.ticker.Stop()

	if err := fn(ctx); err != nil {
		return err
	}
	for {
		select {
		case <-cycle.stop:
			return nil

		case <-ctx.Done():
			return ctx.Err()

		case <-cycle.ticker.C:
			if err := fn(ctx); err != nil {
				return err
			}

		case <-cycle.trigger:
			if err := fn(ctx); err != nil {
				return err
			}
		}
	}
}

// Stop stops the cycle permanently.
func (cycle *Cycle) Stop() {
	cycle.initialize()
	cycle.stopOnce.Do(func() { close(cycle.stop) })
}

// Trigger requests an extra run of the loop as soon as it is free. It never
// blocks; a trigger arriving while one is already pending collapses into it.
func (cycle *Cycle) Trigger() {
	cycle.initialize()
	select {
	case cycle.trigger <- struct{}{}:
	default:
	}
}
