// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package maintenance runs the periodic background sweeps: reclaiming
// expired file sessions and purging stale coordination state.
//
// The scheduler uses the ticker + done channel pattern for graceful
// shutdown. Sweeps reclaim resources only; they never cancel in-flight
// work.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval is the coarse timer for all sweeps.
const DefaultInterval = 5 * time.Minute

// Task is one periodic sweep. Sweep returns how many items it reclaimed.
type Task struct {
	Name  string
	Sweep func(ctx context.Context) (int, error)
}

// Scheduler runs the registered tasks on a fixed interval.
type Scheduler struct {
	interval time.Duration
	tasks    []Task

	mu      sync.Mutex
	done    chan struct{}
	running bool
}

// NewScheduler creates a scheduler for the given tasks. A non-positive
// interval selects DefaultInterval.
func NewScheduler(interval time.Duration, tasks ...Task) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		interval: interval,
		tasks:    tasks,
		done:     make(chan struct{}),
	}
}

// Start launches the background sweep goroutine. It returns an error if the
// scheduler is already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("maintenance scheduler is already running")
	}
	s.running = true
	s.done = make(chan struct{})
	s.mu.Unlock()

	slog.Info("maintenance scheduler starting",
		"interval", s.interval.String(),
		"tasks", len(s.tasks),
	)
	go s.runLoop(ctx)
	return nil
}

// Stop signals the sweep goroutine to exit. Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	slog.Info("maintenance scheduler stopping")
	close(s.done)
	s.running = false
}

// RunNow performs a single sweep cycle immediately, outside the schedule.
// Used by the debug endpoint and by tests.
func (s *Scheduler) RunNow(ctx context.Context) {
	s.sweepAll(ctx)
}

func (s *Scheduler) runLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("maintenance scheduler stopped (context cancelled)")
			return
		case <-s.done:
			slog.Info("maintenance scheduler stopped (stop requested)")
			return
		case <-ticker.C:
			s.sweepAll(ctx)
		}
	}
}

func (s *Scheduler) sweepAll(ctx context.Context) {
	for _, task := range s.tasks {
		reclaimed, err := task.Sweep(ctx)
		if err != nil {
			slog.Error("maintenance sweep failed", "task", task.Name, "error", err)
			continue
		}
		if reclaimed > 0 {
			slog.Info("maintenance sweep completed", "task", task.Name, "reclaimed", reclaimed)
		} else {
			slog.Debug("maintenance sweep completed (nothing to reclaim)", "task", task.Name)
		}
	}
}
