// Starlink IP EDL - Starlink IP range collection and distribution service
// Copyright 2026 koas-mih
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/koas-mih/Starlink-IP-EDL

package services

import (
	"context"
)

// RefreshScheduler matches *scheduler.Scheduler's lifecycle methods.
type RefreshScheduler interface {
	Start(ctx context.Context) error
	Stop()
}

// SchedulerService bridges the scheduler's Start/Stop lifecycle to
// suture's blocking Serve: Start launches the loop, Serve blocks on the
// context, and Stop waits for an in-flight cycle to finish.
type SchedulerService struct {
	scheduler RefreshScheduler
}

// NewSchedulerService creates a scheduler service wrapper.
func NewSchedulerService(scheduler RefreshScheduler) *SchedulerService {
	return &SchedulerService{scheduler: scheduler}
}

// Serve implements suture.Service.
func (s *SchedulerService) Serve(ctx context.Context) error {
	if err := s.scheduler.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.scheduler.Stop()
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor logging.
func (s *SchedulerService) String() string {
	return "refresh-scheduler"
}
