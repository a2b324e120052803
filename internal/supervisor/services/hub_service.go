// Starlink IP EDL - Starlink IP range collection and distribution service
// Copyright 2026 koas-mih
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/koas-mih/Starlink-IP-EDL

package services

import (
	"context"
)

// EventHub matches *notify.Hub's Run method.
type EventHub interface {
	Run(ctx context.Context) error
}

// HubService wraps the notification hub as a supervised service. The hub's
// Run method already follows the suture pattern, so this only adds the
// service name.
type HubService struct {
	hub EventHub
}

// NewHubService creates a hub service wrapper.
func NewHubService(hub EventHub) *HubService {
	return &HubService{hub: hub}
}

// Serve implements suture.Service.
func (s *HubService) Serve(ctx context.Context) error {
	return s.hub.Run(ctx)
}

// String implements fmt.Stringer for supervisor logging.
func (s *HubService) String() string {
	return "notify-hub"
}
