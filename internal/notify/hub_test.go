// Starlink IP EDL - Starlink IP range collection and distribution service
// Copyright 2026 koas-mih
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/koas-mih/Starlink-IP-EDL

package notify

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/koas-mih/Starlink-IP-EDL/internal/logging"
	"github.com/koas-mih/Starlink-IP-EDL/internal/models"
)

func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

var testSettings = models.Settings{
	UpdateIntervalMinutes: 60,
	AutoUpdateEnabled:     true,
	NextUpdateAtEpochMs:   1756645200000,
}

// setupHub starts a hub and returns it with a cancel func that stops it.
func setupHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub(func() models.Settings { return testSettings })
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Error("hub did not stop")
		}
	})
	return hub, cancel
}

func recvEvent(t *testing.T, sub *Subscriber) models.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatal("subscriber channel closed unexpectedly")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return models.Event{}
}

func TestSubscriberReceivesConnectedSnapshot(t *testing.T) {
	hub, _ := setupHub(t)

	sub := NewSubscriber()
	hub.Register <- sub

	ev := recvEvent(t, sub)
	if ev.Type != models.EventConnected {
		t.Fatalf("first event type = %q, want %q", ev.Type, models.EventConnected)
	}
	settings, ok := ev.Data.(models.Settings)
	if !ok {
		t.Fatalf("connected payload type = %T, want models.Settings", ev.Data)
	}
	if settings != testSettings {
		t.Errorf("connected payload = %+v, want %+v", settings, testSettings)
	}
}

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	hub, _ := setupHub(t)

	subs := make([]*Subscriber, 3)
	for i := range subs {
		subs[i] = NewSubscriber()
		hub.Register <- subs[i]
		recvEvent(t, subs[i]) // drain connected
	}

	hub.Broadcast(models.EventUpdate, models.UpdateEvent{AddressCount: 42})

	for i, sub := range subs {
		ev := recvEvent(t, sub)
		if ev.Type != models.EventUpdate {
			t.Errorf("subscriber %d got type %q, want update", i, ev.Type)
		}
	}
}

func TestPerSubscriberOrdering(t *testing.T) {
	hub, _ := setupHub(t)

	sub := NewSubscriber()
	hub.Register <- sub
	recvEvent(t, sub)

	for i := 0; i < 5; i++ {
		hub.Broadcast(models.EventUpdate, models.UpdateEvent{AddressCount: i})
	}

	for i := 0; i < 5; i++ {
		ev := recvEvent(t, sub)
		payload := ev.Data.(models.UpdateEvent)
		if payload.AddressCount != i {
			t.Fatalf("event %d carried count %d, delivery out of order", i, payload.AddressCount)
		}
	}
}

func TestSlowSubscriberEvicted(t *testing.T) {
	hub, _ := setupHub(t)

	slow := NewSubscriber()
	healthy := NewSubscriber()
	hub.Register <- slow
	hub.Register <- healthy
	recvEvent(t, healthy)
	// slow never reads: its connected event plus subscriberBuffer-1 more
	// broadcasts fill the channel, the next delivery evicts it.

	for i := 0; i < subscriberBuffer; i++ {
		hub.Broadcast(models.EventUpdate, models.UpdateEvent{AddressCount: i})
	}

	deadline := time.After(2 * time.Second)
	for {
		if hub.SubscriberCount() == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("slow subscriber not evicted, count = %d", hub.SubscriberCount())
		case <-time.After(10 * time.Millisecond):
		}
	}

	// Healthy subscriber still receives events.
	ev := recvEvent(t, healthy)
	if ev.Type != models.EventUpdate {
		t.Errorf("healthy subscriber got %q after eviction of slow peer", ev.Type)
	}
}

func TestUnregisterClosesChannel(t *testing.T) {
	hub, _ := setupHub(t)

	sub := NewSubscriber()
	hub.Register <- sub
	recvEvent(t, sub)

	hub.Unregister <- sub

	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Error("expected closed channel after unregister")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after unregister")
	}
	if got := hub.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount = %d, want 0", got)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	hub := NewHub(func() models.Settings { return testSettings })
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- hub.Run(ctx) }()

	sub := NewSubscriber()
	hub.Register <- sub
	recvEvent(t, sub)

	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if _, ok := <-sub.Events(); ok {
		t.Error("subscriber channel not closed on shutdown")
	}
}

func TestUnregisterAfterShutdownDoesNotBlock(t *testing.T) {
	hub := NewHub(func() models.Settings { return testSettings })
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- hub.Run(ctx) }()

	sub := NewSubscriber()
	hub.Register <- sub
	recvEvent(t, sub)

	cancel()
	select {
	case <-errCh:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	select {
	case <-hub.Done():
	default:
		t.Fatal("Done not closed after shutdown")
	}

	// A handler unwinding after shutdown must not hang on the unregister
	// send; there is no receiver left.
	released := make(chan struct{})
	go func() {
		select {
		case hub.Unregister <- sub:
		case <-hub.Done():
		}
		close(released)
	}()
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("unregister blocked after hub shutdown")
	}
}
