package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"terminal-log-sync/internal/config"
	"terminal-log-sync/internal/terminal"
)

func newTestProvider(t *testing.T) Provider {
	t.Helper()
	// Not :memory:, the pool would hand each connection its own empty db.
	provider := NewProvider(&config.Storage{
		SQLite: &config.SQLLiteStorage{Path: filepath.Join(t.TempDir(), "test.db")},
	})
	if provider == nil {
		t.Fatal("failed to create provider")
	}
	t.Cleanup(func() { provider.Close() })
	return provider
}

func newTestDevice(t *testing.T, provider Provider) int64 {
	t.Helper()
	id, err := provider.CreateDevice(context.Background(), Device{
		Name:     "front door",
		Address:  "10.0.0.5",
		Username: "admin",
		Password: "admin",
	})
	if err != nil {
		t.Fatalf("create device: %v", err)
	}
	return id
}

func event(id, ts int64) terminal.AccessEvent {
	user := int64(42)
	return terminal.AccessEvent{
		ID:     id,
		Time:   ts,
		Event:  7,
		UserID: &user,
	}
}

func TestSchemaVersion(t *testing.T) {
	provider := newTestProvider(t)

	version, err := provider.GetSchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if version < 1 {
		t.Fatalf("expected at least schema version 1, got %d", version)
	}
}

func TestDeviceLifecycle(t *testing.T) {
	provider := newTestProvider(t)
	ctx := context.Background()

	id := newTestDevice(t, provider)

	device, err := provider.GetDevice(ctx, id)
	if err != nil {
		t.Fatalf("get device: %v", err)
	}
	if device.Name != "front door" || device.Address != "10.0.0.5" {
		t.Fatalf("unexpected device: %+v", device)
	}

	devices, err := provider.ListDevices(ctx)
	if err != nil {
		t.Fatalf("list devices: %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("expected 1 device, got %d", len(devices))
	}

	if err := provider.DeleteDevice(ctx, id); err != nil {
		t.Fatalf("delete device: %v", err)
	}
	if _, err := provider.GetDevice(ctx, id); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
	if err := provider.DeleteDevice(ctx, id); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("second delete should report not found, got %v", err)
	}
}

func TestInsertLogsIfAbsent_Idempotent(t *testing.T) {
	provider := newTestProvider(t)
	ctx := context.Background()
	deviceID := newTestDevice(t, provider)

	events := []terminal.AccessEvent{event(1, 1000), event(2, 1010)}

	inserted, err := provider.InsertLogsIfAbsent(ctx, deviceID, events)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if len(inserted) != 2 {
		t.Fatalf("expected 2 inserted, got %d", len(inserted))
	}

	// Overlapping batch: one duplicate, one new.
	again, err := provider.InsertLogsIfAbsent(ctx, deviceID, []terminal.AccessEvent{event(2, 1010), event(3, 1020)})
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if len(again) != 1 || again[0].ID != 3 {
		t.Fatalf("expected only event 3 inserted, got %+v", again)
	}

	logs, err := provider.ListLogs(ctx, deviceID, nil)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("expected 3 stored logs, got %d", len(logs))
	}
	for _, l := range logs {
		if l.DeliveryStatus != DeliveryUnsent {
			t.Fatalf("new logs should be unsent, got %s", l.DeliveryStatus)
		}
	}
}

func TestSameEventIDOnDifferentDevices(t *testing.T) {
	provider := newTestProvider(t)
	ctx := context.Background()
	first := newTestDevice(t, provider)
	second := newTestDevice(t, provider)

	if _, err := provider.InsertLogsIfAbsent(ctx, first, []terminal.AccessEvent{event(1, 1000)}); err != nil {
		t.Fatalf("insert first: %v", err)
	}
	inserted, err := provider.InsertLogsIfAbsent(ctx, second, []terminal.AccessEvent{event(1, 1000)})
	if err != nil {
		t.Fatalf("insert second: %v", err)
	}
	if len(inserted) != 1 {
		t.Fatalf("terminal-local ids must not collide across devices, got %d inserted", len(inserted))
	}
}

func TestListLogs_SinceFilter(t *testing.T) {
	provider := newTestProvider(t)
	ctx := context.Background()
	deviceID := newTestDevice(t, provider)

	if _, err := provider.InsertLogsIfAbsent(ctx, deviceID, []terminal.AccessEvent{
		event(1, 1000), event(2, 2000), event(3, 3000),
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	since := int64(2000)
	logs, err := provider.ListLogs(ctx, deviceID, &since)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("since filter is inclusive, expected 2 logs, got %d", len(logs))
	}
	if logs[0].Time != 2000 || logs[1].Time != 3000 {
		t.Fatalf("logs should be time ordered: %+v", logs)
	}
}

func TestDeliveryBookkeeping(t *testing.T) {
	provider := newTestProvider(t)
	ctx := context.Background()
	deviceID := newTestDevice(t, provider)

	if _, err := provider.InsertLogsIfAbsent(ctx, deviceID, []terminal.AccessEvent{
		event(1, 1000), event(2, 2000), event(3, 3000),
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	sentAt := time.Now().UTC().Truncate(time.Second)
	if err := provider.MarkDelivered(ctx, deviceID, 1, DeliverySent, "0", sentAt); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if err := provider.MarkDelivered(ctx, deviceID, 2, DeliveryFailed, "5", sentAt); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	unsent, err := provider.UnsentLogs(ctx, &deviceID)
	if err != nil {
		t.Fatalf("unsent: %v", err)
	}
	if len(unsent) != 1 || unsent[0].ID != 3 {
		t.Fatalf("expected only event 3 unsent, got %+v", unsent)
	}

	// Pending picks up failed records for redelivery too.
	pending, err := provider.PendingLogs(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}

	logs, err := provider.ListLogs(ctx, deviceID, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if logs[0].AckCode == nil || *logs[0].AckCode != "0" {
		t.Fatalf("ack code not recorded: %+v", logs[0])
	}
	if logs[0].SentAt == nil {
		t.Fatalf("sent_at not recorded: %+v", logs[0])
	}

	// Marking a record that does not exist is a no-op.
	if err := provider.MarkDelivered(ctx, deviceID, 99, DeliverySent, "0", sentAt); err != nil {
		t.Fatalf("mark absent: %v", err)
	}
}

func TestCheckpointMonotonic(t *testing.T) {
	provider := newTestProvider(t)
	ctx := context.Background()
	deviceID := newTestDevice(t, provider)

	checkpoint, err := provider.GetCheckpoint(ctx, deviceID)
	if err != nil {
		t.Fatalf("get checkpoint: %v", err)
	}
	if checkpoint != nil {
		t.Fatalf("expected no checkpoint yet, got %d", *checkpoint)
	}

	if err := provider.AdvanceCheckpoint(ctx, deviceID, 5000); err != nil {
		t.Fatalf("advance: %v", err)
	}
	// Older value must not move the checkpoint back.
	if err := provider.AdvanceCheckpoint(ctx, deviceID, 4000); err != nil {
		t.Fatalf("advance older: %v", err)
	}

	checkpoint, err = provider.GetCheckpoint(ctx, deviceID)
	if err != nil {
		t.Fatalf("get checkpoint: %v", err)
	}
	if checkpoint == nil || *checkpoint != 5000 {
		t.Fatalf("expected checkpoint 5000, got %v", checkpoint)
	}

	if err := provider.AdvanceCheckpoint(ctx, deviceID, 6000); err != nil {
		t.Fatalf("advance newer: %v", err)
	}
	checkpoint, _ = provider.GetCheckpoint(ctx, deviceID)
	if checkpoint == nil || *checkpoint != 6000 {
		t.Fatalf("expected checkpoint 6000, got %v", checkpoint)
	}
}
