package forward

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"terminal-log-sync/internal/config"
	"terminal-log-sync/internal/storage"
	"terminal-log-sync/internal/terminal"
)

func newTestStore(t *testing.T) (storage.Provider, int64) {
	t.Helper()
	provider := storage.NewProvider(&config.Storage{
		SQLite: &config.SQLLiteStorage{Path: filepath.Join(t.TempDir(), "test.db")},
	})
	if provider == nil {
		t.Fatal("failed to create provider")
	}
	t.Cleanup(func() { provider.Close() })

	deviceID, err := provider.CreateDevice(context.Background(), storage.Device{
		Name: "front door", Address: "10.0.0.5", Username: "admin", Password: "admin",
	})
	if err != nil {
		t.Fatalf("create device: %v", err)
	}
	return provider, deviceID
}

func insertLogs(t *testing.T, provider storage.Provider, deviceID int64, n int) []storage.AccessLog {
	t.Helper()
	user := int64(42)
	events := make([]terminal.AccessEvent, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, terminal.AccessEvent{
			ID:     int64(i + 1),
			Time:   1000 + int64(i)*10,
			Event:  7,
			UserID: &user,
		})
	}
	inserted, err := provider.InsertLogsIfAbsent(context.Background(), deviceID, events)
	if err != nil {
		t.Fatalf("insert logs: %v", err)
	}
	return inserted
}

func newTestForwarder(url string, store storage.Provider, maxAttempts uint) *Forwarder {
	f := NewForwarder(config.MonitorConfig{
		URL:         url,
		Timeout:     2,
		MaxAttempts: maxAttempts,
		Backoff:     1,
	}, store)
	f.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return f
}

func TestDeliver_MapsAcksByPosition(t *testing.T) {
	provider, deviceID := newTestStore(t)
	records := insertLogs(t, provider, deviceID, 2)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var batch struct {
			Objects []map[string]any `json:"objects"`
		}
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			t.Errorf("decode batch: %v", err)
		}
		if len(batch.Objects) != 2 {
			t.Errorf("expected 2 objects, got %d", len(batch.Objects))
		}
		w.Write([]byte(`{"results": ["0", "17"]}`))
	}))
	defer server.Close()

	outcome, err := newTestForwarder(server.URL, provider, 3).Deliver(context.Background(), records)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if outcome.Sent != 1 || outcome.Failed != 1 {
		t.Fatalf("expected 1 sent 1 failed, got %+v", outcome)
	}

	logs, err := provider.ListLogs(context.Background(), deviceID, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if logs[0].DeliveryStatus != storage.DeliverySent {
		t.Fatalf("first record should be sent: %+v", logs[0])
	}
	if logs[1].DeliveryStatus != storage.DeliveryFailed {
		t.Fatalf("second record should be failed: %+v", logs[1])
	}
	if logs[1].AckCode == nil || *logs[1].AckCode != "17" {
		t.Fatalf("rejection code not recorded: %+v", logs[1])
	}
}

func TestDeliver_NumericAckCodes(t *testing.T) {
	provider, deviceID := newTestStore(t)
	records := insertLogs(t, provider, deviceID, 2)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results": [0, 5]}`))
	}))
	defer server.Close()

	outcome, err := newTestForwarder(server.URL, provider, 3).Deliver(context.Background(), records)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if outcome.Sent != 1 || outcome.Failed != 1 {
		t.Fatalf("numeric codes should behave like strings, got %+v", outcome)
	}
}

func TestDeliver_MissingAckAssumesAccepted(t *testing.T) {
	provider, deviceID := newTestStore(t)
	records := insertLogs(t, provider, deviceID, 3)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	outcome, err := newTestForwarder(server.URL, provider, 3).Deliver(context.Background(), records)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if !outcome.AckMissing {
		t.Fatal("expected AckMissing flag")
	}
	if outcome.Sent != 3 || outcome.Failed != 0 {
		t.Fatalf("all records should count as sent, got %+v", outcome)
	}

	unsent, err := provider.UnsentLogs(context.Background(), &deviceID)
	if err != nil {
		t.Fatalf("unsent: %v", err)
	}
	if len(unsent) != 0 {
		t.Fatalf("expected no unsent records, got %d", len(unsent))
	}
}

func TestDeliver_RetriesThenSucceeds(t *testing.T) {
	provider, deviceID := newTestStore(t)
	records := insertLogs(t, provider, deviceID, 1)

	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"results": ["0"]}`))
	}))
	defer server.Close()

	outcome, err := newTestForwarder(server.URL, provider, 3).Deliver(context.Background(), records)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if outcome.Sent != 1 {
		t.Fatalf("expected record sent after retry, got %+v", outcome)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestDeliver_ExhaustedRetriesLeaveRecordsUnsent(t *testing.T) {
	provider, deviceID := newTestStore(t)
	records := insertLogs(t, provider, deviceID, 2)

	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := newTestForwarder(server.URL, provider, 3).Deliver(context.Background(), records)
	var deliveryErr *DeliveryError
	if !errors.As(err, &deliveryErr) {
		t.Fatalf("expected DeliveryError, got %v", err)
	}
	if deliveryErr.Attempts != 3 || calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d (%d calls)", deliveryErr.Attempts, calls.Load())
	}

	// Nothing was acknowledged, nothing may be marked sent.
	unsent, err := provider.UnsentLogs(context.Background(), &deviceID)
	if err != nil {
		t.Fatalf("unsent: %v", err)
	}
	if len(unsent) != 2 {
		t.Fatalf("records must stay unsent, got %d unsent", len(unsent))
	}
}

func TestDeliver_EmptyBatch(t *testing.T) {
	provider, _ := newTestStore(t)

	outcome, err := newTestForwarder("http://monitor.invalid", provider, 1).Deliver(context.Background(), nil)
	if err != nil {
		t.Fatalf("empty batch should be a no-op: %v", err)
	}
	if outcome.Sent != 0 || outcome.Failed != 0 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
}

func TestDeliver_DisabledWithoutURL(t *testing.T) {
	provider, deviceID := newTestStore(t)
	records := insertLogs(t, provider, deviceID, 1)

	f := newTestForwarder("", provider, 1)
	if f.Enabled() {
		t.Fatal("forwarder without URL should be disabled")
	}
	if _, err := f.Deliver(context.Background(), records); err != nil {
		t.Fatalf("disabled deliver should be a no-op: %v", err)
	}
}

func TestResendPending_PicksUpFailedRecords(t *testing.T) {
	provider, deviceID := newTestStore(t)
	insertLogs(t, provider, deviceID, 2)

	// One record previously rejected, one never sent.
	if err := provider.MarkDelivered(context.Background(), deviceID, 1, storage.DeliveryFailed, "9", time.Now().UTC()); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results": ["0", "0"]}`))
	}))
	defer server.Close()

	outcome, err := newTestForwarder(server.URL, provider, 3).ResendPending(context.Background())
	if err != nil {
		t.Fatalf("resend: %v", err)
	}
	if outcome.Sent != 2 {
		t.Fatalf("expected both pending records delivered, got %+v", outcome)
	}
}
