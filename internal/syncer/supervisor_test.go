package syncer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"terminal-log-sync/internal/config"
)

func newTestSupervisor(env *testEnv, notifier Notifier) *Supervisor {
	// Interval far beyond the test runtime; runs happen on start and on
	// trigger only.
	return NewSupervisor(env.runner, config.SyncConfig{
		Interval:   3600,
		RunTimeout: 30,
	}, notifier)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type recordingNotifier struct {
	mu       sync.Mutex
	failures []error
}

func (n *recordingNotifier) SyncFailure(deviceID int64, deviceName string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, err)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.failures)
}

func TestSupervisor_StartRunsImmediately(t *testing.T) {
	env := newTestEnv(t, ackAllMonitor(t))
	env.fake.addEvent(1, env.base, 42)

	supervisor := newTestSupervisor(env, nil)
	if err := supervisor.Start(env.device); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer supervisor.StopAll()

	waitFor(t, "initial sync run", func() bool {
		logs, _ := env.store.ListLogs(context.Background(), env.device.ID, nil)
		return len(logs) == 1
	})
}

func TestSupervisor_SecondStartRejected(t *testing.T) {
	env := newTestEnv(t, ackAllMonitor(t))

	supervisor := newTestSupervisor(env, nil)
	if err := supervisor.Start(env.device); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer supervisor.StopAll()

	if err := supervisor.Start(env.device); !errors.Is(err, ErrAlreadyMonitoring) {
		t.Fatalf("expected ErrAlreadyMonitoring, got %v", err)
	}
	if !supervisor.Monitoring(env.device.ID) {
		t.Fatal("device should be monitored")
	}
}

func TestSupervisor_TriggerRunsOutOfCycle(t *testing.T) {
	env := newTestEnv(t, ackAllMonitor(t))

	supervisor := newTestSupervisor(env, nil)
	if err := supervisor.Start(env.device); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer supervisor.StopAll()

	// Let the initial empty run settle, then add an event and trigger.
	waitFor(t, "initial run", func() bool {
		env.fake.mu.Lock()
		defer env.fake.mu.Unlock()
		return len(env.fake.sinceFilters) >= 1
	})

	env.fake.addEvent(1, env.base, 42)
	if !supervisor.Trigger(env.device.ID) {
		t.Fatal("trigger should succeed for a monitored device")
	}

	waitFor(t, "triggered run", func() bool {
		logs, _ := env.store.ListLogs(context.Background(), env.device.ID, nil)
		return len(logs) == 1
	})
}

func TestSupervisor_StopIsIdempotent(t *testing.T) {
	env := newTestEnv(t, ackAllMonitor(t))

	supervisor := newTestSupervisor(env, nil)
	if err := supervisor.Start(env.device); err != nil {
		t.Fatalf("start: %v", err)
	}

	if !supervisor.Stop(env.device.ID) {
		t.Fatal("first stop should report a stopped worker")
	}
	if supervisor.Stop(env.device.ID) {
		t.Fatal("second stop must be a no-op")
	}
	if supervisor.Monitoring(env.device.ID) {
		t.Fatal("device should no longer be monitored")
	}
	if supervisor.Trigger(env.device.ID) {
		t.Fatal("trigger after stop should report not monitored")
	}
}

func TestSupervisor_NotifiesOnFailedRun(t *testing.T) {
	// Monitor always rejects, every run fails.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	env := newTestEnv(t, server.URL)
	env.fake.addEvent(1, env.base, 42)

	notifier := &recordingNotifier{}
	supervisor := newTestSupervisor(env, notifier)
	if err := supervisor.Start(env.device); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer supervisor.StopAll()

	waitFor(t, "failure notification", func() bool {
		return notifier.count() >= 1
	})
}
