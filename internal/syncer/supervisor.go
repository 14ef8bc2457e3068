package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"terminal-log-sync/internal/config"
	"terminal-log-sync/internal/storage"
)

var ErrAlreadyMonitoring = errors.New("device is already being monitored")

// Notifier receives reports of failed sync runs. An implementation may
// rate-limit or fan out however it likes; nil disables reporting.
type Notifier interface {
	SyncFailure(deviceID int64, deviceName string, err error)
}

type workerHandle struct {
	cancel  context.CancelFunc
	done    chan struct{}
	trigger chan struct{}
}

// Supervisor owns one background worker per monitored device. Each worker
// runs the pipeline immediately on start, then on a fixed interval, and on
// demand via Trigger.
type Supervisor struct {
	runner     *Runner
	interval   time.Duration
	runTimeout time.Duration
	notifier   Notifier
	logger     *slog.Logger

	mu      sync.Mutex
	workers map[int64]*workerHandle
}

func NewSupervisor(runner *Runner, cfg config.SyncConfig, notifier Notifier) *Supervisor {
	return &Supervisor{
		runner:     runner,
		interval:   time.Duration(cfg.Interval) * time.Second,
		runTimeout: time.Duration(cfg.RunTimeout) * time.Second,
		notifier:   notifier,
		logger:     slog.With("component", "syncer"),
		workers:    make(map[int64]*workerHandle),
	}
}

// Start launches a monitoring worker for the device. At most one worker per
// device exists at a time.
func (s *Supervisor) Start(device storage.Device) error {
	s.mu.Lock()
	if _, ok := s.workers[device.ID]; ok {
		s.mu.Unlock()
		return ErrAlreadyMonitoring
	}
	ctx, cancel := context.WithCancel(context.Background())
	handle := &workerHandle{
		cancel:  cancel,
		done:    make(chan struct{}),
		trigger: make(chan struct{}, 1),
	}
	s.workers[device.ID] = handle
	s.mu.Unlock()

	go s.work(ctx, device, handle)

	s.logger.Info("Started monitoring", "device_id", device.ID, "device", device.Name)
	return nil
}

// Stop halts the device's worker and waits for an in-flight run to finish.
// Stopping a device that is not monitored is a no-op. Returns whether a
// worker was actually stopped.
func (s *Supervisor) Stop(deviceID int64) bool {
	s.mu.Lock()
	handle, ok := s.workers[deviceID]
	if ok {
		delete(s.workers, deviceID)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}

	handle.cancel()
	<-handle.done

	s.logger.Info("Stopped monitoring", "device_id", deviceID)
	return true
}

// StopAll stops every worker, waiting for each to drain.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.Stop(id)
	}
}

func (s *Supervisor) Monitoring(deviceID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.workers[deviceID]
	return ok
}

// Trigger requests an immediate out-of-cycle run. Returns false when the
// device is not monitored. A trigger while a run is already queued is
// coalesced into it.
func (s *Supervisor) Trigger(deviceID int64) bool {
	s.mu.Lock()
	handle, ok := s.workers[deviceID]
	s.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case handle.trigger <- struct{}{}:
	default:
	}
	return true
}

func (s *Supervisor) work(ctx context.Context, device storage.Device, handle *workerHandle) {
	defer close(handle.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runOnce(ctx, device)

	for {
		// A trigger that arrived during the last run would only start a
		// redundant back-to-back run; drop it.
		select {
		case <-handle.trigger:
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, device)
		case <-handle.trigger:
			s.runOnce(ctx, device)
		}
	}
}

func (s *Supervisor) runOnce(ctx context.Context, device storage.Device) {
	// Stopping the worker must not abort a run mid-write; the run gets its
	// own deadline detached from the worker context.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.runTimeout)
	defer cancel()

	if err := s.runner.RunOnce(runCtx, device); err != nil {
		s.logger.Error("Sync run failed, waiting for next cycle",
			"device_id", device.ID, "device", device.Name, "error", err)
		if s.notifier != nil {
			s.notifier.SyncFailure(device.ID, device.Name, err)
		}
	}
}
