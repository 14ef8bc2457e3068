// Package syncer orchestrates the per-device synchronization pipeline:
// ensure session, fetch since checkpoint, store idempotently, advance the
// checkpoint, forward unsent records.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"terminal-log-sync/internal/config"
	"terminal-log-sync/internal/fetch"
	"terminal-log-sync/internal/forward"
	"terminal-log-sync/internal/session"
	"terminal-log-sync/internal/storage"
	"terminal-log-sync/internal/terminal"
)

// Runner executes one sync cycle for one device. A failing pipeline is
// retried as a whole a bounded number of times with a fixed delay; after
// that the cycle gives up and the next periodic trigger gets a fresh chance.
type Runner struct {
	store     storage.Provider
	fetcher   *fetch.Fetcher
	keeper    *session.Keeper
	forwarder *forward.Forwarder

	retries    int
	retryDelay time.Duration
	logger     *slog.Logger

	// Overridable for tests
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRunner(store storage.Provider, fetcher *fetch.Fetcher, keeper *session.Keeper, forwarder *forward.Forwarder, cfg config.SyncConfig) *Runner {
	return &Runner{
		store:      store,
		fetcher:    fetcher,
		keeper:     keeper,
		forwarder:  forwarder,
		retries:    int(cfg.RunRetries),
		retryDelay: time.Duration(cfg.RetryDelay) * time.Second,
		logger:     slog.With("component", "syncer"),
		sleep:      sleepCtx,
	}
}

// RunOnce runs the pipeline, retrying the whole sequence on failure.
func (r *Runner) RunOnce(ctx context.Context, device storage.Device) error {
	var lastErr error
	for attempt := 0; attempt <= r.retries; attempt++ {
		if attempt > 0 {
			if err := r.sleep(ctx, r.retryDelay); err != nil {
				return err
			}
		}

		err := r.runPipeline(ctx, device)
		if err == nil {
			return nil
		}
		lastErr = err
		r.logger.Warn("Sync attempt failed", "device_id", device.ID, "attempt", attempt+1, "error", err)
	}
	return lastErr
}

func (r *Runner) runPipeline(ctx context.Context, device storage.Device) error {
	checkpoint, err := r.store.GetCheckpoint(ctx, device.ID)
	if err != nil {
		return err
	}

	// Resume one second past the checkpoint so the boundary record is not
	// fetched again. First sync falls back to the fetcher's day-start
	// heuristic.
	var since *int64
	if checkpoint != nil {
		from := *checkpoint + 1
		since = &from
	}

	events, err := r.fetchWithRecovery(ctx, device, since)
	if err != nil {
		return err
	}

	if len(events) > 0 {
		inserted, err := r.store.InsertLogsIfAbsent(ctx, device.ID, events)
		if err != nil {
			return fmt.Errorf("failed to persist fetched logs: %w", err)
		}

		// Everything fetched is durably stored now, either from this batch
		// or from an earlier one, so the checkpoint may cover all of it.
		var maxTime int64
		for _, event := range events {
			if event.Time > maxTime {
				maxTime = event.Time
			}
		}
		if err := r.store.AdvanceCheckpoint(ctx, device.ID, maxTime); err != nil {
			return err
		}

		r.logger.Info("Stored new access logs",
			"device_id", device.ID, "fetched", len(events), "new", len(inserted))
	} else {
		r.logger.Debug("No new access logs", "device_id", device.ID)
	}

	// Forward whatever is still unsent for this device, not just this
	// cycle's records, so an earlier failed delivery is picked up again.
	unsent, err := r.store.UnsentLogs(ctx, &device.ID)
	if err != nil {
		return err
	}
	if len(unsent) > 0 && r.forwarder.Enabled() {
		if _, err := r.forwarder.Deliver(ctx, unsent); err != nil {
			return err
		}
	}

	return nil
}

// On an authentication failure mid-fetch, force a re-login and retry the
// fetch exactly once.
func (r *Runner) fetchWithRecovery(ctx context.Context, device storage.Device, since *int64) ([]terminal.AccessEvent, error) {
	events, err := r.fetcher.FetchSince(ctx, device, since)
	if err != nil && errors.Is(err, terminal.ErrSessionExpired) {
		r.logger.Info("Session rejected mid-fetch, re-authenticating", "device_id", device.ID)
		if _, aerr := r.keeper.Reauthenticate(ctx, device); aerr != nil {
			return nil, aerr
		}
		events, err = r.fetcher.FetchSince(ctx, device, since)
	}
	return events, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
