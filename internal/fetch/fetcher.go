// Package fetch pulls new access log records from a terminal.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"terminal-log-sync/internal/session"
	"terminal-log-sync/internal/storage"
	"terminal-log-sync/internal/terminal"
)

// FetchError means the device was unreachable or returned a malformed or
// rejected response. It unwraps, so callers can still branch on
// terminal.ErrSessionExpired.
type FetchError struct {
	DeviceID int64
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch failed for device %d: %v", e.DeviceID, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

type Fetcher struct {
	client *terminal.Client
	keeper *session.Keeper
	logger *slog.Logger

	// Overridable for tests
	now func() time.Time
}

func NewFetcher(client *terminal.Client, keeper *session.Keeper) *Fetcher {
	return &Fetcher{
		client: client,
		keeper: keeper,
		logger: slog.With("component", "fetch"),
		now:    time.Now,
	}
}

// FetchSince returns records with event time at or after since. A nil since
// defaults to the start of the current local day (first-sync heuristic);
// callers resuming from a checkpoint pass checkpoint+1 so the boundary
// record is not fetched twice.
//
// When the terminal rejects the session mid-fetch the error unwraps to
// terminal.ErrSessionExpired; the caller forces re-authentication and
// retries once.
func (f *Fetcher) FetchSince(ctx context.Context, device storage.Device, since *int64) ([]terminal.AccessEvent, error) {
	token, err := f.keeper.EnsureSession(ctx, device)
	if err != nil {
		return nil, err
	}

	start := f.startTime(since)
	events, err := f.client.LoadAccessLogs(ctx, device.Address, token, &start)
	if err != nil {
		f.keeper.Invalidate(device.ID)
		return nil, &FetchError{DeviceID: device.ID, Err: err}
	}

	f.logger.Debug("Fetched access logs", "device_id", device.ID, "since", start, "count", len(events))
	return events, nil
}

func (f *Fetcher) startTime(since *int64) int64 {
	if since != nil {
		return *since
	}
	now := f.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return dayStart.Unix()
}
