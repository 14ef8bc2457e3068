// Package forward posts stored access logs to the external monitoring
// endpoint and books per-record delivery outcomes back into storage.
package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"terminal-log-sync/internal/config"
	"terminal-log-sync/internal/storage"
)

// DeliveryError means the batch could not be handed to the external monitor
// after all attempts. No record was marked delivered.
type DeliveryError struct {
	Attempts int
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Outcome summarizes one delivery batch.
type Outcome struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
	// The monitor accepted the batch without a per-record acknowledgment
	// list; every record was assumed sent.
	AckMissing bool   `json:"ack_missing,omitempty"`
	BatchID    string `json:"batch_id,omitempty"`
}

// ackCode accepts both string and numeric acknowledgment codes.
type ackCode string

func (a *ackCode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*a = ackCode(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*a = ackCode(n.String())
		return nil
	}
	return fmt.Errorf("unsupported acknowledgment code: %s", data)
}

const ackOK = "0"

type ackResponse struct {
	Results []ackCode `json:"results"`
}

// Forwarder converts records to the external wire format and posts them in a
// single batch per call. Transport failures retry with a doubling delay
// (initial backoff from config, bounded by max_attempts); records stay
// unsent until the monitor has actually accepted them.
type Forwarder struct {
	url         string
	maxAttempts int
	backoff     time.Duration
	http        *http.Client
	store       storage.Provider
	logger      *slog.Logger

	// Overridable for tests
	sleep func(ctx context.Context, d time.Duration) error
}

func NewForwarder(cfg config.MonitorConfig, store storage.Provider) *Forwarder {
	maxAttempts := int(cfg.MaxAttempts)
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Forwarder{
		url:         cfg.URL,
		maxAttempts: maxAttempts,
		backoff:     time.Duration(cfg.Backoff) * time.Second,
		http:        &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second},
		store:       store,
		logger:      slog.With("component", "forward"),
		sleep:       sleepCtx,
	}
}

// Enabled reports whether an external monitor endpoint is configured.
func (f *Forwarder) Enabled() bool {
	return f.url != ""
}

// Deliver posts the given records as one batch and records each outcome via
// the store. On permanent transport failure every record keeps its current
// delivery status; nothing is ever marked sent without a successful HTTP
// response.
func (f *Forwarder) Deliver(ctx context.Context, records []storage.AccessLog) (*Outcome, error) {
	if len(records) == 0 || !f.Enabled() {
		return &Outcome{}, nil
	}

	batchID := uuid.NewString()
	logger := f.logger.With("batch_id", batchID, "count", len(records))

	objects := make([]map[string]any, 0, len(records))
	for i := range records {
		objects = append(objects, ConvertRecord(&records[i]))
	}
	body, err := json.Marshal(map[string]any{"objects": objects})
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch: %w", err)
	}

	ack, err := f.postWithRetry(ctx, body, logger)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{BatchID: batchID}
	if ack.Results == nil {
		// The monitor accepted the batch but sent no per-record results.
		// Assume acceptance, but flag the lower confidence.
		outcome.AckMissing = true
		logger.Warn("Monitor response carried no acknowledgment list, assuming batch accepted")
	}

	now := time.Now().UTC()
	var storeErr error
	for i := range records {
		status := storage.DeliverySent
		code := ackOK
		if ack.Results != nil && i < len(ack.Results) {
			code = string(ack.Results[i])
			if code != ackOK {
				status = storage.DeliveryFailed
			}
		}

		if status == storage.DeliverySent {
			outcome.Sent++
		} else {
			outcome.Failed++
		}

		err := f.store.MarkDelivered(ctx, records[i].DeviceInternalID, records[i].ID, status, code, now)
		if err != nil {
			logger.Error("Failed to record delivery status", "log_id", records[i].ID, "error", err)
			storeErr = err
		}
	}

	logger.Info("Batch delivered", "sent", outcome.Sent, "failed", outcome.Failed)
	if storeErr != nil {
		return outcome, fmt.Errorf("delivery bookkeeping incomplete: %w", storeErr)
	}
	return outcome, nil
}

// ResendPending re-forwards every record that is still unsent or was
// rejected, across all devices.
func (f *Forwarder) ResendPending(ctx context.Context) (*Outcome, error) {
	pending, err := f.store.PendingLogs(ctx)
	if err != nil {
		return nil, err
	}
	return f.Deliver(ctx, pending)
}

func (f *Forwarder) postWithRetry(ctx context.Context, body []byte, logger *slog.Logger) (*ackResponse, error) {
	delay := f.backoff
	var lastErr error

	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		ack, err := f.post(ctx, body)
		if err == nil {
			return ack, nil
		}
		lastErr = err

		logger.Warn("Delivery attempt failed", "attempt", attempt, "error", err)
		if attempt < f.maxAttempts {
			if err := f.sleep(ctx, delay); err != nil {
				return nil, &DeliveryError{Attempts: attempt, Err: err}
			}
			delay *= 2
		}
	}

	return nil, &DeliveryError{Attempts: f.maxAttempts, Err: lastErr}
}

func (f *Forwarder) post(ctx context.Context, body []byte) (*ackResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("monitor unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("monitor rejected batch: HTTP %d", resp.StatusCode)
	}

	var ack ackResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		// Malformed acknowledgment on a 2xx response counts as acceptance.
		return &ackResponse{}, nil
	}
	return &ack, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
