package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"terminal-log-sync/internal/config"
	"terminal-log-sync/internal/terminal"
)

type SQLProvider struct {
	db *sqlx.DB

	config *config.Storage

	logger *slog.Logger
}

func NewSQLProvider(config *config.Storage, driverName string, dataSource string) (provider *SQLProvider) {
	db, err := sqlx.Open(driverName, dataSource)
	if err != nil {
		return nil
	}

	logger := slog.With("component", "storage")

	return &SQLProvider{
		db:     db,
		config: config,
		logger: logger,
	}
}

func (p *SQLProvider) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

func (p *SQLProvider) GetSchemaVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	err := p.db.GetContext(ctx, &version, "SELECT MAX(version) FROM migrations")
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return int(version.Int64), nil
}

// --- Device registry ---

func (p *SQLProvider) CreateDevice(ctx context.Context, device Device) (int64, error) {
	res, err := p.db.ExecContext(ctx,
		`INSERT INTO devices (name, address, username, password) VALUES (?, ?, ?, ?)`,
		device.Name, device.Address, device.Username, device.Password)
	if err != nil {
		return 0, fmt.Errorf("failed to create device: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read device id: %w", err)
	}
	return id, nil
}

func (p *SQLProvider) GetDevice(ctx context.Context, deviceID int64) (*Device, error) {
	var device Device
	err := p.db.GetContext(ctx, &device,
		`SELECT id, name, address, username, password, created_at FROM devices WHERE id = ?`, deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device %d: %w", deviceID, err)
	}
	return &device, nil
}

func (p *SQLProvider) ListDevices(ctx context.Context) ([]Device, error) {
	var devices []Device
	err := p.db.SelectContext(ctx, &devices,
		`SELECT id, name, address, username, password, created_at FROM devices ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return devices, nil
}

func (p *SQLProvider) DeleteDevice(ctx context.Context, deviceID int64) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, deviceID)
	if err != nil {
		return fmt.Errorf("failed to delete device %d: %w", deviceID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// --- Log store ---

const insertLogQuery = `
	INSERT INTO access_logs (
		id, device_internal_id, time, event, device_id, identifier_id, user_id,
		portal_id, identification_rule_id, qrcode_value, pin_value, card_value,
		confidence, mask, log_type_id, component_id, delivery_status
	) VALUES (
		:id, :device_internal_id, :time, :event, :device_id, :identifier_id, :user_id,
		:portal_id, :identification_rule_id, :qrcode_value, :pin_value, :card_value,
		:confidence, :mask, :log_type_id, :component_id, :delivery_status
	)
	ON CONFLICT (device_internal_id, id) DO NOTHING`

// InsertLogsIfAbsent persists the given events for a device, skipping any
// (device, id) pair that already exists. The whole batch commits in one
// transaction. Returns only the newly inserted rows.
func (p *SQLProvider) InsertLogsIfAbsent(ctx context.Context, deviceID int64, events []terminal.AccessEvent) ([]AccessLog, error) {
	if len(events) == 0 {
		return nil, nil
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var inserted []AccessLog
	for _, event := range events {
		record := AccessLog{
			AccessEvent:      event,
			DeviceInternalID: deviceID,
			DeliveryStatus:   DeliveryUnsent,
		}
		res, err := tx.NamedExecContext(ctx, insertLogQuery, record)
		if err != nil {
			return nil, fmt.Errorf("failed to insert log %d for device %d: %w", event.ID, deviceID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted = append(inserted, record)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit log batch: %w", err)
	}

	return inserted, nil
}

const selectLogColumns = `
	id, device_internal_id, time, event, device_id, identifier_id, user_id,
	portal_id, identification_rule_id, qrcode_value, pin_value, card_value,
	confidence, mask, log_type_id, component_id, delivery_status, sent_at, ack_code`

func (p *SQLProvider) ListLogs(ctx context.Context, deviceID int64, since *int64) ([]AccessLog, error) {
	var logs []AccessLog
	var err error
	if since != nil {
		err = p.db.SelectContext(ctx, &logs,
			`SELECT `+selectLogColumns+` FROM access_logs WHERE device_internal_id = ? AND time >= ? ORDER BY time`,
			deviceID, *since)
	} else {
		err = p.db.SelectContext(ctx, &logs,
			`SELECT `+selectLogColumns+` FROM access_logs WHERE device_internal_id = ? ORDER BY time`,
			deviceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list logs for device %d: %w", deviceID, err)
	}
	return logs, nil
}

// UnsentLogs returns records awaiting their first successful delivery,
// oldest first. A nil deviceID spans all devices.
func (p *SQLProvider) UnsentLogs(ctx context.Context, deviceID *int64) ([]AccessLog, error) {
	var logs []AccessLog
	var err error
	if deviceID != nil {
		err = p.db.SelectContext(ctx, &logs,
			`SELECT `+selectLogColumns+` FROM access_logs WHERE delivery_status = ? AND device_internal_id = ? ORDER BY time`,
			DeliveryUnsent, *deviceID)
	} else {
		err = p.db.SelectContext(ctx, &logs,
			`SELECT `+selectLogColumns+` FROM access_logs WHERE delivery_status = ? ORDER BY time`,
			DeliveryUnsent)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query unsent logs: %w", err)
	}
	return logs, nil
}

// PendingLogs returns every record that still needs forwarding: never sent,
// or sent and rejected. Used by manual resend.
func (p *SQLProvider) PendingLogs(ctx context.Context) ([]AccessLog, error) {
	var logs []AccessLog
	err := p.db.SelectContext(ctx, &logs,
		`SELECT `+selectLogColumns+` FROM access_logs WHERE delivery_status IN (?, ?) ORDER BY time`,
		DeliveryUnsent, DeliveryFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending logs: %w", err)
	}
	return logs, nil
}

// MarkDelivered records the delivery outcome for one record. Idempotent; a
// missing record is a no-op.
func (p *SQLProvider) MarkDelivered(ctx context.Context, deviceID, logID int64, status DeliveryStatus, ackCode string, sentAt time.Time) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE access_logs SET delivery_status = ?, ack_code = ?, sent_at = ? WHERE device_internal_id = ? AND id = ?`,
		status, ackCode, sentAt, deviceID, logID)
	if err != nil {
		return fmt.Errorf("failed to mark log %d delivered for device %d: %w", logID, deviceID, err)
	}
	return nil
}

// --- Checkpoints ---

func (p *SQLProvider) GetCheckpoint(ctx context.Context, deviceID int64) (*int64, error) {
	var lastSeen int64
	err := p.db.GetContext(ctx, &lastSeen,
		`SELECT last_seen_time FROM sync_checkpoints WHERE device_internal_id = ?`, deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint for device %d: %w", deviceID, err)
	}
	return &lastSeen, nil
}

// AdvanceCheckpoint moves the fetch boundary forward. A value at or behind
// the stored one is ignored so the checkpoint never regresses, even when a
// recovery run races with the periodic sync.
func (p *SQLProvider) AdvanceCheckpoint(ctx context.Context, deviceID int64, lastSeen int64) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO sync_checkpoints (device_internal_id, last_seen_time) VALUES (?, ?)
		 ON CONFLICT (device_internal_id) DO UPDATE SET last_seen_time = excluded.last_seen_time
		 WHERE excluded.last_seen_time > sync_checkpoints.last_seen_time`,
		deviceID, lastSeen)
	if err != nil {
		return fmt.Errorf("failed to advance checkpoint for device %d: %w", deviceID, err)
	}
	return nil
}
