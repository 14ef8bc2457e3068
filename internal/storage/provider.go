package storage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"terminal-log-sync/internal/config"
	"terminal-log-sync/internal/terminal"
)

var ErrDeviceNotFound = errors.New("device not found")

type Provider interface {
	Close() error
	GetSchemaVersion(ctx context.Context) (int, error)

	// Device registry methods
	CreateDevice(ctx context.Context, device Device) (int64, error)
	GetDevice(ctx context.Context, deviceID int64) (*Device, error)
	ListDevices(ctx context.Context) ([]Device, error)
	DeleteDevice(ctx context.Context, deviceID int64) error

	// Log store methods
	InsertLogsIfAbsent(ctx context.Context, deviceID int64, events []terminal.AccessEvent) ([]AccessLog, error)
	ListLogs(ctx context.Context, deviceID int64, since *int64) ([]AccessLog, error)
	UnsentLogs(ctx context.Context, deviceID *int64) ([]AccessLog, error)
	PendingLogs(ctx context.Context) ([]AccessLog, error)
	MarkDelivered(ctx context.Context, deviceID, logID int64, status DeliveryStatus, ackCode string, sentAt time.Time) error

	// Checkpoint methods
	GetCheckpoint(ctx context.Context, deviceID int64) (*int64, error)
	AdvanceCheckpoint(ctx context.Context, deviceID int64, lastSeen int64) error
}

func NewProvider(config *config.Storage) Provider {
	switch {
	case config.SQLite != nil:
		provider := NewSQLiteProvider(config)
		if err := provider.runMigrations("sqlite3"); err != nil {
			slog.Error("Failed to run migrations", "error", err)
			return nil
		}
		return provider

	default:
		slog.Error("Unsupported storage configuration", "config", config)
	}

	return nil
}
