package storage

import (
	"time"

	"terminal-log-sync/internal/terminal"
)

// DeliveryStatus tracks whether a stored record has been forwarded to the
// external monitor.
type DeliveryStatus string

const (
	DeliveryUnsent DeliveryStatus = "unsent"
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

// Device is a registered access terminal.
type Device struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Address   string    `db:"address" json:"address"`
	Username  string    `db:"username" json:"-"`
	Password  string    `db:"password" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// AccessLog is a stored access event. Rows are immutable after insert except
// for the delivery bookkeeping columns.
type AccessLog struct {
	terminal.AccessEvent

	// Registry id of the device the record was fetched from. Together with
	// the event id this forms the storage key.
	DeviceInternalID int64 `db:"device_internal_id" json:"device_internal_id"`

	DeliveryStatus DeliveryStatus `db:"delivery_status" json:"delivery_status"`
	SentAt         *time.Time     `db:"sent_at" json:"sent_at,omitempty"`
	AckCode        *string        `db:"ack_code" json:"ack_code,omitempty"`
}
