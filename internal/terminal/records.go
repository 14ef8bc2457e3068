package terminal

// AccessEvent is a single access log record as reported by the terminal.
// The record id is unique only within one terminal; callers must key records
// by (device, id). Events are immutable once fetched.
//
// The db tags are used by the storage layer, which persists events verbatim.
type AccessEvent struct {
	ID    int64 `json:"id" db:"id"`
	Time  int64 `json:"time" db:"time"`
	Event int64 `json:"event" db:"event"`

	// The terminal's own hardware identifier, not the registry id.
	DeviceID             *int64  `json:"device_id" db:"device_id"`
	IdentifierID         *int64  `json:"identifier_id" db:"identifier_id"`
	UserID               *int64  `json:"user_id" db:"user_id"`
	PortalID             *int64  `json:"portal_id" db:"portal_id"`
	IdentificationRuleID *int64  `json:"identification_rule_id" db:"identification_rule_id"`
	QRCodeValue          *string `json:"qrcode_value" db:"qrcode_value"`
	PINValue             *string `json:"pin_value" db:"pin_value"`
	CardValue            *int64  `json:"card_value" db:"card_value"`
	Confidence           *int64  `json:"confidence" db:"confidence"`
	Mask                 *int64  `json:"mask" db:"mask"`
	LogTypeID            *int64  `json:"log_type_id" db:"log_type_id"`
	ComponentID          *int64  `json:"component_id" db:"component_id"`
}
