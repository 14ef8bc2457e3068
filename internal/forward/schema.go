package forward

import (
	"time"

	"terminal-log-sync/internal/storage"
)

// The external monitor expects field-type fidelity: numbers stay numbers,
// strings stay strings, absent values are null, and the event time is an
// ISO-8601 UTC string. Each stored column is declared here with its semantic
// kind instead of inspecting runtime types.

type FieldKind int

const (
	FieldTimestamp FieldKind = iota
	FieldInteger
	FieldNullableInteger
	FieldNullableString
)

type FieldMapping struct {
	Name string
	Kind FieldKind

	// Exactly one accessor is set, matching the kind.
	Int func(r *storage.AccessLog) *int64
	Str func(r *storage.AccessLog) *string
}

var accessLogSchema = []FieldMapping{
	{Name: "id", Kind: FieldInteger, Int: func(r *storage.AccessLog) *int64 { return &r.ID }},
	{Name: "time", Kind: FieldTimestamp, Int: func(r *storage.AccessLog) *int64 { return &r.Time }},
	{Name: "event", Kind: FieldInteger, Int: func(r *storage.AccessLog) *int64 { return &r.Event }},
	{Name: "device_id", Kind: FieldNullableInteger, Int: func(r *storage.AccessLog) *int64 { return r.DeviceID }},
	{Name: "identifier_id", Kind: FieldNullableInteger, Int: func(r *storage.AccessLog) *int64 { return r.IdentifierID }},
	{Name: "user_id", Kind: FieldNullableInteger, Int: func(r *storage.AccessLog) *int64 { return r.UserID }},
	{Name: "portal_id", Kind: FieldNullableInteger, Int: func(r *storage.AccessLog) *int64 { return r.PortalID }},
	{Name: "identification_rule_id", Kind: FieldNullableInteger, Int: func(r *storage.AccessLog) *int64 { return r.IdentificationRuleID }},
	{Name: "qrcode_value", Kind: FieldNullableString, Str: func(r *storage.AccessLog) *string { return r.QRCodeValue }},
	{Name: "pin_value", Kind: FieldNullableString, Str: func(r *storage.AccessLog) *string { return r.PINValue }},
	{Name: "card_value", Kind: FieldNullableInteger, Int: func(r *storage.AccessLog) *int64 { return r.CardValue }},
	{Name: "confidence", Kind: FieldNullableInteger, Int: func(r *storage.AccessLog) *int64 { return r.Confidence }},
	{Name: "mask", Kind: FieldNullableInteger, Int: func(r *storage.AccessLog) *int64 { return r.Mask }},
	{Name: "log_type_id", Kind: FieldNullableInteger, Int: func(r *storage.AccessLog) *int64 { return r.LogTypeID }},
	{Name: "component_id", Kind: FieldNullableInteger, Int: func(r *storage.AccessLog) *int64 { return r.ComponentID }},
	{Name: "device_internal_id", Kind: FieldInteger, Int: func(r *storage.AccessLog) *int64 { return &r.DeviceInternalID }},
}

// ConvertRecord renders one stored record in the external wire format.
func ConvertRecord(r *storage.AccessLog) map[string]any {
	out := make(map[string]any, len(accessLogSchema))
	for _, f := range accessLogSchema {
		switch f.Kind {
		case FieldTimestamp:
			out[f.Name] = time.Unix(*f.Int(r), 0).UTC().Format(time.RFC3339)
		case FieldInteger:
			out[f.Name] = *f.Int(r)
		case FieldNullableInteger:
			if p := f.Int(r); p != nil {
				out[f.Name] = *p
			} else {
				out[f.Name] = nil
			}
		case FieldNullableString:
			if p := f.Str(r); p != nil {
				out[f.Name] = *p
			} else {
				out[f.Name] = nil
			}
		}
	}
	return out
}
