package forward

import (
	"encoding/json"
	"testing"

	"terminal-log-sync/internal/storage"
	"terminal-log-sync/internal/terminal"
)

func TestConvertRecord(t *testing.T) {
	user := int64(42)
	card := int64(123456)
	qr := "QR-1"

	record := &storage.AccessLog{
		AccessEvent: terminal.AccessEvent{
			ID:          9,
			Time:        1700000000,
			Event:       7,
			UserID:      &user,
			CardValue:   &card,
			QRCodeValue: &qr,
		},
		DeviceInternalID: 3,
	}

	out := ConvertRecord(record)

	if out["time"] != "2023-11-14T22:13:20Z" {
		t.Fatalf("time should be ISO-8601 UTC, got %v", out["time"])
	}
	if out["id"] != int64(9) || out["event"] != int64(7) {
		t.Fatalf("integers must stay integers: id=%v event=%v", out["id"], out["event"])
	}
	if out["user_id"] != int64(42) || out["card_value"] != int64(123456) {
		t.Fatalf("present nullable integers must carry their value: %v", out)
	}
	if out["qrcode_value"] != "QR-1" {
		t.Fatalf("string value lost: %v", out["qrcode_value"])
	}
	if out["device_internal_id"] != int64(3) {
		t.Fatalf("origin device missing: %v", out["device_internal_id"])
	}

	// Absent values are explicit nulls, not omitted keys.
	for _, field := range []string{"portal_id", "pin_value", "confidence", "mask", "log_type_id", "component_id", "identifier_id", "identification_rule_id", "device_id"} {
		value, present := out[field]
		if !present {
			t.Fatalf("field %s should be present", field)
		}
		if value != nil {
			t.Fatalf("absent field %s should be null, got %v", field, value)
		}
	}
}

func TestConvertRecord_JSONShape(t *testing.T) {
	record := &storage.AccessLog{
		AccessEvent:      terminal.AccessEvent{ID: 1, Time: 1700000000, Event: 7},
		DeviceInternalID: 1,
	}

	data, err := json.Marshal(ConvertRecord(record))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := decoded["id"].(float64); !ok {
		t.Fatalf("id should serialize as a JSON number, got %T", decoded["id"])
	}
	if _, ok := decoded["time"].(string); !ok {
		t.Fatalf("time should serialize as a JSON string, got %T", decoded["time"])
	}
	if decoded["user_id"] != nil {
		t.Fatalf("null should survive serialization, got %v", decoded["user_id"])
	}
}
