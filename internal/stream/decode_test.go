package stream

import (
	"errors"
	"testing"
)

func TestDecodeRecord(t *testing.T) {
	rec, err := DecodeRecord([]byte(`{"timestamp":1700000000,"tank_status":"low","tank_overflow":false}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ts, ok := rec.Float("timestamp"); !ok || ts != 1700000000 {
		t.Fatalf("timestamp = %v", rec["timestamp"])
	}
	if rec["tank_overflow"] != false {
		t.Fatalf("tank_overflow = %v", rec["tank_overflow"])
	}
}

func TestDecodeRecordRejects(t *testing.T) {
	for _, in := range []string{"", "null", "42", `"text"`, `[{"a":1}]`, `{"a":`} {
		if _, err := DecodeRecord([]byte(in)); !errors.Is(err, ErrMalformedFrame) {
			t.Fatalf("DecodeRecord(%q) error = %v, want ErrMalformedFrame", in, err)
		}
	}
}
