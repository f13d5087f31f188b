package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestParseMode(t *testing.T) {
	for _, m := range Modes {
		got, err := ParseMode(string(m))
		if err != nil || got != m {
			t.Errorf("ParseMode(%q) = %q, %v", m, got, err)
		}
	}
	for _, s := range []string{"", "co", "XENON", "Alcohol", " CO"} {
		if _, err := ParseMode(s); err == nil {
			t.Errorf("ParseMode(%q) should fail", s)
		}
	}
}

func mustMeasurement(t *testing.T, raw string) *Measurement {
	t.Helper()
	m, err := ParseMeasurement(json.RawMessage(raw))
	if err != nil {
		t.Fatalf("parse measurement %s: %v", raw, err)
	}
	return m
}

func TestNewRecord(t *testing.T) {
	now := time.Date(2024, 3, 9, 23, 30, 0, 0, time.FixedZone("UTC-6", -6*3600))

	rec := NewRecord(mustMeasurement(t, `{"timestamp":12345,"ppm":3.5,"gas":"CO","extra":true}`), ModeH2, now)
	if rec.Timestamp != 12345 {
		t.Fatalf("timestamp = %v, want 12345", rec.Timestamp)
	}
	if rec.GasType != ModeH2 {
		t.Fatalf("gasType = %s, want the current mode", rec.GasType)
	}
	if rec.ServerTimestamp != "2024-03-10T05:30:00.000Z" {
		t.Fatalf("serverTimestamp = %s", rec.ServerTimestamp)
	}
	if !rec.IngestedAt().Equal(now) {
		t.Fatalf("IngestedAt = %v, want %v", rec.IngestedAt(), now)
	}
	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"timestamp":12345,"serverTimestamp":"2024-03-10T05:30:00.000Z","gasType":"H2","ppm":3.5,"gas":"CO"}`
	if string(b) != want {
		t.Fatalf("record = %s, want %s", b, want)
	}

	for _, raw := range []string{`{"ppm":1}`, `{"timestamp":0,"ppm":1}`, `{"timestamp":null,"ppm":1}`} {
		rec = NewRecord(mustMeasurement(t, raw), ModeCO, now)
		if rec.Timestamp != float64(now.UnixMilli()) {
			t.Fatalf("%s: timestamp should fall back to ingestion time, got %v", raw, rec.Timestamp)
		}
	}
}

func TestNewRecordKeepsMistypedValues(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	rec := NewRecord(mustMeasurement(t, `{"timestamp":1,"ppm":"12.3","gas_index":1.0,"V":"high"}`), ModeCO, now)

	if rec.PPM == nil || *rec.PPM != 12.3 {
		t.Fatalf("numeric string ppm should be readable, got %v", rec.PPM)
	}
	if rec.GasIndex == nil || *rec.GasIndex != 1 {
		t.Fatalf("integral gas_index should be readable, got %v", rec.GasIndex)
	}
	if rec.V != nil {
		t.Fatalf("a non-numeric V should be unset in the view, got %v", *rec.V)
	}
	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, part := range []string{`"ppm":"12.3"`, `"gas_index":1.0`, `"V":"high"`} {
		if !strings.Contains(string(b), part) {
			t.Fatalf("record %s lost %s", b, part)
		}
	}
}

func TestParseRecordView(t *testing.T) {
	rec := ParseRecord([]byte(`{"timestamp":5,"gasType":"LPG","ppm":"oops","note":"calibrated"}`))
	if rec.Timestamp != 5 || rec.GasType != ModeLPG {
		t.Fatalf("unexpected view: %+v", rec)
	}
	if rec.PPM != nil {
		t.Fatalf("non-numeric ppm should be unset")
	}
	if !rec.Has("ppm") || !rec.Has("note") || rec.Has("V") {
		t.Fatalf("Has does not follow the stored keys")
	}

	odd := ParseRecord([]byte(`42`))
	if odd.Has("timestamp") || odd.PPM != nil {
		t.Fatalf("a non-object should have an empty view")
	}
	if b, _ := json.Marshal(odd); string(b) != "42" {
		t.Fatalf("a non-object should round-trip, got %s", b)
	}

	plain := &Record{Timestamp: 1, GasType: ModeCO}
	if b, _ := json.Marshal(plain); !strings.Contains(string(b), `"gasType":"CO"`) {
		t.Fatalf("a record built in code should marshal its fields, got %s", b)
	}
}

func TestMarshalJSONIndentEmpty(t *testing.T) {
	b, err := MarshalJSONIndent(nil)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != "[]" {
		t.Fatalf("got %q, want []", b)
	}
}
