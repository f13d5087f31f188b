package services

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDecodeRecordsRepairs(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    int
	}{
		{"clean", `[{"timestamp":1,"ppm":2},{"timestamp":2,"ppm":3}]`, 2},
		{"trailing array separator", "[\n  {\"timestamp\":1,\"ppm\":2},\n]", 1},
		{"trailing object separator", "[\n  {\"timestamp\":1,\"ppm\":2,},\n  {\"timestamp\":2,\"ppm\":3}\n]", 2},
		{"both", "[\n  {\"timestamp\":1,\"ppm\":2,}\n,\n]", 1},
		{"lone separator line", "[\n  {\"timestamp\":1,\"ppm\":2}\n,\n,]\n", 1},
		{"null entries", `[null,{"timestamp":1,"ppm":1}]`, 1},
		{"empty", "", 0},
		{"blank", " \n\t", 0},
		{"empty array", "[]", 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			records, err := DecodeRecords([]byte(tc.content))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if records == nil {
				t.Fatalf("records must not be nil")
			}
			if len(records) != tc.want {
				t.Fatalf("got %d records, want %d", len(records), tc.want)
			}
		})
	}
}

func TestRepairYieldsSameRecordsAsWellFormedFile(t *testing.T) {
	wellFormed := "[\n  {\"timestamp\": 1, \"gasType\": \"CO\", \"ppm\": 2.5},\n  {\"timestamp\": 2, \"gasType\": \"H2\", \"ppm\": 3}\n]"
	want, err := DecodeRecords([]byte(wellFormed))
	if err != nil {
		t.Fatalf("decode well-formed: %v", err)
	}
	wantJSON, err := EncodeRecords(want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	for name, damaged := range map[string]string{
		"dangling separator":  "[\n  {\"timestamp\": 1, \"gasType\": \"CO\", \"ppm\": 2.5},\n  {\"timestamp\": 2, \"gasType\": \"H2\", \"ppm\": 3},\n]",
		"object separator":    "[\n  {\"timestamp\": 1, \"gasType\": \"CO\", \"ppm\": 2.5,},\n  {\"timestamp\": 2, \"gasType\": \"H2\", \"ppm\": 3}\n]",
		"lone separator line": "[\n  {\"timestamp\": 1, \"gasType\": \"CO\", \"ppm\": 2.5},\n  {\"timestamp\": 2, \"gasType\": \"H2\", \"ppm\": 3}\n,\n,]",
	} {
		got, err := DecodeRecords([]byte(damaged))
		if err != nil {
			t.Fatalf("%s: decode: %v", name, err)
		}
		gotJSON, err := EncodeRecords(got)
		if err != nil {
			t.Fatalf("%s: encode: %v", name, err)
		}
		if !bytes.Equal(gotJSON, wantJSON) {
			t.Fatalf("%s: repaired to\n%s\nwant\n%s", name, gotJSON, wantJSON)
		}
		for i := range want {
			if got[i].Timestamp != want[i].Timestamp || got[i].GasType != want[i].GasType || *got[i].PPM != *want[i].PPM {
				t.Fatalf("%s: record %d = %+v, want %+v", name, i, got[i], want[i])
			}
		}
	}
}

func TestDecodeRecordsKeepsOddValues(t *testing.T) {
	content := `[{"timestamp":1,"gasType":"CO","ppm":"7.5","note":"calibrated"},{"timestamp":2,"gasType":"CO","ppm":"n/a"},{"timestamp":3,"gasType":"CO","ppm":4}]`
	records, err := DecodeRecords([]byte(content))
	if err != nil {
		t.Fatalf("a valid array must decode: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if records[0].PPM == nil || *records[0].PPM != 7.5 {
		t.Fatalf("numeric string ppm should be readable, got %v", records[0].PPM)
	}
	if records[1].PPM != nil {
		t.Fatalf("non-numeric ppm should be unset in the view")
	}

	canonical, err := EncodeRecords(records)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for _, part := range []string{`"ppm": "7.5"`, `"note": "calibrated"`, `"ppm": "n/a"`} {
		if !bytes.Contains(canonical, []byte(part)) {
			t.Fatalf("canonical form lost %s:\n%s", part, canonical)
		}
	}
}

func TestDecodeRecordsUnrepairable(t *testing.T) {
	for _, content := range []string{
		`[{"timestamp":1`,
		`{"timestamp":1}`,
		`not json at all`,
		`[{"timestamp":1,"ppm":2,},{"timestamp":2,"ppm":3,},]`,
	} {
		if _, err := DecodeRecords([]byte(content)); !errors.Is(err, ErrUnrepairable) {
			t.Errorf("DecodeRecords(%q) err = %v, want ErrUnrepairable", content, err)
		}
	}
}

func TestDecodeRecordsLenient(t *testing.T) {
	content := []byte("[\n  // hand edit\n  {\"timestamp\":1,\"ppm\":2,},\n  {\"timestamp\":2,\"ppm\":3,},\n]")
	if _, err := DecodeRecords(content); err == nil {
		t.Fatalf("strict decode should fail on repeated separators")
	}
	records, err := DecodeRecordsLenient(content)
	if err != nil {
		t.Fatalf("lenient decode: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	if _, err := DecodeRecordsLenient([]byte(`[{"timestamp":`)); !errors.Is(err, ErrUnrepairable) {
		t.Fatalf("truncated content should stay unrepairable, got %v", err)
	}
}

func TestEncodeRecordsIsCanonical(t *testing.T) {
	records, err := DecodeRecords([]byte(`[{"timestamp":1,"serverTimestamp":"2024-01-01T00:00:00.000Z","gasType":"CO","ppm":2.5}]`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	first, err := EncodeRecords(records)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	again, err := DecodeRecords(first)
	if err != nil {
		t.Fatalf("decode canonical: %v", err)
	}
	second, err := EncodeRecords(again)
	if err != nil {
		t.Fatalf("encode again: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("canonical form is not stable:\n%s\n%s", first, second)
	}
	if !bytes.Contains(first, []byte("\n  {\n    \"timestamp\": 1,")) {
		t.Fatalf("expected two-space indentation, got:\n%s", first)
	}
}

func TestRepairFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "2024-05-01.json")
	original := []byte("[\n  {\"timestamp\":1,\"ppm\":2},\n  {\"timestamp\":2},\n  {\"ppm\":4},\n]")
	if err := os.WriteFile(path, original, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	res, err := RepairFile(path, false, true)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if res.Kept != 1 || res.Dropped != 2 || !res.Changed {
		t.Fatalf("unexpected dry run result: %+v", res)
	}
	if got, _ := os.ReadFile(path); !bytes.Equal(got, original) {
		t.Fatalf("dry run must not touch the file")
	}

	res, err = RepairFile(path, false, false)
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if res.Kept != 1 || res.Dropped != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	records, err := DecodeRecords(got)
	if err != nil || len(records) != 1 || records[0].Timestamp != 1 {
		t.Fatalf("unexpected rewritten content: %s (%v)", got, err)
	}

	res, err = RepairFile(path, false, false)
	if err != nil {
		t.Fatalf("second repair: %v", err)
	}
	if res.Changed {
		t.Fatalf("a canonical file should not change")
	}
}

func TestRepairFileFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "2024-05-02.json")
	if err := os.WriteFile(path, []byte(`[{"timestamp":`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := RepairFile(path, true, false); !errors.Is(err, ErrUnrepairable) {
		t.Fatalf("err = %v, want ErrUnrepairable", err)
	}
	if _, err := RepairFile(filepath.Join(t.TempDir(), "missing.json"), false, false); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want not exist", err)
	}
}
