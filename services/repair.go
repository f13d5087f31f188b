package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/RobertoIHH/MQ7ServerWifi/models"

	"github.com/tidwall/jsonc"
)

// ErrUnrepairable is returned when a day file still does not parse after
// every repair step.
var ErrUnrepairable = errors.New("log content cannot be repaired")

var (
	trailingArrayComma  = regexp.MustCompile(`,(\s*\])`)
	trailingObjectComma = regexp.MustCompile(`,(\s*\})`)
)

// DecodeRecords parses the content of a day file, repairing the damage a
// partial rewrite or a hand edit typically leaves behind:
//
//  1. the first separator directly before a closing ']' and the first one
//     directly before a closing '}' are removed;
//  2. if that still does not parse, a line holding nothing but ',' near the
//     end of the file is dropped and parsing is retried once.
//
// Empty content is an empty day.
func DecodeRecords(content []byte) ([]*models.Record, error) {
	if len(bytes.TrimSpace(content)) == 0 {
		return []*models.Record{}, nil
	}

	fixed := stripFirst(trailingArrayComma, content)
	fixed = stripFirst(trailingObjectComma, fixed)

	records, err := unmarshalRecords(fixed)
	if err == nil {
		return records, nil
	}

	if trimmed, ok := dropLoneSeparator(fixed); ok {
		if records, retryErr := unmarshalRecords(trimmed); retryErr == nil {
			return records, nil
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrUnrepairable, err)
}

// DecodeRecordsLenient runs the regular repair first and falls back to a
// jsonc pass, which strips every trailing comma and any comments left by a
// hand edit.
func DecodeRecordsLenient(content []byte) ([]*models.Record, error) {
	records, err := DecodeRecords(content)
	if err == nil {
		return records, nil
	}
	records, lenientErr := unmarshalRecords(jsonc.ToJSON(content))
	if lenientErr != nil {
		return nil, err
	}
	return records, nil
}

// EncodeRecords renders the canonical form of a day file.
func EncodeRecords(records []*models.Record) ([]byte, error) {
	return models.MarshalJSONIndent(records)
}

// ValidRecord reports whether a record is an object carrying the two keys
// every consumer relies on: the sensor timestamp and ppm. Their types are not
// checked.
func ValidRecord(rec *models.Record) bool {
	return rec != nil && rec.Has("timestamp") && rec.Has("ppm")
}

// RepairResult describes what RepairFile did to one day file.
type RepairResult struct {
	Kept    int
	Dropped int
	Changed bool
}

// RepairFile repairs a day file in place: it decodes the content, drops
// entries without a timestamp or ppm key, and rewrites the file canonically when
// that changes its bytes. With dryRun the file is never written.
func RepairFile(path string, lenient, dryRun bool) (RepairResult, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return RepairResult{}, err
	}

	decode := DecodeRecords
	if lenient {
		decode = DecodeRecordsLenient
	}
	records, err := decode(content)
	if err != nil {
		return RepairResult{}, err
	}

	valid := make([]*models.Record, 0, len(records))
	for _, rec := range records {
		if ValidRecord(rec) {
			valid = append(valid, rec)
		}
	}
	result := RepairResult{Kept: len(valid), Dropped: len(records) - len(valid)}

	canonical, err := EncodeRecords(valid)
	if err != nil {
		return result, err
	}
	result.Changed = !bytes.Equal(content, canonical)
	if result.Changed && !dryRun {
		if err := writeFileAtomic(path, canonical); err != nil {
			return result, err
		}
	}
	return result, nil
}

// unmarshalRecords only fails when content is not a JSON array. Elements are
// kept verbatim; null elements are skipped.
func unmarshalRecords(content []byte) ([]*models.Record, error) {
	var raw []*models.Record
	if err := json.Unmarshal(content, &raw); err != nil {
		return nil, err
	}
	records := make([]*models.Record, 0, len(raw))
	for _, rec := range raw {
		if rec != nil {
			records = append(records, rec)
		}
	}
	return records, nil
}

func stripFirst(re *regexp.Regexp, content []byte) []byte {
	loc := re.FindSubmatchIndex(content)
	if loc == nil {
		return content
	}
	// loc[0] is the separator, loc[2]:loc[3] the whitespace and bracket to keep.
	out := make([]byte, 0, len(content)-1)
	out = append(out, content[:loc[0]]...)
	out = append(out, content[loc[2]:]...)
	return out
}

// dropLoneSeparator removes a ',' line that sits either last or directly
// above the closing bracket line, ignoring trailing blank lines.
func dropLoneSeparator(content []byte) ([]byte, bool) {
	lines := bytes.Split(content, []byte("\n"))

	last := len(lines) - 1
	for last >= 0 && len(bytes.TrimSpace(lines[last])) == 0 {
		last--
	}
	for _, i := range []int{last, last - 1} {
		if i < 0 {
			continue
		}
		if string(bytes.TrimSpace(lines[i])) == "," {
			lines = append(lines[:i], lines[i+1:]...)
			return bytes.Join(lines, []byte("\n")), true
		}
	}
	return content, false
}
