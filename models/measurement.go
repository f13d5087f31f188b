package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

// measurementKeys are the sensor fields copied into a record, in file order.
var measurementKeys = []string{"ADC", "V", "Rs", "Rs/R0", "ppm", "gas", "gas_index"}

// Measurement is the "data" object of a sensor report. Raw is relayed as
// received; PPM and Gas are read leniently, so a mistyped field only
// disables that value.
type Measurement struct {
	Raw json.RawMessage
	PPM *float64
	Gas string

	fields map[string]json.RawMessage
}

// ParseMeasurement decodes a data object. Only non-objects are rejected.
func ParseMeasurement(raw json.RawMessage) (*Measurement, error) {
	fields, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	return &Measurement{
		Raw:    raw,
		PPM:    numberField(fields, "ppm"),
		Gas:    textField(fields, "gas"),
		fields: fields,
	}, nil
}

// Record is one element of a daily log file. The stored object is kept
// verbatim, so unknown keys and oddly typed values survive a rewrite; the
// exported fields are a read-only view of it where a value of the wrong type
// is left unset.
type Record struct {
	Timestamp       float64  `json:"timestamp"`
	ServerTimestamp string   `json:"serverTimestamp"`
	GasType         Mode     `json:"gasType"`
	ADC             *float64 `json:"ADC,omitempty"`
	V               *float64 `json:"V,omitempty"`
	Rs              *float64 `json:"Rs,omitempty"`
	RsR0            *float64 `json:"Rs/R0,omitempty"`
	PPM             *float64 `json:"ppm,omitempty"`
	Gas             string   `json:"gas,omitempty"`
	GasIndex        *int     `json:"gas_index,omitempty"`

	raw    json.RawMessage
	fields map[string]json.RawMessage
}

// plainRecord marshals the typed view of a record built without raw JSON.
type plainRecord Record

// ServerTimestampLayout is the ISO-8601 form written to serverTimestamp.
const ServerTimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// DayLayout names daily log files.
const DayLayout = "2006-01-02"

// NewRecord stamps a measurement with the ingestion time and the mode that was
// current when it arrived. Sensor values are copied as received. A missing or
// falsy sensor timestamp falls back to the ingestion time in epoch
// milliseconds.
func NewRecord(m *Measurement, mode Mode, now time.Time) *Record {
	var buf bytes.Buffer
	buf.WriteByte('{')
	put := func(key string, value []byte) {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(key)
		buf.Write(k)
		buf.WriteByte(':')
		if err := json.Compact(&buf, value); err != nil {
			buf.Write(value)
		}
	}

	ts, ok := m.fields["timestamp"]
	if !ok || falsy(ts) {
		ts = strconv.AppendInt(nil, now.UnixMilli(), 10)
	}
	put("timestamp", ts)
	serverTimestamp, _ := json.Marshal(now.UTC().Format(ServerTimestampLayout))
	put("serverTimestamp", serverTimestamp)
	gasType, _ := json.Marshal(string(mode))
	put("gasType", gasType)
	for _, key := range measurementKeys {
		if v, ok := m.fields[key]; ok {
			put(key, v)
		}
	}
	buf.WriteByte('}')

	return ParseRecord(buf.Bytes())
}

// ParseRecord wraps one stored element. It never fails: content that is not an
// object is kept as is with an empty view.
func ParseRecord(raw []byte) *Record {
	rec := &Record{raw: append(json.RawMessage(nil), raw...)}
	fields, err := decodeObject(raw)
	if err != nil {
		return rec
	}
	rec.fields = fields
	if ts := numberField(fields, "timestamp"); ts != nil {
		rec.Timestamp = *ts
	}
	rec.ServerTimestamp = textField(fields, "serverTimestamp")
	rec.GasType = Mode(textField(fields, "gasType"))
	rec.ADC = numberField(fields, "ADC")
	rec.V = numberField(fields, "V")
	rec.Rs = numberField(fields, "Rs")
	rec.RsR0 = numberField(fields, "Rs/R0")
	rec.PPM = numberField(fields, "ppm")
	rec.Gas = textField(fields, "gas")
	rec.GasIndex = intField(fields, "gas_index")
	return rec
}

func (r *Record) UnmarshalJSON(data []byte) error {
	*r = *ParseRecord(data)
	return nil
}

func (r *Record) MarshalJSON() ([]byte, error) {
	if r.raw != nil {
		return r.raw, nil
	}
	return json.Marshal((*plainRecord)(r))
}

// Has reports whether the stored object carries key, whatever its type.
func (r *Record) Has(key string) bool {
	_, ok := r.fields[key]
	return ok
}

// IngestedAt parses ServerTimestamp. The zero time is returned when it is
// missing or malformed.
func (r *Record) IngestedAt() time.Time {
	t, err := time.Parse(time.RFC3339Nano, r.ServerTimestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// MarshalJSONIndent renders records the way daily log files store them.
func MarshalJSONIndent(records []*Record) ([]byte, error) {
	if records == nil {
		records = []*Record{}
	}
	return json.MarshalIndent(records, "", "  ")
}

// ErrNotObject is returned for payloads that are valid JSON but not an object.
var ErrNotObject = errors.New("message is not a JSON object")

func decodeObject(raw []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, ErrNotObject
		}
		return nil, err
	}
	if fields == nil {
		return nil, ErrNotObject
	}
	return fields, nil
}

func textField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// numberField accepts a JSON number or a numeric string.
func numberField(fields map[string]json.RawMessage, key string) *float64 {
	raw, ok := fields[key]
	if !ok || strings.TrimSpace(string(raw)) == "null" {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return &f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func intField(fields map[string]json.RawMessage, key string) *int {
	f := numberField(fields, key)
	if f == nil || *f != math.Trunc(*f) || math.Abs(*f) > math.MaxInt32 {
		return nil
	}
	i := int(*f)
	return &i
}

func falsy(raw json.RawMessage) bool {
	switch strings.TrimSpace(string(raw)) {
	case "null", "false", `""`, "0":
		return true
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	return err == nil && f == 0
}
