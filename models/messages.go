package models

import (
	"encoding/json"
	"errors"
	"time"
)

// SensorSource is the value of "source" on data reports from the ESP32.
const SensorSource = "esp32"

// Outbound message types.
const (
	TypeDataUpdate   = "data_update"
	TypeSensorStatus = "sensor_status"
	TypeGasChanged   = "gas_changed"
	TypeCommandSent  = "command_sent"
	TypeError        = "error"
)

// Commands carried in the "command" field.
const (
	CommandChangeGas = "change_gas"
	CommandGasChange = "gas_changed"
	CommandGetStatus = "get_status"
)

// InboundKind classifies a message received from a peer.
type InboundKind int

const (
	KindUnknown InboundKind = iota
	KindSensorData
	KindChangeGas
	KindGasChanged
	KindHeartbeat
	KindStatusQuery
)

func (k InboundKind) String() string {
	switch k {
	case KindSensorData:
		return "sensor_data"
	case KindChangeGas:
		return "change_gas"
	case KindGasChanged:
		return "gas_changed"
	case KindHeartbeat:
		return "heartbeat"
	case KindStatusQuery:
		return "get_status"
	default:
		return "unknown"
	}
}

// FromSensor reports whether only the sensor device sends this kind.
func (k InboundKind) FromSensor() bool {
	return k == KindSensorData || k == KindGasChanged || k == KindHeartbeat
}

// Inbound is a decoded peer message. Fields are read leniently so that a
// wrongly typed field only disables the case that needs it.
type Inbound struct {
	Fields map[string]json.RawMessage
	Raw    []byte
}

// ParseInbound decodes one text frame.
func ParseInbound(raw []byte) (*Inbound, error) {
	fields, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	return &Inbound{Fields: fields, Raw: raw}, nil
}

// Text returns a string field, or "" if it is absent or not a string.
func (in *Inbound) Text(key string) string {
	return textField(in.Fields, key)
}

// Flag returns a boolean field, false if absent or not a boolean.
func (in *Inbound) Flag(key string) bool {
	raw, ok := in.Fields[key]
	if !ok {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false
	}
	return b
}

// Kind applies the dispatch priority: data report, mode change command,
// mode change confirmation, heartbeat, status query.
func (in *Inbound) Kind() InboundKind {
	command := in.Text("command")
	switch {
	case in.Text("source") == SensorSource:
		return KindSensorData
	case command == CommandChangeGas:
		return KindChangeGas
	case command == CommandGasChange:
		return KindGasChanged
	case in.Text("status") == "ok":
		return KindHeartbeat
	case command == CommandGetStatus:
		return KindStatusQuery
	default:
		return KindUnknown
	}
}

// Measurement returns the "data" object of a sensor report.
func (in *Inbound) Measurement() (*Measurement, error) {
	raw, ok := in.Fields["data"]
	if !ok {
		return nil, errors.New("sensor report has no data")
	}
	return ParseMeasurement(raw)
}

// ChangeGasCommand is sent to the sensor to switch modes.
type ChangeGasCommand struct {
	Command   string `json:"command"`
	Gas       Mode   `json:"gas"`
	Timestamp int64  `json:"timestamp"`
}

func NewChangeGasCommand(gas Mode, now time.Time) ChangeGasCommand {
	return ChangeGasCommand{Command: CommandChangeGas, Gas: gas, Timestamp: now.UnixMilli()}
}

// DataUpdate relays a measurement to viewers.
type DataUpdate struct {
	Type           string          `json:"type"`
	Data           json.RawMessage `json:"data"`
	CurrentGasType Mode            `json:"currentGasType"`
	Timestamp      int64           `json:"timestamp"`
	Extrema
}

func NewDataUpdate(data json.RawMessage, gas Mode, ext Extrema, now time.Time) DataUpdate {
	return DataUpdate{Type: TypeDataUpdate, Data: data, CurrentGasType: gas, Timestamp: now.UnixMilli(), Extrema: ext}
}

// StatusMessage carries the sensor status. Status query replies also carry
// the current mode and its extrema; broadcasts leave them out.
type StatusMessage struct {
	Type           string       `json:"type"`
	Status         SensorStatus `json:"status"`
	CurrentGasType Mode         `json:"currentGasType,omitempty"`
	Timestamp      int64        `json:"timestamp"`
	*Extrema
}

func NewStatusBroadcast(status SensorStatus, now time.Time) StatusMessage {
	return StatusMessage{Type: TypeSensorStatus, Status: status, Timestamp: now.UnixMilli()}
}

func NewStatusReply(status SensorStatus, gas Mode, ext Extrema, now time.Time) StatusMessage {
	return StatusMessage{Type: TypeSensorStatus, Status: status, CurrentGasType: gas, Timestamp: now.UnixMilli(), Extrema: &ext}
}

// GasChanged tells viewers the sensor switched modes.
type GasChanged struct {
	Type      string `json:"type"`
	Gas       Mode   `json:"gas"`
	Timestamp int64  `json:"timestamp"`
	Extrema
}

func NewGasChanged(gas Mode, ext Extrema, now time.Time) GasChanged {
	return GasChanged{Type: TypeGasChanged, Gas: gas, Timestamp: now.UnixMilli(), Extrema: ext}
}

// CommandSent acknowledges a mode change command to the viewer that sent it.
type CommandSent struct {
	Type      string `json:"type"`
	Command   string `json:"command"`
	Gas       Mode   `json:"gas"`
	Timestamp int64  `json:"timestamp"`
	Extrema
}

func NewCommandSent(gas Mode, ext Extrema, now time.Time) CommandSent {
	return CommandSent{Type: TypeCommandSent, Command: CommandChangeGas, Gas: gas, Timestamp: now.UnixMilli(), Extrema: ext}
}

// ErrorMessage reports a rejected request to a single peer.
type ErrorMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

func NewErrorMessage(message string, now time.Time) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: message, Timestamp: now.UnixMilli()}
}
