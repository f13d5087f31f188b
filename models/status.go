package models

import (
	"encoding/json"
	"time"
)

// SensorStatus is the sensor_status payload viewers receive. Fields reported
// by the sensor in its heartbeat are carried in Extra and flattened on the wire.
type SensorStatus struct {
	Connected  bool
	LastUpdate int64 // epoch milliseconds, 0 until first contact
	Extra      map[string]json.RawMessage
}

func (s SensorStatus) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Extra)+2)
	for k, v := range s.Extra {
		out[k] = v
	}
	out["connected"] = s.Connected
	if s.LastUpdate != 0 {
		out["lastUpdate"] = s.LastUpdate
	}
	return json.Marshal(out)
}

// Clone returns a copy that does not share the Extra map.
func (s SensorStatus) Clone() SensorStatus {
	c := s
	if s.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(s.Extra))
		for k, v := range s.Extra {
			c.Extra[k] = v
		}
	}
	return c
}

// Extrema is the running minimum and maximum ppm observed for one mode.
// Both are nil until the first observation.
type Extrema struct {
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
}

// SensorEvent describes a change in sensor connectivity.
type SensorEvent struct {
	Connected bool
	Reason    string // "contact", "timeout" or "disconnect"
	At        time.Time
	LastSeen  time.Time
}

// Snapshot is a consistent copy of the relay's shared state.
type Snapshot struct {
	LastData    json.RawMessage `json:"lastData"`
	CurrentGas  Mode            `json:"currentGasType"`
	Status      SensorStatus    `json:"sensorStatus"`
	MinMax      Extrema         `json:"minMax"`
	PendingGas  Mode            `json:"pendingGas,omitempty"`
	SensorPeers int             `json:"sensorPeers"`
	ViewerPeers int             `json:"viewerPeers"`
}
