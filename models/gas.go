package models

import "fmt"

// Mode is the gas the MQ-7 board is currently calibrated for.
type Mode string

const (
	ModeCO      Mode = "CO"
	ModeH2      Mode = "H2"
	ModeLPG     Mode = "LPG"
	ModeCH4     Mode = "CH4"
	ModeAlcohol Mode = "ALCOHOL"
)

// Modes lists every mode the sensor accepts, in display order.
var Modes = []Mode{ModeCO, ModeH2, ModeLPG, ModeCH4, ModeAlcohol}

// Valid reports whether m is one of the five supported modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeCO, ModeH2, ModeLPG, ModeCH4, ModeAlcohol:
		return true
	default:
		return false
	}
}

// ParseMode converts a wire value into a Mode. Matching is exact.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if !m.Valid() {
		return "", fmt.Errorf("unsupported gas type %q", s)
	}
	return m, nil
}
