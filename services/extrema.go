package services

import (
	"math"

	"github.com/RobertoIHH/MQ7ServerWifi/models"

	"go.uber.org/zap"
)

// ExtremaTracker keeps the running minimum and maximum ppm per mode since the
// log history began. It is not safe for concurrent use; the hub serializes
// access under its own lock.
type ExtremaTracker struct {
	modes map[models.Mode]*models.Extrema
}

func NewExtremaTracker() *ExtremaTracker {
	t := &ExtremaTracker{modes: make(map[models.Mode]*models.Extrema, len(models.Modes))}
	for _, m := range models.Modes {
		t.modes[m] = &models.Extrema{}
	}
	return t
}

// Observe folds one value into the extrema of mode. Values for modes outside
// the supported set, and non-finite values, are ignored.
func (t *ExtremaTracker) Observe(mode models.Mode, value float64) bool {
	ext, ok := t.modes[mode]
	if !ok || math.IsNaN(value) || math.IsInf(value, 0) {
		return false
	}
	if ext.Min == nil || value < *ext.Min {
		v := value
		ext.Min = &v
	}
	if ext.Max == nil || value > *ext.Max {
		v := value
		ext.Max = &v
	}
	return true
}

// Get returns a copy of the extrema of mode; unset values stay nil.
func (t *ExtremaTracker) Get(mode models.Mode) models.Extrema {
	ext, ok := t.modes[mode]
	if !ok {
		return models.Extrema{}
	}
	var out models.Extrema
	if ext.Min != nil {
		v := *ext.Min
		out.Min = &v
	}
	if ext.Max != nil {
		v := *ext.Max
		out.Max = &v
	}
	return out
}

// Seed replays the whole log history into the tracker and returns the number
// of records that contributed.
func (t *ExtremaTracker) Seed(store LogStore, logger *zap.Logger) (int, error) {
	applied := 0
	err := store.Replay(func(rec *models.Record) {
		if rec.PPM != nil && t.Observe(rec.GasType, *rec.PPM) {
			applied++
		}
	})
	if err != nil {
		return applied, err
	}

	for _, m := range models.Modes {
		ext := t.modes[m]
		if ext.Min == nil {
			continue
		}
		logger.Info("Extrema loaded",
			zap.String("gas", string(m)),
			zap.Float64("min", *ext.Min),
			zap.Float64("max", *ext.Max))
	}
	return applied, nil
}
