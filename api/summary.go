package api

import (
	"fmt"
	"math"

	"github.com/RobertoIHH/MQ7ServerWifi/models"
)

// GasSummary holds the ppm statistics of one gas type for a day. Values are
// rendered with six decimals.
type GasSummary struct {
	Count int    `json:"count"`
	Min   string `json:"min"`
	Max   string `json:"max"`
	Avg   string `json:"avg"`
}

type gasAccumulator struct {
	count    int
	min, max float64
	sum      float64
}

// Summarize groups records by gas type and computes count, min, max and
// average ppm. A record without ppm counts as 0. Records are keyed by their
// gasType, falling back to the sensor-reported gas and then "unknown".
func Summarize(records []*models.Record) map[string]GasSummary {
	acc := make(map[string]*gasAccumulator)
	for _, rec := range records {
		if rec == nil {
			continue
		}
		key := summaryKey(rec)
		a, ok := acc[key]
		if !ok {
			a = &gasAccumulator{min: math.Inf(1), max: math.Inf(-1)}
			acc[key] = a
		}

		ppm := 0.0
		if rec.PPM != nil && !math.IsNaN(*rec.PPM) && !math.IsInf(*rec.PPM, 0) {
			ppm = *rec.PPM
		}
		a.count++
		a.sum += ppm
		a.min = math.Min(a.min, ppm)
		a.max = math.Max(a.max, ppm)
	}

	summary := make(map[string]GasSummary, len(acc))
	for key, a := range acc {
		summary[key] = GasSummary{
			Count: a.count,
			Min:   formatPPM(a.min),
			Max:   formatPPM(a.max),
			Avg:   formatPPM(a.sum / float64(a.count)),
		}
	}
	return summary
}

func summaryKey(rec *models.Record) string {
	switch {
	case rec.GasType != "":
		return string(rec.GasType)
	case rec.Gas != "":
		return rec.Gas
	default:
		return "unknown"
	}
}

func formatPPM(v float64) string {
	return fmt.Sprintf("%.6f", v)
}
