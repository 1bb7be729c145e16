// Package scoring maps raw KPI results onto the shared 0-100 performance
// scale and aggregates per-entry results for one KPI and scope.
package scoring

import (
	"math"

	"kpitrack/internal/kpi"
)

// CanonicalTarget is the ceiling every KPI is scored against, regardless of unit.
const CanonicalTarget = 100.0

// Normalize maps raw onto [0, 100] according to optimum. Non-finite input and
// unknown optimum types score 0.
func Normalize(raw float64, optimum kpi.OptimumType) float64 {
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return 0
	}
	var score float64
	switch optimum {
	case kpi.OptimumHigher:
		score = raw
	case kpi.OptimumLower:
		score = CanonicalTarget - raw
	case kpi.OptimumTarget:
		score = CanonicalTarget - math.Abs(CanonicalTarget-raw)
	default:
		return 0
	}
	return clamp(score)
}

func clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > CanonicalTarget {
		return CanonicalTarget
	}
	return score
}
