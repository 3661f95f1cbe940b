package core

import "math"

const (
	// signalReferenceRangeKm is the range at which attenuation is zero.
	signalReferenceRangeKm = 500.0
	// atmosphericPenaltyBelowDeg is where the extra low-elevation loss starts.
	atmosphericPenaltyBelowDeg = 10.0
	// atmosphericFloor is the multiplier applied at the horizon.
	atmosphericFloor = 0.7
)

// SignalStrength returns a heuristic link quality in percent [0, 100].
//
// Range attenuation follows the inverse square of range relative to 500 km
// (capped at no gain inside that range). The elevation factor runs from 50%
// at the horizon to 100% at zenith, and below 10 degrees an atmospheric
// penalty of up to 30% is applied on top. Non-positive ranges are treated as
// degenerate geometry and score zero.
func SignalStrength(elevationDeg, rangeKm float64) float64 {
	if rangeKm <= 0 || math.IsNaN(rangeKm) || math.IsNaN(elevationDeg) {
		return 0
	}

	rangeFactor := math.Min(1, math.Pow(signalReferenceRangeKm/rangeKm, 2))

	el := math.Max(0, math.Min(90, elevationDeg))
	elevationFactor := 0.5 + 0.5*(el/90.0)

	atmospheric := 1.0
	if el < atmosphericPenaltyBelowDeg {
		atmospheric = atmosphericFloor + (1-atmosphericFloor)*(el/atmosphericPenaltyBelowDeg)
	}

	strength := 100 * rangeFactor * elevationFactor * atmospheric
	return math.Max(0, math.Min(100, strength))
}
