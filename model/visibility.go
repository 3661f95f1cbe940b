package model

import "time"

// LookAngles is the topocentric geometry from a station to the satellite.
type LookAngles struct {
	ElevationDeg float64 `json:"elevation"`
	AzimuthDeg   float64 `json:"azimuth"`
	RangeKm      float64 `json:"range"`
}

// VisibilityReading is recomputed per query and never mutated in place.
// PassDuration and MaxElevation describe the remainder of the current pass
// when IsVisible; NextPassTime is set only when the satellite is not visible
// and a pass was found within the scan horizon.
type VisibilityReading struct {
	StationID      string     `json:"stationId"`
	Timestamp      time.Time  `json:"timestamp"`
	IsVisible      bool       `json:"isVisible"`
	Elevation      float64    `json:"elevation"`
	Azimuth        float64    `json:"azimuth"`
	Range          float64    `json:"range"`
	RangeRate      float64    `json:"rangeRate"`
	SignalStrength float64    `json:"signalStrength"`
	PassDuration   float64    `json:"passDuration"`
	MaxElevation   float64    `json:"maxElevation"`
	NextPassTime   *time.Time `json:"nextPassTime,omitempty"`
}

// PassSummary is the result of a forward scan through a single pass.
type PassSummary struct {
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationSeconds float64   `json:"duration"`
	MaxElevation    float64   `json:"maxElevation"`
}

// Pass describes the next predicted contact with a station.
type Pass struct {
	StartTime       time.Time     `json:"startTime"`
	DurationSeconds float64       `json:"duration"`
	MaxElevation    float64       `json:"maxElevation"`
	TimeUntilPass   time.Duration `json:"timeUntilPass"`
}
