package model

import (
	"errors"
	"math"
	"time"
)

// ErrInvalidElements is wrapped by OrbitalElements.Validate failures.
var ErrInvalidElements = errors.New("invalid orbital elements")

// Vec3 is a Cartesian vector in kilometres (or km/s for velocities).
type Vec3 struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
	Z float64 `json:"z" msgpack:"z"`
}

// Norm returns the Euclidean length of v.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

// OrbitalElements is the simplified element set of a scenario satellite.
// Eccentricity is carried for display and validation only; the propagator
// treats every orbit as circular.
type OrbitalElements struct {
	AltitudeKm         float64   `json:"altitudeKm" msgpack:"altitude_km"`
	InclinationDegrees float64   `json:"inclinationDegrees" msgpack:"inclination_degrees"`
	Eccentricity       float64   `json:"eccentricity" msgpack:"eccentricity"`
	RAANDegrees        float64   `json:"raanDegrees,omitempty" msgpack:"raan_degrees"`
	Epoch              time.Time `json:"epoch" msgpack:"epoch"`
}

// Validate rejects element sets the propagator cannot represent.
func (e OrbitalElements) Validate() error {
	switch {
	case math.IsNaN(e.AltitudeKm) || math.IsInf(e.AltitudeKm, 0) || e.AltitudeKm <= 0:
		return NewConfigError("altitude_km", "must be a positive number of kilometres", ErrInvalidElements)
	case math.IsNaN(e.InclinationDegrees) || e.InclinationDegrees < 0 || e.InclinationDegrees > 180:
		return NewConfigError("inclination_degrees", "must be within [0, 180]", ErrInvalidElements)
	case math.IsNaN(e.Eccentricity) || e.Eccentricity < 0 || e.Eccentricity >= 1:
		return NewConfigError("eccentricity", "must be within [0, 1)", ErrInvalidElements)
	case e.Epoch.IsZero():
		return NewConfigError("epoch", "must be set", ErrInvalidElements)
	}
	return nil
}

// OrbitalState is an ECI position (km) and velocity (km/s) at Timestamp.
type OrbitalState struct {
	Position  Vec3      `json:"position"`
	Velocity  Vec3      `json:"velocity"`
	Timestamp time.Time `json:"timestamp"`
}

// GroundPoint is the sub-satellite point of an OrbitalState.
type GroundPoint struct {
	LatitudeDeg  float64 `json:"latitude"`
	LongitudeDeg float64 `json:"longitude"`
	AltitudeKm   float64 `json:"altitudeKm"`
}
