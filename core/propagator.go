package core

import (
	"math"
	"time"

	"github.com/signalsfoundry/mission-engine/model"
)

// earthJ2 drives the synthetic nodal-precession term.
const earthJ2 = 1.08262668e-3

// SemiMajorAxisKm returns earth radius + altitude.
func SemiMajorAxisKm(el model.OrbitalElements) float64 {
	return EarthRadiusKm + el.AltitudeKm
}

// MeanMotion returns the two-body mean motion in rad/s.
func MeanMotion(el model.OrbitalElements) float64 {
	a := SemiMajorAxisKm(el)
	return math.Sqrt(MuEarth / (a * a * a))
}

// Period returns the orbital period.
func Period(el model.OrbitalElements) time.Duration {
	return model.Seconds(2 * math.Pi / MeanMotion(el))
}

// NodalDriftRate approximates the secular drift of the right ascension of
// the ascending node (rad/s) using the first-order J2 expression.
func NodalDriftRate(el model.OrbitalElements) float64 {
	a := SemiMajorAxisKm(el)
	ratio := EarthRadiusKm / a
	return -1.5 * MeanMotion(el) * earthJ2 * ratio * ratio * math.Cos(el.InclinationDegrees*deg2rad)
}

// Propagate returns the inertial state of the satellite at t.
//
// The orbit is treated as circular: the true anomaly is taken equal to the
// mean anomaly and eccentricity is otherwise unused. Argument of perigee is
// zero, so the anomaly is measured from the ascending node. The result is
// fully determined by its inputs.
func Propagate(el model.OrbitalElements, t time.Time) model.OrbitalState {
	a := SemiMajorAxisKm(el)
	n := MeanMotion(el)
	period := 2 * math.Pi / n

	dt := t.Sub(el.Epoch).Seconds()
	sincePeriod := math.Mod(dt, period)
	if sincePeriod < 0 {
		sincePeriod += period
	}
	anomaly := n * sincePeriod

	raan := el.RAANDegrees*deg2rad + NodalDriftRate(el)*dt
	inc := el.InclinationDegrees * deg2rad
	speed := math.Sqrt(MuEarth / a)

	sinNu, cosNu := math.Sincos(anomaly)
	pos := planeToECI(raan, inc, model.Vec3{X: a * cosNu, Y: a * sinNu})
	vel := planeToECI(raan, inc, model.Vec3{X: -speed * sinNu, Y: speed * cosNu})

	return model.OrbitalState{
		Position:  pos,
		Velocity:  vel,
		Timestamp: t,
	}
}
