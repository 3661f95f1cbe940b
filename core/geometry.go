package core

import (
	"math"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/mission-engine/model"
)

// EarthRadiusKm is the mean Earth radius used for all simple
// geometry calculations (kilometres). The Earth is treated as a sphere.
const EarthRadiusKm = 6371.0

// MuEarth is Earth's gravitational parameter in km^3/s^2.
const MuEarth = 398600.4418

// VisibilityThresholdDeg is the elevation a satellite must exceed to be
// considered in contact with a station.
const VisibilityThresholdDeg = 5.0

const (
	deg2rad = math.Pi / 180.0
	rad2deg = 180.0 / math.Pi
)

// GMST returns Greenwich Mean Sidereal Time in radians for t.
func GMST(t time.Time) float64 {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()
	jd := satellite.JDay(year, int(month), day, hour, min, sec)
	jd += float64(t.Nanosecond()) / 1e9 / 86400.0
	return satellite.ThetaG_JD(jd)
}

// stationECI rotates a station's Earth-fixed position into the inertial
// frame. It also returns the station latitude and local sidereal angle,
// both in radians, for the topocentric rotation.
func stationECI(loc model.GeodeticLocation, gmst float64) (model.Vec3, float64, float64) {
	lat := loc.LatitudeDeg * deg2rad
	theta := gmst + loc.LongitudeDeg*deg2rad
	r := EarthRadiusKm + loc.AltitudeM/1000.0

	sinLat, cosLat := math.Sincos(lat)
	sinTheta, cosTheta := math.Sincos(theta)
	return model.Vec3{
		X: r * cosLat * cosTheta,
		Y: r * cosLat * sinTheta,
		Z: r * sinLat,
	}, lat, theta
}

// lookFrom computes look angles from a station to an inertial position.
//
// The relative vector is rotated into SEZ (South, East, Zenith); azimuth is
// measured clockwise from North, i.e. atan2(east, -south). A zero or
// non-finite range yields zero angles rather than NaN.
func lookFrom(sat model.Vec3, loc model.GeodeticLocation, gmst float64) model.LookAngles {
	st, lat, theta := stationECI(loc, gmst)
	rho := sat.Sub(st)

	sinLat, cosLat := math.Sincos(lat)
	sinTheta, cosTheta := math.Sincos(theta)

	south := sinLat*cosTheta*rho.X + sinLat*sinTheta*rho.Y - cosLat*rho.Z
	east := -sinTheta*rho.X + cosTheta*rho.Y
	zenith := cosLat*cosTheta*rho.X + cosLat*sinTheta*rho.Y + sinLat*rho.Z

	rng := math.Sqrt(south*south + east*east + zenith*zenith)
	if rng == 0 || math.IsNaN(rng) || math.IsInf(rng, 0) {
		return model.LookAngles{}
	}

	sinEl := zenith / rng
	if sinEl > 1 {
		sinEl = 1
	} else if sinEl < -1 {
		sinEl = -1
	}

	az := math.Atan2(east, -south) * rad2deg
	if az < 0 {
		az += 360
	}
	if az >= 360 {
		az -= 360
	}

	return model.LookAngles{
		ElevationDeg: math.Asin(sinEl) * rad2deg,
		AzimuthDeg:   az,
		RangeKm:      rng,
	}
}

// Look propagates el to t and returns the look angles from station.
// It has no side effects and is safe for concurrent use.
func Look(el model.OrbitalElements, station model.GroundStation, t time.Time) model.LookAngles {
	state := Propagate(el, t)
	return lookFrom(state.Position, station.Location, GMST(t))
}

// SubSatellitePoint returns the geodetic point directly beneath the
// satellite for the given inertial state.
func SubSatellitePoint(state model.OrbitalState) model.GroundPoint {
	pos := satellite.Vector3{X: state.Position.X, Y: state.Position.Y, Z: state.Position.Z}
	alt, _, ll := satellite.ECIToLLA(pos, GMST(state.Timestamp))

	lon := normalizeLongitude(ll.Longitude * rad2deg)
	return model.GroundPoint{
		LatitudeDeg:  ll.Latitude * rad2deg,
		LongitudeDeg: lon,
		AltitudeKm:   alt,
	}
}

// normalizeLongitude maps degrees onto [-180, 180).
func normalizeLongitude(lon float64) float64 {
	lon = math.Mod(lon, 360)
	if lon >= 180 {
		lon -= 360
	} else if lon < -180 {
		lon += 360
	}
	return lon
}
