package model

import (
	"errors"
	"math"
)

// ErrInvalidStation is wrapped by GroundStation.Validate failures.
var ErrInvalidStation = errors.New("invalid ground station")

// GeodeticLocation is a position on the (spherical) Earth.
type GeodeticLocation struct {
	LatitudeDeg  float64 `json:"latitude" yaml:"latitude"`
	LongitudeDeg float64 `json:"longitude" yaml:"longitude"`
	AltitudeM    float64 `json:"altitude" yaml:"altitude_m"`
}

// GroundStation is static reference data; the engine never mutates it.
type GroundStation struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Location GeodeticLocation `json:"location"`
}

// Validate checks identity and coordinate ranges.
func (g GroundStation) Validate() error {
	lat, lon := g.Location.LatitudeDeg, g.Location.LongitudeDeg
	switch {
	case g.ID == "":
		return NewConfigError("ground_station.id", "must not be empty", ErrInvalidStation)
	case math.IsNaN(lat) || lat < -90 || lat > 90:
		return NewConfigError("ground_station.latitude", "must be within [-90, 90]", ErrInvalidStation)
	case math.IsNaN(lon) || lon < -180 || lon > 180:
		return NewConfigError("ground_station.longitude", "must be within [-180, 180]", ErrInvalidStation)
	}
	return nil
}
