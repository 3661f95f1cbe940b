package core

import (
	"sort"
	"time"

	"github.com/signalsfoundry/mission-engine/model"
)

// rangeRateStep is the finite-difference interval used for range rate.
const rangeRateStep = time.Second

// NextPassFunc finds the next pass; PassCache.NextPass satisfies it.
type NextPassFunc func(el model.OrbitalElements, station model.GroundStation, t time.Time) *model.Pass

// CalculateVisibility computes a full VisibilityReading for station at t.
func CalculateVisibility(el model.OrbitalElements, station model.GroundStation, t time.Time) model.VisibilityReading {
	return calculateVisibility(el, station, t, NextPass)
}

func calculateVisibility(el model.OrbitalElements, station model.GroundStation, t time.Time, next NextPassFunc) model.VisibilityReading {
	look := Look(el, station, t)

	// Range rate is a forward difference over one second of a side-effect
	// free look-angle evaluation.
	ahead := Look(el, station, t.Add(rangeRateStep))

	reading := model.VisibilityReading{
		StationID: station.ID,
		Timestamp: t,
		IsVisible: look.ElevationDeg > VisibilityThresholdDeg,
		Elevation: look.ElevationDeg,
		Azimuth:   look.AzimuthDeg,
		Range:     look.RangeKm,
		RangeRate: (ahead.RangeKm - look.RangeKm) / rangeRateStep.Seconds(),
	}

	if reading.IsVisible {
		reading.SignalStrength = SignalStrength(look.ElevationDeg, look.RangeKm)
		pass := PassDuration(el, station, t)
		reading.PassDuration = pass.DurationSeconds
		reading.MaxElevation = pass.MaxElevation
		return reading
	}

	if next != nil {
		if pass := next(el, station, t); pass != nil {
			start := pass.StartTime
			reading.NextPassTime = &start
		}
	}
	return reading
}

// VisibleStations filters readings to those in contact, highest elevation
// first. The input slice is not modified.
func VisibleStations(readings []model.VisibilityReading) []model.VisibilityReading {
	out := make([]model.VisibilityReading, 0, len(readings))
	for _, r := range readings {
		if r.IsVisible {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Elevation > out[j].Elevation
	})
	return out
}

// BestStation returns the visible reading with the highest elevation.
func BestStation(readings []model.VisibilityReading) (model.VisibilityReading, bool) {
	visible := VisibleStations(readings)
	if len(visible) == 0 {
		return model.VisibilityReading{}, false
	}
	return visible[0], true
}

// StationContact is a lightweight visibility check result.
type StationContact struct {
	Station model.GroundStation
	Look    model.LookAngles
}

// InContact returns the stations that can see the satellite at t, highest
// elevation first. It skips pass scanning and is cheap enough to call on
// every beacon or condition evaluation.
func InContact(el model.OrbitalElements, stations []model.GroundStation, t time.Time) []StationContact {
	state := Propagate(el, t)
	gmst := GMST(t)

	var out []StationContact
	for _, st := range stations {
		look := lookFrom(state.Position, st.Location, gmst)
		if look.ElevationDeg > VisibilityThresholdDeg {
			out = append(out, StationContact{Station: st, Look: look})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Look.ElevationDeg > out[j].Look.ElevationDeg
	})
	return out
}
