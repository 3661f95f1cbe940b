package core

import (
	"time"

	"github.com/signalsfoundry/mission-engine/model"
)

const (
	passScanStep     = 10 * time.Second
	nextPassScanStep = 60 * time.Second
	nextPassPeriods  = 3
)

// PassDuration scans forward from t in 10 s steps for up to half an orbital
// period and reports the first contiguous visible interval found. A
// satellite that never rises above the threshold yields a zero summary.
func PassDuration(el model.OrbitalElements, station model.GroundStation, t time.Time) model.PassSummary {
	horizon := t.Add(Period(el) / 2)

	var (
		summary model.PassSummary
		found   bool
	)
	for ts := t; !ts.After(horizon); ts = ts.Add(passScanStep) {
		look := Look(el, station, ts)
		if look.ElevationDeg <= VisibilityThresholdDeg {
			if found {
				break
			}
			continue
		}
		if !found {
			found = true
			summary.Start = ts
			summary.MaxElevation = look.ElevationDeg
		}
		summary.End = ts
		if look.ElevationDeg > summary.MaxElevation {
			summary.MaxElevation = look.ElevationDeg
		}
	}
	if !found {
		return model.PassSummary{}
	}
	summary.DurationSeconds = summary.End.Sub(summary.Start).Seconds()
	return summary
}

// NextPass scans forward from t in 60 s steps for up to three orbital
// periods and returns the first pass that starts after t. A pass already in
// progress at t is skipped. Nil means nothing was found inside the scan
// horizon, not that no pass exists.
func NextPass(el model.OrbitalElements, station model.GroundStation, t time.Time) *model.Pass {
	horizon := t.Add(nextPassPeriods * Period(el))
	inPass := Look(el, station, t).ElevationDeg > VisibilityThresholdDeg

	for ts := t.Add(nextPassScanStep); !ts.After(horizon); ts = ts.Add(nextPassScanStep) {
		visible := Look(el, station, ts).ElevationDeg > VisibilityThresholdDeg
		if !visible {
			inPass = false
			continue
		}
		if inPass {
			continue
		}
		summary := PassDuration(el, station, ts)
		return &model.Pass{
			StartTime:       ts,
			DurationSeconds: summary.DurationSeconds,
			MaxElevation:    summary.MaxElevation,
			TimeUntilPass:   ts.Sub(t),
		}
	}
	return nil
}
