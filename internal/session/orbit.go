package session

import (
	"context"
	"fmt"
	"time"

	"github.com/signalsfoundry/mission-engine/core"
	"github.com/signalsfoundry/mission-engine/internal/events"
	"github.com/signalsfoundry/mission-engine/internal/logging"
	"github.com/signalsfoundry/mission-engine/kb"
	"github.com/signalsfoundry/mission-engine/model"
)

// view is what the pure orbital computations need from a session.
type view struct {
	elements model.OrbitalElements
	stations []model.GroundStation
	now      time.Time
}

func (e *Engine) view(id string) (view, error) {
	var v view
	err := e.store.With(id, func(s *Session) error {
		v = view{elements: s.elements, stations: s.stationsLocked(), now: s.clock.VirtualNow()}
		return nil
	})
	return v, err
}

// OrbitalState propagates the session satellite to its current virtual time.
func (e *Engine) OrbitalState(id string) (model.OrbitalState, error) {
	v, err := e.view(id)
	if err != nil {
		return model.OrbitalState{}, err
	}
	return core.Propagate(v.elements, v.now), nil
}

// GroundPoint returns the sub-satellite point at the current virtual time.
func (e *Engine) GroundPoint(id string) (model.GroundPoint, error) {
	state, err := e.OrbitalState(id)
	if err != nil {
		return model.GroundPoint{}, err
	}
	return core.SubSatellitePoint(state), nil
}

// Visibility computes a fresh reading for every station of the session.
// The computation runs outside the session lock.
func (e *Engine) Visibility(ctx context.Context, id string) ([]model.VisibilityReading, error) {
	_, span := e.startSpan(ctx, "session.Visibility", id)
	defer span.End()

	v, err := e.view(id)
	if err != nil {
		return nil, spanError(span, err)
	}
	start := time.Now()
	readings := e.calc.Visibilities(v.elements, v.stations, v.now)
	e.observeVisibility(time.Since(start))
	return readings, nil
}

// NextPass predicts the next contact with stationID, or nil when none is
// found within the scan horizon.
func (e *Engine) NextPass(ctx context.Context, id, stationID string) (*model.Pass, error) {
	_, span := e.startSpan(ctx, "session.NextPass", id)
	defer span.End()

	v, err := e.view(id)
	if err != nil {
		return nil, spanError(span, err)
	}
	for _, st := range v.stations {
		if st.ID == stationID {
			if e.calc.Cache != nil {
				return e.calc.Cache.NextPass(v.elements, st, v.now), nil
			}
			return core.NextPass(v.elements, st, v.now), nil
		}
	}
	return nil, spanError(span, fmt.Errorf("%w: %q", kb.ErrStationNotFound, stationID))
}

// TransmitBeacon records a beacon sent at the current virtual time. It is
// received by the highest-elevation station in contact, if any.
func (e *Engine) TransmitBeacon(ctx context.Context, id, beaconType string) (model.BeaconEvent, error) {
	ctx, span := e.startSpan(ctx, "session.TransmitBeacon", id)
	defer span.End()

	if beaconType == "" {
		return model.BeaconEvent{}, spanError(span, model.NewConfigError("beacon_type", "must not be empty", nil))
	}

	var ev model.BeaconEvent
	err := e.store.With(id, func(s *Session) error {
		now := s.clock.VirtualNow()
		ev = model.BeaconEvent{BeaconType: beaconType, TransmittedAt: now}
		e.publish(events.BeaconTransmitted(s.id, beaconType, now))

		if contacts := core.InContact(s.elements, s.stations, now); len(contacts) > 0 {
			received := now
			ev.ReceivedAt = &received
			ev.GroundStation = contacts[0].Station.Name
			e.publish(events.BeaconReceived(s.id, beaconType, ev.GroundStation, now))
		}
		last := ev
		s.lastBeacon = &last

		e.log.Debug(ctx, "beacon transmitted",
			logging.String("beacon_type", beaconType),
			logging.Bool("received", ev.Received()),
		)
		e.advanceLocked(ctx, s)
		e.saveLocked(ctx, s)
		return nil
	})
	return ev, spanError(span, err)
}

// UpdateTelemetry merges values into the session telemetry and re-evaluates
// the active step.
func (e *Engine) UpdateTelemetry(ctx context.Context, id string, values model.Telemetry) error {
	ctx, span := e.startSpan(ctx, "session.UpdateTelemetry", id)
	defer span.End()

	err := e.store.With(id, func(s *Session) error {
		for sub, params := range values {
			dst := s.telemetry[sub]
			if dst == nil {
				dst = make(map[string]float64, len(params))
				s.telemetry[sub] = dst
			}
			for k, v := range params {
				dst[k] = v
			}
		}
		e.advanceLocked(ctx, s)
		e.saveLocked(ctx, s)
		return nil
	})
	return spanError(span, err)
}

// Telemetry returns a copy of the session telemetry.
func (e *Engine) Telemetry(id string) (model.Telemetry, error) {
	var out model.Telemetry
	err := e.store.With(id, func(s *Session) error {
		out = copyTelemetry(s.telemetry)
		return nil
	})
	return out, err
}

func (e *Engine) observeVisibility(d time.Duration) {
	if e.metrics != nil {
		e.metrics.ObserveVisibility(d)
	}
}
