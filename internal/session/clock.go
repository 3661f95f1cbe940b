package session

import (
	"context"
	"time"

	"github.com/signalsfoundry/mission-engine/internal/events"
	"github.com/signalsfoundry/mission-engine/internal/logging"
	"github.com/signalsfoundry/mission-engine/timectrl"
)

// SetTimeScale rescales a session's clock. Pending command deadlines are
// re-armed inside the same exclusive section, so a command submitted
// concurrently always sees either the old or the new conversion, never a
// mix.
func (e *Engine) SetTimeScale(ctx context.Context, id string, scale float64, reason string) (timectrl.ScaleChange, error) {
	ctx, span := e.startSpan(ctx, "session.SetTimeScale", id)
	defer span.End()

	var change timectrl.ScaleChange
	err := e.store.With(id, func(s *Session) error {
		var err error
		change, err = s.clock.SetTimeScale(scale, reason)
		if err != nil {
			return err
		}
		e.rescaledLocked(ctx, s, change.PreviousScale, change.Scale)
		return nil
	})
	return change, spanError(span, err)
}

// ApplyPrompt adopts a time prompt's suggested scale in auto mode.
func (e *Engine) ApplyPrompt(ctx context.Context, id string, p timectrl.TimePrompt) (timectrl.ScaleChange, error) {
	ctx, span := e.startSpan(ctx, "session.ApplyPrompt", id)
	defer span.End()

	var change timectrl.ScaleChange
	err := e.store.With(id, func(s *Session) error {
		var err error
		change, err = s.clock.ApplyPrompt(p)
		if err != nil {
			return err
		}
		e.rescaledLocked(ctx, s, change.PreviousScale, change.Scale)
		return nil
	})
	return change, spanError(span, err)
}

// SetCriticalOperation toggles real-time override for a critical operation.
// Nested activations are no-ops.
func (e *Engine) SetCriticalOperation(ctx context.Context, id string, active bool, operationType string) (timectrl.CriticalChange, error) {
	ctx, span := e.startSpan(ctx, "session.SetCriticalOperation", id)
	defer span.End()

	var change timectrl.CriticalChange
	err := e.store.With(id, func(s *Session) error {
		change = s.clock.SetCriticalOperation(active, operationType)
		if change.Changed {
			e.rescaledLocked(ctx, s, change.PreviousScale, change.Scale)
		}
		return nil
	})
	return change, spanError(span, err)
}

func (e *Engine) rescaledLocked(ctx context.Context, s *Session, from, to float64) {
	rearmed := 0
	if from != to {
		rearmed = e.sched.Rearm(s.id)
	}
	e.saveLocked(ctx, s)
	e.log.Debug(ctx, "session rescaled",
		logging.Float("from", from),
		logging.Float("to", to),
		logging.Int("rearmed", rearmed),
	)
}

// CreateTimePrompt builds an advisory prompt and publishes it as a
// time:prompt event. The clock is not changed.
func (e *Engine) CreateTimePrompt(ctx context.Context, id, reason string, suggestedScale, waitVirtualSeconds float64) (timectrl.TimePrompt, error) {
	_, span := e.startSpan(ctx, "session.CreateTimePrompt", id)
	defer span.End()

	var p timectrl.TimePrompt
	err := e.store.With(id, func(s *Session) error {
		var err error
		p, err = s.clock.CreateTimePrompt(reason, suggestedScale, waitVirtualSeconds)
		if err != nil {
			return err
		}
		e.publish(events.TimePrompt(p))
		return nil
	})
	return p, spanError(span, err)
}

// VirtualNow returns the session's current virtual time.
func (e *Engine) VirtualNow(id string) (time.Time, error) {
	s, err := e.store.Get(id)
	if err != nil {
		return time.Time{}, err
	}
	return s.clock.VirtualNow(), nil
}

// ClockState exports the session clock.
func (e *Engine) ClockState(id string) (timectrl.ClockState, error) {
	s, err := e.store.Get(id)
	if err != nil {
		return timectrl.ClockState{}, err
	}
	return s.clock.State(), nil
}
