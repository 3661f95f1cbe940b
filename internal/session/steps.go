package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/mission-engine/core"
	"github.com/signalsfoundry/mission-engine/internal/evaluator"
	"github.com/signalsfoundry/mission-engine/internal/events"
	"github.com/signalsfoundry/mission-engine/internal/logging"
	"github.com/signalsfoundry/mission-engine/internal/performance"
	"github.com/signalsfoundry/mission-engine/model"
)

// Auto prompts suggest a scale that brings the next pass within this much
// real time, capped at maxSuggestedScale.
const (
	promptTargetRealWait = time.Minute
	maxSuggestedScale    = 1000
)

// evalStateLocked gathers the evaluator input at the session's virtual now.
func (e *Engine) evalStateLocked(s *Session) evaluator.State {
	now := s.clock.VirtualNow()
	contacts := core.InContact(s.elements, s.stations, now)
	ids := make([]string, len(contacts))
	for i, c := range contacts {
		ids[i] = c.Station.ID
	}
	return evaluator.State{
		Telemetry:  s.telemetry,
		LastBeacon: s.lastBeacon,
		History:    s.queue.History(),
		Contacts:   ids,
	}
}

// EvaluateStep evaluates any step of the session against its current
// state without completing it.
func (e *Engine) EvaluateStep(ctx context.Context, id, stepID string) (evaluator.Result, error) {
	_, span := e.startSpan(ctx, "session.EvaluateStep", id)
	defer span.End()

	var res evaluator.Result
	err := e.store.With(id, func(s *Session) error {
		i, err := s.stepIndex(stepID)
		if err != nil {
			return err
		}
		res = evaluator.Evaluate(s.conds[i], e.evalStateLocked(s))
		if s.done[stepID] {
			res.Complete = true
		}
		return nil
	})
	return res, spanError(span, err)
}

// advanceLocked completes steps in order for as long as the active step's
// condition holds. Response time is the virtual time the step was active.
// Completing the last step finalizes the metrics.
func (e *Engine) advanceLocked(ctx context.Context, s *Session) {
	step, cond, ok := s.currentStepLocked()
	if !ok {
		return
	}
	state := e.evalStateLocked(s)
	progressed := false

	for ok {
		res := evaluator.Evaluate(cond, state)
		if !res.Complete {
			break
		}
		now := s.clock.VirtualNow()
		response := now.Sub(s.activated).Seconds()
		if _, err := s.tracker.RecordResponse(response); err != nil {
			e.stepMetricError(ctx, step.ID, err)
		}
		if _, err := s.tracker.CompleteStep(); err != nil {
			e.stepMetricError(ctx, step.ID, err)
		}
		s.done[step.ID] = true
		s.completed = append(s.completed, step.ID)
		s.current++
		s.activated = now
		progressed = true

		e.publish(events.StepCompleted(s.id, step.ID, res.Reason, now))
		if e.metrics != nil {
			e.metrics.IncStepsCompleted()
		}
		e.log.Info(ctx, "step completed",
			logging.String("step_id", step.ID),
			logging.Float("response_s", response),
		)
		step, cond, ok = s.currentStepLocked()
	}
	if !progressed {
		return
	}

	now := s.clock.VirtualNow()
	if s.current == len(s.steps) {
		m := s.tracker.Finalize()
		e.publish(events.MetricsUpdated(s.id, m, now))
		e.log.Info(ctx, "mission complete", logging.Float("overall_score", m.Scores.Overall))
		return
	}
	e.publish(events.MetricsUpdated(s.id, s.tracker.Snapshot(), now))
}

// Tick recomputes visibility for every live session in parallel and
// re-evaluates their active steps.
func (e *Engine) Tick(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, s := range e.store.List() {
		g.Go(func() error {
			return e.tickSession(ctx, s)
		})
	}
	err := g.Wait()
	if e.metrics != nil && e.calc.Cache != nil {
		e.metrics.SetPassCacheHitRatio(e.calc.Cache.HitRatio())
	}
	return err
}

func (e *Engine) tickSession(ctx context.Context, s *Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx = logging.ContextWithSessionID(ctx, s.id)

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil
	}
	elements, stations := s.elements, s.stationsLocked()
	now := s.clock.VirtualNow()
	s.mu.Unlock()

	start := time.Now()
	readings := e.calc.Visibilities(elements, stations, now)
	e.observeVisibility(time.Since(start))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return nil
	}
	s.visibility = readings
	e.advanceLocked(ctx, s)
	e.maybePromptLocked(ctx, s, readings, now)
	return nil
}

// maybePromptLocked publishes one time prompt per awaited pass when nothing
// is in contact and the next pass is far away at the current scale. The
// predicted start shifts with every scan, so a prompt holds until the
// predicted start is reached.
func (e *Engine) maybePromptLocked(ctx context.Context, s *Session, readings []model.VisibilityReading, now time.Time) {
	if e.promptAfter <= 0 {
		return
	}
	if crit, _ := s.clock.Critical(); crit {
		return
	}

	var next *model.VisibilityReading
	for i := range readings {
		r := &readings[i]
		if r.IsVisible {
			return
		}
		if r.NextPassTime != nil && (next == nil || r.NextPassTime.Before(*next.NextPassTime)) {
			next = r
		}
	}
	if next == nil || now.Before(s.prompted) {
		return
	}
	wait := next.NextPassTime.Sub(now)
	if wait < e.promptAfter {
		return
	}
	suggested := math.Min(math.Ceil(wait.Seconds()/promptTargetRealWait.Seconds()), maxSuggestedScale)
	if suggested <= s.clock.Scale() {
		return
	}

	p, err := s.clock.CreateTimePrompt(fmt.Sprintf("next pass over %s in %s", next.StationID, wait.Round(time.Second)), suggested, wait.Seconds())
	if err != nil {
		e.log.Warn(ctx, "time prompt rejected", logging.Err(err))
		return
	}
	s.prompted = *next.NextPassTime
	e.publish(events.TimePrompt(p))
}

// LastVisibility returns the readings computed by the most recent Tick.
func (e *Engine) LastVisibility(id string) ([]model.VisibilityReading, error) {
	var out []model.VisibilityReading
	err := e.store.With(id, func(s *Session) error {
		out = append(out, s.visibility...)
		return nil
	})
	return out, err
}

// RecordResourceUsage records power and fuel efficiency samples in [0, 100].
func (e *Engine) RecordResourceUsage(ctx context.Context, id string, power, fuel float64) (model.SessionMetrics, error) {
	return e.updateMetrics(ctx, id, "session.RecordResourceUsage", func(t *performance.Tracker) (model.SessionMetrics, error) {
		return t.RecordResources(power, fuel)
	})
}

// RecordError records an operator error of the given severity.
func (e *Engine) RecordError(ctx context.Context, id, severity string) (model.SessionMetrics, error) {
	return e.updateMetrics(ctx, id, "session.RecordError", func(t *performance.Tracker) (model.SessionMetrics, error) {
		return t.RecordError(severity)
	})
}

func (e *Engine) updateMetrics(ctx context.Context, id, op string, update func(*performance.Tracker) (model.SessionMetrics, error)) (model.SessionMetrics, error) {
	_, span := e.startSpan(ctx, op, id)
	defer span.End()

	var m model.SessionMetrics
	err := e.store.With(id, func(s *Session) error {
		var err error
		m, err = update(s.tracker)
		if err != nil {
			return err
		}
		e.publish(events.MetricsUpdated(s.id, m, s.clock.VirtualNow()))
		e.saveLocked(ctx, s)
		return nil
	})
	return m, spanError(span, err)
}

// Metrics returns a copy of the session metrics.
func (e *Engine) Metrics(id string) (model.SessionMetrics, error) {
	var m model.SessionMetrics
	err := e.store.With(id, func(s *Session) error {
		m = s.tracker.Snapshot()
		return nil
	})
	return m, err
}

func (e *Engine) stepMetricError(ctx context.Context, stepID string, err error) {
	if errors.Is(err, performance.ErrFinalized) {
		e.log.Debug(ctx, "metrics finalized; step sample dropped", logging.String("step_id", stepID))
		return
	}
	e.log.Warn(ctx, "step metrics rejected", logging.String("step_id", stepID), logging.Err(err))
}
