package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/mission-engine/internal/command"
	"github.com/signalsfoundry/mission-engine/internal/events"
	"github.com/signalsfoundry/mission-engine/internal/logging"
	"github.com/signalsfoundry/mission-engine/internal/performance"
	"github.com/signalsfoundry/mission-engine/model"
)

// SubmitCommand enqueues an operator command. It returns immediately with
// the command in uplink_in_progress; later transitions arrive as
// command:status events.
func (e *Engine) SubmitCommand(ctx context.Context, id string, req command.Request) (model.QueuedCommand, error) {
	ctx, span := e.startSpan(ctx, "session.SubmitCommand", id)
	defer span.End()

	var cmd model.QueuedCommand
	err := e.store.With(id, func(s *Session) error {
		var err error
		cmd, err = s.queue.Submit(ctx, req)
		return err
	})
	return cmd, spanError(span, err)
}

// FailCommand terminates an in-flight command, for example when a
// downstream system reports the command was rejected.
func (e *Engine) FailCommand(ctx context.Context, id, commandID, reason string) (model.QueuedCommand, error) {
	_, span := e.startSpan(ctx, "session.FailCommand", id)
	defer span.End()

	var cmd model.QueuedCommand
	err := e.store.With(id, func(s *Session) error {
		var err error
		cmd, err = s.queue.Fail(commandID, reason)
		return err
	})
	return cmd, spanError(span, err)
}

// Command returns one command of a session.
func (e *Engine) Command(id, commandID string) (model.QueuedCommand, error) {
	var cmd model.QueuedCommand
	err := e.store.With(id, func(s *Session) error {
		c, ok := s.queue.Get(commandID)
		if !ok {
			return fmt.Errorf("%w: %s", command.ErrNotFound, commandID)
		}
		cmd = c
		return nil
	})
	return cmd, err
}

// Commands returns every command of a session in submission order.
func (e *Engine) Commands(id string) ([]model.QueuedCommand, error) {
	var out []model.QueuedCommand
	err := e.store.With(id, func(s *Session) error {
		out = s.queue.Commands()
		return nil
	})
	return out, err
}

// CommandStats counts a session's commands by current status.
func (e *Engine) CommandStats(id string) (command.Stats, error) {
	var st command.Stats
	err := e.store.With(id, func(s *Session) error {
		st = s.queue.Stats()
		return nil
	})
	return st, err
}

// History returns the resolved command history used by command_sequence
// conditions.
func (e *Engine) History(id string) ([]model.CommandRecord, error) {
	var out []model.CommandRecord
	err := e.store.With(id, func(s *Session) error {
		out = s.queue.History()
		return nil
	})
	return out, err
}

// onTransition runs inside the session's exclusive section. Metrics are
// updated before steps are re-evaluated, so a completed command is never
// visible to the evaluator ahead of its side effects.
func (e *Engine) onTransition(s *Session, t command.Transition) {
	ctx := logging.ContextWithSessionID(context.Background(), s.id)
	if e.metrics != nil {
		e.metrics.IncCommandTransition(string(t.From), string(t.To))
	}
	e.publish(events.CommandStatus(t.Command, t.At))

	switch t.To {
	case model.CommandCompleted:
		e.recordMetric(ctx, s, t.At, func(tr *performance.Tracker) (model.SessionMetrics, error) {
			return tr.RecordCommand(true)
		})
	case model.CommandFailed:
		e.log.Info(ctx, "command failed",
			logging.String("command_id", t.Command.ID),
			logging.String("command", t.Command.CommandName),
			logging.String("reason", t.Command.FailureReason),
		)
		e.recordMetric(ctx, s, t.At, func(tr *performance.Tracker) (model.SessionMetrics, error) {
			if _, err := tr.RecordCommand(false); err != nil {
				return model.SessionMetrics{}, err
			}
			return tr.RecordError(model.SeverityMedium)
		})
	}

	if t.To.Terminal() {
		e.advanceLocked(ctx, s)
	}
	e.saveLocked(ctx, s)
}

// recordMetric applies update and publishes the new metrics. Updates after
// the metrics were finalized are dropped.
func (e *Engine) recordMetric(ctx context.Context, s *Session, at time.Time, update func(*performance.Tracker) (model.SessionMetrics, error)) {
	m, err := update(s.tracker)
	if errors.Is(err, performance.ErrFinalized) {
		e.log.Debug(ctx, "metrics finalized; update dropped")
		return
	}
	if err != nil {
		e.log.Warn(ctx, "metrics update rejected", logging.Err(err))
		return
	}
	e.publish(events.MetricsUpdated(s.id, m, at))
}
