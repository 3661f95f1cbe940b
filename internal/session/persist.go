package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/brunoga/deep"

	"github.com/signalsfoundry/mission-engine/internal/logging"
	"github.com/signalsfoundry/mission-engine/internal/performance"
	"github.com/signalsfoundry/mission-engine/internal/snapshot"
	"github.com/signalsfoundry/mission-engine/model"
	"github.com/signalsfoundry/mission-engine/timectrl"
)

// ErrPersistenceDisabled is returned by Recover when no snapshot store is
// configured.
var ErrPersistenceDisabled = model.NewConfigError("snapshot", "session persistence is disabled", nil)

// recordLocked captures the session for persistence. Mutable collections
// are deep-copied so the write can proceed after the lock is released.
func (s *Session) recordLocked(e *Engine) snapshot.Record {
	rec := snapshot.Record{
		Seq:            s.seq,
		SessionID:      s.id,
		SavedAt:        e.real.Now(),
		Elements:       s.elements,
		Stations:       s.stationsLocked(),
		Steps:          deep.MustCopy(s.steps),
		Profiles:       deep.MustCopy(s.profiles),
		Clock:          s.clock.State(),
		Commands:       s.queue.Commands(),
		Metrics:        s.tracker.Snapshot(),
		CompletedSteps: append([]string(nil), s.completed...),
		Telemetry:      copyTelemetry(s.telemetry),
		StepActivated:  s.activated,
	}
	if s.lastBeacon != nil {
		b := *s.lastBeacon
		if b.ReceivedAt != nil {
			at := *b.ReceivedAt
			b.ReceivedAt = &at
		}
		rec.LastBeacon = &b
	}
	return rec
}

// saveLocked writes a snapshot in the background. Each save carries the
// next sequence number; the store discards writes that arrive out of order.
// A failed write is logged and never touches the live session.
func (e *Engine) saveLocked(ctx context.Context, s *Session) {
	if e.snaps == nil {
		return
	}
	s.seq++
	rec := s.recordLocked(e)
	ctx = context.WithoutCancel(ctx)

	e.saves.Add(1)
	go func() {
		defer e.saves.Done()
		err := e.snaps.Save(ctx, rec)
		switch {
		case err == nil:
		case errors.Is(err, snapshot.ErrStale):
			e.log.Debug(ctx, "stale snapshot dropped",
				logging.Int("seq", int(rec.Seq)),
				logging.Err(err),
			)
		default:
			e.log.Warn(ctx, "snapshot write failed",
				logging.Int("seq", int(rec.Seq)),
				logging.Err(err),
			)
		}
	}()
}

// resumeSeq returns the sequence a new session with id continues from, so
// its snapshots supersede whatever an earlier session with the same id
// left behind. Writes still in flight are waited for first.
func (e *Engine) resumeSeq(ctx context.Context, id string) uint64 {
	if e.snaps == nil {
		return 0
	}
	e.saves.Wait()
	seq, err := e.snaps.LastSeq(id)
	if err != nil {
		e.log.Warn(ctx, "previous snapshot unreadable; it will be overwritten", logging.Err(err))
		return 0
	}
	return seq
}

// Flush waits until every snapshot write started so far has finished.
func (e *Engine) Flush() {
	e.saves.Wait()
}

// Recover rebuilds a session from its snapshot after a restart. The clock
// resumes from its persisted rebase point, so virtual time kept running
// while the process was down, and every pending command is re-armed from
// its persisted enqueue time and latencies. Deadlines that passed during
// the outage fire on the next scheduler run.
func (e *Engine) Recover(ctx context.Context, id string) (Info, error) {
	ctx, span := e.startSpan(ctx, "session.Recover", id)
	defer span.End()

	if e.snaps == nil {
		return Info{}, spanError(span, ErrPersistenceDisabled)
	}
	if e.store.Has(id) {
		return Info{}, spanError(span, fmt.Errorf("%w: %s", ErrSessionExists, id))
	}
	rec, err := e.snaps.Load(id)
	if err != nil {
		return Info{}, spanError(span, err)
	}

	conds, err := parseSteps(rec.Steps)
	if err != nil {
		return Info{}, spanError(span, err)
	}
	clock, err := timectrl.RestoreClock(rec.Clock, e.real)
	if err != nil {
		return Info{}, spanError(span, err)
	}
	profiles := rec.Profiles
	if profiles.Validate() != nil {
		profiles = e.profiles
	}

	s := &Session{
		id:         id,
		elements:   rec.Elements,
		steps:      rec.Steps,
		conds:      conds,
		profiles:   profiles,
		stations:   rec.Stations,
		clock:      clock,
		tracker:    performance.Restore(rec.Metrics),
		telemetry:  copyTelemetry(rec.Telemetry),
		lastBeacon: rec.LastBeacon,
		done:       make(map[string]bool, len(rec.CompletedSteps)),
		activated:  rec.StepActivated,
		seq:        rec.Seq,
	}
	for _, stepID := range rec.CompletedSteps {
		if _, err := s.stepIndex(stepID); err != nil {
			continue
		}
		s.done[stepID] = true
		s.completed = append(s.completed, stepID)
	}
	for s.current < len(s.steps) && s.done[s.steps[s.current].ID] {
		s.current++
	}
	if s.activated.IsZero() {
		s.activated = clock.VirtualNow()
	}
	s.queue = e.newQueue(s, e.outcome)

	s.mu.Lock()
	defer s.mu.Unlock()
	armed, err := s.queue.Restore(rec.Commands)
	if err != nil {
		s.queue.Close()
		e.sched.CancelSession(id)
		return Info{}, spanError(span, err)
	}
	if err := e.store.add(s); err != nil {
		s.queue.Close()
		e.sched.CancelSession(id)
		return Info{}, spanError(span, err)
	}
	e.recordSessions()
	e.advanceLocked(ctx, s)

	e.log.Info(ctx, "session recovered",
		logging.Int("seq", int(rec.Seq)),
		logging.Int("commands", len(rec.Commands)),
		logging.Int("rearmed", armed),
	)
	return s.infoLocked(), nil
}

// RecoverAll recovers every persisted session that is not already live.
// Sessions whose metrics were finalized are left on disk untouched.
func (e *Engine) RecoverAll(ctx context.Context) ([]string, error) {
	if e.snaps == nil {
		return nil, ErrPersistenceDisabled
	}
	ids, err := e.snaps.List()
	if err != nil {
		return nil, err
	}
	var recovered []string
	var errs []error
	for _, id := range ids {
		if e.store.Has(id) {
			continue
		}
		rec, err := e.snaps.Load(id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if rec.Metrics.Finalized {
			continue
		}
		if _, err := e.Recover(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("recover %s: %w", id, err))
			continue
		}
		recovered = append(recovered, id)
	}
	return recovered, errors.Join(errs...)
}
