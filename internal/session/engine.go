package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/mission-engine/core"
	"github.com/signalsfoundry/mission-engine/internal/command"
	"github.com/signalsfoundry/mission-engine/internal/config"
	"github.com/signalsfoundry/mission-engine/internal/evaluator"
	"github.com/signalsfoundry/mission-engine/internal/events"
	"github.com/signalsfoundry/mission-engine/internal/logging"
	"github.com/signalsfoundry/mission-engine/internal/observability"
	"github.com/signalsfoundry/mission-engine/internal/performance"
	"github.com/signalsfoundry/mission-engine/internal/sched"
	"github.com/signalsfoundry/mission-engine/internal/snapshot"
	"github.com/signalsfoundry/mission-engine/kb"
	"github.com/signalsfoundry/mission-engine/model"
	"github.com/signalsfoundry/mission-engine/timectrl"
)

// MetricsRecorder receives engine-level counters. When the recorder also
// implements sched.MetricsRecorder it is attached to the scheduler.
type MetricsRecorder interface {
	SetSessions(n int)
	IncCommandTransition(from, to string)
	IncStepsCompleted()
	ObserveVisibility(d time.Duration)
	SetPassCacheHitRatio(ratio float64)
}

// Engine is the mission simulation engine. It owns the session store and
// the shared deadline scheduler, and is the only entry point callers use to
// mutate session state.
type Engine struct {
	store    *Store
	sched    *sched.Scheduler
	real     timectrl.RealClock
	events   events.Publisher
	snaps    *snapshot.Store
	catalog  *kb.KnowledgeBase
	calc     *core.Calculator
	profiles command.Profiles
	outcome  command.Outcome
	metrics  MetricsRecorder
	log      logging.Logger
	tracer   trace.Tracer

	tick        time.Duration
	promptAfter time.Duration

	unsubscribe func()
	saves       sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithRealClock sets the wall clock; tests pass a timectrl.ManualClock.
func WithRealClock(c timectrl.RealClock) Option {
	return func(e *Engine) {
		if c != nil {
			e.real = c
		}
	}
}

// WithPublisher sets where output events go. The default discards them.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.events = p }
}

// WithSnapshots enables persistence of session state to store.
func WithSnapshots(store *snapshot.Store) Option {
	return func(e *Engine) { e.snaps = store }
}

// WithStationCatalog resolves Config.StationIDs against catalog and keeps
// live sessions in step with station updates and removals.
func WithStationCatalog(catalog *kb.KnowledgeBase) Option {
	return func(e *Engine) { e.catalog = catalog }
}

// WithPassCache memoises next-pass scans.
func WithPassCache(c *core.PassCache) Option {
	return func(e *Engine) { e.calc = &core.Calculator{Cache: c} }
}

// WithProfiles sets the latency profiles used when a session brings none.
func WithProfiles(p command.Profiles) Option {
	return func(e *Engine) { e.profiles = p }
}

// WithOutcome sets the default command outcome model.
func WithOutcome(o command.Outcome) Option {
	return func(e *Engine) {
		if o != nil {
			e.outcome = o
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the engine logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) { e.log = logging.OrNoop(l) }
}

// WithTracer overrides the tracer; the default is observability.Tracer().
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithTickInterval sets how often Run recomputes visibility.
func WithTickInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.tick = d
		}
	}
}

// WithAutoPrompt makes Tick emit a time prompt when no station is in
// contact and the next pass is at least after away in virtual time.
func WithAutoPrompt(after time.Duration) Option {
	return func(e *Engine) { e.promptAfter = after }
}

// New constructs an engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		store:    NewStore(),
		real:     timectrl.SystemClock{},
		calc:     &core.Calculator{},
		profiles: command.DefaultProfiles(),
		outcome:  command.AlwaysSucceed{},
		log:      logging.Noop(),
		tracer:   observability.Tracer(),
		tick:     time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}

	schedOpts := []sched.Option{sched.WithLogger(e.log)}
	if rec, ok := e.metrics.(sched.MetricsRecorder); ok {
		schedOpts = append(schedOpts, sched.WithMetricsRecorder(rec))
	}
	e.sched = sched.New(e.real, schedOpts...)

	if e.catalog != nil {
		e.unsubscribe = e.catalog.Subscribe(e.onStationEvent)
	}
	return e
}

// Config describes a session to start.
type Config struct {
	// ID is generated when empty.
	ID       string
	Elements model.OrbitalElements
	Stations []model.GroundStation
	// StationIDs are resolved through the station catalog when Stations
	// is empty.
	StationIDs []string
	Steps      []model.Step
	// InitialScale defaults to 1.
	InitialScale float64
	// VirtualStart defaults to the element epoch.
	VirtualStart time.Time
	Telemetry    model.Telemetry
	// Profiles and Outcome default to the engine's.
	Profiles *command.Profiles
	Outcome  command.Outcome
}

// ConfigFromScenario converts a loaded scenario file. base supplies the
// latency defaults the scenario's command overrides sit on.
func ConfigFromScenario(sc *config.Scenario, base command.Profiles) (Config, error) {
	el, err := sc.Elements()
	if err != nil {
		return Config{}, err
	}
	profiles, err := sc.Profiles(base)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Elements:     el,
		Stations:     sc.GroundStations(),
		Steps:        sc.Steps,
		InitialScale: sc.InitialScale,
		Telemetry:    sc.Telemetry,
		Profiles:     &profiles,
		Outcome:      sc.Outcome(),
	}, nil
}

// Info is a read-only summary of a session.
type Info struct {
	ID             string        `json:"id"`
	VirtualNow     time.Time     `json:"virtualNow"`
	Scale          float64       `json:"scale"`
	Mode           timectrl.Mode `json:"mode"`
	CriticalActive bool          `json:"criticalOperationActive"`
	Stations       int           `json:"stations"`
	Steps          int           `json:"steps"`
	CompletedSteps []string      `json:"completedSteps"`
	CurrentStep    string        `json:"currentStep,omitempty"`
	Commands       command.Stats `json:"commands"`
}

func (s *Session) infoLocked() Info {
	crit, _ := s.clock.Critical()
	info := Info{
		ID:             s.id,
		VirtualNow:     s.clock.VirtualNow(),
		Scale:          s.clock.Scale(),
		Mode:           s.clock.Mode(),
		CriticalActive: crit,
		Stations:       len(s.stations),
		Steps:          len(s.steps),
		CompletedSteps: append([]string(nil), s.completed...),
		Commands:       s.queue.Stats(),
	}
	if step, _, ok := s.currentStepLocked(); ok {
		info.CurrentStep = step.ID
	}
	return info
}

// StartSession validates cfg and registers a new live session.
func (e *Engine) StartSession(ctx context.Context, cfg Config) (Info, error) {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	ctx, span := e.startSpan(ctx, "session.StartSession", cfg.ID)
	defer span.End()

	if e.store.Has(cfg.ID) {
		return Info{}, spanError(span, fmt.Errorf("%w: %s", ErrSessionExists, cfg.ID))
	}
	if err := cfg.Elements.Validate(); err != nil {
		return Info{}, spanError(span, err)
	}
	stations, err := e.resolveStations(cfg)
	if err != nil {
		return Info{}, spanError(span, err)
	}
	conds, err := parseSteps(cfg.Steps)
	if err != nil {
		return Info{}, spanError(span, err)
	}
	profiles := e.profiles
	if cfg.Profiles != nil {
		profiles = *cfg.Profiles
	}
	if err := profiles.Validate(); err != nil {
		return Info{}, spanError(span, err)
	}

	scale := cfg.InitialScale
	if scale == 0 {
		scale = 1
	}
	start := cfg.VirtualStart
	if start.IsZero() {
		start = cfg.Elements.Epoch
	}
	clock, err := timectrl.NewVirtualClock(cfg.ID, e.real, start, scale)
	if err != nil {
		return Info{}, spanError(span, err)
	}

	s := &Session{
		id:        cfg.ID,
		elements:  cfg.Elements,
		steps:     append([]model.Step(nil), cfg.Steps...),
		conds:     conds,
		profiles:  profiles,
		stations:  stations,
		clock:     clock,
		tracker:   performance.NewTracker(len(cfg.Steps)),
		telemetry: copyTelemetry(cfg.Telemetry),
		done:      make(map[string]bool),
		activated: clock.VirtualNow(),
		seq:       e.resumeSeq(ctx, cfg.ID),
	}
	outcome := cfg.Outcome
	if outcome == nil {
		outcome = e.outcome
	}
	s.queue = e.newQueue(s, outcome)

	if err := e.store.add(s); err != nil {
		return Info{}, spanError(span, err)
	}
	e.recordSessions()

	s.mu.Lock()
	defer s.mu.Unlock()
	e.advanceLocked(ctx, s)
	e.saveLocked(ctx, s)

	e.log.Info(logging.ContextWithSessionID(ctx, s.id), "session started",
		logging.Int("stations", len(stations)),
		logging.Int("steps", len(s.steps)),
		logging.Float("scale", scale),
	)
	return s.infoLocked(), nil
}

func (e *Engine) newQueue(s *Session, outcome command.Outcome) *command.Queue {
	return command.New(s.id, s.clock, e.sched,
		command.WithProfiles(s.profiles),
		command.WithOutcome(outcome),
		command.WithGuard(s.guard),
		command.WithTransitionHandler(func(t command.Transition) {
			e.onTransition(s, t)
		}),
		command.WithLogger(e.log),
		command.WithRealClock(e.real),
	)
}

func (e *Engine) resolveStations(cfg Config) ([]model.GroundStation, error) {
	stations := cfg.Stations
	if len(stations) == 0 && len(cfg.StationIDs) > 0 {
		if e.catalog == nil {
			return nil, model.NewConfigError("stations", "station ids given but no station catalog is configured", nil)
		}
		resolved, err := e.catalog.Stations(cfg.StationIDs...)
		if err != nil {
			return nil, err
		}
		stations = resolved
	}
	seen := make(map[string]bool, len(stations))
	for _, st := range stations {
		if err := st.Validate(); err != nil {
			return nil, err
		}
		if seen[st.ID] {
			return nil, model.NewConfigError("stations", fmt.Sprintf("duplicate station id %q", st.ID), nil)
		}
		seen[st.ID] = true
	}
	return append([]model.GroundStation(nil), stations...), nil
}

func parseSteps(steps []model.Step) ([]evaluator.Condition, error) {
	conds := make([]evaluator.Condition, len(steps))
	seen := make(map[string]bool, len(steps))
	for i, step := range steps {
		if step.ID == "" {
			return nil, model.NewConfigError("steps", fmt.Sprintf("step %d has no id", i), nil)
		}
		if seen[step.ID] {
			return nil, model.NewConfigError("steps", fmt.Sprintf("duplicate step id %q", step.ID), nil)
		}
		seen[step.ID] = true
		c, err := evaluator.Parse(step.Condition)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", step.ID, err)
		}
		conds[i] = c
	}
	return conds, nil
}

// EndSession tears a session down. Pending command timers are cancelled
// without firing, the metrics are finalized and a last snapshot is written.
func (e *Engine) EndSession(ctx context.Context, id string) (model.SessionMetrics, error) {
	ctx, span := e.startSpan(ctx, "session.EndSession", id)
	defer span.End()

	s, ok := e.store.remove(id)
	if !ok {
		return model.SessionMetrics{}, spanError(span, fmt.Errorf("%w: %s", ErrSessionNotFound, id))
	}
	e.recordSessions()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue.Close()
	cancelled := e.sched.CancelSession(id)
	m := s.tracker.Finalize()
	e.publish(events.MetricsUpdated(id, m, s.clock.VirtualNow()))
	e.saveLocked(ctx, s)
	s.ended = true

	e.log.Info(logging.ContextWithSessionID(ctx, id), "session ended",
		logging.Int("cancelled_timers", cancelled),
		logging.Float("overall_score", m.Scores.Overall),
	)
	return m, nil
}

// Info returns a summary of session id.
func (e *Engine) Info(id string) (Info, error) {
	var info Info
	err := e.store.With(id, func(s *Session) error {
		info = s.infoLocked()
		return nil
	})
	return info, err
}

// Sessions lists the ids of live sessions.
func (e *Engine) Sessions() []string {
	list := e.store.List()
	ids := make([]string, len(list))
	for i, s := range list {
		ids[i] = s.id
	}
	return ids
}

// RunDue fires every command deadline already reached. Run calls it from
// the scheduler loop; deterministic drivers call it after advancing a
// manual clock.
func (e *Engine) RunDue() int {
	return e.sched.RunDue()
}

// Run drives the scheduler and the visibility tick until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.sched.Run(ctx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(e.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if err := e.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
					e.log.Warn(ctx, "tick failed", logging.Err(err))
				}
			}
		}
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close detaches from the station catalog and waits for in-flight
// snapshot writes.
func (e *Engine) Close(ctx context.Context) error {
	if e.unsubscribe != nil {
		e.unsubscribe()
	}
	done := make(chan struct{})
	go func() {
		e.saves.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) onStationEvent(ev kb.Event) {
	if ev.Type == kb.EventStationAdded {
		return
	}
	for _, s := range e.store.List() {
		s.mu.Lock()
		for i, st := range s.stations {
			if st.ID != ev.Station.ID {
				continue
			}
			if ev.Type == kb.EventStationRemoved {
				s.stations = append(s.stations[:i:i], s.stations[i+1:]...)
			} else {
				s.stations[i] = ev.Station
			}
			e.saveLocked(context.Background(), s)
			break
		}
		s.mu.Unlock()
	}
}

func (e *Engine) publish(ev events.Event) {
	if e.events != nil {
		e.events.Publish(ev)
	}
}

func (e *Engine) recordSessions() {
	if e.metrics != nil {
		e.metrics.SetSessions(e.store.Len())
	}
}

func (e *Engine) startSpan(ctx context.Context, name, sessionID string) (context.Context, trace.Span) {
	ctx = logging.ContextWithSessionID(ctx, sessionID)
	return e.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("session.id", sessionID)))
}

func spanError(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func copyTelemetry(t model.Telemetry) model.Telemetry {
	out := make(model.Telemetry, len(t))
	for sub, params := range t {
		m := make(map[string]float64, len(params))
		for k, v := range params {
			m[k] = v
		}
		out[sub] = m
	}
	return out
}
