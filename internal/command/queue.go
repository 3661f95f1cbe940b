package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/mission-engine/internal/logging"
	"github.com/signalsfoundry/mission-engine/internal/sched"
	"github.com/signalsfoundry/mission-engine/model"
	"github.com/signalsfoundry/mission-engine/timectrl"
)

var (
	// ErrNotFound is returned for an unknown command id.
	ErrNotFound = errors.New("command: not found")
	// ErrTerminal is returned when acting on a completed or failed command.
	ErrTerminal = errors.New("command: already in a terminal state")
	// ErrClosed is returned after the queue has been torn down.
	ErrClosed = errors.New("command: queue closed")
	// ErrInvalidRequest reports a malformed submission.
	ErrInvalidRequest = model.NewConfigError("command", "invalid command request", nil)
)

// earlyFireTolerance absorbs rounding between virtual and real deadlines.
const earlyFireTolerance = time.Millisecond

// Clock is the session clock a queue schedules against.
type Clock interface {
	sched.Converter
	VirtualNow() time.Time
	VirtualAt(real time.Time) time.Time
}

// Timers is the subset of *sched.Scheduler the queue needs.
type Timers interface {
	Schedule(sessionID string, conv sched.Converter, virtualAt time.Time, f func()) string
	Cancel(id string) bool
}

// Request is an operator command submission.
type Request struct {
	Name     string
	Payload  json.RawMessage
	Priority model.Priority
}

// Transition describes one status change. From is empty for the initial
// uplink_in_progress notification.
type Transition struct {
	Command model.QueuedCommand
	From    model.CommandStatus
	To      model.CommandStatus
	At      time.Time
}

// Stats are counts computed from current command statuses.
type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Queue drives the commands of one session through
// uplink_in_progress -> executing -> completed, or -> failed.
//
// Queue is not safe for concurrent use. The owning session serializes
// calls, and timer callbacks are routed through the guard so they run
// under the same exclusive section.
type Queue struct {
	sessionID string
	clock     Clock
	real      timectrl.RealClock
	timers    Timers
	profiles  Profiles
	outcome   Outcome
	guard     func(func())
	notify    func(Transition)
	log       logging.Logger
	newID     func() string

	commands map[string]*model.QueuedCommand
	order    []string
	pending  map[string]string // command id -> timer id
	closed   bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithProfiles sets latency profiles.
func WithProfiles(p Profiles) Option { return func(q *Queue) { q.profiles = p } }

// WithOutcome sets the stage outcome model.
func WithOutcome(o Outcome) Option {
	return func(q *Queue) {
		if o != nil {
			q.outcome = o
		}
	}
}

// WithGuard wraps every timer callback, typically in the session lock.
func WithGuard(g func(func())) Option { return func(q *Queue) { q.guard = g } }

// WithTransitionHandler is called for every status change, inside the guard.
func WithTransitionHandler(fn func(Transition)) Option { return func(q *Queue) { q.notify = fn } }

// WithLogger sets the queue logger.
func WithLogger(l logging.Logger) Option { return func(q *Queue) { q.log = logging.OrNoop(l) } }

// WithRealClock sets the wall clock used for EnqueuedAt.
func WithRealClock(rc timectrl.RealClock) Option {
	return func(q *Queue) {
		if rc != nil {
			q.real = rc
		}
	}
}

// WithIDGenerator overrides command id generation.
func WithIDGenerator(fn func() string) Option { return func(q *Queue) { q.newID = fn } }

// New constructs a queue for sessionID.
func New(sessionID string, clock Clock, timers Timers, opts ...Option) *Queue {
	q := &Queue{
		sessionID: sessionID,
		clock:     clock,
		real:      timectrl.SystemClock{},
		timers:    timers,
		profiles:  DefaultProfiles(),
		outcome:   AlwaysSucceed{},
		log:       logging.Noop(),
		newID:     uuid.NewString,
		commands:  make(map[string]*model.QueuedCommand),
		pending:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Submit enqueues a command and returns it in uplink_in_progress. It never
// blocks; later transitions are reported through the transition handler.
func (q *Queue) Submit(ctx context.Context, req Request) (model.QueuedCommand, error) {
	if q.closed {
		return model.QueuedCommand{}, ErrClosed
	}
	if req.Name == "" {
		return model.QueuedCommand{}, fmt.Errorf("%w: command name is required", ErrInvalidRequest)
	}
	switch req.Priority {
	case "":
		req.Priority = model.PriorityNormal
	case model.PriorityNormal, model.PriorityCritical:
	default:
		return model.QueuedCommand{}, fmt.Errorf("%w: unknown priority %q", ErrInvalidRequest, req.Priority)
	}

	uplink, execution, err := q.profiles.Lookup(req.Name, req.Priority)
	if err != nil {
		return model.QueuedCommand{}, err
	}

	cmd := &model.QueuedCommand{
		ID:               q.newID(),
		SessionID:        q.sessionID,
		CommandName:      req.Name,
		Payload:          req.Payload,
		Priority:         req.Priority,
		EnqueuedAt:       q.real.Now(),
		EnqueuedVirtual:  q.clock.VirtualNow(),
		LatencySeconds:   uplink,
		ExecutionSeconds: execution,
		Status:           model.CommandUplinkInProgress,
	}
	q.commands[cmd.ID] = cmd
	q.order = append(q.order, cmd.ID)
	q.arm(cmd)

	q.log.Debug(ctx, "command enqueued",
		logging.String("command_id", cmd.ID),
		logging.String("command", cmd.CommandName),
		logging.String("priority", string(cmd.Priority)),
		logging.Float("latency_s", uplink),
	)
	q.emit(Transition{Command: *cmd, To: cmd.Status, At: cmd.EnqueuedVirtual})
	return *cmd, nil
}

// arm schedules the next stage deadline for a non-terminal command.
func (q *Queue) arm(cmd *model.QueuedCommand) {
	var deadline time.Time
	switch cmd.Status {
	case model.CommandUplinkInProgress:
		deadline = cmd.UplinkDeadline()
	case model.CommandExecuting:
		deadline = cmd.ExecutionDeadline()
	default:
		return
	}
	id, status := cmd.ID, cmd.Status
	q.pending[id] = q.timers.Schedule(q.sessionID, q.clock, deadline, func() {
		q.run(func() { q.fire(id, status) })
	})
}

func (q *Queue) run(f func()) {
	if q.guard != nil {
		q.guard(f)
		return
	}
	f()
}

func (q *Queue) fire(id string, expect model.CommandStatus) {
	if q.closed {
		return
	}
	cmd, ok := q.commands[id]
	if !ok || cmd.Status != expect {
		return
	}
	delete(q.pending, id)

	deadline := cmd.UplinkDeadline()
	stage := StageUplink
	if expect == model.CommandExecuting {
		deadline = cmd.ExecutionDeadline()
		stage = StageExecution
	}

	now := q.clock.VirtualNow()
	if deadline.Sub(now) > earlyFireTolerance {
		q.arm(cmd)
		return
	}

	decision := q.outcome.Decide(*cmd, stage)
	if !decision.OK {
		q.transition(cmd, model.CommandFailed, decision.Reason, now)
		return
	}
	if stage == StageUplink {
		q.transition(cmd, model.CommandExecuting, "", now)
		q.arm(cmd)
		return
	}
	q.transition(cmd, model.CommandCompleted, "", now)
}

func (q *Queue) transition(cmd *model.QueuedCommand, to model.CommandStatus, reason string, at time.Time) {
	from := cmd.Status
	if !from.CanTransition(to) {
		q.log.Warn(context.Background(), "illegal command transition ignored",
			logging.String("command_id", cmd.ID),
			logging.String("from", string(from)),
			logging.String("to", string(to)),
		)
		return
	}
	cmd.Status = to
	if to == model.CommandFailed {
		cmd.FailureReason = reason
	}
	if to.Terminal() {
		done := at
		cmd.CompletedAt = &done
	}
	q.emit(Transition{Command: *cmd, From: from, To: to, At: at})
}

func (q *Queue) emit(t Transition) {
	if q.notify != nil {
		q.notify(t)
	}
}

// Fail terminates a pending command with reason. Completed or failed
// commands are immutable and return ErrTerminal.
func (q *Queue) Fail(id, reason string) (model.QueuedCommand, error) {
	cmd, ok := q.commands[id]
	if !ok {
		return model.QueuedCommand{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if cmd.Status.Terminal() {
		return *cmd, fmt.Errorf("%w: %s is %s", ErrTerminal, id, cmd.Status)
	}
	if timer, ok := q.pending[id]; ok {
		q.timers.Cancel(timer)
		delete(q.pending, id)
	}
	q.transition(cmd, model.CommandFailed, reason, q.clock.VirtualNow())
	return *cmd, nil
}

// Get returns a copy of the command with id.
func (q *Queue) Get(id string) (model.QueuedCommand, bool) {
	cmd, ok := q.commands[id]
	if !ok {
		return model.QueuedCommand{}, false
	}
	return *cmd, true
}

// Commands returns copies of all commands in submission order.
func (q *Queue) Commands() []model.QueuedCommand {
	out := make([]model.QueuedCommand, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, *q.commands[id])
	}
	return out
}

// Stats counts commands by current status.
func (q *Queue) Stats() Stats {
	var s Stats
	for _, cmd := range q.commands {
		s.Total++
		switch cmd.Status {
		case model.CommandCompleted:
			s.Completed++
		case model.CommandFailed:
			s.Failed++
		default:
			s.Pending++
		}
	}
	return s
}

// History lists resolved commands ordered by virtual issue time. Completed
// commands carry ResultOK and failed ones ResultError; in-flight commands
// have no result yet and are omitted.
func (q *Queue) History() []model.CommandRecord {
	out := make([]model.CommandRecord, 0, len(q.order))
	for _, id := range q.order {
		cmd := q.commands[id]
		if !cmd.Status.Terminal() {
			continue
		}
		result := model.ResultOK
		if cmd.Status == model.CommandFailed {
			result = model.ResultError
		}
		out = append(out, model.CommandRecord{
			CommandID:    cmd.ID,
			CommandName:  cmd.CommandName,
			IssuedAt:     cmd.EnqueuedVirtual,
			ResultStatus: result,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].IssuedAt.Before(out[j].IssuedAt)
	})
	return out
}

// Restore loads persisted commands and re-arms every non-terminal one
// against the current clock. Commands persisted without a virtual enqueue
// time get one derived from their real EnqueuedAt.
func (q *Queue) Restore(cmds []model.QueuedCommand) (int, error) {
	if q.closed {
		return 0, ErrClosed
	}
	armed := 0
	for i := range cmds {
		c := cmds[i]
		if c.ID == "" {
			return armed, fmt.Errorf("%w: restored command without id", ErrInvalidRequest)
		}
		if _, dup := q.commands[c.ID]; dup {
			continue
		}
		if c.EnqueuedVirtual.IsZero() {
			c.EnqueuedVirtual = q.clock.VirtualAt(c.EnqueuedAt)
		}
		c.SessionID = q.sessionID
		q.commands[c.ID] = &c
		q.order = append(q.order, c.ID)
		if !c.Status.Terminal() {
			q.arm(&c)
			armed++
		}
	}
	return armed, nil
}

// Close cancels every pending timer. No transition fires afterwards.
func (q *Queue) Close() {
	q.closed = true
	for id, timer := range q.pending {
		q.timers.Cancel(timer)
		delete(q.pending, id)
	}
}
