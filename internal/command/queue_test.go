package command

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/signalsfoundry/mission-engine/internal/sched"
	"github.com/signalsfoundry/mission-engine/model"
	"github.com/signalsfoundry/mission-engine/timectrl"
)

var (
	realStart    = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	virtualStart = time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
)

type harness struct {
	rc          *timectrl.ManualClock
	vc          *timectrl.VirtualClock
	sched       *sched.Scheduler
	q           *Queue
	transitions []Transition
}

func newHarness(t *testing.T, scale float64, opts ...Option) *harness {
	t.Helper()
	h := &harness{rc: timectrl.NewManualClock(realStart)}
	vc, err := timectrl.NewVirtualClock("s1", h.rc, virtualStart, scale)
	if err != nil {
		t.Fatalf("NewVirtualClock: %v", err)
	}
	h.vc = vc
	h.sched = sched.New(h.rc)
	seq := 0
	base := []Option{
		WithRealClock(h.rc),
		WithIDGenerator(func() string { seq++; return fmt.Sprintf("cmd-%d", seq) }),
		WithTransitionHandler(func(tr Transition) { h.transitions = append(h.transitions, tr) }),
	}
	h.q = New("s1", vc, h.sched, append(base, opts...)...)
	return h
}

// advance moves real time forward and fires whatever is due.
func (h *harness) advance(d time.Duration) {
	h.rc.Advance(d)
	h.sched.RunDue()
}

func (h *harness) status(t *testing.T, id string) model.CommandStatus {
	t.Helper()
	cmd, ok := h.q.Get(id)
	if !ok {
		t.Fatalf("command %s not found", id)
	}
	return cmd.Status
}

func TestUplinkDelayFollowsScaleAndPriority(t *testing.T) {
	cases := []struct {
		scale    float64
		priority model.Priority
		want     time.Duration
	}{
		{scale: 1, priority: model.PriorityNormal, want: 90 * time.Second},
		{scale: 10, priority: model.PriorityNormal, want: 9 * time.Second},
		{scale: 1, priority: model.PriorityCritical, want: 45 * time.Second},
		{scale: 10, priority: model.PriorityCritical, want: 4500 * time.Millisecond},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s_x%v", tc.priority, tc.scale), func(t *testing.T) {
			h := newHarness(t, tc.scale)
			cmd, err := h.q.Submit(context.Background(), Request{Name: "PING", Priority: tc.priority})
			if err != nil {
				t.Fatalf("Submit: %v", err)
			}
			if cmd.Status != model.CommandUplinkInProgress {
				t.Fatalf("initial status = %s, want uplink_in_progress", cmd.Status)
			}

			h.advance(tc.want - 10*time.Millisecond)
			if got := h.status(t, cmd.ID); got != model.CommandUplinkInProgress {
				t.Fatalf("status just before deadline = %s, want uplink_in_progress", got)
			}
			h.advance(10 * time.Millisecond)
			if got := h.status(t, cmd.ID); got != model.CommandExecuting {
				t.Fatalf("status at %v = %s, want executing", tc.want, got)
			}
		})
	}
}

func TestCommandCompletesAfterExecution(t *testing.T) {
	h := newHarness(t, 1)
	cmd, _ := h.q.Submit(context.Background(), Request{Name: "PING"})

	h.advance(90 * time.Second)
	h.advance(29 * time.Second)
	if got := h.status(t, cmd.ID); got != model.CommandExecuting {
		t.Fatalf("status = %s, want executing", got)
	}
	h.advance(time.Second)
	done, _ := h.q.Get(cmd.ID)
	if done.Status != model.CommandCompleted || done.CompletedAt == nil {
		t.Fatalf("command = %+v, want completed with CompletedAt", done)
	}
	if want := virtualStart.Add(120 * time.Second); !done.CompletedAt.Equal(want) {
		t.Fatalf("CompletedAt = %v, want %v", done.CompletedAt, want)
	}

	want := []model.CommandStatus{model.CommandUplinkInProgress, model.CommandExecuting, model.CommandCompleted}
	if len(h.transitions) != len(want) {
		t.Fatalf("transitions = %d, want %d", len(h.transitions), len(want))
	}
	for i, tr := range h.transitions {
		if tr.To != want[i] {
			t.Fatalf("transition %d to %s, want %s", i, tr.To, want[i])
		}
	}
	if h.transitions[0].From != "" || h.transitions[1].From != model.CommandUplinkInProgress {
		t.Fatalf("unexpected From values: %+v", h.transitions)
	}
}

func TestRescaleRearmAcceleratesPendingCommand(t *testing.T) {
	h := newHarness(t, 1)
	cmd, _ := h.q.Submit(context.Background(), Request{Name: "PING"})

	h.advance(30 * time.Second)
	if _, err := h.vc.SetTimeScale(10, "coast"); err != nil {
		t.Fatalf("SetTimeScale: %v", err)
	}
	h.sched.Rearm("s1")

	h.advance(5 * time.Second)
	if got := h.status(t, cmd.ID); got != model.CommandUplinkInProgress {
		t.Fatalf("status = %s, want uplink_in_progress", got)
	}
	h.advance(time.Second)
	if got := h.status(t, cmd.ID); got != model.CommandExecuting {
		t.Fatalf("status 6s after rescale = %s, want executing", got)
	}
}

func TestStaleDeadlineFiringEarlyIsRearmed(t *testing.T) {
	h := newHarness(t, 10)
	cmd, _ := h.q.Submit(context.Background(), Request{Name: "PING"})

	h.advance(3 * time.Second)
	if _, err := h.vc.SetTimeScale(1, "slow down"); err != nil {
		t.Fatalf("SetTimeScale: %v", err)
	}

	// No Rearm: the old real deadline at +9s fires, finds virtual time at
	// 36s and reschedules for the remaining 54s.
	h.advance(6 * time.Second)
	if got := h.status(t, cmd.ID); got != model.CommandUplinkInProgress {
		t.Fatalf("status = %s, want uplink_in_progress after early fire", got)
	}
	h.advance(54 * time.Second)
	if got := h.status(t, cmd.ID); got != model.CommandExecuting {
		t.Fatalf("status = %s, want executing", got)
	}
}

func TestStatsAndHistory(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	a, _ := h.q.Submit(ctx, Request{Name: "A"})
	h.advance(time.Second)
	b, _ := h.q.Submit(ctx, Request{Name: "B"})
	h.advance(time.Second)
	c, _ := h.q.Submit(ctx, Request{Name: "C"})

	if _, err := h.q.Fail(b.ID, "ground segment outage"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	h.advance(119 * time.Second)

	stats := h.q.Stats()
	if stats != (Stats{Total: 3, Pending: 1, Completed: 1, Failed: 1}) {
		t.Fatalf("Stats() = %+v", stats)
	}

	hist := h.q.History()
	if len(hist) != 2 {
		t.Fatalf("History() = %+v, want 2 resolved entries", hist)
	}
	if hist[0].CommandID != a.ID || hist[0].ResultStatus != model.ResultOK {
		t.Fatalf("history[0] = %+v, want A OK", hist[0])
	}
	if hist[1].CommandID != b.ID || hist[1].ResultStatus != model.ResultError {
		t.Fatalf("history[1] = %+v, want B ERROR", hist[1])
	}

	h.advance(2 * time.Second)
	if got := h.status(t, c.ID); got != model.CommandCompleted {
		t.Fatalf("C status = %s, want completed", got)
	}
}

func TestFailErrors(t *testing.T) {
	h := newHarness(t, 1)
	cmd, _ := h.q.Submit(context.Background(), Request{Name: "PING"})

	if _, err := h.q.Fail("nope", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Fail(unknown) err = %v, want ErrNotFound", err)
	}

	h.advance(120 * time.Second)
	if _, err := h.q.Fail(cmd.ID, "late"); !errors.Is(err, ErrTerminal) {
		t.Fatalf("Fail(completed) err = %v, want ErrTerminal", err)
	}
	if got := h.status(t, cmd.ID); got != model.CommandCompleted {
		t.Fatalf("status = %s, want completed to stay immutable", got)
	}
}

func TestFailDuringExecutionCancelsTimer(t *testing.T) {
	h := newHarness(t, 1)
	cmd, _ := h.q.Submit(context.Background(), Request{Name: "PING"})
	h.advance(90 * time.Second)

	failed, err := h.q.Fail(cmd.ID, "payload fault")
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if failed.Status != model.CommandFailed || failed.FailureReason != "payload fault" {
		t.Fatalf("failed = %+v", failed)
	}
	if n := h.sched.Len(); n != 0 {
		t.Fatalf("scheduler still holds %d entries", n)
	}
}

func TestFailureRatesFailDeterministically(t *testing.T) {
	h := newHarness(t, 1, WithOutcome(FailureRates{Uplink: 1}))
	cmd, _ := h.q.Submit(context.Background(), Request{Name: "PING"})

	h.advance(90 * time.Second)
	got, _ := h.q.Get(cmd.ID)
	if got.Status != model.CommandFailed || got.FailureReason == "" {
		t.Fatalf("command = %+v, want failed with reason", got)
	}

	rates := FailureRates{Uplink: 0.5, Seed: 7}
	first := rates.Decide(got, StageUplink)
	for i := 0; i < 5; i++ {
		if again := rates.Decide(got, StageUplink); again != first {
			t.Fatalf("Decide not deterministic: %+v vs %+v", again, first)
		}
	}
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t, 1, WithProfiles(Profiles{
		Default:        Profile{UplinkSeconds: 90, ExecutionSeconds: 30},
		CriticalFactor: 0.5,
		Commands:       map[string]Profile{"DEPLOY_PANELS": {UplinkSeconds: 120, ExecutionSeconds: 600}},
		Strict:         true,
	}))
	ctx := context.Background()

	if _, err := h.q.Submit(ctx, Request{}); !errors.Is(err, model.ErrConfiguration) {
		t.Fatalf("Submit(empty) err = %v, want configuration error", err)
	}
	if _, err := h.q.Submit(ctx, Request{Name: "PING"}); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("Submit(PING) err = %v, want ErrUnknownCommand", err)
	}
	if _, err := h.q.Submit(ctx, Request{Name: "DEPLOY_PANELS", Priority: "urgent"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("Submit(bad priority) err = %v, want ErrInvalidRequest", err)
	}

	cmd, err := h.q.Submit(ctx, Request{Name: "deploy_panels"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if cmd.LatencySeconds != 120 || cmd.ExecutionSeconds != 600 {
		t.Fatalf("latencies = %v/%v, want 120/600", cmd.LatencySeconds, cmd.ExecutionSeconds)
	}
}

func TestCloseSuppressesTransitions(t *testing.T) {
	h := newHarness(t, 1)
	h.q.Submit(context.Background(), Request{Name: "PING"})
	h.q.Close()
	before := len(h.transitions)

	h.advance(10 * time.Minute)
	if len(h.transitions) != before {
		t.Fatalf("transitions after Close: %+v", h.transitions[before:])
	}
	if _, err := h.q.Submit(context.Background(), Request{Name: "PING"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Submit after Close err = %v, want ErrClosed", err)
	}
}

func TestRestoreRearmsPendingCommands(t *testing.T) {
	h := newHarness(t, 1)
	persisted := []model.QueuedCommand{
		{
			ID:               "old-1",
			CommandName:      "PING",
			Priority:         model.PriorityNormal,
			EnqueuedAt:       realStart.Add(-60 * time.Second),
			LatencySeconds:   90,
			ExecutionSeconds: 30,
			Status:           model.CommandUplinkInProgress,
		},
		{
			ID:              "old-2",
			CommandName:     "A",
			EnqueuedVirtual: virtualStart.Add(-time.Hour),
			Status:          model.CommandCompleted,
		},
	}

	armed, err := h.q.Restore(persisted)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if armed != 1 {
		t.Fatalf("Restore armed %d, want 1", armed)
	}

	got, _ := h.q.Get("old-1")
	if want := virtualStart.Add(-60 * time.Second); !got.EnqueuedVirtual.Equal(want) {
		t.Fatalf("EnqueuedVirtual = %v, want %v", got.EnqueuedVirtual, want)
	}

	h.advance(29 * time.Second)
	if s := h.status(t, "old-1"); s != model.CommandUplinkInProgress {
		t.Fatalf("status = %s, want uplink_in_progress", s)
	}
	h.advance(time.Second)
	if s := h.status(t, "old-1"); s != model.CommandExecuting {
		t.Fatalf("status = %s, want executing 30s after restore", s)
	}
	if stats := h.q.Stats(); stats.Total != 2 || stats.Completed != 1 {
		t.Fatalf("Stats() = %+v", stats)
	}
}

func TestProfilesValidate(t *testing.T) {
	if err := DefaultProfiles().Validate(); err != nil {
		t.Fatalf("DefaultProfiles().Validate() = %v", err)
	}
	bad := DefaultProfiles()
	bad.CriticalFactor = 1.5
	if err := bad.Validate(); !errors.Is(err, model.ErrConfiguration) {
		t.Fatalf("Validate() = %v, want configuration error", err)
	}
}
