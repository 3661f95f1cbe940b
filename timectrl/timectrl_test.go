package timectrl

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/signalsfoundry/mission-engine/model"
)

var realStart = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
var virtualStart = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

func newTestClock(t *testing.T, scale float64) (*VirtualClock, *ManualClock) {
	t.Helper()
	rc := NewManualClock(realStart)
	vc, err := NewVirtualClock("s1", rc, virtualStart, scale)
	if err != nil {
		t.Fatalf("NewVirtualClock: %v", err)
	}
	return vc, rc
}

func TestManualClockAdvanceAndSet(t *testing.T) {
	c := NewManualClock(realStart)
	if got := c.Advance(42 * time.Second); !got.Equal(realStart.Add(42 * time.Second)) {
		t.Fatalf("Advance() = %v, want %v", got, realStart.Add(42*time.Second))
	}
	c.Set(realStart)
	if got := c.Now(); !got.Equal(realStart) {
		t.Fatalf("Now() = %v, want %v", got, realStart)
	}
}

func TestVirtualNowScalesElapsedReal(t *testing.T) {
	vc, rc := newTestClock(t, 1)

	rc.Advance(10 * time.Second)
	if got, want := vc.VirtualNow(), virtualStart.Add(10*time.Second); !got.Equal(want) {
		t.Fatalf("VirtualNow() = %v, want %v", got, want)
	}

	if _, err := vc.SetTimeScale(60, "coast"); err != nil {
		t.Fatalf("SetTimeScale: %v", err)
	}
	rc.Advance(time.Second)
	if got, want := vc.VirtualNow(), virtualStart.Add(70*time.Second); !got.Equal(want) {
		t.Fatalf("VirtualNow() after rescale = %v, want %v", got, want)
	}
}

func TestRescaleRoundTripWithoutElapsedTime(t *testing.T) {
	vc, rc := newTestClock(t, 1)
	rc.Advance(3 * time.Second)
	before := vc.VirtualNow()

	if _, err := vc.SetTimeScale(60, "fast"); err != nil {
		t.Fatalf("SetTimeScale(60): %v", err)
	}
	change, err := vc.SetTimeScale(1, "back")
	if err != nil {
		t.Fatalf("SetTimeScale(1): %v", err)
	}
	if change.PreviousScale != 60 || change.Scale != 1 || change.Mode != ModeManual || change.Reason != "back" {
		t.Fatalf("ScaleChange = %+v, want 60 -> 1 manual", change)
	}
	if after := vc.VirtualNow(); !after.Equal(before) {
		t.Fatalf("VirtualNow() = %v after round trip, want %v", after, before)
	}
}

func TestVirtualTimeNeverDecreases(t *testing.T) {
	vc, rc := newTestClock(t, 5)
	rc.Advance(10 * time.Second)
	high := vc.VirtualNow()

	rc.Set(realStart)
	if got := vc.VirtualNow(); got.Before(high) {
		t.Fatalf("VirtualNow() = %v after real clock stepped back, want >= %v", got, high)
	}

	scales := []float64{0.25, 100, 3, 1}
	prev := vc.VirtualNow()
	for _, s := range scales {
		rc.Advance(700 * time.Millisecond)
		if _, err := vc.SetTimeScale(s, "sweep"); err != nil {
			t.Fatalf("SetTimeScale(%v): %v", s, err)
		}
		now := vc.VirtualNow()
		if now.Before(prev) {
			t.Fatalf("virtual time went backwards: %v -> %v", prev, now)
		}
		prev = now
	}
}

func TestSetTimeScaleRejectsNonPositive(t *testing.T) {
	vc, _ := newTestClock(t, 2)

	for _, s := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		_, err := vc.SetTimeScale(s, "bad")
		if !errors.Is(err, ErrInvalidScale) {
			t.Fatalf("SetTimeScale(%v) err = %v, want ErrInvalidScale", s, err)
		}
		if !errors.Is(err, model.ErrConfiguration) {
			t.Fatalf("SetTimeScale(%v) err = %v, want configuration error", s, err)
		}
	}
	if got := vc.Scale(); got != 2 {
		t.Fatalf("Scale() = %v after rejected requests, want 2", got)
	}
	if _, err := NewVirtualClock("x", nil, time.Time{}, 0); !errors.Is(err, ErrInvalidScale) {
		t.Fatalf("NewVirtualClock(scale 0) err = %v, want ErrInvalidScale", err)
	}
}

func TestRealDeadlineFollowsScale(t *testing.T) {
	vc, rc := newTestClock(t, 10)
	deadline := vc.VirtualNow().Add(90 * time.Second)

	if got, want := vc.RealDeadline(deadline), realStart.Add(9*time.Second); !got.Equal(want) {
		t.Fatalf("RealDeadline() = %v, want %v", got, want)
	}

	rc.Advance(4 * time.Second)
	if _, err := vc.SetTimeScale(1, "slow"); err != nil {
		t.Fatalf("SetTimeScale: %v", err)
	}
	// 40 virtual seconds have passed; 50 remain at 1x.
	if got, want := vc.RealDeadline(deadline), realStart.Add(54*time.Second); !got.Equal(want) {
		t.Fatalf("RealDeadline() after rescale = %v, want %v", got, want)
	}
}

func TestVirtualAtMatchesVirtualNow(t *testing.T) {
	vc, rc := newTestClock(t, 4)
	now := rc.Advance(2 * time.Second)
	if got, want := vc.VirtualAt(now), vc.VirtualNow(); !got.Equal(want) {
		t.Fatalf("VirtualAt(now) = %v, want %v", got, want)
	}
}

func TestCriticalOperationForcesRealTime(t *testing.T) {
	vc, rc := newTestClock(t, 60)

	change := vc.SetCriticalOperation(true, "orbit_insertion")
	if !change.Changed || !change.Active || change.Scale != 1 || change.PreviousScale != 60 {
		t.Fatalf("activate = %+v, want active at scale 1 from 60", change)
	}

	nested := vc.SetCriticalOperation(true, "docking")
	if nested.Changed {
		t.Fatalf("nested activation changed state: %+v", nested)
	}
	if active, op := vc.Critical(); !active || op != "orbit_insertion" {
		t.Fatalf("Critical() = %v %q, want true orbit_insertion", active, op)
	}

	rc.Advance(5 * time.Second)
	mid := vc.VirtualNow()
	if want := virtualStart.Add(5 * time.Second); !mid.Equal(want) {
		t.Fatalf("VirtualNow() during critical = %v, want %v", mid, want)
	}

	done := vc.SetCriticalOperation(false, "")
	if !done.Changed || done.Active || done.Scale != 60 {
		t.Fatalf("deactivate = %+v, want scale 60 restored", done)
	}
	if again := vc.SetCriticalOperation(false, ""); again.Changed {
		t.Fatalf("second deactivation changed state: %+v", again)
	}
}

func TestCriticalOperationBelowRealTimeKeepsScale(t *testing.T) {
	vc, _ := newTestClock(t, 0.5)
	vc.SetCriticalOperation(true, "burn")
	if got := vc.Scale(); got != 0.5 {
		t.Fatalf("Scale() = %v, want 0.5", got)
	}
	vc.SetCriticalOperation(false, "")
	if got := vc.Scale(); got != 0.5 {
		t.Fatalf("Scale() after deactivation = %v, want 0.5", got)
	}
}

func TestRescaleDuringCriticalIsDeferred(t *testing.T) {
	vc, _ := newTestClock(t, 10)
	vc.SetCriticalOperation(true, "burn")

	change, err := vc.SetTimeScale(100, "impatient")
	if err != nil {
		t.Fatalf("SetTimeScale: %v", err)
	}
	if !change.Deferred || change.Scale != 1 {
		t.Fatalf("ScaleChange = %+v, want deferred at 1", change)
	}
	if got := vc.Scale(); got != 1 {
		t.Fatalf("Scale() = %v during critical, want 1", got)
	}

	vc.SetCriticalOperation(false, "")
	if got := vc.Scale(); got != 100 {
		t.Fatalf("Scale() after critical = %v, want 100", got)
	}
}

func TestRescaleBelowOneDuringCriticalApplies(t *testing.T) {
	vc, _ := newTestClock(t, 10)
	vc.SetCriticalOperation(true, "burn")

	if _, err := vc.SetTimeScale(0.5, "slow motion"); err != nil {
		t.Fatalf("SetTimeScale: %v", err)
	}
	if got := vc.Scale(); got != 0.5 {
		t.Fatalf("Scale() = %v, want 0.5", got)
	}
	vc.SetCriticalOperation(false, "")
	if got := vc.Scale(); got != 0.5 {
		t.Fatalf("Scale() after critical = %v, want 0.5", got)
	}
}

func TestTimePromptIsAdvisory(t *testing.T) {
	vc, _ := newTestClock(t, 1)

	p, err := vc.CreateTimePrompt("waiting for pass", 60, 3600)
	if err != nil {
		t.Fatalf("CreateTimePrompt: %v", err)
	}
	if p.SessionID != "s1" || p.SuggestedScale != 60 || p.EstimatedWait != 3600 || p.RealWait != 60 {
		t.Fatalf("prompt = %+v", p)
	}
	if got := vc.Scale(); got != 1 {
		t.Fatalf("Scale() = %v after prompt, want unchanged 1", got)
	}
	if _, err := vc.CreateTimePrompt("bad", 0, 10); !errors.Is(err, ErrInvalidScale) {
		t.Fatalf("CreateTimePrompt(0) err = %v, want ErrInvalidScale", err)
	}

	change, err := vc.ApplyPrompt(p)
	if err != nil {
		t.Fatalf("ApplyPrompt: %v", err)
	}
	if change.Mode != ModeAuto || vc.Mode() != ModeAuto || vc.Scale() != 60 {
		t.Fatalf("ApplyPrompt = %+v mode %v scale %v, want auto at 60", change, vc.Mode(), vc.Scale())
	}
}

func TestStateRestoreContinuesTimeline(t *testing.T) {
	vc, rc := newTestClock(t, 8)
	rc.Advance(3 * time.Second)
	vc.SetCriticalOperation(true, "burn")
	state := vc.State()

	restored, err := RestoreClock(state, rc)
	if err != nil {
		t.Fatalf("RestoreClock: %v", err)
	}
	if got, want := restored.VirtualNow(), vc.VirtualNow(); !got.Equal(want) {
		t.Fatalf("restored VirtualNow() = %v, want %v", got, want)
	}
	if active, op := restored.Critical(); !active || op != "burn" {
		t.Fatalf("restored Critical() = %v %q", active, op)
	}

	rc.Advance(2 * time.Second)
	restored.SetCriticalOperation(false, "")
	if got := restored.Scale(); got != 8 {
		t.Fatalf("restored scale after critical = %v, want 8", got)
	}
	if got, want := restored.VirtualNow(), virtualStart.Add(26*time.Second); !got.Equal(want) {
		t.Fatalf("restored VirtualNow() = %v, want %v", got, want)
	}
}

func TestCriticalChangeJSON(t *testing.T) {
	vc, _ := newTestClock(t, 60)
	b, err := json.Marshal(vc.SetCriticalOperation(true, "orbit_insertion"))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"active":true,"operationType":"orbit_insertion","scale":1,"previousScale":60,"changed":true}`
	if string(b) != want {
		t.Fatalf("json = %s, want %s", b, want)
	}
}
