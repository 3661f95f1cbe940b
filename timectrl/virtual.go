package timectrl

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/signalsfoundry/mission-engine/model"
)

// ErrInvalidScale is returned for a time scale that is not a finite number
// greater than zero. It matches model.ErrConfiguration.
var ErrInvalidScale = model.NewConfigError("scale", "time scale must be a finite number > 0", nil)

// Mode records who chose the current scale.
type Mode string

const (
	// ModeManual means the operator set the scale explicitly.
	ModeManual Mode = "manual"
	// ModeAuto means the scale was adopted from a time prompt.
	ModeAuto Mode = "auto"
)

// ScaleChange is the result of a rescale request.
type ScaleChange struct {
	Scale         float64 `json:"scale"`
	Mode          Mode    `json:"mode"`
	PreviousScale float64 `json:"previousScale"`
	Reason        string  `json:"reason"`
	// Deferred is set when a critical operation holds the effective scale
	// and the requested scale was stored for when it ends.
	Deferred bool `json:"deferred,omitempty"`
}

// CriticalChange is the result of toggling a critical operation.
type CriticalChange struct {
	Active        bool    `json:"active"`
	OperationType string  `json:"operationType,omitempty"`
	Scale         float64 `json:"scale"`
	PreviousScale float64 `json:"previousScale"`
	// Changed is false when the call was a no-op (nested activation or
	// deactivation while inactive).
	Changed bool `json:"changed"`
}

// TimePrompt is an advisory suggestion to change scale. Creating one does
// not alter the clock.
type TimePrompt struct {
	SessionID      string    `json:"sessionId"`
	Reason         string    `json:"reason"`
	SuggestedScale float64   `json:"suggestedScale"`
	CurrentScale   float64   `json:"currentScale"`
	EstimatedWait  float64   `json:"estimatedWaitTime"`
	RealWait       float64   `json:"estimatedRealWaitTime"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ClockState is the persisted form of a VirtualClock.
type ClockState struct {
	SessionID         string    `msgpack:"session_id" json:"sessionId"`
	Scale             float64   `msgpack:"scale" json:"scale"`
	Mode              Mode      `msgpack:"mode" json:"mode"`
	CriticalActive    bool      `msgpack:"critical_active" json:"criticalOperationActive"`
	CriticalOperation string    `msgpack:"critical_operation" json:"criticalOperation,omitempty"`
	SavedScale        float64   `msgpack:"saved_scale" json:"savedScale"`
	RebaseReal        time.Time `msgpack:"rebase_real" json:"rebaseRealTime"`
	RebaseVirtual     time.Time `msgpack:"rebase_virtual" json:"rebaseVirtualTime"`
}

// VirtualClock maps real time onto a session's virtual timeline.
//
// Virtual time is rebaseVirtual + (realNow - rebaseReal) * scale. Every
// change of scale first rebases to the current real instant using the old
// scale, so virtual time is continuous and never decreases.
type VirtualClock struct {
	mu   sync.Mutex
	real RealClock

	sessionID  string
	scale      float64
	mode       Mode
	critical   bool
	criticalOp string
	savedScale float64

	rebaseReal    time.Time
	rebaseVirtual time.Time
	// high is the latest virtual time handed out; it absorbs a real clock
	// that steps backwards.
	high time.Time
}

func validScale(s float64) error {
	if s <= 0 || math.IsNaN(s) || math.IsInf(s, 0) {
		return fmt.Errorf("%w: got %v", ErrInvalidScale, s)
	}
	return nil
}

// NewVirtualClock starts a clock for sessionID. Virtual time begins at
// virtualStart, or at the current real time when virtualStart is zero.
func NewVirtualClock(sessionID string, real RealClock, virtualStart time.Time, scale float64) (*VirtualClock, error) {
	if err := validScale(scale); err != nil {
		return nil, err
	}
	if real == nil {
		real = SystemClock{}
	}
	now := real.Now()
	if virtualStart.IsZero() {
		virtualStart = now
	}
	return &VirtualClock{
		real:          real,
		sessionID:     sessionID,
		scale:         scale,
		mode:          ModeManual,
		rebaseReal:    now,
		rebaseVirtual: virtualStart,
		high:          virtualStart,
	}, nil
}

// RestoreClock rebuilds a clock from persisted state. Real time that passed
// since the last rebase counts toward virtual time at the stored scale.
func RestoreClock(state ClockState, real RealClock) (*VirtualClock, error) {
	if err := validScale(state.Scale); err != nil {
		return nil, err
	}
	if real == nil {
		real = SystemClock{}
	}
	mode := state.Mode
	if mode == "" {
		mode = ModeManual
	}
	return &VirtualClock{
		real:          real,
		sessionID:     state.SessionID,
		scale:         state.Scale,
		mode:          mode,
		critical:      state.CriticalActive,
		criticalOp:    state.CriticalOperation,
		savedScale:    state.SavedScale,
		rebaseReal:    state.RebaseReal,
		rebaseVirtual: state.RebaseVirtual,
		high:          state.RebaseVirtual,
	}, nil
}

// SessionID returns the owning session.
func (c *VirtualClock) SessionID() string { return c.sessionID }

// VirtualNow returns the session's current virtual time. Callers must not
// cache it: the scale may change between calls.
func (c *VirtualClock) VirtualNow() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowLocked(c.real.Now())
}

func (c *VirtualClock) nowLocked(realNow time.Time) time.Time {
	elapsed := realNow.Sub(c.rebaseReal)
	if elapsed < 0 {
		elapsed = 0
	}
	v := c.rebaseVirtual.Add(time.Duration(float64(elapsed) * c.scale))
	if v.Before(c.high) {
		return c.high
	}
	c.high = v
	return v
}

// rebaseLocked pins the current instant as the new origin.
func (c *VirtualClock) rebaseLocked() {
	now := c.real.Now()
	c.rebaseVirtual = c.nowLocked(now)
	c.rebaseReal = now
}

// RealDeadline converts a virtual instant into the real instant at which it
// will be reached under the current scale. Instants already passed map to
// real times at or before now.
func (c *VirtualClock) RealDeadline(virtual time.Time) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	dv := virtual.Sub(c.rebaseVirtual)
	return c.rebaseReal.Add(time.Duration(float64(dv) / c.scale))
}

// VirtualAt converts a real instant to virtual time under the current
// rebase. It does not advance the clock.
func (c *VirtualClock) VirtualAt(real time.Time) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rebaseVirtual.Add(time.Duration(float64(real.Sub(c.rebaseReal)) * c.scale))
}

// Scale returns the effective scale.
func (c *VirtualClock) Scale() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scale
}

// Mode returns how the current scale was chosen.
func (c *VirtualClock) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Critical reports whether a critical operation is active and its type.
func (c *VirtualClock) Critical() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.critical, c.criticalOp
}

// SetTimeScale rescales the clock. While a critical operation is active a
// scale above 1 is stored and applied when the operation ends.
func (c *VirtualClock) SetTimeScale(scale float64, reason string) (ScaleChange, error) {
	return c.rescale(scale, reason, ModeManual)
}

// ApplyPrompt adopts a prompt's suggested scale in auto mode.
func (c *VirtualClock) ApplyPrompt(p TimePrompt) (ScaleChange, error) {
	return c.rescale(p.SuggestedScale, p.Reason, ModeAuto)
}

func (c *VirtualClock) rescale(scale float64, reason string, mode Mode) (ScaleChange, error) {
	if err := validScale(scale); err != nil {
		return ScaleChange{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.scale
	change := ScaleChange{PreviousScale: prev, Reason: reason, Mode: mode}

	if c.critical && scale > 1 {
		c.savedScale = scale
		change.Scale = prev
		change.Deferred = true
		return change, nil
	}

	c.rebaseLocked()
	c.scale = scale
	c.mode = mode
	if c.critical {
		c.savedScale = 0
	}
	change.Scale = scale
	return change, nil
}

// SetCriticalOperation enters or leaves a critical operation. Entering
// forces real time (scale 1) when the clock runs faster and remembers the
// prior scale; leaving restores it. A second activation while one is
// already active changes nothing.
func (c *VirtualClock) SetCriticalOperation(active bool, operationType string) CriticalChange {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := CriticalChange{
		Active:        c.critical,
		OperationType: c.criticalOp,
		Scale:         c.scale,
		PreviousScale: c.scale,
	}
	if active == c.critical {
		return out
	}

	c.rebaseLocked()
	if active {
		c.critical = true
		c.criticalOp = operationType
		if c.scale > 1 {
			c.savedScale = c.scale
			c.scale = 1
		}
	} else {
		c.critical = false
		c.criticalOp = ""
		if c.savedScale > 0 {
			c.scale = c.savedScale
			c.savedScale = 0
		}
	}

	out.Active = c.critical
	out.OperationType = operationType
	out.Scale = c.scale
	out.Changed = true
	return out
}

// CreateTimePrompt builds an advisory prompt. The real wait is the virtual
// wait divided by the suggested scale.
func (c *VirtualClock) CreateTimePrompt(reason string, suggestedScale, waitVirtualSeconds float64) (TimePrompt, error) {
	if err := validScale(suggestedScale); err != nil {
		return TimePrompt{}, err
	}
	if waitVirtualSeconds < 0 || math.IsNaN(waitVirtualSeconds) {
		waitVirtualSeconds = 0
	}

	c.mu.Lock()
	current := c.scale
	now := c.nowLocked(c.real.Now())
	c.mu.Unlock()

	return TimePrompt{
		SessionID:      c.sessionID,
		Reason:         reason,
		SuggestedScale: suggestedScale,
		CurrentScale:   current,
		EstimatedWait:  waitVirtualSeconds,
		RealWait:       waitVirtualSeconds / suggestedScale,
		CreatedAt:      now,
	}, nil
}

// State exports the clock for persistence. The rebase point is moved to now
// first so the exported state carries the latest virtual time.
func (c *VirtualClock) State() ClockState {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rebaseLocked()
	return ClockState{
		SessionID:         c.sessionID,
		Scale:             c.scale,
		Mode:              c.mode,
		CriticalActive:    c.critical,
		CriticalOperation: c.criticalOp,
		SavedScale:        c.savedScale,
		RebaseReal:        c.rebaseReal,
		RebaseVirtual:     c.rebaseVirtual,
	}
}
