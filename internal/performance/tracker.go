package performance

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/brunoga/deep"

	"github.com/signalsfoundry/mission-engine/model"
)

// ErrFinalized is returned by updates after the metrics were frozen.
var ErrFinalized = errors.New("performance: metrics finalized")

// Score weights. They sum to 1.
const (
	weightAccuracy       = 0.3
	weightResponseTime   = 0.2
	weightResources      = 0.2
	weightCompletion     = 0.2
	weightErrorAvoidance = 0.1
)

// Response time scoring: full marks at or under the target, zero at the
// ceiling, linear in between.
const (
	responseTargetSeconds  = 30.0
	responseCeilingSeconds = 300.0
)

// Achievement identifiers.
const (
	AchievementFlawless        = "flawless_execution"
	AchievementMissionComplete = "mission_complete"
	AchievementQuickResponder  = "quick_responder"
	AchievementSharpshooter    = "sharpshooter"
)

var severityPenalty = map[string]float64{
	model.SeverityLow:    5,
	model.SeverityMedium: 10,
	model.SeverityHigh:   20,
}

// Tracker accumulates the metrics of one session.
type Tracker struct {
	mu     sync.Mutex
	m      model.SessionMetrics
	earned map[string]bool
}

// NewTracker creates a tracker for a scenario with totalSteps steps.
func NewTracker(totalSteps int) *Tracker {
	t := &Tracker{earned: make(map[string]bool)}
	t.m.Errors.Severity = make(map[string]int)
	t.m.Steps.Total = totalSteps
	t.recompute()
	return t
}

// Restore rebuilds a tracker from persisted metrics.
func Restore(m model.SessionMetrics) *Tracker {
	t := &Tracker{m: deep.MustCopy(m), earned: make(map[string]bool)}
	if t.m.Errors.Severity == nil {
		t.m.Errors.Severity = make(map[string]int)
	}
	for _, a := range t.m.Achievements {
		t.earned[a] = true
	}
	return t
}

func (t *Tracker) update(fn func()) (model.SessionMetrics, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.m.Finalized {
		return t.copyLocked(), ErrFinalized
	}
	fn()
	t.recompute()
	return t.copyLocked(), nil
}

// RecordCommand counts a command outcome.
func (t *Tracker) RecordCommand(correct bool) (model.SessionMetrics, error) {
	return t.update(func() {
		t.m.Commands.Total++
		if correct {
			t.m.Commands.Correct++
		} else {
			t.m.Commands.Incorrect++
		}
	})
}

// RecordResponse adds a response-time sample in seconds.
func (t *Tracker) RecordResponse(seconds float64) (model.SessionMetrics, error) {
	if seconds < 0 || math.IsNaN(seconds) {
		return t.Snapshot(), fmt.Errorf("performance: invalid response time %v", seconds)
	}
	return t.update(func() {
		tm := &t.m.Timing
		tm.Samples++
		tm.AverageResponseTime += (seconds - tm.AverageResponseTime) / float64(tm.Samples)
	})
}

// RecordResources adds a power and fuel efficiency sample, each in percent.
func (t *Tracker) RecordResources(power, fuel float64) (model.SessionMetrics, error) {
	return t.update(func() {
		r := &t.m.Resources
		r.Samples++
		n := float64(r.Samples)
		r.PowerEfficiency += (clampPct(power) - r.PowerEfficiency) / n
		r.FuelEfficiency += (clampPct(fuel) - r.FuelEfficiency) / n
	})
}

// RecordError counts an error. Unknown severities count as medium.
func (t *Tracker) RecordError(severity string) (model.SessionMetrics, error) {
	if _, ok := severityPenalty[severity]; !ok {
		severity = model.SeverityMedium
	}
	return t.update(func() {
		t.m.Errors.Count++
		t.m.Errors.Severity[severity]++
	})
}

// CompleteStep counts one completed step.
func (t *Tracker) CompleteStep() (model.SessionMetrics, error) {
	return t.update(func() {
		if t.m.Steps.Completed < t.m.Steps.Total {
			t.m.Steps.Completed++
		}
	})
}

// Finalize freezes the metrics. Calling it again returns the frozen copy.
func (t *Tracker) Finalize() model.SessionMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.m.Finalized {
		t.recompute()
		t.m.Finalized = true
	}
	return t.copyLocked()
}

// Snapshot returns a deep copy of the current metrics.
func (t *Tracker) Snapshot() model.SessionMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.copyLocked()
}

func (t *Tracker) copyLocked() model.SessionMetrics {
	return deep.MustCopy(t.m)
}

func (t *Tracker) recompute() {
	m := &t.m
	s := &m.Scores

	s.Accuracy = 100
	if m.Commands.Total > 0 {
		s.Accuracy = 100 * float64(m.Commands.Correct) / float64(m.Commands.Total)
	}

	s.ResponseTime = 100
	if m.Timing.Samples > 0 {
		s.ResponseTime = responseScore(m.Timing.AverageResponseTime)
	}

	s.ResourceManagement = 100
	if m.Resources.Samples > 0 {
		s.ResourceManagement = (m.Resources.PowerEfficiency + m.Resources.FuelEfficiency) / 2
	}

	s.Completion = 0
	if m.Steps.Total > 0 {
		s.Completion = 100 * float64(m.Steps.Completed) / float64(m.Steps.Total)
	}

	penalty := 0.0
	for sev, n := range m.Errors.Severity {
		penalty += severityPenalty[sev] * float64(n)
	}
	s.ErrorAvoidance = math.Max(0, 100-penalty)

	s.Overall = weightAccuracy*s.Accuracy +
		weightResponseTime*s.ResponseTime +
		weightResources*s.ResourceManagement +
		weightCompletion*s.Completion +
		weightErrorAvoidance*s.ErrorAvoidance

	t.award()
}

// award adds newly earned achievements. Earned ones are never removed.
func (t *Tracker) award() {
	m := &t.m
	allSteps := m.Steps.Total > 0 && m.Steps.Completed == m.Steps.Total

	check := []struct {
		name string
		ok   bool
	}{
		{AchievementMissionComplete, allSteps},
		{AchievementFlawless, allSteps && m.Errors.Count == 0},
		{AchievementQuickResponder, m.Timing.Samples >= 3 && m.Timing.AverageResponseTime < responseTargetSeconds},
		{AchievementSharpshooter, m.Commands.Total >= 5 && m.Commands.Incorrect == 0},
	}
	for _, c := range check {
		if c.ok && !t.earned[c.name] {
			t.earned[c.name] = true
			m.Achievements = append(m.Achievements, c.name)
		}
	}
}

func responseScore(avg float64) float64 {
	switch {
	case avg <= responseTargetSeconds:
		return 100
	case avg >= responseCeilingSeconds:
		return 0
	default:
		return 100 * (responseCeilingSeconds - avg) / (responseCeilingSeconds - responseTargetSeconds)
	}
}

func clampPct(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}
