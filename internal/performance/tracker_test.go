package performance

import (
	"errors"
	"math"
	"testing"

	"github.com/signalsfoundry/mission-engine/model"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func hasAchievement(m model.SessionMetrics, name string) bool {
	for _, a := range m.Achievements {
		if a == name {
			return true
		}
	}
	return false
}

func TestResponseMeanIsIncremental(t *testing.T) {
	tr := NewTracker(3)
	for _, s := range []float64{10, 20, 60} {
		if _, err := tr.RecordResponse(s); err != nil {
			t.Fatalf("RecordResponse: %v", err)
		}
	}
	m := tr.Snapshot()
	if m.Timing.Samples != 3 || !approx(m.Timing.AverageResponseTime, 30) {
		t.Fatalf("timing = %+v, want mean 30 over 3 samples", m.Timing)
	}
	if !approx(m.Scores.ResponseTime, 100) {
		t.Fatalf("ResponseTime score = %v, want 100 at target", m.Scores.ResponseTime)
	}
	if _, err := tr.RecordResponse(-1); err == nil {
		t.Fatalf("RecordResponse(-1) err = nil, want error")
	}
}

func TestScoresAndOverall(t *testing.T) {
	tr := NewTracker(4)
	tr.RecordCommand(true)
	tr.RecordCommand(true)
	tr.RecordCommand(true)
	tr.RecordCommand(false)
	tr.RecordResponse(165)
	tr.RecordResources(80, 60)
	tr.RecordError(model.SeverityHigh)
	tr.CompleteStep()
	m, err := tr.CompleteStep()
	if err != nil {
		t.Fatalf("CompleteStep: %v", err)
	}

	s := m.Scores
	if !approx(s.Accuracy, 75) || !approx(s.ResponseTime, 50) || !approx(s.ResourceManagement, 70) ||
		!approx(s.Completion, 50) || !approx(s.ErrorAvoidance, 80) {
		t.Fatalf("scores = %+v", s)
	}
	want := 0.3*75 + 0.2*50 + 0.2*70 + 0.2*50 + 0.1*80
	if !approx(s.Overall, want) {
		t.Fatalf("Overall = %v, want %v", s.Overall, want)
	}
	if m.Errors.Severity[model.SeverityHigh] != 1 || m.Errors.Count != 1 {
		t.Fatalf("errors = %+v", m.Errors)
	}
}

func TestAchievementsAreMonotone(t *testing.T) {
	tr := NewTracker(1)
	for i := 0; i < 3; i++ {
		tr.RecordResponse(5)
	}
	if m := tr.Snapshot(); !hasAchievement(m, AchievementQuickResponder) {
		t.Fatalf("achievements = %v, want quick_responder", m.Achievements)
	}

	m, _ := tr.RecordResponse(1000)
	if !hasAchievement(m, AchievementQuickResponder) {
		t.Fatalf("quick_responder revoked after slow response: %v", m.Achievements)
	}

	m, _ = tr.CompleteStep()
	if !hasAchievement(m, AchievementMissionComplete) || !hasAchievement(m, AchievementFlawless) {
		t.Fatalf("achievements = %v, want mission_complete and flawless", m.Achievements)
	}
}

func TestFlawlessRequiresNoErrors(t *testing.T) {
	tr := NewTracker(1)
	tr.RecordError(model.SeverityLow)
	m, _ := tr.CompleteStep()
	if hasAchievement(m, AchievementFlawless) {
		t.Fatalf("flawless awarded despite an error")
	}
	if !hasAchievement(m, AchievementMissionComplete) {
		t.Fatalf("mission_complete missing: %v", m.Achievements)
	}
}

func TestFinalizeFreezes(t *testing.T) {
	tr := NewTracker(2)
	tr.RecordCommand(true)
	frozen := tr.Finalize()
	if !frozen.Finalized {
		t.Fatalf("Finalized = false")
	}

	if _, err := tr.RecordCommand(false); !errors.Is(err, ErrFinalized) {
		t.Fatalf("RecordCommand after Finalize err = %v, want ErrFinalized", err)
	}
	if m := tr.Snapshot(); m.Commands.Total != 1 {
		t.Fatalf("Commands.Total = %d after frozen update, want 1", m.Commands.Total)
	}
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	tr := NewTracker(1)
	tr.RecordError(model.SeverityMedium)

	snap := tr.Snapshot()
	snap.Errors.Severity[model.SeverityMedium] = 99

	if got := tr.Snapshot().Errors.Severity[model.SeverityMedium]; got != 1 {
		t.Fatalf("tracker severity count = %d after mutating snapshot, want 1", got)
	}
}

func TestRestoreKeepsAchievements(t *testing.T) {
	tr := NewTracker(1)
	tr.CompleteStep()
	restored := Restore(tr.Snapshot())

	restored.RecordError(model.SeverityHigh)
	m := restored.Snapshot()
	count := 0
	for _, a := range m.Achievements {
		if a == AchievementFlawless {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("achievements = %v, want flawless exactly once", m.Achievements)
	}
}
