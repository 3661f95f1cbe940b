package evaluator

import (
	"errors"
	"testing"
	"time"

	"github.com/signalsfoundry/mission-engine/model"
)

var t0 = time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

func history(names ...string) []model.CommandRecord {
	out := make([]model.CommandRecord, 0, len(names))
	for i, n := range names {
		out = append(out, model.CommandRecord{
			CommandID:    n,
			CommandName:  n,
			IssuedAt:     t0.Add(time.Duration(i) * time.Minute),
			ResultStatus: model.ResultOK,
		})
	}
	return out
}

func TestCommandSequenceOrder(t *testing.T) {
	strict := CommandSequence{Commands: []string{"A", "B", "C"}, Order: OrderStrict}
	anyOrder := CommandSequence{Commands: []string{"A", "B", "C"}, Order: OrderAny}

	cases := []struct {
		name string
		cond CommandSequence
		hist []model.CommandRecord
		want bool
	}{
		{"strict in order", strict, history("A", "B", "C"), true},
		{"strict out of order", strict, history("A", "C", "B"), false},
		{"any in order", anyOrder, history("A", "B", "C"), true},
		{"any out of order", anyOrder, history("A", "C", "B"), true},
		{"strict with extras", strict, history("A", "X", "B", "C"), true},
		{"strict missing", strict, history("A", "B"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Evaluate(tc.cond, State{History: tc.hist})
			if got.Complete != tc.want {
				t.Fatalf("Complete = %v (%s), want %v", got.Complete, got.Reason, tc.want)
			}
		})
	}
}

func TestCommandSequenceUsesIssueTimeNotSliceOrder(t *testing.T) {
	hist := history("A", "B", "C")
	hist[0], hist[2] = hist[2], hist[0]

	got := Evaluate(CommandSequence{Commands: []string{"A", "B", "C"}, Order: OrderStrict}, State{History: hist})
	if !got.Complete {
		t.Fatalf("Complete = false (%s), want true when issue times are ordered", got.Reason)
	}
}

func TestCommandSequenceIgnoresFailedResults(t *testing.T) {
	hist := history("A", "B")
	hist[1].ResultStatus = model.ResultError

	got := Evaluate(CommandSequence{Commands: []string{"A", "B"}, Order: OrderAny}, State{History: hist})
	if got.Complete {
		t.Fatalf("Complete = true with failed B, want false")
	}
}

func TestBeaconReceived(t *testing.T) {
	cond := BeaconReceived{BeaconType: "health"}
	recv := t0.Add(time.Second)

	cases := []struct {
		name   string
		beacon *model.BeaconEvent
		want   bool
	}{
		{"none", nil, false},
		{"transmitted out of view", &model.BeaconEvent{BeaconType: "health", TransmittedAt: t0}, false},
		{"wrong type", &model.BeaconEvent{BeaconType: "status", TransmittedAt: t0, ReceivedAt: &recv, GroundStation: "Goldstone"}, false},
		{"received", &model.BeaconEvent{BeaconType: "health", TransmittedAt: t0, ReceivedAt: &recv, GroundStation: "Goldstone"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Evaluate(cond, State{LastBeacon: tc.beacon}); got.Complete != tc.want {
				t.Fatalf("Complete = %v (%s), want %v", got.Complete, got.Reason, tc.want)
			}
		})
	}
}

func TestTelemetryThreshold(t *testing.T) {
	telemetry := model.Telemetry{"power": {"battery_soc": 72.5}}

	cases := []struct {
		op    Operator
		value float64
		want  bool
	}{
		{OpGTE, 72.5, true},
		{OpGT, 72.5, false},
		{OpLTE, 80, true},
		{OpLT, 70, false},
		{OpEQ, 72.5, true},
		{OpEQ, 72.6, false},
	}
	for _, tc := range cases {
		cond := TelemetryThreshold{Subsystem: "power", Parameter: "battery_soc", Operator: tc.op, Value: tc.value}
		got := Evaluate(cond, State{Telemetry: telemetry})
		if got.Complete != tc.want {
			t.Fatalf("%s %v: Complete = %v, want %v", tc.op, tc.value, got.Complete, tc.want)
		}
		if got.Current == nil || *got.Current != 72.5 {
			t.Fatalf("%s %v: Current = %v, want 72.5", tc.op, tc.value, got.Current)
		}
	}

	missing := Evaluate(TelemetryThreshold{Subsystem: "thermal", Parameter: "temp", Operator: OpLT, Value: 10}, State{Telemetry: telemetry})
	if missing.Complete || missing.Current != nil {
		t.Fatalf("missing telemetry = %+v, want incomplete without value", missing)
	}
}

func TestGroundContact(t *testing.T) {
	if got := Evaluate(GroundContact{}, State{}); got.Complete {
		t.Fatalf("any-station contact with no contacts = complete")
	}
	if got := Evaluate(GroundContact{}, State{Contacts: []string{"gds"}}); !got.Complete {
		t.Fatalf("any-station contact = incomplete, want complete")
	}
	if got := Evaluate(GroundContact{StationID: "svalbard"}, State{Contacts: []string{"gds"}}); got.Complete {
		t.Fatalf("named station not in view = complete")
	}
}

func TestParse(t *testing.T) {
	c, err := Parse(model.StepCondition{
		Type: "command_sequence",
		Parameters: map[string]any{
			"commands": []any{"PING", "DEPLOY"},
			"order":    "any",
		},
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	seq, ok := c.(CommandSequence)
	if !ok || seq.Order != OrderAny || len(seq.Commands) != 2 || seq.Commands[1] != "DEPLOY" {
		t.Fatalf("Parse = %#v", c)
	}

	c, err = Parse(model.StepCondition{
		Type:       "telemetry_threshold",
		Parameters: map[string]any{"subsystem": "power", "parameter": "soc", "operator": "GTE", "value": 50},
	})
	if err != nil {
		t.Fatalf("Parse telemetry: %v", err)
	}
	if th := c.(TelemetryThreshold); th.Operator != OpGTE || th.Value != 50 {
		t.Fatalf("Parse telemetry = %#v", th)
	}

	c, err = Parse(model.StepCondition{Type: "beacon_received", Parameters: map[string]any{"beacon_type": "health"}})
	if err != nil || c.(BeaconReceived).BeaconType != "health" {
		t.Fatalf("Parse beacon = %#v, %v", c, err)
	}

	c, err = Parse(model.StepCondition{Type: "command_sequence", Parameters: map[string]any{"commands": []any{"A"}}})
	if err != nil || c.(CommandSequence).Order != OrderStrict {
		t.Fatalf("default order = %#v, %v; want strict", c, err)
	}
}

func TestParseRejectsBadConditions(t *testing.T) {
	_, err := Parse(model.StepCondition{Type: "orbit_raised"})
	if !errors.Is(err, ErrUnknownCondition) || !errors.Is(err, model.ErrConfiguration) {
		t.Fatalf("unknown type err = %v, want ErrUnknownCondition", err)
	}

	bad := []model.StepCondition{
		{Type: "beacon_received"},
		{Type: "command_sequence", Parameters: map[string]any{"commands": []any{}}},
		{Type: "command_sequence", Parameters: map[string]any{"commands": []any{"A"}, "order": "random"}},
		{Type: "telemetry_threshold", Parameters: map[string]any{"subsystem": "p", "parameter": "q", "operator": "approx", "value": 1.0}},
		{Type: "telemetry_threshold", Parameters: map[string]any{"subsystem": "p", "parameter": "q", "operator": "gt"}},
	}
	for _, sc := range bad {
		if _, err := Parse(sc); !errors.Is(err, ErrInvalidCondition) {
			t.Fatalf("Parse(%+v) err = %v, want ErrInvalidCondition", sc, err)
		}
	}
}

func TestEvaluateStepSurfacesConfigErrors(t *testing.T) {
	_, err := EvaluateStep(model.Step{ID: "s1", Condition: model.StepCondition{Type: "mystery"}}, State{})
	if !errors.Is(err, model.ErrConfiguration) {
		t.Fatalf("EvaluateStep err = %v, want configuration error", err)
	}
}
