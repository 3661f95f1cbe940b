package evaluator

import (
	"fmt"
	"math"
	"sort"

	"github.com/signalsfoundry/mission-engine/model"
)

// eqTolerance is the absolute tolerance of the eq operator.
const eqTolerance = 1e-9

// State is the session snapshot a condition is evaluated against.
type State struct {
	Telemetry  model.Telemetry
	LastBeacon *model.BeaconEvent
	History    []model.CommandRecord
	// Contacts lists the ids of stations that currently see the satellite.
	Contacts []string
}

// Result is the outcome of one evaluation.
type Result struct {
	Complete bool     `json:"complete"`
	Reason   string   `json:"reason"`
	Current  *float64 `json:"currentValue,omitempty"`
}

// Evaluate applies c to s. It has no side effects.
func Evaluate(c Condition, s State) Result {
	switch c := c.(type) {
	case BeaconReceived:
		return evalBeacon(c, s.LastBeacon)
	case CommandSequence:
		return evalSequence(c, s.History)
	case TelemetryThreshold:
		return evalTelemetry(c, s.Telemetry)
	case GroundContact:
		return evalContact(c, s.Contacts)
	default:
		return Result{Reason: fmt.Sprintf("unsupported condition %T", c)}
	}
}

// EvaluateStep parses and evaluates a step's condition.
func EvaluateStep(step model.Step, s State) (Result, error) {
	c, err := Parse(step.Condition)
	if err != nil {
		return Result{}, fmt.Errorf("step %s: %w", step.ID, err)
	}
	return Evaluate(c, s), nil
}

func evalBeacon(c BeaconReceived, last *model.BeaconEvent) Result {
	switch {
	case last == nil:
		return Result{Reason: "no beacon transmitted"}
	case last.BeaconType != c.BeaconType:
		return Result{Reason: fmt.Sprintf("last beacon was %q, waiting for %q", last.BeaconType, c.BeaconType)}
	case !last.Received():
		return Result{Reason: fmt.Sprintf("beacon %q transmitted with no ground station in view", c.BeaconType)}
	default:
		return Result{Complete: true, Reason: fmt.Sprintf("beacon %q received by %s", c.BeaconType, last.GroundStation)}
	}
}

func evalSequence(c CommandSequence, history []model.CommandRecord) Result {
	ok := make([]model.CommandRecord, 0, len(history))
	for _, rec := range history {
		if rec.ResultStatus == model.ResultOK {
			ok = append(ok, rec)
		}
	}
	sort.SliceStable(ok, func(i, j int) bool { return ok[i].IssuedAt.Before(ok[j].IssuedAt) })

	if c.Order == OrderAny {
		seen := make(map[string]int, len(ok))
		for _, rec := range ok {
			seen[rec.CommandName]++
		}
		for _, name := range c.Commands {
			if seen[name] == 0 {
				return Result{Reason: fmt.Sprintf("command %s not yet completed", name)}
			}
			seen[name]--
		}
		return Result{Complete: true, Reason: "all required commands completed"}
	}

	next := 0
	for _, rec := range ok {
		if next < len(c.Commands) && rec.CommandName == c.Commands[next] {
			next++
		}
	}
	if next == len(c.Commands) {
		return Result{Complete: true, Reason: "command sequence completed in order"}
	}
	return Result{Reason: fmt.Sprintf("waiting for %s (%d of %d in order)", c.Commands[next], next, len(c.Commands))}
}

func evalTelemetry(c TelemetryThreshold, t model.Telemetry) Result {
	v, ok := t[c.Subsystem][c.Parameter]
	if !ok {
		return Result{Reason: fmt.Sprintf("no telemetry for %s.%s", c.Subsystem, c.Parameter)}
	}
	current := v

	var met bool
	switch c.Operator {
	case OpGTE:
		met = v >= c.Value
	case OpLTE:
		met = v <= c.Value
	case OpGT:
		met = v > c.Value
	case OpLT:
		met = v < c.Value
	case OpEQ:
		met = math.Abs(v-c.Value) <= eqTolerance
	}

	res := Result{Complete: met, Current: &current}
	if met {
		res.Reason = fmt.Sprintf("%s.%s = %g satisfies %s %g", c.Subsystem, c.Parameter, v, c.Operator, c.Value)
	} else {
		res.Reason = fmt.Sprintf("%s.%s = %g, need %s %g", c.Subsystem, c.Parameter, v, c.Operator, c.Value)
	}
	return res
}

func evalContact(c GroundContact, contacts []string) Result {
	if c.StationID == "" {
		if len(contacts) > 0 {
			return Result{Complete: true, Reason: fmt.Sprintf("in contact with %s", contacts[0])}
		}
		return Result{Reason: "no ground station in view"}
	}
	for _, id := range contacts {
		if id == c.StationID {
			return Result{Complete: true, Reason: fmt.Sprintf("in contact with %s", id)}
		}
	}
	return Result{Reason: fmt.Sprintf("%s not in view", c.StationID)}
}
