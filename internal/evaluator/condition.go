package evaluator

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/signalsfoundry/mission-engine/model"
)

var (
	// ErrUnknownCondition is returned for a condition type this engine does
	// not implement. Such steps are never treated as complete.
	ErrUnknownCondition = model.NewConfigError("condition.type", "unknown step condition type", nil)
	// ErrInvalidCondition is returned for missing or malformed parameters.
	ErrInvalidCondition = model.NewConfigError("condition.parameters", "invalid step condition parameters", nil)
)

// Kind names a condition variant as authored in scenario files.
type Kind string

const (
	KindBeaconReceived     Kind = "beacon_received"
	KindCommandSequence    Kind = "command_sequence"
	KindTelemetryThreshold Kind = "telemetry_threshold"
	KindGroundContact      Kind = "ground_contact"
)

// Condition is the closed set of step completion rules. Only the types in
// this package implement it.
type Condition interface {
	Kind() Kind
	condition()
}

// BeaconReceived completes once a beacon of BeaconType has been received.
type BeaconReceived struct {
	BeaconType string
}

// Order controls command sequence matching.
type Order string

const (
	OrderStrict Order = "strict"
	OrderAny    Order = "any"
)

// CommandSequence completes once every command in Commands has resulted OK,
// in issue order when Order is strict.
type CommandSequence struct {
	Commands []string
	Order    Order
}

// Operator compares a telemetry value to a threshold.
type Operator string

const (
	OpGTE Operator = "gte"
	OpLTE Operator = "lte"
	OpEQ  Operator = "eq"
	OpGT  Operator = "gt"
	OpLT  Operator = "lt"
)

// TelemetryThreshold completes when telemetry[Subsystem][Parameter]
// compares true against Value.
type TelemetryThreshold struct {
	Subsystem string
	Parameter string
	Operator  Operator
	Value     float64
}

// GroundContact completes while StationID, or any station when empty,
// sees the satellite.
type GroundContact struct {
	StationID string
}

func (BeaconReceived) Kind() Kind     { return KindBeaconReceived }
func (CommandSequence) Kind() Kind    { return KindCommandSequence }
func (TelemetryThreshold) Kind() Kind { return KindTelemetryThreshold }
func (GroundContact) Kind() Kind      { return KindGroundContact }

func (BeaconReceived) condition()     {}
func (CommandSequence) condition()    {}
func (TelemetryThreshold) condition() {}
func (GroundContact) condition()      {}

// Parse converts an authored StepCondition into its typed variant.
func Parse(sc model.StepCondition) (Condition, error) {
	p := params(sc.Parameters)
	switch Kind(sc.Type) {
	case KindBeaconReceived:
		bt := p.str("beaconType", "beacon_type")
		if bt == "" {
			return nil, invalid(sc.Type, "beaconType is required")
		}
		return BeaconReceived{BeaconType: bt}, nil

	case KindCommandSequence:
		cmds, err := p.strings("commands", "requiredCommands", "required_commands")
		if err != nil {
			return nil, invalid(sc.Type, err.Error())
		}
		if len(cmds) == 0 {
			return nil, invalid(sc.Type, "commands must not be empty")
		}
		order := Order(strings.ToLower(p.str("order")))
		switch order {
		case "":
			order = OrderStrict
		case OrderStrict, OrderAny:
		default:
			return nil, invalid(sc.Type, fmt.Sprintf("unknown order %q", order))
		}
		return CommandSequence{Commands: cmds, Order: order}, nil

	case KindTelemetryThreshold:
		t := TelemetryThreshold{
			Subsystem: p.str("subsystem"),
			Parameter: p.str("parameter"),
			Operator:  Operator(strings.ToLower(p.str("operator"))),
		}
		if t.Subsystem == "" || t.Parameter == "" {
			return nil, invalid(sc.Type, "subsystem and parameter are required")
		}
		switch t.Operator {
		case OpGTE, OpLTE, OpEQ, OpGT, OpLT:
		default:
			return nil, invalid(sc.Type, fmt.Sprintf("unknown operator %q", t.Operator))
		}
		v, ok, err := p.number("value")
		if err != nil || !ok {
			return nil, invalid(sc.Type, "numeric value is required")
		}
		t.Value = v
		return t, nil

	case KindGroundContact:
		return GroundContact{StationID: p.str("stationId", "station_id", "groundStation")}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCondition, sc.Type)
	}
}

func invalid(kind, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidCondition, kind, reason)
}

type params map[string]any

func (p params) lookup(keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := p[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func (p params) str(keys ...string) string {
	v, ok := p.lookup(keys...)
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func (p params) number(keys ...string) (float64, bool, error) {
	v, ok := p.lookup(keys...)
	if !ok {
		return 0, false, nil
	}
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, true, err
		}
		f = parsed
	default:
		return 0, true, fmt.Errorf("unsupported number type %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, true, fmt.Errorf("value must be finite")
	}
	return f, true, nil
}

func (p params) strings(keys ...string) ([]string, error) {
	v, ok := p.lookup(keys...)
	if !ok {
		return nil, nil
	}
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...), nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("commands must be strings, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("commands must be a list, got %T", v)
	}
}
