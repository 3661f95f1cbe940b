package events

import (
	"fmt"
	"strconv"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/signalsfoundry/mission-engine/model"
	"github.com/signalsfoundry/mission-engine/timectrl"
)

// Type is the wire name of an output event.
type Type string

const (
	TypeCommandStatus     Type = "command:status"
	TypeBeaconTransmitted Type = "beacon:transmitted"
	TypeBeaconReceived    Type = "beacon:received"
	TypeTimePrompt        Type = "time:prompt"
	TypeStepCompleted     Type = "step:completed"
	TypeMetricsUpdated    Type = "metrics:updated"
)

// Event is a discrete notification for the delivery layer. Fields holds
// JSON-compatible values only (string, float64, bool, nil, []any,
// map[string]any) so it converts to a protobuf Struct without loss.
type Event struct {
	Type      Type
	SessionID string
	// Timestamp is the session's virtual time when the event occurred.
	Timestamp time.Time
	Fields    map[string]any
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// CommandStatus reports a command status change.
func CommandStatus(cmd model.QueuedCommand, at time.Time) Event {
	fields := map[string]any{
		"commandId":   cmd.ID,
		"commandName": cmd.CommandName,
		"status":      string(cmd.Status),
		"priority":    string(cmd.Priority),
		"timestamp":   stamp(at),
	}
	if cmd.FailureReason != "" {
		fields["reason"] = cmd.FailureReason
	}
	return Event{Type: TypeCommandStatus, SessionID: cmd.SessionID, Timestamp: at, Fields: fields}
}

// BeaconTransmitted reports a beacon leaving the spacecraft.
func BeaconTransmitted(sessionID, beaconType string, at time.Time) Event {
	return Event{
		Type:      TypeBeaconTransmitted,
		SessionID: sessionID,
		Timestamp: at,
		Fields:    map[string]any{"sessionId": sessionID, "beaconType": beaconType},
	}
}

// BeaconReceived reports a beacon picked up by a ground station.
func BeaconReceived(sessionID, beaconType, station string, at time.Time) Event {
	return Event{
		Type:      TypeBeaconReceived,
		SessionID: sessionID,
		Timestamp: at,
		Fields:    map[string]any{"sessionId": sessionID, "beaconType": beaconType, "groundStation": station},
	}
}

// TimePrompt forwards an advisory rescale prompt.
func TimePrompt(p timectrl.TimePrompt) Event {
	return Event{
		Type:      TypeTimePrompt,
		SessionID: p.SessionID,
		Timestamp: p.CreatedAt,
		Fields: map[string]any{
			"sessionId":         p.SessionID,
			"reason":            p.Reason,
			"suggestedScale":    p.SuggestedScale,
			"estimatedWaitTime": p.EstimatedWait,
		},
	}
}

// StepCompleted reports a scenario step whose condition was met.
func StepCompleted(sessionID, stepID, reason string, at time.Time) Event {
	return Event{
		Type:      TypeStepCompleted,
		SessionID: sessionID,
		Timestamp: at,
		Fields:    map[string]any{"sessionId": sessionID, "stepId": stepID, "reason": reason},
	}
}

// MetricsUpdated carries the latest session metrics.
func MetricsUpdated(sessionID string, m model.SessionMetrics, at time.Time) Event {
	return Event{
		Type:      TypeMetricsUpdated,
		SessionID: sessionID,
		Timestamp: at,
		Fields:    map[string]any{"sessionId": sessionID, "metrics": m.ToMap()},
	}
}

// ToProto renders the event as a protobuf Struct envelope:
// {type, sessionId, timestamp, data}.
func (e Event) ToProto() (*structpb.Struct, error) {
	data, err := structpb.NewStruct(e.Fields)
	if err != nil {
		return nil, fmt.Errorf("events: %s payload: %w", e.Type, err)
	}
	ts, err := protojson.Marshal(timestamppb.New(e.Timestamp))
	if err != nil {
		return nil, fmt.Errorf("events: %s timestamp: %w", e.Type, err)
	}
	tsText, err := strconv.Unquote(string(ts))
	if err != nil {
		return nil, fmt.Errorf("events: %s timestamp: %w", e.Type, err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"type":      structpb.NewStringValue(string(e.Type)),
		"sessionId": structpb.NewStringValue(e.SessionID),
		"timestamp": structpb.NewStringValue(tsText),
		"data":      structpb.NewStructValue(data),
	}}, nil
}
