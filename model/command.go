package model

import (
	"encoding/json"
	"time"
)

// CommandStatus is the lifecycle phase of a QueuedCommand.
type CommandStatus string

const (
	CommandUplinkInProgress CommandStatus = "uplink_in_progress"
	CommandExecuting        CommandStatus = "executing"
	CommandCompleted        CommandStatus = "completed"
	CommandFailed           CommandStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s CommandStatus) Terminal() bool {
	return s == CommandCompleted || s == CommandFailed
}

// CanTransition reports whether from -> to is a legal forward step.
func (s CommandStatus) CanTransition(to CommandStatus) bool {
	switch s {
	case CommandUplinkInProgress:
		return to == CommandExecuting || to == CommandFailed
	case CommandExecuting:
		return to == CommandCompleted || to == CommandFailed
	default:
		return false
	}
}

// Priority controls the uplink latency of a command.
type Priority string

const (
	PriorityNormal   Priority = "normal"
	PriorityCritical Priority = "critical"
)

// QueuedCommand is an operator command travelling through the simulated
// uplink. EnqueuedAt is wall-clock; latency and execution durations are in
// virtual seconds.
type QueuedCommand struct {
	ID               string          `json:"id" msgpack:"id"`
	SessionID        string          `json:"sessionId" msgpack:"session_id"`
	CommandName      string          `json:"commandName" msgpack:"command_name"`
	Payload          json.RawMessage `json:"payload,omitempty" msgpack:"payload"`
	Priority         Priority        `json:"priority" msgpack:"priority"`
	EnqueuedAt       time.Time       `json:"enqueuedAt" msgpack:"enqueued_at"`
	EnqueuedVirtual  time.Time       `json:"enqueuedVirtual" msgpack:"enqueued_virtual"`
	LatencySeconds   float64         `json:"latencySeconds" msgpack:"latency_seconds"`
	ExecutionSeconds float64         `json:"executionSeconds" msgpack:"execution_seconds"`
	Status           CommandStatus   `json:"status" msgpack:"status"`
	FailureReason    string          `json:"failureReason,omitempty" msgpack:"failure_reason"`
	CompletedAt      *time.Time      `json:"completedAt,omitempty" msgpack:"completed_at"`
}

// UplinkDeadline is the virtual instant the command starts executing.
func (c QueuedCommand) UplinkDeadline() time.Time {
	return c.EnqueuedVirtual.Add(Seconds(c.LatencySeconds))
}

// ExecutionDeadline is the virtual instant execution finishes.
func (c QueuedCommand) ExecutionDeadline() time.Time {
	return c.UplinkDeadline().Add(Seconds(c.ExecutionSeconds))
}

// Seconds converts fractional seconds to a Duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// ResultStatus values recorded in command history.
const (
	ResultOK    = "OK"
	ResultError = "ERROR"
)

// CommandRecord is one entry of a session's command history.
type CommandRecord struct {
	CommandID    string    `json:"commandId"`
	CommandName  string    `json:"commandName"`
	IssuedAt     time.Time `json:"issuedAt"`
	ResultStatus string    `json:"resultStatus"`
}
