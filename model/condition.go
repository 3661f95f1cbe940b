package model

import "time"

// StepCondition is authored with the scenario and read-only to the engine.
type StepCondition struct {
	Type       string         `json:"type" yaml:"type"`
	Parameters map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// Step is one scenario step gated by a completion condition.
type Step struct {
	ID        string        `json:"id" yaml:"id"`
	Title     string        `json:"title,omitempty" yaml:"title,omitempty"`
	Condition StepCondition `json:"condition" yaml:"condition"`
}

// BeaconEvent records a satellite beacon. ReceivedAt stays nil when no
// ground station could see the satellite at transmission time.
type BeaconEvent struct {
	BeaconType    string     `json:"beaconType"`
	TransmittedAt time.Time  `json:"transmittedAt"`
	ReceivedAt    *time.Time `json:"receivedAt,omitempty"`
	GroundStation string     `json:"groundStation,omitempty"`
}

// Received reports whether any station picked the beacon up.
func (b BeaconEvent) Received() bool { return b.ReceivedAt != nil }

// Telemetry is subsystem -> parameter -> value.
type Telemetry map[string]map[string]float64
