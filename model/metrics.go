package model

// Error severities tracked in SessionMetrics.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

type CommandCounts struct {
	Total     int `json:"total" msgpack:"total"`
	Correct   int `json:"correct" msgpack:"correct"`
	Incorrect int `json:"incorrect" msgpack:"incorrect"`
}

type TimingMetrics struct {
	AverageResponseTime float64 `json:"averageResponseTime" msgpack:"average_response_time"`
	Samples             int     `json:"samples" msgpack:"samples"`
}

type ResourceMetrics struct {
	PowerEfficiency float64 `json:"powerEfficiency" msgpack:"power_efficiency"`
	FuelEfficiency  float64 `json:"fuelEfficiency" msgpack:"fuel_efficiency"`
	Samples         int     `json:"samples" msgpack:"samples"`
}

type ErrorMetrics struct {
	Count    int            `json:"count" msgpack:"count"`
	Severity map[string]int `json:"severity" msgpack:"severity"`
}

type StepProgress struct {
	Completed int `json:"completed" msgpack:"completed"`
	Total     int `json:"total" msgpack:"total"`
}

type Scores struct {
	Accuracy           float64 `json:"accuracy" msgpack:"accuracy"`
	ResponseTime       float64 `json:"responseTime" msgpack:"response_time"`
	ResourceManagement float64 `json:"resourceManagement" msgpack:"resource_management"`
	Completion         float64 `json:"completion" msgpack:"completion"`
	ErrorAvoidance     float64 `json:"errorAvoidance" msgpack:"error_avoidance"`
	Overall            float64 `json:"overall" msgpack:"overall"`
}

// SessionMetrics accumulates for the life of a session and is frozen once
// Finalized is set.
type SessionMetrics struct {
	Commands     CommandCounts   `json:"commands" msgpack:"commands"`
	Timing       TimingMetrics   `json:"timing" msgpack:"timing"`
	Resources    ResourceMetrics `json:"resources" msgpack:"resources"`
	Errors       ErrorMetrics    `json:"errors" msgpack:"errors"`
	Steps        StepProgress    `json:"steps" msgpack:"steps"`
	Scores       Scores          `json:"scores" msgpack:"scores"`
	Achievements []string        `json:"achievements" msgpack:"achievements"`
	Finalized    bool            `json:"finalized" msgpack:"finalized"`
}

// ToMap renders the metrics as plain JSON-compatible values.
func (m SessionMetrics) ToMap() map[string]any {
	severity := make(map[string]any, len(m.Errors.Severity))
	for k, v := range m.Errors.Severity {
		severity[k] = float64(v)
	}
	achievements := make([]any, 0, len(m.Achievements))
	for _, a := range m.Achievements {
		achievements = append(achievements, a)
	}
	return map[string]any{
		"commands": map[string]any{
			"total":     float64(m.Commands.Total),
			"correct":   float64(m.Commands.Correct),
			"incorrect": float64(m.Commands.Incorrect),
		},
		"timing": map[string]any{
			"averageResponseTime": m.Timing.AverageResponseTime,
		},
		"resources": map[string]any{
			"powerEfficiency": m.Resources.PowerEfficiency,
			"fuelEfficiency":  m.Resources.FuelEfficiency,
		},
		"errors": map[string]any{
			"count":    float64(m.Errors.Count),
			"severity": severity,
		},
		"steps": map[string]any{
			"completed": float64(m.Steps.Completed),
			"total":     float64(m.Steps.Total),
		},
		"scores": map[string]any{
			"accuracy":           m.Scores.Accuracy,
			"responseTime":       m.Scores.ResponseTime,
			"resourceManagement": m.Scores.ResourceManagement,
			"completion":         m.Scores.Completion,
			"errorAvoidance":     m.Scores.ErrorAvoidance,
			"overall":            m.Scores.Overall,
		},
		"achievements": achievements,
		"finalized":    m.Finalized,
	}
}
