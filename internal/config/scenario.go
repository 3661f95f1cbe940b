package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/mission-engine/internal/command"
	"github.com/signalsfoundry/mission-engine/internal/evaluator"
	"github.com/signalsfoundry/mission-engine/model"
)

// Scenario is a training mission definition.
type Scenario struct {
	Name           string          `yaml:"name"`
	Description    string          `yaml:"description"`
	InitialScale   float64         `yaml:"initial_scale"`
	Satellite      SatelliteSpec   `yaml:"satellite"`
	Stations       []StationSpec   `yaml:"stations"`
	Steps          []model.Step    `yaml:"steps"`
	Commands       []CommandSpec   `yaml:"commands"`
	StrictCommands bool            `yaml:"strict_commands"`
	Failures       FailureSpec     `yaml:"failures"`
	Telemetry      model.Telemetry `yaml:"telemetry"`
}

// SatelliteSpec holds the authored orbital elements.
type SatelliteSpec struct {
	Name           string  `yaml:"name"`
	AltitudeKm     float64 `yaml:"altitude_km"`
	InclinationDeg float64 `yaml:"inclination_deg"`
	Eccentricity   float64 `yaml:"eccentricity"`
	RAANDeg        float64 `yaml:"raan_deg"`
	Epoch          string  `yaml:"epoch"`
}

// StationSpec is a ground station entry.
type StationSpec struct {
	ID           string  `yaml:"id"`
	Name         string  `yaml:"name"`
	LatitudeDeg  float64 `yaml:"latitude_deg"`
	LongitudeDeg float64 `yaml:"longitude_deg"`
	AltitudeM    float64 `yaml:"altitude_m"`
}

// CommandSpec overrides the latency of one command type.
type CommandSpec struct {
	Name             string   `yaml:"name"`
	UplinkSeconds    *float64 `yaml:"uplink_seconds"`
	ExecutionSeconds *float64 `yaml:"execution_seconds"`
}

// FailureSpec configures injected command failures.
type FailureSpec struct {
	UplinkRate    float64 `yaml:"uplink_rate"`
	ExecutionRate float64 `yaml:"execution_rate"`
	Seed          uint64  `yaml:"seed"`
}

// LoadScenario reads, schema-checks and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return ParseScenario(path, src)
}

// ParseScenario is LoadScenario over in-memory YAML.
func ParseScenario(filename string, src []byte) (*Scenario, error) {
	if err := Validate(filename, src, DefScenario); err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(src, &sc); err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrInvalid, filename, err)
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return &sc, nil
}

// Validate checks semantic rules: elements, unique ids and parseable step
// conditions.
func (s *Scenario) Validate() error {
	if _, err := s.Elements(); err != nil {
		return err
	}
	if s.InitialScale < 0 {
		return model.NewConfigError("initial_scale", "must be > 0", ErrInvalid)
	}

	seen := make(map[string]bool, len(s.Stations))
	for _, st := range s.GroundStations() {
		if err := st.Validate(); err != nil {
			return err
		}
		if seen[st.ID] {
			return model.NewConfigError("stations", fmt.Sprintf("duplicate station id %q", st.ID), ErrInvalid)
		}
		seen[st.ID] = true
	}

	steps := make(map[string]bool, len(s.Steps))
	for _, step := range s.Steps {
		if steps[step.ID] {
			return model.NewConfigError("steps", fmt.Sprintf("duplicate step id %q", step.ID), ErrInvalid)
		}
		steps[step.ID] = true
		if _, err := evaluator.Parse(step.Condition); err != nil {
			return fmt.Errorf("step %s: %w", step.ID, err)
		}
	}

	if _, err := s.Profiles(command.DefaultProfiles()); err != nil {
		return err
	}
	return nil
}

// Elements converts the satellite spec.
func (s *Scenario) Elements() (model.OrbitalElements, error) {
	epoch, err := time.Parse(time.RFC3339, s.Satellite.Epoch)
	if err != nil {
		return model.OrbitalElements{}, model.NewConfigError("satellite.epoch", fmt.Sprintf("not RFC 3339: %q", s.Satellite.Epoch), ErrInvalid)
	}
	el := model.OrbitalElements{
		AltitudeKm:         s.Satellite.AltitudeKm,
		InclinationDegrees: s.Satellite.InclinationDeg,
		Eccentricity:       s.Satellite.Eccentricity,
		RAANDegrees:        s.Satellite.RAANDeg,
		Epoch:              epoch.UTC(),
	}
	if err := el.Validate(); err != nil {
		return model.OrbitalElements{}, err
	}
	return el, nil
}

// GroundStations converts the station specs.
func (s *Scenario) GroundStations() []model.GroundStation {
	out := make([]model.GroundStation, 0, len(s.Stations))
	for _, st := range s.Stations {
		out = append(out, st.GroundStation())
	}
	return out
}

// GroundStation converts one station spec.
func (st StationSpec) GroundStation() model.GroundStation {
	name := st.Name
	if name == "" {
		name = st.ID
	}
	return model.GroundStation{
		ID:   st.ID,
		Name: name,
		Location: model.GeodeticLocation{
			LatitudeDeg:  st.LatitudeDeg,
			LongitudeDeg: st.LongitudeDeg,
			AltitudeM:    st.AltitudeM,
		},
	}
}

// Profiles overlays the scenario's command latencies on base.
func (s *Scenario) Profiles(base command.Profiles) (command.Profiles, error) {
	p := base
	p.Strict = s.StrictCommands
	p.Commands = make(map[string]command.Profile, len(base.Commands)+len(s.Commands))
	for k, v := range base.Commands {
		p.Commands[k] = v
	}
	for _, c := range s.Commands {
		pr := p.Default
		if c.UplinkSeconds != nil {
			pr.UplinkSeconds = *c.UplinkSeconds
		}
		if c.ExecutionSeconds != nil {
			pr.ExecutionSeconds = *c.ExecutionSeconds
		}
		p.Commands[c.Name] = pr
	}
	if err := p.Validate(); err != nil {
		return command.Profiles{}, err
	}
	return p, nil
}

// Outcome returns the failure model for the scenario.
func (s *Scenario) Outcome() command.Outcome {
	if s.Failures.UplinkRate <= 0 && s.Failures.ExecutionRate <= 0 {
		return command.AlwaysSucceed{}
	}
	return command.FailureRates{
		Uplink:    s.Failures.UplinkRate,
		Execution: s.Failures.ExecutionRate,
		Seed:      s.Failures.Seed,
	}
}

// Profiles builds the default latency profile set from engine config.
func (e Engine) Profiles() command.Profiles {
	return command.Profiles{
		Default: command.Profile{
			UplinkSeconds:    e.Latency.UplinkSeconds,
			ExecutionSeconds: e.Latency.ExecutionSeconds,
		},
		CriticalFactor: e.Latency.CriticalFactor,
	}
}
