package command

import (
	"fmt"
	"strings"

	"github.com/signalsfoundry/mission-engine/model"
)

// Default latency profile values, in virtual seconds.
const (
	DefaultUplinkSeconds    = 90.0
	DefaultExecutionSeconds = 30.0
	DefaultCriticalFactor   = 0.5
)

// ErrUnknownCommand is returned by a strict profile set for a command name
// it has no entry for.
var ErrUnknownCommand = model.NewConfigError("commandName", "unknown command", nil)

// Profile is the uplink and execution duration of one command type.
type Profile struct {
	UplinkSeconds    float64 `yaml:"uplink_seconds" mapstructure:"uplink_seconds"`
	ExecutionSeconds float64 `yaml:"execution_seconds" mapstructure:"execution_seconds"`
}

// Profiles resolves latencies per command name.
type Profiles struct {
	Default Profile
	// CriticalFactor scales the uplink of critical-priority commands.
	CriticalFactor float64
	Commands       map[string]Profile
	// Strict rejects command names missing from Commands.
	Strict bool
}

// DefaultProfiles returns 90 s uplink, 30 s execution and a 0.5 critical
// factor with no per-command overrides.
func DefaultProfiles() Profiles {
	return Profiles{
		Default:        Profile{UplinkSeconds: DefaultUplinkSeconds, ExecutionSeconds: DefaultExecutionSeconds},
		CriticalFactor: DefaultCriticalFactor,
	}
}

// Validate rejects negative durations and critical factors outside (0, 1].
func (p Profiles) Validate() error {
	if p.CriticalFactor <= 0 || p.CriticalFactor > 1 {
		return model.NewConfigError("critical_factor", fmt.Sprintf("must be in (0, 1], got %v", p.CriticalFactor), nil)
	}
	check := func(name string, pr Profile) error {
		if pr.UplinkSeconds < 0 || pr.ExecutionSeconds < 0 {
			return model.NewConfigError("latency."+name, "durations must be >= 0", nil)
		}
		return nil
	}
	if err := check("default", p.Default); err != nil {
		return err
	}
	for name, pr := range p.Commands {
		if err := check(name, pr); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the uplink and execution seconds for a command.
func (p Profiles) Lookup(name string, priority model.Priority) (uplink, execution float64, err error) {
	pr := p.Default
	if custom, ok := p.find(name); ok {
		pr = custom
	} else if p.Strict {
		return 0, 0, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}

	uplink = pr.UplinkSeconds
	if priority == model.PriorityCritical {
		factor := p.CriticalFactor
		if factor <= 0 {
			factor = DefaultCriticalFactor
		}
		uplink *= factor
	}
	return uplink, pr.ExecutionSeconds, nil
}

func (p Profiles) find(name string) (Profile, bool) {
	if pr, ok := p.Commands[name]; ok {
		return pr, true
	}
	for k, pr := range p.Commands {
		if strings.EqualFold(k, name) {
			return pr, true
		}
	}
	return Profile{}, false
}
