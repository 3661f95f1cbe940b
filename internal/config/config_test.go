package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/mission-engine/internal/command"
	"github.com/signalsfoundry/mission-engine/internal/evaluator"
	"github.com/signalsfoundry/mission-engine/model"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestDefaultEngine(t *testing.T) {
	cfg := DefaultEngine()
	if cfg.Latency.UplinkSeconds != 90 || cfg.Latency.ExecutionSeconds != 30 || cfg.Latency.CriticalFactor != 0.5 {
		t.Fatalf("latency defaults = %+v", cfg.Latency)
	}
	if cfg.Tick != time.Second || cfg.Dispatcher.Buffer != 256 {
		t.Fatalf("defaults = %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
}

func TestLoadEngineFileAndEnv(t *testing.T) {
	path := writeFile(t, "missionsim.yaml", `
latency:
  uplink_seconds: 120
tick: 250ms
snapshot:
  enabled: true
  dir: /tmp/snaps
logging:
  level: debug
`)
	t.Setenv("MISSIONSIM_LATENCY_EXECUTION_SECONDS", "12")

	cfg, err := LoadEngine(path)
	if err != nil {
		t.Fatalf("LoadEngine: %v", err)
	}
	if cfg.Latency.UplinkSeconds != 120 {
		t.Fatalf("UplinkSeconds = %v, want 120 from file", cfg.Latency.UplinkSeconds)
	}
	if cfg.Latency.ExecutionSeconds != 12 {
		t.Fatalf("ExecutionSeconds = %v, want 12 from env", cfg.Latency.ExecutionSeconds)
	}
	if cfg.Tick != 250*time.Millisecond {
		t.Fatalf("Tick = %v, want 250ms", cfg.Tick)
	}
	if !cfg.Snapshot.Enabled || cfg.Snapshot.Dir != "/tmp/snaps" || cfg.Logging.Level != "debug" {
		t.Fatalf("cfg = %+v", cfg)
	}

	p := cfg.Profiles()
	if p.Default.UplinkSeconds != 120 || p.CriticalFactor != 0.5 {
		t.Fatalf("Profiles() = %+v", p)
	}
}

func TestLoadEngineRejectsSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"critical factor": "latency:\n  critical_factor: 2\n",
		"unknown key":     "bogus: 1\n",
		"bad duration":    "tick: soon\n",
		"bad level":       "logging:\n  level: loud\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadEngine(writeFile(t, "bad.yaml", body))
			if !errors.Is(err, ErrInvalid) || !errors.Is(err, model.ErrConfiguration) {
				t.Fatalf("LoadEngine err = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestLoadEngineRejectsBadEnvOverride(t *testing.T) {
	t.Setenv("MISSIONSIM_DEFAULT_SCALE", "-3")
	if _, err := LoadEngine(""); !errors.Is(err, model.ErrConfiguration) {
		t.Fatalf("LoadEngine err = %v, want configuration error", err)
	}
}

func TestLoadScenarioFromRepo(t *testing.T) {
	sc, err := LoadScenario(filepath.Join("..", "..", "configs", "leo-training.yaml"))
	if err != nil {
		t.Fatalf("LoadScenario: %v", err)
	}

	el, err := sc.Elements()
	if err != nil {
		t.Fatalf("Elements: %v", err)
	}
	if el.AltitudeKm != 415 || el.InclinationDegrees != 51.6 || !el.Epoch.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("elements = %+v", el)
	}
	if len(sc.GroundStations()) != 3 || sc.GroundStations()[0].Name != "Goldstone" {
		t.Fatalf("stations = %+v", sc.GroundStations())
	}
	if len(sc.Steps) != 4 {
		t.Fatalf("steps = %d, want 4", len(sc.Steps))
	}
	c, err := evaluator.Parse(sc.Steps[2].Condition)
	if err != nil {
		t.Fatalf("Parse checkout step: %v", err)
	}
	if seq := c.(evaluator.CommandSequence); len(seq.Commands) != 3 || seq.Order != evaluator.OrderStrict {
		t.Fatalf("checkout = %+v", seq)
	}

	p, err := sc.Profiles(command.DefaultProfiles())
	if err != nil {
		t.Fatalf("Profiles: %v", err)
	}
	up, exec, err := p.Lookup("DEPLOY_PANELS", model.PriorityCritical)
	if err != nil || up != 60 || exec != 600 {
		t.Fatalf("Lookup(DEPLOY_PANELS) = %v, %v, %v; want 60, 600", up, exec, err)
	}
	if _, exec, _ := p.Lookup("SET_MODE_NOMINAL", model.PriorityNormal); exec != 45 {
		t.Fatalf("SET_MODE_NOMINAL execution = %v, want 45", exec)
	}
	if _, ok := sc.Outcome().(command.AlwaysSucceed); !ok {
		t.Fatalf("Outcome() = %T, want AlwaysSucceed for zero rates", sc.Outcome())
	}
	if sc.Telemetry["power"]["battery_soc"] != 62 {
		t.Fatalf("telemetry = %v", sc.Telemetry)
	}
}

const minimalScenario = `
name: test
satellite:
  altitude_km: 500
  inclination_deg: 97.4
  epoch: "2024-03-01T00:00:00Z"
stations:
  - id: gds
    latitude_deg: 35.4
    longitude_deg: -116.9
steps:
  - id: s1
    condition:
      type: CONDITION_TYPE
`

func TestParseScenarioRejects(t *testing.T) {
	cases := []struct {
		name string
		body string
		want error
	}{
		{
			name: "unknown condition",
			body: strings.Replace(minimalScenario, "CONDITION_TYPE", "orbit_raised", 1),
			want: evaluator.ErrUnknownCondition,
		},
		{
			name: "zero altitude",
			body: strings.Replace(strings.Replace(minimalScenario, "CONDITION_TYPE", "ground_contact", 1), "altitude_km: 500", "altitude_km: 0", 1),
			want: ErrInvalid,
		},
		{
			name: "bad epoch",
			body: strings.Replace(strings.Replace(minimalScenario, "CONDITION_TYPE", "ground_contact", 1), `"2024-03-01T00:00:00Z"`, "yesterday", 1),
			want: ErrInvalid,
		},
		{
			name: "missing station latitude",
			body: strings.Replace(strings.Replace(minimalScenario, "CONDITION_TYPE", "ground_contact", 1), "    latitude_deg: 35.4\n", "", 1),
			want: ErrInvalid,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseScenario("scenario.yaml", []byte(tc.body))
			if !errors.Is(err, tc.want) {
				t.Fatalf("ParseScenario err = %v, want %v", err, tc.want)
			}
			if !errors.Is(err, model.ErrConfiguration) {
				t.Fatalf("ParseScenario err = %v, want configuration error", err)
			}
		})
	}

	if _, err := ParseScenario("ok.yaml", []byte(strings.Replace(minimalScenario, "CONDITION_TYPE", "ground_contact", 1))); err != nil {
		t.Fatalf("ParseScenario(valid) = %v", err)
	}
}
