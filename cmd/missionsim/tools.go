package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/mission-engine/core"
	"github.com/signalsfoundry/mission-engine/internal/config"
	"github.com/signalsfoundry/mission-engine/internal/logging"
	"github.com/signalsfoundry/mission-engine/internal/snapshot"
	"github.com/signalsfoundry/mission-engine/model"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [scenario.yaml...]",
		Short: "Check the engine configuration and scenario files",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadEngine(cmd); err != nil {
				return err
			}
			for _, path := range args {
				sc, err := config.LoadScenario(path)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d stations, %d steps)\n", path, len(sc.Stations), len(sc.Steps))
			}
			return nil
		},
	}
}

// scenarioAt loads a scenario and resolves --at, defaulting to the epoch.
func scenarioAt(path, at string) (model.OrbitalElements, []model.GroundStation, time.Time, error) {
	sc, err := config.LoadScenario(path)
	if err != nil {
		return model.OrbitalElements{}, nil, time.Time{}, err
	}
	el, err := sc.Elements()
	if err != nil {
		return model.OrbitalElements{}, nil, time.Time{}, err
	}
	t := el.Epoch
	if at != "" {
		t, err = time.Parse(time.RFC3339, at)
		if err != nil {
			return model.OrbitalElements{}, nil, time.Time{}, fmt.Errorf("--at: %w", err)
		}
	}
	return el, sc.GroundStations(), t, nil
}

func newVisibilityCmd() *cobra.Command {
	var scenario, at string
	cmd := &cobra.Command{
		Use:   "visibility",
		Short: "Print look angles and signal strength for every station of a scenario",
		RunE: func(cmd *cobra.Command, args []string) error {
			el, stations, t, err := scenarioAt(scenario, at)
			if err != nil {
				return err
			}
			calc := core.Calculator{}
			return writeJSON(cmd.OutOrStdout(), calc.Visibilities(el, stations, t))
		},
	}
	cmd.Flags().StringVar(&scenario, "scenario", "", "Scenario YAML")
	cmd.Flags().StringVar(&at, "at", "", "RFC 3339 instant (defaults to the element epoch)")
	_ = cmd.MarkFlagRequired("scenario")
	return cmd
}

// stationPass is one line of the passes report.
type stationPass struct {
	StationID string      `json:"stationId"`
	Name      string      `json:"name"`
	Pass      *model.Pass `json:"pass"`
}

func newPassesCmd() *cobra.Command {
	var scenario, at string
	cmd := &cobra.Command{
		Use:   "passes",
		Short: "Predict the next pass over each station of a scenario",
		RunE: func(cmd *cobra.Command, args []string) error {
			el, stations, t, err := scenarioAt(scenario, at)
			if err != nil {
				return err
			}
			out := make([]stationPass, 0, len(stations))
			for _, st := range stations {
				out = append(out, stationPass{StationID: st.ID, Name: st.Name, Pass: core.NextPass(el, st, t)})
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&scenario, "scenario", "", "Scenario YAML")
	cmd.Flags().StringVar(&at, "at", "", "RFC 3339 instant (defaults to the element epoch)")
	_ = cmd.MarkFlagRequired("scenario")
	return cmd
}

func newInspectCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "inspect [session-id]",
		Short: "List persisted sessions or dump one snapshot as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				cfg, err := loadEngine(cmd)
				if err != nil {
					return err
				}
				dir = cfg.Snapshot.Dir
			}
			store, err := snapshot.NewStore(dir, logging.Noop())
			if err != nil {
				return err
			}
			if len(args) == 0 {
				ids, err := store.List()
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			}
			rec, err := store.Load(args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rec)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Snapshot directory (defaults to snapshot.dir of the engine config)")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
