package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/mission-engine/internal/config"
	"github.com/signalsfoundry/mission-engine/internal/logging"
	"github.com/signalsfoundry/mission-engine/internal/snapshot"
	"github.com/signalsfoundry/mission-engine/model"
)

const scenarioPath = "../../configs/leo-training.yaml"

func TestRunServesHealthAndPersistsSession(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}

	cfg := config.DefaultEngine()
	cfg.Metrics.Addr = ""
	cfg.Tick = 20 * time.Millisecond
	cfg.Snapshot.Enabled = true
	cfg.Snapshot.Dir = t.TempDir()

	var out bytes.Buffer
	opts := runOptions{
		Engine:       cfg,
		ScenarioPath: scenarioPath,
		StationsPath: "../../configs/stations.yaml",
		SessionID:    "trainee-1",
		Events:       &out,
	}
	log := logging.New(logging.Config{Level: "warn", Output: &bytes.Buffer{}})

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, opts, log, lis)
	}()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	defer conn.Close()

	client := healthpb.NewHealthClient(conn)
	for _, service := range []string{"", healthService} {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service}, grpc.WaitForReady(true))
		if err != nil {
			t.Fatalf("Check(%q): %v", service, err)
		}
		if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			t.Fatalf("Check(%q) = %s, want SERVING", service, resp.GetStatus())
		}
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	store, err := snapshot.NewStore(cfg.Snapshot.Dir, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	rec, err := store.Load("trainee-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(rec.Stations) != 3 || len(rec.Steps) != 4 || rec.Clock.Scale != 10 {
		t.Fatalf("snapshot = %+v", rec)
	}
}

func TestRunRejectsBadScenario(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("name: broken\nsatellite:\n  altitude_km: -1\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg := config.DefaultEngine()
	cfg.Metrics.Addr = ""

	err := run(context.Background(), runOptions{Engine: cfg, ScenarioPath: bad}, logging.Noop(), nil)
	if err == nil {
		t.Fatalf("run accepted an invalid scenario")
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVisibilityCommand(t *testing.T) {
	out, err := execute(t, "visibility", "--scenario", scenarioPath, "--at", "2024-03-01T00:30:00Z")
	if err != nil {
		t.Fatalf("visibility: %v", err)
	}
	var readings []model.VisibilityReading
	if err := json.Unmarshal([]byte(out), &readings); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(readings) != 3 || readings[0].StationID != "gds" {
		t.Fatalf("readings = %+v", readings)
	}
	want := time.Date(2024, time.March, 1, 0, 30, 0, 0, time.UTC)
	if !readings[0].Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v, want %v", readings[0].Timestamp, want)
	}

	if _, err := execute(t, "visibility", "--scenario", scenarioPath, "--at", "yesterday"); err == nil {
		t.Fatalf("bad --at accepted")
	}
}

func TestPassesCommand(t *testing.T) {
	out, err := execute(t, "passes", "--scenario", scenarioPath)
	if err != nil {
		t.Fatalf("passes: %v", err)
	}
	var passes []stationPass
	if err := json.Unmarshal([]byte(out), &passes); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(passes) != 3 {
		t.Fatalf("passes = %+v", passes)
	}
	for _, p := range passes {
		if p.Pass != nil && p.Pass.TimeUntilPass <= 0 {
			t.Fatalf("pass for %s starts in the past: %+v", p.StationID, p.Pass)
		}
	}
}

func TestValidateCommand(t *testing.T) {
	out, err := execute(t, "validate", scenarioPath)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "ok (3 stations, 4 steps)") {
		t.Fatalf("output = %q", out)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("name: x\nbogus: true\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := execute(t, "validate", bad); err == nil {
		t.Fatalf("validate accepted %s", bad)
	}
}

func TestInspectCommand(t *testing.T) {
	dir := t.TempDir()
	store, err := snapshot.NewStore(dir, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	rec := snapshot.Record{
		Seq:       1,
		SessionID: "s1",
		Elements:  model.OrbitalElements{AltitudeKm: 415, Epoch: time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)},
	}
	if err := store.Save(context.Background(), rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err := execute(t, "inspect", "--dir", dir)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if strings.TrimSpace(out) != "s1" {
		t.Fatalf("list output = %q", out)
	}

	out, err = execute(t, "inspect", "--dir", dir, "s1")
	if err != nil {
		t.Fatalf("inspect s1: %v", err)
	}
	var got snapshot.Record
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.SessionID != "s1" || got.Elements.AltitudeKm != 415 {
		t.Fatalf("record = %+v", got)
	}

	if _, err := execute(t, "inspect", "--dir", dir, "missing"); err == nil {
		t.Fatalf("inspect of a missing session succeeded")
	}
}
