package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/mission-engine/core"
	"github.com/signalsfoundry/mission-engine/internal/config"
	"github.com/signalsfoundry/mission-engine/internal/events"
	"github.com/signalsfoundry/mission-engine/internal/logging"
	"github.com/signalsfoundry/mission-engine/internal/observability"
	"github.com/signalsfoundry/mission-engine/internal/session"
	"github.com/signalsfoundry/mission-engine/internal/snapshot"
	"github.com/signalsfoundry/mission-engine/kb"
)

// healthService is reported NOT_SERVING while event delivery is degraded.
const healthService = "missionsim.MissionEngine"

const shutdownTimeout = 5 * time.Second

// runOptions is everything run needs besides the listener.
type runOptions struct {
	Engine       config.Engine
	ScenarioPath string
	StationsPath string
	SessionID    string
	// Scale overrides the scenario's initial scale when > 0.
	Scale float64
	// Events receives one JSON line per output event.
	Events io.Writer
}

func newRunCmd() *cobra.Command {
	opts := runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the engine and optionally start a session from a scenario",
		Long: "run recovers persisted sessions, starts one from --scenario if given, and streams " +
			"output events as JSON lines to stdout until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadEngine(cmd)
			if err != nil {
				return err
			}
			opts.Engine = cfg
			opts.Events = cmd.OutOrStdout()

			log := newLogger(cfg.Logging)

			var lis net.Listener
			if cfg.GRPC.Addr != "" {
				lis, err = net.Listen("tcp", cfg.GRPC.Addr)
				if err != nil {
					return fmt.Errorf("listen %s: %w", cfg.GRPC.Addr, err)
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, log, lis)
		},
	}
	cmd.Flags().StringVar(&opts.ScenarioPath, "scenario", "", "Scenario YAML to start a session from")
	cmd.Flags().StringVar(&opts.StationsPath, "stations", "", "Ground station catalog YAML")
	cmd.Flags().StringVar(&opts.SessionID, "session-id", "", "Id of the started session (generated when empty)")
	cmd.Flags().Float64Var(&opts.Scale, "scale", 0, "Initial time scale, overriding the scenario")
	return cmd
}

func loadEngine(cmd *cobra.Command) (config.Engine, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.LoadEngine(path)
}

// newLogger logs to stderr unless a file is configured; stdout carries the
// event stream.
func newLogger(cfg config.LoggingConfig) logging.Logger {
	lc := logging.Config{
		Level:    cfg.Level,
		Format:   cfg.Format,
		File:     cfg.File,
		Compress: true,
	}
	if cfg.File == "" {
		lc.Output = os.Stderr
	}
	return logging.New(lc)
}

// run serves until ctx is cancelled. lis may be nil to skip the gRPC
// health endpoint.
func run(ctx context.Context, opts runOptions, log logging.Logger, lis net.Listener) error {
	cfg := opts.Engine
	log = logging.OrNoop(log)

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
	}), log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewEngineCollector(nil)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	healthSrv := health.NewServer()
	out := opts.Events
	if out == nil {
		out = io.Discard
	}
	dispatcher := newDispatcher(cfg, out, collector, healthSrv, log)
	dispatcher.Start(ctx)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := dispatcher.Close(closeCtx); err != nil {
			log.Warn(closeCtx, "event queue not drained", logging.Err(err))
		}
	}()

	catalog := kb.NewKnowledgeBase()
	if opts.StationsPath != "" {
		n, err := catalog.LoadYAML(opts.StationsPath)
		if err != nil {
			return err
		}
		log.Info(ctx, "loaded station catalog", logging.String("path", opts.StationsPath), logging.Int("stations", n))
	}

	engineOpts := []session.Option{
		session.WithPublisher(dispatcher),
		session.WithStationCatalog(catalog),
		session.WithPassCache(core.NewPassCache(cfg.PassCache.Size, cfg.PassCache.TTL)),
		session.WithProfiles(cfg.Profiles()),
		session.WithMetrics(collector),
		session.WithLogger(log),
		session.WithTickInterval(cfg.Tick),
		session.WithAutoPrompt(autoPromptAfter),
	}
	if cfg.Snapshot.Enabled {
		store, err := snapshot.NewStore(cfg.Snapshot.Dir, log)
		if err != nil {
			return err
		}
		engineOpts = append(engineOpts, session.WithSnapshots(store))
	}
	engine := session.New(engineOpts...)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := engine.Close(closeCtx); err != nil {
			log.Warn(closeCtx, "snapshot writes did not finish", logging.Err(err))
		}
	}()

	if cfg.Snapshot.Enabled {
		ids, err := engine.RecoverAll(ctx)
		if err != nil {
			log.Warn(ctx, "some sessions could not be recovered", logging.Err(err))
		}
		if len(ids) > 0 {
			log.Info(ctx, "recovered sessions", logging.Int("count", len(ids)))
		}
	}
	if opts.ScenarioPath != "" {
		if err := startScenario(ctx, engine, opts, log); err != nil {
			return err
		}
	}

	metricsSrv := serveMetrics(cfg.Metrics.Addr, collector, log)

	var server *grpc.Server
	if lis != nil {
		server = grpc.NewServer(
			grpc.StatsHandler(otelgrpc.NewServerHandler()),
			grpc.ChainUnaryInterceptor(collector.UnaryServerInterceptor()),
		)
		healthpb.RegisterHealthServer(server, healthSrv)
		healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		healthSrv.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return engine.Run(gctx)
	})
	if server != nil {
		log.Info(ctx, "serving gRPC health", logging.String("addr", lis.Addr().String()))
		g.Go(func() error {
			if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			healthSrv.Shutdown()
			server.GracefulStop()
			return nil
		})
	}
	runErr := g.Wait()

	log.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return runErr
}

// autoPromptAfter is the shortest wait for the next pass that triggers a
// time prompt.
const autoPromptAfter = 10 * time.Minute

func newDispatcher(cfg config.Engine, w io.Writer, collector *observability.EngineCollector, healthSrv *health.Server, log logging.Logger) *events.Dispatcher {
	return events.NewDispatcher(events.NewJSONLSink(w),
		events.WithBuffer(cfg.Dispatcher.Buffer),
		events.WithDeliveryTimeout(cfg.Dispatcher.DeliveryTimeout),
		events.WithDispatcherLogger(log),
		events.WithDeliveryRecorder(collector),
		events.OnDegraded(func(degraded bool) {
			status := healthpb.HealthCheckResponse_SERVING
			if degraded {
				status = healthpb.HealthCheckResponse_NOT_SERVING
			}
			healthSrv.SetServingStatus(healthService, status)
		}),
	)
}

func startScenario(ctx context.Context, engine *session.Engine, opts runOptions, log logging.Logger) error {
	sc, err := config.LoadScenario(opts.ScenarioPath)
	if err != nil {
		return err
	}
	scfg, err := session.ConfigFromScenario(sc, opts.Engine.Profiles())
	if err != nil {
		return err
	}
	scfg.ID = opts.SessionID
	switch {
	case opts.Scale > 0:
		scfg.InitialScale = opts.Scale
	case scfg.InitialScale == 0:
		scfg.InitialScale = opts.Engine.DefaultScale
	}

	info, err := engine.StartSession(ctx, scfg)
	if errors.Is(err, session.ErrSessionExists) {
		log.Info(ctx, "session already recovered; not restarting", logging.String("session_id", scfg.ID))
		return nil
	}
	if err != nil {
		return err
	}
	log.Info(logging.ContextWithSessionID(ctx, info.ID), "scenario session started",
		logging.String("scenario", sc.Name),
		logging.Float("scale", info.Scale),
		logging.String("virtual_now", info.VirtualNow.Format(time.RFC3339)),
	)
	return nil
}

func serveMetrics(addr string, collector *observability.EngineCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
