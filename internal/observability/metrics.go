package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// EngineCollector bundles the Prometheus metrics of the mission engine. It
// satisfies sched.MetricsRecorder, events.DeliveryRecorder and
// session.MetricsRecorder so each component can drive its own series.
type EngineCollector struct {
	gatherer prometheus.Gatherer

	SessionsActive     prometheus.Gauge
	CommandTransitions *prometheus.CounterVec
	StepsCompleted     prometheus.Counter

	EventsDelivered       *prometheus.CounterVec
	EventDeliveryFailures *prometheus.CounterVec
	EventsDropped         *prometheus.CounterVec
	EventDeliveryDegraded prometheus.Gauge

	ScheduledTimers    prometheus.Gauge
	TimersFired        prometheus.Counter
	VisibilityDuration prometheus.Histogram
	PassCacheHitRatio  prometheus.Gauge

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec
}

// NewEngineCollector registers the engine metrics against reg, defaulting
// to the global Prometheus registry when nil. Registering twice against the
// same registry returns the existing series.
func NewEngineCollector(reg prometheus.Registerer) (*EngineCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &EngineCollector{gatherer: gatherer}
	var err error

	if c.SessionsActive, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "missionsim_sessions_active",
		Help: "Number of live training sessions.",
	})); err != nil {
		return nil, err
	}
	if c.CommandTransitions, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "missionsim_command_transitions_total",
		Help: "Command status transitions, labeled by source and target status.",
	}, []string{"from", "to"})); err != nil {
		return nil, err
	}
	if c.StepsCompleted, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "missionsim_steps_completed_total",
		Help: "Scenario steps completed across all sessions.",
	})); err != nil {
		return nil, err
	}

	if c.EventsDelivered, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "missionsim_events_delivered_total",
		Help: "Output events handed to the sink, labeled by event type.",
	}, []string{"type"})); err != nil {
		return nil, err
	}
	if c.EventDeliveryFailures, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "missionsim_event_delivery_failures_total",
		Help: "Output events the sink rejected, labeled by event type.",
	}, []string{"type"})); err != nil {
		return nil, err
	}
	if c.EventsDropped, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "missionsim_events_dropped_total",
		Help: "Output events dropped because the dispatch buffer was full.",
	}, []string{"type"})); err != nil {
		return nil, err
	}
	if c.EventDeliveryDegraded, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "missionsim_event_delivery_degraded",
		Help: "1 while event delivery is degraded, 0 otherwise.",
	})); err != nil {
		return nil, err
	}

	if err := c.registerSchedulerMetrics(reg); err != nil {
		return nil, err
	}

	if c.RPCRequests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "missionsim_grpc_requests_total",
		Help: "Handled gRPC requests, labeled by service, method and status code.",
	}, []string{"service", "method", "code"})); err != nil {
		return nil, err
	}
	if c.RPCDurations, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "missionsim_grpc_request_duration_seconds",
		Help:    "gRPC request latency in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"service", "method"})); err != nil {
		return nil, err
	}

	return c, nil
}

// Gatherer returns the gatherer backing Handler.
func (c *EngineCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *EngineCollector) Handler() http.Handler {
	gatherer := c.Gatherer()
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetSessions updates the live session gauge.
func (c *EngineCollector) SetSessions(n int) {
	if c == nil {
		return
	}
	c.SessionsActive.Set(float64(n))
}

// IncCommandTransition counts one command status change. An empty from
// marks the initial PENDING state of a new command.
func (c *EngineCollector) IncCommandTransition(from, to string) {
	if c == nil {
		return
	}
	if from == "" {
		from = "NEW"
	}
	c.CommandTransitions.WithLabelValues(from, to).Inc()
}

// IncStepsCompleted counts one completed scenario step.
func (c *EngineCollector) IncStepsCompleted() {
	if c == nil {
		return
	}
	c.StepsCompleted.Inc()
}

func (c *EngineCollector) IncDelivered(eventType string) {
	if c == nil {
		return
	}
	c.EventsDelivered.WithLabelValues(eventType).Inc()
}

func (c *EngineCollector) IncDeliveryFailure(eventType string) {
	if c == nil {
		return
	}
	c.EventDeliveryFailures.WithLabelValues(eventType).Inc()
}

func (c *EngineCollector) IncDropped(eventType string) {
	if c == nil {
		return
	}
	c.EventsDropped.WithLabelValues(eventType).Inc()
}

func (c *EngineCollector) SetDegraded(degraded bool) {
	if c == nil {
		return
	}
	v := 0.0
	if degraded {
		v = 1
	}
	c.EventDeliveryDegraded.Set(v)
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *EngineCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		c.RPCRequests.WithLabelValues(service, method, status.Code(err).String()).Inc()
		c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		return resp, err
	}
}

// SplitMethod parses "/pkg.Service/Method" into its short service and
// method names, returning "unknown" for parts it cannot find.
func SplitMethod(fullMethod string) (service, method string) {
	service, method = "unknown", "unknown"
	parts := strings.Split(strings.TrimPrefix(fullMethod, "/"), "/")
	if len(parts) < 2 {
		return service, method
	}
	if s := parts[len(parts)-2]; s != "" {
		if dot := strings.LastIndex(s, "."); dot >= 0 && dot+1 < len(s) {
			s = s[dot+1:]
		}
		service = s
	}
	if m := parts[len(parts)-1]; m != "" {
		method = m
	}
	return service, method
}

// register adds col to reg. An identical collector that is already
// registered is returned in its place.
func register[T prometheus.Collector](reg prometheus.Registerer, col T) (T, error) {
	if err := reg.Register(col); err != nil {
		var zero T
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return zero, err
		}
		existing, ok := are.ExistingCollector.(T)
		if !ok {
			return zero, fmt.Errorf("collector already registered with incompatible type %T", are.ExistingCollector)
		}
		return existing, nil
	}
	return col, nil
}
