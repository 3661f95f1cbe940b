package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func (c *EngineCollector) registerSchedulerMetrics(reg prometheus.Registerer) error {
	var err error
	if c.ScheduledTimers, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "missionsim_scheduler_pending_timers",
		Help: "Command deadlines currently waiting in the scheduler.",
	})); err != nil {
		return err
	}
	if c.TimersFired, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "missionsim_scheduler_fired_total",
		Help: "Scheduler callbacks run.",
	})); err != nil {
		return err
	}
	if c.VisibilityDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "missionsim_visibility_computation_seconds",
		Help:    "Time spent recomputing station visibility for one session.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	})); err != nil {
		return err
	}
	if c.PassCacheHitRatio, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "missionsim_pass_cache_hit_ratio",
		Help: "Hit ratio of the next-pass prediction cache.",
	})); err != nil {
		return err
	}
	return nil
}

// SetScheduled updates the pending timer gauge.
func (c *EngineCollector) SetScheduled(count int) {
	if c == nil {
		return
	}
	c.ScheduledTimers.Set(float64(count))
}

// IncFired counts one scheduler callback.
func (c *EngineCollector) IncFired() {
	if c == nil {
		return
	}
	c.TimersFired.Inc()
}

// ObserveVisibility records one visibility recomputation.
func (c *EngineCollector) ObserveVisibility(d time.Duration) {
	if c == nil {
		return
	}
	c.VisibilityDuration.Observe(d.Seconds())
}

// SetPassCacheHitRatio clamps ratio to [0, 1].
func (c *EngineCollector) SetPassCacheHitRatio(ratio float64) {
	if c == nil {
		return
	}
	c.PassCacheHitRatio.Set(min(max(ratio, 0), 1))
}
