package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SimCollector bundles Prometheus metrics for a simulation run. It satisfies
// the engine recorder interfaces so patches and orchestrators can drive it
// directly.
type SimCollector struct {
	gatherer prometheus.Gatherer

	PatchTicks     *prometheus.CounterVec
	SyncRounds     *prometheus.CounterVec
	SyncWait       prometheus.Histogram
	HaloPopulation *prometheus.GaugeVec
	NewInfections  prometheus.Counter
	TicksCompleted prometheus.Gauge
	RunDuration    prometheus.Histogram
}

// NewSimCollector registers simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	patchTicks, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_patch_ticks_total",
		Help: "Ticks advanced by each patch worker.",
	}, []string{"patch"}), "sim_patch_ticks_total")
	if err != nil {
		return nil, err
	}

	syncRounds, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_sync_rounds_total",
		Help: "Halo synchronisation rounds completed by each patch.",
	}, []string{"patch"}), "sim_sync_rounds_total")
	if err != nil {
		return nil, err
	}

	syncWait, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_sync_wait_seconds",
		Help:    "Time a patch spends in a synchronisation round, including neighbour rendezvous.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}), "sim_sync_wait_seconds")
	if err != nil {
		return nil, err
	}

	halo, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sim_halo_population",
		Help: "Agents copied into a patch halo at its latest synchronisation round.",
	}, []string{"patch"}), "sim_halo_population")
	if err != nil {
		return nil, err
	}

	infections, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_new_infections_total",
		Help: "Agents newly infected inside patch cores.",
	}), "sim_new_infections_total")
	if err != nil {
		return nil, err
	}

	ticks, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_ticks_completed",
		Help: "Latest tick whose global statistics have been aggregated.",
	}), "sim_ticks_completed")
	if err != nil {
		return nil, err
	}

	runDuration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_run_duration_seconds",
		Help:    "Wall-clock duration of completed simulation runs.",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
	}), "sim_run_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &SimCollector{
		gatherer:       gatherer,
		PatchTicks:     patchTicks,
		SyncRounds:     syncRounds,
		SyncWait:       syncWait,
		HaloPopulation: halo,
		NewInfections:  infections,
		TicksCompleted: ticks,
		RunDuration:    runDuration,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObservePatchTick counts one advanced tick for patchID.
func (c *SimCollector) ObservePatchTick(patchID int) {
	if c == nil || c.PatchTicks == nil {
		return
	}
	c.PatchTicks.WithLabelValues(strconv.Itoa(patchID)).Inc()
}

// ObserveSyncRound records a completed synchronisation round.
func (c *SimCollector) ObserveSyncRound(patchID int, wait time.Duration, halo int) {
	if c == nil {
		return
	}
	label := strconv.Itoa(patchID)
	if c.SyncRounds != nil {
		c.SyncRounds.WithLabelValues(label).Inc()
	}
	if c.SyncWait != nil {
		c.SyncWait.Observe(wait.Seconds())
	}
	if c.HaloPopulation != nil {
		c.HaloPopulation.WithLabelValues(label).Set(float64(halo))
	}
}

// ObserveInfections adds n new infections.
func (c *SimCollector) ObserveInfections(n int) {
	if c == nil || c.NewInfections == nil || n <= 0 {
		return
	}
	c.NewInfections.Add(float64(n))
}

// ObserveTickCompleted sets the aggregated tick gauge.
func (c *SimCollector) ObserveTickCompleted(tick int) {
	if c == nil || c.TicksCompleted == nil {
		return
	}
	c.TicksCompleted.Set(float64(tick))
}

// ObserveRun records the duration of a finished run.
func (c *SimCollector) ObserveRun(d time.Duration) {
	if c == nil || c.RunDuration == nil {
		return
	}
	c.RunDuration.Observe(d.Seconds())
}
