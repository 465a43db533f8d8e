package metrics

import (
	"log"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Poller metrics
	passesTotal        prometheus.Counter
	passErrorsTotal    prometheus.Counter
	runsProcessedTotal prometheus.Counter
	passDuration       prometheus.Histogram

	// Processor metrics
	runOutcomesTotal  *prometheus.CounterVec
	sendAttemptsTotal *prometheus.CounterVec
	sendDuration      prometheus.Histogram
	runsInFlight      prometheus.Gauge

	// Audience metrics
	profileEntities       prometheus.Gauge
	profilesUpsertedTotal prometheus.Counter
	actionsEmittedTotal   *prometheus.CounterVec

	// Action bus metrics
	busSize         prometheus.Gauge
	busCapacity     prometheus.Gauge
	emitErrorsTotal prometheus.Counter

	// Retention metrics
	eventsPrunedTotal prometheus.Counter

	// Leader election metrics
	leaderStatus        prometheus.Gauge
	leaderAcquiredTotal prometheus.Counter
	leaderLostTotal     *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// Metrics that fail to register are logged and simply not exported.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initPollerMetrics(reg)
	s.initProcessorMetrics(reg)
	s.initAudienceMetrics(reg)
	s.initBusAndHousekeepingMetrics(reg)
	return s
}

func (s *PrometheusSink) initPollerMetrics(reg prometheus.Registerer) {
	s.passesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "outreach_poller_passes_total",
		Help: "Total number of processing passes.",
	})
	s.passErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "outreach_poller_pass_errors_total",
		Help: "Total number of processing pass errors.",
	})
	s.runsProcessedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "outreach_poller_runs_processed_total",
		Help: "Total number of due runs processed across passes.",
	})
	s.passDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "outreach_poller_pass_duration_seconds",
		Help:    "Duration of each processing pass in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})

	s.register(reg, s.passesTotal, "outreach_poller_passes_total")
	s.register(reg, s.passErrorsTotal, "outreach_poller_pass_errors_total")
	s.register(reg, s.runsProcessedTotal, "outreach_poller_runs_processed_total")
	s.register(reg, s.passDuration, "outreach_poller_pass_duration_seconds")
}

func (s *PrometheusSink) initProcessorMetrics(reg prometheus.Registerer) {
	s.runOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_sender_run_outcomes_total",
		Help: "Total number of per-run processing outcomes.",
	}, []string{"outcome"})
	s.sendAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_sender_send_attempts_total",
		Help: "Total number of channel gateway send attempts.",
	}, []string{"channel", "ok"})
	s.sendDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "outreach_sender_send_duration_seconds",
		Help:    "Gateway send latency in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
	s.runsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "outreach_sender_runs_in_flight",
		Help: "Number of runs currently being processed.",
	})

	s.register(reg, s.runOutcomesTotal, "outreach_sender_run_outcomes_total")
	s.register(reg, s.sendAttemptsTotal, "outreach_sender_send_attempts_total")
	s.register(reg, s.sendDuration, "outreach_sender_send_duration_seconds")
	s.register(reg, s.runsInFlight, "outreach_sender_runs_in_flight")
}

func (s *PrometheusSink) initAudienceMetrics(reg prometheus.Registerer) {
	s.profileEntities = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "outreach_audience_entities",
		Help: "Number of actors seen in the last aggregation pass.",
	})
	s.profilesUpsertedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "outreach_audience_profiles_upserted_total",
		Help: "Total number of audience profiles upserted.",
	})
	s.actionsEmittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_audience_actions_emitted_total",
		Help: "Total number of audience actions emitted to the bus.",
	}, []string{"type"})

	s.register(reg, s.profileEntities, "outreach_audience_entities")
	s.register(reg, s.profilesUpsertedTotal, "outreach_audience_profiles_upserted_total")
	s.register(reg, s.actionsEmittedTotal, "outreach_audience_actions_emitted_total")
}

func (s *PrometheusSink) initBusAndHousekeepingMetrics(reg prometheus.Registerer) {
	s.busSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "outreach_action_bus_size",
		Help: "Number of actions buffered on the bus.",
	})
	s.busCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "outreach_action_bus_capacity",
		Help: "Capacity of the action bus buffer.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "outreach_action_bus_emit_errors_total",
		Help: "Total number of failed bus emissions.",
	})
	s.eventsPrunedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "outreach_retention_events_pruned_total",
		Help: "Total number of records pruned by the retention sweeper.",
	})
	s.leaderStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "outreach_leader_status",
		Help: "1 when this instance holds the poller leader lock.",
	})
	s.leaderAcquiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "outreach_leader_acquired_total",
		Help: "Total number of times leadership was acquired.",
	})
	s.leaderLostTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_leader_lost_total",
		Help: "Total number of times leadership was lost.",
	}, []string{"reason"})

	s.register(reg, s.busSize, "outreach_action_bus_size")
	s.register(reg, s.busCapacity, "outreach_action_bus_capacity")
	s.register(reg, s.emitErrorsTotal, "outreach_action_bus_emit_errors_total")
	s.register(reg, s.eventsPrunedTotal, "outreach_retention_events_pruned_total")
	s.register(reg, s.leaderStatus, "outreach_leader_status")
	s.register(reg, s.leaderAcquiredTotal, "outreach_leader_acquired_total")
	s.register(reg, s.leaderLostTotal, "outreach_leader_lost_total")
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

func (s *PrometheusSink) PassStarted() {
	s.passesTotal.Inc()
}

func (s *PrometheusSink) PassCompleted(duration time.Duration, runsProcessed int, err error) {
	s.passDuration.Observe(duration.Seconds())
	s.runsProcessedTotal.Add(float64(runsProcessed))
	if err != nil {
		s.passErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) RunOutcome(outcome string) {
	s.runOutcomesTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) SendAttempt(channel string, ok bool, duration time.Duration) {
	s.sendAttemptsTotal.WithLabelValues(channel, strconv.FormatBool(ok)).Inc()
	s.sendDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) RunsInFlightIncr() { s.runsInFlight.Inc() }
func (s *PrometheusSink) RunsInFlightDecr() { s.runsInFlight.Dec() }

func (s *PrometheusSink) ProfilesRebuilt(entities, upserted int) {
	s.profileEntities.Set(float64(entities))
	s.profilesUpsertedTotal.Add(float64(upserted))
}

func (s *PrometheusSink) ActionEmitted(actionType string) {
	s.actionsEmittedTotal.WithLabelValues(actionType).Inc()
}

func (s *PrometheusSink) BusSizeUpdate(size int)      { s.busSize.Set(float64(size)) }
func (s *PrometheusSink) BusCapacitySet(capacity int) { s.busCapacity.Set(float64(capacity)) }
func (s *PrometheusSink) EmitError()                  { s.emitErrorsTotal.Inc() }
func (s *PrometheusSink) EventsPruned(count int64)    { s.eventsPrunedTotal.Add(float64(count)) }

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.leaderStatus.Set(1)
	} else {
		s.leaderStatus.Set(0)
	}
}

func (s *PrometheusSink) LeaderAcquired() { s.leaderAcquiredTotal.Inc() }

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLostTotal.WithLabelValues(reason).Inc()
}
