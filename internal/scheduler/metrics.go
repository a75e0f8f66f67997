package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	runs     *prometheus.CounterVec
	failures *prometheus.GaugeVec
	tripped  *prometheus.GaugeVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bwusage",
			Name:      "job_runs_total",
			Help:      "Job invocations by outcome (success, failure, skipped).",
		}, []string{"job", "outcome"}),
		failures: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bwusage",
			Name:      "job_consecutive_failures",
			Help:      "Consecutive failures recorded by the job's circuit breaker.",
		}, []string{"job"}),
		tripped: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bwusage",
			Name:      "job_tripped",
			Help:      "1 once the job's circuit breaker has tripped.",
		}, []string{"job"}),
	}
	if reg != nil {
		reg.MustRegister(m.runs, m.failures, m.tripped)
	}
	return m
}
