package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RepositoryCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repository_calls_total",
			Help: "Total number of repository method calls",
		},
		[]string{"method", "status"},
	)

	RepositoryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repository_duration_seconds",
			Help:    "Duration of repository method calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	SettlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transfer_settlements_total",
			Help: "Transfer settlement outcomes by terminal status",
		},
		[]string{"status"},
	)

	ProviderCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_calls_total",
			Help: "External payment provider calls by operation and status",
		},
		[]string{"operation", "status"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(RepositoryCalls, RepositoryDuration, SettlementsTotal, ProviderCalls)
}
