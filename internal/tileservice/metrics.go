package tileservice

import "github.com/prometheus/client_golang/prometheus"

var (
	tilesServedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tilestream",
			Subsystem: "tiles",
			Name:      "served_total",
			Help:      "Tiles served, by origin (hot cache or store)",
		},
		[]string{"origin"},
	)

	ingestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tilestream",
			Subsystem: "ingest",
			Name:      "total",
			Help:      "Completed ingestions by result",
		},
		[]string{"result"},
	)

	ingestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tilestream",
			Subsystem: "ingest",
			Name:      "duration_seconds",
			Help:      "Time to decode, build and commit one pyramid",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)
)

func init() {
	prometheus.MustRegister(tilesServedTotal, ingestsTotal, ingestDuration)
}
