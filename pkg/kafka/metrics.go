package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeOK    = "ok"
	outcomeError = "error"
)

var (
	publishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_producer_publish_total",
		Help: "Kafka publish attempts by topic and outcome.",
	}, []string{"topic", "outcome"})

	publishSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kafka_producer_publish_duration_seconds",
		Help:    "Time spent writing one event to Kafka.",
		Buckets: []float64{.002, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"topic"})
)
