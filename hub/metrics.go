/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package hub

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the Hub's request-path counters and latency histograms.
// One instance is registered per Hub against its own registry so that
// multiple Hub instances in a test process don't collide on global
// registration, unlike prometheus.DefaultRegisterer.
type metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	writeBytes      prometheus.Counter
	batchLeaves     *prometheus.CounterVec
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	m := &metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hub",
			Name:      "requests_total",
			Help:      "Requests handled, by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hub",
			Name:      "request_duration_seconds",
			Help:      "Request handling latency, by endpoint.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		writeBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hub",
			Name:      "write_bytes_total",
			Help:      "Bytes accepted by the write handler, post-metering.",
		}),
		batchLeaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hub",
			Name:      "perform_files_leaves_total",
			Help:      "perform-files leaves executed, by type and outcome.",
		}, []string{"type", "outcome"}),
	}
	reg.MustRegister(m.requests, m.requestDuration, m.writeBytes, m.batchLeaves)
	return m
}

func (m *metrics) observe(endpoint string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.requests.WithLabelValues(endpoint, outcome).Inc()
	m.requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func (m *metrics) observeLeaf(leafType string, success bool) {
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	m.batchLeaves.WithLabelValues(leafType, outcome).Inc()
}
