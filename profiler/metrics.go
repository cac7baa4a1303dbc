// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package profiler

import "github.com/DataDog/datadog-go/v5/statsd"

// statsdClient is the narrow subset of *statsd.Client the profiler
// depends on, so tests can substitute a recording stub instead of a real
// UDP socket.
type statsdClient interface {
	Count(name string, value int64, tags []string, rate float64) error
	Gauge(name string, value float64, tags []string, rate float64) error
}

// noopStatsd discards every metric, the default when no statsd client is
// configured.
type noopStatsd struct{}

func (noopStatsd) Count(string, int64, []string, float64) error { return nil }
func (noopStatsd) Gauge(string, float64, []string, float64) error { return nil }

var _ statsdClient = (*statsd.Client)(nil)
var _ statsdClient = noopStatsd{}

// metricsReporter emits the profiler's own non-fatal health counters to
// the configured statsd client once per serialized window.
type metricsReporter struct {
	client statsdClient
}

func newMetricsReporter(client statsdClient) *metricsReporter {
	if client == nil {
		client = noopStatsd{}
	}
	return &metricsReporter{client: client}
}

func (m *metricsReporter) reportWindow(gcSamples, gcMissedNoContext, droppedAllocSamples uint64) {
	_ = m.client.Count("datadog.profiling.go.gc_samples", int64(gcSamples), nil, 1)
	_ = m.client.Count("datadog.profiling.go.gc_samples_missed_due_to_missing_context", int64(gcMissedNoContext), nil, 1)
	_ = m.client.Count("datadog.profiling.go.dropped_allocation_samples", int64(droppedAllocSamples), nil, 1)
}
