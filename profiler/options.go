// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package profiler

import (
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/DataDog/gvl-profiler-go/profiler/internal/dynsample"
	"github.com/DataDog/gvl-profiler-go/profiler/internal/immutable"
)

// minMaxFrames and maxMaxFrames bound the configurable per-sample frame
// cap.
const (
	minMaxFrames = 5
	maxMaxFrames = 10000

	defaultMaxFrames             = 512
	defaultHeapSampleEvery       = 512 * 1024
	defaultUploadTimeout         = 10 * time.Second
	defaultOverheadTargetPercent = dynsample.DefaultOverheadTargetPercentage
)

// config is the profiler's resolved configuration, built by applying a
// sequence of Options over a set of defaults.
type config struct {
	cpuTimeEnabled            bool
	allocSamplesEnabled       bool
	heapSamplesEnabled        bool
	heapSizeEnabled           bool
	heapSampleEvery           int64
	timelineEnabled           bool
	endpointCollectionEnabled bool
	allocationTypeEnabled     bool

	maxFrames int

	tracerContextKey string

	overheadTargetPercentage float64
	uploadTimeout            time.Duration

	templateSourceSuffixes immutable.StringSlice

	runtimeID string

	statsd statsdClient
}

// Option configures the profiler. Options are applied in order, so a
// later option overrides an earlier one targeting the same field.
type Option func(*config)

func defaultConfig() *config {
	id, err := uuid.NewRandom()
	runtimeID := ""
	if err == nil {
		runtimeID = id.String()
	}
	return &config{
		cpuTimeEnabled:           true,
		allocSamplesEnabled:      true,
		heapSamplesEnabled:       true,
		heapSampleEvery:          defaultHeapSampleEvery,
		timelineEnabled:          true,
		maxFrames:                defaultMaxFrames,
		tracerContextKey:         "dd-trace-go.profiler.span",
		overheadTargetPercentage: defaultOverheadTargetPercent,
		uploadTimeout:            defaultUploadTimeout,
		runtimeID:                runtimeID,
		statsd:                   noopStatsd{},
	}
}

// WithCPUTimeEnabled toggles cpu-time sample collection.
func WithCPUTimeEnabled(enabled bool) Option {
	return func(c *config) { c.cpuTimeEnabled = enabled }
}

// WithAllocSamplesEnabled toggles allocation sampling.
func WithAllocSamplesEnabled(enabled bool) Option {
	return func(c *config) { c.allocSamplesEnabled = enabled }
}

// WithHeapSamplesEnabled toggles live-heap profiling.
func WithHeapSamplesEnabled(enabled bool) Option {
	return func(c *config) { c.heapSamplesEnabled = enabled }
}

// WithHeapSizeEnabled toggles whether live-heap samples carry a
// best-effort byte size.
func WithHeapSizeEnabled(enabled bool) Option {
	return func(c *config) { c.heapSizeEnabled = enabled }
}

// WithHeapSampleEvery sets the heap_sample_every value. Start rejects a
// value that is not positive; the value is not otherwise read, and
// allocation pacing comes from the overhead target instead.
func WithHeapSampleEvery(n int64) Option {
	return func(c *config) { c.heapSampleEvery = n }
}

// WithTimelineEnabled toggles timeline (end_timestamp_ns-labeled) samples.
func WithTimelineEnabled(enabled bool) Option {
	return func(c *config) { c.timelineEnabled = enabled }
}

// WithEndpointCollectionEnabled toggles attaching the active trace's
// endpoint name to samples.
func WithEndpointCollectionEnabled(enabled bool) Option {
	return func(c *config) { c.endpointCollectionEnabled = enabled }
}

// WithAllocationTypeEnabled records the allocation_type_enabled setting.
// The setting is not read: allocation samples always carry an
// "allocation class" label.
func WithAllocationTypeEnabled(enabled bool) Option {
	return func(c *config) { c.allocationTypeEnabled = enabled }
}

// WithMaxFrames sets the per-sample frame cap. Values outside
// [5, 10000] are rejected at Start with an InvalidConfig error.
func WithMaxFrames(n int) Option {
	return func(c *config) { c.maxFrames = n }
}

// WithTracerContextKey records the tracer_context_key setting. The key is
// not read: goroutine registration looks spans up through
// traceident.WithSpan's own context key.
func WithTracerContextKey(key string) Option {
	return func(c *config) { c.tracerContextKey = key }
}

// WithOverheadTarget sets the target steady-state overhead percentage
// for the continuous sampling rate controller.
func WithOverheadTarget(pct float64) Option {
	return func(c *config) { c.overheadTargetPercentage = pct }
}

// WithUploadTimeout sets the timeout applied to each call to the
// configured Exporter.
func WithUploadTimeout(d time.Duration) Option {
	return func(c *config) { c.uploadTimeout = d }
}

// WithTemplateSourceSuffixes sets the file-suffix exemption list: function
// names from files ending in one of these suffixes are left untouched by
// template-id trimming, and every other name is trimmed.
func WithTemplateSourceSuffixes(suffixes ...string) Option {
	return func(c *config) { c.templateSourceSuffixes = immutable.NewStringSlice(suffixes) }
}

// WithRuntimeID overrides the generated runtime-id profile label,
// primarily for deterministic tests.
func WithRuntimeID(id string) Option {
	return func(c *config) { c.runtimeID = id }
}

// WithStatsd configures the statsd client counters and gauges are
// emitted to. Passing nil disables metrics emission.
func WithStatsd(client statsdClient) Option {
	return func(c *config) {
		if client == nil {
			client = noopStatsd{}
		}
		c.statsd = client
	}
}

func (c *config) validate() error {
	if c.maxFrames < minMaxFrames || c.maxFrames > maxMaxFrames {
		return newError(KindInvalidConfig, "max_frames must be between 5 and 10000", nil)
	}
	if c.heapSampleEvery <= 0 {
		return newError(KindInvalidConfig, "heap_sample_every must be positive", nil)
	}
	return nil
}

// envOverrideBool applies a DD_PROFILING_*-style boolean environment
// override to dst if the variable is set and parses cleanly, matching
// the teacher's convention of environment variables taking precedence
// over explicitly passed options only when present and valid.
func envOverrideBool(key string, dst *bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return
	}
	*dst = b
}

func envOverrideInt(key string, dst *int) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return
	}
	*dst = n
}

// applyEnvOverrides lets a small set of environment variables override
// whatever Options set, mirroring the teacher's DD_PROFILING_* family
// without reimplementing its entire surface.
func applyEnvOverrides(c *config) {
	envOverrideBool("DD_PROFILING_CPU_ENABLED", &c.cpuTimeEnabled)
	envOverrideBool("DD_PROFILING_ALLOCATION_ENABLED", &c.allocSamplesEnabled)
	envOverrideBool("DD_PROFILING_HEAP_ENABLED", &c.heapSamplesEnabled)
	envOverrideBool("DD_PROFILING_TIMELINE_ENABLED", &c.timelineEnabled)
	envOverrideBool("DD_PROFILING_ENDPOINT_COLLECTION_ENABLED", &c.endpointCollectionEnabled)
	envOverrideInt("DD_PROFILING_MAX_FRAMES", &c.maxFrames)
}
