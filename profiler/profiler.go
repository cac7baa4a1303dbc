// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

// Package profiler is the continuous GVL-serialized profiler's top-level
// entry point: Start wires the clock, stack dumper, recorder,
// thread-context collector, GC monitor and sampler worker together and
// launches the single sampling goroutine; Stop tears it all down.
package profiler

import (
	"context"
	"sync"
	"time"

	"github.com/DataDog/gvl-profiler-go/internal/log"
	"github.com/DataDog/gvl-profiler-go/profiler/internal/clock"
	"github.com/DataDog/gvl-profiler-go/profiler/internal/heaptrack"
	"github.com/DataDog/gvl-profiler-go/profiler/internal/recorder"
	"github.com/DataDog/gvl-profiler-go/profiler/internal/threadcontext"
	"github.com/DataDog/gvl-profiler-go/profiler/internal/traceident"
	"github.com/DataDog/gvl-profiler-go/profiler/internal/valuetypes"
	"github.com/DataDog/gvl-profiler-go/profiler/internal/worker"
)

// Exporter delivers one serialized profile window somewhere. It is the
// one genuinely external collaborator this package leaves unimplemented:
// only an in-memory test Exporter ships here, never a production HTTP
// client with retry/backoff.
type Exporter interface {
	Export(ctx context.Context, data []byte, start, finish time.Time) error
}

// profiler is one running instance of the continuous profiler: the
// recorder, thread-context collector and worker it wired together at
// Start, plus the pieces needed to serialize and export on a schedule.
type profiler struct {
	cfg      *config
	rec      *recorder.Recorder
	coll     *threadcontext.Collector
	w        *worker.Worker
	exporter Exporter
	metrics  *metricsReporter
	trace    *traceident.Registry
	heap     *heaptrack.Tracker

	uploadStop chan struct{}
	uploadDone chan struct{}
}

var (
	mu             sync.Mutex
	activeProfiler *profiler
)

// Start begins continuous profiling in the current process, applying the
// given Options over the defaults. It returns an error without starting
// anything if a profiler is already running, if the resolved
// configuration is invalid, or if exporter is nil.
func Start(exporter Exporter, opts ...Option) error {
	mu.Lock()
	defer mu.Unlock()

	if activeProfiler != nil {
		return newError(KindInvalidConfig, "a profiler is already running in this process", nil)
	}
	if exporter == nil {
		return newError(KindInvalidConfig, "an Exporter is required", nil)
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	applyEnvOverrides(cfg)
	if err := cfg.validate(); err != nil {
		return err
	}

	p := newProfiler(cfg, exporter)
	activeProfiler = p

	log.Info("Profiler started: runtime-id=%s cpu=%v alloc=%v heap=%v timeline=%v max_frames=%d overhead_target=%.2f%%",
		cfg.runtimeID, cfg.cpuTimeEnabled, cfg.allocSamplesEnabled, cfg.heapSamplesEnabled,
		cfg.timelineEnabled, cfg.maxFrames, cfg.overheadTargetPercentage)

	p.start()
	return nil
}

// Stop halts the running profiler, if any, blocking until its sampling
// goroutine and upload loop have both exited.
func Stop() {
	mu.Lock()
	p := activeProfiler
	activeProfiler = nil
	mu.Unlock()

	if p == nil {
		return
	}
	p.stop()
}

func newProfiler(cfg *config, exporter Exporter) *profiler {
	src := clock.System

	mask := buildMask(cfg)
	table := valuetypes.NewPositionTable(mask)

	// The heap tracker backs both the live-heap snapshot and
	// allocation-event sampling: TrackObject is the only hook either
	// feature has for registering a sampled allocation, so allocation
	// sampling is only wired when heap tracking is (see
	// threadcontext.Config.AllocSamplesEnabled's construction below).
	var heap *heaptrack.Tracker
	if cfg.heapSamplesEnabled {
		heap = heaptrack.New(heaptrack.RuntimeGenerationSource{}, cfg.heapSizeEnabled, nil)
	}

	rec := recorder.New(table, heap, time.Now())

	trace := traceident.NewRegistry()

	tcCfg := threadcontext.Config{
		CPUTimeEnabled:                cfg.cpuTimeEnabled,
		TimelineEnabled:               cfg.timelineEnabled,
		EndpointCollectionEnabled:     cfg.endpointCollectionEnabled,
		TemplateSourceSuffixes:        cfg.templateSourceSuffixes.Slice(),
		MaxFrames:                     cfg.maxFrames,
		AllocSamplesEnabled:           cfg.allocSamplesEnabled && heap != nil,
		AllocOverheadTargetPercentage: cfg.overheadTargetPercentage,
	}
	coll := threadcontext.New(tcCfg, src, rec, trace, heap)

	w := worker.New(coll, cfg.overheadTargetPercentage, 0)

	return &profiler{
		cfg:      cfg,
		rec:      rec,
		coll:     coll,
		w:        w,
		exporter: exporter,
		metrics:  newMetricsReporter(cfg.statsd),
		trace:    trace,
		heap:     heap,

		uploadStop: make(chan struct{}),
		uploadDone: make(chan struct{}),
	}
}

func buildMask(cfg *config) valuetypes.Mask {
	var m valuetypes.Mask
	if cfg.cpuTimeEnabled {
		m = m.With(valuetypes.CPUTimeNS)
	}
	m = m.With(valuetypes.CPUSamples)
	m = m.With(valuetypes.WallTimeNS)
	if cfg.allocSamplesEnabled {
		m = m.With(valuetypes.AllocSamples).With(valuetypes.AllocSamplesUnscaled)
	}
	if cfg.timelineEnabled {
		m = m.With(valuetypes.TimelineWallTimeNS)
	}
	if cfg.heapSamplesEnabled {
		m = m.With(valuetypes.HeapLiveSamples)
		if cfg.heapSizeEnabled {
			m = m.With(valuetypes.HeapLiveSize)
		}
	}
	return m
}

func (p *profiler) start() {
	p.w.Start()
	go p.uploadLoop()
}

func (p *profiler) stop() {
	p.w.Stop()
	close(p.uploadStop)
	<-p.uploadDone
}

// uploadLoop serializes and exports one profile window every upload
// period, matching the teacher's fixed-interval reporting cadence; the
// period is derived from the upload timeout rather than a separate knob,
// since this module ships no production uploader to configure
// independently.
func (p *profiler) uploadLoop() {
	defer close(p.uploadDone)

	period := p.cfg.uploadTimeout
	if period <= 0 {
		period = defaultUploadTimeout
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-p.uploadStop:
			p.exportOnce() // flush the final, partial window
			return
		case <-ticker.C:
			p.exportOnce()
		}
	}
}

func (p *profiler) exportOnce() {
	data, start, finish, err := p.rec.Serialize()
	if err != nil {
		log.Error("failed to serialize profile: %v", err)
		return
	}
	if len(data) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.uploadTimeout)
	defer cancel()
	if err := p.exporter.Export(ctx, data, start, finish); err != nil {
		log.Error("failed to export profile: %v", err)
		return
	}

	p.metrics.reportWindow(p.coll.GCSamples(), p.coll.GCSamplesMissedDueToMissingContext(), p.coll.DroppedAllocationSamples())
}

// TraceRegistry returns the registry tracer instrumentation should call
// RegisterGoroutine/Forget on to correlate samples with traces. It
// returns nil if no profiler is running.
func TraceRegistry() *traceident.Registry {
	mu.Lock()
	defer mu.Unlock()
	if activeProfiler == nil {
		return nil
	}
	return activeProfiler.trace
}
