// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

// Package threadcontext is the sampling routine the worker drives once
// per tick: it owns the per-goroutine context map, computes cpu/wall
// deltas since each goroutine's previous sample, attributes GC time
// separately from regular samples, attaches trace-correlation labels,
// and hands each resulting sample to the stack collector.
package threadcontext

import (
	"fmt"
	"sync"
	"time"

	"github.com/DataDog/gvl-profiler-go/profiler/internal/clock"
	"github.com/DataDog/gvl-profiler-go/profiler/internal/heaptrack"
	"github.com/DataDog/gvl-profiler-go/profiler/internal/recorder"
	"github.com/DataDog/gvl-profiler-go/profiler/internal/stackcollect"
	"github.com/DataDog/gvl-profiler-go/profiler/internal/traceident"
)

// sweepInterval is how many ticks elapse between dead-goroutine-context
// sweeps.
const sweepInterval = 100

// gcEventFlushInterval bounds how long accumulated GC time can go
// unflushed before sample_after_gc is forced regardless of whether a
// major GC has been observed to complete.
const gcEventFlushInterval = 10 * time.Millisecond

// Config gates which parts of a tick's work are performed.
type Config struct {
	CPUTimeEnabled            bool
	TimelineEnabled           bool
	EndpointCollectionEnabled bool
	TemplateSourceSuffixes    []string
	MaxFrames                 int

	// AllocSamplesEnabled turns on the allocation sampler's periodic
	// runtime.MemProfile polling. AllocOverheadTargetPercentage paces
	// how large a fraction of observed allocation events is actually
	// sampled; 0 lets the sampler default to sampling every event.
	AllocSamplesEnabled           bool
	AllocOverheadTargetPercentage float64
}

// threadState is the per-goroutine bookkeeping the collector updates on
// every tick.
type threadState struct {
	cpuAtPrev   int64
	wallAtPrev  int64
	gcStartCPU  int64
	gcStartWall int64
	inGC        bool
}

func newThreadState() *threadState {
	return &threadState{cpuAtPrev: clock.InvalidTime, wallAtPrev: clock.InvalidTime, gcStartCPU: clock.InvalidTime, gcStartWall: clock.InvalidTime}
}

// Collector owns the per-thread context map and the GC accounting state
// machine, and drives one sampling pass per worker tick.
type Collector struct {
	mu sync.Mutex

	cfg Config

	clockSrc clock.Source
	m2r      *clock.MonotonicToRealtime

	contexts map[int64]*threadState
	tickNum  uint64

	rec   *recorder.Recorder
	buf   *stackcollect.FrameBuffer
	trace traceident.Source
	heap  *heaptrack.Tracker

	allocSampler *AllocationSampler

	// GC global accumulators, reset whenever a sample_after_gc flush
	// happens.
	accumCPU                 int64
	accumWall                int64
	wallAtPrevGC             int64
	wallAtLastFlushedGCEvent int64

	gcSamplesMissedNoContext uint64
	gcSamples                uint64
	droppedAllocationSamples uint64
}

// New returns a Collector ready to tick.
func New(cfg Config, clockSrc clock.Source, rec *recorder.Recorder, trace traceident.Source, heap *heaptrack.Tracker) *Collector {
	c := &Collector{
		cfg:              cfg,
		clockSrc:         clockSrc,
		m2r:              clock.NewMonotonicToRealtime(clockSrc),
		contexts:         make(map[int64]*threadState),
		rec:              rec,
		buf:              stackcollect.NewFrameBuffer(cfg.MaxFrames),
		trace:            trace,
		heap:             heap,
		wallAtPrevGC:     clock.InvalidTime,
		wallAtLastFlushedGCEvent: clock.InvalidTime,
	}
	if cfg.AllocSamplesEnabled && heap != nil {
		c.allocSampler = NewAllocationSampler(c, heap, cfg.AllocOverheadTargetPercentage)
	}
	return c
}

// PollAllocations drives one allocation-sampling pass; it is a no-op if
// allocation sampling was not enabled in Config or no heap tracker was
// supplied to New.
func (c *Collector) PollAllocations(now time.Time) error {
	if c.allocSampler == nil {
		return nil
	}
	return c.allocSampler.Poll(now)
}

func (c *Collector) contextFor(goroutineID int64) *threadState {
	t, ok := c.contexts[goroutineID]
	if !ok {
		t = newThreadState()
		c.contexts[goroutineID] = t
	}
	return t
}

// UpdateDelta advances *timeAtPrev to now (or to gcStart, if the thread
// is presently inside a GC step) and returns the elapsed ns to charge to
// this sample. It matches the native collector's update_delta exactly,
// including the GC-interval non-double-charge rule: once a GC step
// claims [gc_start, *timeAtPrev], a subsequent regular sample never also
// bills that span.
func UpdateDelta(timeAtPrev *int64, now, gcStart int64, isWall bool) int64 {
	if *timeAtPrev == clock.InvalidTime {
		*timeAtPrev = now
		return 0
	}

	var elapsed int64
	if gcStart != clock.InvalidTime {
		if gcStart <= *timeAtPrev {
			elapsed = 0
		} else {
			elapsed = gcStart - *timeAtPrev
		}
		*timeAtPrev = gcStart
	} else {
		elapsed = now - *timeAtPrev
		*timeAtPrev = now
	}

	if elapsed < 0 {
		if isWall {
			return 0
		}
		panic(fmt.Sprintf("threadcontext: invariant violated: negative non-wall elapsed time %d", elapsed))
	}
	return elapsed
}
