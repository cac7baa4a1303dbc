// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package threadcontext

import (
	"github.com/DataDog/gvl-profiler-go/profiler/internal/clock"
	"github.com/DataDog/gvl-profiler-go/profiler/internal/stackcollect"
	"github.com/DataDog/gvl-profiler-go/profiler/internal/valuetypes"
)

// OnGCStart records that goroutineID has entered a GC step. If the
// goroutine has no context yet, the event is dropped and counted: this
// must never allocate or block, matching the native collector's
// signal-path constraints even though Go gives us no signal-handler
// context here to enforce it structurally.
func (c *Collector) OnGCStart(goroutineID int64, cpuNow, wallNow int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.contexts[goroutineID]
	if !ok {
		c.gcSamplesMissedNoContext++
		return
	}
	// wall timestamp recorded first so a GC window is never observed
	// with wall < cpu.
	t.gcStartWall = wallNow
	t.gcStartCPU = cpuNow
	t.inGC = true
}

// OnGCFinish closes out goroutineID's GC window, folding its elapsed
// cpu/wall time into the global accumulators and advancing the
// goroutine's cpu_at_prev so the next regular sample does not re-charge
// the GC interval. It reports whether a sample_after_gc flush is now
// due (10ms of unflushed accumulated wall time).
func (c *Collector) OnGCFinish(goroutineID int64, cpuNow, wallNow int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.contexts[goroutineID]
	if !ok || !t.inGC || t.gcStartWall == clock.InvalidTime || t.gcStartCPU == clock.InvalidTime {
		return false
	}

	cpuElapsed := cpuNow - t.gcStartCPU
	if cpuElapsed < 0 {
		cpuElapsed = 0
	}
	wallElapsed := wallNow - t.gcStartWall
	if wallElapsed < 0 {
		wallElapsed = 0
	}

	t.gcStartWall = clock.InvalidTime
	t.gcStartCPU = clock.InvalidTime
	t.inGC = false

	if c.wallAtPrevGC == clock.InvalidTime {
		c.accumCPU = 0
		c.accumWall = 0
	}
	c.accumCPU += cpuElapsed
	c.accumWall += wallElapsed
	c.wallAtPrevGC = wallNow

	// the next regular sample should not re-charge [gc_start, gc_end].
	t.cpuAtPrev += cpuElapsed

	if c.wallAtLastFlushedGCEvent == clock.InvalidTime {
		return true
	}
	return wallNow-c.wallAtLastFlushedGCEvent >= int64(gcEventFlushInterval)
}

// SampleAfterGC emits the accumulated GC time as a single placeholder
// sample. It must only be called after OnGCFinish reported a flush is
// due, and may allocate (unlike OnGCStart/OnGCFinish).
func (c *Collector) SampleAfterGC() error {
	c.mu.Lock()
	accumCPU := c.accumCPU
	accumWall := c.accumWall
	wallAtPrevGC := c.wallAtPrevGC
	c.wallAtLastFlushedGCEvent = wallAtPrevGC
	c.wallAtPrevGC = clock.InvalidTime
	c.gcSamples++
	c.mu.Unlock()

	var values valuetypes.ValueSet
	values.Set(valuetypes.CPUTimeNS, accumCPU)
	values.Set(valuetypes.CPUSamples, 1)
	values.Set(valuetypes.WallTimeNS, accumWall)
	values.Set(valuetypes.TimelineWallTimeNS, accumWall)

	locs := []stackcollect.Location{{Function: "", File: "Garbage Collection"}}
	return c.rec.RecordSample(locs, values, nil)
}

// GCSamplesMissedDueToMissingContext reports the non-fatal counter for
// OnGCStart calls on a goroutine with no tracked context.
func (c *Collector) GCSamplesMissedDueToMissingContext() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gcSamplesMissedNoContext
}

// GCSamples reports how many sample_after_gc placeholders have been
// emitted.
func (c *Collector) GCSamples() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gcSamples
}
