// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package threadcontext

import (
	"github.com/DataDog/gvl-profiler-go/profiler/internal/clock"
	"github.com/DataDog/gvl-profiler-go/profiler/internal/stackcollect"
	"github.com/DataDog/gvl-profiler-go/profiler/internal/stackdump"
	"github.com/DataDog/gvl-profiler-go/profiler/internal/stackparse"
	"github.com/DataDog/gvl-profiler-go/profiler/internal/valuetypes"
)

// mainGoroutineID is the id runtime.Stack always assigns the goroutine
// that runs main.main, used by threadName's fallback chain.
const mainGoroutineID = 1

// Tick runs one full sampling pass: for every live goroutine in snap, it
// updates that goroutine's cpu/wall deltas, composes the sample's values
// and labels, and delegates the frame walk to the stack collector. It
// then sweeps dead contexts every sweepInterval ticks, and finishes with
// the profiler-overhead double-sample borrowing the frames of
// overheadGoroutineID, a dedicated idle goroutine present in the same
// snap.
//
// callerGoroutineID identifies the goroutine running the tick itself, so
// its own cpu time (read once, up front) is charged consistently to
// whichever of its two samples needs it, exactly as the native collector
// reads cpu_now_for_caller_thread on entry so profiler overhead is
// charged to the caller's own attribution stack.
func (c *Collector) Tick(nowWallNS int64, snap *stackdump.Snapshot, callerGoroutineID int64, overheadGoroutineID int64) error {
	c.mu.Lock()
	cpuNowForCaller := c.cpuNow(callerGoroutineID)
	c.mu.Unlock()

	for _, uid := range snap.IDs() {
		g, ok := snap.ByID(uid)
		if !ok {
			continue
		}
		id := int64(uid)

		c.mu.Lock()
		ctx := c.contextFor(id)

		var cpuNowT int64
		if id == callerGoroutineID {
			cpuNowT = cpuNowForCaller
		} else {
			cpuNowT = c.cpuNow(id)
		}

		cpuDelta := UpdateDelta(&ctx.cpuAtPrev, cpuNowT, ctx.gcStartCPU, false)
		wallDelta := UpdateDelta(&ctx.wallAtPrev, nowWallNS, clock.InvalidTime, true)
		c.mu.Unlock()

		var values valuetypes.ValueSet
		if c.cfg.CPUTimeEnabled {
			values.Set(valuetypes.CPUTimeNS, cpuDelta)
		}
		values.Set(valuetypes.CPUSamples, 1)
		values.Set(valuetypes.WallTimeNS, wallDelta)

		labels := c.baseLabels(id, g)

		if c.cfg.TimelineEnabled && wallDelta > 0 {
			end := c.m2r.ToRealtime(nowWallNS)
			labels = append(labels, valuetypes.Label{Key: "end_timestamp_ns", Num: end})
		}

		if err := stackcollect.SampleThread(g, c.buf, c.rec, values, labels, c.cfg.TemplateSourceSuffixes); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.tickNum++
	due := c.tickNum%sweepInterval == 0
	c.mu.Unlock()
	if due {
		c.sweepDeadContexts(snap)
	}

	return c.sampleCallerOverhead(nowWallNS, callerGoroutineID, snap, overheadGoroutineID)
}

// sampleCallerOverhead re-samples the caller's own context a second
// time, but borrows the frame walk of overheadGoroutineID — a dedicated
// idle goroutine the worker keeps parked for exactly this purpose,
// captured in the same snap as every other goroutine this tick — so the
// overhead of taking this extra sample is visible without perturbing the
// caller's own frame cache.
func (c *Collector) sampleCallerOverhead(nowWallNS int64, callerGoroutineID int64, snap *stackdump.Snapshot, overheadGoroutineID int64) error {
	g, ok := snap.ByID(uint64(overheadGoroutineID))
	if !ok {
		return nil
	}

	var values valuetypes.ValueSet
	values.Set(valuetypes.CPUSamples, 1)

	labels := append(c.baseLabels(callerGoroutineID, g), valuetypes.Label{Key: "profiler overhead", Num: 1})
	return stackcollect.SampleThread(g, c.buf, c.rec, values, labels, c.cfg.TemplateSourceSuffixes)
}

func (c *Collector) baseLabels(goroutineID int64, g *stackparse.Goroutine) []valuetypes.Label {
	labels := []valuetypes.Label{
		{Key: "thread id", Num: goroutineID},
		{Key: "thread name", Str: c.threadName(goroutineID, g)},
		{Key: valuetypes.StateLabel, Str: "unknown"},
	}
	if c.cfg.EndpointCollectionEnabled && c.trace != nil {
		if ids, ok := c.trace.Lookup(goroutineID); ok {
			labels = append(labels,
				valuetypes.Label{Key: "local root span id", Num: int64(ids.LocalRootSpanID)},
				valuetypes.Label{Key: "span id", Num: int64(ids.SpanID)},
			)
			if ids.HasEndpoint {
				_ = c.rec.RecordEndpoint(ids.LocalRootSpanID, ids.Endpoint)
			}
		}
	}
	return labels
}

// threadName composes the thread-name label: the main goroutine is
// named "main", every other goroutine falls back to its invoke location
// (the function that spawned it, captured by stackparse from the dump's
// "created by" line), and a goroutine with no recorded invoke location
// (only possible for a dump entry with no parseable creator, e.g. one
// parked in native/cgo code at process start) falls back to a fixed
// native-code placeholder name.
func (c *Collector) threadName(goroutineID int64, g *stackparse.Goroutine) string {
	if goroutineID == mainGoroutineID {
		return "main"
	}
	if g != nil && g.CreatedBy != nil && g.CreatedBy.Func != "" {
		return g.CreatedBy.Func
	}
	return "(Unnamed thread from native code)"
}

// cpuNow reads the per-goroutine cpu clock if the runtime exposes one;
// Go does not, so this always returns 0 and callers degrade cpu-time
// accounting to zero for that sample, per the clock API's documented
// contract for systems without per-thread cpu clocks.
func (c *Collector) cpuNow(goroutineID int64) int64 {
	if id, ok := c.clockSrc.CPUClockIDFor(goroutineID); ok {
		if ns, ok := c.clockSrc.CPUNowNS(id); ok {
			return ns
		}
	}
	return 0
}

// sweepDeadContexts drops per-goroutine contexts for goroutines no
// longer present in the latest snapshot.
func (c *Collector) sweepDeadContexts(snap *stackdump.Snapshot) {
	live := make(map[int64]struct{}, len(snap.IDs()))
	for _, id := range snap.IDs() {
		live[int64(id)] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.contexts {
		if _, ok := live[id]; !ok {
			delete(c.contexts, id)
		}
	}
}
