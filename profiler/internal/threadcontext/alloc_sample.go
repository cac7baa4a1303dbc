// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package threadcontext

import (
	"runtime"
	"sync"
	"time"

	"github.com/DataDog/gvl-profiler-go/profiler/internal/dynsample"
	"github.com/DataDog/gvl-profiler-go/profiler/internal/heaptrack"
	"github.com/DataDog/gvl-profiler-go/profiler/internal/stackcollect"
)

// Allocator is the synchronous, per-allocation collaborator the
// thread-context collector drives: TrackObject registers an in-flight
// allocation once it has been selected for sampling,
// EndHeapAllocationRecording commits it once its allocation-site stack
// is resolved, and RecordHeapFree reports that a previously tracked
// object has died. *heaptrack.Tracker is the only implementation; tests
// substitute a narrower stub.
type Allocator interface {
	TrackObject(obj heaptrack.ObjectID, weight int64, class string)
	EndHeapAllocationRecording(obj heaptrack.ObjectID, locations []stackcollect.Location)
	RecordHeapFree(obj heaptrack.ObjectID)
}

var _ Allocator = (*heaptrack.Tracker)(nil)

// retainedObject is the placeholder AllocationSampler attaches a
// runtime.SetFinalizer to. It carries no state of its own: dropping the
// last reference to one is how the sampler tells the garbage collector
// "consider this sampled allocation's site dead", since Go gives no way
// to attach a finalizer to the real allocated object without having
// observed its address directly.
type retainedObject struct{ _ byte }

// siteCounts is the previous MemProfile snapshot's alloc/free counts for
// one allocation-site stack, used to diff against the current snapshot.
type siteCounts struct {
	allocObjects int64
	freeObjects  int64
	locations    []stackcollect.Location
}

// AllocationSampler polls runtime.MemProfile on every tick, diffs it
// against the previous poll per allocation-site stack, and feeds newly
// observed allocation events through a discrete dynamic sampler so only
// a bounded fraction of them are charged a full TrackObject/SampleAllocation
// pair. Go exposes no per-allocation callback (no malloc hook), so
// MemProfile's periodic, statistically-sampled call-site counters stand
// in for one, the same way runtime.SetFinalizer stands in for an
// object-death callback.
type AllocationSampler struct {
	mu sync.Mutex

	coll    *Collector
	heap    Allocator
	sampler *dynsample.DiscreteDynamicSampler

	prev map[string]siteCounts
	live map[string][]*retainedObject
}

// NewAllocationSampler returns a sampler that charges heap to the given
// Allocator and drives coll's SampleAllocation/SampleSkippedAllocationSamples
// calls, pacing itself to targetOverheadPercentage via a discrete dynamic
// sampler.
func NewAllocationSampler(coll *Collector, heap Allocator, targetOverheadPercentage float64) *AllocationSampler {
	return &AllocationSampler{
		coll:    coll,
		heap:    heap,
		sampler: dynsample.NewDiscreteDynamicSampler(targetOverheadPercentage),
		prev:    make(map[string]siteCounts),
		live:    make(map[string][]*retainedObject),
	}
}

// Poll reads the current MemProfile snapshot, diffs it against the
// previous poll, and for every newly observed allocation event offers it
// to the discrete sampler; a sampled hit is tracked through heap and
// charged a SampleAllocation sample, while newly observed frees release
// enough previously-tracked placeholders to let their finalizers catch
// up with the real free rate at this call site.
func (a *AllocationSampler) Poll(now time.Time) error {
	start := now
	records, err := readMemProfile()
	if err != nil {
		return err
	}

	var skipped int64
	for _, rec := range records {
		key := stackKey(rec.Stack())

		prev := a.prev[key]
		newAllocs := rec.AllocObjects - prev.allocObjects
		newFrees := rec.FreeObjects - prev.freeObjects

		locs := prev.locations
		if locs == nil {
			locs = resolveStack(rec.Stack())
		}
		a.prev[key] = siteCounts{allocObjects: rec.AllocObjects, freeObjects: rec.FreeObjects, locations: locs}

		if newFrees > 0 {
			a.releaseLive(key, newFrees)
		}

		for i := int64(0); i < newAllocs; i++ {
			if !a.sampler.ShouldSample(now) {
				skipped++
				continue
			}
			a.track(key, locs)
		}
	}

	a.sampler.RecordSampleCost(time.Now(), time.Since(start))

	if skipped > 0 {
		return a.coll.SampleSkippedAllocationSamples(skipped)
	}
	return nil
}

// track commits a single sampled allocation event: it registers the
// in-flight record with heap, immediately resolves it (the call-site
// stack is already known from MemProfile, unlike a synchronous
// allocation hook that would resolve it at allocation time), charges the
// sample to coll, and arms a finalizer-backed placeholder that will
// report the eventual free back to heap.
func (a *AllocationSampler) track(key string, locs []stackcollect.Location) {
	obj := NextObjectID()
	weight := a.sampler.K()
	class := allocationClass(locs)

	a.heap.TrackObject(obj, weight, class)
	a.heap.EndHeapAllocationRecording(obj, locs)
	_ = a.coll.SampleAllocation(0, locs, weight, class)

	placeholder := new(retainedObject)
	runtime.SetFinalizer(placeholder, func(*retainedObject) {
		a.heap.RecordHeapFree(obj)
	})

	a.mu.Lock()
	a.live[key] = append(a.live[key], placeholder)
	a.mu.Unlock()
}

// releaseLive drops references to n previously-tracked placeholders for
// key, oldest first, making them eligible for the next GC to finalize.
// The finalizer callback (not this method) is what actually calls
// heap.RecordHeapFree, asynchronously, once the GC proves each
// placeholder unreachable.
func (a *AllocationSampler) releaseLive(key string, n int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	q := a.live[key]
	if int64(len(q)) < n {
		n = int64(len(q))
	}
	a.live[key] = q[n:]
}

// readMemProfile returns every current heap-profile record, retrying
// with a larger buffer if the profile grew between the sizing call and
// the fetch, the same two-call pattern pprof.WriteHeapProfile uses
// internally.
func readMemProfile() ([]runtime.MemProfileRecord, error) {
	for {
		n, _ := runtime.MemProfile(nil, true)
		records := make([]runtime.MemProfileRecord, n+16)
		n, ok := runtime.MemProfile(records, true)
		if ok {
			return records[:n], nil
		}
	}
}

// resolveStack expands a MemProfileRecord's raw program counters into
// Locations via runtime.CallersFrames, the same resolver the stack dumper
// avoids needing because goroutine dumps already arrive symbolized.
func resolveStack(pcs []uintptr) []stackcollect.Location {
	locs := make([]stackcollect.Location, 0, len(pcs))
	frames := runtime.CallersFrames(pcs)
	for {
		f, more := frames.Next()
		if f.Function != "" {
			locs = append(locs, stackcollect.Location{Function: f.Function, File: f.File, Line: f.Line})
		}
		if !more {
			break
		}
	}
	return locs
}

// stackKey canonicalizes a raw program-counter stack into a map key.
func stackKey(pcs []uintptr) string {
	b := make([]byte, 0, len(pcs)*8)
	for _, pc := range pcs {
		b = append(b,
			byte(pc), byte(pc>>8), byte(pc>>16), byte(pc>>24),
			byte(pc>>32), byte(pc>>40), byte(pc>>48), byte(pc>>56))
	}
	return string(b)
}

// allocationClass derives a coarse allocation class label from the
// innermost resolved frame, the same granularity the heap tracker's
// sizeOf callback keys its class argument on.
func allocationClass(locs []stackcollect.Location) string {
	if len(locs) == 0 {
		return "unknown"
	}
	return locs[0].Function
}
