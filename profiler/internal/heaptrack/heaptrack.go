// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

// Package heaptrack tracks live heap allocations sampled by the
// thread-context collector: it attributes each tracked object to a
// deduplicated allocation-site stack, and produces a point-in-time
// snapshot of the still-live, old-enough objects for the recorder to
// drain into a profile.
//
// Heap records and object records are owned by two arenas and referenced
// by integer handles rather than pointers, so the ownership graph
// (heap-record -> heap-stack, object-record -> heap-record) stays
// acyclic and reclaimable by simple refcounting on the handle rather
// than by a garbage collector of its own.
package heaptrack

import (
	"runtime/debug"
	"sync"

	"github.com/DataDog/gvl-profiler-go/profiler/internal/stackcollect"
	"github.com/DataDog/gvl-profiler-go/profiler/internal/strinterner"
)

// StackHandle identifies a deduplicated allocation-site stack.
type StackHandle uint32

// ObjectID identifies a single tracked allocation. Callers mint these
// (e.g. from a monotonic counter keyed to the allocated object) and use
// them consistently across TrackObject/RecordHeapFree.
type ObjectID uint64

// heapFrame is one interned frame of an allocation-site stack.
type heapFrame struct {
	function strinterner.ID
	file     strinterner.ID
	line     int
}

// heapStack is a deduplicated allocation-site stack.
type heapStack struct {
	frames []heapFrame
}

// heapRecord is a canonicalized allocation-site stack plus its live
// object count. It is the sole reclamation trigger: when liveCount hits
// zero the record (and implicitly its stack) is dropped from the arena.
type heapRecord struct {
	stack     heapStack
	liveCount int64
}

// objectRecord is a tracked live allocation, linked to its heap record by
// handle (not pointer) so the two arenas can be cleared independently
// without dangling references.
type objectRecord struct {
	heapRecord StackHandle
	weight     int64
	class      string
	size       int64
	generation int64
}

// inFlight is a partially-recorded allocation: TrackObject has run but
// EndHeapAllocationRecording has not yet committed it to an object
// record.
type inFlight struct {
	weight     int64
	class      string
	generation int64
}

// LiveObject is one entry of a prepared iteration snapshot.
type LiveObject struct {
	Locations  []stackcollect.Location
	Weight     int64
	Size       int64
	Class      string
	Generation int64
}

// GenerationSource reports the runtime's current GC generation number,
// used to age tracked objects so a snapshot only reports objects that
// have survived at least one generation since allocation.
type GenerationSource interface {
	Generation() int64
}

// RuntimeGenerationSource is the default GenerationSource: it reports
// the process's completed-GC-cycle count, the same debug.GCStats.NumGC
// counter gcmonitor polls, so a tracked object only becomes eligible to
// appear in a live-heap snapshot once at least one full GC cycle has
// elapsed since it was allocated.
type RuntimeGenerationSource struct{}

// Generation implements GenerationSource.
func (RuntimeGenerationSource) Generation() int64 {
	var stats debug.GCStats
	debug.ReadGCStats(&stats)
	return stats.NumGC
}

// Tracker owns the heap-record and object-record arenas. All mutating
// methods are expected to run on the single goroutine that owns
// sampling; Tracker itself still serializes access with a mutex so
// RecordHeapFree (invoked asynchronously from a runtime.SetFinalizer
// callback) can run concurrently with it safely.
type Tracker struct {
	mu sync.Mutex

	interner *strinterner.Interner

	heapRecords   map[StackHandle]*heapRecord
	nextHeapSlot  StackHandle
	stackIndex    map[string]StackHandle // canonical stack key -> handle
	objectRecords map[ObjectID]*objectRecord

	inFlightByObj map[ObjectID]inFlight

	gen GenerationSource

	sizeEnabled bool
	sizeOf      func(class string) int64

	iterating bool
	snapshot  []snapshotEntry

	droppedCommits uint64
}

type snapshotEntry struct {
	obj *objectRecord
}

// New returns an empty Tracker. sizeOf is consulted at iteration time
// (not at allocation time) when sizeEnabled is true, standing in for a
// runtime object-size API; it may be nil when sizeEnabled is false.
func New(gen GenerationSource, sizeEnabled bool, sizeOf func(class string) int64) *Tracker {
	return &Tracker{
		interner:      strinterner.New(),
		heapRecords:   make(map[StackHandle]*heapRecord),
		stackIndex:    make(map[string]StackHandle),
		objectRecords: make(map[ObjectID]*objectRecord),
		inFlightByObj: make(map[ObjectID]inFlight),
		gen:           gen,
		sizeEnabled:   sizeEnabled,
		sizeOf:        sizeOf,
	}
}

// TrackObject registers an in-flight allocation for obj. A previous
// uncommitted in-flight record for the same id, if any, is silently
// overwritten.
func (t *Tracker) TrackObject(obj ObjectID, weight int64, class string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	gen := int64(0)
	if t.gen != nil {
		gen = t.gen.Generation()
	}
	t.inFlightByObj[obj] = inFlight{weight: weight, class: class, generation: gen}
}

// EndHeapAllocationRecording commits the in-flight record for obj,
// canonicalizing locations against the heap-record map. If no in-flight
// record exists for obj (TrackObject was never called, or a prior commit
// already consumed it), this is a no-op.
func (t *Tracker) EndHeapAllocationRecording(obj ObjectID, locations []stackcollect.Location) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fl, ok := t.inFlightByObj[obj]
	if !ok {
		return
	}
	delete(t.inFlightByObj, obj)

	handle, err := t.canonicalize(locations)
	if err != nil {
		t.droppedCommits++
		return
	}

	rec := t.heapRecords[handle]
	rec.liveCount++

	t.objectRecords[obj] = &objectRecord{
		heapRecord: handle,
		weight:     fl.weight,
		class:      fl.class,
		generation: fl.generation,
	}
}

// canonicalize interns each frame and finds or inserts the matching heap
// record, returning its handle.
func (t *Tracker) canonicalize(locations []stackcollect.Location) (StackHandle, error) {
	frames := make([]heapFrame, 0, len(locations))
	key := make([]byte, 0, 64)
	for _, l := range locations {
		fnID := t.interner.Intern(l.Function)
		fileID := t.interner.Intern(l.File)
		frames = append(frames, heapFrame{function: fnID, file: fileID, line: l.Line})
		key = appendFrameKey(key, fnID, fileID, l.Line)
	}
	k := string(key)
	if handle, ok := t.stackIndex[k]; ok {
		return handle, nil
	}
	t.nextHeapSlot++
	handle := t.nextHeapSlot
	t.heapRecords[handle] = &heapRecord{stack: heapStack{frames: frames}}
	t.stackIndex[k] = handle
	return handle, nil
}

func appendFrameKey(b []byte, fn, file strinterner.ID, line int) []byte {
	b = append(b, byte(fn), byte(fn>>8), byte(fn>>16), byte(fn>>24))
	b = append(b, byte(file), byte(file>>8), byte(file>>16), byte(file>>24))
	b = append(b, byte(line), byte(line>>8), byte(line>>16), byte(line>>24))
	return b
}

// RecordHeapFree is invoked from a runtime.SetFinalizer callback when obj
// is collected. Finalizers run on their own goroutine outside any GC
// pause and are documented as free to allocate, so unlike a
// signal-handler-safety-constrained equivalent this may take the
// tracker's mutex without risk of deadlocking a collector in progress.
func (t *Tracker) RecordHeapFree(obj ObjectID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	or, ok := t.objectRecords[obj]
	if !ok {
		return
	}
	delete(t.objectRecords, obj)

	rec, ok := t.heapRecords[or.heapRecord]
	if !ok {
		return
	}
	rec.liveCount--
	if rec.liveCount <= 0 {
		delete(t.heapRecords, or.heapRecord)
		for k, h := range t.stackIndex {
			if h == or.heapRecord {
				delete(t.stackIndex, k)
				break
			}
		}
	}
}

// LiveCount returns the live-object count for a heap record, used by
// tests to assert the invariant that a heap record's live count always
// equals the number of object records pointing to it.
func (t *Tracker) LiveCount(handle StackHandle) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.heapRecords[handle]
	if !ok {
		return 0
	}
	return rec.liveCount
}

// PrepareIteration stops accepting further commits conceptually (callers
// are expected not to call EndHeapAllocationRecording concurrently with
// the snapshot lifetime) and builds a snapshot of every live,
// old-enough object record.
func (t *Tracker) PrepareIteration() {
	t.mu.Lock()
	defer t.mu.Unlock()

	curGen := int64(0)
	if t.gen != nil {
		curGen = t.gen.Generation()
	}

	t.iterating = true
	t.snapshot = t.snapshot[:0]
	for _, or := range t.objectRecords {
		if curGen-or.generation < 1 {
			continue
		}
		if _, ok := t.heapRecords[or.heapRecord]; !ok {
			continue
		}
		t.snapshot = append(t.snapshot, snapshotEntry{obj: or})
	}
}

// ForEachLiveObject invokes cb for every entry in the prepared snapshot.
// It performs no mutation and may be called without holding any lock the
// sampler depends on.
func (t *Tracker) ForEachLiveObject(cb func(locations []stackcollect.Location, obj LiveObject)) {
	t.mu.Lock()
	snapshot := t.snapshot
	t.mu.Unlock()

	for _, e := range snapshot {
		t.mu.Lock()
		rec, ok := t.heapRecords[e.obj.heapRecord]
		if !ok {
			t.mu.Unlock()
			continue
		}
		locs := t.resolveLocations(rec.stack)
		size := int64(0)
		if t.sizeEnabled && t.sizeOf != nil {
			size = t.sizeOf(e.obj.class)
		}
		t.mu.Unlock()

		cb(locs, LiveObject{
			Locations:  locs,
			Weight:     e.obj.weight,
			Size:       size,
			Class:      e.obj.class,
			Generation: e.obj.generation,
		})
	}
}

func (t *Tracker) resolveLocations(stack heapStack) []stackcollect.Location {
	locs := make([]stackcollect.Location, 0, len(stack.frames))
	for _, f := range stack.frames {
		fn, _ := t.interner.Lookup(f.function)
		file, _ := t.interner.Lookup(f.file)
		locs = append(locs, stackcollect.Location{Function: fn, File: file, Line: f.line})
	}
	return locs
}

// FinishIteration drops the snapshot, resuming normal commit behavior.
func (t *Tracker) FinishIteration() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.iterating = false
	t.snapshot = nil
}

// ResetAfterFork drops all tracked objects and heap records: their ids
// (and any finalizer-bound handles) are invalid across a fork.
func (t *Tracker) ResetAfterFork() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.heapRecords = make(map[StackHandle]*heapRecord)
	t.stackIndex = make(map[string]StackHandle)
	t.objectRecords = make(map[ObjectID]*objectRecord)
	t.inFlightByObj = make(map[ObjectID]inFlight)
	t.nextHeapSlot = 0
	t.snapshot = nil
	t.iterating = false
}

// DroppedCommits reports how many EndHeapAllocationRecording calls
// failed to canonicalize their locations.
func (t *Tracker) DroppedCommits() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.droppedCommits
}
