// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

// Package recorder is the profiler's double-buffered sample sink: one
// slot accepts concurrent samples from the sampling path while the other
// drains into a serialized profile, and the two swap on every
// Serialize call. The two-slot trylock protocol keeps the sampler
// wait-free in the common case while letting the serializer block
// briefly to flip slots.
package recorder

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/DataDog/gvl-profiler-go/profiler/internal/heaptrack"
	"github.com/DataDog/gvl-profiler-go/profiler/internal/stackcollect"
	"github.com/DataDog/gvl-profiler-go/profiler/internal/valuetypes"
)

// ErrSlotUnavailable is returned by RecordSample/RecordEndpoint when
// neither slot could be locked even after one retry pass, which would
// only happen if the serializer's flip protocol and two concurrent
// samplers all raced in an unlucky order.
var ErrSlotUnavailable = errors.New("recorder: no slot available for write")

// Recorder owns the two profile slots and the position table describing
// which value-tuple positions are active for this process.
type Recorder struct {
	mu        sync.Mutex // guards activeIdx and heap snapshot coordination
	slots     [2]*slot
	activeIdx int
	table     *valuetypes.PositionTable
	heap      *heaptrack.Tracker
}

// New returns a recorder ready to accept samples, with its first window
// starting at startTime. heap may be nil if heap tracking is disabled.
func New(table *valuetypes.PositionTable, heap *heaptrack.Tracker, startTime time.Time) *Recorder {
	r := &Recorder{
		slots: [2]*slot{
			newSlot(table, startTime),
			newSlot(table, startTime),
		},
		table: table,
		heap:  heap,
	}
	// at-rest invariant: slot one active (unlocked), slot two's lock held.
	r.slots[1].mu.Lock()
	return r
}

func (r *Recorder) tryLockSlot() (*slot, error) {
	a, b := r.slots[0], r.slots[1]
	if a.mu.TryLock() {
		return a, nil
	}
	if b.mu.TryLock() {
		return b, nil
	}
	// the serializer may have flipped between the two trylocks above;
	// retry both once before giving up.
	if a.mu.TryLock() {
		return a, nil
	}
	if b.mu.TryLock() {
		return b, nil
	}
	return nil, ErrSlotUnavailable
}

// RecordSample writes one sample into whichever slot is currently
// active, packing values down to the enabled-positions vector via the
// recorder's position table.
func (r *Recorder) RecordSample(locations []stackcollect.Location, values valuetypes.ValueSet, labels []valuetypes.Label) error {
	s, err := r.tryLockSlot()
	if err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.addSample(locations, r.table.Pack(values), labels)
	return nil
}

// RecordEndpoint updates the mutable endpoint name associated with a
// local root span id on the currently active slot. Endpoint updates are
// decoupled from sample writes: the latest value as of serialize time is
// what every sample sharing the span id is labeled with.
func (r *Recorder) RecordEndpoint(localRootSpanID uint64, endpoint string) error {
	s, err := r.tryLockSlot()
	if err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.endpoints[localRootSpanID] = endpoint
	return nil
}

// Serialize flips the active slot, drains the previously-active slot
// (applying any pending endpoint updates and, if a heap tracker is
// configured, a live-object snapshot) into pprof bytes, and resets that
// slot for the next window. Compression, if any, is the caller's
// responsibility via internal/profcompress on the returned bytes.
func (r *Recorder) Serialize() (data []byte, start, finish time.Time, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	finish = time.Now()

	inactiveIdx := 1 - r.activeIdx
	prevActiveIdx := r.activeIdx

	if r.heap != nil {
		r.heap.PrepareIteration()
	}

	// unlock the inactive slot: it becomes active for samplers from this
	// point forward.
	r.slots[inactiveIdx].mu.Unlock()
	r.activeIdx = inactiveIdx

	// lock the previously-active slot; this may block briefly on an
	// in-progress sample that started just before the flip.
	drain := r.slots[prevActiveIdx]
	drain.mu.Lock()

	start = drain.start

	if r.heap != nil {
		drainErr := drainHeapSnapshot(drain, r.heap)
		r.heap.FinishIteration()
		if drainErr != nil {
			drain.reset(r.table, finish)
			return nil, start, finish, drainErr
		}
	}

	applyEndpoints(drain)

	buf := &bytes.Buffer{}
	if err := drain.prof.WriteUncompressed(buf); err != nil {
		drain.reset(r.table, finish)
		return nil, start, finish, fmt.Errorf("recorder: serialize: %w", err)
	}

	drain.reset(r.table, finish)
	return buf.Bytes(), start, finish, nil
}

// drainHeapSnapshot adds one sample per live, old-enough tracked object
// into the slot being drained. It runs without the recorder's own slot
// lock held by any sampler (the slot is locked for the duration of the
// drain by Serialize itself, but that's the serializer's own lock, not a
// sampler's), matching the "GIL not held" characterization in spec: Go's
// analogue is simply "no sampler can be mid-write into this slot".
func drainHeapSnapshot(s *slot, heap *heaptrack.Tracker) error {
	var drainErr error
	heap.ForEachLiveObject(func(locations []stackcollect.Location, obj heaptrack.LiveObject) {
		if drainErr != nil {
			return
		}
		var values valuetypes.ValueSet
		values.Set(valuetypes.HeapLiveSamples, obj.Weight)
		values.Set(valuetypes.HeapLiveSize, obj.Size)
		labels := []valuetypes.Label{
			{Key: "allocation class", Str: obj.Class},
			{Key: "gc gen age", Num: obj.Generation},
		}
		s.addSample(locations, s.table.Pack(values), labels)
	})
	return drainErr
}

func applyEndpoints(s *slot) {
	if len(s.endpoints) == 0 {
		return
	}
	for i := range s.prof.Sample {
		spanLabels := s.prof.Sample[i].NumLabel["local root span id"]
		if len(spanLabels) == 0 {
			continue
		}
		if endpoint, ok := s.endpoints[uint64(spanLabels[0])]; ok {
			if s.prof.Sample[i].Label == nil {
				s.prof.Sample[i].Label = map[string][]string{}
			}
			s.prof.Sample[i].Label["trace endpoint"] = []string{endpoint}
		}
	}
}

// ResetAfterFork re-initializes both slots to the at-rest invariant and
// drops any heap-tracked state, matching the fork-reset law in spec §8:
// a serialize immediately after reset_after_fork yields an empty
// profile.
func (r *Recorder) ResetAfterFork(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Tracked object ids, in-flight samples and lock state from before
	// the fork are all meaningless in the child; rebuild both slots from
	// scratch rather than try to recover ownership of the old mutexes.
	r.slots = [2]*slot{
		newSlot(r.table, now),
		newSlot(r.table, now),
	}
	r.slots[1].mu.Lock()
	r.activeIdx = 0

	if r.heap != nil {
		r.heap.ResetAfterFork()
	}
}
