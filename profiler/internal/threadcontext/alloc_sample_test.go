// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package threadcontext

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/DataDog/gvl-profiler-go/profiler/internal/clock"
	"github.com/DataDog/gvl-profiler-go/profiler/internal/heaptrack"
	"github.com/DataDog/gvl-profiler-go/profiler/internal/stackcollect"
)

// stubAllocator is a narrower Allocator substitute for tests that only
// need to observe how many times each method fires, not the heap
// tracker's own record-keeping invariants (those are heaptrack's tests'
// job).
type stubAllocator struct {
	mu        sync.Mutex
	tracked   int
	committed int
	freed     int
}

func (s *stubAllocator) TrackObject(obj heaptrack.ObjectID, weight int64, class string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracked++
}

func (s *stubAllocator) EndHeapAllocationRecording(obj heaptrack.ObjectID, locations []stackcollect.Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed++
}

func (s *stubAllocator) RecordHeapFree(obj heaptrack.ObjectID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.freed++
}

func (s *stubAllocator) counts() (tracked, committed, freed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracked, s.committed, s.freed
}

// allocateForTest gives the sampler's MemProfile diff a call site of its
// own: inlining it into the test function would fold its allocations
// into the caller's existing call-site counts.
//
//go:noinline
func allocateForTest(n int) [][]byte {
	bufs := make([][]byte, n)
	for i := range bufs {
		bufs[i] = make([]byte, 4096)
	}
	return bufs
}

func TestAllocationSamplerTracksNewAllocations(t *testing.T) {
	oldRate := runtime.MemProfileRate
	runtime.MemProfileRate = 1
	defer func() { runtime.MemProfileRate = oldRate }()

	cfg := Config{MaxFrames: 64}
	coll, _ := newTestCollector(cfg, clock.NewFake(0, 0), nil)

	alloc := &stubAllocator{}
	sampler := NewAllocationSampler(coll, alloc, 0)

	if err := sampler.Poll(time.Now()); err != nil {
		t.Fatalf("baseline Poll: %v", err)
	}

	keep := allocateForTest(64)

	if err := sampler.Poll(time.Now()); err != nil {
		t.Fatalf("second Poll: %v", err)
	}

	tracked, committed, _ := alloc.counts()
	if tracked == 0 || committed == 0 {
		t.Fatalf("expected newly observed allocations to be tracked and committed, got tracked=%d committed=%d", tracked, committed)
	}
	runtime.KeepAlive(keep)
}

func TestAllocationSamplerReleasesOnFree(t *testing.T) {
	oldRate := runtime.MemProfileRate
	runtime.MemProfileRate = 1
	defer func() { runtime.MemProfileRate = oldRate }()

	cfg := Config{MaxFrames: 64}
	coll, _ := newTestCollector(cfg, clock.NewFake(0, 0), nil)

	alloc := &stubAllocator{}
	sampler := NewAllocationSampler(coll, alloc, 0)

	if err := sampler.Poll(time.Now()); err != nil {
		t.Fatalf("baseline Poll: %v", err)
	}

	func() {
		bufs := allocateForTest(64)
		runtime.KeepAlive(bufs)
	}()

	if err := sampler.Poll(time.Now()); err != nil {
		t.Fatalf("track Poll: %v", err)
	}
	if tracked, _, _ := alloc.counts(); tracked == 0 {
		t.Fatal("expected the allocation to be tracked before it can be freed")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
		if err := sampler.Poll(time.Now()); err != nil {
			t.Fatalf("release Poll: %v", err)
		}
		if _, _, freed := alloc.counts(); freed > 0 {
			return
		}
	}
	t.Fatal("expected the finalizer-backed placeholder to eventually report a free")
}
