// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package clock

import "sync"

// Fake is a deterministic clock.Source for tests: Advance moves the
// monotonic and realtime clocks together, and SetCPUClock sets each
// goroutine's cpu clock independently.
type Fake struct {
	mu        sync.Mutex
	mono      int64
	realtime  int64
	cpuClocks map[int64]int64
}

// NewFake returns a Fake clock starting at the given monotonic/realtime
// timestamps.
func NewFake(monoNS, realtimeNS int64) *Fake {
	return &Fake{mono: monoNS, realtime: realtimeNS, cpuClocks: map[int64]int64{}}
}

func (f *Fake) MonotonicNowNS() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mono
}

func (f *Fake) MonotonicCoarseNowNS() int64 { return f.MonotonicNowNS() }

func (f *Fake) RealtimeNowNS() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.realtime
}

// Advance moves both the monotonic and realtime clocks forward by d
// nanoseconds.
func (f *Fake) Advance(d int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mono += d
	f.realtime += d
}

// SetCPUClock registers a fake cpu clock reading usable for goroutineID.
func (f *Fake) SetCPUClock(goroutineID int64, ns int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cpuClocks[goroutineID] = ns
}

func (f *Fake) CPUClockIDFor(goroutineID int64) (uintptr, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.cpuClocks[goroutineID]
	return uintptr(goroutineID), ok
}

func (f *Fake) CPUNowNS(id uintptr) (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ns, ok := f.cpuClocks[int64(id)]
	return ns, ok
}
