// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

// Package worker runs the profiler's single sampling goroutine: one tick
// loop that paces itself with the continuous dynamic-sampling controller,
// polls for completed GC cycles, and drives the thread-context collector
// once per tick.
package worker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/DataDog/gvl-profiler-go/profiler/internal/dynsample"
	"github.com/DataDog/gvl-profiler-go/profiler/internal/gcmonitor"
	"github.com/DataDog/gvl-profiler-go/profiler/internal/stackdump"
	"github.com/DataDog/gvl-profiler-go/profiler/internal/threadcontext"
)

// running guards against a second Worker ever ticking concurrently with
// this one: only one sampling goroutine may be active in the process at a
// time, mirroring the single-GVL-hook constraint of the runtime this
// profiler was modeled on.
var running atomic.Bool

// Collector is the subset of threadcontext.Collector's API the worker
// depends on, kept narrow so tests can substitute a stub.
type Collector interface {
	Tick(nowWallNS int64, snap *stackdump.Snapshot, callerGoroutineID int64, overheadGoroutineID int64) error
	OnGCStart(goroutineID int64, cpuNow, wallNow int64)
	OnGCFinish(goroutineID int64, cpuNow, wallNow int64) bool
	SampleAfterGC() error
	PollAllocations(now time.Time) error
}

var _ Collector = (*threadcontext.Collector)(nil)

// Worker owns the single sampling goroutine: a tick loop that paces
// itself via a dynsample.ContinuousRateController, feeds completed GC
// cycles synthesized by a gcmonitor.Monitor through the thread-context
// collector's GC accounting, and otherwise samples every live goroutine
// once per tick.
type Worker struct {
	coll    Collector
	rate    *dynsample.ContinuousRateController
	gc      *gcmonitor.Monitor
	gcGID   int64 // goroutine id attributed to synthesized GC events
	capture func() (*stackdump.Snapshot, error)

	stop   chan struct{}
	done   chan struct{}
	mu     sync.Mutex
	active bool

	// idleStop/idleDone/idleGID back the dedicated idle goroutine: a
	// goroutine with no purpose but to sit parked so the profiler's own
	// overhead sample has a genuinely distinct, clean stack to borrow
	// each tick instead of reusing whichever goroutine the roster
	// happens to list first.
	idleStop chan struct{}
	idleDone chan struct{}
	idleGID  int64
}

// New returns a Worker ready to Start. gcGoroutineID is the goroutine id
// GC-cycle samples are attributed to; callers typically pass 0, a
// sentinel handled by threadcontext as "no live context", or the
// goroutine id of whichever goroutine calls Start.
func New(coll Collector, targetOverheadPercentage float64, gcGoroutineID int64) *Worker {
	return &Worker{
		coll:    coll,
		rate:    dynsample.NewContinuousRateController(targetOverheadPercentage),
		gc:      gcmonitor.New(),
		gcGID:   gcGoroutineID,
		capture: stackdump.Capture,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the tick loop in a new goroutine. It returns false
// without starting anything if another Worker in this process is already
// running.
func (w *Worker) Start() bool {
	if !running.CompareAndSwap(false, true) {
		return false
	}
	w.mu.Lock()
	w.active = true
	w.mu.Unlock()

	w.idleStop = make(chan struct{})
	w.idleDone = make(chan struct{})
	idleReady := make(chan int64, 1)
	go w.idleLoop(idleReady)
	w.idleGID = <-idleReady

	go w.loop()
	return true
}

// Stop signals the tick loop and the idle goroutine to exit and blocks
// until both have, releasing the process-wide running guard so a
// subsequent Worker may Start.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.active {
		w.mu.Unlock()
		return
	}
	w.active = false
	w.mu.Unlock()

	close(w.stop)
	<-w.done
	close(w.idleStop)
	<-w.idleDone
	running.Store(false)
}

// idleLoop parks forever until told to stop, its entire purpose being
// to exist as a goroutine the worker can reliably point the
// profiler-overhead sample at: its own stack in any given snap always
// looks like genuinely idle work, never a real in-flight call.
func (w *Worker) idleLoop(ready chan<- int64) {
	defer close(w.idleDone)
	id, err := stackdump.CurrentGoroutineID()
	if err != nil {
		id = 0
	}
	ready <- id
	<-w.idleStop
}

func (w *Worker) loop() {
	defer close(w.done)

	callerGID, err := stackdump.CurrentGoroutineID()
	if err != nil {
		callerGID = w.gcGID
	}

	for {
		now := time.Now()
		if !w.rate.ShouldSample(now) {
			if w.sleepOrStop(w.rate.GetSleep(now)) {
				return
			}
			continue
		}

		tickStart := time.Now()
		sampleCost := w.tick(tickStart, callerGID)
		w.rate.RecordSampleDuration(time.Now(), sampleCost, time.Since(tickStart)-sampleCost)

		if w.sleepOrStop(w.rate.GetSleep(time.Now())) {
			return
		}
	}
}

// sleepOrStop waits for d or the stop signal, whichever comes first. It
// reports whether a stop was observed.
func (w *Worker) sleepOrStop(d time.Duration) bool {
	if d <= 0 {
		select {
		case <-w.stop:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-w.stop:
		return true
	case <-timer.C:
		return false
	}
}

// tick runs one full sampling pass: drain any GC cycles observed since
// the previous tick through the collector's GC accounting, then sample
// every live goroutine once. It returns the wall-clock cost attributable
// to the sampling work itself, for the rate controller's overhead
// accounting.
func (w *Worker) tick(now time.Time, callerGID int64) time.Duration {
	start := time.Now()
	nowNS := now.UnixNano()

	for _, ev := range w.gc.Poll(now) {
		w.coll.OnGCStart(w.gcGID, 0, ev.StartWallNS)
		if due := w.coll.OnGCFinish(w.gcGID, 0, ev.FinishWallNS); due {
			_ = w.coll.SampleAfterGC()
		}
	}

	_ = w.coll.PollAllocations(now)

	snap, err := w.capture()
	if err == nil {
		_ = w.coll.Tick(nowNS, snap, callerGID, w.idleGID)
	}

	return time.Since(start)
}

// ResetAfterFork is a no-op forwarding point for callers that want the
// worker's own state reset alongside the recorder and heap tracker after
// a fork; the rate controller and GC monitor carry no state that is
// unsafe to keep across a fork, unlike the recorder's slots.
func (w *Worker) ResetAfterFork() {}
