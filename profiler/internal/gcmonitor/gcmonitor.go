// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

// Package gcmonitor synthesizes GC start/finish tracepoints for the
// thread-context collector by polling runtime/debug.GCStats, standing in
// for the native collector's GC begin/end hooks: Go exposes no callback
// for GC phase transitions, only a ring buffer of completed-cycle pause
// timestamps and durations, so a GC cycle is reported to the collector
// as an already-completed (start, finish) pair once it's been observed.
package gcmonitor

import (
	"runtime/debug"
	"sync"
	"time"
)

// GCEvent is one completed GC cycle, with both endpoints timestamped in
// wall-clock time. Go's GCStats carries no per-cycle cpu time, so the
// event has no cpu fields; callers feed these
// through the same update_delta/GC-accounting machinery the native
// collector uses, which already tolerates a zero cpu contribution.
type GCEvent struct {
	StartWallNS  int64
	FinishWallNS int64
}

// Monitor polls for newly completed GC cycles since the last Poll call.
type Monitor struct {
	mu       sync.Mutex
	lastNum  int64
	lastEnd  time.Time
	seenOnce bool
}

// New returns a Monitor with no prior polling history; its first Poll
// call only records the current GC count as a baseline and reports no
// events, so cycles that completed before startup are never reported.
func New() *Monitor {
	return &Monitor{}
}

// Poll returns every GC cycle observed since the previous call, oldest
// first.
func (m *Monitor) Poll(now time.Time) []GCEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stats debug.GCStats
	debug.ReadGCStats(&stats)

	if !m.seenOnce {
		m.lastNum = stats.NumGC
		m.seenOnce = true
		return nil
	}

	delta := stats.NumGC - m.lastNum
	if delta <= 0 {
		return nil
	}
	m.lastNum = stats.NumGC

	n := int(delta)
	if n > len(stats.Pause) {
		n = len(stats.Pause)
	}

	events := make([]GCEvent, 0, n)
	// stats.Pause and stats.PauseEnd are ordered most-recent-first;
	// walk backward to report oldest-first, matching the order a real
	// tracepoint stream would deliver them in.
	for i := n - 1; i >= 0; i-- {
		end := stats.PauseEnd[i]
		start := end.Add(-stats.Pause[i])
		events = append(events, GCEvent{
			StartWallNS:  start.UnixNano(),
			FinishWallNS: end.UnixNano(),
		})
	}
	return events
}
