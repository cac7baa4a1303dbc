// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

// Package stackdump is this profiler's frame walker and thread roster: it
// captures a process-wide goroutine dump and parses it into per-goroutine
// stacks, standing in for the GIL-synchronized per-thread frame walk a
// managed runtime would offer natively.
package stackdump

import (
	"bytes"
	"fmt"
	"runtime"
	"sync"

	"github.com/DataDog/gvl-profiler-go/profiler/internal/stackparse"
)

// NativeFrameFilename is a placeholder filename for goroutines whose dump
// contains no introspectable frames, analogous to
// PLACEHOLDER_STACK_IN_NATIVE_CODE. Capture does not substitute it: such a
// goroutine is kept in the Snapshot with an empty Stack.
const NativeFrameFilename = "In native code"

// Snapshot is one process-wide goroutine dump, indexed by goroutine id.
type Snapshot struct {
	goroutines []*stackparse.Goroutine
	byID       map[uint64]*stackparse.Goroutine
}

// ByID returns the goroutine with the given id, if present in the
// snapshot.
func (s *Snapshot) ByID(id uint64) (*stackparse.Goroutine, bool) {
	g, ok := s.byID[id]
	return g, ok
}

// IDs returns every goroutine id present in the snapshot, used by the
// thread-context collector to enumerate live threads and to sweep dead
// per-thread contexts.
func (s *Snapshot) IDs() []uint64 {
	ids := make([]uint64, 0, len(s.goroutines))
	for _, g := range s.goroutines {
		ids = append(ids, g.ID)
	}
	return ids
}

// Len returns the number of goroutines captured.
func (s *Snapshot) Len() int { return len(s.goroutines) }

// captureMu serializes calls to runtime.Stack(..., true), which is
// process-global and not meant to be invoked concurrently with itself.
var captureMu sync.Mutex

// initialBufSize is the starting size for the goroutine dump buffer; it
// grows geometrically until the dump fits, mirroring runtime/pprof's own
// approach to sizing this buffer.
const initialBufSize = 64 * 1024

// Capture takes a stop-the-world snapshot of every goroutine in the
// process and parses it. It is the Go analogue of calling walk_frames
// while holding the GIL: the dump is internally consistent across all
// goroutines even though it costs a full STW pause to acquire.
func Capture() (*Snapshot, error) {
	captureMu.Lock()
	defer captureMu.Unlock()

	buf := make([]byte, initialBufSize)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			buf = buf[:n]
			break
		}
		buf = make([]byte, 2*len(buf))
	}

	goroutines, errs := stackparse.Parse(bytes.NewReader(buf))
	if len(errs) > 0 {
		return nil, errs[0]
	}

	snap := &Snapshot{goroutines: goroutines, byID: make(map[uint64]*stackparse.Goroutine, len(goroutines))}
	for _, g := range goroutines {
		snap.byID[g.ID] = g
	}
	return snap, nil
}

// CurrentGoroutineID returns the id of the calling goroutine, parsed
// from the single-goroutine form of runtime.Stack. Callers that need a
// stable identity for the calling goroutine across a long-lived loop
// (the worker's tick loop, a dedicated idle goroutine) should call this
// once and cache the result rather than reparsing on every tick.
func CurrentGoroutineID() (int64, error) {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	var id int64
	if _, err := fmt.Sscanf(string(buf[:n]), "goroutine %d ", &id); err != nil {
		return 0, fmt.Errorf("stackdump: could not parse current goroutine id: %w", err)
	}
	return id, nil
}
