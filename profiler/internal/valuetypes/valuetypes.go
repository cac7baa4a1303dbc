// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

// Package valuetypes defines the fixed-schema sample value tuple shared by
// every sample the profiler records, and the position-mapping table that
// lets the recorder pack only the enabled subset onto the wire.
package valuetypes

// Position identifies one slot in the canonical sample value tuple.
type Position int

const (
	CPUTimeNS Position = iota
	CPUSamples
	WallTimeNS
	AllocSamples
	AllocSamplesUnscaled
	TimelineWallTimeNS
	HeapLiveSamples
	HeapLiveSize

	numPositions
)

// Descriptor names a position's pprof sample type and unit.
type Descriptor struct {
	Type string
	Unit string
}

var descriptors = [numPositions]Descriptor{
	CPUTimeNS:            {"cpu-time", "nanoseconds"},
	CPUSamples:           {"cpu-samples", "count"},
	WallTimeNS:           {"wall-time", "nanoseconds"},
	AllocSamples:         {"alloc-samples", "count"},
	AllocSamplesUnscaled: {"alloc-samples-unscaled", "count"},
	TimelineWallTimeNS:   {"timeline", "nanoseconds"},
	HeapLiveSamples:      {"heap-live-samples", "count"},
	HeapLiveSize:         {"heap-live-size", "bytes"},
}

// Descriptor returns the pprof (type, unit) pair for p.
func (p Position) Descriptor() Descriptor { return descriptors[p] }

// Mask selects which positions of the sample value tuple are active.
type Mask uint8

// Set reports whether p is enabled in m.
func (m Mask) Set(p Position) bool { return m&(1<<uint(p)) != 0 }

// With returns a copy of m with p enabled.
func (m Mask) With(p Position) Mask { return m | (1 << uint(p)) }

// PositionTable maps each active Position to its packed output index,
// computed once per recorder configuration so sample packing is a simple
// indexed write rather than a per-sample scan.
type PositionTable struct {
	mask    Mask
	slot    [numPositions]int
	count   int
	descs   []Descriptor
}

// NewPositionTable builds a table with exactly the given positions active,
// in the canonical position order.
func NewPositionTable(mask Mask) *PositionTable {
	t := &PositionTable{mask: mask}
	for p := Position(0); p < numPositions; p++ {
		if mask.Set(p) {
			t.slot[p] = t.count
			t.count++
			t.descs = append(t.descs, p.Descriptor())
		} else {
			t.slot[p] = -1
		}
	}
	return t
}

// Len returns the number of enabled positions (the transmitted vector
// length).
func (t *PositionTable) Len() int { return t.count }

// Descriptors returns the pprof sample type descriptors in packed order.
func (t *PositionTable) Descriptors() []Descriptor { return t.descs }

// Pack writes the full-schema values vector into a packed vector
// containing only the enabled positions, in canonical order.
func (t *PositionTable) Pack(values [numPositions]int64) []int64 {
	out := make([]int64, t.count)
	for p := Position(0); p < numPositions; p++ {
		if idx := t.slot[p]; idx >= 0 {
			out[idx] = values[p]
		}
	}
	return out
}

// ValueSet is a sparse, convenient builder for the full-schema values
// vector used by callers composing a sample before packing.
type ValueSet [numPositions]int64

// Set assigns v at position p and returns the receiver for chaining.
func (vs *ValueSet) Set(p Position, v int64) *ValueSet {
	vs[p] = v
	return vs
}

// StateLabel is the label key the stack collector uses to carry its
// wait-state classification. It is the one label slot a sample's
// producer is expected to overwrite after the fact, once the
// classification heuristic has run.
const StateLabel = "state"

// Label is a single (key, value) pair attached to a sample. Value is
// either a short string (Str) or a 64-bit integer (Num); exactly one of
// the two is meaningful, mirroring google/pprof/profile.Label.
type Label struct {
	Key string
	Str string
	Num int64
}
