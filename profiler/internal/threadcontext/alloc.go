// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package threadcontext

import (
	"sync"

	"github.com/DataDog/gvl-profiler-go/profiler/internal/heaptrack"
	"github.com/DataDog/gvl-profiler-go/profiler/internal/stackcollect"
	"github.com/DataDog/gvl-profiler-go/profiler/internal/valuetypes"
)

var objectIDCounter uint64
var objectIDMu sync.Mutex

// NextObjectID mints a fresh heaptrack.ObjectID, standing in for "the
// address of new_obj" as an allocation's tracking key: Go's moving
// (technically non-moving, but non-addressable-for-identity-purposes in
// the general case) heap means an allocation's identity has to be a
// caller-minted handle rather than a raw pointer value.
func NextObjectID() heaptrack.ObjectID {
	objectIDMu.Lock()
	defer objectIDMu.Unlock()
	objectIDCounter++
	return heaptrack.ObjectID(objectIDCounter)
}

// SampleAllocation charges a weighted allocation sample for an object
// just tracked by TrackObject, carrying alloc_samples/alloc_samples_unscaled.
// The sample is labeled with the allocation class and, when goroutineID
// is non-zero, its thread id; thread name, state and trace labels are not
// attached.
func (c *Collector) SampleAllocation(goroutineID int64, locations []stackcollect.Location, weight int64, class string) error {
	var values valuetypes.ValueSet
	values.Set(valuetypes.AllocSamples, weight)
	values.Set(valuetypes.AllocSamplesUnscaled, 1)

	labels := []valuetypes.Label{
		{Key: "allocation class", Str: class},
	}
	if goroutineID != 0 {
		labels = append(labels, valuetypes.Label{Key: "thread id", Num: goroutineID})
	}

	return c.rec.RecordSample(locations, values, labels)
}

// SampleSkippedAllocationSamples emits a single placeholder sample
// reporting n allocation events that were observed but not sampled (due
// to the discrete dynamic sampler's systematic skipping), so customers
// can see the drop rather than silently undercount allocations.
func (c *Collector) SampleSkippedAllocationSamples(n int64) error {
	c.mu.Lock()
	c.droppedAllocationSamples += uint64(n)
	c.mu.Unlock()

	var values valuetypes.ValueSet
	values.Set(valuetypes.AllocSamples, n)
	locs := []stackcollect.Location{{Function: "", File: "skipped allocation samples"}}
	return c.rec.RecordSample(locs, values, []valuetypes.Label{{Key: "skipped", Str: "true"}})
}

// DroppedAllocationSamples reports the non-fatal counter of skipped
// allocation events.
func (c *Collector) DroppedAllocationSamples() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.droppedAllocationSamples
}
