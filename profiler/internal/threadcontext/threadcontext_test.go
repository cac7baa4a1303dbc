// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package threadcontext

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"testing"
	"time"

	"github.com/DataDog/gvl-profiler-go/profiler/internal/clock"
	"github.com/DataDog/gvl-profiler-go/profiler/internal/recorder"
	"github.com/DataDog/gvl-profiler-go/profiler/internal/stackdump"
	"github.com/DataDog/gvl-profiler-go/profiler/internal/traceident"
	"github.com/DataDog/gvl-profiler-go/profiler/internal/valuetypes"
)

func currentGoroutineID(t *testing.T) int64 {
	t.Helper()
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	var id int64
	if _, err := fmt.Sscanf(string(buf[:n]), "goroutine %d ", &id); err != nil {
		t.Fatalf("failed to determine current goroutine id: %v", err)
	}
	return id
}

func newTestCollector(cfg Config, src clock.Source, reg *traceident.Registry) (*Collector, *recorder.Recorder) {
	mask := valuetypes.Mask(0)
	mask = mask.With(valuetypes.CPUTimeNS).With(valuetypes.CPUSamples).With(valuetypes.WallTimeNS)
	table := valuetypes.NewPositionTable(mask)
	rec := recorder.New(table, nil, time.Now())
	return New(cfg, src, rec, reg, nil), rec
}

func TestUpdateDeltaFirstSampleIsZero(t *testing.T) {
	prev := clock.InvalidTime
	got := UpdateDelta(&prev, 1000, clock.InvalidTime, false)
	if got != 0 {
		t.Fatalf("got %d, want 0 on first sample", got)
	}
	if prev != 1000 {
		t.Fatalf("prev not advanced to now: got %d", prev)
	}
}

func TestUpdateDeltaChargesGCIntervalOnce(t *testing.T) {
	prev := int64(1000)
	delta := UpdateDelta(&prev, 5000, 3000, false)
	if delta != 2000 {
		t.Fatalf("got %d, want 2000 (clamped to gc start)", delta)
	}
	if prev != 3000 {
		t.Fatalf("prev should advance only to gc_start, got %d", prev)
	}

	// the regular sample that follows must not re-bill [1000,3000].
	delta2 := UpdateDelta(&prev, 5000, clock.InvalidTime, false)
	if delta2 != 2000 {
		t.Fatalf("got %d, want 2000 for the remaining [gc_start, now] span", delta2)
	}
}

func TestUpdateDeltaWallClampsNegative(t *testing.T) {
	prev := int64(1000)
	got := UpdateDelta(&prev, 500, clock.InvalidTime, true)
	if got != 0 {
		t.Fatalf("got %d, want 0 for a backwards wall clock", got)
	}
}

func TestUpdateDeltaPanicsOnNegativeNonWall(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic for negative non-wall elapsed time")
		}
	}()
	prev := int64(1000)
	UpdateDelta(&prev, 500, clock.InvalidTime, false)
}

func TestTickSamplesLiveGoroutines(t *testing.T) {
	id := currentGoroutineID(t)
	src := clock.NewFake(0, 0)
	cfg := Config{CPUTimeEnabled: true, MaxFrames: 64}
	c, rec := newTestCollector(cfg, src, nil)

	snap, err := stackdump.Capture()
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}

	if err := c.Tick(1_000_000, snap, id, id); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	data, _, _, err := rec.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if !bytes.Contains(data, []byte("thread id")) {
		t.Fatal("expected the serialized profile to carry a thread id label")
	}
	if !bytes.Contains(data, []byte("profiler overhead")) {
		t.Fatal("expected the caller's second, overhead-labeled sample")
	}
}

func TestTickSweepsDeadContexts(t *testing.T) {
	id := currentGoroutineID(t)
	src := clock.NewFake(0, 0)
	cfg := Config{MaxFrames: 64}
	c, _ := newTestCollector(cfg, src, nil)

	c.mu.Lock()
	c.contextFor(999999) // a goroutine id that will never appear in a real snapshot
	c.mu.Unlock()

	snap, err := stackdump.Capture()
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}

	for i := 0; i < sweepInterval; i++ {
		if err := c.Tick(int64(i+1)*1000, snap, id, id); err != nil {
			t.Fatalf("Tick: %v", err)
		}
	}

	c.mu.Lock()
	_, stillTracked := c.contexts[999999]
	c.mu.Unlock()
	if stillTracked {
		t.Fatal("expected the stale context to be swept after sweepInterval ticks")
	}
}

func TestOnGCFinishFlushesOnFirstGC(t *testing.T) {
	cfg := Config{MaxFrames: 64}
	c, _ := newTestCollector(cfg, clock.NewFake(0, 0), nil)

	c.mu.Lock()
	c.contextFor(1)
	c.mu.Unlock()

	c.OnGCStart(1, 100, 1000)
	due := c.OnGCFinish(1, 200, 2000)
	if !due {
		t.Fatal("expected the very first GC event to always be flush-due")
	}
}

func TestOnGCFinishRespectsFlushInterval(t *testing.T) {
	cfg := Config{MaxFrames: 64}
	c, _ := newTestCollector(cfg, clock.NewFake(0, 0), nil)

	c.mu.Lock()
	c.contextFor(1)
	c.mu.Unlock()

	c.OnGCStart(1, 100, 1000)
	c.OnGCFinish(1, 200, 2000)
	if err := c.SampleAfterGC(); err != nil {
		t.Fatalf("SampleAfterGC: %v", err)
	}

	c.OnGCStart(1, 300, 2500)
	due := c.OnGCFinish(1, 400, 2600) // only 600ns since last flush
	if due {
		t.Fatal("expected a near-immediate second GC to not be flush-due yet")
	}
}

func TestOnGCStartMissingContextIsCountedNotFatal(t *testing.T) {
	cfg := Config{MaxFrames: 64}
	c, _ := newTestCollector(cfg, clock.NewFake(0, 0), nil)

	c.OnGCStart(42, 100, 1000)
	if got := c.GCSamplesMissedDueToMissingContext(); got != 1 {
		t.Fatalf("got %d, want 1", got)
	}
}

func TestEndpointLookupAttachesLabelsAndRecordsEndpoint(t *testing.T) {
	id := currentGoroutineID(t)

	reg := traceident.NewRegistry()
	ctx := traceident.WithSpan(context.Background(), 11, 22, traceident.EndpointWeb, "GET /ping")
	reg.RegisterGoroutine(ctx, id)

	cfg := Config{MaxFrames: 64, EndpointCollectionEnabled: true}
	c, rec := newTestCollector(cfg, clock.NewFake(0, 0), reg)

	snap, err := stackdump.Capture()
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if err := c.Tick(1000, snap, id, id); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	data, _, _, err := rec.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if !bytes.Contains(data, []byte("GET /ping")) {
		t.Fatal("expected the endpoint name to appear in the serialized profile")
	}
}
