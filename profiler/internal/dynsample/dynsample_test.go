// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package dynsample

import (
	"testing"
	"time"
)

func TestContinuousRateControllerShouldSampleInitially(t *testing.T) {
	c := NewContinuousRateController(DefaultOverheadTargetPercentage)
	now := time.Now()
	if !c.ShouldSample(now) {
		t.Fatal("a fresh controller should allow an immediate first sample")
	}
}

func TestContinuousRateControllerClampsSleep(t *testing.T) {
	c := NewContinuousRateController(2.0)
	now := time.Now()
	// a 1-second sample at a 2% target implies ~49s of required sleep,
	// far above both the 100ms GetSleep clamp and the 10s ceiling.
	c.RecordSampleDuration(now, time.Second, 0)

	if got := c.GetSleep(now); got != maxSleepPerTick {
		t.Fatalf("got sleep %v, want the %v per-tick clamp", got, maxSleepPerTick)
	}
	if c.ShouldSample(now) {
		t.Fatal("should not be allowed to sample again immediately")
	}
	if c.ShouldSample(now.Add(MaxTimeUntilNextSample + time.Second)) == false {
		t.Fatal("should always become samplable again after the max sleep ceiling elapses")
	}
}

func TestContinuousRateControllerZeroTargetSamplesImmediately(t *testing.T) {
	c := NewContinuousRateController(0)
	now := time.Now()
	c.RecordSampleDuration(now, time.Second, 0)
	if got := c.GetSleep(now); got != 0 {
		t.Fatalf("got sleep %v, want 0 with no target", got)
	}
}

func TestDiscreteDynamicSamplerSamplesEveryEventBeforeFirstWindow(t *testing.T) {
	d := NewDiscreteDynamicSampler(2.0)
	now := time.Now()
	for i := 0; i < 5; i++ {
		if !d.ShouldSample(now) {
			t.Fatalf("event %d: expected every event sampled before the first adjustment window", i)
		}
	}
}

func TestDiscreteDynamicSamplerAdjustsKUpwardUnderHighRate(t *testing.T) {
	d := NewDiscreteDynamicSampler(2.0)
	now := time.Now()

	// simulate a high allocation rate with a non-trivial per-sample cost,
	// which should push k above 1 to keep overhead near 2%.
	for i := 0; i < 200_000; i++ {
		d.ShouldSample(now)
	}
	d.RecordSampleCost(now.Add(adjustmentWindow+time.Millisecond), 10*time.Microsecond)

	if d.K() <= 1 {
		t.Fatalf("got k=%d, want >1 under a high sampling rate", d.K())
	}
}
