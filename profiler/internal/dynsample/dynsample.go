// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

// Package dynsample implements the two independent dynamic-sampling
// controllers that keep the profiler's own overhead near a target
// percentage: a continuous-time controller that paces the sampler
// worker's tick loop, and a discrete controller that paces per-event
// (allocation) sampling decisions.
package dynsample

import "time"

// MaxTimeUntilNextSample caps how far ahead RecordSampleDuration
// schedules the next sample, however expensive the last sample was, so a
// single slow sample never pauses sampling for longer than this.
const MaxTimeUntilNextSample = 10 * time.Second

// maxSleepPerTick caps a single GetSleep call's advice so the worker
// loop always wakes up often enough to notice cancellation.
const maxSleepPerTick = 100 * time.Millisecond

// DefaultOverheadTargetPercentage is the default steady-state ratio of
// sampling time to wall-clock time the continuous controller targets.
const DefaultOverheadTargetPercentage = 2.0

// ContinuousRateController paces continuous (tick-driven) sampling so
// that, in steady state, the fraction of wall-clock time spent sampling
// does not exceed a target overhead percentage.
type ContinuousRateController struct {
	targetPercentage float64
	nextSampleAt     time.Time
	haveNext         bool
}

// NewContinuousRateController returns a controller targeting the given
// overhead percentage (e.g. 2.0 for 2%).
func NewContinuousRateController(targetPercentage float64) *ContinuousRateController {
	return &ContinuousRateController{targetPercentage: targetPercentage}
}

// ShouldSample reports whether a sample may be taken at now.
func (c *ContinuousRateController) ShouldSample(now time.Time) bool {
	return !c.haveNext || !now.Before(c.nextSampleAt)
}

// GetSleep returns how long the worker should sleep before its next
// attempt, clamped to 100ms so cancellation is always noticed promptly.
func (c *ContinuousRateController) GetSleep(now time.Time) time.Duration {
	if !c.haveNext {
		return 0
	}
	d := c.nextSampleAt.Sub(now)
	if d <= 0 {
		return 0
	}
	if d > maxSleepPerTick {
		return maxSleepPerTick
	}
	return d
}

// RecordSampleDuration tells the controller how long the just-completed
// sample took (sampleCost) and how long the tick loop's own bookkeeping
// added (tickCost), and schedules the soonest next-sample time that
// keeps the steady-state overhead ratio
// sampleCost / (sampleCost + sleep + tickCost) at or below the target.
func (c *ContinuousRateController) RecordSampleDuration(now time.Time, sampleCost, tickCost time.Duration) {
	if c.targetPercentage <= 0 {
		c.nextSampleAt = now
		c.haveNext = true
		return
	}
	// sampleCost/(sampleCost+sleep+tickCost) <= target/100
	// => sleep >= sampleCost*(100/target - 1) - tickCost
	budget := float64(sampleCost) * (100.0/c.targetPercentage - 1.0)
	sleep := time.Duration(budget) - tickCost
	if sleep < 0 {
		sleep = 0
	}
	if sleep > MaxTimeUntilNextSample {
		sleep = MaxTimeUntilNextSample
	}
	c.nextSampleAt = now.Add(sleep)
	c.haveNext = true
}
