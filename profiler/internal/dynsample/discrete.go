// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package dynsample

import "time"

// adjustmentWindow is how often the discrete sampler recomputes its
// sampling interval from its moving-average rate/cost estimates.
const adjustmentWindow = time.Second

// emaAlpha weights how quickly the moving averages track new
// observations; smaller values smooth more aggressively.
const emaAlpha = 0.2

// DiscreteDynamicSampler paces event-driven (allocation) sampling:
// between adjustment windows it samples every k-th event
// (systematically, not randomly, to keep per-event cost predictable),
// and at each window boundary it recomputes k from observed event
// rate/cost so that sampling overhead tracks a target percentage.
type DiscreteDynamicSampler struct {
	targetPercentage float64

	emaRate float64 // events per second
	emaCost float64 // seconds per sampled event

	windowStart  time.Time
	windowEvents int64

	k       int64
	counter int64

	overheadAdjustment float64 // in [-target, 0]
}

// NewDiscreteDynamicSampler returns a sampler targeting the given
// overhead percentage, sampling every event until the first adjustment
// window elapses.
func NewDiscreteDynamicSampler(targetPercentage float64) *DiscreteDynamicSampler {
	return &DiscreteDynamicSampler{
		targetPercentage: targetPercentage,
		k:                1,
	}
}

// ShouldSample reports whether the caller should sample this event, and
// must be called exactly once per event so the systematic counter stays
// correct.
func (d *DiscreteDynamicSampler) ShouldSample(now time.Time) bool {
	if d.windowStart.IsZero() {
		d.windowStart = now
	}
	d.windowEvents++
	d.counter++
	if d.counter >= d.k {
		d.counter = 0
		return true
	}
	return false
}

// RecordSampleCost reports how long a just-taken sample cost, folding it
// into the cost moving average and, once the adjustment window has
// elapsed, recomputing the sampling interval k.
func (d *DiscreteDynamicSampler) RecordSampleCost(now time.Time, cost time.Duration) {
	costSeconds := cost.Seconds()
	if d.emaCost == 0 {
		d.emaCost = costSeconds
	} else {
		d.emaCost = emaAlpha*costSeconds + (1-emaAlpha)*d.emaCost
	}

	if d.windowStart.IsZero() {
		d.windowStart = now
		return
	}
	elapsed := now.Sub(d.windowStart)
	if elapsed < adjustmentWindow {
		return
	}

	rate := float64(d.windowEvents) / elapsed.Seconds()
	if d.emaRate == 0 {
		d.emaRate = rate
	} else {
		d.emaRate = emaAlpha*rate + (1-emaAlpha)*d.emaRate
	}
	d.windowStart = now
	d.windowEvents = 0

	d.adjust()
}

// adjust recomputes k (and the adaptive overhead correction) from the
// current rate/cost estimates so that, at the current event rate,
// sampling at 1-in-k keeps overhead at or below the target percentage.
func (d *DiscreteDynamicSampler) adjust() {
	if d.targetPercentage <= 0 || d.emaRate <= 0 || d.emaCost <= 0 {
		return
	}
	targetFraction := (d.targetPercentage + d.overheadAdjustment) / 100.0
	if targetFraction <= 0 {
		d.k = 1 << 30 // effectively stop sampling
		return
	}
	// overhead = samplingProbability * emaRate * emaCost
	// samplingProbability = targetFraction / (emaRate * emaCost)
	prob := targetFraction / (d.emaRate * d.emaCost)
	if prob <= 0 {
		prob = 1.0 / float64(1<<20)
	}
	if prob > 1 {
		prob = 1
	}
	k := int64(1.0/prob + 0.999999) // round up
	if k < 1 {
		k = 1
	}
	d.k = k

	actual := d.emaRate * d.emaCost / float64(k) * 100.0
	overshoot := actual - d.targetPercentage
	d.overheadAdjustment -= overshoot
	if d.overheadAdjustment < -d.targetPercentage {
		d.overheadAdjustment = -d.targetPercentage
	}
	if d.overheadAdjustment > 0 {
		d.overheadAdjustment = 0
	}
}

// K reports the current systematic sampling interval (every k-th event
// is sampled), exposed for tests asserting on the adjustment math.
func (d *DiscreteDynamicSampler) K() int64 { return d.k }
