// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

//go:build linux

package clock

import "golang.org/x/sys/unix"

// systemSource reads the platform monotonic/realtime clocks via
// clock_gettime(2).
type systemSource struct{}

// System is the default clock.Source for this platform.
var System Source = systemSource{}

func (systemSource) MonotonicNowNS() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return ts.Nano()
}

func (systemSource) MonotonicCoarseNowNS() int64 {
	var ts unix.Timespec
	clockID := unix.CLOCK_MONOTONIC_COARSE
	if err := unix.ClockGettime(clockID, &ts); err != nil {
		return systemSource{}.MonotonicNowNS()
	}
	return ts.Nano()
}

func (systemSource) RealtimeNowNS() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_REALTIME, &ts); err != nil {
		return 0
	}
	return ts.Nano()
}

// CPUClockIDFor always reports no usable clock: Go goroutines are
// multiplexed M:N onto OS threads, so there is no stable per-goroutine cpu
// clock id to discover the way there is a per-pthread one in a
// GIL-serialized runtime. Callers degrade cpu-time to zero, per the
// documented degradation path.
func (systemSource) CPUClockIDFor(int64) (uintptr, bool) { return 0, false }

func (systemSource) CPUNowNS(uintptr) (int64, bool) { return 0, false }
