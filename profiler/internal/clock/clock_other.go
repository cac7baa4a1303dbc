// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

//go:build !linux

package clock

import "time"

// systemSource falls back to the Go runtime clock on platforms without
// clock_gettime(2) semantics identical to Linux's. Go's monotonic clock
// reading (via time.Now) is still suitable for deltas; it is simply not
// exposed as a raw int64 ns value without going through a time.Time.
type systemSource struct{ start time.Time }

// System is the default clock.Source for this platform.
var System Source = systemSource{start: time.Now()}

func (s systemSource) MonotonicNowNS() int64 {
	return time.Since(s.start).Nanoseconds()
}

func (s systemSource) MonotonicCoarseNowNS() int64 {
	return s.MonotonicNowNS()
}

func (systemSource) RealtimeNowNS() int64 {
	return time.Now().UnixNano()
}

func (systemSource) CPUClockIDFor(int64) (uintptr, bool) { return 0, false }

func (systemSource) CPUNowNS(uintptr) (int64, bool) { return 0, false }
