// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package gcmonitor

import (
	"runtime"
	"testing"
	"time"
)

func TestPollReportsNewCycles(t *testing.T) {
	m := New()

	// prime the monitor so its first real Poll only reports cycles that
	// happen after this point.
	m.Poll(time.Now())

	runtime.GC()
	runtime.GC()

	events := m.Poll(time.Now())
	if len(events) == 0 {
		t.Fatal("expected at least one GC cycle to be reported after forcing two collections")
	}
	for _, e := range events {
		if e.FinishWallNS < e.StartWallNS {
			t.Fatalf("got event with finish before start: %+v", e)
		}
	}
}

func TestPollIsEmptyWithoutNewCycles(t *testing.T) {
	m := New()
	m.Poll(time.Now())
	runtime.GC()
	m.Poll(time.Now())

	if got := m.Poll(time.Now()); len(got) != 0 {
		t.Fatalf("got %d events with no new GC activity, want 0", len(got))
	}
}
