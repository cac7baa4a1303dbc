// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package stackdump

import (
	"fmt"
	"runtime"
	"testing"
)

func TestCaptureFindsSelf(t *testing.T) {
	id := currentGoroutineID(t)

	snap, err := Capture()
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if snap.Len() == 0 {
		t.Fatal("expected at least one goroutine")
	}

	g, ok := snap.ByID(id)
	if !ok {
		t.Fatalf("expected to find goroutine %d in snapshot of %v", id, snap.IDs())
	}
	if len(g.Stack) == 0 {
		t.Fatal("expected a non-empty stack for the calling goroutine")
	}
}

func TestCaptureGrowsBuffer(t *testing.T) {
	done := make(chan struct{})
	for i := 0; i < 64; i++ {
		go func() { <-done }()
	}
	defer close(done)

	snap, err := Capture()
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if snap.Len() < 64 {
		t.Fatalf("got %d goroutines, want at least 64", snap.Len())
	}
}

// currentGoroutineID extracts the calling goroutine's id from a small,
// single-goroutine stack dump, avoiding any dependency on the package under
// test.
func currentGoroutineID(t *testing.T) uint64 {
	t.Helper()
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	var id uint64
	if _, err := fmt.Sscanf(string(buf[:n]), "goroutine %d ", &id); err != nil {
		t.Fatalf("failed to determine current goroutine id: %v", err)
	}
	return id
}
