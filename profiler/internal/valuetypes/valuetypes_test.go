// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package valuetypes

import "testing"

func TestPositionTablePacksOnlyEnabled(t *testing.T) {
	mask := Mask(0).With(CPUTimeNS).With(WallTimeNS)
	table := NewPositionTable(mask)
	if table.Len() != 2 {
		t.Fatalf("got %d enabled positions, want 2", table.Len())
	}

	var vs ValueSet
	vs.Set(CPUTimeNS, 100).Set(WallTimeNS, 200).Set(AllocSamples, 999)

	packed := table.Pack(vs)
	if len(packed) != 2 || packed[0] != 100 || packed[1] != 200 {
		t.Fatalf("got %v", packed)
	}
}

func TestPositionTableDescriptorsMatchOrder(t *testing.T) {
	mask := Mask(0).With(WallTimeNS).With(CPUTimeNS)
	table := NewPositionTable(mask)
	descs := table.Descriptors()
	if len(descs) != 2 {
		t.Fatalf("got %d descriptors", len(descs))
	}
	// canonical order is CPUTimeNS before WallTimeNS regardless of the
	// order positions were enabled in.
	if descs[0].Type != "cpu-time" || descs[1].Type != "wall-time" {
		t.Fatalf("got %+v", descs)
	}
}

func TestMaskSet(t *testing.T) {
	var m Mask
	if m.Set(CPUTimeNS) {
		t.Fatal("zero mask should have nothing set")
	}
	m = m.With(CPUTimeNS)
	if !m.Set(CPUTimeNS) {
		t.Fatal("expected CPUTimeNS to be set")
	}
	if m.Set(WallTimeNS) {
		t.Fatal("expected WallTimeNS to remain unset")
	}
}
