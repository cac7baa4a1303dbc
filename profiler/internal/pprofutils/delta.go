// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2021 Datadog, Inc.

package pprofutils

import (
	"errors"
	"strings"

	"github.com/google/pprof/profile"
)

// Delta computes b-a for the sample types named in SampleTypes (or for
// every sample type when SampleTypes is empty), leaving the remaining
// value columns as reported by b. Samples whose resulting values are all
// zero are dropped, mirroring how the Datadog agent derives delta profiles
// for cumulative (non-delta) profile types such as heap.
type Delta struct {
	SampleTypes []ValueType
}

// Convert returns a profile with b's values minus a's, matched by call
// stack (sequence of leaf function names) rather than by Location identity,
// so that unrelated symbolization differences between a and b don't cause
// mismatches.
func (d Delta) Convert(a, b *profile.Profile) (*profile.Profile, error) {
	deltaIdx := map[int]bool{}
	if len(d.SampleTypes) == 0 {
		for i := range b.SampleType {
			deltaIdx[i] = true
		}
	} else {
		for _, want := range d.SampleTypes {
			found := false
			for i, st := range b.SampleType {
				if st.Type == want.Type && st.Unit == want.Unit {
					deltaIdx[i] = true
					found = true
					break
				}
			}
			if !found {
				return nil, errors.New("one or more sample type(s) was not found in the profile")
			}
		}
	}

	aByKey := map[string]*profile.Sample{}
	for _, s := range a.Sample {
		aByKey[stackKey(s)] = s
	}

	out := b.Copy()
	out.Sample = out.Sample[:0]
	for _, s := range b.Sample {
		key := stackKey(s)
		prev := aByKey[key]
		values := make([]int64, len(s.Value))
		nonZero := false
		for i, v := range s.Value {
			if deltaIdx[i] {
				var pv int64
				if prev != nil && i < len(prev.Value) {
					pv = prev.Value[i]
				}
				d := v - pv
				if d < 0 {
					d = 0
				}
				values[i] = d
			} else {
				values[i] = v
			}
			if values[i] != 0 {
				nonZero = true
			}
		}
		if !nonZero {
			continue
		}
		s2 := *s
		s2.Value = values
		out.Sample = append(out.Sample, &s2)
	}
	return out, nil
}

func stackKey(s *profile.Sample) string {
	names := make([]string, len(s.Location))
	for i, loc := range s.Location {
		if len(loc.Line) > 0 && loc.Line[0].Function != nil {
			names[i] = loc.Line[0].Function.Name
		}
	}
	return strings.Join(names, ";")
}

// fixNegativeValues clamps every negative sample value in prof to zero,
// guarding against stale matches caused by flaky symbolization producing
// apparently-shrinking cumulative profiles.
func fixNegativeValues(prof *profile.Profile) {
	for _, s := range prof.Sample {
		for i, v := range s.Value {
			if v < 0 {
				s.Value[i] = 0
			}
		}
	}
}

func hasNegativeValue(s *profile.Sample) bool {
	for _, v := range s.Value {
		if v < 0 {
			return true
		}
	}
	return false
}
