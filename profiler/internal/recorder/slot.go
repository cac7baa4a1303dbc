// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package recorder

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/pprof/profile"

	"github.com/DataDog/gvl-profiler-go/profiler/internal/stackcollect"
	"github.com/DataDog/gvl-profiler-go/profiler/internal/valuetypes"
)

// slot is one of the recorder's two profile buffers: a pprof Profile
// plus the interning tables needed to append samples to it cheaply.
type slot struct {
	mu    sync.Mutex
	table *valuetypes.PositionTable
	prof  *profile.Profile
	start time.Time

	funcByName map[string]*profile.Function
	locByKey   map[string]*profile.Location
	endpoints  map[uint64]string

	nextFuncID uint64
	nextLocID  uint64
}

func newSlot(table *valuetypes.PositionTable, start time.Time) *slot {
	s := &slot{table: table}
	s.reset(table, start)
	return s
}

// reset replaces the slot's profile with an empty one for a new window
// starting at start, clearing the interning tables and endpoint map.
func (s *slot) reset(table *valuetypes.PositionTable, start time.Time) {
	sampleTypes := make([]*profile.ValueType, 0, table.Len())
	for _, d := range table.Descriptors() {
		sampleTypes = append(sampleTypes, &profile.ValueType{Type: d.Type, Unit: d.Unit})
	}
	s.table = table
	s.prof = &profile.Profile{
		SampleType: sampleTypes,
		TimeNanos:  start.UnixNano(),
	}
	s.start = start
	s.funcByName = make(map[string]*profile.Function)
	s.locByKey = make(map[string]*profile.Location)
	s.endpoints = make(map[uint64]string)
	s.nextFuncID = 0
	s.nextLocID = 0
}

// addSample appends one sample, interning each location's function by
// name and each frame by (function, file, line).
func (s *slot) addSample(locations []stackcollect.Location, values []int64, labels []valuetypes.Label) {
	locs := make([]*profile.Location, 0, len(locations))
	for _, l := range locations {
		locs = append(locs, s.internLocation(l))
	}

	sample := &profile.Sample{
		Location: locs,
		Value:    values,
	}
	for _, l := range labels {
		if l.Str != "" {
			if sample.Label == nil {
				sample.Label = map[string][]string{}
			}
			sample.Label[l.Key] = append(sample.Label[l.Key], l.Str)
			continue
		}
		if sample.NumLabel == nil {
			sample.NumLabel = map[string][]int64{}
		}
		sample.NumLabel[l.Key] = append(sample.NumLabel[l.Key], l.Num)
	}

	s.prof.Sample = append(s.prof.Sample, sample)
}

func (s *slot) internLocation(l stackcollect.Location) *profile.Location {
	key := fmt.Sprintf("%s\x00%s\x00%d", l.Function, l.File, l.Line)
	if loc, ok := s.locByKey[key]; ok {
		return loc
	}

	fn := s.internFunction(l.Function, l.File)
	s.nextLocID++
	loc := &profile.Location{
		ID: s.nextLocID,
		Line: []profile.Line{
			{Function: fn, Line: int64(l.Line)},
		},
	}
	s.locByKey[key] = loc
	s.prof.Location = append(s.prof.Location, loc)
	return loc
}

func (s *slot) internFunction(name, file string) *profile.Function {
	if fn, ok := s.funcByName[name]; ok {
		return fn
	}
	s.nextFuncID++
	fn := &profile.Function{
		ID:         s.nextFuncID,
		Name:       name,
		SystemName: name,
		Filename:   file,
	}
	s.funcByName[name] = fn
	s.prof.Function = append(s.prof.Function, fn)
	return fn
}
