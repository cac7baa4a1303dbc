// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2021 Datadog, Inc.

// Package pprofutils implements small, dependency-light helpers for working
// with *profile.Profile values in tests: a human-readable text format for
// fixtures, and a delta (value-subtraction) transform mirroring what the
// Datadog agent does for non-delta profile types.
package pprofutils

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/google/pprof/profile"
)

// ValueType mirrors profile.ValueType without requiring callers to import
// the pprof package just to describe a sample type.
type ValueType struct {
	Type string
	Unit string
}

// Text converts a human-readable, line-based stack representation into a
// *profile.Profile. Each line has the form:
//
//	func1;func2;func3 value1 value2 ...
//
// An optional header line of the form "type1/unit1 type2/unit2" preceding
// the samples declares the sample types; when omitted a single
// "samples/count" type is assumed.
type Text struct{}

// Convert parses r and returns the resulting profile.
func (Text) Convert(r io.Reader) (*profile.Profile, error) {
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return &profile.Profile{}, nil
	}

	sampleTypes := []ValueType{{Type: "samples", Unit: "count"}}
	start := 0
	if isHeaderLine(lines[0]) {
		sampleTypes = parseHeader(lines[0])
		start = 1
	}

	prof := &profile.Profile{PeriodType: &profile.ValueType{}}
	for _, st := range sampleTypes {
		prof.SampleType = append(prof.SampleType, &profile.ValueType{Type: st.Type, Unit: st.Unit})
	}

	funcs := map[string]*profile.Function{}
	locs := map[string]*profile.Location{}
	var nextFuncID, nextLocID uint64

	for _, line := range lines[start:] {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("pprofutils: invalid sample line %q", line)
		}
		stack := fields[0]
		valueFields := fields[1:]
		values := make([]int64, len(valueFields))
		for i, vf := range valueFields {
			v, err := strconv.ParseInt(vf, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("pprofutils: invalid value %q: %w", vf, err)
			}
			values[i] = v
		}

		names := strings.Split(stack, ";")
		sample := &profile.Sample{Value: values}
		for _, name := range names {
			fn, ok := funcs[name]
			if !ok {
				nextFuncID++
				fn = &profile.Function{ID: nextFuncID, Name: name}
				funcs[name] = fn
				prof.Function = append(prof.Function, fn)
			}
			loc, ok := locs[name]
			if !ok {
				nextLocID++
				loc = &profile.Location{ID: nextLocID, Line: []profile.Line{{Function: fn}}}
				locs[name] = loc
				prof.Location = append(prof.Location, loc)
			}
			sample.Location = append(sample.Location, loc)
		}
		prof.Sample = append(prof.Sample, sample)
	}
	return prof, nil
}

func isHeaderLine(line string) bool {
	if strings.Contains(line, ";") {
		return false
	}
	for _, f := range strings.Fields(line) {
		if !strings.Contains(f, "/") {
			return false
		}
	}
	return true
}

func parseHeader(line string) []ValueType {
	var out []ValueType
	for _, f := range strings.Fields(line) {
		parts := strings.SplitN(f, "/", 2)
		vt := ValueType{Type: parts[0]}
		if len(parts) == 2 {
			vt.Unit = parts[1]
		}
		out = append(out, vt)
	}
	return out
}

// Protobuf writes a *profile.Profile back out in the same line-based text
// format understood by Text, the inverse conversion used to assert on
// profile contents in tests without comparing raw protobuf bytes.
type Protobuf struct {
	// SampleTypes, when true, emits a header line naming the profile's
	// sample types before the sample lines.
	SampleTypes bool
}

// Convert writes prof to w.
func (p Protobuf) Convert(prof *profile.Profile, w io.Writer) error {
	bw := bufio.NewWriter(w)
	if p.SampleTypes {
		parts := make([]string, len(prof.SampleType))
		for i, st := range prof.SampleType {
			parts[i] = st.Type + "/" + st.Unit
		}
		if _, err := fmt.Fprintln(bw, strings.Join(parts, " ")); err != nil {
			return err
		}
	}
	samples := make([]*profile.Sample, len(prof.Sample))
	copy(samples, prof.Sample)
	sort.SliceStable(samples, func(i, j int) bool {
		var vi, vj int64
		if len(samples[i].Value) > 0 {
			vi = samples[i].Value[0]
		}
		if len(samples[j].Value) > 0 {
			vj = samples[j].Value[0]
		}
		return vi > vj
	})
	for _, s := range samples {
		names := make([]string, len(s.Location))
		for i, loc := range s.Location {
			if len(loc.Line) > 0 && loc.Line[0].Function != nil {
				names[i] = loc.Line[0].Function.Name
			}
		}
		values := make([]string, len(s.Value))
		for i, v := range s.Value {
			values[i] = strconv.FormatInt(v, 10)
		}
		line := strings.Join(names, ";")
		if len(values) > 0 {
			line += " " + strings.Join(values, " ")
		}
		if _, err := fmt.Fprintln(bw, line); err != nil {
			return err
		}
	}
	return bw.Flush()
}
