// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

// Package stackcollect turns a captured goroutine stack into the location
// vector a recorder stores a sample against: it trims generated-code
// suffixes, classifies the wait state of idle samples, and caps the frame
// count with a truncation placeholder.
package stackcollect

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/DataDog/gvl-profiler-go/profiler/internal/stackparse"
	"github.com/DataDog/gvl-profiler-go/profiler/internal/valuetypes"
)

// Location is one emitted pprof-style stack frame. A Location with an
// empty Function is a synthetic placeholder (e.g. "N frames omitted").
type Location struct {
	Function string
	File     string
	Line     int
}

// Recorder is the subset of the recorder's API the stack collector
// depends on, kept narrow so this package can be tested against a stub.
type Recorder interface {
	RecordSample(locations []Location, values valuetypes.ValueSet, labels []valuetypes.Label) error
}

// FrameBuffer bounds how many frames a single sample retains. It is
// reused across samples to avoid a per-sample allocation, the same way
// the teacher's own stack buffers are sized once and reused.
type FrameBuffer struct {
	max int
}

// NewFrameBuffer returns a buffer that retains at most max frames per
// sample. max is validated by the profiler's configuration layer
// (5..10000); this package trusts its caller.
func NewFrameBuffer(max int) *FrameBuffer {
	return &FrameBuffer{max: max}
}

// templateSuffixRe trims a trailing __<digits>_<digits> or
// ___<digits>_<digits> run from a generated method name.
var templateSuffixRe = regexp.MustCompile(`_{2,3}\d+_\d+$`)

// maxTrimLen is the name-length cap above which trimming is skipped.
const maxTrimLen = 1024

// trimTemplateSuffix removes a trailing template-compiler id from fn,
// unless file ends in one of the configured exempt suffixes, or fn is
// too long to bother scanning. With no suffixes configured, every name is
// trimmed.
func trimTemplateSuffix(fn, file string, suffixes []string) string {
	if len(fn) > maxTrimLen {
		return fn
	}
	for _, suf := range suffixes {
		if strings.HasSuffix(file, suf) {
			return fn
		}
	}
	return templateSuffixRe.ReplaceAllString(fn, "")
}

// Classify maps a goroutine's reported wait state into the collector's
// five-state lattice. It is only meaningful for samples with no cpu-time
// component; callers should only apply the result when cpu_time_ns==0 and
// wall_time_ns>0 (a "pure wait" sample) and otherwise fall back to "had
// cpu"/"unknown".
func Classify(g *stackparse.Goroutine) string {
	if len(g.Stack) > 0 {
		switch topFrameName(g.Stack[0].Func) {
		case "sleep", "time.Sleep":
			return "sleeping"
		case "select":
			return "waiting"
		case "synchronize", "lock", "join", "sync.Mutex.Lock", "sync.WaitGroup.Wait":
			return "blocked"
		case "wait_readable":
			return "network"
		}
	}
	switch g.State {
	case "chan receive", "chan send", "select":
		return "waiting"
	case "sync.Mutex.Lock", "sync.RWMutex.RLock", "sync.RWMutex.Lock", "semacquire", "sync.WaitGroup.Wait":
		return "blocked"
	case "IO wait":
		return "network"
	case "sleep":
		return "sleeping"
	}
	return "unknown"
}

func topFrameName(fn string) string {
	if i := strings.LastIndexByte(fn, '.'); i >= 0 {
		return fn[i+1:]
	}
	return fn
}

// SampleThread walks g's stack innermost-first, builds the Location
// vector (applying template-suffix trimming and the buffer's frame cap),
// overwrites the state label with "had cpu" for any sample carrying
// cpu time, or with the wait-state classification for a pure-wait
// sample, and charges the sample to rec.
func SampleThread(g *stackparse.Goroutine, buf *FrameBuffer, rec Recorder, values valuetypes.ValueSet, labels []valuetypes.Label, suffixes []string) error {
	depth := len(g.Stack)
	locs := make([]Location, 0, depth)

	// stackparse.Parse already returns frames innermost (youngest) first,
	// matching runtime.Stack's own ordering; the collector walks them in
	// that order and only truncates from the bottom (oldest frames).
	n := depth
	truncated := n > buf.max && buf.max > 0
	if truncated {
		n = buf.max - 1
	}
	for i := 0; i < n; i++ {
		f := g.Stack[i]
		locs = append(locs, Location{
			Function: trimTemplateSuffix(f.Func, f.File, suffixes),
			File:     f.File,
			Line:     f.Line,
		})
	}
	if truncated {
		omitted := depth - n
		locs = append(locs, Location{Function: "", File: fmt.Sprintf("%d frames omitted", omitted)})
	}

	switch {
	case values[valuetypes.CPUTimeNS] > 0:
		labels = setStateLabel(labels, "had cpu")
	case values[valuetypes.WallTimeNS] > 0:
		labels = setStateLabel(labels, Classify(g))
	}

	return rec.RecordSample(locs, values, labels)
}

func setStateLabel(labels []valuetypes.Label, state string) []valuetypes.Label {
	for i := range labels {
		if labels[i].Key == valuetypes.StateLabel {
			labels[i].Str = state
			return labels
		}
	}
	return append(labels, valuetypes.Label{Key: valuetypes.StateLabel, Str: state})
}
