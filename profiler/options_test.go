// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package profiler

import (
	"os"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.validate(); err != nil {
		t.Fatalf("expected the default config to validate, got %v", err)
	}
	if cfg.runtimeID == "" {
		t.Fatal("expected a generated runtime id")
	}
}

func TestWithMaxFramesOutOfRangeFailsValidation(t *testing.T) {
	for _, n := range []int{0, 4, 10001, -1} {
		cfg := defaultConfig()
		WithMaxFrames(n)(cfg)
		if err := cfg.validate(); err == nil {
			t.Fatalf("expected max_frames=%d to fail validation", n)
		}
	}
	cfg := defaultConfig()
	WithMaxFrames(5)(cfg)
	if err := cfg.validate(); err != nil {
		t.Fatalf("expected max_frames=5 (the lower bound) to validate, got %v", err)
	}
	WithMaxFrames(10000)(cfg)
	if err := cfg.validate(); err != nil {
		t.Fatalf("expected max_frames=10000 (the upper bound) to validate, got %v", err)
	}
}

func TestWithHeapSampleEveryMustBePositive(t *testing.T) {
	cfg := defaultConfig()
	WithHeapSampleEvery(0)(cfg)
	if err := cfg.validate(); err == nil {
		t.Fatal("expected heap_sample_every=0 to fail validation")
	}
}

func TestOptionsOverrideDefaults(t *testing.T) {
	cfg := defaultConfig()
	opts := []Option{
		WithCPUTimeEnabled(false),
		WithAllocSamplesEnabled(false),
		WithTimelineEnabled(false),
		WithOverheadTarget(5.0),
		WithUploadTimeout(2 * time.Second),
		WithTemplateSourceSuffixes(".gen.go"),
		WithRuntimeID("fixed-id"),
	}
	for _, o := range opts {
		o(cfg)
	}

	if cfg.cpuTimeEnabled {
		t.Fatal("expected cpu time disabled")
	}
	if cfg.allocSamplesEnabled {
		t.Fatal("expected alloc samples disabled")
	}
	if cfg.timelineEnabled {
		t.Fatal("expected timeline disabled")
	}
	if cfg.overheadTargetPercentage != 5.0 {
		t.Fatalf("got overhead target %v", cfg.overheadTargetPercentage)
	}
	if cfg.uploadTimeout != 2*time.Second {
		t.Fatalf("got upload timeout %v", cfg.uploadTimeout)
	}
	if suf := cfg.templateSourceSuffixes.Slice(); len(suf) != 1 || suf[0] != ".gen.go" {
		t.Fatalf("got suffixes %v", suf)
	}
	if cfg.runtimeID != "fixed-id" {
		t.Fatalf("got runtime id %q", cfg.runtimeID)
	}
}

func TestEnvOverrideTakesPrecedenceWhenSet(t *testing.T) {
	os.Setenv("DD_PROFILING_MAX_FRAMES", "64")
	defer os.Unsetenv("DD_PROFILING_MAX_FRAMES")

	cfg := defaultConfig()
	WithMaxFrames(512)(cfg)
	applyEnvOverrides(cfg)

	if cfg.maxFrames != 64 {
		t.Fatalf("got max_frames %d, want the env override of 64", cfg.maxFrames)
	}
}

func TestEnvOverrideIgnoredWhenUnset(t *testing.T) {
	os.Unsetenv("DD_PROFILING_MAX_FRAMES")
	cfg := defaultConfig()
	WithMaxFrames(256)(cfg)
	applyEnvOverrides(cfg)

	if cfg.maxFrames != 256 {
		t.Fatalf("got max_frames %d, want the explicitly configured 256", cfg.maxFrames)
	}
}

func TestWithStatsdNilFallsBackToNoop(t *testing.T) {
	cfg := defaultConfig()
	WithStatsd(nil)(cfg)
	if _, ok := cfg.statsd.(noopStatsd); !ok {
		t.Fatalf("expected a nil statsd client to fall back to noopStatsd, got %T", cfg.statsd)
	}
}
