// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

// Package globalconfig stores process-wide configuration that is shared
// between the profiler and anything else linked into the same binary.
package globalconfig

import (
	"sync"

	"github.com/google/uuid"
)

var cfg = struct {
	mu        sync.RWMutex
	runtimeID string
}{}

// RuntimeID returns this process' unique identifier, generating one on
// first use. The value is attached as a "runtime-id" tag on every profile
// so that multiple processes of the same service can be told apart.
func RuntimeID() string {
	cfg.mu.RLock()
	id := cfg.runtimeID
	cfg.mu.RUnlock()
	if id != "" {
		return id
	}
	cfg.mu.Lock()
	defer cfg.mu.Unlock()
	if cfg.runtimeID == "" {
		cfg.runtimeID = uuid.NewString()
	}
	return cfg.runtimeID
}

// SetRuntimeID overrides the generated runtime ID, for testing.
func SetRuntimeID(id string) {
	cfg.mu.Lock()
	defer cfg.mu.Unlock()
	cfg.runtimeID = id
}
