// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

// Package strinterner is an immutable interned string arena: repeated
// strings (function names, filenames) are stored once and referenced by a
// small integer handle, the same copy-on-write-over-shared-storage idiom
// the rest of the profiler's immutable package uses for tag slices, here
// generalized from "slice of strings" to "deduplicating arena of
// strings".
package strinterner

import "sync"

// ID is a handle into an Interner's arena. The zero ID is never issued by
// Intern, so it is safe to use as a "not present" sentinel.
type ID uint32

// Interner deduplicates strings behind small integer handles. It is safe
// for concurrent use.
type Interner struct {
	mu    sync.RWMutex
	byStr map[string]ID
	byID  []string
}

// New returns an empty Interner.
func New() *Interner {
	return &Interner{
		byStr: make(map[string]ID),
		byID:  []string{""}, // index 0 reserved, never issued
	}
}

// Intern returns the handle for s, assigning a new one if s has not been
// seen before.
func (in *Interner) Intern(s string) ID {
	in.mu.RLock()
	if id, ok := in.byStr[s]; ok {
		in.mu.RUnlock()
		return id
	}
	in.mu.RUnlock()

	in.mu.Lock()
	defer in.mu.Unlock()
	if id, ok := in.byStr[s]; ok {
		return id
	}
	id := ID(len(in.byID))
	in.byID = append(in.byID, s)
	in.byStr[s] = id
	return id
}

// Lookup resolves a handle back to its string. It returns false for the
// zero ID or any handle not produced by this Interner.
func (in *Interner) Lookup(id ID) (string, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	if id == 0 || int(id) >= len(in.byID) {
		return "", false
	}
	return in.byID[id], true
}

// Len reports how many distinct strings have been interned.
func (in *Interner) Len() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return len(in.byID) - 1
}
