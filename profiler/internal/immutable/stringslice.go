// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

// Package immutable provides copy-on-write containers safe to share
// between goroutines without synchronization, used for label/tag slices
// that are read far more often than they're modified.
package immutable

// StringSlice is an immutable slice of strings. The zero value is an empty
// slice. Every read returns a defensive copy so callers can never observe
// or cause mutation of shared backing arrays.
type StringSlice struct {
	s []string
}

// NewStringSlice returns a StringSlice holding a copy of s. Later mutation
// of s by the caller has no effect on the returned value.
func NewStringSlice(s []string) StringSlice {
	cp := make([]string, len(s))
	copy(cp, s)
	return StringSlice{s: cp}
}

// Slice returns a fresh copy of the underlying strings.
func (f StringSlice) Slice() []string {
	cp := make([]string, len(f.s))
	copy(cp, f.s)
	return cp
}

// Append returns a new StringSlice with v appended, leaving f unmodified.
func (f StringSlice) Append(v string) StringSlice {
	cp := make([]string, len(f.s), len(f.s)+1)
	copy(cp, f.s)
	cp = append(cp, v)
	return StringSlice{s: cp}
}
