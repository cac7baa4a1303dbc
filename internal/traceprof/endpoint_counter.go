// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2023 Datadog, Inc.

package traceprof

import "sync"

// EndpointCounter counts hits per endpoint name, up to an optional limit on
// the number of distinct endpoints tracked concurrently. A negative limit
// means unlimited.
type EndpointCounter struct {
	mu      sync.Mutex
	counts  map[string]uint64
	limit   int
	enabled bool
}

// NewEndpointCounter returns a new EndpointCounter enabled by default,
// tracking at most limit distinct endpoint names (unlimited if limit < 0).
func NewEndpointCounter(limit int) *EndpointCounter {
	return &EndpointCounter{
		counts:  make(map[string]uint64),
		limit:   limit,
		enabled: true,
	}
}

// SetEnabled enables or disables counting. Inc is a no-op while disabled.
func (c *EndpointCounter) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
}

// Inc increments the hit count for endpoint, unless the counter is disabled
// or the distinct-endpoint limit has already been reached.
func (c *EndpointCounter) Inc(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	if _, ok := c.counts[endpoint]; !ok {
		if c.limit >= 0 && len(c.counts) >= c.limit {
			return
		}
	}
	c.counts[endpoint]++
}

// GetAndReset returns the current counts and resets the counter to empty.
func (c *EndpointCounter) GetAndReset() map[string]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.counts
	c.counts = make(map[string]uint64)
	return out
}
