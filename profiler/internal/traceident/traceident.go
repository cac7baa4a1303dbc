// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

// Package traceident is the collaborator boundary between the
// thread-context collector and whatever APM tracer is running in the
// process: it resolves a goroutine id to the trace/span identifiers (and
// optional endpoint name) of the trace currently executing on it,
// without the collector needing to depend on a concrete tracer
// implementation.
package traceident

import (
	"context"
	"sync"
)

// EndpointType gates whether a root span's resource name is eligible for
// endpoint-name collection.
type EndpointType string

const (
	EndpointWeb    EndpointType = "web"
	EndpointProxy  EndpointType = "proxy"
	EndpointWorker EndpointType = "worker"
)

// TraceIdentifiers is what the collector attaches to a sample: numeric
// span identifiers plus, when the active root span's type qualifies, the
// endpoint (resource) name of the request being served.
type TraceIdentifiers struct {
	LocalRootSpanID uint64
	SpanID          uint64
	Endpoint        string
	HasEndpoint     bool
}

// Source resolves a goroutine id to its active trace's identifiers.
// Lookup returns ok=false when goroutineID has no known active trace
// (the common case for goroutines the tracer never instrumented).
type Source interface {
	Lookup(goroutineID int64) (ids TraceIdentifiers, ok bool)
}

// span is what RegisterGoroutine associates with a goroutine: either a
// direct tracer span, or one reached by following an OTel bridge's
// parent chain.
type span struct {
	localRootSpanID uint64
	spanID          uint64
	endpointType    EndpointType
	resource        string
	// otelParent, if set, means this span was created to mirror a
	// distinct OpenTelemetry span; Lookup follows otelParent first to
	// find the outermost tracer-native root before reporting identifiers,
	// mirroring "if a distinct OTel span is linked, follow the chain".
	otelParent *span
}

// Registry is a contextkey-based default Source implementation. It
// stands in for the tracer's fiber-local/goroutine-local active-span
// storage: RegisterGoroutine associates a goroutine id with the span
// active in ctx at spawn time, and Lookup resolves it back.
type Registry struct {
	mu    sync.RWMutex
	spans map[int64]*span
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{spans: make(map[int64]*span)}
}

type ctxKey struct{}

// WithSpan returns a context carrying the given span identifiers, for a
// goroutine to register via RegisterGoroutine at spawn time.
func WithSpan(ctx context.Context, localRootSpanID, spanID uint64, endpointType EndpointType, resource string) context.Context {
	return context.WithValue(ctx, ctxKey{}, &span{
		localRootSpanID: localRootSpanID,
		spanID:          spanID,
		endpointType:    endpointType,
		resource:        resource,
	})
}

// WithOTelLink returns a context whose span links back to parent,
// standing in for an OpenTelemetry bridge span that wraps a tracer-native
// parent.
func WithOTelLink(ctx context.Context, parent context.Context, spanID uint64) context.Context {
	p, _ := parent.Value(ctxKey{}).(*span)
	return context.WithValue(ctx, ctxKey{}, &span{spanID: spanID, otelParent: p})
}

// RegisterGoroutine associates goroutineID with the span active in ctx,
// if any. It is the caller's (the runtime-instrumentation layer's)
// responsibility to invoke this when a goroutine is spawned to carry a
// trace forward.
func (r *Registry) RegisterGoroutine(ctx context.Context, goroutineID int64) {
	s, ok := ctx.Value(ctxKey{}).(*span)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spans[goroutineID] = s
}

// Forget removes a goroutine's registration. The thread-context
// collector's dead-context sweep does not call it; registrations stay
// until a caller forgets them.
func (r *Registry) Forget(goroutineID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.spans, goroutineID)
}

// Lookup resolves goroutineID's active span, following any OTel link to
// the outermost tracer-native root before reporting identifiers.
func (r *Registry) Lookup(goroutineID int64) (TraceIdentifiers, bool) {
	r.mu.RLock()
	s, ok := r.spans[goroutineID]
	r.mu.RUnlock()
	if !ok {
		return TraceIdentifiers{}, false
	}

	root := s
	for root.otelParent != nil {
		root = root.otelParent
	}

	ids := TraceIdentifiers{LocalRootSpanID: root.localRootSpanID, SpanID: s.spanID}
	switch root.endpointType {
	case EndpointWeb, EndpointProxy, EndpointWorker:
		if root.resource != "" {
			ids.Endpoint = root.resource
			ids.HasEndpoint = true
		}
	}
	return ids, true
}
