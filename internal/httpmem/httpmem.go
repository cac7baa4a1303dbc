// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2023 Datadog, Inc.

// Package httpmem provides an in-memory HTTP server/client pair, used in
// tests that need to exercise a real http.Client/http.Server round trip
// without binding to a TCP port.
package httpmem

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
)

// memListener is a net.Listener backed by net.Pipe connections, handed out
// on demand by dial.
type memListener struct {
	mu     sync.Mutex
	conns  chan net.Conn
	closed bool
}

func newInMemoryListener() *memListener {
	return &memListener{conns: make(chan net.Conn)}
}

func (l *memListener) Accept() (net.Conn, error) {
	c, ok := <-l.conns
	if !ok {
		return nil, errors.New("httpmem: listener closed")
	}
	return c, nil
}

func (l *memListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.conns)
	return nil
}

func (l *memListener) Addr() net.Addr { return memAddr{} }

func (l *memListener) dial() (net.Conn, error) {
	client, server := net.Pipe()
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		client.Close()
		server.Close()
		return nil, errors.New("httpmem: server closed")
	}
	l.mu.Unlock()
	l.conns <- server
	return client, nil
}

type memAddr struct{}

func (memAddr) Network() string { return "mem" }
func (memAddr) String() string  { return "mem" }

// ServerAndClient starts an in-memory HTTP server serving h and returns it
// along with a client configured to talk to it.
func ServerAndClient(h http.Handler) (*http.Server, *http.Client) {
	listener := newInMemoryListener()
	server := &http.Server{Handler: h}
	go server.Serve(listener)

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(_ context.Context, _, _ string) (net.Conn, error) {
				return listener.dial()
			},
		},
	}
	return server, client
}
