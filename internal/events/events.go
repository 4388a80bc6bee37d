// Copyright 2024 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package events defines the lifecycle notifications emitted by the facade.
//
// Sinks are called synchronously and their results are never inspected, so
// an implementation must not block for long and must tolerate any event.
package events

import (
	"context"
	"sync"

	"go.chromium.org/luci/common/logging"
)

// Event is the payload of a log or success notification.
type Event struct {
	Service string         `json:"service"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// ErrorEvent is the payload of an error notification.
type ErrorEvent struct {
	Service string         `json:"service"`
	Data    map[string]any `json:"data,omitempty"`
	Err     error          `json:"-"`
}

// Sink receives notifications.
type Sink interface {
	Log(ctx context.Context, e Event)
	Success(ctx context.Context, e Event)
	Error(ctx context.Context, e ErrorEvent)
}

// Nop drops everything.
var Nop Sink = nopSink{}

type nopSink struct{}

func (nopSink) Log(context.Context, Event)        {}
func (nopSink) Success(context.Context, Event)    {}
func (nopSink) Error(context.Context, ErrorEvent) {}

// LogSink writes notifications to the logger installed in the context.
type LogSink struct{}

var _ Sink = LogSink{}

// Log logs at debug level.
func (LogSink) Log(ctx context.Context, e Event) {
	logging.Debugf(withFields(ctx, e.Service, e.Data), "%s", e.Message)
}

// Success logs at info level.
func (LogSink) Success(ctx context.Context, e Event) {
	logging.Infof(withFields(ctx, e.Service, e.Data), "%s", e.Message)
}

// Error logs at error level.
func (LogSink) Error(ctx context.Context, e ErrorEvent) {
	logging.WithError(e.Err).Errorf(withFields(ctx, e.Service, e.Data), "%s failed", e.Service)
}

func withFields(ctx context.Context, service string, data map[string]any) context.Context {
	ctx = logging.SetField(ctx, "service", service)
	if len(data) > 0 {
		ctx = logging.SetFields(ctx, logging.Fields(data))
	}
	return ctx
}

// Multi fans every notification out to sinks, in order.
func Multi(sinks ...Sink) Sink {
	var out multiSink
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type multiSink []Sink

func (m multiSink) Log(ctx context.Context, e Event) {
	for _, s := range m {
		s.Log(ctx, e)
	}
}

func (m multiSink) Success(ctx context.Context, e Event) {
	for _, s := range m {
		s.Success(ctx, e)
	}
}

func (m multiSink) Error(ctx context.Context, e ErrorEvent) {
	for _, s := range m {
		s.Error(ctx, e)
	}
}

// Recorder keeps every notification in memory. Useful in tests.
type Recorder struct {
	mu        sync.Mutex
	Logs      []Event
	Successes []Event
	Errors    []ErrorEvent
}

var _ Sink = &Recorder{}

// Log records e.
func (r *Recorder) Log(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Logs = append(r.Logs, e)
}

// Success records e.
func (r *Recorder) Success(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Successes = append(r.Successes, e)
}

// Error records e.
func (r *Recorder) Error(_ context.Context, e ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors = append(r.Errors, e)
}
