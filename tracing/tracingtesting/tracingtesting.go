// Copyright 2025 The NLP Odyssey Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tracingtesting provides an in-memory trace processor for tests.
package tracingtesting

import (
	"context"
	"slices"
	"sort"
	"sync"
	"testing"

	"github.com/nlpodyssey/agentcore/tracing"
)

// Event identifies one processor notification, in the order it was received.
type Event string

const (
	TraceStart Event = "trace_start"
	TraceEnd   Event = "trace_end"
	SpanStart  Event = "span_start"
	SpanEnd    Event = "span_end"
)

// recorder stores finished traces and spans in memory.
type recorder struct {
	mu     sync.Mutex
	traces []tracing.Trace
	spans  []tracing.Span
	events []Event
}

var testRecorder = new(recorder)

func (r *recorder) OnTraceStart(_ context.Context, trace tracing.Trace) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, TraceStart)
	return nil
}

func (r *recorder) OnTraceEnd(_ context.Context, trace tracing.Trace) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.traces = append(r.traces, trace)
	r.events = append(r.events, TraceEnd)
	return nil
}

func (r *recorder) OnSpanStart(_ context.Context, span tracing.Span) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, SpanStart)
	return nil
}

func (r *recorder) OnSpanEnd(_ context.Context, span tracing.Span) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spans = append(r.spans, span)
	r.events = append(r.events, SpanEnd)
	return nil
}

func (r *recorder) Shutdown(context.Context) error   { return nil }
func (r *recorder) ForceFlush(context.Context) error { return nil }

func (r *recorder) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.traces = nil
	r.spans = nil
	r.events = nil
}

// Setup installs a fresh trace provider that records everything in memory,
// with tracing force-enabled regardless of the environment. Recorded data is
// cleared when the test ends.
func Setup(t testing.TB) {
	t.Helper()

	testRecorder.clear()
	provider := tracing.NewDefaultTraceProvider()
	provider.SetDisabled(false)
	provider.RegisterProcessor(testRecorder)
	tracing.SetTraceProvider(provider)

	t.Cleanup(testRecorder.clear)
}

// FetchOrderedSpans returns the finished spans sorted by start time.
// Spans that export nothing (no-op spans) are skipped unless includingEmpty
// is true.
func FetchOrderedSpans(includingEmpty bool) []tracing.Span {
	testRecorder.mu.Lock()
	defer testRecorder.mu.Unlock()

	spans := make([]tracing.Span, 0, len(testRecorder.spans))
	for _, span := range testRecorder.spans {
		if includingEmpty || span.Export() != nil {
			spans = append(spans, span)
		}
	}
	sort.SliceStable(spans, func(i, j int) bool {
		return spans[i].StartedAt().Before(spans[j].StartedAt())
	})
	return spans
}

// FetchTraces returns the finished traces in completion order.
func FetchTraces(includingEmpty bool) []tracing.Trace {
	testRecorder.mu.Lock()
	defer testRecorder.mu.Unlock()

	traces := make([]tracing.Trace, 0, len(testRecorder.traces))
	for _, trace := range testRecorder.traces {
		if includingEmpty || trace.Export() != nil {
			traces = append(traces, trace)
		}
	}
	return traces
}

// FetchEvents returns every processor notification received so far, in order.
func FetchEvents() []Event {
	testRecorder.mu.Lock()
	defer testRecorder.mu.Unlock()
	return slices.Clone(testRecorder.events)
}
