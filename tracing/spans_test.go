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

package tracing

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingProcessor collects every notification it receives, in order.
type recordingProcessor struct {
	mu            sync.Mutex
	startedTraces []Trace
	endedTraces   []Trace
	startedSpans  []Span
	endedSpans    []Span
	shutdowns     int
	flushes       int
}

func newRecordingProcessor() *recordingProcessor {
	return &recordingProcessor{}
}

func (p *recordingProcessor) OnTraceStart(_ context.Context, trace Trace) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startedTraces = append(p.startedTraces, trace)
	return nil
}

func (p *recordingProcessor) OnTraceEnd(_ context.Context, trace Trace) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endedTraces = append(p.endedTraces, trace)
	return nil
}

func (p *recordingProcessor) OnSpanStart(_ context.Context, span Span) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startedSpans = append(p.startedSpans, span)
	return nil
}

func (p *recordingProcessor) OnSpanEnd(_ context.Context, span Span) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endedSpans = append(p.endedSpans, span)
	return nil
}

func (p *recordingProcessor) Shutdown(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shutdowns += 1
	return nil
}

func (p *recordingProcessor) ForceFlush(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushes += 1
	return nil
}

func TestSpanImplLifecycle(t *testing.T) {
	processor := newRecordingProcessor()
	span := NewSpanImpl("trace_1", "span_1", "", processor, &FunctionSpanData{Name: "fn"})

	ctx := context.Background()
	require.NoError(t, span.Start(ctx, false))
	assert.False(t, span.StartedAt().IsZero())
	assert.True(t, span.EndedAt().IsZero())
	require.NoError(t, span.Finish(ctx, false))
	assert.False(t, span.EndedAt().IsZero())

	require.Len(t, processor.startedSpans, 1)
	require.Len(t, processor.endedSpans, 1)
	assert.Same(t, span, processor.startedSpans[0])
}

func TestSpanImplDoubleStartIgnored(t *testing.T) {
	processor := newRecordingProcessor()
	span := NewSpanImpl("trace_1", "span_1", "", processor, &FunctionSpanData{Name: "fn"})

	ctx := context.Background()
	require.NoError(t, span.Start(ctx, false))
	started := span.StartedAt()
	require.NoError(t, span.Start(ctx, false))

	assert.Equal(t, started, span.StartedAt())
	assert.Len(t, processor.startedSpans, 1)
}

func TestSpanImplDoubleFinishIgnored(t *testing.T) {
	processor := newRecordingProcessor()
	span := NewSpanImpl("trace_1", "span_1", "", processor, &FunctionSpanData{Name: "fn"})

	ctx := context.Background()
	require.NoError(t, span.Start(ctx, false))
	require.NoError(t, span.Finish(ctx, false))
	require.NoError(t, span.Finish(ctx, false))

	assert.Len(t, processor.endedSpans, 1)
}

func TestSpanImplExport(t *testing.T) {
	processor := newRecordingProcessor()
	span := NewSpanImpl("trace_1", "span_2", "span_1", processor, &AgentSpanData{Name: "A"})

	ctx := context.Background()
	require.NoError(t, span.Start(ctx, false))
	span.SetError(SpanError{Message: "boom", Data: map[string]any{"detail": "d"}})
	require.NoError(t, span.Finish(ctx, false))

	exported := span.Export()
	assert.Equal(t, "trace.span", exported["object"])
	assert.Equal(t, "span_2", exported["id"])
	assert.Equal(t, "trace_1", exported["trace_id"])
	assert.Equal(t, "span_1", exported["parent_id"])
	assert.Equal(t, TimeISO(span.StartedAt()), exported["started_at"])
	assert.Equal(t, TimeISO(span.EndedAt()), exported["ended_at"])

	spanData, ok := exported["span_data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "agent", spanData["type"])
	assert.Equal(t, "A", spanData["name"])

	spanError, ok := exported["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "boom", spanError["message"])
}

func TestSpanImplMarkAsCurrent(t *testing.T) {
	processor := newRecordingProcessor()
	ctx := ContextWithNewScope(context.Background())

	outer := NewSpanImpl("trace_1", "span_outer", "", processor, &AgentSpanData{Name: "outer"})
	require.NoError(t, outer.Start(ctx, true))
	assert.Same(t, Span(outer), GetCurrentSpan(ctx))

	inner := NewSpanImpl("trace_1", "span_inner", "span_outer", processor, &FunctionSpanData{Name: "inner"})
	require.NoError(t, inner.Start(ctx, true))
	assert.Same(t, Span(inner), GetCurrentSpan(ctx))

	require.NoError(t, inner.Finish(ctx, true))
	assert.Same(t, Span(outer), GetCurrentSpan(ctx))

	require.NoError(t, outer.Finish(ctx, true))
	assert.Nil(t, GetCurrentSpan(ctx))
}

func TestSpanImplOutOfOrderFinish(t *testing.T) {
	processor := newRecordingProcessor()
	ctx := ContextWithNewScope(context.Background())

	first := NewSpanImpl("trace_1", "span_first", "", processor, &CustomSpanData{Name: "first"})
	require.NoError(t, first.Start(ctx, true))
	second := NewSpanImpl("trace_1", "span_second", "span_first", processor, &CustomSpanData{Name: "second"})
	require.NoError(t, second.Start(ctx, true))

	// Finishing a span that is no longer current must not clobber the scope.
	require.NoError(t, first.Finish(ctx, true))
	assert.Same(t, Span(second), GetCurrentSpan(ctx))

	require.NoError(t, second.Finish(ctx, true))
	assert.Same(t, Span(first), GetCurrentSpan(ctx))
}

func TestNoOpSpan(t *testing.T) {
	spanData := &CustomSpanData{Name: "noop"}
	span := NewNoOpSpan(spanData)

	ctx := ContextWithNewScope(context.Background())
	require.NoError(t, span.Start(ctx, true))
	assert.Same(t, Span(span), GetCurrentSpan(ctx))
	require.NoError(t, span.Finish(ctx, true))
	assert.Nil(t, GetCurrentSpan(ctx))

	assert.Same(t, SpanData(spanData), span.SpanData())
	assert.Nil(t, span.Export())
}

func TestTraceImplLifecycle(t *testing.T) {
	processor := newRecordingProcessor()
	trace := NewTraceImpl("workflow", "trace_1", "group_1", map[string]any{"k": "v"}, processor)

	ctx := ContextWithNewScope(context.Background())
	require.NoError(t, trace.Start(ctx, true))
	assert.Same(t, Trace(trace), GetCurrentTrace(ctx))
	require.NoError(t, trace.Finish(ctx, true))
	assert.Nil(t, GetCurrentTrace(ctx))

	require.Len(t, processor.startedTraces, 1)
	require.Len(t, processor.endedTraces, 1)

	exported := trace.Export()
	assert.Equal(t, "trace", exported["object"])
	assert.Equal(t, "trace_1", exported["id"])
	assert.Equal(t, "workflow", exported["workflow_name"])
	assert.Equal(t, "group_1", exported["group_id"])
	assert.Equal(t, map[string]any{"k": "v"}, exported["metadata"])
}
