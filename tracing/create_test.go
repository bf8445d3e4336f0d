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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestProvider(t *testing.T) *recordingProcessor {
	t.Helper()
	t.Setenv("OPENAI_AGENTS_DISABLE_TRACING", "0")
	resetTraceGlobalsForTest()
	t.Cleanup(resetTraceGlobalsForTest)

	provider := NewDefaultTraceProvider()
	processor := newRecordingProcessor()
	provider.RegisterProcessor(processor)
	SetTraceProvider(provider)
	return processor
}

func TestRunTrace(t *testing.T) {
	processor := setupTestProvider(t)

	var seen Trace
	err := RunTrace(
		context.Background(), TraceParams{WorkflowName: "test_workflow"},
		func(ctx context.Context, trace Trace) error {
			seen = GetCurrentTrace(ctx)
			assert.Same(t, trace, seen)
			return nil
		},
	)
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.Equal(t, "test_workflow", seen.Name())

	require.Len(t, processor.startedTraces, 1)
	require.Len(t, processor.endedTraces, 1)
	assert.Same(t, seen, processor.startedTraces[0])
}

func TestRunTraceFinishesOnError(t *testing.T) {
	processor := setupTestProvider(t)

	wantErr := errors.New("workflow failed")
	err := RunTrace(
		context.Background(), TraceParams{WorkflowName: "test_workflow"},
		func(ctx context.Context, trace Trace) error {
			return wantErr
		},
	)
	assert.ErrorIs(t, err, wantErr)
	assert.Len(t, processor.endedTraces, 1)
}

func TestNewTraceDefaultsWorkflowName(t *testing.T) {
	setupTestProvider(t)

	trace := NewTrace(context.Background(), TraceParams{})
	assert.Equal(t, "Agent workflow", trace.Name())
}

func TestNewTraceDisabled(t *testing.T) {
	setupTestProvider(t)

	trace := NewTrace(context.Background(), TraceParams{WorkflowName: "w", Disabled: true})
	_, ok := trace.(*NoOpTrace)
	assert.True(t, ok)
}

func TestSpanWrappersNesting(t *testing.T) {
	processor := setupTestProvider(t)

	err := RunTrace(
		context.Background(), TraceParams{WorkflowName: "test_workflow"},
		func(ctx context.Context, trace Trace) error {
			return AgentSpan(
				ctx, AgentSpanParams{Name: "Assistant", Handoffs: []string{"Refunds"}},
				func(ctx context.Context, agentSpan Span) error {
					assert.Same(t, agentSpan, GetCurrentSpan(ctx))
					assert.Equal(t, trace.TraceID(), agentSpan.TraceID())
					assert.Empty(t, agentSpan.ParentID())

					return FunctionSpan(
						ctx, FunctionSpanParams{Name: "get_weather", Input: `{"city":"Rome"}`},
						func(ctx context.Context, functionSpan Span) error {
							assert.Equal(t, agentSpan.SpanID(), functionSpan.ParentID())
							functionSpan.SpanData().(*FunctionSpanData).Output = "sunny"
							return nil
						},
					)
				},
			)
		},
	)
	require.NoError(t, err)

	require.Len(t, processor.endedSpans, 2)
	functionData, ok := processor.endedSpans[0].SpanData().(*FunctionSpanData)
	require.True(t, ok)
	assert.Equal(t, "get_weather", functionData.Name)
	assert.Equal(t, "sunny", functionData.Output)

	agentData, ok := processor.endedSpans[1].SpanData().(*AgentSpanData)
	require.True(t, ok)
	assert.Equal(t, "Assistant", agentData.Name)
	assert.Equal(t, []string{"Refunds"}, agentData.Handoffs)
}

func TestSpanWrapperFinishesOnError(t *testing.T) {
	processor := setupTestProvider(t)

	wantErr := errors.New("guardrail failed")
	err := RunTrace(
		context.Background(), TraceParams{WorkflowName: "test_workflow"},
		func(ctx context.Context, trace Trace) error {
			return GuardrailSpan(
				ctx, GuardrailSpanParams{Name: "content_check"},
				func(ctx context.Context, span Span) error {
					span.SpanData().(*GuardrailSpanData).Triggered = true
					return wantErr
				},
			)
		},
	)
	assert.ErrorIs(t, err, wantErr)

	require.Len(t, processor.endedSpans, 1)
	data, ok := processor.endedSpans[0].SpanData().(*GuardrailSpanData)
	require.True(t, ok)
	assert.True(t, data.Triggered)
}

func TestSpanOutsideTraceIsNoOp(t *testing.T) {
	processor := setupTestProvider(t)

	err := CustomSpan(
		context.Background(), CustomSpanParams{Name: "orphan"},
		func(ctx context.Context, span Span) error {
			_, ok := span.(*NoOpSpan)
			assert.True(t, ok)
			return nil
		},
	)
	require.NoError(t, err)
	assert.Empty(t, processor.endedSpans)
}

func TestHandoffSpanData(t *testing.T) {
	processor := setupTestProvider(t)

	err := RunTrace(
		context.Background(), TraceParams{WorkflowName: "test_workflow"},
		func(ctx context.Context, trace Trace) error {
			return HandoffSpan(
				ctx, HandoffSpanParams{FromAgent: "Triage"},
				func(ctx context.Context, span Span) error {
					span.SpanData().(*HandoffSpanData).ToAgent = "Billing"
					return nil
				},
			)
		},
	)
	require.NoError(t, err)

	require.Len(t, processor.endedSpans, 1)
	exported := processor.endedSpans[0].SpanData().Export()
	assert.Equal(t, "handoff", exported["type"])
	assert.Equal(t, "Triage", exported["from_agent"])
	assert.Equal(t, "Billing", exported["to_agent"])
}
