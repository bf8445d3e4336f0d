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
	"cmp"
	"context"
	"errors"
)

const defaultTraceName = "Agent workflow"

// TraceParams are the parameters for creating a new trace.
type TraceParams struct {
	// WorkflowName is the name of the logical app or workflow. For example,
	// you could provide "code_bot" for a coding agent, or "customer_support"
	// for a customer support agent.
	WorkflowName string

	// Optional TraceID. We recommend using GenTraceID to generate a trace ID,
	// to guarantee that IDs are correctly formatted.
	// If empty, a new trace ID is generated.
	TraceID string

	// Optional grouping identifier to link multiple traces from the same
	// conversation or process.
	GroupID string

	// Optional dictionary of additional metadata to attach to the trace.
	Metadata map[string]any

	// If true, a NoOpTrace is returned and the trace is not recorded.
	Disabled bool
}

// NewTrace creates a new trace. The trace will not be started automatically:
// you should either use RunTrace, or call Trace.Start and Trace.Finish
// manually.
//
// In addition to the workflow name and optional grouping identifier, you can
// provide an arbitrary metadata dictionary to attach additional user-defined
// information to the trace.
func NewTrace(ctx context.Context, params TraceParams) Trace {
	if GetCurrentTrace(ctx) != nil {
		Logger().Warn("Trace already exists. Creating a new trace, but this is probably a mistake.")
	}
	return GetTraceProvider().CreateTrace(
		cmp.Or(params.WorkflowName, defaultTraceName),
		params.TraceID,
		params.GroupID,
		params.Metadata,
		params.Disabled,
	)
}

// RunTrace creates a new trace, starts it as the current trace for the scope
// of fn, and finishes it when fn returns, even in case of error or panic.
func RunTrace(ctx context.Context, params TraceParams, fn func(context.Context, Trace) error) (err error) {
	trace := NewTrace(ctx, params)
	ctx = ContextWithClonedOrNewScope(ctx)

	if err = trace.Start(ctx, true); err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, trace.Finish(ctx, true))
	}()

	return fn(ctx, trace)
}

// SpanParams are the common parameters for creating a new span.
type SpanParams struct {
	// Optional span ID. If empty, a new span ID is generated.
	// We recommend using GenSpanID to guarantee correct formatting.
	SpanID string

	// Optional parent, which must be either a Trace or a Span.
	// If nil, the current trace/span from the context is used as parent.
	Parent any

	// If true, a NoOpSpan is returned and the span is not recorded.
	Disabled bool
}

// AgentSpanParams are the parameters for creating a new agent span.
type AgentSpanParams struct {
	SpanParams
	// The name of the agent.
	Name string
	// Optional list of agent names to which this agent could hand off control.
	Handoffs []string
	// Optional list of tool names available to this agent.
	Tools []string
	// Optional name of the output type of the agent.
	OutputType string
}

// NewAgentSpan creates a new agent span. The span will not be started
// automatically: use AgentSpan instead, or call Span.Start and Span.Finish
// manually.
func NewAgentSpan(ctx context.Context, params AgentSpanParams) Span {
	return GetTraceProvider().CreateSpan(
		ctx,
		&AgentSpanData{
			Name:       params.Name,
			Handoffs:   params.Handoffs,
			Tools:      params.Tools,
			OutputType: params.OutputType,
		},
		params.SpanID,
		params.Parent,
		params.Disabled,
	)
}

// AgentSpan creates a new agent span, starts it as the current span for the
// scope of fn, and finishes it when fn returns, even in case of error or
// panic.
func AgentSpan(ctx context.Context, params AgentSpanParams, fn func(context.Context, Span) error) error {
	return runSpan(ctx, NewAgentSpan(ctx, params), fn)
}

// FunctionSpanParams are the parameters for creating a new function span.
type FunctionSpanParams struct {
	SpanParams
	// The name of the function.
	Name string
	// Optional input to the function.
	Input string
	// Optional output of the function.
	Output any
}

// NewFunctionSpan creates a new function span. The span will not be started
// automatically.
func NewFunctionSpan(ctx context.Context, params FunctionSpanParams) Span {
	return GetTraceProvider().CreateSpan(
		ctx,
		&FunctionSpanData{
			Name:   params.Name,
			Input:  params.Input,
			Output: params.Output,
		},
		params.SpanID,
		params.Parent,
		params.Disabled,
	)
}

// FunctionSpan creates a new function span, starts it as the current span for
// the scope of fn, and finishes it when fn returns, even in case of error or
// panic.
func FunctionSpan(ctx context.Context, params FunctionSpanParams, fn func(context.Context, Span) error) error {
	return runSpan(ctx, NewFunctionSpan(ctx, params), fn)
}

// GenerationSpanParams are the parameters for creating a new generation span.
type GenerationSpanParams struct {
	SpanParams
	// The sequence of input messages sent to the model.
	Input []map[string]any
	// The sequence of output messages received from the model.
	Output []map[string]any
	// The model identifier used for the generation.
	Model string
	// The model configuration (hyperparameters) used.
	ModelConfig map[string]any
	// A dictionary of usage information (input tokens, output tokens, etc.).
	Usage map[string]any
}

// NewGenerationSpan creates a new generation span. The span will not be
// started automatically.
//
// The span captures the details of a model generation, including input
// message sequence, any generated outputs, the model name and configuration,
// and usage data. If you only need to capture a model response identifier,
// consider using NewResponseSpan instead.
func NewGenerationSpan(ctx context.Context, params GenerationSpanParams) Span {
	return GetTraceProvider().CreateSpan(
		ctx,
		&GenerationSpanData{
			Input:       params.Input,
			Output:      params.Output,
			Model:       params.Model,
			ModelConfig: params.ModelConfig,
			Usage:       params.Usage,
		},
		params.SpanID,
		params.Parent,
		params.Disabled,
	)
}

// GenerationSpan creates a new generation span, starts it as the current span
// for the scope of fn, and finishes it when fn returns, even in case of error
// or panic.
func GenerationSpan(ctx context.Context, params GenerationSpanParams, fn func(context.Context, Span) error) error {
	return runSpan(ctx, NewGenerationSpan(ctx, params), fn)
}

// ResponseSpanParams are the parameters for creating a new response span.
type ResponseSpanParams struct {
	SpanParams
	// The unique identifier of the model response.
	ResponseID string
}

// NewResponseSpan creates a new response span. The span will not be started
// automatically.
func NewResponseSpan(ctx context.Context, params ResponseSpanParams) Span {
	return GetTraceProvider().CreateSpan(
		ctx,
		&ResponseSpanData{ResponseID: params.ResponseID},
		params.SpanID,
		params.Parent,
		params.Disabled,
	)
}

// ResponseSpan creates a new response span, starts it as the current span for
// the scope of fn, and finishes it when fn returns, even in case of error or
// panic.
func ResponseSpan(ctx context.Context, params ResponseSpanParams, fn func(context.Context, Span) error) error {
	return runSpan(ctx, NewResponseSpan(ctx, params), fn)
}

// GuardrailSpanParams are the parameters for creating a new guardrail span.
type GuardrailSpanParams struct {
	SpanParams
	// The name of the guardrail.
	Name string
	// Whether the guardrail was triggered.
	Triggered bool
}

// NewGuardrailSpan creates a new guardrail span. The span will not be started
// automatically.
func NewGuardrailSpan(ctx context.Context, params GuardrailSpanParams) Span {
	return GetTraceProvider().CreateSpan(
		ctx,
		&GuardrailSpanData{
			Name:      params.Name,
			Triggered: params.Triggered,
		},
		params.SpanID,
		params.Parent,
		params.Disabled,
	)
}

// GuardrailSpan creates a new guardrail span, starts it as the current span
// for the scope of fn, and finishes it when fn returns, even in case of error
// or panic.
func GuardrailSpan(ctx context.Context, params GuardrailSpanParams, fn func(context.Context, Span) error) error {
	return runSpan(ctx, NewGuardrailSpan(ctx, params), fn)
}

// HandoffSpanParams are the parameters for creating a new handoff span.
type HandoffSpanParams struct {
	SpanParams
	// The name of the agent handing off control.
	FromAgent string
	// The name of the agent receiving control.
	ToAgent string
}

// NewHandoffSpan creates a new handoff span. The span will not be started
// automatically.
func NewHandoffSpan(ctx context.Context, params HandoffSpanParams) Span {
	return GetTraceProvider().CreateSpan(
		ctx,
		&HandoffSpanData{
			FromAgent: params.FromAgent,
			ToAgent:   params.ToAgent,
		},
		params.SpanID,
		params.Parent,
		params.Disabled,
	)
}

// HandoffSpan creates a new handoff span, starts it as the current span for
// the scope of fn, and finishes it when fn returns, even in case of error or
// panic.
func HandoffSpan(ctx context.Context, params HandoffSpanParams, fn func(context.Context, Span) error) error {
	return runSpan(ctx, NewHandoffSpan(ctx, params), fn)
}

// CustomSpanParams are the parameters for creating a new custom span.
type CustomSpanParams struct {
	SpanParams
	// The name of the custom span.
	Name string
	// Arbitrary structured data to associate with the span.
	Data map[string]any
}

// NewCustomSpan creates a new custom span, to which you can add your own
// metadata. The span will not be started automatically.
func NewCustomSpan(ctx context.Context, params CustomSpanParams) Span {
	return GetTraceProvider().CreateSpan(
		ctx,
		&CustomSpanData{
			Name: params.Name,
			Data: params.Data,
		},
		params.SpanID,
		params.Parent,
		params.Disabled,
	)
}

// CustomSpan creates a new custom span, starts it as the current span for the
// scope of fn, and finishes it when fn returns, even in case of error or
// panic.
func CustomSpan(ctx context.Context, params CustomSpanParams, fn func(context.Context, Span) error) error {
	return runSpan(ctx, NewCustomSpan(ctx, params), fn)
}

// runSpan starts the given span as the current span in a cloned scope, runs
// fn, and finishes the span when fn returns.
func runSpan(ctx context.Context, span Span, fn func(context.Context, Span) error) (err error) {
	ctx = ContextWithClonedOrNewScope(ctx)

	if err = span.Start(ctx, true); err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, span.Finish(ctx, true))
	}()

	return fn(ctx, span)
}
