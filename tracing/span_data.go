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

// SpanData is the typed payload of a Span.
type SpanData interface {
	// Type returns the span type identifier, e.g. "agent" or "function".
	Type() string
	// Export returns the payload as a JSON-friendly map.
	Export() map[string]any
}

// AgentSpanData captures one agent activation.
type AgentSpanData struct {
	Name       string
	Handoffs   []string
	Tools      []string
	OutputType string
}

func (*AgentSpanData) Type() string { return "agent" }

func (d *AgentSpanData) Export() map[string]any {
	return map[string]any{
		"type":        d.Type(),
		"name":        d.Name,
		"handoffs":    d.Handoffs,
		"tools":       d.Tools,
		"output_type": d.OutputType,
	}
}

// FunctionSpanData captures one tool invocation.
type FunctionSpanData struct {
	Name   string
	Input  string
	Output any
}

func (*FunctionSpanData) Type() string { return "function" }

func (d *FunctionSpanData) Export() map[string]any {
	return map[string]any{
		"type":   d.Type(),
		"name":   d.Name,
		"input":  d.Input,
		"output": d.Output,
	}
}

// GenerationSpanData captures one raw model generation.
type GenerationSpanData struct {
	Input       []map[string]any
	Output      []map[string]any
	Model       string
	ModelConfig map[string]any
	Usage       map[string]any
}

func (*GenerationSpanData) Type() string { return "generation" }

func (d *GenerationSpanData) Export() map[string]any {
	return map[string]any{
		"type":         d.Type(),
		"input":        d.Input,
		"output":       d.Output,
		"model":        d.Model,
		"model_config": d.ModelConfig,
		"usage":        d.Usage,
	}
}

// ResponseSpanData references a model response by ID, without duplicating
// its content the way GenerationSpanData does.
type ResponseSpanData struct {
	ResponseID string
}

func (*ResponseSpanData) Type() string { return "response" }

func (d *ResponseSpanData) Export() map[string]any {
	return map[string]any{
		"type":        d.Type(),
		"response_id": d.ResponseID,
	}
}

// GuardrailSpanData captures one guardrail check and whether it tripped.
type GuardrailSpanData struct {
	Name      string
	Triggered bool
}

func (*GuardrailSpanData) Type() string { return "guardrail" }

func (d *GuardrailSpanData) Export() map[string]any {
	return map[string]any{
		"type":      d.Type(),
		"name":      d.Name,
		"triggered": d.Triggered,
	}
}

// HandoffSpanData captures one agent-to-agent transfer.
type HandoffSpanData struct {
	FromAgent string
	ToAgent   string
}

func (*HandoffSpanData) Type() string { return "handoff" }

func (d *HandoffSpanData) Export() map[string]any {
	return map[string]any{
		"type":       d.Type(),
		"from_agent": d.FromAgent,
		"to_agent":   d.ToAgent,
	}
}

// CustomSpanData carries arbitrary user-provided span payload.
type CustomSpanData struct {
	Name string
	Data map[string]any
}

func (*CustomSpanData) Type() string { return "custom" }

func (d *CustomSpanData) Export() map[string]any {
	return map[string]any{
		"type": d.Type(),
		"name": d.Name,
		"data": d.Data,
	}
}
