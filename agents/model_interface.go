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

package agents

import (
	"context"

	"github.com/nlpodyssey/agentcore/modelsettings"
	"github.com/nlpodyssey/agentcore/usage"
	"github.com/openai/openai-go/v3/packages/param"
)

type ModelTracing uint8

const (
	// ModelTracingDisabled means tracing is disabled entirely.
	ModelTracingDisabled ModelTracing = iota

	// ModelTracingEnabled means tracing is enabled, and all data is included.
	ModelTracingEnabled

	// ModelTracingEnabledWithoutData means tracing is enabled, but inputs
	// and outputs are not included.
	ModelTracingEnabledWithoutData
)

func (mt ModelTracing) IsDisabled() bool  { return mt == ModelTracingDisabled }
func (mt ModelTracing) IncludeData() bool { return mt == ModelTracingEnabled }

// ModelResponse is the complete response produced by a Model invocation.
type ModelResponse struct {
	// A list of outputs (messages, tool calls, etc.) generated by the model.
	Output []TResponseOutputItem

	// The usage information for the response.
	Usage *usage.Usage

	// The ID of the response which can be used to refer to the response in
	// subsequent calls to the model. Not supported by all model providers.
	ResponseID string
}

// ModelResponseParams groups the parameters for Model's GetResponse and
// StreamResponse methods.
type ModelResponseParams struct {
	// The system instructions to use, if present.
	SystemInstructions param.Opt[string]

	// The input items to the model, in OpenAI Responses format.
	Input Input

	// The model settings to use.
	ModelSettings modelsettings.ModelSettings

	// The tools available to the model.
	Tools []Tool

	// The output type to use, if present.
	OutputType OutputTypeInterface

	// The handoffs available to the model.
	Handoffs []Handoff

	// Tracing configuration.
	Tracing ModelTracing

	// The ID of the previous response, if any.
	PreviousResponseID string

	// The ID of the stored conversation, if any.
	ConversationID string
}

// ModelStreamResponseCallback receives streamed events from a Model.
type ModelStreamResponseCallback = func(ctx context.Context, event TResponseStreamEvent) error

// Model is the base interface for calling an LLM.
type Model interface {
	// GetResponse returns a complete model response for the given parameters.
	GetResponse(ctx context.Context, params ModelResponseParams) (*ModelResponse, error)

	// StreamResponse streams a model response for the given parameters,
	// yielding each event to the callback as it is produced.
	StreamResponse(ctx context.Context, params ModelResponseParams, yield ModelStreamResponseCallback) error
}

// ModelProvider is the base interface for a model provider: it looks up
// Model instances by name.
type ModelProvider interface {
	// GetModel returns the Model with the given name.
	GetModel(modelName string) (Model, error)
}

// AgentModel is the model to be used by an Agent: either a model name,
// to be resolved with a ModelProvider, or a Model instance.
type AgentModel struct {
	name  string
	model Model
}

// NewAgentModelName creates an AgentModel holding a model name.
func NewAgentModelName(name string) AgentModel {
	return AgentModel{name: name}
}

// NewAgentModel creates an AgentModel holding a Model instance.
func NewAgentModel(model Model) AgentModel {
	return AgentModel{model: model}
}

// SafeModelName returns the model name, if set.
func (am AgentModel) SafeModelName() (string, bool) {
	return am.name, am.model == nil
}

// ModelName returns the model name, or an empty string if a Model instance
// is set instead.
func (am AgentModel) ModelName() string {
	return am.name
}

// SafeModel returns the Model instance, if set.
func (am AgentModel) SafeModel() (Model, bool) {
	return am.model, am.model != nil
}
