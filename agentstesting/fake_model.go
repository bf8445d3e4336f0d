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

package agentstesting

import (
	"context"
	"fmt"

	"github.com/nlpodyssey/agentcore/agents"
	"github.com/nlpodyssey/agentcore/modelsettings"
	"github.com/nlpodyssey/agentcore/tracing"
	"github.com/nlpodyssey/agentcore/usage"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/responses"
)

// FakeModel is a scripted Model implementation for tests. Each call to
// GetResponse or StreamResponse consumes the next queued turn output and
// records the parameters it was called with.
type FakeModel struct {
	TracingEnabled bool
	TurnOutputs    []FakeModelTurnOutput
	LastTurnArgs   FakeModelTurnArgs
	FirstTurnArgs  *FakeModelTurnArgs
	HardcodedUsage *usage.Usage
	ResponseID     string
}

// FakeModelTurnOutput is what the fake model produces for one turn:
// either a list of output items or an error.
type FakeModelTurnOutput struct {
	Value []agents.TResponseOutputItem
	Error error
}

// FakeModelTurnArgs captures the parameters of a model call, so tests can
// assert on what the run loop sent to the model.
type FakeModelTurnArgs struct {
	SystemInstructions param.Opt[string]
	Input              agents.Input
	ModelSettings      modelsettings.ModelSettings
	Tools              []agents.Tool
	OutputType         agents.OutputTypeInterface
	PreviousResponseID string
	ConversationID     string
}

func NewFakeModel(tracingEnabled bool, initialOutput *FakeModelTurnOutput) *FakeModel {
	m := &FakeModel{TracingEnabled: tracingEnabled}
	if initialOutput != nil {
		m.TurnOutputs = []FakeModelTurnOutput{*initialOutput}
	}
	return m
}

func (m *FakeModel) SetHardcodedUsage(u *usage.Usage) {
	m.HardcodedUsage = u
}

func (m *FakeModel) SetNextOutput(output FakeModelTurnOutput) {
	m.TurnOutputs = append(m.TurnOutputs, output)
}

func (m *FakeModel) AddMultipleTurnOutputs(outputs []FakeModelTurnOutput) {
	m.TurnOutputs = append(m.TurnOutputs, outputs...)
}

func (m *FakeModel) GetNextOutput() FakeModelTurnOutput {
	if len(m.TurnOutputs) == 0 {
		return FakeModelTurnOutput{}
	}
	v := m.TurnOutputs[0]
	m.TurnOutputs = m.TurnOutputs[1:]
	return v
}

func (m *FakeModel) recordTurnArgs(params agents.ModelResponseParams) {
	m.LastTurnArgs = FakeModelTurnArgs{
		SystemInstructions: params.SystemInstructions,
		Input:              params.Input,
		ModelSettings:      params.ModelSettings,
		Tools:              params.Tools,
		OutputType:         params.OutputType,
		PreviousResponseID: params.PreviousResponseID,
		ConversationID:     params.ConversationID,
	}
	if m.FirstTurnArgs == nil {
		first := m.LastTurnArgs
		m.FirstTurnArgs = &first
	}
}

func (m *FakeModel) GetResponse(ctx context.Context, params agents.ModelResponseParams) (*agents.ModelResponse, error) {
	m.recordTurnArgs(params)

	var modelResponse *agents.ModelResponse
	err := tracing.GenerationSpan(
		ctx, tracing.GenerationSpanParams{SpanParams: tracing.SpanParams{Disabled: !m.TracingEnabled}},
		func(ctx context.Context, span tracing.Span) error {
			output := m.GetNextOutput()

			if err := output.Error; err != nil {
				span.SetError(tracing.SpanError{
					Message: "Error",
					Data: map[string]any{
						"name":    fmt.Sprintf("%T", err),
						"message": err.Error(),
					},
				})
				return err
			}

			u := m.HardcodedUsage
			if u == nil {
				u = usage.NewUsage()
			}

			modelResponse = &agents.ModelResponse{
				Output:     output.Value,
				Usage:      u,
				ResponseID: m.ResponseID,
			}
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	return modelResponse, nil
}

func (m *FakeModel) StreamResponse(
	ctx context.Context,
	params agents.ModelResponseParams,
	yield agents.ModelStreamResponseCallback,
) error {
	m.recordTurnArgs(params)

	return tracing.GenerationSpan(
		ctx, tracing.GenerationSpanParams{SpanParams: tracing.SpanParams{Disabled: !m.TracingEnabled}},
		func(ctx context.Context, span tracing.Span) error {
			output := m.GetNextOutput()

			if err := output.Error; err != nil {
				span.SetError(tracing.SpanError{
					Message: "Error",
					Data: map[string]any{
						"name":    fmt.Sprintf("%T", err),
						"message": err.Error(),
					},
				})
				return err
			}

			return yield(ctx, agents.TResponseStreamEvent{ // responses.ResponseCompletedEvent
				Response:       GetResponseObj(output.Value, m.ResponseID, m.HardcodedUsage),
				Type:           "response.completed",
				SequenceNumber: 0,
			})
		})
}

// GetResponseObj assembles a complete responses.Response around the given
// output items, suitable for a "response.completed" stream event.
func GetResponseObj(
	output []agents.TResponseOutputItem,
	responseID string,
	u *usage.Usage,
) responses.Response {
	if responseID == "" {
		responseID = "123"
	}

	var responseUsage responses.ResponseUsage
	if u != nil {
		responseUsage = responses.ResponseUsage{
			InputTokens: int64(u.InputTokens),
			InputTokensDetails: responses.ResponseUsageInputTokensDetails{
				CachedTokens: 0,
			},
			OutputTokens: int64(u.OutputTokens),
			OutputTokensDetails: responses.ResponseUsageOutputTokensDetails{
				ReasoningTokens: 0,
			},
			TotalTokens: int64(u.TotalTokens),
		}
	}

	return responses.Response{
		ID:        responseID,
		CreatedAt: 123,
		Model:     "test_model",
		Object:    "response",
		Output:    output,
		ToolChoice: responses.ResponseToolChoiceUnion{
			OfToolChoiceMode: responses.ToolChoiceOptionsNone,
		},
		Tools:             nil,
		TopP:              0,
		ParallelToolCalls: false,
		Usage:             responseUsage,
	}
}
