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

package agents_test

import (
	"context"
	"testing"

	"github.com/nlpodyssey/agentcore/agents"
	"github.com/nlpodyssey/agentcore/agentstesting"
	"github.com/nlpodyssey/agentcore/tracing"
	"github.com/nlpodyssey/agentcore/tracing/tracingtesting"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spanDataByType[T tracing.SpanData]() []T {
	var out []T
	for _, span := range tracingtesting.FetchOrderedSpans(false) {
		if data, ok := span.SpanData().(T); ok {
			out = append(out, data)
		}
	}
	return out
}

func TestSingleRunIsSingleTrace(t *testing.T) {
	tracingtesting.Setup(t)

	model := agentstesting.NewFakeModel(true, nil)
	agent := &agents.Agent{
		Name:  "test_agent",
		Model: param.NewOpt(agents.NewAgentModel(model)),
	}

	model.SetNextOutput(agentstesting.FakeModelTurnOutput{
		Value: []agents.TResponseOutputItem{
			agentstesting.GetTextMessage("first_test"),
		},
	})

	_, err := agents.Run(t.Context(), agent, "first_test")
	require.NoError(t, err)

	require.Len(t, tracingtesting.FetchTraces(true), 1)

	agentSpans := spanDataByType[*tracing.AgentSpanData]()
	require.Len(t, agentSpans, 1)
	assert.Equal(t, "test_agent", agentSpans[0].Name)
	assert.Equal(t, "string", agentSpans[0].OutputType)

	require.Len(t, spanDataByType[*tracing.GenerationSpanData](), 1)
}

func TestHandoffsProduceOneAgentSpanPerAgent(t *testing.T) {
	tracingtesting.Setup(t)

	model := agentstesting.NewFakeModel(true, nil)
	agent2 := &agents.Agent{
		Name:  "agent_2",
		Model: param.NewOpt(agents.NewAgentModel(model)),
	}
	agent1 := &agents.Agent{
		Name:          "agent_1",
		Model:         param.NewOpt(agents.NewAgentModel(model)),
		AgentHandoffs: []*agents.Agent{agent2},
	}
	triage := &agents.Agent{
		Name:          "triage",
		Model:         param.NewOpt(agents.NewAgentModel(model)),
		AgentHandoffs: []*agents.Agent{agent1, agent2},
	}

	model.AddMultipleTurnOutputs([]agentstesting.FakeModelTurnOutput{
		{Value: []agents.TResponseOutputItem{
			agentstesting.GetHandoffToolCall(agent1, "", ""),
		}},
		{Value: []agents.TResponseOutputItem{
			agentstesting.GetHandoffToolCall(agent2, "", ""),
		}},
		{Value: []agents.TResponseOutputItem{
			agentstesting.GetTextMessage("done"),
		}},
	})

	result, err := agents.Run(t.Context(), triage, "user_message")
	require.NoError(t, err)
	assert.Same(t, agent2, result.LastAgent)

	require.Len(t, tracingtesting.FetchTraces(true), 1)

	// Two handoffs: one agent span per visited agent.
	agentSpans := spanDataByType[*tracing.AgentSpanData]()
	require.Len(t, agentSpans, 3)
	assert.Equal(t, "triage", agentSpans[0].Name)
	assert.Equal(t, "agent_1", agentSpans[1].Name)
	assert.Equal(t, "agent_2", agentSpans[2].Name)

	handoffSpans := spanDataByType[*tracing.HandoffSpanData]()
	require.Len(t, handoffSpans, 2)
	assert.Equal(t, "triage", handoffSpans[0].FromAgent)
	assert.Equal(t, "agent_1", handoffSpans[0].ToAgent)
	assert.Equal(t, "agent_1", handoffSpans[1].FromAgent)
	assert.Equal(t, "agent_2", handoffSpans[1].ToAgent)
}

func TestToolAndGuardrailSpans(t *testing.T) {
	tracingtesting.Setup(t)

	model := agentstesting.NewFakeModel(true, nil)
	agent := &agents.Agent{
		Name:  "test_agent",
		Model: param.NewOpt(agents.NewAgentModel(model)),
		Tools: []agents.Tool{
			agentstesting.GetFunctionTool("foo", "tool_result"),
		},
		InputGuardrails: []agents.InputGuardrail{{
			Name: "input_check",
			GuardrailFunction: func(context.Context, *agents.Agent, agents.Input) (agents.GuardrailFunctionOutput, error) {
				return agents.GuardrailFunctionOutput{}, nil
			},
		}},
		OutputGuardrails: []agents.OutputGuardrail{{
			Name: "output_check",
			GuardrailFunction: func(context.Context, *agents.Agent, any) (agents.GuardrailFunctionOutput, error) {
				return agents.GuardrailFunctionOutput{}, nil
			},
		}},
	}

	model.AddMultipleTurnOutputs([]agentstesting.FakeModelTurnOutput{
		{Value: []agents.TResponseOutputItem{
			agentstesting.GetFunctionToolCall("foo", `{"a":"b"}`),
		}},
		{Value: []agents.TResponseOutputItem{
			agentstesting.GetTextMessage("done"),
		}},
	})

	_, err := agents.Run(t.Context(), agent, "user_message")
	require.NoError(t, err)

	functionSpans := spanDataByType[*tracing.FunctionSpanData]()
	require.Len(t, functionSpans, 1)
	assert.Equal(t, "foo", functionSpans[0].Name)
	assert.Equal(t, `{"a":"b"}`, functionSpans[0].Input)

	guardrailSpans := spanDataByType[*tracing.GuardrailSpanData]()
	require.Len(t, guardrailSpans, 2)
	for _, data := range guardrailSpans {
		assert.False(t, data.Triggered)
	}
}

func TestTrippedGuardrailSpanIsMarkedTriggered(t *testing.T) {
	tracingtesting.Setup(t)

	model := agentstesting.NewFakeModel(true, nil)
	agent := &agents.Agent{
		Name:  "test_agent",
		Model: param.NewOpt(agents.NewAgentModel(model)),
		InputGuardrails: []agents.InputGuardrail{{
			Name: "tripwire",
			GuardrailFunction: func(context.Context, *agents.Agent, agents.Input) (agents.GuardrailFunctionOutput, error) {
				return agents.GuardrailFunctionOutput{TripwireTriggered: true}, nil
			},
		}},
	}

	model.SetNextOutput(agentstesting.FakeModelTurnOutput{
		Value: []agents.TResponseOutputItem{
			agentstesting.GetTextMessage("done"),
		},
	})

	_, err := agents.Run(t.Context(), agent, "user_message")
	var target agents.InputGuardrailTripwireTriggeredError
	require.ErrorAs(t, err, &target)

	guardrailSpans := spanDataByType[*tracing.GuardrailSpanData]()
	require.Len(t, guardrailSpans, 1)
	assert.Equal(t, "tripwire", guardrailSpans[0].Name)
	assert.True(t, guardrailSpans[0].Triggered)
}

func TestTracingDisabledProducesNoTraces(t *testing.T) {
	tracingtesting.Setup(t)

	model := agentstesting.NewFakeModel(true, nil)
	agent := &agents.Agent{
		Name:  "test_agent",
		Model: param.NewOpt(agents.NewAgentModel(model)),
	}

	model.SetNextOutput(agentstesting.FakeModelTurnOutput{
		Value: []agents.TResponseOutputItem{
			agentstesting.GetTextMessage("done"),
		},
	})

	runner := agents.Runner{Config: agents.RunConfig{TracingDisabled: true}}
	_, err := runner.Run(t.Context(), agent, "user_message")
	require.NoError(t, err)

	assert.Empty(t, tracingtesting.FetchTraces(true))
	assert.Empty(t, tracingtesting.FetchOrderedSpans(true))
}

func TestStreamedRunIsSingleTrace(t *testing.T) {
	tracingtesting.Setup(t)

	model := agentstesting.NewFakeModel(true, nil)
	agent := &agents.Agent{
		Name:  "test_agent",
		Model: param.NewOpt(agents.NewAgentModel(model)),
	}

	model.SetNextOutput(agentstesting.FakeModelTurnOutput{
		Value: []agents.TResponseOutputItem{
			agentstesting.GetTextMessage("first_test"),
		},
	})

	result, err := agents.RunStreamed(t.Context(), agent, "first_test")
	require.NoError(t, err)
	require.NoError(t, result.StreamEvents(func(agents.StreamEvent) error { return nil }))

	require.Len(t, tracingtesting.FetchTraces(true), 1)
	require.Len(t, spanDataByType[*tracing.AgentSpanData](), 1)
}
