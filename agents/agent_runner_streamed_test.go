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
	"errors"
	"testing"

	"github.com/nlpodyssey/agentcore/agents"
	"github.com/nlpodyssey/agentcore/agentstesting"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleFirstRunStreamed(t *testing.T) {
	model := agentstesting.NewFakeModel(false, nil)
	agent := &agents.Agent{
		Name:  "test",
		Model: param.NewOpt(agents.NewAgentModel(model)),
	}

	model.SetNextOutput(agentstesting.FakeModelTurnOutput{
		Value: []agents.TResponseOutputItem{
			agentstesting.GetTextMessage("first"),
		},
	})

	result, err := agents.RunStreamed(t.Context(), agent, "test")
	require.NoError(t, err)
	require.NoError(t, result.StreamEvents(func(agents.StreamEvent) error { return nil }))

	assert.Equal(t, agents.InputString("test"), result.Input())
	assert.Len(t, result.NewItems(), 1)
	assert.Equal(t, "first", result.FinalOutput())
	require.Len(t, result.RawResponses(), 1)
	assert.Equal(t, []agents.TResponseOutputItem{
		agentstesting.GetTextMessage("first"),
	}, result.RawResponses()[0].Output)
	assert.Same(t, agent, result.LastAgent())
	assert.Len(t, result.ToInputList(), 2, "should have original input and generated item")

	model.SetNextOutput(agentstesting.FakeModelTurnOutput{
		Value: []agents.TResponseOutputItem{
			agentstesting.GetTextMessage("second"),
		},
	})

	result, err = agents.RunInputsStreamed(t.Context(), agent, []agents.TResponseInputItem{
		agentstesting.GetTextInputItem("message"),
		agentstesting.GetTextInputItem("another_message"),
	})
	require.NoError(t, err)
	require.NoError(t, result.StreamEvents(func(agents.StreamEvent) error { return nil }))

	assert.Len(t, result.NewItems(), 1)
	assert.Equal(t, "second", result.FinalOutput())
	assert.Len(t, result.ToInputList(), 3)
}

func TestStreamedEventOrder(t *testing.T) {
	model := agentstesting.NewFakeModel(false, nil)
	agent := &agents.Agent{
		Name:  "test",
		Model: param.NewOpt(agents.NewAgentModel(model)),
		Tools: []agents.Tool{
			agentstesting.GetFunctionTool("foo", "tool_result"),
		},
	}

	model.AddMultipleTurnOutputs([]agentstesting.FakeModelTurnOutput{
		{Value: []agents.TResponseOutputItem{
			agentstesting.GetFunctionToolCall("foo", `{"a":"b"}`),
		}},
		{Value: []agents.TResponseOutputItem{
			agentstesting.GetTextMessage("done"),
		}},
	})

	result, err := agents.RunStreamed(t.Context(), agent, "user_message")
	require.NoError(t, err)

	var events []agents.StreamEvent
	require.NoError(t, result.StreamEvents(func(event agents.StreamEvent) error {
		events = append(events, event)
		return nil
	}))

	require.NotEmpty(t, events)
	first, ok := events[0].(agents.AgentUpdatedStreamEvent)
	require.True(t, ok, "the first event should announce the starting agent")
	assert.Same(t, agent, first.NewAgent)

	var itemEventNames []agents.StreamEventName
	var rawEvents int
	for _, event := range events {
		switch e := event.(type) {
		case agents.RunItemStreamEvent:
			itemEventNames = append(itemEventNames, e.Name)
		case agents.RawResponsesStreamEvent:
			rawEvents++
		}
	}

	assert.Equal(t, []agents.StreamEventName{
		agents.StreamEventToolCalled,
		agents.StreamEventToolOutput,
		agents.StreamEventMessageOutputCreated,
	}, itemEventNames)
	assert.Equal(t, 2, rawEvents, "one raw event per model turn")
}

func TestStreamedHandoff(t *testing.T) {
	model := agentstesting.NewFakeModel(false, nil)
	agent1 := &agents.Agent{
		Name:  "agent_1",
		Model: param.NewOpt(agents.NewAgentModel(model)),
	}
	triage := &agents.Agent{
		Name:          "triage",
		Model:         param.NewOpt(agents.NewAgentModel(model)),
		AgentHandoffs: []*agents.Agent{agent1},
	}

	model.AddMultipleTurnOutputs([]agentstesting.FakeModelTurnOutput{
		{Value: []agents.TResponseOutputItem{
			agentstesting.GetHandoffToolCall(agent1, "", ""),
		}},
		{Value: []agents.TResponseOutputItem{
			agentstesting.GetTextMessage("done"),
		}},
	})

	result, err := agents.RunStreamed(t.Context(), triage, "user_message")
	require.NoError(t, err)

	var agentUpdates []*agents.Agent
	var itemEventNames []agents.StreamEventName
	require.NoError(t, result.StreamEvents(func(event agents.StreamEvent) error {
		switch e := event.(type) {
		case agents.AgentUpdatedStreamEvent:
			agentUpdates = append(agentUpdates, e.NewAgent)
		case agents.RunItemStreamEvent:
			itemEventNames = append(itemEventNames, e.Name)
		}
		return nil
	}))

	require.Len(t, agentUpdates, 2)
	assert.Same(t, triage, agentUpdates[0])
	assert.Same(t, agent1, agentUpdates[1])

	assert.Contains(t, itemEventNames, agents.StreamEventHandoffRequested)
	assert.Contains(t, itemEventNames, agents.StreamEventHandoffOccurred)

	assert.Same(t, agent1, result.LastAgent())
	assert.Equal(t, "done", result.FinalOutput())
}

func TestStreamedMaxTurnsExceeded(t *testing.T) {
	model := agentstesting.NewFakeModel(false, nil)
	agent := &agents.Agent{
		Name:  "test",
		Model: param.NewOpt(agents.NewAgentModel(model)),
		Tools: []agents.Tool{
			agentstesting.GetFunctionTool("some_function", "result"),
		},
	}

	repeated := agentstesting.FakeModelTurnOutput{
		Value: []agents.TResponseOutputItem{
			agentstesting.GetFunctionToolCall("some_function", "{}"),
		},
	}
	model.AddMultipleTurnOutputs([]agentstesting.FakeModelTurnOutput{
		repeated, repeated, repeated, repeated, repeated,
	})

	runner := agents.Runner{Config: agents.RunConfig{MaxTurns: 3}}
	result, err := runner.RunStreamed(t.Context(), agent, "user_message")
	require.NoError(t, err)

	err = result.StreamEvents(func(agents.StreamEvent) error { return nil })

	var target agents.MaxTurnsExceededError
	assert.ErrorAs(t, err, &target)
}

func TestStreamedInputGuardrailTripwireTriggered(t *testing.T) {
	model := agentstesting.NewFakeModel(false, nil)
	agent := &agents.Agent{
		Name:  "test",
		Model: param.NewOpt(agents.NewAgentModel(model)),
		InputGuardrails: []agents.InputGuardrail{{
			Name: "guardrail_function",
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

	result, err := agents.RunStreamed(t.Context(), agent, "user_message")
	require.NoError(t, err)

	err = result.StreamEvents(func(agents.StreamEvent) error { return nil })

	var target agents.InputGuardrailTripwireTriggeredError
	require.ErrorAs(t, err, &target)
	assert.True(t, target.GuardrailResult.Output.TripwireTriggered)
}

func TestStreamedOutputGuardrailTripwireTriggered(t *testing.T) {
	model := agentstesting.NewFakeModel(false, nil)
	agent := &agents.Agent{
		Name:  "test",
		Model: param.NewOpt(agents.NewAgentModel(model)),
		OutputGuardrails: []agents.OutputGuardrail{{
			Name: "guardrail_function",
			GuardrailFunction: func(context.Context, *agents.Agent, any) (agents.GuardrailFunctionOutput, error) {
				return agents.GuardrailFunctionOutput{TripwireTriggered: true}, nil
			},
		}},
	}

	model.SetNextOutput(agentstesting.FakeModelTurnOutput{
		Value: []agents.TResponseOutputItem{
			agentstesting.GetTextMessage("done"),
		},
	})

	result, err := agents.RunStreamed(t.Context(), agent, "user_message")
	require.NoError(t, err)

	err = result.StreamEvents(func(agents.StreamEvent) error { return nil })

	var target agents.OutputGuardrailTripwireTriggeredError
	assert.ErrorAs(t, err, &target)
}

func TestStreamedModelErrorSurfaces(t *testing.T) {
	model := agentstesting.NewFakeModel(false, nil)
	agent := &agents.Agent{
		Name:  "test",
		Model: param.NewOpt(agents.NewAgentModel(model)),
	}

	model.SetNextOutput(agentstesting.FakeModelTurnOutput{
		Error: errors.New("model exploded"),
	})

	result, err := agents.RunStreamed(t.Context(), agent, "user_message")
	require.NoError(t, err)

	err = result.StreamEvents(func(agents.StreamEvent) error { return nil })
	require.ErrorContains(t, err, "model exploded")
}

func TestStreamEventsYieldErrorCancelsRun(t *testing.T) {
	model := agentstesting.NewFakeModel(false, nil)
	agent := &agents.Agent{
		Name:  "test",
		Model: param.NewOpt(agents.NewAgentModel(model)),
		Tools: []agents.Tool{
			agentstesting.GetFunctionTool("some_function", "result"),
		},
	}

	model.AddMultipleTurnOutputs([]agentstesting.FakeModelTurnOutput{
		{Value: []agents.TResponseOutputItem{
			agentstesting.GetFunctionToolCall("some_function", "{}"),
		}},
		{Value: []agents.TResponseOutputItem{
			agentstesting.GetTextMessage("done"),
		}},
	})

	result, err := agents.RunStreamed(t.Context(), agent, "user_message")
	require.NoError(t, err)

	stop := errors.New("stop streaming")
	err = result.StreamEvents(func(agents.StreamEvent) error { return stop })
	assert.ErrorIs(t, err, stop)
	assert.True(t, result.IsComplete())
}

func TestRunStreamedChan(t *testing.T) {
	model := agentstesting.NewFakeModel(false, nil)
	agent := &agents.Agent{
		Name:  "test",
		Model: param.NewOpt(agents.NewAgentModel(model)),
	}

	model.SetNextOutput(agentstesting.FakeModelTurnOutput{
		Value: []agents.TResponseOutputItem{
			agentstesting.GetTextMessage("hello"),
		},
	})

	events, errs, err := agents.RunStreamedChan(t.Context(), agent, "test")
	require.NoError(t, err)

	var count int
	for range events {
		count++
	}
	require.NoError(t, <-errs)
	assert.Greater(t, count, 0)
}

func TestRunStreamedSeq(t *testing.T) {
	model := agentstesting.NewFakeModel(false, nil)
	agent := &agents.Agent{
		Name:  "test",
		Model: param.NewOpt(agents.NewAgentModel(model)),
	}

	model.SetNextOutput(agentstesting.FakeModelTurnOutput{
		Value: []agents.TResponseOutputItem{
			agentstesting.GetTextMessage("hello"),
		},
	})

	result, err := agents.RunStreamedSeq(t.Context(), agent, "test")
	require.NoError(t, err)

	var count int
	for range result.Seq {
		count++
	}
	require.NoError(t, result.Err)
	assert.Greater(t, count, 0)
}
