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
	"encoding/json"
	"fmt"

	"github.com/nlpodyssey/agentcore/util/transforms"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/xeipuuv/gojsonschema"
)

// HandoffInputData is the input data passed to a handoff input filter.
type HandoffInputData struct {
	// The input history before Run() was called.
	InputHistory Input

	// The items generated before the agent turn where the handoff was invoked.
	PreHandoffItems []RunItem

	// The new items generated during the current agent turn, including the item
	// that triggered the handoff and the tool output message representing the
	// response from the handoff output.
	NewItems []RunItem

	// The items to send to the next agent in place of NewItems, when set by a
	// filter or by history nesting. NewItems are still recorded in session
	// memory and in the run result.
	InputItems []RunItem

	// The run context at the moment the handoff was invoked.
	RunContext *RunContextWrapper[any]
}

// HandoffInputFilter filters the input data passed to the next agent.
type HandoffInputFilter = func(ctx context.Context, data HandoffInputData) (HandoffInputData, error)

// HandoffHistoryMapper maps the transcript accumulated so far into the items
// handed to the next agent when handoff history nesting is enabled.
type HandoffHistoryMapper = func(transcript []TResponseInputItem) []TResponseInputItem

// OnHandoffWithInput is a callback invoked when a handoff carrying input is
// triggered. It receives the raw JSON input provided by the model, already
// validated against the handoff's input schema.
type OnHandoffWithInput func(ctx context.Context, jsonInput any) error

// OnHandoffWithoutInput is a callback invoked when a handoff without input
// is triggered.
type OnHandoffWithoutInput func(ctx context.Context) error

// HandoffEnabler determines whether a handoff is enabled for the current
// run. Disabled handoffs are hidden from the LLM at runtime.
type HandoffEnabler interface {
	IsEnabled(ctx context.Context, agent *Agent) (bool, error)
}

// HandoffEnablerFunc adapts a function to the HandoffEnabler interface.
type HandoffEnablerFunc func(ctx context.Context, agent *Agent) (bool, error)

func (f HandoffEnablerFunc) IsEnabled(ctx context.Context, agent *Agent) (bool, error) {
	return f(ctx, agent)
}

type handoffEnabledFlag bool

func (f handoffEnabledFlag) IsEnabled(context.Context, *Agent) (bool, error) {
	return bool(f), nil
}

// HandoffEnabled returns a HandoffEnabler which always enables the handoff.
func HandoffEnabled() HandoffEnabler { return handoffEnabledFlag(true) }

// HandoffDisabled returns a HandoffEnabler which always disables the handoff.
func HandoffDisabled() HandoffEnabler { return handoffEnabledFlag(false) }

// A Handoff is when an agent delegates a task to another agent.
// For example, in a customer support scenario you might have a "triage agent"
// that determines which agent should handle the user's request, and
// sub-agents that specialize in different areas like billing, account
// management, etc.
type Handoff struct {
	// The name of the tool that represents the handoff.
	ToolName string

	// The description of the tool that represents the handoff.
	ToolDescription string

	// The JSON schema for the handoff input. Can be empty if the handoff
	// does not take an input.
	InputJSONSchema map[string]any

	// OnInvokeHandoff is the function that actually performs the handoff.
	// The parameters passed are:
	//  1. The handoff run context.
	//  2. The arguments from the LLM, as a JSON string. Empty string if
	//     InputJSONSchema is empty.
	// It must return an agent.
	OnInvokeHandoff func(ctx context.Context, jsonInput string) (*Agent, error)

	// The name of the agent that is being handed off to.
	AgentName string

	// Optional function that filters the inputs that are passed to the next
	// agent. By default, the new agent sees the entire conversation history.
	// In some cases, you may want to remove older inputs, or remove tools
	// from existing inputs.
	InputFilter HandoffInputFilter

	// Whether the input JSON schema is in strict mode. It is strongly
	// recommended to set this to true, as it increases the likelihood of
	// correct JSON input.
	StrictJSONSchema param.Opt[bool]

	// Optional HandoffEnabler that determines whether the handoff is enabled.
	// Disabled handoffs are hidden from the LLM at runtime. If nil, the
	// handoff is enabled.
	IsEnabled HandoffEnabler

	// NestHandoffHistory controls whether the conversation so far is
	// collapsed into a single summary message for the next agent. When unset,
	// the run-level setting applies.
	NestHandoffHistory param.Opt[bool]
}

// GetTransferMessage returns the JSON payload of the tool output produced
// when the handoff to the given agent is invoked.
func (h Handoff) GetTransferMessage(agent *Agent) string {
	payload, err := json.Marshal(map[string]string{"assistant": agent.Name})
	if err != nil {
		// A map of strings always marshals.
		panic(err)
	}
	return string(payload)
}

// DefaultHandoffToolName returns the default name of the tool that
// represents the handoff to the given agent.
func DefaultHandoffToolName(agent *Agent) string {
	return transforms.TransformStringFunctionStyle("transfer_to_" + agent.Name)
}

// DefaultHandoffToolDescription returns the default description of the tool
// that represents the handoff to the given agent.
func DefaultHandoffToolDescription(agent *Agent) string {
	return fmt.Sprintf(
		"Handoff to the %s agent to handle the request. %s",
		agent.Name, agent.HandoffDescription,
	)
}

// HandoffFromAgentParams are parameters for HandoffFromAgent and
// SafeHandoffFromAgent functions.
type HandoffFromAgentParams struct {
	// The agent to hand off to.
	Agent *Agent

	// Optional override for the name of the tool that represents the handoff.
	ToolNameOverride string

	// Optional override for the description of the tool that represents the
	// handoff.
	ToolDescriptionOverride string

	// Optional OnHandoffWithInput or OnHandoffWithoutInput callback, invoked
	// when the handoff is triggered.
	OnHandoff any

	// The JSON schema of the handoff input. Required when OnHandoff is an
	// OnHandoffWithInput.
	InputJSONSchema map[string]any

	// Optional function that filters the inputs that are passed to the next
	// agent.
	InputFilter HandoffInputFilter

	// Optional HandoffEnabler that determines whether the handoff is enabled.
	// If nil, the handoff is enabled.
	IsEnabled HandoffEnabler

	// Optional override of the run-level handoff history nesting setting.
	NestHandoffHistory param.Opt[bool]
}

// HandoffFromAgent creates a Handoff from an Agent, panicking on invalid
// parameters. For a safer version, use SafeHandoffFromAgent.
func HandoffFromAgent(params HandoffFromAgentParams) Handoff {
	h, err := SafeHandoffFromAgent(params)
	if err != nil {
		panic(err)
	}
	return *h
}

// SafeHandoffFromAgent creates a Handoff from an Agent. It returns an error
// if the parameters are invalid.
func SafeHandoffFromAgent(params HandoffFromAgentParams) (*Handoff, error) {
	if params.Agent == nil {
		return nil, NewUserError("HandoffFromAgentParams.Agent must not be nil")
	}

	inputJSONSchema := params.InputJSONSchema
	var onInvokeHandoff func(ctx context.Context, jsonInput string) (*Agent, error)

	switch onHandoff := params.OnHandoff.(type) {
	case OnHandoffWithInput:
		if len(inputJSONSchema) == 0 {
			return nil, NewUserError("InputJSONSchema must be provided when OnHandoff is an OnHandoffWithInput")
		}
		compiledSchema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(inputJSONSchema))
		if err != nil {
			return nil, UserErrorf("failed to compile handoff input schema: %v", err)
		}
		onInvokeHandoff = func(ctx context.Context, jsonInput string) (*Agent, error) {
			if err := ValidateJSON(ctx, compiledSchema, jsonInput); err != nil {
				return nil, err
			}
			if err := onHandoff(ctx, jsonInput); err != nil {
				return nil, fmt.Errorf("OnHandoffWithInput callback failed: %w", err)
			}
			return params.Agent, nil
		}
	case OnHandoffWithoutInput:
		onInvokeHandoff = func(ctx context.Context, _ string) (*Agent, error) {
			if err := onHandoff(ctx); err != nil {
				return nil, fmt.Errorf("OnHandoffWithoutInput callback failed: %w", err)
			}
			return params.Agent, nil
		}
	case nil:
		onInvokeHandoff = func(context.Context, string) (*Agent, error) {
			return params.Agent, nil
		}
	default:
		return nil, UserErrorf("OnHandoff must be OnHandoffWithInput or OnHandoffWithoutInput, got %T", params.OnHandoff)
	}

	toolName := params.ToolNameOverride
	if toolName == "" {
		toolName = DefaultHandoffToolName(params.Agent)
	}

	toolDescription := params.ToolDescriptionOverride
	if toolDescription == "" {
		toolDescription = DefaultHandoffToolDescription(params.Agent)
	}

	if inputJSONSchema == nil {
		inputJSONSchema = map[string]any{}
	}

	return &Handoff{
		ToolName:           toolName,
		ToolDescription:    toolDescription,
		InputJSONSchema:    inputJSONSchema,
		OnInvokeHandoff:    onInvokeHandoff,
		AgentName:          params.Agent.Name,
		InputFilter:        params.InputFilter,
		StrictJSONSchema:   param.NewOpt(true),
		IsEnabled:          params.IsEnabled,
		NestHandoffHistory: params.NestHandoffHistory,
	}, nil
}
