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
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/nlpodyssey/agentcore/memory"
	"github.com/nlpodyssey/agentcore/modelsettings"
	"github.com/nlpodyssey/agentcore/util/transforms"
	"github.com/openai/openai-go/v3/packages/param"
)

// An Agent is an AI model configured with instructions, tools, guardrails,
// handoffs and more.
//
// We strongly recommend passing Instructions, which is the "system prompt"
// for the agent. In addition, you can pass HandoffDescription, which is a
// human-readable description of the agent, used when the agent is used
// inside tools/handoffs.
type Agent struct {
	// The name of the agent.
	Name string

	// Optional instructions for the agent. Will be used as the "system prompt"
	// when this agent is invoked. Describes what the agent should do, and how
	// it responds.
	Instructions InstructionsGetter

	// A description of the agent. This is used when the agent is used as a
	// handoff, so that an LLM knows what it does and when to invoke it.
	HandoffDescription string

	// Handoffs are sub-agents that the agent can delegate to. You can provide
	// a list of handoffs, and the agent can choose to delegate to them if
	// relevant. Allows for separation of concerns and modularity.
	Handoffs []Handoff

	// List of Agent objects to be used as handoffs with default settings.
	// When the run starts, each of them is converted to a Handoff object with
	// SafeHandoffFromAgent and appended to Handoffs.
	AgentHandoffs []*Agent

	// The model implementation to use when invoking the LLM, or the name of
	// a model to resolve through the run's ModelProvider.
	Model param.Opt[AgentModel]

	// Configures model-specific tuning parameters (e.g. Temperature, TopP).
	ModelSettings modelsettings.ModelSettings

	// A list of tools that the agent can use.
	Tools []Tool

	// A list of checks that run in parallel to the agent's execution, before
	// generating a response. Runs only if the agent is the first agent in the
	// chain.
	InputGuardrails []InputGuardrail

	// A list of checks that run on the final output of the agent, after
	// generating a response. Runs only if the agent produces a final output.
	OutputGuardrails []OutputGuardrail

	// The type of the output object. If not provided, the output will be a string.
	OutputType OutputTypeInterface

	// An object that receives callbacks on various lifecycle events for this agent.
	Hooks AgentHooks

	// ToolUseBehavior lets you configure how tool use is handled.
	//   - nil or RunLLMAgain(): the default behavior. Tools are run, and then
	//     the LLM receives the results and gets to respond.
	//   - StopOnFirstTool(): the output of the first tool call is used as the
	//     final output. This means that the LLM does not process the result of
	//     the tool call.
	//   - StopAtTools: the run stops when any of the listed tools is called.
	//     The final output will be the output of the first matching tool
	//     call. The LLM does not process the result of the tool call.
	//   - ToolsToFinalOutputFunction: if you pass a function, it will be
	//     called with the run context and the list of tool results. It must
	//     return a ToolsToFinalOutputResult, which determines whether the tool
	//     calls result in a final output.
	//
	// NOTE: This configuration is specific to FunctionTools. Hosted tools,
	// such as file search and web search, are always processed by the LLM.
	ToolUseBehavior ToolUseBehavior

	// Whether to reset the tool choice to the default value after a tool has
	// been called. Defaults to true. This ensures that the agent doesn't
	// enter an infinite loop of tool usage.
	ResetToolChoice param.Opt[bool]

	// Optional conversation memory for the agent. When a run is not given a
	// session of its own, the starting agent's Memory (if any) records the
	// conversation across runs.
	Memory memory.Session
}

// New returns a new Agent with the given name.
func New(name string) *Agent {
	return &Agent{Name: name}
}

func (a *Agent) WithInstructions(instructions string) *Agent {
	a.Instructions = InstructionsStr(instructions)
	return a
}

func (a *Agent) WithInstructionsGetter(g InstructionsGetter) *Agent {
	a.Instructions = g
	return a
}

func (a *Agent) WithHandoffDescription(description string) *Agent {
	a.HandoffDescription = description
	return a
}

func (a *Agent) WithHandoffs(handoffs ...Handoff) *Agent {
	a.Handoffs = append(a.Handoffs, handoffs...)
	return a
}

func (a *Agent) WithAgentHandoffs(agents ...*Agent) *Agent {
	a.AgentHandoffs = append(a.AgentHandoffs, agents...)
	return a
}

// WithModel configures the Agent with a model name, to be resolved by the
// run's ModelProvider.
func (a *Agent) WithModel(modelName string) *Agent {
	a.Model = param.NewOpt(NewAgentModelName(modelName))
	return a
}

// WithModelInstance configures the Agent with a specific Model instance.
func (a *Agent) WithModelInstance(model Model) *Agent {
	a.Model = param.NewOpt(NewAgentModel(model))
	return a
}

func (a *Agent) WithModelSettings(modelSettings modelsettings.ModelSettings) *Agent {
	a.ModelSettings = modelSettings
	return a
}

func (a *Agent) WithTools(tools ...Tool) *Agent {
	a.Tools = append(a.Tools, tools...)
	return a
}

func (a *Agent) WithInputGuardrails(guardrails []InputGuardrail) *Agent {
	a.InputGuardrails = guardrails
	return a
}

func (a *Agent) WithOutputGuardrails(guardrails []OutputGuardrail) *Agent {
	a.OutputGuardrails = guardrails
	return a
}

func (a *Agent) WithOutputType(outputType OutputTypeInterface) *Agent {
	a.OutputType = outputType
	return a
}

func (a *Agent) WithHooks(hooks AgentHooks) *Agent {
	a.Hooks = hooks
	return a
}

func (a *Agent) WithToolUseBehavior(toolUseBehavior ToolUseBehavior) *Agent {
	a.ToolUseBehavior = toolUseBehavior
	return a
}

func (a *Agent) WithResetToolChoice(resetToolChoice bool) *Agent {
	a.ResetToolChoice = param.NewOpt(resetToolChoice)
	return a
}

func (a *Agent) WithMemory(session memory.Session) *Agent {
	a.Memory = session
	return a
}

// Clone makes a copy of the agent, with the given arguments changed.
// It returns a new agent with the mutated values. Note that the original
// Agent object and the copy share references to the same objects through
// slice, map and pointer fields. If you want to modify the values of such
// fields, make sure to create copies of the originals beforehand.
func (a *Agent) Clone(mutate func(*Agent)) *Agent {
	clone := *a
	mutate(&clone)
	return &clone
}

// GetSystemPrompt returns the system prompt for the agent, obtained from
// its Instructions. If no instructions are set, the returned value is omitted.
func (a *Agent) GetSystemPrompt(ctx context.Context) (param.Opt[string], error) {
	if a.Instructions == nil {
		return param.Opt[string]{}, nil
	}
	instructions, err := a.Instructions.GetInstructions(ctx, a)
	if err != nil {
		return param.Opt[string]{}, err
	}
	return param.NewOpt(instructions), nil
}

// GetAllTools returns all the agent's tools, filtering out any FunctionTool
// whose IsEnabled reports false. The IsEnabled checks run concurrently.
func (a *Agent) GetAllTools(ctx context.Context) ([]Tool, error) {
	isEnabledResults := make([]bool, len(a.Tools))
	isEnabledErrors := make([]error, len(a.Tools))

	childCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(len(a.Tools))

	for i, tool := range a.Tools {
		go func() {
			defer wg.Done()

			functionTool, ok := tool.(FunctionTool)
			if !ok || functionTool.IsEnabled == nil {
				isEnabledResults[i] = true
				return
			}

			isEnabledResults[i], isEnabledErrors[i] = functionTool.IsEnabled.IsEnabled(childCtx, a)
			if isEnabledErrors[i] != nil {
				cancel()
			}
		}()
	}

	wg.Wait()
	if err := errors.Join(isEnabledErrors...); err != nil {
		return nil, err
	}

	var enabledTools []Tool
	for i, tool := range a.Tools {
		if isEnabledResults[i] {
			enabledTools = append(enabledTools, tool)
		}
	}

	return enabledTools, nil
}

// AgentAsToolParams configures the tool created by Agent.AsTool.
type AgentAsToolParams struct {
	// The name of the tool. If not provided, a default name based on the
	// agent's name will be used.
	ToolName string

	// Optional description of the tool, which should indicate what it does
	// and when to use it.
	ToolDescription string

	// Optional function to extract the output from the inner agent's run
	// result. If not provided, the last text message output is used.
	CustomOutputExtractor func(ctx context.Context, runResult *RunResult) (string, error)

	// Optional control of whether the tool is enabled. Disabled tools are
	// hidden from the LLM at runtime.
	IsEnabled FunctionToolEnabler
}

// AsTool transforms this agent into a tool, callable by other agents.
//
// This is different from handoffs in two ways:
//  1. In handoffs, the new agent receives the conversation history. In this
//     tool, the new agent receives generated input.
//  2. In handoffs, the new agent takes over the conversation. In this tool,
//     the new agent is called as a tool, and the conversation is continued
//     by the original agent.
func (a *Agent) AsTool(params AgentAsToolParams) Tool {
	name := params.ToolName
	if name == "" {
		name = transforms.TransformStringFunctionStyle(a.Name)
	}

	return FunctionTool{
		Name:        name,
		Description: params.ToolDescription,
		ParamsJSONSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"input": map[string]any{
					"type": "string",
				},
			},
			"required":             []string{"input"},
			"additionalProperties": false,
		},
		OnInvokeTool: func(ctx context.Context, arguments string) (any, error) {
			var value any
			if arguments != "" {
				if err := json.Unmarshal([]byte(arguments), &value); err != nil {
					return nil, ModelBehaviorErrorf("invalid JSON input for tool %s: %v", name, err)
				}
			}
			toolInput, err := ParseAgentAsToolInput(value)
			if err != nil {
				return nil, ModelBehaviorErrorf("invalid input for tool %s: %v", name, err)
			}

			result, err := Runner{}.Run(ctx, a, toolInput.Input)
			if err != nil {
				return nil, fmt.Errorf("%s agent run failed: %w", a.Name, err)
			}

			if params.CustomOutputExtractor != nil {
				return params.CustomOutputExtractor(ctx, result)
			}
			return ItemHelpers().TextMessageOutputs(result.NewItems), nil
		},
		IsEnabled:        params.IsEnabled,
		StrictJSONSchema: param.NewOpt(true),
	}
}

// ToolsToFinalOutputResult is the result of a ToolUseBehavior decision.
type ToolsToFinalOutputResult struct {
	// Whether this is the final output. If false, the LLM will run again and
	// receive the tool call output.
	IsFinalOutput bool

	// The final output. Can be empty if IsFinalOutput is false, otherwise it
	// must match the OutputType of the agent.
	FinalOutput param.Opt[any]
}

var notFinalOutput = ToolsToFinalOutputResult{IsFinalOutput: false}

// ToolUseBehavior configures how tool use is handled. See the homonymous
// Agent field for details.
type ToolUseBehavior interface {
	ToolsToFinalOutput(ctx context.Context, toolResults []FunctionToolResult) (ToolsToFinalOutputResult, error)
}

type runLLMAgain struct{}

// RunLLMAgain is the default tool-use behavior. Tools are run, and then the
// LLM receives the results and gets to respond.
func RunLLMAgain() ToolUseBehavior { return runLLMAgain{} }

func (runLLMAgain) ToolsToFinalOutput(context.Context, []FunctionToolResult) (ToolsToFinalOutputResult, error) {
	return notFinalOutput, nil
}

type stopOnFirstTool struct{}

// StopOnFirstTool is the tool-use behavior where the output of the first
// tool call is used as the final output. This means that the LLM does not
// process the result of the tool call.
func StopOnFirstTool() ToolUseBehavior { return stopOnFirstTool{} }

func (stopOnFirstTool) ToolsToFinalOutput(_ context.Context, toolResults []FunctionToolResult) (ToolsToFinalOutputResult, error) {
	if len(toolResults) == 0 {
		return notFinalOutput, nil
	}
	return ToolsToFinalOutputResult{
		IsFinalOutput: true,
		FinalOutput:   param.NewOpt(toolResults[0].Output),
	}, nil
}

// StopAtTools is the tool-use behavior where the run stops when any of the
// listed tools is called. The final output will be the output of the first
// matching tool call. The LLM does not process the result of the tool call.
type StopAtTools struct {
	// A list of tool names, any of which will stop the agent from running
	// further.
	StopAtToolNames []string
}

func (s StopAtTools) ToolsToFinalOutput(_ context.Context, toolResults []FunctionToolResult) (ToolsToFinalOutputResult, error) {
	for _, toolResult := range toolResults {
		if slices.Contains(s.StopAtToolNames, toolResult.Tool.Name) {
			return ToolsToFinalOutputResult{
				IsFinalOutput: true,
				FinalOutput:   param.NewOpt(toolResult.Output),
			}, nil
		}
	}
	return notFinalOutput, nil
}

// ToolsToFinalOutputFunction is a custom tool-use behavior. The function is
// called with the list of tool results, and returns a ToolsToFinalOutputResult
// which determines whether the tool calls result in a final output.
type ToolsToFinalOutputFunction func(ctx context.Context, toolResults []FunctionToolResult) (ToolsToFinalOutputResult, error)

func (f ToolsToFinalOutputFunction) ToolsToFinalOutput(ctx context.Context, toolResults []FunctionToolResult) (ToolsToFinalOutputResult, error) {
	return f(ctx, toolResults)
}
