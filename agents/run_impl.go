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
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/nlpodyssey/agentcore/asyncqueue"
	"github.com/nlpodyssey/agentcore/modelsettings"
	"github.com/nlpodyssey/agentcore/openaitypes"
	"github.com/nlpodyssey/agentcore/tracing"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared/constant"
)

type queueCompleteSentinel struct{}

func (queueCompleteSentinel) isStreamEvent() {}

// AgentToolUseTracker records which tools each agent has used during a run.
type AgentToolUseTracker struct {
	AgentToTools []AgentToToolsItem
}

func NewAgentToolUseTracker() *AgentToolUseTracker {
	return new(AgentToolUseTracker)
}

type AgentToToolsItem struct {
	Agent     *Agent
	ToolNames []string
}

func (item *AgentToToolsItem) AppendToolNames(toolNames []string) {
	item.ToolNames = append(item.ToolNames, toolNames...)
}

func (t *AgentToolUseTracker) AddToolUse(agent *Agent, toolNames []string) {
	index := t.agentIndex(agent)
	if index == -1 {
		t.AgentToTools = append(t.AgentToTools, AgentToToolsItem{
			Agent:     agent,
			ToolNames: toolNames,
		})
	} else {
		t.AgentToTools[index].AppendToolNames(toolNames)
	}
}

func (t *AgentToolUseTracker) HasUsedTools(agent *Agent) bool {
	index := t.agentIndex(agent)
	return index != -1 && len(t.AgentToTools[index].ToolNames) > 0
}

func (t *AgentToolUseTracker) agentIndex(agent *Agent) int {
	return slices.IndexFunc(t.AgentToTools, func(item AgentToToolsItem) bool {
		return item.Agent == agent
	})
}

type ToolRunHandoff struct {
	Handoff  Handoff
	ToolCall ResponseFunctionToolCall
}

type ToolRunFunction struct {
	ToolCall     ResponseFunctionToolCall
	FunctionTool FunctionTool
}

type ProcessedResponse struct {
	NewItems  []RunItem
	Handoffs  []ToolRunHandoff
	Functions []ToolRunFunction
	// Names of all tools used, including hosted tools
	ToolsUsed []string
}

func (pr *ProcessedResponse) HasToolsToRun() bool {
	// Handoffs and functions need local processing.
	// Hosted tools have already run, so there's nothing to do.
	return len(pr.Handoffs) > 0 || len(pr.Functions) > 0
}

type NextStep interface {
	isNextStep()
}

type NextStepHandoff struct {
	NewAgent *Agent
}

func (NextStepHandoff) isNextStep() {}

type NextStepFinalOutput struct {
	Output any
}

func (NextStepFinalOutput) isNextStep() {}

type NextStepRunAgain struct{}

func (NextStepRunAgain) isNextStep() {}

type SingleStepResult struct {
	// The input items i.e. the items before Run() was called. May be mutated by handoff input filters.
	OriginalInput Input

	// The model response for the current step.
	ModelResponse ModelResponse

	// Items generated before the current step.
	PreStepItems []RunItem

	// Items generated during this current step.
	NewStepItems []RunItem

	// Full unfiltered items for conversation memory. When set, these are used
	// instead of NewStepItems for memory persistence and observability.
	MemoryStepItems []RunItem

	// The next step to take.
	NextStep NextStep
}

// GeneratedItems returns the items generated during the agent run (i.e. everything generated after `OriginalInput`).
func (result SingleStepResult) GeneratedItems() []RunItem {
	return slices.Concat(result.PreStepItems, result.NewStepItems)
}

// StepMemoryItems returns the items to use for memory persistence and streaming.
func (result SingleStepResult) StepMemoryItems() []RunItem {
	if result.MemoryStepItems != nil {
		return result.MemoryStepItems
	}
	return result.NewStepItems
}

func GetModelTracingImpl(tracingDisabled, traceIncludeSensitiveData bool) ModelTracing {
	switch {
	case tracingDisabled:
		return ModelTracingDisabled
	case traceIncludeSensitiveData:
		return ModelTracingEnabled
	default:
		return ModelTracingEnabledWithoutData
	}
}

type runImpl struct{}

func RunImpl() runImpl { return runImpl{} }

func (ri runImpl) ExecuteToolsAndSideEffects(
	ctx context.Context,
	agent *Agent,
	// The original input to the Runner
	originalInput Input,
	// Everything generated by Runner since the original input, but before the current step
	preStepItems []RunItem,
	newResponse ModelResponse,
	processedResponse ProcessedResponse,
	outputType OutputTypeInterface,
	hooks RunHooks,
	runConfig RunConfig,
	contextWrapper *RunContextWrapper[any],
) (*SingleStepResult, error) {
	// Make a copy of the generated items
	preStepItems = slices.Clone(preStepItems)

	var newStepItems []RunItem
	newStepItems = append(newStepItems, processedResponse.NewItems...)

	// First, let's run the tool calls
	functionResults, err := ri.ExecuteFunctionToolCalls(
		ctx,
		agent,
		processedResponse.Functions,
		hooks,
		runConfig,
	)
	if err != nil {
		return nil, err
	}
	for _, result := range functionResults {
		newStepItems = append(newStepItems, result.RunItem)
	}

	// Next, check if there are any handoffs
	if runHandoffs := processedResponse.Handoffs; len(runHandoffs) > 0 {
		return ri.ExecuteHandoffs(
			ctx,
			agent,
			originalInput,
			preStepItems,
			newStepItems,
			newResponse,
			runHandoffs,
			hooks,
			runConfig,
			contextWrapper,
		)
	}

	// Next, we'll check if the tool use should result in a final output
	checkToolUse, err := ri.checkForFinalOutputFromTools(ctx, agent, functionResults)
	if err != nil {
		return nil, err
	}

	if checkToolUse.IsFinalOutput {
		if !checkToolUse.FinalOutput.Valid() {
			Logger().Error("Model returned a final output of None. Not raising an error because we assume you know what you're doing.")
		}

		// If the output type is plain text, stringify the tool result
		if agent.OutputType == nil || agent.OutputType.IsPlainText() {
			if _, ok := checkToolUse.FinalOutput.Value.(string); !ok {
				checkToolUse.FinalOutput = param.NewOpt[any](fmt.Sprintf("%v", checkToolUse.FinalOutput.Value))
			}
		}

		return ri.ExecuteFinalOutput(
			ctx,
			agent,
			originalInput,
			newResponse,
			preStepItems,
			newStepItems,
			checkToolUse.FinalOutput.Or(nil),
			hooks,
		)
	}

	// Now we can check if the model also produced a final output
	messageItems := make([]MessageOutputItem, 0)
	for _, item := range newStepItems {
		if messageItem, ok := item.(MessageOutputItem); ok {
			messageItems = append(messageItems, messageItem)
		}
	}

	// We'll use the last content output as the final output
	potentialFinalOutputText := ""
	if len(messageItems) > 0 {
		rawItem := messageItems[len(messageItems)-1].RawItem
		potentialFinalOutputText, _ = ItemHelpers().ExtractLastText(
			openaitypes.ResponseOutputItemUnionFromResponseOutputMessage(rawItem))
	}

	// There are two possibilities that lead to a final output:
	// 1. Structured output type => always leads to a final output
	// 2. Plain text output type => only leads to a final output if there are no tool calls
	if outputType != nil && !outputType.IsPlainText() && potentialFinalOutputText != "" {
		finalOutput, err := outputType.ValidateJSON(ctx, potentialFinalOutputText)
		if err != nil {
			return nil, fmt.Errorf("final output type JSON validation failed: %w", err)
		}
		return ri.ExecuteFinalOutput(
			ctx,
			agent,
			originalInput,
			newResponse,
			preStepItems,
			newStepItems,
			finalOutput,
			hooks,
		)
	} else if (outputType == nil || outputType.IsPlainText()) && !processedResponse.HasToolsToRun() {
		return ri.ExecuteFinalOutput(
			ctx,
			agent,
			originalInput,
			newResponse,
			preStepItems,
			newStepItems,
			potentialFinalOutputText,
			hooks,
		)
	} else {
		// If there's no final output, we can just run again
		return &SingleStepResult{
			OriginalInput: originalInput,
			ModelResponse: newResponse,
			PreStepItems:  preStepItems,
			NewStepItems:  newStepItems,
			NextStep:      NextStepRunAgain{},
		}, nil
	}
}

// MaybeResetToolChoice resets tool choice for the agent if the agent has
// already used tools and ResetToolChoice allows it.
func (runImpl) MaybeResetToolChoice(
	agent *Agent,
	toolUseTracker *AgentToolUseTracker,
	modelSettings modelsettings.ModelSettings,
) modelsettings.ModelSettings {
	resetToolChoice := agent.ResetToolChoice.Or(true)
	if resetToolChoice && toolUseTracker.HasUsedTools(agent) {
		newSettings := modelSettings
		newSettings.ToolChoice = nil
		return newSettings
	}
	return modelSettings
}

func (runImpl) ProcessModelResponse(
	ctx context.Context,
	agent *Agent,
	allTools []Tool,
	response ModelResponse,
	handoffs []Handoff,
) (*ProcessedResponse, error) {
	var (
		items       []RunItem
		runHandoffs []ToolRunHandoff
		functions   []ToolRunFunction
		toolsUsed   []string
	)

	handoffMap := make(map[string]Handoff, len(handoffs))
	for _, handoff := range handoffs {
		handoffMap[handoff.ToolName] = handoff
	}

	functionMap := make(map[string]FunctionTool)
	for _, tool := range allTools {
		if t, ok := tool.(FunctionTool); ok {
			functionMap[t.Name] = t
		}
	}

	for _, outputUnion := range response.Output {
		switch outputUnion.Type {
		case "message":
			output := responses.ResponseOutputMessage{
				ID:      outputUnion.ID,
				Content: outputUnion.Content,
				Role:    outputUnion.Role,
				Status:  responses.ResponseOutputMessageStatus(outputUnion.Status),
				Type:    constant.ValueOf[constant.Message](),
			}
			items = append(items, MessageOutputItem{
				Agent:   agent,
				RawItem: output,
				Type:    "message_output_item",
			})
		case "file_search_call":
			output := responses.ResponseFileSearchToolCall{
				ID:      outputUnion.ID,
				Queries: outputUnion.Queries,
				Status:  responses.ResponseFileSearchToolCallStatus(outputUnion.Status),
				Type:    constant.ValueOf[constant.FileSearchCall](),
				Results: outputUnion.Results,
			}
			items = append(items, ToolCallItem{
				Agent:   agent,
				RawItem: ResponseFileSearchToolCall(output),
				Type:    "tool_call_item",
			})
			toolsUsed = append(toolsUsed, "file_search")
		case "web_search_call":
			output := responses.ResponseFunctionWebSearch{
				ID:     outputUnion.ID,
				Action: openaitypes.ResponseFunctionWebSearchActionUnionFromResponseOutputItemUnionAction(outputUnion.Action),
				Status: responses.ResponseFunctionWebSearchStatus(outputUnion.Status),
				Type:   constant.ValueOf[constant.WebSearchCall](),
			}
			items = append(items, ToolCallItem{
				Agent:   agent,
				RawItem: ResponseFunctionWebSearch(output),
				Type:    "tool_call_item",
			})
			toolsUsed = append(toolsUsed, "web_search")
		case "reasoning":
			output := responses.ResponseReasoningItem{
				ID:               outputUnion.ID,
				Summary:          outputUnion.Summary,
				Type:             constant.ValueOf[constant.Reasoning](),
				EncryptedContent: outputUnion.EncryptedContent,
				Status:           responses.ResponseReasoningItemStatus(outputUnion.Status),
			}
			items = append(items, ReasoningItem{
				Agent:   agent,
				RawItem: output,
				Type:    "reasoning_item",
			})
		case "function_call":
			var output responses.ResponseFunctionToolCall
			if outputUnion.RawJSON() != "" {
				output = outputUnion.AsFunctionCall()
			} else {
				output = responses.ResponseFunctionToolCall{
					Arguments: outputUnion.Arguments,
					CallID:    outputUnion.CallID,
					Name:      outputUnion.Name,
					Type:      constant.ValueOf[constant.FunctionCall](),
					ID:        outputUnion.ID,
					Status:    responses.ResponseFunctionToolCallStatus(outputUnion.Status),
				}
			}
			if output.Type == "" {
				output.Type = constant.ValueOf[constant.FunctionCall]()
			}

			toolsUsed = append(toolsUsed, output.Name)

			// Handoffs
			if handoff, ok := handoffMap[output.Name]; ok {
				items = append(items, HandoffCallItem{
					Agent:   agent,
					RawItem: output,
					Type:    "handoff_call_item",
				})
				runHandoffs = append(runHandoffs, ToolRunHandoff{
					Handoff:  handoff,
					ToolCall: ResponseFunctionToolCall(output),
				})
			} else { // Regular function tool call
				functionTool, ok := functionMap[output.Name]
				if !ok {
					AttachErrorToCurrentSpan(ctx, tracing.SpanError{
						Message: "Tool not found",
						Data:    map[string]any{"tool_name": output.Name},
					})
					return nil, ModelBehaviorErrorf("tool %s not found in agent %s", output.Name, agent.Name)
				}
				items = append(items, ToolCallItem{
					Agent:   agent,
					RawItem: ResponseFunctionToolCall(output),
					Type:    "tool_call_item",
				})
				functions = append(functions, ToolRunFunction{
					ToolCall:     ResponseFunctionToolCall(output),
					FunctionTool: functionTool,
				})
			}
		default:
			Logger().Warn(fmt.Sprintf("unexpected output type, ignoring %q", outputUnion.Type))
		}
	}

	return &ProcessedResponse{
		NewItems:  items,
		Handoffs:  runHandoffs,
		Functions: functions,
		ToolsUsed: toolsUsed,
	}, nil
}

type FunctionToolResult struct {
	// The tool that was run.
	Tool FunctionTool

	// The output of the tool.
	Output any

	// The run item that was produced as a result of the tool call.
	RunItem RunItem
}

func (ri runImpl) ExecuteFunctionToolCalls(
	ctx context.Context,
	agent *Agent,
	toolRuns []ToolRunFunction,
	hooks RunHooks,
	config RunConfig,
) ([]FunctionToolResult, error) {
	if len(toolRuns) == 0 {
		return nil, nil
	}

	runSingleTool := func(
		ctx context.Context,
		funcTool FunctionTool,
		toolCall ResponseFunctionToolCall,
	) (any, error) {
		var result any

		traceIncludeSensitiveData := config.TraceIncludeSensitiveData.Or(defaultTraceIncludeSensitiveData())

		errorFn := DefaultToolErrorFunction // non-fatal
		if funcTool.FailureErrorFunction != nil {
			errorFn = *funcTool.FailureErrorFunction
		}

		err := tracing.FunctionSpan(
			ctx, tracing.FunctionSpanParams{Name: funcTool.Name},
			func(ctx context.Context, spanFn tracing.Span) (err error) {
				ctx = ContextWithToolData(ctx, toolCall.CallID, responses.ResponseFunctionToolCall(toolCall))
				if traceIncludeSensitiveData {
					spanFn.SpanData().(*tracing.FunctionSpanData).Input = toolCall.Arguments
				}

				defer func() {
					if err != nil {
						AttachErrorToCurrentSpan(ctx, tracing.SpanError{
							Message: "Error running tool",
							Data: map[string]any{
								"tool_name": funcTool.Name,
								"error":     err.Error(),
							},
						})
					}
				}()

				var hooksErrors [2]error
				var toolError error

				var cancel context.CancelFunc
				ctx, cancel = context.WithCancel(ctx)
				defer cancel()

				var wg sync.WaitGroup

				wg.Add(1)
				go func() {
					defer wg.Done()
					err := hooks.OnToolStart(ctx, agent, funcTool)
					if err != nil {
						cancel()
						hooksErrors[0] = fmt.Errorf("RunHooks.OnToolStart failed: %w", err)
					}
				}()

				if agent.Hooks != nil {
					wg.Add(1)
					go func() {
						defer wg.Done()
						err := agent.Hooks.OnToolStart(ctx, agent, funcTool, toolCall.Arguments)
						if err != nil {
							cancel()
							hooksErrors[1] = fmt.Errorf("AgentHooks.OnToolStart failed: %w", err)
						}
					}()
				}

				wg.Add(1)
				go func() {
					defer wg.Done()
					result, toolError = funcTool.OnInvokeTool(ctx, toolCall.Arguments)
					if toolError != nil && errorFn == nil {
						cancel()
					}
				}()

				wg.Wait()

				if err = errors.Join(hooksErrors[:]...); err != nil {
					return err
				}

				if toolError != nil {
					if errorFn == nil {
						return fmt.Errorf("error running tool %s: %w", funcTool.Name, toolError)
					}
					result, err = errorFn(ctx, toolError)
					if err != nil {
						return fmt.Errorf("error running tool %s: %w", funcTool.Name, err)
					}
					AttachErrorToCurrentSpan(ctx, tracing.SpanError{
						Message: "Error running tool (non-fatal)",
						Data: map[string]any{
							"tool_name": funcTool.Name,
							"error":     toolError.Error(),
						},
					})
				}

				wg.Add(1)
				go func() {
					defer wg.Done()
					err := hooks.OnToolEnd(ctx, agent, funcTool, result)
					if err != nil {
						cancel()
						hooksErrors[0] = fmt.Errorf("RunHooks.OnToolEnd failed: %w", err)
					}
				}()

				if agent.Hooks != nil {
					wg.Add(1)
					go func() {
						defer wg.Done()
						err := agent.Hooks.OnToolEnd(ctx, agent, funcTool, result)
						if err != nil {
							cancel()
							hooksErrors[1] = fmt.Errorf("AgentHooks.OnToolEnd failed: %w", err)
						}
					}()
				}

				wg.Wait()
				if err = errors.Join(hooksErrors[:]...); err != nil {
					return err
				}

				if traceIncludeSensitiveData {
					spanFn.SpanData().(*tracing.FunctionSpanData).Output = result
				}

				return nil
			})

		if err != nil {
			return nil, err
		}
		return result, nil
	}

	results := make([]any, len(toolRuns))
	resultErrors := make([]error, len(toolRuns))

	var cancel context.CancelFunc
	ctx, cancel = context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(len(toolRuns))

	for i, toolRun := range toolRuns {
		go func(i int, toolRun ToolRunFunction) {
			defer wg.Done()
			results[i], resultErrors[i] = runSingleTool(ctx, toolRun.FunctionTool, toolRun.ToolCall)
			if resultErrors[i] != nil {
				cancel()
			}
		}(i, toolRun)
	}

	wg.Wait()
	if err := errors.Join(resultErrors...); err != nil {
		return nil, err
	}

	functionToolResults := make([]FunctionToolResult, len(results))
	for i, result := range results {
		toolRun := toolRuns[i]
		functionToolResults[i] = FunctionToolResult{
			Tool:   toolRun.FunctionTool,
			Output: result,
			RunItem: ToolCallOutputItem{
				Agent: agent,
				RawItem: ResponseInputItemFunctionCallOutputParam(
					ItemHelpers().ToolCallOutputItem(toolRun.ToolCall, result)),
				Output: result,
				Type:   "tool_call_output_item",
			},
		}
	}

	return functionToolResults, nil
}

func (runImpl) ExecuteHandoffs(
	ctx context.Context,
	agent *Agent,
	originalInput Input,
	preStepItems []RunItem,
	newStepItems []RunItem,
	newResponse ModelResponse,
	runHandoffs []ToolRunHandoff,
	hooks RunHooks,
	runConfig RunConfig,
	contextWrapper *RunContextWrapper[any],
) (*SingleStepResult, error) {
	// If there is more than one handoff, add tool responses that reject those handoffs
	multipleHandoffs := len(runHandoffs) > 1

	if multipleHandoffs {
		const outputMessage = "Multiple handoffs detected, ignoring this one."
		for _, handoff := range runHandoffs[1:] {
			newStepItems = append(newStepItems, ToolCallOutputItem{
				Agent: agent,
				RawItem: ResponseInputItemFunctionCallOutputParam(
					ItemHelpers().ToolCallOutputItem(handoff.ToolCall, outputMessage)),
				Output: outputMessage,
				Type:   "tool_call_output_item",
			})
		}
	}

	actualHandoff := runHandoffs[0]
	var handoff Handoff
	var newAgent *Agent

	err := tracing.HandoffSpan(
		ctx, tracing.HandoffSpanParams{FromAgent: agent.Name},
		func(ctx context.Context, spanHandoff tracing.Span) error {
			handoff = actualHandoff.Handoff
			var err error
			newAgent, err = handoff.OnInvokeHandoff(ctx, actualHandoff.ToolCall.Arguments)
			if err != nil {
				return fmt.Errorf("failed to invoke handoff: %w", err)
			}

			spanHandoff.SpanData().(*tracing.HandoffSpanData).ToAgent = newAgent.Name
			if multipleHandoffs {
				requestedAgents := make([]string, len(runHandoffs))
				for i, h := range runHandoffs {
					requestedAgents[i] = h.Handoff.AgentName
				}
				spanHandoff.SetError(tracing.SpanError{
					Message: "Multiple handoffs requested",
					Data:    map[string]any{"requested_agents": requestedAgents},
				})
			}

			return nil
		})
	if err != nil {
		return nil, err
	}

	// Append a tool output item for the handoff
	toolCallOutputItem := ItemHelpers().ToolCallOutputItem(
		actualHandoff.ToolCall,
		handoff.GetTransferMessage(newAgent),
	)
	newStepItems = append(newStepItems, HandoffOutputItem{
		Agent: agent,
		RawItem: TResponseInputItem{
			OfFunctionCallOutput: &toolCallOutputItem,
		},
		SourceAgent: agent,
		TargetAgent: newAgent,
		Type:        "handoff_output_item",
	})

	childCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Execute handoff hooks
	var wg sync.WaitGroup
	var handoffErrors [2]error

	wg.Add(1)
	go func() {
		defer wg.Done()
		err := hooks.OnHandoff(childCtx, agent, newAgent)
		if err != nil {
			cancel()
			handoffErrors[0] = fmt.Errorf("RunHooks.OnHandoff failed: %w", err)
		}
	}()

	if agent.Hooks != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := agent.Hooks.OnHandoff(childCtx, newAgent, agent)
			if err != nil {
				cancel()
				handoffErrors[1] = fmt.Errorf("AgentHooks.OnHandoff failed: %w", err)
			}
		}()
	}

	wg.Wait()
	if err = errors.Join(handoffErrors[:]...); err != nil {
		return nil, err
	}

	// If there's an input filter, filter the input for the next agent
	inputFilter := handoff.InputFilter
	if inputFilter == nil {
		inputFilter = runConfig.HandoffInputFilter
	}
	shouldNestHistory := runConfig.NestHandoffHistory
	if handoff.NestHandoffHistory.Valid() {
		shouldNestHistory = handoff.NestHandoffHistory.Value
	}

	var memoryStepItems []RunItem
	if inputFilter != nil || shouldNestHistory {
		Logger().Debug("Filtering inputs for handoff")
		handoffInputData := HandoffInputData{
			InputHistory:    CopyInput(originalInput),
			PreHandoffItems: slices.Clone(preStepItems),
			NewItems:        slices.Clone(newStepItems),
			RunContext:      contextWrapper,
		}

		if inputFilter != nil {
			filtered, err := inputFilter(ctx, handoffInputData)
			if err != nil {
				return nil, fmt.Errorf("handoff input filter error: %w", err)
			}

			if filtered.InputHistory != nil {
				originalInput = CopyInput(filtered.InputHistory)
			} else {
				originalInput = InputItems{}
			}
			preStepItems = slices.Clone(filtered.PreHandoffItems)
			newStepItems = slices.Clone(filtered.NewItems)

			if filtered.InputItems != nil {
				memoryStepItems = slices.Clone(filtered.NewItems)
				newStepItems = slices.Clone(filtered.InputItems)
			}
		} else if shouldNestHistory {
			nested := NestHandoffHistory(handoffInputData, runConfig.HandoffHistoryMapper)
			if nested.InputHistory != nil {
				originalInput = CopyInput(nested.InputHistory)
			} else {
				originalInput = InputItems{}
			}
			preStepItems = slices.Clone(nested.PreHandoffItems)
			memoryStepItems = slices.Clone(nested.NewItems)
			if nested.InputItems != nil {
				newStepItems = slices.Clone(nested.InputItems)
			} else {
				newStepItems = slices.Clone(nested.NewItems)
			}
		}
	}

	return &SingleStepResult{
		OriginalInput:   originalInput,
		ModelResponse:   newResponse,
		PreStepItems:    preStepItems,
		NewStepItems:    newStepItems,
		MemoryStepItems: memoryStepItems,
		NextStep:        NextStepHandoff{NewAgent: newAgent},
	}, nil
}

func (ri runImpl) ExecuteFinalOutput(
	ctx context.Context,
	agent *Agent,
	originalInput Input,
	newResponse ModelResponse,
	preStepItems []RunItem,
	newStepItems []RunItem,
	finalOutput any,
	hooks RunHooks,
) (*SingleStepResult, error) {
	// Run the onEnd hooks
	err := ri.RunFinalOutputHooks(ctx, agent, hooks, finalOutput)
	if err != nil {
		return nil, err
	}

	return &SingleStepResult{
		OriginalInput: originalInput,
		ModelResponse: newResponse,
		PreStepItems:  preStepItems,
		NewStepItems:  newStepItems,
		NextStep:      NextStepFinalOutput{Output: finalOutput},
	}, nil
}

func (ri runImpl) RunFinalOutputHooks(
	ctx context.Context,
	agent *Agent,
	hooks RunHooks,
	finalOutput any,
) error {
	var hooksErrors [2]error

	childCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		err := hooks.OnAgentEnd(childCtx, agent, finalOutput)
		if err != nil {
			cancel()
			hooksErrors[0] = fmt.Errorf("RunHooks.OnAgentEnd failed: %w", err)
		}
	}()

	if agent.Hooks != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := agent.Hooks.OnEnd(childCtx, agent, finalOutput)
			if err != nil {
				cancel()
				hooksErrors[1] = fmt.Errorf("AgentHooks.OnEnd failed: %w", err)
			}
		}()
	}

	wg.Wait()
	return errors.Join(hooksErrors[:]...)
}

func (runImpl) RunSingleInputGuardrail(
	ctx context.Context,
	agent *Agent,
	guardrail InputGuardrail,
	input Input,
) (InputGuardrailResult, error) {
	var result InputGuardrailResult

	err := tracing.GuardrailSpan(
		ctx, tracing.GuardrailSpanParams{Name: guardrail.Name},
		func(ctx context.Context, spanGuardrail tracing.Span) error {
			var err error
			result, err = guardrail.Run(ctx, agent, input)
			if err != nil {
				return err
			}
			spanGuardrail.SpanData().(*tracing.GuardrailSpanData).Triggered = result.Output.TripwireTriggered
			return nil
		},
	)

	return result, err
}

func (runImpl) RunSingleOutputGuardrail(
	ctx context.Context,
	guardrail OutputGuardrail,
	agent *Agent,
	agentOutput any,
) (OutputGuardrailResult, error) {
	var result OutputGuardrailResult

	err := tracing.GuardrailSpan(
		ctx, tracing.GuardrailSpanParams{Name: guardrail.Name},
		func(ctx context.Context, spanGuardrail tracing.Span) error {
			var err error
			result, err = guardrail.Run(ctx, agent, agentOutput)
			if err != nil {
				return err
			}
			spanGuardrail.SpanData().(*tracing.GuardrailSpanData).Triggered = result.Output.TripwireTriggered
			return nil
		},
	)

	return result, err
}

func (runImpl) StreamStepResultToQueue(stepResult SingleStepResult, queue *asyncqueue.Queue[StreamEvent]) {
	for _, item := range stepResult.StepMemoryItems() {
		var event StreamEvent

		switch item.(type) {
		case MessageOutputItem:
			event = NewRunItemStreamEvent(StreamEventMessageOutputCreated, item)
		case HandoffCallItem:
			event = NewRunItemStreamEvent(StreamEventHandoffRequested, item)
		case HandoffOutputItem:
			event = NewRunItemStreamEvent(StreamEventHandoffOccurred, item)
		case ToolCallItem:
			event = NewRunItemStreamEvent(StreamEventToolCalled, item)
		case ToolCallOutputItem:
			event = NewRunItemStreamEvent(StreamEventToolOutput, item)
		case ReasoningItem:
			event = NewRunItemStreamEvent(StreamEventReasoningItemCreated, item)
		default:
			Logger().Warn(fmt.Sprintf("Unexpected RunItem type %T", item))
			event = nil
		}

		if event != nil {
			queue.Put(event)
		}
	}
}

// checkForFinalOutputFromTools determines whether the tool results should
// become the final output, according to the agent's ToolUseBehavior.
func (runImpl) checkForFinalOutputFromTools(
	ctx context.Context,
	agent *Agent,
	toolResults []FunctionToolResult,
) (ToolsToFinalOutputResult, error) {
	if len(toolResults) == 0 {
		return notFinalOutput, nil
	}

	toolUseBehavior := agent.ToolUseBehavior
	if toolUseBehavior == nil {
		toolUseBehavior = RunLLMAgain()
	}

	return toolUseBehavior.ToolsToFinalOutput(ctx, toolResults)
}

// ManageTraceCtx creates a trace only if there is no current trace, and manages the trace lifecycle around the given function.
func ManageTraceCtx(ctx context.Context, params tracing.TraceParams, fn func(context.Context) error) error {
	if ct := tracing.GetCurrentTrace(ctx); ct != nil {
		return fn(ctx)
	}
	return tracing.RunTrace(ctx, params, func(ctx context.Context, _ tracing.Trace) error {
		return fn(ctx)
	})
}
