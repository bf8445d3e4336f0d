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
	"fmt"
	"slices"

	"github.com/nlpodyssey/agentcore/openaitypes"
	"github.com/openai/openai-go/v3/responses"
)

type (
	TResponseInputItem   = responses.ResponseInputItemUnionParam
	TResponseOutputItem  = responses.ResponseOutputItemUnion
	TResponseStreamEvent = responses.ResponseStreamEventUnion
)

// Input is the input to a run: either a simple string or a list of
// model input items.
type Input interface {
	isInput()
}

// InputString is a simple string Input, treated as a message from the user.
type InputString string

func (InputString) isInput() {}

func (s InputString) String() string {
	return string(s)
}

// InputItems is an Input made of a list of model input items.
type InputItems []TResponseInputItem

func (InputItems) isInput() {}

// CopyInput returns a copy of the given Input value.
func CopyInput(input Input) Input {
	switch v := input.(type) {
	case nil:
		return nil
	case InputString:
		return v
	case InputItems:
		return slices.Clone(v)
	default:
		panic(fmt.Errorf("unexpected Input type %T", input))
	}
}

// RunItem is an item generated by an agent.
type RunItem interface {
	isRunItem()

	// ToInputItem converts the item into a model input item.
	ToInputItem() TResponseInputItem
}

// MessageOutputItem represents a message from the LLM.
type MessageOutputItem struct {
	// The agent whose run caused this item to be generated.
	Agent *Agent

	RawItem responses.ResponseOutputMessage

	// Type is always "message_output_item".
	Type string
}

func (MessageOutputItem) isRunItem() {}

func (item MessageOutputItem) ToInputItem() TResponseInputItem {
	return openaitypes.ResponseInputItemUnionParamFromResponseOutputMessage(item.RawItem)
}

// HandoffCallItem represents a tool call for a handoff from one agent to another.
type HandoffCallItem struct {
	// The agent whose run caused this item to be generated.
	Agent *Agent

	RawItem responses.ResponseFunctionToolCall

	// Type is always "handoff_call_item".
	Type string
}

func (HandoffCallItem) isRunItem() {}

func (item HandoffCallItem) ToInputItem() TResponseInputItem {
	return openaitypes.ResponseInputItemUnionParamFromResponseFunctionToolCall(item.RawItem)
}

// HandoffOutputItem represents the output of a handoff.
type HandoffOutputItem struct {
	// The agent whose run caused this item to be generated.
	Agent *Agent

	RawItem TResponseInputItem

	// The agent that made the handoff.
	SourceAgent *Agent

	// The agent that is being handed off to.
	TargetAgent *Agent

	// Type is always "handoff_output_item".
	Type string
}

func (HandoffOutputItem) isRunItem() {}

func (item HandoffOutputItem) ToInputItem() TResponseInputItem {
	return item.RawItem
}

// ToolCallItemType is the set of raw item types a ToolCallItem can hold.
type ToolCallItemType interface {
	isToolCallItemType()
}

type ResponseFunctionToolCall responses.ResponseFunctionToolCall

func (ResponseFunctionToolCall) isToolCallItemType() {}

type ResponseFileSearchToolCall responses.ResponseFileSearchToolCall

func (ResponseFileSearchToolCall) isToolCallItemType() {}

type ResponseFunctionWebSearch responses.ResponseFunctionWebSearch

func (ResponseFunctionWebSearch) isToolCallItemType() {}

// TResponseInputItemFromToolCallItemType converts the raw item of a
// ToolCallItem into a model input item.
func TResponseInputItemFromToolCallItemType(item ToolCallItemType) TResponseInputItem {
	switch v := item.(type) {
	case ResponseFunctionToolCall:
		return openaitypes.ResponseInputItemUnionParamFromResponseFunctionToolCall(responses.ResponseFunctionToolCall(v))
	case ResponseFileSearchToolCall:
		return openaitypes.ResponseInputItemUnionParamFromResponseFileSearchToolCall(responses.ResponseFileSearchToolCall(v))
	case ResponseFunctionWebSearch:
		return openaitypes.ResponseInputItemUnionParamFromResponseFunctionWebSearch(responses.ResponseFunctionWebSearch(v))
	default:
		panic(fmt.Errorf("unexpected ToolCallItemType %T", item))
	}
}

// ToolCallItem represents a tool call, such as a function call or a
// hosted-tool call.
type ToolCallItem struct {
	// The agent whose run caused this item to be generated.
	Agent *Agent

	RawItem ToolCallItemType

	// Type is always "tool_call_item".
	Type string
}

func (ToolCallItem) isRunItem() {}

func (item ToolCallItem) ToInputItem() TResponseInputItem {
	return TResponseInputItemFromToolCallItemType(item.RawItem)
}

type ResponseInputItemFunctionCallOutputParam responses.ResponseInputItemFunctionCallOutputParam

// ToolCallOutputItem represents the output of a tool call.
type ToolCallOutputItem struct {
	// The agent whose run caused this item to be generated.
	Agent *Agent

	RawItem ResponseInputItemFunctionCallOutputParam

	// The output of the tool call. Not necessarily a string.
	Output any

	// Type is always "tool_call_output_item".
	Type string
}

func (ToolCallOutputItem) isRunItem() {}

func (item ToolCallOutputItem) ToInputItem() TResponseInputItem {
	rawItem := responses.ResponseInputItemFunctionCallOutputParam(item.RawItem)
	return TResponseInputItem{OfFunctionCallOutput: &rawItem}
}

// ReasoningItem represents a reasoning item from the LLM.
type ReasoningItem struct {
	// The agent whose run caused this item to be generated.
	Agent *Agent

	RawItem responses.ResponseReasoningItem

	// Type is always "reasoning_item".
	Type string
}

func (ReasoningItem) isRunItem() {}

func (item ReasoningItem) ToInputItem() TResponseInputItem {
	return openaitypes.ResponseInputItemUnionParamFromResponseReasoningItem(item.RawItem)
}

func runItemToInputItem(runItem RunItem) (TResponseInputItem, bool) {
	if runItem == nil {
		return TResponseInputItem{}, false
	}
	return runItem.ToInputItem(), true
}

func runItemsToInputItems(items []RunItem) []TResponseInputItem {
	if len(items) == 0 {
		return nil
	}
	out := make([]TResponseInputItem, 0, len(items))
	for _, item := range items {
		converted, ok := runItemToInputItem(item)
		if !ok {
			continue
		}
		out = append(out, converted)
	}
	return out
}
