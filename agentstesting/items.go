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

	"github.com/nlpodyssey/agentcore/agents"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared/constant"
)

// GetTextInputItem returns a user message input item with the given text.
func GetTextInputItem(content string) agents.TResponseInputItem {
	return agents.TResponseInputItem{
		OfMessage: &responses.EasyInputMessageParam{
			Content: responses.EasyInputMessageContentUnionParam{
				OfString: param.NewOpt(content),
			},
			Role: responses.EasyInputMessageRoleUser,
		},
	}
}

// GetTextMessage returns an assistant message output item containing a
// single output_text part with the given text.
func GetTextMessage(content string) agents.TResponseOutputItem {
	return responses.ResponseOutputItemUnion{
		ID:   "1",
		Type: "message",
		Role: constant.ValueOf[constant.Assistant](),
		Content: []responses.ResponseOutputMessageContentUnion{{
			Text:        content,
			Type:        "output_text",
			Annotations: nil,
		}},
		Status: string(responses.ResponseOutputMessageStatusCompleted),
	}
}

// GetFunctionTool returns a function tool with the given name whose
// invocation always returns returnValue.
func GetFunctionTool(name, returnValue string) agents.FunctionTool {
	return agents.FunctionTool{
		Name: name,
		ParamsJSONSchema: map[string]any{
			"title":                name + "_args",
			"type":                 "object",
			"required":             []string{},
			"additionalProperties": false,
			"properties":           map[string]any{},
		},
		OnInvokeTool: func(context.Context, string) (any, error) {
			return returnValue, nil
		},
	}
}

// GetFunctionToolCall returns a function_call output item for the tool with
// the given name and arguments.
func GetFunctionToolCall(name, arguments string) agents.TResponseOutputItem {
	return responses.ResponseOutputItemUnion{
		ID:        "1",
		CallID:    "2",
		Type:      "function_call",
		Name:      name,
		Arguments: arguments,
	}
}

// GetHandoffToolCall returns a function_call output item invoking the
// handoff tool for toAgent. If overrideName is empty, the default handoff
// tool name for the agent is used.
func GetHandoffToolCall(toAgent *agents.Agent, overrideName, args string) agents.TResponseOutputItem {
	name := overrideName
	if name == "" {
		name = agents.DefaultHandoffToolName(toAgent)
	}
	return GetFunctionToolCall(name, args)
}

// GetFinalOutputMessage returns an assistant message whose text is the given
// JSON string, for agents with a structured output type.
func GetFinalOutputMessage(args string) agents.TResponseOutputItem {
	return responses.ResponseOutputItemUnion{
		ID:   "1",
		Type: "message",
		Role: constant.ValueOf[constant.Assistant](),
		Content: []responses.ResponseOutputMessageContentUnion{{
			Text:        args,
			Type:        "output_text",
			Annotations: nil,
		}},
		Status: string(responses.ResponseOutputMessageStatusCompleted),
	}
}
