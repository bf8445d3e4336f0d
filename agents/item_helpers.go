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
	"strings"

	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared/constant"
)

type itemHelpers struct{}

// ItemHelpers provides helper functions for working with run and model items.
func ItemHelpers() itemHelpers { return itemHelpers{} }

// ExtractLastText returns the last text content of a message, if any.
func (itemHelpers) ExtractLastText(message TResponseOutputItem) (string, bool) {
	if message.Type != "message" || len(message.Content) == 0 {
		return "", false
	}
	lastContent := message.Content[len(message.Content)-1]
	if lastContent.Type != "output_text" {
		return "", false
	}
	return lastContent.Text, true
}

// InputToNewInputList converts a string or list of input items into a list
// of input items. A string becomes a single user message.
func (itemHelpers) InputToNewInputList(input Input) []TResponseInputItem {
	switch v := input.(type) {
	case nil:
		return nil
	case InputString:
		return []TResponseInputItem{{
			OfMessage: &responses.EasyInputMessageParam{
				Content: responses.EasyInputMessageContentUnionParam{
					OfString: param.NewOpt(v.String()),
				},
				Role: responses.EasyInputMessageRoleUser,
			},
		}}
	case InputItems:
		return slices.Clone(v)
	default:
		panic(fmt.Errorf("unexpected Input type %T", input))
	}
}

// TextMessageOutputs concatenates all the text content of the message
// output items in the given items.
func (h itemHelpers) TextMessageOutputs(items []RunItem) string {
	var sb strings.Builder
	for _, item := range items {
		if messageItem, ok := item.(MessageOutputItem); ok {
			sb.WriteString(h.TextMessageOutput(messageItem))
		}
	}
	return sb.String()
}

// TextMessageOutput returns all the text content of a single message
// output item.
func (itemHelpers) TextMessageOutput(message MessageOutputItem) string {
	var sb strings.Builder
	for _, content := range message.RawItem.Content {
		if content.Type == "output_text" {
			sb.WriteString(content.Text)
		}
	}
	return sb.String()
}

// ToolCallOutputItem creates a tool call output item from a tool call and
// its output.
func (itemHelpers) ToolCallOutputItem(
	toolCall ResponseFunctionToolCall,
	output any,
) responses.ResponseInputItemFunctionCallOutputParam {
	outputString, ok := output.(string)
	if !ok {
		outputString = fmt.Sprintf("%v", output)
	}
	return responses.ResponseInputItemFunctionCallOutputParam{
		CallID: toolCall.CallID,
		Output: responses.ResponseInputItemFunctionCallOutputOutputUnionParam{
			OfString: param.NewOpt(outputString),
		},
		Type: constant.ValueOf[constant.FunctionCallOutput](),
	}
}
