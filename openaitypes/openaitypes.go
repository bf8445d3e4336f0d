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

// Package openaitypes converts between openai-go response output unions and
// their input-item param counterparts, for the item kinds the run loop feeds
// back to the model on subsequent turns.
package openaitypes

import (
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/packages/respjson"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared/constant"
)

func ResponseInputItemUnionParamFromResponseOutputMessage(
	input responses.ResponseOutputMessage,
) responses.ResponseInputItemUnionParam {
	v := ResponseOutputMessageToParam(input)
	return responses.ResponseInputItemUnionParam{
		OfOutputMessage: &v,
	}
}

func ResponseOutputMessageToParam(
	input responses.ResponseOutputMessage,
) responses.ResponseOutputMessageParam {
	out := responses.ResponseOutputMessageParam{
		ID:      input.ID,
		Content: ResponseOutputMessageContentUnionSliceToParams(input.Content),
		Status:  input.Status,
		Role:    input.Role,
		Type:    constant.ValueOf[constant.Message](),
	}
	if extraFields := decodedExtraFields(input.JSON.ExtraFields); len(extraFields) > 0 {
		out.SetExtraFields(extraFields)
	}
	return out
}

func ResponseOutputMessageContentUnionSliceToParams(
	input []responses.ResponseOutputMessageContentUnion,
) []responses.ResponseOutputMessageContentUnionParam {
	if input == nil {
		return nil
	}
	out := make([]responses.ResponseOutputMessageContentUnionParam, len(input))
	for i, item := range input {
		out[i] = ResponseOutputMessageContentUnionToParam(item)
	}
	return out
}

func ResponseOutputMessageContentUnionToParam(
	input responses.ResponseOutputMessageContentUnion,
) responses.ResponseOutputMessageContentUnionParam {
	switch input.Type {
	case "output_text":
		v := responses.ResponseOutputTextParam{
			Annotations: ResponseOutputTextAnnotationUnionSliceToParams(input.Annotations),
			Text:        input.Text,
			Type:        constant.ValueOf[constant.OutputText](),
		}
		return responses.ResponseOutputMessageContentUnionParam{
			OfOutputText: &v,
		}
	case "refusal":
		v := responses.ResponseOutputRefusalParam{
			Refusal: input.Refusal,
			Type:    constant.ValueOf[constant.Refusal](),
		}
		return responses.ResponseOutputMessageContentUnionParam{
			OfRefusal: &v,
		}
	default:
		panic(fmt.Errorf("unexpected ResponseOutputMessageContentUnion type %q", input.Type))
	}
}

func ResponseOutputTextAnnotationUnionSliceToParams(
	input []responses.ResponseOutputTextAnnotationUnion,
) []responses.ResponseOutputTextAnnotationUnionParam {
	if input == nil {
		return nil
	}
	out := make([]responses.ResponseOutputTextAnnotationUnionParam, len(input))
	for i, item := range input {
		out[i] = ResponseOutputTextAnnotationUnionToParam(item)
	}
	return out
}

func ResponseOutputTextAnnotationUnionToParam(
	input responses.ResponseOutputTextAnnotationUnion,
) responses.ResponseOutputTextAnnotationUnionParam {
	switch input.Type {
	case "file_citation":
		return responses.ResponseOutputTextAnnotationUnionParam{
			OfFileCitation: &responses.ResponseOutputTextAnnotationFileCitationParam{
				FileID: input.FileID,
				Index:  input.Index,
				Type:   constant.ValueOf[constant.FileCitation](),
			},
		}
	case "url_citation":
		return responses.ResponseOutputTextAnnotationUnionParam{
			OfURLCitation: &responses.ResponseOutputTextAnnotationURLCitationParam{
				EndIndex:   input.EndIndex,
				StartIndex: input.StartIndex,
				Title:      input.Title,
				URL:        input.URL,
				Type:       constant.ValueOf[constant.URLCitation](),
			},
		}
	case "file_path":
		return responses.ResponseOutputTextAnnotationUnionParam{
			OfFilePath: &responses.ResponseOutputTextAnnotationFilePathParam{
				FileID: input.FileID,
				Index:  input.Index,
				Type:   constant.ValueOf[constant.FilePath](),
			},
		}
	default:
		panic(fmt.Errorf("unexpected ResponseOutputTextAnnotationUnion type %q", input.Type))
	}
}

func ResponseInputItemUnionParamFromResponseFunctionToolCall(
	input responses.ResponseFunctionToolCall,
) responses.ResponseInputItemUnionParam {
	v := ResponseFunctionToolCallToParam(input)
	return responses.ResponseInputItemUnionParam{
		OfFunctionCall: &v,
	}
}

func ResponseFunctionToolCallToParam(
	input responses.ResponseFunctionToolCall,
) responses.ResponseFunctionToolCallParam {
	out := responses.ResponseFunctionToolCallParam{
		Arguments: input.Arguments,
		CallID:    input.CallID,
		Name:      input.Name,
		ID:        makeOpt(input.ID),
		Status:    input.Status,
		Type:      constant.ValueOf[constant.FunctionCall](),
	}
	if extraFields := decodedExtraFields(input.JSON.ExtraFields); len(extraFields) > 0 {
		out.SetExtraFields(extraFields)
	}
	return out
}

func ResponseInputItemUnionParamFromResponseReasoningItem(
	input responses.ResponseReasoningItem,
) responses.ResponseInputItemUnionParam {
	v := ResponseReasoningItemToParam(input)
	return responses.ResponseInputItemUnionParam{
		OfReasoning: &v,
	}
}

func ResponseReasoningItemToParam(
	input responses.ResponseReasoningItem,
) responses.ResponseReasoningItemParam {
	var encryptedContent param.Opt[string]
	if input.EncryptedContent != "" {
		encryptedContent = param.NewOpt(input.EncryptedContent)
	}
	out := responses.ResponseReasoningItemParam{
		ID:               input.ID,
		Summary:          ResponseReasoningItemSummarySliceToParams(input.Summary),
		Content:          ResponseReasoningItemContentSliceToParams(input.Content),
		Status:           input.Status,
		EncryptedContent: encryptedContent,
		Type:             constant.ValueOf[constant.Reasoning](),
	}
	if extraFields := decodedExtraFields(input.JSON.ExtraFields); len(extraFields) > 0 {
		out.SetExtraFields(extraFields)
	}
	return out
}

func ResponseReasoningItemSummarySliceToParams(
	input []responses.ResponseReasoningItemSummary,
) []responses.ResponseReasoningItemSummaryParam {
	if input == nil {
		return nil
	}
	out := make([]responses.ResponseReasoningItemSummaryParam, len(input))
	for i, item := range input {
		out[i] = responses.ResponseReasoningItemSummaryParam{
			Text: item.Text,
			Type: constant.ValueOf[constant.SummaryText](),
		}
	}
	return out
}

func ResponseReasoningItemContentSliceToParams(
	input []responses.ResponseReasoningItemContent,
) []responses.ResponseReasoningItemContentParam {
	if input == nil {
		return nil
	}
	out := make([]responses.ResponseReasoningItemContentParam, len(input))
	for i, item := range input {
		out[i] = responses.ResponseReasoningItemContentParam{
			Text: item.Text,
			Type: constant.ValueOf[constant.ReasoningText](),
		}
	}
	return out
}

func ResponseOutputItemUnionFromResponseOutputMessage(
	input responses.ResponseOutputMessage,
) responses.ResponseOutputItemUnion {
	return responses.ResponseOutputItemUnion{
		ID:      input.ID,
		Content: input.Content,
		Role:    input.Role,
		Status:  string(input.Status),
		Type:    "message",
	}
}

func ResponseInputItemUnionParamFromResponseFileSearchToolCall(
	input responses.ResponseFileSearchToolCall,
) responses.ResponseInputItemUnionParam {
	v := ResponseFileSearchToolCallToParam(input)
	return responses.ResponseInputItemUnionParam{
		OfFileSearchCall: &v,
	}
}

func ResponseFileSearchToolCallToParam(
	input responses.ResponseFileSearchToolCall,
) responses.ResponseFileSearchToolCallParam {
	return responses.ResponseFileSearchToolCallParam{
		ID:      input.ID,
		Queries: input.Queries,
		Status:  input.Status,
		Results: ResponseFileSearchToolCallResultSliceToParams(input.Results),
		Type:    constant.ValueOf[constant.FileSearchCall](),
	}
}

func ResponseFileSearchToolCallResultSliceToParams(
	input []responses.ResponseFileSearchToolCallResult,
) []responses.ResponseFileSearchToolCallResultParam {
	if input == nil {
		return nil
	}
	out := make([]responses.ResponseFileSearchToolCallResultParam, len(input))
	for i, item := range input {
		out[i] = responses.ResponseFileSearchToolCallResultParam{
			FileID:     makeOpt(item.FileID),
			Filename:   makeOpt(item.Filename),
			Score:      makeOpt(item.Score),
			Text:       makeOpt(item.Text),
			Attributes: ResponseFileSearchToolCallResultAttributeUnionMapToParamMap(item.Attributes),
		}
	}
	return out
}

func ResponseFileSearchToolCallResultAttributeUnionMapToParamMap(
	input map[string]responses.ResponseFileSearchToolCallResultAttributeUnion,
) map[string]responses.ResponseFileSearchToolCallResultAttributeUnionParam {
	if input == nil {
		return nil
	}
	out := make(map[string]responses.ResponseFileSearchToolCallResultAttributeUnionParam)
	for k, v := range input {
		out[k] = responses.ResponseFileSearchToolCallResultAttributeUnionParam{
			OfString: makeOpt(v.OfString),
			OfFloat:  makeOpt(v.OfFloat),
			OfBool:   makeOpt(v.OfBool),
		}
	}
	return out
}

func ResponseInputItemUnionParamFromResponseFunctionWebSearch(
	input responses.ResponseFunctionWebSearch,
) responses.ResponseInputItemUnionParam {
	v := ResponseFunctionWebSearchToParam(input)
	return responses.ResponseInputItemUnionParam{
		OfWebSearchCall: &v,
	}
}

func ResponseFunctionWebSearchToParam(
	input responses.ResponseFunctionWebSearch,
) responses.ResponseFunctionWebSearchParam {
	return responses.ResponseFunctionWebSearchParam{
		ID:     input.ID,
		Action: ResponseFunctionWebSearchActionUnionToParam(input.Action),
		Status: input.Status,
		Type:   constant.ValueOf[constant.WebSearchCall](),
	}
}

func ResponseFunctionWebSearchActionUnionToParam(
	input responses.ResponseFunctionWebSearchActionUnion,
) responses.ResponseFunctionWebSearchActionUnionParam {
	switch input.Type {
	case "search":
		return responses.ResponseFunctionWebSearchActionUnionParam{
			OfSearch: &responses.ResponseFunctionWebSearchActionSearchParam{
				Query: input.Query,
				Type:  constant.ValueOf[constant.Search](),
			},
		}
	case "open_page":
		return responses.ResponseFunctionWebSearchActionUnionParam{
			OfOpenPage: &responses.ResponseFunctionWebSearchActionOpenPageParam{
				URL:  input.URL,
				Type: constant.ValueOf[constant.OpenPage](),
			},
		}
	case "find":
		return responses.ResponseFunctionWebSearchActionUnionParam{
			OfFind: &responses.ResponseFunctionWebSearchActionFindParam{
				Pattern: input.Pattern,
				URL:     input.URL,
				Type:    constant.ValueOf[constant.Find](),
			},
		}
	default:
		return responses.ResponseFunctionWebSearchActionUnionParam{}
	}
}

func ResponseFunctionWebSearchActionUnionFromResponseOutputItemUnionAction(
	input responses.ResponseOutputItemUnionAction,
) responses.ResponseFunctionWebSearchActionUnion {
	return responses.ResponseFunctionWebSearchActionUnion{
		Query:   input.Query,
		Type:    input.Type,
		URL:     input.URL,
		Pattern: input.Pattern,
	}
}

func decodedExtraFields(extraFields map[string]respjson.Field) map[string]any {
	if len(extraFields) == 0 {
		return nil
	}

	decoded := make(map[string]any, len(extraFields))
	for k, field := range extraFields {
		raw := field.Raw()
		if raw == "" {
			continue
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			continue
		}
		decoded[k] = value
	}

	if len(decoded) == 0 {
		return nil
	}
	return decoded
}

func makeOpt[T comparable](v T) param.Opt[T] {
	var zero T
	if v == zero {
		return param.Opt[T]{}
	}
	return param.NewOpt(v)
}
