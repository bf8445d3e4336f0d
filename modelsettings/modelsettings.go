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

// Package modelsettings holds settings to use when calling an LLM.
package modelsettings

import (
	"maps"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/packages/param"
)

// ToolChoice forces or forbids tool usage on a single model call.
type ToolChoice interface {
	isToolChoice()
}

// ToolChoiceString is "auto", "required", "none", or the name of a specific tool.
type ToolChoiceString string

func (ToolChoiceString) isToolChoice() {}

func (t ToolChoiceString) String() string { return string(t) }

const (
	ToolChoiceAuto     = ToolChoiceString("auto")
	ToolChoiceRequired = ToolChoiceString("required")
	ToolChoiceNone     = ToolChoiceString("none")
)

// Truncation is a model truncation strategy.
type Truncation string

const (
	TruncationAuto     = Truncation("auto")
	TruncationDisabled = Truncation("disabled")
)

// ModelSettings configures a single LLM call.
//
// This type holds optional model configuration parameters such as
// temperature, top_p, penalties, and tool choice. Not all models and
// providers support all of these parameters; the model in use is
// responsible for ignoring what it cannot honor.
type ModelSettings struct {
	// The temperature to use when calling the model.
	Temperature param.Opt[float64]

	// The top_p to use when calling the model.
	TopP param.Opt[float64]

	// The frequency penalty to use when calling the model.
	FrequencyPenalty param.Opt[float64]

	// The presence penalty to use when calling the model.
	PresencePenalty param.Opt[float64]

	// The tool choice to use when calling the model. Nil leaves the choice
	// to the model.
	ToolChoice ToolChoice

	// Controls whether the model can make multiple parallel tool calls in
	// a single turn.
	ParallelToolCalls param.Opt[bool]

	// The truncation strategy to use when calling the model.
	Truncation *Truncation

	// The maximum number of output tokens to generate.
	MaxTokens param.Opt[int64]

	// Configuration options for reasoning models.
	Reasoning openai.ReasoningParam

	// Metadata to include with the model response call.
	Metadata map[string]string

	// Whether to store the generated model response for later retrieval.
	Store param.Opt[bool]

	// Additional provider-specific body fields, passed through verbatim.
	ExtraBody map[string]any

	// Additional provider-specific top-level arguments, passed through verbatim.
	ExtraArgs map[string]any
}

// Resolve produces a new ModelSettings by overlaying any non-null values
// of the given override on top of this instance.
func (ms ModelSettings) Resolve(override ModelSettings) ModelSettings {
	resolved := ms
	if override.Temperature.Valid() {
		resolved.Temperature = override.Temperature
	}
	if override.TopP.Valid() {
		resolved.TopP = override.TopP
	}
	if override.FrequencyPenalty.Valid() {
		resolved.FrequencyPenalty = override.FrequencyPenalty
	}
	if override.PresencePenalty.Valid() {
		resolved.PresencePenalty = override.PresencePenalty
	}
	if override.ToolChoice != nil {
		resolved.ToolChoice = override.ToolChoice
	}
	if override.ParallelToolCalls.Valid() {
		resolved.ParallelToolCalls = override.ParallelToolCalls
	}
	if override.Truncation != nil {
		resolved.Truncation = override.Truncation
	}
	if override.MaxTokens.Valid() {
		resolved.MaxTokens = override.MaxTokens
	}
	if override.Reasoning.Effort != "" || override.Reasoning.Summary != "" {
		resolved.Reasoning = override.Reasoning
	}
	if override.Metadata != nil {
		resolved.Metadata = maps.Clone(override.Metadata)
	}
	if override.Store.Valid() {
		resolved.Store = override.Store
	}
	if override.ExtraBody != nil {
		resolved.ExtraBody = maps.Clone(override.ExtraBody)
	}
	if override.ExtraArgs != nil {
		resolved.ExtraArgs = mergeExtraArgs(ms.ExtraArgs, override.ExtraArgs)
	}
	return resolved
}

func mergeExtraArgs(base, override map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(override))
	maps.Copy(merged, base)
	maps.Copy(merged, override)
	return merged
}
