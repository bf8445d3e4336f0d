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

package modelsettings

import (
	"testing"

	"github.com/openai/openai-go/v3/packages/param"
	"github.com/stretchr/testify/assert"
)

func TestResolveOverridesNonNullValues(t *testing.T) {
	base := ModelSettings{
		Temperature: param.NewOpt(0.2),
		TopP:        param.NewOpt(0.9),
		ToolChoice:  ToolChoiceAuto,
	}
	override := ModelSettings{
		Temperature: param.NewOpt(0.7),
		ToolChoice:  ToolChoiceRequired,
		MaxTokens:   param.NewOpt[int64](512),
	}

	resolved := base.Resolve(override)

	assert.Equal(t, param.NewOpt(0.7), resolved.Temperature)
	assert.Equal(t, param.NewOpt(0.9), resolved.TopP)
	assert.Equal(t, ToolChoiceRequired, resolved.ToolChoice)
	assert.Equal(t, param.NewOpt[int64](512), resolved.MaxTokens)
}

func TestResolveKeepsBaseWhenOverrideIsZero(t *testing.T) {
	base := ModelSettings{
		Temperature:       param.NewOpt(0.3),
		ParallelToolCalls: param.NewOpt(true),
		Metadata:          map[string]string{"team": "support"},
	}

	resolved := base.Resolve(ModelSettings{})

	assert.Equal(t, base.Temperature, resolved.Temperature)
	assert.Equal(t, base.ParallelToolCalls, resolved.ParallelToolCalls)
	assert.Equal(t, base.Metadata, resolved.Metadata)
	assert.Nil(t, resolved.ToolChoice)
}

func TestResolveMergesExtraArgs(t *testing.T) {
	base := ModelSettings{ExtraArgs: map[string]any{"a": 1, "b": 2}}
	override := ModelSettings{ExtraArgs: map[string]any{"b": 3, "c": 4}}

	resolved := base.Resolve(override)

	assert.Equal(t, map[string]any{"a": 1, "b": 3, "c": 4}, resolved.ExtraArgs)
	// The base settings must not be mutated by Resolve.
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, base.ExtraArgs)
}
