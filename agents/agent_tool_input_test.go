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
	"testing"

	"github.com/nlpodyssey/agentcore/agents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentAsToolInputSchemaAcceptsString(t *testing.T) {
	parsed, err := agents.ParseAgentAsToolInput(map[string]any{"input": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", parsed.Input)

	_, err = agents.ParseAgentAsToolInput(map[string]any{"input": []any{}})
	require.Error(t, err)
}

func TestParseAgentAsToolInputValueAndPointer(t *testing.T) {
	parsed, err := agents.ParseAgentAsToolInput(agents.AgentAsToolInput{Input: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", parsed.Input)

	parsed, err = agents.ParseAgentAsToolInput(&agents.AgentAsToolInput{Input: "hola"})
	require.NoError(t, err)
	assert.Equal(t, "hola", parsed.Input)

	_, err = agents.ParseAgentAsToolInput((*agents.AgentAsToolInput)(nil))
	require.Error(t, err)
}

func TestParseAgentAsToolInputMissingInput(t *testing.T) {
	_, err := agents.ParseAgentAsToolInput(map[string]any{"query": "hi"})
	require.Error(t, err)

	_, err = agents.ParseAgentAsToolInput(nil)
	require.Error(t, err)

	_, err = agents.ParseAgentAsToolInput(42)
	require.Error(t, err)
}
