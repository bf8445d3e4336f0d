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
)

// AgentAsToolInput is the input schema for agent-as-tool calls.
type AgentAsToolInput struct {
	Input string `json:"input"`
}

// ParseAgentAsToolInput validates and parses tool input into AgentAsToolInput.
func ParseAgentAsToolInput(value any) (*AgentAsToolInput, error) {
	switch v := value.(type) {
	case AgentAsToolInput:
		return &v, nil
	case *AgentAsToolInput:
		if v == nil {
			return nil, fmt.Errorf("input must be provided")
		}
		return v, nil
	case map[string]any:
		inputRaw, ok := v["input"]
		if !ok {
			return nil, fmt.Errorf("input must be provided")
		}
		inputStr, ok := inputRaw.(string)
		if !ok {
			return nil, fmt.Errorf("input must be a string")
		}
		return &AgentAsToolInput{Input: inputStr}, nil
	default:
		return nil, fmt.Errorf("input must be provided")
	}
}
