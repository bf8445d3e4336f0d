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
	"os"
	"strings"
)

// DontLogModelData reports whether LLM inputs and outputs are kept out of log
// messages. Controlled by the OPENAI_AGENTS_DONT_LOG_MODEL_DATA environment
// variable ("0" or "false" to disable). Enabled by default.
var DontLogModelData = loadDontLogModelData()

// DontLogToolData reports whether tool call inputs and outputs are kept out
// of log messages. Controlled by the OPENAI_AGENTS_DONT_LOG_TOOL_DATA
// environment variable ("0" or "false" to disable). Enabled by default.
var DontLogToolData = loadDontLogToolData()

func loadDontLogModelData() bool {
	return debugFlagEnabled("OPENAI_AGENTS_DONT_LOG_MODEL_DATA", true)
}

func loadDontLogToolData() bool {
	return debugFlagEnabled("OPENAI_AGENTS_DONT_LOG_TOOL_DATA", true)
}

func debugFlagEnabled(key string, defaultValue bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "0", "false":
		return false
	case "1", "true":
		return true
	default:
		return defaultValue
	}
}

// defaultTraceIncludeSensitiveData is the default for
// RunConfig.TraceIncludeSensitiveData, controlled by the
// OPENAI_AGENTS_TRACE_INCLUDE_SENSITIVE_DATA environment variable.
func defaultTraceIncludeSensitiveData() bool {
	value, ok := os.LookupEnv("OPENAI_AGENTS_TRACE_INCLUDE_SENSITIVE_DATA")
	if !ok {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
