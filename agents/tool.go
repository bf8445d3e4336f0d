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
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/openai/openai-go/v3/packages/param"
)

// Tool is implemented by all tools that can be used in an agent.
type Tool interface {
	ToolName() string
	isTool()
}

// ToolErrorFunction computes the tool output to send back to the model when
// a function tool call fails, given the error it failed with.
type ToolErrorFunction = func(ctx context.Context, err error) (any, error)

// DefaultToolErrorFunction reports the failure to the model instead of
// raising it, letting the run continue.
func DefaultToolErrorFunction(ctx context.Context, err error) (any, error) {
	return fmt.Sprintf("An error occurred while running the tool. Please try again. Error: %s", err.Error()), nil
}

// FunctionToolEnabler determines whether a function tool is enabled for
// the current run. Disabled tools are hidden from the LLM at runtime.
type FunctionToolEnabler interface {
	IsEnabled(ctx context.Context, agent *Agent) (bool, error)
}

// FunctionToolEnablerFunc adapts a function to the FunctionToolEnabler interface.
type FunctionToolEnablerFunc func(ctx context.Context, agent *Agent) (bool, error)

func (f FunctionToolEnablerFunc) IsEnabled(ctx context.Context, agent *Agent) (bool, error) {
	return f(ctx, agent)
}

type functionToolEnabledFlag bool

func (f functionToolEnabledFlag) IsEnabled(context.Context, *Agent) (bool, error) {
	return bool(f), nil
}

// FunctionToolEnabled returns a FunctionToolEnabler which always enables the tool.
func FunctionToolEnabled() FunctionToolEnabler { return functionToolEnabledFlag(true) }

// FunctionToolDisabled returns a FunctionToolEnabler which always disables the tool.
func FunctionToolDisabled() FunctionToolEnabler { return functionToolEnabledFlag(false) }

// A FunctionTool wraps a function. In most cases, you should use the
// NewFunctionTool constructor, which takes care of reflecting the JSON
// schema of the arguments and validating the model-provided JSON before
// the function is invoked.
type FunctionTool struct {
	// The name of the tool, as shown to the LLM. Generally the name of the function.
	Name string

	// A description of the tool, as shown to the LLM.
	Description string

	// The JSON schema for the tool's parameters.
	ParamsJSONSchema map[string]any

	// A function that invokes the tool with the given context and parameters.
	// The params passed are:
	// 1. The tool run context.
	// 2. The arguments from the LLM, as a JSON string.
	//
	// You must return a string representation of the tool output, or
	// something we can call fmt.Sprintf("%v", ...) on.
	// If errors occur, you can either raise an error (which will cause the
	// run to fail) or return a string error message (which will be sent
	// back to the LLM).
	OnInvokeTool func(ctx context.Context, arguments string) (any, error)

	// Whether the JSON schema is in strict mode. It is strongly recommended
	// to set this to true (or leave it unset, which is treated as true), as
	// it increases the likelihood of correct JSON input.
	StrictJSONSchema param.Opt[bool]

	// Optional FunctionToolEnabler that determines whether the tool is
	// enabled. Disabled tools are hidden from the LLM at runtime.
	// If nil, the tool is enabled.
	IsEnabled FunctionToolEnabler

	// Optional function that computes the tool output sent to the model
	// when this tool call fails. If nil, DefaultToolErrorFunction is used.
	// Set it to a pointer to nil ToolErrorFunction to let tool errors fail
	// the run.
	FailureErrorFunction *ToolErrorFunction
}

func (t FunctionTool) ToolName() string { return t.Name }

func (t FunctionTool) isTool() {}

// NewFunctionTool creates a FunctionTool from the given function.
//
// The parameters JSON schema is reflected from the ArgsT type parameter,
// converted to strict mode. The model-provided arguments are validated
// against the schema and unmarshaled into an ArgsT value before fn is
// invoked. Malformed or non-conforming arguments cause a ModelBehaviorError.
//
// It panics if a schema cannot be reflected from ArgsT.
func NewFunctionTool[ArgsT, ResultT any](name, description string, fn func(ctx context.Context, args ArgsT) (ResultT, error)) FunctionTool {
	argsType := reflect.TypeFor[ArgsT]()

	schemaMap, compiledSchema, err := schemaForType(argsType)
	if err != nil {
		panic(fmt.Errorf("failed to create JSON schema for tool %s: %w", name, err))
	}

	return FunctionTool{
		Name:             name,
		Description:      description,
		ParamsJSONSchema: schemaMap,
		OnInvokeTool: func(ctx context.Context, arguments string) (any, error) {
			if strings.TrimSpace(arguments) == "" {
				arguments = "{}"
			}
			if err := ValidateJSON(ctx, compiledSchema, arguments); err != nil {
				return nil, err
			}
			var args ArgsT
			if err := json.Unmarshal([]byte(arguments), &args); err != nil {
				return nil, ModelBehaviorErrorf("invalid JSON input for tool %s: %v", name, err)
			}
			result, err := fn(ctx, args)
			if err != nil {
				return nil, err
			}
			return result, nil
		},
		StrictJSONSchema: param.NewOpt(true),
	}
}
