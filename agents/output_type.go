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
	"reflect"

	"github.com/xeipuuv/gojsonschema"
)

// OutputTypeInterface describes the expected final output of an agent run.
// Use OutputType or OutputTypeWithStrictness for the common cases, or
// provide your own implementation for full control over the JSON schema
// and validation.
type OutputTypeInterface interface {
	// IsPlainText reports whether the output type is plain text,
	// as opposed to a JSON object.
	IsPlainText() bool

	// Name returns the name of the output type.
	Name() string

	// JSONSchema returns the JSON schema of the output.
	// It returns an error if the output type is plain text.
	JSONSchema() (map[string]any, error)

	// IsStrictJSONSchema reports whether the JSON schema is in strict mode.
	IsStrictJSONSchema() bool

	// ValidateJSON validates a JSON string against the output type and
	// returns the parsed value. It returns a ModelBehaviorError if the
	// JSON is invalid or does not conform to the schema.
	ValidateJSON(ctx context.Context, jsonStr string) (any, error)
}

// OutputType creates an output type from the given Go type with a strict
// JSON schema. A string type parameter selects plain text output. Types
// whose reflected schema is not a JSON object are wrapped in an object with
// a single "response" property, and unwrapped again upon validation.
func OutputType[T any]() OutputTypeInterface {
	return newOutputType[T](true)
}

// OutputTypeWithStrictness is like OutputType, but lets you control whether
// the JSON schema is in strict mode. Strict mode is strongly recommended,
// as it increases the likelihood of correct JSON output from the model.
func OutputTypeWithStrictness[T any](strictJSONSchema bool) OutputTypeInterface {
	return newOutputType[T](strictJSONSchema)
}

type outputType[T any] struct {
	plainText        bool
	strictJSONSchema bool
	isWrapped        bool
	schemaMap        map[string]any
	compiledSchema   *gojsonschema.Schema
	schemaErr        error
}

type outputTypeEnvelope[T any] struct {
	Response T `json:"response"`
}

func newOutputType[T any](strictJSONSchema bool) *outputType[T] {
	ot := &outputType[T]{strictJSONSchema: strictJSONSchema}

	t := reflect.TypeFor[T]()
	if t == reflect.TypeFor[string]() {
		ot.plainText = true
		return ot
	}

	schemaMap, err := reflectSchemaMap(t)
	if err != nil {
		ot.schemaErr = err
		return ot
	}

	if schemaMap["type"] != "object" {
		schemaMap = map[string]any{
			"type":                 "object",
			"properties":           map[string]any{"response": schemaMap},
			"required":             []any{"response"},
			"additionalProperties": false,
		}
		ot.isWrapped = true
	}

	if strictJSONSchema {
		schemaMap, err = EnsureStrictJSONSchema(schemaMap)
		if err != nil {
			ot.schemaErr = err
			return ot
		}
	}
	ot.schemaMap = schemaMap

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
	if err != nil {
		ot.schemaErr = UserErrorf("failed to compile output schema: %v", err)
		return ot
	}
	ot.compiledSchema = compiled
	return ot
}

func (ot *outputType[T]) IsPlainText() bool {
	return ot.plainText
}

func (ot *outputType[T]) Name() string {
	t := reflect.TypeFor[T]()
	if name := t.Name(); name != "" {
		return name
	}
	return t.String()
}

func (ot *outputType[T]) JSONSchema() (map[string]any, error) {
	if ot.plainText {
		return nil, NewUserError("output type is plain text, so it doesn't have a JSON schema")
	}
	if ot.schemaErr != nil {
		return nil, ot.schemaErr
	}
	return ot.schemaMap, nil
}

func (ot *outputType[T]) IsStrictJSONSchema() bool {
	return ot.strictJSONSchema
}

func (ot *outputType[T]) ValidateJSON(ctx context.Context, jsonStr string) (any, error) {
	if ot.plainText {
		return nil, NewUserError("output type is plain text, so JSON validation is not applicable")
	}
	if ot.schemaErr != nil {
		return nil, ot.schemaErr
	}

	if err := ValidateJSON(ctx, ot.compiledSchema, jsonStr); err != nil {
		return nil, err
	}

	if ot.isWrapped {
		var envelope outputTypeEnvelope[T]
		if err := json.Unmarshal([]byte(jsonStr), &envelope); err != nil {
			return nil, ModelBehaviorErrorf("failed to unmarshal JSON output: %v", err)
		}
		return envelope.Response, nil
	}

	var value T
	if err := json.Unmarshal([]byte(jsonStr), &value); err != nil {
		return nil, ModelBehaviorErrorf("failed to unmarshal JSON output: %v", err)
	}
	return value, nil
}
