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

	"github.com/invopop/jsonschema"
	"github.com/nlpodyssey/agentcore/tracing"
	"github.com/nlpodyssey/agentcore/util"
	"github.com/xeipuuv/gojsonschema"
)

// ValidateJSON validates a JSON string against a compiled schema. It returns
// a ModelBehaviorError when the input does not conform.
func ValidateJSON(ctx context.Context, schema *gojsonschema.Schema, jsonString string) error {
	result, err := schema.Validate(gojsonschema.NewStringLoader(jsonString))
	if err != nil {
		AttachErrorToCurrentSpan(ctx, tracing.SpanError{
			Message: "Invalid JSON provided",
			Data:    map[string]any{"error": err.Error()},
		})
		return ModelBehaviorErrorf("invalid JSON: %v", err)
	}
	if !result.Valid() {
		resultErrors := result.Errors()
		messages := make([]string, len(resultErrors))
		for i, resultError := range resultErrors {
			messages[i] = resultError.String()
		}
		AttachErrorToCurrentSpan(ctx, tracing.SpanError{
			Message: "Invalid JSON provided",
		})
		return ModelBehaviorErrorf("JSON validation failed: %s", strings.Join(messages, "; "))
	}
	return nil
}

// schemaForType reflects a strict JSON schema for the given Go type and
// compiles it for validation. Scalar types map to plain JSON scalar schemas.
func schemaForType(t reflect.Type) (map[string]any, *gojsonschema.Schema, error) {
	schemaMap, err := reflectSchemaMap(t)
	if err != nil {
		return nil, nil, err
	}
	return compileSchemaMap(schemaMap)
}

// reflectSchemaMap reflects a JSON schema map for the given Go type,
// without making it strict.
func reflectSchemaMap(t reflect.Type) (map[string]any, error) {
	if t == nil {
		return nil, NewUserError("input type must be a non-nil type")
	}

	valueType := t
	if valueType.Kind() == reflect.Pointer {
		valueType = valueType.Elem()
	}

	switch valueType.Kind() {
	case reflect.Bool:
		return map[string]any{"type": "boolean"}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return map[string]any{"type": "integer"}, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return map[string]any{"type": "integer"}, nil
	case reflect.Float32, reflect.Float64:
		return map[string]any{"type": "number"}, nil
	case reflect.String:
		return map[string]any{"type": "string"}, nil
	}

	reflector := &jsonschema.Reflector{
		ExpandedStruct:             true,
		RequiredFromJSONSchemaTags: false,
		AllowAdditionalProperties:  false,
	}

	var schema *jsonschema.Schema
	if valueType.Kind() == reflect.Struct && valueType.Name() == "" && valueType.NumField() == 0 {
		schema = &jsonschema.Schema{
			Version:    jsonschema.Version,
			Type:       "object",
			Properties: jsonschema.NewProperties(),
		}
		if !reflector.AllowAdditionalProperties {
			schema.AdditionalProperties = jsonschema.FalseSchema
		}
	} else {
		schema = reflector.ReflectFromType(valueType)
	}

	schemaMap, err := util.JSONMap(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to transform input schema: %w", err)
	}
	return schemaMap, nil
}

// compileSchemaMap makes a schema map strict and compiles it.
func compileSchemaMap(schemaMap map[string]any) (map[string]any, *gojsonschema.Schema, error) {
	schemaMap, err := EnsureStrictJSONSchema(schemaMap)
	if err != nil {
		return nil, nil, err
	}

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to compile input schema: %w", err)
	}

	return schemaMap, compiled, nil
}

func decodeJSONValue(jsonStr string, t reflect.Type) (reflect.Value, error) {
	holder := reflect.New(t)
	if err := json.Unmarshal([]byte(jsonStr), holder.Interface()); err != nil {
		return reflect.Value{}, err
	}
	return holder.Elem(), nil
}
