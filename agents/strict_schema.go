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
	"slices"
	"strconv"
	"strings"
)

// EnsureStrictJSONSchema makes a JSON schema conform to the "strict" standard
// that the OpenAI API expects: object types forbid additional properties and
// require every declared property, oneOf unions are folded into anyOf, and
// $ref entries with sibling keys are expanded in place. The schema is
// modified in place and returned.
func EnsureStrictJSONSchema(schema map[string]any) (map[string]any, error) {
	if schema == nil {
		return nil, NewUserError("schema must be a non-nil map")
	}
	return ensureStrictJSONSchema(schema, nil, schema)
}

func ensureStrictJSONSchema(jsonSchema map[string]any, path []string, root map[string]any) (map[string]any, error) {
	for _, defsKey := range []string{"$defs", "definitions"} {
		if defs, ok := jsonSchema[defsKey].(map[string]any); ok {
			for defName, defSchema := range defs {
				defSchemaMap, ok := defSchema.(map[string]any)
				if !ok {
					return nil, UserErrorf("%s entry %q must be an object, got %T", defsKey, defName, defSchema)
				}
				if _, err := ensureStrictJSONSchema(defSchemaMap, append(path, defsKey, defName), root); err != nil {
					return nil, err
				}
			}
		}
	}

	if typ, ok := jsonSchema["type"]; ok && typ == "object" {
		switch jsonSchema["additionalProperties"] {
		case nil:
			jsonSchema["additionalProperties"] = false
		case true:
			return nil, NewUserError(
				"additionalProperties should not be set to true for object types in strict mode",
			)
		}
	}

	if properties, ok := jsonSchema["properties"].(map[string]any); ok {
		keys := make([]string, 0, len(properties))
		for key := range properties {
			keys = append(keys, key)
		}
		slices.Sort(keys)

		required := make([]any, len(keys))
		for i, key := range keys {
			required[i] = key
		}
		jsonSchema["required"] = required

		for _, key := range keys {
			propertySchema, ok := properties[key].(map[string]any)
			if !ok {
				return nil, UserErrorf("property %q must be an object, got %T", key, properties[key])
			}
			newPropertySchema, err := ensureStrictJSONSchema(propertySchema, append(path, "properties", key), root)
			if err != nil {
				return nil, err
			}
			properties[key] = newPropertySchema
		}
	}

	if items, ok := jsonSchema["items"].(map[string]any); ok {
		newItems, err := ensureStrictJSONSchema(items, append(path, "items"), root)
		if err != nil {
			return nil, err
		}
		jsonSchema["items"] = newItems
	}

	// Strict mode does not support oneOf: fold its variants into anyOf.
	// A discriminator, if present, is left untouched.
	if oneOf, ok := jsonSchema["oneOf"].([]any); ok {
		anyOf, _ := jsonSchema["anyOf"].([]any)
		jsonSchema["anyOf"] = append(anyOf, oneOf...)
		delete(jsonSchema, "oneOf")
	}

	if anyOf, ok := jsonSchema["anyOf"].([]any); ok {
		for i, variant := range anyOf {
			variantMap, ok := variant.(map[string]any)
			if !ok {
				return nil, UserErrorf("anyOf variant %d must be an object, got %T", i, variant)
			}
			newVariant, err := ensureStrictJSONSchema(variantMap, append(path, "anyOf", strconv.Itoa(i)), root)
			if err != nil {
				return nil, err
			}
			anyOf[i] = newVariant
		}
	}

	if allOf, ok := jsonSchema["allOf"].([]any); ok {
		if len(allOf) == 1 {
			entryMap, ok := allOf[0].(map[string]any)
			if !ok {
				return nil, UserErrorf("allOf entry must be an object, got %T", allOf[0])
			}
			merged, err := ensureStrictJSONSchema(entryMap, append(path, "allOf", "0"), root)
			if err != nil {
				return nil, err
			}
			delete(jsonSchema, "allOf")
			for k, v := range merged {
				jsonSchema[k] = v
			}
		} else {
			for i, entry := range allOf {
				entryMap, ok := entry.(map[string]any)
				if !ok {
					return nil, UserErrorf("allOf entry %d must be an object, got %T", i, entry)
				}
				newEntry, err := ensureStrictJSONSchema(entryMap, append(path, "allOf", strconv.Itoa(i)), root)
				if err != nil {
					return nil, err
				}
				allOf[i] = newEntry
			}
		}
	}

	// There is no meaningful equivalent of a null default in strict mode.
	if v, ok := jsonSchema["default"]; ok && v == nil {
		delete(jsonSchema, "default")
	}

	if ref, ok := jsonSchema["$ref"].(string); ok && len(jsonSchema) > 1 {
		resolved, err := resolveSchemaRef(root, ref)
		if err != nil {
			return nil, err
		}
		// Keys alongside the $ref take priority over the resolved schema.
		delete(jsonSchema, "$ref")
		for k, v := range resolved {
			if _, exists := jsonSchema[k]; !exists {
				jsonSchema[k] = v
			}
		}
		// The expanded schema may itself need to be made strict.
		return ensureStrictJSONSchema(jsonSchema, path, root)
	}

	return jsonSchema, nil
}

func resolveSchemaRef(root map[string]any, ref string) (map[string]any, error) {
	if !strings.HasPrefix(ref, "#/") {
		return nil, UserErrorf("unexpected $ref format %q; expected it to start with #/", ref)
	}

	var resolved any = root
	for _, key := range strings.Split(ref[2:], "/") {
		resolvedMap, ok := resolved.(map[string]any)
		if !ok {
			return nil, UserErrorf("encountered non-object entry while resolving %s", ref)
		}
		resolved = resolvedMap[key]
	}

	resolvedMap, ok := resolved.(map[string]any)
	if !ok {
		return nil, UserErrorf("$ref %s does not resolve to an object", ref)
	}
	return resolvedMap, nil
}
