package openai

import (
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/steward"
	"github.com/sashabaranov/go-openai"
)

// convertTool converts a steward tool to an OpenAI function definition.
func convertTool(tool steward.Tool) openai.Tool {
	spec := tool.Spec()

	parameters := make(map[string]any)
	properties := make(map[string]any)
	for name, param := range spec.Parameters {
		properties[name] = convertParameterToSchema(param)
	}

	if len(properties) > 0 {
		parameters["type"] = "object"
		parameters["properties"] = properties
		if len(spec.Required) > 0 {
			parameters["required"] = spec.Required
		}
	}

	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  parameters,
		},
	}
}

// convertParameterToSchema converts a steward parameter to a JSON schema map.
func convertParameterToSchema(param *steward.Parameter) map[string]any {
	schema := map[string]any{
		"type": string(param.Type),
	}
	if param.Description != "" {
		schema["description"] = param.Description
	}
	if param.Title != "" {
		schema["title"] = param.Title
	}

	if len(param.Enum) > 0 {
		schema["enum"] = param.Enum
	}

	if param.Properties != nil {
		properties := make(map[string]any)
		for name, prop := range param.Properties {
			properties[name] = convertParameterToSchema(prop)
		}
		schema["properties"] = properties
		if len(param.Required) > 0 {
			schema["required"] = param.Required
		}
	}

	if param.Items != nil {
		schema["items"] = convertParameterToSchema(param.Items)
	}

	if param.Type == steward.TypeNumber || param.Type == steward.TypeInteger {
		if param.Minimum != nil {
			schema["minimum"] = *param.Minimum
		}
		if param.Maximum != nil {
			schema["maximum"] = *param.Maximum
		}
	}

	if param.Type == steward.TypeString {
		if param.MinLength != nil {
			schema["minLength"] = *param.MinLength
		}
		if param.MaxLength != nil {
			schema["maxLength"] = *param.MaxLength
		}
		if param.Pattern != "" {
			schema["pattern"] = param.Pattern
		}
	}

	if param.Type == steward.TypeArray {
		if param.MinItems != nil {
			schema["minItems"] = *param.MinItems
		}
		if param.MaxItems != nil {
			schema["maxItems"] = *param.MaxItems
		}
	}

	if param.Default != nil {
		schema["default"] = param.Default
	}

	return schema
}

// convertResponseSchema converts a response schema to OpenAI's structured
// output format.
func convertResponseSchema(param *steward.Parameter, strict bool) (*openai.ChatCompletionResponseFormatJSONSchema, error) {
	if param == nil {
		return nil, nil
	}
	if err := param.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid response schema")
	}

	var schemaObj map[string]any
	if strict {
		schemaObj = convertStrictSchema(param)
	} else {
		schemaObj = convertParameterToSchema(param)
	}

	schemaJSON, err := json.Marshal(schemaObj)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal schema")
	}

	name := param.Title
	if name == "" {
		name = "response"
	}

	return &openai.ChatCompletionResponseFormatJSONSchema{
		Name:        name,
		Description: param.Description,
		Schema:      json.RawMessage(schemaJSON),
		Strict:      strict,
	}, nil
}

// convertStrictSchema builds the schema variant OpenAI's strict mode needs:
// every object property listed as required and additional properties
// forbidden.
func convertStrictSchema(param *steward.Parameter) map[string]any {
	schema := map[string]any{
		"type": string(param.Type),
	}
	if param.Description != "" {
		schema["description"] = param.Description
	}

	if param.Type == steward.TypeObject && param.Properties != nil {
		properties := make(map[string]any)
		required := make([]string, 0, len(param.Properties))
		for name, prop := range param.Properties {
			properties[name] = convertStrictSchema(prop)
			required = append(required, name)
		}
		schema["properties"] = properties
		schema["required"] = required
		schema["additionalProperties"] = false
	}

	if param.Type == steward.TypeArray && param.Items != nil {
		schema["items"] = convertStrictSchema(param.Items)
	}

	if len(param.Enum) > 0 {
		schema["enum"] = param.Enum
	}

	if param.Minimum != nil {
		schema["minimum"] = *param.Minimum
	}
	if param.Maximum != nil {
		schema["maximum"] = *param.Maximum
	}
	if param.MinLength != nil {
		schema["minLength"] = *param.MinLength
	}
	if param.MaxLength != nil {
		schema["maxLength"] = *param.MaxLength
	}
	if param.Pattern != "" {
		schema["pattern"] = param.Pattern
	}
	if param.MinItems != nil {
		schema["minItems"] = *param.MinItems
	}
	if param.MaxItems != nil {
		schema["maxItems"] = *param.MaxItems
	}

	return schema
}
