package claude

import (
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/m-mizutani/steward"
)

// convertTool converts a steward tool to a Claude tool definition.
func convertTool(tool steward.Tool) anthropic.ToolUnionParam {
	spec := tool.Spec()

	properties := make(map[string]jsonSchema)
	for name, param := range spec.Parameters {
		properties[name] = convertParameterToSchema(param)
	}

	return anthropic.ToolUnionParamOfTool(
		anthropic.ToolInputSchemaParam{
			Properties: properties,
		},
		spec.Name,
	)
}

type jsonSchema struct {
	Type        string                `json:"type"`
	Properties  map[string]jsonSchema `json:"properties,omitempty"`
	Required    []string              `json:"required,omitempty"`
	Items       *jsonSchema           `json:"items,omitempty"`
	Minimum     *float64              `json:"minimum,omitempty"`
	Maximum     *float64              `json:"maximum,omitempty"`
	MinLength   *int                  `json:"minLength,omitempty"`
	MaxLength   *int                  `json:"maxLength,omitempty"`
	Pattern     string                `json:"pattern,omitempty"`
	MinItems    *int                  `json:"minItems,omitempty"`
	MaxItems    *int                  `json:"maxItems,omitempty"`
	Default     any                   `json:"default,omitempty"`
	Enum        []string              `json:"enum,omitempty"`
	Description string                `json:"description,omitempty"`
	Title       string                `json:"title,omitempty"`
}

// convertParameterToSchema converts a steward parameter to a JSON schema.
func convertParameterToSchema(param *steward.Parameter) jsonSchema {
	schema := jsonSchema{
		Type:        string(param.Type),
		Description: param.Description,
		Title:       param.Title,
	}

	if len(param.Enum) > 0 {
		schema.Enum = param.Enum
	}

	if param.Properties != nil {
		properties := make(map[string]jsonSchema)
		for name, prop := range param.Properties {
			properties[name] = convertParameterToSchema(prop)
		}
		schema.Properties = properties
		if len(param.Required) > 0 {
			schema.Required = param.Required
		}
	}

	if param.Items != nil {
		items := convertParameterToSchema(param.Items)
		schema.Items = &items
	}

	if param.Type == steward.TypeNumber || param.Type == steward.TypeInteger {
		schema.Minimum = param.Minimum
		schema.Maximum = param.Maximum
	}

	if param.Type == steward.TypeString {
		schema.MinLength = param.MinLength
		schema.MaxLength = param.MaxLength
		schema.Pattern = param.Pattern
	}

	if param.Type == steward.TypeArray {
		schema.MinItems = param.MinItems
		schema.MaxItems = param.MaxItems
	}

	if param.Default != nil {
		schema.Default = param.Default
	}

	return schema
}
