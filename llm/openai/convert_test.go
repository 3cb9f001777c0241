package openai

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/steward"
	openailib "github.com/sashabaranov/go-openai"
)

type stubTool struct {
	spec *steward.ToolSpec
}

func (s *stubTool) Spec() *steward.ToolSpec { return s.spec }
func (s *stubTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	return nil, nil
}

func TestConvertTool(t *testing.T) {
	tool := &stubTool{spec: &steward.ToolSpec{
		Name:        "run_code",
		Description: "execute code in the sandbox",
		Parameters: map[string]*steward.Parameter{
			"code": {Type: steward.TypeString, Description: "source to run"},
		},
		Required: []string{"code"},
	}}

	converted := convertTool(tool)
	gt.Equal(t, openailib.ToolTypeFunction, converted.Type)
	gt.Equal(t, "run_code", converted.Function.Name)

	params := converted.Function.Parameters.(map[string]any)
	gt.Equal(t, "object", params["type"])
	gt.Equal(t, []string{"code"}, params["required"].([]string))

	properties := params["properties"].(map[string]any)
	code := properties["code"].(map[string]any)
	gt.Equal(t, "string", code["type"])
	gt.Equal(t, "source to run", code["description"])
}

func TestConvertParameterToSchemaConstraints(t *testing.T) {
	minimum := 1.0
	maximum := 10.0
	param := &steward.Parameter{
		Type:    steward.TypeInteger,
		Minimum: &minimum,
		Maximum: &maximum,
	}

	schema := convertParameterToSchema(param)
	gt.Equal(t, "integer", schema["type"])
	gt.Equal(t, 1.0, schema["minimum"])
	gt.Equal(t, 10.0, schema["maximum"])
}

func TestConvertParameterToSchemaNested(t *testing.T) {
	param := &steward.Parameter{
		Type: steward.TypeObject,
		Properties: map[string]*steward.Parameter{
			"tags": {
				Type:  steward.TypeArray,
				Items: &steward.Parameter{Type: steward.TypeString, Enum: []string{"a", "b"}},
			},
		},
		Required: []string{"tags"},
	}

	schema := convertParameterToSchema(param)
	properties := schema["properties"].(map[string]any)
	tags := properties["tags"].(map[string]any)
	gt.Equal(t, "array", tags["type"])

	items := tags["items"].(map[string]any)
	gt.Equal(t, "string", items["type"])
	gt.Equal(t, []string{"a", "b"}, items["enum"].([]string))
}

func TestConvertResponseSchemaStrict(t *testing.T) {
	param := &steward.Parameter{
		Title: "decision",
		Type:  steward.TypeObject,
		Properties: map[string]*steward.Parameter{
			"next": {Type: steward.TypeString},
		},
	}

	format := gt.R1(convertResponseSchema(param, true)).NoError(t)
	gt.Equal(t, "decision", format.Name)
	gt.True(t, format.Strict)

	var schema map[string]any
	gt.NoError(t, json.Unmarshal(format.Schema.(json.RawMessage), &schema))
	gt.Equal(t, false, schema["additionalProperties"])
	gt.Equal(t, []any{"next"}, schema["required"].([]any))
}

func TestConvertResponseSchemaNil(t *testing.T) {
	format := gt.R1(convertResponseSchema(nil, true)).NoError(t)
	gt.True(t, format == nil)
}
