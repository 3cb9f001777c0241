package steward

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

var jsonFenceRegex = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// extractJSONBlock pulls a JSON object or array out of model output. Models
// wrap JSON in markdown fences or surrounding prose even when a JSON response
// type is requested, so boundaries are located heuristically.
func extractJSONBlock(text string) string {
	text = strings.TrimSpace(text)

	if m := jsonFenceRegex.FindStringSubmatch(text); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return text
	}

	var end int
	if text[start] == '{' {
		end = strings.LastIndex(text, "}")
	} else {
		end = strings.LastIndex(text, "]")
	}
	if end <= start {
		return text[start:]
	}

	return text[start : end+1]
}

// mustCompileSchema compiles an embedded response contract at package init.
// The contracts are constants, so a compile failure is a programming error.
func mustCompileSchema(name, doc string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()

	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(doc))
	if err != nil {
		panic(fmt.Sprintf("invalid embedded schema %s: %v", name, err))
	}
	if err := compiler.AddResource(name, parsed); err != nil {
		panic(fmt.Sprintf("failed to register schema %s: %v", name, err))
	}

	schema, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("failed to compile schema %s: %v", name, err))
	}
	return schema
}

// decodeModelJSON extracts a JSON payload from model output text, validates
// it against the compiled contract, and decodes it into out.
func decodeModelJSON(text string, schema *jsonschema.Schema, out any) error {
	raw := extractJSONBlock(text)

	instance, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return goerr.Wrap(err, "model output is not JSON", goerr.V("output", digest(text, 512)))
	}
	if err := schema.Validate(instance); err != nil {
		return goerr.Wrap(err, "model output does not match the response contract", goerr.V("output", digest(raw, 512)))
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return goerr.Wrap(err, "failed to decode model output")
	}

	return nil
}

// responseText joins the text parts of a response into one trimmed string.
func responseText(resp *Response) string {
	if resp == nil || len(resp.Texts) == 0 {
		return ""
	}
	return strings.TrimSpace(strings.Join(resp.Texts, ""))
}
