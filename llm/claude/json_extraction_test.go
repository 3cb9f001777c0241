package claude

import (
	"testing"

	"github.com/m-mizutani/gt"
)

func TestExtractJSONFromResponse(t *testing.T) {
	cases := map[string]struct {
		input    string
		expected string
	}{
		"bare object": {
			input:    `{"next": "chat"}`,
			expected: `{"next": "chat"}`,
		},
		"json code fence": {
			input:    "```json\n{\"next\": \"chat\"}\n```",
			expected: `{"next": "chat"}`,
		},
		"plain code fence": {
			input:    "```\n{\"next\": \"chat\"}\n```",
			expected: `{"next": "chat"}`,
		},
		"prose prefix": {
			input:    `Here is the decision: {"next": "chat", "reason": "simple"}`,
			expected: `{"next": "chat", "reason": "simple"}`,
		},
		"prose prefix and suffix": {
			input:    `Sure! {"steps": [{"id": "a"}]} Let me know if you need more.`,
			expected: `{"steps": [{"id": "a"}]}`,
		},
		"array payload": {
			input:    `The list: [1, 2, 3] as requested.`,
			expected: `[1, 2, 3]`,
		},
		"braces inside strings": {
			input:    `{"text": "use {curly} braces"} trailing`,
			expected: `{"text": "use {curly} braces"}`,
		},
		"escaped quotes": {
			input:    `{"text": "she said \"hi\""} done`,
			expected: `{"text": "she said \"hi\""}`,
		},
		"no json at all": {
			input:    "I could not produce a structured answer.",
			expected: "I could not produce a structured answer.",
		},
		"truncated payload kept as-is": {
			input:    `{"next": "chat", "reason": "cut off`,
			expected: `{"next": "chat", "reason": "cut off`,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			gt.Equal(t, tc.expected, extractJSONFromResponse(tc.input))
		})
	}
}

func TestIsValidJSON(t *testing.T) {
	gt.True(t, isValidJSON(`{"a": 1}`))
	gt.True(t, isValidJSON(`[1, 2]`))
	gt.False(t, isValidJSON(`{"a": }`))
	gt.False(t, isValidJSON(`plain text`))
	gt.False(t, isValidJSON(``))
}
