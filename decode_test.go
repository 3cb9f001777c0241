package steward_test

import (
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/steward"
)

func TestExtractJSONBlock(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "bare object",
			input: `{"a": 1}`,
			want:  `{"a": 1}`,
		},
		{
			name:  "fenced json",
			input: "here you go:\n```json\n{\"a\": 1}\n```",
			want:  `{"a": 1}`,
		},
		{
			name:  "fence without language",
			input: "```\n[1, 2]\n```",
			want:  `[1, 2]`,
		},
		{
			name:  "object with surrounding prose",
			input: `Sure. {"agent": "chat", "complexity": 2} Hope that helps.`,
			want:  `{"agent": "chat", "complexity": 2}`,
		},
		{
			name:  "array with surrounding prose",
			input: `the result is [1, 2, 3] as requested`,
			want:  `[1, 2, 3]`,
		},
		{
			name:  "no json at all",
			input: "just words",
			want:  "just words",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gt.Equal(t, tc.want, steward.ExtractJSONBlock(tc.input))
		})
	}
}

func TestTrimRefinedPrompt(t *testing.T) {
	gt.Equal(t, "do the thing", steward.TrimRefinedPrompt("do the thing"))
	gt.Equal(t, "do the thing", steward.TrimRefinedPrompt("Improved prompt: do the thing"))
	gt.Equal(t, "do the thing", steward.TrimRefinedPrompt("```\ndo the thing\n```"))
	gt.Equal(t, "do the thing", steward.TrimRefinedPrompt("  Revised prompt: do the thing  "))
}

func TestIsTransientError(t *testing.T) {
	transient := []string{
		"got 429 from upstream",
		"rate limit exceeded",
		"service unavailable",
		"deadline exceeded while waiting",
	}
	for _, msg := range transient {
		gt.True(t, steward.IsTransientError(errTest(msg)))
	}

	gt.False(t, steward.IsTransientError(nil))
	gt.False(t, steward.IsTransientError(errTest("invalid argument")))
}

func TestResponseText(t *testing.T) {
	gt.Equal(t, "", steward.ResponseText(nil))
	gt.Equal(t, "ab", steward.ResponseText(&steward.Response{Texts: []string{"a", "b"}}))
	gt.Equal(t, "x", steward.ResponseText(&steward.Response{Texts: []string{"  x \n"}}))
}

func TestMergeSources(t *testing.T) {
	a := []steward.GroundingSource{{Title: "one", URL: "https://a"}}
	b := []steward.GroundingSource{
		{Title: "dup", URL: "https://a"},
		{Title: "two", URL: "https://b"},
	}

	merged := steward.MergeSources(a, b)
	gt.Equal(t, 2, len(merged))
	gt.Equal(t, "one", merged[0].Title)
	gt.Equal(t, "https://b", merged[1].URL)
}

type errTest string

func (e errTest) Error() string { return string(e) }
