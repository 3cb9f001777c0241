package steward

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/steward/trace"
)

// DefaultCritiqueThreshold is the minimum average score an output needs to
// pass the quality gate. Scores run from 0 to 5.
const DefaultCritiqueThreshold = 3.5

const critiqueResponseSchema = `{
	"type": "object",
	"properties": {
		"faithfulness": {"type": "number", "minimum": 0, "maximum": 5},
		"coherence": {"type": "number", "minimum": 0, "maximum": 5},
		"coverage": {"type": "number", "minimum": 0, "maximum": 5},
		"critique": {"type": "string"}
	},
	"required": ["faithfulness", "coherence", "coverage"]
}`

var compiledCritiqueSchema = mustCompileSchema("critique_response.json", critiqueResponseSchema)

// CritiqueResult is the structured quality judgment of one output. The three
// scores run from 0 (unusable) to 5 (flawless) and average into the single
// quality signal.
type CritiqueResult struct {
	Faithfulness float64 `json:"faithfulness"`
	Coherence    float64 `json:"coherence"`
	Coverage     float64 `json:"coverage"`
	Critique     string  `json:"critique,omitempty"`
}

// Average folds the three scores into one quality signal.
func (c *CritiqueResult) Average() float64 {
	return (c.Faithfulness + c.Coherence + c.Coverage) / 3
}

// Passes reports whether the average clears the threshold.
func (c *CritiqueResult) Passes(threshold float64) bool {
	return c.Average() >= threshold
}

// Critic scores outputs against their goal and rewrites prompts that led to
// rejected outputs. It holds no retry policy: the supervisor owns the budget.
type Critic struct {
	gateway *Gateway
}

// NewCritic creates a Critic over the gateway.
func NewCritic(gateway *Gateway) *Critic {
	return &Critic{gateway: gateway}
}

// Critique scores the output against the goal it was meant to satisfy.
func (c *Critic) Critique(ctx context.Context, goal, output string) (result *CritiqueResult, err error) {
	if handler := trace.HandlerFrom(ctx); handler != nil {
		ctx = handler.StartStage(ctx, trace.SpanKindCritique, "critique")
		defer func() { handler.EndStage(ctx, err) }()
	}

	prompt := fmt.Sprintf(critiquePromptTemplate, goal, output)

	resp, err := c.gateway.Generate(ctx, KindCritic, nil, Text(prompt))
	if err != nil {
		return nil, goerr.Wrap(err, "critique call failed")
	}

	var judged CritiqueResult
	if err := decodeModelJSON(responseText(resp), compiledCritiqueSchema, &judged); err != nil {
		return nil, goerr.Wrap(err, "critique output rejected")
	}

	LoggerFromContext(ctx).Info("output critiqued",
		"faithfulness", judged.Faithfulness,
		"coherence", judged.Coherence,
		"coverage", judged.Coverage,
		"average", judged.Average(),
	)
	return &judged, nil
}

// Refine produces a replacement prompt for one that led to a rejected
// output. The model is instructed to emit only the prompt text; the result
// is defensively stripped of fences and labels anyway.
func (c *Critic) Refine(ctx context.Context, originalPrompt, failedOutput, critique string) (string, error) {
	prompt := fmt.Sprintf(refinePromptTemplate, originalPrompt, failedOutput, critique)

	resp, err := c.gateway.Generate(ctx, KindRefine, nil, Text(prompt))
	if err != nil {
		return "", goerr.Wrap(err, "refine call failed")
	}

	refined := trimRefinedPrompt(responseText(resp))
	if refined == "" {
		return "", goerr.New("refine call produced no replacement prompt")
	}

	LoggerFromContext(ctx).Info("prompt refined", "prompt", digest(refined, 200))
	return refined, nil
}

var (
	fencedBlockRegex = regexp.MustCompile("(?s)^```[a-zA-Z]*\\n?(.*?)\\n?```$")
	refineLabelRegex = regexp.MustCompile(`(?i)^(improved|replacement|new|revised)\s+prompt:\s*`)
)

func trimRefinedPrompt(s string) string {
	s = strings.TrimSpace(s)
	if m := fencedBlockRegex.FindStringSubmatch(s); len(m) > 1 {
		s = strings.TrimSpace(m[1])
	}
	s = refineLabelRegex.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}
