package steward

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/steward/trace"
)

const planResponseSchema = `{
	"type": "object",
	"properties": {
		"steps": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"properties": {
					"id": {"type": "string"},
					"description": {"type": "string"},
					"agent": {"type": "string"},
					"acceptance_criteria": {"type": "string"},
					"depends_on": {"type": "array", "items": {"type": "string"}},
					"output_key": {"type": "string"}
				},
				"required": ["description", "agent"]
			}
		}
	},
	"required": ["steps"]
}`

var compiledPlanSchema = mustCompileSchema("plan_response.json", planResponseSchema)

type planStepPayload struct {
	ID                 string   `json:"id"`
	Description        string   `json:"description"`
	Agent              string   `json:"agent"`
	AcceptanceCriteria string   `json:"acceptance_criteria"`
	DependsOn          []string `json:"depends_on"`
	OutputKey          string   `json:"output_key"`
}

type planPayload struct {
	Steps []planStepPayload `json:"steps"`
}

// Planner turns a goal into a validated execution plan. The model deliberates
// over several candidate decompositions internally and emits only the chosen
// plan; the emitted structure is validated before any step runs.
type Planner struct {
	gateway  *Gateway
	registry *Registry
}

// NewPlanner creates a Planner over the gateway and agent registry.
func NewPlanner(gateway *Gateway, registry *Registry) *Planner {
	return &Planner{
		gateway:  gateway,
		registry: registry,
	}
}

// BuildPlan asks the planning agent to decompose the goal into steps bound
// to plannable agent kinds. lessons, when present, are rendered into the
// prompt so known failure modes are planned around. An unparsable response
// returns ErrPlanNotParsable; a parsable but structurally invalid plan
// returns ErrInvalidPlan. There is no empty-plan fallback.
func (p *Planner) BuildPlan(ctx context.Context, goal string, lessons []*ReflexionEntry) (plan *Plan, err error) {
	if handler := trace.HandlerFrom(ctx); handler != nil {
		ctx = handler.StartStage(ctx, trace.SpanKindPlan, "plan")
		defer func() { handler.EndStage(ctx, err) }()
	}

	allowed := p.registry.Plannable()
	prompt := fmt.Sprintf(plannerPromptTemplate,
		goal,
		renderKindMenu(p.registry, allowed),
		renderLessons(lessons),
	)

	resp, err := p.gateway.Generate(ctx, KindPlanner, nil, Text(prompt))
	if err != nil {
		return nil, goerr.Wrap(err, "planning call failed", goerr.V("goal", digest(goal, 200)))
	}

	var payload planPayload
	if err := decodeModelJSON(responseText(resp), compiledPlanSchema, &payload); err != nil {
		return nil, goerr.Wrap(ErrPlanNotParsable, "planner output rejected",
			goerr.V("cause", err.Error()),
		)
	}

	steps := make([]PlanStep, 0, len(payload.Steps))
	for _, s := range payload.Steps {
		steps = append(steps, PlanStep{
			ID:                 s.ID,
			Description:        s.Description,
			AcceptanceCriteria: s.AcceptanceCriteria,
			Agent:              AgentKind(strings.ToLower(strings.TrimSpace(s.Agent))),
			DependsOn:          s.DependsOn,
			OutputKey:          s.OutputKey,
		})
	}

	plan = NewPlan(goal, steps)
	if err := plan.Validate(allowed); err != nil {
		return nil, err
	}

	LoggerFromContext(ctx).Info("plan created",
		"plan_id", plan.ID(),
		"steps", len(plan.Steps()),
		"lessons", len(lessons),
	)
	return plan, nil
}

func renderKindMenu(registry *Registry, kinds []AgentKind) string {
	var b strings.Builder
	for _, kind := range kinds {
		def, err := registry.Get(kind)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", kind, def.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderLessons(lessons []*ReflexionEntry) string {
	if len(lessons) == 0 {
		return ""
	}

	var b strings.Builder
	for _, lesson := range lessons {
		fmt.Fprintf(&b, "- Prompt: %s\n  Failure: %s\n", digest(lesson.Prompt, 200), digest(lesson.Critique, 300))
		if lesson.Fix != "" {
			fmt.Fprintf(&b, "  Known fix: %s\n", digest(lesson.Fix, 200))
		}
	}
	return fmt.Sprintf(plannerLessonsSection, strings.TrimRight(b.String(), "\n"))
}
