package steward

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/steward/trace"
)

// DefaultToolRounds bounds how many generate-then-tool cycles one step may
// run before it fails.
const DefaultToolRounds = 8

// StepUpdateFunc receives the monotonically growing partial output of a
// running step. Each call carries the full text so far, so consumers replace
// rather than diff.
type StepUpdateFunc func(stepID string, partial string)

// Executor runs a single plan step against its bound agent. It builds the
// step prompt from the goal and a snapshot of the plan, streams the agent's
// output, and drives the tool loop until the agent stops calling tools.
// Status commits stay with the caller: the executor only reports outcomes.
type Executor struct {
	gateway    *Gateway
	registry   *Registry
	tools      map[string]Tool
	toolRounds int
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithToolRounds bounds the generate-then-tool cycles per step.
func WithToolRounds(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.toolRounds = n
		}
	}
}

// NewExecutor creates an Executor with the given tool catalog. Tools and
// tool sets are flattened into one name-keyed map; a duplicate name is a
// configuration error.
func NewExecutor(gateway *Gateway, registry *Registry, tools []Tool, toolSets []ToolSet, options ...ExecutorOption) (*Executor, error) {
	toolMap, err := buildToolMap(tools, toolSets)
	if err != nil {
		return nil, err
	}

	e := &Executor{
		gateway:    gateway,
		registry:   registry,
		tools:      toolMap,
		toolRounds: DefaultToolRounds,
	}
	for _, opt := range options {
		opt(e)
	}
	return e, nil
}

// ExecuteStep runs one step to completion and returns its result. The plan
// is read only for context (status snapshot and committed dependency
// outputs); the step's own status transitions are the caller's job. extra
// inputs (such as an attached image) are appended to the step prompt.
func (e *Executor) ExecuteStep(ctx context.Context, plan *Plan, stepID string, onUpdate StepUpdateFunc, extra ...Input) (result *StepResult, err error) {
	step, ok := plan.Step(stepID)
	if !ok {
		return nil, goerr.New("step not found in plan", goerr.V("step_id", stepID), goerr.V("plan_id", plan.ID()))
	}

	if handler := trace.HandlerFrom(ctx); handler != nil {
		ctx = handler.StartStage(ctx, trace.SpanKindStep, stepID)
		defer func() { handler.EndStage(ctx, err) }()
	}

	logger := LoggerFromContext(ctx).With("step_id", stepID, "agent", step.Agent)
	ctx = ctxWithLogger(ctx, logger)
	logger.Info("executing step", "description", step.Description)

	agentTools := e.toolsFor(step.Agent)
	ssn, err := e.gateway.NewAgentSession(ctx, step.Agent, nil, WithSessionTools(agentTools...))
	if err != nil {
		return nil, err
	}

	prompt := e.stepPrompt(plan, step)

	inputs := make([]Input, 0, len(extra)+1)
	inputs = append(inputs, Text(prompt))
	inputs = append(inputs, extra...)

	var emit func(partial string)
	if onUpdate != nil {
		emit = func(partial string) { onUpdate(stepID, partial) }
	}

	result, err = e.converse(ctx, step.Agent, ssn, inputs, emit)
	if err != nil {
		return nil, goerr.Wrap(err, "step execution failed", goerr.V("step_id", stepID))
	}
	return result, nil
}

// ExecuteDirect runs a goal directly against one agent, outside any plan.
// This is the single-agent execution path: same streaming and tool loop as
// a plan step, without plan context in the prompt.
func (e *Executor) ExecuteDirect(ctx context.Context, kind AgentKind, prompt string, onUpdate func(partial string), extra ...Input) (result *StepResult, err error) {
	logger := LoggerFromContext(ctx).With("agent", kind)
	ctx = ctxWithLogger(ctx, logger)
	logger.Info("executing single agent")

	agentTools := e.toolsFor(kind)
	ssn, err := e.gateway.NewAgentSession(ctx, kind, nil, WithSessionTools(agentTools...))
	if err != nil {
		return nil, err
	}

	inputs := make([]Input, 0, len(extra)+1)
	inputs = append(inputs, Text(prompt))
	inputs = append(inputs, extra...)

	return e.converse(ctx, kind, ssn, inputs, onUpdate)
}

// converse drives the generate-then-tool cycle on one session until the
// agent stops calling tools or the round limit is hit. onUpdate receives the
// monotonically growing accumulated text.
func (e *Executor) converse(ctx context.Context, kind AgentKind, ssn Session, inputs []Input, onUpdate func(partial string)) (*StepResult, error) {
	var acc strings.Builder
	var toolCalls []ToolCallRecord
	var sources []GroundingSource

	emit := func(partial string) {
		if onUpdate != nil {
			prefix := acc.String()
			if prefix != "" {
				prefix += "\n"
			}
			onUpdate(prefix + partial)
		}
	}

	for round := 0; round < e.toolRounds; round++ {
		resp, err := e.gateway.StreamToAggregate(ctx, kind, ssn, emit, inputs...)
		if err != nil {
			return nil, err
		}

		if text := responseText(resp); text != "" {
			if acc.Len() > 0 {
				acc.WriteString("\n")
			}
			acc.WriteString(text)
		}
		sources = mergeSources(sources, resp.GroundingSources)

		if len(resp.FunctionCalls) == 0 {
			return &StepResult{
				Output:    acc.String(),
				ToolCalls: toolCalls,
				Sources:   sources,
			}, nil
		}

		inputs = inputs[:0]
		for _, call := range resp.FunctionCalls {
			toolCalls = append(toolCalls, ToolCallRecord{
				ID:        call.ID,
				Name:      call.Name,
				Arguments: call.Arguments,
			})
			inputs = append(inputs, e.runTool(ctx, call))
		}
	}

	return nil, goerr.Wrap(ErrLoopLimitExceeded, "agent did not settle within the tool loop limit",
		goerr.V("agent", kind),
		goerr.V("rounds", e.toolRounds),
	)
}

// runTool executes one tool call and converts the outcome into the function
// response for the next round. An unknown tool name or a failing tool does
// not abort the step: the error goes back to the model, which may recover.
func (e *Executor) runTool(ctx context.Context, call *FunctionCall) FunctionResponse {
	logger := LoggerFromContext(ctx)

	handler := trace.HandlerFrom(ctx)
	if handler != nil {
		ctx = handler.StartToolExec(ctx, call.Name, call.Arguments)
	}

	tool, ok := e.tools[call.Name]
	if !ok {
		err := goerr.Wrap(ErrInvalidTool, call.Name+" is not a recognized tool", goerr.V("call", call))
		logger.Info("tool not found", "tool", call.Name)
		if handler != nil {
			handler.EndToolExec(ctx, nil, err)
		}
		return FunctionResponse{ID: call.ID, Name: call.Name, Error: err}
	}

	result, err := tool.Run(ctx, call.Arguments)
	if handler != nil {
		handler.EndToolExec(ctx, result, err)
	}
	if err != nil {
		logger.Info("tool failed", "tool", call.Name, "error", err)
		return FunctionResponse{
			ID:    call.ID,
			Name:  call.Name,
			Error: goerr.Wrap(err, call.Name+" failed to run", goerr.V("call", call)),
		}
	}

	logger.Debug("tool succeeded", "tool", call.Name)

	// Round-trip through JSON so the model sees a plain structure.
	if result != nil {
		marshaled, merr := json.Marshal(result)
		if merr != nil {
			return FunctionResponse{
				ID:    call.ID,
				Name:  call.Name,
				Error: goerr.Wrap(merr, "tool result is not serializable", goerr.V("tool", call.Name)),
			}
		}
		var plain map[string]any
		if uerr := json.Unmarshal(marshaled, &plain); uerr != nil {
			return FunctionResponse{
				ID:    call.ID,
				Name:  call.Name,
				Error: goerr.Wrap(uerr, "tool result is not serializable", goerr.V("tool", call.Name)),
			}
		}
		result = plain
	}

	return FunctionResponse{ID: call.ID, Name: call.Name, Data: result}
}

// stepPrompt renders the execution prompt: the overall goal, a status
// snapshot of the whole plan, the step's own assignment, and the committed
// outputs of its dependencies. In-flight results of other steps never
// appear.
func (e *Executor) stepPrompt(plan *Plan, step PlanStep) string {
	deps := ""
	if outputs := plan.DependencyOutputs(step.ID); len(outputs) > 0 {
		keys := make([]string, 0, len(outputs))
		for key := range outputs {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		var b strings.Builder
		for _, key := range keys {
			fmt.Fprintf(&b, "[%s]\n%s\n", key, outputs[key])
		}
		deps = fmt.Sprintf(stepDependencySection, strings.TrimRight(b.String(), "\n"))
	}

	criteria := step.AcceptanceCriteria
	if criteria == "" {
		criteria = "The step's description is satisfied."
	}

	return fmt.Sprintf(stepPromptTemplate,
		plan.Goal(),
		plan.StatusSummary(),
		step.Description,
		criteria,
		deps,
	)
}

// toolsFor resolves an agent's declared tool names against the catalog.
// Declared names missing from the catalog are skipped: the agent then runs
// without that capability instead of failing the step.
func (e *Executor) toolsFor(kind AgentKind) []Tool {
	def, err := e.registry.Get(kind)
	if err != nil {
		return nil
	}

	var tools []Tool
	for _, name := range def.Tools {
		if tool, ok := e.tools[name]; ok {
			tools = append(tools, tool)
		}
	}
	return tools
}
