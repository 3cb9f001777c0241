package steward

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/steward/trace"
)

// DefaultMaxIterations caps the supervisor loop. The cap is a guard rail:
// a healthy run terminates through the decision protocol long before it.
const DefaultMaxIterations = 16

const supervisorDecisionSchema = `{
	"type": "object",
	"properties": {
		"next": {"type": "string"},
		"reason": {"type": "string"}
	},
	"required": ["next"]
}`

var compiledSupervisorSchema = mustCompileSchema("supervisor_decision.json", supervisorDecisionSchema)

// SupervisorDecision is the outcome of one supervisor decision call.
type SupervisorDecision struct {
	Next   string `json:"next"`
	Reason string `json:"reason"`
}

// RunState is the supervisor's transient working state for one run. It is
// created when a request enters the loop and folded into the owning message
// once the terminal sentinel is reached.
type RunState struct {
	MessageID string
	Goal      string

	// PlanPrompt is the text the next planning call decomposes. It starts
	// as the goal and is replaced by the refined prompt on a reflexion
	// retry.
	PlanPrompt string

	Plan *Plan

	// History is the append-only execution trace, one line per transition.
	History []string

	LastOutput string
	Sources    []GroundingSource
	NextAgent  AgentKind
	Err        error

	// Extra inputs (such as an attached image) appended to agent prompts.
	Extra []Input

	// retryUsed enforces the per-request reflexion budget: at most one
	// retry per top-level request, no matter how many critiques fail.
	retryUsed bool

	critiqued  bool
	planFolded bool
}

// NewRunState creates the working state for one top-level request. The retry
// budget starts unspent.
func NewRunState(messageID, goal string, extra ...Input) *RunState {
	return &RunState{
		MessageID:  messageID,
		Goal:       goal,
		PlanPrompt: goal,
		Extra:      extra,
	}
}

// Supervisor is the orchestration core: a state machine that dispatches
// ready plan steps in parallel rounds, invokes the planner and critic as
// meta-agents, and asks the model after each transition which agent runs
// next, until the terminal sentinel is reached.
type Supervisor struct {
	gateway       *Gateway
	registry      *Registry
	planner       *Planner
	executor      *Executor
	critic        *Critic
	memory        *ReflexionMemory
	store         *SessionStore
	threshold     float64
	maxIterations int
	hooks         *Hooks
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithCritiqueThreshold sets the minimum passing critique average.
func WithCritiqueThreshold(v float64) SupervisorOption {
	return func(s *Supervisor) {
		s.threshold = v
	}
}

// WithMaxIterations caps the supervisor loop.
func WithMaxIterations(n int) SupervisorOption {
	return func(s *Supervisor) {
		if n > 0 {
			s.maxIterations = n
		}
	}
}

// WithReflexionMemory attaches a lesson memory consulted on planning and fed
// on failing critiques.
func WithReflexionMemory(memory *ReflexionMemory) SupervisorOption {
	return func(s *Supervisor) {
		s.memory = memory
	}
}

// WithSupervisorHooks registers run milestone callbacks.
func WithSupervisorHooks(hooks *Hooks) SupervisorOption {
	return func(s *Supervisor) {
		s.hooks = hooks
	}
}

// NewSupervisor wires the supervisor over its collaborators.
func NewSupervisor(gateway *Gateway, registry *Registry, planner *Planner, executor *Executor, critic *Critic, store *SessionStore, options ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		gateway:       gateway,
		registry:      registry,
		planner:       planner,
		executor:      executor,
		critic:        critic,
		store:         store,
		threshold:     DefaultCritiqueThreshold,
		maxIterations: DefaultMaxIterations,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Run drives the state machine until the terminal sentinel. state.NextAgent
// must be set by the caller: KindPlanner for plan-based execution, a
// user-facing kind for single-agent execution, or nothing when resuming a
// pre-populated plan. Returns the terminal error, if any; the caller folds
// state into the owning message either way.
func (s *Supervisor) Run(ctx context.Context, state *RunState) error {
	for i := 0; i < s.maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			s.abandon(ctx, state)
			state.Err = goerr.Wrap(ErrRunAborted, "run stopped at suspension point", goerr.V("cause", err.Error()))
			return state.Err
		}

		// Dependency-gated dispatch takes priority over everything else:
		// keep draining runnable steps without model decisions in between.
		if state.Plan != nil && !state.Plan.Terminal() {
			ready := state.Plan.ReadySteps()
			if len(ready) > 0 {
				if err := s.dispatchRound(ctx, state, ready); err != nil {
					state.Err = err
					return err
				}
				continue
			}

			if state.Plan.Stalled() {
				state.Err = goerr.Wrap(ErrDependencyCycle, "no runnable steps but plan is not terminal",
					goerr.V("plan_id", state.Plan.ID()),
				)
				s.trace(ctx, state, "execution stalled: pending steps can never become ready")
				return state.Err
			}
		}

		if state.NextAgent == Finalize {
			return nil
		}

		// A plan that just went terminal folds into the run's output and the
		// decision call picks what happens to it.
		if state.Plan != nil && state.Plan.Terminal() && !state.planFolded {
			s.foldPlanOutput(state)
			s.trace(ctx, state, fmt.Sprintf("plan %s finished: %s", state.Plan.ID(), state.Plan.StatusSummary()))
			if err := s.advance(ctx, state); err != nil {
				return err
			}
			continue
		}

		switch {
		case state.NextAgent == KindPlanner:
			if err := s.runPlanner(ctx, state); err != nil {
				state.Err = err
				return err
			}
			// Execution is implied by a fresh plan; no decision call here.
			continue
		case state.NextAgent == KindCritic:
			if err := s.runCritic(ctx, state); err != nil {
				state.Err = err
				return err
			}
			// A reflexion retry re-enters planning without a decision call.
			if state.NextAgent == KindPlanner {
				continue
			}
		case state.NextAgent != "":
			if err := s.runSingleAgent(ctx, state); err != nil {
				state.Err = err
				return err
			}
		}

		if err := s.advance(ctx, state); err != nil {
			return err
		}
	}

	state.Err = goerr.Wrap(ErrLoopLimitExceeded, "supervisor iteration cap reached",
		goerr.V("iterations", s.maxIterations),
	)
	return state.Err
}

// advance runs the decision call and stores its choice.
func (s *Supervisor) advance(ctx context.Context, state *RunState) error {
	next, err := s.decide(ctx, state)
	if err != nil {
		state.Err = err
		return err
	}
	state.NextAgent = next
	return nil
}

type stepOutcome struct {
	id     string
	result *StepResult
	err    error
}

// dispatchRound marks every ready step in-progress as one atomic batch, runs
// them concurrently, and joins the whole round before applying any outcome.
// Each outcome is applied independently: one step's failure never discards a
// sibling's success.
func (s *Supervisor) dispatchRound(ctx context.Context, state *RunState, ready []string) error {
	if err := state.Plan.MarkInProgress(ready); err != nil {
		return err
	}
	s.trace(ctx, state, fmt.Sprintf("dispatching %d step(s): %s", len(ready), strings.Join(ready, ", ")))
	s.publishPlan(state)

	onUpdate := func(stepID string, partial string) {
		state.Plan.PublishPartial(stepID, partial)
		s.publishPlan(state)
	}

	outcomes := make([]stepOutcome, len(ready))
	var wg sync.WaitGroup
	for i, id := range ready {
		if s.hooks != nil && s.hooks.StepStart != nil {
			s.hooks.StepStart(ctx, state.Plan.ID(), id)
		}
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			result, err := s.executor.ExecuteStep(ctx, state.Plan, id, onUpdate, state.Extra...)
			outcomes[i] = stepOutcome{id: id, result: result, err: err}
		}(i, id)
	}
	wg.Wait()

	for _, out := range outcomes {
		if s.hooks != nil && s.hooks.StepDone != nil {
			s.hooks.StepDone(ctx, state.Plan.ID(), out.id, out.err)
		}
		if out.err != nil {
			if err := state.Plan.Fail(out.id, out.err.Error()); err != nil {
				return err
			}
			s.trace(ctx, state, fmt.Sprintf("step %s failed: %s", out.id, digest(out.err.Error(), 160)))
			continue
		}
		if err := state.Plan.Complete(out.id, out.result); err != nil {
			return err
		}
		s.trace(ctx, state, fmt.Sprintf("step %s completed: %s", out.id, digest(out.result.Output, 160)))
	}

	for _, id := range state.Plan.FailUnreachable() {
		s.trace(ctx, state, fmt.Sprintf("step %s skipped: its dependency failed", id))
	}

	s.publishPlan(state)
	return nil
}

// runPlanner produces a plan from the current planning prompt and attaches
// it to the owning message.
func (s *Supervisor) runPlanner(ctx context.Context, state *RunState) error {
	var lessons []*ReflexionEntry
	if s.memory != nil {
		found, err := s.memory.Lessons(ctx, state.PlanPrompt)
		if err != nil {
			LoggerFromContext(ctx).Warn("lesson lookup failed, planning without lessons", "error", err)
		} else {
			lessons = found
		}
	}

	plan, err := s.planner.BuildPlan(ctx, state.PlanPrompt, lessons)
	if err != nil {
		s.trace(ctx, state, fmt.Sprintf("planning failed: %s", digest(err.Error(), 160)))
		return err
	}

	state.Plan = plan
	steps := plan.Steps()
	s.trace(ctx, state, fmt.Sprintf("plan %s created with %d step(s)", plan.ID(), len(steps)))
	s.publishPlan(state)
	if s.hooks != nil && s.hooks.PlanCreated != nil {
		s.hooks.PlanCreated(ctx, plan)
	}
	return nil
}

// runCritic scores the last output. A failing score with an unspent retry
// budget triggers the reflexion path: record the lesson, refine the prompt,
// and send the run back to planning. The failed plan stays visible in the
// message history.
func (s *Supervisor) runCritic(ctx context.Context, state *RunState) error {
	critique, err := s.critic.Critique(ctx, state.Goal, state.LastOutput)
	if err != nil {
		return err
	}

	state.critiqued = true
	if s.store != nil {
		if err := s.store.AttachCritique(state.MessageID, critique); err != nil {
			return err
		}
	}
	s.trace(ctx, state, fmt.Sprintf("critique: faithfulness=%.1f coherence=%.1f coverage=%.1f (avg %.2f)",
		critique.Faithfulness, critique.Coherence, critique.Coverage, critique.Average()))
	if s.hooks != nil && s.hooks.CritiqueDone != nil {
		s.hooks.CritiqueDone(ctx, critique)
	}

	if critique.Passes(s.threshold) {
		s.trace(ctx, state, "critique passed the quality threshold")
		return nil
	}

	if s.memory != nil {
		entry := &ReflexionEntry{
			Prompt:       state.PlanPrompt,
			FailedOutput: state.LastOutput,
			Critique:     critique.Critique,
		}
		if err := s.memory.Record(ctx, entry); err != nil {
			LoggerFromContext(ctx).Warn("failed to record reflexion lesson", "error", err)
		}
	}

	if state.retryUsed {
		s.trace(ctx, state, "critique failed but the retry budget is spent; keeping the output")
		return nil
	}
	state.retryUsed = true

	refined, err := s.critic.Refine(ctx, state.PlanPrompt, state.LastOutput, critique.Critique)
	if err != nil {
		s.trace(ctx, state, fmt.Sprintf("prompt refinement failed: %s", digest(err.Error(), 160)))
		return err
	}

	s.trace(ctx, state, fmt.Sprintf("critique failed; retrying with refined prompt: %s", digest(refined, 160)))
	if s.hooks != nil && s.hooks.RefinePrompt != nil {
		s.hooks.RefinePrompt(ctx, refined)
	}
	state.PlanPrompt = refined
	state.Plan = nil
	state.planFolded = false
	state.LastOutput = ""
	state.NextAgent = KindPlanner
	return nil
}

// runSingleAgent executes the goal directly against the current next agent.
func (s *Supervisor) runSingleAgent(ctx context.Context, state *RunState) error {
	kind := state.NextAgent
	s.trace(ctx, state, fmt.Sprintf("executing %s agent", kind))

	onUpdate := func(partial string) {
		if s.store != nil {
			_ = s.store.UpdateContent(state.MessageID, partial)
		}
	}

	result, err := s.executor.ExecuteDirect(ctx, kind, state.Goal, onUpdate, state.Extra...)
	if err != nil {
		s.trace(ctx, state, fmt.Sprintf("%s agent failed: %s", kind, digest(err.Error(), 160)))
		return err
	}

	state.LastOutput = result.Output
	state.Sources = mergeSources(state.Sources, result.Sources)
	if s.store != nil {
		if len(result.ToolCalls) > 0 {
			if err := s.store.SetToolCalls(state.MessageID, result.ToolCalls); err != nil {
				return err
			}
		}
	}
	s.trace(ctx, state, fmt.Sprintf("%s agent completed: %s", kind, digest(result.Output, 160)))
	return nil
}

// decisionSnapshot is the compact execution state handed to the decision
// call.
type decisionSnapshot struct {
	Goal        string             `json:"goal"`
	RecentTrace []string           `json:"recent_trace"`
	LastOutput  string             `json:"last_output,omitempty"`
	PlanStatus  map[StepStatus]int `json:"plan_status,omitempty"`
	Critiqued   bool               `json:"critiqued"`
}

// decide performs the supervisor decision call: given a compact JSON
// snapshot of the run, the model chooses the next agent or the terminal
// sentinel. Any invalid outcome halts the run with ErrSupervisorStalled
// rather than spinning.
func (s *Supervisor) decide(ctx context.Context, state *RunState) (AgentKind, error) {
	snapshot := decisionSnapshot{
		Goal:        state.Goal,
		RecentTrace: tail(state.History, 8),
		LastOutput:  digest(state.LastOutput, 500),
		Critiqued:   state.critiqued,
	}
	if state.Plan != nil {
		snapshot.PlanStatus = state.Plan.StatusCounts()
	}

	encoded, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", goerr.Wrap(err, "failed to encode decision snapshot")
	}

	valid := s.validChoices(state)
	prompt := fmt.Sprintf(supervisorPromptTemplate, string(encoded), strings.Join(valid, ", "), Finalize)

	resp, err := s.gateway.Generate(ctx, KindSupervisor, nil, Text(prompt))
	if err != nil {
		return "", goerr.Wrap(ErrSupervisorStalled, "decision call failed", goerr.V("cause", err.Error()))
	}

	var decision SupervisorDecision
	if err := decodeModelJSON(responseText(resp), compiledSupervisorSchema, &decision); err != nil {
		return "", goerr.Wrap(ErrSupervisorStalled, "decision output not parsable", goerr.V("cause", err.Error()))
	}

	choice := strings.TrimSpace(decision.Next)
	for _, v := range valid {
		if strings.EqualFold(choice, v) {
			next := AgentKind(v)
			if v == string(Finalize) {
				next = Finalize
			}
			s.trace(ctx, state, fmt.Sprintf("supervisor: next=%s (%s)", v, decision.Reason))
			return next, nil
		}
	}

	return "", goerr.Wrap(ErrSupervisorStalled, "decision is not a valid choice",
		goerr.V("choice", decision.Next),
		goerr.V("valid", valid),
	)
}

// validChoices lists what the decision call may pick: the terminal sentinel
// always; the critic until a critique has happened; the planner only before
// a plan exists; registered user-facing kinds for follow-up work.
func (s *Supervisor) validChoices(state *RunState) []string {
	choices := []string{string(Finalize)}
	if !state.critiqued && state.LastOutput != "" {
		choices = append(choices, string(KindCritic))
	}
	if state.Plan == nil {
		choices = append(choices, string(KindPlanner))
	}
	for _, kind := range s.registry.UserFacing() {
		choices = append(choices, string(kind))
	}
	return choices
}

// foldPlanOutput turns a terminal plan into the run's last output and
// collected sources.
func (s *Supervisor) foldPlanOutput(state *RunState) {
	state.planFolded = true
	state.LastOutput = state.Plan.FinalOutput()
	state.Sources = mergeSources(state.Sources, state.Plan.AllSources())
	if state.LastOutput == "" && !state.Plan.Succeeded() {
		var failures []string
		for _, step := range state.Plan.FailedSteps() {
			failures = append(failures, fmt.Sprintf("%s: %s", step.ID, step.Error))
		}
		state.LastOutput = "The plan could not be completed. Failed steps:\n" + strings.Join(failures, "\n")
	}
}

// abandon marks the remaining plan abandoned on a cooperative stop.
func (s *Supervisor) abandon(ctx context.Context, state *RunState) {
	if state.Plan == nil || state.Plan.Terminal() {
		return
	}
	state.Plan.SetState(PlanStateAbandoned)
	s.trace(ctx, state, "run stopped; remaining steps abandoned")
	s.publishPlan(state)
}

// trace appends one human-readable line to the run history and republishes
// it to the owning message, so a subscriber watches the run in real time.
func (s *Supervisor) trace(ctx context.Context, state *RunState, line string) {
	state.History = append(state.History, line)
	if s.store != nil {
		_ = s.store.AppendTrace(state.MessageID, line)
	}
	if handler := trace.HandlerFrom(ctx); handler != nil {
		handler.AddEvent(ctx, "transition", line)
	}
	LoggerFromContext(ctx).Debug("supervisor transition", "line", line)
}

func (s *Supervisor) publishPlan(state *RunState) {
	if s.store == nil || state.Plan == nil {
		return
	}
	_ = s.store.AttachPlan(state.MessageID, state.Plan)
}

func tail(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
