package steward_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/steward"
)

// scriptedAgents scripts one response sequence per agent kind, so a whole
// supervisor run can be driven deterministically.
type scriptedAgents struct {
	mu      sync.Mutex
	scripts map[string][]string
	counts  map[string]int
	prompts map[string][]string
}

func newScriptedAgents(scripts map[string][]string) *scriptedAgents {
	return &scriptedAgents{
		scripts: scripts,
		counts:  map[string]int{},
		prompts: map[string][]string{},
	}
}

func (a *scriptedAgents) respond(cfg *steward.SessionConfig, inputs []steward.Input, turn int) (*steward.Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	kind := kindOf(cfg)
	a.prompts[kind] = append(a.prompts[kind], joinInputs(inputs))
	i := a.counts[kind]
	a.counts[kind]++

	script := a.scripts[kind]
	if i >= len(script) {
		return nil, fmt.Errorf("no scripted response for %s call %d", kind, i+1)
	}
	return textResp(script[i]), nil
}

func (a *scriptedAgents) callCount(kind string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts[kind]
}

func (a *scriptedAgents) promptAt(kind string, i int) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if i >= len(a.prompts[kind]) {
		return ""
	}
	return a.prompts[kind][i]
}

type supervisorFixture struct {
	supervisor *steward.Supervisor
	store      *steward.SessionStore
	agents     *scriptedAgents
}

func newSupervisorFixture(t *testing.T, scripts map[string][]string, options ...steward.SupervisorOption) *supervisorFixture {
	t.Helper()

	agents := newScriptedAgents(scripts)
	registry := testRegistry(t)
	gateway := steward.NewGateway(newMockClient(agents.respond), registry)
	planner := steward.NewPlanner(gateway, registry)
	executor := gt.R1(steward.NewExecutor(gateway, registry, nil, nil)).NoError(t)
	critic := steward.NewCritic(gateway)
	store := steward.NewSessionStore()

	return &supervisorFixture{
		supervisor: steward.NewSupervisor(gateway, registry, planner, executor, critic, store, options...),
		store:      store,
		agents:     agents,
	}
}

func (f *supervisorFixture) newRun(goal string, next steward.AgentKind) *steward.RunState {
	msg := steward.NewAssistantMessage(next)
	f.store.Append(msg)
	state := steward.NewRunState(msg.ID, goal)
	state.NextAgent = next
	return state
}

func TestSupervisorSingleAgentRun(t *testing.T) {
	f := newSupervisorFixture(t, map[string][]string{
		"chat":       {"hi there"},
		"supervisor": {`{"next": "FINALIZE", "reason": "simple greeting"}`},
	})

	state := f.newRun("say hello", steward.KindChat)
	gt.NoError(t, f.supervisor.Run(context.Background(), state))
	gt.Equal(t, "hi there", state.LastOutput)
	gt.Equal(t, 1, f.agents.callCount("chat"))
	gt.Equal(t, 1, f.agents.callCount("supervisor"))
}

func TestSupervisorCritiquePass(t *testing.T) {
	f := newSupervisorFixture(t, map[string][]string{
		"chat":       {"a solid answer"},
		"critic":     {`{"faithfulness": 5, "coherence": 4, "coverage": 4, "critique": "good"}`},
		"supervisor": {`{"next": "critic"}`, `{"next": "FINALIZE"}`},
	})

	state := f.newRun("answer the question", steward.KindChat)
	gt.NoError(t, f.supervisor.Run(context.Background(), state))
	gt.Equal(t, "a solid answer", state.LastOutput)

	msg, ok := f.store.Get(state.MessageID)
	gt.True(t, ok)
	gt.True(t, msg.Critique != nil)
	gt.Equal(t, 5.0, msg.Critique.Faithfulness)
}

func TestSupervisorPlanRun(t *testing.T) {
	var started, done []string
	hooks := &steward.Hooks{
		StepStart: func(ctx context.Context, planID, stepID string) { started = append(started, stepID) },
		StepDone:  func(ctx context.Context, planID, stepID string, err error) { done = append(done, stepID) },
	}

	fx := newSupervisorFixture(t, map[string][]string{
		"planner": {`{
			"steps": [
				{"id": "collect", "description": "Collect facts", "agent": "research", "output_key": "facts"},
				{"id": "write", "description": "Write the report", "agent": "chat", "depends_on": ["collect"]}
			]
		}`},
		"research":   {"facts found"},
		"chat":       {"final report"},
		"supervisor": {`{"next": "FINALIZE", "reason": "report delivered"}`},
	}, steward.WithSupervisorHooks(hooks))
	state := fx.newRun("write a report", steward.KindPlanner)
	gt.NoError(t, fx.supervisor.Run(context.Background(), state))

	// Only the leaf step's output survives as the final answer.
	gt.Equal(t, "final report", state.LastOutput)
	gt.Equal(t, []string{"collect", "write"}, started)
	gt.Equal(t, []string{"collect", "write"}, done)

	// The dependent step saw its dependency's committed output.
	gt.True(t, strings.Contains(fx.agents.promptAt("chat", 0), "facts found"))

	msg, ok := fx.store.Get(state.MessageID)
	gt.True(t, ok)
	gt.True(t, msg.Plan != nil)
	gt.True(t, state.Plan.Succeeded())
}

func TestSupervisorParallelRound(t *testing.T) {
	var started, done []string
	hooks := &steward.Hooks{
		StepStart: func(ctx context.Context, planID, stepID string) { started = append(started, stepID) },
		StepDone:  func(ctx context.Context, planID, stepID string, err error) { done = append(done, stepID) },
	}

	fx := newSupervisorFixture(t, map[string][]string{
		"planner": {`{
			"steps": [
				{"id": "survey", "description": "Survey prior art", "agent": "research"},
				{"id": "draft", "description": "Draft the helper", "agent": "coder"}
			]
		}`},
		"research":   {"prior art summary"},
		"coder":      {"helper drafted"},
		"supervisor": {`{"next": "FINALIZE", "reason": "both parts done"}`},
	}, steward.WithSupervisorHooks(hooks))
	state := fx.newRun("survey and draft", steward.KindPlanner)
	gt.NoError(t, fx.supervisor.Run(context.Background(), state))

	// Independent steps go out in one round and both results survive.
	gt.Equal(t, []string{"survey", "draft"}, started)
	gt.Equal(t, []string{"survey", "draft"}, done)
	gt.Equal(t, "prior art summary\n\nhelper drafted", state.LastOutput)
	gt.True(t, state.Plan.Succeeded())
}

func TestSupervisorPartialFailureIsolation(t *testing.T) {
	// No script for research: its step fails, the sibling must not.
	fx := newSupervisorFixture(t, map[string][]string{
		"planner": {`{
			"steps": [
				{"id": "flaky", "description": "Fetch upstream data", "agent": "research"},
				{"id": "solid", "description": "Summarize local notes", "agent": "chat"}
			]
		}`},
		"chat":       {"notes summarized"},
		"supervisor": {`{"next": "FINALIZE", "reason": "best effort"}`},
	})
	state := fx.newRun("fetch and summarize", steward.KindPlanner)
	gt.NoError(t, fx.supervisor.Run(context.Background(), state))

	flaky, ok := state.Plan.Step("flaky")
	gt.True(t, ok)
	gt.Equal(t, steward.StepStatusFailed, flaky.Status)

	solid, ok := state.Plan.Step("solid")
	gt.True(t, ok)
	gt.Equal(t, steward.StepStatusCompleted, solid.Status)
	gt.Equal(t, "notes summarized", state.LastOutput)
	gt.False(t, state.Plan.Succeeded())
}

func TestSupervisorReflexionRetry(t *testing.T) {
	f := newSupervisorFixture(t, map[string][]string{
		"chat":    {"vague draft", "precise answer"},
		"critic":  {`{"faithfulness": 1, "coherence": 2, "coverage": 1, "critique": "too vague"}`},
		"refine":  {"Improved prompt: answer with exact figures"},
		"planner": {`{"steps": [{"id": "answer", "description": "Answer precisely", "agent": "chat"}]}`},
		"supervisor": {
			`{"next": "critic"}`,
			`{"next": "FINALIZE"}`,
		},
	})

	state := f.newRun("answer the question", steward.KindChat)
	gt.NoError(t, f.supervisor.Run(context.Background(), state))

	// The refined prompt replaced the planning prompt and drove a fresh plan.
	gt.Equal(t, "answer with exact figures", state.PlanPrompt)
	gt.True(t, strings.Contains(f.agents.promptAt("planner", 0), "answer with exact figures"))
	gt.Equal(t, "precise answer", state.LastOutput)

	// One retry per request: the second output is kept without a new critique.
	gt.Equal(t, 1, f.agents.callCount("critic"))
	gt.Equal(t, 1, f.agents.callCount("refine"))
}

func TestSupervisorStalledPlan(t *testing.T) {
	f := newSupervisorFixture(t, map[string][]string{})

	state := f.newRun("goal", "")
	state.Plan = steward.NewPlan("goal", []steward.PlanStep{
		{ID: "a", Description: "first", Agent: steward.KindChat, DependsOn: []string{"b"}},
		{ID: "b", Description: "second", Agent: steward.KindChat, DependsOn: []string{"a"}},
	})

	err := f.supervisor.Run(context.Background(), state)
	gt.True(t, errors.Is(err, steward.ErrDependencyCycle))
}

func TestSupervisorInvalidDecision(t *testing.T) {
	f := newSupervisorFixture(t, map[string][]string{
		"chat":       {"answer"},
		"supervisor": {`{"next": "reranker", "reason": "bad pick"}`},
	})

	state := f.newRun("goal", steward.KindChat)
	err := f.supervisor.Run(context.Background(), state)
	gt.True(t, errors.Is(err, steward.ErrSupervisorStalled))
}

func TestSupervisorLoopLimit(t *testing.T) {
	f := newSupervisorFixture(t, map[string][]string{
		"chat":       {"again", "again", "again"},
		"supervisor": {`{"next": "chat"}`, `{"next": "chat"}`, `{"next": "chat"}`},
	}, steward.WithMaxIterations(3))

	state := f.newRun("goal", steward.KindChat)
	err := f.supervisor.Run(context.Background(), state)
	gt.True(t, errors.Is(err, steward.ErrLoopLimitExceeded))
}

func TestSupervisorAbortOnCancel(t *testing.T) {
	f := newSupervisorFixture(t, map[string][]string{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state := f.newRun("goal", steward.KindChat)
	state.Plan = steward.NewPlan("goal", []steward.PlanStep{
		{ID: "a", Description: "pending work", Agent: steward.KindChat},
	})

	err := f.supervisor.Run(ctx, state)
	gt.True(t, errors.Is(err, steward.ErrRunAborted))
	gt.Equal(t, steward.PlanStateAbandoned, state.Plan.State())
}
