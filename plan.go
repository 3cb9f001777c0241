package steward

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

// StepStatus is the lifecycle state of a plan step. The only legal
// transitions are pending → in_progress → {completed | failed}.
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusFailed     StepStatus = "failed"
)

// IsTerminal reports whether the status is a final state.
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusCompleted || s == StepStatusFailed
}

// PlanState is the lifecycle state of a whole plan.
type PlanState string

const (
	PlanStateCreated   PlanState = "created"
	PlanStateRunning   PlanState = "running"
	PlanStateCompleted PlanState = "completed"
	PlanStateFailed    PlanState = "failed"
	PlanStateAbandoned PlanState = "abandoned"
)

// StepResult is the committed output of a step. While a step streams, the
// result holds the monotonically growing partial text; on completion it is
// replaced by the final output, any tool call records, and the grounding
// sources collected from the model.
type StepResult struct {
	Output      string            `json:"output"`
	ToolCalls   []ToolCallRecord  `json:"tool_calls,omitempty"`
	Sources     []GroundingSource `json:"sources,omitempty"`
	CompletedAt time.Time         `json:"completed_at,omitzero"`
}

// PlanStep is one unit of work in a decomposed goal, bound to exactly one
// agent kind. Steps are never deleted; a retry produces a new plan rather
// than rewriting a settled step.
type PlanStep struct {
	ID                 string      `json:"id"`
	Description        string      `json:"description"`
	AcceptanceCriteria string      `json:"acceptance_criteria,omitempty"`
	Agent              AgentKind   `json:"agent"`
	DependsOn          []string    `json:"depends_on,omitempty"`
	OutputKey          string      `json:"output_key,omitempty"`
	Status             StepStatus  `json:"status"`
	Result             *StepResult `json:"result,omitempty"`
	Error              string      `json:"error,omitempty"`
	StartedAt          *time.Time  `json:"started_at,omitempty"`
	EndedAt            *time.Time  `json:"ended_at,omitempty"`
}

func (s *PlanStep) clone() PlanStep {
	c := *s
	c.DependsOn = append([]string(nil), s.DependsOn...)
	if s.Result != nil {
		r := *s.Result
		r.ToolCalls = append([]ToolCallRecord(nil), s.Result.ToolCalls...)
		r.Sources = append([]GroundingSource(nil), s.Result.Sources...)
		c.Result = &r
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		c.StartedAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return c
}

// Plan is an ordered collection of steps for one goal. All mutation goes
// through guarded methods; concurrent step goroutines own disjoint steps and
// serialize their updates on the plan's mutex.
type Plan struct {
	mu    sync.RWMutex
	id    string
	goal  string
	state PlanState
	steps []*PlanStep
}

// NewPlan creates a plan from the given steps. Step ids missing from the
// input are assigned positionally (step_1, step_2, ...).
func NewPlan(goal string, steps []PlanStep) *Plan {
	p := &Plan{
		id:    uuid.New().String(),
		goal:  goal,
		state: PlanStateCreated,
	}
	for i := range steps {
		step := steps[i].clone()
		if step.ID == "" {
			step.ID = fmt.Sprintf("step_%d", i+1)
		}
		if step.Status == "" {
			step.Status = StepStatusPending
		}
		p.steps = append(p.steps, &step)
	}
	return p
}

// ID returns the plan id.
func (p *Plan) ID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.id
}

// Goal returns the goal text the plan decomposes.
func (p *Plan) Goal() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.goal
}

// State returns the plan lifecycle state.
func (p *Plan) State() PlanState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// SetState transitions the plan lifecycle state.
func (p *Plan) SetState(state PlanState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
}

// Steps returns value copies of all steps in plan order.
func (p *Plan) Steps() []PlanStep {
	p.mu.RLock()
	defer p.mu.RUnlock()

	steps := make([]PlanStep, len(p.steps))
	for i, s := range p.steps {
		steps[i] = s.clone()
	}
	return steps
}

// Step returns a value copy of one step by id.
func (p *Plan) Step(id string) (PlanStep, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, s := range p.steps {
		if s.ID == id {
			return s.clone(), true
		}
	}
	return PlanStep{}, false
}

func (p *Plan) find(id string) *PlanStep {
	for _, s := range p.steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// ReadySteps returns the ids of steps that are pending and whose every
// dependency has completed, in plan order.
func (p *Plan) ReadySteps() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var ready []string
	for _, s := range p.steps {
		if s.Status != StepStatusPending {
			continue
		}
		runnable := true
		for _, dep := range s.DependsOn {
			d := p.find(dep)
			if d == nil || d.Status != StepStatusCompleted {
				runnable = false
				break
			}
		}
		if runnable {
			ready = append(ready, s.ID)
		}
	}
	return ready
}

// MarkInProgress transitions all listed steps from pending to in_progress as
// one atomic batch. If any step is not pending, no step is changed and the
// call fails: a step id is dispatched at most once per plan lifetime.
func (p *Plan) MarkInProgress(ids []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	steps := make([]*PlanStep, 0, len(ids))
	for _, id := range ids {
		s := p.find(id)
		if s == nil {
			return goerr.Wrap(ErrStepStateTransition, "unknown step", goerr.V("step_id", id))
		}
		if s.Status != StepStatusPending {
			return goerr.Wrap(ErrStepStateTransition, "step is not pending",
				goerr.V("step_id", id), goerr.V("status", s.Status))
		}
		steps = append(steps, s)
	}

	now := time.Now()
	for _, s := range steps {
		s.Status = StepStatusInProgress
		t := now
		s.StartedAt = &t
	}
	p.state = PlanStateRunning
	return nil
}

// PublishPartial records streamed partial output on an in-progress step.
// Each update replaces the previous snapshot; callers provide monotonically
// growing text. Updates to settled steps are dropped.
func (p *Plan) PublishPartial(id string, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.find(id)
	if s == nil || s.Status != StepStatusInProgress {
		return
	}
	s.Result = &StepResult{Output: text}
}

// Complete transitions a step from in_progress to completed with its final
// result. Completing a step twice is an error.
func (p *Plan) Complete(id string, result *StepResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.find(id)
	if s == nil {
		return goerr.Wrap(ErrStepStateTransition, "unknown step", goerr.V("step_id", id))
	}
	if s.Status != StepStatusInProgress {
		return goerr.Wrap(ErrStepStateTransition, "step is not in progress",
			goerr.V("step_id", id), goerr.V("status", s.Status))
	}

	now := time.Now()
	if result != nil && result.CompletedAt.IsZero() {
		result.CompletedAt = now
	}
	s.Status = StepStatusCompleted
	s.Result = result
	s.EndedAt = &now
	return nil
}

// Fail transitions a step from in_progress to failed with the error text.
func (p *Plan) Fail(id string, errMsg string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.find(id)
	if s == nil {
		return goerr.Wrap(ErrStepStateTransition, "unknown step", goerr.V("step_id", id))
	}
	if s.Status != StepStatusInProgress {
		return goerr.Wrap(ErrStepStateTransition, "step is not in progress",
			goerr.V("step_id", id), goerr.V("status", s.Status))
	}

	now := time.Now()
	s.Status = StepStatusFailed
	s.Error = errMsg
	s.EndedAt = &now
	return nil
}

// FailUnreachable closes every pending step that depends, directly or
// transitively, on a failed step. Such steps can never become ready; leaving
// them pending would strand the plan short of a terminal state. Returns the
// ids it closed in step order.
func (p *Plan) FailUnreachable() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var closed []string
	for {
		progressed := false
		for _, s := range p.steps {
			if s.Status != StepStatusPending {
				continue
			}
			for _, dep := range s.DependsOn {
				d := p.find(dep)
				if d == nil || d.Status != StepStatusFailed {
					continue
				}
				now := time.Now()
				s.Status = StepStatusFailed
				s.Error = fmt.Sprintf("dependency %s failed", dep)
				s.EndedAt = &now
				closed = append(closed, s.ID)
				progressed = true
				break
			}
		}
		if !progressed {
			return closed
		}
	}
}

// Stalled reports whether the plan holds pending steps that can never become
// ready: nothing is ready, nothing is running, and no failed dependency
// explains the blockage. This is the runtime signature of a dependency
// cycle that slipped past validation.
func (p *Plan) Stalled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	pending := 0
	for _, s := range p.steps {
		switch s.Status {
		case StepStatusInProgress:
			return false
		case StepStatusPending:
			pending++
			ready := true
			for _, dep := range s.DependsOn {
				d := p.find(dep)
				if d == nil || d.Status != StepStatusCompleted {
					ready = false
					break
				}
			}
			if ready {
				return false
			}
		}
	}
	return pending > 0
}

// MarkCompleted force-completes the listed pending steps, used when resuming
// a plan whose steps already ran. Unknown ids and settled steps are skipped.
func (p *Plan) MarkCompleted(ids []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for _, id := range ids {
		s := p.find(id)
		if s == nil || s.Status.IsTerminal() {
			continue
		}
		s.Status = StepStatusCompleted
		if s.Result == nil {
			s.Result = &StepResult{Output: "(completed in a previous run)", CompletedAt: now}
		}
		t := now
		s.EndedAt = &t
	}
}

// Terminal reports whether every step has settled.
func (p *Plan) Terminal() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, s := range p.steps {
		if !s.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// Succeeded reports whether every step completed.
func (p *Plan) Succeeded() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, s := range p.steps {
		if s.Status != StepStatusCompleted {
			return false
		}
	}
	return true
}

// FailedSteps returns value copies of the failed steps.
func (p *Plan) FailedSteps() []PlanStep {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var failed []PlanStep
	for _, s := range p.steps {
		if s.Status == StepStatusFailed {
			failed = append(failed, s.clone())
		}
	}
	return failed
}

// DependencyOutputs returns the committed outputs of the step's dependencies
// keyed by output key (falling back to the dependency's id). Only completed
// dependencies contribute: in-flight state of other steps is never exposed.
func (p *Plan) DependencyOutputs(id string) map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := p.find(id)
	if s == nil {
		return nil
	}

	outputs := map[string]string{}
	for _, dep := range s.DependsOn {
		d := p.find(dep)
		if d == nil || d.Status != StepStatusCompleted || d.Result == nil {
			continue
		}
		key := d.OutputKey
		if key == "" {
			key = d.ID
		}
		outputs[key] = d.Result.Output
	}
	return outputs
}

// FinalOutput folds a terminal plan into one output: the committed results
// of completed leaf steps (steps no other step depends on), joined in plan
// order. Non-leaf outputs are intermediate data and stay out.
func (p *Plan) FinalOutput() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	hasDependent := map[string]bool{}
	for _, s := range p.steps {
		for _, dep := range s.DependsOn {
			hasDependent[dep] = true
		}
	}

	var outputs []string
	for _, s := range p.steps {
		if hasDependent[s.ID] || s.Status != StepStatusCompleted || s.Result == nil {
			continue
		}
		if s.Result.Output != "" {
			outputs = append(outputs, s.Result.Output)
		}
	}
	return strings.Join(outputs, "\n\n")
}

// AllSources collects the grounding sources committed on completed steps,
// deduplicated by URL in plan order.
func (p *Plan) AllSources() []GroundingSource {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var sources []GroundingSource
	for _, s := range p.steps {
		if s.Status != StepStatusCompleted || s.Result == nil {
			continue
		}
		sources = mergeSources(sources, s.Result.Sources)
	}
	return sources
}

// StatusSummary renders a one-line-per-step digest used in prompts and trace
// lines. Completed steps include a short result digest; in-flight steps do
// not leak partial output.
func (p *Plan) StatusSummary() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var b strings.Builder
	for _, s := range p.steps {
		fmt.Fprintf(&b, "- [%s] %s (%s)", s.Status, s.Description, s.ID)
		if s.Status == StepStatusCompleted && s.Result != nil {
			fmt.Fprintf(&b, ": %s", digest(s.Result.Output, 120))
		}
		if s.Status == StepStatusFailed && s.Error != "" {
			fmt.Fprintf(&b, ": error: %s", digest(s.Error, 120))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// StatusCounts returns the number of steps per status.
func (p *Plan) StatusCounts() map[StepStatus]int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	counts := map[StepStatus]int{}
	for _, s := range p.steps {
		counts[s.Status]++
	}
	return counts
}

func digest(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// Validate checks the structural constraints of the plan: non-empty, unique
// step ids, known dependency references, no self-dependency, agent kinds
// restricted to the allowed set, and an acyclic dependency graph.
func (p *Plan) Validate(allowed []AgentKind) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.steps) == 0 {
		return goerr.Wrap(ErrInvalidPlan, "plan has no steps")
	}

	allowedSet := make(map[AgentKind]bool, len(allowed))
	for _, k := range allowed {
		allowedSet[k] = true
	}

	seen := make(map[string]bool, len(p.steps))
	for _, s := range p.steps {
		if s.ID == "" {
			return goerr.Wrap(ErrInvalidPlan, "step id is empty")
		}
		if seen[s.ID] {
			return goerr.Wrap(ErrInvalidPlan, "duplicate step id", goerr.V("step_id", s.ID))
		}
		seen[s.ID] = true

		if len(allowed) > 0 && !allowedSet[s.Agent] {
			return goerr.Wrap(ErrInvalidPlan, "step bound to disallowed agent kind",
				goerr.V("step_id", s.ID), goerr.V("kind", s.Agent))
		}
	}

	for _, s := range p.steps {
		for _, dep := range s.DependsOn {
			if dep == s.ID {
				return goerr.Wrap(ErrDependencyCycle, "step depends on itself", goerr.V("step_id", s.ID))
			}
			if !seen[dep] {
				return goerr.Wrap(ErrInvalidPlan, "dependency references unknown step",
					goerr.V("step_id", s.ID), goerr.V("dependency", dep))
			}
		}
	}

	if err := p.checkAcyclic(); err != nil {
		return err
	}

	return nil
}

// checkAcyclic runs Kahn's algorithm over the dependency graph. Callers hold
// the read lock.
func (p *Plan) checkAcyclic() error {
	indegree := make(map[string]int, len(p.steps))
	dependents := make(map[string][]string, len(p.steps))
	for _, s := range p.steps {
		indegree[s.ID] += 0
		for _, dep := range s.DependsOn {
			indegree[s.ID]++
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	queue := make([]string, 0, len(p.steps))
	for _, s := range p.steps {
		if indegree[s.ID] == 0 {
			queue = append(queue, s.ID)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited != len(p.steps) {
		var stuck []string
		for id, deg := range indegree {
			if deg > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return goerr.Wrap(ErrDependencyCycle, "dependency graph contains a cycle",
			goerr.V("steps", stuck))
	}
	return nil
}

// Clone returns an independent deep copy of the plan.
func (p *Plan) Clone() *Plan {
	p.mu.RLock()
	defer p.mu.RUnlock()

	clone := &Plan{
		id:    p.id,
		goal:  p.goal,
		state: p.state,
	}
	for _, s := range p.steps {
		c := s.clone()
		clone.steps = append(clone.steps, &c)
	}
	return clone
}

// planData represents serializable plan data (private)
type planData struct {
	Version int        `json:"version"`
	ID      string     `json:"id"`
	Goal    string     `json:"goal"`
	State   PlanState  `json:"state"`
	Steps   []PlanStep `json:"steps"`
}

// PlanVersion is the serialized plan format version.
const PlanVersion = 1

// MarshalJSON implements json.Marshaler for Plan.
func (p *Plan) MarshalJSON() ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	steps := make([]PlanStep, len(p.steps))
	for i, s := range p.steps {
		steps[i] = s.clone()
	}
	data := planData{
		Version: PlanVersion,
		ID:      p.id,
		Goal:    p.goal,
		State:   p.state,
		Steps:   steps,
	}
	return json.Marshal(data)
}

// UnmarshalJSON implements json.Unmarshaler for Plan. A version mismatch is
// rejected with ErrInvalidSnapshotVersion.
func (p *Plan) UnmarshalJSON(data []byte) error {
	var pd planData
	if err := json.Unmarshal(data, &pd); err != nil {
		return goerr.Wrap(err, "failed to unmarshal plan data")
	}

	if pd.Version != PlanVersion {
		return goerr.Wrap(ErrInvalidSnapshotVersion, "plan version mismatch",
			goerr.V("expected", PlanVersion), goerr.V("actual", pd.Version))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.id = pd.ID
	p.goal = pd.Goal
	p.state = pd.State
	p.steps = nil
	for i := range pd.Steps {
		step := pd.Steps[i].clone()
		p.steps = append(p.steps, &step)
	}
	return nil
}

// Serialize serializes the plan to JSON.
func (p *Plan) Serialize() ([]byte, error) {
	return json.Marshal(p)
}
