package steward

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/steward/sandbox"
	"github.com/m-mizutani/steward/storage"
	"github.com/m-mizutani/steward/trace"
	"github.com/m-mizutani/steward/vectorstore"
)

// DefaultPlanComplexity is the routing complexity score at and above which a
// request enters planning instead of single-agent execution.
const DefaultPlanComplexity = 6

// Hooks are optional observation callbacks invoked at run milestones. A nil
// field is skipped. Hooks run synchronously on the orchestration goroutine
// and must not block.
type Hooks struct {
	RoutingDecided func(ctx context.Context, decision *RouteDecision)
	PlanCreated    func(ctx context.Context, plan *Plan)
	StepStart      func(ctx context.Context, planID, stepID string)
	StepDone       func(ctx context.Context, planID, stepID string, err error)
	CritiqueDone   func(ctx context.Context, critique *CritiqueResult)
	RefinePrompt   func(ctx context.Context, refined string)
}

// Orchestrator is the entry point of the package: it owns the session,
// wires the router, planner, executor, critic, and supervisor over one
// model client, and drives a top-level request from prompt to finalized
// message.
type Orchestrator struct {
	registry   *Registry
	gateway    *Gateway
	store      *SessionStore
	router     *Router
	executor   *Executor
	supervisor *Supervisor
	guard      *Guard

	logger       *slog.Logger
	traceHandler trace.Handler
	hooks        *Hooks

	planComplexity int

	mu     sync.Mutex
	cancel context.CancelFunc
}

type orchestratorConfig struct {
	registry       *Registry
	vectorStore    vectorstore.Store
	runner         sandbox.Runner
	embedder       Embedder
	repo           storage.Repository
	traceHandler   trace.Handler
	logger         *slog.Logger
	guard          *Guard
	hooks          *Hooks
	sessionID      string
	tools          []Tool
	toolSets       []ToolSet
	threshold      float64
	planComplexity int
	maxIterations  int
	toolRounds     int
	maxAttempts    int
	backoffBase    time.Duration
}

// Option configures an Orchestrator.
type Option func(*orchestratorConfig)

// WithRegistry replaces the built-in agent registry.
func WithRegistry(registry *Registry) Option {
	return func(c *orchestratorConfig) {
		c.registry = registry
	}
}

// WithVectorStore sets the document archive backing the archive tools and
// the reflexion memory.
func WithVectorStore(store vectorstore.Store) Option {
	return func(c *orchestratorConfig) {
		c.vectorStore = store
	}
}

// WithSandboxRunner enables the run_code tool against the given runner.
func WithSandboxRunner(runner sandbox.Runner) Option {
	return func(c *orchestratorConfig) {
		c.runner = runner
	}
}

// WithEmbedder replaces the embedding boundary. The default embeds through
// the model client.
func WithEmbedder(embedder Embedder) Option {
	return func(c *orchestratorConfig) {
		c.embedder = embedder
	}
}

// WithRepository enables session persistence through the repository.
func WithRepository(repo storage.Repository) Option {
	return func(c *orchestratorConfig) {
		c.repo = repo
	}
}

// WithTraceHandler attaches a trace backend to every run.
func WithTraceHandler(handler trace.Handler) Option {
	return func(c *orchestratorConfig) {
		c.traceHandler = handler
	}
}

// WithLogger sets the structured logger carried through run contexts.
func WithLogger(logger *slog.Logger) Option {
	return func(c *orchestratorConfig) {
		c.logger = logger
	}
}

// WithGuard sets the content guard screening prompts and final outputs.
func WithGuard(guard *Guard) Option {
	return func(c *orchestratorConfig) {
		c.guard = guard
	}
}

// WithHooks registers run milestone callbacks.
func WithHooks(hooks *Hooks) Option {
	return func(c *orchestratorConfig) {
		c.hooks = hooks
	}
}

// WithSessionID resumes the session persisted under the given id.
func WithSessionID(id string) Option {
	return func(c *orchestratorConfig) {
		c.sessionID = id
	}
}

// WithTools adds tools beyond the built-in catalog.
func WithTools(tools ...Tool) Option {
	return func(c *orchestratorConfig) {
		c.tools = append(c.tools, tools...)
	}
}

// WithToolSets adds tool sets, such as MCP servers, beyond the built-in
// catalog.
func WithToolSets(toolSets ...ToolSet) Option {
	return func(c *orchestratorConfig) {
		c.toolSets = append(c.toolSets, toolSets...)
	}
}

// WithQualityThreshold sets the minimum passing critique average.
func WithQualityThreshold(v float64) Option {
	return func(c *orchestratorConfig) {
		c.threshold = v
	}
}

// WithPlanComplexity sets the routing complexity at and above which a
// request is planned instead of answered by a single agent.
func WithPlanComplexity(n int) Option {
	return func(c *orchestratorConfig) {
		if n > 0 {
			c.planComplexity = n
		}
	}
}

// WithLoopLimit caps the supervisor loop iterations per run.
func WithLoopLimit(n int) Option {
	return func(c *orchestratorConfig) {
		c.maxIterations = n
	}
}

// WithStepToolRounds bounds the generate-then-tool cycles per step.
func WithStepToolRounds(n int) Option {
	return func(c *orchestratorConfig) {
		c.toolRounds = n
	}
}

// WithRetryAttempts sets how many times a model call is attempted before
// its failure propagates.
func WithRetryAttempts(n int) Option {
	return func(c *orchestratorConfig) {
		c.maxAttempts = n
	}
}

// WithRetryBackoff sets the base delay of the doubling retry backoff.
func WithRetryBackoff(d time.Duration) Option {
	return func(c *orchestratorConfig) {
		c.backoffBase = d
	}
}

// New creates an Orchestrator over the model client. Without options it
// runs the built-in registry with an in-memory archive, embeds through the
// client, and persists nothing.
func New(client LLMClient, options ...Option) (*Orchestrator, error) {
	cfg := &orchestratorConfig{
		logger:         slog.New(slog.DiscardHandler),
		threshold:      DefaultCritiqueThreshold,
		planComplexity: DefaultPlanComplexity,
	}
	for _, opt := range options {
		opt(cfg)
	}

	registry := cfg.registry
	if registry == nil {
		var err error
		registry, err = DefaultRegistry()
		if err != nil {
			return nil, err
		}
	}

	var gatewayOpts []GatewayOption
	if cfg.maxAttempts > 0 {
		gatewayOpts = append(gatewayOpts, WithMaxAttempts(cfg.maxAttempts))
	}
	if cfg.backoffBase > 0 {
		gatewayOpts = append(gatewayOpts, WithBackoffBase(cfg.backoffBase))
	}
	gateway := NewGateway(client, registry, gatewayOpts...)

	embedder := cfg.embedder
	if embedder == nil {
		embedder = gateway
	}
	vstore := cfg.vectorStore
	if vstore == nil {
		vstore = vectorstore.NewMemoryStore()
	}

	var storeOpts []StoreOption
	if cfg.repo != nil {
		storeOpts = append(storeOpts, WithStoreRepository(cfg.repo))
	}
	if cfg.sessionID != "" {
		storeOpts = append(storeOpts, WithStoreSessionID(cfg.sessionID))
	}
	store := NewSessionStore(storeOpts...)

	tools := append(BuildToolCatalog(vstore, embedder, cfg.runner), cfg.tools...)

	var executorOpts []ExecutorOption
	if cfg.toolRounds > 0 {
		executorOpts = append(executorOpts, WithToolRounds(cfg.toolRounds))
	}
	executor, err := NewExecutor(gateway, registry, tools, cfg.toolSets, executorOpts...)
	if err != nil {
		return nil, err
	}

	memory := NewReflexionMemory(vstore, embedder)

	supervisorOpts := []SupervisorOption{
		WithCritiqueThreshold(cfg.threshold),
		WithReflexionMemory(memory),
	}
	if cfg.maxIterations > 0 {
		supervisorOpts = append(supervisorOpts, WithMaxIterations(cfg.maxIterations))
	}
	if cfg.hooks != nil {
		supervisorOpts = append(supervisorOpts, WithSupervisorHooks(cfg.hooks))
	}
	supervisor := NewSupervisor(
		gateway,
		registry,
		NewPlanner(gateway, registry),
		executor,
		NewCritic(gateway),
		store,
		supervisorOpts...,
	)

	return &Orchestrator{
		registry:       registry,
		gateway:        gateway,
		store:          store,
		router:         NewRouter(gateway, registry),
		executor:       executor,
		supervisor:     supervisor,
		guard:          cfg.guard,
		logger:         cfg.logger,
		traceHandler:   cfg.traceHandler,
		hooks:          cfg.hooks,
		planComplexity: cfg.planComplexity,
	}, nil
}

// Store exposes the session store for subscription and rendering. Consumers
// read snapshots only; all mutation flows through the orchestrator.
func (o *Orchestrator) Store() *SessionStore {
	return o.store
}

// Registry exposes the agent registry.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Restore loads the persisted session, if a repository is configured.
func (o *Orchestrator) Restore(ctx context.Context) error {
	return o.store.Restore(o.runContext(ctx))
}

// SendMessageInput is one top-level user request.
type SendMessageInput struct {
	Prompt string

	// File is an attachment to the request. An image attachment forces the
	// vision agent regardless of routing.
	File *Attachment

	// RepoRef is an external repository reference given as extra context.
	RepoRef string

	// ForceKind bypasses routing with an explicit user-facing agent kind.
	// The image override still wins.
	ForceKind *AgentKind
}

// SendMessage runs one top-level request to completion. Progress is
// observable through the store subscription while the call runs; the
// returned error is the run's terminal error. The assistant message is
// always finalized, also on error.
func (o *Orchestrator) SendMessage(ctx context.Context, input SendMessageInput) error {
	ctx, cancel := context.WithCancel(o.runContext(ctx))
	o.setCancel(cancel)
	defer o.clearCancel(cancel)

	o.store.Append(NewUserMessage(input.Prompt, input.File, input.RepoRef))

	reply := NewAssistantMessage(KindChat)
	o.store.Append(reply)

	if o.traceHandler != nil {
		ctx = o.traceHandler.StartRun(ctx)
	}

	err := o.run(ctx, reply.ID, input)

	if o.traceHandler != nil {
		o.traceHandler.EndRun(ctx, err)
		if ferr := o.traceHandler.Finish(ctx); ferr != nil {
			o.logger.Warn("trace export failed", "error", ferr)
		}
	}
	if perr := o.store.Persist(ctx); perr != nil {
		o.logger.Warn("session persistence failed", "error", perr)
	}
	return err
}

func (o *Orchestrator) run(ctx context.Context, messageID string, input SendMessageInput) (err error) {
	// The owning message leaves loading state no matter how the run ends.
	defer func() {
		if err != nil && !errors.Is(err, ErrPromptBlocked) {
			_ = o.store.AppendTrace(messageID, fmt.Sprintf("run failed: %s", digest(err.Error(), 200)))
			_ = o.store.Finalize(messageID, "")
		}
	}()

	if err := o.guard.ScreenInput(ctx, input.Prompt); err != nil {
		if errors.Is(err, ErrPromptBlocked) {
			return o.refuse(messageID)
		}
		return err
	}

	extra, err := attachmentInputs(input.File, input.RepoRef)
	if err != nil {
		return err
	}

	kind, complexity, err := o.resolveKind(ctx, messageID, input)
	if err != nil {
		return err
	}
	if err := o.store.SetAgent(messageID, kind); err != nil {
		return err
	}

	state := NewRunState(messageID, input.Prompt, extra...)
	if complexity >= o.planComplexity {
		state.NextAgent = KindPlanner
		_ = o.store.AppendTrace(messageID, fmt.Sprintf("request enters planning (complexity %d)", complexity))
	} else {
		state.NextAgent = kind
	}

	if err := o.supervisor.Run(ctx, state); err != nil {
		// A stopped run still delivers whatever output it accumulated.
		if errors.Is(err, ErrRunAborted) {
			note := state.LastOutput
			if note == "" {
				note = "The run was stopped before producing a result."
			} else {
				note += "\n\n(The run was stopped before completing.)"
			}
			_ = o.store.Finalize(messageID, note)
		}
		return err
	}

	if err := o.guard.ScreenOutput(ctx, state.LastOutput); err != nil {
		if errors.Is(err, ErrPromptBlocked) {
			return o.refuse(messageID)
		}
		return err
	}

	if len(state.Sources) > 0 {
		if err := o.store.SetSources(messageID, state.Sources); err != nil {
			return err
		}
	}
	return o.store.Finalize(messageID, state.LastOutput)
}

// ExecutePlan runs a pre-built plan, honoring the listed steps as already
// completed. The plan is revalidated against the registry before anything
// runs; unknown completed ids are skipped.
func (o *Orchestrator) ExecutePlan(ctx context.Context, plan *Plan, completed []string) error {
	if plan == nil {
		return goerr.New("no plan to execute")
	}
	if err := plan.Validate(o.registry.Plannable()); err != nil {
		return err
	}
	plan.MarkCompleted(completed)

	ctx, cancel := context.WithCancel(o.runContext(ctx))
	o.setCancel(cancel)
	defer o.clearCancel(cancel)

	o.store.Append(NewUserMessage(plan.Goal(), nil, ""))
	reply := NewAssistantMessage(KindPlanner)
	o.store.Append(reply)

	if o.traceHandler != nil {
		ctx = o.traceHandler.StartRun(ctx)
	}

	state := NewRunState(reply.ID, plan.Goal())
	state.Plan = plan
	if err := o.store.AttachPlan(reply.ID, plan); err != nil {
		return err
	}

	err := o.supervisor.Run(ctx, state)
	if err != nil {
		_ = o.store.Finalize(reply.ID, state.LastOutput)
	} else {
		err = o.store.Finalize(reply.ID, state.LastOutput)
	}

	if o.traceHandler != nil {
		o.traceHandler.EndRun(ctx, err)
		if ferr := o.traceHandler.Finish(ctx); ferr != nil {
			o.logger.Warn("trace export failed", "error", ferr)
		}
	}
	if perr := o.store.Persist(ctx); perr != nil {
		o.logger.Warn("session persistence failed", "error", perr)
	}
	return err
}

// Stop cancels the running request cooperatively: the run halts at its next
// suspension point, remaining plan steps are marked abandoned, and the
// message is finalized with whatever output exists. A no-op when nothing is
// running.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
}

// resolveKind determines the executing agent: an image attachment forces
// vision above everything; an explicit forced kind bypasses routing; all
// other requests route. Only routed requests carry a complexity score, so
// overrides always run single-agent.
func (o *Orchestrator) resolveKind(ctx context.Context, messageID string, input SendMessageInput) (AgentKind, int, error) {
	if input.File.IsImage() {
		_ = o.store.AppendTrace(messageID, "image attachment forces the vision agent")
		return KindVision, 0, nil
	}

	if input.ForceKind != nil {
		kind := *input.ForceKind
		if _, err := o.registry.Get(kind); err != nil {
			return "", 0, err
		}
		if kind.IsMeta() || kind.IsInternal() {
			return "", 0, goerr.Wrap(ErrUnknownAgentKind, "forced kind is not user-facing", goerr.V("kind", kind))
		}
		_ = o.store.AppendTrace(messageID, fmt.Sprintf("agent forced to %s", kind))
		return kind, 0, nil
	}

	decision, err := o.router.Route(ctx, input.Prompt, o.store.Recent(routeHistoryWindow+2))
	if err != nil {
		return "", 0, err
	}
	if o.hooks != nil && o.hooks.RoutingDecided != nil {
		o.hooks.RoutingDecided(ctx, decision)
	}
	return decision.Agent, decision.Complexity, nil
}

func (o *Orchestrator) refuse(messageID string) error {
	return o.store.Finalize(messageID, RefusalMessage)
}

func (o *Orchestrator) runContext(ctx context.Context) context.Context {
	ctx = ctxWithLogger(ctx, o.logger)
	if o.traceHandler != nil {
		ctx = trace.WithHandler(ctx, o.traceHandler)
	}
	return ctx
}

func (o *Orchestrator) setCancel(cancel context.CancelFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancel = cancel
}

func (o *Orchestrator) clearCancel(cancel context.CancelFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancel = nil
	cancel()
}

// attachmentInputs converts the request's attachment and repo reference
// into model inputs appended to every agent prompt of the run.
func attachmentInputs(file *Attachment, repoRef string) ([]Input, error) {
	var inputs []Input
	if file != nil {
		switch {
		case file.IsImage():
			img, err := NewImage(file.Data)
			if err != nil {
				return nil, goerr.Wrap(err, "attached image rejected", goerr.V("name", file.Name))
			}
			inputs = append(inputs, img)
		case file.MIMEType == "application/pdf":
			pdf, err := NewPDF(file.Data)
			if err != nil {
				return nil, goerr.Wrap(err, "attached PDF rejected", goerr.V("name", file.Name))
			}
			inputs = append(inputs, pdf)
		default:
			inputs = append(inputs, Text(fmt.Sprintf("Attached file %q (%s):\n%s", file.Name, file.MIMEType, string(file.Data))))
		}
	}
	if repoRef != "" {
		inputs = append(inputs, Text(fmt.Sprintf("Referenced repository: %s", repoRef)))
	}
	return inputs, nil
}
