package steward

import (
	"bytes"
	"sort"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
)

// AgentKind identifies one of the fixed set of specialist roles. The set is
// closed: a registry refuses definitions for kinds outside this file.
type AgentKind string

const (
	// User-facing specialist kinds. The router may select any of these.
	KindChat        AgentKind = "chat"
	KindResearch    AgentKind = "research"
	KindCoder       AgentKind = "coder"
	KindVision      AgentKind = "vision"
	KindCreative    AgentKind = "creative"
	KindAnalyst     AgentKind = "analyst"
	KindMaintenance AgentKind = "maintenance"

	// Meta kinds drive the orchestration itself. They are never routed to
	// and never appear as plan step bindings.
	KindRouter     AgentKind = "router"
	KindPlanner    AgentKind = "planner"
	KindSupervisor AgentKind = "supervisor"
	KindCritic     AgentKind = "critic"
	KindRefine     AgentKind = "refine"

	// Internal kinds support other agents and are never selectable by the
	// router nor bindable to plan steps.
	KindReranker AgentKind = "reranker"
	KindVerifier AgentKind = "verifier"
	KindEmbedder AgentKind = "embedder"
)

// Finalize is the terminal sentinel the supervisor uses to end a run. It is
// not an agent kind: no registry accepts it and IsValid reports false.
const Finalize AgentKind = "FINALIZE"

var allKinds = []AgentKind{
	KindChat, KindResearch, KindCoder, KindVision, KindCreative,
	KindAnalyst, KindMaintenance,
	KindRouter, KindPlanner, KindSupervisor, KindCritic, KindRefine,
	KindReranker, KindVerifier, KindEmbedder,
}

// IsValid reports whether k is a member of the closed kind set.
func (k AgentKind) IsValid() bool {
	for _, kind := range allKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// IsInternal reports whether k is an internal support kind.
func (k AgentKind) IsInternal() bool {
	switch k {
	case KindReranker, KindVerifier, KindEmbedder:
		return true
	}
	return false
}

// IsMeta reports whether k drives orchestration rather than user work.
func (k AgentKind) IsMeta() bool {
	switch k {
	case KindRouter, KindPlanner, KindSupervisor, KindCritic, KindRefine:
		return true
	}
	return false
}

// String implements fmt.Stringer.
func (k AgentKind) String() string {
	return string(k)
}

// ParseAgentKind converts a string to an AgentKind, rejecting values outside
// the closed set.
func ParseAgentKind(s string) (AgentKind, error) {
	k := AgentKind(s)
	if !k.IsValid() {
		return "", goerr.Wrap(ErrUnknownAgentKind, "not a recognized agent kind", goerr.V("kind", s))
	}
	return k, nil
}

// GenConfig holds generation parameters for one agent.
type GenConfig struct {
	Temperature    *float64
	ThinkingBudget *int32
	ResponseType   ContentType
	ResponseSchema *Parameter
}

// AgentDefinition binds a kind to its model, generation configuration,
// declared tools, and system instruction template. Definitions are immutable
// after registry construction.
type AgentDefinition struct {
	Kind        AgentKind
	Description string
	Model       string
	GenConfig   GenConfig

	// Tools lists the names of tools this agent may call.
	Tools []string

	// Instruction is a text/template body rendered with run-scoped data
	// (goal, step context) into the session system prompt.
	Instruction string
}

// Registry is the closed mapping from agent kind to definition. It is
// immutable once constructed; every other component reads it.
type Registry struct {
	defs  map[AgentKind]*AgentDefinition
	kinds []AgentKind
	tmpl  map[AgentKind]*template.Template
}

// RegistryOption adjusts registry construction.
type RegistryOption func(*registryConfig)

type registryConfig struct {
	modelOverrides map[AgentKind]string
}

// WithModelOverride replaces the model identifier of one kind.
func WithModelOverride(kind AgentKind, model string) RegistryOption {
	return func(cfg *registryConfig) {
		cfg.modelOverrides[kind] = model
	}
}

// NewRegistry builds a registry from the given definitions. Unknown kinds,
// duplicate kinds, the Finalize sentinel, and unparsable instruction
// templates are rejected.
func NewRegistry(defs []AgentDefinition, options ...RegistryOption) (*Registry, error) {
	cfg := &registryConfig{modelOverrides: map[AgentKind]string{}}
	for _, opt := range options {
		opt(cfg)
	}

	r := &Registry{
		defs: make(map[AgentKind]*AgentDefinition, len(defs)),
		tmpl: make(map[AgentKind]*template.Template, len(defs)),
	}

	for i := range defs {
		def := defs[i]
		if !def.Kind.IsValid() {
			return nil, goerr.Wrap(ErrInvalidRegistry, "unknown agent kind", goerr.V("kind", def.Kind))
		}
		if _, ok := r.defs[def.Kind]; ok {
			return nil, goerr.Wrap(ErrInvalidRegistry, "duplicate agent kind", goerr.V("kind", def.Kind))
		}
		if model, ok := cfg.modelOverrides[def.Kind]; ok {
			def.Model = model
		}
		if def.Model == "" {
			return nil, goerr.Wrap(ErrInvalidRegistry, "model is required", goerr.V("kind", def.Kind))
		}

		tmpl, err := template.New(string(def.Kind)).Parse(def.Instruction)
		if err != nil {
			return nil, goerr.Wrap(ErrInvalidRegistry, "invalid instruction template", goerr.V("kind", def.Kind))
		}

		r.defs[def.Kind] = &def
		r.tmpl[def.Kind] = tmpl
		r.kinds = append(r.kinds, def.Kind)
	}

	sort.Slice(r.kinds, func(i, j int) bool { return r.kinds[i] < r.kinds[j] })

	return r, nil
}

// Get returns the definition for kind.
func (r *Registry) Get(kind AgentKind) (*AgentDefinition, error) {
	def, ok := r.defs[kind]
	if !ok {
		return nil, goerr.Wrap(ErrUnknownAgentKind, "agent kind not registered", goerr.V("kind", kind))
	}
	return def, nil
}

// Has reports whether kind is registered.
func (r *Registry) Has(kind AgentKind) bool {
	_, ok := r.defs[kind]
	return ok
}

// Kinds returns all registered kinds in stable order.
func (r *Registry) Kinds() []AgentKind {
	return append([]AgentKind(nil), r.kinds...)
}

// UserFacing returns the registered kinds the router may select: neither
// internal support kinds nor orchestration meta kinds.
func (r *Registry) UserFacing() []AgentKind {
	var kinds []AgentKind
	for _, k := range r.kinds {
		if !k.IsInternal() && !k.IsMeta() {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Plannable returns the kinds a plan step may bind to. Identical to
// UserFacing today; kept separate because the two contracts evolve
// independently.
func (r *Registry) Plannable() []AgentKind {
	return r.UserFacing()
}

// Instruction renders the instruction template of kind with the given data.
func (r *Registry) Instruction(kind AgentKind, data any) (string, error) {
	tmpl, ok := r.tmpl[kind]
	if !ok {
		return "", goerr.Wrap(ErrUnknownAgentKind, "agent kind not registered", goerr.V("kind", kind))
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", goerr.Wrap(err, "failed to render instruction", goerr.V("kind", kind))
	}
	return buf.String(), nil
}

func ptrFloat(v float64) *float64 { return &v }

func ptrInt32(v int32) *int32 { return &v }

// DefaultRegistry returns the built-in agent registry covering every kind.
func DefaultRegistry(options ...RegistryOption) (*Registry, error) {
	return NewRegistry(defaultDefinitions(), options...)
}

func defaultDefinitions() []AgentDefinition {
	return []AgentDefinition{
		{
			Kind:        KindChat,
			Description: "General conversation, synthesis and summarization of prior results",
			Model:       "gemini-2.5-flash",
			GenConfig:   GenConfig{Temperature: ptrFloat(0.7)},
			Instruction: chatInstruction,
		},
		{
			Kind:        KindResearch,
			Description: "Web-grounded research with cited sources",
			Model:       "gemini-2.5-flash",
			GenConfig:   GenConfig{Temperature: ptrFloat(0.3)},
			Tools:       []string{ToolNameArchiveSearch},
			Instruction: researchInstruction,
		},
		{
			Kind:        KindCoder,
			Description: "Writing and executing code, debugging runtime errors",
			Model:       "gemini-2.5-pro",
			GenConfig:   GenConfig{Temperature: ptrFloat(0.2)},
			Tools:       []string{ToolNameRunCode, ToolNameArchiveSearch},
			Instruction: coderInstruction,
		},
		{
			Kind:        KindVision,
			Description: "Understanding and describing attached images",
			Model:       "gemini-2.5-pro",
			GenConfig:   GenConfig{Temperature: ptrFloat(0.4)},
			Instruction: visionInstruction,
		},
		{
			Kind:        KindCreative,
			Description: "Creative writing, brainstorming, drafting",
			Model:       "gemini-2.5-flash",
			GenConfig:   GenConfig{Temperature: ptrFloat(1.0)},
			Instruction: creativeInstruction,
		},
		{
			Kind:        KindAnalyst,
			Description: "Data analysis, tables, computation over provided data",
			Model:       "gemini-2.5-pro",
			GenConfig:   GenConfig{Temperature: ptrFloat(0.2)},
			Tools:       []string{ToolNameRunCode, ToolNameArchiveSearch},
			Instruction: analystInstruction,
		},
		{
			Kind:        KindMaintenance,
			Description: "Managing the local document archive",
			Model:       "gemini-2.5-flash",
			GenConfig:   GenConfig{Temperature: ptrFloat(0.0)},
			Tools:       []string{ToolNameArchiveSearch, ToolNameArchiveIngest, ToolNameArchiveStatus, ToolNameArchiveForget},
			Instruction: maintenanceInstruction,
		},
		{
			Kind:        KindRouter,
			Model:       "gemini-2.5-flash",
			GenConfig:   GenConfig{Temperature: ptrFloat(0.0), ResponseType: ContentTypeJSON},
			Instruction: routerInstruction,
		},
		{
			Kind:        KindPlanner,
			Model:       "gemini-2.5-pro",
			GenConfig:   GenConfig{Temperature: ptrFloat(0.2), ThinkingBudget: ptrInt32(1024), ResponseType: ContentTypeJSON},
			Instruction: plannerInstruction,
		},
		{
			Kind:        KindSupervisor,
			Model:       "gemini-2.5-flash",
			GenConfig:   GenConfig{Temperature: ptrFloat(0.0), ResponseType: ContentTypeJSON},
			Instruction: supervisorInstruction,
		},
		{
			Kind:        KindCritic,
			Model:       "gemini-2.5-flash",
			GenConfig:   GenConfig{Temperature: ptrFloat(0.0), ResponseType: ContentTypeJSON},
			Instruction: criticInstruction,
		},
		{
			Kind:        KindRefine,
			Model:       "gemini-2.5-flash",
			GenConfig:   GenConfig{Temperature: ptrFloat(0.4)},
			Instruction: refineInstruction,
		},
		{
			Kind:        KindReranker,
			Model:       "gemini-2.5-flash",
			GenConfig:   GenConfig{Temperature: ptrFloat(0.0), ResponseType: ContentTypeJSON},
			Instruction: rerankerInstruction,
		},
		{
			Kind:        KindVerifier,
			Model:       "gemini-2.5-flash",
			GenConfig:   GenConfig{Temperature: ptrFloat(0.0), ResponseType: ContentTypeJSON},
			Instruction: verifierInstruction,
		},
		{
			Kind:        KindEmbedder,
			Model:       "text-embedding-004",
			Instruction: "",
		},
	}
}
