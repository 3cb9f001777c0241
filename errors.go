package steward

import (
	"github.com/m-mizutani/goerr/v2"
)

var (
	// ErrInvalidTool is returned when a tool specification is malformed.
	ErrInvalidTool = goerr.New("invalid tool specification")

	// ErrInvalidParameter is returned when a tool parameter definition is malformed.
	ErrInvalidParameter = goerr.New("invalid parameter")

	// ErrToolNameConflict is returned when two tools share the same name.
	ErrToolNameConflict = goerr.New("tool name conflict")

	// ErrUnknownAgentKind is returned when a kind is not present in the registry.
	ErrUnknownAgentKind = goerr.New("unknown agent kind")

	// ErrInvalidRegistry is returned when a registry is constructed from
	// conflicting or incomplete agent definitions.
	ErrInvalidRegistry = goerr.New("invalid agent registry")

	// ErrPlanNotParsable is returned when a model response cannot be decoded
	// into a valid plan. The planning attempt fails visibly; it is never
	// replaced by an empty plan.
	ErrPlanNotParsable = goerr.New("plan response is not parsable")

	// ErrInvalidPlan is returned when a decoded plan violates structural
	// constraints (unknown dependency, disallowed agent kind, duplicate id).
	ErrInvalidPlan = goerr.New("invalid plan")

	// ErrDependencyCycle is returned when plan dependencies form a cycle, or
	// when execution stalls with pending steps that can never become runnable.
	ErrDependencyCycle = goerr.New("plan dependency cycle")

	// ErrStepStateTransition is returned on a forbidden step status change,
	// e.g. completing a step twice or dispatching a non-pending step.
	ErrStepStateTransition = goerr.New("invalid step state transition")

	// ErrSupervisorStalled is returned when the supervisor decision call does
	// not yield a valid next agent. The run halts instead of spinning.
	ErrSupervisorStalled = goerr.New("supervisor returned no valid next agent")

	// ErrLoopLimitExceeded is returned when the supervisor iteration cap is hit.
	ErrLoopLimitExceeded = goerr.New("supervisor loop limit exceeded")

	// ErrPromptBlocked is returned when the content guard refuses an input or
	// an output before it reaches the session.
	ErrPromptBlocked = goerr.New("prompt blocked by content guard")

	// ErrInvalidSnapshotVersion is returned when persisted state carries an
	// incompatible version. The snapshot is discarded, never migrated.
	ErrInvalidSnapshotVersion = goerr.New("invalid snapshot version")

	// ErrInvalidHistoryData is returned when conversation history cannot be
	// restored from its serialized form.
	ErrInvalidHistoryData = goerr.New("invalid history data")

	// ErrRunAborted is returned when a run is stopped cooperatively before
	// reaching a terminal state.
	ErrRunAborted = goerr.New("run aborted")
)

// ErrTagTokenExceeded marks errors caused by a prompt exceeding the model's
// context window. Backends attach it so callers can react without parsing
// provider-specific error bodies.
var ErrTagTokenExceeded = goerr.NewTag("token_exceeded")
