// Package steward is a supervisor/graph orchestration engine for multi-agent
// LLM workflows: routing, plan decomposition, dependency-gated parallel step
// execution, critique/reflexion retry, and observable session state.
package steward

import (
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"
)

// HistoryVersion is the serialized format version of History. A mismatch on
// restore is rejected, not migrated.
const HistoryVersion = 1

// MessageRole represents the role of a turn in a conversation.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// Turn is one conversation turn in a provider-neutral form. Backends rebuild
// their native message shapes from turns when a session resumes.
type Turn struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content,omitempty"`

	// ToolCalls holds function calls the assistant emitted in this turn.
	ToolCalls []ToolCallRecord `json:"tool_calls,omitempty"`

	// ToolResult holds the response to a prior tool call when Role is RoleTool.
	ToolResult *ToolResultRecord `json:"tool_result,omitempty"`
}

// ToolCallRecord is a serializable record of a function call.
type ToolCallRecord struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolResultRecord is a serializable record of a function response.
type ToolResultRecord struct {
	CallID  string         `json:"call_id"`
	Name    string         `json:"name,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	IsError bool           `json:"is_error,omitempty"`
}

// History represents a conversation history that can be moved between LLM
// sessions and backends.
type History struct {
	Version int    `json:"version"`
	Turns   []Turn `json:"turns"`
}

// NewHistory creates an empty History at the current format version.
func NewHistory() *History {
	return &History{Version: HistoryVersion}
}

// UnmarshalJSON implements json.Unmarshaler with version validation.
// Returns ErrInvalidHistoryData if the serialized version does not match
// HistoryVersion.
func (x *History) UnmarshalJSON(data []byte) error {
	type historyAlias History
	var h historyAlias
	if err := json.Unmarshal(data, &h); err != nil {
		return err
	}

	if h.Version != HistoryVersion {
		return goerr.Wrap(ErrInvalidHistoryData, "unsupported history version",
			goerr.Value("got", h.Version),
			goerr.Value("want", HistoryVersion),
		)
	}

	*x = History(h)
	return nil
}

func (x *History) ToCount() int {
	if x == nil {
		return 0
	}
	return len(x.Turns)
}

// Add appends a turn and returns the history for chaining.
func (x *History) Add(turn Turn) *History {
	x.Turns = append(x.Turns, turn)
	return x
}

// Recent returns the last n turns (all turns when fewer exist).
func (x *History) Recent(n int) []Turn {
	if x == nil || n <= 0 {
		return nil
	}
	if len(x.Turns) <= n {
		return x.Turns
	}
	return x.Turns[len(x.Turns)-n:]
}

func (x *History) Clone() *History {
	if x == nil {
		return nil
	}

	// Use JSON marshal/unmarshal for deep copy to avoid field-specific code
	data, err := json.Marshal(x)
	if err != nil {
		return &History{Version: x.Version}
	}

	var clone History
	if err := json.Unmarshal(data, &clone); err != nil {
		return &History{Version: x.Version}
	}

	return &clone
}
