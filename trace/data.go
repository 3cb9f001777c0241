package trace

// LLMCallData holds data specific to an llm_call span.
type LLMCallData struct {
	Agent        string `json:"agent,omitempty"`
	Model        string `json:"model,omitempty"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// ToolExecData holds data specific to a tool_exec span.
type ToolExecData struct {
	ToolName string         `json:"tool_name"`
	Args     map[string]any `json:"args"`
	Result   map[string]any `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// EventData holds data specific to an event span. Kind is a string defined
// by the emitter; Data is any JSON-serializable value.
type EventData struct {
	Kind string `json:"kind"`
	Data any    `json:"data"`
}
