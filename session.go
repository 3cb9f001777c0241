package steward

// ContentType is the type of content the session asks the model to produce.
type ContentType string

const (
	// ContentTypeText is plain text output.
	ContentTypeText ContentType = "text"

	// ContentTypeJSON restricts output to a single JSON document.
	ContentTypeJSON ContentType = "application/json"
)

// SessionConfig holds the per-session configuration shared by all LLM
// backends. Backends read it through the accessor methods and translate the
// settings into their native request shapes.
type SessionConfig struct {
	history        *History
	systemPrompt   string
	contentType    ContentType
	tools          []Tool
	responseSchema *Parameter
	model          string
	temperature    *float64
	thinkingBudget *int32
}

// SessionOption is a functional option for NewSessionConfig.
type SessionOption func(*SessionConfig)

// NewSessionConfig creates a new SessionConfig with the given options.
func NewSessionConfig(options ...SessionOption) *SessionConfig {
	cfg := &SessionConfig{
		contentType: ContentTypeText,
	}
	for _, opt := range options {
		opt(cfg)
	}
	return cfg
}

// WithSessionHistory sets the conversation history to resume from.
func WithSessionHistory(history *History) SessionOption {
	return func(cfg *SessionConfig) {
		cfg.history = history
	}
}

// WithSessionSystemPrompt sets the system prompt of the session.
func WithSessionSystemPrompt(prompt string) SessionOption {
	return func(cfg *SessionConfig) {
		cfg.systemPrompt = prompt
	}
}

// WithSessionContentType sets the output content type of the session.
func WithSessionContentType(contentType ContentType) SessionOption {
	return func(cfg *SessionConfig) {
		cfg.contentType = contentType
	}
}

// WithSessionTools sets the tools callable from the session.
func WithSessionTools(tools ...Tool) SessionOption {
	return func(cfg *SessionConfig) {
		cfg.tools = append(cfg.tools, tools...)
	}
}

// WithSessionResponseSchema sets a schema the JSON output must conform to.
// It implies ContentTypeJSON on backends that support native JSON mode.
func WithSessionResponseSchema(schema *Parameter) SessionOption {
	return func(cfg *SessionConfig) {
		cfg.responseSchema = schema
		cfg.contentType = ContentTypeJSON
	}
}

// WithSessionModel overrides the backend's default model for this session.
func WithSessionModel(model string) SessionOption {
	return func(cfg *SessionConfig) {
		cfg.model = model
	}
}

// WithSessionTemperature sets the sampling temperature for this session.
func WithSessionTemperature(temperature float64) SessionOption {
	return func(cfg *SessionConfig) {
		cfg.temperature = &temperature
	}
}

// WithSessionThinkingBudget sets the model's thinking token budget for this
// session, on backends that support it.
func WithSessionThinkingBudget(budget int32) SessionOption {
	return func(cfg *SessionConfig) {
		cfg.thinkingBudget = &budget
	}
}

func (c *SessionConfig) History() *History { return c.history }

func (c *SessionConfig) SystemPrompt() string { return c.systemPrompt }

func (c *SessionConfig) ContentType() ContentType { return c.contentType }

func (c *SessionConfig) Tools() []Tool { return c.tools }

func (c *SessionConfig) ResponseSchema() *Parameter { return c.responseSchema }

func (c *SessionConfig) Model() string { return c.model }

func (c *SessionConfig) Temperature() *float64 { return c.temperature }

func (c *SessionConfig) ThinkingBudget() *int32 { return c.thinkingBudget }
