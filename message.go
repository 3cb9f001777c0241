package steward

import (
	"time"

	"github.com/google/uuid"
)

// Attachment is a file attached to a message.
type Attachment struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data,omitempty"`
}

// IsImage reports whether the attachment is an image by MIME type prefix.
func (a *Attachment) IsImage() bool {
	return a != nil && len(a.MIMEType) >= 6 && a.MIMEType[:6] == "image/"
}

// Message is the durable conversation artifact owned by the SessionStore.
// While an assistant message streams, Loading is true and Content grows
// monotonically; once finalized the message never changes again.
type Message struct {
	ID      string      `json:"id"`
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`

	// Attachment is a file the user attached to the request, if any.
	Attachment *Attachment `json:"attachment,omitempty"`

	// RepoRef is an external repository reference attached to the request.
	RepoRef string `json:"repo_ref,omitempty"`

	// Sources are citations extracted from generation metadata.
	Sources []GroundingSource `json:"sources,omitempty"`

	// FunctionCalls are tool calls the agent emitted while producing this message.
	FunctionCalls []ToolCallRecord `json:"function_calls,omitempty"`

	// Plan is the execution plan generated for this message, if any.
	Plan *Plan `json:"plan,omitempty"`

	// Critique is the quality assessment of this message's output, if any.
	Critique *CritiqueResult `json:"critique,omitempty"`

	// Trace is the human-readable execution history of the run that produced
	// this message, one line per supervisor transition.
	Trace []string `json:"trace,omitempty"`

	// Loading is true while the message is streaming. It is always cleared
	// when the run reaches a terminal state, also on error.
	Loading bool `json:"loading"`

	// Agent is the kind of the agent that produced this message.
	Agent AgentKind `json:"agent,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewUserMessage creates a finalized user message.
func NewUserMessage(content string, attachment *Attachment, repoRef string) *Message {
	return &Message{
		ID:         uuid.New().String(),
		Role:       RoleUser,
		Content:    content,
		Attachment: attachment,
		RepoRef:    repoRef,
		CreatedAt:  time.Now(),
	}
}

// NewAssistantMessage creates a loading assistant message bound to an agent kind.
func NewAssistantMessage(kind AgentKind) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Role:      RoleAssistant,
		Agent:     kind,
		Loading:   true,
		CreatedAt: time.Now(),
	}
}

// Clone returns a deep-enough copy for handing to subscribers: slices and
// nested structures are copied so receivers cannot mutate store state.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}

	clone := *m
	if m.Attachment != nil {
		att := *m.Attachment
		att.Data = append([]byte(nil), m.Attachment.Data...)
		clone.Attachment = &att
	}
	clone.Sources = append([]GroundingSource(nil), m.Sources...)
	clone.FunctionCalls = append([]ToolCallRecord(nil), m.FunctionCalls...)
	clone.Trace = append([]string(nil), m.Trace...)
	if m.Plan != nil {
		clone.Plan = m.Plan.Clone()
	}
	if m.Critique != nil {
		crit := *m.Critique
		clone.Critique = &crit
	}
	return &clone
}
