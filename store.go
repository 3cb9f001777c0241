package steward

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/steward/storage"
)

// SnapshotVersion is the serialization version of persisted sessions. A
// loaded snapshot with any other version is discarded, never migrated.
const SnapshotVersion = 1

// SubscriberFunc receives a snapshot copy of a message every time it is
// created or updated. Subscribers run synchronously under the store lock, in
// registration order; they must be fast and must not call back into the
// store.
type SubscriberFunc func(msg Message)

// SessionStore is the single-writer message log of one session. The
// orchestration core is the only mutator; the rendering layer reads
// snapshots through Messages, Recent, and Subscribe. A message, once
// finalized, never changes again.
type SessionStore struct {
	mu          sync.RWMutex
	sessionID   string
	messages    []*Message
	subscribers []SubscriberFunc
	repo        storage.Repository
}

// StoreOption configures a SessionStore.
type StoreOption func(*SessionStore)

// WithStoreRepository sets the repository used by Persist and Restore.
func WithStoreRepository(repo storage.Repository) StoreOption {
	return func(s *SessionStore) {
		s.repo = repo
	}
}

// WithStoreSessionID pins the session id instead of generating one.
func WithStoreSessionID(id string) StoreOption {
	return func(s *SessionStore) {
		if id != "" {
			s.sessionID = id
		}
	}
}

// NewSessionStore creates an empty session store.
func NewSessionStore(options ...StoreOption) *SessionStore {
	s := &SessionStore{
		sessionID: uuid.Must(uuid.NewV7()).String(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// SessionID returns the id this session persists under.
func (s *SessionStore) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// Subscribe registers a subscriber for message snapshots. Subscribers stay
// registered for the store's lifetime.
func (s *SessionStore) Subscribe(fn SubscriberFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Append adds a message to the log and notifies subscribers.
func (s *SessionStore) Append(msg *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages, msg)
	s.notifyLocked(msg)
}

// Get returns a snapshot copy of one message.
func (s *SessionStore) Get(id string) (*Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg := s.findLocked(id)
	if msg == nil {
		return nil, false
	}
	return msg.Clone(), true
}

// Messages returns snapshot copies of the whole log in append order.
func (s *SessionStore) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, 0, len(s.messages))
	for _, msg := range s.messages {
		out = append(out, *msg.Clone())
	}
	return out
}

// Recent returns snapshot copies of the last n messages in append order.
func (s *SessionStore) Recent(n int) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := len(s.messages) - n
	if start < 0 {
		start = 0
	}

	out := make([]Message, 0, len(s.messages)-start)
	for _, msg := range s.messages[start:] {
		out = append(out, *msg.Clone())
	}
	return out
}

// Len returns the number of messages in the log.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// UpdateContent overwrites a streaming message's content with a newer,
// longer snapshot. Shorter payloads are dropped as stale so consumers only
// ever observe monotonically growing text.
func (s *SessionStore) UpdateContent(id string, content string) error {
	return s.update(id, func(msg *Message) bool {
		if len(content) < len(msg.Content) {
			return false
		}
		msg.Content = content
		return true
	})
}

// AppendTrace adds one human-readable line to the message's execution trace.
func (s *SessionStore) AppendTrace(id string, line string) error {
	return s.update(id, func(msg *Message) bool {
		msg.Trace = append(msg.Trace, line)
		return true
	})
}

// AttachPlan binds the execution plan to its owning message. The stored
// value is a clone taken at call time; callers republish after plan
// mutations to propagate progress.
func (s *SessionStore) AttachPlan(id string, plan *Plan) error {
	return s.update(id, func(msg *Message) bool {
		msg.Plan = plan.Clone()
		return true
	})
}

// AttachCritique binds a quality judgment to its owning message.
func (s *SessionStore) AttachCritique(id string, critique *CritiqueResult) error {
	return s.update(id, func(msg *Message) bool {
		msg.Critique = critique
		return true
	})
}

// SetSources records the citations extracted from generation metadata.
func (s *SessionStore) SetSources(id string, sources []GroundingSource) error {
	return s.update(id, func(msg *Message) bool {
		msg.Sources = sources
		return true
	})
}

// SetToolCalls records the tool calls the agent made for this message.
func (s *SessionStore) SetToolCalls(id string, calls []ToolCallRecord) error {
	return s.update(id, func(msg *Message) bool {
		msg.FunctionCalls = calls
		return true
	})
}

// SetAgent records which agent kind the run resolved to.
func (s *SessionStore) SetAgent(id string, kind AgentKind) error {
	return s.update(id, func(msg *Message) bool {
		msg.Agent = kind
		return true
	})
}

// Finalize commits the message's final content and clears its loading flag.
// An empty content keeps whatever streaming left behind. Finalizing an
// already final message is a no-op.
func (s *SessionStore) Finalize(id string, content string) error {
	return s.update(id, func(msg *Message) bool {
		if !msg.Loading && content == "" {
			return false
		}
		if content != "" {
			msg.Content = content
		}
		msg.Loading = false
		return true
	})
}

func (s *SessionStore) update(id string, fn func(msg *Message) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.findLocked(id)
	if msg == nil {
		return goerr.New("message not found", goerr.V("message_id", id))
	}

	if fn(msg) {
		s.notifyLocked(msg)
	}
	return nil
}

func (s *SessionStore) findLocked(id string) *Message {
	for _, msg := range s.messages {
		if msg.ID == id {
			return msg
		}
	}
	return nil
}

func (s *SessionStore) notifyLocked(msg *Message) {
	if len(s.subscribers) == 0 {
		return
	}
	snapshot := *msg.Clone()
	for _, fn := range s.subscribers {
		fn(snapshot)
	}
}

type sessionSnapshot struct {
	Version   int        `json:"version"`
	SessionID string     `json:"session_id"`
	SavedAt   time.Time  `json:"saved_at"`
	Messages  []*Message `json:"messages"`
}

// Persist writes the session to the configured repository. A store without
// a repository persists nothing and returns nil.
func (s *SessionStore) Persist(ctx context.Context) error {
	s.mu.RLock()
	repo := s.repo
	if repo == nil {
		s.mu.RUnlock()
		return nil
	}
	snapshot := sessionSnapshot{
		Version:   SnapshotVersion,
		SessionID: s.sessionID,
		SavedAt:   time.Now(),
		Messages:  s.messages,
	}
	data, err := json.Marshal(snapshot)
	s.mu.RUnlock()
	if err != nil {
		return goerr.Wrap(err, "failed to encode session snapshot")
	}

	if err := repo.Save(ctx, s.SessionID(), data); err != nil {
		return goerr.Wrap(err, "failed to save session snapshot", goerr.V("session_id", s.SessionID()))
	}
	return nil
}

// Restore loads the session from the configured repository. A missing
// snapshot leaves the store empty and returns nil. A snapshot with a
// mismatched version is discarded: the store stays empty and
// ErrInvalidSnapshotVersion is returned so callers can report the loss.
// Messages still marked loading from an interrupted run are finalized.
func (s *SessionStore) Restore(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.repo == nil {
		return nil
	}

	data, err := s.repo.Load(ctx, s.sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrSnapshotNotFound) {
			return nil
		}
		return goerr.Wrap(err, "failed to load session snapshot", goerr.V("session_id", s.sessionID))
	}

	var snapshot sessionSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return goerr.Wrap(err, "failed to decode session snapshot", goerr.V("session_id", s.sessionID))
	}
	if snapshot.Version != SnapshotVersion {
		return goerr.Wrap(ErrInvalidSnapshotVersion, "session snapshot discarded",
			goerr.V("got", snapshot.Version),
			goerr.V("want", SnapshotVersion),
		)
	}

	for _, msg := range snapshot.Messages {
		msg.Loading = false
	}
	s.messages = snapshot.Messages
	return nil
}
