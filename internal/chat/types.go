package chat

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageStatus tracks a message through its lifecycle.
// Assistant messages move pending -> streaming -> terminal; user messages
// are completed at creation.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusStreaming MessageStatus = "streaming"
	StatusCompleted MessageStatus = "completed"
	StatusCancelled MessageStatus = "cancelled"
	StatusError     MessageStatus = "error"
)

// Terminal reports whether the status is final for this message.
func (s MessageStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusError
}

// ThoughtStatus tracks one intermediate reasoning or tool-use step.
type ThoughtStatus string

const (
	ThoughtPending   ThoughtStatus = "pending"
	ThoughtLoading   ThoughtStatus = "loading"
	ThoughtStreaming ThoughtStatus = "streaming"
	ThoughtSuccess   ThoughtStatus = "success"
	ThoughtError     ThoughtStatus = "error"
)

// settled reports whether the status is final for a thought key.
func (s ThoughtStatus) settled() bool {
	return s == ThoughtSuccess || s == ThoughtError
}

// Thought is an intermediate step surfaced during generation, keyed by
// tool or step identifier. A key may be updated multiple times as its
// step progresses; entries keep insertion order.
type Thought struct {
	Key    string        `json:"key"`
	Title  string        `json:"title"`
	Status ThoughtStatus `json:"status"`
}

// Message is one entry in a conversation. ID starts as a client-generated
// local identifier and is replaced in place once the backend assigns the
// authoritative one.
type Message struct {
	ID       string        `json:"id"`
	Role     Role          `json:"role"`
	Content  string        `json:"content"`
	Status   MessageStatus `json:"status"`
	Thoughts []Thought     `json:"thoughts,omitempty"`
}

// UpsertThought updates the thought with the given key in place, or appends
// a new one. Settled thoughts never regress to a loading state; late events
// for a settled key are ignored unless they are themselves settled.
func (m *Message) UpsertThought(key, title string, status ThoughtStatus) {
	for i := range m.Thoughts {
		if m.Thoughts[i].Key != key {
			continue
		}
		if m.Thoughts[i].Status.settled() && !status.settled() {
			return
		}
		m.Thoughts[i].Title = title
		m.Thoughts[i].Status = status
		return
	}
	m.Thoughts = append(m.Thoughts, Thought{Key: key, Title: title, Status: status})
}

// Clone returns a deep copy safe to hand outside the reconciler.
func (m *Message) Clone() Message {
	out := *m
	if len(m.Thoughts) > 0 {
		out.Thoughts = make([]Thought, len(m.Thoughts))
		copy(out.Thoughts, m.Thoughts)
	}
	return out
}

// ConnState describes the transport channel state.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

// String returns the string representation of the state.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// UpdateOrigin tags a state snapshot with what caused it, so UI layers can
// distinguish optimistic local edits from server-confirmed ones without a
// suppression flag.
type UpdateOrigin int

const (
	OriginUser UpdateOrigin = iota
	OriginServer
)

// Snapshot is an immutable copy of session state handed to observers.
type Snapshot struct {
	SessionID string
	State     ConnState
	Messages  []Message
}

// Notification is a transient, user-visible event that is not part of the
// message list (protocol errors, edit/regenerate progress markers).
type Notification struct {
	Level string // "info" or "error"
	Text  string
}
