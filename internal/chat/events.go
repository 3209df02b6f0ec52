package chat

import (
	"fmt"
	"strconv"

	"github.com/bytedance/sonic"
)

// EventType discriminates inbound frames. The set is closed: the dispatcher
// switches over it exhaustively and logs anything else.
type EventType string

const (
	EventConnection          EventType = "connection"
	EventHistory             EventType = "history"
	EventMessageCreated      EventType = "message_created"
	EventGenerationStarted   EventType = "generation_started"
	EventToken               EventType = "token"
	EventThought             EventType = "thought"
	EventGenerationCompleted EventType = "generation_completed"
	EventGenerationCancelled EventType = "generation_cancelled"
	EventGenerationError     EventType = "generation_error"
	EventMessagesDeleted     EventType = "messages_deleted"
	EventMessagesUpdated     EventType = "messages_updated"
	EventEditStarted         EventType = "edit_started"
	EventRegenerationStarted EventType = "regeneration_started"
	EventError               EventType = "error"
)

// Event is the decoded inbound frame. Fields are populated per type:
//
//	connection            session_id
//	history               messages
//	message_created       user_message_id, assistant_message_id
//	generation_started    message_id
//	token                 message_id (may be 0), token
//	thought               message_id (may be 0), key, title, status
//	generation_completed  message_id, message
//	generation_cancelled  message_id
//	generation_error      message_id, message
//	messages_deleted      messages (full replacement snapshot)
//	messages_updated      messages (full replacement snapshot)
//	edit_started          message_id
//	regeneration_started  message_id
//	error                 message
type Event struct {
	Type               EventType     `json:"type"`
	SessionID          string        `json:"session_id,omitempty"`
	MessageID          int64         `json:"message_id,omitempty"`
	UserMessageID      int64         `json:"user_message_id,omitempty"`
	AssistantMessageID int64         `json:"assistant_message_id,omitempty"`
	Token              string        `json:"token,omitempty"`
	Key                string        `json:"key,omitempty"`
	Title              string        `json:"title,omitempty"`
	Status             ThoughtStatus `json:"status,omitempty"`
	Message            string        `json:"message,omitempty"`
	Messages           []WireMessage `json:"messages,omitempty"`
}

// WireMessage is a server-side message record as carried by history and
// snapshot events.
type WireMessage struct {
	ID       int64         `json:"id"`
	Role     Role          `json:"role"`
	Content  string        `json:"content"`
	Status   MessageStatus `json:"status"`
	Thoughts []Thought     `json:"thoughts,omitempty"`
}

// ToMessage converts a wire record to the in-memory form.
func (w WireMessage) ToMessage() *Message {
	status := w.Status
	if status == "" {
		status = StatusCompleted
	}
	msg := &Message{
		ID:      strconv.FormatInt(w.ID, 10),
		Role:    w.Role,
		Content: w.Content,
		Status:  status,
	}
	if len(w.Thoughts) > 0 {
		msg.Thoughts = make([]Thought, len(w.Thoughts))
		copy(msg.Thoughts, w.Thoughts)
	}
	return msg
}

// ParseEvent decodes one inbound frame.
func ParseEvent(raw []byte) (Event, error) {
	var ev Event
	if err := sonic.Unmarshal(raw, &ev); err != nil {
		return Event{}, fmt.Errorf("failed to decode frame: %w", err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("frame missing type discriminant")
	}
	return ev, nil
}

// TargetID returns the server id the event is addressed to as a string,
// or "" when the frame omits it (token and thought frames may, for
// efficiency; the reconciler falls back to the streaming target).
func (e Event) TargetID() string {
	if e.MessageID == 0 {
		return ""
	}
	return strconv.FormatInt(e.MessageID, 10)
}

// Outbound frames. Shapes match the gateway contract; the zero Type must
// always be filled by the constructor helpers below.

// MessageFrame submits user text for generation.
type MessageFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// CancelFrame requests cancellation of the in-flight generation.
type CancelFrame struct {
	Type string `json:"type"`
}

// HistoryFrame requests a history snapshot.
type HistoryFrame struct {
	Type  string `json:"type"`
	Limit int    `json:"limit"`
}

// RegenerateFrame requests regeneration, optionally of a specific message.
type RegenerateFrame struct {
	Type      string `json:"type"`
	MessageID *int64 `json:"message_id,omitempty"`
}

// EditFrame rewrites a confirmed message; the server answers with a
// replacement snapshot since edits can invalidate downstream messages.
type EditFrame struct {
	Type      string `json:"type"`
	MessageID int64  `json:"message_id"`
	Content   string `json:"content"`
}

// NewMessageFrame builds an outbound message frame.
func NewMessageFrame(text string) MessageFrame {
	return MessageFrame{Type: "message", Message: text}
}

// NewCancelFrame builds an outbound cancel frame.
func NewCancelFrame() CancelFrame {
	return CancelFrame{Type: "cancel"}
}

// NewHistoryFrame builds an outbound history request.
func NewHistoryFrame(limit int) HistoryFrame {
	return HistoryFrame{Type: "get_history", Limit: limit}
}

// NewRegenerateFrame builds an outbound regenerate frame. messageID of 0
// means "latest assistant message" and is omitted on the wire.
func NewRegenerateFrame(messageID int64) RegenerateFrame {
	f := RegenerateFrame{Type: "regenerate"}
	if messageID != 0 {
		f.MessageID = &messageID
	}
	return f
}

// NewEditFrame builds an outbound edit frame.
func NewEditFrame(messageID int64, content string) EditFrame {
	return EditFrame{Type: "edit_message", MessageID: messageID, Content: content}
}
