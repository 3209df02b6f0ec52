package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantdeck/assistant/internal/logging"
)

func TestDispatchRoutesByDiscriminant(t *testing.T) {
	d := NewDispatcher(logging.NewNop(), nil)

	var got []EventType
	record := func(ev Event) { got = append(got, ev.Type) }
	d.SetHandlers(Handlers{
		OnConnection:          record,
		OnHistory:             record,
		OnMessageCreated:      record,
		OnGenerationStarted:   record,
		OnToken:               record,
		OnThought:             record,
		OnGenerationCompleted: record,
		OnGenerationCancelled: record,
		OnGenerationError:     record,
		OnMessagesDeleted:     record,
		OnMessagesUpdated:     record,
		OnEditStarted:         record,
		OnRegenerationStarted: record,
		OnError:               record,
	})

	all := []EventType{
		EventConnection, EventHistory, EventMessageCreated,
		EventGenerationStarted, EventToken, EventThought,
		EventGenerationCompleted, EventGenerationCancelled,
		EventGenerationError, EventMessagesDeleted, EventMessagesUpdated,
		EventEditStarted, EventRegenerationStarted, EventError,
	}
	for _, typ := range all {
		d.DispatchEvent(Event{Type: typ})
	}

	assert.Equal(t, all, got, "each event routes to exactly one handler, in order")
}

func TestDispatchUnknownTypeIsDropped(t *testing.T) {
	d := NewDispatcher(logging.NewNop(), nil)

	called := false
	d.SetHandlers(Handlers{OnError: func(Event) { called = true }})

	d.Dispatch([]byte(`{"type":"hologram_started"}`))
	assert.False(t, called, "unknown discriminants must not reach any handler")
}

func TestDispatchUndecodableFrameIsDropped(t *testing.T) {
	d := NewDispatcher(logging.NewNop(), nil)
	d.SetHandlers(Handlers{})

	// Must not panic.
	d.Dispatch([]byte(`{not json`))
	d.Dispatch([]byte(`{"message":"no discriminant"}`))
}

func TestDispatchNilHandlerIsSafe(t *testing.T) {
	d := NewDispatcher(logging.NewNop(), nil)
	d.SetHandlers(Handlers{})

	d.DispatchEvent(Event{Type: EventToken, Token: "It"})
}

func TestParseEvent(t *testing.T) {
	raw := []byte(`{"type":"generation_completed","message_id":501,"message":"It is $150.00"}`)

	ev, err := ParseEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, EventGenerationCompleted, ev.Type)
	assert.Equal(t, int64(501), ev.MessageID)
	assert.Equal(t, "It is $150.00", ev.Message)
	assert.Equal(t, "501", ev.TargetID())
}

func TestParseEventMissingID(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"type":"token","token":" is"}`))
	require.NoError(t, err)
	assert.Equal(t, "", ev.TargetID(), "omitted id means fall back to the streaming target")
}

func TestParseHistorySnapshot(t *testing.T) {
	raw := []byte(`{
		"type": "history",
		"messages": [
			{"id": 500, "role": "user", "content": "AAPL price?", "status": "completed"},
			{"id": 501, "role": "assistant", "content": "It is $150.00", "status": "completed",
			 "thoughts": [{"key": "quote_tool", "title": "Fetched quote", "status": "success"}]}
		]
	}`)

	ev, err := ParseEvent(raw)
	require.NoError(t, err)
	require.Len(t, ev.Messages, 2)

	msg := ev.Messages[1].ToMessage()
	assert.Equal(t, "501", msg.ID)
	assert.Equal(t, RoleAssistant, msg.Role)
	require.Len(t, msg.Thoughts, 1)
	assert.Equal(t, ThoughtSuccess, msg.Thoughts[0].Status)
}

func TestWireMessageDefaultsStatus(t *testing.T) {
	msg := WireMessage{ID: 500, Role: RoleUser, Content: "hi"}.ToMessage()
	assert.Equal(t, StatusCompleted, msg.Status)
}
