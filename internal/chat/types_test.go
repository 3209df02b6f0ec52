package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertThoughtKeyUniqueness(t *testing.T) {
	m := &Message{Role: RoleAssistant}

	m.UpsertThought("search_tool", "Searching filings...", ThoughtLoading)
	m.UpsertThought("search_tool", "Found 12 filings", ThoughtSuccess)

	require.Len(t, m.Thoughts, 1)
	assert.Equal(t, ThoughtSuccess, m.Thoughts[0].Status)
	assert.Equal(t, "Found 12 filings", m.Thoughts[0].Title)
}

func TestUpsertThoughtNeverRegresses(t *testing.T) {
	m := &Message{Role: RoleAssistant}

	m.UpsertThought("quote_tool", "Fetched quote", ThoughtSuccess)
	m.UpsertThought("quote_tool", "Fetching quote...", ThoughtLoading)

	require.Len(t, m.Thoughts, 1)
	assert.Equal(t, ThoughtSuccess, m.Thoughts[0].Status)
	assert.Equal(t, "Fetched quote", m.Thoughts[0].Title)
}

func TestUpsertThoughtSettledToSettled(t *testing.T) {
	m := &Message{Role: RoleAssistant}

	m.UpsertThought("quote_tool", "Fetched quote", ThoughtSuccess)
	m.UpsertThought("quote_tool", "Quote source unavailable", ThoughtError)

	require.Len(t, m.Thoughts, 1)
	assert.Equal(t, ThoughtError, m.Thoughts[0].Status)
}

func TestUpsertThoughtKeepsInsertionOrder(t *testing.T) {
	m := &Message{Role: RoleAssistant}

	m.UpsertThought("a", "first", ThoughtLoading)
	m.UpsertThought("b", "second", ThoughtLoading)
	m.UpsertThought("a", "first done", ThoughtSuccess)

	require.Len(t, m.Thoughts, 2)
	assert.Equal(t, "a", m.Thoughts[0].Key)
	assert.Equal(t, "b", m.Thoughts[1].Key)
}

func TestMessageStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusStreaming.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.True(t, StatusError.Terminal())
}

func TestMessageCloneIsDeep(t *testing.T) {
	m := &Message{
		ID:       "501",
		Role:     RoleAssistant,
		Thoughts: []Thought{{Key: "a", Title: "first", Status: ThoughtLoading}},
	}

	clone := m.Clone()
	clone.Thoughts[0].Status = ThoughtSuccess

	assert.Equal(t, ThoughtLoading, m.Thoughts[0].Status)
}

func TestConnStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
}
