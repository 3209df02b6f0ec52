package id

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUserID(t *testing.T) {
	got := NewUserID()
	assert.True(t, strings.HasPrefix(got, "user_"))
	assert.True(t, IsLocal(got))
	assert.False(t, IsServer(got))
}

func TestNewAssistantID(t *testing.T) {
	got := NewAssistantID()
	assert.True(t, strings.HasPrefix(got, "asst_"))
	assert.True(t, IsLocal(got))
}

func TestLocalIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		got := NewAssistantID()
		require.False(t, seen[got], "duplicate id %s", got)
		seen[got] = true
	}
}

func TestIsLocal(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"user prefix", NewUserID(), true},
		{"assistant prefix", NewAssistantID(), true},
		{"server numeric", "501", false},
		{"empty", "", false},
		{"prefix without ulid", "user_notaulid", false},
		{"unknown prefix", "sess_01HZXW5T9GT2M4K8RJQZB3YVNE", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsLocal(tt.id))
		})
	}
}

func TestIsServer(t *testing.T) {
	assert.True(t, IsServer("501"))
	assert.True(t, IsServer("1"))
	assert.False(t, IsServer(""))
	assert.False(t, IsServer("abc"))
	assert.False(t, IsServer(NewUserID()))
}

func TestNumeric(t *testing.T) {
	n, err := Numeric("501")
	require.NoError(t, err)
	assert.Equal(t, int64(501), n)

	_, err = Numeric(NewUserID())
	assert.Error(t, err)
}

func TestTimestampEmbedded(t *testing.T) {
	before := time.Now().Add(-time.Second)
	got := NewUserID()
	after := time.Now().Add(time.Second)

	ts, err := Timestamp(got)
	require.NoError(t, err)
	assert.True(t, ts.After(before), "timestamp too old: %v", ts)
	assert.True(t, ts.Before(after), "timestamp in the future: %v", ts)
}

func TestTimestampRejectsServerID(t *testing.T) {
	_, err := Timestamp("501")
	assert.Error(t, err)
}
