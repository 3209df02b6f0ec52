package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantdeck/assistant/internal/logging"
)

func TestCreateSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/sessions", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "quantdeck-analyst", body["model"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"session_id":"41"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, logging.NewNop())
	sid, err := c.CreateSession(context.Background(), "quantdeck-analyst")
	require.NoError(t, err)
	assert.Equal(t, "41", sid)
}

func TestCreateSessionGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL, logging.NewNop())
	_, err := c.CreateSession(context.Background(), "quantdeck-analyst")
	assert.Error(t, err)
}

func TestDeleteSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "/api/sessions/41", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, logging.NewNop())
	require.NoError(t, c.DeleteSession(context.Background(), "41"))
}

func TestListSessions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/sessions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sessions":[
			{"id":"41","model":"quantdeck-analyst","title":"AAPL deep dive"},
			{"id":"42","model":"quantdeck-analyst","title":"MSFT earnings"}
		]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, logging.NewNop())
	sessions, err := c.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "AAPL deep dive", sessions[0].Title)
}

func TestUploadAttachment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/attachments", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "10k.txt", header.Filename)

		assert.Contains(t, r.FormValue("content_type"), "text/plain")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"url":"https://cdn.example.com/10k.txt","path":"uploads/10k.txt"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, logging.NewNop())
	att, err := c.UploadAttachment(context.Background(), "10k.txt", []byte("Annual report for fiscal 2025."))
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/10k.txt", att.URL)
	assert.Equal(t, "uploads/10k.txt", att.Path)
}

func TestTransientFailuresAreRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"session_id":"41"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, logging.NewNop())
	sid, err := c.CreateSession(context.Background(), "quantdeck-analyst")
	require.NoError(t, err)
	assert.Equal(t, "41", sid)
	assert.Equal(t, 2, calls)
}
