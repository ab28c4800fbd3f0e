package agent

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPNotifier_PostsEvent(t *testing.T) {
	var payload map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &payload))
	}))
	defer server.Close()

	n := NewHTTPNotifier(server.URL, "agent-1")
	require.NoError(t, n.Notify(context.Background(), "startup"))

	assert.Equal(t, "startup", payload["event"])
	assert.Equal(t, "agent-1", payload["agent_id"])
	assert.NotEmpty(t, payload["at"])
}

func TestHTTPNotifier_Non2xxIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	n := NewHTTPNotifier(server.URL, "agent-1")
	err := n.Notify(context.Background(), "shutdown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notification rejected")
}

func TestHTTPNotifier_UnreachableEndpoint(t *testing.T) {
	n := NewHTTPNotifier("http://127.0.0.1:1/notify", "agent-1")
	assert.Error(t, n.Notify(context.Background(), "startup"))
}
