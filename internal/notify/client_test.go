package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolattend/internal/queue"
)

func TestSendPostsEvent(t *testing.T) {
	var got queue.Message
	var key string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/events", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		key = r.Header.Get("Idempotency-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	msg, err := queue.NewMessage(queue.TypeSessionCompleted, queue.SessionCompleted{SessionID: "sess-1"})
	require.NoError(t, err)
	require.NoError(t, New(srv.URL, false).Send(context.Background(), msg))
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, msg.ID, key)
	assert.Equal(t, queue.TypeSessionCompleted, got.Type)
}

func TestSendReportsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := New(srv.URL, false).Send(context.Background(), queue.Message{ID: "1", Type: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Error(t, New(srv.URL, false).Health(context.Background()))
}

func TestSkipMode(t *testing.T) {
	c := New("http://127.0.0.1:1", true)
	assert.NoError(t, c.Send(context.Background(), queue.Message{ID: "1", Type: "x"}))
	assert.NoError(t, c.Health(context.Background()))
}
