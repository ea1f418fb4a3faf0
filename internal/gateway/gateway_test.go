package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSendPostsMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/messages", r.URL.Path)
		require.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		var msg Outbound
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		require.Equal(t, "+15551234567", msg.To)
		require.Equal(t, "Hello", msg.Body)
		_, _ = w.Write([]byte(`{"id":"gw-1"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "k", time.Second)
	r, err := c.Send(context.Background(), Outbound{To: "+15551234567", Body: "Hello"})
	require.NoError(t, err)
	require.Equal(t, "gw-1", r.ID)
	require.False(t, r.SentAt.IsZero())
}

func TestSendRejectsEmptyID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "", time.Second).Send(context.Background(), Outbound{To: "+1"})
	require.Error(t, err)
}

func TestMarkSkipsEmpty(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.Equal(t, "/messages/unread", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, "", time.Second)
	require.NoError(t, c.MarkRead(context.Background(), nil))
	require.NoError(t, c.MarkUnread(context.Background(), []string{"a"}))
	require.Equal(t, 1, calls)
}

func TestMarkSurfacesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := New(srv.URL, "", time.Second).MarkRead(context.Background(), []string{"a"})
	require.ErrorContains(t, err, "502")
}
