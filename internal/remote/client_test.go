package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/matheus3301/smsdesk/internal/model"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 5*time.Second)
}

func TestListConversationsQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/conversations", r.URL.Path)
		require.Equal(t, "25", r.URL.Query().Get("offset"))
		require.Equal(t, "25", r.URL.Query().Get("page_size"))
		require.Equal(t, "555", r.URL.Query().Get("search"))
		_ = json.NewEncoder(w).Encode(ListConversationsResponse{
			Conversations: []model.Conversation{{Phone: "+15551234567", MessageCount: 3}},
			TotalCount:    60,
		})
	})

	resp, err := c.ListConversations(context.Background(), ListConversationsRequest{Offset: 25, PageSize: 25, Search: "555"})
	require.NoError(t, err)
	require.Equal(t, 60, resp.TotalCount)
	require.Len(t, resp.Conversations, 1)
	require.Equal(t, 3, resp.Conversations[0].MessageCount)
}

func TestListMessagesEscapesPhone(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/conversations/+15551234567/messages", r.URL.Path)
		_ = json.NewEncoder(w).Encode(ListMessagesResponse{
			Messages: []model.Message{{ID: "m1", Body: "hi"}},
			HasMore:  true,
		})
	})

	resp, err := c.ListMessages(context.Background(), ListMessagesRequest{Conversation: "+15551234567", PageSize: 30})
	require.NoError(t, err)
	require.True(t, resp.HasMore)
	require.Equal(t, "m1", resp.Messages[0].ID)
}

func TestSendEncodesAttachments(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var req SendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "Hello", req.Text)
		require.Len(t, req.Attachments, 1)
		require.Equal(t, []byte("png-bytes"), req.Attachments[0].Data)
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(SendResponse{ClientMsgID: "c1"})
	})

	resp, err := c.Send(context.Background(), SendRequest{
		Conversation: "+15551234567",
		Text:         "Hello",
		Attachments:  []OutgoingAttachment{{Filename: "a.png", ContentType: "image/png", Data: []byte("png-bytes")}},
	})
	require.NoError(t, err)
	require.Equal(t, "c1", resp.ClientMsgID)
}

func TestErrorBodyMapsToStatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"conversation not found"}`))
	})

	err := c.DeleteConversation(context.Background(), "+15550000000")
	require.Error(t, err)
	require.True(t, IsNotFound(err))

	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "conversation not found", se.Message)
}

func TestMarkAndDeleteRoutes(t *testing.T) {
	var paths []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		if r.URL.Path == "/api/v1/conversations/+1555/messages/inbound-ids" {
			_, _ = w.Write([]byte(`{"message_ids":["a","b"]}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	ctx := context.Background()

	require.NoError(t, c.MarkRead(ctx, MarkRequest{Conversation: "+1555", MessageIDs: []string{"a"}}))
	require.NoError(t, c.MarkUnread(ctx, MarkRequest{Conversation: "+1555"}))
	require.NoError(t, c.DeleteMessages(ctx, DeleteRequest{Conversation: "+1555", MessageIDs: []string{"a"}}))
	ids, err := c.InboundMessageIDs(ctx, "+1555")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ids)

	require.Equal(t, []string{
		"POST /api/v1/conversations/+1555/read",
		"POST /api/v1/conversations/+1555/unread",
		"POST /api/v1/conversations/+1555/messages/delete",
		"GET /api/v1/conversations/+1555/messages/inbound-ids",
	}, paths)
}

func TestStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/status", r.URL.Path)
		_ = json.NewEncoder(w).Encode(DaemonStatus{Profile: "main", Conversations: 4, QueuedSends: 1})
	})

	st, err := c.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, "main", st.Profile)
	require.Equal(t, 4, st.Conversations)
	require.Equal(t, 1, st.QueuedSends)
}
