package remote

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client implements Store against the smsdeskd REST API.
type Client struct {
	base string
	hc   *http.Client
}

// NewClient returns a client rooted at baseURL (e.g. http://127.0.0.1:8740).
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/") + "/api/v1",
		hc:   &http.Client{Timeout: timeout},
	}
}

func (c *Client) conversationURL(phone string, parts ...string) string {
	u := c.base + "/conversations/" + url.PathEscape(phone)
	for _, p := range parts {
		u += "/" + p
	}
	return u
}

func (c *Client) ListConversations(ctx context.Context, req ListConversationsRequest) (*ListConversationsResponse, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(req.Offset))
	q.Set("page_size", strconv.Itoa(req.PageSize))
	if req.Search != "" {
		q.Set("search", req.Search)
	}
	var resp ListConversationsResponse
	if err := DoJSON(ctx, c.hc, http.MethodGet, c.base+"/conversations?"+q.Encode(), nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ListMessages(ctx context.Context, req ListMessagesRequest) (*ListMessagesResponse, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(req.Offset))
	q.Set("page_size", strconv.Itoa(req.PageSize))
	if req.Query != "" {
		q.Set("q", req.Query)
	}
	var resp ListMessagesResponse
	if err := DoJSON(ctx, c.hc, http.MethodGet, c.conversationURL(req.Conversation, "messages")+"?"+q.Encode(), nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) InboundMessageIDs(ctx context.Context, conversation string) ([]string, error) {
	var resp struct {
		MessageIDs []string `json:"message_ids"`
	}
	if err := DoJSON(ctx, c.hc, http.MethodGet, c.conversationURL(conversation, "messages", "inbound-ids"), nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.MessageIDs, nil
}

func (c *Client) Send(ctx context.Context, req SendRequest) (*SendResponse, error) {
	var resp SendResponse
	if err := DoJSON(ctx, c.hc, http.MethodPost, c.conversationURL(req.Conversation, "messages"), nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) MarkRead(ctx context.Context, req MarkRequest) error {
	return DoJSON(ctx, c.hc, http.MethodPost, c.conversationURL(req.Conversation, "read"), nil, req, nil)
}

func (c *Client) MarkUnread(ctx context.Context, req MarkRequest) error {
	return DoJSON(ctx, c.hc, http.MethodPost, c.conversationURL(req.Conversation, "unread"), nil, req, nil)
}

func (c *Client) DeleteMessages(ctx context.Context, req DeleteRequest) error {
	return DoJSON(ctx, c.hc, http.MethodPost, c.conversationURL(req.Conversation, "messages", "delete"), nil, req, nil)
}

func (c *Client) DeleteConversation(ctx context.Context, conversation string) error {
	return DoJSON(ctx, c.hc, http.MethodDelete, c.conversationURL(conversation), nil, nil, nil)
}

// Status fetches daemon health. It doubles as a liveness probe.
func (c *Client) Status(ctx context.Context) (*DaemonStatus, error) {
	var st DaemonStatus
	if err := DoJSON(ctx, c.hc, http.MethodGet, c.base+"/status", nil, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}
