// Package gateway talks to the phone-number-keyed SMS/MMS provider.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/matheus3301/smsdesk/internal/remote"
)

// Media references a file the provider fetches by URL for MMS delivery.
type Media struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Filename    string `json:"filename"`
}

// Outbound is a message handed to the provider.
type Outbound struct {
	To    string  `json:"to"`
	Body  string  `json:"body,omitempty"`
	Media []Media `json:"media,omitempty"`
}

// Receipt is the provider's acknowledgement of an accepted send.
type Receipt struct {
	ID     string    `json:"id"`
	SentAt time.Time `json:"sent_at"`
}

// Client is an HTTP client for the provider API. It satisfies remote.Gateway.
type Client struct {
	base   string
	header http.Header
	hc     *http.Client
}

func New(baseURL, apiKey string, timeout time.Duration) *Client {
	h := http.Header{}
	if apiKey != "" {
		h.Set("Authorization", "Bearer "+apiKey)
	}
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		header: h,
		hc:     &http.Client{Timeout: timeout},
	}
}

// Send submits one message and returns the provider-assigned id.
func (c *Client) Send(ctx context.Context, msg Outbound) (*Receipt, error) {
	var r Receipt
	if err := remote.DoJSON(ctx, c.hc, http.MethodPost, c.base+"/messages", c.header, msg, &r); err != nil {
		return nil, fmt.Errorf("gateway send: %w", err)
	}
	if r.ID == "" {
		return nil, fmt.Errorf("gateway send: empty message id")
	}
	if r.SentAt.IsZero() {
		r.SentAt = time.Now().UTC()
	}
	return &r, nil
}

func (c *Client) MarkRead(ctx context.Context, ids []string) error {
	return c.mark(ctx, "read", ids)
}

func (c *Client) MarkUnread(ctx context.Context, ids []string) error {
	return c.mark(ctx, "unread", ids)
}

func (c *Client) mark(ctx context.Context, state string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	body := struct {
		IDs []string `json:"ids"`
	}{ids}
	if err := remote.DoJSON(ctx, c.hc, http.MethodPost, c.base+"/messages/"+state, c.header, body, nil); err != nil {
		return fmt.Errorf("gateway mark %s: %w", state, err)
	}
	return nil
}

var _ remote.Gateway = (*Client)(nil)
