package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/matheus3301/smsdesk/internal/bus"
	"github.com/matheus3301/smsdesk/internal/gateway"
	"github.com/matheus3301/smsdesk/internal/model"
)

// InboundMessage is one message delivered by the gateway webhook.
type InboundMessage struct {
	ID         string          `json:"id"`
	From       string          `json:"from"`
	Body       string          `json:"body"`
	ReceivedAt time.Time       `json:"received_at"`
	Media      []gateway.Media `json:"media,omitempty"`
}

// InboundBatch is the batched webhook form.
type InboundBatch struct {
	Messages []InboundMessage `json:"messages"`
}

const maxWebhookBody = 8 << 20

// Inbound accepts gateway webhook deliveries, either a single message or a
// {"messages": [...]} batch, and hands them to the ingestion engine.
// POST /api/v1/inbound
func (h *Handler) Inbound(c *gin.Context) {
	var body struct {
		InboundMessage
		Messages []InboundMessage `json:"messages"`
	}
	if err := json.NewDecoder(io.LimitReader(c.Request.Body, maxWebhookBody)).Decode(&body); err != nil {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}
	batch := InboundBatch{Messages: body.Messages}
	if len(batch.Messages) == 0 && body.ID != "" {
		batch.Messages = []InboundMessage{body.InboundMessage}
	}
	if len(batch.Messages) == 0 {
		errorJSON(c, http.StatusBadRequest, "no messages")
		return
	}

	msgs := make([]*model.Message, 0, len(batch.Messages))
	for i := range batch.Messages {
		m, err := h.toModel(&batch.Messages[i])
		if err != nil {
			errorJSON(c, http.StatusBadRequest, fmt.Sprintf("message %d: %v", i, err))
			return
		}
		msgs = append(msgs, m)
	}

	if len(msgs) == 1 {
		h.bus.Emit(bus.KindInbound, msgs[0])
	} else {
		h.bus.Emit(bus.KindInboundBatch, msgs)
	}
	h.logger.Debug("inbound accepted", zap.Int("messages", len(msgs)))
	c.JSON(http.StatusAccepted, gin.H{"accepted": len(msgs)})
}

func (h *Handler) toModel(in *InboundMessage) (*model.Message, error) {
	if in.ID == "" {
		return nil, fmt.Errorf("id is required")
	}
	phone, err := model.NormalizePhone(in.From, h.opts.Region)
	if err != nil {
		return nil, err
	}
	at := in.ReceivedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	m := &model.Message{
		ID:        in.ID,
		Phone:     phone,
		Direction: model.Inbound,
		Kind:      model.KindSMS,
		Body:      in.Body,
		CreatedAt: at,
	}
	if len(in.Media) > 0 {
		m.Kind = model.KindMMS
		for i, media := range in.Media {
			m.Attachments = append(m.Attachments, model.Attachment{
				ID:          in.ID + "-" + strconv.Itoa(i),
				ContentType: media.ContentType,
				Filename:    media.Filename,
				URL:         media.URL,
			})
		}
	}
	return m, nil
}
