package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/smsdesk/internal/attach"
	"github.com/matheus3301/smsdesk/internal/bus"
	"github.com/matheus3301/smsdesk/internal/model"
	"github.com/matheus3301/smsdesk/internal/remote"
	"github.com/matheus3301/smsdesk/internal/store"
)

// ListMessages pages backwards from the newest message of a conversation.
// GET /api/v1/conversations/:phone/messages?offset=&page_size=&q=
func (h *Handler) ListMessages(c *gin.Context) {
	offset, pageSize, ok := paging(c)
	if !ok {
		return
	}
	msgs, hasMore, err := h.db.ListMessages(c.Param("phone"), offset, pageSize, c.Query("q"))
	if err != nil {
		h.internalError(c, "list messages", err)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	c.JSON(http.StatusOK, remote.ListMessagesResponse{Messages: msgs, HasMore: hasMore})
}

// InboundMessageIDs lists every inbound message id of a conversation.
// GET /api/v1/conversations/:phone/messages/inbound-ids
func (h *Handler) InboundMessageIDs(c *gin.Context) {
	ids, err := h.db.InboundMessageIDs(c.Param("phone"))
	if err != nil {
		h.internalError(c, "inbound ids", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"message_ids": ids})
}

// Send stores the attachments, queues the message for the gateway and
// returns before delivery. The durable row arrives through the push channel.
// POST /api/v1/conversations/:phone/messages
func (h *Handler) Send(c *gin.Context) {
	phone := c.Param("phone")
	var req remote.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}
	if req.ClientMsgID == "" {
		errorJSON(c, http.StatusBadRequest, "client_msg_id is required")
		return
	}
	if strings.TrimSpace(req.Text) == "" && len(req.Attachments) == 0 {
		errorJSON(c, http.StatusBadRequest, "message has no text and no attachments")
		return
	}

	media := make([]store.Media, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		m, err := h.saveAttachment(a)
		if err != nil {
			h.internalError(c, "save attachment", err)
			return
		}
		media = append(media, m)
	}

	entry := &store.OutboxEntry{ClientMsgID: req.ClientMsgID, Phone: phone, Body: req.Text, Media: media}
	if err := h.db.QueueOutbox(entry); err != nil {
		h.internalError(c, "queue send", err)
		return
	}
	h.logger.Info("send queued",
		zap.String("client_msg_id", req.ClientMsgID),
		zap.String("phone", phone),
		zap.Int("attachments", len(media)))
	h.bus.Emit(bus.KindOutboxQueued, req.ClientMsgID)
	c.JSON(http.StatusAccepted, remote.SendResponse{ClientMsgID: req.ClientMsgID})
}

func (h *Handler) saveAttachment(a remote.OutgoingAttachment) (store.Media, error) {
	id := uuid.NewString()
	if err := os.MkdirAll(h.opts.AttachmentDir, 0700); err != nil {
		return store.Media{}, err
	}
	path := filepath.Join(h.opts.AttachmentDir, id)
	if err := os.WriteFile(path, a.Data, 0600); err != nil {
		return store.Media{}, err
	}
	filename := attach.SanitizeFilename(a.Filename)
	ct := a.ContentType
	if ct == "" {
		ct = http.DetectContentType(a.Data)
	}
	f := &store.File{ID: id, Path: path, ContentType: ct, Filename: filename, Size: int64(len(a.Data))}
	if err := h.db.SaveFile(f); err != nil {
		_ = os.Remove(path)
		return store.Media{}, err
	}
	return store.Media{
		ID:          id,
		ContentType: ct,
		Filename:    filename,
		URL:         strings.TrimRight(h.opts.PublicURL, "/") + "/api/v1/attachments/" + id,
	}, nil
}

// DeleteMessages removes the listed messages of a conversation.
// POST /api/v1/conversations/:phone/messages/delete
func (h *Handler) DeleteMessages(c *gin.Context) {
	var req remote.DeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.MessageIDs) == 0 {
		errorJSON(c, http.StatusBadRequest, "message_ids is required")
		return
	}
	n, err := h.db.DeleteMessages(c.Param("phone"), req.MessageIDs)
	if err != nil {
		h.internalError(c, "delete messages", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

// GetAttachment streams a hosted attachment body.
// GET /api/v1/attachments/:id
func (h *Handler) GetAttachment(c *gin.Context) {
	f, err := h.db.GetFile(c.Param("id"))
	if err != nil {
		h.storeError(c, "attachment", err)
		return
	}
	if _, err := os.Stat(f.Path); err != nil {
		h.storeError(c, "attachment", store.ErrNotFound)
		return
	}
	c.Header("Content-Type", f.ContentType)
	c.FileAttachment(f.Path, f.Filename)
}
