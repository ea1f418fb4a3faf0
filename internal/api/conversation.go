package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/matheus3301/smsdesk/internal/bus"
	"github.com/matheus3301/smsdesk/internal/model"
	"github.com/matheus3301/smsdesk/internal/remote"
)

// ListConversations returns one page of conversations, most recent first.
// GET /api/v1/conversations?offset=&page_size=&search=
func (h *Handler) ListConversations(c *gin.Context) {
	offset, pageSize, ok := paging(c)
	if !ok {
		return
	}
	convs, total, err := h.db.ListConversations(offset, pageSize, c.Query("search"))
	if err != nil {
		h.internalError(c, "list conversations", err)
		return
	}
	if convs == nil {
		convs = []model.Conversation{}
	}
	c.JSON(http.StatusOK, remote.ListConversationsResponse{Conversations: convs, TotalCount: total})
}

// MarkRead marks inbound messages of a conversation read.
// POST /api/v1/conversations/:phone/read
func (h *Handler) MarkRead(c *gin.Context) {
	h.setRead(c, true)
}

// MarkUnread marks inbound messages of a conversation unread.
// POST /api/v1/conversations/:phone/unread
func (h *Handler) MarkUnread(c *gin.Context) {
	h.setRead(c, false)
}

func (h *Handler) setRead(c *gin.Context, read bool) {
	phone := c.Param("phone")
	var req remote.MarkRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			errorJSON(c, http.StatusBadRequest, err.Error())
			return
		}
	}
	if _, err := h.db.GetConversation(phone); err != nil {
		h.storeError(c, "conversation", err)
		return
	}
	n, err := h.db.SetRead(phone, req.MessageIDs, read)
	if err != nil {
		h.internalError(c, "set read", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

// DeleteConversation removes a conversation and all of its messages.
// DELETE /api/v1/conversations/:phone
func (h *Handler) DeleteConversation(c *gin.Context) {
	phone := c.Param("phone")
	if err := h.db.DeleteConversation(phone); err != nil {
		h.storeError(c, "delete conversation", err)
		return
	}
	h.logger.Info("conversation deleted", zap.String("phone", phone))
	h.bus.Emit(bus.KindConversationDeleted, phone)
	c.Status(http.StatusNoContent)
}
