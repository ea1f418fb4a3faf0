// Package api serves the smsdeskd REST interface consumed by the console,
// smsctl and the SMS gateway webhook.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/matheus3301/smsdesk/internal/bus"
	"github.com/matheus3301/smsdesk/internal/remote"
	"github.com/matheus3301/smsdesk/internal/store"
)

const (
	defaultPageSize = 25
	maxPageSize     = 200
)

// Options configures a Handler.
type Options struct {
	Profile string
	// AttachmentDir holds uploaded attachment bodies.
	AttachmentDir string
	// PublicURL prefixes attachment URLs handed to clients and the gateway.
	PublicURL string
	// Region interprets webhook numbers written without a country code.
	Region string
}

// Handler implements the REST endpoints on top of the store.
type Handler struct {
	db        *store.DB
	bus       *bus.Bus
	opts      Options
	startedAt time.Time
	logger    *zap.Logger
}

// NewHandler creates a handler backed by db. Writes are announced on b.
func NewHandler(db *store.DB, b *bus.Bus, opts Options, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		db:        db,
		bus:       b,
		opts:      opts,
		startedAt: time.Now(),
		logger:    logger,
	}
}

// Status reports daemon health and store counts.
// GET /api/v1/status
func (h *Handler) Status(c *gin.Context) {
	resp := remote.DaemonStatus{
		Profile:  h.opts.Profile,
		UptimeMS: time.Since(h.startedAt).Milliseconds(),
	}
	var err error
	if resp.Conversations, err = h.db.ConversationCount(); err != nil {
		h.internalError(c, "count conversations", err)
		return
	}
	if resp.Messages, err = h.db.MessageCount(); err != nil {
		h.internalError(c, "count messages", err)
		return
	}
	if resp.QueuedSends, err = h.db.QueuedOutboxCount(); err != nil {
		h.internalError(c, "count outbox", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func errorJSON(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, gin.H{"error": msg})
}

func (h *Handler) internalError(c *gin.Context, op string, err error) {
	h.logger.Error(op+" failed", zap.Error(err), zap.String("path", c.FullPath()))
	errorJSON(c, http.StatusInternalServerError, op+": "+err.Error())
}

// storeError maps store errors to HTTP responses.
func (h *Handler) storeError(c *gin.Context, op string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		errorJSON(c, http.StatusNotFound, op+": not found")
		return
	}
	h.internalError(c, op, err)
}

// paging reads offset and page_size query parameters.
func paging(c *gin.Context) (offset, pageSize int, ok bool) {
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		errorJSON(c, http.StatusBadRequest, "offset must be a non-negative integer")
		return 0, 0, false
	}
	pageSize, err = strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(defaultPageSize)))
	if err != nil || pageSize <= 0 {
		errorJSON(c, http.StatusBadRequest, "page_size must be a positive integer")
		return 0, 0, false
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return offset, pageSize, true
}
