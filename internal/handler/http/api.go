package handler

import (
	"errors"
	"net/http"

	"github.com/aniladanir/wa-inbox/internal/ingest"
	messageRepo "github.com/aniladanir/wa-inbox/internal/repository/message"
	"github.com/aniladanir/wa-inbox/internal/service"
	"github.com/gin-gonic/gin"
)

type statusRequest struct {
	Status string `json:"status" example:"delivered"`
}

// ListConversations godoc
// @Summary List conversations
// @Description One entry per wa_id with its latest message and message count, newest first
// @Tags Conversations
// @Produce json
// @Success 200 {array} domain.Conversation
// @Failure 500 {object} map[string]string
// @Router /api/conversations [get]
func (h *Handler) listConversations(c *gin.Context) {
	convs, err := h.messenger.ListConversations(c.Request.Context())
	if err != nil {
		h.requestLog(c).Error("failed to list conversations", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, convs)
}

// ListMessages godoc
// @Summary List messages of a conversation
// @Description Messages sorted by timestamp ascending
// @Tags Conversations
// @Produce json
// @Param wa_id path string true "conversation id"
// @Success 200 {array} domain.Message
// @Failure 500 {object} map[string]string
// @Router /api/conversations/{wa_id}/messages [get]
func (h *Handler) listMessages(c *gin.Context) {
	msgs, err := h.messenger.ListMessages(c.Request.Context(), c.Param("wa_id"))
	if err != nil {
		h.requestLog(c).Error("failed to list messages", "waId", c.Param("wa_id"), "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// SendMessage godoc
// @Summary Send a message
// @Description Stores an outbound message with status sent and broadcasts it
// @Tags Messages
// @Accept json
// @Produce json
// @Param message body service.SendRequest true "message to send"
// @Success 200 {object} domain.Message
// @Failure 400 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Router /api/messages [post]
func (h *Handler) sendMessage(c *gin.Context) {
	var req service.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}

	msg, err := h.messenger.SendMessage(c.Request.Context(), req)
	switch {
	case errors.Is(err, service.ErrInvalidMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		h.requestLog(c).Error("failed to send message", "waId", req.WaID, "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, msg)
	}
}

// UpdateStatus godoc
// @Summary Set the status of a message
// @Tags Messages
// @Accept json
// @Produce json
// @Param msg_id path string true "message id"
// @Param status body statusRequest true "sent, delivered or read"
// @Success 200 {object} domain.Message
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Router /api/messages/{msg_id}/status [put]
func (h *Handler) updateStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}

	msg, err := h.messenger.SetStatus(c.Request.Context(), c.Param("msg_id"), req.Status)
	switch {
	case errors.Is(err, ingest.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status. Use: sent, delivered, or read"})
	case errors.Is(err, messageRepo.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Message not found"})
	case err != nil:
		h.requestLog(c).Error("failed to update status", "msgId", c.Param("msg_id"), "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, msg)
	}
}

// SimulateStatusProgression godoc
// @Summary Simulate delivery receipts
// @Description Moves up to five outbound sent messages to delivered and then read in the background
// @Tags Demo
// @Produce json
// @Success 200 {object} map[string]any
// @Failure 500 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /api/demo/status-progression [post]
func (h *Handler) simulateStatusProgression(c *gin.Context) {
	scheduled, err := h.messenger.SimulateStatusProgression(c.Request.Context())
	if errors.Is(err, service.ErrStopped) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.requestLog(c).Error("failed to start status progression", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Status progression simulation started", "scheduled": scheduled})
}
