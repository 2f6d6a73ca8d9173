package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-commerce-api/internal/models"
	"github.com/noah-isme/lms-commerce-api/internal/service"
	appErrors "github.com/noah-isme/lms-commerce-api/pkg/errors"
	"github.com/noah-isme/lms-commerce-api/pkg/response"
)

// ChatHandler wires HTTP endpoints to the support chat.
type ChatHandler struct {
	service *service.ChatService
}

// NewChatHandler creates a new handler.
func NewChatHandler(svc *service.ChatService) *ChatHandler {
	return &ChatHandler{service: svc}
}

// Open godoc
// @Summary Open a support chat
// @Tags Chat
// @Accept json
// @Produce json
// @Param payload body service.OpenChatRequest true "Subject and first message"
// @Success 201 {object} response.Envelope
// @Router /chats [post]
func (h *ChatHandler) Open(c *gin.Context) {
	var req service.OpenChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid chat payload"))
		return
	}
	chat, err := h.service.Open(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, chat)
}

// List godoc
// @Summary List chats
// @Description Students see their own tickets; support staff see the inbox.
// @Tags Chat
// @Produce json
// @Param status query string false "Filter by status"
// @Param assignee_id query string false "Filter by assignee"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /chats [get]
func (h *ChatHandler) List(c *gin.Context) {
	filter := models.ChatFilter{
		Status:     models.ChatStatus(c.Query("status")),
		AssigneeID: c.Query("assignee_id"),
		Page:       queryInt(c, "page", 1),
		PageSize:   queryInt(c, "page_size", 20),
	}

	chats, pagination, err := h.service.List(c.Request.Context(), claimsFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, chats, pagination)
}

// Messages godoc
// @Summary Poll chat messages
// @Description Returns messages after the cursor id plus the counterpart typing state.
// @Tags Chat
// @Produce json
// @Param id path string true "Chat ID"
// @Param after query string false "Last seen message id"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /chats/{id}/messages [get]
func (h *ChatHandler) Messages(c *gin.Context) {
	messages, typing, err := h.service.Messages(c.Request.Context(), c.Param("id"), c.Query("after"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"messages": messages, "typing": typing}, nil)
}

// Send godoc
// @Summary Send a chat message
// @Tags Chat
// @Accept json
// @Produce json
// @Param id path string true "Chat ID"
// @Param payload body service.SendMessageRequest true "Message body"
// @Success 201 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /chats/{id}/messages [post]
func (h *ChatHandler) Send(c *gin.Context) {
	var req service.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid message payload"))
		return
	}
	msg, err := h.service.Send(c.Request.Context(), c.Param("id"), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, msg)
}

// MarkRead godoc
// @Summary Mark chat messages read
// @Tags Chat
// @Produce json
// @Param id path string true "Chat ID"
// @Success 200 {object} response.Envelope
// @Router /chats/{id}/read [post]
func (h *ChatHandler) MarkRead(c *gin.Context) {
	updated, err := h.service.MarkRead(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"updated": updated}, nil)
}

// Typing godoc
// @Summary Signal typing
// @Tags Chat
// @Param id path string true "Chat ID"
// @Success 204 {object} response.Envelope
// @Router /chats/{id}/typing [post]
func (h *ChatHandler) Typing(c *gin.Context) {
	if err := h.service.Typing(c.Request.Context(), c.Param("id"), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// TypingState godoc
// @Summary Counterpart typing indicator
// @Description The indicator expires by TTL on its own; there is no explicit clear.
// @Tags Chat
// @Produce json
// @Param id path string true "Chat ID"
// @Success 200 {object} response.Envelope
// @Router /chats/{id}/typing [get]
func (h *ChatHandler) TypingState(c *gin.Context) {
	typing, err := h.service.TypingState(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, typing, nil)
}

// Unread godoc
// @Summary Unread badge counts
// @Tags Chat
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /chats/unread-count [get]
func (h *ChatHandler) Unread(c *gin.Context) {
	summary, err := h.service.Unread(c.Request.Context(), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// UpdateStatus godoc
// @Summary Transition a chat
// @Description Support staff only. Closing an unclaimed ticket assigns it to the actor.
// @Tags Chat
// @Accept json
// @Produce json
// @Param id path string true "Chat ID"
// @Param payload body service.UpdateChatStatusRequest true "Status payload"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /chats/{id}/status [put]
func (h *ChatHandler) UpdateStatus(c *gin.Context) {
	var req service.UpdateChatStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid status payload"))
		return
	}
	chat, err := h.service.UpdateStatus(c.Request.Context(), c.Param("id"), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, chat, nil)
}
