package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-commerce-api/internal/models"
	"github.com/noah-isme/lms-commerce-api/pkg/config"
	appErrors "github.com/noah-isme/lms-commerce-api/pkg/errors"
)

type chatRepository interface {
	Create(ctx context.Context, chat *models.Chat) error
	FindByID(ctx context.Context, id string) (*models.Chat, error)
	List(ctx context.Context, viewerID string, filter models.ChatFilter) ([]models.ChatSummary, int, error)
	UpdateStatus(ctx context.Context, id string, status models.ChatStatus, assigneeID *string) error
	Touch(ctx context.Context, id string, ts time.Time) error
	CreateMessage(ctx context.Context, msg *models.ChatMessage) error
	ListMessagesAfter(ctx context.Context, chatID, afterID string, limit int) ([]models.ChatMessage, error)
	MarkMessagesRead(ctx context.Context, chatID, readerID string, readAt time.Time) (int64, error)
	UnreadCounts(ctx context.Context, viewerID string) (map[string]int, error)
}

type chatPresenceCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	SetTyping(ctx context.Context, chatID, userID string, ttl time.Duration) error
	IsTyping(ctx context.Context, chatID, viewerID string) (string, bool, error)
}

// OpenChatRequest starts a support conversation.
type OpenChatRequest struct {
	Subject string `json:"subject" validate:"required,min=3,max=200"`
	Body    string `json:"body" validate:"required,min=1,max=4000"`
}

// SendMessageRequest appends a message. System is honored for support staff
// only and marks the message as a synthetic notice.
type SendMessageRequest struct {
	Body   string `json:"body" validate:"required,min=1,max=4000"`
	System bool   `json:"system"`
}

// UpdateChatStatusRequest transitions the ticket lifecycle.
type UpdateChatStatusRequest struct {
	Status models.ChatStatus `json:"status" validate:"required,oneof=OPEN IN_PROGRESS CLOSED"`
}

func unreadCacheKey(userID string) string {
	return fmt.Sprintf("chat:unread:%s", userID)
}

// ChatService runs the support chat. Clients poll for new messages with a
// cursor, typing indicators live as short TTL keys in Redis, and unread
// badge counts are cached briefly to keep the poll endpoints cheap.
type ChatService struct {
	repo      chatRepository
	cache     chatPresenceCache
	cfg       config.ChatConfig
	validator *validator.Validate
	logger    *zap.Logger
}

// NewChatService constructs a ChatService.
func NewChatService(repo chatRepository, cache chatPresenceCache, cfg config.ChatConfig, validate *validator.Validate, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.TypingTTL <= 0 {
		cfg.TypingTTL = 6 * time.Second
	}
	if cfg.UnreadCacheTTL <= 0 {
		cfg.UnreadCacheTTL = 8 * time.Second
	}
	return &ChatService{repo: repo, cache: cache, cfg: cfg, validator: validate, logger: logger}
}

// Open starts a chat with an initial message from the caller.
func (s *ChatService) Open(ctx context.Context, claims *models.JWTClaims, req OpenChatRequest) (*models.Chat, error) {
	if claims == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid chat payload")
	}

	chat := &models.Chat{UserID: claims.UserID, Subject: req.Subject, Status: models.ChatStatusOpen}
	if err := s.repo.Create(ctx, chat); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create chat")
	}

	msg := &models.ChatMessage{ChatID: chat.ID, SenderID: claims.UserID, Body: req.Body}
	if err := s.repo.CreateMessage(ctx, msg); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create first message")
	}
	return chat, nil
}

// List returns the caller's chats, or the full inbox for support staff.
func (s *ChatService) List(ctx context.Context, claims *models.JWTClaims, filter models.ChatFilter) ([]models.ChatSummary, *models.Pagination, error) {
	if claims == nil {
		return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}
	if !claims.Permissions.SupportChat {
		filter.UserID = claims.UserID
	}

	chats, total, err := s.repo.List(ctx, claims.UserID, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list chats")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	return chats, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// access loads a chat and enforces participant-or-staff visibility.
func (s *ChatService) access(ctx context.Context, chatID string, claims *models.JWTClaims) (*models.Chat, error) {
	if claims == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}
	chat, err := s.repo.FindByID(ctx, chatID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "chat not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load chat")
	}
	if chat.UserID != claims.UserID && !claims.Permissions.SupportChat {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not a participant of this chat")
	}
	return chat, nil
}

// Messages returns messages after the given cursor id, in send order. The
// typing state of the counterpart rides along for the poll loop.
func (s *ChatService) Messages(ctx context.Context, chatID, afterID string, claims *models.JWTClaims) ([]models.ChatMessage, *models.TypingState, error) {
	chat, err := s.access(ctx, chatID, claims)
	if err != nil {
		return nil, nil, err
	}

	messages, err := s.repo.ListMessagesAfter(ctx, chat.ID, afterID, s.cfg.PageSize)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list messages")
	}

	typing := &models.TypingState{ChatID: chat.ID}
	if userID, active, err := s.cache.IsTyping(ctx, chat.ID, claims.UserID); err != nil {
		s.logger.Warn("failed to read typing state", zap.String("chat_id", chat.ID), zap.Error(err))
	} else if active {
		typing.Typing = true
		typing.UserID = userID
	}
	return messages, typing, nil
}

// TypingState reports whether the counterpart is currently typing. Backed by
// the same TTL key the messages poll reads, for clients that poll it alone.
func (s *ChatService) TypingState(ctx context.Context, chatID string, claims *models.JWTClaims) (*models.TypingState, error) {
	chat, err := s.access(ctx, chatID, claims)
	if err != nil {
		return nil, err
	}

	typing := &models.TypingState{ChatID: chat.ID}
	if userID, active, err := s.cache.IsTyping(ctx, chat.ID, claims.UserID); err != nil {
		s.logger.Warn("failed to read typing state", zap.String("chat_id", chat.ID), zap.Error(err))
	} else if active {
		typing.Typing = true
		typing.UserID = userID
	}
	return typing, nil
}

// Send appends a message from the caller. Closed chats reject new messages.
func (s *ChatService) Send(ctx context.Context, chatID string, claims *models.JWTClaims, req SendMessageRequest) (*models.ChatMessage, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid message payload")
	}
	chat, err := s.access(ctx, chatID, claims)
	if err != nil {
		return nil, err
	}
	if chat.Status == models.ChatStatusClosed {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "chat is closed")
	}

	msg := &models.ChatMessage{ChatID: chat.ID, SenderID: claims.UserID, Body: req.Body}
	if req.System && claims.Permissions.SupportChat {
		msg.IsSystem = true
	}
	if err := s.repo.CreateMessage(ctx, msg); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to send message")
	}
	if err := s.repo.Touch(ctx, chat.ID, msg.CreatedAt); err != nil {
		s.logger.Warn("failed to touch chat", zap.String("chat_id", chat.ID), zap.Error(err))
	}

	// A staff reply moves a fresh ticket into IN_PROGRESS and claims it.
	if claims.UserID != chat.UserID && chat.Status == models.ChatStatusOpen {
		assignee := claims.UserID
		if err := s.repo.UpdateStatus(ctx, chat.ID, models.ChatStatusInProgress, &assignee); err != nil {
			s.logger.Warn("failed to claim chat", zap.String("chat_id", chat.ID), zap.Error(err))
		}
	}

	s.invalidateUnread(ctx, chat, claims.UserID)
	return msg, nil
}

// MarkRead marks the counterpart's messages read and refreshes the badge.
func (s *ChatService) MarkRead(ctx context.Context, chatID string, claims *models.JWTClaims) (int64, error) {
	chat, err := s.access(ctx, chatID, claims)
	if err != nil {
		return 0, err
	}
	updated, err := s.repo.MarkMessagesRead(ctx, chat.ID, claims.UserID, time.Now().UTC())
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark messages read")
	}
	if updated > 0 {
		if err := s.cache.Delete(ctx, unreadCacheKey(claims.UserID)); err != nil {
			s.logger.Warn("failed to drop unread cache", zap.Error(err))
		}
	}
	return updated, nil
}

// Typing records the caller's typing signal for the chat.
func (s *ChatService) Typing(ctx context.Context, chatID string, claims *models.JWTClaims) error {
	chat, err := s.access(ctx, chatID, claims)
	if err != nil {
		return err
	}
	if err := s.cache.SetTyping(ctx, chat.ID, claims.UserID, s.cfg.TypingTTL); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record typing state")
	}
	return nil
}

// Unread returns the caller's unread badge counts. Results are cached for a
// few seconds because badge polling dominates chat traffic.
func (s *ChatService) Unread(ctx context.Context, claims *models.JWTClaims) (*models.UnreadSummary, error) {
	if claims == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}

	key := unreadCacheKey(claims.UserID)
	var cached models.UnreadSummary
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	} else if !errors.Is(err, appErrors.ErrCacheMiss) {
		s.logger.Warn("failed to read unread cache", zap.Error(err))
	}

	counts, err := s.repo.UnreadCounts(ctx, claims.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count unread messages")
	}

	summary := &models.UnreadSummary{ByChat: counts}
	for _, n := range counts {
		summary.Total += n
	}
	if err := s.cache.Set(ctx, key, summary, s.cfg.UnreadCacheTTL); err != nil {
		s.logger.Warn("failed to cache unread counts", zap.Error(err))
	}
	return summary, nil
}

// UpdateStatus transitions a chat. Support staff only; closing records the
// actor as assignee when the ticket was never claimed.
func (s *ChatService) UpdateStatus(ctx context.Context, chatID string, claims *models.JWTClaims, req UpdateChatStatusRequest) (*models.Chat, error) {
	if claims == nil || !claims.Permissions.SupportChat {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "chat status changes require the support permission")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}

	chat, err := s.repo.FindByID(ctx, chatID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "chat not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load chat")
	}

	var assignee *string
	if chat.AssigneeID == nil && req.Status != models.ChatStatusOpen {
		id := claims.UserID
		assignee = &id
	}
	if err := s.repo.UpdateStatus(ctx, chat.ID, req.Status, assignee); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update chat status")
	}
	chat.Status = req.Status
	if assignee != nil {
		chat.AssigneeID = assignee
	}
	return chat, nil
}

// invalidateUnread drops the badge cache of the message recipient.
func (s *ChatService) invalidateUnread(ctx context.Context, chat *models.Chat, senderID string) {
	recipient := chat.UserID
	if senderID == chat.UserID {
		if chat.AssigneeID == nil {
			return
		}
		recipient = *chat.AssigneeID
	}
	if err := s.cache.Delete(ctx, unreadCacheKey(recipient)); err != nil {
		s.logger.Warn("failed to invalidate unread cache", zap.Error(err))
	}
}
