package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-commerce-api/internal/models"
	"github.com/noah-isme/lms-commerce-api/pkg/config"
	appErrors "github.com/noah-isme/lms-commerce-api/pkg/errors"
	"github.com/noah-isme/lms-commerce-api/pkg/jobs"
)

type notificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	CreateBatch(ctx context.Context, batch []models.Notification) error
	List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error)
	MarkRead(ctx context.Context, id, userID string, readAt time.Time) (bool, error)
	MarkAllRead(ctx context.Context, userID string, readAt time.Time) (int64, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
}

type notificationRecipientSource interface {
	ListActiveIDs(ctx context.Context) ([]string, error)
}

// BroadcastRequest announces something to every active user.
type BroadcastRequest struct {
	Title    string  `json:"title" validate:"required,min=3,max=200"`
	Body     string  `json:"body" validate:"required,min=1,max=2000"`
	CourseID *string `json:"course_id" validate:"omitempty,uuid4"`
}

// NotifyRequest targets a single user.
type NotifyRequest struct {
	UserID   string  `json:"user_id" validate:"required"`
	Title    string  `json:"title" validate:"required,min=3,max=200"`
	Body     string  `json:"body" validate:"required,min=1,max=2000"`
	CourseID *string `json:"course_id" validate:"omitempty,uuid4"`
}

type broadcastPayload struct {
	Title    string
	Body     string
	CourseID *string
	UserIDs  []string
}

// NotificationService stores per-user notifications. Broadcasts fan out to
// one row per active user through the background queue so the admin request
// returns immediately.
type NotificationService struct {
	repo      notificationRepository
	users     notificationRecipientSource
	queue     *jobs.Queue
	batchSize int
	validator *validator.Validate
	logger    *zap.Logger
}

// NewNotificationService constructs a NotificationService. Start must be
// called before broadcasts are accepted.
func NewNotificationService(repo notificationRepository, users notificationRecipientSource, cfg config.NotificationsConfig, validate *validator.Validate, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	batchSize := cfg.FanoutBatchSize
	if batchSize <= 0 {
		batchSize = 500
	}

	s := &NotificationService{
		repo:      repo,
		users:     users,
		batchSize: batchSize,
		validator: validate,
		logger:    logger,
	}
	s.queue = jobs.NewQueue("notification-fanout", s.handleFanout, jobs.QueueConfig{
		Workers:    cfg.FanoutWorkers,
		BufferSize: cfg.QueueBuffer,
		Logger:     logger,
	})
	return s
}

// Start launches the fanout workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the fanout workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// List returns the caller's notifications.
func (s *NotificationService) List(ctx context.Context, userID string, unreadOnly bool, page, pageSize int) ([]models.Notification, *models.Pagination, error) {
	filter := models.NotificationFilter{UserID: userID, UnreadOnly: unreadOnly, Page: page, PageSize: pageSize}
	notifications, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	return notifications, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// UnreadCount returns the caller's badge count.
func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int, error) {
	count, err := s.repo.UnreadCount(ctx, userID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count notifications")
	}
	return count, nil
}

// MarkRead marks one notification read for its owner. Replays on an
// already-read notification succeed without effect.
func (s *NotificationService) MarkRead(ctx context.Context, id, userID string) error {
	if _, err := s.repo.MarkRead(ctx, id, userID, time.Now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notification read")
	}
	return nil
}

// MarkAllRead marks every unread notification of the caller read.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	updated, err := s.repo.MarkAllRead(ctx, userID, time.Now().UTC())
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notifications read")
	}
	return updated, nil
}

// Notify creates a notification for one user. Unlike broadcasts this writes
// synchronously: the caller wants to know the row exists.
func (s *NotificationService) Notify(ctx context.Context, req NotifyRequest) (*models.Notification, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid notification payload")
	}

	n := &models.Notification{
		UserID:   req.UserID,
		Title:    req.Title,
		Body:     req.Body,
		CourseID: req.CourseID,
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create notification")
	}
	return n, nil
}

// Broadcast queues a notification for every active user. Returns the number
// of recipients that will receive a row.
func (s *NotificationService) Broadcast(ctx context.Context, req BroadcastRequest) (int, error) {
	if err := s.validator.Struct(req); err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid broadcast payload")
	}

	userIDs, err := s.users.ListActiveIDs(ctx)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list recipients")
	}
	if len(userIDs) == 0 {
		return 0, nil
	}

	for start := 0; start < len(userIDs); start += s.batchSize {
		end := start + s.batchSize
		if end > len(userIDs) {
			end = len(userIDs)
		}
		job := jobs.Job{
			ID:   uuid.NewString(),
			Type: "broadcast",
			Payload: broadcastPayload{
				Title:    req.Title,
				Body:     req.Body,
				CourseID: req.CourseID,
				UserIDs:  userIDs[start:end],
			},
		}
		if err := s.queue.Enqueue(job); err != nil {
			return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to queue broadcast")
		}
	}
	return len(userIDs), nil
}

// NotifyPurchase records a purchase confirmation for the buyer. Failures are
// logged, not surfaced: the payment already settled.
func (s *NotificationService) NotifyPurchase(ctx context.Context, userID string, order *models.Order, items []models.OrderItem) {
	titles := ""
	for i, item := range items {
		if i > 0 {
			titles += ", "
		}
		titles += item.CourseTitle
	}
	n := &models.Notification{
		UserID: userID,
		Title:  "Purchase confirmed",
		Body:   fmt.Sprintf("Your order is complete. You now have access to: %s", titles),
	}
	if len(items) == 1 {
		n.CourseID = &items[0].CourseID
	}
	if err := s.repo.Create(ctx, n); err != nil {
		s.logger.Error("failed to create purchase notification",
			zap.String("order_id", order.ID),
			zap.Error(err))
	}
}

func (s *NotificationService) handleFanout(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(broadcastPayload)
	if !ok {
		return fmt.Errorf("unexpected payload type for job %s", job.ID)
	}

	batch := make([]models.Notification, 0, len(payload.UserIDs))
	for _, userID := range payload.UserIDs {
		batch = append(batch, models.Notification{
			UserID:   userID,
			Title:    payload.Title,
			Body:     payload.Body,
			CourseID: payload.CourseID,
		})
	}
	if err := s.repo.CreateBatch(ctx, batch); err != nil {
		return fmt.Errorf("fanout batch: %w", err)
	}
	s.logger.Debug("broadcast batch delivered", zap.Int("recipients", len(batch)))
	return nil
}
