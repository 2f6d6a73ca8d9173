package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-commerce-api/internal/models"
)

// ChatRepository handles persistence of support chats and messages.
type ChatRepository struct {
	db *sqlx.DB
}

// NewChatRepository constructs the repository.
func NewChatRepository(db *sqlx.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

const chatColumns = `id, user_id, subject, status, assignee_id, created_at, updated_at`

// Create opens a new chat.
func (r *ChatRepository) Create(ctx context.Context, chat *models.Chat) error {
	if chat.ID == "" {
		chat.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = now
	}
	chat.UpdatedAt = now
	if chat.Status == "" {
		chat.Status = models.ChatStatusOpen
	}
	const query = `INSERT INTO chats (id, user_id, subject, status, assignee_id, created_at, updated_at)
        VALUES (:id, :user_id, :subject, :status, :assignee_id, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, chat); err != nil {
		return fmt.Errorf("create chat: %w", err)
	}
	return nil
}

// FindByID returns a chat by identifier.
func (r *ChatRepository) FindByID(ctx context.Context, id string) (*models.Chat, error) {
	query := fmt.Sprintf(`SELECT %s FROM chats WHERE id = $1 LIMIT 1`, chatColumns)
	var chat models.Chat
	if err := r.db.GetContext(ctx, &chat, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find chat by id: %w", err)
	}
	return &chat, nil
}

// List returns chat summaries for the staff inbox. The unread count is
// relative to the viewer: messages not authored by them and not yet read.
func (r *ChatRepository) List(ctx context.Context, viewerID string, filter models.ChatFilter) ([]models.ChatSummary, int, error) {
	base := `FROM chats ch JOIN users u ON u.id = ch.user_id`
	conditions := []string{}
	args := []interface{}{viewerID}

	if filter.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("ch.user_id = $%d", len(args)+1))
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("ch.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.AssigneeID != "" {
		conditions = append(conditions, fmt.Sprintf("ch.assignee_id = $%d", len(args)+1))
		args = append(args, filter.AssigneeID)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT ch.%s,
        u.full_name AS user_name, u.email AS user_email,
        (SELECT COUNT(*) FROM chat_messages m WHERE m.chat_id = ch.id AND m.sender_id <> $1 AND m.read = FALSE) AS unread_count,
        (SELECT MAX(m.created_at) FROM chat_messages m WHERE m.chat_id = ch.id) AS last_message_at
        %s ORDER BY ch.updated_at DESC LIMIT %d OFFSET %d`,
		strings.ReplaceAll(chatColumns, ", ", ", ch."), base+clause, size, offset)

	var chats []models.ChatSummary
	if err := r.db.SelectContext(ctx, &chats, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list chats: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count chats: %w", err)
	}
	return chats, total, nil
}

// UpdateStatus transitions a chat and optionally records the assignee.
func (r *ChatRepository) UpdateStatus(ctx context.Context, id string, status models.ChatStatus, assigneeID *string) error {
	const query = `UPDATE chats SET status = $2, assignee_id = COALESCE($3, assignee_id), updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, assigneeID, time.Now().UTC()); err != nil {
		return fmt.Errorf("update chat status: %w", err)
	}
	return nil
}

// Touch bumps the chat's updated_at so it sorts to the top of the inbox.
func (r *ChatRepository) Touch(ctx context.Context, id string, ts time.Time) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE chats SET updated_at = $2 WHERE id = $1`, id, ts); err != nil {
		return fmt.Errorf("touch chat: %w", err)
	}
	return nil
}

const messageColumns = `id, chat_id, sender_id, body, is_system, read, read_at, created_at`

// CreateMessage appends a message to a chat.
func (r *ChatRepository) CreateMessage(ctx context.Context, msg *models.ChatMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO chat_messages (id, chat_id, sender_id, body, is_system, read, read_at, created_at)
        VALUES (:id, :chat_id, :sender_id, :body, :is_system, :read, :read_at, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, msg); err != nil {
		return fmt.Errorf("create chat message: %w", err)
	}
	return nil
}

// ListMessagesAfter returns messages newer than the cursor message in send
// order. An empty cursor returns the most recent page.
func (r *ChatRepository) ListMessagesAfter(ctx context.Context, chatID, afterID string, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var messages []models.ChatMessage
	if afterID == "" {
		query := fmt.Sprintf(`SELECT %s FROM (
            SELECT %s FROM chat_messages WHERE chat_id = $1 ORDER BY created_at DESC, id DESC LIMIT %d
        ) latest ORDER BY created_at ASC, id ASC`, messageColumns, messageColumns, limit)
		if err := r.db.SelectContext(ctx, &messages, query, chatID); err != nil {
			return nil, fmt.Errorf("list chat messages: %w", err)
		}
		return messages, nil
	}

	query := fmt.Sprintf(`SELECT %s FROM chat_messages
        WHERE chat_id = $1 AND (created_at, id) > (
            SELECT created_at, id FROM chat_messages WHERE id = $2 AND chat_id = $1
        )
        ORDER BY created_at ASC, id ASC LIMIT %d`, messageColumns, limit)
	if err := r.db.SelectContext(ctx, &messages, query, chatID, afterID); err != nil {
		return nil, fmt.Errorf("list chat messages after: %w", err)
	}
	return messages, nil
}

// MarkMessagesRead marks every message in the chat not authored by the
// reader as read, stamping read_at. Returns the number of rows updated.
func (r *ChatRepository) MarkMessagesRead(ctx context.Context, chatID, readerID string, readAt time.Time) (int64, error) {
	const query = `UPDATE chat_messages SET read = TRUE, read_at = $3
        WHERE chat_id = $1 AND sender_id <> $2 AND read = FALSE`
	result, err := r.db.ExecContext(ctx, query, chatID, readerID, readAt)
	if err != nil {
		return 0, fmt.Errorf("mark chat messages read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark chat messages read rows: %w", err)
	}
	return affected, nil
}

// UnreadCounts returns per-chat unread counts for the viewer across the
// chats they participate in.
func (r *ChatRepository) UnreadCounts(ctx context.Context, viewerID string) (map[string]int, error) {
	const query = `SELECT m.chat_id, COUNT(*) AS unread
        FROM chat_messages m
        JOIN chats ch ON ch.id = m.chat_id
        WHERE m.read = FALSE AND m.sender_id <> $1
          AND (ch.user_id = $1 OR ch.assignee_id = $1)
        GROUP BY m.chat_id`
	rows, err := r.db.QueryxContext(ctx, query, viewerID)
	if err != nil {
		return nil, fmt.Errorf("unread counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var chatID string
		var unread int
		if err := rows.Scan(&chatID, &unread); err != nil {
			return nil, fmt.Errorf("scan unread count: %w", err)
		}
		counts[chatID] = unread
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unread counts: %w", err)
	}
	return counts, nil
}

// CountByStatus returns the number of chats in a given status.
func (r *ChatRepository) CountByStatus(ctx context.Context, status models.ChatStatus) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM chats WHERE status = $1`, status); err != nil {
		return 0, fmt.Errorf("count chats by status: %w", err)
	}
	return total, nil
}
