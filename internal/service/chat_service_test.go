package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-commerce-api/internal/models"
	"github.com/noah-isme/lms-commerce-api/pkg/config"
	appErrors "github.com/noah-isme/lms-commerce-api/pkg/errors"
)

type mockChatRepo struct {
	chats     map[string]*models.Chat
	messages  []models.ChatMessage
	status    map[string]models.ChatStatus
	assignees map[string]*string
	unread    map[string]int
	marked    int64
}

func (m *mockChatRepo) Create(ctx context.Context, chat *models.Chat) error {
	if chat.ID == "" {
		chat.ID = "chat-new"
	}
	chat.CreatedAt = time.Now().UTC()
	if m.chats == nil {
		m.chats = make(map[string]*models.Chat)
	}
	clone := *chat
	m.chats[chat.ID] = &clone
	return nil
}

func (m *mockChatRepo) FindByID(ctx context.Context, id string) (*models.Chat, error) {
	if c, ok := m.chats[id]; ok {
		clone := *c
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockChatRepo) List(ctx context.Context, viewerID string, filter models.ChatFilter) ([]models.ChatSummary, int, error) {
	var out []models.ChatSummary
	for _, c := range m.chats {
		if filter.UserID != "" && c.UserID != filter.UserID {
			continue
		}
		out = append(out, models.ChatSummary{Chat: *c})
	}
	return out, len(out), nil
}

func (m *mockChatRepo) UpdateStatus(ctx context.Context, id string, status models.ChatStatus, assigneeID *string) error {
	if m.status == nil {
		m.status = make(map[string]models.ChatStatus)
	}
	if m.assignees == nil {
		m.assignees = make(map[string]*string)
	}
	m.status[id] = status
	m.assignees[id] = assigneeID
	return nil
}

func (m *mockChatRepo) Touch(ctx context.Context, id string, ts time.Time) error { return nil }

func (m *mockChatRepo) CreateMessage(ctx context.Context, msg *models.ChatMessage) error {
	if msg.ID == "" {
		msg.ID = "msg-new"
	}
	msg.CreatedAt = time.Now().UTC()
	m.messages = append(m.messages, *msg)
	return nil
}

func (m *mockChatRepo) ListMessagesAfter(ctx context.Context, chatID, afterID string, limit int) ([]models.ChatMessage, error) {
	var out []models.ChatMessage
	for _, msg := range m.messages {
		if msg.ChatID == chatID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *mockChatRepo) MarkMessagesRead(ctx context.Context, chatID, readerID string, readAt time.Time) (int64, error) {
	return m.marked, nil
}

func (m *mockChatRepo) UnreadCounts(ctx context.Context, viewerID string) (map[string]int, error) {
	return m.unread, nil
}

type mockPresenceCache struct {
	store   map[string]interface{}
	typing  map[string]string
	deleted []string
	sets    int
}

func (m *mockPresenceCache) Get(ctx context.Context, key string, dest interface{}) error {
	if v, ok := m.store[key]; ok {
		if summary, ok := dest.(*models.UnreadSummary); ok {
			*summary = *v.(*models.UnreadSummary)
			return nil
		}
	}
	return appErrors.ErrCacheMiss
}

func (m *mockPresenceCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if m.store == nil {
		m.store = make(map[string]interface{})
	}
	m.store[key] = value
	m.sets++
	return nil
}

func (m *mockPresenceCache) Delete(ctx context.Context, key string) error {
	m.deleted = append(m.deleted, key)
	delete(m.store, key)
	return nil
}

func (m *mockPresenceCache) SetTyping(ctx context.Context, chatID, userID string, ttl time.Duration) error {
	if m.typing == nil {
		m.typing = make(map[string]string)
	}
	m.typing[chatID] = userID
	return nil
}

func (m *mockPresenceCache) IsTyping(ctx context.Context, chatID, viewerID string) (string, bool, error) {
	if userID, ok := m.typing[chatID]; ok && userID != viewerID {
		return userID, true, nil
	}
	return "", false, nil
}

func assistantClaims(userID string) *models.JWTClaims {
	return &models.JWTClaims{UserID: userID, Role: models.RoleAssistant, Permissions: models.PermissionsForRole(models.RoleAssistant)}
}

func newChatFixture() (*ChatService, *mockChatRepo, *mockPresenceCache) {
	repo := &mockChatRepo{
		chats: map[string]*models.Chat{
			"ch1": {ID: "ch1", UserID: "u1", Subject: "Refund question", Status: models.ChatStatusOpen},
		},
	}
	cache := &mockPresenceCache{}
	svc := NewChatService(repo, cache, config.ChatConfig{}, nil, nil)
	return svc, repo, cache
}

func TestChatOpenCreatesChatWithFirstMessage(t *testing.T) {
	svc, repo, _ := newChatFixture()

	chat, err := svc.Open(context.Background(), studentClaims("u2"), OpenChatRequest{
		Subject: "Cannot access course",
		Body:    "The player shows a blank page.",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ChatStatusOpen, chat.Status)
	require.Len(t, repo.messages, 1)
	assert.Equal(t, chat.ID, repo.messages[0].ChatID)
	assert.Equal(t, "u2", repo.messages[0].SenderID)
}

func TestChatAccessDeniedForNonParticipant(t *testing.T) {
	svc, _, _ := newChatFixture()

	_, _, err := svc.Messages(context.Background(), "ch1", "", studentClaims("u2"))
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)

	// Support staff see every chat.
	_, _, err = svc.Messages(context.Background(), "ch1", "", assistantClaims("staff-1"))
	require.NoError(t, err)
}

func TestChatSendRejectsClosedChat(t *testing.T) {
	svc, repo, _ := newChatFixture()
	repo.chats["ch1"].Status = models.ChatStatusClosed

	_, err := svc.Send(context.Background(), "ch1", studentClaims("u1"), SendMessageRequest{Body: "hello?"})
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErr.Code)
	assert.Empty(t, repo.messages)
}

func TestChatStaffReplyClaimsOpenTicket(t *testing.T) {
	svc, repo, cache := newChatFixture()

	msg, err := svc.Send(context.Background(), "ch1", assistantClaims("staff-1"), SendMessageRequest{Body: "Looking into it."})
	require.NoError(t, err)
	assert.Equal(t, "staff-1", msg.SenderID)
	assert.Equal(t, models.ChatStatusInProgress, repo.status["ch1"])
	require.NotNil(t, repo.assignees["ch1"])
	assert.Equal(t, "staff-1", *repo.assignees["ch1"])
	// The participant's badge cache is dropped so the poll sees the reply.
	assert.Contains(t, cache.deleted, unreadCacheKey("u1"))
}

func TestChatOwnerReplyDoesNotClaimTicket(t *testing.T) {
	svc, repo, _ := newChatFixture()

	_, err := svc.Send(context.Background(), "ch1", studentClaims("u1"), SendMessageRequest{Body: "any update?"})
	require.NoError(t, err)
	assert.Empty(t, repo.status)
}

func TestChatSystemFlagHonoredForStaffOnly(t *testing.T) {
	svc, repo, _ := newChatFixture()

	msg, err := svc.Send(context.Background(), "ch1", assistantClaims("staff-1"), SendMessageRequest{Body: "Ticket escalated.", System: true})
	require.NoError(t, err)
	assert.True(t, msg.IsSystem)

	msg, err = svc.Send(context.Background(), "ch1", studentClaims("u1"), SendMessageRequest{Body: "me too", System: true})
	require.NoError(t, err)
	assert.False(t, msg.IsSystem)
	require.Len(t, repo.messages, 2)
}

func TestChatTypingStateReadsCounterpartIndicator(t *testing.T) {
	svc, _, cache := newChatFixture()
	require.NoError(t, cache.SetTyping(context.Background(), "ch1", "staff-1", time.Second))

	typing, err := svc.TypingState(context.Background(), "ch1", studentClaims("u1"))
	require.NoError(t, err)
	assert.True(t, typing.Typing)
	assert.Equal(t, "staff-1", typing.UserID)

	typing, err = svc.TypingState(context.Background(), "ch1", assistantClaims("staff-1"))
	require.NoError(t, err)
	assert.False(t, typing.Typing)
}

func TestChatMessagesIncludeCounterpartTyping(t *testing.T) {
	svc, _, cache := newChatFixture()
	require.NoError(t, cache.SetTyping(context.Background(), "ch1", "staff-1", time.Second))

	_, typing, err := svc.Messages(context.Background(), "ch1", "", studentClaims("u1"))
	require.NoError(t, err)
	require.NotNil(t, typing)
	assert.True(t, typing.Typing)
	assert.Equal(t, "staff-1", typing.UserID)

	// The typist does not see their own signal.
	_, typing, err = svc.Messages(context.Background(), "ch1", "", assistantClaims("staff-1"))
	require.NoError(t, err)
	assert.False(t, typing.Typing)
}

func TestChatUnreadComputesTotalAndCaches(t *testing.T) {
	svc, repo, cache := newChatFixture()
	repo.unread = map[string]int{"ch1": 2, "ch2": 3}

	summary, err := svc.Unread(context.Background(), studentClaims("u1"))
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 1, cache.sets)

	// Second call is served from cache without another Set.
	summary, err = svc.Unread(context.Background(), studentClaims("u1"))
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 1, cache.sets)
}

func TestChatMarkReadDropsBadgeCache(t *testing.T) {
	svc, repo, cache := newChatFixture()
	repo.marked = 4

	updated, err := svc.MarkRead(context.Background(), "ch1", studentClaims("u1"))
	require.NoError(t, err)
	assert.Equal(t, int64(4), updated)
	assert.Contains(t, cache.deleted, unreadCacheKey("u1"))
}

func TestChatUpdateStatusRequiresSupportPermission(t *testing.T) {
	svc, _, _ := newChatFixture()

	_, err := svc.UpdateStatus(context.Background(), "ch1", studentClaims("u1"), UpdateChatStatusRequest{Status: models.ChatStatusClosed})
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}

func TestChatCloseAssignsActorWhenUnclaimed(t *testing.T) {
	svc, repo, _ := newChatFixture()

	chat, err := svc.UpdateStatus(context.Background(), "ch1", assistantClaims("staff-1"), UpdateChatStatusRequest{Status: models.ChatStatusClosed})
	require.NoError(t, err)
	assert.Equal(t, models.ChatStatusClosed, chat.Status)
	require.NotNil(t, repo.assignees["ch1"])
	assert.Equal(t, "staff-1", *repo.assignees["ch1"])
}
