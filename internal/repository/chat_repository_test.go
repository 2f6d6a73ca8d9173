package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-commerce-api/internal/models"
)

func newChatRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func messageRows(ids ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "chat_id", "sender_id", "body", "is_system", "read", "read_at", "created_at"})
	for i, id := range ids {
		rows.AddRow(id, "ch1", "u1", "hello", false, false, nil, time.Now().Add(time.Duration(i)*time.Second))
	}
	return rows
}

func TestChatRepositoryListMessagesAfterCursor(t *testing.T) {
	db, mock, cleanup := newChatRepoMock(t)
	defer cleanup()
	repo := NewChatRepository(db)

	mock.ExpectQuery(`SELECT (.+) FROM chat_messages\s+WHERE chat_id = \$1 AND \(created_at, id\) > \(`).
		WithArgs("ch1", "m1").
		WillReturnRows(messageRows("m2", "m3"))

	messages, err := repo.ListMessagesAfter(context.Background(), "ch1", "m1", 50)
	require.NoError(t, err)
	assert.Len(t, messages, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChatRepositoryListMessagesEmptyCursorReturnsLatestPage(t *testing.T) {
	db, mock, cleanup := newChatRepoMock(t)
	defer cleanup()
	repo := NewChatRepository(db)

	mock.ExpectQuery(`SELECT (.+) FROM \(\s+SELECT (.+) FROM chat_messages WHERE chat_id = \$1 ORDER BY created_at DESC`).
		WithArgs("ch1").
		WillReturnRows(messageRows("m1", "m2"))

	messages, err := repo.ListMessagesAfter(context.Background(), "ch1", "", 50)
	require.NoError(t, err)
	assert.Len(t, messages, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChatRepositoryMarkMessagesReadCountsRows(t *testing.T) {
	db, mock, cleanup := newChatRepoMock(t)
	defer cleanup()
	repo := NewChatRepository(db)
	readAt := time.Now().UTC()

	mock.ExpectExec(`UPDATE chat_messages SET read = TRUE, read_at = \$3`).
		WithArgs("ch1", "u1", readAt).
		WillReturnResult(sqlmock.NewResult(0, 3))

	updated, err := repo.MarkMessagesRead(context.Background(), "ch1", "u1", readAt)
	require.NoError(t, err)
	assert.Equal(t, int64(3), updated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChatRepositoryUnreadCounts(t *testing.T) {
	db, mock, cleanup := newChatRepoMock(t)
	defer cleanup()
	repo := NewChatRepository(db)

	rows := sqlmock.NewRows([]string{"chat_id", "unread"}).
		AddRow("ch1", 2).
		AddRow("ch2", 1)
	mock.ExpectQuery(`SELECT m.chat_id, COUNT\(\*\) AS unread`).
		WithArgs("u1").
		WillReturnRows(rows)

	counts, err := repo.UnreadCounts(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"ch1": 2, "ch2": 1}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChatRepositoryUpdateStatusKeepsAssigneeWhenNil(t *testing.T) {
	db, mock, cleanup := newChatRepoMock(t)
	defer cleanup()
	repo := NewChatRepository(db)

	mock.ExpectExec(`UPDATE chats SET status = \$2, assignee_id = COALESCE\(\$3, assignee_id\)`).
		WithArgs("ch1", models.ChatStatusClosed, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateStatus(context.Background(), "ch1", models.ChatStatusClosed, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}
