package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-commerce-api/internal/models"
)

func newNotificationRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestNotificationRepositoryCreateBatchSingleStatement(t *testing.T) {
	db, mock, cleanup := newNotificationRepoMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	batch := []models.Notification{
		{UserID: "u1", Title: "New course", Body: "Go Basics is live"},
		{UserID: "u2", Title: "New course", Body: "Go Basics is live"},
	}

	// One INSERT regardless of batch size; sqlx expands the named batch.
	mock.ExpectExec("INSERT INTO notifications").
		WillReturnResult(sqlmock.NewResult(0, int64(len(batch))))

	require.NoError(t, repo.CreateBatch(context.Background(), batch))
	assert.NotEmpty(t, batch[0].ID)
	assert.NotEmpty(t, batch[1].ID)
	assert.False(t, batch[0].CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepositoryCreateBatchEmptyIsNoop(t *testing.T) {
	db, mock, cleanup := newNotificationRepoMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	require.NoError(t, repo.CreateBatch(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepositoryMarkReadGuardsOwnerAndUnread(t *testing.T) {
	db, mock, cleanup := newNotificationRepoMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)
	readAt := time.Now().UTC()

	mock.ExpectExec(`UPDATE notifications SET read = TRUE, read_at = \$3 WHERE id = \$1 AND user_id = \$2 AND read = FALSE`).
		WithArgs("n1", "u1", readAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	updated, err := repo.MarkRead(context.Background(), "n1", "u1", readAt)
	require.NoError(t, err)
	assert.True(t, updated)

	// Someone else's notification never matches the user_id guard, and the
	// follow-up ownership check reports it as missing.
	mock.ExpectExec(`UPDATE notifications SET read = TRUE, read_at = \$3 WHERE id = \$1 AND user_id = \$2 AND read = FALSE`).
		WithArgs("n1", "u2", readAt).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM notifications WHERE id = \$1 AND user_id = \$2\)`).
		WithArgs("n1", "u2").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err = repo.MarkRead(context.Background(), "n1", "u2", readAt)
	require.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepositoryMarkReadReplayIsIdempotent(t *testing.T) {
	db, mock, cleanup := newNotificationRepoMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)
	readAt := time.Now().UTC()

	// Already read: the unread guard matches nothing but the row is owned.
	mock.ExpectExec(`UPDATE notifications SET read = TRUE, read_at = \$3 WHERE id = \$1 AND user_id = \$2 AND read = FALSE`).
		WithArgs("n1", "u1", readAt).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM notifications WHERE id = \$1 AND user_id = \$2\)`).
		WithArgs("n1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	updated, err := repo.MarkRead(context.Background(), "n1", "u1", readAt)
	require.NoError(t, err)
	assert.False(t, updated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepositoryListUnreadOnly(t *testing.T) {
	db, mock, cleanup := newNotificationRepoMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	rows := sqlmock.NewRows([]string{"id", "user_id", "title", "body", "course_id", "read", "read_at", "created_at"}).
		AddRow("n1", "u1", "New course", "Go Basics is live", nil, false, nil, time.Now())

	mock.ExpectQuery(`SELECT (.+) FROM notifications WHERE user_id = \$1 AND read = FALSE ORDER BY created_at DESC`).
		WithArgs("u1").
		WillReturnRows(rows)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM notifications WHERE user_id = \$1 AND read = FALSE`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	notifications, total, err := repo.List(context.Background(), models.NotificationFilter{UserID: "u1", UnreadOnly: true})
	require.NoError(t, err)
	assert.Len(t, notifications, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepositoryUnreadCount(t *testing.T) {
	db, mock, cleanup := newNotificationRepoMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM notifications WHERE user_id = \$1 AND read = FALSE`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	count, err := repo.UnreadCount(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 4, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
