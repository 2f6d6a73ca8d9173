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

func newAnalyticsRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func revenueWindow() models.RevenueFilter {
	to := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	return models.RevenueFilter{From: to.AddDate(0, -1, 0), To: to}
}

func TestAnalyticsRepositoryRevenueTotalsCountsCompletedOnly(t *testing.T) {
	db, mock, cleanup := newAnalyticsRepoMock(t)
	defer cleanup()
	repo := NewAnalyticsRepository(db)
	filter := revenueWindow()

	mock.ExpectQuery(`SELECT COALESCE\(SUM\(total_cents\), 0\) AS gross, COUNT\(\*\) AS orders\s+FROM orders WHERE status = \$1 AND paid_at >= \$2 AND paid_at < \$3`).
		WithArgs(models.OrderStatusCompleted, filter.From, filter.To).
		WillReturnRows(sqlmock.NewRows([]string{"gross", "orders"}).AddRow(int64(129900), 13))

	gross, orders, err := repo.RevenueTotals(context.Background(), filter)
	require.NoError(t, err)
	assert.Equal(t, int64(129900), gross)
	assert.Equal(t, 13, orders)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAnalyticsRepositoryRevenueByDayBucketsAscending(t *testing.T) {
	db, mock, cleanup := newAnalyticsRepoMock(t)
	defer cleanup()
	repo := NewAnalyticsRepository(db)
	filter := revenueWindow()

	rows := sqlmock.NewRows([]string{"day", "gross_cents", "orders"}).
		AddRow(filter.From, int64(4990), 1).
		AddRow(filter.From.AddDate(0, 0, 1), int64(9980), 2)
	mock.ExpectQuery(`SELECT date_trunc\('day', paid_at\) AS day`).
		WithArgs(models.OrderStatusCompleted, filter.From, filter.To).
		WillReturnRows(rows)

	points, err := repo.RevenueByDay(context.Background(), filter)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, int64(4990), points[0].GrossCents)
	assert.Equal(t, 2, points[1].Orders)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAnalyticsRepositoryTopCoursesClampsLimit(t *testing.T) {
	db, mock, cleanup := newAnalyticsRepoMock(t)
	defer cleanup()
	repo := NewAnalyticsRepository(db)
	filter := revenueWindow()

	rows := sqlmock.NewRows([]string{"course_id", "course_title", "gross_cents", "units"}).
		AddRow("c1", "Go Basics", int64(49900), 10)
	mock.ExpectQuery(`ORDER BY gross_cents DESC LIMIT 10`).
		WithArgs(models.OrderStatusCompleted, filter.From, filter.To).
		WillReturnRows(rows)

	top, err := repo.TopCourses(context.Background(), filter, 0)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "Go Basics", top[0].CourseTitle)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAnalyticsRepositoryCountUsersSplitsStudents(t *testing.T) {
	db, mock, cleanup := newAnalyticsRepoMock(t)
	defer cleanup()
	repo := NewAnalyticsRepository(db)

	mock.ExpectQuery(`COUNT\(\*\) FILTER \(WHERE role = \$1\) AS students`).
		WithArgs(models.RoleStudent).
		WillReturnRows(sqlmock.NewRows([]string{"total", "students"}).AddRow(120, 110))

	total, students, err := repo.CountUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 120, total)
	assert.Equal(t, 110, students)
	assert.NoError(t, mock.ExpectationsWereMet())
}
