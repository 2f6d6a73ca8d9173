package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-commerce-api/internal/models"
	appErrors "github.com/noah-isme/lms-commerce-api/pkg/errors"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindByUserAndCourse(ctx context.Context, userID, courseID string) (*models.Enrollment, error)
	ExistsActive(ctx context.Context, userID, courseID string) (bool, error)
	ActiveCourseIDs(ctx context.Context, userID string) ([]string, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	UpdateExpiry(ctx context.Context, id string, expiresAt *time.Time) error
	Delete(ctx context.Context, id string) error
}

type enrollmentCourseFinder interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type enrollmentUserFinder interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// GrantEnrollmentRequest manually grants course access.
type GrantEnrollmentRequest struct {
	UserID    string     `json:"user_id" validate:"required,uuid4"`
	CourseID  string     `json:"course_id" validate:"required,uuid4"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// EnrollmentService manages course access grants.
type EnrollmentService struct {
	repo      enrollmentRepository
	courses   enrollmentCourseFinder
	users     enrollmentUserFinder
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs an EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, courses enrollmentCourseFinder, users enrollmentUserFinder, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &EnrollmentService{repo: repo, courses: courses, users: users, validator: validate, logger: logger}
}

// List returns enrollments. Students are forced onto their own user id.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter, claims *models.JWTClaims) ([]models.EnrollmentDetail, *models.Pagination, error) {
	if claims == nil {
		return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}
	if !claims.Permissions.ManageUsers && !claims.Permissions.ManageOrders {
		filter.UserID = claims.UserID
	}

	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	return enrollments, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// MyCourses returns the course ids the caller can currently access.
func (s *EnrollmentService) MyCourses(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.repo.ActiveCourseIDs(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrolled courses")
	}
	return ids, nil
}

// Grant manually creates an enrollment for a user.
func (s *EnrollmentService) Grant(ctx context.Context, req GrantEnrollmentRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}

	if _, err := s.users.FindByID(ctx, req.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if _, err := s.courses.FindByID(ctx, req.CourseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	active, err := s.repo.ExistsActive(ctx, req.UserID, req.CourseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if active {
		return nil, appErrors.Clone(appErrors.ErrAlreadyEnrolled, "user is already enrolled")
	}

	enrollment := &models.Enrollment{
		UserID:    req.UserID,
		CourseID:  req.CourseID,
		Source:    models.EnrollmentSourceAdmin,
		ExpiresAt: req.ExpiresAt,
	}
	if err := s.repo.Create(ctx, enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}
	return enrollment, nil
}

// ExistsActive reports whether the user currently has access to the course.
func (s *EnrollmentService) ExistsActive(ctx context.Context, userID, courseID string) (bool, error) {
	active, err := s.repo.ExistsActive(ctx, userID, courseID)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	return active, nil
}

// EnsureFromPurchase creates a lifetime enrollment after a paid order. An
// existing active grant is left untouched so webhook replays stay idempotent.
func (s *EnrollmentService) EnsureFromPurchase(ctx context.Context, userID, courseID string) error {
	active, err := s.repo.ExistsActive(ctx, userID, courseID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if active {
		return nil
	}
	enrollment := &models.Enrollment{
		UserID:   userID,
		CourseID: courseID,
		Source:   models.EnrollmentSourcePurchase,
	}
	if err := s.repo.Create(ctx, enrollment); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}
	return nil
}

// EnsureFromSubscription creates or extends a subscription-backed grant up to
// the current period end.
func (s *EnrollmentService) EnsureFromSubscription(ctx context.Context, userID, courseID string, periodEnd time.Time) error {
	existing, err := s.repo.FindByUserAndCourse(ctx, userID, courseID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
		}
		enrollment := &models.Enrollment{
			UserID:    userID,
			CourseID:  courseID,
			Source:    models.EnrollmentSourceSubscription,
			ExpiresAt: &periodEnd,
		}
		if err := s.repo.Create(ctx, enrollment); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
		}
		return nil
	}

	// Lifetime grants and grants already reaching past the period stay as is.
	if existing.ExpiresAt == nil || existing.ExpiresAt.After(periodEnd) {
		return nil
	}
	if err := s.repo.UpdateExpiry(ctx, existing.ID, &periodEnd); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to extend enrollment")
	}
	return nil
}

// Revoke removes an enrollment.
func (s *EnrollmentService) Revoke(ctx context.Context, id string) error {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke enrollment")
	}
	return nil
}
