package service

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-commerce-api/internal/models"
	appErrors "github.com/noah-isme/lms-commerce-api/pkg/errors"
)

type courseRepository interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error)
	FindByID(ctx context.Context, id string) (*models.Course, error)
	FindBySlug(ctx context.Context, slug string) (*models.Course, error)
	Create(ctx context.Context, course *models.Course) error
	Update(ctx context.Context, course *models.Course) error
	Delete(ctx context.Context, id string) error
	ListModules(ctx context.Context, courseID string) ([]models.CourseModule, error)
	FindModuleByID(ctx context.Context, id string) (*models.CourseModule, error)
	NextModulePosition(ctx context.Context, courseID string) (int, error)
	CreateModule(ctx context.Context, module *models.CourseModule) error
	UpdateModule(ctx context.Context, module *models.CourseModule) error
	DeleteModule(ctx context.Context, id string) error
	ReorderModules(ctx context.Context, courseID string, orderedIDs []string) error
	ListLessonsByCourse(ctx context.Context, courseID string) ([]models.Lesson, error)
	FindLessonByID(ctx context.Context, id string) (*models.Lesson, error)
	NextLessonPosition(ctx context.Context, moduleID string) (int, error)
	CreateLesson(ctx context.Context, lesson *models.Lesson) error
	UpdateLesson(ctx context.Context, lesson *models.Lesson) error
	DeleteLesson(ctx context.Context, id string) error
	ReorderLessons(ctx context.Context, moduleID string, orderedIDs []string) error
}

type courseEnrollmentChecker interface {
	ExistsActive(ctx context.Context, userID, courseID string) (bool, error)
}

// CreateCourseRequest is the catalog creation payload.
type CreateCourseRequest struct {
	Slug        string `json:"slug" validate:"required,min=3,max=80"`
	Title       string `json:"title" validate:"required,min=3,max=200"`
	Description string `json:"description"`
	PriceCents  int64  `json:"price_cents" validate:"gte=0"`
	Currency    string `json:"currency" validate:"required,len=3"`
	Published   bool   `json:"published"`
}

// UpdateCourseRequest mirrors the creation payload for edits.
type UpdateCourseRequest struct {
	Slug        string `json:"slug" validate:"required,min=3,max=80"`
	Title       string `json:"title" validate:"required,min=3,max=200"`
	Description string `json:"description"`
	PriceCents  int64  `json:"price_cents" validate:"gte=0"`
	Currency    string `json:"currency" validate:"required,len=3"`
	Published   *bool  `json:"published"`
}

// ModuleRequest creates or renames a module.
type ModuleRequest struct {
	Title string `json:"title" validate:"required,min=1,max=200"`
}

// LessonRequest creates or edits a lesson.
type LessonRequest struct {
	Title    string `json:"title" validate:"required,min=1,max=200"`
	Content  string `json:"content"`
	VideoURL string `json:"video_url" validate:"omitempty,url"`
}

// ReorderRequest is an explicit full ordering of child ids.
type ReorderRequest struct {
	OrderedIDs []string `json:"ordered_ids" validate:"required,min=1,dive,required"`
}

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// CourseService manages the catalog tree. Unpublished courses are invisible
// to students; lesson content is stripped unless the viewer holds an active
// enrollment or the content permission.
type CourseService struct {
	repo        courseRepository
	enrollments courseEnrollmentChecker
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewCourseService constructs a CourseService.
func NewCourseService(repo courseRepository, enrollments courseEnrollmentChecker, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &CourseService{repo: repo, enrollments: enrollments, validator: validate, logger: logger}
}

// List returns catalog courses. Non-staff viewers only see published ones.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter, claims *models.JWTClaims) ([]models.Course, *models.Pagination, error) {
	if claims == nil || !claims.Permissions.ManageContent {
		published := true
		filter.Published = &published
	}

	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	return courses, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// GetTree returns the full course tree by slug. Lesson content and video
// URLs are cleared unless the viewer may access them.
func (s *CourseService) GetTree(ctx context.Context, slug string, claims *models.JWTClaims) (*models.CourseDetail, error) {
	course, err := s.repo.FindBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	canManage := claims != nil && claims.Permissions.ManageContent
	if !course.Published && !canManage {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
	}

	modules, err := s.repo.ListModules(ctx, course.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load modules")
	}
	lessons, err := s.repo.ListLessonsByCourse(ctx, course.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lessons")
	}

	canViewContent := canManage
	if !canViewContent && claims != nil {
		enrolled, err := s.enrollments.ExistsActive(ctx, claims.UserID, course.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
		}
		canViewContent = enrolled
	}

	byModule := make(map[string][]models.Lesson, len(modules))
	for _, lesson := range lessons {
		if !canViewContent {
			lesson.Content = ""
			lesson.VideoURL = ""
		}
		byModule[lesson.ModuleID] = append(byModule[lesson.ModuleID], lesson)
	}

	detail := &models.CourseDetail{Course: *course, Modules: make([]models.ModuleDetail, 0, len(modules))}
	for _, module := range modules {
		detail.Modules = append(detail.Modules, models.ModuleDetail{
			CourseModule: module,
			Lessons:      byModule[module.ID],
		})
	}
	return detail, nil
}

// GetLesson returns a single lesson with content, enforcing enrollment.
func (s *CourseService) GetLesson(ctx context.Context, lessonID string, claims *models.JWTClaims) (*models.Lesson, error) {
	lesson, err := s.repo.FindLessonByID(ctx, lessonID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lesson not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lesson")
	}

	module, err := s.repo.FindModuleByID(ctx, lesson.ModuleID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load module")
	}

	if claims == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}
	if !claims.Permissions.ManageContent {
		enrolled, err := s.enrollments.ExistsActive(ctx, claims.UserID, module.CourseID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
		}
		if !enrolled {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "active enrollment required")
		}
	}
	return lesson, nil
}

// Create adds a catalog course.
func (s *CourseService) Create(ctx context.Context, req CreateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	slug := strings.ToLower(strings.TrimSpace(req.Slug))
	if !slugPattern.MatchString(slug) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "slug must be lowercase letters, digits and hyphens")
	}
	if _, err := s.repo.FindBySlug(ctx, slug); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "slug already in use")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check slug")
	}

	course := &models.Course{
		Slug:        slug,
		Title:       req.Title,
		Description: req.Description,
		PriceCents:  req.PriceCents,
		Currency:    strings.ToUpper(req.Currency),
		Published:   req.Published,
	}
	if err := s.repo.Create(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}
	return course, nil
}

// Update edits a catalog course.
func (s *CourseService) Update(ctx context.Context, id string, req UpdateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}

	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	slug := strings.ToLower(strings.TrimSpace(req.Slug))
	if !slugPattern.MatchString(slug) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "slug must be lowercase letters, digits and hyphens")
	}
	if slug != course.Slug {
		if existing, err := s.repo.FindBySlug(ctx, slug); err == nil && existing.ID != course.ID {
			return nil, appErrors.Clone(appErrors.ErrConflict, "slug already in use")
		} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check slug")
		}
	}

	course.Slug = slug
	course.Title = req.Title
	course.Description = req.Description
	course.PriceCents = req.PriceCents
	course.Currency = strings.ToUpper(req.Currency)
	if req.Published != nil {
		course.Published = *req.Published
	}

	if err := s.repo.Update(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
	}
	return course, nil
}

// Delete removes a course and its tree.
func (s *CourseService) Delete(ctx context.Context, id string) error {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete course")
	}
	return nil
}

// AddModule appends a module to a course.
func (s *CourseService) AddModule(ctx context.Context, courseID string, req ModuleRequest) (*models.CourseModule, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid module payload")
	}
	if _, err := s.repo.FindByID(ctx, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	position, err := s.repo.NextModulePosition(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute module position")
	}

	module := &models.CourseModule{CourseID: courseID, Title: req.Title, Position: position}
	if err := s.repo.CreateModule(ctx, module); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create module")
	}
	return module, nil
}

// RenameModule changes a module title.
func (s *CourseService) RenameModule(ctx context.Context, moduleID string, req ModuleRequest) (*models.CourseModule, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid module payload")
	}
	module, err := s.repo.FindModuleByID(ctx, moduleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "module not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load module")
	}
	module.Title = req.Title
	if err := s.repo.UpdateModule(ctx, module); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update module")
	}
	return module, nil
}

// DeleteModule removes a module and its lessons.
func (s *CourseService) DeleteModule(ctx context.Context, moduleID string) error {
	if _, err := s.repo.FindModuleByID(ctx, moduleID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "module not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load module")
	}
	if err := s.repo.DeleteModule(ctx, moduleID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete module")
	}
	return nil
}

// ReorderModules applies a full explicit ordering of a course's modules.
func (s *CourseService) ReorderModules(ctx context.Context, courseID string, req ReorderRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reorder payload")
	}
	modules, err := s.repo.ListModules(ctx, courseID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load modules")
	}
	if err := validateOrdering(req.OrderedIDs, moduleIDs(modules)); err != nil {
		return appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	if err := s.repo.ReorderModules(ctx, courseID, req.OrderedIDs); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reorder modules")
	}
	return nil
}

// AddLesson appends a lesson to a module.
func (s *CourseService) AddLesson(ctx context.Context, moduleID string, req LessonRequest) (*models.Lesson, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid lesson payload")
	}
	if _, err := s.repo.FindModuleByID(ctx, moduleID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "module not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load module")
	}

	position, err := s.repo.NextLessonPosition(ctx, moduleID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute lesson position")
	}

	lesson := &models.Lesson{
		ModuleID: moduleID,
		Title:    req.Title,
		Content:  req.Content,
		VideoURL: req.VideoURL,
		Position: position,
	}
	if err := s.repo.CreateLesson(ctx, lesson); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create lesson")
	}
	return lesson, nil
}

// UpdateLesson edits a lesson.
func (s *CourseService) UpdateLesson(ctx context.Context, lessonID string, req LessonRequest) (*models.Lesson, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid lesson payload")
	}
	lesson, err := s.repo.FindLessonByID(ctx, lessonID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lesson not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lesson")
	}
	lesson.Title = req.Title
	lesson.Content = req.Content
	lesson.VideoURL = req.VideoURL
	if err := s.repo.UpdateLesson(ctx, lesson); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update lesson")
	}
	return lesson, nil
}

// DeleteLesson removes a lesson.
func (s *CourseService) DeleteLesson(ctx context.Context, lessonID string) error {
	if _, err := s.repo.FindLessonByID(ctx, lessonID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "lesson not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lesson")
	}
	if err := s.repo.DeleteLesson(ctx, lessonID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete lesson")
	}
	return nil
}

// ReorderLessons applies a full explicit ordering of a module's lessons.
func (s *CourseService) ReorderLessons(ctx context.Context, moduleID string, req ReorderRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reorder payload")
	}
	module, err := s.repo.FindModuleByID(ctx, moduleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "module not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load module")
	}
	lessons, err := s.repo.ListLessonsByCourse(ctx, module.CourseID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lessons")
	}
	var current []string
	for _, lesson := range lessons {
		if lesson.ModuleID == moduleID {
			current = append(current, lesson.ID)
		}
	}
	if err := validateOrdering(req.OrderedIDs, current); err != nil {
		return appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	if err := s.repo.ReorderLessons(ctx, moduleID, req.OrderedIDs); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reorder lessons")
	}
	return nil
}

func moduleIDs(modules []models.CourseModule) []string {
	ids := make([]string, 0, len(modules))
	for _, m := range modules {
		ids = append(ids, m.ID)
	}
	return ids
}

// validateOrdering requires the proposed ordering to be a permutation of the
// current child set.
func validateOrdering(proposed, current []string) error {
	if len(proposed) != len(current) {
		return errors.New("ordering must include every child exactly once")
	}
	seen := make(map[string]bool, len(current))
	for _, id := range current {
		seen[id] = true
	}
	dup := make(map[string]bool, len(proposed))
	for _, id := range proposed {
		if !seen[id] {
			return errors.New("ordering references an unknown child")
		}
		if dup[id] {
			return errors.New("ordering repeats a child")
		}
		dup[id] = true
	}
	return nil
}
