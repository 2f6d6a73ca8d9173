package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-commerce-api/internal/models"
	appErrors "github.com/noah-isme/lms-commerce-api/pkg/errors"
)

type mockCourseRepo struct {
	courses   map[string]*models.Course
	bySlug    map[string]*models.Course
	modules   []models.CourseModule
	lessons   []models.Lesson
	reordered [][]string
}

func (m *mockCourseRepo) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	var out []models.Course
	for _, c := range m.courses {
		if filter.Published != nil && c.Published != *filter.Published {
			continue
		}
		out = append(out, *c)
	}
	return out, len(out), nil
}

func (m *mockCourseRepo) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if c, ok := m.courses[id]; ok {
		clone := *c
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCourseRepo) FindBySlug(ctx context.Context, slug string) (*models.Course, error) {
	if c, ok := m.bySlug[slug]; ok {
		clone := *c
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCourseRepo) Create(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		course.ID = "course-new"
	}
	if m.courses == nil {
		m.courses = make(map[string]*models.Course)
	}
	if m.bySlug == nil {
		m.bySlug = make(map[string]*models.Course)
	}
	clone := *course
	m.courses[course.ID] = &clone
	m.bySlug[course.Slug] = &clone
	return nil
}

func (m *mockCourseRepo) Update(ctx context.Context, course *models.Course) error {
	clone := *course
	m.courses[course.ID] = &clone
	m.bySlug[course.Slug] = &clone
	return nil
}

func (m *mockCourseRepo) Delete(ctx context.Context, id string) error {
	delete(m.courses, id)
	return nil
}

func (m *mockCourseRepo) ListModules(ctx context.Context, courseID string) ([]models.CourseModule, error) {
	var out []models.CourseModule
	for _, mod := range m.modules {
		if mod.CourseID == courseID {
			out = append(out, mod)
		}
	}
	return out, nil
}

func (m *mockCourseRepo) FindModuleByID(ctx context.Context, id string) (*models.CourseModule, error) {
	for _, mod := range m.modules {
		if mod.ID == id {
			clone := mod
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockCourseRepo) NextModulePosition(ctx context.Context, courseID string) (int, error) {
	count := 0
	for _, mod := range m.modules {
		if mod.CourseID == courseID {
			count++
		}
	}
	return count + 1, nil
}

func (m *mockCourseRepo) CreateModule(ctx context.Context, module *models.CourseModule) error {
	if module.ID == "" {
		module.ID = "module-new"
	}
	m.modules = append(m.modules, *module)
	return nil
}

func (m *mockCourseRepo) UpdateModule(ctx context.Context, module *models.CourseModule) error {
	for i := range m.modules {
		if m.modules[i].ID == module.ID {
			m.modules[i] = *module
		}
	}
	return nil
}

func (m *mockCourseRepo) DeleteModule(ctx context.Context, id string) error {
	return nil
}

func (m *mockCourseRepo) ReorderModules(ctx context.Context, courseID string, orderedIDs []string) error {
	m.reordered = append(m.reordered, orderedIDs)
	return nil
}

func (m *mockCourseRepo) ListLessonsByCourse(ctx context.Context, courseID string) ([]models.Lesson, error) {
	return m.lessons, nil
}

func (m *mockCourseRepo) FindLessonByID(ctx context.Context, id string) (*models.Lesson, error) {
	for _, l := range m.lessons {
		if l.ID == id {
			clone := l
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockCourseRepo) NextLessonPosition(ctx context.Context, moduleID string) (int, error) {
	return 1, nil
}

func (m *mockCourseRepo) CreateLesson(ctx context.Context, lesson *models.Lesson) error {
	if lesson.ID == "" {
		lesson.ID = "lesson-new"
	}
	m.lessons = append(m.lessons, *lesson)
	return nil
}

func (m *mockCourseRepo) UpdateLesson(ctx context.Context, lesson *models.Lesson) error {
	return nil
}

func (m *mockCourseRepo) DeleteLesson(ctx context.Context, id string) error {
	return nil
}

func (m *mockCourseRepo) ReorderLessons(ctx context.Context, moduleID string, orderedIDs []string) error {
	m.reordered = append(m.reordered, orderedIDs)
	return nil
}

type mockEnrollmentChecker struct {
	enrolled map[string]bool
}

func (m *mockEnrollmentChecker) ExistsActive(ctx context.Context, userID, courseID string) (bool, error) {
	return m.enrolled[userID+":"+courseID], nil
}

func contentClaims(userID string) *models.JWTClaims {
	return &models.JWTClaims{UserID: userID, Role: models.RoleAdmin, Permissions: models.PermissionsForRole(models.RoleAdmin)}
}

func newCourseFixture() (*CourseService, *mockCourseRepo, *mockEnrollmentChecker) {
	repo := &mockCourseRepo{
		courses: map[string]*models.Course{
			"c1": {ID: "c1", Slug: "go-basics", Title: "Go Basics", Published: true, PriceCents: 4990, Currency: "USD"},
			"c2": {ID: "c2", Slug: "draft-course", Title: "Draft Course", Published: false},
		},
		modules: []models.CourseModule{
			{ID: "m1", CourseID: "c1", Title: "Getting started", Position: 1},
			{ID: "m2", CourseID: "c1", Title: "Concurrency", Position: 2},
		},
		lessons: []models.Lesson{
			{ID: "l1", ModuleID: "m1", Title: "Hello world", Content: "package main...", VideoURL: "https://cdn.test/l1.mp4", Position: 1},
			{ID: "l2", ModuleID: "m2", Title: "Goroutines", Content: "go func()...", Position: 1},
		},
	}
	repo.bySlug = map[string]*models.Course{
		"go-basics":    repo.courses["c1"],
		"draft-course": repo.courses["c2"],
	}
	checker := &mockEnrollmentChecker{enrolled: map[string]bool{}}
	svc := NewCourseService(repo, checker, nil, nil)
	return svc, repo, checker
}

func TestCourseListHidesUnpublishedFromStudents(t *testing.T) {
	svc, _, _ := newCourseFixture()

	courses, _, err := svc.List(context.Background(), models.CourseFilter{}, studentClaims("u1"))
	require.NoError(t, err)
	require.Len(t, courses, 1)
	assert.Equal(t, "go-basics", courses[0].Slug)

	// Content managers see drafts too.
	courses, _, err = svc.List(context.Background(), models.CourseFilter{}, contentClaims("admin-1"))
	require.NoError(t, err)
	assert.Len(t, courses, 2)
}

func TestCourseTreeStripsContentForAnonymousViewers(t *testing.T) {
	svc, _, _ := newCourseFixture()

	detail, err := svc.GetTree(context.Background(), "go-basics", nil)
	require.NoError(t, err)
	require.Len(t, detail.Modules, 2)
	require.Len(t, detail.Modules[0].Lessons, 1)
	assert.Empty(t, detail.Modules[0].Lessons[0].Content)
	assert.Empty(t, detail.Modules[0].Lessons[0].VideoURL)
	// Structure stays visible for the catalog page.
	assert.Equal(t, "Hello world", detail.Modules[0].Lessons[0].Title)
}

func TestCourseTreeKeepsContentForEnrolledStudents(t *testing.T) {
	svc, _, checker := newCourseFixture()
	checker.enrolled["u1:c1"] = true

	detail, err := svc.GetTree(context.Background(), "go-basics", studentClaims("u1"))
	require.NoError(t, err)
	assert.NotEmpty(t, detail.Modules[0].Lessons[0].Content)
	assert.NotEmpty(t, detail.Modules[0].Lessons[0].VideoURL)
}

func TestCourseTreeUnpublishedIsNotFoundForStudents(t *testing.T) {
	svc, _, _ := newCourseFixture()

	_, err := svc.GetTree(context.Background(), "draft-course", studentClaims("u1"))
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)

	_, err = svc.GetTree(context.Background(), "draft-course", contentClaims("admin-1"))
	require.NoError(t, err)
}

func TestGetLessonRequiresEnrollment(t *testing.T) {
	svc, _, checker := newCourseFixture()

	_, err := svc.GetLesson(context.Background(), "l1", studentClaims("u1"))
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)

	checker.enrolled["u1:c1"] = true
	lesson, err := svc.GetLesson(context.Background(), "l1", studentClaims("u1"))
	require.NoError(t, err)
	assert.NotEmpty(t, lesson.Content)
}

func TestCourseCreateNormalisesSlugAndCurrency(t *testing.T) {
	svc, _, _ := newCourseFixture()

	course, err := svc.Create(context.Background(), CreateCourseRequest{
		Slug:     "  Advanced-SQL  ",
		Title:    "Advanced SQL",
		Currency: "usd",
	})
	require.NoError(t, err)
	assert.Equal(t, "advanced-sql", course.Slug)
	assert.Equal(t, "USD", course.Currency)
}

func TestCourseCreateRejectsDuplicateSlug(t *testing.T) {
	svc, _, _ := newCourseFixture()

	_, err := svc.Create(context.Background(), CreateCourseRequest{
		Slug:     "go-basics",
		Title:    "Another Go Course",
		Currency: "USD",
	})
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
}

func TestCourseCreateRejectsBadSlug(t *testing.T) {
	svc, _, _ := newCourseFixture()

	_, err := svc.Create(context.Background(), CreateCourseRequest{
		Slug:     "No Spaces Allowed",
		Title:    "Broken",
		Currency: "USD",
	})
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestAddModuleAppendsAtNextPosition(t *testing.T) {
	svc, repo, _ := newCourseFixture()

	module, err := svc.AddModule(context.Background(), "c1", ModuleRequest{Title: "Testing"})
	require.NoError(t, err)
	assert.Equal(t, 3, module.Position)
	assert.Len(t, repo.modules, 3)
}

func TestReorderModulesRejectsPartialOrdering(t *testing.T) {
	svc, _, _ := newCourseFixture()

	err := svc.ReorderModules(context.Background(), "c1", ReorderRequest{OrderedIDs: []string{"m1"}})
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestReorderModulesRejectsUnknownAndDuplicateIDs(t *testing.T) {
	svc, _, _ := newCourseFixture()

	err := svc.ReorderModules(context.Background(), "c1", ReorderRequest{OrderedIDs: []string{"m1", "ghost"}})
	require.Error(t, err)

	err = svc.ReorderModules(context.Background(), "c1", ReorderRequest{OrderedIDs: []string{"m1", "m1"}})
	require.Error(t, err)
}

func TestReorderModulesAppliesPermutation(t *testing.T) {
	svc, repo, _ := newCourseFixture()

	require.NoError(t, svc.ReorderModules(context.Background(), "c1", ReorderRequest{OrderedIDs: []string{"m2", "m1"}}))
	require.Len(t, repo.reordered, 1)
	assert.Equal(t, []string{"m2", "m1"}, repo.reordered[0])
}

func TestReorderLessonsScopedToModule(t *testing.T) {
	svc, repo, _ := newCourseFixture()

	// m1 holds only l1; ordering may not include l2 from another module.
	err := svc.ReorderLessons(context.Background(), "m1", ReorderRequest{OrderedIDs: []string{"l2"}})
	require.Error(t, err)

	require.NoError(t, svc.ReorderLessons(context.Background(), "m1", ReorderRequest{OrderedIDs: []string{"l1"}}))
	require.Len(t, repo.reordered, 1)
}
