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

// CourseRepository handles persistence of the catalog tree.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

const courseColumns = `id, slug, title, description, price_cents, currency, published, created_at, updated_at`

// List returns courses filtered by the provided criteria.
func (r *CourseRepository) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	baseQuery := `FROM courses WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Published != nil {
		conditions = append(conditions, fmt.Sprintf("published = $%d", len(args)+1))
		args = append(args, *filter.Published)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(title) LIKE $%d OR LOWER(slug) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]bool{"title": true, "price_cents": true, "created_at": true}
	sortBy := filter.SortBy
	if !allowedSorts[sortBy] {
		sortBy = "created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
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

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", courseColumns, baseQuery, sortBy, order, size, offset)
	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}
	return courses, total, nil
}

// FindByID returns a course by identifier.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	query := fmt.Sprintf(`SELECT %s FROM courses WHERE id = $1 LIMIT 1`, courseColumns)
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find course by id: %w", err)
	}
	return &course, nil
}

// FindBySlug returns a course by its URL slug.
func (r *CourseRepository) FindBySlug(ctx context.Context, slug string) (*models.Course, error) {
	query := fmt.Sprintf(`SELECT %s FROM courses WHERE slug = $1 LIMIT 1`, courseColumns)
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, slug); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find course by slug: %w", err)
	}
	return &course, nil
}

// FindByIDs loads a set of courses preserving no particular order.
func (r *CourseRepository) FindByIDs(ctx context.Context, ids []string) ([]models.Course, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := fmt.Sprintf("SELECT %s FROM courses WHERE id IN (%s)", courseColumns, strings.Join(placeholders, ","))
	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, args...); err != nil {
		return nil, fmt.Errorf("find courses by ids: %w", err)
	}
	return courses, nil
}

// Create inserts a new course.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if course.CreatedAt.IsZero() {
		course.CreatedAt = now
	}
	course.UpdatedAt = now
	const query = `INSERT INTO courses (id, slug, title, description, price_cents, currency, published, created_at, updated_at)
        VALUES (:id, :slug, :title, :description, :price_cents, :currency, :published, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("create course: %w", err)
	}
	return nil
}

// Update modifies mutable course fields.
func (r *CourseRepository) Update(ctx context.Context, course *models.Course) error {
	course.UpdatedAt = time.Now().UTC()
	const query = `UPDATE courses SET slug = :slug, title = :title, description = :description, price_cents = :price_cents,
        currency = :currency, published = :published, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("update course: %w", err)
	}
	return nil
}

// Delete removes a course and its tree (modules/lessons cascade in schema).
func (r *CourseRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM courses WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete course: %w", err)
	}
	return nil
}

// ListModules returns the ordered modules of a course.
func (r *CourseRepository) ListModules(ctx context.Context, courseID string) ([]models.CourseModule, error) {
	const query = `SELECT id, course_id, title, position, created_at, updated_at FROM course_modules WHERE course_id = $1 ORDER BY position ASC`
	var modules []models.CourseModule
	if err := r.db.SelectContext(ctx, &modules, query, courseID); err != nil {
		return nil, fmt.Errorf("list course modules: %w", err)
	}
	return modules, nil
}

// FindModuleByID returns one module.
func (r *CourseRepository) FindModuleByID(ctx context.Context, id string) (*models.CourseModule, error) {
	const query = `SELECT id, course_id, title, position, created_at, updated_at FROM course_modules WHERE id = $1 LIMIT 1`
	var module models.CourseModule
	if err := r.db.GetContext(ctx, &module, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find module by id: %w", err)
	}
	return &module, nil
}

// NextModulePosition returns the append position for a course.
func (r *CourseRepository) NextModulePosition(ctx context.Context, courseID string) (int, error) {
	var position int
	const query = `SELECT COALESCE(MAX(position), 0) + 1 FROM course_modules WHERE course_id = $1`
	if err := r.db.GetContext(ctx, &position, query, courseID); err != nil {
		return 0, fmt.Errorf("next module position: %w", err)
	}
	return position, nil
}

// CreateModule appends a module to a course.
func (r *CourseRepository) CreateModule(ctx context.Context, module *models.CourseModule) error {
	if module.ID == "" {
		module.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if module.CreatedAt.IsZero() {
		module.CreatedAt = now
	}
	module.UpdatedAt = now
	const query = `INSERT INTO course_modules (id, course_id, title, position, created_at, updated_at)
        VALUES (:id, :course_id, :title, :position, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, module); err != nil {
		return fmt.Errorf("create module: %w", err)
	}
	return nil
}

// UpdateModule renames a module.
func (r *CourseRepository) UpdateModule(ctx context.Context, module *models.CourseModule) error {
	module.UpdatedAt = time.Now().UTC()
	const query = `UPDATE course_modules SET title = :title, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, module); err != nil {
		return fmt.Errorf("update module: %w", err)
	}
	return nil
}

// DeleteModule removes a module and its lessons.
func (r *CourseRepository) DeleteModule(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM course_modules WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete module: %w", err)
	}
	return nil
}

// ReorderModules reassigns positions for a course's modules atomically.
func (r *CourseRepository) ReorderModules(ctx context.Context, courseID string, orderedIDs []string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reorder modules: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	now := time.Now().UTC()
	for i, id := range orderedIDs {
		if _, err := tx.ExecContext(ctx, `UPDATE course_modules SET position = $3, updated_at = $4 WHERE id = $1 AND course_id = $2`, id, courseID, i+1, now); err != nil {
			return fmt.Errorf("reorder module %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reorder modules: %w", err)
	}
	return nil
}

// ListLessons returns the ordered lessons of a module.
func (r *CourseRepository) ListLessons(ctx context.Context, moduleID string) ([]models.Lesson, error) {
	const query = `SELECT id, module_id, title, content, video_url, position, created_at, updated_at FROM lessons WHERE module_id = $1 ORDER BY position ASC`
	var lessons []models.Lesson
	if err := r.db.SelectContext(ctx, &lessons, query, moduleID); err != nil {
		return nil, fmt.Errorf("list lessons: %w", err)
	}
	return lessons, nil
}

// ListLessonsByCourse returns every lesson under a course ordered by module
// then lesson position.
func (r *CourseRepository) ListLessonsByCourse(ctx context.Context, courseID string) ([]models.Lesson, error) {
	const query = `SELECT l.id, l.module_id, l.title, l.content, l.video_url, l.position, l.created_at, l.updated_at
        FROM lessons l
        JOIN course_modules m ON m.id = l.module_id
        WHERE m.course_id = $1
        ORDER BY m.position ASC, l.position ASC`
	var lessons []models.Lesson
	if err := r.db.SelectContext(ctx, &lessons, query, courseID); err != nil {
		return nil, fmt.Errorf("list course lessons: %w", err)
	}
	return lessons, nil
}

// FindLessonByID returns one lesson.
func (r *CourseRepository) FindLessonByID(ctx context.Context, id string) (*models.Lesson, error) {
	const query = `SELECT id, module_id, title, content, video_url, position, created_at, updated_at FROM lessons WHERE id = $1 LIMIT 1`
	var lesson models.Lesson
	if err := r.db.GetContext(ctx, &lesson, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find lesson by id: %w", err)
	}
	return &lesson, nil
}

// NextLessonPosition returns the append position for a module.
func (r *CourseRepository) NextLessonPosition(ctx context.Context, moduleID string) (int, error) {
	var position int
	const query = `SELECT COALESCE(MAX(position), 0) + 1 FROM lessons WHERE module_id = $1`
	if err := r.db.GetContext(ctx, &position, query, moduleID); err != nil {
		return 0, fmt.Errorf("next lesson position: %w", err)
	}
	return position, nil
}

// CreateLesson appends a lesson to a module.
func (r *CourseRepository) CreateLesson(ctx context.Context, lesson *models.Lesson) error {
	if lesson.ID == "" {
		lesson.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if lesson.CreatedAt.IsZero() {
		lesson.CreatedAt = now
	}
	lesson.UpdatedAt = now
	const query = `INSERT INTO lessons (id, module_id, title, content, video_url, position, created_at, updated_at)
        VALUES (:id, :module_id, :title, :content, :video_url, :position, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, lesson); err != nil {
		return fmt.Errorf("create lesson: %w", err)
	}
	return nil
}

// UpdateLesson modifies lesson content.
func (r *CourseRepository) UpdateLesson(ctx context.Context, lesson *models.Lesson) error {
	lesson.UpdatedAt = time.Now().UTC()
	const query = `UPDATE lessons SET title = :title, content = :content, video_url = :video_url, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, lesson); err != nil {
		return fmt.Errorf("update lesson: %w", err)
	}
	return nil
}

// DeleteLesson removes a lesson.
func (r *CourseRepository) DeleteLesson(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM lessons WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete lesson: %w", err)
	}
	return nil
}

// ReorderLessons reassigns positions for a module's lessons atomically.
func (r *CourseRepository) ReorderLessons(ctx context.Context, moduleID string, orderedIDs []string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reorder lessons: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	now := time.Now().UTC()
	for i, id := range orderedIDs {
		if _, err := tx.ExecContext(ctx, `UPDATE lessons SET position = $3, updated_at = $4 WHERE id = $1 AND module_id = $2`, id, moduleID, i+1, now); err != nil {
			return fmt.Errorf("reorder lesson %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reorder lessons: %w", err)
	}
	return nil
}
