package models

import "time"

// Course is a sellable unit of content. Price is stored as integer cents.
type Course struct {
	ID          string    `db:"id" json:"id"`
	Slug        string    `db:"slug" json:"slug"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`
	PriceCents  int64     `db:"price_cents" json:"price_cents"`
	Currency    string    `db:"currency" json:"currency"`
	Published   bool      `db:"published" json:"published"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// CourseModule groups lessons inside a course. Position drives display order.
type CourseModule struct {
	ID        string    `db:"id" json:"id"`
	CourseID  string    `db:"course_id" json:"course_id"`
	Title     string    `db:"title" json:"title"`
	Position  int       `db:"position" json:"position"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Lesson is the leaf of the catalog tree. Content is only exposed to
// enrolled users.
type Lesson struct {
	ID        string    `db:"id" json:"id"`
	ModuleID  string    `db:"module_id" json:"module_id"`
	Title     string    `db:"title" json:"title"`
	Content   string    `db:"content" json:"content,omitempty"`
	VideoURL  string    `db:"video_url" json:"video_url,omitempty"`
	Position  int       `db:"position" json:"position"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ModuleDetail is a module with its ordered lessons.
type ModuleDetail struct {
	CourseModule
	Lessons []Lesson `json:"lessons"`
}

// CourseDetail is a course with its ordered module tree.
type CourseDetail struct {
	Course
	Modules []ModuleDetail `json:"modules"`
}

// CourseFilter captures catalog listing criteria.
type CourseFilter struct {
	Published *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
