package models

import "time"

// EnrollmentSource records how the access was granted.
type EnrollmentSource string

const (
	EnrollmentSourcePurchase     EnrollmentSource = "PURCHASE"
	EnrollmentSourceAdmin        EnrollmentSource = "ADMIN"
	EnrollmentSourceSubscription EnrollmentSource = "SUBSCRIPTION"
)

// Enrollment grants a user access to a course. A NULL ExpiresAt means
// lifetime access.
type Enrollment struct {
	ID        string           `db:"id" json:"id"`
	UserID    string           `db:"user_id" json:"user_id"`
	CourseID  string           `db:"course_id" json:"course_id"`
	Source    EnrollmentSource `db:"source" json:"source"`
	ExpiresAt *time.Time       `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
}

// Active reports whether the grant currently allows access.
func (e Enrollment) Active(now time.Time) bool {
	return e.ExpiresAt == nil || e.ExpiresAt.After(now)
}

// EnrollmentDetail joins course context for student and admin listings.
type EnrollmentDetail struct {
	Enrollment
	CourseTitle string `db:"course_title" json:"course_title"`
	CourseSlug  string `db:"course_slug" json:"course_slug"`
	UserEmail   string `db:"user_email" json:"user_email,omitempty"`
	UserName    string `db:"user_name" json:"user_name,omitempty"`
}

// EnrollmentFilter captures listing criteria.
type EnrollmentFilter struct {
	UserID   string
	CourseID string
	Page     int
	PageSize int
}
