package models

import "time"

// RevenueFilter bounds revenue aggregation. The range is half-open
// [From, To) over paid_at and only COMPLETED orders count.
type RevenueFilter struct {
	From time.Time
	To   time.Time
}

// RevenuePoint is one day of completed-order revenue.
type RevenuePoint struct {
	Day        time.Time `db:"day" json:"day"`
	GrossCents int64     `db:"gross_cents" json:"gross_cents"`
	Orders     int       `db:"orders" json:"orders"`
}

// CourseRevenue ranks a course by completed-order revenue.
type CourseRevenue struct {
	CourseID    string `db:"course_id" json:"course_id"`
	CourseTitle string `db:"course_title" json:"course_title"`
	GrossCents  int64  `db:"gross_cents" json:"gross_cents"`
	Units       int    `db:"units" json:"units"`
}

// RevenueSummary is the revenue dashboard payload.
type RevenueSummary struct {
	From                time.Time       `json:"from"`
	To                  time.Time       `json:"to"`
	GrossCents          int64           `json:"gross_cents"`
	Currency            string          `json:"currency"`
	CompletedOrders     int             `json:"completed_orders"`
	AverageOrderCents   int64           `json:"average_order_cents"`
	ByDay               []RevenuePoint  `json:"by_day"`
	TopCourses          []CourseRevenue `json:"top_courses"`
	ActiveSubscriptions int             `json:"active_subscriptions"`
	SubscriptionRevenue int64           `json:"subscription_revenue_cents"`

	// CacheHit is reported as response metadata, not serialized with the body.
	CacheHit bool `json:"-"`
}

// OverviewCounts is the admin landing dashboard. Sections the caller lacks
// permission for stay at their zero values.
type OverviewCounts struct {
	Users         int   `json:"users"`
	Students      int   `json:"students"`
	Orders        int   `json:"orders"`
	PendingOrders int   `json:"pending_orders"`
	OpenChats     int   `json:"open_chats"`
	Enrollments   int   `json:"enrollments"`
	GrossCents    int64 `json:"gross_cents"`
}

// SystemMetrics is a lightweight process snapshot for the ops section.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"avg_request_duration_ms"`
	DBQueryCount             uint64    `json:"db_query_count"`
	AverageDBQueryDurationMs float64   `json:"avg_db_query_duration_ms"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
