package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-commerce-api/internal/models"
	appErrors "github.com/noah-isme/lms-commerce-api/pkg/errors"
	"github.com/noah-isme/lms-commerce-api/pkg/export"
)

type revenueSource interface {
	Revenue(ctx context.Context, filter models.RevenueFilter, claims *models.JWTClaims) (*models.RevenueSummary, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportFormat selects the rendered output type.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportResult is a rendered report ready to stream.
type ExportResult struct {
	Filename    string
	ContentType string
	Payload     []byte
}

// ExportService renders revenue reports for download. Permission checks are
// delegated to the analytics service that builds the numbers.
type ExportService struct {
	analytics revenueSource
	csv       csvRenderer
	pdf       pdfRenderer
	logger    *zap.Logger
}

// NewExportService constructs an ExportService.
func NewExportService(analytics revenueSource, csv csvRenderer, pdf pdfRenderer, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{analytics: analytics, csv: csv, pdf: pdf, logger: logger}
}

// RevenueReport renders the revenue dashboard for the range as CSV or PDF.
func (s *ExportService) RevenueReport(ctx context.Context, filter models.RevenueFilter, format ExportFormat, claims *models.JWTClaims) (*ExportResult, error) {
	summary, err := s.analytics.Revenue(ctx, filter, claims)
	if err != nil {
		return nil, err
	}

	headers := []string{"Day", "Orders", "Gross"}
	rows := make([]map[string]string, 0, len(summary.ByDay))
	for _, point := range summary.ByDay {
		rows = append(rows, map[string]string{
			"Day":    point.Day.Format("2006-01-02"),
			"Orders": fmt.Sprintf("%d", point.Orders),
			"Gross":  export.Money(point.GrossCents, summary.Currency),
		})
	}
	dataset := export.Dataset{
		Headers: headers,
		Rows:    rows,
		Totals: map[string]string{
			"Day":    "Total",
			"Orders": fmt.Sprintf("%d", summary.CompletedOrders),
			"Gross":  export.Money(summary.GrossCents, summary.Currency),
		},
	}

	name := fmt.Sprintf("revenue_%s_%s", filter.From.Format("20060102"), filter.To.Format("20060102"))
	switch format {
	case ExportFormatCSV:
		payload, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv report")
		}
		return &ExportResult{Filename: name + ".csv", ContentType: "text/csv", Payload: payload}, nil
	case ExportFormatPDF:
		title := fmt.Sprintf("Revenue %s to %s", filter.From.Format("2006-01-02"), filter.To.Format("2006-01-02"))
		payload, err := s.pdf.Render(dataset, title)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf report")
		}
		return &ExportResult{Filename: name + ".pdf", ContentType: "application/pdf", Payload: payload}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format: "+strings.ToLower(string(format)))
	}
}

// TopCoursesReport renders the course ranking for the range as CSV.
func (s *ExportService) TopCoursesReport(ctx context.Context, filter models.RevenueFilter, claims *models.JWTClaims) (*ExportResult, error) {
	summary, err := s.analytics.Revenue(ctx, filter, claims)
	if err != nil {
		return nil, err
	}

	rows := make([]map[string]string, 0, len(summary.TopCourses))
	for _, course := range summary.TopCourses {
		rows = append(rows, map[string]string{
			"Course": course.CourseTitle,
			"Units":  fmt.Sprintf("%d", course.Units),
			"Gross":  export.Money(course.GrossCents, summary.Currency),
		})
	}
	dataset := export.Dataset{Headers: []string{"Course", "Units", "Gross"}, Rows: rows}

	payload, err := s.csv.Render(dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv report")
	}
	name := fmt.Sprintf("top_courses_%s", time.Now().UTC().Format("20060102"))
	return &ExportResult{Filename: name + ".csv", ContentType: "text/csv", Payload: payload}, nil
}
