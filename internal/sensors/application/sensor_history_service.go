package application

import (
	"context"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	sensors "greenthread/internal/sensors/domain"
)

const (
	defaultPage     = 1
	defaultPageSize = 10
	maxPageSize     = 100

	sortOrderAsc  = "asc"
	sortOrderDesc = "desc"

	dateLayout = "2006-01-02"
)

// "status" is derived from value, so it orders by value.
var sortColumns = map[string]sensors.SortColumn{
	"recorded_at": sensors.SortRecordedAt,
	"type":        sensors.SortType,
	"value":       sensors.SortValue,
	"status":      sensors.SortValue,
}

// HistoryRequest is a validated history table request.
type HistoryRequest struct {
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string
	SensorType sensors.SensorType
	StartDate  *time.Time
	EndDate    *time.Time
}

// ParseHistoryRequest reads query parameters, applying defaults, and validates them.
func ParseHistoryRequest(values url.Values) (HistoryRequest, error) {
	req := HistoryRequest{
		Page:       defaultPage,
		PageSize:   defaultPageSize,
		SortBy:     string(sensors.SortRecordedAt),
		SortOrder:  sortOrderDesc,
		SensorType: sensors.SensorType(strings.TrimSpace(values.Get("sensorType"))),
	}

	var fields []sensors.FieldError
	if raw := values.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil {
			fields = append(fields, sensors.FieldError{Field: "page", Message: "must be an integer"})
		}
		req.Page = page
	}
	if raw := values.Get("pageSize"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			fields = append(fields, sensors.FieldError{Field: "pageSize", Message: "must be an integer"})
		}
		req.PageSize = size
	}
	if raw := values.Get("sortBy"); raw != "" {
		req.SortBy = raw
	}
	if raw := values.Get("sortOrder"); raw != "" {
		req.SortOrder = raw
	}
	if raw := values.Get("startDate"); raw != "" {
		start, err := parseDate(raw)
		if err != nil {
			fields = append(fields, sensors.FieldError{Field: "startDate", Message: "must be RFC3339 or YYYY-MM-DD"})
		} else {
			req.StartDate = &start
		}
	}
	if raw := values.Get("endDate"); raw != "" {
		end, err := parseDate(raw)
		if err != nil {
			fields = append(fields, sensors.FieldError{Field: "endDate", Message: "must be RFC3339 or YYYY-MM-DD"})
		} else {
			req.EndDate = &end
		}
	}
	if len(fields) > 0 {
		return req, &sensors.ValidationError{Message: "Invalid query parameters", Fields: fields}
	}
	return req, req.Validate()
}

// Validate enforces page and sort order bounds. The row offset of the page
// must fit in an int.
func (r HistoryRequest) Validate() error {
	if r.Page < 1 || r.PageSize < 1 || r.PageSize > maxPageSize || r.Page-1 > math.MaxInt/r.PageSize {
		return &sensors.ValidationError{Message: "Invalid pagination parameters"}
	}
	if r.SortOrder != sortOrderAsc && r.SortOrder != sortOrderDesc {
		return &sensors.ValidationError{Message: `Invalid sort order. Must be "asc" or "desc"`}
	}
	return nil
}

func (r HistoryRequest) filter() sensors.HistoryFilter {
	column, ok := sortColumns[r.SortBy]
	if !ok {
		column = sensors.SortRecordedAt
	}
	return sensors.HistoryFilter{
		SensorType: r.SensorType,
		Start:      r.StartDate,
		End:        r.EndDate,
		SortBy:     column,
		Ascending:  r.SortOrder == sortOrderAsc,
		Offset:     (r.Page - 1) * r.PageSize,
		Limit:      r.PageSize,
	}
}

// SensorHistoryService serves the paginated history table.
type SensorHistoryService struct {
	registry *sensors.Registry
	query    sensors.ReadingQuery
}

// NewSensorHistoryService constructs the service.
func NewSensorHistoryService(registry *sensors.Registry, query sensors.ReadingQuery) (*SensorHistoryService, error) {
	if registry == nil {
		return nil, errors.New("sensor history: nil registry")
	}
	if query == nil {
		return nil, errors.New("sensor history: nil query")
	}
	return &SensorHistoryService{registry: registry, query: query}, nil
}

// Page returns one page with status recomputed for every row.
func (s *SensorHistoryService) Page(ctx context.Context, req HistoryRequest) (sensors.HistoryPage, error) {
	if err := req.Validate(); err != nil {
		return sensors.HistoryPage{}, err
	}
	readings, total, err := s.query.ListPage(ctx, req.filter())
	if err != nil {
		return sensors.HistoryPage{}, errors.Wrap(err, "sensor history: list page")
	}
	rows := make([]sensors.HistoryRow, 0, len(readings))
	for _, reading := range readings {
		rows = append(rows, sensors.NewHistoryRow(s.registry, reading))
	}
	totalPages := 0
	if total > 0 {
		totalPages = (total + req.PageSize - 1) / req.PageSize
	}
	return sensors.HistoryPage{
		Data: rows,
		Pagination: sensors.Pagination{
			Total:      total,
			Page:       req.Page,
			PageSize:   req.PageSize,
			TotalPages: totalPages,
		},
	}, nil
}

// Rows returns up to limit rows under the request's filters and ordering,
// ignoring its page. Used by report exports.
func (s *SensorHistoryService) Rows(ctx context.Context, req HistoryRequest, limit int) ([]sensors.HistoryRow, int, error) {
	if req.SortOrder != sortOrderAsc && req.SortOrder != sortOrderDesc {
		return nil, 0, &sensors.ValidationError{Message: `Invalid sort order. Must be "asc" or "desc"`}
	}
	if limit < 1 {
		return nil, 0, sensors.NewValidationError("limit", "must be positive")
	}
	filter := req.filter()
	filter.Offset = 0
	filter.Limit = limit
	readings, total, err := s.query.ListPage(ctx, filter)
	if err != nil {
		return nil, 0, errors.Wrap(err, "sensor history: list rows")
	}
	rows := make([]sensors.HistoryRow, 0, len(readings))
	for _, reading := range readings {
		rows = append(rows, sensors.NewHistoryRow(s.registry, reading))
	}
	return rows, total, nil
}

func parseDate(value string) (time.Time, error) {
	if parsed, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return parsed.UTC(), nil
	}
	parsed, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, err
	}
	return parsed.UTC(), nil
}
