package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	sensors "greenthread/internal/sensors/domain"
)

// ReadingQuery is a Postgres implementation of sensors.ReadingQuery.
type ReadingQuery struct {
	db    *sql.DB
	table string
}

// NewReadingQuery constructs a query object.
func NewReadingQuery(db *sql.DB) *ReadingQuery {
	repo := NewReadingRepository(db)
	return &ReadingQuery{db: db, table: repo.table}
}

var orderColumns = map[sensors.SortColumn]string{
	sensors.SortRecordedAt: "recorded_at",
	sensors.SortType:       "type",
	sensors.SortValue:      "value",
}

// LatestByType returns the newest reading of a type, or nil.
func (q *ReadingQuery) LatestByType(ctx context.Context, sensorType sensors.SensorType) (*sensors.Reading, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("reading query: nil db")
	}
	row := q.db.QueryRowContext(ctx, `
SELECT id, type, value, unit, recorded_at
FROM `+q.table+`
WHERE type = $1
ORDER BY recorded_at DESC, id DESC
LIMIT 1`, string(sensorType))
	reading, err := scanReading(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "reading query: latest %s", sensorType)
	}
	return &reading, nil
}

// ListSince returns readings at or after since, oldest first.
func (q *ReadingQuery) ListSince(ctx context.Context, since time.Time) ([]sensors.Reading, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("reading query: nil db")
	}
	rows, err := q.db.QueryContext(ctx, `
SELECT id, type, value, unit, recorded_at
FROM `+q.table+`
WHERE recorded_at >= $1
ORDER BY recorded_at ASC, id ASC`, since.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "reading query: list since")
	}
	defer rows.Close()
	return scanReadings(rows)
}

// ListPage returns one filtered page and the matching row count.
func (q *ReadingQuery) ListPage(ctx context.Context, filter sensors.HistoryFilter) ([]sensors.Reading, int, error) {
	if q == nil || q.db == nil {
		return nil, 0, errors.New("reading query: nil db")
	}
	where, args := buildWhere(filter)

	var total int
	if err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+q.table+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "reading query: count")
	}
	if total == 0 {
		return []sensors.Reading{}, 0, nil
	}

	column, ok := orderColumns[filter.SortBy]
	if !ok {
		column = "recorded_at"
	}
	direction := "DESC"
	if filter.Ascending {
		direction = "ASC"
	}
	query := fmt.Sprintf(`
SELECT id, type, value, unit, recorded_at
FROM %s%s
ORDER BY %s %s, id %s
OFFSET $%d LIMIT $%d`, q.table, where, column, direction, direction, len(args)+1, len(args)+2)
	args = append(args, filter.Offset, filter.Limit)

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "reading query: page")
	}
	defer rows.Close()
	readings, err := scanReadings(rows)
	if err != nil {
		return nil, 0, err
	}
	return readings, total, nil
}

// AveragesSince returns per-type averages rounded to two decimals.
func (q *ReadingQuery) AveragesSince(ctx context.Context, since time.Time) (map[sensors.SensorType]sensors.Average, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("reading query: nil db")
	}
	rows, err := q.db.QueryContext(ctx, `
SELECT type, AVG(value), COUNT(*)
FROM `+q.table+`
WHERE recorded_at >= $1
GROUP BY type`, since.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "reading query: averages")
	}
	defer rows.Close()

	result := make(map[sensors.SensorType]sensors.Average)
	for rows.Next() {
		var sensorType string
		var avg float64
		var count int
		if err := rows.Scan(&sensorType, &avg, &count); err != nil {
			return nil, errors.Wrap(err, "reading query: scan average")
		}
		result[sensors.SensorType(sensorType)] = sensors.Average{
			Average: math.Round(avg*100) / 100,
			Count:   count,
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "reading query: averages rows")
	}
	return result, nil
}

func buildWhere(filter sensors.HistoryFilter) (string, []any) {
	var clauses []string
	var args []any
	if filter.SensorType != "" {
		args = append(args, string(filter.SensorType))
		clauses = append(clauses, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.Start != nil {
		args = append(args, filter.Start.UTC())
		clauses = append(clauses, fmt.Sprintf("recorded_at >= $%d", len(args)))
	}
	if filter.End != nil {
		args = append(args, filter.End.UTC())
		clauses = append(clauses, fmt.Sprintf("recorded_at <= $%d", len(args)))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReading(row rowScanner) (sensors.Reading, error) {
	var reading sensors.Reading
	var sensorType string
	var unit sql.NullString
	if err := row.Scan(&reading.ID, &sensorType, &reading.Value, &unit, &reading.RecordedAt); err != nil {
		return sensors.Reading{}, err
	}
	reading.Type = sensors.SensorType(sensorType)
	reading.Unit = unit.String
	reading.RecordedAt = reading.RecordedAt.UTC()
	return reading, nil
}

func scanReadings(rows *sql.Rows) ([]sensors.Reading, error) {
	var result []sensors.Reading
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, errors.Wrap(err, "reading query: scan")
		}
		result = append(result, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "reading query: rows")
	}
	return result, nil
}
