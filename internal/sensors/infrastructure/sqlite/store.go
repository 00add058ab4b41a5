package sqlite

import (
	"context"
	"math"
	"time"

	"github.com/cockroachdb/errors"
	"gorm.io/gorm"

	sensors "greenthread/internal/sensors/domain"
)

type readingRow struct {
	ID         string    `gorm:"primaryKey"`
	Type       string    `gorm:"index:idx_sensor_data_type_recorded,priority:1;not null"`
	Value      float64   `gorm:"not null"`
	Unit       *string
	RecordedAt time.Time `gorm:"index:idx_sensor_data_type_recorded,priority:2;index;not null"`
	CreatedAt  time.Time
}

func (readingRow) TableName() string { return "sensor_data" }

func (r readingRow) toDomain() sensors.Reading {
	reading := sensors.Reading{
		ID:         r.ID,
		Type:       sensors.SensorType(r.Type),
		Value:      r.Value,
		RecordedAt: r.RecordedAt.UTC(),
	}
	if r.Unit != nil {
		reading.Unit = *r.Unit
	}
	return reading
}

// Store implements the reading repository and query on sqlite.
type Store struct {
	db *gorm.DB
}

// NewStore migrates the readings table and returns a store.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("sqlite readings: nil db")
	}
	if err := db.AutoMigrate(&readingRow{}); err != nil {
		return nil, errors.Wrap(err, "sqlite readings: migrate")
	}
	return &Store{db: db}, nil
}

// InsertReadings stores the batch in one transaction.
func (s *Store) InsertReadings(ctx context.Context, readings []sensors.Reading) error {
	if len(readings) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]readingRow, 0, len(readings))
	for _, reading := range readings {
		row := readingRow{
			ID:         reading.ID,
			Type:       string(reading.Type),
			Value:      reading.Value,
			RecordedAt: reading.RecordedAt.UTC(),
			CreatedAt:  now,
		}
		if reading.Unit != "" {
			unit := reading.Unit
			row.Unit = &unit
		}
		rows = append(rows, row)
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&rows).Error
	})
	return errors.Wrap(err, "sqlite readings: insert")
}

// LatestByType returns the newest reading of a type, or nil.
func (s *Store) LatestByType(ctx context.Context, sensorType sensors.SensorType) (*sensors.Reading, error) {
	var rows []readingRow
	err := s.db.WithContext(ctx).
		Where("type = ?", string(sensorType)).
		Order("recorded_at desc, id desc").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrapf(err, "sqlite readings: latest %s", sensorType)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	reading := rows[0].toDomain()
	return &reading, nil
}

// ListSince returns readings at or after since, oldest first.
func (s *Store) ListSince(ctx context.Context, since time.Time) ([]sensors.Reading, error) {
	var rows []readingRow
	err := s.db.WithContext(ctx).
		Where("recorded_at >= ?", since.UTC()).
		Order("recorded_at asc, id asc").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "sqlite readings: list since")
	}
	return toDomain(rows), nil
}

var orderColumns = map[sensors.SortColumn]string{
	sensors.SortRecordedAt: "recorded_at",
	sensors.SortType:       "type",
	sensors.SortValue:      "value",
}

// ListPage returns one filtered page and the matching row count.
func (s *Store) ListPage(ctx context.Context, filter sensors.HistoryFilter) ([]sensors.Reading, int, error) {
	scope := s.db.WithContext(ctx).Model(&readingRow{})
	if filter.SensorType != "" {
		scope = scope.Where("type = ?", string(filter.SensorType))
	}
	if filter.Start != nil {
		scope = scope.Where("recorded_at >= ?", filter.Start.UTC())
	}
	if filter.End != nil {
		scope = scope.Where("recorded_at <= ?", filter.End.UTC())
	}

	var total int64
	if err := scope.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "sqlite readings: count")
	}

	column, ok := orderColumns[filter.SortBy]
	if !ok {
		column = "recorded_at"
	}
	direction := " desc"
	if filter.Ascending {
		direction = " asc"
	}
	var rows []readingRow
	err := scope.
		Order(column + direction).
		Order("id" + direction).
		Offset(filter.Offset).
		Limit(filter.Limit).
		Find(&rows).Error
	if err != nil {
		return nil, 0, errors.Wrap(err, "sqlite readings: page")
	}
	return toDomain(rows), int(total), nil
}

// AveragesSince returns per-type averages rounded to two decimals.
func (s *Store) AveragesSince(ctx context.Context, since time.Time) (map[sensors.SensorType]sensors.Average, error) {
	var aggregates []struct {
		Type    string
		Average float64
		Count   int
	}
	err := s.db.WithContext(ctx).
		Model(&readingRow{}).
		Select("type, AVG(value) AS average, COUNT(*) AS count").
		Where("recorded_at >= ?", since.UTC()).
		Group("type").
		Scan(&aggregates).Error
	if err != nil {
		return nil, errors.Wrap(err, "sqlite readings: averages")
	}
	result := make(map[sensors.SensorType]sensors.Average, len(aggregates))
	for _, agg := range aggregates {
		result[sensors.SensorType(agg.Type)] = sensors.Average{
			Average: math.Round(agg.Average*100) / 100,
			Count:   agg.Count,
		}
	}
	return result, nil
}

func toDomain(rows []readingRow) []sensors.Reading {
	out := make([]sensors.Reading, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out
}
