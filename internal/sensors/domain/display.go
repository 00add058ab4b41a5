package sensors

import "time"

// ThresholdView is a threshold with its display label.
type ThresholdView struct {
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
	Label string   `json:"label"`
}

// DisplaySensor is the dashboard snapshot of one configured sensor.
// Value, LastUpdated and Status are all nil when no reading exists.
type DisplaySensor struct {
	ID          SensorType    `json:"id"`
	Name        string        `json:"name"`
	Value       *float64      `json:"value"`
	Unit        string        `json:"unit"`
	LastUpdated *time.Time    `json:"lastUpdated"`
	Threshold   ThresholdView `json:"threshold"`
	Ranges      Range         `json:"ranges"`
	Status      *Status       `json:"status"`
}

// NewDisplaySensor merges a config with its latest reading, which may be nil.
func NewDisplaySensor(cfg SensorConfig, latest *Reading) DisplaySensor {
	sensor := DisplaySensor{
		ID:   cfg.ID,
		Name: cfg.Name,
		Unit: cfg.Unit,
		Threshold: ThresholdView{
			Min:   cfg.Threshold.Min,
			Max:   cfg.Threshold.Max,
			Label: FormatThresholdLabel(cfg.Threshold),
		},
		Ranges: cfg.Ranges,
	}
	if latest == nil {
		return sensor
	}
	value := latest.Value
	recordedAt := latest.RecordedAt
	status := CalculateStatus(value, cfg.Threshold)
	sensor.Value = &value
	sensor.LastUpdated = &recordedAt
	sensor.Status = &status
	return sensor
}

// HistoryRow is one reading in the paginated history table.
type HistoryRow struct {
	ID         string     `json:"id"`
	Type       SensorType `json:"type"`
	Value      float64    `json:"value"`
	Unit       string     `json:"unit"`
	RecordedAt time.Time  `json:"recorded_at"`
	Status     *Status    `json:"status"`
}

// NewHistoryRow recomputes status from the registry; unknown types get a nil status.
func NewHistoryRow(registry *Registry, reading Reading) HistoryRow {
	row := HistoryRow{
		ID:         reading.ID,
		Type:       reading.Type,
		Value:      reading.Value,
		Unit:       reading.Unit,
		RecordedAt: reading.RecordedAt,
	}
	if status, ok := registry.StatusFor(reading.Type, reading.Value); ok {
		row.Status = &status
	}
	return row
}

// Pagination describes a history page.
type Pagination struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	TotalPages int `json:"totalPages"`
}

// HistoryPage is the paginated history response.
type HistoryPage struct {
	Data       []HistoryRow `json:"data"`
	Pagination Pagination   `json:"pagination"`
}
