package audit

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"

	sensors "greenthread/internal/sensors/domain"
	sensorhttp "greenthread/internal/sensors/interfaces/http"
)

// SensorRecorder turns sensor events into ledger blocks.
type SensorRecorder struct {
	ledger   *Ledger
	registry *sensors.Registry
}

// NewSensorRecorder constructs a recorder.
func NewSensorRecorder(ledger *Ledger, registry *sensors.Registry) (*SensorRecorder, error) {
	if ledger == nil {
		return nil, errors.New("audit recorder: nil ledger")
	}
	if registry == nil {
		return nil, errors.New("audit recorder: nil registry")
	}
	return &SensorRecorder{ledger: ledger, registry: registry}, nil
}

type ingestPayload struct {
	Count      int            `json:"count"`
	ReadingIDs []string       `json:"readingIds"`
	Types      map[string]int `json:"types"`
	From       time.Time      `json:"from"`
	To         time.Time      `json:"to"`
}

type violationEntry struct {
	ReadingID  string    `json:"readingId"`
	Type       string    `json:"type"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit"`
	Threshold  string    `json:"threshold"`
	RecordedAt time.Time `json:"recordedAt"`
}

type alertPayload struct {
	Violations []violationEntry `json:"violations"`
}

// RecordIngest appends a sensor_reading block and, when readings violate
// their thresholds, an alert block.
func (r *SensorRecorder) RecordIngest(ctx context.Context, readings []sensors.Reading, violations []sensors.Reading) error {
	if len(readings) == 0 {
		return nil
	}
	payload := ingestPayload{
		Count:      len(readings),
		ReadingIDs: make([]string, 0, len(readings)),
		Types:      map[string]int{},
		From:       readings[0].RecordedAt.UTC(),
		To:         readings[0].RecordedAt.UTC(),
	}
	for _, reading := range readings {
		payload.ReadingIDs = append(payload.ReadingIDs, reading.ID)
		payload.Types[string(reading.Type)]++
		if reading.RecordedAt.Before(payload.From) {
			payload.From = reading.RecordedAt.UTC()
		}
		if reading.RecordedAt.After(payload.To) {
			payload.To = reading.RecordedAt.UTC()
		}
	}
	description := fmt.Sprintf("Sensor data recorded - %d reading(s)", len(readings))
	if _, err := r.ledger.Append(ctx, BlockSensorReading, description, payload); err != nil {
		return err
	}

	if len(violations) == 0 {
		return nil
	}
	alert := alertPayload{Violations: make([]violationEntry, 0, len(violations))}
	for _, v := range violations {
		entry := violationEntry{
			ReadingID:  v.ID,
			Type:       string(v.Type),
			Value:      v.Value,
			Unit:       v.Unit,
			RecordedAt: v.RecordedAt.UTC(),
		}
		if cfg, ok := r.registry.Lookup(v.Type); ok {
			entry.Threshold = sensors.FormatThresholdLabel(cfg.Threshold)
			if entry.Unit == "" {
				entry.Unit = cfg.Unit
			}
		}
		alert.Violations = append(alert.Violations, entry)
	}
	_, err := r.ledger.Append(ctx, BlockAlert, r.alertDescription(alert.Violations), alert)
	return err
}

func (r *SensorRecorder) alertDescription(violations []violationEntry) string {
	first := violations[0]
	name := first.Type
	if cfg, ok := r.registry.Lookup(sensors.SensorType(first.Type)); ok {
		name = cfg.Name
	}
	description := fmt.Sprintf("%s violation detected - Level: %s %s (Limit: %s)",
		name, strconv.FormatFloat(first.Value, 'f', -1, 64), first.Unit, first.Threshold)
	if len(violations) > 1 {
		types := map[string]struct{}{}
		for _, v := range violations[1:] {
			types[v.Type] = struct{}{}
		}
		names := make([]string, 0, len(types))
		for t := range types {
			names = append(names, t)
		}
		sort.Strings(names)
		description += fmt.Sprintf(" and %d more %v", len(violations)-1, names)
	}
	return description
}

type reportPayload struct {
	Format      string     `json:"format"`
	Rows        int        `json:"rows"`
	Total       int        `json:"total"`
	Violations  int        `json:"violations"`
	SensorType  string     `json:"sensorType,omitempty"`
	StartDate   *time.Time `json:"startDate,omitempty"`
	EndDate     *time.Time `json:"endDate,omitempty"`
	GeneratedAt time.Time  `json:"generatedAt"`
}

// RecordReport appends a compliance_report block for an export.
func (r *SensorRecorder) RecordReport(ctx context.Context, summary sensorhttp.ExportSummary) error {
	payload := reportPayload{
		Format:      summary.Format,
		Rows:        summary.Rows,
		Total:       summary.Total,
		Violations:  summary.Violations,
		SensorType:  summary.SensorType,
		StartDate:   summary.StartDate,
		EndDate:     summary.EndDate,
		GeneratedAt: summary.GeneratedAt.UTC(),
	}
	description := fmt.Sprintf("Compliance report exported - %s, %d row(s), %d violation(s)",
		summary.Format, summary.Rows, summary.Violations)
	_, err := r.ledger.Append(ctx, BlockComplianceReport, description, payload)
	return err
}

type actionPayload struct {
	Action string `json:"action"`
	UserID string `json:"userId"`
}

// RecordAction appends an action_taken block for a user action.
func (l *Ledger) RecordAction(ctx context.Context, action, userID, description string) error {
	_, err := l.Append(ctx, BlockActionTaken, description, actionPayload{Action: action, UserID: userID})
	return err
}
