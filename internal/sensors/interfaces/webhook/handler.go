package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"greenthread/internal/observability/metrics"
	"greenthread/internal/sensors/application"
	sensors "greenthread/internal/sensors/domain"
)

const maxBodyBytes = 4 << 20

// IngestHandler accepts sensor readings pushed by the device bridge.
// Authentication is done by the wrapping webhook secret middleware.
type IngestHandler struct {
	service *application.IngestService
	logger  *log.Logger
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(service *application.IngestService, logger *log.Logger) (*IngestHandler, error) {
	if service == nil {
		return nil, errors.New("webhook ingest: nil service")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &IngestHandler{service: service, logger: logger}, nil
}

type errorResponse struct {
	Error   string               `json:"error"`
	Details []sensors.FieldError `json:"details,omitempty"`
}

type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// ServeHTTP validates the whole batch before inserting any of it.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Printf("webhook ingest: read body error: %v", err)
		h.reject(w, start, "read_body", []sensors.FieldError{{Field: "body", Message: "Unable to read request body"}})
		return
	}

	readings, fields := DecodeReadings(body)
	if len(fields) > 0 {
		h.reject(w, start, "validation", fields)
		return
	}

	count, err := h.service.Ingest(r.Context(), readings)
	if err != nil {
		var validation *sensors.ValidationError
		if errors.As(err, &validation) {
			h.reject(w, start, "validation", validation.Fields)
			return
		}
		h.logger.Printf("webhook ingest: insert error: %v", err)
		metrics.IncIngestError("storage")
		metrics.ObserveIngest(metrics.ResultError, 0, time.Since(start))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to insert sensor data"})
		return
	}

	metrics.ObserveIngest(metrics.ResultSuccess, count, time.Since(start))
	writeJSON(w, http.StatusOK, successResponse{
		Success: true,
		Message: fmt.Sprintf("Inserted %d sensor reading(s)", count),
		Count:   count,
	})
}

func (h *IngestHandler) reject(w http.ResponseWriter, start time.Time, reason string, fields []sensors.FieldError) {
	metrics.IncIngestError(reason)
	metrics.ObserveIngest(metrics.IngestResultInvalid, 0, time.Since(start))
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid payload", Details: fields})
}

// DecodeReadings parses a single reading object or an array of them and
// returns every field violation found. Readings are only returned when the
// whole body is valid.
func DecodeReadings(body []byte) ([]sensors.Reading, []sensors.FieldError) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, []sensors.FieldError{{Field: "body", Message: "Request body is required"}}
	}

	var items []json.RawMessage
	single := trimmed[0] == '{'
	if single {
		items = []json.RawMessage{trimmed}
	} else if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, []sensors.FieldError{{Field: "body", Message: "Body must be a reading object or an array of readings"}}
	}
	if len(items) == 0 {
		return nil, []sensors.FieldError{{Field: "body", Message: "At least one sensor reading is required"}}
	}

	readings := make([]sensors.Reading, 0, len(items))
	var fields []sensors.FieldError
	for i, item := range items {
		var index *int
		if !single {
			idx := i
			index = &idx
		}
		reading, errs := decodeReading(item, index)
		if len(errs) > 0 {
			fields = append(fields, errs...)
			continue
		}
		readings = append(readings, reading)
	}
	if len(fields) > 0 {
		return nil, fields
	}
	return readings, nil
}

func decodeReading(raw json.RawMessage, index *int) (sensors.Reading, []sensors.FieldError) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return sensors.Reading{}, []sensors.FieldError{{Index: index, Field: "body", Message: "Reading must be an object"}}
	}

	var fields []sensors.FieldError
	fail := func(field, message string) {
		fields = append(fields, sensors.FieldError{Index: index, Field: field, Message: message})
	}

	var reading sensors.Reading
	var sensorType string
	if err := decodeString(obj["type"], &sensorType); err != nil || strings.TrimSpace(sensorType) == "" {
		fail("type", "Sensor type is required")
	}
	reading.Type = sensors.SensorType(sensorType)

	if err := decodeNumber(obj["value"], &reading.Value); err != nil {
		fail("value", "Value must be a finite number")
	}

	if err := decodeString(obj["unit"], &reading.Unit); err != nil {
		fail("unit", "Unit is required")
	}

	var recordedAt string
	if err := decodeString(obj["recorded_at"], &recordedAt); err != nil {
		fail("recorded_at", "Invalid datetime format")
	} else if parsed, err := time.Parse(time.RFC3339Nano, recordedAt); err != nil {
		fail("recorded_at", "Invalid datetime format")
	} else {
		reading.RecordedAt = parsed.UTC()
	}

	return reading, fields
}

var errWrongType = errors.New("wrong json type")

func decodeString(raw json.RawMessage, dst *string) error {
	if len(raw) == 0 || raw[0] != '"' {
		return errWrongType
	}
	return json.Unmarshal(raw, dst)
}

// JSON has no NaN or Inf literals; out-of-range exponents fail to decode.
func decodeNumber(raw json.RawMessage, dst *float64) error {
	if len(raw) == 0 {
		return errWrongType
	}
	switch raw[0] {
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
	default:
		return errWrongType
	}
	return json.Unmarshal(raw, dst)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
