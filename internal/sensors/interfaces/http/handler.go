package sensorhttp

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"greenthread/internal/observability/metrics"
	"greenthread/internal/sensors/application"
)

const invalidNumDays = "Invalid num_days parameter. Must be a positive integer."

// CurrentHandler serves GET /data/current.
type CurrentHandler struct {
	service *application.CurrentReadingsService
	logger  *log.Logger
}

// NewCurrentHandler constructs a CurrentHandler.
func NewCurrentHandler(service *application.CurrentReadingsService, logger *log.Logger) *CurrentHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &CurrentHandler{service: service, logger: logger}
}

func (h *CurrentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.service == nil {
		writeError(w, http.StatusServiceUnavailable, "server not ready")
		return
	}
	start := time.Now()
	current, err := h.service.Current(r.Context())
	if err != nil {
		h.logger.Printf("data current: %v", err)
		metrics.ObserveQuery("current", metrics.ResultError, time.Since(start))
		writeError(w, http.StatusInternalServerError, "Failed to fetch current sensor data")
		return
	}
	metrics.ObserveQuery("current", metrics.ResultSuccess, time.Since(start))
	writeJSON(w, http.StatusOK, current)
}

// HistoryHandler serves GET /data/history?num_days=N.
type HistoryHandler struct {
	service *application.HistoryService
	logger  *log.Logger
}

// NewHistoryHandler constructs a HistoryHandler.
func NewHistoryHandler(service *application.HistoryService, logger *log.Logger) *HistoryHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &HistoryHandler{service: service, logger: logger}
}

func (h *HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.service == nil {
		writeError(w, http.StatusServiceUnavailable, "server not ready")
		return
	}
	days, err := strconv.Atoi(r.URL.Query().Get("num_days"))
	if err != nil {
		writeError(w, http.StatusBadRequest, invalidNumDays)
		return
	}

	start := time.Now()
	points, err := h.service.History(r.Context(), days)
	if err != nil {
		if writeValidation(w, err) {
			return
		}
		h.logger.Printf("data history: %v", err)
		metrics.ObserveQuery("history", metrics.ResultError, time.Since(start))
		writeError(w, http.StatusInternalServerError, "Failed to fetch historical data")
		return
	}
	metrics.ObserveQuery("history", metrics.ResultSuccess, time.Since(start))
	writeJSON(w, http.StatusOK, points)
}

// SensorHistoryHandler serves GET /data/sensor-history.
type SensorHistoryHandler struct {
	service *application.SensorHistoryService
	logger  *log.Logger
}

// NewSensorHistoryHandler constructs a SensorHistoryHandler.
func NewSensorHistoryHandler(service *application.SensorHistoryService, logger *log.Logger) *SensorHistoryHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &SensorHistoryHandler{service: service, logger: logger}
}

func (h *SensorHistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.service == nil {
		writeError(w, http.StatusServiceUnavailable, "server not ready")
		return
	}
	req, err := application.ParseHistoryRequest(r.URL.Query())
	if err != nil {
		if !writeValidation(w, err) {
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	start := time.Now()
	page, err := h.service.Page(r.Context(), req)
	if err != nil {
		if writeValidation(w, err) {
			return
		}
		h.logger.Printf("data sensor-history: %v", err)
		metrics.ObserveQuery("sensor_history", metrics.ResultError, time.Since(start))
		writeError(w, http.StatusInternalServerError, "Failed to fetch sensor history")
		return
	}
	metrics.ObserveQuery("sensor_history", metrics.ResultSuccess, time.Since(start))
	writeJSON(w, http.StatusOK, page)
}
