package sensorhttp

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"greenthread/internal/observability/metrics"
	"greenthread/internal/sensors/application"
	sensors "greenthread/internal/sensors/domain"
)

// MaxExportRows caps a single report.
const MaxExportRows = 10000

const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
	FormatPDF  = "pdf"
)

var exportHeader = []string{"ID", "Sensor", "Value", "Unit", "Recorded At", "Status"}

// ExportSummary describes a generated report.
type ExportSummary struct {
	Format      string
	Rows        int
	Total       int
	Violations  int
	SensorType  string
	StartDate   *time.Time
	EndDate     *time.Time
	GeneratedAt time.Time
}

// ReportRecorder receives a summary of every generated report.
type ReportRecorder interface {
	RecordReport(ctx context.Context, summary ExportSummary) error
}

// ExportHandler serves GET /data/sensor-history/export.
type ExportHandler struct {
	service  *application.SensorHistoryService
	recorder ReportRecorder
	logger   *log.Logger
	now      func() time.Time
}

// NewExportHandler constructs an ExportHandler. recorder may be nil.
func NewExportHandler(service *application.SensorHistoryService, recorder ReportRecorder, logger *log.Logger) *ExportHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &ExportHandler{
		service:  service,
		recorder: recorder,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (h *ExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.service == nil {
		writeError(w, http.StatusServiceUnavailable, "server not ready")
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = FormatCSV
	}
	var contentType string
	switch format {
	case FormatCSV:
		contentType = "text/csv"
	case FormatXLSX:
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatPDF:
		contentType = "application/pdf"
	default:
		writeError(w, http.StatusBadRequest, `Invalid format. Must be "csv", "xlsx" or "pdf"`)
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
	rows, total, err := h.service.Rows(r.Context(), req, MaxExportRows)
	if err != nil {
		if writeValidation(w, err) {
			return
		}
		h.logger.Printf("data export: %v", err)
		metrics.ObserveQuery("export", metrics.ResultError, time.Since(start))
		writeError(w, http.StatusInternalServerError, "Failed to export sensor history")
		return
	}

	generatedAt := h.now()
	var body []byte
	switch format {
	case FormatXLSX:
		body, err = BuildHistoryXLSX(rows, generatedAt)
	case FormatPDF:
		body, err = BuildHistoryPDF(rows, total, generatedAt)
	default:
		body, err = BuildHistoryCSV(rows)
	}
	if err != nil {
		h.logger.Printf("data export: render %s: %v", format, err)
		metrics.ObserveQuery("export", metrics.ResultError, time.Since(start))
		writeError(w, http.StatusInternalServerError, "Failed to export sensor history")
		return
	}
	metrics.ObserveQuery("export", metrics.ResultSuccess, time.Since(start))

	if h.recorder != nil {
		summary := ExportSummary{
			Format:      format,
			Rows:        len(rows),
			Total:       total,
			Violations:  countViolations(rows),
			SensorType:  string(req.SensorType),
			StartDate:   req.StartDate,
			EndDate:     req.EndDate,
			GeneratedAt: generatedAt,
		}
		if err := h.recorder.RecordReport(r.Context(), summary); err != nil {
			h.logger.Printf("data export: record report: %v", err)
		}
	}

	filename := fmt.Sprintf("sensor-history-%s.%s", generatedAt.Format("20060102-150405"), format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func countViolations(rows []sensors.HistoryRow) int {
	n := 0
	for _, row := range rows {
		if row.Status != nil && *row.Status == sensors.StatusViolation {
			n++
		}
	}
	return n
}

func statusText(row sensors.HistoryRow) string {
	if row.Status == nil {
		return ""
	}
	return string(*row.Status)
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// BuildHistoryCSV renders rows as CSV with a header line.
func BuildHistoryCSV(rows []sensors.HistoryRow) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(exportHeader); err != nil {
		return nil, err
	}
	for _, row := range rows {
		record := []string{
			row.ID,
			string(row.Type),
			formatValue(row.Value),
			row.Unit,
			row.RecordedAt.UTC().Format(time.RFC3339),
			statusText(row),
		}
		if err := writer.Write(record); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildHistoryXLSX renders rows into a "readings" sheet plus a summary sheet.
func BuildHistoryXLSX(rows []sensors.HistoryRow, generatedAt time.Time) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	readingsSheet := "readings"
	summarySheet := "summary"
	if err := f.SetSheetName("Sheet1", readingsSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, err
	}

	for i, title := range exportHeader {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(readingsSheet, cell, title)
	}
	for i, row := range rows {
		line := i + 2
		_ = f.SetCellValue(readingsSheet, fmt.Sprintf("A%d", line), row.ID)
		_ = f.SetCellValue(readingsSheet, fmt.Sprintf("B%d", line), string(row.Type))
		_ = f.SetCellValue(readingsSheet, fmt.Sprintf("C%d", line), row.Value)
		_ = f.SetCellValue(readingsSheet, fmt.Sprintf("D%d", line), row.Unit)
		_ = f.SetCellValue(readingsSheet, fmt.Sprintf("E%d", line), row.RecordedAt.UTC().Format(time.RFC3339))
		_ = f.SetCellValue(readingsSheet, fmt.Sprintf("F%d", line), statusText(row))
	}

	_ = f.SetCellValue(summarySheet, "A1", "Sensor History Report")
	_ = f.SetCellValue(summarySheet, "A3", "Generated")
	_ = f.SetCellValue(summarySheet, "B3", generatedAt.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A4", "Rows")
	_ = f.SetCellValue(summarySheet, "B4", len(rows))
	_ = f.SetCellValue(summarySheet, "A5", "Violations")
	_ = f.SetCellValue(summarySheet, "B5", countViolations(rows))

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildHistoryPDF renders a landscape table of rows.
func BuildHistoryPDF(rows []sensors.HistoryRow, total int, generatedAt time.Time) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Sensor History Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", generatedAt.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Rows: %d of %d", len(rows), total))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Violations: %d", countViolations(rows)))
	pdf.Ln(8)

	widths := []float64{70, 40, 30, 25, 60, 30}
	pdf.SetFont("Arial", "B", 9)
	for i, title := range exportHeader {
		pdf.CellFormat(widths[i], 6, title, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, row := range rows {
		pdf.CellFormat(widths[0], 6, row.ID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[1], 6, string(row.Type), "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[2], 6, formatValue(row.Value), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[3], 6, tr(row.Unit), "1", 0, "C", false, 0, "")
		pdf.CellFormat(widths[4], 6, row.RecordedAt.UTC().Format(time.RFC3339), "1", 0, "C", false, 0, "")
		pdf.CellFormat(widths[5], 6, statusText(row), "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
