package explain

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"

	"greenthread/internal/observability/metrics"
)

const (
	maxExplainBody = 1 << 20
	maxDetailRunes = 300
	maxTrailRunes  = 200

	quotaNotice = "⚠️ **API Quota Exceeded**\n\nThe Google Gemini API rate limit has been reached. Please wait 1 minute and try again."
)

// Outcome labels reported to metrics.
const (
	OutcomeStream      = "stream"
	OutcomeQuota       = "quota"
	OutcomeError       = "error"
	OutcomeStreamQuota = "stream_quota"
	OutcomeStreamError = "stream_error"
	OutcomeCancelled   = "cancelled"
)

type explainRequest struct {
	Messages []ChatMessage `json:"messages"`
}

// Handler serves POST /ai/explain as a streamed text/plain body. Backend
// failures are rendered inline with status 200.
type Handler struct {
	service *Service
	logger  *log.Logger
}

// NewHandler constructs a Handler.
func NewHandler(service *Service, logger *log.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("explain handler: nil service")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{service: service, logger: logger}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()

	var req explainRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxExplainBody))
	if err != nil || json.Unmarshal(body, &req) != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		writeJSONError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}

	result := h.service.Explain(r.Context(), req.Messages)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	var outcome string
	switch result.Kind {
	case ResultQuotaExceeded:
		h.logger.Printf("explain: quota: %v", result.Err)
		_, _ = io.WriteString(w, QuotaMessage(result.Err))
		outcome = OutcomeQuota
	case ResultStream:
		outcome = h.relay(w, r, result.Stream)
	default:
		h.logger.Printf("explain: backend: %v", result.Err)
		_, _ = io.WriteString(w, ErrorMessage(result.Err))
		outcome = OutcomeError
	}
	metrics.ObserveAIRequest(outcome, time.Since(start))
}

func (h *Handler) relay(w http.ResponseWriter, r *http.Request, stream TokenStream) string {
	defer stream.Close()
	flusher, _ := w.(http.Flusher)
	wrote := false

	for {
		token, err := stream.Recv()
		if err == nil {
			if _, werr := io.WriteString(w, token); werr != nil {
				return OutcomeCancelled
			}
			wrote = true
			if flusher != nil {
				flusher.Flush()
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return OutcomeStream
		}
		if r.Context().Err() != nil {
			return OutcomeCancelled
		}

		h.logger.Printf("explain: stream: %v", err)
		outcome := OutcomeStreamError
		switch {
		case IsQuota(err) && wrote:
			_, _ = io.WriteString(w, "\n\n"+quotaNotice+"\n\nError: "+truncate(err.Error(), maxTrailRunes))
			outcome = OutcomeStreamQuota
		case IsQuota(err):
			_, _ = io.WriteString(w, QuotaMessage(err))
			outcome = OutcomeStreamQuota
		case wrote:
			_, _ = io.WriteString(w, "\n\n"+ErrorMessage(err))
		default:
			_, _ = io.WriteString(w, ErrorMessage(err))
		}
		if flusher != nil {
			flusher.Flush()
		}
		return outcome
	}
}

// QuotaMessage is the user-facing notice for a rate-limited request.
func QuotaMessage(err error) string {
	if err == nil {
		return quotaNotice
	}
	return quotaNotice + "\n\nDetails: " + truncate(err.Error(), maxDetailRunes)
}

// ErrorMessage is the user-facing notice for any other backend failure.
func ErrorMessage(err error) string {
	detail := "Unknown error"
	if err != nil {
		detail = truncate(err.Error(), maxDetailRunes)
	}
	return "❌ **Error**\n\nFailed to process AI request.\n\nDetails: " + detail
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
