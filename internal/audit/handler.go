package audit

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
)

// TransactionsHandler serves GET /audit/transactions.
type TransactionsHandler struct {
	ledger *Ledger
	logger *log.Logger
}

// NewTransactionsHandler constructs a TransactionsHandler.
func NewTransactionsHandler(ledger *Ledger, logger *log.Logger) *TransactionsHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &TransactionsHandler{ledger: ledger, logger: logger}
}

func (h *TransactionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.ledger == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "server not ready"})
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid limit parameter. Must be a positive integer."})
			return
		}
		limit = parsed
	}
	blocks, err := h.ledger.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Printf("audit transactions: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch audit trail"})
		return
	}
	if blocks == nil {
		blocks = []Block{}
	}
	writeJSON(w, http.StatusOK, blocks)
}

// VerifyHandler serves GET /audit/verify.
type VerifyHandler struct {
	ledger *Ledger
	logger *log.Logger
}

// NewVerifyHandler constructs a VerifyHandler.
func NewVerifyHandler(ledger *Ledger, logger *log.Logger) *VerifyHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &VerifyHandler{ledger: ledger, logger: logger}
}

func (h *VerifyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.ledger == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "server not ready"})
		return
	}
	result, err := h.ledger.Verify(r.Context())
	if err != nil {
		h.logger.Printf("audit verify: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to verify audit trail"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
