package sensorhttp

import (
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"

	sensors "greenthread/internal/sensors/domain"
)

type errorBody struct {
	Error   string               `json:"error"`
	Details []sensors.FieldError `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

// writeValidation answers 400 when err is a validation failure and reports
// whether it did.
func writeValidation(w http.ResponseWriter, err error) bool {
	var validation *sensors.ValidationError
	if errors.As(err, &validation) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: validation.Message, Details: validation.Fields})
		return true
	}
	if errors.Is(err, sensors.ErrInvalidArgument) {
		writeError(w, http.StatusBadRequest, err.Error())
		return true
	}
	return false
}
