package shipments_api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/BearBump/ShipTrack/internal/models"
	"github.com/pkg/errors"
)

const (
	codeValidation        = "VALIDATION_ERROR"
	codeNotFound          = "RESOURCE_NOT_FOUND"
	codeInvalidTransition = "INVALID_TRANSITION"
	codeConflict          = "CONFLICT"
	codeUnauthorized      = "UNAUTHORIZED"
	codeRateLimited       = "RATE_LIMIT_EXCEEDED"
	codeInternal          = "INTERNAL_ERROR"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorBody(w http.ResponseWriter, status int, code, message string, details map[string]string) {
	writeJSON(w, status, errorResponse{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
	})
}

// writeError maps domain errors to status codes. Unknown errors are logged and answered with a
// generic 500 so internals do not leak.
func (a *ShipmentsAPI) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *models.ValidationError
	var te *models.TransitionError
	var nf *models.NotFoundError
	var ce *models.ConflictError

	switch {
	case errors.As(err, &ve):
		writeErrorBody(w, http.StatusBadRequest, codeValidation, "Validation failed", map[string]string{ve.Field: ve.Reason})
	case errors.As(err, &te):
		writeErrorBody(w, http.StatusConflict, codeInvalidTransition, te.Error(), map[string]string{
			"currentStatus": string(te.From),
			"targetStatus":  string(te.To),
		})
	case errors.As(err, &nf):
		writeErrorBody(w, http.StatusNotFound, codeNotFound, nf.Error(), nil)
	case errors.As(err, &ce):
		writeErrorBody(w, http.StatusConflict, codeConflict, ce.Error(), map[string]string{"currentStatus": string(ce.Status)})
	case errors.Is(err, models.ErrNotFound):
		writeErrorBody(w, http.StatusNotFound, codeNotFound, "Resource not found", nil)
	case errors.Is(err, models.ErrUnauthorized):
		writeErrorBody(w, http.StatusUnauthorized, codeUnauthorized, "Authentication required", nil)
	default:
		a.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err.Error())
		writeErrorBody(w, http.StatusInternalServerError, codeInternal, "An unexpected error occurred", nil)
	}
}
