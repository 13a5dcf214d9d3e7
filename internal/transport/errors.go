package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tracceaqua/tracceaqua/internal/access"
	"github.com/tracceaqua/tracceaqua/internal/domain/activity"
	"github.com/tracceaqua/tracceaqua/internal/domain/attachment"
	"github.com/tracceaqua/tracceaqua/internal/domain/record"
	"github.com/tracceaqua/tracceaqua/internal/domain/stage"
	"github.com/tracceaqua/tracceaqua/internal/domain/trace"
)

// ErrorBody is the JSON shape of every API error.
type ErrorBody struct {
	Code    string             `json:"code"`
	Message string             `json:"message"`
	Fields  []stage.FieldError `json:"fields,omitempty"`
}

// MapError converts a domain error to an HTTP status and body. Unknown
// errors map to 500 with a generic message.
func MapError(err error) (int, ErrorBody) {
	var verr *stage.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity, ErrorBody{Code: "VALIDATION_FAILED", Message: err.Error(), Fields: verr.Fields}
	case errors.Is(err, trace.ErrTraceNotFound):
		return http.StatusNotFound, ErrorBody{Code: "NOT_FOUND", Message: "trace not found"}
	case errors.Is(err, record.ErrRecordNotFound):
		return http.StatusNotFound, ErrorBody{Code: "RECORD_NOT_FOUND", Message: "record not found"}
	case errors.Is(err, attachment.ErrNotFound):
		return http.StatusNotFound, ErrorBody{Code: "ATTACHMENT_NOT_FOUND", Message: "attachment not found"}
	case errors.Is(err, record.ErrNotTransitionable):
		return http.StatusConflict, ErrorBody{Code: "NOT_TRANSITIONABLE", Message: err.Error()}
	case errors.Is(err, record.ErrStageNotApplicable):
		return http.StatusUnprocessableEntity, ErrorBody{Code: "STAGE_NOT_APPLICABLE", Message: err.Error()}
	case errors.Is(err, record.ErrStageOutOfOrder):
		return http.StatusUnprocessableEntity, ErrorBody{Code: "STAGE_OUT_OF_ORDER", Message: err.Error()}
	case errors.Is(err, record.ErrUnauthorized):
		return http.StatusForbidden, ErrorBody{Code: "FORBIDDEN", Message: err.Error()}
	case errors.Is(err, record.ErrConflict):
		return http.StatusConflict, ErrorBody{Code: "CONFLICT", Message: err.Error()}
	case errors.Is(err, record.ErrDuplicateBatch):
		return http.StatusConflict, ErrorBody{Code: "DUPLICATE_BATCH", Message: err.Error()}
	case errors.Is(err, record.ErrInvalidStatus):
		return http.StatusUnprocessableEntity, ErrorBody{Code: "INVALID_STATUS", Message: err.Error()}
	case errors.Is(err, record.ErrInvalidInput),
		errors.Is(err, stage.ErrUnknown),
		errors.Is(err, activity.ErrInvalidInput),
		errors.Is(err, attachment.ErrInvalidRef),
		errors.Is(err, attachment.ErrEmpty):
		return http.StatusBadRequest, ErrorBody{Code: "INVALID_INPUT", Message: err.Error()}
	case errors.Is(err, attachment.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, ErrorBody{Code: "TOO_LARGE", Message: err.Error()}
	case errors.Is(err, access.ErrInvalidKey):
		return http.StatusUnauthorized, ErrorBody{Code: "UNAUTHENTICATED", Message: "invalid bearer token"}
	default:
		return http.StatusInternalServerError, ErrorBody{Code: "INTERNAL", Message: "internal error"}
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := MapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		s.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeProblem(w, status, body)
}

func writeProblem(w http.ResponseWriter, status int, body ErrorBody) {
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func badRequest(w http.ResponseWriter, message string) {
	writeProblem(w, http.StatusBadRequest, ErrorBody{Code: "INVALID_INPUT", Message: message})
}
