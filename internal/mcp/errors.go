package mcp

import (
	"encoding/json"
	"errors"
	"fmt"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tracceaqua/tracceaqua/internal/domain/activity"
	"github.com/tracceaqua/tracceaqua/internal/domain/record"
	"github.com/tracceaqua/tracceaqua/internal/domain/stage"
	"github.com/tracceaqua/tracceaqua/internal/domain/trace"
)

// APIError represents an MCP error response.
type APIError struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	Details      any    `json:"details,omitempty"`
	RecoveryHint string `json:"recovery_hint,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// MapError maps domain errors to MCP error codes. Unknown errors map to
// INTERNAL without exposing their text.
func MapError(err error) *APIError {
	if err == nil {
		return nil
	}
	var verr *stage.ValidationError
	switch {
	case errors.As(err, &verr):
		return &APIError{Code: "VALIDATION_FAILED", Message: err.Error(), Details: verr.Fields,
			RecoveryHint: "Read tracceaqua://docs/stages for the required payload fields"}
	case errors.Is(err, trace.ErrTraceNotFound):
		return &APIError{Code: "NOT_FOUND", Message: "trace not found"}
	case errors.Is(err, record.ErrRecordNotFound):
		return &APIError{Code: "RECORD_NOT_FOUND", Message: "record not found", RecoveryHint: "Check the record ID or search_records"}
	case errors.Is(err, record.ErrNotTransitionable):
		return &APIError{Code: "NOT_TRANSITIONABLE", Message: err.Error(), RecoveryHint: "Only ACTIVE records accept stage updates"}
	case errors.Is(err, record.ErrStageNotApplicable):
		return &APIError{Code: "STAGE_NOT_APPLICABLE", Message: err.Error(), RecoveryHint: "Call list_stages for the record's source type"}
	case errors.Is(err, record.ErrStageOutOfOrder):
		return &APIError{Code: "STAGE_OUT_OF_ORDER", Message: err.Error(), RecoveryHint: "Pick a stage after the current one"}
	case errors.Is(err, record.ErrUnauthorized):
		return &APIError{Code: "FORBIDDEN", Message: err.Error()}
	case errors.Is(err, record.ErrConflict):
		return &APIError{Code: "CONFLICT", Message: "record modified concurrently", RecoveryHint: "Retry the call"}
	case errors.Is(err, record.ErrDuplicateBatch):
		return &APIError{Code: "DUPLICATE_BATCH", Message: err.Error(), RecoveryHint: "Choose another batch code or omit it"}
	case errors.Is(err, record.ErrInvalidStatus):
		return &APIError{Code: "INVALID_STATUS", Message: err.Error()}
	case errors.Is(err, record.ErrInvalidInput), errors.Is(err, stage.ErrUnknown), errors.Is(err, activity.ErrInvalidInput):
		return &APIError{Code: "INVALID_INPUT", Message: err.Error()}
	default:
		return &APIError{Code: "INTERNAL", Message: "internal error"}
	}
}

// toolError reports err inside the tool result so the calling model can see
// and act on it.
func toolError(err error) (*sdkmcp.CallToolResult, any, error) {
	apiErr := MapError(err)
	text, mErr := json.Marshal(apiErr)
	if mErr != nil {
		text = []byte(apiErr.Error())
	}
	return &sdkmcp.CallToolResult{
		IsError: true,
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: string(text)}},
	}, nil, nil
}
