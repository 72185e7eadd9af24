package server

import (
	"encoding/json"
	"net/http"

	"github.com/conduit-lang/relay/internal/web/middleware"
)

// Error codes used in ErrorResponse.
const (
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeBadRequest       = "BAD_REQUEST"
	CodeHandlerFailed    = "HANDLER_FAILED"
	CodePayloadTooLarge  = "PAYLOAD_TOO_LARGE"
	CodeNotFound         = "NOT_FOUND"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeInternal         = "INTERNAL_SERVER_ERROR"
)

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error     ErrorDetail `json:"error"`
	Status    int         `json:"status"`
	Path      string      `json:"path,omitempty"`
	Method    string      `json:"method,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

// ErrorDetail contains detailed error information
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// WriteError writes an error response for r.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	WriteErrorWithDetails(w, r, status, code, message, nil)
}

// WriteErrorWithDetails writes an error response with additional details
func WriteErrorWithDetails(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	resp := ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
		Status: status,
	}
	if r != nil {
		resp.Path = r.URL.Path
		resp.Method = r.Method
		resp.RequestID = middleware.GetRequestID(r.Context())
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
