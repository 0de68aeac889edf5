package httpx

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// Error codes carried in ErrorResponse.Code.
const (
	CodeValidation      = "VALIDATION_ERROR"
	CodePayloadTooLarge = "PAYLOAD_TOO_LARGE"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "NOT_FOUND"
	CodeCardinality     = "CARDINALITY_LIMIT"
	CodeRateLimited     = "RATE_LIMITED"
	CodeStorageFull     = "STORAGE_FULL"
	CodeInternal        = "INTERNAL_SERVER_ERROR"
)

// RespondJSON writes a JSON response with the given status code and data.
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode JSON response", zap.Error(err))
	}
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// RespondError writes an error response with the given status code, error code and error.
func RespondError(w http.ResponseWriter, status int, code string, err error) {
	RespondErrorString(w, status, code, err.Error())
}

// RespondErrorString writes an error response with the given status code, error code and message.
func RespondErrorString(w http.ResponseWriter, status int, code, message string) {
	RespondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Code:    code,
		Message: message,
	})
}
