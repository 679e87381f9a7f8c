package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// ErrorResponse is the body written for failed requests.
type ErrorResponse struct {
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteError writes err as a JSON error response with the given status.
func WriteError(w http.ResponseWriter, r *http.Request, status int, err error, logger *slog.Logger) {
	requestID := middleware.GetReqID(r.Context())
	if logger != nil {
		logger.Error("request error",
			slog.String("request_id", requestID),
			slog.Int("status", status),
			slog.String("error", err.Error()),
			slog.String("path", r.URL.Path),
		)
	}
	WriteJSON(w, status, ErrorResponse{
		Status:    http.StatusText(status),
		Detail:    err.Error(),
		RequestID: requestID,
	})
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
