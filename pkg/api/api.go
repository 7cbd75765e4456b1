// Package api provides standardized helper functions for HTTP API responses.
package api

import (
	"encoding/json"
	"net/http"

	"deckforge-backend/internal/errors"
)

// ErrorResponse is a standardized error message for API responses.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Success sends a standardized successful HTTP response with optional JSON data.
func Success(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// Error sends a standardized error response with consistent JSON format.
func Error(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}

// ErrorFrom sends an error response derived from err. Unified errors carry
// their own HTTP status and code; internal errors are masked with a generic
// message so implementation details never leak to clients.
func ErrorFrom(w http.ResponseWriter, err error) {
	ue := errors.Normalize(err)
	message := ue.Message
	if ue.Type == errors.ErrorTypeInternal {
		message = "Internal server error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ue.HTTPStatus())
	json.NewEncoder(w).Encode(ErrorResponse{Error: message, Code: string(ue.Code)})
}
