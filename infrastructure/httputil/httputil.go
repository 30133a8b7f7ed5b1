// Package httputil provides common HTTP response utilities for the IPC
// surface's request-response channels.
package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/multiacct/sessionhost/infrastructure/errors"
	"github.com/multiacct/sessionhost/infrastructure/logging"
)

// ErrorResponse is the JSON body written for every failed IPC request.
type ErrorResponse struct {
	Category string      `json:"category"`
	Message  string      `json:"message"`
	Details  interface{} `json:"details,omitempty"`
	TraceID  string      `json:"traceId,omitempty"`
}

var defaultLogger = logging.NewFromEnv("httputil")

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		defaultLogger.WithError(err).Warn("write json response")
	}
}

func traceIDFromRequestOrResponse(w http.ResponseWriter, r *http.Request) string {
	if r != nil {
		if traceID := logging.GetTraceID(r.Context()); traceID != "" {
			return traceID
		}
		if traceID := r.Header.Get("X-Trace-ID"); traceID != "" {
			return traceID
		}
	}
	return w.Header().Get("X-Trace-ID")
}

// WriteErrorResponse writes a JSON error response with category/message/
// details/trace-id fields.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, status int, category, message string, details interface{}) {
	if category == "" {
		category = fmt.Sprintf("HTTP_%d", status)
	}

	traceID := traceIDFromRequestOrResponse(w, r)
	if traceID != "" && w.Header().Get("X-Trace-ID") == "" {
		w.Header().Set("X-Trace-ID", traceID)
	}

	WriteJSON(w, status, ErrorResponse{
		Category: category,
		Message:  message,
		Details:  details,
		TraceID:  traceID,
	})
}

// WriteHostError writes the JSON response for a *errors.HostError, mapping
// its category/HTTPStatus/details directly onto the wire response.
func WriteHostError(w http.ResponseWriter, r *http.Request, err *errors.HostError) {
	WriteErrorResponse(w, r, err.HTTPStatus, string(err.Category), err.Message, err.Details)
}

// WriteError writes a generic JSON error response without a category.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteErrorResponse(w, nil, status, "", message, nil)
}
