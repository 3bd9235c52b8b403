package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// WriteJSON writes data as a JSON body with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// ErrorObject is a single JSON:API error.
type ErrorObject struct {
	Status int    `json:"status"`
	Code   string `json:"code"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
}

// WriteError writes a JSON:API style error document.
func WriteError(w http.ResponseWriter, status int, code, title, detail string) {
	w.Header().Set("Content-Type", "application/vnd.api+json")
	w.WriteHeader(status)
	body := map[string][]ErrorObject{
		"errors": {{Status: status, Code: code, Title: title, Detail: detail}},
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode error response", slog.String("error", err.Error()))
	}
}

// WriteNotFound writes a 404 for the resource of the given kind and id.
func WriteNotFound(w http.ResponseWriter, kind, id string) {
	WriteError(w, http.StatusNotFound, "not_found", "Resource Not Found",
		"The requested "+kind+" with ID '"+id+"' was not found")
}

func WriteValidationError(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusBadRequest, "validation_failed", "Validation Failed", detail)
}

func WriteUnauthorized(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized", detail)
}

func WriteForbidden(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusForbidden, "forbidden", "Forbidden", detail)
}

// WriteUnavailable writes a 503, used when the backing store cannot be reached.
func WriteUnavailable(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusServiceUnavailable, "service_unavailable", "Service Unavailable", detail)
}

func WriteInternalError(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusInternalServerError, "internal_error", "Internal Server Error", detail)
}
