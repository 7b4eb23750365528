package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Pagination describes the page of a list response.
type Pagination struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// envelope is the standard API response wrapper. Successful responses carry
// data (and pagination for lists); failures carry a machine-readable error
// code and a human message.
type envelope struct {
	Success    bool        `json:"success"`
	Data       any         `json:"data,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Error      string      `json:"error,omitempty"`
	Message    string      `json:"message,omitempty"`
}

// writeJSON writes a success response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: true, Data: data}); err != nil {
		slog.Error("failed to encode json response", "error", err)
	}
}

// writePage writes a success response for a list endpoint.
func writePage(w http.ResponseWriter, status int, data any, page Pagination) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: true, Data: data, Pagination: &page}); err != nil {
		slog.Error("failed to encode json response", "error", err)
	}
}

// writeError writes a failure response with a machine code and message.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Error: code, Message: msg}); err != nil {
		slog.Error("failed to encode json error response", "error", err)
	}
}

// Error codes returned in the envelope's error field.
const (
	codeValidation   = "validation_error"
	codeNotFound     = "not_found"
	codeConflict     = "conflict"
	codePrecondition = "precondition_failed"
	codeTelephony    = "telephony_error"
	codeInternal     = "internal_error"
)

func writeValidationError(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadRequest, codeValidation, msg)
}

func writeNotFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, codeNotFound, "resource not found")
}

func writeConflict(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusConflict, codeConflict, msg)
}

func writePrecondition(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadRequest, codePrecondition, msg)
}

func writeInternalError(w http.ResponseWriter, err error) {
	slog.Error("internal error", "error", err)
	writeError(w, http.StatusInternalServerError, codeInternal, "internal server error")
}
