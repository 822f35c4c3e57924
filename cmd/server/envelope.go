package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/thaingo/dre/internal/logger"
	"github.com/thaingo/dre/rulebook"
)

// Every endpoint renders exactly one of these two envelopes. Values is
// always present on success — usually an array, possibly empty, but a
// bare object when a single entity is retrieved in its JSON form. On
// error only status and message are sent.

type successEnvelope struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Count   int    `json:"count"`
	Values  any    `json:"values"`
}

type errorEnvelope struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func respondSuccess(w http.ResponseWriter, message string, values []any) {
	if values == nil {
		values = []any{}
	}
	writeJSON(w, http.StatusOK, successEnvelope{
		Status:  http.StatusOK,
		Message: message,
		Count:   len(values),
		Values:  values,
	})
}

// respondObject is respondSuccess for a single entity: values holds
// the entity itself rather than a one-element array.
func respondObject(w http.ResponseWriter, message string, value any) {
	writeJSON(w, http.StatusOK, successEnvelope{
		Status:  http.StatusOK,
		Message: message,
		Count:   1,
		Values:  value,
	})
}

func respondError(w http.ResponseWriter, status int, message string) {
	logger.CountStatus(status)
	writeJSON(w, status, errorEnvelope{Status: status, Message: message})
}

// respondFailure maps a failure to its envelope. Tagged business
// failures carry their own message and map to a status by kind;
// anything else is an internal error whose message is wrapped with a
// prefix identifying the failed operation.
func respondFailure(w http.ResponseWriter, err error, prefix string) {
	if kind, ok := rulebook.KindOf(err); ok {
		logger.Debug("request failed", "error", err)
		respondError(w, statusFor(kind), err.Error())
		return
	}
	logger.Error(prefix, "error", err)
	respondError(w, http.StatusInternalServerError, fmt.Sprintf("%s %s", prefix, err.Error()))
}

func statusFor(kind rulebook.Kind) int {
	switch kind {
	case rulebook.KindValidation:
		return http.StatusBadRequest
	case rulebook.KindNotFound:
		return http.StatusNotFound
	case rulebook.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
