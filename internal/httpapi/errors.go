package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"inferd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// StatusFor maps an engine error code to an HTTP status.
func StatusFor(code types.ErrorCode) int {
	switch code {
	case types.CodeInvalidInput:
		return http.StatusBadRequest
	case types.CodePermissionDenied:
		return http.StatusForbidden
	case types.CodeRunnerNotFound:
		return http.StatusNotFound
	case types.CodeCapabilityUnsupported:
		return http.StatusUnprocessableEntity
	case types.CodeStreamingUnsupported:
		return http.StatusConflict
	case types.CodeModelNotLoaded, types.CodeModelLoadFailed:
		return http.StatusServiceUnavailable
	case types.CodeInsufficientResources:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// writeError maps err to a status and writes it. It returns the status.
func writeError(w http.ResponseWriter, err error) int {
	var he HTTPError
	if errors.As(err, &he) {
		writeJSONError(w, he.StatusCode(), he.Error())
		return he.StatusCode()
	}
	var ee *types.EngineError
	if !errors.As(err, &ee) {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return http.StatusInternalServerError
	}
	status := StatusFor(ee.Code)
	if status == http.StatusTooManyRequests {
		IncrementBackpressure("resources")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: ee.Message, Code: status, EngineCode: ee.Code})
	return status
}
