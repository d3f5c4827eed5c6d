package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rhuss/toolgate/pkg/api"
)

// HTTPStatusFromError maps an APIError type to the corresponding HTTP status
// code. Transport-level errors (body too large, unsupported content type)
// are handled separately by the HTTP adapter.
func HTTPStatusFromError(err *api.APIError) int {
	switch err.Type {
	case api.ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case api.ErrorTypeUnauthorized:
		return http.StatusUnauthorized
	case api.ErrorTypeForbidden:
		return http.StatusForbidden
	case api.ErrorTypeNotFound, api.ErrorTypeNotContributed:
		return http.StatusNotFound
	case api.ErrorTypeConflict, api.ErrorTypeAlreadyRegistered, api.ErrorTypeAlreadyImplemented, api.ErrorTypeCancelled:
		return http.StatusConflict
	case api.ErrorTypeTooManyRequests:
		return http.StatusTooManyRequests
	case api.ErrorTypeNoImplementation:
		return http.StatusServiceUnavailable
	case api.ErrorTypeExecution:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// APIErrorFrom converts err to the wire envelope. Tool errors keep their
// type; context cancellation becomes a cancelled error; anything else is a
// server error.
func APIErrorFrom(err error) *api.APIError {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	var toolErr *api.ToolError
	if errors.As(err, &toolErr) {
		return toolErr.APIError()
	}
	if api.IsCancellation(err) {
		return &api.APIError{Type: api.ErrorTypeCancelled, Message: err.Error()}
	}
	return api.NewServerError(err.Error())
}

// WriteErrorResponse writes a JSON error response using the ErrorResponse
// wrapper format from pkg/api. It sets the Content-Type header and writes
// the HTTP status code.
func WriteErrorResponse(w http.ResponseWriter, apiErr *api.APIError, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: apiErr})
}

// WriteAPIError writes an APIError response, deriving the HTTP status code
// from the error type.
func WriteAPIError(w http.ResponseWriter, apiErr *api.APIError) {
	WriteErrorResponse(w, apiErr, HTTPStatusFromError(apiErr))
}

// WriteError converts err with APIErrorFrom and writes it.
func WriteError(w http.ResponseWriter, err error) {
	WriteAPIError(w, APIErrorFrom(err))
}
