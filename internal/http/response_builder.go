// Package http provides the JSON API over the ledger session.
//
// This file implements the Builder Pattern for JSON responses so that every
// handler emits the same envelope for errors and the same content type.

package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"finlux/internal/backend"
	"finlux/internal/core"
	"finlux/internal/log"
	"finlux/internal/session"
)

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	body       any
	headers    map[string]string
}

// ErrorBody is the envelope for every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

// Status sets the HTTP status code for the response.
func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

// Header adds a custom header to the response.
func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets the value encoded as the response body.
func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	return b
}

// Write sends the built response to the http.ResponseWriter.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.body == nil || b.statusCode == http.StatusNoContent {
		w.WriteHeader(b.statusCode)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	_ = json.NewEncoder(w).Encode(b.body)
}

// ErrorResponse creates a standard error response.
func ErrorResponse(statusCode int, kind, message string) *JSONResponseBuilder {
	return NewJSONResponse().
		Status(statusCode).
		Body(ErrorBody{Error: ErrorDetail{Kind: kind, Message: message}})
}

// BadRequestError creates a 400 Bad Request error response.
func BadRequestError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, log.ErrorTypeBadRequest, message)
}

// NotFoundError creates a 404 Not Found error response.
func NotFoundError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusNotFound, string(core.KindNotFound), message)
}

// StatusForKind maps a mutation error kind to its HTTP status.
func StatusForKind(kind core.ErrorKind) int {
	switch kind {
	case core.KindValidation:
		return http.StatusUnprocessableEntity
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindConflict:
		return http.StatusConflict
	case core.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// ErrorFor converts any handler error into a response. Session errors are
// checked first; everything else goes through the ledger's classification.
func ErrorFor(err error) *JSONResponseBuilder {
	switch {
	case errors.Is(err, session.ErrInvalidUser):
		return ErrorResponse(http.StatusUnprocessableEntity, string(core.KindValidation), err.Error())
	case errors.Is(err, session.ErrNotSignedIn):
		return ErrorResponse(http.StatusConflict, log.ErrorTypeSession, err.Error())
	case errors.Is(err, backend.ErrRemoteDisabled):
		return ErrorResponse(http.StatusNotImplemented, log.ErrorTypeConfiguration, err.Error())
	case errors.Is(err, session.ErrNotStarted), errors.Is(err, session.ErrSessionClosed):
		return ErrorResponse(http.StatusServiceUnavailable, log.ErrorTypeSession, err.Error())
	}
	kind := core.Classify(err)
	return ErrorResponse(StatusForKind(kind), string(kind), err.Error())
}
