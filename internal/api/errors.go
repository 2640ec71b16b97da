package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/MJE43/mines-desktop/internal/mines"
	"github.com/MJE43/mines-desktop/internal/session"
	"github.com/MJE43/mines-desktop/internal/store"
)

// ErrorBuilder helps construct structured errors with context
type ErrorBuilder struct {
	errType   string
	message   string
	context   map[string]any
	requestID string
}

// NewError creates a new error builder
func NewError(errType, message string) *ErrorBuilder {
	return &ErrorBuilder{
		errType: errType,
		message: message,
		context: make(map[string]any),
	}
}

// WithContext adds context information to the error
func (eb *ErrorBuilder) WithContext(key string, value any) *ErrorBuilder {
	eb.context[key] = value
	return eb
}

// WithRequestID adds request ID to the error
func (eb *ErrorBuilder) WithRequestID(requestID string) *ErrorBuilder {
	eb.requestID = requestID
	return eb
}

// WithCause records the underlying error message
func (eb *ErrorBuilder) WithCause(err error) *ErrorBuilder {
	if err != nil {
		eb.context["cause"] = err.Error()
	}
	return eb
}

// Build creates the final EngineError
func (eb *ErrorBuilder) Build() EngineError {
	ctx := eb.context
	if len(ctx) == 0 {
		ctx = nil
	}
	return EngineError{
		Type:      eb.errType,
		Message:   eb.message,
		Context:   ctx,
		RequestID: eb.requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// classify maps a domain error to its response status and type.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, mines.ErrInvalidBet):
		return http.StatusUnprocessableEntity, ErrTypeInvalidBet
	case errors.Is(err, mines.ErrInvalidMineCount):
		return http.StatusUnprocessableEntity, ErrTypeInvalidMineCount
	case errors.Is(err, mines.ErrOutOfBounds):
		return http.StatusUnprocessableEntity, ErrTypeOutOfBounds
	case errors.Is(err, session.ErrInvalidAmount):
		return http.StatusUnprocessableEntity, ErrTypeInvalidAmount
	case errors.Is(err, mines.ErrNotInProgress):
		return http.StatusConflict, ErrTypeNotInProgress
	case errors.Is(err, mines.ErrRoundInProgress):
		return http.StatusConflict, ErrTypeRoundInProgress
	case errors.Is(err, session.ErrInsufficientFunds):
		return http.StatusPaymentRequired, ErrTypeInsufficientFunds
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, ErrTypeRoundNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrTypeTimeout
	default:
		return http.StatusInternalServerError, ErrTypeInternal
	}
}

// statusFor returns the HTTP status for an error type.
func statusFor(errType string) int {
	switch errType {
	case ErrTypeInvalidBet, ErrTypeInvalidMineCount, ErrTypeOutOfBounds, ErrTypeInvalidAmount, ErrTypeValidation:
		return http.StatusUnprocessableEntity
	case ErrTypeNotInProgress, ErrTypeRoundInProgress:
		return http.StatusConflict
	case ErrTypeInsufficientFunds:
		return http.StatusPaymentRequired
	case ErrTypeUnauthorized:
		return http.StatusUnauthorized
	case ErrTypeRoundNotFound:
		return http.StatusNotFound
	case ErrTypeTimeout:
		return http.StatusGatewayTimeout
	case ErrTypeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorHandler provides centralized error handling with logging
type ErrorHandler struct {
	logger *zap.Logger
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *zap.Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// HandleError maps err to a structured response. Internal errors keep their
// message out of the response body.
func (eh *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := middleware.GetReqID(r.Context())

	var engineErr EngineError
	if errors.As(err, &engineErr) {
		if engineErr.RequestID == "" {
			engineErr.RequestID = requestID
		}
		status := statusFor(engineErr.Type)
		eh.logError(r, engineErr, status)
		eh.writeErrorResponse(w, status, engineErr)
		return
	}

	status, errType := classify(err)
	message := err.Error()
	if errType == ErrTypeInternal {
		message = "Internal server error"
	}
	engineErr = NewError(errType, message).
		WithRequestID(requestID).
		WithContext("path", r.URL.Path).
		WithContext("method", r.Method).
		Build()

	if errType == ErrTypeInternal {
		eh.logger.Error("internal error", zap.String("request_id", requestID), zap.Error(err))
	}
	eh.logError(r, engineErr, status)
	eh.writeErrorResponse(w, status, engineErr)
}

// HandleValidationError reports a malformed request field.
func (eh *ErrorHandler) HandleValidationError(w http.ResponseWriter, r *http.Request, field, message string) {
	engineErr := NewError(ErrTypeValidation, fmt.Sprintf("Validation failed: %s", message)).
		WithRequestID(middleware.GetReqID(r.Context())).
		WithContext("field", field).
		WithContext("path", r.URL.Path).
		Build()

	eh.logError(r, engineErr, http.StatusUnprocessableEntity)
	eh.writeErrorResponse(w, http.StatusUnprocessableEntity, engineErr)
}

func (eh *ErrorHandler) logError(r *http.Request, engineErr EngineError, status int) {
	category := GetErrorCategory(engineErr.Type)
	fields := []zap.Field{
		zap.String("type", engineErr.Type),
		zap.String("category", string(category)),
		zap.Int("status", status),
		zap.String("request_id", engineErr.RequestID),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("message", engineErr.Message),
	}
	if status >= http.StatusInternalServerError {
		eh.logger.Error("request failed", fields...)
		return
	}
	eh.logger.Warn("request rejected", fields...)
}

func (eh *ErrorHandler) writeErrorResponse(w http.ResponseWriter, status int, engineErr EngineError) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Engine-Version", EngineVersion)
	w.Header().Set("X-Error-Type", engineErr.Type)
	w.Header().Set("X-Error-Category", string(GetErrorCategory(engineErr.Type)))
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(engineErr); err != nil {
		eh.logger.Warn("write error response", zap.Error(err))
	}
}

// RecoveryHandler turns a panic into a structured 500.
func (eh *ErrorHandler) RecoveryHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rvr := recover()
			if rvr == nil {
				return
			}
			if rvr == http.ErrAbortHandler {
				panic(rvr)
			}
			requestID := middleware.GetReqID(r.Context())
			eh.logger.Error("panic recovered",
				zap.String("request_id", requestID),
				zap.String("path", r.URL.Path),
				zap.Any("panic", rvr),
				zap.Stack("stack"),
			)
			engineErr := NewError(ErrTypeInternal, "Internal server error").
				WithRequestID(requestID).
				WithContext("path", r.URL.Path).
				WithContext("method", r.Method).
				Build()
			eh.writeErrorResponse(w, http.StatusInternalServerError, engineErr)
		}()

		next.ServeHTTP(w, r)
	})
}
