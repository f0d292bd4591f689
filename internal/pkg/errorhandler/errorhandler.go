// Package errorhandler logs failed requests with their request id before
// writing the error envelope.
package errorhandler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/mwork/ledger-api/internal/pkg/logger"
	"github.com/mwork/ledger-api/internal/pkg/response"
)

// HandleError logs err and writes an error envelope. 5xx responses never
// expose err to the client.
func HandleError(ctx context.Context, w http.ResponseWriter, status int, code, message string, err error) {
	event := levelFor(ctx, status).
		Str("request_id", middleware.GetReqID(ctx)).
		Str("error_code", code).
		Int("status_code", status)
	if err != nil {
		event = event.Err(err)
	}
	event.Msg(message)

	response.Error(w, status, code, message)
}

// Internal is HandleError for unexpected failures.
func Internal(ctx context.Context, w http.ResponseWriter, err error, msg string) {
	HandleError(ctx, w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", err)
	logger.FromContext(ctx).Debug().Str("operation", msg).Msg("internal error context")
}

// LogValidationError records rejected input at warn level.
func LogValidationError(ctx context.Context, fieldErrors map[string]string) {
	logger.FromContext(ctx).Warn().
		Str("request_id", middleware.GetReqID(ctx)).
		Interface("validation_errors", fieldErrors).
		Msg("Validation error")
}

func levelFor(ctx context.Context, status int) *zerolog.Event {
	l := logger.FromContext(ctx)
	if status >= http.StatusInternalServerError {
		return l.Error()
	}
	return l.Warn()
}
