package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Gammanik/chunked-storage/internal/apperror"
	"github.com/Gammanik/chunked-storage/internal/storage"
)

func writeJSON(logger *slog.Logger, w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

// writeError отображает ошибку в тело {error, details} и HTTP статус.
// Неизвестные ошибки становятся 500 с текстом причины в details.
func writeError(ctx context.Context, logger *slog.Logger, w http.ResponseWriter, err error) {
	var aerr *apperror.Error
	if !errors.As(err, &aerr) {
		aerr = apperror.NewInternal("Internal server error", err)
	}

	body := storage.ErrorResponse{Error: aerr.Msg()}
	switch {
	case aerr.Details() != nil:
		body.Details = aerr.Details()
	case aerr.Unwrap() != nil:
		body.Details = aerr.Unwrap().Error()
	}

	status := aerr.StatusCode()
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(ctx, "request failed", "status", status, "error", err)
	} else {
		logger.WarnContext(ctx, "request rejected", "status", status, "error", aerr.Msg())
	}

	writeJSON(logger, w, status, body)
}
