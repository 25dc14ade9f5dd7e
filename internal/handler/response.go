package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"swiftpay/internal/cache"
	"swiftpay/internal/domain"

	"go.uber.org/zap"
)

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Success: false, Message: msg})
}

// writeUsecaseError maps usecase errors to an HTTP status and a client-safe message.
func writeUsecaseError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var upstream *domain.UpstreamError
	var validation *domain.ValidationError

	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Error())
	case errors.Is(err, domain.ErrInvalidPhone),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrAPIKeyRequired),
		errors.Is(err, domain.ErrInvalidAPIKey):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrTransactionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, cache.ErrInFlight):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &upstream):
		writeJSON(w, http.StatusBadRequest, errorResponse{Success: false, Message: upstream.Message, Code: upstream.Code})
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		writeError(w, http.StatusBadGateway, "Payment service is temporarily unavailable")
	default:
		logger.Error("unhandled request error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "An unexpected server error occurred")
	}
}
