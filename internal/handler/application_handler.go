package handler

import (
	"context"
	"net/http"

	"swiftpay/internal/domain"

	"go.uber.org/zap"
)

type ApplicationService interface {
	Submit(ctx context.Context, req domain.SubmitApplication) (*domain.Application, error)
}

type ApplicationHandler struct {
	applications ApplicationService
	logger       *zap.Logger
}

func NewApplicationHandler(applications ApplicationService, logger *zap.Logger) *ApplicationHandler {
	return &ApplicationHandler{applications: applications, logger: logger}
}

type applicationData struct {
	ApplicationID string `json:"applicationId"`
	Reference     string `json:"reference,omitempty"`
}

type applicationResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    applicationData `json:"data"`
}

// Submit handles POST /api/applications
func (h *ApplicationHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req domain.SubmitApplication
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.IPAddress = r.RemoteAddr
	req.UserAgent = r.UserAgent()

	app, err := h.applications.Submit(r.Context(), req)
	if err != nil {
		writeUsecaseError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, applicationResponse{
		Success: true,
		Message: "Application submitted successfully",
		Data: applicationData{
			ApplicationID: app.ID,
			Reference:     domain.Deref(app.PaymentReference),
		},
	})
}
