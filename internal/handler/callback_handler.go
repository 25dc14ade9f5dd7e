// internal/handler/callback_handler.go
package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// callbackTimeout bounds settlement of one callback once the gateway's request is gone.
const callbackTimeout = 30 * time.Second

type CallbackProcessor interface {
	ProcessSTKCallback(ctx context.Context, payload []byte) error
}

type CallbackHandler struct {
	callbacks CallbackProcessor
	logger    *zap.Logger
}

func NewCallbackHandler(callbacks CallbackProcessor, logger *zap.Logger) *CallbackHandler {
	return &CallbackHandler{
		callbacks: callbacks,
		logger:    logger,
	}
}

type callbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// HandleSTKCallback handles POST /api/payments/callback. The gateway always
// gets an acceptance; processing errors are logged, never returned to it.
func (h *CallbackHandler) HandleSTKCallback(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Error("failed to read callback payload",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err))
		h.ack(w)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), callbackTimeout)
	defer cancel()

	if err := h.callbacks.ProcessSTKCallback(ctx, payload); err != nil {
		h.logger.Error("failed to process stk callback",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err))
	}
	h.ack(w)
}

func (h *CallbackHandler) ack(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, callbackAck{ResultCode: 0, ResultDesc: "Accepted"})
}
