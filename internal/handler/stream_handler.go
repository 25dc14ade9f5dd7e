package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"swiftpay/internal/poller"
	"swiftpay/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait   = 10 * time.Second
	readTimeout = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type timeoutMessage struct {
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Message   string `json:"message"`
}

// StreamHandler pushes status updates for one payment over a websocket.
type StreamHandler struct {
	status   StatusService
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
}

func NewStreamHandler(status StatusService, interval, timeout time.Duration, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		status:   status,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

// StreamPaymentStatus handles GET /ws/payments/{reference}. Every poll result is
// sent as JSON; the socket closes after a final status or on timeout.
func (h *StreamHandler) StreamPaymentStatus(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	if reference == "" {
		writeError(w, http.StatusBadRequest, "Payment reference is required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("reference", reference), zap.Error(err))
		return
	}
	defer conn.Close()

	// Detached from any request deadline; the poll timeout bounds the stream.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	// The client never sends anything useful; reading detects disconnects.
	go func() {
		defer cancel()
		_ = conn.SetReadDeadline(time.Now().Add(h.timeout + readTimeout))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	_, err = poller.Poll(ctx, h.interval, h.timeout, func(ctx context.Context) (*usecase.PaymentStatus, bool, error) {
		status, err := h.status.GetByReference(ctx, reference)
		if err != nil {
			h.logger.Warn("status check failed", zap.String("reference", reference), zap.Error(err))
			return nil, false, err
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(status); err != nil {
			cancel()
			return status, false, err
		}
		return status, status.Status.IsTerminal(), nil
	})

	switch {
	case errors.Is(err, poller.ErrTimeout):
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteJSON(timeoutMessage{
			Status:    "TIMEOUT",
			Reference: reference,
			Message:   "Payment confirmation timed out. Check your M-Pesa messages before retrying.",
		})
	case errors.Is(err, context.Canceled):
		h.logger.Debug("status stream closed by client", zap.String("reference", reference))
		return
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}
