package domain

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventPaymentCompleted EventType = "payment.completed"
	EventPaymentFailed    EventType = "payment.failed"
)

// EventTypeFor returns the event emitted when a transaction settles with status.
func EventTypeFor(status TransactionStatus) EventType {
	if status == StatusCompleted {
		return EventPaymentCompleted
	}
	return EventPaymentFailed
}

type WebhookSubscription struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	URL      string `json:"url"`
	Secret   string `json:"-"`
	IsActive bool   `json:"is_active"`
}

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryDead      DeliveryStatus = "dead"
)

// WebhookDelivery is an outbox row: one event for one subscriber.
type WebhookDelivery struct {
	ID            int64           `json:"id"`
	EventID       string          `json:"event_id"`
	WebhookID     string          `json:"webhook_id"`
	UserID        string          `json:"user_id"`
	URL           string          `json:"url"`
	Secret        string          `json:"-"`
	EventType     EventType       `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Status        DeliveryStatus  `json:"status"`
	Attempts      int             `json:"attempts"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	LastError     *string         `json:"last_error,omitempty"`
	DeliveredAt   *time.Time      `json:"delivered_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// PaymentEvent is the envelope sent to subscribers and published to the event stream.
type PaymentEvent struct {
	ID        string           `json:"id"`
	Event     EventType        `json:"event"`
	CreatedAt time.Time        `json:"created_at"`
	Data      PaymentEventData `json:"data"`
}

type PaymentEventData struct {
	TransactionID     string            `json:"transaction_id"`
	CheckoutRequestID string            `json:"checkout_request_id"`
	Reference         string            `json:"reference,omitempty"`
	UserID            string            `json:"user_id,omitempty"`
	Status            TransactionStatus `json:"status"`
	Amount            int64             `json:"amount"`
	Phone             string            `json:"phone"`
	MpesaReceipt      string            `json:"mpesa_receipt,omitempty"`
	ResultCode        *int              `json:"result_code,omitempty"`
	ResultDesc        string            `json:"result_desc,omitempty"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
}

// NewPaymentEvent builds the envelope for a settled transaction.
func NewPaymentEvent(eventID string, tx *Transaction, now time.Time) PaymentEvent {
	return PaymentEvent{
		ID:        eventID,
		Event:     EventTypeFor(tx.Status),
		CreatedAt: now.UTC(),
		Data: PaymentEventData{
			TransactionID:     tx.CheckoutRequestID,
			CheckoutRequestID: tx.CheckoutRequestID,
			Reference:         tx.Reference,
			UserID:            tx.OwnerID(),
			Status:            tx.Status,
			Amount:            tx.Amount,
			Phone:             tx.Phone,
			MpesaReceipt:      Deref(tx.MpesaReceipt),
			ResultCode:        tx.ResultCode,
			ResultDesc:        Deref(tx.ResultDesc),
			CompletedAt:       tx.CompletedAt,
		},
	}
}
