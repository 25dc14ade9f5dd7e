// internal/domain/transaction.go
package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
	StatusCancelled TransactionStatus = "cancelled"
)

// Gateway result codes with a dedicated meaning.
const (
	ResultCodeSuccess   = 0
	ResultCodeCancelled = 1032
)

func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func (s TransactionStatus) Valid() bool {
	return s == StatusPending || s.IsTerminal()
}

// ValidateTransition enforces pending -> terminal as the only legal move.
func ValidateTransition(from, to TransactionStatus) error {
	if from != StatusPending || !to.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// StatusFromResultCode maps a gateway result code to the terminal status it implies.
func StatusFromResultCode(code int) TransactionStatus {
	switch code {
	case ResultCodeSuccess:
		return StatusCompleted
	case ResultCodeCancelled:
		return StatusCancelled
	default:
		return StatusFailed
	}
}

// PublicStatus is the coarse status exposed to polling clients.
type PublicStatus string

const (
	PublicPending PublicStatus = "PENDING"
	PublicSuccess PublicStatus = "SUCCESS"
	PublicFailed  PublicStatus = "FAILED"
)

func (s TransactionStatus) Public() PublicStatus {
	switch s {
	case StatusCompleted:
		return PublicSuccess
	case StatusFailed, StatusCancelled:
		return PublicFailed
	default:
		return PublicPending
	}
}

func (s PublicStatus) IsTerminal() bool {
	return s == PublicSuccess || s == PublicFailed
}

// Transaction is one STK push attempt, keyed by the gateway's checkout request id.
type Transaction struct {
	ID                int64             `json:"id"`
	CheckoutRequestID string            `json:"checkout_request_id"`
	MerchantRequestID string            `json:"merchant_request_id"`
	Reference         string            `json:"reference"`
	UserID            *string           `json:"user_id,omitempty"`
	TillID            *string           `json:"till_id,omitempty"`
	Phone             string            `json:"phone"`
	Amount            int64             `json:"amount"`
	Description       string            `json:"description"`
	Status            TransactionStatus `json:"status"`
	ResultCode        *int              `json:"result_code,omitempty"`
	ResultDesc        *string           `json:"result_desc,omitempty"`
	MpesaReceipt      *string           `json:"mpesa_receipt,omitempty"`
	TransactionDate   *string           `json:"transaction_date,omitempty"`
	CallbackData      json.RawMessage   `json:"callback_data,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
}

func (t *Transaction) OwnerID() string {
	if t.UserID == nil {
		return ""
	}
	return *t.UserID
}

// Settlement is the terminal outcome written onto a pending transaction.
type Settlement struct {
	// EventID and OccurredAt name and date the payment event emitted if this
	// settlement transitions the row. Webhook and Kafka copies share both.
	EventID           string
	OccurredAt        time.Time
	CheckoutRequestID string
	Status            TransactionStatus
	ResultCode        int
	ResultDesc        string
	MpesaReceipt      string
	TransactionDate   string
	CallbackData      json.RawMessage
}

// SettleOutcome reports what a settle call did to the row.
type SettleOutcome struct {
	Transaction  *Transaction
	Transitioned bool
	// ReceiptFilled is set when an already completed row only gained its receipt.
	ReceiptFilled bool
	Deliveries    int
}

// CompletedAt is the completion time recorded by a transition: the event time
// for a completed settlement, nil for failed or cancelled ones.
func (s Settlement) CompletedAt() *time.Time {
	if s.Status != StatusCompleted {
		return nil
	}
	at := s.OccurredAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return &at
}

type SettleAction int

const (
	SettleIgnore SettleAction = iota
	SettleTransition
	SettleFillReceipt
)

// DecideSettle picks what a settlement does to the current row. Only a pending
// row moves, and only once. A completed row still missing its receipt accepts
// the receipt from a completed settlement. Everything else is a redelivery.
func DecideSettle(current *Transaction, s Settlement) SettleAction {
	switch {
	case current.Status == StatusPending && s.Status.IsTerminal():
		return SettleTransition
	case current.Status == StatusCompleted && current.MpesaReceipt == nil &&
		s.Status == StatusCompleted && s.MpesaReceipt != "":
		return SettleFillReceipt
	default:
		return SettleIgnore
	}
}

// StringPtr returns nil for the empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
