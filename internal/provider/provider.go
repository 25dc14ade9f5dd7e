// internal/provider/provider.go
package provider

import (
	"context"
)

// Credentials is the merchant account an STK push is made against.
// Either the shared master account or a tenant's own till.
type Credentials struct {
	ConsumerKey     string
	ConsumerSecret  string
	ShortCode       string
	Passkey         string
	PartyB          string
	TransactionType string
}

type STKPushParams struct {
	Phone            string
	Amount           int64
	AccountReference string
	Description      string
	CallbackURL      string
}

type STKPushResult struct {
	MerchantRequestID   string
	CheckoutRequestID   string
	ResponseCode        string
	ResponseDescription string
	CustomerMessage     string
}

// Accepted reports whether the gateway queued the prompt.
func (r *STKPushResult) Accepted() bool {
	return r.ResponseCode == "0"
}

type STKQueryResult struct {
	CheckoutRequestID string
	ResultCode        string
	ResultDesc        string
	// Processing is set while the payer has not yet acted on the prompt.
	Processing bool
}

// STKGateway is the upstream mobile money API.
type STKGateway interface {
	InitiateSTKPush(ctx context.Context, creds Credentials, params STKPushParams) (*STKPushResult, error)
	QuerySTKStatus(ctx context.Context, creds Credentials, checkoutRequestID string) (*STKQueryResult, error)
}
