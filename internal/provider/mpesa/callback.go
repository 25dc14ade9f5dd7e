package mpesa

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// STKCallbackRequest is the body the gateway posts to the callback URL.
type STKCallbackRequest struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string      `json:"MerchantRequestID"`
			CheckoutRequestID string      `json:"CheckoutRequestID"`
			ResultCode        json.Number `json:"ResultCode"`
			ResultDesc        string      `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string      `json:"Name"`
					Value interface{} `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// CallbackResult is the parsed outcome of an STK push.
type CallbackResult struct {
	CheckoutRequestID  string
	MerchantRequestID  string
	ResultCode         int
	ResultDesc         string
	MpesaReceiptNumber string
	Amount             float64
	TransactionDate    string
	PhoneNumber        string
	Metadata           map[string]string
}

func (r *CallbackResult) Success() bool {
	return r.ResultCode == 0
}

var ErrMissingCheckoutID = errors.New("callback has no CheckoutRequestID")

// ParseSTKCallback decodes a callback body. Numbers are kept exact so phone
// numbers and transaction dates are not rendered in exponent form.
func ParseSTKCallback(payload []byte) (*CallbackResult, error) {
	var callback STKCallbackRequest
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&callback); err != nil {
		return nil, fmt.Errorf("failed to parse callback: %w", err)
	}

	stk := callback.Body.StkCallback
	if stk.CheckoutRequestID == "" {
		return nil, ErrMissingCheckoutID
	}

	code, err := strconv.Atoi(stk.ResultCode.String())
	if err != nil {
		return nil, fmt.Errorf("invalid ResultCode %q: %w", stk.ResultCode, err)
	}

	result := &CallbackResult{
		CheckoutRequestID: stk.CheckoutRequestID,
		MerchantRequestID: stk.MerchantRequestID,
		ResultCode:        code,
		ResultDesc:        stk.ResultDesc,
		Metadata:          make(map[string]string),
	}

	for _, item := range stk.CallbackMetadata.Item {
		value := metadataString(item.Value)
		result.Metadata[item.Name] = value

		switch item.Name {
		case "MpesaReceiptNumber":
			result.MpesaReceiptNumber = value
		case "Amount":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				result.Amount = f
			}
		case "TransactionDate":
			result.TransactionDate = value
		case "PhoneNumber":
			result.PhoneNumber = value
		}
	}

	return result, nil
}

func metadataString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
