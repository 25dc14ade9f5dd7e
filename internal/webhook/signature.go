package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const (
	HeaderEvent     = "X-SwiftPay-Event"
	HeaderDelivery  = "X-SwiftPay-Delivery"
	HeaderTimestamp = "X-SwiftPay-Timestamp"
	HeaderSignature = "X-SwiftPay-Signature"
)

// Sign returns hex(HMAC-SHA256(secret, "<payload>.<timestamp>")).
func Sign(payload []byte, timestamp int64, secret string) string {
	message := fmt.Sprintf("%s.%d", payload, timestamp)
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks a received signature in constant time.
func Verify(payload []byte, timestamp int64, secret, signature string) bool {
	expected := Sign(payload, timestamp, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
