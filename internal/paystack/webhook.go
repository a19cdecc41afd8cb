package paystack

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"time"
)

const (
	HeaderSignature = "x-paystack-signature"

	EventChargeSuccess = "charge.success"
	EventChargeFailed  = "charge.failed"
)

// Event is a webhook delivery. Only the fields reconciliation reads are
// decoded.
type Event struct {
	Event string    `json:"event"`
	Data  EventData `json:"data"`
}

type EventData struct {
	Reference string     `json:"reference"`
	Status    string     `json:"status"`
	Amount    int64      `json:"amount"`
	Channel   string     `json:"channel"`
	Currency  string     `json:"currency"`
	PaidAt    *time.Time `json:"paid_at"`
	Metadata  Metadata   `json:"metadata"`
}

// Sign returns the hex HMAC-SHA512 of body under secret, the value Paystack
// sends in x-paystack-signature.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares in constant time. An empty signature never
// verifies.
func VerifySignature(secret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(Sign(secret, body))
	return hmac.Equal(got, want)
}
