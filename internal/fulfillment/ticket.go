package fulfillment

import (
	"encoding/json"
	"errors"
	"fmt"
)

// TicketCode is the payload printed in the ticket QR code. Check-in decodes
// it and looks the payment up.
type TicketCode struct {
	UserID    string `json:"userId"`
	EventID   string `json:"eventId"`
	PaymentID string `json:"paymentId"`
}

// EncodeTicketCode returns the compact JSON form of c.
func EncodeTicketCode(c TicketCode) (string, error) {
	if c.UserID == "" || c.EventID == "" || c.PaymentID == "" {
		return "", errors.New("ticket code needs user, event and payment ids")
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode ticket code: %w", err)
	}
	return string(raw), nil
}

// DecodeTicketCode parses a scanned QR payload.
func DecodeTicketCode(s string) (TicketCode, error) {
	var c TicketCode
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return TicketCode{}, fmt.Errorf("decode ticket code: %w", err)
	}
	if c.UserID == "" || c.EventID == "" || c.PaymentID == "" {
		return TicketCode{}, errors.New("ticket code is incomplete")
	}
	return c, nil
}
