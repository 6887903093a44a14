package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// NotificationRequest is the payload consumed from the work queue and driving
// one delivery attempt. Values of this type only come out of Validate.
type NotificationRequest struct {
	Identifier string `json:"identifier"`
	Type       string `json:"type"`
	DeviceID   string `json:"deviceId"`
	Text       string `json:"text"`
	// Extra keeps fields the service does not know about. They are carried
	// along but never inspected.
	Extra map[string]json.RawMessage `json:"-"`
}

// ParsePayload decodes a raw queue body into its top-level fields.
// A body that is not a JSON object is a parse failure.
func ParsePayload(body []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if fields == nil {
		return nil, errors.New("decode payload: body is not a JSON object")
	}
	return fields, nil
}

// DeliveryOutcome is the normalized result of a single gateway send.
type DeliveryOutcome struct {
	Success           bool
	ProviderMessageID string
	ErrorCode         string
	ErrorMessage      string
}

// Delivered builds a successful outcome.
func Delivered(messageID string) DeliveryOutcome {
	return DeliveryOutcome{Success: true, ProviderMessageID: messageID}
}

// Failed builds a failed outcome.
func Failed(code, message string) DeliveryOutcome {
	return DeliveryOutcome{ErrorCode: code, ErrorMessage: message}
}

// DeliveryRecord is the durable idempotency marker, one row per identifier.
type DeliveryRecord struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	Identifier string    `gorm:"size:255;not null;uniqueIndex:uq_fcm_job_identifier" json:"identifier"`
	DeliverAt  time.Time `gorm:"column:deliverAt;not null" json:"deliverAt"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TableName keeps the table name used by the rest of the platform.
func (DeliveryRecord) TableName() string {
	return "fcm_job"
}

// CompletionEvent is announced on the fan-out exchange after a delivery has
// been recorded.
type CompletionEvent struct {
	Identifier string `json:"identifier"`
	DeliverAt  string `json:"deliverAt"`
}

// NewCompletionEvent formats deliveredAt as an ISO-8601 UTC timestamp.
func NewCompletionEvent(identifier string, deliveredAt time.Time) CompletionEvent {
	return CompletionEvent{
		Identifier: identifier,
		DeliverAt:  FormatTimestamp(deliveredAt),
	}
}

// FormatTimestamp renders t the way completion events carry it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
