package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxIdentifierLength bounds the de-duplication key.
const MaxIdentifierLength = 255

// ValidationResult is the outcome of Validate. Value is set only when Valid.
type ValidationResult struct {
	Valid  bool
	Errors []string
	Value  *NotificationRequest
}

// Error joins every violation into one human readable string.
func (r ValidationResult) Error() string {
	return strings.Join(r.Errors, "; ")
}

type fieldRule struct {
	name      string
	maxLength int
}

var notificationRules = []fieldRule{
	{name: "identifier", maxLength: MaxIdentifierLength},
	{name: "type"},
	{name: "deviceId"},
	{name: "text"},
}

// Validate checks the required fields of a decoded payload. Every violation
// is collected; unknown fields are kept in Extra and never fail validation.
func Validate(payload map[string]json.RawMessage) ValidationResult {
	var errs []string
	values := make(map[string]string, len(notificationRules))

	for _, rule := range notificationRules {
		raw, ok := payload[rule.name]
		if !ok {
			errs = append(errs, rule.name+" is required")
			continue
		}
		var s string
		if isNull(raw) || json.Unmarshal(raw, &s) != nil {
			errs = append(errs, rule.name+" must be a string")
			continue
		}
		if s == "" {
			errs = append(errs, rule.name+" cannot be empty")
			continue
		}
		if rule.maxLength > 0 && utf8.RuneCountInString(s) > rule.maxLength {
			errs = append(errs, fmt.Sprintf("%s cannot exceed %d characters", rule.name, rule.maxLength))
			continue
		}
		values[rule.name] = s
	}

	if len(errs) > 0 {
		return ValidationResult{Errors: errs}
	}

	req := &NotificationRequest{
		Identifier: values["identifier"],
		Type:       values["type"],
		DeviceID:   values["deviceId"],
		Text:       values["text"],
	}
	for key, raw := range payload {
		if _, known := values[key]; known {
			continue
		}
		if req.Extra == nil {
			req.Extra = make(map[string]json.RawMessage)
		}
		req.Extra[key] = raw
	}
	return ValidationResult{Valid: true, Value: req}
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}
