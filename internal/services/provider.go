package services

import (
	"context"
	"fmt"
)

// PushMessage is the provider-neutral message handed to a Sender.
type PushMessage struct {
	Token string
	Title string
	Body  string
	Data  map[string]string
}

// Sender represents a downstream push provider (Firebase Admin, legacy FCM HTTP).
// Send issues exactly one remote call and returns the provider message id.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg *PushMessage) (string, error)
}

// Error codes reported in DeliveryOutcome.ErrorCode.
const (
	CodeTokenNotRegistered = "messaging/registration-token-not-registered"
	CodeInvalidToken       = "messaging/invalid-registration-token"
	CodeInvalidArgument    = "messaging/invalid-argument"
	CodeMismatchedSender   = "messaging/mismatched-credential"
	CodeQuotaExceeded      = "messaging/message-rate-exceeded"
	CodeUnavailable        = "messaging/server-unavailable"
	CodeInternal           = "messaging/internal-error"
	CodeThirdPartyAuth     = "messaging/third-party-auth-error"
	CodeAuthentication     = "messaging/authentication-error"
	CodePayloadTooBig      = "messaging/payload-size-limit-exceeded"
	CodeUnknown            = "messaging/unknown-error"

	CodeTimeout         = "gateway/timeout"
	CodeTokenSuppressed = "gateway/token-suppressed"
	CodePanic           = "gateway/panic"
)

// SendError carries a normalized provider error code.
type SendError struct {
	Code string
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// isTokenFatal reports codes that mean the device token will never work again.
func isTokenFatal(code string) bool {
	switch code {
	case CodeTokenNotRegistered, CodeInvalidToken, CodeMismatchedSender:
		return true
	default:
		return false
	}
}
