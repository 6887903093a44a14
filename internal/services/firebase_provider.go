package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// messagingClient is satisfied by *messaging.Client.
type messagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FirebaseSender sends through the Firebase Admin SDK (FCM HTTP v1).
type FirebaseSender struct {
	client    messagingClient
	projectID string
}

// NewFirebaseSender loads the service account at credentialsPath. An empty
// projectID falls back to the one in the credentials file.
func NewFirebaseSender(ctx context.Context, credentialsPath, projectID string) (*FirebaseSender, error) {
	abs, err := filepath.Abs(credentialsPath)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("firebase credentials file not found at %s: %w", abs, err)
	}

	var conf *firebase.Config
	if projectID != "" {
		conf = &firebase.Config{ProjectID: projectID}
	}
	app, err := firebase.NewApp(ctx, conf, option.WithCredentialsFile(abs))
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase messaging: %w", err)
	}
	return &FirebaseSender{client: client, projectID: projectID}, nil
}

func (s *FirebaseSender) Name() string {
	return "firebase"
}

// ProjectID is the configured project, empty when taken from the credentials.
func (s *FirebaseSender) ProjectID() string {
	return s.projectID
}

func (s *FirebaseSender) Send(ctx context.Context, msg *PushMessage) (string, error) {
	id, err := s.client.Send(ctx, &messaging.Message{
		Token: msg.Token,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data: msg.Data,
	})
	if err != nil {
		return "", &SendError{Code: firebaseErrorCode(err), Err: err}
	}
	return id, nil
}

func firebaseErrorCode(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case messaging.IsUnregistered(err):
		return CodeTokenNotRegistered
	case messaging.IsSenderIDMismatch(err):
		return CodeMismatchedSender
	case messaging.IsInvalidArgument(err):
		return invalidArgumentCode(err.Error())
	case messaging.IsQuotaExceeded(err):
		return CodeQuotaExceeded
	case messaging.IsUnavailable(err):
		return CodeUnavailable
	case messaging.IsInternal(err):
		return CodeInternal
	case messaging.IsThirdPartyAuthError(err):
		return CodeThirdPartyAuth
	default:
		return CodeUnknown
	}
}

// invalidArgumentCode separates a malformed registration token from other
// bad requests. FCM v1 reports both as INVALID_ARGUMENT and only the message
// tells them apart.
func invalidArgumentCode(message string) string {
	msg := strings.ToLower(message)
	if strings.Contains(msg, "registration token") || strings.Contains(msg, "registration-token") {
		return CodeInvalidToken
	}
	return CodeInvalidArgument
}
