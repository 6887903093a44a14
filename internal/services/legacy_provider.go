package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// LegacySender sends notifications via the FCM legacy HTTP endpoint using a
// server key. Kept for projects that have not moved to service accounts.
type LegacySender struct {
	serverKey string
	endpoint  string
	client    *http.Client
}

func NewLegacySender(serverKey, endpoint string, timeout time.Duration) *LegacySender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &LegacySender{
		serverKey: serverKey,
		endpoint:  endpoint,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (p *LegacySender) Name() string {
	return "fcm-legacy"
}

func (p *LegacySender) Send(ctx context.Context, msg *PushMessage) (string, error) {
	if msg.Token == "" {
		return "", &SendError{Code: CodeInvalidToken, Err: errors.New("empty device token")}
	}

	reqMap := map[string]interface{}{
		"to": msg.Token,
		"notification": map[string]string{
			"title": msg.Title,
			"body":  msg.Body,
		},
	}
	if len(msg.Data) > 0 {
		reqMap["data"] = msg.Data
	}

	body, err := json.Marshal(reqMap)
	if err != nil {
		return "", &SendError{Code: CodeInvalidArgument, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", &SendError{Code: CodeInvalidArgument, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+p.serverKey)

	resp, err := p.client.Do(req)
	if err != nil {
		code := CodeUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			code = CodeTimeout
		}
		return "", &SendError{Code: code, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", &SendError{Code: legacyStatusCode(resp.StatusCode), Err: fmt.Errorf("fcm: received status %d", resp.StatusCode)}
	}

	var fcmResp legacyResponse
	if err := json.NewDecoder(resp.Body).Decode(&fcmResp); err != nil {
		return "", &SendError{Code: CodeUnknown, Err: fmt.Errorf("decode fcm response: %w", err)}
	}
	if len(fcmResp.Results) == 0 {
		return "", &SendError{Code: CodeUnknown, Err: errors.New("fcm returned no results")}
	}

	res := fcmResp.Results[0]
	if res.Error != "" {
		return "", &SendError{Code: legacyErrorCode(res.Error), Err: errors.New(res.Error)}
	}
	return res.MessageID, nil
}

type legacyResponse struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Results []struct {
		MessageID string `json:"message_id"`
		Error     string `json:"error"`
	} `json:"results"`
}

func legacyErrorCode(raw string) string {
	switch raw {
	case "NotRegistered":
		return CodeTokenNotRegistered
	case "InvalidRegistration", "MissingRegistration":
		return CodeInvalidToken
	case "MismatchSenderId":
		return CodeMismatchedSender
	case "MessageTooBig":
		return CodePayloadTooBig
	case "DeviceMessageRateExceeded", "TopicsMessageRateExceeded":
		return CodeQuotaExceeded
	case "Unavailable":
		return CodeUnavailable
	case "InternalServerError":
		return CodeInternal
	default:
		return CodeUnknown
	}
}

func legacyStatusCode(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return CodeAuthentication
	case status == http.StatusBadRequest:
		return CodeInvalidArgument
	case status >= 500:
		return CodeUnavailable
	default:
		return CodeUnknown
	}
}
