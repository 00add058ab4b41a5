package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

const webhookSecretHeader = "x-webhook-secret"

// Sender posts batches to the ingestion webhook.
type Sender struct {
	url    string
	secret string
	client *http.Client
}

// NewSender constructs a Sender.
func NewSender(url, secret string, timeout time.Duration) (*Sender, error) {
	if url == "" {
		return nil, errors.New("simulator: empty webhook url")
	}
	if secret == "" {
		return nil, errors.New("simulator: empty webhook secret")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Sender{url: url, secret: secret, client: &http.Client{Timeout: timeout}}, nil
}

// SendResult is the decoded webhook reply.
type SendResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// Send posts readings as a JSON array. Non-2xx replies are errors.
func (s *Sender) Send(ctx context.Context, readings []Reading) (SendResult, error) {
	payload, err := json.Marshal(readings)
	if err != nil {
		return SendResult{}, errors.Wrap(err, "simulator: encode batch")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return SendResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhookSecretHeader, s.secret)

	resp, err := s.client.Do(req)
	if err != nil {
		return SendResult{}, errors.Wrap(err, "simulator: post batch")
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return SendResult{}, errors.Newf("simulator: webhook status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var result SendResult
	if err := json.Unmarshal(body, &result); err != nil {
		return SendResult{}, errors.Wrap(err, "simulator: decode reply")
	}
	return result, nil
}
