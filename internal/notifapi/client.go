/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package notifapi delivers outbox payloads to the external notification API
// and classifies each attempt as success, retryable or permanent.
package notifapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pigwatch/pigwatch/model"
)

const (
	// IdempotencyHeader carries the dedup key so the receiver can drop replays.
	IdempotencyHeader = "Idempotency-Key"

	// MaxBodyBytes bounds how much of a response is read.
	MaxBodyBytes = 4 << 10

	maxSnippet = 300
)

// Result describes one delivery attempt.
type Result struct {
	Outcome    model.Outcome
	StatusCode int
	Body       []byte
	Duration   time.Duration
	Err        error
}

// Message is the short description stored as the row's last error.
func (r Result) Message() string {
	ms := r.Duration.Milliseconds()
	if r.Err != nil {
		return fmt.Sprintf("exc %dms: %v", ms, r.Err)
	}
	snippet := r.Body
	if len(snippet) > maxSnippet {
		snippet = snippet[:maxSnippet]
	}
	if r.Outcome == model.OutcomeSuccess {
		return fmt.Sprintf("ok %d %dms", r.StatusCode, ms)
	}
	return fmt.Sprintf("http %d %dms: %s", r.StatusCode, ms, snippet)
}

// responseHints are the optional fields a receiver may set to steer classification.
type responseHints struct {
	AlreadyProcessed bool `json:"already_processed"`
	Permanent        bool `json:"permanent"`
}

// Client posts notification payloads to a fixed endpoint.
type Client struct {
	Endpoint string
	Headers  map[string]string
	HTTP     *http.Client
}

// NewClient returns a client whose requests time out after timeout.
func NewClient(endpoint string, headers map[string]string, timeout time.Duration) *Client {
	return &Client{
		Endpoint: endpoint,
		Headers:  headers,
		HTTP:     &http.Client{Timeout: timeout},
	}
}

// Send performs a single attempt. Retries belong to the outbox, so transport
// failures are reported as a retryable Result rather than an error.
func (c *Client) Send(ctx context.Context, rec model.NotificationRecord) Result {
	start := time.Now()
	result := c.send(ctx, rec)
	result.Duration = time.Since(start)

	logrus.WithFields(logrus.Fields{
		"notification_id": rec.ID,
		"dedup_key":       rec.DedupKey,
		"status_code":     result.StatusCode,
		"outcome":         result.Outcome.String(),
		"duration_ms":     result.Duration.Milliseconds(),
	}).Debug("notification attempt finished")
	return result
}

func (c *Client) send(ctx context.Context, rec model.NotificationRecord) Result {
	payload := rec.Payload
	if len(payload) == 0 || !json.Valid(payload) {
		return Result{Outcome: model.OutcomePermanent, Err: errors.New("invalid JSON payload")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return Result{Outcome: model.OutcomePermanent, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(IdempotencyHeader, rec.DedupKey)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		// the receiver may have processed the request; the idempotency key makes a retry safe
		return Result{Outcome: model.OutcomeRetryable, Err: describeTransportError(ctx, err)}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, MaxBodyBytes))
		if err := resp.Body.Close(); err != nil {
			logrus.WithError(err).Error("Failed to close response body")
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	if err != nil && resp.StatusCode >= 300 {
		return Result{Outcome: model.OutcomeRetryable, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	return Result{Outcome: Classify(resp.StatusCode, body), StatusCode: resp.StatusCode, Body: body}
}

// Classify maps a response to a delivery outcome. Only 429 and 5xx are worth
// retrying; every other 4xx is dead on arrival.
func Classify(status int, body []byte) model.Outcome {
	if status >= 200 && status < 300 {
		return model.OutcomeSuccess
	}

	var hints responseHints
	if len(body) > 0 && json.Valid(body) {
		_ = json.Unmarshal(body, &hints)
	}
	if hints.AlreadyProcessed && status < 500 {
		return model.OutcomeSuccess
	}

	switch {
	case hints.Permanent:
		// an explicit rejection outranks the status, 5xx included
		return model.OutcomePermanent
	case status == http.StatusTooManyRequests, status >= 500:
		return model.OutcomeRetryable
	case status >= 400:
		return model.OutcomePermanent
	default:
		// 1xx and 3xx are not expected from the API; try again later
		return model.OutcomeRetryable
	}
}

func describeTransportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("request cancelled: %w", ctx.Err())
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("timeout: %w", err)
	}
	return fmt.Errorf("failed to execute request: %w", err)
}
