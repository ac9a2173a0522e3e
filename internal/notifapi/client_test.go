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

package notifapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pigwatch/pigwatch/model"
)

const endpoint = "https://notify.example.com/ingest"

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c := NewClient(endpoint, map[string]string{"Authorization": "Bearer t0ken"}, time.Second)
	httpmock.ActivateNonDefault(c.HTTP)
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func record() model.NotificationRecord {
	return model.NotificationRecord{
		ID:       7,
		DedupKey: "PIG_001:POI_PASSED:20260114T080000Z:V-110",
		Payload:  []byte(`{"Pig ID":"PIG_001","Notification Type":"POI Passage"}`),
	}
}

func TestSend_SetsHeadersAndBody(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodPost, endpoint, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
		assert.Equal(t, record().DedupKey, req.Header.Get(IdempotencyHeader))
		assert.Equal(t, "Bearer t0ken", req.Header.Get("Authorization"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, "PIG_001", body["Pig ID"])
		return httpmock.NewStringResponse(http.StatusOK, `{"ok":true}`), nil
	})

	res := c.Send(context.Background(), record())
	assert.Equal(t, model.OutcomeSuccess, res.Outcome)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.NoError(t, res.Err)
	assert.True(t, strings.HasPrefix(res.Message(), "ok 200"))
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestSend_Outcomes(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   model.Outcome
	}{
		{"created", http.StatusCreated, "", model.OutcomeSuccess},
		{"already processed conflict", http.StatusConflict, `{"already_processed":true}`, model.OutcomeSuccess},
		{"bad request", http.StatusBadRequest, `{"error":"missing Pig ID"}`, model.OutcomePermanent},
		{"unauthorized", http.StatusUnauthorized, "nope", model.OutcomePermanent},
		{"request timeout", http.StatusRequestTimeout, "", model.OutcomePermanent},
		{"too early", http.StatusTooEarly, "", model.OutcomePermanent},
		{"rate limited", http.StatusTooManyRequests, "slow down", model.OutcomeRetryable},
		{"server error", http.StatusInternalServerError, "boom", model.OutcomeRetryable},
		{"already processed on 5xx is still retried", http.StatusBadGateway, `{"already_processed":true}`, model.OutcomeRetryable},
		{"permanent hint", http.StatusUnprocessableEntity, `{"permanent":true}`, model.OutcomePermanent},
		{"permanent hint on 5xx", http.StatusServiceUnavailable, `{"permanent":true}`, model.OutcomePermanent},
		{"permanent hint on 429", http.StatusTooManyRequests, `{"permanent":true}`, model.OutcomePermanent},
		{"permanent false on 5xx", http.StatusServiceUnavailable, `{"permanent":false}`, model.OutcomeRetryable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t)
			httpmock.RegisterResponder(http.MethodPost, endpoint, httpmock.NewStringResponder(tt.status, tt.body))
			res := c.Send(context.Background(), record())
			assert.Equal(t, tt.want, res.Outcome)
			assert.Equal(t, tt.status, res.StatusCode)
		})
	}
}

func TestSend_TransportTimeoutIsRetryable(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodPost, endpoint, httpmock.NewErrorResponder(timeoutError{}))

	res := c.Send(context.Background(), record())
	assert.Equal(t, model.OutcomeRetryable, res.Outcome)
	require.Error(t, res.Err)
	assert.Contains(t, res.Message(), "timeout")
}

func TestSend_ConnectionErrorIsRetryable(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodPost, endpoint, httpmock.NewErrorResponder(errors.New("connection refused")))

	res := c.Send(context.Background(), record())
	assert.Equal(t, model.OutcomeRetryable, res.Outcome)
	assert.Contains(t, res.Message(), "connection refused")
}

func TestSend_InvalidPayloadIsPermanent(t *testing.T) {
	c := newTestClient(t)
	rec := record()
	rec.Payload = []byte(`{not json`)

	res := c.Send(context.Background(), rec)
	assert.Equal(t, model.OutcomePermanent, res.Outcome)
	assert.Zero(t, httpmock.GetTotalCallCount())
}

func TestSend_BodyIsBounded(t *testing.T) {
	c := newTestClient(t)
	huge := strings.Repeat("x", 3*MaxBodyBytes)
	httpmock.RegisterResponder(http.MethodPost, endpoint, httpmock.NewStringResponder(http.StatusServiceUnavailable, huge))

	res := c.Send(context.Background(), record())
	assert.Len(t, res.Body, MaxBodyBytes)
	assert.LessOrEqual(t, len(res.Message()), maxSnippet+40)
}

func TestClassify_RedirectIsRetryable(t *testing.T) {
	assert.Equal(t, model.OutcomeRetryable, Classify(http.StatusMultipleChoices, nil))
}
