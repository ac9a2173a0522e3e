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

package notification

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pigwatch/pigwatch/config"
	"github.com/pigwatch/pigwatch/internal/request"
	"github.com/pigwatch/pigwatch/model"
)

// Field is one labelled value of an operator alert.
type Field struct {
	Label string
	Value string
}

// Slack posts operator alerts to an incoming webhook.
type Slack struct {
	WebhookURL string
	Client     *http.Client
}

// NewSlack returns a notifier for webhookURL. An empty URL yields a notifier
// whose methods do nothing, so callers need not check configuration.
func NewSlack(webhookURL string) *Slack {
	return &Slack{WebhookURL: webhookURL, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *Slack) Enabled() bool {
	return s != nil && s.WebhookURL != ""
}

// Post sends a message made of a header block and one section per field.
//
// Parameters:
// - ctx: Bounds the webhook call.
// - title: The header text of the message.
// - fields: Labelled values rendered as markdown sections, in order.
//
// Returns:
// - error: An error if the payload can't be built or the webhook rejects it.
func (s *Slack) Post(ctx context.Context, title string, fields ...Field) error {
	if !s.Enabled() {
		return nil
	}

	blocks := []map[string]interface{}{
		{
			"type": "header",
			"text": map[string]interface{}{"type": "plain_text", "text": title, "emoji": true},
		},
	}
	for _, f := range fields {
		blocks = append(blocks, map[string]interface{}{
			"type": "section",
			"fields": []map[string]string{
				{"type": "mrkdwn", "text": fmt.Sprintf("*%s:*\n%s", f.Label, f.Value)},
			},
		})
	}

	payload, err := request.ToJsonReq(map[string]interface{}{"blocks": blocks})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, payload)
	if err != nil {
		return err
	}
	// Slack answers with plain text
	_, err = request.Call(s.Client, req, nil)
	return err
}

// DeadLetter alerts operators that a notification will never be delivered.
func (s *Slack) DeadLetter(ctx context.Context, rec model.NotificationRecord, reason string) error {
	return s.Post(ctx, "Notification dead-lettered 🐞",
		Field{Label: "Pig", Value: rec.PigID},
		Field{Label: "Type", Value: rec.NotifType.Label()},
		Field{Label: "Dedup key", Value: rec.DedupKey},
		Field{Label: "Attempts", Value: fmt.Sprintf("%d", rec.AttemptCount)},
		Field{Label: "Error", Value: reason},
		Field{Label: "Time", Value: time.Now().UTC().Format(time.RFC822)},
	)
}

// NotifyError logs systemError and, when a Slack webhook is configured,
// reports it asynchronously so the caller is never blocked.
func NotifyError(systemError error) {
	go func(systemError error) {
		logrus.Error(systemError)

		conf, err := config.Fetch()
		if err != nil {
			logrus.Error(err)
			return
		}

		slack := NewSlack(conf.Notification.Slack.WebhookUrl)
		if !slack.Enabled() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err = slack.Post(ctx, "Error From Pigwatch 🐞",
			Field{Label: "Error", Value: systemError.Error()},
			Field{Label: "Time", Value: time.Now().UTC().Format(time.RFC822)},
		)
		if err != nil {
			logrus.Errorf("slack notification failed: %v", err)
		}
	}(systemError)
}
