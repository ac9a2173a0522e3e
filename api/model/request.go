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

package model

import (
	"errors"
	"net/url"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/pigwatch/pigwatch/model"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// DecideApproval is the body of POST /approvals/:id.
type DecideApproval struct {
	Token     string `json:"token"`
	Decision  string `json:"decision"`
	DecidedBy string `json:"decided_by"`
}

func (d *DecideApproval) ValidateDecideApproval() error {
	d.Decision = strings.ToUpper(strings.TrimSpace(d.Decision))
	return validation.ValidateStruct(d,
		validation.Field(&d.Token, validation.Required),
		validation.Field(&d.Decision, validation.Required,
			validation.In(string(model.ApprovalApproved), string(model.ApprovalRejected)).
				Error("decision must be APPROVED or REJECTED")),
		validation.Field(&d.DecidedBy, validation.Length(0, 120)),
	)
}

func (d *DecideApproval) Status() model.ApprovalStatus {
	return model.ApprovalStatus(d.Decision)
}

// ExternalRef is the body of PUT /approvals/:id/external-ref.
type ExternalRef struct {
	ExternalRefID string `json:"external_ref_id"`
}

func (e *ExternalRef) ValidateExternalRef() error {
	return validation.ValidateStruct(e,
		validation.Field(&e.ExternalRefID, validation.Required, validation.Length(1, 255)),
	)
}

// ApprovalView exposes the approval token, which is hidden from every other
// rendering of a notification.
type ApprovalView struct {
	model.NotificationRecord
	Token string `json:"approval_token"`
}

func ToApprovalViews(records []model.NotificationRecord) []ApprovalView {
	views := make([]ApprovalView, 0, len(records))
	for _, r := range records {
		views = append(views, ApprovalView{NotificationRecord: r, Token: r.ApprovalToken})
	}
	return views
}

// NotificationQuery are the filters of GET /notifications.
type NotificationQuery struct {
	Status   string
	Approval string
	PigID    string
	Limit    int
	Offset   int
}

// ParseNotificationQuery reads and validates the list filters.
func ParseNotificationQuery(values url.Values) (model.NotificationFilter, error) {
	q := NotificationQuery{
		Status:   strings.ToUpper(strings.TrimSpace(values.Get("status"))),
		Approval: strings.ToUpper(strings.TrimSpace(values.Get("approval"))),
		PigID:    strings.TrimSpace(values.Get("pig_id")),
	}
	var err error
	if q.Limit, err = parseLimit(values.Get("limit")); err != nil {
		return model.NotificationFilter{}, err
	}
	if raw := values.Get("offset"); raw != "" {
		if q.Offset, err = strconv.Atoi(raw); err != nil || q.Offset < 0 {
			return model.NotificationFilter{}, errors.New("offset must be a non-negative integer")
		}
	}

	err = validation.ValidateStruct(&q,
		validation.Field(&q.Status, validation.In(
			string(model.DeliveryNew), string(model.DeliverySending), string(model.DeliveryRetry),
			string(model.DeliverySent), string(model.DeliveryDead),
		).Error("unknown delivery status")),
		validation.Field(&q.Approval, validation.In(
			string(model.ApprovalWaiting), string(model.ApprovalApproved), string(model.ApprovalRejected),
		).Error("unknown approval status")),
	)
	if err != nil {
		return model.NotificationFilter{}, err
	}
	return model.NotificationFilter{
		PigID:          q.PigID,
		DeliveryStatus: model.DeliveryStatus(q.Status),
		ApprovalStatus: model.ApprovalStatus(q.Approval),
		Limit:          q.Limit,
		Offset:         q.Offset,
	}, nil
}

// ParseApprovalQuery reads the filters of GET /approvals.
func ParseApprovalQuery(values url.Values) (model.NotifType, int, error) {
	limit, err := parseLimit(values.Get("limit"))
	if err != nil {
		return "", 0, err
	}
	t := model.NotifType(strings.ToUpper(strings.TrimSpace(values.Get("notif_type"))))
	if t != "" && !t.Valid() {
		return "", 0, errors.New("unknown notification type")
	}
	return t, limit, nil
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return DefaultLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return limit, nil
}
