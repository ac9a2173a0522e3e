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

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/pigwatch/pigwatch/internal/apierror"
	"github.com/pigwatch/pigwatch/model"
)

// ListWaitingApprovals returns rows pending a human decision, oldest first.
// An empty notifType matches every type.
func (d Datasource) ListWaitingApprovals(ctx context.Context, notifType model.NotifType, limit int) ([]model.NotificationRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+outboxColumns+`
		FROM notifications_outbox
		WHERE approval_status = 'WAITING' AND ($1 = '' OR notif_type = $1)
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`, string(notifType), limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to list waiting approvals", err)
	}
	return collectNotifications(rows)
}

// DecideApproval applies a decision to a WAITING row whose token matches.
// It reports false when the token is wrong or the row was already decided.
func (d Datasource) DecideApproval(ctx context.Context, id int64, token string, decision model.ApprovalStatus, decidedBy string, at time.Time) (bool, error) {
	if err := ValidateDecision(decision); err != nil {
		return false, err
	}
	res, err := d.Conn.ExecContext(ctx, `
		UPDATE notifications_outbox
		SET approval_status = $3, approval_decided_at = $5, approval_decided_by = $4, updated_at = $5
		WHERE id = $1 AND approval_token = $2 AND approval_status = 'WAITING'
	`, id, token, string(decision), decidedBy, at)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record approval decision", err)
	}
	return affected(res)
}

// SetApprovalExternalRef stores the id the approval channel assigned to the request.
func (d Datasource) SetApprovalExternalRef(ctx context.Context, id int64, ref string) error {
	res, err := d.Conn.ExecContext(ctx, `
		UPDATE notifications_outbox SET external_ref_id = $2, updated_at = NOW() WHERE id = $1
	`, id, ref)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to set external reference", err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Notification with ID '%d' not found", id), nil)
	}
	return nil
}

// ValidateDecision accepts only the two terminal approval outcomes.
func ValidateDecision(decision model.ApprovalStatus) error {
	if decision != model.ApprovalApproved && decision != model.ApprovalRejected {
		return apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("invalid approval decision %q", decision), nil)
	}
	return nil
}
