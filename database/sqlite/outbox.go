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

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pigwatch/pigwatch/database"
	"github.com/pigwatch/pigwatch/internal/apierror"
	"github.com/pigwatch/pigwatch/model"
)

const outboxColumns = `id, dedup_key, pig_id, notif_type, payload, delivery_status, approval_status,
	attempt_count, next_attempt_at, last_error, sent_at, locked_by, locked_at,
	approval_token, approval_decided_at, approval_decided_by, external_ref_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNotification(row rowScanner) (*model.NotificationRecord, error) {
	var rec model.NotificationRecord
	var payload []byte
	var next, created, updated int64
	var lastError, lockedBy, token, decidedBy, externalRef sql.NullString
	var sentAt, lockedAt, decidedAt sql.NullInt64

	err := row.Scan(
		&rec.ID, &rec.DedupKey, &rec.PigID, &rec.NotifType, &payload,
		&rec.DeliveryStatus, &rec.ApprovalStatus, &rec.AttemptCount, &next,
		&lastError, &sentAt, &lockedBy, &lockedAt,
		&token, &decidedAt, &decidedBy, &externalRef, &created, &updated,
	)
	if err != nil {
		return nil, err
	}
	rec.Payload = payload
	rec.NextAttemptAt = fromNanos(next)
	rec.CreatedAt = fromNanos(created)
	rec.UpdatedAt = fromNanos(updated)
	rec.LastError = lastError.String
	rec.LockedBy = lockedBy.String
	rec.ApprovalToken = token.String
	rec.ApprovalDecidedBy = decidedBy.String
	rec.ExternalRefID = externalRef.String
	rec.SentAt = timePtr(sentAt)
	rec.LockedAt = timePtr(lockedAt)
	rec.ApprovalDecidedAt = timePtr(decidedAt)
	return &rec, nil
}

func collectNotifications(rows *sql.Rows) ([]model.NotificationRecord, error) {
	defer func() { _ = rows.Close() }()
	var records []model.NotificationRecord
	for rows.Next() {
		rec, err := scanNotification(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan notification", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating over notifications", storeErr(err))
	}
	return records, nil
}

func (d *Datasource) InsertIfAbsent(ctx context.Context, rec *model.NotificationRecord) (bool, error) {
	if rec.DedupKey == "" {
		return false, apierror.NewAPIError(apierror.ErrInvalidInput, "dedup key is required", nil)
	}
	now := rec.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	next := rec.NextAttemptAt
	if next.IsZero() {
		next = now
	}
	delivery := rec.DeliveryStatus
	if delivery == "" {
		delivery = model.DeliveryNew
	}

	err := d.Conn.QueryRowContext(ctx, `
		INSERT INTO notifications_outbox
		(dedup_key, pig_id, notif_type, payload, delivery_status, approval_status, attempt_count,
		 next_attempt_at, approval_token, approval_decided_at, approval_decided_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (dedup_key) DO NOTHING
		RETURNING id
	`,
		rec.DedupKey, rec.PigID, string(rec.NotifType), string(rec.Payload),
		string(delivery), string(rec.ApprovalStatus), nanos(next),
		nullString(rec.ApprovalToken), nullNanos(rec.ApprovalDecidedAt), nullString(rec.ApprovalDecidedBy),
		nanos(now), nanos(now),
	).Scan(&rec.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to insert notification", storeErr(err))
	}
	rec.DeliveryStatus = delivery
	rec.NextAttemptAt = next
	rec.CreatedAt = now
	rec.UpdatedAt = now
	return true, nil
}

// ClaimBatch runs as one UPDATE statement. SQLite holds the write lock for the
// whole statement, so two claimers never select the same row.
func (d *Datasource) ClaimBatch(ctx context.Context, workerID string, limit int, now time.Time) ([]model.NotificationRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin claim transaction", storeErr(err))
	}
	defer func() { _ = tx.Rollback() }()

	at := nanos(now)
	rows, err := tx.QueryContext(ctx, `
		UPDATE notifications_outbox
		SET delivery_status = 'SENDING', locked_by = ?, locked_at = ?, updated_at = ?
		WHERE id IN (
			SELECT id FROM notifications_outbox
			WHERE delivery_status IN ('NEW', 'RETRY')
			  AND approval_status = 'APPROVED'
			  AND next_attempt_at <= ?
			  AND (locked_by IS NULL OR locked_at < ?)
			ORDER BY next_attempt_at ASC, id ASC
			LIMIT ?
		)
		RETURNING `+outboxColumns,
		workerID, at, at, at, nanos(now.Add(-d.lockTTL())), limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to claim notifications", storeErr(err))
	}
	records, err := collectNotifications(rows)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit claim", storeErr(err))
	}
	// RETURNING order is unspecified
	sort.Slice(records, func(i, j int) bool {
		if !records[i].NextAttemptAt.Equal(records[j].NextAttemptAt) {
			return records[i].NextAttemptAt.Before(records[j].NextAttemptAt)
		}
		return records[i].ID < records[j].ID
	})
	return records, nil
}

func (d *Datasource) MarkSent(ctx context.Context, id int64, at time.Time) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE notifications_outbox
		SET delivery_status = 'SENT', sent_at = ?, last_error = NULL,
			locked_by = NULL, locked_at = NULL, updated_at = ?
		WHERE id = ? AND delivery_status NOT IN ('SENT', 'DEAD')
	`, nanos(at), nanos(at), id)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark notification as sent", storeErr(err))
	}
	return nil
}

func (d *Datasource) MarkRetry(ctx context.Context, id int64, workerID, errMsg string, nextAttemptAt, at time.Time) (bool, error) {
	res, err := d.Conn.ExecContext(ctx, `
		UPDATE notifications_outbox
		SET delivery_status = 'RETRY', attempt_count = attempt_count + 1, last_error = ?,
			next_attempt_at = ?, locked_by = NULL, locked_at = NULL, updated_at = ?
		WHERE id = ? AND delivery_status = 'SENDING' AND locked_by = ?
	`, database.TruncateError(errMsg), nanos(nextAttemptAt), nanos(at), id, workerID)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark notification for retry", storeErr(err))
	}
	return affected(res)
}

func (d *Datasource) MarkDead(ctx context.Context, id int64, workerID, errMsg string, at time.Time) (bool, error) {
	res, err := d.Conn.ExecContext(ctx, `
		UPDATE notifications_outbox
		SET delivery_status = 'DEAD', attempt_count = attempt_count + 1, last_error = ?,
			locked_by = NULL, locked_at = NULL, updated_at = ?
		WHERE id = ? AND delivery_status = 'SENDING' AND locked_by = ?
	`, database.TruncateError(errMsg), nanos(at), id, workerID)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark notification as dead", storeErr(err))
	}
	return affected(res)
}

func (d *Datasource) ReapStaleLocks(ctx context.Context, olderThan, at time.Time) (int64, error) {
	res, err := d.Conn.ExecContext(ctx, `
		UPDATE notifications_outbox
		SET delivery_status = 'RETRY', next_attempt_at = ?,
			locked_by = NULL, locked_at = NULL, updated_at = ?
		WHERE delivery_status = 'SENDING' AND locked_at < ?
	`, nanos(at), nanos(at), nanos(olderThan))
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to reap stale locks", storeErr(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to count reaped rows", err)
	}
	return n, nil
}

func (d *Datasource) GetNotification(ctx context.Context, id int64) (*model.NotificationRecord, error) {
	row := d.Conn.QueryRowContext(ctx, `SELECT `+outboxColumns+` FROM notifications_outbox WHERE id = ?`, id)
	rec, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Notification with ID '%d' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve notification", storeErr(err))
	}
	return rec, nil
}

func (d *Datasource) ListNotifications(ctx context.Context, filter model.NotificationFilter) ([]model.NotificationRecord, error) {
	var conds []string
	var args []interface{}
	add := func(column, value string) {
		if value == "" {
			return
		}
		conds = append(conds, column+" = ?")
		args = append(args, value)
	}
	add("pig_id", filter.PigID)
	add("notif_type", string(filter.NotifType))
	add("delivery_status", string(filter.DeliveryStatus))
	add("approval_status", string(filter.ApprovalStatus))

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)

	rows, err := d.Conn.QueryContext(ctx,
		`SELECT `+outboxColumns+` FROM notifications_outbox `+where+` ORDER BY id DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to list notifications", storeErr(err))
	}
	return collectNotifications(rows)
}

func (d *Datasource) ListWaitingApprovals(ctx context.Context, notifType model.NotifType, limit int) ([]model.NotificationRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+outboxColumns+`
		FROM notifications_outbox
		WHERE approval_status = 'WAITING' AND (? = '' OR notif_type = ?)
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`, string(notifType), string(notifType), limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to list waiting approvals", storeErr(err))
	}
	return collectNotifications(rows)
}

func (d *Datasource) DecideApproval(ctx context.Context, id int64, token string, decision model.ApprovalStatus, decidedBy string, at time.Time) (bool, error) {
	if err := database.ValidateDecision(decision); err != nil {
		return false, err
	}
	res, err := d.Conn.ExecContext(ctx, `
		UPDATE notifications_outbox
		SET approval_status = ?, approval_decided_at = ?, approval_decided_by = ?, updated_at = ?
		WHERE id = ? AND approval_token = ? AND approval_status = 'WAITING'
	`, string(decision), nanos(at), decidedBy, nanos(at), id, token)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record approval decision", storeErr(err))
	}
	return affected(res)
}

func (d *Datasource) SetApprovalExternalRef(ctx context.Context, id int64, ref string) error {
	res, err := d.Conn.ExecContext(ctx, `
		UPDATE notifications_outbox SET external_ref_id = ?, updated_at = ? WHERE id = ?
	`, ref, nanos(time.Now()), id)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to set external reference", storeErr(err))
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

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read affected rows", err)
	}
	return n > 0, nil
}
