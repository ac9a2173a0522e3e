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
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

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
	var lastError, lockedBy, token, decidedBy, externalRef sql.NullString
	var sentAt, lockedAt, decidedAt sql.NullTime

	err := row.Scan(
		&rec.ID,
		&rec.DedupKey,
		&rec.PigID,
		&rec.NotifType,
		&payload,
		&rec.DeliveryStatus,
		&rec.ApprovalStatus,
		&rec.AttemptCount,
		&rec.NextAttemptAt,
		&lastError,
		&sentAt,
		&lockedBy,
		&lockedAt,
		&token,
		&decidedAt,
		&decidedBy,
		&externalRef,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Payload = payload
	rec.LastError = lastError.String
	rec.LockedBy = lockedBy.String
	rec.ApprovalToken = token.String
	rec.ApprovalDecidedBy = decidedBy.String
	rec.ExternalRefID = externalRef.String
	if sentAt.Valid {
		rec.SentAt = &sentAt.Time
	}
	if lockedAt.Valid {
		rec.LockedAt = &lockedAt.Time
	}
	if decidedAt.Valid {
		rec.ApprovalDecidedAt = &decidedAt.Time
	}
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
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating over notifications", err)
	}
	return records, nil
}

// InsertIfAbsent inserts rec unless a row with the same dedup key exists.
// It reports whether a row was inserted and sets rec.ID when it was.
func (d Datasource) InsertIfAbsent(ctx context.Context, rec *model.NotificationRecord) (bool, error) {
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
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9, $10, $11, $11)
		ON CONFLICT (dedup_key) DO NOTHING
		RETURNING id
	`,
		rec.DedupKey,
		rec.PigID,
		rec.NotifType,
		string(rec.Payload),
		delivery,
		rec.ApprovalStatus,
		next,
		nullString(rec.ApprovalToken),
		rec.ApprovalDecidedAt,
		nullString(rec.ApprovalDecidedBy),
		now,
	).Scan(&rec.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to insert notification", err)
	}

	rec.DeliveryStatus = delivery
	rec.NextAttemptAt = next
	rec.CreatedAt = now
	rec.UpdatedAt = now
	return true, nil
}

// ClaimBatch locks up to limit deliverable rows for workerID and moves them to SENDING.
// Rows locked by a concurrent claimer are skipped, never waited on.
func (d Datasource) ClaimBatch(ctx context.Context, workerID string, limit int, now time.Time) ([]model.NotificationRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := d.Conn.QueryContext(ctx, `
		UPDATE notifications_outbox
		SET delivery_status = 'SENDING', locked_by = $1, locked_at = $2, updated_at = $2
		WHERE id IN (
			SELECT id FROM notifications_outbox
			WHERE delivery_status IN ('NEW', 'RETRY')
			  AND approval_status = 'APPROVED'
			  AND next_attempt_at <= $2
			  AND (locked_by IS NULL OR locked_at < $3)
			ORDER BY next_attempt_at ASC, id ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+outboxColumns,
		workerID, now, now.Add(-d.lockTTL()), limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to claim notifications", err)
	}
	return collectNotifications(rows)
}

// MarkSent records a confirmed delivery. It is a no-op on rows already SENT or DEAD.
func (d Datasource) MarkSent(ctx context.Context, id int64, at time.Time) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE notifications_outbox
		SET delivery_status = 'SENT', sent_at = $2, last_error = NULL,
			locked_by = NULL, locked_at = NULL, updated_at = $2
		WHERE id = $1 AND delivery_status NOT IN ('SENT', 'DEAD')
	`, id, at)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark notification as sent", err)
	}
	return nil
}

// MarkRetry requeues a row claimed by workerID. It reports false when the claim
// was lost, e.g. reaped and handed to another worker.
func (d Datasource) MarkRetry(ctx context.Context, id int64, workerID, errMsg string, nextAttemptAt, at time.Time) (bool, error) {
	res, err := d.Conn.ExecContext(ctx, `
		UPDATE notifications_outbox
		SET delivery_status = 'RETRY', attempt_count = attempt_count + 1, last_error = $3,
			next_attempt_at = $4, locked_by = NULL, locked_at = NULL, updated_at = $5
		WHERE id = $1 AND delivery_status = 'SENDING' AND locked_by = $2
	`, id, workerID, TruncateError(errMsg), nextAttemptAt, at)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark notification for retry", err)
	}
	return affected(res)
}

// MarkDead dead-letters a row claimed by workerID.
func (d Datasource) MarkDead(ctx context.Context, id int64, workerID, errMsg string, at time.Time) (bool, error) {
	res, err := d.Conn.ExecContext(ctx, `
		UPDATE notifications_outbox
		SET delivery_status = 'DEAD', attempt_count = attempt_count + 1, last_error = $3,
			locked_by = NULL, locked_at = NULL, updated_at = $4
		WHERE id = $1 AND delivery_status = 'SENDING' AND locked_by = $2
	`, id, workerID, TruncateError(errMsg), at)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark notification as dead", err)
	}
	return affected(res)
}

// ReapStaleLocks returns SENDING rows locked before olderThan to RETRY, eligible at once.
func (d Datasource) ReapStaleLocks(ctx context.Context, olderThan, at time.Time) (int64, error) {
	res, err := d.Conn.ExecContext(ctx, `
		UPDATE notifications_outbox
		SET delivery_status = 'RETRY', next_attempt_at = $2,
			locked_by = NULL, locked_at = NULL, updated_at = $2
		WHERE delivery_status = 'SENDING' AND locked_at < $1
	`, olderThan, at)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to reap stale locks", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to count reaped rows", err)
	}
	return n, nil
}

func (d Datasource) GetNotification(ctx context.Context, id int64) (*model.NotificationRecord, error) {
	row := d.Conn.QueryRowContext(ctx, `SELECT `+outboxColumns+` FROM notifications_outbox WHERE id = $1`, id)
	rec, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Notification with ID '%d' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve notification", err)
	}
	return rec, nil
}

func (d Datasource) ListNotifications(ctx context.Context, filter model.NotificationFilter) ([]model.NotificationRecord, error) {
	where, args := notificationConditions(filter)
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM notifications_outbox %s ORDER BY id DESC LIMIT $%d OFFSET $%d`,
		outboxColumns, where, len(args)-1, len(args))

	rows, err := d.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to list notifications", err)
	}
	return collectNotifications(rows)
}

func notificationConditions(filter model.NotificationFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(column string, value interface{}) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if filter.PigID != "" {
		add("pig_id", filter.PigID)
	}
	if filter.NotifType != "" {
		add("notif_type", string(filter.NotifType))
	}
	if filter.DeliveryStatus != "" {
		add("delivery_status", string(filter.DeliveryStatus))
	}
	if filter.ApprovalStatus != "" {
		add("approval_status", string(filter.ApprovalStatus))
	}
	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// MaxErrorLength bounds last_error so a verbose upstream body cannot bloat rows.
const MaxErrorLength = 1000

// TruncateError cuts msg to MaxErrorLength bytes without splitting a UTF-8 sequence.
func TruncateError(msg string) string {
	if len(msg) <= MaxErrorLength {
		return msg
	}
	cut := MaxErrorLength
	for cut > 0 && !isRuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read affected rows", err)
	}
	return n > 0, nil
}
