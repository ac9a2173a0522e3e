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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/pigwatch/pigwatch/internal/apierror"
	"github.com/pigwatch/pigwatch/model"
)

func TestListWaitingApprovals(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	now := time.Now().UTC()
	rows := sqlmock.NewRows(outboxColumnNames)
	outboxRow(rows, 11, "PIG_001", model.DeliveryNew, "", now)

	mock.ExpectQuery("WHERE approval_status = 'WAITING'").
		WithArgs("RUN_COMPLETED", 20).
		WillReturnRows(rows)

	records, err := ds.ListWaitingApprovals(context.Background(), model.NotifRunCompleted, 0)
	assert.NoError(t, err)
	assert.Len(t, records, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDecideApproval(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	at := time.Now().UTC()

	mock.ExpectExec("approval_token = \\$2 AND approval_status = 'WAITING'").
		WithArgs(int64(11), "tok", "APPROVED", "ops@pigwatch", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE notifications_outbox").
		WithArgs(int64(11), "tok", "REJECTED", "ops@pigwatch", at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := ds.DecideApproval(context.Background(), 11, "tok", model.ApprovalApproved, "ops@pigwatch", at)
	assert.NoError(t, err)
	assert.True(t, ok)

	// second decision on the same row finds nothing WAITING
	ok, err = ds.DecideApproval(context.Background(), 11, "tok", model.ApprovalRejected, "ops@pigwatch", at)
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDecideApproval_InvalidDecision(t *testing.T) {
	db, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	_, err = ds.DecideApproval(context.Background(), 11, "tok", model.ApprovalWaiting, "ops", time.Now())
	assert.True(t, apierror.HasCode(err, apierror.ErrInvalidInput))
}

func TestSetApprovalExternalRef(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectExec("SET external_ref_id = \\$2").
		WithArgs(int64(11), "msg-889").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SET external_ref_id = \\$2").
		WithArgs(int64(12), "msg-890").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, ds.SetApprovalExternalRef(context.Background(), 11, "msg-889"))
	err = ds.SetApprovalExternalRef(context.Background(), 12, "msg-890")
	assert.True(t, apierror.HasCode(err, apierror.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}
