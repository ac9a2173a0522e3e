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

package pigwatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pigwatch/pigwatch/internal/apierror"
	"github.com/pigwatch/pigwatch/model"
)

func TestApprovalPolicy(t *testing.T) {
	p := NewApprovalPolicy([]string{" poi_passed ", "GAP_STARTED", "", "NEW_THING"})
	assert.True(t, p.Gated(model.NotifPOIPassed))
	assert.True(t, p.Gated(model.NotifGapStarted))
	assert.True(t, p.Gated("NEW_THING"))
	assert.False(t, p.Gated(model.NotifHeartbeat))

	all := NewApprovalPolicy([]string{"*"})
	for _, nt := range model.AllNotifTypes {
		assert.True(t, all.Gated(nt), nt)
	}
	assert.False(t, NewApprovalPolicy(nil).Gated(model.NotifRunCompleted))
}

func TestApprovalPolicy_Apply(t *testing.T) {
	p := NewApprovalPolicy([]string{"POI_PASSED"})

	gated := model.NotificationRecord{NotifType: model.NotifPOIPassed}
	p.Apply(&gated, sendNow)
	assert.Equal(t, model.ApprovalWaiting, gated.ApprovalStatus)
	assert.Len(t, gated.ApprovalToken, 36)
	assert.Nil(t, gated.ApprovalDecidedAt)

	other := model.NotificationRecord{NotifType: model.NotifPOIPassed}
	p.Apply(&other, sendNow)
	assert.NotEqual(t, gated.ApprovalToken, other.ApprovalToken)

	open := model.NotificationRecord{NotifType: model.NotifHeartbeat}
	p.Apply(&open, sendNow)
	assert.Equal(t, model.ApprovalApproved, open.ApprovalStatus)
	assert.Empty(t, open.ApprovalToken)
	assert.Equal(t, PolicyDecider, open.ApprovalDecidedBy)
	require.NotNil(t, open.ApprovalDecidedAt)
	assert.Equal(t, sendNow, *open.ApprovalDecidedAt)
}

func waitingRow(t *testing.T, p *Pigwatch) model.NotificationRecord {
	t.Helper()
	rec := model.NotificationRecord{
		DedupKey:  model.DedupKey(testPig, model.NotifPOIPassed, "20260301T070000Z", "V-110"),
		PigID:     testPig,
		NotifType: model.NotifPOIPassed,
		Payload:   []byte(`{"Pig ID":"PIG_001"}`),
		CreatedAt: sendNow,
	}
	NewApprovalPolicy([]string{"*"}).Apply(&rec, sendNow)
	inserted, err := p.Datasource().InsertIfAbsent(context.Background(), &rec)
	require.NoError(t, err)
	require.True(t, inserted)
	return rec
}

func TestDecideApproval(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPigwatch(t, nil)
	rec := waitingRow(t, p)

	waiting, err := p.ListApprovals(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.Equal(t, rec.ID, waiting[0].ID)

	_, err = p.DecideApproval(ctx, rec.ID, "wrong-token", model.ApprovalApproved, "alice")
	require.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.ErrConflict))

	decided, err := p.DecideApproval(ctx, rec.ID, rec.ApprovalToken, model.ApprovalApproved, "")
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalApproved, decided.ApprovalStatus)
	assert.Equal(t, "operator", decided.ApprovalDecidedBy)
	assert.NotNil(t, decided.ApprovalDecidedAt)

	// a decision is final
	_, err = p.DecideApproval(ctx, rec.ID, rec.ApprovalToken, model.ApprovalRejected, "bob")
	assert.True(t, apierror.HasCode(err, apierror.ErrConflict))

	waiting, err = p.ListApprovals(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, waiting)
}

func TestDecideApproval_Reject(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPigwatch(t, nil)
	rec := waitingRow(t, p)

	decided, err := p.DecideApproval(ctx, rec.ID, rec.ApprovalToken, model.ApprovalRejected, "bob")
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalRejected, decided.ApprovalStatus)
	assert.Equal(t, "bob", decided.ApprovalDecidedBy)
	assert.Equal(t, model.DeliveryNew, decided.DeliveryStatus)
}

func TestDecideApproval_UnknownRow(t *testing.T) {
	p, _ := newTestPigwatch(t, nil)
	_, err := p.DecideApproval(context.Background(), 404, "token", model.ApprovalApproved, "alice")
	require.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.ErrNotFound))
}

func TestSetExternalRef(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPigwatch(t, nil)
	rec := waitingRow(t, p)

	require.NoError(t, p.SetExternalRef(ctx, rec.ID, "slack:C123/1700000000.000100"))
	got, err := p.GetNotification(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "slack:C123/1700000000.000100", got.ExternalRefID)
}
