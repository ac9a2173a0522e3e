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
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pigwatch/pigwatch/internal/apierror"
	"github.com/pigwatch/pigwatch/model"
)

func newTestStore(t *testing.T) *Datasource {
	t.Helper()
	ds, err := Open(filepath.Join(t.TempDir(), "pigwatch.db"), time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ds.Close() })
	return ds
}

func notification(pigID string, approval model.ApprovalStatus, next time.Time) *model.NotificationRecord {
	return &model.NotificationRecord{
		DedupKey:       model.DedupKey(pigID, model.NotifPOIPassed, "20250301T080000Z", gofakeit.UUID()),
		PigID:          pigID,
		NotifType:      model.NotifPOIPassed,
		Payload:        []byte(`{"Pig ID":"` + pigID + `"}`),
		ApprovalStatus: approval,
		NextAttemptAt:  next,
		CreatedAt:      next,
	}
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	ds := newTestStore(t)
	n, err := Migrate(ds.Conn, migrate.Up)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.NoError(t, ds.Ping(context.Background()))
}

func TestWithDSNOptions(t *testing.T) {
	assert.Equal(t, "a.db?_busy_timeout=5000&_txlock=immediate", withDSNOptions("a.db"))
	assert.Equal(t, "file:a.db?mode=rwc&_busy_timeout=5000&_txlock=immediate", withDSNOptions("file:a.db?mode=rwc"))
	assert.Equal(t, "a.db?_busy_timeout=100&_txlock=immediate", withDSNOptions("a.db?_busy_timeout=100"))
	assert.Equal(t, "a.db?_busy_timeout=100&_txlock=deferred", withDSNOptions("a.db?_busy_timeout=100&_txlock=deferred"))
}

func TestTelemetry_ReadRecent(t *testing.T) {
	ds := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	kp := 1.25
	gc := 40

	require.NoError(t, ds.RecordTelemetry(ctx,
		model.TelemetryPoint{PigID: "PIG_001", ToolType: "Cleaning Tool", Timestamp: base, KP: &kp},
		model.TelemetryPoint{PigID: "PIG_001", Timestamp: base.Add(2 * time.Minute), GlobalChannel: &gc},
		model.TelemetryPoint{PigID: "PIG_002", Timestamp: base.Add(time.Minute)},
	))

	points, err := ds.ReadRecent(ctx, "PIG_001", base.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.True(t, points[0].Timestamp.Equal(base.Add(2*time.Minute)))
	require.NotNil(t, points[0].GlobalChannel)
	assert.Equal(t, 40, *points[0].GlobalChannel)
	assert.Nil(t, points[0].KP)

	pigs, err := ds.ListActivePigs(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, []string{"PIG_001", "PIG_002"}, pigs)
}

func TestPigState_RoundTrip(t *testing.T) {
	ds := newTestStore(t)
	ctx := context.Background()

	state, err := ds.GetPigState(ctx, "PIG_001")
	require.NoError(t, err)
	assert.Nil(t, state)

	at := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	s := model.NewPigState()
	s.Phase = model.PhaseMoving
	s.OpenRun(at)
	s.Run.Route = "route_a"
	s.Run.PassedPOIs["V-101"] = at.Add(5 * time.Minute)
	require.NoError(t, ds.PutPigState(ctx, "PIG_001", s))

	s.Phase = model.PhaseStopped
	require.NoError(t, ds.PutPigState(ctx, "PIG_001", s))

	got, err := ds.GetPigState(ctx, "PIG_001")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.PhaseStopped, got.Phase)
	assert.Equal(t, model.RunIDFor(at), got.Run.ID)
	assert.Contains(t, got.Run.PassedPOIs, "V-101")
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestInsertIfAbsent_Dedup(t *testing.T) {
	ds := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rec := notification("PIG_001", model.ApprovalApproved, now)
	inserted, err := ds.InsertIfAbsent(ctx, rec)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotZero(t, rec.ID)

	dup := *rec
	dup.ID = 0
	inserted, err = ds.InsertIfAbsent(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Zero(t, dup.ID)

	all, err := ds.ListNotifications(ctx, model.NotificationFilter{PigID: "PIG_001"})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestClaimBatch_OnlyApprovedAndDue(t *testing.T) {
	ds := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	due := notification("PIG_001", model.ApprovalApproved, now.Add(-time.Minute))
	later := notification("PIG_001", model.ApprovalApproved, now.Add(time.Hour))
	waiting := notification("PIG_001", model.ApprovalWaiting, now.Add(-time.Minute))
	rejected := notification("PIG_001", model.ApprovalRejected, now.Add(-time.Minute))
	for _, r := range []*model.NotificationRecord{due, later, waiting, rejected} {
		_, err := ds.InsertIfAbsent(ctx, r)
		require.NoError(t, err)
	}

	claimed, err := ds.ClaimBatch(ctx, "worker-a", 10, now)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, due.ID, claimed[0].ID)
	assert.Equal(t, model.DeliverySending, claimed[0].DeliveryStatus)
	assert.Equal(t, "worker-a", claimed[0].LockedBy)
	require.NotNil(t, claimed[0].LockedAt)

	again, err := ds.ClaimBatch(ctx, "worker-b", 10, now)
	require.NoError(t, err)
	assert.Empty(t, again)

	none, err := ds.ClaimBatch(ctx, "worker-b", 0, now)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestClaimBatch_ConcurrentWorkersNeverShareRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pigwatch.db")
	seed, err := Open(path, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = seed.Close() })
	ctx := context.Background()
	now := time.Now().UTC()

	const total = 200
	for i := 0; i < total; i++ {
		_, err := seed.InsertIfAbsent(ctx, notification(fmt.Sprintf("PIG_%03d", i%7), model.ApprovalApproved, now.Add(-time.Second)))
		require.NoError(t, err)
	}

	// each worker gets its own pool on the same file, as separate processes would
	const workers = 6
	stores := make([]*Datasource, workers)
	for w := range stores {
		ds, err := Open(path, time.Minute)
		require.NoError(t, err)
		t.Cleanup(func() { _ = ds.Close() })
		stores[w] = ds
	}

	var mu sync.Mutex
	seen := map[int64]string{}
	var wg sync.WaitGroup
	for w, ds := range stores {
		worker := fmt.Sprintf("worker-%d", w)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch, err := ds.ClaimBatch(ctx, worker, 4, now)
				if !assert.NoError(t, err) || len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, r := range batch {
					if owner, dup := seen[r.ID]; dup {
						t.Errorf("row %d claimed by %s and %s", r.ID, owner, worker)
					}
					seen[r.ID] = worker
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, total)

	claimed, err := seed.ListNotifications(ctx, model.NotificationFilter{DeliveryStatus: model.DeliveryNew})
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestMarkOutcomes_RequireOwnership(t *testing.T) {
	ds := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rec := notification("PIG_001", model.ApprovalApproved, now.Add(-time.Minute))
	_, err := ds.InsertIfAbsent(ctx, rec)
	require.NoError(t, err)

	_, err = ds.ClaimBatch(ctx, "worker-a", 1, now)
	require.NoError(t, err)

	ok, err := ds.MarkRetry(ctx, rec.ID, "worker-b", "timeout", now.Add(30*time.Second), now)
	require.NoError(t, err)
	assert.False(t, ok)

	next := now.Add(30 * time.Second)
	ok, err = ds.MarkRetry(ctx, rec.ID, "worker-a", "timeout", next, now)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := ds.GetNotification(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryRetry, got.DeliveryStatus)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Equal(t, "timeout", got.LastError)
	assert.True(t, got.NextAttemptAt.Equal(next))
	assert.Empty(t, got.LockedBy)
	assert.Nil(t, got.LockedAt)

	// not yet due
	claimed, err := ds.ClaimBatch(ctx, "worker-a", 1, now)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	claimed, err = ds.ClaimBatch(ctx, "worker-a", 1, next)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	ok, err = ds.MarkDead(ctx, rec.ID, "worker-a", "400 bad request", next)
	require.NoError(t, err)
	assert.True(t, ok)

	// terminal rows ignore late outcomes
	require.NoError(t, ds.MarkSent(ctx, rec.ID, next))
	got, err = ds.GetNotification(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryDead, got.DeliveryStatus)
	assert.Equal(t, 2, got.AttemptCount)
	assert.Nil(t, got.SentAt)
}

func TestMarkSent(t *testing.T) {
	ds := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rec := notification("PIG_001", model.ApprovalApproved, now.Add(-time.Minute))
	_, err := ds.InsertIfAbsent(ctx, rec)
	require.NoError(t, err)
	_, err = ds.ClaimBatch(ctx, "worker-a", 1, now)
	require.NoError(t, err)

	require.NoError(t, ds.MarkSent(ctx, rec.ID, now))
	got, err := ds.GetNotification(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliverySent, got.DeliveryStatus)
	assert.Equal(t, 0, got.AttemptCount)
	require.NotNil(t, got.SentAt)
	assert.True(t, got.SentAt.Equal(now))
}

func TestReapStaleLocks(t *testing.T) {
	ds := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rec := notification("PIG_001", model.ApprovalApproved, now.Add(-time.Hour))
	_, err := ds.InsertIfAbsent(ctx, rec)
	require.NoError(t, err)
	_, err = ds.ClaimBatch(ctx, "crashed", 1, now.Add(-10*time.Minute))
	require.NoError(t, err)

	n, err := ds.ReapStaleLocks(ctx, now.Add(-5*time.Minute), now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := ds.GetNotification(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryRetry, got.DeliveryStatus)
	assert.Equal(t, 0, got.AttemptCount)
	assert.Empty(t, got.LockedBy)

	// the crashed worker's late outcome is discarded
	ok, err := ds.MarkRetry(ctx, rec.ID, "crashed", "late", now, now)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err = ds.ReapStaleLocks(ctx, now.Add(-5*time.Minute), now)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestApprovalFlow(t *testing.T) {
	ds := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rec := notification("PIG_001", model.ApprovalWaiting, now)
	rec.ApprovalToken = gofakeit.UUID()
	_, err := ds.InsertIfAbsent(ctx, rec)
	require.NoError(t, err)

	waiting, err := ds.ListWaitingApprovals(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.Equal(t, rec.ApprovalToken, waiting[0].ApprovalToken)

	waiting, err = ds.ListWaitingApprovals(ctx, model.NotifGapStarted, 0)
	require.NoError(t, err)
	assert.Empty(t, waiting)

	ok, err := ds.DecideApproval(ctx, rec.ID, "wrong-token", model.ApprovalApproved, "ops", now)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = ds.DecideApproval(ctx, rec.ID, rec.ApprovalToken, model.ApprovalApproved, "ops", now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ds.DecideApproval(ctx, rec.ID, rec.ApprovalToken, model.ApprovalRejected, "ops", now)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, ds.SetApprovalExternalRef(ctx, rec.ID, "slack-123"))
	err = ds.SetApprovalExternalRef(ctx, rec.ID+100, "slack-124")
	assert.True(t, apierror.HasCode(err, apierror.ErrNotFound))

	got, err := ds.GetNotification(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalApproved, got.ApprovalStatus)
	assert.Equal(t, "ops", got.ApprovalDecidedBy)
	assert.Equal(t, "slack-123", got.ExternalRefID)

	claimed, err := ds.ClaimBatch(ctx, "worker-a", 5, now)
	require.NoError(t, err)
	assert.Len(t, claimed, 1)
}

func TestGetNotification_NotFound(t *testing.T) {
	ds := newTestStore(t)
	_, err := ds.GetNotification(context.Background(), 42)
	assert.True(t, apierror.HasCode(err, apierror.ErrNotFound))
}
