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
	"time"

	"github.com/pigwatch/pigwatch/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	telemetry // Read access to raw positions
	pigState  // Detector state documents
	outbox    // Notification queue operations
	approval  // Approval gate reads and writes
	Ping(ctx context.Context) error
	Close() error
}

// telemetry defines methods for reading pig positions. RecordTelemetry exists for seeding and tests only.
type telemetry interface {
	ReadRecent(ctx context.Context, pigID string, since time.Time) ([]model.TelemetryPoint, error) // Points at or after since, oldest first
	ListActivePigs(ctx context.Context, since time.Time) ([]string, error)                         // Pigs that reported at or after since
	RecordTelemetry(ctx context.Context, points ...model.TelemetryPoint) error
}

// pigState defines methods for the per-pig state document.
type pigState interface {
	GetPigState(ctx context.Context, pigID string) (*model.PigState, error) // nil, nil when the pig has no state yet
	PutPigState(ctx context.Context, pigID string, state *model.PigState) error
}

// outbox defines the notification queue operations shared by the detector and the sender.
type outbox interface {
	InsertIfAbsent(ctx context.Context, rec *model.NotificationRecord) (bool, error)
	ClaimBatch(ctx context.Context, workerID string, limit int, now time.Time) ([]model.NotificationRecord, error)
	MarkSent(ctx context.Context, id int64, at time.Time) error
	MarkRetry(ctx context.Context, id int64, workerID, errMsg string, nextAttemptAt, at time.Time) (bool, error)
	MarkDead(ctx context.Context, id int64, workerID, errMsg string, at time.Time) (bool, error)
	ReapStaleLocks(ctx context.Context, olderThan, at time.Time) (int64, error)
	GetNotification(ctx context.Context, id int64) (*model.NotificationRecord, error)
	ListNotifications(ctx context.Context, filter model.NotificationFilter) ([]model.NotificationRecord, error)
}

// approval defines the fields the approval gate may read and write.
type approval interface {
	ListWaitingApprovals(ctx context.Context, notifType model.NotifType, limit int) ([]model.NotificationRecord, error)
	DecideApproval(ctx context.Context, id int64, token string, decision model.ApprovalStatus, decidedBy string, at time.Time) (bool, error)
	SetApprovalExternalRef(ctx context.Context, id int64, ref string) error
}
