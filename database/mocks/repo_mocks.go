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
package mocks

import (
	"context"
	"time"

	"github.com/pigwatch/pigwatch/model"
	"github.com/stretchr/testify/mock"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Telemetry methods

func (m *MockDataSource) ReadRecent(ctx context.Context, pigID string, since time.Time) ([]model.TelemetryPoint, error) {
	args := m.Called(ctx, pigID, since)
	points, _ := args.Get(0).([]model.TelemetryPoint)
	return points, args.Error(1)
}

func (m *MockDataSource) ListActivePigs(ctx context.Context, since time.Time) ([]string, error) {
	args := m.Called(ctx, since)
	pigs, _ := args.Get(0).([]string)
	return pigs, args.Error(1)
}

func (m *MockDataSource) RecordTelemetry(ctx context.Context, points ...model.TelemetryPoint) error {
	args := m.Called(ctx, points)
	return args.Error(0)
}

// Pig state methods

func (m *MockDataSource) GetPigState(ctx context.Context, pigID string) (*model.PigState, error) {
	args := m.Called(ctx, pigID)
	state, _ := args.Get(0).(*model.PigState)
	return state, args.Error(1)
}

func (m *MockDataSource) PutPigState(ctx context.Context, pigID string, state *model.PigState) error {
	args := m.Called(ctx, pigID, state)
	return args.Error(0)
}

// Outbox methods

func (m *MockDataSource) InsertIfAbsent(ctx context.Context, rec *model.NotificationRecord) (bool, error) {
	args := m.Called(ctx, rec)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) ClaimBatch(ctx context.Context, workerID string, limit int, now time.Time) ([]model.NotificationRecord, error) {
	args := m.Called(ctx, workerID, limit, now)
	records, _ := args.Get(0).([]model.NotificationRecord)
	return records, args.Error(1)
}

func (m *MockDataSource) MarkSent(ctx context.Context, id int64, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *MockDataSource) MarkRetry(ctx context.Context, id int64, workerID, errMsg string, nextAttemptAt, at time.Time) (bool, error) {
	args := m.Called(ctx, id, workerID, errMsg, nextAttemptAt, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) MarkDead(ctx context.Context, id int64, workerID, errMsg string, at time.Time) (bool, error) {
	args := m.Called(ctx, id, workerID, errMsg, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) ReapStaleLocks(ctx context.Context, olderThan, at time.Time) (int64, error) {
	args := m.Called(ctx, olderThan, at)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDataSource) GetNotification(ctx context.Context, id int64) (*model.NotificationRecord, error) {
	args := m.Called(ctx, id)
	rec, _ := args.Get(0).(*model.NotificationRecord)
	return rec, args.Error(1)
}

func (m *MockDataSource) ListNotifications(ctx context.Context, filter model.NotificationFilter) ([]model.NotificationRecord, error) {
	args := m.Called(ctx, filter)
	records, _ := args.Get(0).([]model.NotificationRecord)
	return records, args.Error(1)
}

// Approval methods

func (m *MockDataSource) ListWaitingApprovals(ctx context.Context, notifType model.NotifType, limit int) ([]model.NotificationRecord, error) {
	args := m.Called(ctx, notifType, limit)
	records, _ := args.Get(0).([]model.NotificationRecord)
	return records, args.Error(1)
}

func (m *MockDataSource) DecideApproval(ctx context.Context, id int64, token string, decision model.ApprovalStatus, decidedBy string, at time.Time) (bool, error) {
	args := m.Called(ctx, id, token, decision, decidedBy, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) SetApprovalExternalRef(ctx context.Context, id int64, ref string) error {
	args := m.Called(ctx, id, ref)
	return args.Error(0)
}

// Lifecycle

func (m *MockDataSource) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockDataSource) Close() error {
	args := m.Called()
	return args.Error(0)
}
