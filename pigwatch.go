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
	"embed"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pigwatch/pigwatch/config"
	"github.com/pigwatch/pigwatch/database"
	"github.com/pigwatch/pigwatch/internal/refdata"
	"github.com/pigwatch/pigwatch/internal/track"
	"github.com/pigwatch/pigwatch/model"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

// Pigwatch ties the stores, the route network and the approval policy together.
// Detectors, senders and the operator API are all built from it.
type Pigwatch struct {
	datasource database.IDataSource
	cfg        *config.Configuration
	network    *track.Network
	policy     ApprovalPolicy
	now        func() time.Time
}

// NewPigwatch builds an instance from the loaded configuration, reading the
// reference data from the configured directory.
//
// Parameters:
// - db database.IDataSource: The datasource for store operations.
//
// Returns:
// - *Pigwatch: The instance.
// - error: An error if the configuration is missing or the reference data can't be read.
func NewPigwatch(db database.IDataSource) (*Pigwatch, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	ref, err := refdata.Load(cfg.Detector.ReferenceDir)
	if err != nil {
		return nil, err
	}
	return New(db, cfg, ref), nil
}

// New builds an instance from explicit parts. Route aliases of the engine
// configuration are applied to ref before the network is built.
func New(db database.IDataSource, cfg *config.Configuration, ref *refdata.Reference) *Pigwatch {
	if ref != nil && len(cfg.Engine.RouteAliases) > 0 {
		applied, unresolved := ref.ApplyAliases(cfg.Engine.RouteAliases)
		for alias, route := range applied {
			logrus.WithFields(logrus.Fields{"alias": alias, "route": route}).Info("route alias applied")
		}
		for _, alias := range unresolved {
			logrus.WithField("alias", alias).Warn("route alias matches no loaded route")
		}
	}
	return &Pigwatch{
		datasource: db,
		cfg:        cfg,
		network:    track.NewNetwork(ref, track.ConfigFrom(cfg.Engine)),
		policy:     NewApprovalPolicy(cfg.Approval.GatedTypes),
		now:        time.Now,
	}
}

func (p *Pigwatch) Datasource() database.IDataSource {
	return p.datasource
}

func (p *Pigwatch) Network() *track.Network {
	return p.network
}

func (p *Pigwatch) Config() *config.Configuration {
	return p.cfg
}

// Ping checks the store.
func (p *Pigwatch) Ping(ctx context.Context) error {
	return p.datasource.Ping(ctx)
}

// GetNotification returns one outbox row.
func (p *Pigwatch) GetNotification(ctx context.Context, id int64) (*model.NotificationRecord, error) {
	return p.datasource.GetNotification(ctx, id)
}

// ListNotifications returns outbox rows matching filter, newest first.
func (p *Pigwatch) ListNotifications(ctx context.Context, filter model.NotificationFilter) ([]model.NotificationRecord, error) {
	return p.datasource.ListNotifications(ctx, filter)
}
