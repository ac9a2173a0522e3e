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
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pigwatch/pigwatch/internal/apierror"
	"github.com/pigwatch/pigwatch/model"
)

// PolicyDecider is recorded as the decider of rows that needed no human approval.
const PolicyDecider = "policy"

const gateAll = "*"

// ApprovalPolicy decides, per notification type, whether a new row waits for a
// human decision before it may be delivered.
type ApprovalPolicy struct {
	all   bool
	gated map[model.NotifType]bool
}

// NewApprovalPolicy gates the listed types. "*" gates every type; unknown
// names are kept so a newer detector's types can be gated ahead of time.
func NewApprovalPolicy(gatedTypes []string) ApprovalPolicy {
	p := ApprovalPolicy{gated: map[model.NotifType]bool{}}
	for _, t := range gatedTypes {
		t = strings.ToUpper(strings.TrimSpace(t))
		switch {
		case t == "":
		case t == gateAll:
			p.all = true
		default:
			if !model.NotifType(t).Valid() {
				logrus.WithField("notif_type", t).Warn("gating an unknown notification type")
			}
			p.gated[model.NotifType(t)] = true
		}
	}
	return p
}

func (p ApprovalPolicy) Gated(t model.NotifType) bool {
	return p.all || p.gated[t]
}

// Apply sets the approval fields of a new row. Gated rows start WAITING with a
// fresh token; the rest are approved by policy at the given time.
func (p ApprovalPolicy) Apply(rec *model.NotificationRecord, at time.Time) {
	if p.Gated(rec.NotifType) {
		rec.ApprovalStatus = model.ApprovalWaiting
		rec.ApprovalToken = uuid.NewString()
		rec.ApprovalDecidedAt = nil
		rec.ApprovalDecidedBy = ""
		return
	}
	decided := at
	rec.ApprovalStatus = model.ApprovalApproved
	rec.ApprovalToken = ""
	rec.ApprovalDecidedAt = &decided
	rec.ApprovalDecidedBy = PolicyDecider
}

// ListApprovals returns rows waiting for a decision, optionally of one type.
func (p *Pigwatch) ListApprovals(ctx context.Context, notifType model.NotifType, limit int) ([]model.NotificationRecord, error) {
	return p.datasource.ListWaitingApprovals(ctx, notifType, limit)
}

// DecideApproval approves or rejects a waiting row. A wrong token and an
// already decided row are both reported as a conflict.
func (p *Pigwatch) DecideApproval(ctx context.Context, id int64, token string, decision model.ApprovalStatus, decidedBy string) (*model.NotificationRecord, error) {
	if strings.TrimSpace(decidedBy) == "" {
		decidedBy = "operator"
	}
	ok, err := p.datasource.DecideApproval(ctx, id, token, decision, decidedBy, p.now().UTC())
	if err != nil {
		return nil, err
	}
	if !ok {
		if _, getErr := p.datasource.GetNotification(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, apierror.NewAPIError(apierror.ErrConflict, "notification is not waiting for approval or the token does not match", nil)
	}
	logrus.WithFields(logrus.Fields{
		"notification_id": id,
		"decision":        decision,
		"decided_by":      decidedBy,
	}).Info("approval decided")
	return p.datasource.GetNotification(ctx, id)
}

// SetExternalRef stores the approval channel's reference for a row.
func (p *Pigwatch) SetExternalRef(ctx context.Context, id int64, ref string) error {
	return p.datasource.SetApprovalExternalRef(ctx, id, ref)
}
