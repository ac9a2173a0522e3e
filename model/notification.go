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

package model

import (
	"encoding/json"
	"strings"
	"time"
)

type NotifType string

const (
	NotifRunCompleted NotifType = "RUN_COMPLETED"
	NotifPOIPassed    NotifType = "POI_PASSED"
	NotifGapStarted   NotifType = "GAP_STARTED"
	NotifGapEnded     NotifType = "GAP_ENDED"
	NotifPrePOI15     NotifType = "PRE_POI_15MIN"
	NotifPrePOI30     NotifType = "PRE_POI_30MIN"
	NotifHeartbeat    NotifType = "HEARTBEAT_30MIN"
)

// AllNotifTypes lists every type the detector can emit.
var AllNotifTypes = []NotifType{
	NotifRunCompleted, NotifPOIPassed, NotifGapStarted, NotifGapEnded,
	NotifPrePOI15, NotifPrePOI30, NotifHeartbeat,
}

var notifLabels = map[NotifType]string{
	NotifRunCompleted: "Run Completion",
	NotifPOIPassed:    "POI Passage",
	NotifGapStarted:   "Gap Start",
	NotifGapEnded:     "Gap End",
	NotifPrePOI15:     "15 Min Upstream - Station",
	NotifPrePOI30:     "30 Min Upstream - Station",
	NotifHeartbeat:    "30 Min Update",
}

// Label is the human readable name the external API expects in "Notification Type".
func (t NotifType) Label() string {
	if l, ok := notifLabels[t]; ok {
		return l
	}
	return string(t)
}

func (t NotifType) Valid() bool {
	_, ok := notifLabels[t]
	return ok
}

type DeliveryStatus string

const (
	DeliveryNew     DeliveryStatus = "NEW"
	DeliverySending DeliveryStatus = "SENDING"
	DeliveryRetry   DeliveryStatus = "RETRY"
	DeliverySent    DeliveryStatus = "SENT"
	DeliveryDead    DeliveryStatus = "DEAD"
)

type ApprovalStatus string

const (
	ApprovalWaiting  ApprovalStatus = "WAITING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// NotificationRecord is one row of the notifications outbox.
type NotificationRecord struct {
	ID                int64           `json:"id"`
	DedupKey          string          `json:"dedup_key"`
	PigID             string          `json:"pig_id"`
	NotifType         NotifType       `json:"notif_type"`
	Payload           json.RawMessage `json:"payload"`
	DeliveryStatus    DeliveryStatus  `json:"delivery_status"`
	ApprovalStatus    ApprovalStatus  `json:"approval_status"`
	AttemptCount      int             `json:"attempt_count"`
	NextAttemptAt     time.Time       `json:"next_attempt_at"`
	LastError         string          `json:"last_error,omitempty"`
	SentAt            *time.Time      `json:"sent_at,omitempty"`
	LockedBy          string          `json:"locked_by,omitempty"`
	LockedAt          *time.Time      `json:"locked_at,omitempty"`
	ApprovalToken     string          `json:"-"`
	ApprovalDecidedAt *time.Time      `json:"approval_decided_at,omitempty"`
	ApprovalDecidedBy string          `json:"approval_decided_by,omitempty"`
	ExternalRefID     string          `json:"external_ref_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// NotificationFilter narrows ListNotifications. Zero values match everything.
type NotificationFilter struct {
	PigID          string
	NotifType      NotifType
	DeliveryStatus DeliveryStatus
	ApprovalStatus ApprovalStatus
	Limit          int
	Offset         int
}

// DedupKey joins the stable identity of an event: pig, type, run and an optional
// event-specific part such as a POI tag, gap start or heartbeat bucket.
func DedupKey(pigID string, t NotifType, runID string, identity ...string) string {
	parts := append([]string{pigID, string(t), runID}, identity...)
	return strings.Join(parts, ":")
}
