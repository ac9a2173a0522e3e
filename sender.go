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
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/pigwatch/pigwatch/config"
	"github.com/pigwatch/pigwatch/database"
	"github.com/pigwatch/pigwatch/internal/notifapi"
	"github.com/pigwatch/pigwatch/model"
)

// storeWriteTimeout bounds the outcome write after a delivery. It is detached
// from the tick deadline so a finished delivery is still recorded.
const storeWriteTimeout = 15 * time.Second

// Deliverer performs one delivery attempt.
type Deliverer interface {
	Send(ctx context.Context, rec model.NotificationRecord) notifapi.Result
}

// Alerter is told about rows that will never be delivered.
type Alerter interface {
	DeadLetter(ctx context.Context, rec model.NotificationRecord, reason string) error
}

type SenderOptions struct {
	WorkerID       string
	BatchSize      int
	MaxAttempts    int
	RequestTimeout time.Duration
	StaleAfter     time.Duration
	// ReapEvery runs the stale lock reaper on every n-th tick, starting with the first.
	ReapEvery   int
	Concurrency int
	// StoreRetry is how long transient store failures of an outcome write are retried.
	StoreRetry time.Duration
}

// SenderOptionsFrom reads the sender section. The worker id gets a random
// suffix so restarted processes never share claims with their predecessor.
func SenderOptionsFrom(cfg config.SenderConfig) SenderOptions {
	return SenderOptions{
		WorkerID:       fmt.Sprintf("%s-%s", cfg.WorkerName, uuid.NewString()[:8]),
		BatchSize:      cfg.BatchSize,
		MaxAttempts:    cfg.MaxAttempts,
		RequestTimeout: config.Seconds(cfg.RequestTimeoutSec),
		StaleAfter:     config.Seconds(cfg.StaleLockSec),
		ReapEvery:      cfg.ReapEveryTicks,
		Concurrency:    cfg.Concurrency,
		StoreRetry:     10 * time.Second,
	}
}

// Sender claims deliverable outbox rows, delivers them and records the outcome.
type Sender struct {
	datasource database.IDataSource
	client     Deliverer
	backoff    *BackoffPolicy
	alerts     Alerter
	opts       SenderOptions
	now        func() time.Time

	mu    sync.Mutex
	ticks int
}

// SendReport summarises a sender tick.
type SendReport struct {
	Reaped  int64
	Claimed int
	Sent    int
	Retried int
	Dead    int
	// Lost counts outcomes that could not be recorded because the claim was
	// reaped meanwhile or the store kept failing.
	Lost int
}

func (r *SendReport) add(status model.DeliveryStatus, recorded bool) {
	if !recorded {
		r.Lost++
		return
	}
	switch status {
	case model.DeliverySent:
		r.Sent++
	case model.DeliveryRetry:
		r.Retried++
	case model.DeliveryDead:
		r.Dead++
	}
}

func (p *Pigwatch) NewSender(client Deliverer) *Sender {
	return NewSender(p.datasource, client, BackoffPolicyFrom(p.cfg.Sender), SenderOptionsFrom(p.cfg.Sender))
}

func NewSender(ds database.IDataSource, client Deliverer, policy *BackoffPolicy, opts SenderOptions) *Sender {
	if policy == nil {
		policy = NewBackoffPolicy(nil, 10)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.WorkerID == "" {
		opts.WorkerID = "sender-" + uuid.NewString()[:8]
	}
	return &Sender{
		datasource: ds,
		client:     client,
		backoff:    policy,
		opts:       opts,
		now:        time.Now,
	}
}

func (s *Sender) WithAlerts(a Alerter) *Sender {
	s.alerts = a
	return s
}

func (s *Sender) WorkerID() string {
	return s.opts.WorkerID
}

// Tick reaps stale claims when due, claims a batch and delivers it with
// bounded parallelism. Failures of single rows are recorded on the rows.
func (s *Sender) Tick(ctx context.Context, now time.Time) (SendReport, error) {
	ctx, span := otel.Tracer("pigwatch.sender").Start(ctx, "Sender tick")
	defer span.End()

	var report SendReport
	if s.reapDue() {
		reaped, err := s.datasource.ReapStaleLocks(ctx, now.Add(-s.opts.StaleAfter), now)
		if err != nil {
			logrus.Errorf("reaping stale claims failed: %v", err)
		} else if reaped > 0 {
			report.Reaped = reaped
			logrus.WithField("worker", s.opts.WorkerID).Warnf("reaped %d stale claims", reaped)
		}
	}

	records, err := s.datasource.ClaimBatch(ctx, s.opts.WorkerID, s.opts.BatchSize, now)
	if err != nil {
		span.RecordError(err)
		return report, fmt.Errorf("claim batch: %w", err)
	}
	report.Claimed = len(records)
	if len(records) == 0 {
		return report, nil
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.opts.Concurrency)
	)
	for _, rec := range records {
		if ctx.Err() != nil {
			// unfinished claims are reaped later
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(rec model.NotificationRecord) {
			defer wg.Done()
			defer func() { <-sem }()
			status, recorded := s.Deliver(ctx, rec)
			mu.Lock()
			report.add(status, recorded)
			mu.Unlock()
		}(rec)
	}
	wg.Wait()

	span.SetAttributes(
		attribute.Int("claimed", report.Claimed),
		attribute.Int("sent", report.Sent),
		attribute.Int("retried", report.Retried),
		attribute.Int("dead", report.Dead),
	)
	return report, nil
}

func (s *Sender) reapDue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	due := s.opts.ReapEvery > 0 && s.ticks%s.opts.ReapEvery == 0
	s.ticks++
	return due
}

// Deliver makes one attempt for a claimed row and records the outcome. It
// returns the status the row was moved to and whether the write applied.
func (s *Sender) Deliver(ctx context.Context, rec model.NotificationRecord) (model.DeliveryStatus, bool) {
	ctx, span := otel.Tracer("pigwatch.sender").Start(ctx, "Deliver notification")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("notification_id", rec.ID),
		attribute.String("dedup_key", rec.DedupKey),
	)

	reqCtx := ctx
	if s.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
	}
	res := s.client.Send(reqCtx, rec)
	msg := res.Message()

	decision, err := model.NextDelivery(rec.DeliveryStatus, res.Outcome, rec.AttemptCount, s.opts.MaxAttempts)
	log := logrus.WithFields(logrus.Fields{
		"notification_id": rec.ID,
		"dedup_key":       rec.DedupKey,
		"worker":          s.opts.WorkerID,
	})
	if err != nil {
		log.Errorf("cannot apply delivery outcome: %v", err)
		return rec.DeliveryStatus, false
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeWriteTimeout)
	defer cancel()
	at := s.now().UTC()

	recorded := true
	switch decision.Status {
	case model.DeliverySent:
		err = retryStore(writeCtx, s.opts.StoreRetry, func() error {
			return s.datasource.MarkSent(writeCtx, rec.ID, at)
		})
	case model.DeliveryRetry:
		next := s.backoff.NextAttemptAt(at, decision.AttemptCount)
		err = retryStore(writeCtx, s.opts.StoreRetry, func() error {
			ok, markErr := s.datasource.MarkRetry(writeCtx, rec.ID, s.opts.WorkerID, msg, next, at)
			recorded = ok
			return markErr
		})
		log = log.WithField("next_attempt_at", next.Format(time.RFC3339))
	case model.DeliveryDead:
		err = retryStore(writeCtx, s.opts.StoreRetry, func() error {
			ok, markErr := s.datasource.MarkDead(writeCtx, rec.ID, s.opts.WorkerID, msg, at)
			recorded = ok
			return markErr
		})
	}
	if err != nil {
		span.RecordError(err)
		log.Errorf("recording delivery outcome failed, the claim will be reaped: %v", err)
		return decision.Status, false
	}
	if !recorded {
		log.Warn("claim was lost before the outcome was recorded")
		return decision.Status, false
	}

	log.WithFields(logrus.Fields{
		"status":   decision.Status,
		"attempts": decision.AttemptCount,
	}).Info(msg)

	if decision.Status == model.DeliveryDead && s.alerts != nil {
		rec.AttemptCount = decision.AttemptCount
		if alertErr := s.alerts.DeadLetter(writeCtx, rec, msg); alertErr != nil {
			log.Errorf("dead letter alert failed: %v", alertErr)
		}
	}
	return decision.Status, true
}
