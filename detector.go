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
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/pigwatch/pigwatch/config"
	"github.com/pigwatch/pigwatch/database"
	redlock "github.com/pigwatch/pigwatch/internal/lock"
	"github.com/pigwatch/pigwatch/internal/track"
	"github.com/pigwatch/pigwatch/model"
)

// Pig Event values of the notification payload.
const (
	EventMoving      = "Moving"
	EventResumption  = "Resumption"
	EventStopped     = "Stopped"
	EventCompleted   = "Completed"
	EventNotDetected = "Not Detected"
)

// PayloadTimeLayout renders payload timestamps as day-month-year hourminutesecond.
const PayloadTimeLayout = "02-01-06 150405"

const (
	prePOI15 = 15 * time.Minute
	prePOI30 = 30 * time.Minute
)

// DetectorOptions are the timing rules of the detector.
type DetectorOptions struct {
	// ActiveLookback bounds which pigs are processed and how far back a pig
	// without state is read.
	ActiveLookback time.Duration
	// History is how much telemetry before the last seen point is reloaded
	// for the classifier and the speed estimate.
	History         time.Duration
	GapGrace        time.Duration
	Heartbeat       time.Duration
	DefaultToolType string
}

func DetectorOptionsFrom(cfg *config.Configuration) DetectorOptions {
	return DetectorOptions{
		ActiveLookback:  config.Seconds(cfg.Detector.ActiveLookbackSec),
		History:         config.Seconds(cfg.Engine.SpeedSearchSec),
		GapGrace:        config.Seconds(cfg.Detector.GapGraceSec),
		Heartbeat:       config.Seconds(cfg.Detector.HeartbeatSec),
		DefaultToolType: cfg.Detector.DefaultToolType,
	}
}

// PigLocker keeps two detector instances off the same pig. It is an
// optimisation only; dedup keys keep concurrent detectors correct.
type PigLocker interface {
	TryLock(ctx context.Context, pigID string) (release func(context.Context) error, err error)
}

// Detector turns telemetry into pig state transitions and outbox rows.
type Detector struct {
	datasource database.IDataSource
	network    *track.Network
	classifier track.Classifier
	policy     ApprovalPolicy
	opts       DetectorOptions
	locks      PigLocker
}

// PigResult summarises one pig of a tick.
type PigResult struct {
	Folded     int
	Inserted   []model.NotificationRecord
	Duplicates int
	Skipped    bool
}

// TickReport summarises a detector tick.
type TickReport struct {
	Pigs       int
	Failed     int
	Skipped    int
	Inserted   int
	Duplicates int
}

func (p *Pigwatch) NewDetector() *Detector {
	return &Detector{
		datasource: p.datasource,
		network:    p.network,
		classifier: track.NewSpanClassifier(p.network),
		policy:     p.policy,
		opts:       DetectorOptionsFrom(p.cfg),
	}
}

// WithClassifier replaces the default movement classifier.
func (d *Detector) WithClassifier(c track.Classifier) *Detector {
	d.classifier = c
	return d
}

func (d *Detector) WithLocks(l PigLocker) *Detector {
	d.locks = l
	return d
}

func (d *Detector) WithOptions(opts DetectorOptions) *Detector {
	d.opts = opts
	return d
}

// Tick processes every pig that reported within the active lookback. A failing
// pig is logged and left for the next tick; it never stops the others.
func (d *Detector) Tick(ctx context.Context, now time.Time) (TickReport, error) {
	ctx, span := otel.Tracer("pigwatch.detector").Start(ctx, "Detector tick")
	defer span.End()

	var report TickReport
	pigs, err := d.datasource.ListActivePigs(ctx, now.Add(-d.opts.ActiveLookback))
	if err != nil {
		span.RecordError(err)
		return report, fmt.Errorf("list active pigs: %w", err)
	}
	report.Pigs = len(pigs)

	for _, pigID := range pigs {
		if ctx.Err() != nil {
			logrus.WithField("tick", now).Warn("detector tick deadline reached, remaining pigs wait for the next tick")
			break
		}
		res, err := d.ProcessPig(ctx, pigID, now)
		if err != nil {
			report.Failed++
			logrus.WithFields(logrus.Fields{
				"pig_id": pigID,
				"tick":   now.UTC().Format(time.RFC3339),
			}).Errorf("pig processing failed: %v", err)
			continue
		}
		if res.Skipped {
			report.Skipped++
		}
		report.Inserted += len(res.Inserted)
		report.Duplicates += res.Duplicates
	}
	span.SetAttributes(
		attribute.Int("pigs", report.Pigs),
		attribute.Int("inserted", report.Inserted),
		attribute.Int("failed", report.Failed),
	)
	return report, nil
}

// ProcessPig folds the pig's new telemetry, inserts the resulting candidates
// and then stores the new state. When an insert or the state write fails the
// next tick starts again from the last stored state and re-derives the same
// candidates, which the dedup keys absorb.
func (d *Detector) ProcessPig(ctx context.Context, pigID string, now time.Time) (PigResult, error) {
	ctx, span := otel.Tracer("pigwatch.detector").Start(ctx, "Process pig")
	defer span.End()
	span.SetAttributes(attribute.String("pig_id", pigID))

	var res PigResult
	if d.locks != nil {
		release, err := d.locks.TryLock(ctx, pigID)
		switch {
		case errors.Is(err, redlock.ErrLockHeld):
			res.Skipped = true
			return res, nil
		case err != nil:
			logrus.WithField("pig_id", pigID).Warnf("pig lock unavailable, processing without it: %v", err)
		default:
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					logrus.WithField("pig_id", pigID).Warnf("pig lock release: %v", err)
				}
			}()
		}
	}

	stored, err := d.datasource.GetPigState(ctx, pigID)
	if err != nil {
		return res, fmt.Errorf("load state: %w", err)
	}
	state := stored.Clone()
	if state == nil {
		state = model.NewPigState()
	}

	since := now.Add(-d.opts.ActiveLookback)
	if state.LastSeenAt != nil {
		since = state.LastSeenAt.Add(-d.opts.History)
	}
	points, err := d.datasource.ReadRecent(ctx, pigID, since)
	if err != nil {
		return res, fmt.Errorf("read telemetry: %w", err)
	}

	records, folded, err := d.Fold(pigID, state, points, now)
	if err != nil {
		return res, err
	}
	res.Folded = folded
	if folded == 0 {
		return res, nil
	}

	for i := range records {
		rec := records[i]
		d.policy.Apply(&rec, now)
		inserted, err := d.datasource.InsertIfAbsent(ctx, &rec)
		if err != nil {
			return res, fmt.Errorf("insert %s: %w", rec.DedupKey, err)
		}
		if !inserted {
			res.Duplicates++
			continue
		}
		res.Inserted = append(res.Inserted, rec)
		logrus.WithFields(logrus.Fields{
			"pig_id":          pigID,
			"notification_id": rec.ID,
			"notif_type":      rec.NotifType,
			"dedup_key":       rec.DedupKey,
			"approval":        rec.ApprovalStatus,
		}).Info("notification queued")
	}

	if err := d.datasource.PutPigState(ctx, pigID, state); err != nil {
		return res, fmt.Errorf("store state: %w", err)
	}
	return res, nil
}

// Fold advances state over the points newer than its last seen timestamp and
// returns the notification candidates in the order they arose. Older points
// only serve as context for the classifier and the speed estimate. It returns
// the number of points consumed.
func (d *Detector) Fold(pigID string, state *model.PigState, points []model.TelemetryPoint, now time.Time) ([]model.NotificationRecord, int, error) {
	sorted := make([]model.TelemetryPoint, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	var out []model.NotificationRecord
	folded := 0
	for i, p := range sorted {
		if state.LastSeenAt != nil && !p.Timestamp.After(*state.LastSeenAt) {
			continue
		}
		recs, err := d.step(pigID, state, sorted[:i+1], now)
		if err != nil {
			return nil, folded, fmt.Errorf("fold point at %s: %w", p.Timestamp.UTC().Format(time.RFC3339), err)
		}
		out = append(out, recs...)
		ts := p.Timestamp
		state.LastSeenAt = &ts
		folded++
	}
	return out, folded, nil
}

// snapshot is what the payload reports about the point being folded.
type snapshot struct {
	point           model.TelemetryPoint
	event           string
	speed           float64
	prev, next      *model.POI
	end             *model.POI
	etaNext, etaEnd *time.Time
}

type emitter struct {
	d     *Detector
	pigID string
	state *model.PigState
	snap  *snapshot
	now   time.Time
	out   []model.NotificationRecord
	err   error
}

func (e *emitter) emit(t model.NotifType, identity []string, prev *model.POI) {
	if e.err != nil {
		return
	}
	key := model.DedupKey(e.pigID, t, e.state.Run.ID, identity...)
	payload, err := e.d.payload(e.pigID, e.state, e.snap, t, key, prev)
	if err != nil {
		e.err = err
		return
	}
	e.out = append(e.out, model.NotificationRecord{
		DedupKey:       key,
		PigID:          e.pigID,
		NotifType:      t,
		Payload:        payload,
		DeliveryStatus: model.DeliveryNew,
		NextAttemptAt:  e.now,
		CreatedAt:      e.now,
	})
}

func (d *Detector) step(pigID string, state *model.PigState, window []model.TelemetryPoint, now time.Time) ([]model.NotificationRecord, error) {
	p := window[len(window)-1]
	if state.Phase == model.PhaseCompleted {
		return nil, nil
	}

	reading := d.classifier.Classify(window)
	if !reading.HasPosition {
		// a point without position cannot move the state machine
		return nil, nil
	}
	if state.Run == nil {
		route, ok := d.network.PickRoute(reading.PositionM)
		if !ok {
			return nil, nil
		}
		d.openRun(state, p, route, reading.PositionM)
		if state.Phase == model.PhaseCompleted {
			return nil, nil
		}
	}

	run := state.Run
	pos := reading.PositionM
	snap := &snapshot{point: p}
	e := &emitter{d: d, pigID: pigID, state: state, snap: snap, now: now}
	snap.prev, snap.next, snap.end = d.network.Neighbours(run.Route, pos)

	if snap.end != nil && d.network.Reached(pos, *snap.end) {
		wasMoving := state.Phase == model.PhaseMoving
		snap.event = EventCompleted
		if wasMoving {
			d.measure(state, window, pos, snap)
		}
		d.passPOIs(e, pos, snap.end.Tag)
		run.PassedPOIs[snap.end.Tag] = p.Timestamp
		e.emit(model.NotifRunCompleted, nil, nil)
		d.complete(state, p.Timestamp)
		return e.out, e.err
	}

	var gapEnded *time.Time
	switch reading.Movement {
	case track.MovementMoving:
		snap.event = EventMoving
		if state.Phase != model.PhaseMoving {
			if state.Phase == model.PhaseStopped {
				snap.event = EventResumption
			}
			ts := p.Timestamp
			state.Phase = model.PhaseMoving
			state.MovingSince = &ts
			state.StoppedAt = nil
			if state.GapOpen {
				gapEnded = state.GapStartedAt
				state.GapOpen = false
				state.GapStartedAt = nil
			}
		}
	case track.MovementStopped:
		snap.event = EventStopped
		switch state.Phase {
		case model.PhaseMoving:
			ts := p.Timestamp
			state.Phase = model.PhaseStopped
			state.StoppedAt = &ts
			state.MovingSince = nil
		case model.PhaseUnknown:
			// stationary from the start: no gap until it has moved
			state.Phase = model.PhaseStopped
		}
	default:
		snap.event = EventNotDetected
	}
	ts := p.Timestamp
	state.LastEvent = snap.event
	state.LastEventAt = &ts

	if state.Phase == model.PhaseMoving {
		d.measure(state, window, pos, snap)
	}

	endTag := ""
	if snap.end != nil {
		endTag = snap.end.Tag
	}
	d.passPOIs(e, pos, endTag)

	if gapEnded != nil {
		e.emit(model.NotifGapEnded, []string{strconv.FormatInt(gapEnded.Unix(), 10)}, nil)
	}
	if state.Phase == model.PhaseStopped && state.StoppedAt != nil && !state.GapOpen &&
		p.Timestamp.Sub(*state.StoppedAt) >= d.opts.GapGrace {
		start := *state.StoppedAt
		state.GapOpen = true
		state.GapStartedAt = &start
		e.emit(model.NotifGapStarted, []string{strconv.FormatInt(start.Unix(), 10)}, nil)
	}

	if state.Phase == model.PhaseMoving {
		d.prePOI(e, run, snap)
		if run.LastHeartbeatAt == nil || p.Timestamp.Sub(*run.LastHeartbeatAt) >= d.opts.Heartbeat {
			run.LastHeartbeatAt = &ts
			e.emit(model.NotifHeartbeat, []string{heartbeatBucket(p.Timestamp, d.opts.Heartbeat)}, nil)
		}
	}
	return e.out, e.err
}

// openRun locks the route for a new run. POIs already behind the pig are
// marked passed without notifications; a pig that shows up at the end of its
// route is treated as already completed.
func (d *Detector) openRun(state *model.PigState, p model.TelemetryPoint, route string, pos float64) {
	state.OpenRun(p.Timestamp)
	state.Run.Route = route
	switch {
	case p.ToolType != "":
		state.ToolType = p.ToolType
	case state.ToolType == "":
		state.ToolType = d.opts.DefaultToolType
	}

	for _, poi := range d.network.Route(route) {
		if d.network.Reached(pos, poi) {
			state.Run.PassedPOIs[poi.Tag] = p.Timestamp
		}
	}
	logrus.WithFields(logrus.Fields{
		"pig_id": p.PigID,
		"run_id": state.Run.ID,
		"route":  route,
	}).Info("run opened")

	if end, ok := d.network.End(route); ok && d.network.Reached(pos, *end) {
		d.complete(state, p.Timestamp)
		logrus.WithField("pig_id", p.PigID).Warn("pig first seen at the end of its route, run marked completed")
	}
}

func (d *Detector) complete(state *model.PigState, at time.Time) {
	state.Phase = model.PhaseCompleted
	state.CompletedAt = &at
	state.LastEvent = EventCompleted
	state.LastEventAt = &at
	state.MovingSince = nil
	state.StoppedAt = nil
	state.GapOpen = false
	state.GapStartedAt = nil
}

// passPOIs emits one POI_PASSED for every POI reached for the first time in
// this run. The end of the route is left to the completion event.
func (d *Detector) passPOIs(e *emitter, pos float64, endTag string) {
	run := e.state.Run
	for _, poi := range d.network.Route(run.Route) {
		if poi.Tag == endTag {
			continue
		}
		if _, done := run.PassedPOIs[poi.Tag]; done || !d.network.Reached(pos, poi) {
			continue
		}
		run.PassedPOIs[poi.Tag] = e.snap.point.Timestamp
		passed := poi
		e.emit(model.NotifPOIPassed, []string{poi.Tag}, &passed)
	}
}

// prePOI fires the 30 and 15 minute warnings for the next POI. A POI first
// seen under 15 minutes away only gets the 15 minute warning.
func (d *Detector) prePOI(e *emitter, run *model.RunContext, snap *snapshot) {
	if snap.next == nil || snap.etaNext == nil {
		return
	}
	tag := snap.next.Tag
	remaining := snap.etaNext.Sub(snap.point.Timestamp)
	at := snap.point.Timestamp
	switch {
	case remaining <= prePOI15:
		if _, done := run.PrePOI15[tag]; done {
			return
		}
		run.PrePOI15[tag] = at
		if _, done := run.PrePOI30[tag]; !done {
			run.PrePOI30[tag] = at
		}
		e.emit(model.NotifPrePOI15, []string{tag}, nil)
	case remaining <= prePOI30:
		if _, done := run.PrePOI30[tag]; done {
			return
		}
		run.PrePOI30[tag] = at
		e.emit(model.NotifPrePOI30, []string{tag}, nil)
	}
}

// measure fills speed and ETAs. The short averaging window right after the pig
// started moving only looks at samples taken since then.
func (d *Detector) measure(state *model.PigState, window []model.TelemetryPoint, pos float64, snap *snapshot) {
	at := snap.point.Timestamp
	w := d.network.SpeedWindow(at, state.MovingSince)
	var since *time.Time
	if state.MovingSince != nil && at.Sub(*state.MovingSince) < d.network.Config().MovingBoost {
		since = state.MovingSince
	}
	snap.speed = d.network.Speed(window, snap.point, w, since)
	if eta, ok := d.network.ETA(at, pos, snap.next, snap.speed); ok {
		snap.etaNext = &eta
	}
	if eta, ok := d.network.ETA(at, pos, snap.end, snap.speed); ok {
		snap.etaEnd = &eta
	}
}

func heartbeatBucket(at time.Time, every time.Duration) string {
	if every <= 0 {
		every = 30 * time.Minute
	}
	return at.UTC().Truncate(every).Format("20060102T1504Z")
}

// payload renders the body the external API consumes. For POI_PASSED the
// passed POI is reported as the previous valve.
func (d *Detector) payload(pigID string, state *model.PigState, snap *snapshot, t model.NotifType, key string, passed *model.POI) (json.RawMessage, error) {
	prev := snap.prev
	if passed != nil {
		prev = passed
	}
	body := map[string]string{
		"Pig ID":                 pigID,
		"Tool Type":              state.ToolType,
		"Pig Event":              snap.event,
		"Notification Type":      t.Label(),
		"Speed":                  decimal.NewFromFloat(snap.speed).StringFixed(2),
		"Previous Valve Type":    "",
		"Previous Valve Tag":     "",
		"Next Valve Type":        "",
		"Next Valve Tag":         "",
		"ETA to the Next Valve":  formatTime(snap.etaNext),
		"ETA to the End":         formatTime(snap.etaEnd),
		"Legacy Route":           state.Run.Route,
		"Current Global Channel": "",
		"Current KP":             "",
		"Timestamp":              snap.point.Timestamp.UTC().Format(PayloadTimeLayout),
		"Run ID":                 state.Run.ID,
		"Event Key":              key,
	}
	if prev != nil {
		body["Previous Valve Type"] = prev.Type
		body["Previous Valve Tag"] = prev.Tag
	}
	if snap.next != nil {
		body["Next Valve Type"] = snap.next.Type
		body["Next Valve Tag"] = snap.next.Tag
	}
	if gc := snap.point.GlobalChannel; gc != nil {
		body["Current Global Channel"] = strconv.Itoa(*gc)
	}
	if kp := snap.point.KP; kp != nil {
		body["Current KP"] = decimal.NewFromFloat(*kp).StringFixed(3)
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return raw, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(PayloadTimeLayout)
}
