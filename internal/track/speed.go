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

package track

import (
	"math"
	"time"

	"github.com/pigwatch/pigwatch/model"
)

// MaxETA is the furthest arrival worth projecting. A slower pig has no ETA.
const MaxETA = 7 * 24 * time.Hour

// ReferenceSample picks the sample closest to target from those at or before
// it, falling back to the closest sample overall.
func ReferenceSample(samples []model.TelemetryPoint, target time.Time) (model.TelemetryPoint, bool) {
	var best model.TelemetryPoint
	found := false
	for _, s := range samples {
		if s.Timestamp.After(target) {
			continue
		}
		if !found || s.Timestamp.After(best.Timestamp) {
			best, found = s, true
		}
	}
	if found {
		return best, true
	}
	var bestGap time.Duration
	for _, s := range samples {
		gap := s.Timestamp.Sub(target)
		if gap < 0 {
			gap = -gap
		}
		if !found || gap < bestGap {
			best, bestGap, found = s, gap, true
		}
	}
	return best, found
}

// Speed estimates meters per second at cur from the sample nearest to
// cur - window among samples, considering only positioned samples not newer
// than cur. When movingSince is set only samples after it are used, if any.
// The estimate is zero when the reference is closer than MinSpeedDt.
func (n *Network) Speed(samples []model.TelemetryPoint, cur model.TelemetryPoint, window time.Duration, movingSince *time.Time) float64 {
	curM, ok := n.PositionM(cur)
	if !ok {
		return 0
	}
	var pool, recent []model.TelemetryPoint
	for _, s := range samples {
		if s.Timestamp.After(cur.Timestamp) || !s.HasPosition() {
			continue
		}
		pool = append(pool, s)
		if movingSince != nil && !s.Timestamp.Before(*movingSince) {
			recent = append(recent, s)
		}
	}
	if len(recent) > 0 {
		pool = recent
	}

	ref, ok := ReferenceSample(pool, cur.Timestamp.Add(-window))
	if !ok {
		return 0
	}
	dt := cur.Timestamp.Sub(ref.Timestamp)
	if dt <= 0 || dt < n.cfg.MinSpeedDt {
		return 0
	}
	refM, _ := n.PositionM(ref)
	return math.Abs(curM-refM) / dt.Seconds()
}

// SpeedWindow returns the averaging window: the short one during the boost
// period after the pig started moving, the long one otherwise.
func (n *Network) SpeedWindow(at time.Time, movingSince *time.Time) time.Duration {
	if movingSince != nil && at.Sub(*movingSince) < n.cfg.MovingBoost {
		return n.cfg.SpeedShortWindow
	}
	return n.cfg.SpeedWindow
}

// ETA projects the arrival at poi from posM at the given speed. There is no
// estimate for a stationary pig, a POI already behind it or an arrival beyond MaxETA.
func (n *Network) ETA(at time.Time, posM float64, poi *model.POI, speed float64) (time.Time, bool) {
	if poi == nil || speed <= 0 {
		return time.Time{}, false
	}
	target, ok := n.POIPositionM(*poi)
	if !ok {
		return time.Time{}, false
	}
	dist := target - posM
	if dist < 0 {
		return time.Time{}, false
	}
	// a near-zero speed from jittery samples would project past any useful
	// horizon, and past what a Duration can hold
	secs := dist / speed
	if math.IsInf(secs, 0) || math.IsNaN(secs) || secs > MaxETA.Seconds() {
		return time.Time{}, false
	}
	return at.Add(time.Duration(secs * float64(time.Second))), true
}
