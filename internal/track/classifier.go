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

type Movement string

const (
	MovementUnknown Movement = "UNKNOWN"
	MovementMoving  Movement = "MOVING"
	MovementStopped Movement = "STOPPED"
)

// Reading is the classification of the newest point of a window.
// PositionM is meaningful only when HasPosition is set.
type Reading struct {
	Movement    Movement
	PositionM   float64
	HasPosition bool
}

// Classifier labels the newest point of a window, given the points before it.
// The window is ordered oldest first and ends with the point being classified.
// Implementations must be pure: the same window always yields the same reading.
type Classifier interface {
	Classify(window []model.TelemetryPoint) Reading
}

// SpanClassifier calls a pig stopped when every positioned point within Window
// of the newest point lies within Tolerance meters, and moving otherwise.
type SpanClassifier struct {
	Network   *Network
	Window    time.Duration
	Tolerance float64
}

func NewSpanClassifier(n *Network) SpanClassifier {
	return SpanClassifier{Network: n, Window: n.cfg.StoppedWindow, Tolerance: n.cfg.POITolMeters}
}

func (c SpanClassifier) Classify(window []model.TelemetryPoint) Reading {
	if len(window) == 0 {
		return Reading{Movement: MovementUnknown}
	}
	newest := window[len(window)-1]
	reading := Reading{Movement: MovementUnknown}
	reading.PositionM, reading.HasPosition = c.Network.PositionM(newest)

	from := newest.Timestamp.Add(-c.Window)
	lo, hi := math.Inf(1), math.Inf(-1)
	positioned := 0
	for i := len(window) - 1; i >= 0; i-- {
		p := window[i]
		if p.Timestamp.Before(from) {
			break
		}
		m, ok := c.Network.PositionM(p)
		if !ok {
			continue
		}
		positioned++
		lo = math.Min(lo, m)
		hi = math.Max(hi, m)
	}
	if positioned < 2 {
		return reading
	}
	if hi-lo <= c.Tolerance {
		reading.Movement = MovementStopped
	} else {
		reading.Movement = MovementMoving
	}
	return reading
}
