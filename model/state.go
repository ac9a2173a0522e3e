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
	"fmt"
	"time"
)

// PigStateVersion is the layout version written into every state document.
const PigStateVersion = 1

type Phase string

const (
	PhaseUnknown   Phase = "UNKNOWN"
	PhaseStopped   Phase = "STOPPED"
	PhaseMoving    Phase = "MOVING"
	PhaseCompleted Phase = "COMPLETED"
)

// RunContext is everything tied to one traversal of a route. It is discarded
// as a whole when the run completes and the pig is reset.
type RunContext struct {
	ID              string               `json:"id"`
	Route           string               `json:"route,omitempty"`
	StartedAt       time.Time            `json:"started_at"`
	PassedPOIs      map[string]time.Time `json:"passed_pois,omitempty"`
	PrePOI15        map[string]time.Time `json:"pre_poi_15,omitempty"`
	PrePOI30        map[string]time.Time `json:"pre_poi_30,omitempty"`
	LastHeartbeatAt *time.Time           `json:"last_heartbeat_at,omitempty"`
}

// PigState is the detector's per-pig document. It is always read and written whole.
type PigState struct {
	Version      int         `json:"version"`
	Phase        Phase       `json:"phase"`
	LastSeenAt   *time.Time  `json:"last_seen_at,omitempty"`
	ToolType     string      `json:"tool_type,omitempty"`
	Run          *RunContext `json:"run,omitempty"`
	StoppedAt    *time.Time  `json:"stopped_at,omitempty"`
	GapOpen      bool        `json:"gap_open"`
	GapStartedAt *time.Time  `json:"gap_started_at,omitempty"`
	MovingSince  *time.Time  `json:"moving_since,omitempty"`
	LastEvent    string      `json:"last_event,omitempty"`
	LastEventAt  *time.Time  `json:"last_event_at,omitempty"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
	RunCount     int         `json:"run_count"`

	UpdatedAt time.Time `json:"-"`
}

// NewPigState returns the state of a pig that has never been seen.
func NewPigState() *PigState {
	return &PigState{Version: PigStateVersion, Phase: PhaseUnknown}
}

// RunIDFor derives the run identifier from the timestamp of the point that opened it,
// so re-deriving a run after a crash yields the same id.
func RunIDFor(startedAt time.Time) string {
	return startedAt.UTC().Format("20060102T150405Z")
}

// OpenRun starts a new run context at the given time.
func (s *PigState) OpenRun(at time.Time) {
	s.Run = &RunContext{
		ID:         RunIDFor(at),
		StartedAt:  at,
		PassedPOIs: map[string]time.Time{},
		PrePOI15:   map[string]time.Time{},
		PrePOI30:   map[string]time.Time{},
	}
	s.RunCount++
}

// Reset clears the run context and timers so the next telemetry opens a fresh run.
// LastSeenAt is kept: telemetry already consumed is not replayed.
func (s *PigState) Reset() {
	s.Phase = PhaseUnknown
	s.Run = nil
	s.ToolType = ""
	s.StoppedAt = nil
	s.GapOpen = false
	s.GapStartedAt = nil
	s.MovingSince = nil
	s.LastEvent = ""
	s.LastEventAt = nil
	s.CompletedAt = nil
}

// Clone returns a deep copy, letting the detector fold a tick without touching
// the loaded state until everything succeeded.
func (s *PigState) Clone() *PigState {
	if s == nil {
		return nil
	}
	c := *s
	c.LastSeenAt = cloneTime(s.LastSeenAt)
	c.StoppedAt = cloneTime(s.StoppedAt)
	c.GapStartedAt = cloneTime(s.GapStartedAt)
	c.MovingSince = cloneTime(s.MovingSince)
	c.LastEventAt = cloneTime(s.LastEventAt)
	c.CompletedAt = cloneTime(s.CompletedAt)
	if s.Run != nil {
		r := *s.Run
		r.PassedPOIs = cloneMarks(s.Run.PassedPOIs)
		r.PrePOI15 = cloneMarks(s.Run.PrePOI15)
		r.PrePOI30 = cloneMarks(s.Run.PrePOI30)
		r.LastHeartbeatAt = cloneTime(s.Run.LastHeartbeatAt)
		c.Run = &r
	}
	return &c
}

// Validate rejects documents written by a newer layout.
func (s *PigState) Validate() error {
	if s.Version > PigStateVersion {
		return fmt.Errorf("pig state version %d is newer than supported version %d", s.Version, PigStateVersion)
	}
	switch s.Phase {
	case PhaseUnknown, PhaseStopped, PhaseMoving, PhaseCompleted:
	case "":
		s.Phase = PhaseUnknown
	default:
		return fmt.Errorf("unknown pig phase %q", s.Phase)
	}
	if s.Version == 0 {
		s.Version = PigStateVersion
	}
	return nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneMarks(m map[string]time.Time) map[string]time.Time {
	out := make(map[string]time.Time, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
