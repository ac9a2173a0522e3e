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

import "time"

const DefaultToolType = "Cleaning Tool"

// TelemetryPoint is one positional sample reported for a pig.
// GlobalChannel and KP are both optional; a point carrying neither has no position.
type TelemetryPoint struct {
	PigID         string    `json:"pig_id"`
	ToolType      string    `json:"tool_type,omitempty"`
	Timestamp     time.Time `json:"ts"`
	GlobalChannel *int      `json:"gc,omitempty"`
	KP            *float64  `json:"kp,omitempty"`
}

// HasPosition reports whether the point carries any position-derived field.
func (p TelemetryPoint) HasPosition() bool {
	return p.GlobalChannel != nil || p.KP != nil
}

// POI is a point of interest (valve, launcher, receiver) along a legacy route.
type POI struct {
	Tag           string   `json:"tag"`
	Type          string   `json:"type"`
	GlobalChannel *int     `json:"gc,omitempty"`
	KP            *float64 `json:"kp,omitempty"`
	Route         string   `json:"route"`
}
