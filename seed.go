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
	"time"

	"github.com/pigwatch/pigwatch/model"
)

// demoSeries is minutes before now and global channel of the development
// telemetry: steady travel that slows down over the last half hour.
var demoSeries = []struct {
	minutesAgo int
	gc         int
}{
	{135, 11900}, {125, 11940}, {112, 11990}, {110, 12005}, {95, 12020},
	{83, 12022}, {71, 12025}, {65, 12050}, {55, 12070}, {42, 12090},
	{30, 12105}, {25, 12120}, {23, 12122}, {21, 12125}, {20, 12126},
	{19, 12130}, {18, 12134}, {17, 12137}, {16, 12139}, {15, 12142},
	{14, 12145}, {13, 12147}, {12, 12150}, {11, 12152}, {10, 12155},
	{9, 12157}, {8, 12160}, {7, 12162}, {6, 12165}, {5, 12167},
	{4, 12170}, {3, 12172}, {2, 12175}, {1, 12178}, {0, 12180},
}

// DemoTelemetry returns the development series for a pig, ending at now.
func DemoTelemetry(pigID, toolType string, now time.Time) []model.TelemetryPoint {
	if toolType == "" {
		toolType = model.DefaultToolType
	}
	points := make([]model.TelemetryPoint, 0, len(demoSeries))
	for _, s := range demoSeries {
		gc := s.gc
		points = append(points, model.TelemetryPoint{
			PigID:         pigID,
			ToolType:      toolType,
			Timestamp:     now.Add(-time.Duration(s.minutesAgo) * time.Minute).UTC(),
			GlobalChannel: &gc,
		})
	}
	return points
}

// SeedDemo writes the development series. It is meant for local runs only;
// production telemetry is ingested elsewhere.
func (p *Pigwatch) SeedDemo(ctx context.Context, pigID, toolType string, now time.Time) (int, error) {
	points := DemoTelemetry(pigID, toolType, now)
	if err := p.datasource.RecordTelemetry(ctx, points...); err != nil {
		return 0, err
	}
	return len(points), nil
}
