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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pigwatch/pigwatch/config"
	"github.com/pigwatch/pigwatch/database/sqlite"
	"github.com/pigwatch/pigwatch/internal/apierror"
	"github.com/pigwatch/pigwatch/internal/refdata"
	"github.com/pigwatch/pigwatch/model"
)

const testPig = "PIG_001"

var t0 = time.Date(2026, 1, 14, 8, 0, 0, 0, time.UTC)

func at(min int) time.Time { return t0.Add(time.Duration(min) * time.Minute) }

func kp(v float64) *float64 { return &v }

func pointKP(min int, v float64) model.TelemetryPoint {
	return model.TelemetryPoint{PigID: testPig, Timestamp: at(min), KP: kp(v)}
}

func testConfig() *config.Configuration {
	return &config.Configuration{
		ProjectName: "Pigwatch",
		DataSource:  config.DataSourceConfig{Driver: config.DriverSQLite, Dns: "pigwatch.db"},
		Detector: config.DetectorConfig{
			PollIntervalSec:   30,
			ActiveLookbackSec: 2100,
			TickTimeoutSec:    120,
			GapGraceSec:       600,
			HeartbeatSec:      1800,
			PigLockTTLSec:     60,
			DefaultToolType:   "Cleaning Tool",
		},
		Engine: config.EngineConfig{
			MetersPerChannel:    25,
			POITolMeters:        50,
			StoppedWindowSec:    300,
			SpeedWindowSec:      1500,
			SpeedShortWindowSec: 300,
			MovingBoostSec:      600,
			MinSpeedDtSec:       120,
			SpeedSearchSec:      2100,
		},
		Sender: config.SenderConfig{
			WorkerName:        "test",
			Endpoint:          "https://notify.example.com/ingest",
			BatchSize:         20,
			PollIntervalSec:   2,
			MaxAttempts:       3,
			RequestTimeoutSec: 1,
			StaleLockSec:      300,
			ReapEveryTicks:    10,
			Concurrency:       2,
			TickTimeoutSec:    60,
			BackoffScheduleS:  []int{10, 30, 60},
			JitterPercent:     10,
		},
	}
}

// testReference is one 3 km line with a launcher, two valves and a receiver.
func testReference() *refdata.Reference {
	return &refdata.Reference{
		GCtoKP: map[int]float64{},
		POIs: []model.POI{
			{Tag: "LAUNCH", Type: "Launcher", KP: kp(0), Route: "line 1"},
			{Tag: "V-110", Type: "Block Valve", KP: kp(1.0), Route: "line 1"},
			{Tag: "V-120", Type: "Block Valve", KP: kp(2.0), Route: "line 1"},
			{Tag: "RECV", Type: "Receiver", KP: kp(3.0), Route: "line 1"},
		},
	}
}

func newTestStore(t *testing.T) *sqlite.Datasource {
	t.Helper()
	ds, err := sqlite.Open(filepath.Join(t.TempDir(), "pigwatch.db"), time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ds.Close() })
	return ds
}

func newTestPigwatch(t *testing.T, cfg *config.Configuration) (*Pigwatch, *sqlite.Datasource) {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	ds := newTestStore(t)
	return New(ds, cfg, testReference()), ds
}

func TestNew_AppliesRouteAliases(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.RouteAliases = map[string]string{"line one": "Line 1"}
	ref := testReference()
	ref.POIs = append(ref.POIs, model.POI{Tag: "V-115", Type: "Block Valve", KP: kp(1.5), Route: "line one"})
	p := New(nil, cfg, ref)

	assert.Equal(t, []string{"line 1"}, p.Network().Routes())
	assert.Len(t, p.Network().Route("line 1"), 5)
}

func TestNewPigwatch_LoadsReferenceDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, refdata.POIFile),
		[]byte("Tag,Type,KP,Legacy Route\nA1,Launcher,1.0,Main Line\nA2,Receiver,4.0,Main Line\n"), 0o600))
	cfg := testConfig()
	cfg.Detector.ReferenceDir = dir
	config.MockConfig(cfg)

	p, err := NewPigwatch(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"main line"}, p.Network().Routes())
	end, ok := p.Network().End("main line")
	require.True(t, ok)
	assert.Equal(t, "A2", end.Tag)
}

func TestGetPigState_NotFound(t *testing.T) {
	p, _ := newTestPigwatch(t, nil)
	_, err := p.GetPigState(context.Background(), "PIG_404")
	require.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.ErrNotFound))
}
