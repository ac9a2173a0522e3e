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

	"github.com/sirupsen/logrus"

	"github.com/pigwatch/pigwatch/config"
)

// DetectorWorker ticks a Detector on the configured poll interval.
type DetectorWorker struct {
	*tickLoop
	detector *Detector
}

// NewDetectorWorker creates a worker polling at pollInterval, each tick bounded by tickTimeout.
//
// Parameters:
// - detector *Detector: The detector to tick.
// - pollInterval time.Duration: Time between ticks.
// - tickTimeout time.Duration: Deadline of a single tick; zero means none.
//
// Returns:
// - *DetectorWorker: The configured worker.
func NewDetectorWorker(detector *Detector, pollInterval, tickTimeout time.Duration) *DetectorWorker {
	w := &DetectorWorker{detector: detector}
	w.tickLoop = newTickLoop("Detector worker", pollInterval, tickTimeout, w.tick)
	return w
}

// DetectorWorkerFrom reads intervals from the detector section of the configuration.
func DetectorWorkerFrom(detector *Detector, cfg config.DetectorConfig) *DetectorWorker {
	return NewDetectorWorker(detector, config.Seconds(cfg.PollIntervalSec), config.Seconds(cfg.TickTimeoutSec))
}

func (w *DetectorWorker) tick(ctx context.Context, now time.Time) {
	report, err := w.detector.Tick(ctx, now)
	if err != nil {
		logrus.Errorf("detector tick failed: %v", err)
		return
	}
	if report.Inserted > 0 || report.Failed > 0 {
		logrus.WithFields(logrus.Fields{
			"pigs":       report.Pigs,
			"inserted":   report.Inserted,
			"duplicates": report.Duplicates,
			"failed":     report.Failed,
			"skipped":    report.Skipped,
		}).Info("detector tick")
	}
}
