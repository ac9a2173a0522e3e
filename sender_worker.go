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

// SenderWorker ticks a Sender on the configured poll interval.
type SenderWorker struct {
	*tickLoop
	sender *Sender
}

// NewSenderWorker creates a worker polling at pollInterval, each tick bounded by tickTimeout.
//
// Parameters:
// - sender *Sender: The sender to tick.
// - pollInterval time.Duration: Time between ticks.
// - tickTimeout time.Duration: Deadline of a single tick; zero means none.
//
// Returns:
// - *SenderWorker: The configured worker.
func NewSenderWorker(sender *Sender, pollInterval, tickTimeout time.Duration) *SenderWorker {
	w := &SenderWorker{sender: sender}
	w.tickLoop = newTickLoop("Sender worker "+sender.WorkerID(), pollInterval, tickTimeout, w.tick)
	return w
}

// SenderWorkerFrom reads intervals from the sender section of the configuration.
func SenderWorkerFrom(sender *Sender, cfg config.SenderConfig) *SenderWorker {
	return NewSenderWorker(sender, config.Seconds(cfg.PollIntervalSec), config.Seconds(cfg.TickTimeoutSec))
}

func (w *SenderWorker) tick(ctx context.Context, now time.Time) {
	report, err := w.sender.Tick(ctx, now)
	if err != nil {
		logrus.Errorf("sender tick failed: %v", err)
		return
	}
	if report.Claimed > 0 || report.Reaped > 0 {
		logrus.WithFields(logrus.Fields{
			"worker":  w.sender.WorkerID(),
			"reaped":  report.Reaped,
			"claimed": report.Claimed,
			"sent":    report.Sent,
			"retried": report.Retried,
			"dead":    report.Dead,
			"lost":    report.Lost,
		}).Info("sender tick")
	}
}
