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
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pigwatch/pigwatch/config"
	"github.com/pigwatch/pigwatch/database"
)

// DefaultBackoffSchedule is the retry delay per failed attempt, capped at the last step.
var DefaultBackoffSchedule = []time.Duration{
	10 * time.Second,
	30 * time.Second,
	60 * time.Second,
	120 * time.Second,
	300 * time.Second,
	600 * time.Second,
}

// BackoffPolicy maps the number of failed attempts to the delay before the next one.
type BackoffPolicy struct {
	schedule      []time.Duration
	jitterPercent int

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewBackoffPolicy builds a policy from a schedule. Steps smaller than their
// predecessor are raised to it so delays never shrink as attempts grow.
func NewBackoffPolicy(schedule []time.Duration, jitterPercent int) *BackoffPolicy {
	if len(schedule) == 0 {
		schedule = DefaultBackoffSchedule
	}
	steps := make([]time.Duration, len(schedule))
	for i, s := range schedule {
		if s < 0 {
			s = 0
		}
		if i > 0 && s < steps[i-1] {
			s = steps[i-1]
		}
		steps[i] = s
	}
	if jitterPercent < 0 {
		jitterPercent = 0
	}
	return &BackoffPolicy{
		schedule:      steps,
		jitterPercent: jitterPercent,
		rnd:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// BackoffPolicyFrom reads the sender section of the configuration.
func BackoffPolicyFrom(cfg config.SenderConfig) *BackoffPolicy {
	schedule := make([]time.Duration, 0, len(cfg.BackoffScheduleS))
	for _, s := range cfg.BackoffScheduleS {
		schedule = append(schedule, config.Seconds(s))
	}
	return NewBackoffPolicy(schedule, cfg.JitterPercent)
}

// WithSeed makes the jitter reproducible.
func (b *BackoffPolicy) WithSeed(seed int64) *BackoffPolicy {
	b.mu.Lock()
	b.rnd = rand.New(rand.NewSource(seed))
	b.mu.Unlock()
	return b
}

// Step is the delay without jitter after the given number of failed attempts.
// The first failure (attempts == 1) waits the first step.
func (b *BackoffPolicy) Step(attempts int) time.Duration {
	i := attempts - 1
	if i < 0 {
		i = 0
	}
	if i >= len(b.schedule) {
		i = len(b.schedule) - 1
	}
	return b.schedule[i]
}

// Cap is the largest step of the schedule.
func (b *BackoffPolicy) Cap() time.Duration {
	return b.schedule[len(b.schedule)-1]
}

// Delay is Step plus a random jitter in [0, step*jitter%).
func (b *BackoffPolicy) Delay(attempts int) time.Duration {
	step := b.Step(attempts)
	span := int64(step) * int64(b.jitterPercent) / 100
	if span <= 0 {
		return step
	}
	b.mu.Lock()
	j := b.rnd.Int63n(span)
	b.mu.Unlock()
	return step + time.Duration(j)
}

// NextAttemptAt is when a row that failed its attempts-th attempt at now becomes due again.
func (b *BackoffPolicy) NextAttemptAt(now time.Time, attempts int) time.Time {
	return now.Add(b.Delay(attempts))
}

// retryStore runs a store write, retrying transient failures with exponential
// backoff until the context ends or the retry budget is spent. Other errors
// are returned at once.
func retryStore(ctx context.Context, maxElapsed time.Duration, op func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 100 * time.Millisecond
	eb.MaxInterval = 2 * time.Second
	eb.MaxElapsedTime = maxElapsed

	return backoff.Retry(func() error {
		err := op()
		if err != nil && !database.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(eb, ctx))
}
