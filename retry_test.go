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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pigwatch/pigwatch/config"
	"github.com/pigwatch/pigwatch/database"
)

func TestBackoffPolicy_Step(t *testing.T) {
	b := NewBackoffPolicy(nil, 0)
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 10 * time.Second},
		{1, 10 * time.Second},
		{2, 30 * time.Second},
		{3, 60 * time.Second},
		{6, 600 * time.Second},
		{50, 600 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Step(tt.attempts), "attempts=%d", tt.attempts)
	}
	assert.Equal(t, 600*time.Second, b.Cap())
}

func TestBackoffPolicy_RaisesShrinkingSteps(t *testing.T) {
	b := NewBackoffPolicy([]time.Duration{time.Minute, 10 * time.Second, -time.Second, 2 * time.Minute}, 0)
	assert.Equal(t, time.Minute, b.Step(1))
	assert.Equal(t, time.Minute, b.Step(2))
	assert.Equal(t, time.Minute, b.Step(3))
	assert.Equal(t, 2*time.Minute, b.Step(4))
}

func TestBackoffPolicy_JitterBounds(t *testing.T) {
	b := NewBackoffPolicy(nil, 10).WithSeed(42)
	for attempts := 1; attempts <= 8; attempts++ {
		step := b.Step(attempts)
		for i := 0; i < 200; i++ {
			d := b.Delay(attempts)
			require.GreaterOrEqual(t, d, step)
			require.Less(t, d, step+step/10)
		}
	}
}

func TestBackoffPolicy_DelaysNeverShrink(t *testing.T) {
	b := NewBackoffPolicy(nil, 10).WithSeed(1)
	for attempts := 1; attempts < 6; attempts++ {
		// the largest jittered delay of a step stays below the next step
		assert.LessOrEqual(t, b.Step(attempts)+b.Step(attempts)/10, b.Step(attempts+1), "attempts=%d", attempts)
	}
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	assert.True(t, b.NextAttemptAt(now, 1).After(now))
}

func TestBackoffPolicy_SeedIsReproducible(t *testing.T) {
	a := NewBackoffPolicy(nil, 20).WithSeed(9)
	b := NewBackoffPolicy(nil, 20).WithSeed(9)
	for i := 1; i < 6; i++ {
		assert.Equal(t, a.Delay(i), b.Delay(i))
	}
}

func TestBackoffPolicyFrom(t *testing.T) {
	b := BackoffPolicyFrom(config.SenderConfig{BackoffScheduleS: []int{5, 15}, JitterPercent: 0})
	assert.Equal(t, 5*time.Second, b.Delay(1))
	assert.Equal(t, 15*time.Second, b.Delay(9))
}

func TestRetryStore(t *testing.T) {
	ctx := context.Background()

	calls := 0
	err := retryStore(ctx, time.Second, func() error {
		calls++
		if calls < 3 {
			return database.ErrStoreBusy
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	permanent := errors.New("check constraint violated")
	err = retryStore(ctx, time.Second, func() error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)

	// the budget bounds a store that never recovers
	start := time.Now()
	err = retryStore(ctx, 300*time.Millisecond, func() error { return database.ErrStoreBusy })
	assert.ErrorIs(t, err, database.ErrStoreBusy)
	assert.Less(t, time.Since(start), 3*time.Second)
}
