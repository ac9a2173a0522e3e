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

package redlock

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocker_Lock_Success(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "PIG_001", "detector-a")

	mock.ExpectSetNX("pigwatch:pig-lock:PIG_001", "detector-a", 5*time.Second).SetVal(true)

	err := locker.Lock(context.Background(), 5*time.Second)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_Lock_Held(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "PIG_001", "detector-a")

	mock.ExpectSetNX("pigwatch:pig-lock:PIG_001", "detector-a", 5*time.Second).SetVal(false)

	err := locker.Lock(context.Background(), 5*time.Second)
	assert.ErrorIs(t, err, ErrLockHeld)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_Lock_RedisError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "PIG_001", "detector-a")

	mock.ExpectSetNX("pigwatch:pig-lock:PIG_001", "detector-a", 5*time.Second).SetErr(errors.New("connection reset"))

	err := locker.Lock(context.Background(), 5*time.Second)
	assert.EqualError(t, err, "connection reset")
	assert.False(t, errors.Is(err, ErrLockHeld))
}

func TestLocker_Unlock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "PIG_001", "detector-a")

	mock.ExpectEval(releaseScript, []string{"pigwatch:pig-lock:PIG_001"}, "detector-a").SetVal(int64(1))
	assert.NoError(t, locker.Unlock(context.Background()))

	mock.ExpectEval(releaseScript, []string{"pigwatch:pig-lock:PIG_001"}, "detector-a").SetVal(int64(0))
	assert.ErrorIs(t, locker.Unlock(context.Background()), ErrLockLost)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_Extend(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "PIG_001", "detector-a")

	mock.ExpectEval(extendScript, []string{"pigwatch:pig-lock:PIG_001"}, "detector-a", "10000").SetVal(int64(1))
	assert.NoError(t, locker.Extend(context.Background(), 10*time.Second))

	mock.ExpectEval(extendScript, []string{"pigwatch:pig-lock:PIG_001"}, "detector-a", "10000").SetVal(int64(0))
	assert.ErrorIs(t, locker.Extend(context.Background(), 10*time.Second), ErrLockLost)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func newMiniredisClient(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestPigLocks_OwnerIsUnique(t *testing.T) {
	_, client := newMiniredisClient(t)
	a := NewPigLocks(client, "detector", time.Minute)
	b := NewPigLocks(client, "detector", time.Minute)
	assert.NotEqual(t, a.Owner(), b.Owner())
	assert.True(t, strings.HasPrefix(a.Owner(), "detector-"))
}

func TestPigLocks_TryLock(t *testing.T) {
	mr, client := newMiniredisClient(t)
	ctx := context.Background()
	a := NewPigLocks(client, "detector-a", time.Minute)
	b := NewPigLocks(client, "detector-b", time.Minute)

	release, err := a.TryLock(ctx, "PIG_001")
	require.NoError(t, err)
	assert.True(t, mr.Exists(Key("PIG_001")))

	_, err = b.TryLock(ctx, "PIG_001")
	assert.ErrorIs(t, err, ErrLockHeld)

	// other pigs are independent
	releaseOther, err := b.TryLock(ctx, "PIG_002")
	require.NoError(t, err)
	require.NoError(t, releaseOther(ctx))

	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists(Key("PIG_001")))

	release, err = b.TryLock(ctx, "PIG_001")
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}

func TestPigLocks_ExpiredLockIsNotReleasedByOldOwner(t *testing.T) {
	mr, client := newMiniredisClient(t)
	ctx := context.Background()
	a := NewPigLocks(client, "detector-a", time.Second)
	b := NewPigLocks(client, "detector-b", time.Minute)

	releaseA, err := a.TryLock(ctx, "PIG_001")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	releaseB, err := b.TryLock(ctx, "PIG_001")
	require.NoError(t, err)

	assert.ErrorIs(t, releaseA(ctx), ErrLockLost)
	assert.True(t, mr.Exists(Key("PIG_001")))
	require.NoError(t, releaseB(ctx))
}

func TestPigLocks_OneWinnerUnderContention(t *testing.T) {
	_, client := newMiniredisClient(t)
	ctx := context.Background()

	var winners int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			locks := NewPigLocks(client, "detector", time.Minute)
			if _, err := locks.TryLock(ctx, "PIG_001"); err == nil {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners)
}
