package redlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "pigwatch:pig-lock:"

const (
	releaseScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	extendScript  = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('pexpire', KEYS[1], ARGV[2]) else return 0 end"
)

// ErrLockHeld is returned when another detector instance owns the pig.
var ErrLockHeld = errors.New("pig lock is held by another owner")

// ErrLockLost is returned when the lock expired or changed owner before release.
var ErrLockLost = errors.New("pig lock expired or is owned by someone else")

func Key(pigID string) string {
	return keyPrefix + pigID
}

// Locker guards the processing of one pig. The value identifies the owner so
// only the holder can release or extend the lock.
type Locker struct {
	client redis.UniversalClient
	key    string
	value  string
}

func NewLocker(client redis.UniversalClient, pigID, owner string) *Locker {
	return &Locker{
		client: client,
		key:    Key(pigID),
		value:  owner,
	}
}

func (l *Locker) Lock(ctx context.Context, ttl time.Duration) error {
	ok, err := l.client.SetNX(ctx, l.key, l.value, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLockHeld, l.key)
	}
	return nil
}

func (l *Locker) Unlock(ctx context.Context) error {
	result, err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.value).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("%w: %s", ErrLockLost, l.key)
	}
	return nil
}

func (l *Locker) Extend(ctx context.Context, ttl time.Duration) error {
	result, err := l.client.Eval(ctx, extendScript, []string{l.key}, l.value, fmt.Sprintf("%d", ttl.Milliseconds())).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("%w: %s", ErrLockLost, l.key)
	}
	return nil
}

// PigLocks hands out per-pig lockers for one detector instance.
type PigLocks struct {
	client redis.UniversalClient
	owner  string
	ttl    time.Duration
}

// NewPigLocks builds the lock set. The owner gets a random suffix so two
// processes sharing a name never release each other's locks.
func NewPigLocks(client redis.UniversalClient, owner string, ttl time.Duration) *PigLocks {
	return &PigLocks{client: client, owner: fmt.Sprintf("%s-%s", owner, uuid.NewString()), ttl: ttl}
}

func (p *PigLocks) Owner() string {
	return p.owner
}

// TryLock takes the pig lock without waiting. The returned release function
// never fails the caller; a lost lock only means another instance may now run
// the same pig, which dedup keys make harmless.
func (p *PigLocks) TryLock(ctx context.Context, pigID string) (release func(context.Context) error, err error) {
	l := NewLocker(p.client, pigID, p.owner)
	if err := l.Lock(ctx, p.ttl); err != nil {
		return nil, err
	}
	return l.Unlock, nil
}
