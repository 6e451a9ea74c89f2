package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

var ErrLockNotHeld = errors.New("lock not held by this owner")

// compare-and-delete so a lock that expired and was re-acquired elsewhere is left alone
var unlockScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

var refreshScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// Locker hands out owner-tokened SET NX locks.
type Locker struct {
	rdb *goredis.Client
}

func NewLocker(rdb *goredis.Client) *Locker {
	return &Locker{rdb: rdb}
}

type Lock struct {
	rdb   *goredis.Client
	key   string
	token string
}

// TryLock returns (nil, nil) when the key is already held.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		slog.Debug("lock: not acquired", "key", key)
		return nil, nil
	}
	return &Lock{rdb: l.rdb, key: key, token: token}, nil
}

func (k *Lock) Key() string { return k.key }

func (k *Lock) Unlock(ctx context.Context) error {
	n, err := unlockScript.Run(ctx, k.rdb, []string{k.key}, k.token).Int64()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", k.key, err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

func (k *Lock) Refresh(ctx context.Context, ttl time.Duration) error {
	n, err := refreshScript.Run(ctx, k.rdb, []string{k.key}, k.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("refresh lock %s: %w", k.key, err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}
