package cache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotOwned is returned when releasing or extending a lock held by
// someone else, or one that already expired.
var ErrLockNotOwned = errors.New("lock not owned by this holder")

// Both scripts act only when the stored token matches.
var (
	unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// Locker hands out short-lived Redis locks identified by a random token.
type Locker struct {
	client *redis.Client
	prefix string
}

func NewLocker(client *redis.Client) *Locker {
	return &Locker{client: client, prefix: "lock:"}
}

func (l *Locker) key(name string) string { return l.prefix + name }

// TryLock takes the lock if it is free. The returned token is needed to
// release or refresh it.
func (l *Locker) TryLock(ctx context.Context, name string, ttl time.Duration) (bool, string, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key(name), token, ttl).Result()
	if err != nil {
		return false, "", err
	}
	if !ok {
		return false, "", nil
	}
	return true, token, nil
}

func (l *Locker) Unlock(ctx context.Context, name, token string) error {
	n, err := unlockScript.Run(ctx, l.client, []string{l.key(name)}, token).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotOwned
	}
	return nil
}

func (l *Locker) Refresh(ctx context.Context, name, token string, ttl time.Duration) error {
	n, err := refreshScript.Run(ctx, l.client, []string{l.key(name)}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotOwned
	}
	return nil
}
