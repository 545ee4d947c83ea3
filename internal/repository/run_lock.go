package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrLockHeld is returned when another holder owns the lock
var ErrLockHeld = errors.New("lock is held by another run")

// releaseScript deletes the key only if it still carries our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RunLock serializes import runs. The in-process mutex always applies;
// the Redis key extends exclusion across replicas when Redis is reachable.
type RunLock struct {
	redis  *redis.Client
	key    string
	ttl    time.Duration
	local  sync.Mutex
	logger *logrus.Entry
}

// NewRunLock creates a lock. redisClient may be nil.
func NewRunLock(redisClient *redis.Client, key string, ttl time.Duration, logger *logrus.Logger) *RunLock {
	return &RunLock{
		redis:  redisClient,
		key:    key,
		ttl:    ttl,
		logger: logger.WithField("component", "run_lock"),
	}
}

// Acquire takes the lock without waiting. The returned func releases it.
func (l *RunLock) Acquire(ctx context.Context) (func(), error) {
	if !l.local.TryLock() {
		return nil, ErrLockHeld
	}

	if l.redis == nil {
		return l.local.Unlock, nil
	}

	token := uuid.NewString()
	ok, err := l.redis.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		l.logger.WithError(err).Warn("Redis unavailable for run lock, using in-process lock only")
		return l.local.Unlock, nil
	}
	if !ok {
		l.local.Unlock()
		return nil, ErrLockHeld
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.redis, []string{l.key}, token).Err(); err != nil {
			l.logger.WithError(err).Warn("Failed to release run lock, it will expire")
		}
		l.local.Unlock()
	}, nil
}
