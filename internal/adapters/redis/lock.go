package redisad

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"hotel_channel/internal/adapters/observability"
)

const keyPrefix = "channel:lock:"

// releaseScript deletes the key only while it still holds our token,
// so an expired lock taken over by another instance is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock is a single-key lease lock shared by all instances.
type Lock struct{ c *redis.Client }

func New(addr, pass string, db int) *Lock {
	return &Lock{c: redis.NewClient(&redis.Options{Addr: addr, Password: pass, DB: db})}
}

func NewFromClient(c *redis.Client) *Lock { return &Lock{c: c} }

func (l *Lock) Ping(ctx context.Context) error { return l.c.Ping(ctx).Err() }

func (l *Lock) Close() error { return l.c.Close() }

// Acquire tries once. ok=false with a nil error means somebody else holds it.
func (l *Lock) Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, bool, error) {
	key := keyPrefix + name
	token := uuid.NewString()

	ok, err := l.c.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		observability.ObserveLock(name, "error")
		return nil, false, err
	}
	if !ok {
		observability.ObserveLock(name, "busy")
		return nil, false, nil
	}
	observability.ObserveLock(name, "acquired")

	release := func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.c, []string{key}, token).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			observability.ObserveLock(name, "error")
			return err
		}
		if n == 1 {
			observability.ObserveLock(name, "released")
		}
		return nil
	}
	return release, true, nil
}
