package queue

import (
	"context"
	"time"

	"github.com/go-redis/redis"

	"github.com/rwool/twiceredis/pkg/twice"
)

// Ensure RedisAdapter implements Queue.
var _ Queue = (*RedisAdapter)(nil)

// NewRedisAdapter creates a new RedisAdapter.
//
// Moves touch two keys and must be atomic, so h should be the write handle
// of a twice.Client.
func NewRedisAdapter(h twice.Handle) *RedisAdapter {
	if h == nil {
		panic("nil queue handle")
	}
	return &RedisAdapter{h: h}
}

// RedisAdapter implements Queue on top of Redis lists.
//
// Errors from the store are returned unmodified so callers can tell
// transport failures from empty results.
type RedisAdapter struct {
	h twice.Handle
}

// Push pushes values onto the head of the list at key and returns the new
// length.
func (r *RedisAdapter) Push(ctx context.Context, key string, values ...string) (int64, error) {
	if len(values) == 0 {
		return 0, nil
	}
	c, err := r.h.Client(ctx)
	if err != nil {
		return 0, err
	}
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return c.LPush(key, args...).Result()
}

// Move moves the tail of src onto the head of dst without blocking.
func (r *RedisAdapter) Move(ctx context.Context, src, dst string) (string, bool, error) {
	c, err := r.h.Client(ctx)
	if err != nil {
		return "", false, err
	}
	return moved(c.RPopLPush(src, dst).Result())
}

// BlockingMove is Move, but waits up to timeout for src to have an entry.
//
// Redis counts the timeout in whole seconds; shorter values wait one second.
func (r *RedisAdapter) BlockingMove(ctx context.Context, src, dst string, timeout time.Duration) (string, bool, error) {
	c, err := r.h.Client(ctx)
	if err != nil {
		return "", false, err
	}
	if timeout < time.Second {
		timeout = time.Second
	}
	return moved(c.BRPopLPush(src, dst, timeout).Result())
}

// Remove removes the occurrence of value closest to the head of key.
func (r *RedisAdapter) Remove(ctx context.Context, key, value string) (int64, error) {
	c, err := r.h.Client(ctx)
	if err != nil {
		return 0, err
	}
	return c.LRem(key, 1, value).Result()
}

// Len returns the length of the list at key.
func (r *RedisAdapter) Len(ctx context.Context, key string) (int64, error) {
	c, err := r.h.Client(ctx)
	if err != nil {
		return 0, err
	}
	return c.LLen(key).Result()
}

// Range returns the whole list at key, head first.
func (r *RedisAdapter) Range(ctx context.Context, key string) ([]string, error) {
	c, err := r.h.Client(ctx)
	if err != nil {
		return nil, err
	}
	return c.LRange(key, 0, -1).Result()
}

func moved(v string, err error) (string, bool, error) {
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}
