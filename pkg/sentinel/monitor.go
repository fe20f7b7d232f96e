package sentinel

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
)

// MonitorConn is a single open connection to a monitor node.
//
// Master returns the monitor's view of the group's primary as a flat field
// map (ip, port, flags, num-other-sentinels, ...). Replicas returns one such
// map per secondary known to the monitor.
type MonitorConn interface {
	Master(ctx context.Context, group string) (map[string]string, error)
	Replicas(ctx context.Context, group string) ([]map[string]string, error)
	Close() error
}

// Dialer opens a connection to the monitor at endpoint.
type Dialer func(ctx context.Context, endpoint string) (MonitorConn, error)

// DialOptions configures the connections opened by RedisDialer.
type DialOptions struct {
	Password    string
	DialTimeout time.Duration
	ReadTimeout time.Duration
}

// RedisDialer returns a Dialer that talks to Redis Sentinel nodes.
//
// Each returned connection owns a single-connection pool that is torn down
// by Close.
func RedisDialer(opt DialOptions) Dialer {
	return func(ctx context.Context, endpoint string) (MonitorConn, error) {
		if err := ctx.Err(); err != nil {
			return nil, errors.WithStack(err)
		}
		c := redis.NewSentinelClient(&redis.Options{
			Addr:         endpoint,
			Password:     opt.Password,
			DialTimeout:  opt.DialTimeout,
			ReadTimeout:  opt.ReadTimeout,
			WriteTimeout: opt.ReadTimeout,
			PoolSize:     1,
		})
		return &redisMonitor{c: c, endpoint: endpoint}, nil
	}
}

type redisMonitor struct {
	c        *redis.SentinelClient
	endpoint string
}

func (m *redisMonitor) Master(ctx context.Context, group string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}
	v, err := m.c.Do("sentinel", "master", group).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "sentinel master %q on %s", group, m.endpoint)
	}
	return pairsToMap(v)
}

func (m *redisMonitor) Replicas(ctx context.Context, group string) ([]map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}
	v, err := m.c.Do("sentinel", "slaves", group).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "sentinel slaves %q on %s", group, m.endpoint)
	}
	items, ok := v.([]interface{})
	if !ok {
		return nil, errors.Errorf("unexpected sentinel slaves reply type %T", v)
	}
	out := make([]map[string]string, 0, len(items))
	for _, item := range items {
		state, err := pairsToMap(item)
		if err != nil {
			return nil, err
		}
		out = append(out, state)
	}
	return out, nil
}

func (m *redisMonitor) Close() error {
	return errors.WithStack(m.c.Close())
}

// pairsToMap converts a flat [k1 v1 k2 v2 ...] reply into a map.
func pairsToMap(v interface{}) (map[string]string, error) {
	items, ok := v.([]interface{})
	if !ok {
		return nil, errors.Errorf("unexpected sentinel reply type %T", v)
	}
	if len(items)%2 != 0 {
		return nil, errors.Errorf("odd number of fields (%d) in sentinel reply", len(items))
	}
	out := make(map[string]string, len(items)/2)
	for i := 0; i < len(items); i += 2 {
		out[replyString(items[i])] = replyString(items[i+1])
	}
	return out, nil
}

func replyString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}
