package twice

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/rwool/twiceredis/pkg/sentinel"
)

// Handle is the capability both pools of a Client expose.
type Handle interface {
	// Client returns a store client bound to the pool's current address,
	// resolving one first if the pool is not bound.
	Client(ctx context.Context) (*redis.Client, error)

	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Pipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)

	// Disconnect drops the pool's live connections. The next use resolves
	// an address again.
	Disconnect() error

	// Addr returns the address the handle is bound to, if any.
	Addr() (sentinel.Addr, bool)
}

// Ensure Pool implements Handle.
var _ Handle = (*Pool)(nil)

type resolveFunc func(ctx context.Context) (sentinel.Addr, error)

// Pool is a lazily bound connection pool for one role of a service group.
//
// A Pool stays bound to the address it resolved until it is disconnected,
// either explicitly or because a command failed in a way that means the
// address can no longer serve the role (transport failure, READONLY reply
// after a failover, ...).
type Pool struct {
	role     sentinel.Role
	resolve  resolveFunc
	opt      PoolOptions
	password string
	log      log.Logger

	mu    sync.Mutex
	bound *binding
}

type binding struct {
	addr   sentinel.Addr
	client *redis.Client
	broken int32
}

func (b *binding) observe(err error) {
	if isBindingError(err) {
		atomic.StoreInt32(&b.broken, 1)
	}
}

func (b *binding) usable() bool {
	return atomic.LoadInt32(&b.broken) == 0
}

func newPool(role sentinel.Role, resolve resolveFunc, opt PoolOptions, password string, l log.Logger) *Pool {
	return &Pool{
		role:     role,
		resolve:  resolve,
		opt:      opt,
		password: password,
		log:      l,
	}
}

// Role returns the role the pool resolves addresses for.
func (p *Pool) Role() sentinel.Role {
	return p.role
}

// Addr returns the address the pool is bound to, if any.
func (p *Pool) Addr() (sentinel.Addr, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bound == nil || !p.bound.usable() {
		return sentinel.Addr{}, false
	}
	return p.bound.addr, true
}

// Client implements Handle.
func (p *Pool) Client(ctx context.Context) (*redis.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bound != nil && p.bound.usable() {
		return p.bound.client.WithContext(ctx), nil
	}
	if p.bound != nil {
		_ = p.log.Log("LEVEL", "WARN", "MESSAGE", fmt.Sprintf("Dropping %s connection to %s after failure", p.role, p.bound.addr))
		p.closeBinding(p.bound)
		p.bound = nil
	}

	b, err := p.bind(ctx)
	if err != nil {
		return nil, err
	}
	p.bound = b
	return b.client.WithContext(ctx), nil
}

// Get implements Handle.
func (p *Pool) Get(ctx context.Context, key string) (string, error) {
	c, err := p.Client(ctx)
	if err != nil {
		return "", err
	}
	return c.Get(key).Result()
}

// Set implements Handle.
func (p *Pool) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	c, err := p.Client(ctx)
	if err != nil {
		return err
	}
	return c.Set(key, value, expiration).Err()
}

// Pipelined implements Handle.
func (p *Pool) Pipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error) {
	c, err := p.Client(ctx)
	if err != nil {
		return nil, err
	}
	return c.Pipelined(fn)
}

// Disconnect implements Handle.
//
// It is safe to call any number of times; the Pool stays usable.
func (p *Pool) Disconnect() error {
	p.mu.Lock()
	b := p.bound
	p.bound = nil
	p.mu.Unlock()

	if b == nil {
		return nil
	}
	_ = p.log.Log("LEVEL", "DEBUG", "MESSAGE", fmt.Sprintf("Disconnecting %s pool from %s", p.role, b.addr))
	return errors.Wrapf(b.client.Close(), "error closing %s pool for %s", p.role, b.addr)
}

func (p *Pool) closeBinding(b *binding) {
	if err := b.client.Close(); err != nil {
		_ = p.log.Log("LEVEL", "WARN", "MESSAGE", err.Error())
	}
}

func (p *Pool) bind(ctx context.Context) (*binding, error) {
	addr, err := p.resolve(ctx)
	if err != nil {
		return nil, err
	}

	b := &binding{addr: addr}
	b.client = redis.NewClient(p.clientOptions(addr))
	b.client.WrapProcess(func(old func(redis.Cmder) error) func(redis.Cmder) error {
		return func(cmd redis.Cmder) error {
			err := old(cmd)
			b.observe(err)
			return err
		}
	})
	b.client.WrapProcessPipeline(func(old func([]redis.Cmder) error) func([]redis.Cmder) error {
		return func(cmds []redis.Cmder) error {
			err := old(cmds)
			b.observe(err)
			return err
		}
	})

	if p.opt.CheckConnection {
		if err := b.client.Ping().Err(); err != nil {
			p.closeBinding(b)
			return nil, err
		}
	}
	_ = p.log.Log("LEVEL", "INFO", "MESSAGE", fmt.Sprintf("Bound %s pool to %s", p.role, addr))
	return b, nil
}

func (p *Pool) clientOptions(addr sentinel.Addr) *redis.Options {
	target := addr.String()
	dialer := &net.Dialer{
		Timeout:   p.opt.DialTimeout,
		KeepAlive: p.opt.TCPKeepAlive,
	}
	return &redis.Options{
		Addr: target,
		Dialer: func() (net.Conn, error) {
			return dialer.Dial("tcp", target)
		},
		Password:     p.password,
		DB:           p.opt.DB,
		MaxRetries:   p.opt.MaxRetries,
		DialTimeout:  p.opt.DialTimeout,
		ReadTimeout:  p.opt.ReadTimeout,
		WriteTimeout: p.opt.WriteTimeout,
		PoolSize:     p.opt.PoolSize,
		IdleTimeout:  p.opt.IdleTimeout,
	}
}

// roleErrorPrefixes are error replies that mean the node no longer serves
// the role it was resolved for.
var roleErrorPrefixes = []string{"READONLY ", "MASTERDOWN ", "LOADING "}

// isBindingError reports whether err should unbind the pool.
func isBindingError(err error) bool {
	if err == nil || err == redis.Nil {
		return false
	}
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return true
	}
	if _, ok := err.(net.Error); ok {
		return true
	}
	msg := err.Error()
	for _, prefix := range roleErrorPrefixes {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}
