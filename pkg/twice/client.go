// Package twice implements a store client with two independently managed
// connection pools: writes go to the current primary and reads go to a
// healthy secondary, both discovered through monitor nodes.
//
// Neither pool connects until it is first used, and either can be
// disconnected at any time; the next use resolves an address again. This is
// how primary failover and moving reads to another secondary work without
// any special handling by callers.
package twice

import (
	"context"

	"github.com/go-kit/kit/log"
	"go.uber.org/multierr"

	"github.com/rwool/twiceredis/pkg/sentinel"
)

// Client is a read/write split store client.
type Client struct {
	name     string
	resolver *sentinel.Resolver
	write    *Pool
	read     *Pool
}

// New creates a Client. No connections are made until a pool is used.
func New(opt Options) (*Client, error) {
	if opt.ServiceName == "" {
		return nil, ErrNoServiceName
	}
	l := opt.Log
	if l == nil {
		l = log.NewNopLogger()
	}
	mopt := opt.monitorOptions()
	dialer := opt.MonitorDialer
	if dialer == nil {
		dialer = sentinel.RedisDialer(sentinel.DialOptions{
			Password:    opt.Password,
			DialTimeout: mopt.DialTimeout,
			ReadTimeout: mopt.ReadTimeout,
		})
	}

	r, err := sentinel.NewResolver(opt.Monitors, sentinel.ResolverOptions{
		Dialer:           dialer,
		MinOtherMonitors: mopt.MinOtherMonitors,
		Seed:             opt.Seed,
		Log:              log.With(l, "component", "resolver"),
	})
	if err != nil {
		return nil, err
	}

	c := &Client{name: opt.ServiceName, resolver: r}
	popt := opt.poolOptions()
	c.write = newPool(sentinel.RolePrimary, c.resolvePrimary, popt, opt.Password, log.With(l, "component", "write_pool"))
	c.read = newPool(sentinel.RoleSecondary, c.resolveSecondary, popt, opt.Password, log.With(l, "component", "read_pool"))
	return c, nil
}

// ServiceName returns the monitored service group name.
func (c *Client) ServiceName() string {
	return c.name
}

// Write returns the handle bound to the primary.
func (c *Client) Write() *Pool {
	return c.write
}

// Read returns the handle bound to a secondary.
func (c *Client) Read() *Pool {
	return c.read
}

// Primary is an alias for Write.
func (c *Client) Primary() *Pool {
	return c.write
}

// Secondary is an alias for Read.
func (c *Client) Secondary() *Pool {
	return c.read
}

// Disconnect drops the live connections of both pools. The Client remains
// usable.
func (c *Client) Disconnect() error {
	return multierr.Append(c.write.Disconnect(), c.read.Disconnect())
}

// DisconnectWrite drops the live connections of the write pool.
func (c *Client) DisconnectWrite() error {
	return c.write.Disconnect()
}

// DisconnectRead drops the live connections of the read pool.
func (c *Client) DisconnectRead() error {
	return c.read.Disconnect()
}

func (c *Client) resolvePrimary(ctx context.Context) (sentinel.Addr, error) {
	return c.resolver.ResolvePrimary(ctx, c.name)
}

// resolveSecondary picks one of the healthy secondaries at random.
func (c *Client) resolveSecondary(ctx context.Context) (sentinel.Addr, error) {
	addrs, err := c.resolver.ResolveSecondaries(ctx, c.name)
	if err != nil {
		return sentinel.Addr{}, err
	}
	return addrs[c.resolver.Intn(len(addrs))], nil
}
