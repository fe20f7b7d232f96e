// Package sentinel resolves the current primary and the healthy secondaries
// of a monitored service group by querying a set of monitor nodes.
//
// Connections to monitors are opened for a single query and closed again
// before the resolver moves on or returns, so a resolver never holds more
// than one monitor connection and never keeps one between calls.
package sentinel

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
)

var (
	// ErrNoEndpoints is returned when a resolver is built without monitors.
	ErrNoEndpoints = errors.New("no monitor endpoints")

	// ErrDiscoveryUnavailable is the cause of every failed resolution: no
	// monitor was reachable, or none could name a usable address.
	ErrDiscoveryUnavailable = errors.New("discovery unavailable")
)

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	// Dialer opens monitor connections. Required.
	Dialer Dialer

	// MinOtherMonitors is the number of other monitors a monitor must know
	// about for its primary report to be trusted.
	MinOtherMonitors int

	// Seed seeds the one-time shuffle of the endpoints. Zero uses the clock.
	Seed int64

	Log log.Logger
}

// Resolver finds addresses for a service group through monitor nodes.
//
// The endpoint list is shuffled once at construction so that different
// resolvers spread their load while one resolver keeps favouring the same
// monitor. A monitor that answers is moved to the front of the list.
//
// Resolver never retries or sleeps; callers own retry policy.
type Resolver struct {
	dial     Dialer
	minOther int
	log      log.Logger

	mu        sync.Mutex
	endpoints []string
	rnd       *rand.Rand
}

// NewResolver returns a Resolver over a shuffled copy of endpoints.
func NewResolver(endpoints []string, opt ResolverOptions) (*Resolver, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	if opt.Dialer == nil {
		return nil, errors.New("nil monitor dialer")
	}
	seed := opt.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	l := opt.Log
	if l == nil {
		l = log.NewNopLogger()
	}

	r := &Resolver{
		dial:      opt.Dialer,
		minOther:  opt.MinOtherMonitors,
		log:       l,
		endpoints: append([]string(nil), endpoints...),
		rnd:       rand.New(rand.NewSource(seed)),
	}
	r.rnd.Shuffle(len(r.endpoints), func(i, j int) {
		r.endpoints[i], r.endpoints[j] = r.endpoints[j], r.endpoints[i]
	})
	return r, nil
}

// Endpoints returns the monitors in the order they will be tried.
func (r *Resolver) Endpoints() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.endpoints...)
}

// Intn returns a pseudo-random number in [0, n) from the resolver's seeded
// source.
func (r *Resolver) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Intn(n)
}

// ResolvePrimary asks the monitors for the current primary of group.
func (r *Resolver) ResolvePrimary(ctx context.Context, group string) (Addr, error) {
	var lastErr error
	for _, ep := range r.Endpoints() {
		if err := ctx.Err(); err != nil {
			return Addr{}, errors.WithStack(err)
		}
		addr, err := r.queryPrimary(ctx, ep, group)
		if err != nil {
			_ = r.log.Log("LEVEL", "WARN", "MESSAGE", fmt.Sprintf("Monitor %s could not resolve primary for %s: %s", ep, group, err))
			lastErr = err
			continue
		}
		r.promote(ep)
		return addr, nil
	}
	return Addr{}, unavailable(RolePrimary, group, lastErr)
}

// ResolveSecondaries asks the monitors for the healthy secondaries of group.
//
// A secondary is healthy when it is neither subjectively nor objectively
// down and its replication link to the primary is "ok". The first monitor
// that reports at least one healthy secondary wins.
func (r *Resolver) ResolveSecondaries(ctx context.Context, group string) ([]Addr, error) {
	var lastErr error
	for _, ep := range r.Endpoints() {
		if err := ctx.Err(); err != nil {
			return nil, errors.WithStack(err)
		}
		addrs, err := r.querySecondaries(ctx, ep, group)
		if err == nil && len(addrs) == 0 {
			err = errors.Errorf("no healthy secondaries reported for %s", group)
		}
		if err != nil {
			_ = r.log.Log("LEVEL", "WARN", "MESSAGE", fmt.Sprintf("Monitor %s could not resolve secondaries for %s: %s", ep, group, err))
			lastErr = err
			continue
		}
		r.promote(ep)
		return addrs, nil
	}
	return nil, unavailable(RoleSecondary, group, lastErr)
}

func (r *Resolver) queryPrimary(ctx context.Context, ep, group string) (Addr, error) {
	var state map[string]string
	err := r.withMonitor(ctx, ep, func(c MonitorConn) error {
		var err error
		state, err = c.Master(ctx, group)
		return err
	})
	if err != nil {
		return Addr{}, err
	}
	return primaryFromState(state, r.minOther)
}

func (r *Resolver) querySecondaries(ctx context.Context, ep, group string) ([]Addr, error) {
	var states []map[string]string
	err := r.withMonitor(ctx, ep, func(c MonitorConn) error {
		var err error
		states, err = c.Replicas(ctx, group)
		return err
	})
	if err != nil {
		return nil, err
	}
	return healthySecondaries(states), nil
}

// withMonitor opens a connection to ep, runs fn and closes the connection
// before returning, whatever fn did.
func (r *Resolver) withMonitor(ctx context.Context, ep string, fn func(MonitorConn) error) error {
	c, err := r.dial(ctx, ep)
	if err != nil {
		return errors.Wrapf(err, "unable to connect to monitor %s", ep)
	}
	defer func() {
		if err := c.Close(); err != nil {
			_ = r.log.Log("LEVEL", "WARN", "MESSAGE", fmt.Sprintf("Closing monitor %s: %s", ep, err))
		}
	}()
	return fn(c)
}

// promote moves ep to the front of the endpoint list.
func (r *Resolver) promote(ep string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, v := range r.endpoints {
		if v == ep {
			r.endpoints[0], r.endpoints[i] = r.endpoints[i], r.endpoints[0]
			return
		}
	}
}

func unavailable(role Role, group string, last error) error {
	if last == nil {
		return errors.Wrapf(ErrDiscoveryUnavailable, "no %s for %q", role, group)
	}
	return errors.Wrapf(ErrDiscoveryUnavailable, "no %s for %q (last error: %s)", role, group, last)
}

func primaryFromState(state map[string]string, minOther int) (Addr, error) {
	flags := flagSet(state["flags"])
	if !flags["master"] || flags["s_down"] || flags["o_down"] {
		return Addr{}, errors.Errorf("primary is not usable (flags %q)", state["flags"])
	}
	others, err := strconv.Atoi(state["num-other-sentinels"])
	if err != nil {
		others = 0
	}
	if others < minOther {
		return Addr{}, errors.Errorf("monitor knows %d other monitors, want at least %d", others, minOther)
	}
	if state["ip"] == "" || state["port"] == "" {
		return Addr{}, errors.New("monitor reported primary without address")
	}
	return Addr{Host: state["ip"], Port: state["port"], Role: RolePrimary}, nil
}

func healthySecondaries(states []map[string]string) []Addr {
	var out []Addr
	for _, s := range states {
		flags := flagSet(s["flags"])
		if flags["s_down"] || flags["o_down"] {
			continue
		}
		if s["master-link-status"] != "ok" {
			continue
		}
		if s["ip"] == "" || s["port"] == "" {
			continue
		}
		out = append(out, Addr{Host: s["ip"], Port: s["port"], Role: RoleSecondary})
	}
	return out
}
