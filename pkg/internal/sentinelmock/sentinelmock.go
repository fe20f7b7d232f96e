// Package sentinelmock provides an in-memory set of monitor nodes.
//
// Intended for testing only.
package sentinelmock

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/pkg/errors"

	"github.com/rwool/twiceredis/pkg/sentinel"
)

// Replica describes a secondary as reported by the monitors.
type Replica struct {
	Addr       string
	Flags      string
	LinkStatus string
}

// Healthy returns a replica at addr that passes health filtering.
func Healthy(addr string) Replica {
	return Replica{Addr: addr, Flags: "slave", LinkStatus: "ok"}
}

// Cluster is the shared state every fake monitor reports.
//
// It counts connections so tests can assert how many are open at once.
type Cluster struct {
	mu       sync.Mutex
	primary  map[string]map[string]string
	replicas map[string][]Replica
	down     map[string]bool
	dials    map[string]int
	open     int
	maxOpen  int
}

// New returns an empty Cluster.
func New() *Cluster {
	return &Cluster{
		primary:  make(map[string]map[string]string),
		replicas: make(map[string][]Replica),
		down:     make(map[string]bool),
		dials:    make(map[string]int),
	}
}

func splitAddr(addr string) (string, string) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		panic(err)
	}
	return host, port
}

// SetPrimary makes addr the healthy primary of group.
func (c *Cluster) SetPrimary(group, addr string) {
	c.SetPrimaryState(group, addr, "master", 2)
}

// SetPrimaryState sets the primary of group with explicit flags and the
// number of other monitors known.
func (c *Cluster) SetPrimaryState(group, addr, flags string, otherMonitors int) {
	host, port := splitAddr(addr)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.primary[group] = map[string]string{
		"name":                group,
		"ip":                  host,
		"port":                port,
		"flags":               flags,
		"num-other-sentinels": strconv.Itoa(otherMonitors),
	}
}

// SetReplicas replaces the secondaries of group.
func (c *Cluster) SetReplicas(group string, replicas ...Replica) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replicas[group] = append([]Replica(nil), replicas...)
}

// SetDown makes the monitor at endpoint unreachable (or reachable again).
func (c *Cluster) SetDown(endpoint string, down bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.down[endpoint] = down
}

// Dial implements sentinel.Dialer.
func (c *Cluster) Dial(ctx context.Context, endpoint string) (sentinel.MonitorConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dials[endpoint]++
	if c.down[endpoint] {
		return nil, errors.Errorf("dial tcp %s: connection refused", endpoint)
	}
	c.open++
	if c.open > c.maxOpen {
		c.maxOpen = c.open
	}
	return &conn{c: c, endpoint: endpoint}, nil
}

// Dials returns the number of dial attempts made to endpoint.
func (c *Cluster) Dials(endpoint string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dials[endpoint]
}

// Open returns the number of currently open monitor connections.
func (c *Cluster) Open() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// MaxOpen returns the largest number of monitor connections that were open at
// the same time.
func (c *Cluster) MaxOpen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxOpen
}

type conn struct {
	c        *Cluster
	endpoint string
	closed   bool
}

func (n *conn) check() error {
	if n.closed {
		return errors.New("use of closed monitor connection")
	}
	if n.c.down[n.endpoint] {
		return errors.Errorf("read tcp %s: connection reset by peer", n.endpoint)
	}
	return nil
}

func (n *conn) Master(_ context.Context, group string) (map[string]string, error) {
	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	if err := n.check(); err != nil {
		return nil, err
	}
	state, ok := n.c.primary[group]
	if !ok {
		return nil, errors.New("ERR No such master with that name")
	}
	out := make(map[string]string, len(state))
	for k, v := range state {
		out[k] = v
	}
	return out, nil
}

func (n *conn) Replicas(_ context.Context, group string) ([]map[string]string, error) {
	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	if err := n.check(); err != nil {
		return nil, err
	}
	if _, ok := n.c.primary[group]; !ok {
		return nil, errors.New("ERR No such master with that name")
	}
	var out []map[string]string
	for _, r := range n.c.replicas[group] {
		host, port := splitAddr(r.Addr)
		out = append(out, map[string]string{
			"ip":                 host,
			"port":               port,
			"flags":              r.Flags,
			"master-link-status": r.LinkStatus,
		})
	}
	return out, nil
}

func (n *conn) Close() error {
	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	n.c.open--
	return nil
}
