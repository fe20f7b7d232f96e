// Package redistest implements support code for testing with Redis.
//
// Servers are in-memory and a fake set of monitors describes how they are
// arranged, so tests can stage failovers and outages.
package redistest

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/rwool/twiceredis/pkg/internal/sentinelmock"
	"github.com/rwool/twiceredis/pkg/twice"
)

// Group is the service group name used by Topology.
const Group = "mymaster"

// Password is required by every server started by NewTopology.
const Password = "dobbyd0llars"

// Monitors are the monitor endpoints reported to clients. They are never
// dialed over the network.
var Monitors = []string{"sentinel-a:26379", "sentinel-b:26379", "sentinel-c:26379"}

// Start starts an in-memory Redis server that is closed when the test ends.
func Start(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	m, err := miniredis.Run()
	require.NoError(t, err, "Should start in-memory Redis.")
	t.Cleanup(m.Close)
	return m
}

// Topology is a primary and its secondaries as reported by fake monitors.
type Topology struct {
	Monitors    *sentinelmock.Cluster
	Primary     *miniredis.Miniredis
	Secondaries []*miniredis.Miniredis
}

// NewTopology starts a primary and n secondaries and registers them with a
// fresh set of monitors.
func NewTopology(t *testing.T, n int) *Topology {
	t.Helper()
	tp := &Topology{Monitors: sentinelmock.New()}
	tp.Primary = Start(t)
	tp.Primary.RequireAuth(Password)
	for i := 0; i < n; i++ {
		s := Start(t)
		s.RequireAuth(Password)
		tp.Secondaries = append(tp.Secondaries, s)
	}
	tp.publish()
	return tp
}

func (tp *Topology) publish() {
	tp.Monitors.SetPrimary(Group, tp.Primary.Addr())
	var replicas []sentinelmock.Replica
	for _, s := range tp.Secondaries {
		replicas = append(replicas, sentinelmock.Healthy(s.Addr()))
	}
	tp.Monitors.SetReplicas(Group, replicas...)
}

// Failover promotes the secondary at index i. The old primary becomes a
// secondary in its place.
func (tp *Topology) Failover(i int) {
	tp.Primary, tp.Secondaries[i] = tp.Secondaries[i], tp.Primary
	tp.publish()
}

// ReplacePrimary starts a new, empty primary and publishes it in place of
// the current one, which should already be closed. Closed servers are
// replaced rather than restarted, as a restarted server answers blocking
// commands at once with an empty reply.
func (tp *Topology) ReplacePrimary(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	tp.Primary = Start(t)
	tp.Primary.RequireAuth(Password)
	tp.publish()
	return tp.Primary
}

// SetMonitorsDown makes every monitor unreachable, or reachable again.
func (tp *Topology) SetMonitorsDown(down bool) {
	for _, m := range Monitors {
		tp.Monitors.SetDown(m, down)
	}
}

// Options returns client options pointing at the topology's monitors.
func (tp *Topology) Options() twice.Options {
	return twice.Options{
		ServiceName:   Group,
		Monitors:      Monitors,
		Password:      Password,
		Seed:          1,
		MonitorDialer: tp.Monitors.Dial,
		Pool: &twice.PoolOptions{
			DialTimeout:  time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
			PoolSize:     4,
		},
	}
}

// Client returns a client for the topology that is disconnected when the
// test ends.
func (tp *Topology) Client(t *testing.T) *twice.Client {
	t.Helper()
	c, err := twice.New(tp.Options())
	require.NoError(t, err, "Should create client.")
	t.Cleanup(func() { _ = c.Disconnect() })
	return c
}
