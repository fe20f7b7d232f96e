package sentinel_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rwool/twiceredis/pkg/internal/sentinelmock"
	"github.com/rwool/twiceredis/pkg/sentinel"
)

const group = "mymaster"

var monitors = []string{"10.0.0.1:26379", "10.0.0.2:26379", "10.0.0.3:26379"}

func newResolver(t *testing.T, c *sentinelmock.Cluster, minOther int) *sentinel.Resolver {
	r, err := sentinel.NewResolver(monitors, sentinel.ResolverOptions{
		Dialer:           c.Dial,
		MinOtherMonitors: minOther,
		Seed:             42,
	})
	require.NoError(t, err, "Resolver should be created.")
	return r
}

func TestNewResolver(t *testing.T) {
	t.Parallel()

	t.Run("No Endpoints", func(t *testing.T) {
		t.Parallel()
		_, err := sentinel.NewResolver(nil, sentinel.ResolverOptions{Dialer: sentinelmock.New().Dial})
		assert.Equal(t, sentinel.ErrNoEndpoints, err, "Empty endpoint list should be rejected.")
	})

	t.Run("Shuffle Is Seeded", func(t *testing.T) {
		t.Parallel()
		input := []string{"a:1", "b:1", "c:1", "d:1", "e:1", "f:1"}
		opt := sentinel.ResolverOptions{Dialer: sentinelmock.New().Dial, Seed: 7}
		r1, err := sentinel.NewResolver(input, opt)
		require.NoError(t, err)
		r2, err := sentinel.NewResolver(input, opt)
		require.NoError(t, err)

		assert.Equal(t, r1.Endpoints(), r2.Endpoints(), "Same seed should give the same order.")
		assert.ElementsMatch(t, input, r1.Endpoints(), "Shuffle should be a permutation.")
		assert.Equal(t, []string{"a:1", "b:1", "c:1", "d:1", "e:1", "f:1"}, input, "Input should not be modified.")
	})
}

func TestResolvePrimary(t *testing.T) {
	t.Parallel()

	t.Run("Healthy", func(t *testing.T) {
		t.Parallel()
		c := sentinelmock.New()
		c.SetPrimary(group, "10.1.0.1:6379")
		r := newResolver(t, c, 2)

		addr, err := r.ResolvePrimary(context.Background(), group)
		require.NoError(t, err, "Primary should resolve.")
		assert.Equal(t, "10.1.0.1:6379", addr.String())
		assert.Equal(t, sentinel.RolePrimary, addr.Role)
		assert.Equal(t, 0, c.Open(), "Monitor connection should be closed after resolving.")
	})

	t.Run("Skips Unreachable Monitor", func(t *testing.T) {
		t.Parallel()
		c := sentinelmock.New()
		c.SetPrimary(group, "10.1.0.1:6379")
		r := newResolver(t, c, 0)
		order := r.Endpoints()
		c.SetDown(order[0], true)

		addr, err := r.ResolvePrimary(context.Background(), group)
		require.NoError(t, err, "Second monitor should answer.")
		assert.Equal(t, "10.1.0.1:6379", addr.String())
		assert.Equal(t, order[1], r.Endpoints()[0], "Answering monitor should be promoted.")

		_, err = r.ResolvePrimary(context.Background(), group)
		require.NoError(t, err)
		assert.Equal(t, 1, c.Dials(order[0]), "Promoted monitor should be tried first afterwards.")
	})

	t.Run("All Monitors Down", func(t *testing.T) {
		t.Parallel()
		c := sentinelmock.New()
		c.SetPrimary(group, "10.1.0.1:6379")
		for _, m := range monitors {
			c.SetDown(m, true)
		}
		r := newResolver(t, c, 0)

		_, err := r.ResolvePrimary(context.Background(), group)
		require.Error(t, err)
		assert.Equal(t, sentinel.ErrDiscoveryUnavailable, errors.Cause(err))
		for _, m := range monitors {
			assert.Equal(t, 1, c.Dials(m), "Each monitor should be tried exactly once.")
		}
	})

	t.Run("Primary Down", func(t *testing.T) {
		t.Parallel()
		c := sentinelmock.New()
		c.SetPrimaryState(group, "10.1.0.1:6379", "master,s_down", 2)
		r := newResolver(t, c, 0)

		_, err := r.ResolvePrimary(context.Background(), group)
		assert.Equal(t, sentinel.ErrDiscoveryUnavailable, errors.Cause(err))
	})

	t.Run("Too Few Other Monitors", func(t *testing.T) {
		t.Parallel()
		c := sentinelmock.New()
		c.SetPrimaryState(group, "10.1.0.1:6379", "master", 1)
		r := newResolver(t, c, 2)

		_, err := r.ResolvePrimary(context.Background(), group)
		assert.Equal(t, sentinel.ErrDiscoveryUnavailable, errors.Cause(err))
	})

	t.Run("Unknown Group", func(t *testing.T) {
		t.Parallel()
		r := newResolver(t, sentinelmock.New(), 0)
		_, err := r.ResolvePrimary(context.Background(), "nope")
		assert.Equal(t, sentinel.ErrDiscoveryUnavailable, errors.Cause(err))
	})

	t.Run("Cancelled", func(t *testing.T) {
		t.Parallel()
		c := sentinelmock.New()
		c.SetPrimary(group, "10.1.0.1:6379")
		r := newResolver(t, c, 0)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := r.ResolvePrimary(ctx, group)
		assert.Equal(t, context.Canceled, errors.Cause(err))
	})
}

func TestResolveSecondaries(t *testing.T) {
	t.Parallel()

	t.Run("Health Filtering", func(t *testing.T) {
		t.Parallel()
		c := sentinelmock.New()
		c.SetPrimary(group, "10.1.0.1:6379")
		c.SetReplicas(group,
			sentinelmock.Healthy("10.1.0.2:6379"),
			sentinelmock.Replica{Addr: "10.1.0.3:6379", Flags: "slave,s_down", LinkStatus: "ok"},
			sentinelmock.Replica{Addr: "10.1.0.4:6379", Flags: "slave,o_down", LinkStatus: "ok"},
			sentinelmock.Replica{Addr: "10.1.0.5:6379", Flags: "slave", LinkStatus: "err"},
			sentinelmock.Healthy("10.1.0.6:6379"),
		)
		r := newResolver(t, c, 0)

		addrs, err := r.ResolveSecondaries(context.Background(), group)
		require.NoError(t, err)
		var got []string
		for _, a := range addrs {
			assert.Equal(t, sentinel.RoleSecondary, a.Role)
			got = append(got, a.String())
		}
		assert.Equal(t, []string{"10.1.0.2:6379", "10.1.0.6:6379"}, got)
		assert.Equal(t, 0, c.Open())
	})

	t.Run("None Healthy", func(t *testing.T) {
		t.Parallel()
		c := sentinelmock.New()
		c.SetPrimary(group, "10.1.0.1:6379")
		c.SetReplicas(group, sentinelmock.Replica{Addr: "10.1.0.3:6379", Flags: "slave,s_down", LinkStatus: "ok"})
		r := newResolver(t, c, 0)

		_, err := r.ResolveSecondaries(context.Background(), group)
		assert.Equal(t, sentinel.ErrDiscoveryUnavailable, errors.Cause(err))
		for _, m := range monitors {
			assert.Equal(t, 1, c.Dials(m), "Every monitor should be asked before giving up.")
		}
	})
}

func TestMonitorConnectionsNeverOverlap(t *testing.T) {
	t.Parallel()
	c := sentinelmock.New()
	c.SetPrimary(group, "10.1.0.1:6379")
	c.SetReplicas(group, sentinelmock.Healthy("10.1.0.2:6379"))
	r := newResolver(t, c, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for i := 0; i < 50; i++ {
		if i%7 == 0 {
			c.SetDown(r.Endpoints()[0], true)
		}
		_, err := r.ResolvePrimary(ctx, group)
		require.NoError(t, err)
		_, err = r.ResolveSecondaries(ctx, group)
		require.NoError(t, err)
		for _, m := range monitors {
			c.SetDown(m, false)
		}
	}
	assert.Equal(t, 1, c.MaxOpen(), "At most one monitor connection should be open at a time.")
	assert.Equal(t, 0, c.Open(), "No monitor connection should outlive a resolution.")
}
