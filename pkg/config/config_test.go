package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rwool/twiceredis/pkg/config"
	"github.com/rwool/twiceredis/pkg/internal/queuemock"
	"github.com/rwool/twiceredis/pkg/twice"
)

const configYAML = `
service_name: mymaster
monitors:
  - 10.0.0.1:26379
  - 10.0.0.2:26379
password: dobbyd0llars
seed: 42
pool:
  pool_size: 3
  read_timeout: 250ms
  check_connection: true
monitor:
  min_other_monitors: 1
listener:
  queue: jobs
  retry_delay: 50ms
http:
  address: 127.0.0.1:9090
`

func writeConfig(t *testing.T) string {
	p := filepath.Join(t.TempDir(), "twiceredis.yaml")
	require.NoError(t, os.WriteFile(p, []byte(configYAML), 0o600))
	return p
}

func TestLoadFile(t *testing.T) {
	c, err := config.Load(writeConfig(t))
	require.NoError(t, err, "Config should load.")
	require.NoError(t, c.Validate())

	assert.Equal(t, "mymaster", c.ServiceName)
	assert.Equal(t, []string{"10.0.0.1:26379", "10.0.0.2:26379"}, c.Monitors)
	assert.Equal(t, int64(42), c.Seed)
	assert.Equal(t, 3, c.Pool.PoolSize)
	assert.Equal(t, 250*time.Millisecond, c.Pool.ReadTimeout)
	assert.True(t, c.Pool.CheckConnection)
	assert.Equal(t, 1, c.Monitor.MinOtherMonitors)
	assert.Equal(t, "jobs", c.Listener.Queue)
	assert.Equal(t, 50*time.Millisecond, c.Listener.RetryDelay)
	assert.Equal(t, "127.0.0.1:9090", c.HTTP.Address)

	// Unset values fall back to the defaults.
	def := config.Default()
	assert.Equal(t, def.Pool.DialTimeout, c.Pool.DialTimeout)
	assert.Equal(t, def.Pool.WriteTimeout, c.Pool.WriteTimeout)
	assert.Equal(t, def.Listener.ProcessingSuffix, c.Listener.ProcessingSuffix)
	assert.Equal(t, def.Listener.MaxRetryDelay, c.Listener.MaxRetryDelay)
	assert.Equal(t, "json", c.LogFormat)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("TWICEREDIS_SERVICE_NAME", "other")
	t.Setenv("TWICEREDIS_MONITORS", "a:1,b:2")
	t.Setenv("TWICEREDIS_POOL_POOL_SIZE", "7")
	t.Setenv("TWICEREDIS_LISTENER_READ_TIME", "3s")

	c, err := config.Load(writeConfig(t))
	require.NoError(t, err)
	assert.Equal(t, "other", c.ServiceName)
	assert.Equal(t, []string{"a:1", "b:2"}, c.Monitors)
	assert.Equal(t, 7, c.Pool.PoolSize)
	assert.Equal(t, 3*time.Second, c.Listener.ReadTime)
	assert.Equal(t, "dobbyd0llars", c.Password, "Values only in the file should be kept.")
}

func TestLoadWithoutFile(t *testing.T) {
	c, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, twice.ErrNoServiceName, c.Validate())

	c.ServiceName = "mymaster"
	assert.Error(t, c.Validate(), "Monitors are required.")

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err, "An explicit file that does not exist is an error.")
}

func TestConversions(t *testing.T) {
	c, err := config.Load(writeConfig(t))
	require.NoError(t, err)

	opt := c.ClientOptions(log.NewNopLogger())
	assert.Equal(t, "mymaster", opt.ServiceName)
	assert.Equal(t, c.Monitors, opt.Monitors)
	assert.Equal(t, "dobbyd0llars", opt.Password)
	require.NotNil(t, opt.Pool)
	assert.Equal(t, 3, opt.Pool.PoolSize)
	assert.True(t, opt.Pool.CheckConnection)
	require.NotNil(t, opt.Monitor)
	assert.Equal(t, 1, opt.Monitor.MinOtherMonitors)

	q := queuemock.New()
	lc := c.ListenerConfig(q, nil)
	assert.Equal(t, "jobs", lc.QueueKey)
	assert.Equal(t, "_processing", lc.ProcessingSuffix)
	assert.Equal(t, 50*time.Millisecond, lc.RetryDelay)
}

func TestExplicitZeroIsKept(t *testing.T) {
	p := filepath.Join(t.TempDir(), "zero.yaml")
	require.NoError(t, os.WriteFile(p, []byte("pool:\n  tcp_keep_alive: 0s\n  pool_size: 2\n"), 0o600))
	t.Setenv("TWICEREDIS_LISTENER_RETRY_DELAY", "0s")

	c, err := config.Load(p)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), c.Pool.TCPKeepAlive, "A key set to zero should not take the default.")
	assert.Equal(t, time.Duration(0), c.Listener.RetryDelay)
	assert.Equal(t, 2, c.Pool.PoolSize)
	assert.Equal(t, config.Default().Pool.IdleTimeout, c.Pool.IdleTimeout, "Sibling keys left unset should keep the default.")
}

func TestOverride(t *testing.T) {
	c, err := config.Load(writeConfig(t))
	require.NoError(t, err)

	var flags config.Config
	flags.Listener.Queue = "other"
	flags.LogFormat = "logfmt"
	require.NoError(t, c.Override(flags))

	assert.Equal(t, "other", c.Listener.Queue)
	assert.Equal(t, "logfmt", c.LogFormat)
	assert.Equal(t, "127.0.0.1:9090", c.HTTP.Address, "Unset flags should not override.")
	assert.Equal(t, 3, c.Pool.PoolSize)
	assert.Equal(t, "mymaster", c.ServiceName)
}
