package twice

import (
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/rwool/twiceredis/pkg/sentinel"
)

// ErrNoServiceName is returned by New when Options.ServiceName is empty.
var ErrNoServiceName = errors.New("missing service name")

// Options configures a Client.
type Options struct {
	// ServiceName is the name the monitors know the primary/secondary set by.
	ServiceName string

	// Monitors lists the monitor endpoints as host:port. They are shuffled
	// once when the Client is created.
	Monitors []string

	// Password authenticates both store and monitor connections.
	Password string

	// Pool replaces DefaultPoolOptions as a whole when non-nil.
	Pool *PoolOptions

	// Monitor replaces DefaultMonitorOptions as a whole when non-nil.
	Monitor *MonitorOptions

	// Seed makes monitor shuffling and secondary selection deterministic.
	// Zero uses the clock.
	Seed int64

	Log log.Logger

	// MonitorDialer overrides how monitor connections are opened.
	MonitorDialer sentinel.Dialer
}

// PoolOptions is passed through to each store connection pool.
type PoolOptions struct {
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	TCPKeepAlive time.Duration
	PoolSize     int
	IdleTimeout  time.Duration
	MaxRetries   int

	// CheckConnection pings a freshly resolved address before using it.
	CheckConnection bool
}

// DefaultPoolOptions returns the pool options used when Options.Pool is nil.
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		TCPKeepAlive: 3 * time.Second,
		PoolSize:     10,
		IdleTimeout:  5 * time.Minute,
	}
}

// MonitorOptions is passed through to monitor connections and discovery.
type MonitorOptions struct {
	MinOtherMonitors int
	DialTimeout      time.Duration
	ReadTimeout      time.Duration
}

// DefaultMonitorOptions returns the monitor options used when
// Options.Monitor is nil.
func DefaultMonitorOptions() MonitorOptions {
	return MonitorOptions{
		DialTimeout: 5 * time.Second,
		ReadTimeout: 5 * time.Second,
	}
}

func (o Options) poolOptions() PoolOptions {
	if o.Pool == nil {
		return DefaultPoolOptions()
	}
	return *o.Pool
}

func (o Options) monitorOptions() MonitorOptions {
	if o.Monitor == nil {
		return DefaultMonitorOptions()
	}
	return *o.Monitor
}
