// Package config loads the settings of the twiceredis command.
//
// Values come from an optional YAML file and from TWICEREDIS_* environment
// variables, which take precedence. Nested keys use an underscore in the
// variable name, so pool.pool_size is read from TWICEREDIS_POOL_POOL_SIZE.
// Anything left unset takes its value from Default; a key set to zero stays
// zero.
package config

import (
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/rwool/twiceredis/pkg/listener"
	"github.com/rwool/twiceredis/pkg/service/queue"
	"github.com/rwool/twiceredis/pkg/twice"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "TWICEREDIS"

// Config contains all of the configuration for running the command.
type Config struct {
	ServiceName string   `mapstructure:"service_name"`
	Monitors    []string `mapstructure:"monitors"`
	Password    string   `mapstructure:"password"`
	Seed        int64    `mapstructure:"seed"`
	LogFormat   string   `mapstructure:"log_format"`

	Pool     Pool     `mapstructure:"pool"`
	Monitor  Monitor  `mapstructure:"monitor"`
	Listener Listener `mapstructure:"listener"`
	HTTP     HTTP     `mapstructure:"http"`
}

// Pool mirrors twice.PoolOptions.
type Pool struct {
	DB              int           `mapstructure:"db"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	TCPKeepAlive    time.Duration `mapstructure:"tcp_keep_alive"`
	PoolSize        int           `mapstructure:"pool_size"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	CheckConnection bool          `mapstructure:"check_connection"`
}

// Monitor mirrors twice.MonitorOptions.
type Monitor struct {
	MinOtherMonitors int           `mapstructure:"min_other_monitors"`
	DialTimeout      time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
}

// Listener configures the listen command.
type Listener struct {
	Queue            string        `mapstructure:"queue"`
	ProcessingSuffix string        `mapstructure:"processing_suffix"`
	ReadTime         time.Duration `mapstructure:"read_time"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	MaxRetryDelay    time.Duration `mapstructure:"max_retry_delay"`
}

// HTTP configures the admin and metrics server.
type HTTP struct {
	Address string `mapstructure:"address"`
}

// keys are bound to environment variables. Viper only looks up variables
// for keys it knows about.
var keys = []string{
	"service_name", "monitors", "password", "seed", "log_format",
	"pool.db", "pool.dial_timeout", "pool.read_timeout", "pool.write_timeout",
	"pool.tcp_keep_alive", "pool.pool_size", "pool.idle_timeout",
	"pool.max_retries", "pool.check_connection",
	"monitor.min_other_monitors", "monitor.dial_timeout", "monitor.read_timeout",
	"listener.queue", "listener.processing_suffix", "listener.read_time",
	"listener.retry_delay", "listener.max_retry_delay",
	"http.address",
}

// Default returns the values used for anything not configured.
func Default() Config {
	p := twice.DefaultPoolOptions()
	m := twice.DefaultMonitorOptions()
	return Config{
		LogFormat: "json",
		Pool: Pool{
			DialTimeout:  p.DialTimeout,
			ReadTimeout:  p.ReadTimeout,
			WriteTimeout: p.WriteTimeout,
			TCPKeepAlive: p.TCPKeepAlive,
			PoolSize:     p.PoolSize,
			IdleTimeout:  p.IdleTimeout,
		},
		Monitor: Monitor{
			DialTimeout: m.DialTimeout,
			ReadTimeout: m.ReadTimeout,
		},
		Listener: Listener{
			ProcessingSuffix: listener.DefaultProcessingSuffix,
			ReadTime:         listener.DefaultReadTime,
			RetryDelay:       listener.DefaultRetryDelay,
			MaxRetryDelay:    listener.DefaultMaxRetryDelay,
		},
		HTTP: HTTP{Address: "0.0.0.0:8080"},
	}
}

// Load reads the file at path, if path is not empty, and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return nil, errors.Wrapf(err, "unable to bind %s", k)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "unable to read config file %s", path)
		}
	}

	// Only keys that were set are decoded, so the defaults survive for the
	// rest.
	c := Default()
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "unable to decode config")
	}
	return &c, nil
}

// Override replaces the values in c with the non-zero values in o, such as
// those given as command line flags.
func (c *Config) Override(o Config) error {
	return errors.Wrap(mergo.Merge(c, o, mergo.WithOverride), "unable to apply overrides")
}

// Validate checks that the settings every command needs are present.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return twice.ErrNoServiceName
	}
	if len(c.Monitors) == 0 {
		return errors.New("no monitors configured")
	}
	return nil
}

// ClientOptions converts c to options for twice.New.
func (c *Config) ClientOptions(l log.Logger) twice.Options {
	return twice.Options{
		ServiceName: c.ServiceName,
		Monitors:    c.Monitors,
		Password:    c.Password,
		Seed:        c.Seed,
		Log:         l,
		Pool: &twice.PoolOptions{
			DB:              c.Pool.DB,
			DialTimeout:     c.Pool.DialTimeout,
			ReadTimeout:     c.Pool.ReadTimeout,
			WriteTimeout:    c.Pool.WriteTimeout,
			TCPKeepAlive:    c.Pool.TCPKeepAlive,
			PoolSize:        c.Pool.PoolSize,
			IdleTimeout:     c.Pool.IdleTimeout,
			MaxRetries:      c.Pool.MaxRetries,
			CheckConnection: c.Pool.CheckConnection,
		},
		Monitor: &twice.MonitorOptions{
			MinOtherMonitors: c.Monitor.MinOtherMonitors,
			DialTimeout:      c.Monitor.DialTimeout,
			ReadTimeout:      c.Monitor.ReadTimeout,
		},
	}
}

// ListenerConfig converts c to a listener.Config consuming from q.
func (c *Config) ListenerConfig(q queue.Queue, l log.Logger) listener.Config {
	return listener.Config{
		Queue:            q,
		QueueKey:         c.Listener.Queue,
		ProcessingSuffix: c.Listener.ProcessingSuffix,
		ReadTime:         c.Listener.ReadTime,
		RetryDelay:       c.Listener.RetryDelay,
		MaxRetryDelay:    c.Listener.MaxRetryDelay,
		Log:              l,
	}
}
