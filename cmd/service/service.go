package service

import (
	"context"
	"fmt"
	"io"
	"net"
	gohttp "net/http"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/rwool/twiceredis/pkg/config"
	"github.com/rwool/twiceredis/pkg/endpoint"
	"github.com/rwool/twiceredis/pkg/http"
	"github.com/rwool/twiceredis/pkg/listener"
	"github.com/rwool/twiceredis/pkg/service"
	"github.com/rwool/twiceredis/pkg/service/queue"
	"github.com/rwool/twiceredis/pkg/twice"
)

// MetricsNamespace prefixes every exported metric.
const MetricsNamespace = "twiceredis"

// NewLogger returns a logger writing to w in format, "json" or "logfmt".
func NewLogger(format string, w io.Writer) (log.Logger, error) {
	var l log.Logger
	switch format {
	case "", "json":
		l = log.NewJSONLogger(log.NewSyncWriter(w))
	case "logfmt":
		l = log.NewLogfmtLogger(log.NewSyncWriter(w))
	default:
		return nil, errors.Errorf("unknown log format %q", format)
	}
	return log.With(l, "ts", log.DefaultTimestampUTC), nil
}

// Dependencies are the objects built from a Config that every command
// shares.
type Dependencies struct {
	Client *twice.Client
	Write  queue.Queue
	Read   queue.Queue
	Queue  service.QueueService
}

// Setup connects to the configured service group. No connection is made
// until the first command is sent.
func Setup(c *config.Config, l log.Logger) (*Dependencies, error) {
	if err := c.Validate(); err != nil {
		return nil, errors.WithStack(err)
	}
	client, err := twice.New(c.ClientOptions(l))
	if err != nil {
		return nil, errors.Wrap(err, "unable to create client")
	}
	d := &Dependencies{
		Client: client,
		Write:  queue.NewRedisAdapter(client.Write()),
		Read:   queue.NewRedisAdapter(client.Read()),
	}
	d.Queue = service.NewQueueService(service.QueueServiceConfig{
		Write:            d.Write,
		Read:             d.Read,
		ProcessingSuffix: c.Listener.ProcessingSuffix,
		Log:              l,
	})
	return d, nil
}

// Close disconnects both roles.
func (d *Dependencies) Close(l log.Logger) {
	if err := d.Client.Disconnect(); err != nil {
		_ = l.Log("LEVEL", "WARN", "MESSAGE", err.Error())
	}
}

// Run runs the listener and the admin HTTP server until ctx is done.
//
// Note that the admin server shares the listener's client, so a failover
// seen by one is seen by the other.
func Run(ctx context.Context, c *config.Config, l log.Logger) error {
	if c.Listener.Queue == "" {
		return listener.ErrNoQueueKey
	}
	d, err := Setup(c, l)
	if err != nil {
		return err
	}
	defer d.Close(l)

	// Endpoints.
	endpoints := endpoint.MakeEndpoints(d.Queue)
	receive := endpoint.MakeReceiveEndpoint(service.NewMessageService(l), c.Listener.Queue)

	// Transports.
	m := gohttp.NewServeMux()
	m.Handle("/metrics", promhttp.Handler())
	m.Handle("/", http.NewAPIHTTPHandler(endpoints, nil))
	server, err := serveHTTP(c.HTTP.Address, m)
	if err != nil {
		return err
	}

	metrics := listener.NewPrometheusMetrics(MetricsNamespace)
	lc := c.ListenerConfig(d.Write, l)
	lc.Metrics = &metrics
	lc.Handler = listener.EndpointHandler(receive)
	lst, err := listener.New(lc)
	if err != nil {
		return errors.WithStack(err)
	}

	// Message loops.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server(gctx, l)
	})
	g.Go(func() error {
		err := lst.Listen(gctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
	return g.Wait()
}

func serveHTTP(address string, h gohttp.Handler) (func(context.Context, log.Logger) error, error) {
	// Separate listening and serving to capture listen errors.
	l, err := net.Listen("tcp", address)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create TCP listener")
	}

	return func(ctx context.Context, logger log.Logger) error {
		s := &gohttp.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.Shutdown(sctx); err != nil {
				_ = logger.Log("LEVEL", "WARN", "MESSAGE", err.Error())
			}
		}()
		_ = logger.Log("LEVEL", "INFO", "MESSAGE", fmt.Sprintf("Serving HTTP on %s", l.Addr()))
		err := s.Serve(l)
		if err == gohttp.ErrServerClosed {
			return nil
		}
		return errors.Wrap(err, "HTTP server stopped")
	}, nil
}
