package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/kit/log"
	"github.com/spf13/cobra"

	"github.com/rwool/twiceredis/cmd/service"
	"github.com/rwool/twiceredis/pkg/config"
)

type rootFlags struct {
	configFile string
	logFormat  string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f rootFlags
	rootCmd := &cobra.Command{
		Use:           "twiceredis",
		Short:         "Reliable Redis list queues behind Sentinel",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&f.configFile, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&f.logFormat, "log-format", "", "log format: json or logfmt")

	rootCmd.AddCommand(
		newListenCmd(&f),
		newPushCmd(&f),
		newDepthCmd(&f),
		newRequeueCmd(&f),
	)
	return rootCmd
}

// load reads the config, applies the values given as flags and builds the
// logger. Errors are logged before being returned.
func load(f *rootFlags, flags config.Config) (*config.Config, log.Logger, error) {
	fallback := log.NewJSONLogger(log.NewSyncWriter(os.Stderr))
	c, err := config.Load(f.configFile)
	if err == nil {
		flags.LogFormat = f.logFormat
		err = c.Override(flags)
	}
	if err != nil {
		_ = fallback.Log("LEVEL", "ERROR", "MESSAGE", err.Error())
		return nil, nil, err
	}
	l, err := service.NewLogger(c.LogFormat, os.Stderr)
	if err != nil {
		_ = fallback.Log("LEVEL", "ERROR", "MESSAGE", err.Error())
		return nil, nil, err
	}
	return c, l, nil
}

func logged(l log.Logger, err error) error {
	if err != nil {
		_ = l.Log("LEVEL", "ERROR", "MESSAGE", err.Error())
	}
	return err
}

func newListenCmd(f *rootFlags) *cobra.Command {
	var flags config.Config
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Handle messages from a queue and serve the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, l, err := load(f, flags)
			if err != nil {
				return err
			}
			return logged(l, service.Run(cmd.Context(), c, l))
		},
	}
	cmd.Flags().StringVarP(&flags.Listener.Queue, "queue", "q", "", "queue to listen on")
	cmd.Flags().StringVar(&flags.HTTP.Address, "http-address", "", "address of the admin and metrics server")
	return cmd
}

// withQueueService runs fn against a QueueService built from the config and
// prints its result as JSON.
func withQueueService(cmd *cobra.Command, f *rootFlags, fn func(context.Context, *service.Dependencies) (interface{}, error)) error {
	c, l, err := load(f, config.Config{})
	if err != nil {
		return err
	}
	d, err := service.Setup(c, l)
	if err != nil {
		return logged(l, err)
	}
	defer d.Close(l)

	v, err := fn(cmd.Context(), d)
	if err != nil {
		return logged(l, err)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	return logged(l, enc.Encode(v))
}

func newPushCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "push QUEUE VALUE...",
		Short: "Push values onto a queue",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueueService(cmd, f, func(ctx context.Context, d *service.Dependencies) (interface{}, error) {
				n, err := d.Queue.Publish(ctx, args[0], args[1:])
				return map[string]int64{"length": n}, err
			})
		},
	}
}

func newDepthCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "depth QUEUE",
		Short: "Show how many messages are pending and unacknowledged",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueueService(cmd, f, func(ctx context.Context, d *service.Dependencies) (interface{}, error) {
				return d.Queue.Depth(ctx, args[0])
			})
		},
	}
}

func newRequeueCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue QUEUE",
		Short: "Move unacknowledged messages back onto a queue",
		Long: "Move every message in the processing list of QUEUE back onto QUEUE.\n\n" +
			"Only run this while no listener is consuming QUEUE; a message being\n" +
			"handled when it runs can be handled twice.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueueService(cmd, f, func(ctx context.Context, d *service.Dependencies) (interface{}, error) {
				n, err := d.Queue.Requeue(ctx, args[0])
				return map[string]int{"requeued": n}, err
			})
		},
	}
}
