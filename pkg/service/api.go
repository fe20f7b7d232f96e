package service

import (
	"context"
	"fmt"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/rwool/twiceredis/pkg/listener"
	"github.com/rwool/twiceredis/pkg/service/queue"
)

var (
	// ErrNoQueue is returned when a request does not name a queue.
	ErrNoQueue = errors.New("missing queue name")
	// ErrNoValues is returned when a publish request carries no values.
	ErrNoValues = errors.New("no values to publish")
)

// QueueService is the user accessible service for inspecting and feeding
// queues consumed by listeners.
type QueueService interface {
	Publish(ctx context.Context, queueKey string, values []string) (int64, error)
	Depth(ctx context.Context, queueKey string) (Depth, error)
	Requeue(ctx context.Context, queueKey string) (int, error)
}

// Depth is how many messages wait in a queue and how many were taken by a
// listener without being acknowledged.
type Depth struct {
	Queue      string `json:"queue"`
	Pending    int64  `json:"pending"`
	Processing int64  `json:"processing"`
}

// QueueServiceConfig contains the configuration for a QueueService.
type QueueServiceConfig struct {
	// Write must be backed by the primary.
	Write queue.Queue
	// Read may be backed by a secondary. Depths read from it can lag
	// behind writes.
	Read queue.Queue

	ProcessingSuffix string
	Log              log.Logger
}

type queueService struct {
	write  queue.Queue
	read   queue.Queue
	suffix string
	l      log.Logger
}

// NewQueueService returns a QueueService.
func NewQueueService(conf QueueServiceConfig) QueueService {
	if conf.Read == nil {
		conf.Read = conf.Write
	}
	if conf.ProcessingSuffix == "" {
		conf.ProcessingSuffix = listener.DefaultProcessingSuffix
	}
	if conf.Log == nil {
		conf.Log = log.NewNopLogger()
	}
	return &queueService{
		write:  conf.Write,
		read:   conf.Read,
		suffix: conf.ProcessingSuffix,
		l:      conf.Log,
	}
}

// Publish pushes values onto the queue in order and returns the queue's new
// length.
func (s *queueService) Publish(ctx context.Context, queueKey string, values []string) (int64, error) {
	if queueKey == "" {
		return 0, ErrNoQueue
	}
	if len(values) == 0 {
		return 0, ErrNoValues
	}
	n, err := s.write.Push(ctx, queueKey, values...)
	if err != nil {
		return 0, errors.Wrapf(err, "unable to publish to %q", queueKey)
	}
	_ = s.l.Log("LEVEL", "DEBUG", "MESSAGE", fmt.Sprintf("Published %d messages on %s", len(values), queueKey))
	return n, nil
}

// Depth reports the lengths of the queue and its processing list.
func (s *queueService) Depth(ctx context.Context, queueKey string) (Depth, error) {
	d := Depth{Queue: queueKey}
	if queueKey == "" {
		return d, ErrNoQueue
	}
	var err error
	if d.Pending, err = s.read.Len(ctx, queueKey); err != nil {
		return d, errors.Wrapf(err, "unable to get length of %q", queueKey)
	}
	processing := listener.ProcessingKey(queueKey, s.suffix)
	if d.Processing, err = s.read.Len(ctx, processing); err != nil {
		return d, errors.Wrapf(err, "unable to get length of %q", processing)
	}
	return d, nil
}

// Requeue moves unacknowledged messages back onto the queue.
func (s *queueService) Requeue(ctx context.Context, queueKey string) (int, error) {
	if queueKey == "" {
		return 0, ErrNoQueue
	}
	l, err := listener.New(listener.Config{
		Queue:            s.write,
		QueueKey:         queueKey,
		ProcessingSuffix: s.suffix,
		Log:              s.l,
	})
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return l.Requeue(ctx)
}
