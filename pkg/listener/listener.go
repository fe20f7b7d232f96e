// Package listener implements a reliable consumer for a queue.Queue.
//
// Every message is moved atomically from the queue into a companion
// processing list before its handler runs, and only removed from that list
// once the handler has returned without error. A message is therefore never
// lost between being published and being handled, even if the process dies
// mid-way; it is left in the processing list instead. Messages left there
// are not redelivered automatically (see Listener.Requeue).
//
// One listener should own a given queue key at a time.
package listener

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/kit/endpoint"
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/rwool/twiceredis/pkg/service/queue"
)

// Defaults applied by New to zero Config fields.
const (
	DefaultProcessingSuffix = "_processing"
	DefaultReadTime         = time.Second
	DefaultRetryDelay       = 100 * time.Millisecond
	DefaultMaxRetryDelay    = 2 * time.Second
)

// ErrNoQueueKey is returned by New when Config.QueueKey is empty.
var ErrNoQueueKey = errors.New("missing queue key")

// Handler processes one message. A non-nil error leaves the message in the
// processing list.
type Handler func(ctx context.Context, message string) (interface{}, error)

// EndpointHandler adapts a Go kit endpoint to a Handler. The endpoint is
// called with the message string as its request. A response that reports a
// failure through endpoint.Failer fails the handler.
func EndpointHandler(e endpoint.Endpoint) Handler {
	return func(ctx context.Context, message string) (interface{}, error) {
		resp, err := e(ctx, message)
		if err != nil {
			return nil, err
		}
		if f, ok := resp.(endpoint.Failer); ok && f.Failed() != nil {
			return nil, f.Failed()
		}
		return resp, nil
	}
}

// LogHandler returns a Handler that logs each message and returns it.
func LogHandler(l log.Logger) Handler {
	return func(_ context.Context, message string) (interface{}, error) {
		_ = l.Log("LEVEL", "INFO", "MESSAGE", fmt.Sprintf("Received message %q", message))
		return message, nil
	}
}

// Config contains the configuration for a Listener.
type Config struct {
	// Queue provides the list primitives. Moves touch two keys, so it must
	// be backed by the primary.
	Queue queue.Queue

	QueueKey string

	// ProcessingSuffix is appended to QueueKey to name the processing list.
	ProcessingSuffix string

	// Handler defaults to LogHandler.
	Handler Handler

	// ReadTime bounds how long one Listen iteration waits for a message.
	ReadTime time.Duration

	// RetryDelay is the wait after a failed iteration. It doubles on each
	// consecutive failure up to MaxRetryDelay and resets after a success.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration

	Log     log.Logger
	Metrics *Metrics
}

// Listener consumes one queue key.
type Listener struct {
	q          queue.Queue
	key        string
	processing string
	handler    Handler
	readTime   time.Duration
	retry      time.Duration
	maxRetry   time.Duration
	log        log.Logger
	metrics    Metrics
}

// New returns a Listener for conf.
func New(conf Config) (*Listener, error) {
	if conf.Queue == nil {
		return nil, errors.New("nil queue")
	}
	if conf.QueueKey == "" {
		return nil, ErrNoQueueKey
	}
	if conf.ProcessingSuffix == "" {
		conf.ProcessingSuffix = DefaultProcessingSuffix
	}
	if conf.Log == nil {
		conf.Log = log.NewNopLogger()
	}
	if conf.Handler == nil {
		conf.Handler = LogHandler(conf.Log)
	}
	if conf.ReadTime <= 0 {
		conf.ReadTime = DefaultReadTime
	}
	if conf.RetryDelay <= 0 {
		conf.RetryDelay = DefaultRetryDelay
	}
	if conf.MaxRetryDelay < conf.RetryDelay {
		conf.MaxRetryDelay = DefaultMaxRetryDelay
		if conf.MaxRetryDelay < conf.RetryDelay {
			conf.MaxRetryDelay = conf.RetryDelay
		}
	}
	m := NopMetrics()
	if conf.Metrics != nil {
		m = *conf.Metrics
	}

	return &Listener{
		q:          conf.Queue,
		key:        conf.QueueKey,
		processing: ProcessingKey(conf.QueueKey, conf.ProcessingSuffix),
		handler:    conf.Handler,
		readTime:   conf.ReadTime,
		retry:      conf.RetryDelay,
		maxRetry:   conf.MaxRetryDelay,
		log:        log.With(conf.Log, "queue", conf.QueueKey),
		metrics:    m.with(conf.QueueKey),
	}, nil
}

// ProcessingKey names the processing list of queueKey.
func ProcessingKey(queueKey, suffix string) string {
	return queueKey + suffix
}

// QueueKey returns the key messages are consumed from.
func (l *Listener) QueueKey() string {
	return l.key
}

// ProcessingKey returns the key of the processing list.
func (l *Listener) ProcessingKey() string {
	return l.processing
}

// GetMessage handles at most one message without blocking.
//
// ok is false when the queue was empty. Store and handler errors are
// returned to the caller; retrying is up to it.
func (l *Listener) GetMessage(ctx context.Context) (result interface{}, ok bool, err error) {
	v, ok, err := l.q.Move(ctx, l.key, l.processing)
	if err != nil {
		return nil, false, errors.Wrapf(err, "unable to move message from %q", l.key)
	}
	if !ok {
		l.metrics.Empty.Add(1)
		return nil, false, nil
	}
	result, err = l.call(ctx, v)
	if err != nil {
		return nil, true, err
	}
	return result, true, l.ack(ctx, v)
}

// Listen handles messages until ctx is done, then returns ctx.Err().
//
// Each iteration waits up to the configured read time for a message. A
// handler failure, including a panic, is logged and the next iteration
// starts at once. A store failure is logged and the next iteration starts
// after a backoff delay; the store being unreachable for any length of time
// is survived this way. Messages are handled one at a time in the order
// they were moved.
func (l *Listener) Listen(ctx context.Context) error {
	_ = l.log.Log("LEVEL", "INFO", "MESSAGE", fmt.Sprintf("Listening on %s", l.key))

	var delay time.Duration
	for {
		// Check if the context is done before starting another iteration.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := l.iterate(ctx)
		if err == nil {
			delay = 0
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_ = l.log.Log("LEVEL", "ERROR", "MESSAGE", err.Error())

		delay = l.backoff(delay)
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
}

// iterate is one Listen iteration. Only store errors are returned; handler
// failures are logged here and leave the message in the processing list.
func (l *Listener) iterate(ctx context.Context) error {
	v, ok, err := l.q.BlockingMove(ctx, l.key, l.processing, l.readTime)
	if err != nil {
		return errors.Wrapf(err, "unable to move message from %q", l.key)
	}
	if !ok {
		l.metrics.Empty.Add(1)
		return nil
	}
	if _, err := l.safeCall(ctx, v); err != nil {
		_ = l.log.Log("LEVEL", "ERROR", "MESSAGE", err.Error())
		return nil
	}
	return l.ack(ctx, v)
}

// call runs the handler on v.
func (l *Listener) call(ctx context.Context, v string) (interface{}, error) {
	result, err := l.handler(ctx, v)
	if err != nil {
		l.metrics.Failed.Add(1)
		return nil, errors.Wrapf(err, "handler failed for message from %q", l.key)
	}
	return result, nil
}

// safeCall is call with handler panics turned into errors.
func (l *Listener) safeCall(ctx context.Context, v string) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			l.metrics.Failed.Add(1)
			err = errors.Errorf("handler panic for message from %q: %v", l.key, r)
		}
	}()
	return l.call(ctx, v)
}

// ack removes v from the processing list.
func (l *Listener) ack(ctx context.Context, v string) error {
	if _, err := l.q.Remove(ctx, l.processing, v); err != nil {
		return errors.Wrapf(err, "unable to acknowledge message in %q", l.processing)
	}
	l.metrics.Handled.Add(1)
	return nil
}

func (l *Listener) backoff(prev time.Duration) time.Duration {
	if prev == 0 {
		return l.retry
	}
	next := prev * 2
	if next > l.maxRetry {
		next = l.maxRetry
	}
	return next
}

// Requeue moves every message in the processing list back onto the queue,
// oldest first, and returns how many were moved.
//
// Listeners never call it themselves. Calling it while a listener is
// handling a message makes that message eligible to be handled twice.
func (l *Listener) Requeue(ctx context.Context) (int, error) {
	n := 0
	for {
		_, ok, err := l.q.Move(ctx, l.processing, l.key)
		if err != nil {
			return n, errors.Wrapf(err, "unable to requeue from %q", l.processing)
		}
		if !ok {
			break
		}
		n++
	}
	if n > 0 {
		l.metrics.Requeued.Add(float64(n))
		_ = l.log.Log("LEVEL", "INFO", "MESSAGE", fmt.Sprintf("Requeued %d messages from %s", n, l.processing))
	}
	return n, nil
}
