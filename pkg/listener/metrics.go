package listener

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	kitprometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

// Metrics are the counters a Listener reports. Each counter is labelled
// with the queue key.
type Metrics struct {
	Handled  metrics.Counter
	Failed   metrics.Counter
	Empty    metrics.Counter
	Requeued metrics.Counter
}

// NopMetrics returns Metrics that discard everything.
func NopMetrics() Metrics {
	return Metrics{
		Handled:  discard.NewCounter(),
		Failed:   discard.NewCounter(),
		Empty:    discard.NewCounter(),
		Requeued: discard.NewCounter(),
	}
}

// NewPrometheusMetrics registers the listener counters with the default
// Prometheus registry. Call it once per process.
func NewPrometheusMetrics(namespace string) Metrics {
	counter := func(name, help string) metrics.Counter {
		return kitprometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      name,
			Help:      help,
		}, []string{"queue"})
	}
	return Metrics{
		Handled:  counter("messages_handled_total", "Messages handled and acknowledged."),
		Failed:   counter("messages_failed_total", "Messages whose handler failed; they stay in the processing list."),
		Empty:    counter("empty_polls_total", "Polls that found no message."),
		Requeued: counter("messages_requeued_total", "Messages moved from the processing list back to the queue."),
	}
}

func (m Metrics) with(queueKey string) Metrics {
	return Metrics{
		Handled:  m.Handled.With("queue", queueKey),
		Failed:   m.Failed.With("queue", queueKey),
		Empty:    m.Empty.With("queue", queueKey),
		Requeued: m.Requeued.With("queue", queueKey),
	}
}
