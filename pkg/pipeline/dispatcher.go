package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/registrykit/mastr-fetch/pkg/logging"
)

// Prometheus metrics for batch dispatching.
var (
	batchesDispatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mastr_batches_dispatched_total",
		Help: "Total data batches enqueued by the dispatcher",
	})

	identifiersDispatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mastr_identifiers_dispatched_total",
		Help: "Total identifiers read from sources and enqueued",
	})
)

// Dispatcher partitions an identifier source into batches and feeds the
// bounded work queue. The queue send blocks when the queue is full;
// that blocking is the backpressure bound on in-flight identifiers
// (queue capacity × batch size).
type Dispatcher struct {
	queue     chan<- Message
	batchSize int
	workers   int
	token     *Token
	logger    zerolog.Logger
}

// NewDispatcher creates a dispatcher feeding queue for the given number
// of workers.
func NewDispatcher(queue chan<- Message, batchSize, workers int, token *Token) *Dispatcher {
	return &Dispatcher{
		queue:     queue,
		batchSize: batchSize,
		workers:   workers,
		token:     token,
		logger:    logging.NewLogger("dispatcher"),
	}
}

// Run reads the source to exhaustion, enqueuing batches of at most the
// configured size in source order, then enqueues exactly one shutdown
// sentinel per worker. On a stop request it stops producing and returns
// without sentinels; the workers are already observing the token.
// Source read errors are fatal and returned as-is.
func (d *Dispatcher) Run(src *Source) error {
	for {
		if d.token.State() != Running {
			d.logger.Info().Msg("Stop requested, no further batches")
			return nil
		}

		batch, err := src.ReadBatch(d.batchSize)
		if err != nil {
			return err
		}

		if len(batch) > 0 {
			select {
			case d.queue <- DataMessage(batch):
				batchesDispatchedTotal.Inc()
				identifiersDispatchedTotal.Add(float64(len(batch)))
			case <-d.token.Stopping():
				d.logger.Info().Msg("Stop requested while enqueuing, no further batches")
				return nil
			}
		}

		if src.Exhausted() {
			break
		}
	}

	for i := 0; i < d.workers; i++ {
		select {
		case d.queue <- ShutdownMessage():
		case <-d.token.Stopping():
			d.logger.Info().Msg("Stop requested while signalling shutdown")
			return nil
		}
	}

	d.logger.Info().Str("source", src.Path()).Msg("Source exhausted, shutdown sentinels enqueued")
	return nil
}
