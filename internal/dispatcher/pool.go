package dispatcher

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/taskstatus/internal/messaging"
	"example.com/backstage/services/taskstatus/internal/metrics"
	"example.com/backstage/services/taskstatus/internal/models"
)

// ErrPoolClosed is returned by Pool.Dispatch after Close
var ErrPoolClosed = errors.New("dispatch pool closed")

// EventHandler is what the pool runs on its workers
type EventHandler interface {
	Dispatch(ctx context.Context, kind models.EventKind, payload []byte)
}

type job struct {
	ctx     context.Context
	kind    models.EventKind
	payload []byte
	done    chan struct{}
}

// Pool routes events to a fixed set of workers by item uid so that events for
// the same item run one at a time in arrival order
type Pool struct {
	handler EventHandler
	metrics *metrics.Metrics
	queues  []chan job
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewPool starts workers goroutines, each with a queue of queueSize
func NewPool(handler EventHandler, workers, queueSize int, m *metrics.Metrics) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if m == nil {
		m = metrics.NewMetrics()
	}

	p := &Pool{
		handler: handler,
		metrics: m,
		queues:  make([]chan job, workers),
	}
	for i := range p.queues {
		p.queues[i] = make(chan job, queueSize)
		p.wg.Add(1)
		go p.work(p.queues[i])
	}

	log.Info().Int("workers", workers).Int("queue_size", queueSize).Msg("dispatch pool started")
	return p
}

func (p *Pool) work(queue <-chan job) {
	defer p.wg.Done()

	for j := range queue {
		// the caller gave up, its message will be redelivered
		if j.ctx.Err() != nil {
			p.metrics.IncrementCounter(metrics.Name(metrics.EventsDropped, string(j.kind)))
			close(j.done)
			continue
		}

		p.metrics.AddGauge(metrics.PoolInFlight, 1)
		p.handler.Dispatch(j.ctx, j.kind, j.payload)
		p.metrics.AddGauge(metrics.PoolInFlight, -1)
		close(j.done)
	}
}

// Dispatch queues the event on its item's worker and waits until it was
// handled. It returns an error when the pool is closed or when ctx ended
// before the handler returned, in which case the event may not have run.
func (p *Pool) Dispatch(ctx context.Context, kind models.EventKind, payload []byte) error {
	j := job{
		ctx:     ctx,
		kind:    kind,
		payload: payload,
		done:    make(chan struct{}),
	}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrPoolClosed
	}
	select {
	case p.queues[p.worker(messaging.RoutingKey(payload))] <- j:
	case <-ctx.Done():
		p.mu.RUnlock()
		return ctx.Err()
	}
	p.mu.RUnlock()

	select {
	case <-j.done:
		// a handler cut short by ctx has dropped the event
		return ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler adapts the pool to a messaging consumer for one event kind
func (p *Pool) Handler(kind models.EventKind) messaging.Handler {
	return func(ctx context.Context, payload []byte) error {
		return p.Dispatch(ctx, kind, payload)
	}
}

func (p *Pool) worker(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.queues)))
}

// Close stops accepting events and waits for queued ones to finish
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, q := range p.queues {
		close(q)
	}
	p.mu.Unlock()

	p.wg.Wait()
	log.Info().Msg("dispatch pool stopped")
}
