// Package worker runs the asynchronous correction-event processing pool.
//
// Events sharing a correctionId must be processed in arrival order because
// verification transitions are order-dependent; events for different
// corrections carry no ordering requirement. The pool therefore hashes each
// event's correctionId onto a fixed shard, and each shard is drained by a
// single goroutine: per-key ordering falls out of shard affinity while
// distinct corrections still process in parallel.
package worker

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tan-res-space/rag-interface-sub006/internal/events"
)

// ErrPoolClosed is returned by [Pool.Submit] after [Pool.Close].
var ErrPoolClosed = errors.New("worker pool is closed")

const (
	defaultShards    = 4
	defaultQueueSize = 64
)

// Handler processes one correction-applied event. A non-nil error means the
// event could not be fully processed; the handler itself is responsible for
// dead-lettering, so the pool only logs.
type Handler func(ctx context.Context, ev events.CorrectionApplied) error

// Option configures a [Pool].
type Option func(*Pool)

// WithShards sets the number of shard queues (and goroutines). Default: 4.
func WithShards(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.shardCount = n
		}
	}
}

// WithQueueSize sets the per-shard queue buffer. Default: 64.
func WithQueueSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// Pool is the sharded worker pool. Start it with [Pool.Run]; submit events
// with [Pool.Submit]; stop it by cancelling the Run context or calling
// [Pool.Close]. Either way intake stops first and the workers then drain
// every queued event before Run returns: an event accepted by Submit is
// always processed.
type Pool struct {
	handler    Handler
	shardCount int
	queueSize  int
	shards     []chan events.CorrectionApplied

	// mu serialises Submit against Close so a send never races the channel
	// close.
	mu     sync.RWMutex
	closed bool
}

// NewPool creates a [Pool] delivering events to handler.
func NewPool(handler Handler, opts ...Option) *Pool {
	p := &Pool{
		handler:    handler,
		shardCount: defaultShards,
		queueSize:  defaultQueueSize,
	}
	for _, o := range opts {
		o(p)
	}
	p.shards = make([]chan events.CorrectionApplied, p.shardCount)
	for i := range p.shards {
		p.shards[i] = make(chan events.CorrectionApplied, p.queueSize)
	}
	return p
}

// Submit enqueues ev on the shard owned by its correctionId, blocking while
// the shard queue is full. Returns ctx.Err() on cancellation and
// [ErrPoolClosed] once the pool has been closed.
func (p *Pool) Submit(ctx context.Context, ev events.CorrectionApplied) error {
	// The read lock is held across the send so Close cannot close the shard
	// channel underneath a blocked sender.
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.shards[p.shardFor(ev.CorrectionID)] <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) shardFor(correctionID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(correctionID))
	return int(h.Sum32() % uint32(p.shardCount))
}

// Run drains all shards until every queue has been closed and emptied.
// Cancelling ctx closes the pool: intake stops, and the workers still
// process their remaining backlogs before Run returns, so accepted events
// survive a graceful shutdown. A handler error fails the event, not the
// pool.
func (p *Pool) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, p.Close)
	defer stop()

	// Events handed to workers are processed to completion even when the
	// run context has been cancelled.
	drainCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	for i := range p.shards {
		shard := p.shards[i]
		g.Go(func() error {
			for ev := range shard {
				if err := p.handler(drainCtx, ev); err != nil {
					slog.ErrorContext(drainCtx, "event processing failed",
						"correction_id", ev.CorrectionID, "err", err)
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// Close closes all shard queues. Workers finish their backlogs and Run
// returns. Submit after Close returns [ErrPoolClosed]. Close is idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, shard := range p.shards {
		close(shard)
	}
}
