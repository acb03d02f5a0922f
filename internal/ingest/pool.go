package ingest

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// WorkerFactory builds the worker for one pool slot.
type WorkerFactory func(opts Options) *Worker

// Pool runs concurrent workers against the same store. Claims are atomic in
// the store, so workers never share a unit.
type Pool struct {
	size    int
	opts    Options
	factory WorkerFactory
	log     *zap.Logger
}

// NewPool creates a pool of size workers. Each worker gets its own ID
// derived from opts.WorkerID, or a random one when none is set.
func NewPool(size int, opts Options, factory WorkerFactory) *Pool {
	if size <= 0 {
		size = 1
	}
	if opts.WorkerID == "" {
		opts.WorkerID = uuid.NewString()[:8]
	}
	return &Pool{
		size:    size,
		opts:    opts,
		factory: factory,
		log:     zap.L().With(zap.String("component", "ingest.pool")),
	}
}

// WorkerIDs returns the IDs the pool assigns, in slot order.
func (p *Pool) WorkerIDs() []string {
	if p.size == 1 {
		return []string{p.opts.WorkerID}
	}
	ids := make([]string, p.size)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%d", p.opts.WorkerID, i+1)
	}
	return ids
}

// Run starts every worker and blocks until ctx is done and all of them have
// returned.
func (p *Pool) Run(ctx context.Context) error {
	ids := p.WorkerIDs()
	p.log.Info("starting worker pool", zap.Int("workers", len(ids)))

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		opts := p.opts
		opts.WorkerID = id
		w := p.factory(opts)
		g.Go(func() error {
			return w.Run(gctx)
		})
	}
	err := g.Wait()
	p.log.Info("worker pool stopped")
	return err
}
