package stream

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/terra/layer"
	"github.com/gogpu/terra/quadtree"
	"github.com/gogpu/terra/storage"
)

// ErrWorkerStopped is returned by RequestTile once the worker has exited.
// It wraps the error that stopped the worker.
var ErrWorkerStopped = errors.New("stream: worker stopped")

// Request names one tile to fetch.
type Request struct {
	Node  quadtree.VNode
	Layer layer.Type
}

// Result is a decoded tile.
type Result struct {
	Node quadtree.VNode
	Tile Tile
}

// Options configures a Streamer.
type Options struct {
	// Budget is the maximum number of tiles in flight. Default 128.
	Budget int
	// Concurrency bounds parallel fetches. Default GOMAXPROCS.
	Concurrency int
}

// Streamer owns the stream worker.
//
// RequestTile, TryComplete and InFlight belong to the frame goroutine and
// must not be called concurrently.
type Streamer struct {
	store  storage.Store
	layers *layer.Table

	requests chan Request
	results  chan Result
	freed    chan struct{}

	cancel   context.CancelFunc
	done     chan struct{}
	err      error
	inFlight int
	budget   int

	closeOnce sync.Once
}

// New starts the worker. It runs until ctx is canceled, Close is called or
// a tile fails.
func New(ctx context.Context, store storage.Store, layers *layer.Table, opts Options) *Streamer {
	if opts.Budget <= 0 {
		opts.Budget = 128
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = runtime.GOMAXPROCS(0)
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Streamer{
		store:    store,
		layers:   layers,
		requests: make(chan Request, opts.Budget),
		results:  make(chan Result, opts.Budget),
		freed:    make(chan struct{}, 1),
		cancel:   cancel,
		done:     make(chan struct{}),
		budget:   opts.Budget,
	}
	go s.run(ctx, opts.Concurrency)
	return s
}

// RequestTile queues a fetch. It never blocks; queuing more than the
// budget is a programming error and panics.
func (s *Streamer) RequestTile(node quadtree.VNode, t layer.Type) error {
	select {
	case <-s.done:
		return s.stoppedError()
	default:
	}
	select {
	case s.requests <- Request{Node: node, Layer: t}:
		s.inFlight++
		return nil
	case <-s.done:
		return s.stoppedError()
	default:
		panic(fmt.Sprintf("stream: request queue full (%d in flight, budget %d)", s.inFlight, s.budget))
	}
}

func (s *Streamer) stoppedError() error {
	if s.err == nil {
		return ErrWorkerStopped
	}
	return fmt.Errorf("%w: %w", ErrWorkerStopped, s.err)
}

// TryComplete returns a decoded tile if one is ready.
func (s *Streamer) TryComplete() (Result, bool) {
	select {
	case r := <-s.results:
		s.inFlight--
		return r, true
	default:
		return Result{}, false
	}
}

// InFlight returns the number of requested tiles not yet returned by
// TryComplete.
func (s *Streamer) InFlight() int { return s.inFlight }

// Budget returns the maximum number of tiles in flight.
func (s *Streamer) Budget() int { return s.budget }

// Done is closed when the worker exits.
func (s *Streamer) Done() <-chan struct{} { return s.done }

// Err returns the error that stopped the worker, or nil while it runs or
// after a clean shutdown.
func (s *Streamer) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close stops the worker and waits for it to exit. Queued requests are
// dropped.
func (s *Streamer) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
}

func (s *Streamer) run(parent context.Context, concurrency int) {
	defer close(s.done)

	g, ctx := errgroup.WithContext(parent)
	g.SetLimit(concurrency)

	var backlog []Request
	for {
		for len(backlog) > 0 && g.TryGo(s.task(ctx, backlog[0])) {
			backlog = backlog[1:]
		}

		select {
		case <-ctx.Done():
			err := g.Wait()
			if parent.Err() != nil {
				// Shut down by the owner; task errors are only cancellations.
				slogger().Debug("stream worker stopped", "dropped", len(backlog))
				return
			}
			s.err = err
			slogger().Error("stream worker failed", "error", err)
			return
		case req := <-s.requests:
			backlog = append(backlog, req)
		case <-s.freed:
		}
	}
}

func (s *Streamer) task(ctx context.Context, req Request) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic fetching %s %s: %v", req.Layer, req.Node, r)
			}
			select {
			case s.freed <- struct{}{}:
			default:
			}
		}()

		data, found, err := s.store.ReadTile(ctx, req.Layer, req.Node)
		if err != nil {
			return fmt.Errorf("fetch %s %s: %w", req.Layer, req.Node, err)
		}
		tile, err := Decode(req.Layer, s.layers[req.Layer], data, found)
		if err != nil {
			return fmt.Errorf("decode %s %s: %w", req.Layer, req.Node, err)
		}
		slogger().Debug("tile streamed", "node", req.Node, "layer", req.Layer, "found", found)

		select {
		case s.results <- Result{Node: req.Node, Tile: tile}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
