package readback

import (
	"context"
	"fmt"
	"sync"

	"github.com/gogpu/terra/internal/gpucore"
	"github.com/gogpu/terra/layer"
	"github.com/gogpu/terra/quadtree"
)

// Request is one pending download.
type Request struct {
	Node        quadtree.VNode
	Buffer      gpucore.BufferID
	Future      gpucore.MapFuture
	Format      layer.TextureFormat
	Resolution  int
	BytesPerRow int
}

// Completed is a finished download. Buffer is always set so the caller can
// recycle it; Heightmap is nil when Err is set.
type Completed struct {
	Node      quadtree.VNode
	Buffer    gpucore.BufferID
	Heightmap *Heightmap
	Err       error
}

// Options configures a Worker.
type Options struct {
	// Ceiling is the maximum number of outstanding downloads. Default 64.
	Ceiling int
}

// Worker owns the readback goroutine.
//
// Submit, TryComplete and Outstanding belong to the frame goroutine.
type Worker struct {
	requests  chan Request
	completed chan Completed
	cancel    context.CancelFunc
	done      chan struct{}

	ceiling     int
	outstanding int
	closeOnce   sync.Once
}

// New starts the worker.
func New(opts Options) *Worker {
	if opts.Ceiling <= 0 {
		opts.Ceiling = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		requests:  make(chan Request, opts.Ceiling),
		completed: make(chan Completed, opts.Ceiling),
		cancel:    cancel,
		done:      make(chan struct{}),
		ceiling:   opts.Ceiling,
	}
	go w.run(ctx)
	return w
}

// Submit hands a download to the worker. It never blocks; exceeding the
// ceiling is a programming error and panics.
func (w *Worker) Submit(req Request) {
	if w.outstanding >= w.ceiling {
		panic(fmt.Sprintf("readback: %d downloads outstanding, ceiling %d", w.outstanding, w.ceiling))
	}
	w.requests <- req
	w.outstanding++
}

// TryComplete returns a finished download if one is ready.
func (w *Worker) TryComplete() (Completed, bool) {
	select {
	case c := <-w.completed:
		w.outstanding--
		return c, true
	default:
		return Completed{}, false
	}
}

// Outstanding returns the number of submitted downloads not yet returned
// by TryComplete.
func (w *Worker) Outstanding() int { return w.outstanding }

// Close stops the worker. Pending downloads are abandoned.
func (w *Worker) Close() {
	w.closeOnce.Do(func() {
		w.cancel()
		<-w.done
	})
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	var waiters sync.WaitGroup
	defer waiters.Wait()

	ready := make(chan Request, w.ceiling)
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.requests:
			waiters.Add(1)
			go func() {
				defer waiters.Done()
				select {
				case <-req.Future.Done():
				case <-ctx.Done():
					return
				}
				select {
				case ready <- req:
				case <-ctx.Done():
				}
			}()
		case req := <-ready:
			w.completed <- complete(req)
		}
	}
}

func complete(req Request) Completed {
	c := Completed{Node: req.Node, Buffer: req.Buffer}
	data, err := req.Future.Bytes()
	if err != nil {
		c.Err = fmt.Errorf("readback: map %s: %w", req.Node, err)
		return c
	}
	c.Heightmap, c.Err = Decode(data, req.Format, req.Resolution, req.BytesPerRow)
	if c.Err == nil {
		slogger().Debug("heightmap read back", "node", req.Node, "min", c.Heightmap.Min, "max", c.Heightmap.Max)
	}
	return c
}
