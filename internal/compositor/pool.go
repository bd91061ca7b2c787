package compositor

import (
	"context"
	"errors"
	"runtime"

	"github.com/printforge/mockupcore/pkg/pixelimg"
	"github.com/printforge/mockupcore/pkg/templates"
)

// ErrQueueFull is returned when the pool's bounded queue is saturated; the
// HTTP layer maps this to 503.
var ErrQueueFull = errors.New("compositor queue is full")

// Job is one unit of compositing work submitted to the Pool.
type Job struct {
	Template  *templates.Template
	Design    *pixelimg.Image
	Placement Placement
}

type result struct {
	img *pixelimg.Image
	err error
}

type task struct {
	job    Job
	respCh chan result
}

// Pool bounds CPU-heavy compositing work to a fixed number of concurrent
// jobs, backed by a fixed-size goroutine set reading off a buffered
// channel — the same shape as internal/events.DefaultEventBus, generalized
// from fire-and-forget event dispatch to request/response work.
type Pool struct {
	tasks chan task
	done  chan struct{}
	c     *Compositor
}

// NewPool starts a Pool with the given worker count and queue capacity. A
// workers value <= 0 defaults to GOMAXPROCS.
func NewPool(workers, queueCapacity int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if queueCapacity <= 0 {
		queueCapacity = 64
	}

	p := &Pool{
		tasks: make(chan task, queueCapacity),
		done:  make(chan struct{}),
		c:     New(),
	}
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	for {
		select {
		case t, ok := <-p.tasks:
			if !ok {
				return
			}
			img, err := p.c.Composite(t.job.Template, t.job.Design, t.job.Placement)
			t.respCh <- result{img: img, err: err}
		case <-p.done:
			return
		}
	}
}

// Submit enqueues a job and blocks until it completes, the queue is full, or
// ctx is cancelled. A full queue returns ErrQueueFull immediately rather than
// blocking, so callers can fail fast with 503 under overload.
func (p *Pool) Submit(ctx context.Context, job Job) (*pixelimg.Image, error) {
	respCh := make(chan result, 1)
	select {
	case p.tasks <- task{job: job, respCh: respCh}:
	default:
		return nil, ErrQueueFull
	}

	select {
	case r := <-respCh:
		return r.img, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close signals all workers to exit. In-flight jobs already read off the
// channel are allowed to finish. Submit does not check whether the pool is
// closed: a job queued after Close is not guaranteed to run, and its Submit
// then returns only when ctx is done.
func (p *Pool) Close() {
	close(p.done)
}
