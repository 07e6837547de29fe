package explorer

import (
	"context"
	"sync/atomic"

	"github.com/abworrall/fex/pkg/fits"
	"github.com/abworrall/fex/pkg/logging"
	"github.com/abworrall/fex/pkg/render"
)

// A Request is an asynchronous DisplayFrame. Its outcome arrives on
// Completions.
type Request struct {
	ID       uint64
	Identity fits.FileIdentity
	Frame    int
	Params   render.Params

	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

// Cancel withdraws the request. Its completion, if not already
// received, says Cancelled and carries no frame. Cancelling twice, or
// after completion, does nothing.
func (r *Request) Cancel() {
	r.cancelled.Store(true)
	r.cancel()
}

// Cancelled reports whether Cancel has been called. A consumer that
// cancels from one goroutine while another is already receiving can use
// it to drop a completion that crossed with the cancel.
func (r *Request) Cancelled() bool { return r.cancelled.Load() }

type Completion struct {
	Request   *Request
	Frame     *render.Frame // nil unless Err is nil and Cancelled is false
	Err       error
	Cancelled bool
}

// Submit queues a request for the worker pool. It blocks while the queue
// is full, and fails once Close has been called.
func (e *Explorer) Submit(id fits.FileIdentity, frame int, p render.Params) (*Request, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	e.submitting.Add(1)
	e.mu.Unlock()
	defer e.submitting.Done()

	req := &Request{ID: e.nextID.Add(1), Identity: id, Frame: frame, Params: p}
	req.ctx, req.cancel = context.WithCancel(e.ctx)

	select {
	case e.queue <- req:
		return req, nil
	case <-e.ctx.Done():
		req.cancel()
		return nil, ErrClosed
	}
}

// Completions delivers one Completion per submitted request, in the
// order they finish, until Close. It is unbuffered: a worker holds its
// Completion until it is received, and a Cancel before then turns it
// into a bare cancellation. It is closed by Close.
func (e *Explorer) Completions() <-chan Completion { return e.completions }

func (e *Explorer) worker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case req := <-e.queue:
			e.complete(e.process(req))
			req.cancel()
		}
	}
}

func (e *Explorer) process(req *Request) Completion {
	c := Completion{Request: req}

	if req.ctx.Err() != nil {
		c.Cancelled = true
		return c
	}

	f, err := e.DisplayFrame(req.ctx, req.Identity, req.Frame, req.Params)

	// A request cancelled while it ran never gets its frame, even if
	// the frame got made (it will be in the cache for next time).
	if req.ctx.Err() != nil {
		c.Cancelled = true
		return c
	}
	if err != nil {
		e.log.Warn("render failed", logging.Fields{"id": req.ID, "path": req.Identity.Path, "frame": req.Frame, "err": err.Error()})
		c.Err = err
		return c
	}
	c.Frame = f
	return c
}

// complete hands c over, unless the request is cancelled first, in which
// case its frame is withheld and only the cancellation is delivered.
func (e *Explorer) complete(c Completion) {
	req := c.Request
	cancelled := req.ctx.Done()
	if req.ctx.Err() != nil {
		c, cancelled = Completion{Request: req, Cancelled: true}, nil
	}
	for {
		select {
		case e.completions <- c:
			return
		case <-cancelled:
			c, cancelled = Completion{Request: req, Cancelled: true}, nil
		case <-e.ctx.Done():
			return
		}
	}
}
