// Package explorer is the core a viewer drives: it lists a directory of
// FITS and TIFF files, and renders any frame of any of them on demand,
// through a shared cache and a bounded pool of workers.
package explorer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/abworrall/fex/pkg/fits"
	"github.com/abworrall/fex/pkg/logging"
	"github.com/abworrall/fex/pkg/render"
	"github.com/abworrall/fex/pkg/thumbcache"
)

var ErrClosed = errors.New("explorer: closed")

type Options struct {
	Logger logging.Logger // if nil, NopLogger is used
}

type Explorer struct {
	cfg     Config
	log     logging.Logger
	cache   *thumbcache.Cache[*render.Frame]
	loaders map[string]loader

	queue       chan *Request
	completions chan Completion // unbuffered, so a cancel can still catch a finished request
	ctx         context.Context // parent of every request; cancelled by Close
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	closeOnce   sync.Once
	nextID      atomic.Uint64

	mu         sync.Mutex
	closed     bool
	submitting sync.WaitGroup // Submit calls that got in before Close
}

func New(cfg Config, opts Options) (*Explorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Explorer{
		cfg:         cfg,
		log:         logging.OrNop(opts.Logger),
		loaders:     defaultLoaders(),
		queue:       make(chan *Request, cfg.QueueLength),
		completions: make(chan Completion),
	}
	e.cache = thumbcache.New(thumbcache.Options[*render.Frame]{
		Capacity:      cfg.CacheCapacity,
		MaxEntryBytes: cfg.MaxEntryBytes,
		SizeOf:        (*render.Frame).SizeOf,
		Logger:        e.log,
	})
	e.ctx, e.cancel = context.WithCancel(context.Background())

	e.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go e.worker()
	}

	e.log.Info("explorer started", logging.Fields{"root": cfg.Root, "workers": cfg.Workers, "cache": cfg.CacheCapacity})
	return e, nil
}

func (e *Explorer) Config() Config { return e.cfg }

func (e *Explorer) CacheStats() thumbcache.Stats { return e.cache.Stats() }

// Close cancels every outstanding request, waits for the workers to
// finish, and closes the Completions channel. Requests still queued are
// dropped without a Completion.
func (e *Explorer) Close() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()

		e.cancel()
		e.submitting.Wait()
		e.wg.Wait()
		close(e.completions)
		e.cache.Close()

		st := e.cache.Stats()
		e.log.Info("explorer closed", logging.Fields{"hits": st.Hits, "misses": st.Misses, "computes": st.Computes})
	})
}

// DisplayFrame renders frame index of the file, at the params given. The
// file is stat'ed again first, so a file that has changed since id was
// taken is rendered afresh rather than served from the cache. A frame
// with nothing to show comes back as a placeholder, not an error.
func (e *Explorer) DisplayFrame(ctx context.Context, id fits.FileIdentity, index int, p render.Params) (*render.Frame, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	cur, err := fits.Open(id.Path)
	if err != nil {
		return nil, err
	}

	key := thumbcache.Key{Identity: cur, Frame: index, Signature: p.Signature()}
	return e.cache.GetOrCompute(ctx, key, func(context.Context) (*render.Frame, error) {
		return e.renderFrame(cur.Path, index, p)
	})
}

func (e *Explorer) renderFrame(path string, index int, p render.Params) (*render.Frame, error) {
	h, samples, err := e.FrameSamples(path, index)
	if err != nil {
		return nil, err
	}

	f, err := render.Render(samples, h.Width(), h.Height(), p)
	var re *render.RenderError
	if errors.As(err, &re) {
		e.log.Debug("showing placeholder", logging.Fields{"path": path, "frame": index, "err": err.Error()})
		return render.Placeholder(h.Width(), h.Height(), p), nil
	}
	return f, err
}

// FrameSamples reads one frame's samples without rendering or caching
// them, along with the header of the image unit they came from.
func (e *Explorer) FrameSamples(path string, index int) (*fits.Header, []float64, error) {
	l, err := e.loaderFor(path)
	if err != nil {
		return nil, nil, err
	}
	h, err := l.Probe(path)
	if err != nil {
		return nil, nil, err
	}
	samples, err := l.Frame(path, h, index)
	return h, samples, err
}
