// Package thumbcache holds rendered frames keyed by file, frame and render
// parameters. Each key is computed at most once at a time, however many
// callers ask for it, and entries go stale as soon as their file changes
// on disk.
package thumbcache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/abworrall/fex/pkg/fits"
	"github.com/abworrall/fex/pkg/logging"
)

// ErrComputePanic wraps a panic raised by a compute function.
var ErrComputePanic = errors.New("compute panicked")

// Key names one rendering of one frame of one version of a file.
type Key struct {
	Identity  fits.FileIdentity
	Frame     int
	Signature uint64 // render.Params.Signature
}

func (k Key) String() string {
	return fmt.Sprintf("%s#%d/%016x", k.Identity.Path, k.Frame, k.Signature)
}

// slot is where a key lives in the map: the identity is left out so a
// changed file lands on its old entry and finds it stale.
type slot struct {
	path  string
	frame int
	sig   uint64
}

func (k Key) slot() slot { return slot{k.Identity.Path, k.Frame, k.Signature} }

// flight includes the identity, so a computation for an old version of
// a file is never shared with a caller who has seen the new one.
func (k Key) flight() string {
	return fmt.Sprintf("%s\x00%d\x00%d\x00%d\x00%d", k.Identity.Path, k.Frame, k.Signature,
		k.Identity.ModTime.UnixNano(), k.Identity.Size)
}

// ComputeFunc produces the value for a key. The context it gets is not
// cancelled when callers give up, so the result still lands in the cache.
type ComputeFunc[V any] func(ctx context.Context) (V, error)

type Options[V any] struct {
	Capacity      int            // ready entries kept; default 256
	MaxEntryBytes int64          // larger values are returned but not kept; 0 means no limit
	SizeOf        func(V) int64  // needed for MaxEntryBytes
	Logger        logging.Logger // if nil, NopLogger is used
}

type Stats struct {
	Hits      uint64
	Misses    uint64
	Computes  uint64
	Evictions uint64
	Stale     uint64
	Size      int
	Capacity  int
}

type entry[V any] struct {
	slot  slot
	id    fits.FileIdentity
	value V
	elem  *list.Element
}

// Cache is safe for concurrent use. One mutex guards the map and the
// LRU list, and it is never held while a value is computed.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[slot]*entry[V]
	lru     *list.List // front is most recently used; only ready entries
	stats   Stats
	closed  bool

	group singleflight.Group
	opts  Options[V]
	log   logging.Logger
}

func New[V any](opts Options[V]) *Cache[V] {
	if opts.Capacity <= 0 {
		opts.Capacity = 256
	}
	return &Cache[V]{
		entries: map[slot]*entry[V]{},
		lru:     list.New(),
		opts:    opts,
		log:     logging.OrNop(opts.Logger),
	}
}

// GetOrCompute returns the cached value for k, or runs fn to make one.
// Concurrent calls for the same key share a single run of fn. If ctx
// ends first the caller gets ctx.Err(), but the run carries on and its
// result is still cached.
func (c *Cache[V]) GetOrCompute(ctx context.Context, k Key, fn ComputeFunc[V]) (V, error) {
	var zero V
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return protect(ctx, k, fn)
	}
	if v, ok := c.lookupLocked(k); ok {
		c.stats.Hits++
		c.mu.Unlock()
		return v, nil
	}
	c.stats.Misses++
	c.mu.Unlock()

	ch := c.group.DoChan(k.flight(), func() (interface{}, error) {
		return c.compute(ctx, k, fn)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(V)
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (c *Cache[V]) compute(ctx context.Context, k Key, fn ComputeFunc[V]) (V, error) {
	// the previous flight for k may have finished between our miss and
	// this flight starting
	c.mu.Lock()
	if v, ok := c.lookupLocked(k); ok {
		c.mu.Unlock()
		return v, nil
	}
	c.stats.Computes++
	c.mu.Unlock()

	v, err := protect(context.WithoutCancel(ctx), k, fn)
	if err != nil {
		c.log.Debug("compute failed", logging.Fields{"key": k.String(), "err": err.Error()})
		return v, err
	}
	c.store(k, v)
	return v, nil
}

// protect runs fn, turning a panic into an error.
func protect[V any](ctx context.Context, k Key, fn ComputeFunc[V]) (v V, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: %w: %v", k, ErrComputePanic, r)
		}
	}()
	return fn(ctx)
}

// lookupLocked finds a ready entry for k. An entry made from a different
// version of the file is dropped.
func (c *Cache[V]) lookupLocked(k Key) (V, bool) {
	var zero V
	e, ok := c.entries[k.slot()]
	if !ok {
		return zero, false
	}
	if !e.id.Same(k.Identity) {
		c.removeLocked(e)
		c.stats.Stale++
		c.log.Debug("stale entry dropped", logging.Fields{"key": k.String(), "was": e.id.String()})
		return zero, false
	}
	c.lru.MoveToFront(e.elem)
	return e.value, true
}

func (c *Cache[V]) store(k Key, v V) {
	if c.opts.MaxEntryBytes > 0 && c.opts.SizeOf != nil {
		if size := c.opts.SizeOf(v); size > c.opts.MaxEntryBytes {
			c.log.Debug("value too big to cache", logging.Fields{"key": k.String(), "bytes": size})
			return
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	if old, ok := c.entries[k.slot()]; ok {
		c.removeLocked(old)
	}
	e := &entry[V]{slot: k.slot(), id: k.Identity, value: v}
	e.elem = c.lru.PushFront(e)
	c.entries[e.slot] = e

	for c.lru.Len() > c.opts.Capacity {
		oldest := c.lru.Back().Value.(*entry[V])
		c.removeLocked(oldest)
		c.stats.Evictions++
	}
}

func (c *Cache[V]) removeLocked(e *entry[V]) {
	c.lru.Remove(e.elem)
	delete(c.entries, e.slot)
}

// Remove drops the entry for k, whatever version of the file it came from.
func (c *Cache[V]) Remove(k Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[k.slot()]; ok {
		c.removeLocked(e)
	}
}

// RemoveFile drops every entry made from path, and returns how many.
func (c *Cache[V]) RemoveFile(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for s, e := range c.entries {
		if s.path == path {
			c.removeLocked(e)
			n++
		}
	}
	return n
}

func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = c.lru.Len()
	s.Capacity = c.opts.Capacity
	return s
}

// Close empties the cache. Afterwards GetOrCompute still works, but
// every call computes and nothing is kept.
func (c *Cache[V]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.entries = map[slot]*entry[V]{}
	c.lru.Init()
}
