package explorer

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/abworrall/fex/pkg/fits"
	"github.com/abworrall/fex/pkg/logging"
	"github.com/abworrall/fex/pkg/scan"
)

// An Entry is one file found under the root, and what probing its
// headers told us about it.
type Entry struct {
	Name     string // relative to the root
	Kind     string // fits or tiff
	Identity fits.FileIdentity

	Header *fits.Header // the image unit we will show; nil if Err is set
	Width  int
	Height int
	Frames int

	Browsable bool
	Err       error // why the file can't be shown; never fatal
}

type Catalog struct {
	Root     string
	Entries  []Entry
	Warnings []scan.Warning // files that could not even be stat'ed
}

// Catalog scans the root and probes every file's headers, Workers at a
// time. Only a bad root (or ctx ending) fails the whole catalog; a file
// that won't parse is an Entry with Err set.
func (e *Explorer) Catalog(ctx context.Context) (*Catalog, error) {
	res, err := scan.Scan(e.cfg.Root, scan.Options{Extensions: e.cfg.Extensions, Recursive: e.cfg.Recursive})
	if err != nil {
		return nil, err
	}
	for _, w := range res.Warnings {
		e.log.Warn("skipping file", logging.Fields{"path": w.Path, "err": w.Err.Error()})
	}

	cat := &Catalog{Root: res.Root, Entries: make([]Entry, len(res.Entries)), Warnings: res.Warnings}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i, se := range res.Entries {
		i, se := i, se
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			cat.Entries[i] = e.probe(se)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	e.log.Info("catalog built", logging.Fields{"root": cat.Root, "files": len(cat.Entries), "browsable": len(cat.Browsable())})
	return cat, nil
}

func (e *Explorer) probe(se scan.Entry) Entry {
	ent := Entry{Name: se.Name, Identity: se.Identity}

	l, err := e.loaderFor(se.Identity.Path)
	if err == nil {
		ent.Kind = l.Kind()
		ent.Header, err = l.Probe(se.Identity.Path)
	}
	if err != nil {
		e.log.Warn("probe failed", logging.Fields{"path": se.Identity.Path, "err": err.Error()})
		ent.Err = err
		return ent
	}

	ent.Width, ent.Height = ent.Header.Width(), ent.Header.Height()
	ent.Frames = ent.Header.FrameCount()
	ent.Browsable = ent.Frames > 0
	return ent
}

// Browsable lists the entries that can be displayed.
func (c *Catalog) Browsable() []Entry {
	var out []Entry
	for _, ent := range c.Entries {
		if ent.Browsable {
			out = append(out, ent)
		}
	}
	return out
}

// Next is the index of the first browsable entry after i, wrapping round
// to the start; -1 if there is none. Next(-1) is the first.
func (c *Catalog) Next(i int) int { return c.step(i, 1) }

// Prev is Next going backwards; Prev(-1) is the last.
func (c *Catalog) Prev(i int) int { return c.step(i, -1) }

func (c *Catalog) step(i, dir int) int {
	n := len(c.Entries)
	if n == 0 {
		return -1
	}
	if i < 0 || i >= n {
		if dir > 0 {
			i = n - 1
		} else {
			i = 0
		}
	}
	for k := 1; k <= n; k++ {
		j := ((i+dir*k)%n + n) % n
		if c.Entries[j].Browsable {
			return j
		}
	}
	return -1
}
