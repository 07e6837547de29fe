package explorer

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/image/tiff"

	"github.com/abworrall/fex/pkg/fits"
	"github.com/abworrall/fex/pkg/fits/fitstest"
	"github.com/abworrall/fex/pkg/render"
	"github.com/abworrall/fex/pkg/scan"
)

func newExplorer(t *testing.T, root string, workers int) *Explorer {
	t.Helper()
	cfg := NewConfig()
	cfg.Root = root
	cfg.Workers = workers
	e, err := New(cfg, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func writeFITS(t *testing.T, dir, name string, units ...fitstest.Unit) fits.FileIdentity {
	t.Helper()
	path := fitstest.WriteFile(t, dir, name, fitstest.Bytes(units...))
	id, err := fits.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func writeTIFF(t *testing.T, dir, name string) {
	t.Helper()
	img := image.NewGray16(image.Rect(0, 0, 8, 4))
	for i := 0; i < 32; i++ {
		img.SetGray16(i%8, i/8, color.Gray16{Y: uint16(i * 100)})
	}
	var buf bytes.Buffer
	if err := tiff.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	fitstest.WriteFile(t, dir, name, buf.Bytes())
}

// directRender is what DisplayFrame should produce, computed without
// the explorer.
func directRender(t *testing.T, path string, frame int, p render.Params) *render.Frame {
	t.Helper()
	hdus, _, err := fits.Decode(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, hdu := range hdus {
		if hdu.Data == nil {
			continue
		}
		samples, err := fits.Frame(hdu.Data, frame)
		if err != nil {
			t.Fatal(err)
		}
		f, err := render.Render(samples, hdu.Width(), hdu.Height(), p)
		if err != nil {
			t.Fatal(err)
		}
		return f
	}
	t.Fatalf("%s has no image", path)
	return nil
}

func TestCatalogWithOneCorruptFile(t *testing.T) {
	root := t.TempDir()
	writeFITS(t, root, "a.fits", fitstest.Primary(16, []int{4, 4}, fitstest.Ramp(4, 4, 1)))
	writeFITS(t, root, "b.fits", fitstest.Primary(16, []int{3, 2, 3}, fitstest.Ramp(3, 2, 3)))
	writeFITS(t, root, "c.fits",
		fitstest.Primary(8, nil, nil),
		fitstest.Extension("IMAGE", -32, []int{2, 2}, fitstest.Float32s(1, 2, 3, 4), fitstest.Card("EXTNAME", "SCI", "")))
	good := fitstest.Bytes(fitstest.Primary(16, []int{64, 64}, fitstest.Ramp(64, 64, 1)))
	fitstest.WriteFile(t, root, "d.fits", good[:len(good)-3000])
	writeTIFF(t, root, "e.tif")
	fitstest.WriteFile(t, root, "notes.txt", []byte("not an image"))

	e := newExplorer(t, root, 3)
	cat, err := e.Catalog(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if len(cat.Entries) != 5 {
		t.Fatalf("got %d entries, want 5", len(cat.Entries))
	}
	var failed []Entry
	for _, ent := range cat.Entries {
		if ent.Err != nil {
			failed = append(failed, ent)
		}
	}
	if len(failed) != 1 || failed[0].Name != "d.fits" || !errors.Is(failed[0].Err, fits.ErrTruncatedFile) {
		t.Fatalf("failures = %+v", failed)
	}
	if len(cat.Browsable()) != 4 {
		t.Errorf("browsable = %d, want 4", len(cat.Browsable()))
	}

	b, c, tf := cat.Entries[1], cat.Entries[2], cat.Entries[4]
	if b.Frames != 3 || b.Width != 3 || b.Height != 2 {
		t.Errorf("cube entry = %+v", b)
	}
	if c.Header.Name() != "SCI" || c.Width != 2 {
		t.Errorf("extension entry = %+v", c)
	}
	if tf.Kind != "tiff" || tf.Width != 8 || tf.Height != 4 {
		t.Errorf("tiff entry = %+v", tf)
	}
}

func TestCatalogInvalidRoot(t *testing.T) {
	e := newExplorer(t, filepath.Join(t.TempDir(), "nope"), 1)
	if _, err := e.Catalog(context.Background()); !errors.Is(err, scan.ErrInvalidRoot) {
		t.Errorf("err = %v, want ErrInvalidRoot", err)
	}
}

func TestDisplayFrameMatchesDirectRender(t *testing.T) {
	root := t.TempDir()
	id := writeFITS(t, root, "cube.fits", fitstest.Primary(16, []int{5, 4, 3}, fitstest.Ramp(5, 4, 3)))
	e := newExplorer(t, root, 2)
	p := render.Params{Stretch: render.Asinh, Colormap: render.Viridis}

	for frame := 0; frame < 3; frame++ {
		got, err := e.DisplayFrame(context.Background(), id, frame, p)
		if err != nil {
			t.Fatalf("frame %d: %v", frame, err)
		}
		if !got.Equal(directRender(t, id.Path, frame, p)) {
			t.Errorf("frame %d differs from a direct render", frame)
		}

		again, err := e.DisplayFrame(context.Background(), id, frame, p)
		if err != nil || again != got {
			t.Errorf("frame %d: second display was not served from the cache", frame)
		}
	}

	if st := e.CacheStats(); st.Hits != 3 || st.Computes != 3 {
		t.Errorf("stats = %+v", st)
	}

	if _, err := e.DisplayFrame(context.Background(), id, 3, p); !errors.Is(err, fits.ErrIndexOutOfRange) {
		t.Errorf("frame 3 err = %v", err)
	}
}

func TestDisplayFrameTIFF(t *testing.T) {
	root := t.TempDir()
	writeTIFF(t, root, "gray.tiff")
	e := newExplorer(t, root, 1)

	id, err := fits.Open(filepath.Join(root, "gray.tiff"))
	if err != nil {
		t.Fatal(err)
	}
	f, err := e.DisplayFrame(context.Background(), id, 0, render.Params{Black: render.Fixed(0), White: render.Fixed(3100)})
	if err != nil {
		t.Fatal(err)
	}
	if f.Width() != 8 || f.Level(0, 0) != 0 || f.Level(7, 3) != 255 {
		t.Errorf("tiff frame = %s levels %v", f, f.Levels())
	}
}

func TestDisplayFrameGzip(t *testing.T) {
	root := t.TempDir()
	raw := fitstest.Bytes(fitstest.Primary(16, []int{5, 4, 2}, fitstest.Ramp(5, 4, 2)))
	plain := fitstest.WriteFile(t, root, "cube.fits", raw)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	packed := fitstest.WriteFile(t, root, "cube.fits.gz", buf.Bytes())

	e := newExplorer(t, root, 1)
	cat, err := e.Catalog(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(cat.Entries) != 2 || !cat.Entries[1].Browsable || cat.Entries[1].Frames != 2 {
		t.Fatalf("catalog = %+v", cat.Entries)
	}

	p := render.Params{Stretch: render.Sqrt}
	got, err := e.DisplayFrame(context.Background(), cat.Entries[1].Identity, 1, p)
	if err != nil {
		t.Fatal(err)
	}
	if cat.Entries[1].Identity.Path != packed || !got.Equal(directRender(t, plain, 1, p)) {
		t.Errorf("gzipped frame differs from the plain one")
	}
}

func TestChangedFileIsRerendered(t *testing.T) {
	root := t.TempDir()
	id := writeFITS(t, root, "a.fits", fitstest.Primary(16, []int{4, 4}, fitstest.Ramp(4, 4, 1)))
	e := newExplorer(t, root, 1)
	p := render.Params{Black: render.Fixed(0), White: render.Fixed(30)}

	before, err := e.DisplayFrame(context.Background(), id, 0, p)
	if err != nil {
		t.Fatal(err)
	}

	flat := make([]int16, 16)
	for i := range flat {
		flat[i] = 30
	}
	writeFITS(t, root, "a.fits", fitstest.Primary(16, []int{4, 4}, fitstest.Int16s(flat...)))
	later := id.ModTime.Add(time.Hour)
	if err := os.Chtimes(id.Path, later, later); err != nil {
		t.Fatal(err)
	}

	// the caller still holds the old identity
	after, err := e.DisplayFrame(context.Background(), id, 0, p)
	if err != nil {
		t.Fatal(err)
	}
	if after.Equal(before) || after.Level(0, 0) != 255 {
		t.Errorf("changed file served from the cache")
	}
	if st := e.CacheStats(); st.Stale != 1 || st.Computes != 2 {
		t.Errorf("stats = %+v", st)
	}
}

func TestBlankFrameGivesPlaceholder(t *testing.T) {
	root := t.TempDir()
	nan := float32(fits.Blank)
	id := writeFITS(t, root, "empty.fits", fitstest.Primary(-32, []int{2, 2}, fitstest.Float32s(nan, nan, nan, nan)))
	e := newExplorer(t, root, 1)

	f, err := e.DisplayFrame(context.Background(), id, 0, render.Params{})
	if err != nil {
		t.Fatal(err)
	}
	if !f.IsPlaceholder() || f.Width() != 2 {
		t.Errorf("got %s, want a placeholder", f)
	}
}

func TestDisplayFrameMissingFile(t *testing.T) {
	e := newExplorer(t, t.TempDir(), 1)
	_, err := e.DisplayFrame(context.Background(), fits.FileIdentity{Path: "/no/such.fits"}, 0, render.Params{})
	var ioe *fits.IOError
	if !errors.As(err, &ioe) {
		t.Errorf("err = %v, want an IOError", err)
	}
}

// countingLoader counts Frame calls, and can hold them until released.
type countingLoader struct {
	loader
	calls   atomic.Int64
	started chan struct{}
	once    sync.Once
	release chan struct{}
}

func newCountingLoader(blocking bool) *countingLoader {
	cl := &countingLoader{loader: fitsLoader{}, started: make(chan struct{}), release: make(chan struct{})}
	if !blocking {
		close(cl.release)
	}
	return cl
}

func (cl *countingLoader) Frame(path string, h *fits.Header, index int) ([]float64, error) {
	cl.calls.Add(1)
	cl.once.Do(func() { close(cl.started) })
	<-cl.release
	return cl.loader.Frame(path, h, index)
}

func TestConcurrentDisplaysRenderOnce(t *testing.T) {
	root := t.TempDir()
	id := writeFITS(t, root, "a.fits", fitstest.Primary(16, []int{32, 32}, fitstest.Ramp(32, 32, 1)))
	e := newExplorer(t, root, 1)
	cl := newCountingLoader(true)
	e.loaders[".fits"] = cl

	const n = 32
	frames := make([]*render.Frame, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f, err := e.DisplayFrame(context.Background(), id, 0, render.Params{})
			if err != nil {
				t.Errorf("display %d: %v", i, err)
			}
			frames[i] = f
		}(i)
	}
	<-cl.started
	time.Sleep(20 * time.Millisecond)
	close(cl.release)
	wg.Wait()

	if got := cl.calls.Load(); got != 1 {
		t.Errorf("frame loaded %d times, want 1", got)
	}
	for i, f := range frames {
		if f != frames[0] {
			t.Errorf("display %d got a different frame", i)
		}
	}
}

func TestSubmitDeliversFrames(t *testing.T) {
	root := t.TempDir()
	id := writeFITS(t, root, "cube.fits", fitstest.Primary(16, []int{6, 6, 4}, fitstest.Ramp(6, 6, 4)))
	e := newExplorer(t, root, 2)
	p := render.Params{Stretch: render.Sqrt}

	reqs := map[uint64]int{}
	for frame := 0; frame < 4; frame++ {
		req, err := e.Submit(id, frame, p)
		if err != nil {
			t.Fatal(err)
		}
		reqs[req.ID] = frame
	}

	for i := 0; i < 4; i++ {
		c := <-e.Completions()
		frame, ok := reqs[c.Request.ID]
		if !ok {
			t.Fatalf("completion for unknown request %d", c.Request.ID)
		}
		delete(reqs, c.Request.ID)
		if c.Err != nil || c.Cancelled || c.Frame == nil {
			t.Fatalf("request %d: %+v", c.Request.ID, c)
		}
		if !c.Frame.Equal(directRender(t, id.Path, frame, p)) {
			t.Errorf("request for frame %d delivered the wrong frame", frame)
		}
	}
}

func TestSubmitReportsErrors(t *testing.T) {
	root := t.TempDir()
	id := writeFITS(t, root, "a.fits", fitstest.Primary(16, []int{2, 2}, fitstest.Ramp(2, 2, 1)))
	e := newExplorer(t, root, 1)

	if _, err := e.Submit(id, 5, render.Params{}); err != nil {
		t.Fatal(err)
	}
	c := <-e.Completions()
	if !errors.Is(c.Err, fits.ErrIndexOutOfRange) || c.Frame != nil {
		t.Errorf("completion = %+v", c)
	}
}

func TestCancelledRequestGetsNoFrame(t *testing.T) {
	root := t.TempDir()
	id := writeFITS(t, root, "a.fits", fitstest.Primary(16, []int{8, 8, 2}, fitstest.Ramp(8, 8, 2)))
	e := newExplorer(t, root, 1)
	cl := newCountingLoader(true)
	e.loaders[".fits"] = cl

	running, err := e.Submit(id, 0, render.Params{})
	if err != nil {
		t.Fatal(err)
	}
	<-cl.started // the only worker is now busy with running

	queued, err := e.Submit(id, 1, render.Params{})
	if err != nil {
		t.Fatal(err)
	}
	running.Cancel()
	queued.Cancel()

	for i := 0; i < 2; i++ {
		c := <-e.Completions()
		if !c.Cancelled || c.Frame != nil || c.Err != nil {
			t.Errorf("request %d: %+v, want a bare cancellation", c.Request.ID, c)
		}
	}

	// the abandoned render still finishes, and is kept
	close(cl.release)
	if _, err := e.DisplayFrame(context.Background(), id, 0, render.Params{}); err != nil {
		t.Fatal(err)
	}
	if got := cl.calls.Load(); got != 1 {
		t.Errorf("frame 0 loaded %d times, want 1", got)
	}
}

func TestCancelAfterRenderWithholdsFrame(t *testing.T) {
	root := t.TempDir()
	id := writeFITS(t, root, "a.fits", fitstest.Primary(16, []int{4, 4}, fitstest.Ramp(4, 4, 1)))
	e := newExplorer(t, root, 1)

	req, err := e.Submit(id, 0, render.Params{})
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for e.CacheStats().Size == 0 {
		if time.Now().After(deadline) {
			t.Fatal("frame never rendered")
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond) // the worker is now waiting to hand the frame over

	req.Cancel()
	c := <-e.Completions()
	if c.Request != req || !c.Cancelled || c.Frame != nil || c.Err != nil {
		t.Errorf("completion after cancel = %+v, want a bare cancellation", c)
	}
	if !req.Cancelled() {
		t.Errorf("Cancelled() = false after Cancel")
	}

	// the frame was still kept for the next caller
	if st := e.CacheStats(); st.Size != 1 || st.Computes != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestCloseWhileSubmitBlocked(t *testing.T) {
	root := t.TempDir()
	id := writeFITS(t, root, "a.fits", fitstest.Primary(16, []int{4, 4, 3}, fitstest.Ramp(4, 4, 3)))
	cfg := NewConfig()
	cfg.Root = root
	cfg.Workers = 1
	cfg.QueueLength = 1
	e, err := New(cfg, Options{})
	if err != nil {
		t.Fatal(err)
	}
	cl := newCountingLoader(true)
	t.Cleanup(func() { close(cl.release) })
	e.loaders[".fits"] = cl

	if _, err := e.Submit(id, 0, render.Params{}); err != nil {
		t.Fatal(err)
	}
	<-cl.started // the worker is stuck on frame 0
	if _, err := e.Submit(id, 1, render.Params{}); err != nil {
		t.Fatal(err)
	}

	blocked := make(chan error, 1)
	go func() {
		_, err := e.Submit(id, 2, render.Params{})
		blocked <- err
	}()
	time.Sleep(20 * time.Millisecond)

	e.Close()
	select {
	case err := <-blocked:
		if err != nil && !errors.Is(err, ErrClosed) {
			t.Errorf("blocked Submit: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Submit still blocked after Close returned")
	}

	if _, err := e.Submit(id, 0, render.Params{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit after Close: %v", err)
	}
	if _, ok := <-e.Completions(); ok {
		t.Errorf("Completions still open after Close")
	}
}

func TestClose(t *testing.T) {
	root := t.TempDir()
	id := writeFITS(t, root, "a.fits", fitstest.Primary(16, []int{2, 2}, fitstest.Ramp(2, 2, 1)))
	e := newExplorer(t, root, 2)
	e.Close()
	e.Close()

	if _, err := e.Submit(id, 0, render.Params{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit after Close: %v", err)
	}
	if _, ok := <-e.Completions(); ok {
		t.Errorf("Completions still open after Close")
	}

	// a closed explorer still renders, it just stops caching
	if _, err := e.DisplayFrame(context.Background(), id, 0, render.Params{}); err != nil {
		t.Errorf("DisplayFrame after Close: %v", err)
	}
}

func TestCatalogNavigation(t *testing.T) {
	cat := &Catalog{Entries: []Entry{{Browsable: true}, {}, {Browsable: true}, {}}}
	checks := []struct {
		got, want int
	}{
		{cat.Next(-1), 0},
		{cat.Next(0), 2},
		{cat.Next(2), 0},
		{cat.Prev(0), 2},
		{cat.Prev(-1), 2},
		{cat.Prev(2), 0},
	}
	for i, c := range checks {
		if c.got != c.want {
			t.Errorf("check %d: got %d, want %d", i, c.got, c.want)
		}
	}

	none := &Catalog{Entries: []Entry{{}, {}}}
	if none.Next(0) != -1 || (&Catalog{}).Next(-1) != -1 {
		t.Errorf("nothing browsable should give -1")
	}
}

func TestFrameSamples(t *testing.T) {
	root := t.TempDir()
	id := writeFITS(t, root, "cube.fits", fitstest.Primary(16, []int{2, 2, 2}, fitstest.Ramp(2, 2, 2)))
	e := newExplorer(t, root, 1)

	h, samples, err := e.FrameSamples(id.Path, 1)
	if err != nil {
		t.Fatal(err)
	}
	if h.FrameCount() != 2 || len(samples) != 4 || samples[0] != 1000 || samples[3] != 1003 {
		t.Errorf("frame 1 = %v", samples)
	}

	if _, _, err := e.FrameSamples(filepath.Join(root, "x.png"), 0); err == nil {
		t.Errorf("expected an error for an unknown extension")
	}
}
