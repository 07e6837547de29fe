package main

import (
	"context"
	"flag"
	"fmt"
	"image/png"
	"io"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/schollz/progressbar/v3"

	"github.com/abworrall/fex/pkg/explorer"
	"github.com/abworrall/fex/pkg/logging"
	"github.com/abworrall/fex/pkg/render"
)

var (
	fConfig    string
	fVerbose   bool
	fLogger    string
	fOutDir    string
	fStretch   string
	fColormap  string
	fAutoscale string
	fThumbSize int
	fWorkers   int
	fRecursive bool
	fAllFrames bool
	fAnnotate  bool
	fHDR       bool
	fTonemap   string
)

func init() {
	flag.StringVar(&fConfig, "config", "", "YAML config file; flags given explicitly override it")
	flag.BoolVar(&fVerbose, "v", false, "verbose (development) logging")
	flag.StringVar(&fLogger, "log", "zap", "log backend: zap (JSON, or console with -v) or logrus (text)")
	flag.StringVar(&fOutDir, "out", "fex-out", "directory to write rendered images into")
	flag.StringVar(&fStretch, "stretch", "linear", "intensity stretch: linear, log, sqrt, asinh")
	flag.StringVar(&fColormap, "colormap", "gray", "colormap: gray, heat, cool, viridis, rainbow")
	flag.StringVar(&fAutoscale, "autoscale", "percentile", "how to pick black/white points: percentile, histogram")
	flag.IntVar(&fThumbSize, "thumb", 0, "bound the output to this many pixels a side (0 is full size)")
	flag.IntVar(&fWorkers, "workers", 0, "render workers (0 keeps the config's value)")
	flag.BoolVar(&fRecursive, "r", false, "scan subdirectories too")
	flag.BoolVar(&fAllFrames, "allframes", false, "render every frame of a cube, not just the first")
	flag.BoolVar(&fAnnotate, "annotate", false, "draw the file name, size and data range onto each image")
	flag.BoolVar(&fHDR, "hdr", false, "also write each frame as a Radiance .hdr file")
	flag.StringVar(&fTonemap, "tonemap", "", "also write a tone mapped PNG, using one of "+strings.Join(render.Tonemappers, ", "))
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: fex [flags] <directory of FITS / TIFF files>\n")
		flag.PrintDefaults()
	}
}

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	l, sync, err := newLogger()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer sync()

	cfg, err := configure(flag.Arg(0))
	if err != nil {
		log.Fatalf("bad configuration: %v", err)
	}
	if fVerbose {
		l.Debug("final configuration:\n"+cfg.AsYaml(), nil)
	}

	ex, err := explorer.New(cfg, explorer.Options{Logger: l})
	if err != nil {
		log.Fatalf("explorer: %v", err)
	}

	err = run(context.Background(), ex, l)
	ex.Close()
	if err != nil {
		sync()
		log.Fatalf("fex: %v", err)
	}
}

func newLogger() (logging.Logger, func(), error) {
	switch fLogger {
	case "zap":
		z, err := logging.NewZap(fVerbose)
		if err != nil {
			return nil, nil, err
		}
		return z, func() { _ = z.L.Sync() }, nil
	case "logrus":
		return logging.NewLogrus(fVerbose), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown log backend %q", fLogger)
}

// configure starts from the config file (or the defaults), then applies
// whichever flags were set on the command line.
func configure(root string) (explorer.Config, error) {
	cfg := explorer.NewConfig()
	if fConfig != "" {
		var err error
		if cfg, err = explorer.LoadConfig(fConfig); err != nil {
			return cfg, err
		}
	}
	cfg.Root = root
	if fTonemap != "" && !slices.Contains(render.Tonemappers, fTonemap) {
		return cfg, fmt.Errorf("tonemapper %q not in %v", fTonemap, render.Tonemappers)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "stretch":
			cfg.Stretch = fStretch
		case "colormap":
			cfg.Colormap = fColormap
		case "autoscale":
			cfg.Autoscale = fAutoscale
		case "thumb":
			cfg.ThumbnailSize = fThumbSize
		case "workers":
			cfg.Workers = fWorkers
		case "r":
			cfg.Recursive = fRecursive
		case "v":
			cfg.Verbosity = 1
		}
	})
	return cfg, cfg.Validate()
}

type job struct {
	entry explorer.Entry
	frame int
}

func run(ctx context.Context, ex *explorer.Explorer, l logging.Logger) error {
	cat, err := ex.Catalog(ctx)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(fOutDir, 0o755); err != nil {
		return fmt.Errorf("output dir: %w", err)
	}

	params, err := ex.Config().ThumbnailParams()
	if err != nil {
		return err
	}

	var jobs []job
	for _, ent := range cat.Entries {
		if !ent.Browsable {
			l.Warn("skipping", logging.Fields{"file": ent.Name, "err": ent.Err})
			continue
		}
		frames := 1
		if fAllFrames {
			frames = ent.Frames
		}
		for f := 0; f < frames; f++ {
			jobs = append(jobs, job{ent, f})
		}
	}

	// Submit from a goroutine, so that a queue shorter than the job list
	// can't wedge us against our own completions.
	byKey := map[string]job{}
	for _, j := range jobs {
		byKey[jobKey(j.entry.Identity.Path, j.frame)] = j
	}
	submitted := make(chan int, 1)
	go func() {
		n := 0
		for _, j := range jobs {
			if _, err := ex.Submit(j.entry.Identity, j.frame, params); err != nil {
				l.Error("submit", logging.Fields{"file": j.entry.Name, "err": err})
				break
			}
			n++
		}
		submitted <- n
	}()

	// Logs and a progress bar make a mess of each other on one terminal.
	var bar *progressbar.ProgressBar
	if !fVerbose {
		bar = progressbar.Default(int64(len(jobs)), "rendering")
	}

	var failed, done int
	expect := -1
	for expect < 0 || done < expect {
		select {
		case n := <-submitted:
			expect = n
			failed += len(jobs) - n
			continue
		case c, ok := <-ex.Completions():
			if !ok {
				return fmt.Errorf("explorer closed with %d frames outstanding", len(jobs)-done)
			}
			done++
			if bar != nil {
				_ = bar.Add(1)
			}
			j := byKey[jobKey(c.Request.Identity.Path, c.Request.Frame)]
			switch {
			case c.Cancelled:
				l.Warn("cancelled", logging.Fields{"file": j.entry.Name, "frame": j.frame})
			case c.Err != nil:
				failed++
				l.Error("render failed", logging.Fields{"file": j.entry.Name, "frame": j.frame, "err": c.Err})
			default:
				if err := write(ex, j, c.Frame); err != nil {
					failed++
					l.Error("write failed", logging.Fields{"file": j.entry.Name, "err": err})
				}
			}
		}
	}

	if bar != nil {
		_ = bar.Finish()
	}

	st := ex.CacheStats()
	l.Info("done", logging.Fields{
		"files":   len(cat.Entries),
		"frames":  len(jobs),
		"failed":  failed,
		"renders": st.Computes,
	})
	if failed > 0 {
		return fmt.Errorf("%d of %d frames failed", failed, len(jobs))
	}
	return nil
}

func jobKey(path string, frame int) string { return fmt.Sprintf("%s#%d", path, frame) }

func outName(j job, ext string) string {
	base := strings.ReplaceAll(j.entry.Name, "/", "_")
	if j.entry.Frames > 1 {
		base = fmt.Sprintf("%s.f%03d", base, j.frame)
	}
	return filepath.Join(fOutDir, base+ext)
}

func write(ex *explorer.Explorer, j job, f *render.Frame) error {
	err := render.SaveFile(outName(j, ".png"), func(w io.Writer) error {
		if fAnnotate {
			return render.WriteAnnotatedPNG(w, f, j.entry.Name)
		}
		return render.WritePNG(w, f)
	})
	if err != nil || (!fHDR && fTonemap == "") || f.IsPlaceholder() {
		return err
	}

	h, samples, err := ex.FrameSamples(j.entry.Identity.Path, j.frame)
	if err != nil {
		return err
	}
	black, white := f.Range()
	hi, err := render.NewHDRImage(samples, h.Width(), h.Height(), black, white)
	if err != nil {
		return err
	}
	if fHDR {
		err := render.SaveFile(outName(j, ".hdr"), func(w io.Writer) error {
			return render.WriteHDR(w, hi)
		})
		if err != nil {
			return err
		}
	}
	if fTonemap != "" {
		img, err := render.Tonemap(hi, fTonemap)
		if err != nil {
			return err
		}
		return render.SaveFile(outName(j, ".tmo-"+fTonemap+".png"), func(w io.Writer) error {
			return png.Encode(w, img)
		})
	}
	return nil
}
