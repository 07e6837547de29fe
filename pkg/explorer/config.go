package explorer

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v2"

	"github.com/abworrall/fex/pkg/render"
	"github.com/abworrall/fex/pkg/scan"
)

type Config struct {
	Verbosity int

	Root       string
	Extensions []string
	Recursive  bool

	Workers     int // render goroutines, and the limit on concurrent header probes
	QueueLength int // pending async requests before Submit blocks

	CacheCapacity int   // rendered frames kept
	MaxEntryBytes int64 // bigger frames are never cached; 0 means no limit

	Stretch        string // linear, log, sqrt, asinh
	Colormap       string // gray, heat, cool, viridis, rainbow
	Autoscale      string // percentile, histogram
	LowPercentile  float64
	HighPercentile float64
	MaxSamples     int // autoscale looks at no more than this many samples
	ThumbnailSize  int
}

func NewConfig() Config {
	return Config{
		Extensions:     append([]string(nil), scan.DefaultExtensions...),
		Workers:        runtime.NumCPU(),
		QueueLength:    64,
		CacheCapacity:  256,
		MaxEntryBytes:  64 << 20,
		Stretch:        "linear",
		Colormap:       "gray",
		Autoscale:      "percentile",
		LowPercentile:  0.25,
		HighPercentile: 99.75,
		MaxSamples:     10000,
		ThumbnailSize:  256,
	}
}

func newConfigFromYaml(b []byte) (Config, error) {
	c := NewConfig()
	err := yaml.Unmarshal(b, &c)
	return c, err
}

// LoadConfig reads a YAML file; anything it leaves out keeps its
// default.
func LoadConfig(filename string) (Config, error) {
	contents, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, fmt.Errorf("config read %s: %w", filename, err)
	}
	c, err := newConfigFromYaml(contents)
	if err != nil {
		return Config{}, fmt.Errorf("config parse %s: %w", filename, err)
	}
	return c, nil
}

func (c Config) AsYaml() string {
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("# can't marshal config yaml: %v\n", err)
	}
	return string(b)
}

func (c Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("config: workers must be positive, have %d", c.Workers)
	}
	if c.QueueLength < 0 || c.CacheCapacity < 0 || c.MaxEntryBytes < 0 || c.ThumbnailSize < 0 {
		return fmt.Errorf("config: negative size")
	}
	_, err := c.DefaultParams()
	return err
}

func (c Config) GetAutoscaler() (render.Autoscaler, error) {
	return render.NewAutoscaler(c.Autoscale, c.LowPercentile, c.HighPercentile, c.MaxSamples)
}

// DefaultParams renders at full size with the configured stretch,
// colormap and autoscaler.
func (c Config) DefaultParams() (render.Params, error) {
	stretch, err := render.ParseStretch(c.Stretch)
	if err != nil {
		return render.Params{}, err
	}
	cmap, err := render.ParseColormap(c.Colormap)
	if err != nil {
		return render.Params{}, err
	}
	as, err := c.GetAutoscaler()
	if err != nil {
		return render.Params{}, err
	}
	p := render.Params{Stretch: stretch, Colormap: cmap, Autoscale: as}
	return p, p.Validate()
}

// ThumbnailParams is DefaultParams bounded to ThumbnailSize.
func (c Config) ThumbnailParams() (render.Params, error) {
	p, err := c.DefaultParams()
	p.MaxSize = c.ThumbnailSize
	return p, err
}
