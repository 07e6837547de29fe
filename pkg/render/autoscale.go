package render

import (
	"fmt"
	"math"
	"sort"

	"github.com/codahale/hdrhistogram"
	"gonum.org/v1/gonum/stat"

	"github.com/abworrall/fex/pkg/fits"
)

// An Autoscaler chooses black and white points from a frame's samples.
// Implementations must be deterministic: same samples, same levels.
// String names the strategy and its settings, and is hashed into
// Params.Signature.
type Autoscaler interface {
	Levels(samples []float64) (black, white float64, err error)
	String() string
}

// DefaultAutoscale clips the faintest and brightest quarter percent.
var DefaultAutoscale Autoscaler = PercentileAutoscale{Low: 0.25, High: 99.75, MaxSamples: 10000}

// PercentileAutoscale takes the Low and High percentiles of an evenly
// strided subsample of the finite values.
type PercentileAutoscale struct {
	Low, High  float64 // percent, 0..100
	MaxSamples int     // <= 0 means use every value
}

func (pa PercentileAutoscale) String() string {
	return fmt.Sprintf("percentile(%g,%g,%d)", pa.Low, pa.High, pa.MaxSamples)
}

func (pa PercentileAutoscale) Levels(samples []float64) (float64, float64, error) {
	if err := checkPercentiles(pa.Low, pa.High); err != nil {
		return 0, 0, err
	}
	vals := subsample(samples, pa.MaxSamples)
	if len(vals) == 0 {
		return 0, 0, ErrNoValidSamples
	}
	sort.Float64s(vals)
	black := stat.Quantile(pa.Low/100, stat.Empirical, vals, nil)
	white := stat.Quantile(pa.High/100, stat.Empirical, vals, nil)
	return black, white, nil
}

// HistogramAutoscale records the subsample into an HDR histogram over
// the subsample's own range, quantised to Resolution steps, and reads
// the percentiles back. It trades a little precision for never sorting.
type HistogramAutoscale struct {
	Low, High  float64
	MaxSamples int
	Resolution int64 // steps across [min,max]; 0 means 100000
}

func (ha HistogramAutoscale) String() string {
	return fmt.Sprintf("histogram(%g,%g,%d,%d)", ha.Low, ha.High, ha.MaxSamples, ha.resolution())
}

func (ha HistogramAutoscale) resolution() int64 {
	if ha.Resolution <= 0 {
		return 100000
	}
	return ha.Resolution
}

func (ha HistogramAutoscale) Levels(samples []float64) (float64, float64, error) {
	if err := checkPercentiles(ha.Low, ha.High); err != nil {
		return 0, 0, err
	}
	vals := subsample(samples, ha.MaxSamples)
	if len(vals) == 0 {
		return 0, 0, ErrNoValidSamples
	}

	min, max := vals[0], vals[0]
	for _, v := range vals {
		min = math.Min(min, v)
		max = math.Max(max, v)
	}
	if min == max {
		return min, max, nil
	}

	res := ha.resolution()
	scale := float64(res) / (max - min)
	// the histogram wants values >= 1, so everything is shifted up one
	h := hdrhistogram.New(1, res+1, 3)
	for _, v := range vals {
		if err := h.RecordValue(1 + int64(math.Round((v-min)*scale))); err != nil {
			return 0, 0, fmt.Errorf("histogram autoscale: %w", err)
		}
	}

	unquantise := func(q int64) float64 {
		return math.Max(min, math.Min(max, min+float64(q-1)/scale))
	}
	return unquantise(h.ValueAtQuantile(ha.Low)), unquantise(h.ValueAtQuantile(ha.High)), nil
}

func checkPercentiles(low, high float64) error {
	if low < 0 || high > 100 || low > high {
		return fmt.Errorf("percentiles %g..%g are not within 0..100", low, high)
	}
	return nil
}

// usable is a value levels can be chosen from. Infinities still render,
// clamped to the ends of the range, but can't be one of its ends.
func usable(v float64) bool { return !fits.IsBlank(v) && !math.IsInf(v, 0) }

// subsample returns every stride-th finite value, where stride is
// picked so that at most max values come back.
func subsample(samples []float64, max int) []float64 {
	n := 0
	for _, v := range samples {
		if usable(v) {
			n++
		}
	}
	stride := 1
	if max > 0 && n > max {
		stride = (n + max - 1) / max
	}

	out := make([]float64, 0, (n+stride-1)/stride)
	i := 0
	for _, v := range samples {
		if !usable(v) {
			continue
		}
		if i%stride == 0 {
			out = append(out, v)
		}
		i++
	}
	return out
}

// NewAutoscaler builds a strategy by name, as used in config files.
func NewAutoscaler(name string, low, high float64, maxSamples int) (Autoscaler, error) {
	if err := checkPercentiles(low, high); err != nil {
		return nil, err
	}
	switch name {
	case "", "percentile":
		return PercentileAutoscale{Low: low, High: high, MaxSamples: maxSamples}, nil
	case "histogram":
		return HistogramAutoscale{Low: low, High: high, MaxSamples: maxSamples}, nil
	}
	return nil, fmt.Errorf("unknown autoscale %q (want percentile or histogram)", name)
}
