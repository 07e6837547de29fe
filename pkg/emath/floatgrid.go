package emath

import (
	"fmt"
	"math"
)

// A FloatGrid is a row-major grid of samples, NaN meaning "no data".
type FloatGrid struct {
	stride int
	values []float64
}

func NewFloatGrid(w, h int) FloatGrid {
	return FloatGrid{
		stride: w,
		values: make([]float64, w*h),
	}
}

// FromSamples wraps an existing slice, which must hold w*h values. The
// grid shares it.
func FromSamples(samples []float64, w, h int) (FloatGrid, error) {
	if w <= 0 || h <= 0 || len(samples) != w*h {
		return FloatGrid{}, fmt.Errorf("grid %dx%d needs %d samples, have %d", w, h, w*h, len(samples))
	}
	return FloatGrid{stride: w, values: samples}, nil
}

func (fg *FloatGrid) Set(x, y int, v float64) { fg.values[fg.stride*y+x] = v }
func (fg *FloatGrid) Get(x, y int) float64    { return fg.values[fg.stride*y+x] }
func (fg *FloatGrid) Dx() int                 { return fg.stride }
func (fg *FloatGrid) Samples() []float64      { return fg.values }

func (fg *FloatGrid) Dy() int {
	if fg.stride == 0 {
		return 0
	}
	return len(fg.values) / fg.stride
}

func (g1 *FloatGrid) Copy() *FloatGrid {
	g2 := FloatGrid{stride: g1.stride, values: make([]float64, len(g1.values))}
	copy(g2.values, g1.values)
	return &g2
}

// DownSample returns a grid half the size on each side (rounding up),
// where each value is the mean of the non-blank values in its 2x2
// block. A block with nothing but blanks stays blank.
func (g1 *FloatGrid) DownSample() FloatGrid {
	width := (g1.Dx() + 1) / 2
	height := (g1.Dy() + 1) / 2
	g2 := NewFloatGrid(width, height)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			sum, n := 0.0, 0
			for dy := 0; dy < 2; dy++ {
				for dx := 0; dx < 2; dx++ {
					sx, sy := 2*x+dx, 2*y+dy
					if sx >= g1.Dx() || sy >= g1.Dy() {
						continue
					}
					if v := g1.Get(sx, sy); !math.IsNaN(v) {
						sum += v
						n++
					}
				}
			}
			if n == 0 {
				g2.Set(x, y, math.NaN())
			} else {
				g2.Set(x, y, sum/float64(n))
			}
		}
	}

	return g2
}

// FitWithin halves the grid until neither side exceeds max. A max of
// zero or less leaves it alone.
func (g1 *FloatGrid) FitWithin(max int) FloatGrid {
	g := *g1
	if max <= 0 {
		return g
	}
	for g.Dx() > max || g.Dy() > max {
		g = g.DownSample()
	}
	return g
}

// MinMax ignores blanks; with none left both are NaN.
func (fg *FloatGrid) MinMax() (float64, float64) {
	min, max := math.Inf(1), math.Inf(-1)
	for _, v := range fg.values {
		if math.IsNaN(v) {
			continue
		}
		min = math.Min(min, v)
		max = math.Max(max, v)
	}
	if min > max {
		return math.NaN(), math.NaN()
	}
	return min, max
}

func (fg *FloatGrid) String() string {
	min, max := fg.MinMax()
	return fmt.Sprintf("fg[%dx%d, vals{%f,%f}]", fg.Dx(), fg.Dy(), min, max)
}
