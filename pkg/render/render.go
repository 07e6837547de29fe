package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/abworrall/fex/pkg/emath"
	"github.com/abworrall/fex/pkg/fits"
)

// ErrNoValidSamples means every sample in the frame was blank, so there
// is nothing to scale against.
var ErrNoValidSamples = errors.New("no valid samples")

// RenderError is a frame that could not be rendered. Callers show a
// placeholder instead.
type RenderError struct {
	Width, Height int
	Err           error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %dx%d: %v", e.Width, e.Height, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Render turns a frame of samples (row major, width x height) into a
// display-ready raster. It depends on nothing but its arguments.
func Render(samples []float64, width, height int, p Params) (*Frame, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	grid, err := emath.FromSamples(samples, width, height)
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}

	stats := fits.ComputeStats(samples)
	if stats.Count == 0 {
		return nil, &RenderError{Width: width, Height: height, Err: ErrNoValidSamples}
	}

	black, white, err := resolveLevels(samples, p)
	if err != nil {
		return nil, &RenderError{Width: width, Height: height, Err: err}
	}

	shown := grid.FitWithin(p.MaxSize)
	f := newFrame(shown.Dx(), shown.Dy(), p)
	f.stats, f.black, f.white = stats, black, white

	for i, v := range shown.Samples() {
		if fits.IsBlank(v) {
			f.setPixel(i, 0, BlankColor)
			continue
		}
		level := toLevel(p.Stretch.Apply(normalise(v, black, white)))
		f.setPixel(i, level, p.Colormap.Color(level))
	}
	return f, nil
}

// resolveLevels fills in whichever of black and white p leaves unset.
func resolveLevels(samples []float64, p Params) (float64, float64, error) {
	black, white := p.Black.Value, p.White.Value
	if p.Black.Set && p.White.Set {
		return black, white, nil
	}

	autoBlack, autoWhite, err := p.autoscaler().Levels(samples)
	if err != nil {
		return 0, 0, err
	}
	if !p.Black.Set {
		black = autoBlack
	}
	if !p.White.Set {
		white = autoWhite
	}
	return black, white, nil
}

// Placeholder is a blank raster of the size Render would have produced.
func Placeholder(width, height int, p Params) *Frame {
	w, h := fitSize(width, height, p.MaxSize)
	f := newFrame(w, h, p)
	f.placeholder = true
	f.stats = fits.ComputeStats(nil)
	for i := range f.levels {
		f.setPixel(i, 0, BlankColor)
	}
	return f
}

func fitSize(w, h, max int) (int, int) {
	if max <= 0 {
		return w, h
	}
	for w > max || h > max {
		w, h = (w+1)/2, (h+1)/2
	}
	return w, h
}

func newFrame(w, h int, p Params) *Frame {
	return &Frame{
		width:  w,
		height: h,
		levels: make([]uint8, w*h),
		pix:    image.NewRGBA(image.Rect(0, 0, w, h)),
		params: p,
	}
}

func (f *Frame) setPixel(i int, level uint8, c color.RGBA) {
	f.levels[i] = level
	f.pix.Pix[4*i], f.pix.Pix[4*i+1], f.pix.Pix[4*i+2], f.pix.Pix[4*i+3] = c.R, c.G, c.B, c.A
}
