package render

import (
	"image"
	"image/color"

	"github.com/mdouchement/hdr/hdrcolor"

	"github.com/abworrall/fex/pkg/emath"
	"github.com/abworrall/fex/pkg/fits"
)

// An HDRImage is a frame of samples kept as linear floats, scaled so
// that black is 0 and white is 1, but not clipped or stretched. Blank
// samples are 0.
type HDRImage struct {
	grid         emath.FloatGrid
	black, white float64
}

// NewHDRImage shares samples, which must not change afterwards.
func NewHDRImage(samples []float64, width, height int, black, white float64) (*HDRImage, error) {
	grid, err := emath.FromSamples(samples, width, height)
	if err != nil {
		return nil, err
	}
	return &HDRImage{grid: grid, black: black, white: white}, nil
}

// Implement golang's image.Image interface
func (hi *HDRImage) ColorModel() color.Model { return hdrcolor.RGBModel }
func (hi *HDRImage) Bounds() image.Rectangle { return image.Rect(0, 0, hi.grid.Dx(), hi.grid.Dy()) }
func (hi *HDRImage) At(x, y int) color.Color { return hi.HDRAt(x, y) }

// Implement hdr.Image interface
func (hi *HDRImage) Size() int { return hi.grid.Dx() * hi.grid.Dy() }

func (hi *HDRImage) HDRAt(x, y int) hdrcolor.Color {
	v := hi.grid.Get(x, y)
	if fits.IsBlank(v) {
		return hdrcolor.RGB{}
	}
	lum := normalise(v, hi.black, hi.white)
	if lum < 0 {
		lum = 0
	}
	return hdrcolor.RGB{R: lum, G: lum, B: lum}
}
