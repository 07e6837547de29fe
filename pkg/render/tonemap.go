package render

import (
	"fmt"
	"image"

	"github.com/mdouchement/hdr/tmo"
)

var Tonemappers = []string{"drago03", "durand", "icam06", "linear", "reinhard05"}

// Tonemap squeezes an HDRImage into an ordinary image with one of the
// operators named in Tonemappers. Unlike Render, the whole dynamic range
// survives, compressed rather than clipped.
func Tonemap(img *HDRImage, name string) (image.Image, error) {
	var op tmo.ToneMappingOperator

	switch name {
	case "drago03":
		d := tmo.NewDefaultDrago03(img)
		d.Bias = 1.0 // the default blows out the few bright pixels that matter
		op = d
	case "durand":
		op = tmo.NewDefaultDurand(img)
	case "icam06":
		ic := tmo.NewDefaultICam06(img)
		ic.MaxClipping = 0.99999
		op = ic
	case "linear":
		op = tmo.NewLinear(img)
	case "reinhard05":
		op = tmo.NewDefaultReinhard05(img)
	default:
		return nil, fmt.Errorf("tonemapper %q not in %v", name, Tonemappers)
	}

	return op.Perform(), nil
}
