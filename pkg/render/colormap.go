package render

import (
	"fmt"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

// BlankColor is what pixels with no data look like, whatever the
// colormap.
var BlankColor = color.RGBA{}

type lut [256]color.RGBA

type colormapDef struct {
	stops []string
	blend func(a, b colorful.Color, t float64) colorful.Color
}

func blendLab(a, b colorful.Color, t float64) colorful.Color { return a.BlendLab(b, t) }
func blendRgb(a, b colorful.Color, t float64) colorful.Color { return a.BlendRgb(b, t) }

var colormapDefs = [...]colormapDef{
	Gray:    {[]string{"#000000", "#ffffff"}, blendRgb},
	Heat:    {[]string{"#000000", "#b40000", "#ff8c00", "#ffff64", "#ffffff"}, blendLab},
	Cool:    {[]string{"#00ffff", "#ff00ff"}, blendLab},
	Viridis: {[]string{"#440154", "#3b528b", "#21918c", "#5ec962", "#fde725"}, blendLab},
	Rainbow: {[]string{"#0000ff", "#00ffff", "#00ff00", "#ffff00", "#ff0000"}, blendLab},
}

var luts = buildLuts()

func buildLuts() [len(colormapDefs)]lut {
	var out [len(colormapDefs)]lut
	for i, def := range colormapDefs {
		out[i] = def.build()
	}
	return out
}

func (def colormapDef) build() lut {
	stops := make([]colorful.Color, len(def.stops))
	for i, hex := range def.stops {
		c, err := colorful.Hex(hex)
		if err != nil {
			panic(fmt.Sprintf("colormap stop %q: %v", hex, err))
		}
		stops[i] = c
	}

	var l lut
	segments := len(stops) - 1
	for i := range l {
		pos := float64(i) / 255 * float64(segments)
		j := int(pos)
		if j >= segments {
			j = segments - 1
		}
		r, g, b := def.blend(stops[j], stops[j+1], pos-float64(j)).Clamped().RGB255()
		l[i] = color.RGBA{R: r, G: g, B: b, A: 0xff}
	}
	return l
}

// Color is the colormap entry for a display level.
func (c ColormapID) Color(level uint8) color.RGBA {
	return luts[c][level]
}
