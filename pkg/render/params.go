package render

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// StretchKind picks the curve that maps normalised intensity to
// display level.
type StretchKind int

const (
	Linear StretchKind = iota
	Log
	Sqrt
	Asinh
)

var stretchNames = [...]string{
	Linear: "linear",
	Log:    "log",
	Sqrt:   "sqrt",
	Asinh:  "asinh",
}

func (k StretchKind) Valid() bool { return k >= 0 && int(k) < len(stretchNames) }

func (k StretchKind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("stretch(%d)", int(k))
	}
	return stretchNames[k]
}

func ParseStretch(name string) (StretchKind, error) {
	for k, n := range stretchNames {
		if strings.EqualFold(n, name) {
			return StretchKind(k), nil
		}
	}
	return Linear, fmt.Errorf("unknown stretch %q (want one of %s)", name, strings.Join(stretchNames[:], ", "))
}

// ColormapID picks the palette levels are looked up in.
type ColormapID int

const (
	Gray ColormapID = iota
	Heat
	Cool
	Viridis
	Rainbow
)

var colormapNames = [...]string{
	Gray:    "gray",
	Heat:    "heat",
	Cool:    "cool",
	Viridis: "viridis",
	Rainbow: "rainbow",
}

func (c ColormapID) Valid() bool { return c >= 0 && int(c) < len(colormapNames) }

func (c ColormapID) String() string {
	if !c.Valid() {
		return fmt.Sprintf("colormap(%d)", int(c))
	}
	return colormapNames[c]
}

func ParseColormap(name string) (ColormapID, error) {
	for c, n := range colormapNames {
		if strings.EqualFold(n, name) {
			return ColormapID(c), nil
		}
	}
	return Gray, fmt.Errorf("unknown colormap %q (want one of %s)", name, strings.Join(colormapNames[:], ", "))
}

// A Level is a black or white point. An unset level is chosen by the
// autoscaler.
type Level struct {
	Value float64
	Set   bool
}

func Fixed(v float64) Level { return Level{Value: v, Set: true} }

func (l Level) String() string {
	if !l.Set {
		return "auto"
	}
	return strconv.FormatFloat(l.Value, 'g', -1, 64)
}

// Params is everything that decides what a rendered frame looks like.
// The zero value is a full size, autoscaled, linear gray rendering.
type Params struct {
	Stretch  StretchKind
	Colormap ColormapID
	Black    Level
	White    Level

	// MaxSize bounds both sides of the output; the samples are halved
	// until they fit. 0 means full size.
	MaxSize int

	// Autoscale picks unset levels; nil means DefaultAutoscale.
	Autoscale Autoscaler
}

func (p Params) Validate() error {
	if !p.Stretch.Valid() {
		return fmt.Errorf("invalid stretch %d", int(p.Stretch))
	}
	if !p.Colormap.Valid() {
		return fmt.Errorf("invalid colormap %d", int(p.Colormap))
	}
	for _, l := range []Level{p.Black, p.White} {
		if l.Set && (math.IsNaN(l.Value) || math.IsInf(l.Value, 0)) {
			return fmt.Errorf("level %v is not finite", l.Value)
		}
	}
	if p.Black.Set && p.White.Set && p.Black.Value > p.White.Value {
		return fmt.Errorf("black point %v is above white point %v", p.Black.Value, p.White.Value)
	}
	if p.MaxSize < 0 {
		return fmt.Errorf("negative max size %d", p.MaxSize)
	}
	return nil
}

func (p Params) autoscaler() Autoscaler {
	if p.Autoscale == nil {
		return DefaultAutoscale
	}
	return p.Autoscale
}

func (p Params) String() string {
	return fmt.Sprintf("%s/%s black=%s white=%s max=%d", p.Stretch, p.Colormap, p.Black, p.White, p.MaxSize)
}

// Signature hashes a canonical encoding of p. Two Params with the same
// signature render any frame identically.
func (p Params) Signature() uint64 {
	d := xxhash.New()
	fmt.Fprintf(d, "stretch=%d;colormap=%d;black=%s;white=%s;max=%d;", p.Stretch, p.Colormap, p.Black, p.White, p.MaxSize)
	if !p.Black.Set || !p.White.Set {
		fmt.Fprintf(d, "auto=%s;", p.autoscaler())
	}
	return d.Sum64()
}
