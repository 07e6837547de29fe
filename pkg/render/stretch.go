package render

import "math"

// Every stretch maps [0,1] onto [0,1], with 0 -> 0 and 1 -> 1.
var stretches = [...]func(t float64) float64{
	Linear: func(t float64) float64 { return t },
	Log:    func(t float64) float64 { return math.Log10(1000*t+1) / 3 },
	Sqrt:   math.Sqrt,
	Asinh:  func(t float64) float64 { return math.Asinh(10*t) / math.Asinh(10) },
}

// Apply clamps t to [0,1] and runs it through the stretch curve.
func (k StretchKind) Apply(t float64) float64 {
	return clamp01(stretches[k](clamp01(t)))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// normalise puts v on the [black,white] scale. A flat range sends
// everything at or below black to 0 and the rest to 1.
func normalise(v, black, white float64) float64 {
	if white <= black {
		if v <= black {
			return 0
		}
		return 1
	}
	return (v - black) / (white - black)
}

func toLevel(s float64) uint8 {
	return uint8(math.Round(s * 255))
}
