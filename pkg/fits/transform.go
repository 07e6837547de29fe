package fits

import (
	"encoding/binary"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Blank is the sample value for "no data". Nothing else maps to NaN:
// float NaNs in the file are themselves blanks.
var Blank = math.NaN()

func IsBlank(v float64) bool { return math.IsNaN(v) }

// ToSamples converts every stored sample to a physical value,
// sample = raw*BSCALE + BZERO, in axis order (NAXIS1 fastest).
func ToSamples(du *DataUnit) []float64 {
	out := make([]float64, du.Len())
	transform(du.Buf, du.Bitpix, du.Scaling, out)
	return out
}

// Unsigned integers are stored as signed, with BZERO set to the offset
// that shifts them back. We spot that case and decode exactly.
func isUnsigned(bitpix int, s Scaling) bool {
	if s.Scale != 1 {
		return false
	}
	switch bitpix {
	case 16:
		return s.Zero == 1<<15
	case 32:
		return s.Zero == 1<<31
	case 64:
		return s.Zero == 1<<63
	}
	return false
}

// transform decodes len(out) samples from raw, which is big-endian.
func transform(raw []byte, bitpix int, s Scaling, out []float64) {
	unsigned := isUnsigned(bitpix, s)
	affine := func(v float64) float64 { return v*s.Scale + s.Zero }

	switch bitpix {
	case 8:
		// bytes are unsigned by convention
		for i := range out {
			b := raw[i]
			if s.HasBlank && int64(b) == s.Blank {
				out[i] = Blank
				continue
			}
			out[i] = affine(float64(b))
		}

	case 16:
		for i := range out {
			u := binary.BigEndian.Uint16(raw[2*i:])
			if s.HasBlank && int64(int16(u)) == s.Blank {
				out[i] = Blank
			} else if unsigned {
				out[i] = float64(u ^ 0x8000)
			} else {
				out[i] = affine(float64(int16(u)))
			}
		}

	case 32:
		for i := range out {
			u := binary.BigEndian.Uint32(raw[4*i:])
			if s.HasBlank && int64(int32(u)) == s.Blank {
				out[i] = Blank
			} else if unsigned {
				out[i] = float64(u ^ 0x80000000)
			} else {
				out[i] = affine(float64(int32(u)))
			}
		}

	case 64:
		for i := range out {
			u := binary.BigEndian.Uint64(raw[8*i:])
			if s.HasBlank && int64(u) == s.Blank {
				out[i] = Blank
			} else if unsigned {
				out[i] = float64(u ^ (1 << 63))
			} else {
				out[i] = affine(float64(int64(u)))
			}
		}

	case -32:
		for i := range out {
			f := math.Float32frombits(binary.BigEndian.Uint32(raw[4*i:]))
			if f != f {
				out[i] = Blank
				continue
			}
			out[i] = affine(float64(f))
		}

	case -64:
		for i := range out {
			f := math.Float64frombits(binary.BigEndian.Uint64(raw[8*i:]))
			if math.IsNaN(f) {
				out[i] = Blank
				continue
			}
			out[i] = affine(f)
		}
	}
}

// Stats summarises the finite samples of a frame.
type Stats struct {
	Min, Max     float64
	Mean, StdDev float64
	Count        int // finite samples
	Blanks       int
	Infinite     int // +Inf or -Inf; float data may hold them
}

// ComputeStats ignores blanks and infinities entirely; with no finite
// samples Min and Max are NaN.
func ComputeStats(samples []float64) Stats {
	valid := make([]float64, 0, len(samples))
	st := Stats{Min: math.Inf(1), Max: math.Inf(-1)}

	for _, v := range samples {
		if IsBlank(v) {
			st.Blanks++
			continue
		}
		if math.IsInf(v, 0) {
			st.Infinite++
			continue
		}
		valid = append(valid, v)
		st.Min = math.Min(st.Min, v)
		st.Max = math.Max(st.Max, v)
	}

	st.Count = len(valid)
	switch st.Count {
	case 0:
		st.Min, st.Max, st.Mean, st.StdDev = math.NaN(), math.NaN(), math.NaN(), math.NaN()
	case 1:
		st.Mean = valid[0]
	default:
		st.Mean, st.StdDev = stat.MeanStdDev(valid, nil)
	}
	return st
}
