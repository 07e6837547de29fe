package fits

import (
	"fmt"
	"io"
)

// A cube is any image with more than two axes. We treat it as a run of
// NAXIS1 x NAXIS2 frames laid end to end; frame i starts i frames in.

func frameCount(axes []int) int {
	if len(axes) < 2 || axes[0] == 0 || axes[1] == 0 {
		return 0
	}
	n := 1
	for _, a := range axes[2:] {
		n *= a
	}
	return n
}

// FrameCount is 1 for plain 2D images and 0 for anything smaller.
func FrameCount(du *DataUnit) int { return frameCount(du.Axes) }

func (h *Header) FrameCount() int {
	if !h.IsImage() {
		return 0
	}
	return frameCount(h.Axes)
}

func frameBytes(axes []int, bitpix int) int64 {
	w, _ := sampleBytes(bitpix)
	return int64(axes[0]) * int64(axes[1]) * int64(w)
}

func checkIndex(index, count int) error {
	if index < 0 || index >= count {
		return fmt.Errorf("%w: frame %d of %d", ErrIndexOutOfRange, index, count)
	}
	return nil
}

// FrameData is a 2D view of frame index; it shares du's buffer.
func FrameData(du *DataUnit, index int) (*DataUnit, error) {
	if err := checkIndex(index, FrameCount(du)); err != nil {
		return nil, err
	}
	size := frameBytes(du.Axes, du.Bitpix)
	start := int64(index) * size
	return &DataUnit{
		Buf:     du.Buf[start : start+size : start+size],
		Axes:    []int{du.Axes[0], du.Axes[1]},
		Bitpix:  du.Bitpix,
		Scaling: du.Scaling,
	}, nil
}

// Frame returns the samples of one frame. Only that frame's bytes are
// touched, so the cost is the frame size, not the cube size.
func Frame(du *DataUnit, index int) ([]float64, error) {
	fd, err := FrameData(du, index)
	if err != nil {
		return nil, err
	}
	return ToSamples(fd), nil
}

// ReadFrame reads just one frame of the image unit h out of r.
func ReadFrame(r io.ReaderAt, h *Header, index int) (*DataUnit, error) {
	if !h.IsImage() {
		return nil, parseErr(h.Offset, ErrNotImage, "%s", h.Summary())
	}
	if err := checkIndex(index, h.FrameCount()); err != nil {
		return nil, err
	}
	if err := checkExtent(r, h); err != nil {
		return nil, err
	}

	size := frameBytes(h.Axes, h.Bitpix)
	buf := make([]byte, size)
	if err := readFull(r, buf, h.DataOffset+int64(index)*size); err != nil {
		return nil, err
	}
	return NewDataUnit(buf, h.Bitpix, h.Axes[:2], h.Scaling())
}
