package fits

import (
	"errors"
	"fmt"
	"io"
)

// Scaling holds the affine transform from stored values to physical
// values, and the stored value that means "no data".
type Scaling struct {
	Scale    float64
	Zero     float64
	Blank    int64
	HasBlank bool
}

func (h *Header) Scaling() Scaling {
	s := Scaling{Scale: h.Scale(), Zero: h.Zero()}
	s.Blank, s.HasBlank = h.Blank()
	return s
}

// A DataUnit is a block of raw big-endian samples plus what is needed
// to interpret them. Buf always holds exactly product(Axes) samples.
type DataUnit struct {
	Buf    []byte
	Axes   []int
	Bitpix int
	Scaling
}

// NewDataUnit checks the buffer against the declared shape. A mismatch
// is a structural error, never something to paper over.
func NewDataUnit(buf []byte, bitpix int, axes []int, s Scaling) (*DataUnit, error) {
	width, err := sampleBytes(bitpix)
	if err != nil {
		return nil, err
	}
	want := int64(width)
	for _, a := range axes {
		if a < 0 {
			return nil, fmt.Errorf("%w: negative axis length %d", ErrShapeMismatch, a)
		}
		want *= int64(a)
	}
	if len(axes) == 0 {
		want = 0
	}
	if int64(len(buf)) != want {
		return nil, fmt.Errorf("%w: have %d bytes, axes %v at bitpix %d need %d", ErrShapeMismatch, len(buf), axes, bitpix, want)
	}
	return &DataUnit{Buf: buf, Axes: append([]int(nil), axes...), Bitpix: bitpix, Scaling: s}, nil
}

func sampleBytes(bitpix int) (int, error) {
	switch bitpix {
	case 8, 16, 32, 64, -32, -64:
		if bitpix < 0 {
			return -bitpix / 8, nil
		}
		return bitpix / 8, nil
	}
	return 0, fmt.Errorf("%w: BITPIX %d", ErrUnsupportedSampleWidth, bitpix)
}

func (du *DataUnit) SampleBytes() int {
	n, _ := sampleBytes(du.Bitpix)
	return n
}

func (du *DataUnit) Len() int {
	if w := du.SampleBytes(); w > 0 {
		return len(du.Buf) / w
	}
	return 0
}

func (du *DataUnit) Width() int {
	if len(du.Axes) < 1 {
		return 0
	}
	return du.Axes[0]
}

func (du *DataUnit) Height() int {
	if len(du.Axes) < 2 {
		return 1
	}
	return du.Axes[1]
}

// An HDU is a header unit and, for image units, its data.
type HDU struct {
	*Header
	Data *DataUnit // nil when there is no image data
}

// ReadData reads the image data described by h. The data must be all
// there, and so must the padding that rounds it up to a whole block.
func ReadData(r io.ReaderAt, h *Header) (*DataUnit, error) {
	if !h.IsImage() {
		return nil, parseErr(h.Offset, ErrNotImage, "%s", h.Summary())
	}
	if err := checkExtent(r, h); err != nil {
		return nil, err
	}

	buf := make([]byte, h.Elements()*int64(h.SampleBytes()))
	if err := readFull(r, buf, h.DataOffset); err != nil {
		return nil, err
	}
	return NewDataUnit(buf, h.Bitpix, h.Axes, h.Scaling())
}

// checkExtent makes sure the file reaches the end of h's data block,
// without reading (or allocating) the data itself.
func checkExtent(r io.ReaderAt, h *Header) error {
	size := h.DataSize()
	if size == 0 {
		return nil
	}
	one := make([]byte, 1)
	if err := readFull(r, one, h.DataOffset+size-1); err != nil {
		return err
	}
	if end := h.DataOffset + padded(size); end > h.DataOffset+size {
		if _, err := r.ReadAt(one, end-1); err != nil {
			if errors.Is(err, io.EOF) {
				return parseErr(h.DataOffset+size, ErrBlockAlignment, "data block is not padded to %d bytes", BlockSize)
			}
			return fmt.Errorf("read padding at %d: %w", end-1, err)
		}
	}
	return nil
}

func readFull(r io.ReaderAt, buf []byte, off int64) error {
	n, err := r.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return parseErr(off+int64(n), ErrTruncatedFile, "wanted %d bytes at %d, got %d", len(buf), off, n)
	}
	return fmt.Errorf("read %d bytes at %d: %w", len(buf), off, err)
}

// ReadAll reads the primary unit and every extension after it.
func ReadAll(r io.ReaderAt) ([]*HDU, error) {
	var hdus []*HDU
	err := walk(r, func(h *Header) error {
		hdu := &HDU{Header: h}
		if h.IsImage() {
			du, err := ReadData(r, h)
			if err != nil {
				return err
			}
			hdu.Data = du
		} else if err := checkExtent(r, h); err != nil {
			return err
		}
		hdus = append(hdus, hdu)
		return nil
	})
	return hdus, err
}

// ReadHeaders walks every unit like ReadAll, but leaves the data on disk.
func ReadHeaders(r io.ReaderAt) ([]*Header, error) {
	var headers []*Header
	err := walk(r, func(h *Header) error {
		if err := checkExtent(r, h); err != nil {
			return err
		}
		headers = append(headers, h)
		return nil
	})
	return headers, err
}

func walk(r io.ReaderAt, fn func(*Header) error) error {
	for off := int64(0); ; {
		h, next, err := ReadHeader(r, off)
		if errors.Is(err, io.EOF) {
			if off == 0 {
				return parseErr(0, ErrTruncatedFile, "empty file")
			}
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(h); err != nil {
			return err
		}
		off = next
	}
}

// FirstImage picks the first unit with a 2D-or-more image. Files with
// extensions often leave the primary unit empty.
func FirstImage(headers []*Header) (*Header, int, bool) {
	for i, h := range headers {
		if h.IsImage() {
			return h, i, true
		}
	}
	return nil, -1, false
}
