package fits

import (
	"errors"
	"fmt"
)

// The kinds of structural problem we can find in a file. A ParseError
// wraps one of these, so callers can use errors.Is.
var (
	ErrTruncatedFile          = errors.New("truncated file")
	ErrInvalidKeyword         = errors.New("invalid keyword syntax")
	ErrUnsupportedSampleWidth = errors.New("unsupported sample width")
	ErrBlockAlignment         = errors.New("block alignment error")
	ErrMandatoryKeyword       = errors.New("mandatory keyword missing or out of order")
	ErrShapeMismatch          = errors.New("data length does not match declared shape")
	ErrIndexOutOfRange        = errors.New("frame index out of range")
	ErrNotImage               = errors.New("no image data")
)

// ParseError reports where in which file a parse failed. It is always
// scoped to one file; nothing about it is fatal to a browsing session.
type ParseError struct {
	Path   string
	Offset int64 // byte offset of the block or card at fault
	Err    error
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("fits: offset %d: %v", e.Offset, e.Err)
	}
	return fmt.Sprintf("fits %s: offset %d: %v", e.Path, e.Offset, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func parseErr(offset int64, kind error, format string, args ...interface{}) *ParseError {
	return &ParseError{
		Offset: offset,
		Err:    fmt.Errorf("%w: "+format, append([]interface{}{kind}, args...)...),
	}
}

// IOError is a file we could not stat or read at all.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string { return fmt.Sprintf("fits %s: %v", e.Path, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// withPath stamps a path onto a ParseError produced by the path-less
// readers; other errors pass through.
func withPath(path string, err error) error {
	var pe *ParseError
	if errors.As(err, &pe) && pe.Path == "" {
		cp := *pe
		cp.Path = path
		return &cp
	}
	return err
}
