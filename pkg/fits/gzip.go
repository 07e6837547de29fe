package fits

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// IsGzip reports whether path names a gzip-compressed file, as in
// "m31.fits.gz".
func IsGzip(path string) bool { return strings.EqualFold(filepath.Ext(path), ".gz") }

// open gives random access to the FITS bytes of the file at path. A .gz
// file has no random access, so it is inflated into memory first and
// every read of it pays for the whole thing.
func open(path string) (io.ReaderAt, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, &IOError{Path: path, Err: err}
	}
	if !IsGzip(path) {
		return f, f.Close, nil
	}
	defer f.Close()

	b, err := inflate(f)
	if err != nil {
		return nil, nil, withPath(path, err)
	}
	return bytes.NewReader(b), func() error { return nil }, nil
}

func inflate(r io.Reader) ([]byte, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, gzipErr(err)
	}
	defer zr.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, zr); err != nil {
		return nil, gzipErr(err)
	}
	return buf.Bytes(), nil
}

func gzipErr(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return parseErr(0, ErrTruncatedFile, "gzip stream: %v", err)
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return err
	}
	return &ParseError{Err: fmt.Errorf("gzip stream: %w", err)}
}
