package fits

import (
	"fmt"
	"os"
	"time"
)

// FileIdentity is what we know about a file without opening it. Any
// change to it means anything derived from the file is out of date.
type FileIdentity struct {
	Path    string
	ModTime time.Time
	Size    int64
}

func (id FileIdentity) Same(other FileIdentity) bool {
	return id.Path == other.Path && id.Size == other.Size && id.ModTime.Equal(other.ModTime)
}

func (id FileIdentity) String() string {
	return fmt.Sprintf("%s (%d bytes, %s)", id.Path, id.Size, id.ModTime.Format(time.RFC3339))
}

// IdentityOf builds an identity from a stat result.
func IdentityOf(path string, fi os.FileInfo) FileIdentity {
	return FileIdentity{Path: path, ModTime: fi.ModTime(), Size: fi.Size()}
}

// Open stats path; it does not parse anything.
func Open(path string) (FileIdentity, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return FileIdentity{}, &IOError{Path: path, Err: err}
	}
	if fi.IsDir() {
		return FileIdentity{}, &IOError{Path: path, Err: fmt.Errorf("is a directory")}
	}
	return IdentityOf(path, fi), nil
}

// Decode reads every unit of the file at path, data included. Files
// ending in .gz are inflated on the way in.
func Decode(path string) ([]*HDU, FileIdentity, error) {
	id, err := Open(path)
	if err != nil {
		return nil, id, err
	}
	r, done, err := open(path)
	if err != nil {
		return nil, id, err
	}
	defer done()

	hdus, err := ReadAll(r)
	return hdus, id, withPath(path, err)
}

// DecodeHeaders reads only the headers of the file at path.
func DecodeHeaders(path string) ([]*Header, error) {
	r, done, err := open(path)
	if err != nil {
		return nil, err
	}
	defer done()

	headers, err := ReadHeaders(r)
	return headers, withPath(path, err)
}

// DecodeFrame reads a single frame of the image unit h from the file at
// path, leaving the rest of the cube on disk.
func DecodeFrame(path string, h *Header, index int) (*DataUnit, error) {
	r, done, err := open(path)
	if err != nil {
		return nil, err
	}
	defer done()

	du, err := ReadFrame(r, h, index)
	return du, withPath(path, err)
}
