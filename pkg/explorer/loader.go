package explorer

import (
	"fmt"

	"github.com/abworrall/fex/pkg/fits"
	"github.com/abworrall/fex/pkg/scan"
	"github.com/abworrall/fex/pkg/tiffsrc"
)

// A loader knows how to get at the image in one kind of file. Probe
// reads as little as it can to learn the image's shape; Frame reads one
// frame's samples.
type loader interface {
	Kind() string
	Probe(path string) (*fits.Header, error)
	Frame(path string, h *fits.Header, index int) ([]float64, error)
}

func defaultLoaders() map[string]loader {
	fl, tl := fitsLoader{}, tiffLoader{}
	return map[string]loader{
		".fits": fl,
		".fit":  fl,
		".fts":  fl,

		".fits.gz": fl,
		".fit.gz":  fl,
		".fts.gz":  fl,

		".tif":  tl,
		".tiff": tl,
	}
}

func (e *Explorer) loaderFor(path string) (loader, error) {
	ext := scan.Ext(path)
	if l, ok := e.loaders[ext]; ok {
		return l, nil
	}
	return nil, fmt.Errorf("%s: no loader for %q files", path, ext)
}

type fitsLoader struct{}

func (fitsLoader) Kind() string { return "fits" }

// Probe walks every header (so a damaged file is caught here, not when
// someone asks for a frame) and picks the first unit with an image.
// Files with extensions often leave the primary unit empty.
func (fitsLoader) Probe(path string) (*fits.Header, error) {
	headers, err := fits.DecodeHeaders(path)
	if err != nil {
		return nil, err
	}
	h, _, ok := fits.FirstImage(headers)
	if !ok {
		return nil, &fits.ParseError{Path: path, Err: fmt.Errorf("%w: none of %d units holds an image", fits.ErrNotImage, len(headers))}
	}
	return h, nil
}

func (fitsLoader) Frame(path string, h *fits.Header, index int) ([]float64, error) {
	du, err := fits.DecodeFrame(path, h, index)
	if err != nil {
		return nil, err
	}
	return fits.ToSamples(du), nil
}

// TIFFs are small enough, and awkward enough to seek in, that we always
// decode the whole thing.
type tiffLoader struct{}

func (tiffLoader) Kind() string { return "tiff" }

func (tiffLoader) Probe(path string) (*fits.Header, error) {
	hdu, _, err := tiffsrc.DecodeFile(path)
	if err != nil {
		return nil, err
	}
	return hdu.Header, nil
}

func (tiffLoader) Frame(path string, _ *fits.Header, index int) ([]float64, error) {
	hdu, _, err := tiffsrc.DecodeFile(path)
	if err != nil {
		return nil, err
	}
	return fits.Frame(hdu.Data, index)
}
