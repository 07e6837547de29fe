// Package scan lists the image files in a directory. It only stats
// files; nothing is opened or parsed.
package scan

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/abworrall/fex/pkg/fits"
)

// ErrInvalidRoot is the one fatal scan error: the root is missing, is
// not a directory, or cannot be listed.
var ErrInvalidRoot = errors.New("invalid root directory")

var DefaultExtensions = []string{".fits", ".fit", ".fts", ".fits.gz", ".fit.gz", ".fts.gz", ".tif", ".tiff"}

// Ext is the lower case extension of name. A trailing .gz takes the
// extension before it along, so "a.FITS.gz" gives ".fits.gz".
func Ext(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == ".gz" {
		inner := strings.ToLower(filepath.Ext(strings.TrimSuffix(name, filepath.Ext(name))))
		ext = inner + ext
	}
	return ext
}

type Options struct {
	Extensions []string // matched case-insensitively; nil means DefaultExtensions
	Recursive  bool
}

type Entry struct {
	Name     string // relative to the root, with forward slashes
	Ext      string // as given by Ext
	Identity fits.FileIdentity
}

// A Warning is a directory entry that could not be examined. The scan
// carries on without it.
type Warning struct {
	Path string
	Err  error
}

func (w Warning) Error() string { return fmt.Sprintf("%s: %v", w.Path, w.Err) }

type Result struct {
	Root     string
	Entries  []Entry // sorted by Name
	Warnings []Warning
}

func Scan(root string, opts Options) (*Result, error) {
	fi, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoot, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrInvalidRoot, root)
	}

	s := scanner{
		root:      root,
		exts:      extensionSet(opts.Extensions),
		recursive: opts.Recursive,
		res:       &Result{Root: root},
	}
	if err := s.dir(""); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoot, err)
	}

	sort.Slice(s.res.Entries, func(i, j int) bool { return s.res.Entries[i].Name < s.res.Entries[j].Name })
	return s.res, nil
}

func extensionSet(exts []string) map[string]bool {
	if exts == nil {
		exts = DefaultExtensions
	}
	set := map[string]bool{}
	for _, e := range exts {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		set[e] = true
	}
	return set
}

type scanner struct {
	root      string
	exts      map[string]bool
	recursive bool
	res       *Result
}

// dir lists root/rel. Only a failure to list the root itself is returned;
// subdirectories that cannot be read become warnings.
func (s *scanner) dir(rel string) error {
	des, err := os.ReadDir(filepath.Join(s.root, rel))
	if err != nil {
		if rel == "" {
			return err
		}
		s.warn(rel, err)
		return nil
	}

	for _, de := range des {
		name := de.Name()
		if rel != "" {
			name = rel + "/" + name
		}
		path := filepath.Join(s.root, filepath.FromSlash(name))

		// Stat, not the DirEntry, so that symlinks are followed.
		fi, err := os.Stat(path)
		if err != nil {
			if s.wanted(name) {
				s.warn(name, err)
			}
			continue
		}

		if fi.IsDir() {
			if s.recursive {
				if err := s.dir(name); err != nil {
					return err
				}
			}
			continue
		}
		if !fi.Mode().IsRegular() || !s.wanted(name) {
			continue
		}

		s.res.Entries = append(s.res.Entries, Entry{
			Name:     name,
			Ext:      Ext(name),
			Identity: fits.IdentityOf(path, fi),
		})
	}
	return nil
}

func (s *scanner) wanted(name string) bool {
	return s.exts[Ext(name)]
}

func (s *scanner) warn(name string, err error) {
	s.res.Warnings = append(s.res.Warnings, Warning{Path: filepath.Join(s.root, filepath.FromSlash(name)), Err: err})
}
