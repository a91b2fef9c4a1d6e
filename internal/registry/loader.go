package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"tilestream/internal/common/fsutil"
	"tilestream/internal/pyramid"
)

// Source is a source image discovered on disk.
type Source struct {
	// ImageID is the file name without extension.
	ImageID string
	// Path is the absolute file path.
	Path string
	// Size in bytes at scan time.
	Size int64
}

// Scanner discovers source images in a directory.
type Scanner interface {
	Scan(dir string) ([]Source, error)
}

// ImageScanner accepts every extension the pyramid decoder understands.
type ImageScanner struct{}

func NewImageScanner() ImageScanner { return ImageScanner{} }

// Scan lists decodable images directly inside dir (non-recursive), sorted by id.
// Files whose derived id is not a safe name are skipped.
func (ImageScanner) Scan(dir string) ([]Source, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var out []Source
	for _, e := range entries {
		if e.IsDir() { continue }
		name := e.Name()
		if !pyramid.IsSourceFile(name) { continue }
		id := pyramid.ImageIDFromPath(name)
		if !fsutil.SafeName(id) { continue }
		var size int64
		if fi, err := e.Info(); err == nil {
			size = fi.Size()
		}
		out = append(out, Source{ImageID: id, Path: filepath.Join(abs, name), Size: size})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ImageID < out[j].ImageID })
	return out, nil
}

// LoadDir scans dir with the default ImageScanner.
func LoadDir(dir string) ([]Source, error) {
	return NewImageScanner().Scan(dir)
}
