package pyramid

import (
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"tilestream/pkg/types"
)

// SourceExtensions lists the file extensions Decode understands.
var SourceExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".tif", ".tiff", ".bmp", ".webp"}

// IsSourceFile reports whether name has a decodable image extension.
func IsSourceFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range SourceExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Decode reads an image in any registered format. Failures are InvalidImage errors.
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, &InvalidImageError{Reason: "decode", Err: err}
	}
	if img.Bounds().Empty() {
		return nil, invalidImage("zero area")
	}
	return img, nil
}

// BuildFile decodes the image at path and builds its pyramid.
func BuildFile(ctx context.Context, path, imageID string, opts Options) (types.ImageDescriptor, []Tile, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.ImageDescriptor{}, nil, &InvalidImageError{Reason: "open " + filepath.Base(path), Err: err}
	}
	defer f.Close()
	img, err := Decode(f)
	if err != nil {
		return types.ImageDescriptor{}, nil, err
	}
	return Build(ctx, imageID, img, opts)
}

// ImageIDFromPath derives the default image id from a file name.
func ImageIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
