package tilestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"tilestream/internal/common/fsutil"
	"tilestream/pkg/types"
)

const descriptorFile = "descriptor.json"

// FS stores each image as a directory tree under root:
//
//	<root>/<imageID>/descriptor.json
//	<root>/<imageID>/<level>/<y>/<x>.png
//
// An image is staged in a hidden directory and renamed into place, so readers
// never observe a partially written pyramid.
type FS struct {
	root string
}

// NewFS opens (and creates if needed) a filesystem store rooted at dir.
func NewFS(dir string) (*FS, error) {
	if dir == "" {
		return nil, fmt.Errorf("fs store: empty directory")
	}
	root, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	return &FS{root: root}, nil
}

// Root returns the store directory.
func (s *FS) Root() string { return s.root }

func (s *FS) tilePath(base string, id types.TileID) string {
	return filepath.Join(base, strconv.Itoa(id.Level), strconv.Itoa(id.Y), strconv.Itoa(id.X)+".png")
}

func (s *FS) Commit(ctx context.Context, desc types.ImageDescriptor, tiles []EncodedTile) error {
	if err := validateCommit(desc, tiles); err != nil {
		return err
	}
	if !fsutil.SafeName(desc.ImageID) {
		return fmt.Errorf("commit: image id %q is not a valid name", desc.ImageID)
	}
	final := filepath.Join(s.root, desc.ImageID)
	if fsutil.PathExists(final) {
		return ErrExists
	}
	staging, err := os.MkdirTemp(s.root, ".staging-"+desc.ImageID+"-")
	if err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(staging)
		}
	}()

	for _, t := range tiles {
		if err := ctx.Err(); err != nil {
			return err
		}
		p := s.tilePath(staging, t.ID)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return fmt.Errorf("creating tile directory: %w", err)
		}
		if err := os.WriteFile(p, t.Data, 0o644); err != nil {
			return fmt.Errorf("writing tile %s: %w", t.ID, err)
		}
	}
	b, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(staging, descriptorFile), b, 0o644); err != nil {
		return fmt.Errorf("writing descriptor: %w", err)
	}
	if err := os.Rename(staging, final); err != nil {
		if fsutil.PathExists(final) {
			return ErrExists
		}
		return fmt.Errorf("publishing %s: %w", desc.ImageID, err)
	}
	committed = true
	return nil
}

func (s *FS) Descriptor(_ context.Context, imageID string) (types.ImageDescriptor, error) {
	var d types.ImageDescriptor
	if !fsutil.SafeName(imageID) {
		return d, ErrNotFound
	}
	b, err := os.ReadFile(filepath.Join(s.root, imageID, descriptorFile))
	if errors.Is(err, os.ErrNotExist) {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	if err := json.Unmarshal(b, &d); err != nil {
		return d, fmt.Errorf("descriptor %s: %w", imageID, err)
	}
	return d, nil
}

func (s *FS) Tile(_ context.Context, id types.TileID) ([]byte, error) {
	if !fsutil.SafeName(id.ImageID) || id.Level < 0 || id.X < 0 || id.Y < 0 {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(s.tilePath(filepath.Join(s.root, id.ImageID), id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *FS) List(ctx context.Context) ([]types.ImageDescriptor, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var out []types.ImageDescriptor
	for _, e := range entries {
		if !e.IsDir() || !fsutil.SafeName(e.Name()) {
			continue
		}
		d, err := s.Descriptor(ctx, e.Name())
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ImageID < out[j].ImageID })
	return out, nil
}

func (s *FS) Close() error { return nil }
