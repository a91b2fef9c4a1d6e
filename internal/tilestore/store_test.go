package tilestore

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tilestream/internal/pyramid"
	"tilestream/pkg/types"
)

func buildSample(t *testing.T, id string) (types.ImageDescriptor, []EncodedTile) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 300, 200))
	for y := 0; y < 200; y++ {
		for x := 0; x < 300; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x), G: uint8(y), A: 255})
		}
	}
	desc, tiles, err := pyramid.Build(context.Background(), id, img, pyramid.Options{ChunkSize: 128, MinSize: 50, Filter: pyramid.FilterNearest})
	require.NoError(t, err)
	enc, err := EncodeTiles(tiles)
	require.NoError(t, err)
	return desc, enc
}

func backends(t *testing.T) map[string]Store {
	t.Helper()
	fs, err := NewFS(t.TempDir())
	require.NoError(t, err)
	sq, err := NewSQLite(t.TempDir())
	require.NoError(t, err)
	out := map[string]Store{BackendMemory: NewMemory(), BackendFS: fs, BackendSQLite: sq}
	t.Cleanup(func() {
		for _, s := range out {
			_ = s.Close()
		}
	})
	return out
}

func TestStores_CommitAndRead(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			desc, tiles := buildSample(t, "sample")
			require.NoError(t, s.Commit(ctx, desc, tiles))

			got, err := s.Descriptor(ctx, "sample")
			require.NoError(t, err)
			assert.Equal(t, desc, got)

			for _, tl := range tiles {
				data, err := s.Tile(ctx, tl.ID)
				require.NoError(t, err)
				assert.Equal(t, tl.Data, data)
			}
			buf, err := Get(ctx, s, types.TileID{ImageID: "sample", Level: 0, X: 2, Y: 1})
			require.NoError(t, err)
			assert.Equal(t, 300-256, buf.Width)
			assert.Equal(t, 200-128, buf.Height)

			list, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "sample", list[0].ImageID)
		})
	}
}

func TestStores_NotFoundAndWriteOnce(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Descriptor(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.Tile(ctx, types.TileID{ImageID: "missing"})
			assert.ErrorIs(t, err, ErrNotFound)

			desc, tiles := buildSample(t, "once")
			require.NoError(t, s.Commit(ctx, desc, tiles))
			assert.ErrorIs(t, s.Commit(ctx, desc, tiles), ErrExists)

			_, err = s.Tile(ctx, types.TileID{ImageID: "once", Level: 0, X: 99, Y: 0})
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStores_RejectMismatchedCommit(t *testing.T) {
	ctx := context.Background()
	desc, tiles := buildSample(t, "bad")
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			err := s.Commit(ctx, desc, tiles[1:])
			require.Error(t, err)
			assert.False(t, errors.Is(err, ErrExists))
			_, err = s.Descriptor(ctx, "bad")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStores_ConcurrentReads(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			desc, tiles := buildSample(t, "conc")
			require.NoError(t, s.Commit(ctx, desc, tiles))
			var wg sync.WaitGroup
			errs := make(chan error, 8*len(tiles))
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for _, tl := range tiles {
						if _, err := s.Tile(ctx, tl.ID); err != nil {
							errs <- err
						}
					}
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Fatalf("concurrent read: %v", err)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	s, err := Open("", "")
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)
	_, err = Open("s3", t.TempDir())
	assert.Error(t, err)
	_, err = Open(BackendFS, "")
	assert.Error(t, err)
}

func TestFS_RejectsUnsafeImageID(t *testing.T) {
	s, err := NewFS(t.TempDir())
	require.NoError(t, err)
	desc, tiles := buildSample(t, "../escape")
	assert.Error(t, s.Commit(context.Background(), desc, tiles))
}
