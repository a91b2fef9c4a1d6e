package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"tilestream/internal/common/fsutil"
	"tilestream/internal/pyramid"
)

// DefaultSettle is how long a file must stay quiet before it is reported.
const DefaultSettle = 500 * time.Millisecond

// Watch reports source images created or rewritten in dir until ctx ends.
// Events for one path are coalesced: fn runs once the file has been quiet
// for settle. fn is called from a single goroutine.
func Watch(ctx context.Context, dir string, settle time.Duration, fn func(Source)) error {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return fmt.Errorf("abs path: %w", err)
	}
	if settle <= 0 {
		settle = DefaultSettle
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	if err := w.Add(abs); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", abs, err)
	}

	var mu sync.Mutex
	pending := make(map[string]*time.Timer)
	ready := make(chan string, 16)

	go func() {
		defer w.Close()
		defer func() {
			mu.Lock()
			for _, t := range pending {
				t.Stop()
			}
			mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !relevant(ev) {
					continue
				}
				p := ev.Name
				mu.Lock()
				if t, ok := pending[p]; ok {
					t.Reset(settle)
				} else {
					pending[p] = time.AfterFunc(settle, func() {
						mu.Lock()
						delete(pending, p)
						mu.Unlock()
						select {
						case ready <- p:
						case <-ctx.Done():
						}
					})
				}
				mu.Unlock()
			case p := <-ready:
				id := pyramid.ImageIDFromPath(p)
				if fsutil.PathExists(p) && fsutil.SafeName(id) {
					fn(Source{ImageID: id, Path: p})
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}

func relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return false
	}
	return pyramid.IsSourceFile(ev.Name)
}
