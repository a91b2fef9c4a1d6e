package registry

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func TestImageScanner_ScanFiltersImages(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		"a.png",
		"b.TIF", // case-insensitive
		"c.jpeg",
		"notes.txt",
		"model.bin",
		".hidden.png",
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f), []byte("x"), 0o644); err != nil {
			t.Fatalf("write temp file: %v", err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.png"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	s := NewImageScanner()
	srcs, err := s.Scan(dir)
	if err != nil {
		t.Fatalf("scan error: %v", err)
	}
	if len(srcs) != 3 {
		t.Fatalf("expected 3 sources, got %d: %+v", len(srcs), srcs)
	}
	want := []string{"a", "b", "c"}
	for i, id := range want {
		if srcs[i].ImageID != id {
			t.Fatalf("source %d id=%s want %s", i, srcs[i].ImageID, id)
		}
		if !filepath.IsAbs(srcs[i].Path) {
			t.Fatalf("path not absolute: %s", srcs[i].Path)
		}
		if srcs[i].Size != 1 {
			t.Fatalf("size=%d", srcs[i].Size)
		}
	}
}

func TestImageScanner_ExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir on this platform: %v", err)
	}
	hTmp, err := os.MkdirTemp(home, "tilestream-registry-*")
	if err != nil {
		t.Skipf("cannot create temp under home: %v", err)
	}
	defer os.RemoveAll(hTmp)
	if err := os.WriteFile(filepath.Join(hTmp, "x.png"), []byte(""), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	var tildePath string
	if runtime.GOOS == "windows" {
		tildePath = filepath.Join("~", filepath.Base(hTmp))
	} else {
		tildePath = "~/" + filepath.Base(hTmp)
	}
	srcs, err := NewImageScanner().Scan(tildePath)
	if err != nil {
		t.Fatalf("scan error: %v", err)
	}
	if len(srcs) != 1 || srcs[0].ImageID != "x" {
		t.Fatalf("unexpected sources: %+v", srcs)
	}
}

func TestLoadDirWrapper(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "m.webp"), []byte(""), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	srcs, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(srcs) != 1 || srcs[0].ImageID != "m" {
		t.Fatalf("unexpected: %+v", srcs)
	}
	if _, err := LoadDir(filepath.Join(dir, "missing")); err == nil {
		t.Fatalf("expected error for missing dir")
	}
}

func TestRelevant(t *testing.T) {
	if !relevant(fsnotify.Event{Name: "/x/a.png", Op: fsnotify.Create}) {
		t.Fatalf("create png should be relevant")
	}
	if !relevant(fsnotify.Event{Name: "/x/a.tiff", Op: fsnotify.Write}) {
		t.Fatalf("write tiff should be relevant")
	}
	if relevant(fsnotify.Event{Name: "/x/a.png", Op: fsnotify.Remove}) {
		t.Fatalf("remove should be ignored")
	}
	if relevant(fsnotify.Event{Name: "/x/a.txt", Op: fsnotify.Create}) {
		t.Fatalf("non-image should be ignored")
	}
}

func TestWatch_ReportsSettledFile(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got := make(chan Source, 4)
	if err := Watch(ctx, dir, 50*time.Millisecond, func(s Source) { got <- s }); err != nil {
		t.Fatalf("watch: %v", err)
	}
	p := filepath.Join(dir, "fresh.png")
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(p, []byte{byte(i)}, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	select {
	case s := <-got:
		if s.ImageID != "fresh" {
			t.Fatalf("id=%s", s.ImageID)
		}
	case <-ctx.Done():
		t.Fatalf("no event before timeout")
	}
}
