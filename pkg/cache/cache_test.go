package cache

import (
	"bytes"
	"encoding/hex"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rill-lang/rill/pkg/compiler"
	"github.com/rill-lang/rill/pkg/image"
	"github.com/rill-lang/rill/pkg/parser"
)

func openTemp(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func buildImage(t *testing.T, src string) *image.Image {
	t.Helper()
	program, err := parser.Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	fn, err := compiler.Compile(program)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	img, err := image.Build("test.rl", []byte(src), fn)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return img
}

func TestPutGet(t *testing.T) {
	c := openTemp(t)
	img := buildImage(t, `disp "cached";`)

	if err := c.Put(img); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := c.Get(img.SourceHash)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != img.Name {
		t.Errorf("Name = %q, want %q", got.Name, img.Name)
	}
	if !bytes.Equal(got.Bytecode, img.Bytecode) {
		t.Error("Bytecode mismatch after cache round trip")
	}
}

func TestGetMiss(t *testing.T) {
	c := openTemp(t)

	_, err := c.Get(image.HashSource([]byte("never stored")))
	if !errors.Is(err, ErrMiss) {
		t.Errorf("err = %v, want ErrMiss", err)
	}
}

func TestLoadVerifiesSource(t *testing.T) {
	c := openTemp(t)
	src := []byte(`disp 1;`)
	if err := c.Put(buildImage(t, string(src))); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := c.Load(src)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := got.Verify(src); err != nil {
		t.Errorf("Verify: %v", err)
	}

	if _, err := c.Load([]byte(`disp 2;`)); !errors.Is(err, ErrMiss) {
		t.Errorf("Load of unseen source: err = %v, want ErrMiss", err)
	}
}

func TestPutReplacesExistingEntry(t *testing.T) {
	c := openTemp(t)
	img := buildImage(t, `disp "same source";`)

	if err := c.Put(img); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.Put(img); err != nil {
		t.Fatalf("second Put: %v", err)
	}

	n, err := c.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
}

func TestCorruptRowEvicted(t *testing.T) {
	c := openTemp(t)
	img := buildImage(t, `disp 3;`)
	if err := c.Put(img); err != nil {
		t.Fatalf("Put: %v", err)
	}

	key := hex.EncodeToString(img.SourceHash[:])
	if _, err := c.db.Exec("UPDATE images SET image = ? WHERE source_hash = ?", []byte("garbage"), key); err != nil {
		t.Fatalf("corrupting row: %v", err)
	}

	if _, err := c.Get(img.SourceHash); !errors.Is(err, ErrMiss) {
		t.Errorf("Get of corrupt row: err = %v, want ErrMiss", err)
	}

	n, err := c.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 0 {
		t.Errorf("Count = %d after eviction, want 0", n)
	}
}

func TestPrune(t *testing.T) {
	c := openTemp(t)
	old := buildImage(t, `disp "old";`)
	fresh := buildImage(t, `disp "fresh";`)
	if err := c.Put(old); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.Put(fresh); err != nil {
		t.Fatalf("Put: %v", err)
	}

	aged := time.Now().Add(-48 * time.Hour).Unix()
	key := hex.EncodeToString(old.SourceHash[:])
	if _, err := c.db.Exec("UPDATE images SET stored_at = ? WHERE source_hash = ?", aged, key); err != nil {
		t.Fatalf("aging row: %v", err)
	}

	n, err := c.Prune(24 * time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d rows, want 1", n)
	}

	if _, err := c.Get(old.SourceHash); !errors.Is(err, ErrMiss) {
		t.Errorf("Get of pruned image: err = %v, want ErrMiss", err)
	}
	if _, err := c.Get(fresh.SourceHash); err != nil {
		t.Errorf("Get of fresh image: %v", err)
	}
}

func TestOpenCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dirs", "cache.db")
	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	if c.Path() != path {
		t.Errorf("Path = %q, want %q", c.Path(), path)
	}
}
