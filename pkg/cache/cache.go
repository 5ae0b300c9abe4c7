// Package cache is the on-disk compile cache. Compiled program images are
// stored in SQLite keyed by the SHA-256 of their source text, so rerunning
// an unchanged script skips the compiler. Rows are self-describing images;
// a corrupt row is treated as a miss and evicted rather than failing the run.
package cache

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/tliron/commonlog"

	"github.com/rill-lang/rill/pkg/image"
)

var log = commonlog.GetLogger("rill.cache")

// ErrMiss indicates the source has no cached image.
var ErrMiss = errors.New("image not in cache")

// Cache handles SQLite storage for compiled images.
type Cache struct {
	db    *sql.DB
	path  string
	runID string
	mu    sync.Mutex
}

// Open opens (creating if needed) the cache database at path.
func Open(path string) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS images (
		source_hash TEXT PRIMARY KEY,
		run_id      TEXT NOT NULL,
		name        TEXT NOT NULL,
		stored_at   INTEGER NOT NULL,
		image       BLOB NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating images table: %w", err)
	}

	return &Cache{
		db:    db,
		path:  path,
		runID: uuid.New().String(),
	}, nil
}

// OpenDefault opens the cache at its default path: $RILL_CACHE if set,
// otherwise ~/.rill/cache.db.
func OpenDefault() (*Cache, error) {
	path := os.Getenv("RILL_CACHE")
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home dir: %w", err)
		}
		path = filepath.Join(home, ".rill", "cache.db")
	}
	return Open(path)
}

// Close closes the database connection.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Path returns the database file path.
func (c *Cache) Path() string {
	return c.path
}

// Put stores an image under its source hash, replacing any previous entry.
func (c *Cache) Put(img *image.Image) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := image.Encode(img)
	if err != nil {
		return err
	}

	key := hex.EncodeToString(img.SourceHash[:])
	_, err = c.db.Exec(
		"INSERT OR REPLACE INTO images (source_hash, run_id, name, stored_at, image) VALUES (?, ?, ?, ?, ?)",
		key, c.runID, img.Name, time.Now().Unix(), data,
	)
	if err != nil {
		return fmt.Errorf("storing image: %w", err)
	}

	log.Debugf("stored %s (%s)", img.Name, key[:12])
	return nil
}

// Get retrieves the image compiled from the source with the given hash.
// Returns ErrMiss when there is no entry. A row that no longer decodes is
// evicted and reported as a miss.
func (c *Cache) Get(sourceHash [32]byte) (*image.Image, error) {
	key := hex.EncodeToString(sourceHash[:])

	var data []byte
	err := c.db.QueryRow("SELECT image FROM images WHERE source_hash = ?", key).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debugf("miss (%s)", key[:12])
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("querying image: %w", err)
	}

	img, err := image.Decode(data)
	if err == nil && img.SourceHash != sourceHash {
		err = fmt.Errorf("row keyed %s holds image for %x", key[:12], img.SourceHash[:6])
	}
	if err != nil {
		log.Warningf("evicting corrupt cache row: %v", err)
		c.evict(key)
		return nil, ErrMiss
	}

	log.Debugf("hit %s (%s)", img.Name, key[:12])
	return img, nil
}

// Load is the compile-avoidance path: hash the source, look it up, and
// verify the stored image really came from this text.
func (c *Cache) Load(source []byte) (*image.Image, error) {
	img, err := c.Get(image.HashSource(source))
	if err != nil {
		return nil, err
	}
	if err := img.Verify(source); err != nil {
		return nil, err
	}
	return img, nil
}

func (c *Cache) evict(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.db.Exec("DELETE FROM images WHERE source_hash = ?", key); err != nil {
		log.Errorf("evicting row %s: %v", key[:12], err)
	}
}

// Delete removes the entry for a source hash, if present.
func (c *Cache) Delete(sourceHash [32]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.Exec("DELETE FROM images WHERE source_hash = ?", hex.EncodeToString(sourceHash[:]))
	if err != nil {
		return fmt.Errorf("deleting image: %w", err)
	}
	return nil
}

// Prune removes entries stored before the cutoff and reports how many went.
func (c *Cache) Prune(olderThan time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-olderThan).Unix()
	res, err := c.db.Exec("DELETE FROM images WHERE stored_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning images: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned images: %w", err)
	}
	if n > 0 {
		log.Infof("pruned %d cached images", n)
	}
	return int(n), nil
}

// Count returns the number of cached images.
func (c *Cache) Count() (int, error) {
	var n int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM images").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting images: %w", err)
	}
	return n, nil
}
