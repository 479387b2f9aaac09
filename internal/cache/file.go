package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/kjstillabower/plant-output-forecaster/internal/models"
)

// keyPrecision is the number of decimal places coordinates are rounded to
// before forming a cache key.
const keyPrecision = 4

// Key returns the canonical "lat,lon" key for a coordinate pair.
// Coordinates are rounded to four decimal places and printed without trailing zeros,
// so (37.5, -119.5) and (37.50001, -119.49999) both map to "37.5,-119.5".
func Key(lat, lon float64) string {
	return formatCoord(lat) + "," + formatCoord(lon)
}

func formatCoord(v float64) string {
	scale := math.Pow(10, keyPrecision)
	r := math.Round(v*scale) / scale
	if r == 0 {
		r = 0 // normalise -0
	}
	return strconv.FormatFloat(r, 'f', -1, 64)
}

// FileCache is the persistent current-weather cache: a map of coordinate keys to
// observations held in memory and written to a single JSON file on Flush.
// Entries never expire. Safe for concurrent use.
type FileCache struct {
	path string

	mu      sync.RWMutex
	entries map[string]models.Observation
	// gen counts Puts; flushed is the gen last written to or read from disk.
	gen     uint64
	flushed uint64

	// flushMu serialises Flush so an older snapshot never overwrites a newer one.
	flushMu sync.Mutex
}

// NewFileCache returns an empty cache bound to path. Call Load to read existing entries.
func NewFileCache(path string) *FileCache {
	return &FileCache{
		path:    path,
		entries: make(map[string]models.Observation),
	}
}

// LoadFileCache creates a FileCache and loads entries from path.
// A missing file yields an empty cache.
func LoadFileCache(path string) (*FileCache, error) {
	c := NewFileCache(path)
	if err := c.Load(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load replaces in-memory entries with the contents of the cache file.
func (c *FileCache) Load() error {
	raw, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read weather cache: %w", err)
	}

	entries := make(map[string]models.Observation)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &entries); err != nil {
			return fmt.Errorf("decode weather cache %s: %w", c.path, err)
		}
	}

	c.mu.Lock()
	c.entries = entries
	c.flushed = c.gen
	c.mu.Unlock()
	return nil
}

// Get returns the cached observation for key.
func (c *FileCache) Get(key string) (models.Observation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	obs, ok := c.entries[key]
	return obs, ok
}

// Put stores obs under key in memory. It is persisted on the next Flush.
func (c *FileCache) Put(key string, obs models.Observation) {
	c.mu.Lock()
	c.entries[key] = obs
	c.gen++
	c.mu.Unlock()
}

// Len returns the number of cached entries.
func (c *FileCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Path returns the backing file path.
func (c *FileCache) Path() string {
	return c.path
}

// Flush writes the full map to the cache file. The file is replaced atomically
// (temp file in the same directory, then rename), so readers never observe a
// partial write. Flushing a cache with no new entries since the last Load or
// Flush is a no-op when the file already exists.
func (c *FileCache) Flush() error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.RLock()
	gen := c.gen
	clean := gen == c.flushed
	raw, err := json.Marshal(c.entries)
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode weather cache: %w", err)
	}
	if clean {
		if _, statErr := os.Stat(c.path); statErr == nil {
			return nil
		}
	}

	if err := WriteFileAtomic(c.path, raw); err != nil {
		return fmt.Errorf("write weather cache: %w", err)
	}

	// Puts after the snapshot keep the cache dirty for the next Flush.
	c.mu.Lock()
	if gen > c.flushed {
		c.flushed = gen
	}
	c.mu.Unlock()
	return nil
}

// WriteFileAtomic writes data to path via a temp file and rename, creating the
// parent directory if needed.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
