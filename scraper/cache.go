package scraper

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const cacheFileExt = ".html"

// DiskCache stores fetched bodies flat under Dir as <sha256(url)>.html.
// Entries never expire; there is no eviction and no cross-process locking.
type DiskCache struct {
	Dir string
}

// Key is the hex SHA-256 digest of the exact URL string.
func (c *DiskCache) Key(url string) string {
	h := sha256.Sum256([]byte(url))
	return hex.EncodeToString(h[:])
}

// Path is the cache file location for url.
func (c *DiskCache) Path(url string) string {
	return filepath.Join(c.Dir, c.Key(url)+cacheFileExt)
}

// Load returns the cached body for url. A missing entry is not an error.
func (c *DiskCache) Load(url string) (string, bool, error) {
	if c == nil || c.Dir == "" {
		return "", false, errors.New("cache dir not configured")
	}
	b, err := os.ReadFile(c.Path(url))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read cache entry: %w", err)
	}
	return string(b), true, nil
}

// Store writes body for url, creating the directory on demand.
func (c *DiskCache) Store(url, body string) error {
	if c == nil || c.Dir == "" {
		return errors.New("cache dir not configured")
	}
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	path := c.Path(url)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(body), 0o644); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit cache entry: %w", err)
	}
	return nil
}
