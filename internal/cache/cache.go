// Package cache keeps timestamped JSON copies of fetched data so the client
// can start from the last good snapshot when the server is unreachable.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrEmpty is returned when nothing has been cached under a name
var ErrEmpty = errors.New("no cached data")

// fileLayout sorts lexically in chronological order
const fileLayout = "2006-01-02T15-04-05.000000000"

// Cache is a directory of named entries, each holding timestamped files
type Cache struct {
	dir string
	now func() time.Time
}

// New creates a cache rooted at dir. The directory is created on first write.
func New(dir string) *Cache {
	return &Cache{dir: dir, now: time.Now}
}

// Dir returns the root directory
func (c *Cache) Dir() string {
	return c.dir
}

func (c *Cache) entryDir(name string) string {
	return filepath.Join(c.dir, name)
}

// Save writes v as the newest file under name and returns its path
func Save[T any](c *Cache, name string, v T) (string, error) {
	dir := c.entryDir(name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create cache dir: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s: %w", name, err)
	}

	path := filepath.Join(dir, c.now().UTC().Format(fileLayout)+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	return path, nil
}

// LoadLatest reads the newest file under name
func LoadLatest[T any](c *Cache, name string) (T, string, error) {
	var zero T

	path, err := c.Latest(name)
	if err != nil {
		return zero, "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return zero, "", fmt.Errorf("failed to read %s: %w", name, err)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return zero, "", fmt.Errorf("failed to unmarshal %s: %w", name, err)
	}
	return v, path, nil
}

// Latest returns the path of the newest file under name
func (c *Cache) Latest(name string) (string, error) {
	files, err := c.files(name)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", fmt.Errorf("%w for %s", ErrEmpty, name)
	}
	return files[len(files)-1], nil
}

// files lists completed entries oldest first
func (c *Cache) files(name string) ([]string, error) {
	dir := c.entryDir(name)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	// os.ReadDir sorts by name, which is chronological for our file names
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	return files, nil
}

// Prune keeps the newest keep files under name and returns how many were removed
func (c *Cache) Prune(name string, keep int) (int, error) {
	if keep < 1 {
		keep = 1
	}
	files, err := c.files(name)
	if err != nil {
		return 0, err
	}
	if len(files) <= keep {
		return 0, nil
	}

	var errs []error
	removed := 0
	for _, f := range files[:len(files)-keep] {
		if err := os.Remove(f); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// Clear removes every cached entry
func (c *Cache) Clear() error {
	if err := os.RemoveAll(c.dir); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}
