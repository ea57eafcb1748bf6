package playercore

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Media categories under the library root.
const (
	CategoryIdle   = "idle"
	CategoryEvents = "events"
	CategoryRandom = "random"
)

// Categories lists the known media categories.
var Categories = []string{CategoryIdle, CategoryEvents, CategoryRandom}

// ErrNoMedia indicates a category directory holds no eligible files.
var ErrNoMedia = errors.New("no media files")

// Library resolves media categories to files under the media root.
type Library struct {
	Root string
}

// ValidCategory reports whether name is a known category.
func ValidCategory(name string) bool {
	switch name {
	case CategoryIdle, CategoryEvents, CategoryRandom:
		return true
	}
	return false
}

// Dir returns the directory of a category.
func (l Library) Dir(category string) string {
	return filepath.Join(l.Root, category)
}

// EnsureDirs creates the category directories.
func (l Library) EnsureDirs() error {
	for _, category := range Categories {
		if err := os.MkdirAll(l.Dir(category), 0o755); err != nil {
			return fmt.Errorf("create %s dir: %w", category, err)
		}
	}
	return nil
}

// Contains reports whether path lies under the category directory.
func (l Library) Contains(category string, path string) bool {
	if path == "" {
		return false
	}
	dir := l.Dir(category)
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// List returns the absolute paths of eligible files in a category, sorted.
func (l Library) List(category string) ([]string, error) {
	entries, err := os.ReadDir(l.Dir(category))
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !eligible(entry) {
			continue
		}
		paths = append(paths, filepath.Join(l.Dir(category), entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// PickRandom selects one eligible file from a category at random. A missing
// category directory counts as empty.
func (l Library) PickRandom(category string) (string, error) {
	paths, err := l.List(category)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoMedia
		}
		return "", err
	}
	if len(paths) == 0 {
		return "", ErrNoMedia
	}
	return paths[rand.IntN(len(paths))], nil
}

// eligible skips directories, hidden files, and partial downloads left by
// the temp-then-rename writers.
func eligible(entry os.DirEntry) bool {
	if entry.IsDir() {
		return false
	}
	name := entry.Name()
	if strings.HasPrefix(name, ".") {
		return false
	}
	if strings.Contains(name, ".tmp.") || strings.HasSuffix(name, ".tmp") {
		return false
	}
	return true
}
