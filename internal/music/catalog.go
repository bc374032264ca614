package music

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

var playable = []string{".mp3", ".wav"}

// Catalog is a directory with one sub-folder per music category.
type Catalog struct {
	dir string
}

func NewCatalog(dir string) *Catalog {
	return &Catalog{dir: dir}
}

// Tracks lists the playable files in category's folder, sorted by name.
// A missing folder is an empty category.
func (c *Catalog) Tracks(category string) ([]string, error) {
	folder := filepath.Join(c.dir, category)
	entries, err := os.ReadDir(folder)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", folder, err)
	}

	var tracks []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if slices.Contains(playable, strings.ToLower(filepath.Ext(e.Name()))) {
			tracks = append(tracks, filepath.Join(folder, e.Name()))
		}
	}
	return tracks, nil
}
